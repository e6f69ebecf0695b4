package types

// RetryHint directs the orchestrator's single validation retry.
type RetryHint string

const (
	RetryNone            RetryHint = ""
	RetryPaginateForward RetryHint = "paginate-forward"
	RetryWaitLonger      RetryHint = "wait-longer"
	RetrySwitchToBrowser RetryHint = "switch-to-browser"
	RetryReauthenticate  RetryHint = "re-authenticate"
)

// ValidatorReport is the outcome of cross-checking a ScrapeResult
// against independent page signals. Confidence is the product of the
// individual check factors; Valid iff Confidence >= 0.5.
type ValidatorReport struct {
	Valid      bool
	Confidence float64
	Signals    []string
	RetryHint  RetryHint
}

// Plan is what the LLM navigation planner returns for a live page.
type Plan struct {
	ScheduleSelector   string `json:"schedule_selector"`
	NextButtonSelector string `json:"next_button_selector"`
	LoadMoreSelector   string `json:"load_more_selector"`
	AuthWallDetected   bool   `json:"auth_wall_detected"`
}

// DayAPIPattern is a replayable request template discovered by watching
// a schedule page's own XHR/fetch traffic. The {{date}} placeholder is
// substituted per day.
type DayAPIPattern struct {
	URLTemplate  string
	Method       string
	DateParam    string
	BodyTemplate string
	// BodyPaths are dotted JSON paths to date-valued body fields.
	BodyPaths []string
	Headers   map[string]string
	// DateLayout is the time layout the site used for the captured
	// date value ("epoch" for unix seconds, "epoch-ms" for unix
	// milliseconds).
	DateLayout string
}

// DatePlaceholder is the substitution token in DayAPIPattern templates.
const DatePlaceholder = "{{date}}"

// DayFetchResult reports one day of a parallel week replay.
type DayFetchResult struct {
	Date       string
	StatusCode int
	Body       []byte
	Success    bool
	Err        error
}

// SessionState tracks authentication state for the target site.
type SessionState string

const (
	SessionLoggedIn  SessionState = "logged-in"
	SessionLoggedOut SessionState = "logged-out"
	SessionUnknown   SessionState = "unknown"
)
