// Package trap detects crawler traps: URL structures and page content
// designed to waste scraper resources in loops.
package trap

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"regexp"
	"strings"
	"sync"
)

const (
	// hashPrefixLen is how many hex chars of the SHA-256 we keep.
	hashPrefixLen = 16

	maxQueryParams    = 8
	maxSegmentRepeats = 3
	entropySegmentLen = 20
	entropyThreshold  = 4.0

	densityThreshold  = 0.005
	densityMinTokens  = 500
	densitySafeTokens = 100
)

var timeTokenRe = regexp.MustCompile(`(?i)\b\d{1,2}(:\d{2})?\s*(am|pm)\b|\b\d{1,2}:\d{2}\b`)

// dayNames covers full names and 3-letter abbreviations.
var dayNames = map[string]bool{
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true,
	"friday": true, "saturday": true, "sunday": true,
	"mon": true, "tue": true, "wed": true, "thu": true,
	"fri": true, "sat": true, "sun": true,
}

// gymVocabulary is the small fixed set of schedule-adjacent words used
// for the content density heuristic.
var gymVocabulary = map[string]bool{
	"class": true, "classes": true, "schedule": true, "workout": true,
	"yoga": true, "spin": true, "crossfit": true, "pilates": true,
	"hiit": true, "boxing": true, "barre": true, "zumba": true,
	"strength": true, "cardio": true, "bootcamp": true, "cycle": true,
	"instructor": true, "coach": true, "gym": true, "fitness": true,
	"am": true, "pm": true,
}

// Verdict is the outcome of a trap check.
type Verdict struct {
	Safe   bool
	Reason string
}

func safe() Verdict { return Verdict{Safe: true} }

func unsafe(format string, a ...any) Verdict {
	return Verdict{Reason: fmt.Sprintf(format, a...)}
}

// hostState tracks per-host crawl history. All three collections are
// monotonic within a session; Reset is the only way back.
type hostState struct {
	visited map[string]struct{}
	hashes  map[string]struct{}
	depth   int
}

// Detector holds per-host trap state guarded by one mutex; checks are
// short critical sections.
type Detector struct {
	maxDepth int
	mu       sync.Mutex
	hosts    map[string]*hostState
	logger   *slog.Logger
}

// NewDetector creates a Detector with the given depth ceiling.
func NewDetector(maxDepth int, logger *slog.Logger) *Detector {
	if maxDepth <= 0 {
		maxDepth = 5
	}
	return &Detector{
		maxDepth: maxDepth,
		hosts:    make(map[string]*hostState),
		logger:   logger.With("component", "trap_detector"),
	}
}

// CheckURL runs the structural heuristics. Invalid URLs fail closed.
func (d *Detector) CheckURL(rawURL string) Verdict {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return unsafe("invalid URL")
	}

	d.mu.Lock()
	st := d.stateFor(u.Host)
	depth := st.depth
	_, visited := st.visited[normalizeURL(u)]
	d.mu.Unlock()

	if depth >= d.maxDepth {
		return unsafe("max depth %d reached for host %s", d.maxDepth, u.Host)
	}
	if visited {
		return unsafe("URL already visited")
	}

	segments := pathSegments(u)
	counts := make(map[string]int, len(segments))
	for _, seg := range segments {
		counts[seg]++
		if counts[seg] >= maxSegmentRepeats {
			return unsafe("path segment %q repeats %d times", seg, counts[seg])
		}
	}

	if n := len(u.Query()); n > maxQueryParams {
		return unsafe("%d query parameters (max %d)", n, maxQueryParams)
	}

	for _, seg := range segments {
		if len(seg) > entropySegmentLen {
			if e := shannonEntropy(seg); e > entropyThreshold {
				return unsafe("high-entropy path segment (%.2f bits)", e)
			}
		}
	}

	return safe()
}

// CheckContent runs the content heuristics and, on pass, records the
// page: content hash, visited URL, and depth increment.
func (d *Detector) CheckContent(rawURL, text string, classCount int) Verdict {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return unsafe("invalid URL")
	}

	sum := sha256.Sum256([]byte(text))
	prefix := hex.EncodeToString(sum[:])[:hashPrefixLen]

	d.mu.Lock()
	st := d.stateFor(u.Host)
	_, dup := st.hashes[prefix]
	d.mu.Unlock()

	if dup {
		return unsafe("duplicate content hash %s", prefix)
	}

	tokens := strings.Fields(text)
	if len(tokens) >= densitySafeTokens {
		density := scheduleTokenDensity(tokens)
		if len(tokens) > densityMinTokens && density < densityThreshold && classCount == 0 {
			return unsafe("schedule token density %.4f below threshold with no classes", density)
		}
	}

	d.mu.Lock()
	st.hashes[prefix] = struct{}{}
	st.visited[normalizeURL(u)] = struct{}{}
	st.depth++
	d.mu.Unlock()

	d.logger.Debug("content recorded", "url", rawURL, "hash", prefix, "depth", d.Depth(u.Host))
	return safe()
}

// Depth returns the recorded depth for a host.
func (d *Detector) Depth(host string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.hosts[host]; ok {
		return st.depth
	}
	return 0
}

// Reset clears all per-host state.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hosts = make(map[string]*hostState)
}

// stateFor returns the host state, creating it lazily. Caller holds mu.
func (d *Detector) stateFor(host string) *hostState {
	st, ok := d.hosts[host]
	if !ok {
		st = &hostState{
			visited: make(map[string]struct{}),
			hashes:  make(map[string]struct{}),
		}
		d.hosts[host] = st
	}
	return st
}

// normalizeURL lowercases the host and strips fragments so trivially
// distinct spellings of one page count as one visit.
func normalizeURL(u *url.URL) string {
	c := *u
	c.Host = strings.ToLower(c.Host)
	c.Fragment = ""
	return c.String()
}

func pathSegments(u *url.URL) []string {
	var out []string
	for _, seg := range strings.Split(u.EscapedPath(), "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// shannonEntropy computes per-character entropy in bits.
func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	freq := make(map[rune]int)
	total := 0
	for _, r := range s {
		freq[r]++
		total++
	}
	var entropy float64
	for _, n := range freq {
		p := float64(n) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// scheduleTokenDensity is the share of tokens that look like schedule
// content: day names, time-like tokens, or gym vocabulary.
func scheduleTokenDensity(tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	matches := 0
	for _, tok := range tokens {
		w := strings.ToLower(strings.Trim(tok, ".,;:!?()[]\"'"))
		if dayNames[w] || gymVocabulary[w] || timeTokenRe.MatchString(tok) {
			matches++
		}
	}
	return float64(matches) / float64(len(tokens))
}
