package validate

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/milesc-bot/gym-scraper/internal/types"
)

func testValidator() *Validator {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func classes(n int) []types.Class {
	out := make([]types.Class, n)
	for i := range out {
		out[i] = types.Class{
			Name:         fmt.Sprintf("Class %d", i),
			StartTimeRaw: fmt.Sprintf("Monday %d:00 PM", i+1),
		}
	}
	return out
}

func result(cls []types.Class) *types.ScrapeResult {
	return &types.ScrapeResult{
		Organization: types.Organization{Name: "Test Gym", WebsiteURL: "https://gym.example.com"},
		Classes:      cls,
	}
}

const cleanHTML = `<html><body><div class="schedule">ok</div></body></html>`

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestAllChecksPassing(t *testing.T) {
	report := testValidator().Validate(result(classes(5)), cleanHTML, false)
	if !almostEqual(report.Confidence, 1.0) {
		t.Errorf("confidence = %v, want exactly 1.0", report.Confidence)
	}
	if !report.Valid {
		t.Error("should be valid")
	}
	if report.RetryHint != types.RetryNone {
		t.Errorf("hint = %q, want none", report.RetryHint)
	}
	if len(report.Signals) != 0 {
		t.Errorf("signals = %v, want none", report.Signals)
	}
}

func TestZeroClasses(t *testing.T) {
	report := testValidator().Validate(result(nil), cleanHTML, false)
	if !almostEqual(report.Confidence, 0.1) {
		t.Errorf("confidence = %v, want exactly 0.1", report.Confidence)
	}
	if report.Valid {
		t.Error("should be invalid")
	}
	if report.RetryHint != types.RetryWaitLonger {
		t.Errorf("hint = %q, want wait-longer", report.RetryHint)
	}
}

func TestFewClasses(t *testing.T) {
	report := testValidator().Validate(result(classes(2)), cleanHTML, false)
	if !almostEqual(report.Confidence, 0.5) {
		t.Errorf("confidence = %v, want 0.5", report.Confidence)
	}
	if !report.Valid {
		t.Error("0.5 is at the threshold and counts as valid")
	}
	if report.RetryHint != types.RetryPaginateForward {
		t.Errorf("hint = %q, want paginate-forward", report.RetryHint)
	}
}

func TestMarkupPollutedNames(t *testing.T) {
	cls := classes(4)
	for i := range cls {
		cls[i].Name = "<div>" + cls[i].Name + "</div>"
	}
	report := testValidator().Validate(result(cls), cleanHTML, false)
	if !almostEqual(report.Confidence, 0.2) {
		t.Errorf("confidence = %v, want 0.2", report.Confidence)
	}
	if report.RetryHint != types.RetrySwitchToBrowser {
		t.Errorf("hint = %q, want switch-to-browser", report.RetryHint)
	}
}

func TestMarkupMinorPollution(t *testing.T) {
	cls := classes(10)
	cls[0].Name = "Yoga [Hot]"
	report := testValidator().Validate(result(cls), cleanHTML, false)
	if !almostEqual(report.Confidence, 0.7) {
		t.Errorf("confidence = %v, want 0.7", report.Confidence)
	}
	if report.RetryHint != types.RetryNone {
		t.Errorf("minor pollution should not hint, got %q", report.RetryHint)
	}
}

func TestDuplicateDominated(t *testing.T) {
	cls := make([]types.Class, 10)
	for i := range cls {
		cls[i] = types.Class{Name: "Yoga", StartTimeRaw: "Monday 6:00 PM"}
	}
	report := testValidator().Validate(result(cls), cleanHTML, false)
	// unique/total = 0.1 < 0.3: factor 0.2, hint wait-longer.
	if !almostEqual(report.Confidence, 0.2) {
		t.Errorf("confidence = %v, want 0.2", report.Confidence)
	}
	if report.RetryHint != types.RetryWaitLonger {
		t.Errorf("hint = %q, want wait-longer", report.RetryHint)
	}
}

func TestDuplicateModerate(t *testing.T) {
	// 4 unique among 10: ratio 0.4, factor 0.6, no hint.
	cls := make([]types.Class, 10)
	for i := range cls {
		cls[i] = types.Class{Name: fmt.Sprintf("Class %d", i%4), StartTimeRaw: "10:00"}
	}
	report := testValidator().Validate(result(cls), cleanHTML, false)
	if !almostEqual(report.Confidence, 0.6) {
		t.Errorf("confidence = %v, want 0.6", report.Confidence)
	}
}

func TestPaginationControl(t *testing.T) {
	html := `<html><body><button class="nav">Next Week</button></body></html>`
	report := testValidator().Validate(result(classes(5)), html, true)
	if !almostEqual(report.Confidence, 0.7) {
		t.Errorf("confidence = %v, want 0.7", report.Confidence)
	}
	if report.RetryHint != types.RetryPaginateForward {
		t.Errorf("hint = %q, want paginate-forward", report.RetryHint)
	}
}

func TestPaginationDisabledControlIgnored(t *testing.T) {
	cases := []string{
		`<button disabled>Next</button>`,
		`<a class="btn disabled" href="#">Next day</a>`,
	}
	for _, frag := range cases {
		report := testValidator().Validate(result(classes(5)), "<html><body>"+frag+"</body></html>", true)
		if !almostEqual(report.Confidence, 1.0) {
			t.Errorf("%s: confidence = %v, want 1.0", frag, report.Confidence)
		}
	}
}

func TestPaginationAriaLabel(t *testing.T) {
	html := `<html><body><a href="#" aria-label="next day"><svg></svg></a></body></html>`
	report := testValidator().Validate(result(classes(5)), html, true)
	if report.RetryHint != types.RetryPaginateForward {
		t.Errorf("aria-label pagination missed, hint = %q", report.RetryHint)
	}
}

// The pagination and auth-wall checks read rendered page state; a
// light-path body with an innocuous next link must keep its score.
func TestPageChecksSkippedOffline(t *testing.T) {
	html := `<html><body>
<a href="/schedule/next">Next week</a>
<form><input type="password"></form>
</body></html>`
	report := testValidator().Validate(result(classes(5)), html, false)
	if !almostEqual(report.Confidence, 1.0) {
		t.Errorf("confidence = %v, want 1.0 without a live page", report.Confidence)
	}
	if report.RetryHint != types.RetryNone {
		t.Errorf("hint = %q, want none", report.RetryHint)
	}
}

func TestAuthWallPasswordInput(t *testing.T) {
	html := `<html><body><form><input type="password" name="pw"></form></body></html>`
	report := testValidator().Validate(result(classes(5)), html, true)
	if !almostEqual(report.Confidence, 0.1) {
		t.Errorf("confidence = %v, want 0.1", report.Confidence)
	}
	if report.RetryHint != types.RetryReauthenticate {
		t.Errorf("hint = %q, want re-authenticate", report.RetryHint)
	}
}

func TestAuthWallPhrases(t *testing.T) {
	html := `<html><body><p>Please sign in to continue. Authentication required.</p></body></html>`
	report := testValidator().Validate(result(classes(5)), html, true)
	if !almostEqual(report.Confidence, 0.4) {
		t.Errorf("confidence = %v, want 0.4", report.Confidence)
	}
	if report.RetryHint != types.RetryReauthenticate {
		t.Errorf("hint = %q, want re-authenticate", report.RetryHint)
	}
}

func TestSinglePhraseNotAuthWall(t *testing.T) {
	html := `<html><body><a href="/login">Log in</a></body></html>`
	report := testValidator().Validate(result(classes(5)), html, true)
	if report.RetryHint == types.RetryReauthenticate {
		t.Error("one phrase alone should not trigger the auth-wall check")
	}
}

func TestFirstHintWins(t *testing.T) {
	// Zero classes (wait-longer) plus a password input (re-authenticate):
	// check order makes wait-longer the returned hint.
	html := `<html><body><input type="password"></body></html>`
	report := testValidator().Validate(result(nil), html, true)
	if report.RetryHint != types.RetryWaitLonger {
		t.Errorf("hint = %q, want wait-longer (first in check order)", report.RetryHint)
	}
	if !almostEqual(report.Confidence, 0.1*0.1) {
		t.Errorf("confidence = %v, want 0.01", report.Confidence)
	}
}

func TestAuthWallScenarioInvalid(t *testing.T) {
	// A rendered page with a password input drops an otherwise clean
	// result to 0.1.
	html := `<html><body><div>schedule</div><input type="password"></body></html>`
	report := testValidator().Validate(result(classes(6)), html, true)
	if report.Valid {
		t.Error("auth wall result must be invalid")
	}
	if report.Confidence > 0.1+1e-9 {
		t.Errorf("confidence = %v, want <= 0.1", report.Confidence)
	}
}
