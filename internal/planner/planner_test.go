package planner

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/milesc-bot/gym-scraper/internal/config"
	"github.com/milesc-bot/gym-scraper/internal/types"
)

func testPlanner(budgetCents int) *Planner {
	return New(config.AIConfig{
		APIKey:      "sk-test",
		Model:       "gpt-4o-mini",
		BudgetCents: budgetCents,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestBudgetExhaustion(t *testing.T) {
	p := testPlanner(5)

	// 2 cents per call: two calls fit in 5 cents, the third does not.
	if err := p.charge(); err != nil {
		t.Fatalf("first charge: %v", err)
	}
	if err := p.charge(); err != nil {
		t.Fatalf("second charge: %v", err)
	}
	if err := p.charge(); !errors.Is(err, types.ErrBudgetSpent) {
		t.Errorf("third charge: want ErrBudgetSpent, got %v", err)
	}
	if p.SpentCents() != 4 {
		t.Errorf("spent = %d, want 4", p.SpentCents())
	}
}

func TestZeroBudgetDisables(t *testing.T) {
	p := testPlanner(0)
	if err := p.charge(); !errors.Is(err, types.ErrBudgetSpent) {
		t.Errorf("want ErrBudgetSpent, got %v", err)
	}
}

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"Here is the result:\n```json\n{\"a\":{\"b\":2}}\n```", `{"a":{"b":2}}`},
		{"no json here", "{}"},
		{`{"unclosed":`, "{}"},
	}
	for _, tc := range cases {
		if got := extractJSON(tc.in); got != tc.want {
			t.Errorf("extractJSON(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTrimHTML(t *testing.T) {
	small := "<html><body>hi</body></html>"
	if trimHTML(small) != small {
		t.Error("small documents must pass through unchanged")
	}

	big := strings.Repeat("<div>x</div>", maxPageChars)
	trimmed := trimHTML(big)
	if len(trimmed) > maxPageChars {
		t.Errorf("trimmed length %d exceeds limit", len(trimmed))
	}
	if strings.HasSuffix(trimmed, "<di") || strings.HasSuffix(trimmed, "<") {
		t.Errorf("trim cut inside a tag: ...%s", trimmed[len(trimmed)-10:])
	}
}
