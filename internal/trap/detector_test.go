package trap

import (
	"io"
	"log/slog"
	"strings"
	"testing"
)

func newTestDetector(maxDepth int) *Detector {
	return NewDetector(maxDepth, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCheckURLRepeatedSegments(t *testing.T) {
	d := newTestDetector(5)
	if v := d.CheckURL("https://x/a/a/a/a/"); v.Safe {
		t.Error("3x repeated segment should be rejected")
	}
	if v := d.CheckURL("https://x/a/b/a/c"); !v.Safe {
		t.Errorf("2x repeated segment should pass, got %q", v.Reason)
	}
}

func TestCheckURLQueryParamLimit(t *testing.T) {
	d := newTestDetector(5)
	u := "https://x/s?a=1&b=2&c=3&d=4&e=5&f=6&g=7&h=8&i=9"
	if v := d.CheckURL(u); v.Safe {
		t.Error("9 query params should be rejected")
	}
	if v := d.CheckURL("https://x/s?a=1&b=2&c=3&d=4&e=5&f=6&g=7&h=8"); !v.Safe {
		t.Errorf("8 query params should pass, got %q", v.Reason)
	}
}

func TestCheckURLEntropy(t *testing.T) {
	d := newTestDetector(5)
	// Long random-looking segment: high entropy.
	if v := d.CheckURL("https://x/p/a8Xk2qZmW9rT4vNb7JcL1dFg/"); v.Safe {
		t.Error("high-entropy long segment should be rejected")
	}
	// Long but repetitive segment: low entropy.
	if v := d.CheckURL("https://x/p/" + strings.Repeat("ab", 15)); !v.Safe {
		t.Errorf("low-entropy segment should pass, got %q", v.Reason)
	}
}

func TestCheckURLInvalidFailsClosed(t *testing.T) {
	d := newTestDetector(5)
	if v := d.CheckURL("://not a url"); v.Safe {
		t.Error("invalid URL must fail closed")
	}
}

func TestVisitedCycle(t *testing.T) {
	d := newTestDetector(5)
	u := "https://gym.example/schedule"

	if v := d.CheckURL(u); !v.Safe {
		t.Fatalf("first CheckURL should pass: %s", v.Reason)
	}
	if v := d.CheckContent(u, "Monday 6:00 PM Yoga", 1); !v.Safe {
		t.Fatalf("CheckContent should pass: %s", v.Reason)
	}
	if v := d.CheckURL(u); v.Safe {
		t.Error("second CheckURL should reject a visited URL")
	}
}

func TestDepthCeiling(t *testing.T) {
	d := newTestDetector(2)
	pages := []string{"https://h/a", "https://h/b", "https://h/c"}

	for i, u := range pages[:2] {
		if v := d.CheckURL(u); !v.Safe {
			t.Fatalf("page %d CheckURL: %s", i, v.Reason)
		}
		if v := d.CheckContent(u, "content "+u, 1); !v.Safe {
			t.Fatalf("page %d CheckContent: %s", i, v.Reason)
		}
	}
	if v := d.CheckURL(pages[2]); v.Safe {
		t.Error("third page should exceed maxDepth=2")
	}
}

func TestDuplicateContentHash(t *testing.T) {
	d := newTestDetector(5)
	body := "Tuesday 7:00 AM Spin with Alex"

	if v := d.CheckContent("https://h/one", body, 1); !v.Safe {
		t.Fatalf("first content: %s", v.Reason)
	}
	if v := d.CheckContent("https://h/two", body, 1); v.Safe {
		t.Error("identical content on same host should be rejected")
	}
	// Same body on a different host is fine: hashes are per-host.
	if v := d.CheckContent("https://other/one", body, 1); !v.Safe {
		t.Errorf("same content on other host: %s", v.Reason)
	}
}

func TestDensityRejection(t *testing.T) {
	d := newTestDetector(50)

	// 600 filler tokens, zero schedule tokens, zero classes.
	junk := strings.Repeat("lorem ipsum dolor sit amet consectetur ", 100)
	if v := d.CheckContent("https://h/junk", junk, 0); v.Safe {
		t.Error("long zero-density content with no classes should be rejected")
	}

	// Same junk but classes were extracted: accepted.
	if v := d.CheckContent("https://h/junk2", junk+" extra", 3); !v.Safe {
		t.Errorf("classCount>0 should pass density: %s", v.Reason)
	}

	// Short content is always density-safe.
	if v := d.CheckContent("https://h/short", "hello world", 0); !v.Safe {
		t.Errorf("short content should be safe: %s", v.Reason)
	}
}

func TestReset(t *testing.T) {
	d := newTestDetector(5)
	u := "https://h/page"
	d.CheckURL(u)
	d.CheckContent(u, "body text", 1)

	d.Reset()
	if v := d.CheckURL(u); !v.Safe {
		t.Errorf("after Reset the URL should be fresh: %s", v.Reason)
	}
	if d.Depth("h") != 0 {
		t.Errorf("depth after reset = %d, want 0", d.Depth("h"))
	}
}

func BenchmarkCheckURL(b *testing.B) {
	d := newTestDetector(1 << 30)
	for i := 0; i < b.N; i++ {
		d.CheckURL("https://bench.example/schedule/weekly?view=grid")
	}
}
