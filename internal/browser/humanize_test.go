package browser

import (
	"strings"
	"testing"
	"time"
)

func TestKeyDelayBounds(t *testing.T) {
	for i := 0; i < 1000; i++ {
		d := KeyDelay()
		if d < 20*time.Millisecond || d > 500*time.Millisecond {
			t.Fatalf("KeyDelay = %s, want within [20ms, 500ms]", d)
		}
	}
}

func TestRandomViewportIsKnown(t *testing.T) {
	for i := 0; i < 100; i++ {
		vp := randomViewport()
		found := false
		for _, known := range viewports {
			if vp == known {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("viewport %dx%d not in the known set", vp.w, vp.h)
		}
	}
}

func TestFingerprintJSMatchesViewport(t *testing.T) {
	js := fingerprintJS(viewport{1920, 1080})
	for _, want := range []string{
		"'webdriver', { get: () => false }",
		"get: () => 1920",
		"get: () => 1080",
		"window.chrome",
	} {
		if !strings.Contains(js, want) {
			t.Errorf("fingerprint script missing %q", want)
		}
	}
}
