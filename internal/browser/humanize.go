package browser

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

type viewport struct{ w, h int }

// Common desktop resolutions; one is picked per page.
var viewports = []viewport{
	{1920, 1080}, {1366, 768}, {1536, 864},
	{1440, 900}, {1280, 720},
}

func randomViewport() viewport {
	return viewports[rand.Intn(len(viewports))]
}

// fingerprintJS returns the shim script installed before any page
// script runs: consistent navigator overrides for the chosen viewport.
func fingerprintJS(vp viewport) string {
	cores := 4 + rand.Intn(9)
	return fmt.Sprintf(`
Object.defineProperty(navigator, 'webdriver', { get: () => false });
Object.defineProperty(navigator, 'language', { get: () => 'en-US' });
Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
Object.defineProperty(navigator, 'hardwareConcurrency', { get: () => %d });
Object.defineProperty(navigator, 'deviceMemory', { get: () => 8 });
Object.defineProperty(screen, 'width', { get: () => %d });
Object.defineProperty(screen, 'height', { get: () => %d });
window.chrome = window.chrome || { runtime: {} };
`, cores, vp.w, vp.h)
}

// IdleBehavior performs a short human-like idle on the page: 2-4 cursor
// drifts, an optional gentle scroll, and a 0.5-1.5s pause.
func IdleBehavior(page *rod.Page) {
	drifts := 2 + rand.Intn(3)
	for i := 0; i < drifts; i++ {
		x := float64(100 + rand.Intn(900))
		y := float64(100 + rand.Intn(500))
		if err := page.Mouse.MoveTo(proto.Point{X: x, Y: y}); err != nil {
			return
		}
		time.Sleep(time.Duration(80+rand.Intn(220)) * time.Millisecond)
	}

	if rand.Intn(2) == 0 {
		_, _ = page.Eval(fmt.Sprintf(`() => window.scrollBy(0, %d)`, 120+rand.Intn(360)))
	}

	time.Sleep(time.Duration(500+rand.Intn(1000)) * time.Millisecond)
}

// HumanClick moves the cursor to the element before clicking, with a
// short settle in between.
func HumanClick(page *rod.Page, el *rod.Element) error {
	if err := el.ScrollIntoView(); err != nil {
		return err
	}
	shape, err := el.Shape()
	if err == nil && len(shape.Quads) > 0 {
		center := shape.OnePointInside()
		if center != nil {
			_ = page.Mouse.MoveTo(*center)
			time.Sleep(time.Duration(60+rand.Intn(180)) * time.Millisecond)
		}
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

// KeyDelay draws an inter-key delay from N(80ms, 30ms) clamped to
// [20, 500] ms.
func KeyDelay() time.Duration {
	ms := rand.NormFloat64()*30 + 80
	if ms < 20 {
		ms = 20
	}
	if ms > 500 {
		ms = 500
	}
	return time.Duration(ms) * time.Millisecond
}

// TypeHuman enters text one rune at a time with KeyDelay spacing and
// extra pauses around spaces and capitalized letters.
func TypeHuman(el *rod.Element, text string) error {
	for _, r := range text {
		if err := el.Input(string(r)); err != nil {
			return err
		}
		delay := KeyDelay()
		if r == ' ' || (r >= 'A' && r <= 'Z') {
			delay += time.Duration(40+rand.Intn(120)) * time.Millisecond
		}
		time.Sleep(delay)
	}
	return nil
}
