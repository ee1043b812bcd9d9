// Package browser manages stealth browser sessions for the scraping
// chains: launch-mode escalation, anti-automation flags, stealth JS
// injection, and navigation that tolerates SPAs which never fire load.
package browser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/drewfead/tw-watcher/internal/config"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// NavTimeout bounds a single navigation wait; PageStableTimeout is the
// timeout for selector waits and in-page eval scripts.
var (
	NavTimeout        = 60 * time.Second
	PageStableTimeout = 30 * time.Second
)

const (
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/131.0.0.0 Safari/537.36"
	locale      = "zh-TW"
	xvfbDisplay = ":99"
)

// edgeCandidates are checked in order when looking for a local Edge
// install; exec.LookPath covers PATH entries on top of these.
var edgeCandidates = []string{
	`C:\Program Files (x86)\Microsoft\Edge\Application\msedge.exe`,
	`C:\Program Files\Microsoft\Edge\Application\msedge.exe`,
}

// Session owns one launched browser and its pre-configured stealth page.
// Callers must Close it on every exit path; leaking a session leaks an
// OS-level browser process.
type Session struct {
	browser *rod.Browser
	lnch    *launcher.Launcher
	page    *rod.Page
}

// Page returns the session's stealth page.
func (s *Session) Page() *rod.Page {
	return s.page
}

// Close shuts the browser down and cleans up the launcher's temp state.
func (s *Session) Close() error {
	var err error
	if s.browser != nil {
		err = s.browser.Close()
	}
	if s.lnch != nil {
		s.lnch.Cleanup()
	}
	return err
}

// NewSession launches a browser with anti-detection measures and returns
// it with a stealth-injected page. Launch escalation, first success wins:
//
//  1. Local hosts: Edge in headless mode, when an Edge binary is found.
//  2. Fallback: the default engine headful but positioned off-screen with
//     a 1×1 window. Headful because some upstream checks distinguish
//     headless rendering; off-screen substitutes for a real display, with
//     an Xvfb DISPLAY standing in on cloud hosts.
//
// The page comes back with a fixed desktop user agent, a 1920×1080
// viewport, and the zh-TW locale, all applied before any navigation.
func NewSession(cfg config.Config) (*Session, error) {
	var (
		controlURL string
		lnch       *launcher.Launcher
	)

	if !cfg.Cloud {
		if edge := findEdge(); edge != "" {
			l := baseLauncher().Bin(edge).Headless(true)
			u, err := l.Launch()
			if err == nil {
				controlURL = u
				lnch = l
				slog.Debug("browser: using edge headless")
			} else {
				l.Cleanup()
				slog.Debug("browser: edge unavailable", "error", err)
			}
		}
	}

	if controlURL == "" {
		l := baseLauncher().
			Headless(false).
			Set("window-position", "-32000,-32000").
			Set("window-size", "1,1")
		if cfg.Cloud {
			l = l.Env("DISPLAY=" + xvfbDisplay)
		}
		u, err := l.Launch()
		if err != nil {
			l.Cleanup()
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		controlURL = u
		lnch = l
		if cfg.Cloud {
			slog.Debug("browser: using hidden window mode", "display", xvfbDisplay)
		} else {
			slog.Debug("browser: using hidden window mode")
		}
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		lnch.Cleanup()
		return nil, fmt.Errorf("connect to browser: %w", err)
	}

	// Stealth patches must be in place before the first navigation.
	page, err := stealth.Page(b)
	if err != nil {
		_ = b.Close()
		lnch.Cleanup()
		return nil, fmt.Errorf("create stealth page: %w", err)
	}
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      userAgent,
		AcceptLanguage: locale,
	}); err != nil {
		_ = b.Close()
		lnch.Cleanup()
		return nil, fmt.Errorf("set user agent: %w", err)
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             1920,
		Height:            1080,
		DeviceScaleFactor: 1,
	}); err != nil {
		_ = b.Close()
		lnch.Cleanup()
		return nil, fmt.Errorf("set viewport: %w", err)
	}

	return &Session{browser: b, lnch: lnch, page: page}, nil
}

// baseLauncher applies the flags shared by every launch mode: automation
// signaling off, sandboxing off (chromium refuses some hosts otherwise),
// and /dev/shm avoidance for container memory limits.
func baseLauncher() *launcher.Launcher {
	return launcher.New().
		Logger(newLauncherLogger()).
		Leakless(false).
		Set("disable-blink-features", "AutomationControlled").
		NoSandbox(true).
		Set("disable-dev-shm-usage")
}

func findEdge() string {
	if p, err := exec.LookPath("msedge"); err == nil {
		return p
	}
	for _, p := range edgeCandidates {
		if _, err := exec.LookPath(p); err == nil {
			return p
		}
	}
	return ""
}

// GotoSafe navigates and waits for the full-load event. On timeout it
// retries once waiting only for the DOM to settle; single-page apps may
// never fire load at all.
func GotoSafe(ctx context.Context, page *rod.Page, url string) error {
	err := rod.Try(func() {
		page.Context(ctx).Timeout(NavTimeout).MustNavigate(url).MustWaitLoad()
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("navigate to %s: %w", url, ctx.Err())
	}
	slog.Warn("browser: load event did not fire, falling back to dom-ready",
		"url", url,
		"error", err,
	)
	if err := rod.Try(func() {
		page.Context(ctx).Timeout(NavTimeout).MustNavigate(url).MustWaitDOMStable()
	}); err != nil {
		return fmt.Errorf("navigate to %s (dom-ready): %w", url, err)
	}
	return nil
}

// launcherLogger forwards launcher output (e.g. download progress) to slog at debug level.
type launcherLogger struct {
	buf []byte
}

func (w *launcherLogger) Write(p []byte) (n int, err error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSpace(string(w.buf[:i]))
		w.buf = w.buf[i+1:]
		if line != "" {
			slog.Debug("browser launcher", "message", line)
		}
	}
	return len(p), nil
}

func newLauncherLogger() io.Writer {
	return &launcherLogger{}
}
