package appraisal

import (
	"context"
	"os"
	"sync"
	"time"

	"property-scraper/config"
	"property-scraper/parser"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Browser opens search tabs against the appraisal site
type Browser interface {
	NewTab(ctx context.Context) (Tab, error)
	Close() error
}

// Tab is one browser page able to run owner-name searches
type Tab interface {
	// Search runs one owner-name search. A nil match with no error means no result.
	Search(ctx context.Context, name string) (*parser.AppraisalMatch, error)
	Close() error
}

// systemChromePaths are checked before letting rod download Chromium
var systemChromePaths = []string{
	"/usr/bin/google-chrome",
	"/usr/bin/google-chrome-stable",
	"/usr/bin/chromium",
	"/usr/bin/chromium-browser",
	"/snap/bin/chromium",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
}

// RodBrowser drives a local Chromium through rod
type RodBrowser struct {
	cfg     config.HCADConfig
	browser *rod.Browser
}

// NewLauncher builds the Chromium launcher for the appraisal searches
func NewLauncher(cfg config.HCADConfig) *launcher.Launcher {
	dataDir := cfg.DataDir
	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			zap.L().Warn("failed to create browser data directory", zap.String("dir", dataDir), zap.Error(err))
			dataDir = ""
		}
	}

	l := launcher.New().
		Headless(cfg.Headless).
		Set("disable-blink-features", "AutomationControlled").
		NoSandbox(true).
		Leakless(false).
		Set("disable-dev-shm-usage").
		Set("disable-gpu").
		Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-extensions").
		Set("disable-background-networking").
		Set("disable-background-timer-throttling").
		Set("disable-renderer-backgrounding").
		Set("disable-backgrounding-occluded-windows").
		Set("disable-breakpad").
		Set("disable-popup-blocking").
		Set("disable-sync").
		Set("disable-translate").
		Set("mute-audio").
		Set("memory-pressure-off").
		Set("disable-features", "TranslateUI,BlinkGenPropertyTrees")

	if dataDir != "" {
		l = l.UserDataDir(dataDir)
	}

	if bin := findChrome(cfg.BinPath); bin != "" {
		l = l.Bin(bin)
	}
	return l
}

func findChrome(configured string) string {
	if configured != "" {
		return configured
	}
	for _, path := range systemChromePaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	if path, ok := launcher.LookPath(); ok {
		return path
	}
	return ""
}

// LaunchBrowser starts Chromium and connects to it
func LaunchBrowser(cfg config.HCADConfig) (*RodBrowser, error) {
	controlURL, err := NewLauncher(cfg).Launch()
	if err != nil {
		return nil, eris.Wrap(err, "appraisal: launch browser (on Linux install chromium and its dependencies)")
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, eris.Wrap(err, "appraisal: connect to browser")
	}

	zap.L().Info("browser launched", zap.Bool("headless", cfg.Headless))
	return &RodBrowser{cfg: cfg, browser: browser}, nil
}

// NewTab opens a page and loads the search site on it
func (rb *RodBrowser) NewTab(ctx context.Context) (Tab, error) {
	page, err := rb.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, eris.Wrap(err, "appraisal: open tab")
	}

	if rb.cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      rb.cfg.UserAgent,
			AcceptLanguage: "en-US,en;q=0.9",
		}); err != nil {
			_ = page.Close()
			return nil, eris.Wrap(err, "appraisal: set user agent")
		}
	}

	tab := &rodTab{
		page:    page,
		baseURL: rb.cfg.BaseURL,
		timeout: time.Duration(rb.cfg.BrowserTimeoutMs) * time.Millisecond,
		wait:    time.Duration(rb.cfg.SearchWaitMs) * time.Millisecond,
	}
	if err := tab.home(ctx); err != nil {
		_ = page.Close()
		return nil, err
	}
	return tab, nil
}

// Close closes the browser
func (rb *RodBrowser) Close() error {
	if rb.browser != nil {
		return rb.browser.Close()
	}
	return nil
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// LazyBrowser launches Chromium on the first NewTab, so processes that never
// resolve addresses never start a browser.
type LazyBrowser struct {
	cfg config.HCADConfig

	mu      sync.Mutex
	browser *RodBrowser
}

// NewLazyBrowser creates a LazyBrowser
func NewLazyBrowser(cfg config.HCADConfig) *LazyBrowser {
	return &LazyBrowser{cfg: cfg}
}

// NewTab launches the browser if needed and opens a tab
func (lb *LazyBrowser) NewTab(ctx context.Context) (Tab, error) {
	lb.mu.Lock()
	if lb.browser == nil {
		browser, err := LaunchBrowser(lb.cfg)
		if err != nil {
			lb.mu.Unlock()
			return nil, err
		}
		lb.browser = browser
	}
	browser := lb.browser
	lb.mu.Unlock()

	return browser.NewTab(ctx)
}

// Close shuts the browser down if it was started; it can be relaunched later
func (lb *LazyBrowser) Close() error {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if lb.browser == nil {
		return nil
	}
	err := lb.browser.Close()
	lb.browser = nil
	return err
}
