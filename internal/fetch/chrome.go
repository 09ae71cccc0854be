package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"apartment_finder/internal/config"
)

// stealthScript runs before any page script so bot checks reading
// navigator.webdriver see a regular browser.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
window.chrome = window.chrome || { runtime: {} };
`

// Chrome renders search pages in a headless browser and returns the
// resulting document markup.
type Chrome struct {
	cfg         config.FetchConfig
	allocCtx    context.Context
	cancelAlloc context.CancelFunc
	logger      *slog.Logger
}

func NewChrome(cfg config.FetchConfig, logger *slog.Logger) *Chrome {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1366, 900),
	)
	if cfg.ChromeBin != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ChromeBin))
	}

	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Chrome{
		cfg:         cfg,
		allocCtx:    allocCtx,
		cancelAlloc: cancel,
		logger:      logger.With("component", "chrome"),
	}
}

func (c *Chrome) Fetch(ctx context.Context, url string) (string, error) {
	tabCtx, cancelTab := chromedp.NewContext(c.allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelTab()

	// The tab hangs off the allocator, so the caller's cancellation has to
	// be forwarded explicitly.
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, c.cfg.Timeout)
	defer cancelTimeout()

	actions := []chromedp.Action{
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}),
	}
	if ua := pickUserAgent(c.cfg.UserAgents); ua != "" {
		actions = append(actions, emulation.SetUserAgentOverride(ua).WithAcceptLanguage("en-US,en;q=0.9"))
	}
	actions = append(actions, chromedp.Navigate(url))

	if err := chromedp.Run(tabCtx, actions...); err != nil {
		return "", fmt.Errorf("navigate: %w", err)
	}

	c.waitForCards(tabCtx, url)

	var html string
	err := chromedp.Run(tabCtx,
		chromedp.Sleep(c.cfg.SettleDelay),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}

	c.logger.Debug("page rendered", "url", url, "bytes", len(html))
	return html, nil
}

// waitForCards gives the listing grid a bounded chance to appear. A page
// that never shows cards is still returned; the parser reports it as empty.
func (c *Chrome) waitForCards(tabCtx context.Context, url string) {
	if c.cfg.WaitSelector == "" {
		return
	}

	waitCtx, cancel := context.WithTimeout(tabCtx, c.cfg.WaitTimeout)
	defer cancel()

	err := chromedp.Run(waitCtx, chromedp.WaitReady(c.cfg.WaitSelector, chromedp.ByQuery))
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		c.logger.Warn("wait for listing cards failed", "url", url, "error", err)
		return
	}
	if err != nil {
		c.logger.Warn("listing cards did not appear in time", "url", url, "wait", c.cfg.WaitTimeout)
	}
}

func (c *Chrome) Close() error {
	c.cancelAlloc()
	return nil
}

func pickUserAgent(agents []string) string {
	if len(agents) == 0 {
		return ""
	}
	return agents[rand.Intn(len(agents))]
}
