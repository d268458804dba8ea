package formprobe

import (
	"context"
	"fmt"
	"net/url"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"
)

// Crawler owns a Chrome instance and opens one tab per target page.
type Crawler struct {
	options *Options
	browser *rod.Browser
	log     zerolog.Logger
}

func Launch(options *Options, log zerolog.Logger) (*Crawler, error) {
	if options == nil {
		options = DefaultOptions()
	}

	l := launcher.New().
		Headless(options.HeadlessChrome).
		NoSandbox(true).
		Set("disable-gpu").
		Set("mute-audio").
		Set("ignore-certificate-errors").
		Set("ignore-certificate-errors-spki-list").
		Set("allow-running-insecure-content").
		Set("window-size", fmt.Sprintf("%d,%d", options.WindowSize[0], options.WindowSize[1]))

	if options.ExecutablePath != "" {
		l = l.Bin(options.ExecutablePath)
	}

	if options.Proxy != "" {
		l = l.Proxy(options.Proxy)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	log.Debug().Str("control_url", controlURL).Bool("headless", options.HeadlessChrome).Msg("browser launched")

	return &Crawler{
		options: options,
		browser: browser,
		log:     log,
	}, nil
}

func (c *Crawler) Browser() *rod.Browser {
	return c.browser
}

// Open loads targetURL in a new tab and returns it once the load event
// fired. Requests are hijacked from the start so the initial document is
// captured too.
func (c *Crawler) Open(ctx context.Context, targetURL string) (*Page, error) {
	target, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", targetURL, err)
	}

	raw, err := c.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	page := newPage(ctx, raw, target, c.options, c.log)

	if err := c.bootstrapPage(page); err != nil {
		page.Close()
		return nil, fmt.Errorf("failed to bootstrap page: %w", err)
	}

	navCtx, cancel := context.WithTimeout(page.ctx, c.options.NavigationTimeout)
	defer cancel()

	nav := page.page.Context(navCtx)
	if err := nav.Navigate(targetURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("navigate %s: %w", targetURL, err)
	}
	if err := nav.WaitLoad(); err != nil {
		page.Close()
		return nil, fmt.Errorf("wait load %s: %w", targetURL, err)
	}

	page.loaded.Store(true)
	c.log.Debug().Str("url", targetURL).Msg("page loaded")
	return page, nil
}

func (c *Crawler) bootstrapPage(page *Page) error {
	if c.options.UserAgent != "" {
		if err := page.raw.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: c.options.UserAgent}); err != nil {
			return err
		}
	}

	if len(c.options.ExtraHeaders) > 0 {
		dict := make([]string, 0, len(c.options.ExtraHeaders)*2)
		for k, v := range c.options.ExtraHeaders {
			dict = append(dict, k, v)
		}
		if _, err := page.raw.SetExtraHeaders(dict); err != nil {
			return err
		}
	}

	// Alerts and confirms block script execution until answered.
	go page.raw.Context(page.ctx).EachEvent(func(e *proto.PageJavascriptDialogOpening) {
		_ = proto.PageHandleJavaScriptDialog{Accept: true}.Call(page.raw)
	})()

	page.popups = newPopupTracker(page.raw.TargetID, page.target, popupGrace, page.requests.Add,
		func(id proto.TargetTargetID) {
			if _, err := (proto.TargetCloseTarget{TargetID: id}).Call(c.browser); err != nil {
				page.log.Debug().Err(err).Str("target", string(id)).Msg("close popup")
			}
		})
	go c.browser.Context(page.ctx).EachEvent(
		func(e *proto.TargetTargetCreated) { page.popups.created(e.TargetInfo) },
		func(e *proto.TargetTargetInfoChanged) { page.popups.changed(e.TargetInfo) },
	)()

	return page.setupHijack()
}

func (c *Crawler) Close() error {
	return c.browser.Close()
}
