package formprobe

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Pending is the handle of a dispatched request. Dispatch never blocks on
// the network; the handle resolves once the response status is known or the
// request failed.
type Pending struct {
	Request *Request

	done   chan struct{}
	status int
	err    error
}

func newPending(req *Request) *Pending {
	return &Pending{Request: req, done: make(chan struct{})}
}

func (p *Pending) resolve(status int, err error) {
	p.status = status
	p.err = err
	close(p.done)
}

func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the request resolves or ctx ends.
func (p *Pending) Wait(ctx context.Context) (int, error) {
	select {
	case <-p.done:
		return p.status, p.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// WaitAll waits for every pending until ctx ends and returns how many
// resolved in time. Nil entries are ignored.
func WaitAll(ctx context.Context, pending []*Pending) int {
	resolved := 0
	for _, p := range pending {
		if p == nil {
			continue
		}
		select {
		case <-p.done:
			resolved++
		case <-ctx.Done():
			return resolved
		}
	}
	return resolved
}

type Dispatcher interface {
	Dispatch(ctx context.Context, req *Request) *Pending
}

type HTTPDispatcher struct {
	client  *resty.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

type HTTPDispatcherOption func(*HTTPDispatcher)

// WithRateLimit caps dispatches per second. Zero or less means no limit.
func WithRateLimit(perSecond float64) HTTPDispatcherOption {
	return func(d *HTTPDispatcher) {
		if perSecond > 0 {
			d.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

func WithDispatchLogger(l zerolog.Logger) HTTPDispatcherOption {
	return func(d *HTTPDispatcher) { d.log = l }
}

func NewHTTPDispatcher(client *resty.Client, opts ...HTTPDispatcherOption) *HTTPDispatcher {
	if client == nil {
		client = resty.New()
	}
	d := &HTTPDispatcher{client: client, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewHTTPClient configures a resty client from options. Redirects are not
// followed past ten hops and TLS errors are ignored, as a crawler needs.
func NewHTTPClient(o *Options) *resty.Client {
	client := resty.New().
		SetTimeout(o.HTTPTimeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10)).
		SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})

	if o.UserAgent != "" {
		client.SetHeader("User-Agent", o.UserAgent)
	}
	if len(o.ExtraHeaders) > 0 {
		client.SetHeaders(o.ExtraHeaders)
	}
	if o.Proxy != "" {
		client.SetProxy(o.Proxy)
	}
	return client
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, req *Request) *Pending {
	p := newPending(req)

	go func() {
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				p.resolve(0, err)
				return
			}
		}

		r := d.client.R().SetContext(ctx)
		if req.ContentType != "" {
			r.SetHeader("Content-Type", req.ContentType).SetBody(req.Body)
		}

		resp, err := r.Execute(req.Method, req.URL)
		if err != nil {
			d.log.Debug().Err(err).Str("id", req.ID).Str("url", req.URL).Msg("dispatch failed")
			p.resolve(0, fmt.Errorf("%s %s: %w", req.Method, req.URL, err))
			return
		}

		d.log.Debug().Str("id", req.ID).Int("status", resp.StatusCode()).Str("url", req.URL).Msg("dispatched")
		p.resolve(resp.StatusCode(), nil)
	}()

	return p
}
