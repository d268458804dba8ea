package formprobe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Form accessors go through HTMLFormElement.prototype so that controls named
// "action", "method" or "elements" cannot shadow them.
const (
	formElementsJS = `Object.getOwnPropertyDescriptor(HTMLFormElement.prototype, "elements").get.call(this)`

	formAttrsJS = `() => {
		const get = (k) => Object.getOwnPropertyDescriptor(HTMLFormElement.prototype, k).get.call(this);
		return {action: get("action"), method: get("method")};
	}`

	formFieldsJS = `() => Array.from(` + formElementsJS + `).map((e, i) => ({
		index: i,
		tag: e.tagName,
		type: typeof e.type === "string" ? e.type.toLowerCase() : "",
		name: typeof e.name === "string" ? e.name : "",
		value: typeof e.value === "string" ? e.value : ""
	}))`

	setValueJS = `(i, v) => { ` + formElementsJS + `[i].value = v; }`

	setSelectedIndexJS = `(i, n) => { ` + formElementsJS + `[i].selectedIndex = n; }`

	formDataJS = `() => Array.from(new FormData(this)).map(([k, v]) => ({
		name: k,
		value: typeof v === "string" ? v : v.name
	}))`

	submitJS = `() => HTMLFormElement.prototype.submit.call(this)`

	fetchJS = `(method, url, body, contentType) => {
		const init = {method: method, credentials: "include"};
		if (contentType) {
			init.body = body;
			init.headers = {"Content-Type": contentType};
		}
		return fetch(url, init).then(r => r.status);
	}`
)

type CapturedRequest struct {
	ID         string            `json:"id"`
	Page       string            `json:"page"`
	Type       string            `json:"type"`
	Method     string            `json:"method"`
	URL        string            `json:"url"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body,omitempty"`
	Navigation bool              `json:"navigation,omitempty"`
}

// Page is an open browser tab. It implements Document over the live DOM.
type Page struct {
	raw      *rod.Page
	page     *rod.Page
	ctx      context.Context
	cancel   context.CancelFunc
	popups   *popupTracker
	target   *url.URL
	options  *Options
	router   *rod.HijackRouter
	requests *RequestCollector
	loaded   atomic.Bool
	closed   sync.Once
	log      zerolog.Logger
}

func newPage(ctx context.Context, raw *rod.Page, target *url.URL, options *Options, log zerolog.Logger) *Page {
	ctx, cancel := context.WithCancel(ctx)
	return &Page{
		raw:      raw,
		page:     raw.Context(ctx),
		ctx:      ctx,
		cancel:   cancel,
		target:   target,
		options:  options,
		requests: NewRequestCollector(),
		log:      log.With().Str("page", target.String()).Logger(),
	}
}

func (p *Page) URL() string {
	return p.target.String()
}

func (p *Page) Rod() *rod.Page {
	return p.page
}

func (p *Page) Requests() []*CapturedRequest {
	return p.requests.GetAll()
}

func (p *Page) Close() error {
	var err error
	p.closed.Do(func() {
		p.cancel()
		if p.popups != nil {
			p.popups.closeAll()
		}
		if p.router != nil {
			_ = p.router.Stop()
		}
		err = p.raw.Close()
	})
	return err
}

func (p *Page) setupHijack() error {
	router := p.raw.HijackRequests()
	if err := router.Add("*", "", p.handleRequest); err != nil {
		return err
	}
	go router.Run()
	p.router = router
	return nil
}

// handleRequest records same-host requests and, once the page has loaded,
// aborts document navigations so one form submission does not unload the
// page the other forms live on.
func (p *Page) handleRequest(h *rod.Hijack) {
	typ := h.Request.Type()
	u := h.Request.URL()

	if typ == proto.NetworkResourceTypeImage && !p.options.LoadImages {
		h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
		return
	}

	if MatchesExcludedURL(u.String(), p.options.ExcludedUrls) {
		h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
		return
	}

	navigation := typ == proto.NetworkResourceTypeDocument && p.loaded.Load()

	switch typ {
	case proto.NetworkResourceTypeDocument, proto.NetworkResourceTypeXHR,
		proto.NetworkResourceTypeFetch, proto.NetworkResourceTypeOther:
		if strings.EqualFold(u.Host, p.target.Host) {
			p.requests.Add(&CapturedRequest{
				ID:         uuid.NewString(),
				Page:       p.target.String(),
				Type:       strings.ToLower(string(typ)),
				Method:     h.Request.Method(),
				URL:        u.String(),
				Headers:    flattenHeaders(h.Request.Req().Header),
				Body:       h.Request.Body(),
				Navigation: navigation,
			})
		}
	}

	if navigation && p.options.BlockNavigation {
		p.log.Debug().Str("method", h.Request.Method()).Str("url", u.String()).Msg("navigation aborted")
		h.Response.Fail(proto.NetworkErrorReasonAborted)
		return
	}

	h.ContinueRequest(&proto.FetchContinueRequest{})
}

func flattenHeaders(header map[string][]string) map[string]string {
	if len(header) == 0 {
		return nil
	}
	out := make(map[string]string, len(header))
	for k, v := range header {
		out[strings.ToLower(k)] = strings.Join(v, ", ")
	}
	return out
}

func (p *Page) Forms() ([]Form, error) {
	els, err := p.page.ElementsByJS(rod.Eval(`() => Array.from(document.forms)`))
	if err != nil {
		return nil, fmt.Errorf("list forms: %w", err)
	}

	forms := make([]Form, 0, len(els))
	for i, el := range els {
		res, err := el.Eval(formAttrsJS)
		if err != nil {
			return nil, fmt.Errorf("form %d: %w", i, err)
		}
		var attrs struct {
			Action string `json:"action"`
			Method string `json:"method"`
		}
		if err := decodeResult(res, &attrs); err != nil {
			return nil, fmt.Errorf("form %d: %w", i, err)
		}
		forms = append(forms, &pageForm{el: el, action: attrs.Action, method: attrs.Method})
	}
	return forms, nil
}

// Dispatcher returns a Dispatcher that sends requests with fetch from inside
// this tab, so they carry the page's cookies and pass through its hijack.
func (p *Page) Dispatcher() *PageDispatcher {
	return &PageDispatcher{page: p}
}

type pageForm struct {
	el     *rod.Element
	action string
	method string
}

type pageField struct {
	Index int    `json:"index"`
	Tag   string `json:"tag"`
	Type  string `json:"type"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (f *pageForm) Fields() ([]Field, error) {
	res, err := f.el.Eval(formFieldsJS)
	if err != nil {
		return nil, err
	}
	var raw []pageField
	if err := decodeResult(res, &raw); err != nil {
		return nil, err
	}

	fields := make([]Field, 0, len(raw))
	for _, r := range raw {
		fields = append(fields, Field{
			Index: r.Index,
			Kind:  KindFromTag(r.Tag),
			Type:  r.Type,
			Name:  r.Name,
			Value: r.Value,
		})
	}
	return fields, nil
}

func (f *pageForm) SetValue(field Field, value string) error {
	_, err := f.el.Eval(setValueJS, field.Index, value)
	return err
}

func (f *pageForm) SetSelectedIndex(field Field, index int) error {
	_, err := f.el.Eval(setSelectedIndexJS, field.Index, index)
	return err
}

func (f *pageForm) Values() ([]Pair, error) {
	res, err := f.el.Eval(formDataJS)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	if err := decodeResult(res, &raw); err != nil {
		return nil, err
	}
	pairs := make([]Pair, 0, len(raw))
	for _, r := range raw {
		pairs = append(pairs, Pair{Name: r.Name, Value: r.Value})
	}
	return pairs, nil
}

func (f *pageForm) Action() string { return f.action }

func (f *pageForm) Method() string { return f.method }

func (f *pageForm) Submit() error {
	_, err := f.el.Eval(submitJS)
	return err
}

type PageDispatcher struct {
	page *Page
}

func (d *PageDispatcher) Dispatch(ctx context.Context, req *Request) *Pending {
	p := newPending(req)

	go func() {
		res, err := d.page.page.Context(ctx).Eval(fetchJS, req.Method, req.URL, req.Body, req.ContentType)
		if err != nil {
			d.page.log.Debug().Err(err).Str("id", req.ID).Str("url", req.URL).Msg("fetch failed")
			p.resolve(0, fmt.Errorf("%s %s: %w", req.Method, req.URL, err))
			return
		}
		p.resolve(res.Value.Int(), nil)
	}()

	return p
}

func decodeResult(res *proto.RuntimeRemoteObject, out interface{}) error {
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
