package formprobe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const twoForms = `<html><body>
<form action="/search" method="get"><input name="q"></form>
<form action="/signup" method="post">
  <input name="email">
  <input type="password" name="pass">
</form>
</body></html>`

func newTestDriver(t *testing.T, strategy Strategy, dispatcher Dispatcher, opts ...DriverOption) *Driver {
	t.Helper()
	filler, err := NewFiller(WithChooser(FixedChooser{}))
	if err != nil {
		t.Fatalf("NewFiller: %v", err)
	}
	submitter, err := NewSubmitter(strategy, dispatcher)
	if err != nil {
		t.Fatalf("NewSubmitter: %v", err)
	}
	return NewDriver(filler, submitter, opts...)
}

func TestDriverProgrammatic(t *testing.T) {
	doc, err := ParseHTML(strings.NewReader(twoForms), "https://example.com/")
	if err != nil {
		t.Fatalf("ParseHTML: %v", err)
	}

	dispatcher := &recordingDispatcher{}
	driver := newTestDriver(t, StrategyProgrammatic, dispatcher)

	pending, err := driver.Run(context.Background(), doc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("Run returned %d pending, expected 2", len(pending))
	}

	reqs := dispatcher.Requests()
	expected := []struct{ method, url, body string }{
		{"GET", "https://example.com/search?q=" + defaultWords[0], ""},
		{"POST", "https://example.com/signup", "email=000000%40gmail.com&pass=%21123456qW"},
	}
	for i, want := range expected {
		if reqs[i].Method != want.method || reqs[i].URL != want.url || reqs[i].Body != want.body {
			t.Errorf("request %d = %s %s %q, expected %s %s %q",
				i, reqs[i].Method, reqs[i].URL, reqs[i].Body, want.method, want.url, want.body)
		}
	}

	stats := driver.Stats().GetStats()
	if stats["forms"] != 2 || stats["dispatched"] != 2 || stats["fields_filled"] != 3 {
		t.Errorf("stats = %v", stats)
	}
}

func TestDriverNative(t *testing.T) {
	var navigated []*Request
	doc, err := ParseHTML(strings.NewReader(twoForms), "https://example.com/", WithNavigator(func(req *Request) error {
		navigated = append(navigated, req)
		return nil
	}))
	if err != nil {
		t.Fatalf("ParseHTML: %v", err)
	}

	pending, err := newTestDriver(t, StrategyNative, nil).Run(context.Background(), doc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("native run returned %d pending", len(pending))
	}
	if len(navigated) != 2 {
		t.Fatalf("navigated %d times, expected 2", len(navigated))
	}
	if navigated[1].Method != "POST" || navigated[1].ContentType != FormURLEncoded {
		t.Errorf("second navigation = %+v", navigated[1])
	}
}

func TestDriverContinuesAfterFillError(t *testing.T) {
	broken := newFakeForm("https://x/a", "post", input("a", "text", ""))
	broken.failAt = 0
	unlisted := newFakeForm("https://x/b", "post")
	unlisted.listErr = errFakeDOM
	good := newFakeForm("https://x/c", "post", input("c", "text", ""))

	dispatcher := &recordingDispatcher{}
	driver := newTestDriver(t, StrategyProgrammatic, dispatcher)

	pending, err := driver.Run(context.Background(), &fakeDocument{forms: []Form{broken, unlisted, good}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("Run returned %d pending, expected 1", len(pending))
	}
	if reqs := dispatcher.Requests(); reqs[0].URL != "https://x/c" {
		t.Errorf("submitted %s, expected the healthy form", reqs[0].URL)
	}
	if errs := driver.Stats().GetStats()["errors"]; errs != 2 {
		t.Errorf("errors = %v, expected 2", errs)
	}
}

func TestDriverNativeSubmitFailure(t *testing.T) {
	first := newFakeForm("https://x/a", "post", input("a", "text", ""))
	first.submitErr = errFakeDOM
	second := newFakeForm("https://x/b", "post", input("b", "text", ""))

	if _, err := newTestDriver(t, StrategyNative, nil).Run(context.Background(), &fakeDocument{forms: []Form{first, second}}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if second.submitted != 1 {
		t.Errorf("form after a failed submit was submitted %d times", second.submitted)
	}
}

func TestDriverDocumentError(t *testing.T) {
	_, err := newTestDriver(t, StrategyNative, nil).Run(context.Background(), &fakeDocument{err: errFakeDOM})
	if !errors.Is(err, errFakeDOM) {
		t.Errorf("Run error = %v, expected errFakeDOM", err)
	}
}

func TestDriverFormSubmitVeto(t *testing.T) {
	events := NewEventHandler()
	events.On(EventFormSubmit, func(event *Event) (interface{}, error) {
		form := event.Params["form"].(Form)
		return form.Method() != "post", nil
	})

	doc, _ := ParseHTML(strings.NewReader(twoForms), "https://example.com/")
	dispatcher := &recordingDispatcher{}
	driver := newTestDriver(t, StrategyProgrammatic, dispatcher, WithDriverEvents(events))

	pending, err := driver.Run(context.Background(), doc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(pending) != 1 || pending[0].Request.Method != "GET" {
		t.Errorf("pending = %+v, expected only the GET form", pending)
	}
	if vetoed := driver.Stats().GetStats()["vetoed_submits"]; vetoed != 1 {
		t.Errorf("vetoed_submits = %v", vetoed)
	}
}

func TestDriverSkipsDuplicateForms(t *testing.T) {
	seen := NewSeenForms()
	dispatcher := &recordingDispatcher{}

	for i := 0; i < 2; i++ {
		doc, _ := ParseHTML(strings.NewReader(twoForms), "https://example.com/")
		driver := newTestDriver(t, StrategyProgrammatic, dispatcher, WithSeenForms(seen))
		if _, err := driver.Run(context.Background(), doc); err != nil {
			t.Fatalf("Run %d: %v", i, err)
		}
	}

	if n := len(dispatcher.Requests()); n != 2 {
		t.Errorf("dispatched %d requests across two identical pages, expected 2", n)
	}
	if seen.Len() != 2 {
		t.Errorf("seen %d signatures, expected 2", seen.Len())
	}
}

func TestDriverStopsOnCancel(t *testing.T) {
	doc, _ := ParseHTML(strings.NewReader(twoForms), "https://example.com/")
	dispatcher := &recordingDispatcher{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestDriver(t, StrategyProgrammatic, dispatcher).Run(ctx, doc)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v, expected context.Canceled", err)
	}
	if n := len(dispatcher.Requests()); n != 0 {
		t.Errorf("dispatched %d requests after cancel", n)
	}
}

func TestDriverReturnsBeforeResponses(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	doc, _ := ParseHTML(strings.NewReader(twoForms), srv.URL+"/")
	pending, err := newTestDriver(t, StrategyProgrammatic, NewHTTPDispatcher(nil)).Run(ctx, doc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, p := range pending {
		select {
		case <-p.Done():
			t.Fatal("Run waited for a response")
		default:
		}
	}

	close(release)
	if n := WaitAll(ctx, pending); n != len(pending) {
		t.Errorf("resolved %d of %d", n, len(pending))
	}
}
