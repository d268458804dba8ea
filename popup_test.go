package formprobe

import (
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

type popupRecorder struct {
	mu       sync.Mutex
	captured []*CapturedRequest
	closed   []proto.TargetTargetID
}

func (r *popupRecorder) record(c *CapturedRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.captured = append(r.captured, c)
}

func (r *popupRecorder) close(id proto.TargetTargetID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, id)
}

func (r *popupRecorder) snapshot() ([]*CapturedRequest, []proto.TargetTargetID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*CapturedRequest(nil), r.captured...), append([]proto.TargetTargetID(nil), r.closed...)
}

func newTestTracker(grace time.Duration) (*popupTracker, *popupRecorder) {
	page, _ := url.Parse("https://example.com/form")
	rec := &popupRecorder{}
	return newPopupTracker("opener", page, grace, rec.record, rec.close), rec
}

func TestPopupClosedOnceURLKnown(t *testing.T) {
	tracker, rec := newTestTracker(time.Minute)

	tracker.created(&proto.TargetTargetInfo{TargetID: "p1", OpenerID: "opener", URL: "about:blank"})
	if _, closed := rec.snapshot(); len(closed) != 0 {
		t.Fatalf("popup closed before its URL was known: %v", closed)
	}

	tracker.changed(&proto.TargetTargetInfo{TargetID: "p1", OpenerID: "opener", URL: "https://example.com/signup?q=test"})
	tracker.changed(&proto.TargetTargetInfo{TargetID: "p1", OpenerID: "opener", URL: "https://example.com/done"})

	captured, closed := rec.snapshot()
	if len(closed) != 1 || closed[0] != "p1" {
		t.Errorf("closed = %v, expected p1 once", closed)
	}
	if len(captured) != 1 {
		t.Fatalf("captured %d requests, expected 1", len(captured))
	}
	if c := captured[0]; c.URL != "https://example.com/signup?q=test" || c.Type != "popup" || !c.Navigation {
		t.Errorf("captured %+v", c)
	}
}

func TestPopupIgnoresOtherOpeners(t *testing.T) {
	tracker, rec := newTestTracker(time.Minute)

	tracker.created(&proto.TargetTargetInfo{TargetID: "x", OpenerID: "someone-else", URL: "https://example.com/"})
	tracker.created(&proto.TargetTargetInfo{TargetID: "y", URL: "https://example.com/"})
	tracker.changed(&proto.TargetTargetInfo{TargetID: "x", URL: "https://example.com/a"})

	if captured, closed := rec.snapshot(); len(captured) != 0 || len(closed) != 0 {
		t.Errorf("foreign targets handled: captured %v, closed %v", captured, closed)
	}
}

func TestPopupOtherHostClosedNotRecorded(t *testing.T) {
	tracker, rec := newTestTracker(time.Minute)

	tracker.created(&proto.TargetTargetInfo{TargetID: "p", OpenerID: "opener", URL: "https://ads.test/landing"})

	captured, closed := rec.snapshot()
	if len(captured) != 0 {
		t.Errorf("recorded a cross-host popup: %+v", captured[0])
	}
	if len(closed) != 1 {
		t.Errorf("closed = %v, expected the popup closed", closed)
	}
}

func TestPopupClosedAfterGrace(t *testing.T) {
	tracker, rec := newTestTracker(20 * time.Millisecond)

	tracker.created(&proto.TargetTargetInfo{TargetID: "p", OpenerID: "opener"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, closed := rec.snapshot(); len(closed) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	captured, closed := rec.snapshot()
	if len(closed) != 1 || len(captured) != 0 {
		t.Errorf("after grace: captured %v, closed %v", captured, closed)
	}

	tracker.changed(&proto.TargetTargetInfo{TargetID: "p", URL: "https://example.com/late"})
	if _, closed := rec.snapshot(); len(closed) != 1 {
		t.Errorf("popup closed again: %v", closed)
	}
}

func TestPopupCloseAll(t *testing.T) {
	tracker, rec := newTestTracker(time.Minute)

	tracker.created(&proto.TargetTargetInfo{TargetID: "a", OpenerID: "opener"})
	tracker.created(&proto.TargetTargetInfo{TargetID: "b", OpenerID: "opener"})
	tracker.closeAll()
	tracker.closeAll()

	if _, closed := rec.snapshot(); len(closed) != 2 {
		t.Errorf("closed = %v, expected both popups once", closed)
	}
}
