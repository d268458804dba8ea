package formprobe

import (
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
)

const popupGrace = 5 * time.Second

// popupTracker closes the tabs a page opens (target=_blank forms,
// window.open) and records the URL each one was opened for. Chrome creates
// the target before its URL is known, so a popup is held until a navigable
// URL shows up or the grace period ends.
type popupTracker struct {
	mu          sync.Mutex
	opener      proto.TargetTargetID
	page        *url.URL
	grace       time.Duration
	waiting     map[proto.TargetTargetID]*time.Timer
	done        map[proto.TargetTargetID]bool
	record      func(*CapturedRequest)
	closeTarget func(proto.TargetTargetID)
}

func newPopupTracker(opener proto.TargetTargetID, page *url.URL, grace time.Duration,
	record func(*CapturedRequest), closeTarget func(proto.TargetTargetID)) *popupTracker {
	return &popupTracker{
		opener:      opener,
		page:        page,
		grace:       grace,
		waiting:     make(map[proto.TargetTargetID]*time.Timer),
		done:        make(map[proto.TargetTargetID]bool),
		record:      record,
		closeTarget: closeTarget,
	}
}

func (t *popupTracker) created(info *proto.TargetTargetInfo) {
	if info == nil || info.OpenerID != t.opener {
		return
	}
	id := info.TargetID
	if navigable(info.URL) {
		t.finish(id, info.URL)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done[id] {
		return
	}
	if _, ok := t.waiting[id]; !ok {
		t.waiting[id] = time.AfterFunc(t.grace, func() { t.finish(id, "") })
	}
}

func (t *popupTracker) changed(info *proto.TargetTargetInfo) {
	if info == nil || !navigable(info.URL) {
		return
	}
	t.mu.Lock()
	_, ok := t.waiting[info.TargetID]
	t.mu.Unlock()
	if ok {
		t.finish(info.TargetID, info.URL)
	}
}

// finish closes a popup once. u is recorded when it is on the page's host.
func (t *popupTracker) finish(id proto.TargetTargetID, u string) {
	t.mu.Lock()
	if t.done[id] {
		t.mu.Unlock()
		return
	}
	t.done[id] = true
	if timer, ok := t.waiting[id]; ok {
		timer.Stop()
		delete(t.waiting, id)
	}
	t.mu.Unlock()

	if parsed, err := url.Parse(u); u != "" && err == nil && strings.EqualFold(parsed.Host, t.page.Host) {
		// Target info carries no method; the popup's request line is not seen.
		t.record(&CapturedRequest{
			ID:         uuid.NewString(),
			Page:       t.page.String(),
			Type:       "popup",
			URL:        u,
			Navigation: true,
		})
	}
	t.closeTarget(id)
}

// closeAll closes popups still waiting for a URL.
func (t *popupTracker) closeAll() {
	t.mu.Lock()
	ids := make([]proto.TargetTargetID, 0, len(t.waiting))
	for id := range t.waiting {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	for _, id := range ids {
		t.finish(id, "")
	}
}

func navigable(u string) bool {
	u = strings.ToLower(u)
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}
