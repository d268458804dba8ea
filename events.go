package formprobe

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

const (
	EventFillInput  = "fillinput"
	EventFormSubmit = "formsubmit"
)

var ErrUnknownEvent = errors.New("unknown event name")

var validEvents = map[string]bool{
	EventFillInput:  true,
	EventFormSubmit: true,
}

type Event struct {
	Name   string
	Params map[string]interface{}
}

// EventCallback results are interpreted per event: false cancels the action,
// a string replaces a fill value. Anything else is ignored.
type EventCallback func(event *Event) (interface{}, error)

type EventHandler struct {
	mu       sync.RWMutex
	handlers map[string][]EventCallback
}

func NewEventHandler() *EventHandler {
	return &EventHandler{
		handlers: make(map[string][]EventCallback),
	}
}

func (eh *EventHandler) On(eventName string, handler EventCallback) error {
	eventName = strings.ToLower(eventName)
	if !validEvents[eventName] {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, eventName)
	}

	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.handlers[eventName] = append(eh.handlers[eventName], handler)
	return nil
}

func (eh *EventHandler) Dispatch(eventName string, event *Event) ([]interface{}, error) {
	eh.mu.RLock()
	handlers := eh.handlers[strings.ToLower(eventName)]
	eh.mu.RUnlock()

	if len(handlers) == 0 {
		return nil, nil
	}

	results := make([]interface{}, 0, len(handlers))
	for _, handler := range handlers {
		result, err := handler(event)
		if err != nil {
			return nil, fmt.Errorf("%s handler: %w", eventName, err)
		}
		results = append(results, result)
	}

	return results, nil
}

func (eh *EventHandler) HasHandler(eventName string) bool {
	eh.mu.RLock()
	defer eh.mu.RUnlock()

	return len(eh.handlers[strings.ToLower(eventName)]) > 0
}

func (eh *EventHandler) Clear(eventName string) {
	eh.mu.Lock()
	defer eh.mu.Unlock()

	if eventName == "" {
		eh.handlers = make(map[string][]EventCallback)
	} else {
		delete(eh.handlers, strings.ToLower(eventName))
	}
}

// vetoed reports whether any handler result is a literal false.
func vetoed(results []interface{}) bool {
	for _, r := range results {
		if b, ok := r.(bool); ok && !b {
			return true
		}
	}
	return false
}

type RequestCollector struct {
	mu       sync.RWMutex
	requests []*CapturedRequest
}

func NewRequestCollector() *RequestCollector {
	return &RequestCollector{
		requests: make([]*CapturedRequest, 0),
	}
}

func (rc *RequestCollector) Add(req *CapturedRequest) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.requests = append(rc.requests, req)
}

func (rc *RequestCollector) GetAll() []*CapturedRequest {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	result := make([]*CapturedRequest, len(rc.requests))
	copy(result, rc.requests)
	return result
}

func (rc *RequestCollector) GetByType(reqType string) []*CapturedRequest {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	result := make([]*CapturedRequest, 0)
	for _, req := range rc.requests {
		if strings.EqualFold(req.Type, reqType) {
			result = append(result, req)
		}
	}
	return result
}

func (rc *RequestCollector) Clear() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.requests = make([]*CapturedRequest, 0)
}

func (rc *RequestCollector) Count() int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return len(rc.requests)
}

type Stats struct {
	mu               sync.RWMutex
	startTime        time.Time
	endTime          time.Time
	pages            int
	forms            int
	duplicateForms   int
	fieldsFilled     int
	nativeSubmits    int
	dispatched       int
	vetoedSubmits    int
	capturedRequests int
	errors           int
}

func NewStats() *Stats {
	return &Stats{
		startTime: time.Now(),
	}
}

func (s *Stats) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startTime = time.Now()
}

func (s *Stats) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endTime = time.Now()
}

func (s *Stats) RecordPage() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages++
}

func (s *Stats) RecordForm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forms++
}

func (s *Stats) RecordDuplicateForm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.duplicateForms++
}

func (s *Stats) RecordFilled(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fieldsFilled += n
}

func (s *Stats) RecordSubmit(strategy Strategy) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch strategy {
	case StrategyNative:
		s.nativeSubmits++
	case StrategyProgrammatic:
		s.dispatched++
	}
}

func (s *Stats) RecordVeto() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vetoedSubmits++
}

func (s *Stats) RecordCaptured(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capturedRequests += n
}

func (s *Stats) RecordError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors++
}

func (s *Stats) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	duration := time.Duration(0)
	if !s.endTime.IsZero() {
		duration = s.endTime.Sub(s.startTime)
	}

	return map[string]interface{}{
		"duration":          duration.String(),
		"pages":             s.pages,
		"forms":             s.forms,
		"duplicate_forms":   s.duplicateForms,
		"fields_filled":     s.fieldsFilled,
		"native_submits":    s.nativeSubmits,
		"dispatched":        s.dispatched,
		"vetoed_submits":    s.vetoedSubmits,
		"captured_requests": s.capturedRequests,
		"errors":            s.errors,
	}
}

func (s *Stats) Print(w io.Writer) {
	stats := s.GetStats()
	fmt.Fprintln(w, "=== formprobe statistics ===")
	fmt.Fprintf(w, "Duration: %v\n", stats["duration"])
	fmt.Fprintf(w, "Pages: %d\n", stats["pages"])
	fmt.Fprintf(w, "Forms: %d (duplicates skipped: %d)\n", stats["forms"], stats["duplicate_forms"])
	fmt.Fprintf(w, "Fields filled: %d\n", stats["fields_filled"])
	fmt.Fprintf(w, "Submits: %d native, %d dispatched, %d vetoed\n", stats["native_submits"], stats["dispatched"], stats["vetoed_submits"])
	fmt.Fprintf(w, "Captured requests: %d\n", stats["captured_requests"])
	fmt.Fprintf(w, "Errors: %d\n", stats["errors"])
}
