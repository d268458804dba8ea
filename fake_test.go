package formprobe

import (
	"context"
	"errors"
	"sync"
)

var errFakeDOM = errors.New("node detached")

// fakeForm is an in-memory Form whose writes can be made to fail.
type fakeForm struct {
	action    string
	method    string
	fields    []Field
	selected  map[int]int
	failAt    int
	listErr   error
	submitErr error
	submitted int
}

func newFakeForm(action, method string, fields ...Field) *fakeForm {
	for i := range fields {
		fields[i].Index = i
	}
	return &fakeForm{
		action:   action,
		method:   method,
		fields:   fields,
		selected: make(map[int]int),
		failAt:   -1,
	}
}

func (f *fakeForm) Fields() ([]Field, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]Field, len(f.fields))
	copy(out, f.fields)
	return out, nil
}

func (f *fakeForm) SetValue(field Field, value string) error {
	if field.Index == f.failAt {
		return errFakeDOM
	}
	f.fields[field.Index].Value = value
	return nil
}

func (f *fakeForm) SetSelectedIndex(field Field, index int) error {
	if field.Index == f.failAt {
		return errFakeDOM
	}
	f.selected[field.Index] = index
	return nil
}

func (f *fakeForm) Values() ([]Pair, error) {
	var pairs []Pair
	for _, field := range f.fields {
		if field.Name == "" {
			continue
		}
		pairs = append(pairs, Pair{Name: field.Name, Value: field.Value})
	}
	return pairs, nil
}

func (f *fakeForm) Action() string { return f.action }

func (f *fakeForm) Method() string { return f.method }

func (f *fakeForm) Submit() error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted++
	return nil
}

type fakeDocument struct {
	forms []Form
	err   error
}

func (d *fakeDocument) Forms() ([]Form, error) {
	return d.forms, d.err
}

func input(name, typ, value string) Field {
	return Field{Kind: KindInput, Type: typ, Name: name, Value: value}
}

// recordingDispatcher resolves every request immediately with status 200.
type recordingDispatcher struct {
	mu       sync.Mutex
	requests []*Request
}

func (d *recordingDispatcher) Dispatch(_ context.Context, req *Request) *Pending {
	d.mu.Lock()
	d.requests = append(d.requests, req)
	d.mu.Unlock()

	p := newPending(req)
	p.resolve(200, nil)
	return p
}

func (d *recordingDispatcher) Requests() []*Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Request(nil), d.requests...)
}
