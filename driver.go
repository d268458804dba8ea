package formprobe

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// SeenForms is a concurrency-safe set of form signatures shared by drivers
// that should submit each distinct form once.
type SeenForms struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewSeenForms() *SeenForms {
	return &SeenForms{seen: make(map[string]struct{})}
}

// Add records sig and reports whether it was new.
func (s *SeenForms) Add(sig string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[sig]; ok {
		return false
	}
	s.seen[sig] = struct{}{}
	return true
}

func (s *SeenForms) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

type Driver struct {
	filler    *Filler
	submitter Submitter
	events    *EventHandler
	seen      *SeenForms
	stats     *Stats
	log       zerolog.Logger
}

type DriverOption func(*Driver)

func WithDriverEvents(eh *EventHandler) DriverOption {
	return func(d *Driver) { d.events = eh }
}

func WithSeenForms(s *SeenForms) DriverOption {
	return func(d *Driver) { d.seen = s }
}

func WithDriverStats(s *Stats) DriverOption {
	return func(d *Driver) { d.stats = s }
}

func WithDriverLogger(l zerolog.Logger) DriverOption {
	return func(d *Driver) { d.log = l }
}

func NewDriver(filler *Filler, submitter Submitter, opts ...DriverOption) *Driver {
	d := &Driver{
		filler:    filler,
		submitter: submitter,
		stats:     NewStats(),
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Driver) Stats() *Stats {
	return d.stats
}

// Run fills and submits every form of doc in document order. A form whose
// fill fails is not submitted and the pass continues with the next form.
//
// Programmatic submissions are returned as pending handles and never awaited
// here. With native submission and no navigation blocking, the first submit
// may unload the document; later forms then fail and are logged.
func (d *Driver) Run(ctx context.Context, doc Document) ([]*Pending, error) {
	forms, err := doc.Forms()
	if err != nil {
		d.stats.RecordError()
		return nil, fmt.Errorf("enumerate forms: %w", err)
	}

	var pending []*Pending
	for i, form := range forms {
		if err := ctx.Err(); err != nil {
			return pending, err
		}

		log := d.log.With().Int("form", i).Str("method", form.Method()).Str("action", form.Action()).Logger()
		d.stats.RecordForm()

		if d.seen != nil {
			fields, err := form.Fields()
			if err != nil {
				log.Warn().Err(err).Msg("list fields")
				d.stats.RecordError()
				continue
			}
			if !d.seen.Add(FormSignature(form, fields)) {
				log.Debug().Msg("duplicate form skipped")
				d.stats.RecordDuplicateForm()
				continue
			}
		}

		filled, err := d.filler.Fill(form)
		if err != nil {
			log.Warn().Err(err).Int("filled", filled).Msg("fill aborted")
			d.stats.RecordError()
			continue
		}
		log.Debug().Int("filled", filled).Msg("form filled")

		if d.events != nil && d.events.HasHandler(EventFormSubmit) {
			results, err := d.events.Dispatch(EventFormSubmit, &Event{
				Name: EventFormSubmit,
				Params: map[string]interface{}{
					"index":    i,
					"form":     form,
					"strategy": d.submitter.Strategy(),
				},
			})
			if err != nil {
				log.Warn().Err(err).Msg("formsubmit handler")
				d.stats.RecordError()
				continue
			}
			if vetoed(results) {
				log.Debug().Msg("submission vetoed")
				d.stats.RecordVeto()
				continue
			}
		}

		p, err := d.submitter.Submit(ctx, form)
		if err != nil {
			log.Warn().Err(err).Msg("submit failed")
			d.stats.RecordError()
			continue
		}
		d.stats.RecordSubmit(d.submitter.Strategy())
		if p != nil {
			log.Info().Str("id", p.Request.ID).Str("url", p.Request.URL).Msg("request dispatched")
			pending = append(pending, p)
		} else {
			log.Info().Msg("form submitted")
		}
	}

	return pending, nil
}
