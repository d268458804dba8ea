package formprobe

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/rs/zerolog"
)

// Value kinds a NameRule may map a field name to. Any other rule value is
// assigned literally.
const (
	ValueEmail    = "email"
	ValuePassword = "password"
	ValueWord     = "word"
	ValueSentence = "sentence"
)

type FillValues struct {
	Password         string   `yaml:"password"`
	EmailDomains     []string `yaml:"email_domains"`
	EmailLocalLength int      `yaml:"email_local_length"`
	Words            []string `yaml:"words"`
	Sentences        []string `yaml:"sentences"`
}

func DefaultFillValues() FillValues {
	return FillValues{
		Password:         defaultPassword,
		EmailDomains:     append([]string(nil), defaultEmailDomains...),
		EmailLocalLength: 6,
		Words:            append([]string(nil), defaultWords...),
		Sentences:        append([]string(nil), defaultSentences...),
	}
}

func (v *FillValues) applyDefaults() {
	def := DefaultFillValues()
	if v.Password == "" {
		v.Password = def.Password
	}
	if len(v.EmailDomains) == 0 {
		v.EmailDomains = def.EmailDomains
	}
	if v.EmailLocalLength <= 0 {
		v.EmailLocalLength = def.EmailLocalLength
	}
	if len(v.Words) == 0 {
		v.Words = def.Words
	}
	if len(v.Sentences) == 0 {
		v.Sentences = def.Sentences
	}
}

// PasswordIsComplex reports whether s has at least 8 characters including a
// digit, an upper-case letter, a lower-case letter and a symbol.
func PasswordIsComplex(s string) bool {
	var digit, upper, lower, symbol bool
	n := 0
	for _, r := range s {
		n++
		switch {
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	return n >= 8 && digit && upper && lower && symbol
}

var emailNamePattern = regexp.MustCompile(`(?i)email`)

type nameRule struct {
	re    *regexp.Regexp
	value string
}

type Filler struct {
	mu        sync.Mutex
	values    FillValues
	chooser   Chooser
	rawRules  []NameRule
	rules     []nameRule
	skipTypes []string
	events    *EventHandler
	stats     *Stats
	log       zerolog.Logger
}

type FillerOption func(*Filler)

func WithChooser(c Chooser) FillerOption {
	return func(f *Filler) { f.chooser = c }
}

func WithFillValues(v FillValues) FillerOption {
	return func(f *Filler) {
		v.applyDefaults()
		f.values = v
	}
}

// WithNameRules adds rules matched against input names in order, ahead of
// the built-in e-mail rule.
func WithNameRules(rules ...NameRule) FillerOption {
	return func(f *Filler) { f.rawRules = rules }
}

// WithSkipInputTypes sets the input types left empty. Hidden inputs are
// never filled whatever the list says.
func WithSkipInputTypes(types ...string) FillerOption {
	return func(f *Filler) {
		f.skipTypes = make([]string, 0, len(types))
		for _, t := range types {
			f.skipTypes = append(f.skipTypes, strings.ToLower(t))
		}
	}
}

func WithFillerEvents(eh *EventHandler) FillerOption {
	return func(f *Filler) { f.events = eh }
}

func WithFillerStats(s *Stats) FillerOption {
	return func(f *Filler) { f.stats = s }
}

func WithFillerLogger(l zerolog.Logger) FillerOption {
	return func(f *Filler) { f.log = l }
}

func NewFiller(opts ...FillerOption) (*Filler, error) {
	f := &Filler{
		values:    DefaultFillValues(),
		chooser:   NewRandomChooser(0),
		skipTypes: []string{"hidden", "file"},
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}

	for _, r := range f.rawRules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("name rule %q: %w", r.Pattern, err)
		}
		f.rules = append(f.rules, nameRule{re: re, value: r.Value})
	}
	// Configured rules cannot turn the e-mail rule off, only take precedence
	// over it.
	f.rules = append(f.rules, nameRule{re: emailNamePattern, value: ValueEmail})

	return f, nil
}

// NewFillerFromOptions builds a Filler from loaded options. FixedValues wins
// over RandomSeed.
func NewFillerFromOptions(o *Options, opts ...FillerOption) (*Filler, error) {
	var chooser Chooser
	switch {
	case o.FixedValues:
		chooser = FixedChooser{}
	case o.RandomSeed != "":
		chooser = NewSeedChooser(o.RandomSeed)
	default:
		chooser = NewRandomChooser(0)
	}

	base := []FillerOption{
		WithChooser(chooser),
		WithFillValues(o.Values),
		WithNameRules(o.NameRules...),
		WithSkipInputTypes(o.SkipInputTypes...),
	}
	return NewFiller(append(base, opts...)...)
}

// Fill assigns a value to every empty, fillable field of form in field
// order and returns how many fields it changed. The first error stops the
// pass; fields already written stay written.
func (f *Filler) Fill(form Form) (int, error) {
	fields, err := form.Fields()
	if err != nil {
		return 0, fmt.Errorf("list fields: %w", err)
	}

	filled := 0
	defer func() {
		if f.stats != nil {
			f.stats.RecordFilled(filled)
		}
	}()

	for _, field := range fields {
		if field.Value != "" {
			continue
		}

		switch field.Kind {
		case KindInput:
			if field.Type == "hidden" || StringSliceContains(f.skipTypes, field.Type) {
				continue
			}
			ok, err := f.assign(form, field, f.inputValue(field))
			if err != nil {
				return filled, err
			}
			if ok {
				filled++
			}
		case KindTextarea:
			ok, err := f.assign(form, field, f.value(ValueSentence))
			if err != nil {
				return filled, err
			}
			if ok {
				filled++
			}
		case KindSelect:
			if err := form.SetSelectedIndex(field, 0); err != nil {
				return filled, fmt.Errorf("select %q: %w", field.Name, err)
			}
			filled++
		}
	}

	return filled, nil
}

func (f *Filler) inputValue(field Field) string {
	if field.Type == "password" {
		return f.value(ValuePassword)
	}
	for _, rule := range f.rules {
		if rule.re.MatchString(field.Name) {
			return f.value(rule.value)
		}
	}
	return f.value(ValueWord)
}

func (f *Filler) value(kind string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch kind {
	case ValuePassword:
		return f.values.Password
	case ValueEmail:
		return randString(f.chooser, localPartAlphabet, f.values.EmailLocalLength) + "@" + choose(f.chooser, f.values.EmailDomains)
	case ValueWord:
		return choose(f.chooser, f.values.Words)
	case ValueSentence:
		return choose(f.chooser, f.values.Sentences)
	}
	return kind
}

// assign runs the fillinput hooks and writes the value. A handler returning
// false leaves the field alone, one returning a string replaces the value.
func (f *Filler) assign(form Form, field Field, value string) (bool, error) {
	if f.events != nil && f.events.HasHandler(EventFillInput) {
		results, err := f.events.Dispatch(EventFillInput, &Event{
			Name: EventFillInput,
			Params: map[string]interface{}{
				"field":  field,
				"value":  value,
				"action": form.Action(),
			},
		})
		if err != nil {
			return false, err
		}
		for _, ret := range results {
			switch r := ret.(type) {
			case bool:
				if !r {
					return false, nil
				}
			case string:
				value = r
			}
		}
	}

	if err := form.SetValue(field, value); err != nil {
		return false, fmt.Errorf("set %s %q: %w", field.Kind, field.Name, err)
	}
	f.log.Debug().Str("name", field.Name).Str("type", field.Type).Str("value", value).Msg("filled")
	return true, nil
}
