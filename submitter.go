package formprobe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const FormURLEncoded = "application/x-www-form-urlencoded;charset=UTF-8"

type Strategy int

const (
	StrategyNative Strategy = iota
	StrategyProgrammatic
)

var ErrUnknownStrategy = errors.New("unknown submission strategy")

func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "native", "":
		return StrategyNative, nil
	case "programmatic", "fetch":
		return StrategyProgrammatic, nil
	}
	return StrategyNative, fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
}

func (s Strategy) String() string {
	if s == StrategyProgrammatic {
		return "programmatic"
	}
	return "native"
}

func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Strategy) UnmarshalText(text []byte) error {
	v, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

type Request struct {
	ID          string `json:"id"`
	Method      string `json:"method"`
	URL         string `json:"url"`
	Body        string `json:"body,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

var newlines = strings.NewReplacer("\r\n", "\r\n", "\r", "\r\n", "\n", "\r\n")

// EncodePairs serialises pairs in order the way a browser encodes form data
// as application/x-www-form-urlencoded: line breaks become CRLF, space
// becomes '+', and only alphanumerics and "*-._" go unescaped.
func EncodePairs(pairs []Pair) string {
	var sb strings.Builder
	for i, p := range pairs {
		if i > 0 {
			sb.WriteByte('&')
		}
		formEscape(&sb, p.Name)
		sb.WriteByte('=')
		formEscape(&sb, p.Value)
	}
	return sb.String()
}

func formEscape(sb *strings.Builder, s string) {
	const hex = "0123456789ABCDEF"
	s = newlines.Replace(s)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == ' ':
			sb.WriteByte('+')
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9',
			c == '*', c == '-', c == '.', c == '_':
			sb.WriteByte(c)
		default:
			sb.WriteByte('%')
			sb.WriteByte(hex[c>>4])
			sb.WriteByte(hex[c&0x0f])
		}
	}
}

// BuildRequest turns a filled form into the request a browser would send for
// it: a query string on the action for GET, a urlencoded body otherwise.
func BuildRequest(form Form) (*Request, error) {
	pairs, err := form.Values()
	if err != nil {
		return nil, fmt.Errorf("collect form data: %w", err)
	}

	method := strings.TrimSpace(form.Method())
	if method == "" {
		method = http.MethodGet
	}

	req := &Request{
		ID:     uuid.NewString(),
		Method: strings.ToUpper(method),
		URL:    form.Action(),
	}

	encoded := EncodePairs(pairs)
	if strings.EqualFold(method, http.MethodGet) {
		if encoded != "" {
			if strings.Contains(req.URL, "?") {
				req.URL += "&" + encoded
			} else {
				req.URL += "?" + encoded
			}
		}
		return req, nil
	}

	req.Body = encoded
	req.ContentType = FormURLEncoded
	return req, nil
}

// Submitter sends a filled form. Native submitters return a nil Pending.
type Submitter interface {
	Strategy() Strategy
	Submit(ctx context.Context, form Form) (*Pending, error)
}

func NewSubmitter(strategy Strategy, dispatcher Dispatcher) (Submitter, error) {
	switch strategy {
	case StrategyNative:
		return NativeSubmitter{}, nil
	case StrategyProgrammatic:
		if dispatcher == nil {
			return nil, errors.New("programmatic submission needs a dispatcher")
		}
		return &ProgrammaticSubmitter{dispatcher: dispatcher}, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownStrategy, strategy)
}

type NativeSubmitter struct{}

func (NativeSubmitter) Strategy() Strategy { return StrategyNative }

func (NativeSubmitter) Submit(_ context.Context, form Form) (*Pending, error) {
	if err := form.Submit(); err != nil {
		return nil, fmt.Errorf("native submit: %w", err)
	}
	return nil, nil
}

type ProgrammaticSubmitter struct {
	dispatcher Dispatcher
}

func (*ProgrammaticSubmitter) Strategy() Strategy { return StrategyProgrammatic }

// Submit builds the request and hands it to the dispatcher. It returns as
// soon as the request is queued; the caller decides whether to wait.
func (s *ProgrammaticSubmitter) Submit(ctx context.Context, form Form) (*Pending, error) {
	req, err := BuildRequest(form)
	if err != nil {
		return nil, err
	}
	return s.dispatcher.Dispatch(ctx, req), nil
}
