package formprobe

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestBuildRequest(t *testing.T) {
	tests := []struct {
		name     string
		form     *fakeForm
		expected *Request
	}{
		{
			name:     "get appends query",
			form:     newFakeForm("https://x/search", "get", input("q", "text", "test")),
			expected: &Request{Method: "GET", URL: "https://x/search?q=test"},
		},
		{
			name:     "get extends existing query",
			form:     newFakeForm("https://x/search?x=1", "get", input("q", "text", "test")),
			expected: &Request{Method: "GET", URL: "https://x/search?x=1&q=test"},
		},
		{
			name:     "empty method is get",
			form:     newFakeForm("https://x/search", "", input("q", "text", "a b")),
			expected: &Request{Method: "GET", URL: "https://x/search?q=a+b"},
		},
		{
			name:     "get without data leaves action alone",
			form:     newFakeForm("https://x/search", "GET", input("", "text", "ignored")),
			expected: &Request{Method: "GET", URL: "https://x/search"},
		},
		{
			name: "post encodes body",
			form: newFakeForm("https://x/signup", "post",
				input("q", "text", "test"),
				input("name", "text", "a b"),
			),
			expected: &Request{
				Method:      "POST",
				URL:         "https://x/signup",
				Body:        "q=test&name=a+b",
				ContentType: FormURLEncoded,
			},
		},
		{
			name:     "post keeps action query",
			form:     newFakeForm("https://x/signup?step=2", "Post", input("k", "text", "a&b=c")),
			expected: &Request{Method: "POST", URL: "https://x/signup?step=2", Body: "k=a%26b%3Dc", ContentType: FormURLEncoded},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			req, err := BuildRequest(test.form)
			if err != nil {
				t.Fatalf("BuildRequest: %v", err)
			}
			if req.ID == "" {
				t.Error("request has no id")
			}
			if diff := cmp.Diff(test.expected, req, cmpopts.IgnoreFields(Request{}, "ID")); diff != "" {
				t.Errorf("BuildRequest mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncodePairsKeepsOrder(t *testing.T) {
	pairs := []Pair{{"b", "2"}, {"a", "1"}, {"b", "3"}, {"empty", ""}}
	expected := "b=2&a=1&b=3&empty="

	if result := EncodePairs(pairs); result != expected {
		t.Errorf("EncodePairs = %q, expected %q", result, expected)
	}
	if result := EncodePairs(nil); result != "" {
		t.Errorf("EncodePairs(nil) = %q, expected empty", result)
	}
}

func TestEncodePairsMatchesBrowserSerializer(t *testing.T) {
	tests := []struct {
		value    string
		expected string
	}{
		{"a*b", "v=a*b"},
		{"a~b", "v=a%7Eb"},
		{"-._", "v=-._"},
		{"d'arcy", "v=d%27arcy"},
		{"x\ny", "v=x%0D%0Ay"},
		{"x\ry", "v=x%0D%0Ay"},
		{"x\r\ny", "v=x%0D%0Ay"},
		{"caf\u00e9", "v=caf%C3%A9"},
		{"a+b c", "v=a%2Bb+c"},
	}

	for _, test := range tests {
		if result := EncodePairs([]Pair{{"v", test.value}}); result != test.expected {
			t.Errorf("EncodePairs(%q) = %q, expected %q", test.value, result, test.expected)
		}
	}
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		input    string
		expected Strategy
		wantErr  bool
	}{
		{"native", StrategyNative, false},
		{"", StrategyNative, false},
		{"Programmatic", StrategyProgrammatic, false},
		{" fetch ", StrategyProgrammatic, false},
		{"xhr", StrategyNative, true},
	}

	for _, test := range tests {
		result, err := ParseStrategy(test.input)
		if (err != nil) != test.wantErr {
			t.Errorf("ParseStrategy(%q) error = %v, wantErr %v", test.input, err, test.wantErr)
			continue
		}
		if err != nil && !errors.Is(err, ErrUnknownStrategy) {
			t.Errorf("ParseStrategy(%q) error = %v, expected ErrUnknownStrategy", test.input, err)
		}
		if result != test.expected {
			t.Errorf("ParseStrategy(%q) = %v, expected %v", test.input, result, test.expected)
		}
	}
}

func TestStrategyText(t *testing.T) {
	for _, s := range []Strategy{StrategyNative, StrategyProgrammatic} {
		text, err := s.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText: %v", err)
		}
		var back Strategy
		if err := back.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%q): %v", text, err)
		}
		if back != s {
			t.Errorf("%v round-tripped to %v", s, back)
		}
	}
}

func TestNewSubmitter(t *testing.T) {
	if _, err := NewSubmitter(StrategyProgrammatic, nil); err == nil {
		t.Error("programmatic submitter without a dispatcher should fail")
	}
	if _, err := NewSubmitter(Strategy(7), nil); !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("unknown strategy error = %v", err)
	}

	s, err := NewSubmitter(StrategyNative, nil)
	if err != nil {
		t.Fatalf("NewSubmitter: %v", err)
	}
	if s.Strategy() != StrategyNative {
		t.Errorf("Strategy() = %v", s.Strategy())
	}
}

func TestNativeSubmitter(t *testing.T) {
	form := newFakeForm("https://x/", "post", input("a", "text", "1"))

	p, err := NativeSubmitter{}.Submit(context.Background(), form)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if p != nil {
		t.Error("native submit returned a pending handle")
	}
	if form.submitted != 1 {
		t.Errorf("form submitted %d times, expected 1", form.submitted)
	}

	form.submitErr = errFakeDOM
	if _, err := (NativeSubmitter{}).Submit(context.Background(), form); !errors.Is(err, errFakeDOM) {
		t.Errorf("Submit error = %v, expected errFakeDOM", err)
	}
}

func TestProgrammaticSubmitter(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	s, err := NewSubmitter(StrategyProgrammatic, dispatcher)
	if err != nil {
		t.Fatalf("NewSubmitter: %v", err)
	}

	form := newFakeForm("https://x/search", "get", input("q", "text", "test"))
	p, err := s.Submit(context.Background(), form)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if p == nil {
		t.Fatal("programmatic submit returned no pending handle")
	}
	if form.submitted != 0 {
		t.Error("programmatic submit triggered native submission")
	}

	reqs := dispatcher.Requests()
	if len(reqs) != 1 || reqs[0].URL != "https://x/search?q=test" {
		t.Errorf("dispatched %+v", reqs)
	}
}
