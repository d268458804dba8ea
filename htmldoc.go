package formprobe

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var ErrNoNavigator = errors.New("native submission needs a navigator")

// listedElements are the controls a form exposes through form.elements.
const listedElements = "button, fieldset, input, object, output, select, textarea"

var inputTypes = []string{
	"text", "search", "tel", "url", "email", "password", "date", "month", "week",
	"time", "datetime-local", "number", "range", "color", "checkbox", "radio",
	"file", "submit", "image", "reset", "button", "hidden",
}

// NavigateFunc performs the request a native submission of an HTMLDocument
// form produces.
type NavigateFunc func(req *Request) error

// HTMLDocument is a Document backed by parsed HTML. Fills mutate the parsed
// tree, so HTML() reflects them.
type HTMLDocument struct {
	doc      *goquery.Document
	base     *url.URL
	navigate NavigateFunc
}

type HTMLOption func(*HTMLDocument)

func WithNavigator(fn NavigateFunc) HTMLOption {
	return func(d *HTMLDocument) { d.navigate = fn }
}

func ParseHTML(r io.Reader, baseURL string, opts ...HTMLOption) (*HTMLDocument, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if u, err := base.Parse(strings.TrimSpace(href)); err == nil {
			base = u
		}
	}

	d := &HTMLDocument{doc: doc, base: base}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *HTMLDocument) Forms() ([]Form, error) {
	var forms []Form
	d.doc.Find("form").Each(func(_ int, s *goquery.Selection) {
		forms = append(forms, &htmlForm{sel: s, doc: d})
	})
	return forms, nil
}

func (d *HTMLDocument) HTML() (string, error) {
	return d.doc.Html()
}

type htmlForm struct {
	sel *goquery.Selection
	doc *HTMLDocument
}

func (f *htmlForm) elements() *goquery.Selection {
	return f.sel.Find(listedElements)
}

func (f *htmlForm) element(field Field) (*goquery.Selection, error) {
	el := f.elements().Eq(field.Index)
	if el.Length() == 0 {
		return nil, fmt.Errorf("field %d (%q) is no longer in the form", field.Index, field.Name)
	}
	return el, nil
}

func (f *htmlForm) Fields() ([]Field, error) {
	els := f.elements()
	fields := make([]Field, 0, els.Length())
	els.Each(func(i int, s *goquery.Selection) {
		kind := KindFromTag(goquery.NodeName(s))
		fields = append(fields, Field{
			Index: i,
			Kind:  kind,
			Type:  controlType(s),
			Name:  s.AttrOr("name", ""),
			Value: controlValue(s),
		})
	})
	return fields, nil
}

func (f *htmlForm) SetValue(field Field, value string) error {
	el, err := f.element(field)
	if err != nil {
		return err
	}

	switch goquery.NodeName(el) {
	case "input", "button":
		el.SetAttr("value", value)
	case "textarea":
		el.SetText(value)
	case "select":
		idx := -1
		el.Find("option").EachWithBreak(func(i int, opt *goquery.Selection) bool {
			if optionValue(opt) == value {
				idx = i
				return false
			}
			return true
		})
		selectIndex(el, idx)
	default:
		return fmt.Errorf("%s has no value", goquery.NodeName(el))
	}
	return nil
}

func (f *htmlForm) SetSelectedIndex(field Field, index int) error {
	el, err := f.element(field)
	if err != nil {
		return err
	}
	if goquery.NodeName(el) != "select" {
		return fmt.Errorf("%s is not a select", goquery.NodeName(el))
	}
	selectIndex(el, index)
	return nil
}

func (f *htmlForm) Values() ([]Pair, error) {
	var pairs []Pair
	f.elements().Each(func(_ int, s *goquery.Selection) {
		if _, disabled := s.Attr("disabled"); disabled {
			return
		}
		if s.ParentsFiltered("fieldset[disabled]").Length() > 0 {
			return
		}
		name := s.AttrOr("name", "")
		if name == "" {
			return
		}

		switch goquery.NodeName(s) {
		case "input":
			switch controlType(s) {
			case "submit", "button", "reset", "image":
			case "checkbox", "radio":
				if _, checked := s.Attr("checked"); checked {
					pairs = append(pairs, Pair{Name: name, Value: s.AttrOr("value", "on")})
				}
			case "file":
				pairs = append(pairs, Pair{Name: name, Value: ""})
			default:
				pairs = append(pairs, Pair{Name: name, Value: s.AttrOr("value", "")})
			}
		case "textarea":
			pairs = append(pairs, Pair{Name: name, Value: s.Text()})
		case "select":
			opts := s.Find("option")
			if _, multiple := s.Attr("multiple"); multiple {
				opts.Each(func(_ int, opt *goquery.Selection) {
					if _, ok := opt.Attr("selected"); ok {
						pairs = append(pairs, Pair{Name: name, Value: optionValue(opt)})
					}
				})
				return
			}
			if idx := selectedIndex(s); idx >= 0 {
				pairs = append(pairs, Pair{Name: name, Value: optionValue(opts.Eq(idx))})
			}
		}
	})
	return pairs, nil
}

// Action is the form's action resolved against the document URL; an empty
// action submits to the document itself.
func (f *htmlForm) Action() string {
	action := strings.TrimSpace(f.sel.AttrOr("action", ""))
	if f.doc.base == nil {
		return action
	}
	if action == "" {
		return f.doc.base.String()
	}
	u, err := f.doc.base.Parse(action)
	if err != nil {
		return action
	}
	return u.String()
}

func (f *htmlForm) Method() string {
	switch m := strings.ToLower(strings.TrimSpace(f.sel.AttrOr("method", ""))); m {
	case "post", "dialog":
		return m
	}
	return "get"
}

func (f *htmlForm) Submit() error {
	if f.doc.navigate == nil {
		return ErrNoNavigator
	}
	req, err := BuildRequest(f)
	if err != nil {
		return err
	}
	return f.doc.navigate(req)
}

func controlType(s *goquery.Selection) string {
	switch goquery.NodeName(s) {
	case "input":
		t := strings.ToLower(strings.TrimSpace(s.AttrOr("type", "")))
		if !StringSliceContains(inputTypes, t) {
			return "text"
		}
		return t
	case "button":
		t := strings.ToLower(strings.TrimSpace(s.AttrOr("type", "")))
		if t != "reset" && t != "button" {
			return "submit"
		}
		return t
	case "textarea":
		return "textarea"
	case "select":
		if _, multiple := s.Attr("multiple"); multiple {
			return "select-multiple"
		}
		return "select-one"
	case "fieldset":
		return "fieldset"
	case "output":
		return "output"
	}
	return ""
}

func controlValue(s *goquery.Selection) string {
	switch goquery.NodeName(s) {
	case "input":
		switch controlType(s) {
		case "checkbox", "radio":
			return s.AttrOr("value", "on")
		}
		return s.AttrOr("value", "")
	case "button":
		return s.AttrOr("value", "")
	case "textarea":
		return s.Text()
	case "select":
		if idx := selectedIndex(s); idx >= 0 {
			return optionValue(s.Find("option").Eq(idx))
		}
	}
	return ""
}

func optionValue(opt *goquery.Selection) string {
	if v, ok := opt.Attr("value"); ok {
		return v
	}
	return strings.Join(strings.Fields(opt.Text()), " ")
}

// selectedIndex mirrors HTMLSelectElement.selectedIndex: the first option
// marked selected, else the first option of a single select, else -1.
func selectedIndex(s *goquery.Selection) int {
	opts := s.Find("option")
	idx := -1
	opts.EachWithBreak(func(i int, opt *goquery.Selection) bool {
		if _, ok := opt.Attr("selected"); ok {
			idx = i
			return false
		}
		return true
	})
	if idx >= 0 {
		return idx
	}
	if _, multiple := s.Attr("multiple"); !multiple && opts.Length() > 0 {
		return 0
	}
	return -1
}

func selectIndex(s *goquery.Selection, index int) {
	opts := s.Find("option")
	opts.RemoveAttr("selected")
	if index >= 0 && index < opts.Length() {
		opts.Eq(index).SetAttr("selected", "selected")
	}
}
