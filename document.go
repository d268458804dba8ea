package formprobe

import "strings"

type FieldKind int

const (
	KindOther FieldKind = iota
	KindInput
	KindTextarea
	KindSelect
)

func (k FieldKind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindTextarea:
		return "textarea"
	case KindSelect:
		return "select"
	}
	return "other"
}

// KindFromTag maps an element tag name (any case) to a FieldKind.
func KindFromTag(tag string) FieldKind {
	switch strings.ToLower(tag) {
	case "input":
		return KindInput
	case "textarea":
		return KindTextarea
	case "select":
		return KindSelect
	}
	return KindOther
}

// Field is a snapshot of one form control taken when the form's fields are
// listed. Index is the control's position in the form's element list and is
// how backends address it when writing.
type Field struct {
	Index int
	Kind  FieldKind
	Type  string
	Name  string
	Value string
}

type Pair struct {
	Name  string
	Value string
}

// Form is a live form owned by a Document. Mutations apply in place.
type Form interface {
	Fields() ([]Field, error)
	SetValue(field Field, value string) error
	SetSelectedIndex(field Field, index int) error
	Values() ([]Pair, error)
	Action() string
	Method() string
	Submit() error
}

// Document is the page capability the driver works against.
type Document interface {
	Forms() ([]Form, error)
}

func FormSignature(form Form, fields []Field) string {
	var sb strings.Builder
	sb.WriteString(strings.ToUpper(form.Method()))
	sb.WriteString(" ")
	sb.WriteString(form.Action())
	for _, f := range fields {
		if f.Name == "" {
			continue
		}
		sb.WriteString("|")
		sb.WriteString(f.Name)
	}
	return sb.String()
}
