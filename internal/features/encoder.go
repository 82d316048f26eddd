package features

import (
	"sort"
)

// OutOfVocabulary is the code assigned to category values never seen during
// fitting. Serving never fails on an unseen category.
const OutOfVocabulary = -1

// Encoder maps the values of one categorical attribute to integer codes.
// Codes are assigned 0..n-1 over the sorted distinct training values.
type Encoder struct {
	Classes []string       `json:"classes"`
	index   map[string]int // derived from Classes
}

// FitEncoder builds an encoder over the given values.
func FitEncoder(values []string) *Encoder {
	seen := make(map[string]struct{}, 16)
	for _, v := range values {
		seen[v] = struct{}{}
	}
	classes := make([]string, 0, len(seen))
	for v := range seen {
		classes = append(classes, v)
	}
	sort.Strings(classes)
	return NewEncoder(classes)
}

// NewEncoder rebuilds an encoder from its class list.
func NewEncoder(classes []string) *Encoder {
	e := &Encoder{Classes: classes, index: make(map[string]int, len(classes))}
	for i, c := range classes {
		e.index[c] = i
	}
	return e
}

// Code returns the code of a value, or OutOfVocabulary.
func (e *Encoder) Code(value string) int {
	if e == nil {
		return OutOfVocabulary
	}
	if e.index == nil {
		// Decoded from an artifact; Classes is authoritative.
		for i, c := range e.Classes {
			if c == value {
				return i
			}
		}
		return OutOfVocabulary
	}
	if code, ok := e.index[value]; ok {
		return code
	}
	return OutOfVocabulary
}

// Encoders holds one encoder per categorical attribute.
type Encoders map[string]*Encoder

// Code encodes value for the named attribute.
func (m Encoders) Code(field, value string) int {
	return m[field].Code(value)
}

// Reindex rebuilds lookup tables after decoding.
func (m Encoders) Reindex() Encoders {
	out := make(Encoders, len(m))
	for field, e := range m {
		if e == nil {
			continue
		}
		out[field] = NewEncoder(e.Classes)
	}
	return out
}
