// Package extract pulls typed entities out of free text and reduces messages
// to normalized templates.
//
// Recognizers run in order. A recognizer may only claim spans that no earlier
// recognizer claimed, so the resulting entity set never overlaps and is a pure
// function of the input text.
package extract

import (
	"regexp"
	"slices"
	"strings"

	"deskmate/internal/domain"
)

// Recognizer finds one kind of entity.
type Recognizer struct {
	Kind    domain.EntityKind
	Name    string // entity name; defaults to the kind
	Pattern *regexp.Regexp
	// Group selects the capture group that forms the entity span.
	// Zero means the whole match.
	Group int
	// Normalize turns the raw span into the entity value. Returning false
	// rejects the candidate, leaving the span free for later recognizers.
	Normalize func(raw string) (string, bool)
	// Literal keeps the span verbatim in templates, for entities that
	// distinguish intents rather than parameterize them.
	Literal bool
}

func (r Recognizer) name() string {
	if r.Name != "" {
		return r.Name
	}
	return string(r.Kind)
}

// Extractor applies an ordered list of recognizers.
type Extractor struct {
	recognizers []Recognizer
}

// New creates an extractor with the given recognizers, in priority order.
func New(recognizers ...Recognizer) *Extractor {
	return &Extractor{recognizers: slices.Clone(recognizers)}
}

// Default returns an extractor with the shared recognizers.
func Default() *Extractor {
	return New(DefaultRecognizers()...)
}

// With returns a new extractor that runs extra after the current recognizers.
func (x *Extractor) With(extra ...Recognizer) *Extractor {
	all := make([]Recognizer, 0, len(x.recognizers)+len(extra))
	all = append(all, x.recognizers...)
	all = append(all, extra...)
	return &Extractor{recognizers: all}
}

// Recognizers returns the recognizer list in priority order.
func (x *Extractor) Recognizers() []Recognizer {
	return slices.Clone(x.recognizers)
}

// Extract returns the entities found in text, ordered by position.
// Finding nothing yields an empty, non-nil set.
func (x *Extractor) Extract(text string) domain.Entities {
	return x.ExtractInto(text, nil)
}

// ExtractInto continues extraction around spans already claimed.
// The claimed entities are kept and returned with the new ones.
func (x *Extractor) ExtractInto(text string, claimed domain.Entities) domain.Entities {
	out := make(domain.Entities, 0, len(claimed)+4)
	out = append(out, claimed...)

	for _, r := range x.recognizers {
		if r.Pattern == nil {
			continue
		}
		for _, m := range r.Pattern.FindAllStringSubmatchIndex(text, -1) {
			if 2*r.Group+1 >= len(m) {
				continue
			}
			start, end := m[2*r.Group], m[2*r.Group+1]
			if start < 0 || start == end || out.Claims(start, end) {
				continue
			}
			raw := text[start:end]
			value := raw
			if r.Normalize != nil {
				v, ok := r.Normalize(raw)
				if !ok {
					continue
				}
				value = v
			}
			out = append(out, domain.Entity{
				Kind:    r.Kind,
				Name:    r.name(),
				Value:   value,
				Text:    raw,
				Start:   start,
				End:     end,
				Literal: r.Literal,
			})
		}
	}

	slices.SortStableFunc(out, func(a, b domain.Entity) int { return a.Start - b.Start })
	return out
}

// Normalize extracts entities from text and returns its template.
func (x *Extractor) Normalize(text string) string {
	return Template(text, x.Extract(text))
}

// Template lower-cases text, replaces every non-literal entity span with
// its kind placeholder, collapses whitespace and trims trailing punctuation.
// Entities must come from the same text.
func Template(text string, entities domain.Entities) string {
	sorted := slices.Clone(entities)
	slices.SortStableFunc(sorted, func(a, b domain.Entity) int { return a.Start - b.Start })

	var b strings.Builder
	pos := 0
	for _, e := range sorted {
		if e.Literal || e.Start < pos || e.End > len(text) {
			continue
		}
		b.WriteString(strings.ToLower(text[pos:e.Start]))
		b.WriteString(e.Kind.Placeholder())
		pos = e.End
	}
	b.WriteString(strings.ToLower(text[pos:]))

	tpl := strings.Join(strings.Fields(b.String()), " ")
	return strings.TrimRight(tpl, "?!.,;: ")
}
