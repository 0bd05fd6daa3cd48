package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrParse is returned for malformed type expressions.
var ErrParse = errors.New("malformed type expression")

// Parse evaluates a type expression against the registered vocabulary.
//
// Grammar:
//
//	expr    := term { "|" term }
//	term    := name [ "[" pred { "," pred } "]" ]
//
// "Seq" parses to a bare base type, "Seq[Aligned]" to a refined type, and
// "Seq | Table" to a union. Whitespace around tokens is ignored. Unknown
// names fail with ErrUnknownType, unknown predicates with
// ErrUnknownPredicate, contradictory predicate sets with ErrTypeConflict.
func (r *Registry) Parse(expr string) (Type, error) {
	parts := splitTop(expr)
	if len(parts) == 0 {
		return Type{}, fmt.Errorf("%w: empty expression", ErrParse)
	}
	terms := make([]Type, 0, len(parts))
	for _, part := range parts {
		t, err := r.parseTerm(part)
		if err != nil {
			return Type{}, err
		}
		terms = append(terms, t)
	}
	if len(terms) == 1 {
		return terms[0], nil
	}
	return Union(terms...), nil
}

func (r *Registry) parseTerm(s string) (Type, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Type{}, fmt.Errorf("%w: empty term", ErrParse)
	}
	open := strings.IndexByte(s, '[')
	if open < 0 {
		return r.Make(s)
	}
	if !strings.HasSuffix(s, "]") {
		return Type{}, fmt.Errorf("%w: unterminated predicate list in %q", ErrParse, s)
	}
	name := strings.TrimSpace(s[:open])
	if name == "" {
		return Type{}, fmt.Errorf("%w: missing type name in %q", ErrParse, s)
	}
	var preds []Predicate
	for _, p := range strings.Split(s[open+1:len(s)-1], ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			return Type{}, fmt.Errorf("%w: empty predicate in %q", ErrParse, s)
		}
		preds = append(preds, Predicate(p))
	}
	return r.Make(name, preds...)
}

// splitTop splits on "|" outside predicate brackets.
func splitTop(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
		case '|':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	out := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}
