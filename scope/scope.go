// Package scope defines the named capabilities carried by API tokens.
package scope

import (
	"slices"
	"strings"

	autherrors "github.com/jrsteele09/skills-auth/internal/errors"
)

type Scope string

const (
	Read    Scope = "read"
	Write   Scope = "write"
	Publish Scope = "publish"
)

var all = []Scope{Read, Write, Publish}

// All returns the full scope set, in canonical order.
func All() []Scope {
	return slices.Clone(all)
}

func (s Scope) Valid() bool {
	return slices.Contains(all, s)
}

// Parse accepts scopes separated by spaces or commas. An empty string yields nil.
func Parse(raw string) ([]Scope, error) {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ' ' || r == ','
	})
	scopes := make([]string, 0, len(fields))
	for _, f := range fields {
		scopes = append(scopes, strings.ToLower(strings.TrimSpace(f)))
	}
	return FromStrings(scopes)
}

// FromStrings validates and de-duplicates scope names.
func FromStrings(values []string) ([]Scope, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make([]Scope, 0, len(values))
	for _, v := range values {
		s := Scope(v)
		if !s.Valid() {
			return nil, autherrors.Wrapf(autherrors.ErrInvalidInput, "unknown scope %q", v)
		}
		out = append(out, s)
	}
	return Normalize(out), nil
}

// Normalize de-duplicates scopes and orders them canonically. Unknown scopes are dropped.
func Normalize(scopes []Scope) []Scope {
	out := make([]Scope, 0, len(all))
	for _, s := range all {
		if slices.Contains(scopes, s) {
			out = append(out, s)
		}
	}
	return out
}

// OrAll returns scopes, or the full set when none were requested.
func OrAll(scopes []Scope) []Scope {
	if len(scopes) == 0 {
		return All()
	}
	return Normalize(scopes)
}

func Contains(scopes []Scope, s Scope) bool {
	return slices.Contains(scopes, s)
}

// Join renders scopes space separated, the OAuth2 wire form.
func Join(scopes []Scope) string {
	parts := make([]string, len(scopes))
	for i, s := range scopes {
		parts[i] = string(s)
	}
	return strings.Join(parts, " ")
}

func Strings(scopes []Scope) []string {
	out := make([]string, len(scopes))
	for i, s := range scopes {
		out[i] = string(s)
	}
	return out
}
