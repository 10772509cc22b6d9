// Package moderation decides whether a message may be sent.
package moderation

import "strings"

// DefaultTerms is the banned term set used when none is configured.
var DefaultTerms = []string{"badword1", "badword2", "badword3"}

// A Gate rejects text containing any of its banned terms. Matching is a
// case-sensitive substring test.
type Gate struct {
	terms []string
}

// New returns a gate for terms. Empty terms are ignored.
func New(terms ...string) *Gate {
	g := &Gate{}
	for _, t := range terms {
		if t != "" {
			g.terms = append(g.terms, t)
		}
	}
	return g
}

// IsBlocked reports whether text contains a banned term.
func (g *Gate) IsBlocked(text string) bool {
	for _, t := range g.terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}
