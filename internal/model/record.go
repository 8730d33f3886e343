package model

import (
	"time"
)

// ResolverTag names the source that produced a Record's accepted Outcome.
// Its presence on a Record marks the Record as resolved.
type ResolverTag string

const (
	ResolverPrimary           ResolverTag = "primary"
	ResolverSearchFallback    ResolverTag = "search_fallback"
	ResolverFinancialFallback ResolverTag = "financial_fallback"
)

// Valid reports whether t is one of the known resolver tags.
func (t ResolverTag) Valid() bool {
	switch t {
	case ResolverPrimary, ResolverSearchFallback, ResolverFinancialFallback:
		return true
	default:
		return false
	}
}

// Record is one company/ticker entry awaiting identity resolution.
type Record struct {
	ID         string   `json:"id"`
	Symbol     string   `json:"symbol"`
	Partition  string   `json:"partition,omitempty"` // optional secondary key, e.g. a snapshot date
	Name       string   `json:"name"`
	Resolution *Outcome `json:"resolution,omitempty"`
}

// Resolved reports whether the record already carries a resolver tag.
func (r Record) Resolved() bool {
	return r.Resolution != nil && r.Resolution.Resolver != ""
}

// IdentityCard is a flat label -> value mapping scraped from a structured
// info region. Values are whitespace-normalized and never empty.
type IdentityCard map[string]string

// Get returns the value for label, or "" when absent.
func (c IdentityCard) Get(label string) string {
	if c == nil {
		return ""
	}
	return c[label]
}

// Candidate is an unvalidated result produced by one adapter attempt.
type Candidate struct {
	SourceURL    string       `json:"source_url"`
	IdentityCard IdentityCard `json:"identity_card"`
	Narrative    string       `json:"narrative"`
}

// Empty reports whether the candidate carries no usable content.
func (c *Candidate) Empty() bool {
	return c == nil || (c.SourceURL == "" && len(c.IdentityCard) == 0 && c.Narrative == "")
}

// OutcomeMeta records how and when an Outcome was produced.
type OutcomeMeta struct {
	Method string `json:"method"`
	RunID  string `json:"run_id,omitempty"`
}

// Outcome is the persisted result of a successful resolution.
type Outcome struct {
	Resolver     ResolverTag  `json:"resolver"`
	SourceURL    string       `json:"source_url"`
	IdentityCard IdentityCard `json:"identity_card"`
	Narrative    string       `json:"narrative"`
	ResolvedAt   time.Time    `json:"resolved_at"`
	Meta         OutcomeMeta  `json:"meta"`
}

// NewOutcome builds an Outcome from an accepted candidate.
func NewOutcome(tag ResolverTag, method, runID string, c *Candidate, now time.Time) Outcome {
	return Outcome{
		Resolver:     tag,
		SourceURL:    c.SourceURL,
		IdentityCard: c.IdentityCard,
		Narrative:    c.Narrative,
		ResolvedAt:   now.UTC(),
		Meta: OutcomeMeta{
			Method: method,
			RunID:  runID,
		},
	}
}
