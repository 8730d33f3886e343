// Package source adapts external lookups (Wikipedia, a web search engine,
// Yahoo Finance) to a common candidate-producing contract.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/profile-resolver/internal/model"
)

// Failure reasons.
const (
	ReasonNoMatch     = "no_match_found"
	ReasonAmbiguous   = "ambiguous_match"
	ReasonFetchError  = "fetch_error"
	ReasonParseError  = "parse_error"
	ReasonRejected    = "validation_rejected"
	ReasonTimeout     = "timeout"
	ReasonUnavailable = "source_unavailable"
)

// Sentinels matched with errors.Is against any adapter failure.
var (
	ErrNotFound           = eris.New("source: no match found")
	ErrAmbiguous          = eris.New("source: ambiguous match")
	ErrFetch              = eris.New("source: fetch error")
	ErrParse              = eris.New("source: parse error")
	ErrValidationRejected = eris.New("source: validation rejected")
	ErrTimeout            = eris.New("source: timed out")
	ErrUnavailable        = eris.New("source: unavailable")
)

// Query identifies the company to look up.
type Query struct {
	Name    string
	Symbol  string
	HintURL string // optional direct article URL
}

// Adapter produces a Candidate for a Query or a *Failure.
type Adapter interface {
	Name() string
	Resolve(ctx context.Context, q Query) (*model.Candidate, error)
}

// Failure is a typed adapter failure.
type Failure struct {
	Reason string
	Source string
	Err    error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Source, f.Reason, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Source, f.Reason)
}

func (f *Failure) Unwrap() error { return f.Err }

// Is matches a Failure against the sentinel for its reason.
func (f *Failure) Is(target error) bool {
	s := sentinel(f.Reason)
	return s != nil && target == s
}

func sentinel(reason string) error {
	switch reason {
	case ReasonNoMatch:
		return ErrNotFound
	case ReasonAmbiguous:
		return ErrAmbiguous
	case ReasonFetchError:
		return ErrFetch
	case ReasonParseError:
		return ErrParse
	case ReasonRejected:
		return ErrValidationRejected
	case ReasonTimeout:
		return ErrTimeout
	case ReasonUnavailable:
		return ErrUnavailable
	default:
		return nil
	}
}

// Fail builds a Failure.
func Fail(src, reason string, err error) *Failure {
	return &Failure{Reason: reason, Source: src, Err: err}
}

// Reason returns the failure reason carried by err, or fetch_error for
// untyped errors.
func Reason(err error) string {
	var f *Failure
	if errors.As(err, &f) {
		return f.Reason
	}
	for _, r := range []string{ReasonNoMatch, ReasonAmbiguous, ReasonParseError, ReasonRejected, ReasonTimeout, ReasonUnavailable} {
		if errors.Is(err, sentinel(r)) {
			return r
		}
	}
	return ReasonFetchError
}
