package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/profile-resolver/internal/model"
)

// ErrAlreadyResolved is returned by Resolve when the conditional update
// matched no unresolved record.
var ErrAlreadyResolved = eris.New("store: record already resolved")

// Stats summarizes resolution progress across the collection.
type Stats struct {
	Total      int                       `json:"total"`
	Resolved   int                       `json:"resolved"`
	Unresolved int                       `json:"unresolved"`
	ByResolver map[model.ResolverTag]int `json:"by_resolver"`
}

// Store defines the persistence interface for company records.
type Store interface {
	// Unresolved returns up to limit records without a resolver tag, ordered
	// by identity key.
	Unresolved(ctx context.Context, limit int) ([]model.Record, error)

	// Resolve writes out to the record with the given id only if it is still
	// unresolved. Returns ErrAlreadyResolved when nothing matched.
	Resolve(ctx context.Context, id string, out model.Outcome) error

	// Get returns every record stored under symbol.
	Get(ctx context.Context, symbol string) ([]model.Record, error)

	// Reset clears the resolution of every record stored under symbol so the
	// next run picks them up again. Returns the number of records cleared.
	Reset(ctx context.Context, symbol string) (int, error)

	Stats(ctx context.Context) (*Stats, error)

	// Upsert seeds records by (symbol, partition). Existing records keep
	// their resolution; only the name is refreshed. Returns rows inserted.
	Upsert(ctx context.Context, recs []model.Record) (int, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

func newStats() *Stats {
	return &Stats{ByResolver: make(map[model.ResolverTag]int)}
}

// add folds n records carrying tag into the stats. An empty tag counts as
// unresolved.
func (s *Stats) add(tag model.ResolverTag, n int) {
	s.Total += n
	if tag == "" {
		s.Unresolved += n
		return
	}
	s.Resolved += n
	s.ByResolver[tag] += n
}

func validateUpsert(r model.Record) error {
	if r.Symbol == "" {
		return eris.New("store: upsert: record symbol is required")
	}
	return nil
}
