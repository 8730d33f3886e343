package resolve

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/profile-resolver/internal/model"
	"github.com/sells-group/profile-resolver/internal/resilience"
	"github.com/sells-group/profile-resolver/internal/source"
	"github.com/sells-group/profile-resolver/internal/worker"
)

// BreakerName labels the search circuit in logs and metrics.
const BreakerName = "search-worker"

// Searcher runs a search in an isolated worker.
type Searcher interface {
	Search(ctx context.Context, req worker.Request, deadline time.Duration) (worker.Result, error)
}

// DispatchConfig controls the search dispatcher.
type DispatchConfig struct {
	Deadline        time.Duration
	Retries         int
	BreakerFailures int
	BreakerReset    time.Duration
	// OnBreakerChange observes circuit transitions; may be nil.
	OnBreakerChange func(from, to resilience.CircuitState)
}

// SearchDispatcher adapts the worker supervisor to the source.Adapter
// contract. Consecutive worker timeouts and errors trip a circuit breaker,
// after which the search source is skipped until the reset timeout passes.
type SearchDispatcher struct {
	searcher Searcher
	breaker  *resilience.Breaker
	deadline time.Duration
	retries  int
}

// NewSearchDispatcher creates a SearchDispatcher.
func NewSearchDispatcher(s Searcher, cfg DispatchConfig) *SearchDispatcher {
	return &SearchDispatcher{
		searcher: s,
		breaker: resilience.NewBreaker(resilience.BreakerConfig{
			Name:          BreakerName,
			Failures:      cfg.BreakerFailures,
			Cooldown:      cfg.BreakerReset,
			OnStateChange: cfg.OnBreakerChange,
		}),
		deadline: cfg.Deadline,
		retries:  cfg.Retries,
	}
}

// Name implements source.Adapter.
func (d *SearchDispatcher) Name() string { return "search" }

// Resolve implements source.Adapter.
func (d *SearchDispatcher) Resolve(ctx context.Context, q source.Query) (*model.Candidate, error) {
	req := worker.Request{Name: q.Name, Symbol: q.Symbol, Retries: d.retries}
	res, err := resilience.Call(ctx, d.breaker, func(ctx context.Context) (worker.Result, error) {
		res, err := d.searcher.Search(ctx, req, d.deadline)
		if err == nil && res.Status == worker.StatusError {
			err = eris.Errorf("resolve: search worker: %s", res.Message)
		}
		return res, err
	})

	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return nil, source.Fail(d.Name(), source.ReasonUnavailable, err)
	case errors.Is(err, worker.ErrTimeout):
		return nil, source.Fail(d.Name(), source.ReasonTimeout, err)
	case err != nil:
		return nil, source.Fail(d.Name(), source.ReasonFetchError, err)
	}

	switch res.Status {
	case worker.StatusSuccess:
		if res.Candidate.Empty() {
			return nil, source.Fail(d.Name(), source.ReasonParseError, eris.New("resolve: search worker returned an empty candidate"))
		}
		return res.Candidate, nil
	case worker.StatusNoMatch:
		return nil, source.Fail(d.Name(), source.ReasonNoMatch, eris.New(res.Message))
	default:
		return nil, source.Fail(d.Name(), source.ReasonFetchError, eris.Errorf("resolve: unknown worker status %q", res.Status))
	}
}

// State reports the breaker state, for logging.
func (d *SearchDispatcher) State() resilience.CircuitState {
	return d.breaker.State()
}
