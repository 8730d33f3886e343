package resolve

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/profile-resolver/internal/metrics"
	"github.com/sells-group/profile-resolver/internal/model"
	"github.com/sells-group/profile-resolver/internal/resilience"
	"github.com/sells-group/profile-resolver/internal/source"
	"github.com/sells-group/profile-resolver/internal/store"
)

// Resolution methods recorded in outcome metadata.
const (
	MethodWikipedia = "wikipedia_api"
	MethodSearch    = "bing_browser"
	MethodFinance   = "yahoo_finance"
)

// Adapters are the sources tried for each record, in order. A nil adapter
// is left out of the chain.
type Adapters struct {
	Primary   source.Adapter
	Search    source.Adapter
	Financial source.Adapter
}

// Summary reports one batch run.
type Summary struct {
	RunID      string                    `json:"run_id"`
	Processed  int                       `json:"processed"`
	Resolved   int                       `json:"resolved"`
	Skipped    int                       `json:"skipped"`
	ByResolver map[model.ResolverTag]int `json:"by_resolver"`
	Failures   map[string]int            `json:"failures"` // keyed adapter:reason
	Duration   time.Duration             `json:"duration"`
}

func newSummary(runID string) *Summary {
	return &Summary{
		RunID:      runID,
		ByResolver: make(map[model.ResolverTag]int),
		Failures:   make(map[string]int),
	}
}

// step is one source in the fallback chain.
type step struct {
	tag     model.ResolverTag
	method  string
	adapter source.Adapter
	gated   bool
}

// Orchestrator resolves records one at a time, falling back across sources
// until one yields an acceptable candidate.
type Orchestrator struct {
	store   store.Store
	steps   []step
	delay   time.Duration
	metrics *metrics.Metrics
	now     func() time.Time
	newID   func() string
	pause   func(context.Context, time.Duration) error
}

// New creates an Orchestrator. delay separates consecutive records; m may
// be nil.
func New(st store.Store, adapters Adapters, delay time.Duration, m *metrics.Metrics) *Orchestrator {
	var steps []step
	if adapters.Primary != nil {
		steps = append(steps, step{tag: model.ResolverPrimary, method: MethodWikipedia, adapter: adapters.Primary, gated: true})
	}
	if adapters.Search != nil {
		steps = append(steps, step{tag: model.ResolverSearchFallback, method: MethodSearch, adapter: adapters.Search, gated: true})
	}
	if adapters.Financial != nil {
		steps = append(steps, step{tag: model.ResolverFinancialFallback, method: MethodFinance, adapter: adapters.Financial})
	}
	return &Orchestrator{
		store:   st,
		steps:   steps,
		delay:   delay,
		metrics: m,
		now:     time.Now,
		newID:   uuid.NewString,
		pause:   resilience.Pause,
	}
}

// Run resolves up to batchSize unresolved records sequentially. Per-record
// failures never abort the run; only the initial selection is fatal.
func (o *Orchestrator) Run(ctx context.Context, batchSize int) (*Summary, error) {
	start := o.now()
	sum := newSummary(o.newID())
	log := zap.L().With(zap.String("run_id", sum.RunID))

	recs, err := o.store.Unresolved(ctx, batchSize)
	if err != nil {
		return nil, eris.Wrap(err, "resolve: select unresolved records")
	}
	log.Info("resolve: batch selected", zap.Int("records", len(recs)), zap.Int("batch_size", batchSize))

	for i, rec := range recs {
		if err := ctx.Err(); err != nil {
			log.Warn("resolve: run interrupted", zap.Int("remaining", len(recs)-i))
			sum.Duration = o.now().Sub(start)
			return sum, eris.Wrap(err, "resolve: run interrupted")
		}

		if !o.process(ctx, sum, rec, fmt.Sprintf("[%d/%d]", i+1, len(recs))) {
			continue
		}
		if i < len(recs)-1 {
			_ = o.pause(ctx, o.delay)
		}
	}

	sum.Duration = o.now().Sub(start)
	o.metrics.RunFinished(o.now())
	log.Info("resolve: batch complete",
		zap.Int("processed", sum.Processed),
		zap.Int("resolved", sum.Resolved),
		zap.Int("skipped", sum.Skipped),
		zap.Any("by_resolver", sum.ByResolver),
		zap.Any("failures", sum.Failures),
		zap.Duration("duration", sum.Duration),
	)
	return sum, nil
}

// process runs the fallback chain for one record. It reports whether any
// source was contacted.
func (o *Orchestrator) process(ctx context.Context, sum *Summary, rec model.Record, progress string) bool {
	log := zap.L().With(
		zap.String("run_id", sum.RunID),
		zap.String("progress", progress),
		zap.String("symbol", rec.Symbol),
		zap.String("name", rec.Name),
	)

	if rec.Name == "" || rec.Symbol == "" {
		log.Warn("resolve: record missing name or symbol, skipping", zap.String("id", rec.ID))
		sum.Skipped++
		o.metrics.ObserveRecord(metrics.OutcomeSkipped)
		return false
	}
	sum.Processed++
	log.Info("resolve: processing record")

	q := source.Query{Name: rec.Name, Symbol: rec.Symbol}
	for _, st := range o.steps {
		c, err := o.attempt(ctx, st, q)
		if err != nil {
			reason := source.Reason(err)
			sum.Failures[st.adapter.Name()+":"+reason]++
			log.Info("resolve: source failed, falling back",
				zap.String("source", st.adapter.Name()),
				zap.String("reason", reason),
				zap.Error(err),
			)
			// The source was never asked; the record waits for a later run.
			if errors.Is(err, source.ErrUnavailable) {
				log.Warn("resolve: source unavailable, leaving record for a later run",
					zap.String("source", st.adapter.Name()))
				o.metrics.ObserveRecord(metrics.OutcomeUnresolved)
				return true
			}
			continue
		}

		out := model.NewOutcome(st.tag, st.method, sum.RunID, c, o.now())
		if err := o.store.Resolve(ctx, rec.ID, out); err != nil {
			if errors.Is(err, store.ErrAlreadyResolved) {
				log.Info("resolve: record already resolved elsewhere, skipping")
				sum.Skipped++
				o.metrics.ObserveRecord(metrics.OutcomeSkipped)
				return true
			}
			log.Error("resolve: store write failed", zap.Error(err))
			sum.Failures["store:write_error"]++
			o.metrics.ObserveRecord(metrics.OutcomeUnresolved)
			return true
		}

		sum.Resolved++
		sum.ByResolver[st.tag]++
		o.metrics.ObserveRecord(metrics.OutcomeResolved)
		o.metrics.ObserveResolved(string(st.tag))
		log.Info("resolve: record resolved",
			zap.String("resolver", string(st.tag)),
			zap.String("url", out.SourceURL),
		)
		return true
	}

	log.Info("resolve: no source produced a match")
	o.metrics.ObserveRecord(metrics.OutcomeUnresolved)
	return true
}

// attempt runs one source and applies its acceptance rule.
func (o *Orchestrator) attempt(ctx context.Context, st step, q source.Query) (*model.Candidate, error) {
	name := st.adapter.Name()
	start := time.Now()
	c, err := st.adapter.Resolve(ctx, q)
	switch {
	case err != nil:
	case c == nil:
		err = source.Fail(name, source.ReasonNoMatch, eris.New("resolve: adapter returned no candidate"))
	case st.gated && !Accept(q.Symbol, c):
		err = source.Fail(name, source.ReasonRejected,
			eris.Errorf("resolve: %q not in %s %q", q.Symbol, TradedAsField, c.IdentityCard.Get(TradedAsField)))
	case !st.gated && c.Narrative == "":
		err = source.Fail(name, source.ReasonNoMatch, eris.New("resolve: empty narrative"))
	}

	if err != nil {
		if errors.Is(err, source.ErrTimeout) {
			o.metrics.ObserveTimeout()
		}
		o.metrics.ObserveAttempt(name, source.Reason(err), time.Since(start))
		return nil, err
	}
	o.metrics.ObserveAttempt(name, "success", time.Since(start))
	return c, nil
}
