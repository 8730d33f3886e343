package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/profile-resolver/internal/model"
	"github.com/sells-group/profile-resolver/internal/resilience"
	"github.com/sells-group/profile-resolver/internal/source"
)

// Factory opens the search adapter together with a release func for the
// resources behind it (the browser session).
type Factory func(ctx context.Context) (source.Adapter, func() error, error)

// Serve is the worker-side entry point. It reads one Request from in, runs
// the search with polite retries and writes exactly one Result to out.
func Serve(ctx context.Context, in io.Reader, out io.Writer, open Factory, pause time.Duration) error {
	var req Request
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		err = eris.Wrap(err, "worker: decode request")
		return errors.Join(err, writeResult(out, errorResult(err)))
	}

	res := run(ctx, req, open, pause)
	zap.L().Info("worker: search finished",
		zap.String("symbol", req.Symbol),
		zap.String("status", string(res.Status)),
	)
	return writeResult(out, res)
}

func run(ctx context.Context, req Request, open Factory, pause time.Duration) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("worker: search panicked", zap.Any("panic", r))
			res = Result{Status: StatusError, Message: fmt.Sprintf("panic: %v", r)}
		}
	}()

	adapter, release, err := open(ctx)
	if err != nil {
		return errorResult(eris.Wrap(err, "worker: open search"))
	}
	defer func() {
		if err := release(); err != nil {
			zap.L().Warn("worker: release search resources", zap.Error(err))
		}
	}()

	attempts := req.Retries
	if attempts < 1 {
		attempts = 1
	}
	policy := resilience.PolitePolicy(attempts, pause)
	// Misses are retried like fetch errors; ambiguity is final.
	policy.Retryable = func(err error) bool {
		return !errors.Is(err, source.ErrAmbiguous)
	}
	policy.OnRetry = resilience.RetryLogger("search-worker", adapter.Name())

	q := source.Query{Name: req.Name, Symbol: req.Symbol}
	c, err := resilience.DoVal(ctx, policy, func(ctx context.Context) (*model.Candidate, error) {
		return adapter.Resolve(ctx, q)
	})
	switch {
	case err == nil:
		return Result{Status: StatusSuccess, Candidate: c}
	case errors.Is(err, source.ErrNotFound), errors.Is(err, source.ErrAmbiguous):
		return Result{Status: StatusNoMatch, Message: err.Error()}
	default:
		return errorResult(err)
	}
}

func writeResult(out io.Writer, res Result) error {
	if err := json.NewEncoder(out).Encode(res); err != nil {
		return eris.Wrap(err, "worker: write result")
	}
	return nil
}
