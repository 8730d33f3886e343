package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	// DefaultGrace is how long a worker gets between SIGTERM and SIGKILL.
	DefaultGrace = 2 * time.Second

	// reapTimeout bounds the wait for exit after SIGKILL.
	reapTimeout = 5 * time.Second
)

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithCommand sets the worker executable and arguments. The default is the
// running binary with the search-worker subcommand.
func WithCommand(path string, args ...string) Option {
	return func(s *Supervisor) {
		s.path = path
		s.args = args
	}
}

// WithEnv appends environment entries for the worker process.
func WithEnv(env ...string) Option {
	return func(s *Supervisor) {
		s.env = append(s.env, env...)
	}
}

// WithGrace sets the SIGTERM to SIGKILL grace period.
func WithGrace(d time.Duration) Option {
	return func(s *Supervisor) {
		s.grace = d
	}
}

// Supervisor runs one worker process per search call and enforces a
// wall-clock deadline on it.
type Supervisor struct {
	path  string
	args  []string
	env   []string
	grace time.Duration
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(opts ...Option) (*Supervisor, error) {
	s := &Supervisor{
		args:  []string{"search-worker"},
		grace: DefaultGrace,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.path == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, eris.Wrap(err, "worker: resolve executable")
		}
		s.path = self
	}
	return s, nil
}

type decoded struct {
	res Result
	err error
}

// process is one running worker.
type process struct {
	cmd    *exec.Cmd
	result chan decoded  // buffered; receives exactly one value
	exited chan struct{} // closed once cmd.Wait has returned
}

// Search runs req in a fresh worker process and waits up to deadline for
// its result. On timeout or cancellation the worker's process group gets
// SIGTERM, then SIGKILL after the grace period, and is reaped before Search
// returns.
func (s *Supervisor) Search(ctx context.Context, req Request, deadline time.Duration) (Result, error) {
	p, err := s.start(req)
	if err != nil {
		return Result{}, err
	}

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case d := <-p.result:
		s.reap(p)
		if d.err != nil {
			return Result{}, eris.Wrap(d.err, "worker: read result")
		}
		return d.res, nil
	case <-timer.C:
		zap.L().Warn("worker: deadline exceeded, terminating",
			zap.String("symbol", req.Symbol),
			zap.Duration("deadline", deadline),
		)
		s.terminate(p)
		return Result{}, eris.Wrapf(ErrTimeout, "symbol %s after %s", req.Symbol, deadline)
	case <-ctx.Done():
		s.terminate(p)
		return Result{}, eris.Wrap(ctx.Err(), "worker: search cancelled")
	}
}

func (s *Supervisor) start(req Request) (*process, error) {
	cmd := exec.Command(s.path, s.args...)
	cmd.Env = append(os.Environ(), s.env...)
	setupProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, eris.Wrap(err, "worker: stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, eris.Wrap(err, "worker: stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, eris.Wrap(err, "worker: stderr pipe")
	}
	if err := cmd.Start(); err != nil {
		return nil, eris.Wrap(err, "worker: start")
	}

	p := &process{
		cmd:    cmd,
		result: make(chan decoded, 1),
		exited: make(chan struct{}),
	}

	stdoutDone := make(chan struct{})
	go func() {
		defer close(stdoutDone)
		var res Result
		err := json.NewDecoder(stdout).Decode(&res)
		p.result <- decoded{res: res, err: err}
		_, _ = io.Copy(io.Discard, stdout)
	}()

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		relay(stderr, req.Symbol)
	}()

	// Wait must not run before the pipes are drained.
	go func() {
		<-stdoutDone
		<-stderrDone
		err := cmd.Wait()
		zap.L().Debug("worker: exited", zap.Int("pid", cmd.Process.Pid), zap.Error(err))
		close(p.exited)
	}()

	if err := json.NewEncoder(stdin).Encode(req); err != nil {
		zap.L().Warn("worker: write request", zap.Error(err))
	}
	_ = stdin.Close()

	return p, nil
}

// reap waits for a worker that has already answered to exit on its own,
// escalating if it lingers past the grace period.
func (s *Supervisor) reap(p *process) {
	select {
	case <-p.exited:
	case <-time.After(s.grace):
		s.terminate(p)
	}
}

// terminate sends SIGTERM to the worker group, waits the grace period, then
// sends SIGKILL and waits for the reap.
func (s *Supervisor) terminate(p *process) {
	if err := terminateGroup(p.cmd); err != nil {
		zap.L().Debug("worker: sigterm", zap.Error(err))
	}
	select {
	case <-p.exited:
		return
	case <-time.After(s.grace):
	}

	zap.L().Warn("worker: ignored sigterm, killing", zap.Int("pid", p.cmd.Process.Pid))
	if err := killGroup(p.cmd); err != nil {
		zap.L().Debug("worker: sigkill", zap.Error(err))
	}
	select {
	case <-p.exited:
	case <-time.After(reapTimeout):
		zap.L().Error("worker: process not reaped after sigkill", zap.Int("pid", p.cmd.Process.Pid))
	}
}

// relay forwards the worker's stderr to the logger line by line.
func relay(r io.Reader, symbol string) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		zap.L().Info(sc.Text(), zap.String("source", "search-worker"), zap.String("symbol", symbol))
	}
	_, _ = io.Copy(io.Discard, r)
}
