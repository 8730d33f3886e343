//go:build !windows

package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sys/unix"
)

func readPID(t *testing.T, path string) int {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	require.NoError(t, err)
	return pid
}

func assertReaped(t *testing.T, pid int) {
	t.Helper()
	assert.Equal(t, unix.ESRCH, unix.Kill(pid, 0), "worker %d still exists", pid)
}

func TestSupervisor_Success(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := helperSupervisor(t, "serve", time.Second)
	res, err := s.Search(context.Background(), Request{Name: "Acme", Symbol: "ABC", Retries: 2}, 20*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	require.NotNil(t, res.Candidate)
	assert.Equal(t, "NASDAQ: ABC", res.Candidate.IdentityCard.Get("Traded as"))
}

func TestSupervisor_NoMatch(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := helperSupervisor(t, "serve", time.Second)
	res, err := s.Search(context.Background(), Request{Name: "Nobody", Symbol: "NONE", Retries: 2}, 20*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusNoMatch, res.Status)
	assert.Nil(t, res.Candidate)
}

func TestSupervisor_TimeoutEscalatesToKill(t *testing.T) {
	defer goleak.VerifyNone(t)

	pidFile := filepath.Join(t.TempDir(), "pid")
	grace := 300 * time.Millisecond
	s := helperSupervisor(t, "hang", grace, "HELPER_PID_FILE="+pidFile)

	start := time.Now()
	_, err := s.Search(context.Background(), Request{Name: "Acme", Symbol: "ABC"}, 500*time.Millisecond)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.GreaterOrEqual(t, elapsed, 500*time.Millisecond+grace)
	assert.Less(t, elapsed, 10*time.Second)
	assertReaped(t, readPID(t, pidFile))
}

func TestSupervisor_TimeoutHonouredSigterm(t *testing.T) {
	defer goleak.VerifyNone(t)

	pidFile := filepath.Join(t.TempDir(), "pid")
	s := helperSupervisor(t, "sleep", 5*time.Second, "HELPER_PID_FILE="+pidFile)

	start := time.Now()
	_, err := s.Search(context.Background(), Request{Symbol: "ABC"}, 500*time.Millisecond)

	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Less(t, time.Since(start), 5*time.Second, "SIGTERM alone should have stopped the worker")
	assertReaped(t, readPID(t, pidFile))
}

func TestSupervisor_ContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := helperSupervisor(t, "sleep", time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := s.Search(ctx, Request{Symbol: "ABC"}, time.Minute)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, errors.Is(err, ErrTimeout))
}

func TestSupervisor_WorkerDiesWithoutResult(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := helperSupervisor(t, "silent", time.Second)
	_, err := s.Search(context.Background(), Request{Symbol: "ABC"}, 20*time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read result")
}

func TestSupervisor_StartFailure(t *testing.T) {
	s, err := NewSupervisor(WithCommand(filepath.Join(t.TempDir(), "missing-binary")))
	require.NoError(t, err)

	_, err = s.Search(context.Background(), Request{Symbol: "ABC"}, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker: start")
}

func TestNewSupervisor_DefaultsToSelf(t *testing.T) {
	s, err := NewSupervisor()
	require.NoError(t, err)
	self, err := os.Executable()
	require.NoError(t, err)
	assert.Equal(t, self, s.path)
	assert.Equal(t, []string{"search-worker"}, s.args)
	assert.Equal(t, DefaultGrace, s.grace)
}
