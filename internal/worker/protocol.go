// Package worker runs the browser-driven search in a separate OS process so
// a hung browser can be killed without taking the batch down with it.
package worker

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/profile-resolver/internal/model"
)

// Status is the outcome class reported by a worker.
type Status string

const (
	StatusSuccess Status = "success"
	StatusNoMatch Status = "no_match"
	StatusError   Status = "error"
)

// ErrTimeout is returned when the worker produces no result before the
// deadline. The worker process group has been killed and reaped by then.
var ErrTimeout = eris.New("worker: search timed out")

// Request is written as a single JSON document to the worker's stdin.
type Request struct {
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
	Retries int    `json:"retries"`
}

// Result is written as a single JSON document to the worker's stdout.
type Result struct {
	Status    Status           `json:"status"`
	Candidate *model.Candidate `json:"candidate,omitempty"`
	Message   string           `json:"message,omitempty"`
}

func errorResult(err error) Result {
	return Result{Status: StatusError, Message: err.Error()}
}
