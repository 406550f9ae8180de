package async

import (
	"context"
	"errors"
	"time"
)

var ErrQueueClosed = errors.New("queue is shutting down")

// Job is one document: its page images in order.
type Job struct {
	Name        string
	Images      []string
	Force       bool // bypass cached extractions
	SubmittedAt time.Time
	TraceID     string
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}

// Handler processes a single job. Errors are logged and counted by the pool.
type Handler func(ctx context.Context, job Job) error
