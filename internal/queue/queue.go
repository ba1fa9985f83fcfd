// Package queue carries delivery jobs from the gateway to the workers.
// Delivery is at-least-once: a pulled job that is never acked comes back.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/webhook-delivery/internal/model"
)

var ErrClosed = errors.New("queue closed")

type Queue interface {
	Enqueue(ctx context.Context, job model.Job) error
	// EnqueueAt makes job visible no earlier than at.
	EnqueueAt(ctx context.Context, job model.Job, at time.Time) error
	// Pull blocks until a job is ready or ctx is done.
	Pull(ctx context.Context) (*Delivery, error)
	// Run does background upkeep (promoting due jobs, reclaiming stale
	// ones) until ctx is done.
	Run(ctx context.Context) error
	Close() error
}

// Delivery is a pulled job. Ack removes it from the queue for good.
type Delivery struct {
	Job model.Job
	ack func(ctx context.Context) error
}

func (d *Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

func encode(job model.Job) ([]byte, error) {
	if !job.Valid() {
		return nil, fmt.Errorf("invalid job %+v", job)
	}
	return json.Marshal(job)
}

func decode(raw []byte) (model.Job, error) {
	var job model.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return model.Job{}, err
	}
	if !job.Valid() {
		return model.Job{}, fmt.Errorf("invalid job %s", raw)
	}
	return job, nil
}
