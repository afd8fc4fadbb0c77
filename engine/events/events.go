// Package events broadcasts task lifecycle events over NATS and drives the
// in-process retry that engine/executor deliberately leaves to its caller
// for domain.ErrModelTransient failures. It adapts engine/ingest/ingest.go's
// StartConsumer retry-count-header + DLQ-publish pattern from NATS message
// redelivery to direct retry of an in-process Run call, publishing to the
// DLQ subject only once MaxRetries is exhausted.
package events

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/lumenforge/contentbase/engine/domain"
	"github.com/lumenforge/contentbase/engine/executor"
	"github.com/lumenforge/contentbase/pkg/natsutil"
)

const (
	// Subject carries every task lifecycle event.
	Subject = "engine.task.events"
	// DLQSubject carries events for tasks that exhausted their retries.
	DLQSubject = "engine.task.events.dlq"
	// MaxRetries before a transient failure is surfaced to the DLQ
	// instead of retried again, matching engine/ingest's MaxRetries.
	MaxRetries = 3
)

type Kind string

const (
	KindStarted   Kind = "started"
	KindSucceeded Kind = "succeeded"
	KindFailed    Kind = "failed"
	KindCancelled Kind = "cancelled"
)

// Event is the JSON payload published to Subject for every Run call.
type Event struct {
	FileIdentifier string `json:"fileIdentifier"`
	TaskType       string `json:"taskType"`
	Kind           Kind   `json:"kind"`
	Err            string `json:"err,omitempty"`
	Retries        int    `json:"retries,omitempty"`
}

// DLQEntry is published to DLQSubject once a transient failure exhausts
// MaxRetries, mirroring engine/ingest's dlqMessage shape.
type DLQEntry struct {
	Event  Event  `json:"event"`
	Reason string `json:"reason"`
}

// Runner is the slice of *executor.Executor that Broadcaster needs,
// narrowed so tests can fake transient-failure sequences without an
// artifact store or task registry behind them.
type Runner interface {
	Run(ctx context.Context, tt domain.TaskType, file domain.FileInfo) (executor.Result, error)
}

// Broadcaster wraps a Runner, publishing a lifecycle event for every call
// and retrying domain.ErrModelTransient failures in-process before giving
// up. A nil NC makes every publish a no-op, so a Broadcaster can be used
// purely for its retry behavior when no NATS connection is configured.
type Broadcaster struct {
	Runner Runner
	NC     *nats.Conn
	Log    *slog.Logger
}

func New(runner Runner, nc *nats.Conn, log *slog.Logger) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{Runner: runner, NC: nc, Log: log}
}

// Run executes tt for file, broadcasting start/terminal events. On
// domain.ErrModelTransient it tries again, making at most MaxRetries
// attempts in total, before publishing the failure to the DLQ and
// returning it to the caller.
func (b *Broadcaster) Run(ctx context.Context, tt domain.TaskType, file domain.FileInfo) (executor.Result, error) {
	b.publish(ctx, Event{FileIdentifier: file.FileIdentifier.String(), TaskType: tt.String(), Kind: KindStarted})

	var (
		res     executor.Result
		err     error
		retries int
	)
	for {
		res, err = b.Runner.Run(ctx, tt, file)
		if err == nil || !errors.Is(err, domain.ErrModelTransient) {
			break
		}
		retries++
		if retries >= MaxRetries {
			break
		}
		b.Log.Warn("events: retrying transient failure",
			"task_type", tt.String(), "file_identifier", file.FileIdentifier.String(),
			"retry", retries, "err", err)
	}

	ev := Event{FileIdentifier: file.FileIdentifier.String(), TaskType: tt.String(), Retries: retries}
	switch {
	case err == nil:
		ev.Kind = KindSucceeded
	case errors.Is(err, domain.ErrCancelled):
		ev.Kind = KindCancelled
	default:
		ev.Kind = KindFailed
		ev.Err = err.Error()
	}
	b.publish(ctx, ev)

	if ev.Kind == KindFailed && errors.Is(err, domain.ErrModelTransient) && retries >= MaxRetries {
		b.publishDLQ(ctx, ev, "max retries exceeded")
	}

	return res, err
}

func (b *Broadcaster) publish(ctx context.Context, ev Event) {
	if b.NC == nil {
		return
	}
	if err := natsutil.Publish(ctx, b.NC, Subject, ev); err != nil {
		b.Log.Warn("events: publish failed", "err", err)
	}
}

func (b *Broadcaster) publishDLQ(ctx context.Context, ev Event, reason string) {
	if b.NC == nil {
		return
	}
	if err := natsutil.Publish(ctx, b.NC, DLQSubject, DLQEntry{Event: ev, Reason: reason}); err != nil {
		b.Log.Error("events: DLQ publish failed", "err", err)
	}
}

// Subscribe registers handler for every lifecycle event on Subject, e.g.
// to drive a metrics sink or feed engine/ops.
func Subscribe(nc *nats.Conn, handler func(context.Context, Event)) (*nats.Subscription, error) {
	return natsutil.Subscribe(nc, Subject, handler)
}

// SubscribeDLQ registers handler for every DLQ entry on DLQSubject.
func SubscribeDLQ(nc *nats.Conn, handler func(context.Context, DLQEntry)) (*nats.Subscription, error) {
	return natsutil.Subscribe(nc, DLQSubject, handler)
}
