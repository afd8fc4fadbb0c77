package capability

import (
	"context"
	"sync"
	"time"
)

// ItemResult holds one batch item's outcome: either its value or the
// error the model returned for it.
type ItemResult[Out any] struct {
	value Out
	err   error
}

type request[In, Out any] struct {
	items []In
	reply chan []ItemResult[Out]
}

// Loader lazily constructs the concrete model instance on first use.
// Unloader releases it (dropping weights, closing a connection) when the
// handler decides to offload after an idle period.
type Loader[M any] func(ctx context.Context) (M, error)
type Unloader[M any] func(m M)

// BatchFunc runs a model against one already-loaded instance, applying it
// to every item in the batch and returning one result per item in order.
type BatchFunc[M, In, Out any] func(ctx context.Context, model M, items []In) []ItemResult[Out]

// BatchHandler is the single-owner async mailbox for one model: a worker
// goroutine receives (items, reply) requests, lazily loads the model on
// first request, batches up to MaxBatch items per model call, and
// releases the model after IdleUnload with no pending work.
type BatchHandler[M, In, Out any] struct {
	load     Loader[M]
	unload   Unloader[M]
	run      BatchFunc[M, In, Out]
	maxBatch int
	idle     time.Duration

	mailbox chan request[In, Out]
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewBatchHandler starts the worker goroutine and returns a handler ready
// to accept Process calls. maxBatch <= 0 means "no cap beyond what a
// single Process call submits" (current models in this engine only ever
// see batches of 1, per §4.5).
func NewBatchHandler[M, In, Out any](load Loader[M], unload Unloader[M], run BatchFunc[M, In, Out], maxBatch int, idle time.Duration) *BatchHandler[M, In, Out] {
	if idle <= 0 {
		idle = DefaultIdleUnload
	}
	h := &BatchHandler[M, In, Out]{
		load:     load,
		unload:   unload,
		run:      run,
		maxBatch: maxBatch,
		idle:     idle,
		mailbox:  make(chan request[In, Out], 64),
		done:     make(chan struct{}),
	}
	h.wg.Add(1)
	go h.loop()
	return h
}

// Process submits items as one batch (or several, if maxBatch splits it)
// and blocks until every item's result is ready or ctx is cancelled.
// Cancelling ctx makes Process return ctx.Err() without waiting for the
// result. A request already in the mailbox is not skipped: the worker
// still runs it, and its result is left unread in the reply channel.
func (h *BatchHandler[M, In, Out]) Process(ctx context.Context, items []In) ([]Out, error) {
	if len(items) == 0 {
		return nil, nil
	}

	out := make([]Out, 0, len(items))
	for start := 0; start < len(items); {
		end := len(items)
		if h.maxBatch > 0 && end-start > h.maxBatch {
			end = start + h.maxBatch
		}
		chunk := items[start:end]
		reply := make(chan []ItemResult[Out], 1)

		select {
		case h.mailbox <- request[In, Out]{items: chunk, reply: reply}:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-h.done:
			return nil, ErrHandlerClosed
		}

		select {
		case results := <-reply:
			for _, r := range results {
				if r.err != nil {
					return nil, r.err
				}
				out = append(out, r.value)
			}
		case <-ctx.Done():
			// The mailbox already has our request; the worker still runs
			// it, and trySend leaves the result in the buffered reply
			// channel that nobody reads any more.
			return nil, ctx.Err()
		}
		start = end
	}
	return out, nil
}

// ProcessSingle is the common case: one item in, one result out.
func (h *BatchHandler[M, In, Out]) ProcessSingle(ctx context.Context, item In) (Out, error) {
	var zero Out
	results, err := h.Process(ctx, []In{item})
	if err != nil {
		return zero, err
	}
	if len(results) == 0 {
		return zero, ErrNoResult
	}
	return results[0], nil
}

// Close drains the mailbox and releases the model if loaded.
func (h *BatchHandler[M, In, Out]) Close() {
	close(h.done)
	h.wg.Wait()
}

func (h *BatchHandler[M, In, Out]) loop() {
	defer h.wg.Done()

	var (
		model  M
		loaded bool
	)
	timer := time.NewTimer(h.idle)
	defer timer.Stop()
	stopTimer := func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}

	releaseIfLoaded := func() {
		if loaded {
			h.unload(model)
			var zero M
			model = zero
			loaded = false
		}
	}

	for {
		select {
		case req, ok := <-h.mailbox:
			if !ok {
				releaseIfLoaded()
				return
			}
			stopTimer()

			if !loaded {
				m, err := h.load(context.Background())
				if err != nil {
					results := make([]ItemResult[Out], len(req.items))
					for i := range results {
						results[i] = ItemResult[Out]{err: err}
					}
					trySend(req.reply, results)
					timer.Reset(h.idle)
					continue
				}
				model, loaded = m, true
			}

			results := h.run(context.Background(), model, req.items)
			trySend(req.reply, results)
			timer.Reset(h.idle)

		case <-timer.C:
			releaseIfLoaded()

		case <-h.done:
			// Drain whatever is already queued before releasing, per
			// §4.5's "shutdown message drains and releases the model".
			for {
				select {
				case req, ok := <-h.mailbox:
					if !ok {
						releaseIfLoaded()
						return
					}
					if !loaded {
						m, err := h.load(context.Background())
						if err != nil {
							results := make([]ItemResult[Out], len(req.items))
							for i := range results {
								results[i] = ItemResult[Out]{err: err}
							}
							trySend(req.reply, results)
							continue
						}
						model, loaded = m, true
					}
					results := h.run(context.Background(), model, req.items)
					trySend(req.reply, results)
				default:
					releaseIfLoaded()
					return
				}
			}
		}
	}
}

// trySend delivers results without blocking forever if the caller already
// gave up and nobody will ever read from reply.
func trySend[Out any](reply chan []ItemResult[Out], results []ItemResult[Out]) {
	select {
	case reply <- results:
	default:
	}
}

// Ok wraps a successful single-item batch result.
func Ok[Out any](v Out) ItemResult[Out] { return ItemResult[Out]{value: v} }

// Fail wraps a failed single-item batch result.
func Fail[Out any](err error) ItemResult[Out] { return ItemResult[Out]{err: err} }
