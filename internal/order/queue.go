package order

import (
	"context"

	"go.uber.org/zap"

	"github.com/mselser95/polymarket-bot/pkg/types"
)

// Queue is the bounded FIFO of pending signals. Exit signals live in their
// own reserved-capacity channel merged at dequeue with strict priority, so a
// burst of entries can never starve or drop an exit. Entry overflow drops the
// new signal; exit overflow is treated as a hard error because its capacity
// is sized far above anything the position manager can emit.
type Queue struct {
	entries chan *types.Signal
	exits   chan *types.Signal
	logger  *zap.Logger
}

// NewQueue creates a queue with the given entry capacity. A quarter of the
// capacity (minimum 16) is reserved for exits on top.
func NewQueue(capacity int, logger *zap.Logger) *Queue {
	if capacity <= 0 {
		capacity = 256
	}
	exitCap := capacity / 4
	if exitCap < 16 {
		exitCap = 16
	}
	return &Queue{
		entries: make(chan *types.Signal, capacity),
		exits:   make(chan *types.Signal, exitCap),
		logger:  logger,
	}
}

// Enqueue adds a signal. Entries are dropped (with an error) when the queue
// is full; exits always land unless the reserved lane itself is full.
func (q *Queue) Enqueue(sig *types.Signal) error {
	if sig.IsExit() {
		select {
		case q.exits <- sig:
			QueueDepth.WithLabelValues("exit").Set(float64(len(q.exits)))
			return nil
		default:
			QueueDroppedTotal.WithLabelValues("exit").Inc()
			return types.ErrQueueFull
		}
	}

	select {
	case q.entries <- sig:
		QueueDepth.WithLabelValues("entry").Set(float64(len(q.entries)))
		return nil
	default:
		QueueDroppedTotal.WithLabelValues("entry").Inc()
		q.logger.Warn("signal-queue-full-dropping-entry",
			zap.String("signal-id", sig.ID),
			zap.String("strategy", sig.Strategy))
		return types.ErrQueueFull
	}
}

// Dequeue blocks until a signal is available, always preferring exits.
func (q *Queue) Dequeue(ctx context.Context) (*types.Signal, error) {
	// Fast path: a waiting exit wins immediately.
	select {
	case sig := <-q.exits:
		QueueDepth.WithLabelValues("exit").Set(float64(len(q.exits)))
		return sig, nil
	default:
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case sig := <-q.exits:
		QueueDepth.WithLabelValues("exit").Set(float64(len(q.exits)))
		return sig, nil
	case sig := <-q.entries:
		// An exit that raced in still wins over this entry.
		select {
		case exit := <-q.exits:
			// Put the entry back if there is room; drop it otherwise.
			select {
			case q.entries <- sig:
			default:
				QueueDroppedTotal.WithLabelValues("entry").Inc()
			}
			QueueDepth.WithLabelValues("exit").Set(float64(len(q.exits)))
			return exit, nil
		default:
		}
		QueueDepth.WithLabelValues("entry").Set(float64(len(q.entries)))
		return sig, nil
	}
}

// DrainEntries discards every pending entry signal and reports how many were
// removed. Exits are preserved. Used by the kill switch.
func (q *Queue) DrainEntries() int {
	drained := 0
	for {
		select {
		case sig := <-q.entries:
			drained++
			q.logger.Info("signal-drained",
				zap.String("signal-id", sig.ID),
				zap.String("strategy", sig.Strategy))
		default:
			QueueDepth.WithLabelValues("entry").Set(0)
			return drained
		}
	}
}

// Len returns pending counts (entries, exits).
func (q *Queue) Len() (entries, exits int) {
	return len(q.entries), len(q.exits)
}
