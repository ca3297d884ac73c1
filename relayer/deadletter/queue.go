// Package deadletter parks intents whose settlement failed and re-queues
// them after an exponential backoff. It is a timer-priority set, not a FIFO:
// re-queue order follows nextAttemptAt, not arrival order.
package deadletter

import (
	"container/heap"
	"sync"
	"time"

	"github.com/privacybox/relayer/relayer/db/iface"
	"github.com/privacybox/relayer/relayer/types"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "deadletter")

// Requeue re-inserts an intent into its chain's batch queue. The node wires
// it to the same enqueue path the listener uses.
type Requeue func(types.TransferIntent)

// Config tunes the queue.
type Config struct {
	Database   iface.Database
	Requeue    Requeue
	MaxRetries int
	// BaseDelay is the backoff base: an intent with retryCount r waits
	// BaseDelay * 2^r before its next attempt.
	BaseDelay time.Duration
}

type entry struct {
	intent        types.TransferIntent
	nextAttemptAt time.Time
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].nextAttemptAt.Before(h[j].nextAttemptAt) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x interface{}) { *h = append(*h, x.(*entry)) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	out := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return out
}

// Queue is the dead letter queue plus its background worker.
type Queue struct {
	cfg Config

	mu      sync.Mutex
	entries entryHeap
	wake    chan struct{}
	quit    chan struct{}
	done    chan struct{}
}

// New builds the queue. Start must be called to run the worker.
func New(cfg Config) *Queue {
	q := &Queue{
		cfg:  cfg,
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	heap.Init(&q.entries)
	return q
}

// Start runs the worker goroutine.
func (q *Queue) Start() {
	go q.run()
}

// Stop terminates the worker. Parked intents stay failed in the store and
// are recovered by the next start's sweep.
func (q *Queue) Stop() error {
	close(q.quit)
	<-q.done
	return nil
}

// Status always reports healthy; the queue has no external dependency that
// can fail while parked.
func (q *Queue) Status() error {
	return nil
}

// Add parks an intent after a final executor failure, bumping its retry
// count. Once the count reaches the cap the intent is marked permanently
// failed instead.
func (q *Queue) Add(intent types.TransferIntent) {
	intent.RetryCount++
	if intent.RetryCount >= q.cfg.MaxRetries {
		log.WithFields(map[string]interface{}{
			"requestId":  intent.RequestID,
			"retryCount": intent.RetryCount,
		}).Error("Retry cap reached, marking permanently failed")
		if err := q.cfg.Database.UpdateStatus(intent.RequestID, types.StatusPermanentlyFailed, iface.Meta{
			RetryCount: intent.RetryCount,
		}); err != nil {
			log.WithError(err).WithField("requestId", intent.RequestID).Error("Could not mark permanently failed")
		}
		return
	}
	// First park waits the base delay, doubling on each later park.
	delay := q.cfg.BaseDelay << uint(intent.RetryCount-1)
	e := &entry{intent: intent, nextAttemptAt: time.Now().Add(delay)}
	q.mu.Lock()
	heap.Push(&q.entries, e)
	q.mu.Unlock()
	log.WithFields(map[string]interface{}{
		"requestId":  intent.RequestID,
		"retryCount": intent.RetryCount,
		"retryIn":    delay,
	}).Warn("Parked intent for retry")
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Size returns the number of parked intents.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// SizeByChain returns the number of parked intents per chain.
func (q *Queue) SizeByChain() map[types.ChainID]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[types.ChainID]int)
	for _, e := range q.entries {
		out[e.intent.ChainID]++
	}
	return out
}

// run wakes on the earliest nextAttemptAt, or on a new entry, and re-queues
// every due intent.
func (q *Queue) run() {
	defer close(q.done)
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		q.mu.Lock()
		var wait time.Duration
		if len(q.entries) == 0 {
			wait = time.Hour
		} else {
			wait = time.Until(q.entries[0].nextAttemptAt)
		}
		q.mu.Unlock()
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)
		select {
		case <-q.quit:
			return
		case <-q.wake:
		case <-timer.C:
			q.requeueDue()
		}
	}
}

func (q *Queue) requeueDue() {
	now := time.Now()
	var due []*entry
	q.mu.Lock()
	for len(q.entries) > 0 && !q.entries[0].nextAttemptAt.After(now) {
		due = append(due, heap.Pop(&q.entries).(*entry))
	}
	q.mu.Unlock()
	for _, e := range due {
		log.WithFields(map[string]interface{}{
			"requestId":  e.intent.RequestID,
			"retryCount": e.intent.RetryCount,
		}).Info("Re-queueing parked intent")
		q.cfg.Requeue(e.intent)
	}
}
