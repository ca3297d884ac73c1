// Package batcher groups incoming transfer intents into per-chain batches,
// flushed when a batch reaches the size cap or when the oldest queued intent
// has waited long enough. Closed batches are delivered in close order on a
// channel; producers never block on consumers.
package batcher

import (
	"fmt"
	"sync"
	"time"

	"github.com/privacybox/relayer/relayer/types"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "batcher")

// Queue is the per-chain batch queue.
type Queue struct {
	maxSize   int
	maxWait   time.Duration
	highWater int

	mu     sync.Mutex
	cond   *sync.Cond
	chains map[types.ChainID]*chainQueue
	seq    map[types.ChainID]uint64
	// ready holds closed batches in close order until the dispatcher hands
	// them to the out channel. It decouples Add from slow consumers.
	ready  []types.Batch
	closed bool
	// waiting counts accepted intents not yet delivered to the consumer,
	// including those sitting in closed-but-undelivered batches. Crossing
	// highWater logs a degraded signal; nothing is ever dropped.
	waiting map[types.ChainID]int

	out  chan types.Batch
	done chan struct{}
}

type chainQueue struct {
	intents  []types.TransferIntent
	openedAt time.Time
	timer    *time.Timer
}

// New builds a queue and starts its dispatcher goroutine. A highWater of 0
// disables the depth warning.
func New(maxSize int, maxWait time.Duration, highWater int) *Queue {
	q := &Queue{
		maxSize:   maxSize,
		maxWait:   maxWait,
		highWater: highWater,
		chains:    make(map[types.ChainID]*chainQueue),
		seq:       make(map[types.ChainID]uint64),
		waiting:   make(map[types.ChainID]int),
		out:       make(chan types.Batch),
		done:      make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.dispatch()
	return q
}

// Out is the channel closed batches are delivered on, in close order.
func (q *Queue) Out() <-chan types.Batch {
	return q.out
}

// Add validates and enqueues an intent for its chain. Invalid intents are
// logged and dropped; they are never stored. Reaching the size cap closes
// the batch immediately.
func (q *Queue) Add(intent types.TransferIntent) error {
	if err := intent.Validate(); err != nil {
		log.WithError(err).WithField("requestId", intent.RequestID).Warn("Rejecting invalid intent")
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errQueueClosed
	}
	cq, ok := q.chains[intent.ChainID]
	if !ok {
		cq = &chainQueue{}
		q.chains[intent.ChainID] = cq
	}
	if len(cq.intents) == 0 {
		cq.openedAt = time.Now()
		// The timer runs from the first-enqueued intent's arrival, not
		// from the latest Add.
		chain := intent.ChainID
		cq.timer = time.AfterFunc(q.maxWait, func() { q.flushTimer(chain) })
	}
	cq.intents = append(cq.intents, intent)
	q.waiting[intent.ChainID]++
	if q.highWater > 0 && q.waiting[intent.ChainID] >= q.highWater {
		log.WithFields(map[string]interface{}{
			"chainId":   intent.ChainID,
			"depth":     q.waiting[intent.ChainID],
			"highWater": q.highWater,
		}).Warn("Queue depth crossed high-water mark")
	}
	if len(cq.intents) >= q.maxSize {
		q.closeBatchLocked(intent.ChainID)
	}
	return nil
}

var errQueueClosed = fmt.Errorf("batch queue is closed")

// Depth returns the number of intents currently queued for a chain.
func (q *Queue) Depth(chain types.ChainID) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	cq, ok := q.chains[chain]
	if !ok {
		return 0
	}
	return len(cq.intents)
}

// FlushAll closes every non-empty per-chain batch immediately.
func (q *Queue) FlushAll() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for chain := range q.chains {
		q.closeBatchLocked(chain)
	}
}

// Close flushes remaining intents and stops the dispatcher once the ready
// backlog has drained.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	for chain := range q.chains {
		q.closeBatchLocked(chain)
	}
	q.closed = true
	q.cond.Signal()
	q.mu.Unlock()
	<-q.done
}

func (q *Queue) flushTimer(chain types.ChainID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closeBatchLocked(chain)
}

// closeBatchLocked drains the chain's queue into a closed batch and appends
// it to the ready backlog. A simultaneous size-and-time trigger resolves to
// exactly one flush because the first closer empties the queue.
func (q *Queue) closeBatchLocked(chain types.ChainID) {
	cq, ok := q.chains[chain]
	if !ok || len(cq.intents) == 0 {
		return
	}
	if cq.timer != nil {
		cq.timer.Stop()
		cq.timer = nil
	}
	q.seq[chain]++
	batch := types.Batch{
		BatchID:  fmt.Sprintf("%s-%d", chain, q.seq[chain]),
		ChainID:  chain,
		Intents:  cq.intents,
		OpenedAt: cq.openedAt,
	}
	cq.intents = nil
	q.ready = append(q.ready, batch)
	q.cond.Signal()
	log.WithFields(map[string]interface{}{
		"batchId": batch.BatchID,
		"size":    len(batch.Intents),
	}).Debug("Closed batch")
}

// dispatch delivers ready batches to the out channel in close order.
func (q *Queue) dispatch() {
	defer close(q.done)
	defer close(q.out)
	for {
		q.mu.Lock()
		for len(q.ready) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.ready) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		batch := q.ready[0]
		q.ready = q.ready[1:]
		q.mu.Unlock()
		q.out <- batch
		q.mu.Lock()
		q.waiting[batch.ChainID] -= len(batch.Intents)
		q.mu.Unlock()
	}
}
