// Package scheduler consumes closed batches and settles each intent on a
// distinct wallet in parallel. Per chain, batches are processed strictly one
// at a time; within a batch, sibling failures never cancel each other.
package scheduler

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/privacybox/relayer/relayer/execution"
	"github.com/privacybox/relayer/relayer/types"
	"github.com/privacybox/relayer/relayer/wallet"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "scheduler")

// Sender settles one intent from one wallet slot. Satisfied by
// *execution.Executor.
type Sender interface {
	Send(ctx context.Context, intent types.TransferIntent, slot *wallet.Slot) execution.Result
}

// Config wires the scheduler.
type Config struct {
	// Batches is the batch queue's delivery channel.
	Batches <-chan types.Batch
	Pool    *wallet.Pool
	Senders map[types.ChainID]Sender
	// DeadLetter parks intents whose settlement failed.
	DeadLetter func(types.TransferIntent)
	// Requeue returns overflow intents to their chain's batch queue tail.
	Requeue func(types.TransferIntent)
	// OnSettled is invoked once per completed intent, after the store
	// update, with success or failure. Used for throughput metrics.
	OnSettled func(chain types.ChainID, ok bool)
}

type chainWorker struct {
	mu      sync.Mutex
	cond    *sync.Cond
	backlog []types.Batch
}

// Scheduler runs one serial worker per chain.
type Scheduler struct {
	cfg      Config
	ctx      context.Context
	cancel   context.CancelFunc
	workers  map[types.ChainID]*chainWorker
	draining bool
	wg       sync.WaitGroup
	mu       sync.Mutex
}

// New builds the scheduler. Start must be called to begin consuming.
func New(ctx context.Context, cfg Config) *Scheduler {
	ctx, cancel := context.WithCancel(ctx)
	s := &Scheduler{
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		workers: make(map[types.ChainID]*chainWorker),
	}
	for chain := range cfg.Senders {
		w := &chainWorker{}
		w.cond = sync.NewCond(&w.mu)
		s.workers[chain] = w
	}
	return s
}

// Start launches the demultiplexer and one worker per chain.
func (s *Scheduler) Start() {
	for chain, w := range s.workers {
		s.wg.Add(1)
		go s.runWorker(chain, w)
	}
	s.wg.Add(1)
	go s.demux()
}

// Stop drains the backlog and waits for in-flight batches to finish. The
// batch queue must be closed first so the demultiplexer terminates.
func (s *Scheduler) Stop() error {
	s.setDraining()
	s.wg.Wait()
	s.cancel()
	return nil
}

// Status always reports healthy; batch failures surface per intent.
func (s *Scheduler) Status() error {
	return nil
}

func (s *Scheduler) demux() {
	defer s.wg.Done()
	for batch := range s.cfg.Batches {
		w, ok := s.workers[batch.ChainID]
		if !ok {
			log.WithField("batchId", batch.BatchID).Error("No executor for batch chain, dropping")
			continue
		}
		w.mu.Lock()
		w.backlog = append(w.backlog, batch)
		w.cond.Signal()
		w.mu.Unlock()
	}
	// Upstream closed: tell every worker to finish its backlog and exit.
	s.setDraining()
}

// setDraining flips the drain flag and wakes every worker. The broadcast
// happens under the worker lock so a worker between its drain check and its
// cond.Wait cannot miss the wakeup.
func (s *Scheduler) setDraining() {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()
	for _, w := range s.workers {
		w.mu.Lock()
		w.cond.Broadcast()
		w.mu.Unlock()
	}
}

// runWorker processes the chain's batches strictly one at a time, so a chain
// never has two concurrent batch executions.
func (s *Scheduler) runWorker(chain types.ChainID, w *chainWorker) {
	defer s.wg.Done()
	for {
		w.mu.Lock()
		for len(w.backlog) == 0 {
			s.mu.Lock()
			draining := s.draining
			s.mu.Unlock()
			if draining {
				w.mu.Unlock()
				return
			}
			w.cond.Wait()
		}
		batch := w.backlog[0]
		w.backlog = w.backlog[1:]
		w.mu.Unlock()
		s.process(chain, batch)
	}
}

// process assigns the batch's intents to distinct wallets and dispatches
// them concurrently, collecting every result before reporting any failure.
func (s *Scheduler) process(chain types.ChainID, batch types.Batch) {
	sender := s.cfg.Senders[chain]
	log.WithFields(map[string]interface{}{
		"batchId": batch.BatchID,
		"size":    len(batch.Intents),
	}).Info("Processing batch")

	fee := s.batchFee(chain)
	assigned := make([]*wallet.Slot, len(batch.Intents))
	used := make(map[common.Address]bool)
	var overflow []types.TransferIntent
	for i, intent := range batch.Intents {
		amount, err := types.ParseAmount(intent.Amount)
		if err != nil {
			// Cannot happen for intents that passed ingress validation.
			log.WithError(err).WithField("requestId", intent.RequestID).Error("Skipping unparseable intent")
			continue
		}
		slot, err := s.cfg.Pool.Select(chain, amount, fee, used)
		if err != nil {
			if len(used) == 0 {
				// Even with every wallet available none was eligible, so
				// re-queueing would spin forever. Park the intent instead;
				// the dead letter queue's retry cap bounds the loop.
				log.WithError(err).WithFields(map[string]interface{}{
					"requestId": intent.RequestID,
					"chainId":   chain,
				}).Warn("No eligible wallet, parking intent")
				s.cfg.DeadLetter(intent)
				continue
			}
			// No distinct wallet left for this intent; it re-queues as a
			// tail of the same chain, preserving overflow order.
			overflow = append(overflow, intent)
			continue
		}
		used[slot.Address()] = true
		assigned[i] = slot
	}

	results := make([]execution.Result, len(batch.Intents))
	var wg sync.WaitGroup
	for i := range batch.Intents {
		if assigned[i] == nil {
			continue
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = sender.Send(s.ctx, batch.Intents[i], assigned[i])
		}(i)
	}
	wg.Wait()

	// Reconcile every lane with the chain after the batch settles.
	s.cfg.Pool.RefreshNonces(s.ctx, chain)

	for i := range batch.Intents {
		if assigned[i] == nil {
			continue
		}
		if results[i].Err != nil {
			if s.cfg.OnSettled != nil {
				s.cfg.OnSettled(chain, false)
			}
			s.cfg.DeadLetter(results[i].Intent)
			continue
		}
		if s.cfg.OnSettled != nil {
			s.cfg.OnSettled(chain, true)
		}
	}
	for _, intent := range overflow {
		s.cfg.Requeue(intent)
	}
}

// batchFee is the fee quote used for wallet eligibility checks. Any slot's
// gas manager serves; they share the chain's client.
func (s *Scheduler) batchFee(chain types.ChainID) wallet.FeeParams {
	slots := s.cfg.Pool.Slots(chain)
	if len(slots) == 0 {
		return wallet.FeeParams{}
	}
	fee, err := slots[0].Gas().Suggest(s.ctx)
	if err != nil {
		log.WithError(err).Warn("Could not price batch, using zero fee for eligibility")
		return wallet.FeeParams{}
	}
	return fee
}
