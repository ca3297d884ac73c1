package aleo

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/privacybox/relayer/relayer/db/iface"
	"github.com/privacybox/relayer/relayer/types"
	"github.com/privacybox/relayer/shared/circuitbreaker"
	"github.com/privacybox/relayer/shared/ratelimit"
)

// recentIDsSize bounds the in-memory dedup cache in front of the database.
const recentIDsSize = 1024

// Sink receives every newly extracted intent after it has been persisted as
// pending. The node wires it to the batch queue.
type Sink func(types.TransferIntent)

// ServiceConfig holds the listener's dependencies and tunables.
type ServiceConfig struct {
	Client       *Client
	Database     iface.Database
	Limiter      *ratelimit.Limiter
	Breaker      *circuitbreaker.Breaker
	Sink         Sink
	ProgramID    string
	IntentFunc   string
	PollInterval time.Duration
}

// Service polls the Aleo chain and emits deduplicated transfer intents to
// its sink, forever. lastHeight only advances after a fully successful scan,
// so blocks missed during an outage or an open breaker are rescanned on
// recovery.
type Service struct {
	cfg        *ServiceConfig
	ctx        context.Context
	cancel     context.CancelFunc
	recentIDs  *lru.Cache
	lastHeight uint64
	runError   error
}

// NewService builds the listener. Start must be called to begin polling.
func NewService(ctx context.Context, cfg *ServiceConfig) (*Service, error) {
	cache, err := lru.New(recentIDsSize)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Service{
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		recentIDs: cache,
	}, nil
}

// Start begins the polling loop in a goroutine.
func (s *Service) Start() {
	log.WithFields(map[string]interface{}{
		"programId":    s.cfg.ProgramID,
		"pollInterval": s.cfg.PollInterval,
	}).Info("Starting Aleo listener")
	go s.run()
}

// Stop cancels the polling loop.
func (s *Service) Stop() error {
	s.cancel()
	return nil
}

// Status reports the last poll failure, if the most recent tick failed.
func (s *Service) Status() error {
	return s.runError
}

func (s *Service) run() {
	// Initialize from the chain tip so historical blocks are not replayed;
	// unsettled work is recovered from the store by the node instead.
	for s.lastHeight == 0 {
		height, err := s.latestHeight()
		if err == nil {
			s.lastHeight = height
			log.WithField("height", height).Info("Listener starting from chain tip")
			break
		}
		log.WithError(err).Warn("Could not fetch initial block height, retrying")
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(s.cfg.PollInterval):
		}
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			log.Info("Aleo listener stopped")
			return
		case <-ticker.C:
			if err := s.poll(); err != nil {
				s.runError = err
				pollFailures.Inc()
				if !errors.Is(err, circuitbreaker.ErrOpen) {
					log.WithError(err).Warn("Poll tick failed")
				}
				continue
			}
			s.runError = nil
		}
	}
}

// poll scans every block between lastHeight (exclusive) and the current tip,
// advancing lastHeight only when the whole range scanned cleanly.
func (s *Service) poll() error {
	heightNow, err := s.latestHeight()
	if err != nil {
		return err
	}
	if heightNow <= s.lastHeight {
		return nil
	}
	for h := s.lastHeight + 1; h <= heightNow; h++ {
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()
		default:
		}
		txs, err := s.blockTransactions(h)
		if err != nil {
			return errors.Wrapf(err, "block %d", h)
		}
		blocksScanned.Inc()
		s.scanBlock(h, txs)
	}
	s.lastHeight = heightNow
	return nil
}

func (s *Service) scanBlock(height uint64, txs []Transaction) {
	for _, tx := range txs {
		for i, transition := range tx.Execution.Transitions {
			if transition.Program != s.cfg.ProgramID || transition.Function != s.cfg.IntentFunc {
				continue
			}
			intent, ok := ExtractIntent(tx.ID, transition, height, i)
			if !ok {
				continue
			}
			s.emit(intent)
		}
	}
}

// emit persists the intent as pending and hands it to the sink, unless its
// request id was already seen.
func (s *Service) emit(intent types.TransferIntent) {
	if _, seen := s.recentIDs.Get(intent.RequestID); seen {
		duplicatesSkipped.Inc()
		return
	}
	processed, err := s.cfg.Database.IsProcessed(intent.RequestID)
	if err != nil {
		// Without dedup we cannot safely enqueue; the block will be
		// rescanned because lastHeight has not advanced.
		log.WithError(err).WithField("requestId", intent.RequestID).Error("Store lookup failed, holding intent")
		return
	}
	if processed {
		duplicatesSkipped.Inc()
		s.recentIDs.Add(intent.RequestID, struct{}{})
		return
	}
	if err := s.cfg.Database.MarkPending(types.NewPendingRecord(intent)); err != nil {
		log.WithError(err).WithField("requestId", intent.RequestID).Error("Could not persist pending record")
		return
	}
	s.recentIDs.Add(intent.RequestID, struct{}{})
	intentsExtracted.Inc()
	log.WithFields(map[string]interface{}{
		"requestId": intent.RequestID,
		"chainId":   intent.ChainID,
		"amount":    intent.Amount,
		"recipient": intent.Recipient,
	}).Info("Extracted transfer intent")
	s.cfg.Sink(intent)
}

// latestHeight is the rate-limited, breaker-guarded tip lookup.
func (s *Service) latestHeight() (uint64, error) {
	var height uint64
	err := s.cfg.Breaker.Execute(s.ctx, func(ctx context.Context) error {
		if err := s.cfg.Limiter.Acquire(ctx); err != nil {
			return err
		}
		var err error
		height, err = s.cfg.Client.LatestHeight(ctx)
		return err
	})
	return height, err
}

func (s *Service) blockTransactions(height uint64) ([]Transaction, error) {
	var txs []Transaction
	err := s.cfg.Breaker.Execute(s.ctx, func(ctx context.Context) error {
		if err := s.cfg.Limiter.Acquire(ctx); err != nil {
			return err
		}
		var err error
		txs, err = s.cfg.Client.BlockTransactions(ctx, height)
		return err
	})
	return txs, err
}
