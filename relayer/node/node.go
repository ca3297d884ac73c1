// Package node assembles the relayer: persistent store, Aleo listener, batch
// queues, wallet pool, per-chain executors, scheduler, dead letter queue and
// the operational HTTP surface, all managed through a service registry. It
// handles the lifecycle of the entire system.
package node

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/privacybox/relayer/async"
	"github.com/privacybox/relayer/cmd/relayer/flags"
	"github.com/privacybox/relayer/relayer/aleo"
	"github.com/privacybox/relayer/relayer/api"
	"github.com/privacybox/relayer/relayer/batcher"
	"github.com/privacybox/relayer/relayer/db"
	"github.com/privacybox/relayer/relayer/deadletter"
	"github.com/privacybox/relayer/relayer/execution"
	"github.com/privacybox/relayer/relayer/metrics"
	"github.com/privacybox/relayer/relayer/scheduler"
	"github.com/privacybox/relayer/relayer/types"
	"github.com/privacybox/relayer/relayer/wallet"
	"github.com/privacybox/relayer/shared"
	"github.com/privacybox/relayer/shared/circuitbreaker"
	"github.com/privacybox/relayer/shared/params"
	"github.com/privacybox/relayer/shared/ratelimit"
)

var log = logrus.WithField("prefix", "node")

const (
	balanceRefreshInterval = 60 * time.Second
	statusLogInterval      = 30 * time.Second
)

// RelayerNode owns the lifecycle of the whole relayer process and registers
// every service into a registry so startup and shutdown follow a fixed order.
type RelayerNode struct {
	cliCtx   *cli.Context
	cfg      *params.Config
	lock     sync.RWMutex
	services *shared.ServiceRegistry
	stop     chan struct{} // Channel to wait for termination notifications.
	ctx      context.Context
	cancel   context.CancelFunc

	db         db.Database
	batchQueue *batcher.Queue
	pool       *wallet.Pool
	dlq        *deadletter.Queue
	registry   *metrics.Registry
}

// New creates a node instance, connects every external dependency and
// registers all services. Any error here is fatal to startup.
func New(cliCtx *cli.Context) (*RelayerNode, error) {
	cfg, err := buildConfig(cliCtx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	n := &RelayerNode{
		cliCtx:   cliCtx,
		cfg:      cfg,
		services: shared.NewServiceRegistry(),
		stop:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		registry: metrics.NewRegistry(),
	}
	if err := n.startDB(); err != nil {
		cancel()
		return nil, err
	}
	if err := n.registerServices(); err != nil {
		cancel()
		if closeErr := n.db.Close(); closeErr != nil {
			log.WithError(closeErr).Error("Failed to close database")
		}
		return nil, err
	}
	return n, nil
}

func (n *RelayerNode) startDB() error {
	store, err := db.NewDB(n.cfg.DBPath)
	if err != nil {
		return errors.Wrap(err, "could not open database")
	}
	if n.cliCtx.Bool(flags.ClearDBFlag.Name) {
		log.Warning("Removing all intent records")
		if err := store.Close(); err != nil {
			return errors.Wrap(err, "could not close database before clearing")
		}
		if err := store.ClearDB(); err != nil {
			return errors.Wrap(err, "could not clear database")
		}
		store, err = db.NewDB(n.cfg.DBPath)
		if err != nil {
			return errors.Wrap(err, "could not reopen database")
		}
	}
	log.WithField("path", store.DatabasePath()).Info("Opened transaction database")
	n.db = store
	return nil
}

// registerServices builds every component and registers the long-running ones
// in startup order: HTTP surface, dead letter queue, scheduler, batch queue,
// listener. StopAll runs the reverse, so the listener stops first and the
// batch queue flushes into the scheduler before the scheduler drains.
func (n *RelayerNode) registerServices() error {
	cfg := n.cfg

	// EVM clients. The same connection serves wallet reads and transaction
	// submission.
	endpoints := map[types.ChainID]string{
		types.Sepolia: cfg.SepoliaRPC,
		types.Amoy:    cfg.PolygonAmoyRPC,
	}
	walletClients := make(map[types.ChainID]wallet.Client)
	execClients := make(map[types.ChainID]execution.Client)
	for chain, endpoint := range endpoints {
		client, err := ethclient.Dial(endpoint)
		if err != nil {
			return errors.Wrapf(err, "could not connect to %s RPC", chain)
		}
		log.WithField("chainId", chain).Info("Connected to EVM RPC")
		walletClients[chain] = client
		execClients[chain] = client
	}

	pool, err := wallet.NewPool(cfg.PrivateKeys, walletClients, cfg.GasPriceMultiplier, cfg.GasUpdateInterval, cfg.MaxBatchSize)
	if err != nil {
		return err
	}
	initCtx, cancel := context.WithTimeout(n.ctx, 30*time.Second)
	defer cancel()
	if err := pool.Init(initCtx); err != nil {
		return errors.Wrap(err, "could not initialize wallet pool")
	}
	n.pool = pool

	n.batchQueue = batcher.New(cfg.MaxBatchSize, cfg.MaxBatchWait, cfg.QueueHighWater)

	// enqueue is the single ingress into batching, shared by the listener,
	// the register endpoint, the recovery sweep and dead letter re-queues.
	enqueue := func(intent types.TransferIntent) {
		if err := n.batchQueue.Add(intent); err != nil {
			log.WithError(err).WithField("requestId", intent.RequestID).Error("Could not enqueue intent")
			return
		}
		n.registry.IntentArrived(intent.ChainID)
	}

	n.dlq = deadletter.New(deadletter.Config{
		Database:   n.db,
		Requeue:    enqueue,
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.RetryDelay,
	})

	senders := make(map[types.ChainID]scheduler.Sender)
	for chain, client := range execClients {
		senders[chain] = execution.NewExecutor(execution.Config{
			ChainID:        chain,
			Client:         client,
			Database:       n.db,
			Attempts:       cfg.ExecutorAttempts,
			Backoff:        cfg.ExecutorBackoff,
			ReceiptTimeout: cfg.ReceiptTimeout,
		})
	}
	sched := scheduler.New(n.ctx, scheduler.Config{
		Batches:    n.batchQueue.Out(),
		Pool:       pool,
		Senders:    senders,
		DeadLetter: n.dlq.Add,
		// Overflow intents rejoin the tail of their chain's queue without
		// counting as a new arrival.
		Requeue: func(intent types.TransferIntent) {
			if err := n.batchQueue.Add(intent); err != nil {
				log.WithError(err).WithField("requestId", intent.RequestID).Error("Could not re-queue overflow intent")
			}
		},
		OnSettled: n.registry.IntentSettled,
	})

	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		Window:           cfg.BreakerWindow,
		ResetTimeout:     cfg.BreakerResetTimeout,
	})
	listener, err := aleo.NewService(n.ctx, &aleo.ServiceConfig{
		Client:       aleo.NewClient(cfg.AleoRPC, cfg.AleoFallbackRPCs),
		Database:     n.db,
		Limiter:      ratelimit.NewLimiter(cfg.RateLimitRPS, cfg.RateLimitRPM),
		Breaker:      breaker,
		Sink:         aleo.Sink(enqueue),
		ProgramID:    cfg.AleoProgramID,
		IntentFunc:   cfg.AleoIntentFunc,
		PollInterval: cfg.PollInterval,
	})
	if err != nil {
		return err
	}

	balanceFloor, err := types.ParseAmount(cfg.MinWalletBalance)
	if err != nil {
		return errors.Wrap(err, "invalid --min-wallet-balance")
	}
	apiSvc := api.NewService(api.Config{
		Port:     cfg.HealthPort,
		Database: n.db,
		Registry: n.registry,
		Deps: metrics.Deps{
			QueueDepth:     n.batchQueue.Depth,
			DLQSize:        func(chain types.ChainID) int { return n.dlq.SizeByChain()[chain] },
			WalletCount:    func(chain types.ChainID) int { return len(pool.Slots(chain)) },
			WalletBalances: pool.Balances,
		},
		BreakerState:    breaker.State,
		Enqueue:         enqueue,
		MinBalance:      pool.MinBalance,
		BalanceFloor:    balanceFloor,
		DLQTotal:        n.dlq.Size,
		ServiceStatuses: n.services.Statuses,
		ShutdownGrace:   cfg.ShutdownGrace,
	})

	// Unsettled records from the previous run re-enter the pipeline before
	// the listener starts, so recovery work is ordered ahead of new intents.
	if err := n.recoverUnsettled(enqueue); err != nil {
		return err
	}

	for _, svc := range []shared.Service{
		apiSvc,
		n.dlq,
		sched,
		&batchService{queue: n.batchQueue},
		listener,
	} {
		if err := n.services.RegisterService(svc); err != nil {
			return err
		}
	}
	return nil
}

// recoverUnsettled re-enqueues every record the previous run left pending or
// in flight. In-flight records go through the executor again, which probes
// the recorded transaction hash before broadcasting anything new.
func (n *RelayerNode) recoverUnsettled(enqueue func(types.TransferIntent)) error {
	recovered := 0
	for _, status := range []types.Status{types.StatusPending, types.StatusInFlight} {
		records, err := n.db.ListByStatus(status, 0)
		if err != nil {
			return errors.Wrapf(err, "could not list %s records", status)
		}
		for _, record := range records {
			enqueue(record.Intent())
			recovered++
		}
	}
	if recovered > 0 {
		log.WithField("count", recovered).Info("Recovered unsettled intents from previous run")
	}
	return nil
}

// Start kicks off every registered service and blocks until interrupted.
func (n *RelayerNode) Start() {
	n.lock.Lock()
	n.services.StartAll()
	n.lock.Unlock()

	async.RunEvery(n.ctx, balanceRefreshInterval, func() {
		n.pool.RefreshBalances(n.ctx)
		for _, chain := range n.pool.Chains() {
			n.pool.RefreshNonces(n.ctx, chain)
		}
	})
	async.RunEvery(n.ctx, statusLogInterval, n.logStatus)

	stop := n.stop
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigc)
		<-sigc
		log.Info("Got interrupt, shutting down...")
		go n.Close()
		for i := 10; i > 0; i-- {
			<-sigc
			if i > 1 {
				log.WithField("times", i-1).Info("Already shutting down, interrupt more to panic")
			}
		}
		panic("Panic closing the relayer node")
	}()

	// Wait for stop channel to be closed.
	<-stop
}

// Close handles graceful shutdown: listener first, then batch flush, then
// the scheduler drain, the dead letter queue, the HTTP surface and finally
// the store.
func (n *RelayerNode) Close() {
	n.lock.Lock()
	defer n.lock.Unlock()

	log.Info("Stopping relayer node")
	n.services.StopAll()
	n.cancel()
	if err := n.db.Close(); err != nil {
		log.WithError(err).Error("Failed to close database")
	}
	close(n.stop)
}

func (n *RelayerNode) logStatus() {
	for _, chain := range n.pool.Chains() {
		log.WithFields(map[string]interface{}{
			"chainId":    chain,
			"queueDepth": n.batchQueue.Depth(chain),
			"dlqSize":    n.dlq.SizeByChain()[chain],
		}).Info("Relayer status")
	}
}

// batchService adapts the batch queue to the service registry so its flush
// and close run between the listener's stop and the scheduler's drain.
type batchService struct {
	queue *batcher.Queue
}

// Start is a no-op; the queue's dispatcher runs from construction.
func (b *batchService) Start() {}

// Stop flushes every partial batch and closes the delivery channel.
func (b *batchService) Stop() error {
	b.queue.Close()
	return nil
}

// Status always reports healthy.
func (b *batchService) Status() error {
	return nil
}
