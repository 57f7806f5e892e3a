// Package relayer wires the Relayer process together: one Chain Client and
// Chain Watcher per configured chain, a Relayer Processor per chain routing
// deposits to whichever configured chain each event names as its target, a
// reconciliation loop, and the Query Surface HTTP server (spec §12, §13).
// It is grounded on the teacher's cmd/relayer/main.go bootstrap (chi router,
// health/ready/metrics/api routes, signal-driven graceful shutdown).
package relayer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bridgeworks/evm-bridge/pkg/app/httpserver"
	"github.com/bridgeworks/evm-bridge/pkg/chain"
	"github.com/bridgeworks/evm-bridge/pkg/config"
	"github.com/bridgeworks/evm-bridge/pkg/humanize"
	"github.com/bridgeworks/evm-bridge/pkg/reconcile"
	"github.com/bridgeworks/evm-bridge/pkg/relayerproc"
	"github.com/bridgeworks/evm-bridge/pkg/signer"
	"github.com/bridgeworks/evm-bridge/pkg/store/relayerstore"
	"github.com/bridgeworks/evm-bridge/pkg/watcher"
)

// Server runs the Relayer process end to end.
type Server struct {
	cfg    *config.RelayerConfig
	logger *zap.Logger
}

// New constructs a Server from loaded configuration and a ready logger.
func New(cfg *config.RelayerConfig, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, logger: logger}
}

// Run connects the store and every configured chain, builds the per-chain
// Processors with a shared cross-chain target map, starts one Watcher per
// chain plus the reconciliation loop, and serves the Query Surface until ctx
// is cancelled.
func (s *Server) Run(ctx context.Context) error {
	store, err := relayerstore.New(&s.cfg.Database)
	if err != nil {
		return fmt.Errorf("relayer: connect store: %w", err)
	}
	defer store.Close()
	s.logger.Info("connected to database", zap.String("database", s.cfg.Database.Database))

	sgn, err := signer.New(s.cfg.ValidatorPrivateKey)
	if err != nil {
		return fmt.Errorf("relayer: load validator key: %w", err)
	}

	// The relayer's own funded EOA submits withdraw transactions; in the
	// single-validator development deployment (spec §9) it shares key
	// material with the validator signing key.
	relayerKey, err := crypto.HexToECDSA(s.cfg.ValidatorPrivateKey)
	if err != nil {
		return fmt.Errorf("relayer: load submission key: %w", err)
	}

	var clients []*chain.Client
	defer func() {
		for _, c := range clients {
			c.Close()
		}
	}()

	clientsByChainID := make(map[uint64]*chain.Client, len(s.cfg.Chains))
	targets := make(map[uint64]relayerproc.TargetChain, len(s.cfg.Chains))
	reconcileBindings := make(map[string]reconcile.ChainBinding, len(s.cfg.Chains))

	for _, chainCfg := range s.cfg.Chains {
		client, err := chain.NewClient(ctx, chainCfg, s.logger)
		if err != nil {
			return fmt.Errorf("relayer: chain %s: %w", chainCfg.Name, err)
		}
		clients = append(clients, client)
		clientsByChainID[chainCfg.ChainID] = client

		bridgeAddr := common.HexToAddress(chainCfg.BridgeAddress)
		targets[chainCfg.ChainID] = relayerproc.TargetChain{Client: client, BridgeAddr: bridgeAddr}
		reconcileBindings[chainCfg.Name] = reconcile.ChainBinding{Client: client, BridgeAddr: bridgeAddr}
	}

	var watchers sync.WaitGroup
	for _, chainCfg := range s.cfg.Chains {
		source := clientsByChainID[chainCfg.ChainID]

		proc := relayerproc.New(source, targets, store, sgn, relayerKey, s.cfg.Gas,
			s.cfg.Watcher.MinConfirmations, s.cfg.SubmitMode, s.logger)

		w := watcher.New(source, store.WatcherLoadCursor, store.AdvanceCursor, watcher.Config{
			BridgeAddr:       common.HexToAddress(chainCfg.BridgeAddress),
			EventNames:       []string{"Deposit"},
			BatchSize:        s.cfg.Watcher.BatchSize,
			PollInterval:     s.cfg.Watcher.PollInterval,
			MinConfirmations: s.cfg.Watcher.MinConfirmations,
			MaxBackoff:       s.cfg.Watcher.MaxBackoff,
			StartBlock:       chainCfg.StartBlock,
		}, proc.HandleDeposit, s.logger)

		watchers.Add(1)
		go func(name string) {
			defer watchers.Done()
			s.logger.Info("starting chain watcher", zap.String("chain", name))
			if err := w.Run(ctx); err != nil {
				s.logger.Error("chain watcher stopped with error", zap.String("chain", name), zap.Error(err))
			}
		}(chainCfg.Name)
	}

	reconciler := reconcile.New(store, reconcileBindings, s.logger)
	reconciler.Start(s.cfg.Reconciliation.Interval)
	defer reconciler.Stop()

	ready := make(chan struct{})
	close(ready)

	r := s.routes(store, ready)

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	err = httpserver.ServeAndWait(ctx, s.logger, srv, s.cfg.Shutdown.Timeout)

	// Watchers stop on ctx cancellation; wait so in-flight windows finish
	// before the stores and chain clients are torn down (spec §5).
	watchers.Wait()
	return err
}

func (s *Server) routes(store *relayerstore.Store, ready <-chan struct{}) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ready:
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("READY"))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("NOT_READY"))
		}
	})

	if s.cfg.Monitoring.Enabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/transfers", s.handleTransfers(store))
		r.Get("/transfers/pending", s.handlePendingTransfers(store))
		r.Get("/transfers/address/{address}", s.handleTransfersByAddress(store))
		r.Get("/signatures/{txHash}", s.handleSignatures(store))
		r.Get("/status", s.handleSyncStatus(store))
	})

	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

// limitParam reads ?limit, defaulting to 50 and clamping to 100 (spec §6.4).
func limitParam(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			if n > 100 {
				return 100
			}
			return n
		}
	}
	return 50
}

// transactionView adds a human-readable decimal amount alongside the raw
// wei-scale BridgeTransaction fields, for Query Surface consumers.
type transactionView struct {
	*relayerstore.BridgeTransaction
	AmountDecimal string `json:"amount_decimal"`
}

func newTransactionViews(txs []*relayerstore.BridgeTransaction) []transactionView {
	views := make([]transactionView, len(txs))
	for i, tx := range txs {
		views[i] = transactionView{BridgeTransaction: tx, AmountDecimal: humanize.Amount(tx.Amount)}
	}
	return views
}

func (s *Server) handleTransfers(store *relayerstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := relayerstore.Status(r.URL.Query().Get("status"))
		txs, err := store.Transactions(r.Context(), status, limitParam(r))
		if err != nil {
			http.Error(w, "failed to list transfers", http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, map[string]any{"transfers": newTransactionViews(txs)})
	}
}

func (s *Server) handlePendingTransfers(store *relayerstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		txs, err := store.ListPending(r.Context(), limitParam(r))
		if err != nil {
			http.Error(w, "failed to list pending transfers", http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, map[string]any{"transfers": newTransactionViews(txs)})
	}
}

func (s *Server) handleTransfersByAddress(store *relayerstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		txs, err := store.TransactionsByAddress(r.Context(), chi.URLParam(r, "address"), limitParam(r))
		if err != nil {
			http.Error(w, "failed to list transfers", http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, map[string]any{"transfers": newTransactionViews(txs)})
	}
}

func (s *Server) handleSignatures(store *relayerstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sigs, err := store.SignaturesBySourceTxHash(r.Context(), chi.URLParam(r, "txHash"))
		if err != nil {
			http.Error(w, "failed to list signatures", http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, map[string]any{"signatures": sigs})
	}
}

func (s *Server) handleSyncStatus(store *relayerstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cursors, err := store.SyncStatus(r.Context())
		if err != nil {
			http.Error(w, "failed to load sync status", http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, map[string]any{"chains": cursors})
	}
}
