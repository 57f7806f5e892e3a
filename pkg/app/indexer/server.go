// Package indexer wires the Indexer process together: one Chain Client,
// Indexer Processor and Watcher per configured chain, plus the Query
// Surface HTTP server (spec §12, §13). It is grounded on the teacher's
// cmd/api-server/main.go bootstrap shape (chi-free stdlib mux, goroutine
// per background loop, signal-channel graceful shutdown), adapted to
// chi routing to match the teacher's cmd/relayer/main.go API surface.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bridgeworks/evm-bridge/pkg/app/httpserver"
	"github.com/bridgeworks/evm-bridge/pkg/chain"
	"github.com/bridgeworks/evm-bridge/pkg/config"
	"github.com/bridgeworks/evm-bridge/pkg/humanize"
	"github.com/bridgeworks/evm-bridge/pkg/indexerproc"
	"github.com/bridgeworks/evm-bridge/pkg/store/indexerstore"
	"github.com/bridgeworks/evm-bridge/pkg/watcher"
)

// Server runs the Indexer process end to end.
type Server struct {
	cfg    *config.IndexerConfig
	logger *zap.Logger
}

// New constructs a Server from loaded configuration and a ready logger.
func New(cfg *config.IndexerConfig, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, logger: logger}
}

// Run connects the store and every configured chain, starts one Watcher per
// chain, and serves the Query Surface until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	store, err := indexerstore.New(&s.cfg.Database)
	if err != nil {
		return fmt.Errorf("indexer: connect store: %w", err)
	}
	defer store.Close()
	s.logger.Info("connected to database", zap.String("database", s.cfg.Database.Database))

	var clients []*chain.Client
	defer func() {
		for _, c := range clients {
			c.Close()
		}
	}()

	var watchers sync.WaitGroup
	for _, chainCfg := range s.cfg.Chains {
		client, err := chain.NewClient(ctx, chainCfg, s.logger)
		if err != nil {
			return fmt.Errorf("indexer: chain %s: %w", chainCfg.Name, err)
		}
		clients = append(clients, client)

		proc := indexerproc.New(client, store, s.logger)

		w := watcher.New(client, store.WatcherLoadCursor, store.AdvanceCursor, watcher.Config{
			BridgeAddr:       common.HexToAddress(chainCfg.BridgeAddress),
			EventNames:       []string{"Deposit", "Withdraw"},
			BatchSize:        s.cfg.Watcher.BatchSize,
			PollInterval:     s.cfg.Watcher.PollInterval,
			MinConfirmations: s.cfg.Watcher.MinConfirmations,
			MaxBackoff:       s.cfg.Watcher.MaxBackoff,
			StartBlock:       chainCfg.StartBlock,
		}, proc.Handle, s.logger)

		watchers.Add(1)
		go func(name string) {
			defer watchers.Done()
			s.logger.Info("starting chain watcher", zap.String("chain", name))
			if err := w.Run(ctx); err != nil {
				s.logger.Error("chain watcher stopped with error", zap.String("chain", name), zap.Error(err))
			}
		}(chainCfg.Name)
	}

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
	// before the store and chain clients are torn down (spec §5).
	watchers.Wait()
	return err
}

func (s *Server) routes(store *indexerstore.Store, ready <-chan struct{}) http.Handler {
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
		r.Get("/events", s.handleRecentEvents(store))
		r.Get("/events/chain/{chainID}", s.handleEventsByChain(store))
		r.Get("/events/address/{address}", s.handleEventsByAddress(store))
		r.Get("/transfers", s.handleTransfers(store))
		r.Get("/transfers/pending", s.handlePendingTransfers(store))
		r.Get("/transfers/address/{address}", s.handleTransfersByAddress(store))
		r.Get("/transfers/deposit/{txHash}", s.handleTransferByDepositTxHash(store))
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

func (s *Server) handleRecentEvents(store *indexerstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events, err := store.RecentEvents(r.Context(), limitParam(r))
		if err != nil {
			http.Error(w, "failed to list events", http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, map[string]any{"events": events})
	}
}

func (s *Server) handleEventsByChain(store *indexerstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chainID, err := strconv.ParseUint(chi.URLParam(r, "chainID"), 10, 64)
		if err != nil {
			http.Error(w, "invalid chain id", http.StatusBadRequest)
			return
		}
		events, err := store.EventsByChain(r.Context(), chainID, limitParam(r))
		if err != nil {
			http.Error(w, "failed to list events", http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, map[string]any{"events": events})
	}
}

func (s *Server) handleEventsByAddress(store *indexerstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events, err := store.EventsByAddress(r.Context(), chi.URLParam(r, "address"), limitParam(r))
		if err != nil {
			http.Error(w, "failed to list events", http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, map[string]any{"events": events})
	}
}

// transferView adds a human-readable decimal amount alongside the raw
// wei-scale Transfer fields, for Query Surface consumers.
type transferView struct {
	*indexerstore.Transfer
	AmountDecimal string `json:"amount_decimal"`
}

func newTransferViews(transfers []*indexerstore.Transfer) []transferView {
	views := make([]transferView, len(transfers))
	for i, t := range transfers {
		views[i] = transferView{Transfer: t, AmountDecimal: humanize.Amount(t.Amount)}
	}
	return views
}

func (s *Server) handleTransfers(store *indexerstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var status *indexerstore.TransferStatus
		if v := r.URL.Query().Get("status"); v != "" {
			st := indexerstore.TransferStatus(v)
			status = &st
		}
		transfers, err := store.Transfers(r.Context(), status, limitParam(r))
		if err != nil {
			http.Error(w, "failed to list transfers", http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, map[string]any{"transfers": newTransferViews(transfers)})
	}
}

func (s *Server) handlePendingTransfers(store *indexerstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		transfers, err := store.PendingTransfers(r.Context(), limitParam(r))
		if err != nil {
			http.Error(w, "failed to list pending transfers", http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, map[string]any{"transfers": newTransferViews(transfers)})
	}
}

func (s *Server) handleTransfersByAddress(store *indexerstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		transfers, err := store.TransfersByAddress(r.Context(), chi.URLParam(r, "address"), limitParam(r))
		if err != nil {
			http.Error(w, "failed to list transfers", http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, map[string]any{"transfers": newTransferViews(transfers)})
	}
}

func (s *Server) handleTransferByDepositTxHash(store *indexerstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		transfer, err := store.TransferByDepositTxHash(r.Context(), chi.URLParam(r, "txHash"))
		if err != nil {
			http.Error(w, "failed to look up transfer", http.StatusInternalServerError)
			return
		}
		if transfer == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		s.writeJSON(w, transferView{Transfer: transfer, AmountDecimal: humanize.Amount(transfer.Amount)})
	}
}

func (s *Server) handleSyncStatus(store *indexerstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cursors, err := store.SyncStatus(r.Context())
		if err != nil {
			http.Error(w, "failed to load sync status", http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, map[string]any{"chains": cursors})
	}
}
