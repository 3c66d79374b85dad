package service

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/auditlog"
	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/config"
	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/httpapi"
	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/ledger"
	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/meraki"
	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/remediation"
	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/repository"
	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/scheduler"
	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/servicenow"
	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/tickets"
	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/topology"
)

// Server is the composition root: it owns every component and the HTTP
// surface that feeds them.
type Server struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger

	topo       *topology.Store
	audit      *auditlog.Manager
	queue      *scheduler.Queue
	workflow   *remediation.Workflow
	aggregator *tickets.Aggregator
	sweeper    *tickets.Sweeper
	dispatcher *Dispatcher
	httpServer *http.Server
}

// New wires the service together. The topology bootstrap runs here: an
// unreachable dashboard or an empty topology aborts startup.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	db, err := sql.Open("postgres", buildDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	dashboard := meraki.NewClient(cfg.Meraki.BaseURL, cfg.Meraki.APIKey, cfg.Meraki.OrgID, logger)

	topo, err := topology.BuildFromDashboard(ctx, dashboard, logger)
	if err != nil {
		return nil, err
	}

	audit, err := auditlog.New(cfg.AuditLogDir)
	if err != nil {
		return nil, err
	}

	ticketsRepo := repository.NewTicketsRepository(db, logger)
	ticketLedger := ledger.New(cfg.Tickets.LedgerPath)
	sink := servicenow.NewClient(
		cfg.ServiceNow.Instance,
		cfg.ServiceNow.Username,
		cfg.ServiceNow.Password,
		logger,
	)

	queue := scheduler.NewQueue(redisClient, logger)

	aggregator := tickets.NewAggregator(
		ticketsRepo,
		topo,
		queue,
		sink,
		ticketLedger,
		audit,
		cfg.Tickets.AllowDuplicates,
		cfg.ServiceNow.Enabled,
		logger,
	)

	// A session must outlive both deferred checks with margin, so orphans
	// still expire.
	sessionTTL := 4 * cfg.Remediation.DelayTime
	sessions := remediation.NewSessionStore(redisClient, sessionTTL, logger)
	workflow := remediation.NewWorkflow(
		sessions,
		topo,
		dashboard,
		queue,
		aggregator,
		audit,
		cfg.Remediation.DelayTime,
		logger,
	)

	sweeper := tickets.NewSweeper(
		ticketsRepo,
		topo,
		queue,
		audit,
		cfg.Tickets.RemovalTime,
		cfg.Tickets.SweepInterval,
		cfg.ServiceNow.Enabled,
		logger,
	)

	dispatcher := NewDispatcher(workflow, aggregator, topo, logger)

	queue.RegisterHandler(remediation.TaskCheck, 3, workflow.HandleCheck, nil)
	queue.RegisterHandler(tickets.TaskSinkCreate, cfg.Tickets.SinkMaxAttempts,
		aggregator.HandleSinkCreate, aggregator.HandleSinkExhausted)
	queue.RegisterHandler(tickets.TaskSinkResolve, cfg.Tickets.SinkMaxAttempts,
		aggregator.HandleSinkResolve, aggregator.HandleSinkResolveExhausted)

	router := httpapi.NewRouter(logger)
	router.Register(
		httpapi.NewWebhookHandler(dispatcher, cfg.Webhook.SharedSecret, cfg.Webhook.TargetNetworks, logger),
		httpapi.NewTicketsHandler(ticketsRepo, logger),
	)

	return &Server{
		config:      cfg,
		db:          db,
		redisClient: redisClient,
		logger:      logger,
		topo:        topo,
		audit:       audit,
		queue:       queue,
		workflow:    workflow,
		aggregator:  aggregator,
		sweeper:     sweeper,
		dispatcher:  dispatcher,
		httpServer: &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Start runs the workers and serves HTTP until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting service",
		zap.String("http_addr", s.config.HTTP.Addr),
		zap.Int("topology_devices", s.topo.Size()),
		zap.Bool("ticket_cleanup", s.config.Tickets.CleanupEnabled),
	)

	go s.queue.Run(ctx)
	if s.config.Tickets.CleanupEnabled {
		go s.sweeper.Run(ctx)
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("http server failed: %w", err)
	}
}

// Stop releases connections and flushes the audit streams.
func (s *Server) Stop() {
	s.logger.Info("Stopping service")
	s.audit.Close()
	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
	}
	if err := s.redisClient.Close(); err != nil {
		s.logger.Error("Failed to close redis", zap.Error(err))
	}
}

func buildDSN(cfg *config.Config) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Database,
		cfg.Database.SSLMode,
	)
}
