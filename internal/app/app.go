package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/glogos/glogos/internal/api"
	"github.com/glogos/glogos/internal/config"
	"github.com/glogos/glogos/internal/logging"
	"github.com/glogos/glogos/internal/service"
	"github.com/glogos/glogos/internal/storage"
	"github.com/glogos/glogos/internal/storage/memory"
	"github.com/glogos/glogos/internal/storage/postgres"
	"github.com/glogos/glogos/internal/storage/sqlite"
)

type Application struct {
	Server     *http.Server
	Store      storage.Store
	Service    *service.AttestationService
	Replicator *service.Replicator

	pollInterval time.Duration
}

func OpenStore(ctx context.Context, cfg *config.NodeConfig) (storage.Store, error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		return memory.New(), nil
	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case config.DriverPostgres:
		store, err := postgres.Open(ctx, cfg.Storage.PostgresDSN, cfg.Storage.MaxConns, cfg.Storage.MinConns)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func New(ctx context.Context, cfg *config.NodeConfig, logger *slog.Logger) (*Application, error) {
	var registry *service.ZoneRegistry
	if cfg.Registry.ZonesPath != "" {
		r, err := service.LoadZoneRegistry(cfg.Registry.ZonesPath)
		if err != nil {
			return nil, fmt.Errorf("load zone registry: %w", err)
		}
		registry = r
	}

	var replicator *service.Replicator
	if len(cfg.Replication.Peers) > 0 {
		peers := make([]service.Peer, 0, len(cfg.Replication.Peers))
		for _, p := range cfg.Replication.Peers {
			peers = append(peers, service.Peer{
				Name:       p.Name,
				URL:        p.URL,
				WriteToken: p.WriteToken,
				Timeout:    time.Duration(p.TimeoutSeconds) * time.Second,
			})
		}
		r, err := service.NewReplicator(service.ReplicatorParams{
			Peers:        peers,
			RequiredAcks: cfg.Replication.RequiredAcks,
			BatchSize:    cfg.Replication.BatchSize,
			MaxBackoff:   time.Duration(cfg.Replication.MaxBackoffSeconds) * time.Second,
			MaxBacklog:   cfg.Replication.MaxBacklog,
			Logger:       logger,
		})
		if err != nil {
			return nil, fmt.Errorf("build replicator: %w", err)
		}
		replicator = r
	}

	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	params := service.Params{
		Store:          store,
		Registry:       registry,
		Logger:         logger,
		DanglingPolicy: cfg.DAG.DanglingPolicy,
		MaxDepth:       cfg.DAG.MaxDepth,
		MaxNodes:       cfg.DAG.MaxNodes,
		PendingLimit:   cfg.DAG.PendingLimit,
		PendingTTL:     time.Duration(cfg.DAG.PendingTTLSeconds) * time.Second,
		VerifyWorkers:  cfg.DAG.VerifyWorkers,
		MaxFutureSkew:  time.Duration(cfg.DAG.MaxFutureSkewSeconds) * time.Second,
		WriteToken:     cfg.Security.WriteToken,
		Service:        cfg.Logging.Service,
		Version:        cfg.Logging.Version,
		NodeID:         cfg.Logging.NodeID,
	}
	if replicator != nil {
		params.OnAccept = replicator.Enqueue
	}
	svc, err := service.New(params)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build attestation service: %w", err)
	}

	router := api.NewHandler(svc, cfg.Server.MaxBodyBytes).Router()
	allow, err := api.IPAllowListMiddleware(cfg.Security.TrustedCIDRs)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("configure ip allow list: %w", err)
	}
	router = allow(router)
	env := logging.Environment{
		Service: cfg.Logging.Service,
		Version: cfg.Logging.Version,
		Commit:  cfg.Logging.Commit,
		Region:  cfg.Logging.Region,
		NodeID:  cfg.Logging.NodeID,
	}
	root := logging.Middleware(logger, env)(router)

	server := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           root,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return &Application{
		Server:       server,
		Store:        store,
		Service:      svc,
		Replicator:   replicator,
		pollInterval: time.Duration(cfg.Replication.PollIntervalSeconds) * time.Second,
	}, nil
}

// RunReplication forwards accepted attestations to peers until ctx is done.
// It returns immediately when no peers are configured.
func (a *Application) RunReplication(ctx context.Context) error {
	if a.Replicator == nil {
		return nil
	}
	return a.Replicator.Run(ctx, a.pollInterval)
}

func (a *Application) Shutdown(ctx context.Context) error {
	defer a.Store.Close()
	return a.Server.Shutdown(ctx)
}
