package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/relay/internal/archive"
	"github.com/alfredjeanlab/relay/internal/config"
	"github.com/alfredjeanlab/relay/internal/events"
	"github.com/alfredjeanlab/relay/internal/fanout"
	"github.com/alfredjeanlab/relay/internal/hub"
	"github.com/alfredjeanlab/relay/internal/idgen"
	"github.com/alfredjeanlab/relay/internal/presence"
	"github.com/alfredjeanlab/relay/internal/routing"
	"github.com/alfredjeanlab/relay/internal/server"
	"github.com/alfredjeanlab/relay/internal/store/postgres"
	"github.com/alfredjeanlab/relay/internal/token"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the relay server",
	GroupID: "system",
	// Override PersistentPreRunE so we don't build an API client.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		nodeID := cfg.NodeID
		if nodeID == "" {
			if nodeID, err = idgen.New(idgen.PrefixNode); err != nil {
				return err
			}
		}
		logger = logger.With("node", nodeID)

		store, err := postgres.New(cfg.DatabaseURL)
		if err != nil {
			return err
		}

		tokens, err := token.NewService([]byte(cfg.TokenSecret), store, nil)
		if err != nil {
			store.Close()
			return err
		}

		var publisher events.Publisher
		if cfg.NATSURL != "" {
			pub, err := events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				store.Close()
				return err
			}
			publisher = pub
			logger.Info("cross-node fan-out enabled", "nats_url", cfg.NATSURL)
		} else {
			publisher = events.LocalPublisher{}
			logger.Info("cross-node fan-out disabled (RELAY_NATS_URL not set)")
		}

		h := hub.New(tokens, hub.Config{IdleTimeout: cfg.ActorIdleTimeout, Logger: logger})
		fan := fanout.New(h, store, fanout.Options{Publisher: publisher, NodeID: nodeID, Logger: logger})
		tracker := presence.New(store, nil, logger, cfg.PresenceThreshold)
		tracker.StartReaper(&presence.ReaperConfig{WriteBack: cfg.PresenceWriteBack})
		router := routing.New(store, tracker, fan, nil, logger)

		relayServer := server.New(store, tokens, h, fan, router, tracker, server.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			Logger:         logger,
		})
		grpcServer, healthServer := server.NewGRPCServer(cfg.AuthToken, logger)

		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			publisher.Close()
			store.Close()
			return err
		}
		go func() {
			logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC server error", "error", err)
			}
		}()

		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           relayServer.NewHTTPHandler(cfg.AuthToken),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", "error", err)
			}
		}()

		// Inject broadcasts from other nodes into the local hub.
		var relayCancel context.CancelFunc
		if cfg.NATSURL != "" {
			sub, err := events.NewNATSSubscriber(cfg.NATSURL)
			if err != nil {
				logger.Error("failed to create relay subscriber", "error", err)
			} else {
				var relayCtx context.Context
				relayCtx, relayCancel = context.WithCancel(context.Background())
				relay := events.NewRelay(nodeID, sub, h, logger)
				go func() {
					if err := relay.Run(relayCtx); err != nil {
						logger.Error("relay error", "error", err)
					}
					sub.Close()
				}()
			}
		}

		scheduler := startArchive(cfg, store, logger)

		logger.Info("relay server started",
			"grpc_addr", cfg.GRPCAddr,
			"http_addr", cfg.HTTPAddr,
		)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		healthServer.Shutdown()

		if relayCancel != nil {
			relayCancel()
		}
		if scheduler != nil {
			scheduler.Stop()
			logger.Info("archive scheduler stopped")
		}

		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")

		// Closing the hub first sends 1001 to live channels so the HTTP
		// shutdown does not wait on them.
		h.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}
		logger.Info("HTTP server stopped")

		tracker.Stop()
		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "error", err)
		}
		if err := store.Close(); err != nil {
			logger.Error("error closing store", "error", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}

// startArchive starts the assignment archive when a destination is
// configured. It returns nil otherwise.
func startArchive(cfg *config.Config, src archive.Source, logger *slog.Logger) *archive.Scheduler {
	if !cfg.ArchiveEnabled() {
		return nil
	}

	var dests []archive.Destination
	if cfg.ArchiveS3Bucket != "" {
		s3Dest, err := archive.NewS3Destination(context.Background(), archive.S3Options{
			Bucket:   cfg.ArchiveS3Bucket,
			Key:      cfg.ArchiveS3Key,
			Region:   cfg.ArchiveS3Region,
			Endpoint: cfg.ArchiveS3Endpoint,
		})
		if err != nil {
			logger.Error("failed to create S3 archive destination", "error", err)
		} else {
			dests = append(dests, s3Dest)
			logger.Info("archive S3 destination enabled", "bucket", cfg.ArchiveS3Bucket, "key", cfg.ArchiveS3Key)
		}
	}
	if cfg.ArchiveGitRepo != "" {
		dests = append(dests, archive.NewGitDestination(cfg.ArchiveGitRepo, cfg.ArchiveGitFile, cfg.ArchiveGitBranch))
		logger.Info("archive git destination enabled", "repo", cfg.ArchiveGitRepo, "file", cfg.ArchiveGitFile)
	}
	if len(dests) == 0 {
		return nil
	}

	scheduler := archive.NewScheduler(src, dests, cfg.ArchiveInterval, nil, logger)
	scheduler.Start()
	logger.Info("archive scheduler started", "interval", cfg.ArchiveInterval)
	return scheduler
}
