package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/sigcoord/coordinator/config"
	"github.com/sigcoord/coordinator/coordinator"
	"github.com/sigcoord/coordinator/health"
	"github.com/sigcoord/coordinator/internal/coordinatorlog"
	"github.com/sigcoord/coordinator/internal/coordinatormetrics"
	"github.com/sigcoord/coordinator/internal/storagecrypto"
	"github.com/sigcoord/coordinator/internal/timers"
	"github.com/sigcoord/coordinator/ledger"
	"github.com/sigcoord/coordinator/ratelimit"
	"github.com/sigcoord/coordinator/session"
	"github.com/sigcoord/coordinator/share"
	"github.com/sigcoord/coordinator/storage"
	"github.com/sigcoord/coordinator/storage/memory"
	"github.com/sigcoord/coordinator/storage/postgres"
	"github.com/sigcoord/coordinator/transport/ws"
	"github.com/sigcoord/coordinator/tunnel"
)

var (
	configDir   string
	environment string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the signing coordinator server",
	Long: `Start the coordinator's WebSocket listener, creating one session from
the loaded configuration's threshold/eligible_keys/expected_participants,
and run until a termination signal is received.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&configDir, "config-dir", "config", "directory containing <environment>.yaml")
	serveCmd.Flags().StringVar(&environment, "env", "", "environment name (overrides COORDINATOR_ENV)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(config.LoaderOptions{ConfigDir: configDir, Environment: environment})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return coordinatorlog.NewCoordinatorError(coordinatorlog.ErrCodeValidation, err.Error(), err)
	}

	log := coordinatorlog.NewDefaultLogger()
	if cfg.Logging != nil {
		log.SetLevel(levelFromString(cfg.Logging.Level))
	}
	coordinatorlog.SetDefaultLogger(log)

	reg := prometheus.NewRegistry()
	metrics := coordinatormetrics.New(reg)

	timerReg := timers.NewRegistry(log)
	limiter := ratelimit.NewLimiter(
		ratelimit.WithWindow(cfg.RateLimit.Window),
		ratelimit.WithMaxAttempts(cfg.RateLimit.MaxAttempts),
		ratelimit.WithBlockDuration(cfg.RateLimit.BlockDuration),
	)
	defer limiter.Stop()

	store := session.NewStore(timerReg, log, cfg.Session.CleanupInterval)

	persister, err := newPersister(cmd.Context(), cfg.Storage)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	ledgerClient := ledger.NewNoopClient()

	mgr := coordinator.NewManager(store, limiter, timerReg, ledgerClient, persister, metrics, log)
	if cfg.Storage.EncryptionKey != "" {
		cipher, err := storagecrypto.New([]byte(cfg.Storage.EncryptionKey))
		if err != nil {
			return fmt.Errorf("init storage encryption: %w", err)
		}
		mgr = mgr.WithTokenCipher(cipher)
	}

	sess, err := mgr.CreateSession(cmd.Context(), session.Config{
		Threshold:            cfg.Session.Threshold,
		EligibleKeys:         cfg.Session.EligibleKeys,
		ExpectedParticipants: cfg.Session.ExpectedParticipants,
		AuthToken:            cfg.Session.AuthToken,
		SessionTimeout:       cfg.Session.SessionTimeout,
	})
	if err != nil {
		return coordinatorlog.NewCoordinatorError(coordinatorlog.ErrCodeValidation, err.Error(), err)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.BindHost, cfg.Server.BindPort)
	scheme := "ws"
	if cfg.Server.TLSCertFile != "" && cfg.Server.TLSKeyFile != "" {
		scheme = "wss"
	}

	shareString, err := share.Encode(share.Info{
		ServerURL: fmt.Sprintf("%s://%s", scheme, addr),
		SessionID: sess.ID(),
		AuthToken: sess.AuthToken(),
	})
	if err != nil {
		log.Warn("failed to build share string", coordinatorlog.Error(err))
	} else {
		log.Info("session ready", coordinatorlog.String("share", shareString))
	}

	if cfg.Server.TunnelProvider != "" {
		provider, err := tunnel.New(cfg.Server.TunnelProvider)
		if err != nil {
			return fmt.Errorf("init tunnel: %w", err)
		}
		defer provider.Close()
		publicURL, err := provider.PublicURL(cmd.Context(), addr)
		if err != nil {
			return fmt.Errorf("establish tunnel: %w", err)
		}
		publicShare, err := share.Encode(share.Info{
			ServerURL: publicURL,
			SessionID: sess.ID(),
			AuthToken: sess.AuthToken(),
		})
		if err != nil {
			log.Warn("failed to build public share string", coordinatorlog.Error(err))
		} else {
			log.Info("public tunnel ready",
				coordinatorlog.String("url", publicURL),
				coordinatorlog.String("share", publicShare),
			)
		}
	}

	connServer := ws.NewConnectionServer(mgr, log, ws.Config{
		HeartbeatInterval: cfg.Server.HeartbeatInterval,
		HeartbeatTimeout:  cfg.Server.HeartbeatTimeout,
		MaxOutboundQueue:  cfg.Server.MaxOutboundQueue,
		TLSCertFile:       cfg.Server.TLSCertFile,
		TLSKeyFile:        cfg.Server.TLSKeyFile,
	})

	var healthSrv *health.Server
	if cfg.Health != nil && cfg.Health.Enabled {
		checker := health.NewChecker(5 * time.Second)
		checker.SetLogger(log)
		if persister != nil {
			checker.RegisterCheck("storage", health.StorageHealthCheck(persister.Ping))
		}
		healthSrv = health.NewServer(checker, log, cfg.Health.Port, reg)
		if err := healthSrv.Start(); err != nil {
			return fmt.Errorf("start health server: %w", err)
		}
	}

	serveErrCh := make(chan error, 1)
	go func() {
		log.Info("coordinator listening",
			coordinatorlog.String("addr", addr),
			coordinatorlog.String("scheme", scheme),
			coordinatorlog.String("session_id", sess.ID()),
		)
		serveErrCh <- connServer.ListenAndServe(addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErrCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case sig := <-sigCh:
		log.Info("received shutdown signal", coordinatorlog.String("signal", sig.String()))
	}

	mgr.Shutdown()
	connServer.Close()
	timerReg.Shutdown()
	if healthSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = healthSrv.Stop(ctx)
	}
	if persister != nil {
		_ = persister.Close()
	}
	return nil
}

func newPersister(ctx context.Context, cfg config.StorageConfig) (storage.SessionPersister, error) {
	switch cfg.Type {
	case "", "memory":
		return memory.NewStore(), nil
	case "postgres":
		return postgres.New(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

func levelFromString(s string) coordinatorlog.Level {
	switch s {
	case "debug":
		return coordinatorlog.DebugLevel
	case "warn":
		return coordinatorlog.WarnLevel
	case "error":
		return coordinatorlog.ErrorLevel
	default:
		return coordinatorlog.InfoLevel
	}
}
