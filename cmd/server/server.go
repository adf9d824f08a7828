package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/netforge-io/changerd/internal/api"
	"github.com/netforge-io/changerd/internal/bootstrap"
	"github.com/netforge-io/changerd/internal/compiler"
	"github.com/netforge-io/changerd/internal/config"
	"github.com/netforge-io/changerd/internal/executor"
	"github.com/netforge-io/changerd/internal/gateway"
	"github.com/netforge-io/changerd/internal/inventory"
	"github.com/netforge-io/changerd/internal/lock"
	"github.com/netforge-io/changerd/internal/log"
	"github.com/netforge-io/changerd/internal/mcp"
	"github.com/netforge-io/changerd/internal/probe"
	"github.com/netforge-io/changerd/internal/profile"
	"github.com/netforge-io/changerd/internal/registry"
	"github.com/netforge-io/changerd/internal/storage"
	"github.com/netforge-io/changerd/internal/worker"
	"github.com/paularlott/cli"
)

// ServerConfig holds the wired components for running the daemon.
type ServerConfig struct {
	Config     *config.Config
	Store      storage.ChangeLog
	APIHandler *api.Handler
	MCPServer  *mcp.Server
	Scheduler  *worker.Scheduler
}

// RunServer starts the changerd HTTP server and blocks until shutdown.
func RunServer(cfg *ServerConfig) error {
	mux := http.NewServeMux()

	cfg.APIHandler.RegisterRoutes(mux)

	if cfg.Config.IsMCPEnabled() {
		mux.HandleFunc("/mcp", cfg.MCPServer.HandleRequest)
	}

	var handler http.Handler = mux
	handler = api.AuthMiddleware(cfg.Config.APIToken, handler)
	handler = api.SecurityHeadersMiddleware(handler)

	server := &http.Server{
		Addr:    cfg.Config.ListenAddr,
		Handler: handler,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Info("Shutting down server...")
		server.Close()
	}()

	log.Info("Starting changerd server", "addr", cfg.Config.ListenAddr)
	log.Info("API available", "url", "http://localhost"+cfg.Config.ListenAddr+"/mikrotik/")
	if cfg.Config.IsMCPEnabled() {
		log.Info("MCP available", "url", "http://localhost"+cfg.Config.ListenAddr+"/mcp")
	}
	if cfg.Config.IsAPIAuthEnabled() {
		log.Info("API authentication enabled")
	} else {
		log.Warn("API authentication disabled, set --api-token for production use")
	}
	for _, feature := range registry.GetRegistry().Features() {
		log.Info("Feature enabled", "feature", feature)
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("Server error", "error", err)
		return err
	}

	log.Info("Server stopped")
	return nil
}

func Command() *cli.Command {
	return &cli.Command{
		Name:        "server",
		Usage:       "Start the changerd server",
		Description: "Start the HTTP server with the change-control API and MCP endpoint",
		Flags:       config.GetFlags(),
		Run: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.Load(cmd)

			log.Info("Configuration loaded", "data_dir", cfg.DataDir, "listen_addr", cfg.ListenAddr)

			store, err := storage.NewSQLiteChangeLog(cfg.DataDir)
			if err != nil {
				log.Error("Failed to initialize change log", "error", err)
				return err
			}
			defer store.Close()
			log.Info("Change log initialized", "backend", "SQLite", "path", cfg.DataDir)

			catalog, err := profile.NewCatalog()
			if err != nil {
				log.Error("Failed to load profile catalog", "error", err)
				return err
			}

			inv, err := inventory.Load(cfg.DevicesFile)
			if err != nil {
				log.Error("Failed to load device inventory", "error", err)
				return err
			}

			locks := lock.NewManager(cfg.LockTTL)

			creds := gateway.Credentials{
				Username: cfg.DeviceUsername,
				Password: cfg.DevicePassword,
				KeyFile:  cfg.SSHKeyFile,
			}
			var dialer gateway.Dialer
			if factory, ok := registry.GetRegistry().GetDialer("routeros-ssh"); ok {
				dialer = factory(creds, cfg.DialTimeout)
				log.Info("Device transport ready", "dialer", "routeros-ssh")
			} else {
				log.Warn("No device transport registered, only dry runs are available")
			}

			exec := executor.New(executor.Options{
				Log:            store,
				Locks:          locks,
				Inventory:      inv,
				Compiler:       compiler.New(catalog),
				Dialer:         dialer,
				RequireTicket:  cfg.RequireTicket,
				CommandTimeout: cfg.CommandTimeout,
				DialTimeout:    cfg.DialTimeout,
			})

			var facts *gateway.SNMPFacts
			if cfg.SNMPCommunity != "" {
				facts = gateway.NewSNMPFacts(cfg.SNMPCommunity)
			}
			prober := probe.New(probe.Options{
				Inventory:      inv,
				Dialer:         dialer,
				Facts:          facts,
				LossWarn:       cfg.LossWarn(),
				LossCrit:       cfg.LossCrit(),
				DialTimeout:    cfg.DialTimeout,
				CommandTimeout: cfg.CommandTimeout,
			})

			boot := bootstrap.New(exec)

			apiHandler := api.NewHandler(exec, prober, boot, store, catalog, inv)
			mcpServer := mcp.NewServer(store, exec, prober, catalog, cfg.MCPToken)

			pool := worker.NewWorkerPool(4)
			pool.Start()
			defer pool.Stop()

			sched := worker.NewScheduler(pool)
			if err := sched.AddLockSweep(locks); err != nil {
				return err
			}
			if cfg.ProbeSchedule != "" && cfg.ProbeDevice != "" {
				err := sched.AddRecurring("failover-probe", cfg.ProbeSchedule, func(ctx context.Context) error {
					report, err := prober.Run(ctx, probe.Request{
						DeviceID: cfg.ProbeDevice,
						Targets:  cfg.ProbeTargets,
						Count:    cfg.ProbeCount,
					})
					if err != nil {
						return err
					}
					log.Info("Scheduled failover probe finished",
						"device", cfg.ProbeDevice,
						"overall", report.OverallStatus,
						"targets", len(report.Targets))
					return nil
				})
				if err != nil {
					return err
				}
			}
			sched.Start()
			defer sched.Stop()

			return RunServer(&ServerConfig{
				Config:     cfg,
				Store:      store,
				APIHandler: apiHandler,
				MCPServer:  mcpServer,
				Scheduler:  sched,
			})
		},
	}
}
