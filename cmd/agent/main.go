// Package main provides the entry point for the LEOScope node agent
// (C6/C7/C8): the scheduler loop, the container executor, and the
// environmental monitors feeding its trigger gate.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/leoscope/leoscope/internal/agent"
	"github.com/leoscope/leoscope/internal/api/health"
	apimw "github.com/leoscope/leoscope/internal/api/middleware"
	"github.com/leoscope/leoscope/internal/blob"
	"github.com/leoscope/leoscope/internal/cleanup"
	"github.com/leoscope/leoscope/internal/deploy"
	"github.com/leoscope/leoscope/internal/executor"
	"github.com/leoscope/leoscope/internal/logs"
	"github.com/leoscope/leoscope/internal/monitors"
	"github.com/leoscope/leoscope/internal/podman"
	"github.com/leoscope/leoscope/internal/secrets"
	"github.com/leoscope/leoscope/internal/shutdown"
	"github.com/leoscope/leoscope/internal/terminal"
	"github.com/leoscope/leoscope/pkg/config"
	"github.com/leoscope/leoscope/pkg/logger"
)

// podmanPinger reports the local podman socket as healthy if it can list
// images without error.
type podmanPinger struct{ podman *podman.Client }

func (p podmanPinger) Ping(ctx context.Context) error {
	_, err := p.podman.ListImages(ctx)
	return err
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// execHandler upgrades to a websocket and attaches an interactive shell to
// the named run's container, backing `leoctl run exec`.
func execHandler(term *terminal.Service, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "runID")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("exec websocket upgrade failed", "run_id", runID, "error", err)
			return
		}
		session, err := term.Connect(r.Context(), runID, conn)
		if err != nil {
			log.Warn("exec session rejected", "run_id", runID, "error", err)
			conn.Close()
			return
		}
		if err := term.HandleSession(session); err != nil {
			log.Warn("exec session ended with error", "run_id", runID, "error", err)
		}
	}
}

// logsHandler upgrades to a websocket and streams a run's captured output
// as newline-delimited JSON models.LogEntry values, backing `leoctl run
// logs -f`. It closes the socket once the client disconnects or the
// broker subscription is torn down.
func logsHandler(broker *logs.Broker, exec *executor.Executor, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "runID")
		stream := r.URL.Query().Get("stream")

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("logs websocket upgrade failed", "run_id", runID, "error", err)
			return
		}
		defer conn.Close()

		sub := broker.Subscribe(runID, stream)
		defer broker.Unsubscribe(sub)

		for _, entry := range exec.LogBacklog(runID, 200) {
			if stream != "" && entry.Stream != stream {
				continue
			}
			if err := conn.WriteJSON(entry); err != nil {
				return
			}
		}

		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					broker.Unsubscribe(sub)
					return
				}
			}
		}()

		for entry := range sub.Ch {
			if err := conn.WriteJSON(entry); err != nil {
				return
			}
		}
	}
}

// jobImageSource adapts agent.Client's job listing to cleanup.ActiveImageSource
// so image cleanup never evicts an image a scheduled or running job still
// needs on this node.
type jobImageSource struct {
	client agent.Client
	nodeID string
}

func (s jobImageSource) ActiveImages(ctx context.Context) (map[string]bool, error) {
	jobs, err := s.client.GetJobsByNodeID(ctx, s.nodeID)
	if err != nil {
		return nil, err
	}
	active := make(map[string]bool, len(jobs))
	for _, job := range jobs {
		if job.Deploy != "" {
			active[job.Deploy] = true
		}
	}
	return active, nil
}

func main() {
	log := logger.New(slog.LevelInfo, os.Getenv("LEOSCOPE_ENV") != "development")

	cfg := config.LoadWithDefaults()
	if err := cfg.LoadAgentOverlay(); err != nil {
		log.Error("failed to load node static config overlay", "error", err)
		os.Exit(1)
	}
	if cfg.Agent.NodeID == "" {
		log.Error("LEOSCOPE_NODE_ID is required")
		os.Exit(1)
	}

	clientCfg := agent.DefaultClientConfig()
	clientCfg.CoordinatorAddr = cfg.Agent.CoordinatorAddr
	clientCfg.StaticToken = cfg.Agent.StaticToken
	client, err := agent.Dial(context.Background(), clientCfg, log.Logger)
	if err != nil {
		log.Error("failed to dial coordinator", "error", err)
		os.Exit(1)
	}

	podmanClient := podman.NewClient(cfg.Agent.PodmanSocket, log.Logger)

	var sopsService *secrets.SOPSService
	if cfg.Secrets.AgePrivateKey != "" {
		sopsService, err = secrets.NewSOPSService(&secrets.Config{
			AgePublicKey:  cfg.Secrets.AgePublicKey,
			AgePrivateKey: cfg.Secrets.AgePrivateKey,
		}, log.Logger)
		if err != nil {
			log.Error("failed to construct secrets service", "error", err)
			os.Exit(1)
		}
	}
	envMerger := deploy.NewEnvMerger(sopsService, log.Logger)

	broker := logs.NewBroker(log.Logger)

	blobStore, err := blob.NewFileStore(cfg.Agent.WorkDir + "/artifacts")
	if err != nil {
		log.Error("failed to open artifact store", "error", err)
		os.Exit(1)
	}

	exec := executor.New(executor.Config{
		NodeID:      cfg.Agent.NodeID,
		WorkdirRoot: cfg.Agent.WorkDir,
	}, client, podmanClient, envMerger, broker, blobStore, log.Logger)

	monitorSet := monitors.NewSet(log.Logger)
	if endpoint := os.Getenv("LEOSCOPE_SATELLITE_BRIDGE_ADDR"); endpoint != "" {
		monitorSet.Add("satellite", monitors.SatelliteInterval, monitors.NewSatelliteSource(endpoint))
	}
	if endpoint := os.Getenv("LEOSCOPE_WEATHER_BRIDGE_ADDR"); endpoint != "" {
		monitorSet.Add("weather", monitors.WeatherInterval, monitors.NewWeatherSource(endpoint))
	}
	if endpoint := os.Getenv("LEOSCOPE_TERMINAL_BRIDGE_ADDR"); endpoint != "" {
		monitorSet.Add("terminal", monitors.TerminalInterval, monitors.NewTerminalSource(endpoint))
	}

	schedCfg := agent.Config{
		NodeID:          cfg.Agent.NodeID,
		PollInterval:    cfg.Agent.PollInterval,
		HeartbeatPeriod: cfg.Agent.HeartbeatPeriod,
	}
	scheduler := agent.NewScheduler(schedCfg, client, exec, monitorSet, log.Logger)

	cleanupSvc := cleanup.NewService(podmanClient, jobImageSource{client: client, nodeID: cfg.Agent.NodeID}, log.Logger)
	diskMonitor := cleanup.NewDiskMonitor(cfg.Agent.WorkDir, cleanupSvc, 50, log.Logger)

	termService := terminal.NewService(terminal.NewPodmanRunLookup(podmanClient), podmanClient, nil, log.Logger)

	checker := health.NewChecker(podmanPinger{podman: podmanClient}, "dev")
	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(apimw.Recovery(log.Logger))
	router.Use(apimw.RequestLogger(log.Logger))
	router.Get("/healthz", checker.Handler())
	router.Get("/runs/{runID}/exec", execHandler(termService, log))
	router.Get("/runs/{runID}/logs", logsHandler(broker, exec, log))

	adminServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Agent.AdminPort), Handler: router}

	monitorsCtx, cancelMonitors := context.WithCancel(context.Background())
	monitorsDone := make(chan struct{})
	go func() {
		defer close(monitorsDone)
		monitorSet.Run(monitorsCtx)
	}()

	schedulerCtx, cancelScheduler := context.WithCancel(context.Background())
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		if err := scheduler.Run(schedulerCtx); err != nil {
			log.Error("scheduler loop exited", "error", err)
		}
	}()

	diskCheckDone := make(chan struct{})
	diskCheckCtx, cancelDiskCheck := context.WithCancel(context.Background())
	go func() {
		defer close(diskCheckDone)
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-diskCheckCtx.Done():
				return
			case <-ticker.C:
				if _, _, err := diskMonitor.Check(diskCheckCtx); err != nil {
					log.Warn("disk usage check failed", "error", err)
				}
			}
		}
	}()

	sc := shutdown.NewCoordinator(shutdown.WithTimeout(30*time.Second), shutdown.WithLogger(log.Logger))
	sc.Register(shutdown.NewFuncComponent("scheduler", func(ctx context.Context) error {
		cancelScheduler()
		select {
		case <-schedulerDone:
		case <-ctx.Done():
		}
		return nil
	}))
	sc.Register(shutdown.NewFuncComponent("monitors", func(ctx context.Context) error {
		cancelMonitors()
		select {
		case <-monitorsDone:
		case <-ctx.Done():
		}
		return nil
	}))
	sc.Register(shutdown.NewFuncComponent("disk-monitor", func(ctx context.Context) error {
		cancelDiskCheck()
		select {
		case <-diskCheckDone:
		case <-ctx.Done():
		}
		return nil
	}))
	sc.Register(shutdown.NewCloserComponent("coordinator-client", client))
	sc.Register(shutdown.NewHTTPServerComponent("admin-http", adminServer))
	// Registered last so it is drained first (Coordinator shuts down in LIFO
	// order): an in-flight run's finish/upload step still needs the
	// coordinator client and admin HTTP server alive while it winds down.
	sc.Register(shutdown.NewFuncComponent("active-runs", exec.Wait))

	go func() {
		log.Info("agent admin HTTP listening", "addr", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("agent admin HTTP server error", "error", err)
		}
	}()

	log.Info("node agent started", "node_id", cfg.Agent.NodeID, "coordinator", cfg.Agent.CoordinatorAddr)

	sc.WaitForSignal()
	sc.Wait()
	os.Exit(sc.ExitCode())
}
