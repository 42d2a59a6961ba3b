package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmikh/recordio/internal/agent"
	"github.com/jmikh/recordio/internal/bus"
	"github.com/jmikh/recordio/internal/config"
	"github.com/jmikh/recordio/internal/coordinator"
	"github.com/jmikh/recordio/internal/logging"
	"github.com/jmikh/recordio/internal/media"
	"github.com/jmikh/recordio/internal/media/simdevice"
	"github.com/jmikh/recordio/internal/pagehost"
	"github.com/jmikh/recordio/internal/project"
	"github.com/jmikh/recordio/internal/session"
)

var controlURL string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the recording daemon",
	Long: `Starts the session coordinator, the media worker host, and the websocket
bridge UI surfaces connect to. Runs until interrupted.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&controlURL, "control-url", "", "DevTools websocket URL of a running browser (launches one when empty and a page target is recorded)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := logging.Initialize(workspace); err != nil {
		logger.Warn("file logging unavailable", zap.Error(err))
	}
	defer logging.CloseAll()

	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := session.OpenStore(cfg.ResolvePath(workspace, cfg.Storage.SessionDB))
	if err != nil {
		return err
	}
	defer store.Close()

	library, err := project.OpenDirLibrary(cfg.ResolvePath(workspace, cfg.Storage.ProjectDir))
	if err != nil {
		return err
	}

	disp := bus.NewDispatcher()
	defer disp.Close()

	// The synthetic device stands in until a platform capture backend is
	// wired; it produces real chunk traffic through the same interfaces.
	device := simdevice.New(simdevice.Options{SystemAudio: true})
	mediaHost := media.NewHost(disp, device, library, cfg.Media.ChunkInterval.Std())

	browser := pagehost.NewBrowser()
	defer browser.Shutdown()
	supervisor := &agentSupervisor{
		ctx:     ctx,
		browser: browser,
		disp:    disp,
		cfg: agent.Config{
			MousePollInterval:  cfg.Agent.MousePollInterval.Std(),
			TypingPollInterval: cfg.Agent.TypingPollInterval.Std(),
			CountdownStep:      time.Second,
			CountdownFrom:      cfg.Agent.CountdownFrom,
		},
		controlURL: controlURL,
		running:    make(map[string]bool),
	}

	coord, err := coordinator.New(disp, store, mediaHost, supervisor, coordinator.Config{
		CountdownTimeout:  cfg.Session.CountdownTimeout.Std(),
		ReadyInitialDelay: cfg.Session.ReadyInitialDelay.Std(),
		ReadyMaxAttempts:  cfg.Session.ReadyMaxAttempts,
		FinalizeTimeout:   cfg.Session.FinalizeTimeout.Std(),
		DesktopViewportW:  cfg.Media.DesktopViewportW,
		DesktopViewportH:  cfg.Media.DesktopViewportH,
	})
	if err != nil {
		return err
	}
	if err := coordinator.NewHandler(coord, disp).Register(); err != nil {
		return err
	}

	watcher, err := config.NewWatcher(workspace, nil)
	if err == nil {
		_ = watcher.Start(ctx)
		defer watcher.Stop()
	} else {
		logger.Warn("config watcher unavailable", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", bus.NewWSServer(disp))
	srv := &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("daemon listening", zap.String("addr", cfg.Server.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	// An active session must not be left dangling across daemon exit.
	if _, err := coord.StopSession(context.Background(), ""); err != nil {
		logger.Warn("stop on shutdown", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// agentSupervisor resolves capture handles and lazily provisions the capture
// agent for each recorded page target. Resolution happens before the readiness
// and countdown handshakes, so the agent is live by the time the coordinator
// calls it.
type agentSupervisor struct {
	ctx        context.Context
	browser    *pagehost.Browser
	disp       *bus.Dispatcher
	cfg        agent.Config
	controlURL string

	mu      sync.Mutex
	running map[string]bool
}

// Resolve implements coordinator.CaptureHandleResolver.
func (s *agentSupervisor) Resolve(ctx context.Context, targetContextID string, mode session.Mode) (string, error) {
	if err := s.browser.Connect(ctx, s.controlURL); err != nil {
		return "", err
	}
	if err := s.ensureAgent(targetContextID); err != nil {
		return "", err
	}
	return s.browser.Resolve(ctx, targetContextID, mode)
}

func (s *agentSupervisor) ensureAgent(targetContextID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[targetContextID] {
		return nil
	}

	host, err := s.browser.AttachTarget(s.ctx, targetContextID)
	if err != nil {
		return err
	}

	a := agent.New(targetContextID, host, s.disp, s.cfg)
	s.running[targetContextID] = true
	go func() {
		a.Run(s.ctx)
		s.mu.Lock()
		delete(s.running, targetContextID)
		s.mu.Unlock()
		s.browser.DetachTarget(targetContextID)
	}()
	return nil
}
