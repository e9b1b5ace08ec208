package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/link00000000/mimic/internal/config"
	"github.com/link00000000/mimic/internal/coordinator"
	"github.com/link00000000/mimic/internal/httpserver"
	"github.com/link00000000/mimic/internal/media"
	"github.com/link00000000/mimic/internal/metrics"
	"github.com/link00000000/mimic/internal/signaling"
	"github.com/link00000000/mimic/internal/webrtcpeer"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	if err := cfg.ICEConfigError(); err != nil {
		logger.Error("invalid ICE server configuration", "err", err)
		os.Exit(2)
	}

	camera, err := media.NewCamera(cfg.Capture, logger)
	if err != nil {
		logger.Error("failed to configure camera", "err", err)
		os.Exit(2)
	}

	// Construct the WebRTC API early so misconfigurations are caught on startup.
	api, err := webrtcpeer.NewAPI(cfg, webrtcpeer.APIOptions{
		RegisterCodecs: camera.RegisterCodecs,
		Logger:         logger,
	})
	if err != nil {
		logger.Error("failed to configure webrtc", "err", err)
		os.Exit(2)
	}

	exchanger, err := signaling.NewExchanger(cfg.SignalingURL, signaling.Options{
		Timeout:            cfg.SignalingTimeout,
		MaxResponseBytes:   cfg.MaxSignalingResponseBytes,
		InsecureSkipVerify: cfg.SignalingInsecureSkipVerify,
		Logger:             logger,
	})
	if err != nil {
		logger.Error("failed to configure signaling", "err", err)
		os.Exit(2)
	}

	logger.Info("starting mimic-sender",
		"mode", cfg.Mode,
		"signaling_url_host", safeURLHost(cfg.SignalingURL),
		"ice_servers", len(cfg.ICEServers),
		"capture_width", cfg.Capture.Width,
		"capture_height", cfg.Capture.Height,
		"capture_frame_rate", cfg.Capture.FrameRate,
		"watch_devices", cfg.WatchDevices,
		"status_addr", cfg.StatusAddr,
		"restart", cfg.Restart.Enabled,
	)
	for _, d := range camera.Devices() {
		logger.Debug("video input available", "device_id", d.DeviceID, "label", d.Label)
	}

	logStartupWarnings(logger, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	var srv *httpserver.Server
	srvErrCh := make(chan error, 1)
	if cfg.StatusAddr != "" {
		ln, err := net.Listen("tcp", cfg.StatusAddr)
		if err != nil {
			logger.Error("failed to listen", "err", err)
			os.Exit(1)
		}
		commit, built := resolveBuildInfo(buildCommit, buildTime)
		srv = httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built}, m)
		go func() {
			srvErrCh <- srv.Serve(ln)
		}()
	}

	triggers, err := watchTriggers(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to watch for device changes", "err", err)
		os.Exit(1)
	}

	sup := &supervisor{
		newSession: func() (session, error) {
			return coordinator.New(coordinator.Config{
				API:                 api,
				ICEServers:          cfg.ICEServers,
				Exchanger:           exchanger,
				Acquirer:            camera,
				Constraints:         media.ConstraintsFromConfig(cfg.Capture),
				Preview:             media.LogPreview{Logger: logger},
				PreviewSurface:      cfg.PreviewSurface,
				ICEGatheringTimeout: cfg.ICEGatheringTimeout,
				ConnectTimeout:      cfg.ConnectTimeout,
				HeartbeatTimeout:    cfg.HeartbeatTimeout,
				Logger:              logger,
				Metrics:             m,
			})
		},
		onSession: func(s session) {
			if srv != nil {
				srv.SetSession(s)
			}
		},
		triggers: triggers,
		restart:  cfg.Restart,
		logger:   logger,
		metrics:  m,
	}

	runErr := sup.run(ctx)
	if runErr != nil {
		logger.Error("sender stopped", "err", runErr)
	} else {
		logger.Info("shutdown signal received")
	}

	exitCode := 0
	if runErr != nil {
		exitCode = 1
	}
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("status server shutdown failed", "err", err)
		}
		cancel()
		if err := <-srvErrCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server exited", "err", err)
			exitCode = 1
		}
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
