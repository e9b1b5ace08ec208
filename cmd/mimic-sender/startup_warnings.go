package main

import (
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/link00000000/mimic/internal/config"
)

// The receiver pings the latency channel once per second.
const minHeartbeatTimeout = 2 * time.Second

func logStartupWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.SignalingInsecureSkipVerify {
		logger.Warn("startup security warning: SIGNALING_INSECURE_SKIP_VERIFY=true disables receiver certificate verification",
			"warning_code", "signaling_insecure_skip_verify",
			"signaling_url_host", safeURLHost(cfg.SignalingURL),
			"mode", cfg.Mode,
		)
	}

	if isPlaintextRemote(cfg.SignalingURL) {
		logger.Warn("startup security warning: signaling URL is unencrypted and not loopback (offer and answer travel in the clear)",
			"warning_code", "signaling_plaintext",
			"signaling_url_host", safeURLHost(cfg.SignalingURL),
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && len(cfg.ICEServers) == 0 {
		logger.Warn("startup warning: no ICE servers configured while --mode=prod (only host candidates will be offered)",
			"warning_code", "no_ice_servers_in_prod",
			"mode", cfg.Mode,
		)
	}

	if cfg.StatusAddr != "" && !isLoopbackAddr(cfg.StatusAddr) {
		logger.Warn("startup security warning: status server listens on a non-loopback address",
			"warning_code", "status_addr_public",
			"status_addr", cfg.StatusAddr,
			"mode", cfg.Mode,
		)
	}

	if cfg.HeartbeatTimeout > 0 && cfg.HeartbeatTimeout < minHeartbeatTimeout {
		logger.Warn("startup warning: HEARTBEAT_TIMEOUT is shorter than two receiver ping intervals (spurious connection loss likely)",
			"warning_code", "heartbeat_timeout_short",
			"heartbeat_timeout", cfg.HeartbeatTimeout,
			"mode", cfg.Mode,
		)
	}
}

func isPlaintextRemote(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
	default:
		return false
	}
	return !isLoopbackHost(u.Hostname())
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	return isLoopbackHost(host)
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func safeURLHost(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return u.Host
}
