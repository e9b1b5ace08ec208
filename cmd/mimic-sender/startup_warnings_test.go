package main

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/link00000000/mimic/internal/config"
)

type recordedLog struct {
	level slog.Level
	msg   string
	attrs map[string]any
}

type recordingHandler struct {
	mu      *sync.Mutex
	records *[]recordedLog
	attrs   []slog.Attr
	groups  []string
}

func newRecordingLogger() (*slog.Logger, func() []recordedLog) {
	mu := &sync.Mutex{}
	records := &[]recordedLog{}
	h := &recordingHandler{mu: mu, records: records}
	logger := slog.New(h)
	return logger, func() []recordedLog {
		mu.Lock()
		defer mu.Unlock()
		out := make([]recordedLog, len(*records))
		copy(out, *records)
		return out
	}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	rec := recordedLog{
		level: r.Level,
		msg:   r.Message,
		attrs: map[string]any{},
	}
	for _, a := range h.attrs {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	*h.records = append(*h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := h.clone()
	nh.attrs = append(nh.attrs, attrs...)
	return nh
}

func (h *recordingHandler) WithGroup(name string) slog.Handler {
	nh := h.clone()
	nh.groups = append(nh.groups, name)
	return nh
}

func (h *recordingHandler) clone() *recordingHandler {
	cp := &recordingHandler{
		mu:      h.mu,
		records: h.records,
	}
	if len(h.attrs) > 0 {
		cp.attrs = append([]slog.Attr(nil), h.attrs...)
	}
	if len(h.groups) > 0 {
		cp.groups = append([]string(nil), h.groups...)
	}
	return cp
}

func (h *recordingHandler) key(k string) string {
	if len(h.groups) == 0 {
		return k
	}
	return strings.Join(h.groups, ".") + "." + k
}

func warningCodes(records []recordedLog) map[string]bool {
	codes := map[string]bool{}
	for _, r := range records {
		if r.level != slog.LevelWarn {
			continue
		}
		if code, ok := r.attrs["warning_code"].(string); ok {
			codes[code] = true
		}
	}
	return codes
}

func TestStartupWarnings(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
		want string
	}{
		{
			name: "insecure skip verify",
			cfg: config.Config{
				Mode:                        config.ModeDev,
				SignalingURL:                "https://receiver.local:8080/offer",
				SignalingInsecureSkipVerify: true,
			},
			want: "signaling_insecure_skip_verify",
		},
		{
			name: "plaintext remote signaling",
			cfg: config.Config{
				Mode:         config.ModeDev,
				SignalingURL: "ws://192.168.1.20:8080/rpc",
			},
			want: "signaling_plaintext",
		},
		{
			name: "no ICE servers in prod",
			cfg: config.Config{
				Mode:         config.ModeProd,
				SignalingURL: "https://receiver.example.com/offer",
			},
			want: "no_ice_servers_in_prod",
		},
		{
			name: "public status address",
			cfg: config.Config{
				Mode:         config.ModeDev,
				SignalingURL: "https://receiver.example.com/offer",
				StatusAddr:   "0.0.0.0:9090",
			},
			want: "status_addr_public",
		},
		{
			name: "short heartbeat timeout",
			cfg: config.Config{
				Mode:             config.ModeDev,
				SignalingURL:     "https://receiver.example.com/offer",
				HeartbeatTimeout: 500 * time.Millisecond,
			},
			want: "heartbeat_timeout_short",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, records := newRecordingLogger()
			logStartupWarnings(logger, tt.cfg)
			if codes := warningCodes(records()); !codes[tt.want] {
				t.Fatalf("expected warning_code=%s, got %#v", tt.want, records())
			}
		})
	}
}

func TestStartupWarnings_QuietForSafeConfig(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := config.Config{
		Mode:             config.ModeProd,
		SignalingURL:     "http://127.0.0.1:8080/offer",
		StatusAddr:       "localhost:9090",
		HeartbeatTimeout: config.DefaultHeartbeatTimeout,
		ICEServers:       []webrtc.ICEServer{{URLs: []string{"stun:stun.example.com:3478"}}},
	}
	logStartupWarnings(logger, cfg)

	if codes := warningCodes(records()); len(codes) != 0 {
		t.Fatalf("unexpected warnings: %v", codes)
	}
}

func TestStartupWarnings_CarriesHost(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupWarnings(logger, config.Config{
		Mode:         config.ModeDev,
		SignalingURL: "http://receiver.lan:8080/offer",
	})

	for _, r := range records() {
		if r.attrs["warning_code"] != "signaling_plaintext" {
			continue
		}
		if r.attrs["signaling_url_host"] != "receiver.lan:8080" {
			t.Fatalf("signaling_url_host=%#v, want %q", r.attrs["signaling_url_host"], "receiver.lan:8080")
		}
		return
	}
	t.Fatalf("expected warning_code=signaling_plaintext, got %#v", records())
}
