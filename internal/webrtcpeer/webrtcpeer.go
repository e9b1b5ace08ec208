package webrtcpeer

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/pion/interceptor"
	"github.com/pion/transport/v3"
	"github.com/pion/webrtc/v4"

	"github.com/link00000000/mimic/internal/config"
)

type APIOptions struct {
	// Net replaces the host network stack, e.g. with a vnet.Net in tests.
	Net transport.Net
	// RegisterCodecs populates the media engine. When nil, pion's default
	// codecs are registered.
	RegisterCodecs func(*webrtc.MediaEngine) error
	Logger         *slog.Logger
}

// NewAPI builds the pion API every Session is created from. Network settings
// come from cfg; codecs and the network stack from opts.
func NewAPI(cfg config.Config, opts APIOptions) (*webrtc.API, error) {
	se := webrtc.SettingEngine{}
	if err := ApplyNetworkSettings(&se, cfg); err != nil {
		return nil, err
	}
	if opts.Net != nil {
		se.SetNet(opts.Net)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	se.LoggerFactory = NewLoggerFactory(logger)

	me := &webrtc.MediaEngine{}
	register := opts.RegisterCodecs
	if register == nil {
		register = func(me *webrtc.MediaEngine) error { return me.RegisterDefaultCodecs() }
	}
	if err := register(me); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(ir),
	), nil
}

func ApplyNetworkSettings(se *webrtc.SettingEngine, cfg config.Config) error {
	if cfg.WebRTCUDPPortRange != nil {
		if err := se.SetEphemeralUDPPortRange(cfg.WebRTCUDPPortRange.Min, cfg.WebRTCUDPPortRange.Max); err != nil {
			return fmt.Errorf("set ephemeral udp port range: %w", err)
		}
	}

	// SettingEngine has no bind address; IPFilter restricts both candidate
	// gathering and socket binding instead.
	if !config.IsUnspecifiedIP(cfg.WebRTCUDPListenIP) {
		listenIP := cfg.WebRTCUDPListenIP
		se.SetIPFilter(func(ip net.IP) bool {
			return ip.Equal(listenIP)
		})
	}

	return nil
}
