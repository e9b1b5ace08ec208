package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	envVarMode            = "MIMIC_MODE"
	envVarLogFormat       = "MIMIC_LOG_FORMAT"
	envVarLogLevel        = "MIMIC_LOG_LEVEL"
	envVarShutdownTimeout = "MIMIC_SHUTDOWN_TIMEOUT"

	// Offer/answer exchange with the receiver.
	envVarSignalingURL                = "MIMIC_SIGNALING_URL"
	envVarSignalingTimeout            = "MIMIC_SIGNALING_TIMEOUT"
	envVarSignalingInsecureSkipVerify = "MIMIC_SIGNALING_INSECURE_SKIP_VERIFY"
	envVarMaxSignalingResponseBytes   = "MIMIC_MAX_SIGNALING_RESPONSE_BYTES"

	// Session lifecycle.
	envVarICEGatheringTimeout = "MIMIC_ICE_GATHERING_TIMEOUT"
	envVarConnectTimeout      = "MIMIC_CONNECT_TIMEOUT"
	envVarHeartbeatTimeout    = "MIMIC_HEARTBEAT_TIMEOUT"

	// Capture.
	envVarCaptureDeviceID     = "MIMIC_CAPTURE_DEVICE_ID"
	envVarCaptureWidth        = "MIMIC_CAPTURE_WIDTH"
	envVarCaptureHeight       = "MIMIC_CAPTURE_HEIGHT"
	envVarCaptureFrameRate    = "MIMIC_CAPTURE_FRAME_RATE"
	envVarCaptureFrameRateMax = "MIMIC_CAPTURE_FRAME_RATE_MAX"
	envVarVideoBitRate        = "MIMIC_VIDEO_BITRATE"
	envVarKeyFrameInterval    = "MIMIC_KEYFRAME_INTERVAL"
	envVarPreviewSurface      = "MIMIC_PREVIEW_SURFACE"

	// Device change triggers.
	envVarWatchDevices = "MIMIC_WATCH_DEVICES"
	envVarDeviceDir    = "MIMIC_DEVICE_DIR"

	envVarStatusAddr = "MIMIC_STATUS_ADDR"

	// Restart policy applied by the CLI after a fatal session error.
	envVarRestart                = "MIMIC_RESTART"
	envVarRestartInitialInterval = "MIMIC_RESTART_INITIAL_INTERVAL"
	envVarRestartMaxInterval     = "MIMIC_RESTART_MAX_INTERVAL"
	envVarRestartMaxElapsed      = "MIMIC_RESTART_MAX_ELAPSED"

	envVarWebRTCUDPPortMin  = "MIMIC_WEBRTC_UDP_PORT_MIN"
	envVarWebRTCUDPPortMax  = "MIMIC_WEBRTC_UDP_PORT_MAX"
	envVarWebRTCUDPListenIP = "MIMIC_WEBRTC_UDP_LISTEN_IP"
)

const (
	flagWebRTCUDPPortMin  = "webrtc-udp-port-min"
	flagWebRTCUDPPortMax  = "webrtc-udp-port-max"
	flagWebRTCUDPListenIP = "webrtc-udp-listen-ip"
)

const (
	DefaultMode                Mode = ModeDev
	DefaultShutdown                 = 5 * time.Second
	DefaultSignalingURL             = "https://localhost:8080/offer"
	DefaultSignalingTimeout         = 10 * time.Second
	DefaultMaxSignalingResponseSize = int64(2 << 20)

	// DefaultICEGatherTimeout bounds the wait for candidate gathering before the
	// offer is sent. Non-trickle signaling cannot proceed without it.
	DefaultICEGatherTimeout = 5 * time.Second
	DefaultConnectTimeout   = 30 * time.Second

	// DefaultHeartbeatTimeout matches the receiver's staleness window; the
	// receiver pings once per second.
	DefaultHeartbeatTimeout = 5 * time.Second

	DefaultCaptureWidth        = 640
	DefaultCaptureHeight       = 360
	DefaultCaptureFrameRate    = 10.0
	DefaultCaptureFrameRateMax = 15.0
	DefaultVideoBitRate        = 500_000
	DefaultKeyFrameInterval    = 30
	DefaultPreviewSurface      = "video-preview"

	DefaultDeviceDir = "/dev"

	DefaultRestartInitialInterval = 1 * time.Second
	DefaultRestartMaxInterval     = 30 * time.Second

	DefaultWebRTCUDPListenIP = "0.0.0.0"
)

// recommendedWebRTCUDPPortRangeSize keeps ICE from running out of ports on
// hosts where the sender rebuilds sessions repeatedly.
const recommendedWebRTCUDPPortRangeSize = 20

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type UDPPortRange struct {
	Min uint16
	Max uint16
}

// CaptureConfig is the fixed constraint set used for every media acquisition.
type CaptureConfig struct {
	DeviceID     string
	Width        int
	Height       int
	FrameRate    float64
	FrameRateMax float64

	VideoBitRate     int
	KeyFrameInterval int
}

// RestartConfig controls how the CLI rebuilds a session after a fatal error.
type RestartConfig struct {
	Enabled         bool
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxElapsed of zero retries forever.
	MaxElapsed time.Duration
}

type Config struct {
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	SignalingURL                string
	SignalingTimeout            time.Duration
	SignalingInsecureSkipVerify bool
	MaxSignalingResponseBytes   int64

	ICEGatheringTimeout time.Duration
	ConnectTimeout      time.Duration
	HeartbeatTimeout    time.Duration

	Capture        CaptureConfig
	PreviewSurface string

	WatchDevices bool
	DeviceDir    string

	// StatusAddr enables the local status server when non-empty.
	StatusAddr string

	Restart RestartConfig

	// WebRTCUDPPortRange restricts the UDP ports used for ICE. When nil, pion uses
	// its defaults (OS ephemeral port selection).
	WebRTCUDPPortRange *UDPPortRange

	// WebRTCUDPListenIP restricts which local interface address ICE will bind UDP
	// sockets to. 0.0.0.0 means "use library default".
	WebRTCUDPListenIP net.IP

	ICEServers []webrtc.ICEServer

	iceConfigErr error
}

func (c Config) ICEConfigError() error {
	return c.iceConfigErr
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	signalingURL := envOrDefault(lookup, envVarSignalingURL, DefaultSignalingURL)
	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")
	captureDeviceID := envOrDefault(lookup, envVarCaptureDeviceID, "")
	previewSurface := envOrDefault(lookup, envVarPreviewSurface, DefaultPreviewSurface)
	deviceDir := envOrDefault(lookup, envVarDeviceDir, DefaultDeviceDir)
	statusAddr := envOrDefault(lookup, envVarStatusAddr, "")

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	signalingTimeout, err := envDurationOrDefault(lookup, envVarSignalingTimeout, DefaultSignalingTimeout)
	if err != nil {
		return Config{}, err
	}
	iceGatherTimeout, err := envDurationOrDefault(lookup, envVarICEGatheringTimeout, DefaultICEGatherTimeout)
	if err != nil {
		return Config{}, err
	}
	connectTimeout, err := envDurationOrDefault(lookup, envVarConnectTimeout, DefaultConnectTimeout)
	if err != nil {
		return Config{}, err
	}
	heartbeatTimeout, err := envDurationOrDefault(lookup, envVarHeartbeatTimeout, DefaultHeartbeatTimeout)
	if err != nil {
		return Config{}, err
	}
	restartInitial, err := envDurationOrDefault(lookup, envVarRestartInitialInterval, DefaultRestartInitialInterval)
	if err != nil {
		return Config{}, err
	}
	restartMax, err := envDurationOrDefault(lookup, envVarRestartMaxInterval, DefaultRestartMaxInterval)
	if err != nil {
		return Config{}, err
	}
	restartMaxElapsed, err := envDurationOrDefault(lookup, envVarRestartMaxElapsed, 0)
	if err != nil {
		return Config{}, err
	}

	insecureSkipVerify, err := envBoolOrDefault(lookup, envVarSignalingInsecureSkipVerify, false)
	if err != nil {
		return Config{}, err
	}
	watchDevices, err := envBoolOrDefault(lookup, envVarWatchDevices, true)
	if err != nil {
		return Config{}, err
	}
	restart, err := envBoolOrDefault(lookup, envVarRestart, true)
	if err != nil {
		return Config{}, err
	}

	maxSignalingResponseBytes := DefaultMaxSignalingResponseSize
	if raw, ok := lookup(envVarMaxSignalingResponseBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxSignalingResponseBytes, raw, err)
		}
		maxSignalingResponseBytes = n
	}

	captureWidth, err := envIntOrDefault(lookup, envVarCaptureWidth, DefaultCaptureWidth)
	if err != nil {
		return Config{}, err
	}
	captureHeight, err := envIntOrDefault(lookup, envVarCaptureHeight, DefaultCaptureHeight)
	if err != nil {
		return Config{}, err
	}
	captureFrameRate, err := envFloatOrDefault(lookup, envVarCaptureFrameRate, DefaultCaptureFrameRate)
	if err != nil {
		return Config{}, err
	}
	captureFrameRateMax, err := envFloatOrDefault(lookup, envVarCaptureFrameRateMax, DefaultCaptureFrameRateMax)
	if err != nil {
		return Config{}, err
	}
	videoBitRate, err := envIntOrDefault(lookup, envVarVideoBitRate, DefaultVideoBitRate)
	if err != nil {
		return Config{}, err
	}
	keyFrameInterval, err := envIntOrDefault(lookup, envVarKeyFrameInterval, DefaultKeyFrameInterval)
	if err != nil {
		return Config{}, err
	}

	// WebRTC network defaults (env values become flag defaults).
	var webrtcUDPPortMin uint
	if raw, ok := lookup(envVarWebRTCUDPPortMin); ok && strings.TrimSpace(raw) != "" {
		p, err := parsePortString(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarWebRTCUDPPortMin, raw, err)
		}
		webrtcUDPPortMin = uint(p)
	}
	var webrtcUDPPortMax uint
	if raw, ok := lookup(envVarWebRTCUDPPortMax); ok && strings.TrimSpace(raw) != "" {
		p, err := parsePortString(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarWebRTCUDPPortMax, raw, err)
		}
		webrtcUDPPortMax = uint(p)
	}
	webrtcUDPListenIPStr := envOrDefault(lookup, envVarWebRTCUDPListenIP, DefaultWebRTCUDPListenIP)

	fs := flag.NewFlagSet("mimic-sender", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (env "+envVarShutdownTimeout+")")

	fs.StringVar(&signalingURL, "signaling-url", signalingURL, "Receiver offer endpoint: http(s):// for JSON POST or ws(s):// for JSON-RPC (env "+envVarSignalingURL+")")
	fs.DurationVar(&signalingTimeout, "signaling-timeout", signalingTimeout, "Max time for one offer/answer exchange (env "+envVarSignalingTimeout+")")
	fs.BoolVar(&insecureSkipVerify, "signaling-insecure-skip-verify", insecureSkipVerify, "Skip TLS verification of the receiver certificate (env "+envVarSignalingInsecureSkipVerify+")")
	fs.Int64Var(&maxSignalingResponseBytes, "max-signaling-response-bytes", maxSignalingResponseBytes, "Max answer response size in bytes (env "+envVarMaxSignalingResponseBytes+")")

	fs.DurationVar(&iceGatherTimeout, "ice-gather-timeout", iceGatherTimeout, "Max time to wait for ICE gathering before sending the offer (env "+envVarICEGatheringTimeout+")")
	fs.DurationVar(&connectTimeout, "connect-timeout", connectTimeout, "Max time to wait for the metadata channel to open after negotiation (env "+envVarConnectTimeout+")")
	fs.DurationVar(&heartbeatTimeout, "heartbeat-timeout", heartbeatTimeout, "Declare the connection lost after this much silence on the latency channel (env "+envVarHeartbeatTimeout+")")
	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config ("+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "comma-separated STUN URLs ("+envStunURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "comma-separated TURN URLs ("+envTurnURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username ("+envTurnUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential ("+envTurnCredential+")")

	fs.StringVar(&captureDeviceID, "capture-device-id", captureDeviceID, "Camera device ID (empty = first available; env "+envVarCaptureDeviceID+")")
	fs.IntVar(&captureWidth, "capture-width", captureWidth, "Requested capture width (env "+envVarCaptureWidth+")")
	fs.IntVar(&captureHeight, "capture-height", captureHeight, "Requested capture height (env "+envVarCaptureHeight+")")
	fs.Float64Var(&captureFrameRate, "capture-frame-rate", captureFrameRate, "Ideal capture frame rate (env "+envVarCaptureFrameRate+")")
	fs.Float64Var(&captureFrameRateMax, "capture-frame-rate-max", captureFrameRateMax, "Max capture frame rate (env "+envVarCaptureFrameRateMax+")")
	fs.IntVar(&videoBitRate, "video-bitrate", videoBitRate, "VP8 target bitrate in bits/sec (env "+envVarVideoBitRate+")")
	fs.IntVar(&keyFrameInterval, "keyframe-interval", keyFrameInterval, "VP8 keyframe interval in frames (env "+envVarKeyFrameInterval+")")
	fs.StringVar(&previewSurface, "preview-surface", previewSurface, "Preview sink name (env "+envVarPreviewSurface+")")

	fs.BoolVar(&watchDevices, "watch-devices", watchDevices, "Replace the video source when capture devices change (env "+envVarWatchDevices+")")
	fs.StringVar(&deviceDir, "device-dir", deviceDir, "Directory watched for video device changes (env "+envVarDeviceDir+")")
	fs.StringVar(&statusAddr, "status-addr", statusAddr, "Local status server listen address (empty = disabled; env "+envVarStatusAddr+")")

	fs.BoolVar(&restart, "restart", restart, "Rebuild the session after a fatal error (env "+envVarRestart+")")
	fs.DurationVar(&restartInitial, "restart-initial-interval", restartInitial, "Initial delay before rebuilding a failed session (env "+envVarRestartInitialInterval+")")
	fs.DurationVar(&restartMax, "restart-max-interval", restartMax, "Max delay between session rebuilds (env "+envVarRestartMaxInterval+")")
	fs.DurationVar(&restartMaxElapsed, "restart-max-elapsed", restartMaxElapsed, "Give up rebuilding after this long (0 = never; env "+envVarRestartMaxElapsed+")")

	fs.UintVar(&webrtcUDPPortMin, flagWebRTCUDPPortMin, webrtcUDPPortMin, "Min UDP port for WebRTC ICE (0 = unset; env "+envVarWebRTCUDPPortMin+")")
	fs.UintVar(&webrtcUDPPortMax, flagWebRTCUDPPortMax, webrtcUDPPortMax, "Max UDP port for WebRTC ICE (0 = unset; env "+envVarWebRTCUDPPortMax+")")
	fs.StringVar(&webrtcUDPListenIPStr, flagWebRTCUDPListenIP, webrtcUDPListenIPStr, "Local listen IP for WebRTC ICE UDP sockets (env "+envVarWebRTCUDPListenIP+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}
	if !envLogFormatSet && !setFlags["log-format"] {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !envLogLevelSet && !setFlags["log-level"] {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}
	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	signalingURL, err = normalizeSignalingURL(signalingURL)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/--signaling-url: %w", envVarSignalingURL, err)
	}

	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown timeout must be > 0")
	}
	if signalingTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-timeout must be > 0", envVarSignalingTimeout)
	}
	if maxSignalingResponseBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-response-bytes must be > 0", envVarMaxSignalingResponseBytes)
	}
	if iceGatherTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--ice-gather-timeout must be > 0", envVarICEGatheringTimeout)
	}
	if connectTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--connect-timeout must be > 0", envVarConnectTimeout)
	}
	if heartbeatTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--heartbeat-timeout must be > 0", envVarHeartbeatTimeout)
	}
	if captureWidth <= 0 || captureHeight <= 0 {
		return Config{}, fmt.Errorf("capture width and height must be > 0 (got %dx%d)", captureWidth, captureHeight)
	}
	if captureFrameRate <= 0 {
		return Config{}, fmt.Errorf("%s/--capture-frame-rate must be > 0", envVarCaptureFrameRate)
	}
	if captureFrameRateMax < captureFrameRate {
		return Config{}, fmt.Errorf("%s/--capture-frame-rate-max must be >= %s/--capture-frame-rate", envVarCaptureFrameRateMax, envVarCaptureFrameRate)
	}
	if videoBitRate <= 0 {
		return Config{}, fmt.Errorf("%s/--video-bitrate must be > 0", envVarVideoBitRate)
	}
	if keyFrameInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--keyframe-interval must be > 0", envVarKeyFrameInterval)
	}
	if strings.TrimSpace(previewSurface) == "" {
		return Config{}, fmt.Errorf("%s/--preview-surface must not be empty", envVarPreviewSurface)
	}
	if watchDevices && strings.TrimSpace(deviceDir) == "" {
		return Config{}, fmt.Errorf("%s/--device-dir must be set when device watching is enabled", envVarDeviceDir)
	}
	if restart {
		if restartInitial <= 0 {
			return Config{}, fmt.Errorf("%s/--restart-initial-interval must be > 0", envVarRestartInitialInterval)
		}
		if restartMax < restartInitial {
			return Config{}, fmt.Errorf("%s/--restart-max-interval must be >= %s/--restart-initial-interval", envVarRestartMaxInterval, envVarRestartInitialInterval)
		}
		if restartMaxElapsed < 0 {
			return Config{}, fmt.Errorf("%s/--restart-max-elapsed must be >= 0", envVarRestartMaxElapsed)
		}
	}

	var webrtcUDPPortRange *UDPPortRange
	if webrtcUDPPortMin != 0 || webrtcUDPPortMax != 0 {
		if webrtcUDPPortMin == 0 || webrtcUDPPortMax == 0 {
			return Config{}, fmt.Errorf("%s/%s and %s/%s must be set together (or both unset)",
				envVarWebRTCUDPPortMin, "--"+flagWebRTCUDPPortMin,
				envVarWebRTCUDPPortMax, "--"+flagWebRTCUDPPortMax,
			)
		}
		min, err := parsePortUint(webrtcUDPPortMin)
		if err != nil {
			return Config{}, fmt.Errorf("%s/%s: %w", envVarWebRTCUDPPortMin, "--"+flagWebRTCUDPPortMin, err)
		}
		max, err := parsePortUint(webrtcUDPPortMax)
		if err != nil {
			return Config{}, fmt.Errorf("%s/%s: %w", envVarWebRTCUDPPortMax, "--"+flagWebRTCUDPPortMax, err)
		}
		if min > max {
			return Config{}, fmt.Errorf("WebRTC UDP port range min (%d) must be <= max (%d)", min, max)
		}
		size := int(max) - int(min) + 1
		if size < recommendedWebRTCUDPPortRangeSize {
			return Config{}, fmt.Errorf("WebRTC UDP port range is too small: %d ports (min %d recommended)", size, recommendedWebRTCUDPPortRangeSize)
		}
		webrtcUDPPortRange = &UDPPortRange{Min: min, Max: max}
	}

	webrtcUDPListenIP := net.ParseIP(strings.TrimSpace(webrtcUDPListenIPStr))
	if webrtcUDPListenIP == nil {
		return Config{}, fmt.Errorf("invalid %s/%s %q", envVarWebRTCUDPListenIP, "--"+flagWebRTCUDPListenIP, webrtcUDPListenIPStr)
	}

	cfg := Config{
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        level,
		ShutdownTimeout: shutdownTimeout,

		SignalingURL:                signalingURL,
		SignalingTimeout:            signalingTimeout,
		SignalingInsecureSkipVerify: insecureSkipVerify,
		MaxSignalingResponseBytes:   maxSignalingResponseBytes,

		ICEGatheringTimeout: iceGatherTimeout,
		ConnectTimeout:      connectTimeout,
		HeartbeatTimeout:    heartbeatTimeout,

		Capture: CaptureConfig{
			DeviceID:         strings.TrimSpace(captureDeviceID),
			Width:            captureWidth,
			Height:           captureHeight,
			FrameRate:        captureFrameRate,
			FrameRateMax:     captureFrameRateMax,
			VideoBitRate:     videoBitRate,
			KeyFrameInterval: keyFrameInterval,
		},
		PreviewSurface: strings.TrimSpace(previewSurface),

		WatchDevices: watchDevices,
		DeviceDir:    strings.TrimSpace(deviceDir),
		StatusAddr:   strings.TrimSpace(statusAddr),

		Restart: RestartConfig{
			Enabled:         restart,
			InitialInterval: restartInitial,
			MaxInterval:     restartMax,
			MaxElapsed:      restartMaxElapsed,
		},

		WebRTCUDPPortRange: webrtcUDPPortRange,
		WebRTCUDPListenIP:  webrtcUDPListenIP,
	}

	iceServers, err := parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential)
	if err != nil {
		cfg.iceConfigErr = err
	} else {
		cfg.ICEServers = iceServers
	}

	return cfg, nil
}

// normalizeSignalingURL accepts http, https, ws and wss receiver endpoints.
func normalizeSignalingURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "ws", "wss":
	default:
		return "", fmt.Errorf("%q: expected http://, https://, ws:// or wss://", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%q: missing host", raw)
	}
	if u.User != nil {
		return "", fmt.Errorf("%q: must not include credentials", raw)
	}
	return raw, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func IsUnspecifiedIP(ip net.IP) bool {
	return ip == nil || ip.Equal(net.IPv4zero) || ip.Equal(net.IPv6zero)
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envFloatOrDefault(lookup func(string) (string, bool), key string, fallback float64) (float64, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return f, nil
}

func envBoolOrDefault(lookup func(string) (string, bool), key string, fallback bool) (bool, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parsePortString(s string) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return parsePortUint(uint(v))
}

func parsePortUint(v uint) (uint16, error) {
	if v == 0 || v > 65535 {
		return 0, fmt.Errorf("port %d out of range (1-65535)", v)
	}
	return uint16(v), nil
}
