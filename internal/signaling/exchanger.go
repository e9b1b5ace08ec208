package signaling

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Exchanger performs one offer/answer round trip with the receiver.
type Exchanger interface {
	Exchange(ctx context.Context, offer SessionDescription) (SessionDescription, error)
}

// ExchangerFunc adapts a function to Exchanger.
type ExchangerFunc func(ctx context.Context, offer SessionDescription) (SessionDescription, error)

func (f ExchangerFunc) Exchange(ctx context.Context, offer SessionDescription) (SessionDescription, error) {
	return f(ctx, offer)
}

const (
	DefaultTimeout          = 10 * time.Second
	DefaultMaxResponseBytes = int64(2 << 20)

	// SessionIDHeader identifies the sending session in receiver logs.
	SessionIDHeader = "X-Session-ID"
)

type Options struct {
	// Timeout bounds one exchange. Zero uses DefaultTimeout.
	Timeout time.Duration
	// MaxResponseBytes caps the answer size. Zero uses DefaultMaxResponseBytes.
	MaxResponseBytes int64
	// InsecureSkipVerify disables receiver certificate verification. Receivers
	// commonly run with self-signed certificates on a LAN.
	InsecureSkipVerify bool

	// HTTPClient overrides the client used for http(s) endpoints.
	HTTPClient *http.Client
	// Dialer overrides the dialer used for ws(s) endpoints.
	Dialer *websocket.Dialer

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxResponseBytes <= 0 {
		o.MaxResponseBytes = DefaultMaxResponseBytes
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func (o Options) tlsConfig() *tls.Config {
	if !o.InsecureSkipVerify {
		return nil
	}
	return &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed receivers
}

// NewExchanger picks the transport from the URL scheme: http(s) posts JSON,
// ws(s) issues a JSON-RPC "offer" call.
func NewExchanger(rawURL string, opts Options) (Exchanger, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("parse signaling url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return NewHTTPExchanger(u.String(), opts), nil
	case "ws", "wss":
		return NewRPCExchanger(u.String(), opts), nil
	default:
		return nil, fmt.Errorf("unsupported signaling url scheme %q", u.Scheme)
	}
}

type sessionIDKey struct{}

// WithSessionID attaches the sending session's ID to ctx so exchangers can
// forward it to the receiver.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

func sessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey{}).(string)
	return id
}
