package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/sourcegraph/jsonrpc2"
	jsonrpc2ws "github.com/sourcegraph/jsonrpc2/websocket"
)

// MethodOffer is the JSON-RPC method the receiver serves. Params are the
// offer, the result is the answer.
const MethodOffer = "offer"

// RPCExchanger issues a single JSON-RPC 2.0 call over a WebSocket connection
// that lives only for the duration of the exchange.
type RPCExchanger struct {
	url    string
	dialer *websocket.Dialer
	opts   Options
	log    *slog.Logger
}

func NewRPCExchanger(url string, opts Options) *RPCExchanger {
	opts = opts.withDefaults()
	dialer := opts.Dialer
	if dialer == nil {
		d := *websocket.DefaultDialer
		d.TLSClientConfig = opts.tlsConfig()
		dialer = &d
	}
	return &RPCExchanger{
		url:    url,
		dialer: dialer,
		opts:   opts,
		log:    opts.Logger,
	}
}

func (e *RPCExchanger) Exchange(ctx context.Context, offer SessionDescription) (SessionDescription, error) {
	if err := offer.Validate(TypeOffer); err != nil {
		return SessionDescription{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	header := http.Header{}
	if id := sessionIDFromContext(ctx); id != "" {
		header.Set(SessionIDHeader, id)
	}

	ws, resp, err := e.dialer.DialContext(ctx, e.url, header)
	if err != nil {
		if resp != nil {
			return SessionDescription{}, &StatusError{StatusCode: resp.StatusCode}
		}
		return SessionDescription{}, fmt.Errorf("%w: dial: %w", ErrUnavailable, err)
	}
	ws.SetReadLimit(e.opts.MaxResponseBytes)

	conn := jsonrpc2.NewConn(ctx, jsonrpc2ws.NewObjectStream(ws), jsonrpc2.HandlerWithError(rejectInbound))
	defer conn.Close()

	var answer SessionDescription
	if err := conn.Call(ctx, MethodOffer, offer, &answer); err != nil {
		var rpcErr *jsonrpc2.Error
		if errors.As(err, &rpcErr) {
			return SessionDescription{}, &StatusError{StatusCode: int(rpcErr.Code), Body: rpcErr.Message}
		}
		return SessionDescription{}, fmt.Errorf("%w: call %s: %w", ErrUnavailable, MethodOffer, err)
	}

	e.log.Debug("signaling exchange completed", "url", e.url, "transport", "jsonrpc")

	if err := answer.Validate(TypeAnswer); err != nil {
		return SessionDescription{}, fmt.Errorf("%w: %w", ErrRejected, err)
	}
	return answer, nil
}

// rejectInbound refuses server-initiated requests; the exchange is strictly
// sender-driven.
func rejectInbound(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request) (interface{}, error) {
	return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "sender accepts no requests"}
}
