package peertest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/sourcegraph/jsonrpc2"
	jsonrpc2ws "github.com/sourcegraph/jsonrpc2/websocket"

	"github.com/link00000000/mimic/internal/auxchannel"
	"github.com/link00000000/mimic/internal/signaling"
)

const (
	labelLatency  = "latency"
	labelMetadata = "metadata"
)

// Receiver is a single-session answerer. Like the production receiver it
// refuses a second offer with 409 while a session is active.
type Receiver struct {
	api *webrtc.API
	log *slog.Logger

	mu         sync.Mutex
	pc         *webrtc.PeerConnection
	channels   map[string]*webrtc.DataChannel
	offers     []signaling.SessionDescription
	failStatus int

	latency  chan string
	metadata chan auxchannel.Metadata
	tracks   chan *webrtc.TrackRemote
	opened   chan string
}

func NewReceiver(api *webrtc.API, logger *slog.Logger) *Receiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{
		api:      api,
		log:      logger.With("component", "peertest_receiver"),
		channels: make(map[string]*webrtc.DataChannel),
		latency:  make(chan string, 128),
		metadata: make(chan auxchannel.Metadata, 16),
		tracks:   make(chan *webrtc.TrackRemote, 4),
		opened:   make(chan string, 8),
	}
}

// FailWith makes every following exchange fail with status. Zero restores
// normal answering.
func (r *Receiver) FailWith(status int) {
	r.mu.Lock()
	r.failStatus = status
	r.mu.Unlock()
}

// Offers returns every offer received, including rejected ones.
func (r *Receiver) Offers() []signaling.SessionDescription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]signaling.SessionDescription(nil), r.offers...)
}

// Latency delivers every message received on the latency channel.
func (r *Receiver) Latency() <-chan string { return r.latency }

// Metadata delivers every announcement received on the metadata channel.
func (r *Receiver) Metadata() <-chan auxchannel.Metadata { return r.metadata }

// Tracks delivers remote media tracks as they start.
func (r *Receiver) Tracks() <-chan *webrtc.TrackRemote { return r.tracks }

// Opened delivers the label of each data channel once it opens.
func (r *Receiver) Opened() <-chan string { return r.opened }

// Exchange answers in-process, satisfying signaling.Exchanger.
func (r *Receiver) Exchange(ctx context.Context, offer signaling.SessionDescription) (signaling.SessionDescription, error) {
	answer, status, err := r.answer(ctx, offer)
	if err != nil {
		return signaling.SessionDescription{}, &signaling.StatusError{StatusCode: status, Body: err.Error()}
	}
	return answer, nil
}

var _ signaling.Exchanger = (*Receiver)(nil)

// ServeHTTP implements POST /offer.
func (r *Receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(req.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	var offer signaling.SessionDescription
	if err := json.Unmarshal(body, &offer); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	answer, status, err := r.answer(req.Context(), offer)
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(answer)
}

// RPCHandler serves the JSON-RPC "offer" method over WebSocket.
func (r *Receiver) RPCHandler() http.Handler {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ws, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		h := jsonrpc2.HandlerWithError(func(ctx context.Context, _ *jsonrpc2.Conn, rpcReq *jsonrpc2.Request) (interface{}, error) {
			if rpcReq.Method != signaling.MethodOffer {
				return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: rpcReq.Method}
			}
			if rpcReq.Params == nil {
				return nil, &jsonrpc2.Error{Code: http.StatusBadRequest, Message: "missing offer"}
			}
			var offer signaling.SessionDescription
			if err := json.Unmarshal(*rpcReq.Params, &offer); err != nil {
				return nil, &jsonrpc2.Error{Code: http.StatusBadRequest, Message: err.Error()}
			}
			answer, status, err := r.answer(ctx, offer)
			if err != nil {
				return nil, &jsonrpc2.Error{Code: int64(status), Message: err.Error()}
			}
			return answer, nil
		})
		conn := jsonrpc2.NewConn(req.Context(), jsonrpc2ws.NewObjectStream(ws), h)
		<-conn.DisconnectNotify()
	})
}

func (r *Receiver) answer(ctx context.Context, offer signaling.SessionDescription) (signaling.SessionDescription, int, error) {
	r.mu.Lock()
	r.offers = append(r.offers, offer)
	if r.failStatus != 0 {
		status := r.failStatus
		r.mu.Unlock()
		return signaling.SessionDescription{}, status, fmt.Errorf("configured failure %d", status)
	}
	if r.pc != nil {
		r.mu.Unlock()
		return signaling.SessionDescription{}, http.StatusConflict, errors.New("already connected")
	}
	if err := offer.Validate(signaling.TypeOffer); err != nil {
		r.mu.Unlock()
		return signaling.SessionDescription{}, http.StatusBadRequest, err
	}

	pc, err := r.api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		r.mu.Unlock()
		return signaling.SessionDescription{}, http.StatusInternalServerError, err
	}
	r.pc = pc
	r.mu.Unlock()

	r.wire(pc)

	answer, err := answerOffer(ctx, pc, offer)
	if err != nil {
		r.Disconnect()
		return signaling.SessionDescription{}, http.StatusInternalServerError, err
	}
	return answer, http.StatusOK, nil
}

func answerOffer(ctx context.Context, pc *webrtc.PeerConnection, offer signaling.SessionDescription) (signaling.SessionDescription, error) {
	remote, err := offer.ToPion()
	if err != nil {
		return signaling.SessionDescription{}, err
	}
	if err := pc.SetRemoteDescription(remote); err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return signaling.SessionDescription{}, ctx.Err()
	}
	local := pc.LocalDescription()
	if local == nil {
		return signaling.SessionDescription{}, errors.New("missing local answer")
	}
	return signaling.FromPion(*local), nil
}

func (r *Receiver) wire(pc *webrtc.PeerConnection) {
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		select {
		case r.tracks <- track:
		default:
		}
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		label := dc.Label()
		r.mu.Lock()
		r.channels[label] = dc
		r.mu.Unlock()

		dc.OnOpen(func() {
			select {
			case r.opened <- label:
			default:
			}
		})

		switch label {
		case labelLatency:
			dc.OnMessage(func(msg webrtc.DataChannelMessage) {
				select {
				case r.latency <- string(msg.Data):
				default:
				}
			})
		case labelMetadata:
			dc.OnMessage(func(msg webrtc.DataChannelMessage) {
				md, err := auxchannel.ParseMetadata(msg.Data)
				if err != nil {
					r.log.Warn("invalid metadata message", "err", err)
					return
				}
				select {
				case r.metadata <- md:
				default:
				}
			})
		}
	})
}

// Ping sends payload on the latency channel, as the receiver's polling loop
// does with timestamps.
func (r *Receiver) Ping(payload string) error {
	r.mu.Lock()
	dc := r.channels[labelLatency]
	r.mu.Unlock()
	if dc == nil {
		return errors.New("latency channel not established")
	}
	return dc.SendText(payload)
}

// PeerConnection returns the active answerer, or nil.
func (r *Receiver) PeerConnection() *webrtc.PeerConnection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pc
}

// Disconnect drops the active session so a new offer can be accepted.
func (r *Receiver) Disconnect() {
	r.mu.Lock()
	pc := r.pc
	r.pc = nil
	r.channels = make(map[string]*webrtc.DataChannel)
	r.mu.Unlock()
	if pc != nil {
		_ = pc.Close()
	}
}

func (r *Receiver) Close() {
	r.Disconnect()
}
