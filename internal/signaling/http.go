package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// HTTPExchanger posts the offer as JSON and expects a JSON answer.
type HTTPExchanger struct {
	url    string
	client *http.Client
	opts   Options
	log    *slog.Logger
}

func NewHTTPExchanger(url string, opts Options) *HTTPExchanger {
	opts = opts.withDefaults()
	client := opts.HTTPClient
	if client == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = opts.tlsConfig()
		client = &http.Client{Transport: transport}
	}
	return &HTTPExchanger{
		url:    url,
		client: client,
		opts:   opts,
		log:    opts.Logger,
	}
}

func (e *HTTPExchanger) Exchange(ctx context.Context, offer SessionDescription) (SessionDescription, error) {
	if err := offer.Validate(TypeOffer); err != nil {
		return SessionDescription{}, err
	}

	body, err := json.Marshal(offer)
	if err != nil {
		return SessionDescription{}, fmt.Errorf("encode offer: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return SessionDescription{}, fmt.Errorf("build offer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if id := sessionIDFromContext(ctx); id != "" {
		req.Header.Set(SessionIDHeader, id)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return SessionDescription{}, fmt.Errorf("%w: post offer: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, e.opts.MaxResponseBytes+1))
	if err != nil {
		return SessionDescription{}, fmt.Errorf("%w: read answer: %w", ErrUnavailable, err)
	}

	e.log.Debug("signaling exchange completed",
		"url", e.url,
		"status", resp.StatusCode,
		"response_bytes", len(raw),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return SessionDescription{}, &StatusError{StatusCode: resp.StatusCode, Body: truncateBody(raw)}
	}
	if int64(len(raw)) > e.opts.MaxResponseBytes {
		return SessionDescription{}, fmt.Errorf("%w: answer exceeds %d bytes", ErrRejected, e.opts.MaxResponseBytes)
	}

	var answer SessionDescription
	if err := json.Unmarshal(raw, &answer); err != nil {
		return SessionDescription{}, fmt.Errorf("%w: decode answer: %w", ErrRejected, err)
	}
	if err := answer.Validate(TypeAnswer); err != nil {
		return SessionDescription{}, fmt.Errorf("%w: %w", ErrRejected, err)
	}
	return answer, nil
}
