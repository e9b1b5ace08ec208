package auxchannel

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/link00000000/mimic/internal/metrics"
)

var ErrInvalidMetadata = errors.New("auxchannel: invalid metadata message")

// Metadata describes the stream currently being sent.
type Metadata struct {
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	FrameRate float64 `json:"framerate"`
}

var metadataKeys = []string{"width", "height", "framerate"}

// ParseMetadata decodes a metadata message, requiring every key to be present.
func ParseMetadata(data []byte) (Metadata, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Metadata{}, fmt.Errorf("%w: %w", ErrInvalidMetadata, err)
	}
	for _, key := range metadataKeys {
		if _, ok := raw[key]; !ok {
			return Metadata{}, fmt.Errorf("%w: missing %q", ErrInvalidMetadata, key)
		}
	}
	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return Metadata{}, fmt.Errorf("%w: %w", ErrInvalidMetadata, err)
	}
	return md, nil
}

type MetadataConfig struct {
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// MetadataChannel announces stream geometry to the receiver.
type MetadataChannel struct {
	*Channel
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewMetadataChannel(tr Transport, cfg MetadataConfig) *MetadataChannel {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MetadataChannel{
		Channel: New(tr, Hooks{}, logger),
		metrics: cfg.Metrics,
		log:     logger.With("label", tr.Label()),
	}
}

// Announce sends the stream settings as a single text message. It returns
// ErrChannelNotOpen before the channel opens.
func (m *MetadataChannel) Announce(width, height int, frameRate float64) error {
	b, err := json.Marshal(Metadata{Width: width, Height: height, FrameRate: frameRate})
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := m.SendText(string(b)); err != nil {
		if errors.Is(err, ErrChannelNotOpen) {
			m.metrics.Inc(metrics.MetadataNotOpen)
			m.log.Warn("metadata channel not open; announcement dropped",
				"width", width, "height", height, "framerate", frameRate)
		}
		return fmt.Errorf("announce metadata: %w", err)
	}
	m.metrics.Inc(metrics.MetadataAnnounced)
	m.log.Debug("metadata announced", "width", width, "height", height, "framerate", frameRate)
	return nil
}
