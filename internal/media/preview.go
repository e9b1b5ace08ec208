package media

import "log/slog"

// Preview presents the local source on a named surface.
type Preview interface {
	Bind(surface string, h *SourceHandle)
}

// LogPreview records bindings in the log; the sender has no display.
type LogPreview struct {
	Logger *slog.Logger
}

func (p LogPreview) Bind(surface string, h *SourceHandle) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if h == nil || len(h.Tracks) == 0 {
		logger.Debug("preview unbound", "surface", surface)
		return
	}
	t := h.Tracks[0]
	logger.Debug("preview bound",
		"surface", surface,
		"track_id", t.Local.ID(),
		"width", t.Settings.Width,
		"height", t.Settings.Height,
	)
}
