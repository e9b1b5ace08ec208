package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fsnotify/fsnotify"

	"github.com/link00000000/mimic/internal/config"
)

// triggerSet coalesces adaptation requests into a channel of capacity one. A
// burst of hotplug events collapses into a single pending replacement.
type triggerSet struct {
	ch chan struct{}
}

func newTriggerSet() *triggerSet {
	return &triggerSet{ch: make(chan struct{}, 1)}
}

func (t *triggerSet) fire() {
	select {
	case t.ch <- struct{}{}:
	default:
	}
}

func (t *triggerSet) C() <-chan struct{} {
	return t.ch
}

// watchTriggers fires on SIGHUP and, when enabled, on video device hotplug
// under cfg.DeviceDir. Watching stops when ctx ends.
func watchTriggers(ctx context.Context, cfg config.Config, logger *slog.Logger) (<-chan struct{}, error) {
	t := newTriggerSet()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigCh:
				logger.Info("SIGHUP received; replacing video source")
				t.fire()
			}
		}
	}()

	if cfg.WatchDevices {
		if err := watchDevices(ctx, cfg.DeviceDir, t, logger); err != nil {
			return nil, err
		}
	}
	return t.C(), nil
}

func watchDevices(ctx context.Context, dir string, t *triggerSet, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create device watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !isVideoDeviceEvent(ev) {
					continue
				}
				logger.Info("video device changed; replacing video source", "path", ev.Name, "op", ev.Op.String())
				t.fire()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("device watcher error", "err", err)
			}
		}
	}()
	return nil
}

func isVideoDeviceEvent(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) {
		return false
	}
	return strings.HasPrefix(filepath.Base(ev.Name), "video")
}
