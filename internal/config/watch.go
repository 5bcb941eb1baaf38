package config

import (
	"context"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "devour/pkg/logx"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

const (
	reloadDebounce  = 250 * time.Millisecond
	validateTimeout = 5 * time.Second
	rewatchMin      = 250 * time.Millisecond
	rewatchMax      = 5 * time.Second

	reloadOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod
)

// Reload re-reads the file. A config identical to the committed one is
// ignored; otherwise it must pass the validator before it is committed and
// published. The result reports whether subscribers were notified.
func (m *Manager) Reload(ctx context.Context) (bool, error) {
	cfg, err := m.Parse()
	if err != nil {
		return false, err
	}
	if !m.changed(cfg) {
		m.log.Debug("config file unchanged", logx.String("path", m.path))
		return false, nil
	}
	if fn := m.validator(); fn != nil {
		vctx, cancel := context.WithTimeout(ctx, validateTimeout)
		defer cancel()
		if err := fn(vctx, cfg); err != nil {
			return false, fmt.Errorf("config rejected: %w", err)
		}
	}
	m.Commit(cfg)
	m.publish(cfg)
	return true, nil
}

// debouncer runs fn once events stop arriving for the configured delay.
type debouncer struct {
	delay time.Duration
	fn    func()

	mu    sync.Mutex
	timer *time.Timer
}

func (d *debouncer) poke() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer == nil {
		d.timer = time.AfterFunc(d.delay, d.fn)
		return
	}
	d.timer.Reset(d.delay)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}

// Watch reloads on every change to the config file until ctx ends. It watches
// the parent directory so atomic-rename saves are seen, and rebuilds a failed
// watcher with jittered backoff.
func (m *Manager) Watch(ctx context.Context) error {
	dir, name := filepath.Dir(m.path), filepath.Base(m.path)
	deb := &debouncer{delay: reloadDebounce, fn: func() {
		if _, err := m.Reload(ctx); err != nil {
			m.log.Warn("config reload failed", logx.String("path", m.path), logx.Err(err))
		}
	}}
	defer deb.stop()

	wait := rewatchMin
	for {
		err := m.watchOnce(ctx, dir, name, deb.poke, func() { wait = rewatchMin })
		if ctx.Err() != nil {
			return nil
		}
		pause := wait + rand.N(wait/2+1)
		wait = min(2*wait, rewatchMax)
		m.log.Warn("config watcher lost; retrying", logx.String("dir", dir), logx.Duration("backoff", pause), logx.Err(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(pause):
		}
	}
}

// watchOnce runs one fsnotify watcher until ctx ends or the watcher fails.
func (m *Manager) watchOnce(ctx context.Context, dir, name string, poke, healthy func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "new watcher")
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return errors.Wrapf(err, "watch %s", dir)
	}
	healthy()
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", name))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("event channel closed")
			}
			if ev.Op&reloadOps != 0 && strings.EqualFold(filepath.Base(ev.Name), name) {
				poke()
			}
		case err, ok := <-w.Errors:
			switch {
			case !ok, errors.Is(err, fsnotify.ErrClosed):
				return errors.New("watcher closed")
			case errors.Is(err, fsnotify.ErrEventOverflow):
				m.log.Warn("config watch overflow; reloading", logx.Err(err))
				poke()
			case err != nil:
				m.log.Warn("config watch error", logx.Err(err))
			}
		}
	}
}
