package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"io"
	"os"
	"sync"

	logx "devour/pkg/logx"

	"github.com/pkg/errors"
)

// Validator vets a parsed config before a reload commits it.
type Validator func(ctx context.Context, cfg *Config) error

// Manager holds the committed config and pushes reloads to subscribers.
type Manager struct {
	path string
	env  Env
	log  logx.Logger

	mu       sync.RWMutex
	cfg      *Config
	sum      [sha256.Size]byte
	validate Validator

	// subsMu also serializes sends with Unsubscribe closing a channel.
	subsMu sync.Mutex
	subs   map[chan *Config]struct{}
}

func NewManager(path string, env Env) *Manager {
	return &Manager{
		path: path,
		env:  env,
		log:  logx.Nop(),
		subs: make(map[chan *Config]struct{}),
	}
}

func (m *Manager) Path() string { return m.path }

func (m *Manager) SetLogger(log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}
	m.log = log
}

func (m *Manager) SetValidator(fn Validator) {
	m.mu.Lock()
	m.validate = fn
	m.mu.Unlock()
}

func (m *Manager) validator() Validator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.validate
}

// Parse reads the file, applies the environment overlay and validates.
func (m *Manager) Parse() (*Config, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	cfg, err := Decode(m.path, raw)
	if err != nil {
		return nil, err
	}
	m.env.Overlay(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode parses a JSON or YAML document (picked by the extension of name).
// Unknown keys and trailing content are rejected.
func Decode(name string, raw []byte) (*Config, error) {
	doc, err := yamlToJSON(name, raw)
	if err != nil {
		return nil, err
	}
	cfg := new(Config)
	if err := decodeStrict(doc, cfg); err != nil {
		return nil, errors.Wrapf(err, "decode %s", name)
	}
	return cfg, nil
}

func decodeStrict(doc []byte, into any) error {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return err
	}
	var extra json.RawMessage
	switch err := dec.Decode(&extra); err {
	case io.EOF:
		return nil
	case nil:
		return errors.New("trailing data after document")
	default:
		return err
	}
}

// Load parses the file and commits the result.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *Manager) Commit(cfg *Config) {
	sum := digest(cfg)
	m.mu.Lock()
	m.cfg, m.sum = cfg, sum
	m.mu.Unlock()
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// changed reports whether cfg differs from the committed config.
func (m *Manager) changed(cfg *Config) bool {
	sum := digest(cfg)
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg == nil || sum != m.sum
}

func (m *Manager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, max(1, buffer))
	m.subsMu.Lock()
	m.subs[ch] = struct{}{}
	m.subsMu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if _, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(ch)
	}
}

// publish hands cfg to every subscriber. A full channel gives up its oldest
// entry so the newest config always lands.
func (m *Manager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for ch := range m.subs {
		if !offerLatest(ch, cfg) {
			m.log.Debug("config update dropped for slow subscriber", logx.Int("queue_cap", cap(ch)))
		}
	}
}

func offerLatest(ch chan *Config, cfg *Config) bool {
	for range 2 {
		select {
		case ch <- cfg:
			return true
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
	return false
}

func digest(cfg *Config) [sha256.Size]byte {
	b, err := json.Marshal(cfg)
	if err != nil {
		return [sha256.Size]byte{}
	}
	return sha256.Sum256(b)
}
