package config

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/compozy/tplwriter/pkg/logger"
)

// Manager holds the active configuration and reloads it when a source changes.
type Manager struct {
	Service     Service
	current     atomic.Value // stores *Config
	sources     []Source
	callbacks   []func(*Config)
	callbackMu  sync.RWMutex
	reloadMu    sync.Mutex
	watchCtx    context.Context
	watchCancel context.CancelFunc
	closeOnce   sync.Once
	debounce    time.Duration
	timerMu     sync.Mutex
	timer       *time.Timer
}

// NewManager creates a new configuration manager.
func NewManager(service Service) *Manager {
	if service == nil {
		service = NewService()
	}
	return &Manager{
		Service:   service,
		callbacks: make([]func(*Config), 0),
		debounce:  100 * time.Millisecond,
	}
}

// Load loads configuration from sources and remembers them for Reload.
func (m *Manager) Load(ctx context.Context, sources ...Source) (*Config, error) {
	m.reloadMu.Lock()
	m.sources = append([]Source(nil), sources...)
	m.reloadMu.Unlock()
	config, err := m.Service.Load(ctx, sources...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	m.applyConfig(config)
	return config, nil
}

// Watch reloads the configuration whenever a loaded source changes, until Close.
func (m *Manager) Watch(ctx context.Context) {
	m.reloadMu.Lock()
	sources := append([]Source(nil), m.sources...)
	m.reloadMu.Unlock()
	if m.watchCancel != nil {
		m.watchCancel()
	}
	m.watchCtx, m.watchCancel = context.WithCancel(context.WithoutCancel(ctx))
	m.startWatching(sources)
}

// Get returns the current configuration atomically.
func (m *Manager) Get() *Config {
	config, _ := m.current.Load().(*Config)
	return config
}

// Reload forces a configuration reload from all sources.
func (m *Manager) Reload(ctx context.Context) error {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()
	newConfig, err := m.Service.Load(ctx, m.sources...)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}
	m.applyConfig(newConfig)
	return nil
}

// SetDebounce sets how long a change must settle before reloading.
// Must be called before Watch to take effect.
func (m *Manager) SetDebounce(duration time.Duration) {
	m.debounce = duration
}

// OnChange registers a callback to be invoked when configuration changes.
func (m *Manager) OnChange(callback func(*Config)) {
	m.callbackMu.Lock()
	defer m.callbackMu.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// Close stops watching and releases resources.
func (m *Manager) Close(ctx context.Context) error {
	m.closeOnce.Do(func() {
		if m.watchCancel != nil {
			m.watchCancel()
		}
		m.timerMu.Lock()
		if m.timer != nil {
			m.timer.Stop()
		}
		m.timerMu.Unlock()
		m.reloadMu.Lock()
		sourcesCopy := append([]Source(nil), m.sources...)
		m.reloadMu.Unlock()
		for _, source := range sourcesCopy {
			if source != nil {
				if err := source.Close(); err != nil {
					logger.FromContext(ctx).Error("failed to close configuration source", "error", err)
				}
			}
		}
	})
	return nil
}

// startWatching sets up file watching for sources that support it.
func (m *Manager) startWatching(sources []Source) {
	ctx := m.watchCtx
	for _, source := range sources {
		if source == nil {
			continue
		}
		if err := source.Watch(ctx, m.scheduleReload); err != nil {
			logger.FromContext(ctx).Debug("configuration source not watched", "source", source.Type(), "error", err)
		}
	}
}

// scheduleReload coalesces bursts of change events into one reload.
func (m *Manager) scheduleReload() {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.debounce, func() {
		ctx := m.watchCtx
		if ctx.Err() != nil {
			return
		}
		if err := m.Reload(ctx); err != nil {
			logger.FromContext(ctx).Error("failed to reload configuration", "error", err)
		}
	})
}

// applyConfig stores a new configuration and notifies callbacks when it differs.
func (m *Manager) applyConfig(config *Config) {
	oldConfig := m.Get()
	m.current.Store(config)
	if oldConfig != nil && reflect.DeepEqual(oldConfig, config) {
		return
	}
	m.callbackMu.RLock()
	callbacks := make([]func(*Config), len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.callbackMu.RUnlock()
	for _, callback := range callbacks {
		if callback != nil {
			callback(config)
		}
	}
}
