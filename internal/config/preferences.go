// internal/config/preferences.go - Hot-reloadable rendering preferences
package config

import (
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/atomic"

	"github.com/valpere/rastertiles/internal/logging"
)

// ThresholdKey is the configuration key of the level change threshold
const ThresholdKey = "render.level_change_threshold"

// Preferences holds the level change threshold and notifies subscribers
// when it changes, either programmatically or through a config file edit.
type Preferences struct {
	threshold atomic.Float64
	logger    *slog.Logger

	mu        sync.Mutex
	nextID    int
	listeners map[int]func(float64)
}

// NewPreferences creates preferences with a fixed initial threshold
func NewPreferences(threshold float64, logger *slog.Logger) *Preferences {
	p := &Preferences{logger: logging.OrNop(logger), listeners: make(map[int]func(float64))}
	p.threshold.Store(threshold)
	return p
}

// WatchPreferences creates preferences backed by v and reloads the threshold
// whenever v's config file changes on disk.
func WatchPreferences(v *viper.Viper, logger *slog.Logger) *Preferences {
	setDefaults(v)
	p := NewPreferences(v.GetFloat64(ThresholdKey), logger)
	v.OnConfigChange(func(e fsnotify.Event) {
		p.reload(v, e)
	})
	if v.ConfigFileUsed() != "" {
		v.WatchConfig()
	}
	return p
}

func (p *Preferences) reload(v *viper.Viper, e fsnotify.Event) {
	threshold := v.GetFloat64(ThresholdKey)
	if err := ValidateThreshold(threshold); err != nil {
		p.logger.Warn("ignoring preference change", "file", e.Name, "op", e.Op.String(), "error", err)
		return
	}
	if threshold == p.LevelChangeThreshold() {
		return
	}
	p.logger.Info("level change threshold reloaded", "file", e.Name, "threshold", threshold)
	p.SetLevelChangeThreshold(threshold)
}

// LevelChangeThreshold returns the current threshold
func (p *Preferences) LevelChangeThreshold() float64 {
	return p.threshold.Load()
}

// SetLevelChangeThreshold stores a new threshold and notifies subscribers
func (p *Preferences) SetLevelChangeThreshold(threshold float64) {
	p.threshold.Store(threshold)

	p.mu.Lock()
	listeners := make([]func(float64), 0, len(p.listeners))
	for _, fn := range p.listeners {
		listeners = append(listeners, fn)
	}
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(threshold)
	}
}

// Subscribe registers fn for threshold changes. The returned function
// removes the subscription.
func (p *Preferences) Subscribe(fn func(float64)) (unsubscribe func()) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}
