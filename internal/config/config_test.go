// internal/config/config_test.go - Unit tests for configuration loading
package config

import (
	"strings"
	"sync"
	"testing"

	"github.com/fsnotify/fsnotify"
	"github.com/paulmach/orb"
	"github.com/spf13/viper"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if cfg.Tileset.Levels != 4 {
		t.Errorf("Expected 4 levels, got %d", cfg.Tileset.Levels)
	}
	if cfg.Scheduler.Workers != 10 {
		t.Errorf("Expected 10 workers, got %d", cfg.Scheduler.Workers)
	}
	if cfg.Render.LevelChangeThreshold != 1.0 {
		t.Errorf("Expected threshold 1.0, got %g", cfg.Render.LevelChangeThreshold)
	}
	want := orb.Bound{Min: orb.Point{-30, 20}, Max: orb.Point{30, 60}}
	if !cfg.Source.Synthetic.Envelope.Equal(want) {
		t.Errorf("Expected synthetic envelope %v, got %v", want, cfg.Source.Synthetic.Envelope)
	}

	target, err := cfg.TargetGeometry()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if target.CRS.Name() != "EPSG:3857" {
		t.Errorf("Expected EPSG:3857 target, got %s", target.CRS.Name())
	}
}

func TestLoadFromYAML(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	yaml := `
tileset:
  levels: 6
  tile_size: 512
target:
  crs: EPSG:4326
  envelope: [0, 0, 10, 5]
source:
  type: file
  path: /data/pyramid
scheduler:
  job_timeout: 30s
`
	if err := v.ReadConfig(strings.NewReader(yaml)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.Tileset.Levels != 6 || cfg.Tileset.TileSize != 512 {
		t.Errorf("Expected 6 levels of 512, got %d of %d", cfg.Tileset.Levels, cfg.Tileset.TileSize)
	}
	want := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 5}}
	if !cfg.Target.Envelope.Equal(want) {
		t.Errorf("Expected target envelope %v, got %v", want, cfg.Target.Envelope)
	}
	if cfg.Scheduler.JobTimeout.Seconds() != 30 {
		t.Errorf("Expected 30s job timeout, got %s", cfg.Scheduler.JobTimeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   any
		wantErr string
	}{
		{"zero levels", "tileset.levels", 0, "tileset"},
		{"negative threshold", "render.level_change_threshold", -1.0, "render"},
		{"no workers", "scheduler.workers", 0, "scheduler"},
		{"unknown source", "source.type", "ftp", "source"},
		{"file without path", "source.type", "file", "source"},
		{"unknown crs", "target.crs", "EPSG:27700", "target"},
		{"bad envelope", "target.envelope", "1,1,0,0", "target"},
		{"bad format", "output.format", "tiff", "output"},
		{"bad log level", "logging.level", "fatal", "logging"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			v.Set(tt.key, tt.value)
			_, err := Load(v)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error mentioning %s, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestParseBound(t *testing.T) {
	b, err := ParseBound(" -1.5, 2,3 ,4")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if b.Min != (orb.Point{-1.5, 2}) || b.Max != (orb.Point{3, 4}) {
		t.Errorf("Expected [-1.5 2] [3 4], got %v", b)
	}
	if _, err := ParseBound("1,2,3"); err == nil {
		t.Error("Expected error for 3 values")
	}
	if _, err := ParseBound("1,2,x,4"); err == nil {
		t.Error("Expected error for non-numeric value")
	}
}

func TestPreferencesSubscribe(t *testing.T) {
	p := NewPreferences(1.0, nil)

	var mu sync.Mutex
	var seen []float64
	unsubscribe := p.Subscribe(func(v float64) {
		mu.Lock()
		seen = append(seen, v)
		mu.Unlock()
	})

	p.SetLevelChangeThreshold(2.0)
	unsubscribe()
	unsubscribe()
	p.SetLevelChangeThreshold(3.0)

	if p.LevelChangeThreshold() != 3.0 {
		t.Errorf("Expected threshold 3.0, got %g", p.LevelChangeThreshold())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != 2.0 {
		t.Errorf("Expected one notification of 2.0, got %v", seen)
	}
}

func TestPreferencesReloadRejectsInvalid(t *testing.T) {
	v := viper.New()
	p := WatchPreferences(v, nil)
	if p.LevelChangeThreshold() != 1.0 {
		t.Fatalf("Expected default threshold 1.0, got %g", p.LevelChangeThreshold())
	}

	v.Set(ThresholdKey, -2.0)
	p.reload(v, fsnotifyEvent("prefs.yaml"))
	if p.LevelChangeThreshold() != 1.0 {
		t.Errorf("Expected invalid reload to be ignored, got %g", p.LevelChangeThreshold())
	}

	v.Set(ThresholdKey, 0.5)
	p.reload(v, fsnotifyEvent("prefs.yaml"))
	if p.LevelChangeThreshold() != 0.5 {
		t.Errorf("Expected reloaded threshold 0.5, got %g", p.LevelChangeThreshold())
	}
}

func fsnotifyEvent(name string) fsnotify.Event {
	return fsnotify.Event{Name: name, Op: fsnotify.Write}
}
