// internal/config/config.go - Configuration management
package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/paulmach/orb"
	"github.com/spf13/viper"

	"github.com/valpere/rastertiles/pkg/grid"
)

// Config represents the complete application configuration
type Config struct {
	Tileset   TilesetConfig   `mapstructure:"tileset"`
	Render    RenderConfig    `mapstructure:"render"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Source    SourceConfig    `mapstructure:"source"`
	Target    TargetConfig    `mapstructure:"target"`
	Output    OutputConfig    `mapstructure:"output"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// TilesetConfig shapes the tile pyramid
type TilesetConfig struct {
	Levels   int `mapstructure:"levels"`
	TileSize int `mapstructure:"tile_size"`
}

// RenderConfig contains per-frame rendering parameters
type RenderConfig struct {
	LevelChangeThreshold float64 `mapstructure:"level_change_threshold"`
	Brightness           float64 `mapstructure:"brightness"`
	Contrast             float64 `mapstructure:"contrast"`
	Interpolate          bool    `mapstructure:"interpolate"`
	ValueMin             float64 `mapstructure:"value_min"`
	ValueMax             float64 `mapstructure:"value_max"`
	Outline              bool    `mapstructure:"outline"`
}

// SchedulerConfig contains tile job scheduling configuration
type SchedulerConfig struct {
	Workers    int           `mapstructure:"workers"`
	Batched    bool          `mapstructure:"batched"`
	JobTimeout time.Duration `mapstructure:"job_timeout"`
}

// SourceConfig determines where raster samples are read from
type SourceConfig struct {
	Type      string          `mapstructure:"type"`
	Path      string          `mapstructure:"path"`
	Synthetic SyntheticConfig `mapstructure:"synthetic"`
	S3        S3Config        `mapstructure:"s3"`
}

// SyntheticConfig describes the generated raster served by memory sources
type SyntheticConfig struct {
	Name       string    `mapstructure:"name"`
	CRS        string    `mapstructure:"crs"`
	Envelope   orb.Bound `mapstructure:"envelope"`
	Width      int       `mapstructure:"width"`
	Height     int       `mapstructure:"height"`
	Unit       string    `mapstructure:"unit"`
	NoData     float64   `mapstructure:"no_data"`
	Compressed bool      `mapstructure:"compressed"`
}

// S3Config locates a stored pyramid in S3-compatible object storage
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Secure    bool   `mapstructure:"secure"`
}

// TargetConfig describes the display grid tiles are projected onto
type TargetConfig struct {
	CRS      string    `mapstructure:"crs"`
	Width    int       `mapstructure:"width"`
	Height   int       `mapstructure:"height"`
	Envelope orb.Bound `mapstructure:"envelope"`
}

// OutputConfig contains output formatting configuration
type OutputConfig struct {
	Format      string `mapstructure:"format"`
	Directory   string `mapstructure:"directory"`
	Filename    string `mapstructure:"filename"`
	Compression bool   `mapstructure:"compression"`
	Pretty      bool   `mapstructure:"pretty"`
	Stdout      bool   `mapstructure:"stdout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`
	Output  string `mapstructure:"output"`
	File    string `mapstructure:"file"`
	Verbose bool   `mapstructure:"verbose"`
}

// MetricsConfig contains the Prometheus endpoint configuration
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load loads configuration from v, which already holds the config file,
// environment and flag bindings.
func Load(v *viper.Viper) (*Config, error) {
	// Set default values
	setDefaults(v)

	var config Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		boundDecodeHook(),
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(&config, hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := Validate(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Tileset defaults
	v.SetDefault("tileset.levels", 4)
	v.SetDefault("tileset.tile_size", 256)

	// Render defaults
	v.SetDefault("render.level_change_threshold", 1.0)
	v.SetDefault("render.brightness", 1.0)
	v.SetDefault("render.contrast", 1.0)
	v.SetDefault("render.interpolate", true)
	v.SetDefault("render.value_min", 0.0)
	v.SetDefault("render.value_max", 0.0)
	v.SetDefault("render.outline", false)

	// Scheduler defaults
	v.SetDefault("scheduler.workers", 10)
	v.SetDefault("scheduler.batched", true)
	v.SetDefault("scheduler.job_timeout", time.Minute)

	// Source defaults
	v.SetDefault("source.type", "memory")
	v.SetDefault("source.synthetic.name", "synthetic")
	v.SetDefault("source.synthetic.crs", "EPSG:4326")
	v.SetDefault("source.synthetic.envelope", "-30,20,30,60")
	v.SetDefault("source.synthetic.width", 2048)
	v.SetDefault("source.synthetic.height", 1024)
	v.SetDefault("source.synthetic.unit", "K")
	v.SetDefault("source.synthetic.no_data", -9999.0)
	v.SetDefault("source.synthetic.compressed", false)
	v.SetDefault("source.s3.secure", true)

	// Target defaults
	v.SetDefault("target.crs", "EPSG:3857")
	v.SetDefault("target.width", 1024)
	v.SetDefault("target.height", 1024)
	v.SetDefault("target.envelope", "-3339584.72,2273030.93,3339584.72,8399737.89")

	// Output defaults
	v.SetDefault("output.format", "png")
	v.SetDefault("output.pretty", true)
	v.SetDefault("output.compression", false)
	v.SetDefault("output.stdout", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.verbose", false)
}

// TargetGeometry builds the display grid from the target section
func (c *Config) TargetGeometry() (grid.GridGeometry, error) {
	crs, err := grid.LookupCRS(c.Target.CRS)
	if err != nil {
		return grid.GridGeometry{}, err
	}
	return grid.NewGridGeometry(crs, c.Target.Envelope, c.Target.Width, c.Target.Height)
}

// ParseBound parses "minx,miny,maxx,maxy" into a bound
func ParseBound(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("bound must have 4 comma separated values, got %q", s)
	}
	var vals [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("invalid bound value %q: %w", p, err)
		}
		vals[i] = f
	}
	return orb.Bound{Min: orb.Point{vals[0], vals[1]}, Max: orb.Point{vals[2], vals[3]}}, nil
}

// boundDecodeHook decodes envelope strings and 4-element lists into bounds
func boundDecodeHook() mapstructure.DecodeHookFuncType {
	boundType := reflect.TypeOf(orb.Bound{})
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != boundType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			if strings.TrimSpace(v) == "" {
				return orb.Bound{}, nil
			}
			return ParseBound(v)
		case []any:
			if len(v) != 4 {
				return nil, fmt.Errorf("bound must have 4 values, got %d", len(v))
			}
			parts := make([]string, len(v))
			for i, e := range v {
				parts[i] = fmt.Sprint(e)
			}
			return ParseBound(strings.Join(parts, ","))
		default:
			return data, nil
		}
	}
}
