// cmd/root.go - Root command implementation
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rastertiles",
	Short: "Render and query multi-resolution tiled rasters",
	Long: `RasterTiles renders large gridded rasters through a pyramid of tiles at
decreasing resolutions. Tile images are created in the background by a
worker pool and cached, and each frame falls back to coarser levels while
finer tiles are still loading.

Data Sources:
- Synthetic rasters generated in memory
- Raster directories written by the generate command
- Raster directories stored in S3-compatible object storage

Examples:
  # Render the configured target to a PNG
  rastertiles render --output frame.png

  # Render a zoomed view and export the tile borders
  rastertiles render --extent "256,256,768,768" --borders tiles.geojson

  # Load every level around a view, exposing Prometheus metrics
  rastertiles prefetch --steps 4 --metrics-addr :9090

  # Read the value under a position in Celsius
  rastertiles interrogate --lon 4.9 --lat 52.4 --unit C

  # Write a synthetic raster to disk and render from it
  rastertiles generate --dir ./raster --compressed
  rastertiles render --source-type file --source-path ./raster`,
	Version:      "1.0.0",
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.SetGlobalNormalizationFunc(normalizeFlagName)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.rastertiles.yaml)")

	// Source configuration flags
	rootCmd.PersistentFlags().String("source-type", "memory", "data source type (memory, file, s3)")
	rootCmd.PersistentFlags().String("source-path", "", "raster directory (file source) or download directory (s3 source)")

	// Tileset flags
	rootCmd.PersistentFlags().Int("levels", 4, "number of pyramid levels")
	rootCmd.PersistentFlags().Int("tile-size", 256, "tile edge length in level cells")

	// Processing flags
	rootCmd.PersistentFlags().Int("workers", 10, "number of tile image workers")
	rootCmd.PersistentFlags().Bool("batched", true, "merge adjacent tiles into one retrieval")
	rootCmd.PersistentFlags().Duration("job-timeout", 0, "timeout of a single tile image job")
	rootCmd.PersistentFlags().Float64("threshold", 1.0, "canvas pixels per level cell before switching to a finer level")

	// Logging flags
	rootCmd.PersistentFlags().Bool("verbose", false, "verbose output")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")

	// Bind flags to viper
	bindFlag("source.type", "source-type")
	bindFlag("source.path", "source-path")
	bindFlag("tileset.levels", "levels")
	bindFlag("tileset.tile_size", "tile-size")
	bindFlag("scheduler.workers", "workers")
	bindFlag("scheduler.batched", "batched")
	bindFlag("scheduler.job_timeout", "job-timeout")
	bindFlag("render.level_change_threshold", "threshold")
	bindFlag("logging.verbose", "verbose")
	bindFlag("logging.level", "log-level")
	bindFlag("logging.format", "log-format")
}

// normalizeFlagName accepts config style names such as --tile_size
func normalizeFlagName(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

func bindFlag(key, flag string) {
	cobra.CheckErr(viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".rastertiles" (without extension)
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".rastertiles")
	}

	// Environment variables
	viper.SetEnvPrefix("RASTERTILES")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("logging.verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}
