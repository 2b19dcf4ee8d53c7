// cmd/interrogate.go - Value interrogation command
package cmd

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/paulmach/orb"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/valpere/rastertiles/internal/config"
	"github.com/valpere/rastertiles/internal/output"
)

// interrogateCmd represents the interrogate command
var interrogateCmd = &cobra.Command{
	Use:   "interrogate",
	Short: "Read the raw value under a longitude/latitude position",
	Long: `Read the raw data value under a longitude/latitude position.

The value is read from the tile images of the level a frame of the given
view selects, so coarse views return downsampled values. Positions without
data print "no data".

Examples:
  # Value at a position in the data unit
  rastertiles interrogate --lon 4.9 --lat 52.4

  # Value converted to Celsius, as JSON
  rastertiles interrogate --lon 4.9 --lat 52.4 --unit C --json

  # Treat zero as missing
  rastertiles interrogate --lon 4.9 --lat 52.4 --no-data 0`,
	RunE: runInterrogate,
}

func init() {
	rootCmd.AddCommand(interrogateCmd)

	interrogateCmd.Flags().Float64("lon", 0, "longitude in degrees")
	interrogateCmd.Flags().Float64("lat", 0, "latitude in degrees")
	interrogateCmd.Flags().String("unit", "", "unit of the result (default: data unit)")
	interrogateCmd.Flags().Float64("no-data", math.NaN(), "sample value treated as missing (default: the source no-data value)")
	interrogateCmd.Flags().String("extent", "", "view extent selecting the level, in target grid cells (default: whole target)")
	interrogateCmd.Flags().Int("width", 0, "canvas width selecting the level (default: target width)")
	interrogateCmd.Flags().Duration("wait", time.Minute, "maximum time to wait for tile images")
	interrogateCmd.Flags().Bool("json", false, "print the result as JSON")

	interrogateCmd.MarkFlagsRequiredTogether("lon", "lat")
}

func runInterrogate(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if !cmd.Flags().Changed("lon") {
		return fmt.Errorf("--lon and --lat must be specified")
	}

	s, err := newStack(ctx, false)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(context.Background()); cerr != nil && err == nil {
			err = fmt.Errorf("failed to release resources: %w", cerr)
		}
	}()

	lon, _ := cmd.Flags().GetFloat64("lon")
	lat, _ := cmd.Flags().GetFloat64("lat")
	unit, _ := cmd.Flags().GetString("unit")
	noData, _ := cmd.Flags().GetFloat64("no-data")
	extentFlag, _ := cmd.Flags().GetString("extent")
	width, _ := cmd.Flags().GetInt("width")
	wait, _ := cmd.Flags().GetDuration("wait")
	asJSON, _ := cmd.Flags().GetBool("json")

	extent := s.target.Bound()
	if extentFlag != "" {
		if extent, err = config.ParseBound(extentFlag); err != nil {
			return fmt.Errorf("invalid extent: %w", err)
		}
	}
	if width <= 0 {
		width = s.target.Width
	}
	height := int(math.Round(float64(width) * (extent.Max[1] - extent.Min[1]) / (extent.Max[0] - extent.Min[0])))

	// The level is the one the last painted frame used
	if _, err := renderFrame(ctx, s, extent, width, max(height, 1), wait); err != nil {
		return err
	}

	lonlat := orb.Point{lon, lat}
	var value float64
	if cmd.Flags().Changed("no-data") {
		value, err = s.renderer.InterrogateNoData(lonlat, unit, noData)
	} else {
		value, err = s.renderer.Interrogate(lonlat, unit)
	}
	if err != nil {
		return fmt.Errorf("interrogation failed: %w", err)
	}

	if unit == "" {
		unit = s.retriever.Manifest().Unit
	}
	res := output.NewInterrogation(lonlat, s.renderer.LastPaintedLevel(), unit, value)
	if asJSON {
		data, err := output.FormatInterrogation(res, s.cfg.Output.Pretty)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, string(data))
		return nil
	}

	printer := message.NewPrinter(language.English)
	if res.Value == nil {
		printer.Fprintf(os.Stdout, "(%.5f, %.5f) level %d: no data\n", lon, lat, res.Level)
		return nil
	}
	printer.Fprintf(os.Stdout, "(%.5f, %.5f) level %d: %.3f %s\n", lon, lat, res.Level, *res.Value, res.Unit)
	return nil
}
