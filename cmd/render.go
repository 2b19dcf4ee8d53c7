// cmd/render.go - Single frame rendering command
package cmd

import (
	"context"
	"fmt"
	"image"
	"os"
	"time"

	"github.com/paulmach/orb"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/valpere/rastertiles/internal/config"
	"github.com/valpere/rastertiles/internal/graphics"
	"github.com/valpere/rastertiles/internal/output"
)

// renderCmd represents the render command
var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render one view of the raster to an image",
	Long: `Render one view of the raster onto a canvas and write it as a PNG image.

The level is chosen from the ratio between canvas and view extent. Missing
tile images are created by the worker pool; the command waits for them
before compositing the frame. The tile borders of the selected level can be
exported as GeoJSON and a JSON summary of the frame printed to stdout.

Examples:
  # Render the full target grid
  rastertiles render --output frame.png

  # Render a quarter of the target onto a 512x512 canvas
  rastertiles render --extent "0,0,512,512" --width 512 --height 512 --output corner.png

  # Draw tile outlines and export tile borders
  rastertiles render --outline --borders tiles.geojson --output frame.png`,
	RunE: runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)

	// View flags
	renderCmd.Flags().String("extent", "", "view extent in target grid cells as minx,miny,maxx,maxy (default: whole target)")
	renderCmd.Flags().Int("width", 0, "canvas width in pixels (default: target width)")
	renderCmd.Flags().Int("height", 0, "canvas height in pixels (default: target height)")
	renderCmd.Flags().Duration("wait", time.Minute, "maximum time to wait for tile images")

	// Output flags
	renderCmd.Flags().StringP("output", "o", "", "PNG output file (default: stdout)")
	renderCmd.Flags().String("borders", "", "GeoJSON file receiving the tile borders of the frame")
	renderCmd.Flags().Bool("summary", false, "print a JSON summary of the frame")
	renderCmd.Flags().Bool("outline", false, "draw the outline of every tile image")
	renderCmd.Flags().Bool("compression", false, "gzip the border file")

	cobra.CheckErr(viper.BindPFlag("render.outline", renderCmd.Flags().Lookup("outline")))
	cobra.CheckErr(viper.BindPFlag("output.compression", renderCmd.Flags().Lookup("compression")))
}

func runRender(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
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

	extentFlag, _ := cmd.Flags().GetString("extent")
	width, _ := cmd.Flags().GetInt("width")
	height, _ := cmd.Flags().GetInt("height")
	wait, _ := cmd.Flags().GetDuration("wait")
	outputPath, _ := cmd.Flags().GetString("output")
	bordersPath, _ := cmd.Flags().GetString("borders")
	summary, _ := cmd.Flags().GetBool("summary")
	if summary && outputPath == "" {
		return fmt.Errorf("--summary requires --output since the image is written to stdout otherwise")
	}

	extent := s.target.Bound()
	if extentFlag != "" {
		if extent, err = config.ParseBound(extentFlag); err != nil {
			return fmt.Errorf("invalid extent: %w", err)
		}
	}
	if width <= 0 {
		width = s.target.Width
	}
	if height <= 0 {
		height = s.target.Height
	}

	frame, err := renderFrame(ctx, s, extent, width, height, wait)
	if err != nil {
		return err
	}

	fs := afero.NewOsFs()
	frameCfg := &output.Config{
		Format:   output.FormatPNG,
		Filename: outputPath,
		Stdout:   outputPath == "",
	}
	if err := writeFrame(fs, frameCfg, frame, s); err != nil {
		return err
	}

	if bordersPath != "" {
		borders := &output.Config{
			Format:      output.FormatGeoJSON,
			Directory:   s.cfg.Output.Directory,
			Filename:    bordersPath,
			Pretty:      s.cfg.Output.Pretty,
			Compression: s.cfg.Output.Compression,
		}
		if err := writeFrame(fs, borders, frame, s); err != nil {
			return err
		}
	}

	if summary {
		formatter := output.NewJSONFormatter(s.cfg.Output.Pretty)
		if _, err := output.NewStdoutWriter(formatter, os.Stdout).Write(frame); err != nil {
			return err
		}
	}
	return nil
}

// renderFrame schedules the tiles of the view, waits for their images and
// composites them onto a new canvas
func renderFrame(ctx context.Context, s *stack, extent orb.Bound, width, height int, wait time.Duration) (*output.Frame, error) {
	start := time.Now()
	s.renderer.GetImagesToRender(extent, width, height)

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := s.scheduler.Wait(waitCtx); err != nil {
		return nil, fmt.Errorf("tile images did not load: %w", err)
	}

	drawables := s.renderer.GetImagesToRender(extent, width, height)
	level, tiles := s.renderer.TilesWithinExtent(extent, width)

	compositor := graphics.NewCompositor()
	compositor.Outline = s.cfg.Render.Outline
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	drawn := compositor.Draw(canvas, extent, drawables)

	s.logger.Info("frame rendered",
		"level", level, "tiles", len(tiles), "drawn", drawn, "duration", time.Since(start))
	return &output.Frame{
		Canvas: canvas,
		Extent: extent,
		Level:  level,
		Tiles:  tiles,
		Drawn:  drawn,
	}, nil
}

func writeFrame(fs afero.Fs, cfg *output.Config, frame *output.Frame, s *stack) (err error) {
	w, err := output.NewWriter(fs, cfg, os.Stdout)
	if err != nil {
		return fmt.Errorf("failed to create %s writer: %w", cfg.Format, err)
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	res, err := w.Write(frame)
	if err != nil {
		return err
	}
	s.logger.Debug("frame written",
		"format", cfg.Format.String(), "destination", res.Destination, "bytes", res.BytesWritten)
	return nil
}
