// cmd/prefetch.go - Multi-level prefetch command
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/valpere/rastertiles/internal/config"
	"github.com/valpere/rastertiles/internal/prefetch"
)

// prefetchCmd represents the prefetch command
var prefetchCmd = &cobra.Command{
	Use:   "prefetch",
	Short: "Load the tile images of a view and its zoomed out views",
	Long: `Load the tile images a sequence of views would draw, zooming out by a factor
of two per step so that every pyramid level is visited once.

Each step schedules the tiles of its selected level and waits for the
worker pool before moving on. Scheduler and cache metrics can be served in
Prometheus format while the sweep runs. When the config file changes the
level change threshold is reloaded between steps.

Examples:
  # Sweep every level around the whole target
  rastertiles prefetch

  # Sweep three steps around a view, serving metrics on port 9090
  rastertiles prefetch --extent "0,0,512,512" --steps 3 --metrics-addr :9090`,
	RunE: runPrefetch,
}

func init() {
	rootCmd.AddCommand(prefetchCmd)

	prefetchCmd.Flags().String("extent", "", "first view extent in target grid cells as minx,miny,maxx,maxy (default: whole target)")
	prefetchCmd.Flags().Int("width", 0, "canvas width in pixels (default: target width)")
	prefetchCmd.Flags().Int("height", 0, "canvas height in pixels (default: target height)")
	prefetchCmd.Flags().Int("steps", 0, "number of zoom steps (default: one per level)")
	prefetchCmd.Flags().Duration("step-timeout", 5*time.Minute, "maximum time to load one step")
	prefetchCmd.Flags().String("metrics-addr", "", "address serving Prometheus metrics, e.g. :9090")
	prefetchCmd.Flags().Bool("linger", false, "keep serving metrics after the sweep until interrupted")

	cobra.CheckErr(viper.BindPFlag("metrics.addr", prefetchCmd.Flags().Lookup("metrics-addr")))
}

func runPrefetch(cmd *cobra.Command, args []string) (err error) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	s, err := newStack(ctx, true)
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
	steps, _ := cmd.Flags().GetInt("steps")
	stepTimeout, _ := cmd.Flags().GetDuration("step-timeout")
	linger, _ := cmd.Flags().GetBool("linger")

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
	if steps <= 0 {
		steps = s.cfg.Tileset.Levels
	}

	var server *http.Server
	if addr := s.cfg.Metrics.Addr; addr != "" {
		server = serveMetrics(s, addr)
		defer server.Close()
	}

	sweep := prefetch.NewSweep(prefetch.NewSweepID(), prefetch.ZoomSteps(extent, width, height, steps))
	sweep.StepTimeout = stepTimeout

	printer := message.NewPrinter(language.English)
	if s.cfg.Logging.Verbose {
		printer.Fprintf(os.Stderr, "Prefetching %d views starting at %v\n", len(sweep.Steps), extent)
	}

	sweeper := prefetch.NewSweeper(s.renderer, s.scheduler, NewConsoleProgressReporter(printer), s.logger)
	if err := sweeper.Run(ctx, sweep); err != nil {
		return err
	}

	if server != nil && linger {
		printer.Fprintf(os.Stderr, "Serving metrics on %s, interrupt to exit\n", server.Addr)
		<-ctx.Done()
	}
	return nil
}

func serveMetrics(s *stack, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		s.logger.Info("serving metrics", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server stopped", "error", err)
		}
	}()
	return server
}

// ConsoleProgressReporter implements progress reporting to console
type ConsoleProgressReporter struct {
	printer    *message.Printer
	lastUpdate time.Time
}

// NewConsoleProgressReporter creates a new console progress reporter
func NewConsoleProgressReporter(printer *message.Printer) *ConsoleProgressReporter {
	return &ConsoleProgressReporter{printer: printer}
}

// ReportProgress reports sweep progress to console
func (r *ConsoleProgressReporter) ReportProgress(sweep *prefetch.Sweep) {
	if time.Since(r.lastUpdate) < time.Second {
		return // Rate limit updates
	}

	r.printer.Fprintf(os.Stderr, "\rProgress: %.1f%% (%d/%d views, %d tiles)",
		sweep.Progress.CalculateProgress(), sweep.Progress.ProcessedSteps, sweep.Progress.TotalSteps,
		sweep.Progress.TilesRequested)
	r.lastUpdate = time.Now()
}

// ReportStepComplete reports the completion of one view
func (r *ConsoleProgressReporter) ReportStepComplete(sweep *prefetch.Sweep, result *prefetch.StepResult) {
	r.lastUpdate = time.Time{}
	r.ReportProgress(sweep)
}

// ReportSweepComplete reports sweep completion
func (r *ConsoleProgressReporter) ReportSweepComplete(sweep *prefetch.Sweep) {
	r.printer.Fprintf(os.Stderr, "\rCompleted: 100%% (%d views, %d tiles, %v)\n",
		sweep.Progress.ProcessedSteps, sweep.Progress.TilesRequested,
		sweep.CompletedAt.Sub(*sweep.StartedAt).Round(time.Millisecond))
}

// ReportSweepFailed reports sweep failure
func (r *ConsoleProgressReporter) ReportSweepFailed(sweep *prefetch.Sweep, err error) {
	r.printer.Fprintf(os.Stderr, "\rFailed (%s): %s\n", sweep.Status, err.Error())
}
