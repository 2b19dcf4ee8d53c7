// internal/schedule/scheduler.go - Job map tying tile image creation to the worker pool
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/valpere/rastertiles/internal"
	"github.com/valpere/rastertiles/internal/creator"
	"github.com/valpere/rastertiles/internal/graphics"
	"github.com/valpere/rastertiles/internal/imagecache"
	"github.com/valpere/rastertiles/internal/jobs"
	"github.com/valpere/rastertiles/internal/logging"
	"github.com/valpere/rastertiles/internal/metrics"
	"github.com/valpere/rastertiles/internal/tile"
	"github.com/valpere/rastertiles/pkg/grid"
)

// ErrClosed is returned when scheduling after Teardown
var ErrClosed = internal.Errorf(internal.ErrorCodePrecondition, "scheduler is torn down")

// Options configures a Scheduler
type Options struct {
	// JobTimeout bounds a single job; zero means no limit
	JobTimeout time.Duration
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Scheduler keeps at most one outstanding creation job per tile. A tile key
// is in the job map exactly while a job for it is queued or running.
type Scheduler struct {
	mu      sync.Mutex
	entries map[tile.Key]*jobs.Task
	tasks   map[*jobs.Task][]tile.Key
	target  grid.GridGeometry
	closed  bool

	cache   *imagecache.Cache
	pool    *jobs.Pool
	planner creator.Planner
	opts    Options
	logger  *slog.Logger
}

// New creates a scheduler installing images into cache and running jobs
// planned by planner on pool
func New(cache *imagecache.Cache, pool *jobs.Pool, planner creator.Planner, opts Options) *Scheduler {
	return &Scheduler{
		entries: make(map[tile.Key]*jobs.Task),
		tasks:   make(map[*jobs.Task][]tile.Key),
		cache:   cache,
		pool:    pool,
		planner: planner,
		opts:    opts,
		logger:  logging.OrNop(opts.Logger),
	}
}

// SetTarget sets the geometry that meshes of newly created images are
// placed on. Images installed afterwards with a mesh for another target are
// remeshed on install.
func (s *Scheduler) SetTarget(target grid.GridGeometry) {
	s.mu.Lock()
	s.target = target
	s.mu.Unlock()
}

// Target returns the geometry meshes are currently built for
func (s *Scheduler) Target() grid.GridGeometry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// Cache returns the image cache the scheduler installs into
func (s *Scheduler) Cache() *imagecache.Cache {
	return s.cache
}

// Pending returns the number of tiles with an outstanding job
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Scheduled reports whether key has an outstanding job
func (s *Scheduler) Scheduled(key tile.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// RequestImage returns the cached image of t when it is usable. Otherwise
// it schedules a job for t unless one is outstanding and returns nil.
func (s *Scheduler) RequestImage(t *tile.Tile) (*graphics.DrawableImage, error) {
	if img, ok := s.cache.Get(t.Key()); ok && usable(img) {
		return img, nil
	}
	return nil, s.Submit([]*tile.Tile{t})
}

func usable(img *graphics.DrawableImage) bool {
	if img.Image == nil {
		return false
	}
	switch img.Image.Status() {
	case graphics.StatusFailed, graphics.StatusInvalid:
		return false
	default:
		return true
	}
}

// Submit schedules jobs for the tiles that have none outstanding. Claiming
// keys and queueing the planned jobs happen atomically.
func (s *Scheduler) Submit(tiles []*tile.Tile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	fresh := make([]*tile.Tile, 0, len(tiles))
	seen := make(map[tile.Key]struct{}, len(tiles))
	for _, t := range tiles {
		key := t.Key()
		if _, ok := s.entries[key]; ok {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		fresh = append(fresh, t)
	}
	if len(fresh) == 0 {
		return nil
	}

	planned := s.planner.Plan(fresh)
	for _, job := range planned {
		task := s.newTask(job)
		keys := s.tasks[task]
		for _, k := range keys {
			s.entries[k] = task
		}
		if err := s.pool.Submit(task); err != nil {
			s.release(task)
			return err
		}
	}

	s.opts.Metrics.Scheduled(len(planned))
	s.opts.Metrics.SetInFlight(len(s.entries))
	s.logger.Debug("scheduled tile jobs", "tiles", len(fresh), "jobs", len(planned))
	return nil
}

// newTask wraps job in a pool task and registers its keys. Must be called
// with s.mu held.
func (s *Scheduler) newTask(job creator.Job) *jobs.Task {
	keys := make([]tile.Key, len(job.Tiles))
	for i, t := range job.Tiles {
		keys[i] = t.Key()
	}

	var task *jobs.Task
	task = jobs.NewTask(func(ctx context.Context) {
		defer s.finish(task)

		ctx, cancel := s.jobContext(ctx)
		defer cancel()
		job.Run(ctx, s)
	})
	s.tasks[task] = keys
	return task
}

func (s *Scheduler) jobContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.JobTimeout > 0 {
		return context.WithTimeout(ctx, s.opts.JobTimeout)
	}
	return context.WithCancel(ctx)
}

// finish drops the keys still mapped to task
func (s *Scheduler) finish(task *jobs.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.release(task)
	s.opts.Metrics.SetInFlight(len(s.entries))
}

// release removes task and its keys. Must be called with s.mu held.
func (s *Scheduler) release(task *jobs.Task) {
	for _, k := range s.tasks[task] {
		if s.entries[k] == task {
			delete(s.entries, k)
		}
	}
	delete(s.tasks, task)
}

// InstallImage stores img in the cache, disposing the image it replaces,
// and clears the job entry of t. A mesh built for a previous target is
// rebuilt for the current one first. After Teardown img is disposed instead.
func (s *Scheduler) InstallImage(t *tile.Tile, img *graphics.DrawableImage) {
	s.mu.Lock()
	delete(s.entries, t.Key())
	inFlight := len(s.entries)

	if s.closed {
		s.mu.Unlock()
		img.Dispose()
		return
	}
	if err := s.retarget(img); err != nil {
		s.mu.Unlock()
		s.logger.Warn("failed to rebuild tile mesh", "tile", t.String(), "error", err)
		img.Dispose()
		return
	}
	// installing under s.mu orders the install against SetTarget
	s.cache.Install(t.Key(), img)
	s.mu.Unlock()

	s.opts.Metrics.Installed()
	s.opts.Metrics.SetInFlight(inFlight)
	s.opts.Metrics.SetCached(s.cache.Len())
}

// retarget swaps a stale mesh of img for one on the current target. A
// scheduler without a target leaves meshes alone. Must be called with s.mu
// held.
func (s *Scheduler) retarget(img *graphics.DrawableImage) error {
	if img.Mesh == nil || s.target.Width == 0 || img.Mesh.Target().Equal(s.target) {
		return nil
	}
	mesh, err := img.Mesh.Clone(s.target)
	if err != nil {
		return err
	}
	img.Mesh.Dispose()
	img.Mesh = mesh
	return nil
}

// Abandon clears the job entry of t without installing an image, so the
// next request schedules it again
func (s *Scheduler) Abandon(t *tile.Tile) {
	s.mu.Lock()
	delete(s.entries, t.Key())
	s.mu.Unlock()
}

// Loaded reports whether the cache holds a loaded image for key
func (s *Scheduler) Loaded(key tile.Key) bool {
	status, ok := s.cache.Status(key)
	return ok && status == graphics.StatusLoaded
}

// CancelStaleJobs removes queued jobs none of whose tiles are in needed.
// Jobs already running are left to complete. It returns the number of jobs
// cancelled.
func (s *Scheduler) CancelStaleJobs(needed []*tile.Tile) int {
	keep := make(map[tile.Key]struct{}, len(needed))
	for _, t := range needed {
		keep[t.Key()] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cancelled := 0
	for task, keys := range s.tasks {
		if anyNeeded(keys, keep) {
			continue
		}
		if s.pool.Cancel(task) {
			s.release(task)
			cancelled++
		}
	}

	if cancelled > 0 {
		s.opts.Metrics.Cancelled(cancelled)
		s.opts.Metrics.SetInFlight(len(s.entries))
		s.logger.Debug("cancelled stale tile jobs", "jobs", cancelled)
	}
	return cancelled
}

func anyNeeded(keys []tile.Key, keep map[tile.Key]struct{}) bool {
	for _, k := range keys {
		if _, ok := keep[k]; ok {
			return true
		}
	}
	return false
}

// Wait blocks until every job scheduled so far has finished or ctx is done
func (s *Scheduler) Wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		var next *jobs.Task
		for task := range s.tasks {
			next = task
			break
		}
		s.mu.Unlock()

		if next == nil {
			return nil
		}
		select {
		case <-next.Done():
			// tasks dropped by a closing pool never run their finish hook
			s.finish(next)
		case <-ctx.Done():
			return internal.NewError(internal.ErrorCodeResource, "waiting for tile jobs", ctx.Err())
		}
	}
}

// Teardown cancels every queued job, waits for running jobs to finish and
// then clears the image cache. The cache is cleared even when ctx ends
// first; images those jobs install later are disposed on arrival.
// Scheduling afterwards fails with ErrClosed.
func (s *Scheduler) Teardown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	cancelled := 0
	for task := range s.tasks {
		if s.pool.Cancel(task) {
			s.release(task)
			cancelled++
		}
	}
	s.mu.Unlock()

	s.opts.Metrics.Cancelled(cancelled)
	err := s.Wait(ctx)

	s.cache.Clear()
	s.opts.Metrics.SetCached(0)
	if err != nil {
		s.logger.Warn("scheduler torn down with jobs still running", "error", err)
		return err
	}
	s.opts.Metrics.SetInFlight(0)
	s.logger.Debug("scheduler torn down", "cancelled", cancelled)
	return nil
}
