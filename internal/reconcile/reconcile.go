// Package reconcile keeps a target storage converged toward a source.
//
// A pass fetches both hierarchies, deletes from the target every bookmark
// the source does not have in the same version, then copies every bookmark
// the target lacks. Nothing is rolled back when a pass fails; the next pass
// recomputes the remaining difference. Folders are never pruned.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dgzargo/BookmarkStorage/internal/metrics"
	"github.com/dgzargo/BookmarkStorage/internal/storage"
	"github.com/dgzargo/BookmarkStorage/pkg/models"
	"github.com/dgzargo/BookmarkStorage/pkg/tree"
)

var (
	// ErrSaveRejected reports a save the target refused, usually because
	// another writer created the path since the hierarchies were read.
	ErrSaveRejected = errors.New("reconcile: save rejected by target")
	// ErrSourceMissing is returned when the source root does not exist.
	ErrSourceMissing = errors.New("reconcile: source root does not exist")
	// ErrRunning is returned by Run while another Run is active.
	ErrRunning = errors.New("reconcile: already running")
)

// Options tunes a Loop.
type Options struct {
	// Delay between passes of Run.
	Delay time.Duration
	// Concurrency bounds the deletes or saves in flight.
	Concurrency int
	Logger      *zap.Logger
}

// Result summarizes one pass.
type Result struct {
	Obsolete int // bookmarks in the target the source does not have
	New      int // bookmarks in the source the target does not have
	Deleted  int
	Saved    int
}

// Loop reconciles target toward source.
type Loop struct {
	source, target storage.Service
	opts           Options
	log            *zap.Logger
	trigger        chan struct{}
	running        atomic.Bool
}

// New creates a loop. Source is the truth.
func New(source, target storage.Service, opts Options) *Loop {
	if opts.Delay <= 0 {
		opts.Delay = 15 * time.Minute
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Loop{
		source:  source,
		target:  target,
		opts:    opts,
		log:     log.Named("reconcile"),
		trigger: make(chan struct{}, 1),
	}
}

// UpdateState runs one reconciliation pass.
func (l *Loop) UpdateState(ctx context.Context) (Result, error) {
	start := time.Now()
	res, err := l.pass(ctx)
	metrics.RecordReconcilePass(res.Deleted, res.Saved, err)

	fields := []zap.Field{
		zap.Int("obsolete", res.Obsolete),
		zap.Int("new", res.New),
		zap.Int("deleted", res.Deleted),
		zap.Int("saved", res.Saved),
		zap.Duration("duration", time.Since(start)),
	}
	if err != nil {
		l.log.Error("reconcile pass failed", append(fields, zap.Error(err))...)
		return res, err
	}
	l.log.Info("reconcile pass complete", fields...)
	return res, nil
}

func (l *Loop) pass(ctx context.Context) (Result, error) {
	var res Result
	source, err := l.source.GetHierarchy(ctx)
	if err != nil {
		return res, fmt.Errorf("read source hierarchy: %w", err)
	}
	if source == nil {
		return res, ErrSourceMissing
	}
	target, err := l.target.GetHierarchy(ctx)
	if err != nil {
		return res, fmt.Errorf("read target hierarchy: %w", err)
	}
	if target == nil {
		target = models.NewFolder(source.Name())
	}

	obsolete := tree.Obsolete(target, source).Leaves()
	fresh := tree.New(source, target).Leaves()
	res.Obsolete, res.New = len(obsolete), len(fresh)

	// A changed bookmark is in both sets; deleting first keeps the two
	// operations on its path from overlapping.
	deleted, err := l.deleteAll(ctx, obsolete)
	res.Deleted = deleted
	if err != nil {
		return res, err
	}
	saved, err := l.saveAll(ctx, source, fresh)
	res.Saved = saved
	return res, err
}

func (l *Loop) deleteAll(ctx context.Context, groups []*models.FilesGroup) (int, error) {
	var n atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.Concurrency)
	for _, fg := range groups {
		g.Go(func() error {
			ok, err := l.target.DeleteBookmark(gctx, fg)
			if err != nil {
				return fmt.Errorf("delete %s: %w", fg.LocalPath(), err)
			}
			if ok {
				n.Add(1)
			} else {
				l.log.Debug("obsolete bookmark already gone", zap.String("path", fg.LocalPath()))
			}
			return nil
		})
	}
	err := g.Wait()
	return int(n.Load()), err
}

func (l *Loop) saveAll(ctx context.Context, source *models.Folder, groups []*models.FilesGroup) (int, error) {
	var n atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.Concurrency)
	for _, fg := range groups {
		g.Go(func() error {
			path := fg.LocalPath()
			original := tree.Find(source, path)
			if original == nil {
				original = fg
			}
			fake, err := tree.MakeFake(path)
			if err != nil {
				return err
			}
			ok, err := l.target.Save(gctx, models.NewProxy(fake, original), storage.CreateNew)
			if err != nil {
				return fmt.Errorf("save %s: %w", path, err)
			}
			if !ok {
				return fmt.Errorf("%w: %s", ErrSaveRejected, path)
			}
			n.Add(1)
			return nil
		})
	}
	err := g.Wait()
	return int(n.Load()), err
}

// Trigger asks a running Run to start its next pass now. Triggers arriving
// during a pass collapse into one.
func (l *Loop) Trigger() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

// Run repeats UpdateState every Delay until ctx is done. Failed passes are
// logged and retried on the next tick.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer l.running.Store(false)

	timer := time.NewTimer(l.opts.Delay)
	defer timer.Stop()
	for {
		if _, err := l.UpdateState(ctx); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		timer.Reset(l.opts.Delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		case <-l.trigger:
			l.log.Debug("pass triggered early")
		}
	}
}
