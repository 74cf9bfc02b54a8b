// Package syncer polls the tourism export and publishes changed snapshots.
//
// A Controller runs fetch, parse, normalize, fingerprint and publish as one
// cycle. At most one cycle is in flight: a trigger that arrives while a
// cycle runs is dropped, never queued.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/townmap/internal/fetcher"
	"github.com/sells-group/townmap/internal/model"
	"github.com/sells-group/townmap/internal/normalize"
	"github.com/sells-group/townmap/internal/snapshot"
)

// DefaultInterval is the polling cadence when Options.Interval is zero.
const DefaultInterval = 5000 * time.Millisecond

// Format identifies the export encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat validates a format name. Empty means csv.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", eris.Errorf("syncer: unknown format %q (want csv or xlsx)", s)
	}
}

// Recorder persists cycle history and accepted snapshots.
type Recorder interface {
	RecordCycle(ctx context.Context, entry model.CycleEntry) error
	SaveSnapshot(ctx context.Context, v *snapshot.Version) error
}

// Archiver keeps a copy of each accepted raw export.
type Archiver interface {
	Archive(ctx context.Context, fp snapshot.Fingerprint, format Format, raw []byte) error
}

// Notification describes an accepted update. Listeners re-read the
// snapshot; the fields are metadata only.
type Notification struct {
	Fingerprint string    `json:"fingerprint"`
	Towns       int       `json:"towns"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Publisher forwards update notifications out of process.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, n Notification) error
}

// Observer is told about every finished cycle.
type Observer interface {
	ObserveCycle(ctx context.Context, entry model.CycleEntry)
}

// Options configures a Controller.
type Options struct {
	URL        string
	Format     Format
	Sheet      fetcher.XLSXOptions
	Interval   time.Duration
	Columns    normalize.Columns
	Status     StatusSink
	Recorder   Recorder
	Archiver   Archiver
	Publishers []Publisher
	Observers  []Observer
}

// Controller owns the snapshot store and the sync state.
type Controller struct {
	opts    Options
	fetcher fetcher.Fetcher
	norm    *normalize.Normalizer
	store   *snapshot.Store
	now     func() time.Time

	updating atomic.Bool
	statusMu sync.Mutex
	wg       sync.WaitGroup

	// life bounds background manual cycles; Run cancels it on shutdown.
	life context.Context
	stop context.CancelFunc

	mu         sync.Mutex
	lastFP     snapshot.Fingerprint
	lastStatus model.SyncStatus
	lastErr    string
	lastSyncAt *time.Time

	listenersMu sync.RWMutex
	listeners   map[int]func()
	nextID      int
}

// New creates a Controller that downloads opts.URL with f.
func New(f fetcher.Fetcher, opts Options) *Controller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Format == "" {
		opts.Format = FormatCSV
	}
	if opts.Status == nil {
		opts.Status = NopSink{}
	}
	c := &Controller{
		opts:       opts,
		fetcher:    f,
		norm:       normalize.New(opts.Columns),
		store:      snapshot.NewStore(),
		now:        time.Now,
		lastStatus: model.SyncStatusIdle,
		listeners:  make(map[int]func()),
	}
	c.life, c.stop = context.WithCancel(context.Background())
	c.report(model.SyncStatusIdle)
	return c
}

// Store returns the snapshot store read by presentation code.
func (c *Controller) Store() *snapshot.Store { return c.store }

// Snapshot returns the current town snapshot.
func (c *Controller) Snapshot() model.Snapshot { return c.store.Towns() }

// Interval returns the polling cadence.
func (c *Controller) Interval() time.Duration { return c.opts.Interval }

// State returns a copy of the sync state.
func (c *Controller) State() model.SyncState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.SyncState{
		Updating:        c.updating.Load(),
		LastFingerprint: string(c.lastFP),
		LastStatus:      c.lastStatus,
		LastError:       c.lastErr,
		LastSyncAt:      c.lastSyncAt,
		Towns:           len(c.store.Towns()),
	}
}

// Seed publishes a previously persisted snapshot without notifying
// listeners. It is meant for warm starts before the first cycle.
func (c *Controller) Seed(v *snapshot.Version) {
	if v == nil {
		return
	}
	c.store.Replace(v)
	c.mu.Lock()
	c.lastFP = v.Fingerprint
	c.mu.Unlock()
}

// OnPublish registers fn to be called once per accepted update. The
// returned function removes the registration.
func (c *Controller) OnPublish(fn func()) (cancel func()) {
	c.listenersMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.listenersMu.Unlock()

	return func() {
		c.listenersMu.Lock()
		delete(c.listeners, id)
		c.listenersMu.Unlock()
	}
}

// Tick runs a periodic cycle unless one is already in flight. The bool
// reports whether a cycle ran.
func (c *Controller) Tick(ctx context.Context) (model.CycleEntry, bool) {
	if !c.begin() {
		return model.CycleEntry{}, false
	}
	return c.run(ctx, false), true
}

// Trigger runs a manual cycle unless one is already in flight. A manual
// cycle publishes even when the export is unchanged.
func (c *Controller) Trigger(ctx context.Context) (model.CycleEntry, bool) {
	if !c.begin() {
		return model.CycleEntry{}, false
	}
	return c.run(ctx, true), true
}

// TriggerAsync starts a manual cycle in the background and reports whether
// it started. The cycle outlives ctx's cancellation but not the shutdown of
// Run.
func (c *Controller) TriggerAsync(ctx context.Context) bool {
	if !c.begin() {
		return false
	}
	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	unhook := context.AfterFunc(c.life, cancel)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		defer unhook()
		c.run(bg, true)
	}()
	return true
}

// Run polls immediately and then every interval until ctx is done. Ticks
// that land on an in-flight cycle are skipped. When ctx ends, background
// manual cycles are cancelled too and Run waits for the in-flight cycle
// before returning.
func (c *Controller) Run(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "syncer"))
	log.Info("sync loop started",
		zap.String("url", c.opts.URL),
		zap.Duration("interval", c.opts.Interval),
	)

	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	c.spawn(ctx)
	for {
		select {
		case <-ctx.Done():
			c.stop()
			c.wg.Wait()
			log.Info("sync loop stopped")
			return nil
		case <-ticker.C:
			c.spawn(ctx)
		}
	}
}

// Wait blocks until background cycles have finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) spawn(ctx context.Context) {
	if !c.begin() {
		zap.L().Debug("sync cycle in flight, tick skipped")
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx, false)
	}()
}

// begin is the guarded Idle -> Updating transition.
func (c *Controller) begin() bool {
	if !c.updating.CompareAndSwap(false, true) {
		return false
	}
	c.statusMu.Lock()
	c.report(model.SyncStatusUpdating)
	c.statusMu.Unlock()
	return true
}

// release clears the updating flag and reports the return to Idle. A cycle
// that begins in between reports Updating only after this Idle.
func (c *Controller) release() {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	c.updating.Store(false)
	c.report(model.SyncStatusIdle)
}

// run executes one cycle. The updating flag is released on every path,
// panics included.
func (c *Controller) run(ctx context.Context, manual bool) (entry model.CycleEntry) {
	log := zap.L().With(zap.String("component", "syncer"), zap.Bool("manual", manual))
	entry = model.CycleEntry{
		ID:        uuid.NewString(),
		Manual:    manual,
		StartedAt: c.now().UTC(),
	}

	defer c.release()
	defer func() {
		if r := recover(); r != nil {
			entry.Status = model.SyncStatusError
			entry.Error = fmt.Sprintf("panic: %v", r)
			log.Error("sync cycle panicked", zap.Any("panic", r))
		}
		entry.CompletedAt = c.now().UTC()
		c.finish(ctx, entry)
	}()

	raw, err := fetcher.ReadAll(ctx, c.fetcher, c.opts.URL)
	if err != nil {
		return c.fail(log, entry, eris.Wrap(err, "syncer: fetch"))
	}

	rows, err := c.parse(raw)
	if err != nil {
		return c.fail(log, entry, eris.Wrap(err, "syncer: parse"))
	}

	batch := c.norm.Normalize(rows)
	entry.Accepted = batch.Accepted
	entry.Skipped = batch.Skipped

	towns := model.NewSnapshot(batch.Records)
	fp := snapshot.Compute(towns)
	entry.Fingerprint = string(fp)

	if !manual && !snapshot.HasChanged(fp, c.lastFingerprint()) {
		entry.Status = model.SyncStatusUnchanged
		log.Debug("export unchanged", zap.String("fingerprint", string(fp)))
		return entry
	}

	v := &snapshot.Version{Towns: towns, Fingerprint: fp, UpdatedAt: entry.StartedAt}
	c.store.Replace(v)
	c.mu.Lock()
	c.lastFP = fp
	c.mu.Unlock()
	entry.Status = model.SyncStatusUpdated

	log.Info("snapshot updated",
		zap.String("fingerprint", string(fp)),
		zap.Int("towns", len(towns)),
		zap.Int("accepted", batch.Accepted),
		zap.Int("skipped", batch.Skipped),
	)

	c.persist(ctx, log, v, raw)
	c.publish(ctx, log, v)
	return entry
}

func (c *Controller) fail(log *zap.Logger, entry model.CycleEntry, err error) model.CycleEntry {
	entry.Status = model.SyncStatusError
	entry.Error = err.Error()
	log.Error("sync cycle failed, keeping last snapshot", zap.Error(err))
	return entry
}

func (c *Controller) parse(raw []byte) ([][]string, error) {
	switch c.opts.Format {
	case FormatXLSX:
		return fetcher.ReadXLSX(raw, c.opts.Sheet)
	default:
		return fetcher.ParseCSV(string(raw)), nil
	}
}

func (c *Controller) lastFingerprint() snapshot.Fingerprint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastFP
}

// persist saves the accepted snapshot and archives the raw export. Failures
// are logged; the cycle still counts as updated.
func (c *Controller) persist(ctx context.Context, log *zap.Logger, v *snapshot.Version, raw []byte) {
	if c.opts.Recorder != nil {
		if err := c.opts.Recorder.SaveSnapshot(ctx, v); err != nil {
			log.Warn("failed to save snapshot", zap.Error(err))
		}
	}
	if c.opts.Archiver != nil {
		if err := c.opts.Archiver.Archive(ctx, v.Fingerprint, c.opts.Format, raw); err != nil {
			log.Warn("failed to archive export", zap.Error(err))
		}
	}
}

// publish fires in-process listeners and then external publishers.
func (c *Controller) publish(ctx context.Context, log *zap.Logger, v *snapshot.Version) {
	c.listenersMu.RLock()
	fns := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenersMu.RUnlock()

	for _, fn := range fns {
		notify(log, fn)
	}

	n := Notification{
		Fingerprint: string(v.Fingerprint),
		Towns:       len(v.Towns),
		UpdatedAt:   v.UpdatedAt,
	}
	for _, p := range c.opts.Publishers {
		if err := p.Publish(ctx, n); err != nil {
			log.Warn("publish failed", zap.String("publisher", p.Name()), zap.Error(err))
		}
	}
}

// notify calls a publish listener. A panicking listener is logged; the
// update it was told about is already committed.
func notify(log *zap.Logger, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("publish listener panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

// finish records the terminal status of a cycle.
func (c *Controller) finish(ctx context.Context, entry model.CycleEntry) {
	c.mu.Lock()
	c.lastStatus = entry.Status
	c.lastErr = entry.Error
	if entry.Status != model.SyncStatusError {
		at := entry.CompletedAt
		c.lastSyncAt = &at
	}
	c.mu.Unlock()

	c.report(entry.Status)

	if c.opts.Recorder != nil {
		if err := c.opts.Recorder.RecordCycle(ctx, entry); err != nil {
			zap.L().Warn("failed to record sync cycle", zap.String("cycle", entry.ID), zap.Error(err))
		}
	}
	for _, o := range c.opts.Observers {
		o.ObserveCycle(ctx, entry)
	}
}

func (c *Controller) report(s model.SyncStatus) {
	icon, text := StatusDisplay(s)
	c.opts.Status.Report(icon, text)
}
