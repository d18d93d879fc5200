package tracker

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/justapithecus/memtrace/dedup"
	"github.com/justapithecus/memtrace/export"
	"github.com/justapithecus/memtrace/iox"
	"github.com/justapithecus/memtrace/log"
	"github.com/justapithecus/memtrace/types"
)

// Statistics is the dispatcher's counter snapshot. Counters use relaxed
// atomics; they never synchronize payload data.
type Statistics struct {
	EventsTracked uint64 `json:"events_tracked"`
	EventsDropped uint64 `json:"events_dropped"`
	BytesTracked  uint64 `json:"bytes_tracked"`
	OverheadBytes uint64 `json:"overhead_bytes"`
	DurationMs    uint64 `json:"duration_ms"`
	CrossThread   uint64 `json:"cross_thread_deallocs"`
}

// Dispatcher routes allocation events to its single strategy and
// enforces the sampling policy and overhead budget.
//
// Lifecycle: NewDispatcher -> Start -> (TrackAlloc | TrackDealloc)* ->
// Stop. Start on an active dispatcher warns and returns nil; Stop on an
// inactive one returns NotActive.
type Dispatcher struct {
	config  Config
	logger  *log.Logger
	store   *dedup.Store
	sampler sampler

	mu       sync.Mutex
	strategy Strategy
	active   atomic.Bool
	startNs  atomic.Int64

	tracked      atomic.Uint64
	dropped      atomic.Uint64
	bytes        atomic.Uint64
	budgetWarned atomic.Bool
}

// NewDispatcher validates the config and builds the dispatcher with
// its strategy. The tracker is inactive until Start.
func NewDispatcher(config Config, logger *log.Logger) (*Dispatcher, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewLogger(log.SessionMeta{
			SessionID: uuid.NewString(),
			Strategy:  string(config.Strategy),
			PID:       os.Getpid(),
		})
	}

	store := dedup.NewStore(dedup.DefaultConfig(), logger)
	d := &Dispatcher{
		config:  config,
		logger:  logger,
		store:   store,
		sampler: newSampler(config.SampleRate),
	}

	switch config.Strategy {
	case types.StrategyGlobal:
		d.strategy = newGlobalStrategy(store)
	case types.StrategyThreadLocal:
		d.strategy = newThreadLocalStrategy(store, config.Shards)
	case types.StrategyLockfreeBinary:
		d.strategy = newLockfreeStrategy(store, config.LogDir, config.FlushBatch, logger)
	}
	return d, nil
}

// Store exposes the dispatcher's interning store, shared with the
// passport tracker and the export pipeline.
func (d *Dispatcher) Store() *dedup.Store { return d.store }

// Strategy returns the active strategy kind.
func (d *Dispatcher) Strategy() types.StrategyKind { return d.config.Strategy }

// Start transitions the dispatcher to Active. Starting an already
// active dispatcher logs a warning and returns nil.
func (d *Dispatcher) Start() error {
	if !d.active.CompareAndSwap(false, true) {
		d.logger.Warn("tracker already active", nil)
		return nil
	}
	d.startNs.Store(time.Now().UnixNano())
	d.logger.Info("tracking started", map[string]any{
		"strategy":    string(d.config.Strategy),
		"sample_rate": d.config.SampleRate,
	})
	return nil
}

// Stop drains the strategy and returns the exported dataset as a byte
// buffer in the default binary container format.
func (d *Dispatcher) Stop() ([]byte, error) {
	if !d.active.CompareAndSwap(true, false) {
		return nil, types.NewTrackError(types.KindNotActive, "stop on inactive tracker")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	records, err := d.strategy.Drain()
	if err != nil {
		return nil, err
	}

	buf := iox.NewBufferFile()
	w, err := export.NewWriter(buf, export.DefaultOptions(), d.store)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if err := w.WriteRecord(&records[i]); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	d.logger.Info("tracking stopped", map[string]any{
		"records":     len(records),
		"export_size": buf.Len(),
	})
	return buf.Bytes(), nil
}

// TrackAlloc records an allocation from the instrumentation hook.
// Sampling may drop it; a dropped event is success, not an error.
// Fast-path failures inside the strategy are logged and swallowed
// unless fatal.
func (d *Dispatcher) TrackAlloc(ev types.Event) error {
	if !d.active.Load() {
		return types.NewTrackError(types.KindNotActive, "track_alloc on inactive tracker")
	}
	if ev.TimestampNs == 0 {
		ev.TimestampNs = uint64(time.Now().UnixNano())
	}
	if !d.sampler.keep(ev.Ptr, ev.TimestampNs) || d.overBudget() {
		d.dropped.Add(1)
		return nil
	}
	ev.Kind = types.EventKindAlloc

	if err := d.strategy.TrackAlloc(ev); err != nil {
		return d.swallowNonFatal("track_alloc", err)
	}
	d.tracked.Add(1)
	d.bytes.Add(ev.Size)
	return nil
}

// TrackDealloc records a deallocation. In the multi-thread strategies
// an unknown pointer is the expected cross-thread case; only the
// Global strategy reports it, and even there the fast path downgrades
// it to a warning.
func (d *Dispatcher) TrackDealloc(ev types.Event) error {
	if !d.active.Load() {
		return types.NewTrackError(types.KindNotActive, "track_dealloc on inactive tracker")
	}
	if ev.TimestampNs == 0 {
		ev.TimestampNs = uint64(time.Now().UnixNano())
	}
	if !d.sampler.keep(ev.Ptr, ev.TimestampNs) {
		d.dropped.Add(1)
		return nil
	}
	ev.Kind = types.EventKindDealloc

	if err := d.strategy.TrackDealloc(ev); err != nil {
		return d.swallowNonFatal("track_dealloc", err)
	}
	d.tracked.Add(1)
	return nil
}

// swallowNonFatal implements the fast-path propagation policy: non-fatal
// errors become warnings and success; fatal ones surface.
func (d *Dispatcher) swallowNonFatal(op string, err error) error {
	if te, ok := err.(*types.TrackError); ok && !te.IsFatal() {
		d.logger.Warn(op+" degraded", map[string]any{"error": err.Error()})
		return nil
	}
	return err
}

// overBudget reports whether the strategy's estimated overhead exceeds
// the configured budget. The first breach logs a warning.
func (d *Dispatcher) overBudget() bool {
	if d.strategy.OverheadBytes() <= d.config.MaxOverheadBytes {
		return false
	}
	if d.budgetWarned.CompareAndSwap(false, true) {
		d.logger.Warn("overhead budget exceeded, dropping events", map[string]any{
			"budget": d.config.MaxOverheadBytes,
		})
	}
	return true
}

// Statistics never fails; it reads relaxed counters.
func (d *Dispatcher) Statistics() Statistics {
	stats := Statistics{
		EventsTracked: d.tracked.Load(),
		EventsDropped: d.dropped.Load(),
		BytesTracked:  d.bytes.Load(),
		OverheadBytes: d.strategy.OverheadBytes(),
	}
	if start := d.startNs.Load(); start > 0 {
		stats.DurationMs = uint64(time.Since(time.Unix(0, start)).Milliseconds())
	}
	if tl, ok := d.strategy.(*threadLocalStrategy); ok {
		stats.CrossThread = tl.CrossThreadDeallocs()
	}
	return stats
}

// Active reports whether tracking is running.
func (d *Dispatcher) Active() bool { return d.active.Load() }
