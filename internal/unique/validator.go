package unique

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/solatis/meterkeeper/internal/logging"
	"github.com/solatis/meterkeeper/internal/types"
)

// DefaultDebounce is the quiet period before a check runs.
const DefaultDebounce = 500 * time.Millisecond

// Result is one completed check.
type Result struct {
	Field  types.Field
	Value  string
	Exists bool
}

// ValidatorConfig configures one field's validator.
type ValidatorConfig struct {
	Kind     types.Kind
	Field    types.Field
	Debounce time.Duration
	Logger   *slog.Logger

	// OnResult receives every completed, non-superseded check. It is never
	// called with the validator's lock held.
	OnResult func(Result)
}

// Validator debounces uniqueness checks for one field of one edit session.
//
// Each Observe supersedes the pending check and any check in flight; a
// superseded check never reports. Observe skips the check entirely when the
// session resumed an existing draft and the value matches the value loaded
// with it. A failed check reports Exists=false (fail-open).
type Validator struct {
	checker *Checker
	cfg     ValidatorConfig
	logger  *slog.Logger

	mu        sync.Mutex
	gen       uint64
	timer     *time.Timer
	pending   *string
	inflight  context.CancelFunc
	running   chan struct{} // closed when the check in flight has reported
	excludeID types.EntityID
	original  string
	resumed   bool
	closed    bool
}

// NewValidator creates a validator; a zero Debounce selects DefaultDebounce.
func NewValidator(checker *Checker, cfg ValidatorConfig) *Validator {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Validator{checker: checker, cfg: cfg, logger: logger}
}

// SetExclude sets the identity excluded from the search (the entity itself).
func (v *Validator) SetExclude(id types.EntityID) {
	v.mu.Lock()
	v.excludeID = id
	v.mu.Unlock()
}

// SetOriginal records the value captured at draft load.
func (v *Validator) SetOriginal(value string, resumed bool) {
	v.mu.Lock()
	v.original = value
	v.resumed = resumed
	v.mu.Unlock()
}

// Observe schedules a check of value after the debounce window.
func (v *Validator) Observe(value string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.supersedeLocked()
	if v.skipLocked(value) {
		return
	}
	v.pending = &value
	gen := v.gen
	v.timer = time.AfterFunc(v.cfg.Debounce, func() {
		v.run(context.Background(), gen)
	})
}

// Pending reports whether a check is waiting for its debounce window.
func (v *Validator) Pending() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pending != nil
}

// Flush runs the pending check now and waits until no check is pending or
// in flight, or ctx ends. A check already running when Flush is called is
// waited for, not skipped.
func (v *Validator) Flush(ctx context.Context) {
	for {
		v.mu.Lock()
		if v.closed {
			v.mu.Unlock()
			return
		}
		if v.pending != nil {
			if v.timer != nil {
				v.timer.Stop()
				v.timer = nil
			}
			gen := v.gen
			v.mu.Unlock()
			v.run(ctx, gen)
			continue
		}
		done := v.running
		v.mu.Unlock()
		if done == nil {
			return
		}
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
}

// Close cancels the pending timer and any check in flight. Idempotent.
func (v *Validator) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.supersedeLocked()
	v.closed = true
}

func (v *Validator) supersedeLocked() {
	v.gen++
	if v.timer != nil {
		v.timer.Stop()
		v.timer = nil
	}
	if v.inflight != nil {
		v.inflight()
		v.inflight = nil
	}
	v.pending = nil
}

func (v *Validator) skipLocked(value string) bool {
	if v.resumed && Same(value, v.original) {
		v.logger.Debug("uniqueness check skipped, value matches draft original",
			"kind", v.cfg.Kind, "field", v.cfg.Field)
		return true
	}
	return false
}

func (v *Validator) run(parent context.Context, gen uint64) {
	v.mu.Lock()
	if v.closed || gen != v.gen || v.pending == nil {
		v.mu.Unlock()
		return
	}
	value := *v.pending
	v.pending = nil
	ctx, cancel := context.WithCancel(parent)
	v.inflight = cancel
	done := make(chan struct{})
	v.running = done
	exclude := v.excludeID
	v.mu.Unlock()

	defer func() {
		v.mu.Lock()
		if v.running == done {
			v.running = nil
		}
		v.mu.Unlock()
		close(done)
	}()

	exists, err := v.checker.CheckUnique(ctx, v.cfg.Kind, v.cfg.Field, value, exclude)
	cancel()

	v.mu.Lock()
	superseded := v.closed || gen != v.gen
	if !superseded {
		v.inflight = nil
	}
	v.mu.Unlock()
	if superseded {
		return
	}

	if err != nil {
		v.logger.Warn("uniqueness check failed, treating as available",
			"kind", v.cfg.Kind, "field", v.cfg.Field, "error", err)
		exists = false
	}
	if v.cfg.OnResult != nil {
		v.cfg.OnResult(Result{Field: v.cfg.Field, Value: value, Exists: exists})
	}
}
