// Package draft owns the lifecycle of one entity edit session.
//
// A Manager holds the current field values (through a Form), the snapshot
// last synchronized with the backend, and the per-field error map. State
// moves NEW -> DRAFT -> ACTIVE, with DELETED reachable from NEW and DRAFT.
//
// Saves send only the ChangeSet against the snapshot. The ChangeSet is
// captured under the lock when the save starts; on success exactly the sent
// fields are applied to the snapshot, so edits made while the request was in
// flight stay pending for the next save. Backend failures never touch local
// state and are never retried here.
package draft

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/solatis/meterkeeper/internal/logging"
	"github.com/solatis/meterkeeper/internal/rules"
	"github.com/solatis/meterkeeper/internal/types"
	"github.com/solatis/meterkeeper/internal/unique"
)

const msgExists = "already exists"

// Config wires the optional collaborators of a Manager.
type Config struct {
	Logger *slog.Logger

	// Cache persists the session after every change; nil disables persistence.
	Cache    Cache
	CacheKey string

	// Checker enables debounced uniqueness validation of Form.UniqueFields.
	Checker  *unique.Checker
	Debounce time.Duration
}

// Manager is the Draft/Entity state machine for one edit session.
type Manager struct {
	backend Backend
	form    Form
	kind    types.Kind
	logger  *slog.Logger
	cache   Cache
	key     string

	// saveMu serializes backend writes
	saveMu sync.Mutex

	mu         sync.Mutex
	id         types.EntityID
	status     types.Status
	snapshot   types.FieldValues
	original   types.FieldValues
	errors     types.FieldErrors
	finalizing bool
	validators map[types.Field]*unique.Validator
}

// NewManager creates a manager in state NEW with an empty form.
func NewManager(backend Backend, form Form, cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	key := cfg.CacheKey
	if key == "" {
		key = string(form.Kind())
	}
	m := &Manager{
		backend:  backend,
		form:     form,
		kind:     form.Kind(),
		logger:   logger.With("kind", form.Kind()),
		cache:    cfg.Cache,
		key:      key,
		status:   types.StatusNew,
		snapshot: types.FieldValues{},
		original: types.FieldValues{},
		errors:   types.FieldErrors{},
	}
	if cfg.Checker != nil {
		m.validators = make(map[types.Field]*unique.Validator)
		for _, f := range form.UniqueFields() {
			m.validators[f] = unique.NewValidator(cfg.Checker, unique.ValidatorConfig{
				Kind:     m.kind,
				Field:    f,
				Debounce: cfg.Debounce,
				Logger:   m.logger,
				OnResult: m.onUniqueResult,
			})
		}
	}
	return m
}

// Initialize seeds the session. A nil record starts a NEW entity; otherwise
// the record must be a DRAFT of the form's kind and seeds both the current
// values and the snapshot.
func (m *Manager) Initialize(rec *types.Record) error {
	m.mu.Lock()
	if rec == nil {
		m.id = types.NoID
		m.status = types.StatusNew
		m.snapshot = types.FieldValues{}
		m.original = types.FieldValues{}
		m.form.Load(types.FieldValues{})
	} else {
		if rec.Kind != m.kind {
			m.mu.Unlock()
			return fmt.Errorf("%w: record is a %s, session edits a %s", types.ErrUnknownKind, rec.Kind, m.kind)
		}
		if rec.Status != types.StatusDraft {
			m.mu.Unlock()
			return types.ErrNotEditable
		}
		m.id = rec.ID
		m.status = types.StatusDraft
		m.snapshot = rec.Values.Clone()
		m.original = rec.Values.Clone()
		m.form.Load(rec.Values)
		for f, msg := range m.form.ValidateDraft() {
			m.logger.Warn("stale value in stored draft", "id", m.id, "field", f, "problem", msg)
		}
	}
	m.errors = types.FieldErrors{}
	m.finalizing = false
	m.mu.Unlock()

	m.resetValidators()
	m.persist()
	return nil
}

// Restore reloads a cached session. Reports false when none is cached.
func (m *Manager) Restore() (bool, error) {
	if m.cache == nil {
		return false, nil
	}
	s, err := m.cache.Load(m.key)
	if err != nil || s == nil {
		return false, err
	}
	if s.Kind != m.kind {
		return false, types.ErrUnknownKind
	}
	if s.Status.Terminal() {
		return false, m.cache.Clear(m.key)
	}

	m.mu.Lock()
	m.id = s.ID
	m.status = s.Status
	m.snapshot = s.Snapshot.Clone()
	m.original = s.Original.Clone()
	m.form.Load(s.Current)
	m.errors = types.FieldErrors{}
	m.finalizing = false
	m.mu.Unlock()

	m.resetValidators()
	m.logger.Info("restored cached draft session", "id", s.ID, "status", s.Status)
	return true, nil
}

// ID returns the backend identity, NoID while NEW.
func (m *Manager) ID() types.EntityID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}

// Status returns the lifecycle state.
func (m *Manager) Status() types.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Values returns a copy of the current field values.
func (m *Manager) Values() types.FieldValues {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.form.Values()
}

// Errors returns a copy of the per-field error map.
func (m *Manager) Errors() types.FieldErrors {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors.Clone()
}

// Form returns the kind's form; read-only use.
func (m *Manager) Form() Form { return m.form }

// SetField assigns one field, running the form's cascades. Editing a field
// clears its error and, for uniqueness-constrained fields, schedules a check.
func (m *Manager) SetField(field types.Field, value types.Value) error {
	m.mu.Lock()
	if err := m.editableLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	before := m.form.Values()
	if err := m.form.Set(field, value); err != nil {
		m.mu.Unlock()
		return err
	}
	m.clearChangedErrorsLocked(before)
	current := m.form.Values().Get(field).String()
	v := m.validators[field]
	m.mu.Unlock()

	if v != nil {
		v.Observe(current)
	}
	m.persist()
	return nil
}

// EditConditions runs fn against the usage condition editor and commits
// the result. Nothing is committed when fn fails. Metric sessions only.
func (m *Manager) EditConditions(fn func(*rules.ConditionEditor) error) error {
	mf, ok := m.form.(*MetricForm)
	if !ok {
		return fmt.Errorf("%w: %s has no usage conditions", types.ErrUnknownField, m.kind)
	}
	m.mu.Lock()
	if err := m.editableLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	editor := mf.ConditionEditor()
	if err := fn(editor); err != nil {
		m.mu.Unlock()
		return err
	}
	before := m.form.Values()
	mf.CommitConditions(editor)
	m.clearChangedErrorsLocked(before)
	m.mu.Unlock()

	m.persist()
	return nil
}

// ChangeSet returns every field whose current value differs from the snapshot.
func (m *Manager) ChangeSet() types.ChangeSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return types.Diff(m.form.Values(), m.snapshot)
}

// SaveDraft creates the entity when NEW, otherwise sends the ChangeSet.
// An empty ChangeSet issues no request. Draft-level defects are logged,
// never blocking.
func (m *Manager) SaveDraft(ctx context.Context) error {
	m.mu.Lock()
	if err := m.editableLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()
	return m.save(ctx)
}

func (m *Manager) save(ctx context.Context) error {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	m.mu.Lock()
	if m.status.Terminal() {
		m.mu.Unlock()
		return types.ErrNotEditable
	}
	status, id := m.status, m.id
	var payload types.ChangeSet
	if status == types.StatusNew {
		payload = types.Sparse(m.form.Values())
	} else {
		payload = types.Diff(m.form.Values(), m.snapshot)
	}
	for f, msg := range m.form.ValidateDraft() {
		m.logger.Warn("saving draft with stale value", "id", id, "field", f, "problem", msg)
	}
	m.mu.Unlock()

	if status == types.StatusDraft && payload.IsEmpty() {
		m.logger.Debug("draft unchanged, nothing to save", "id", id)
		return nil
	}

	var rec *types.Record
	var err error
	if status == types.StatusNew {
		rec, err = m.backend.Create(ctx, m.kind, payload)
	} else {
		rec, err = m.backend.Update(ctx, m.kind, id, payload)
	}
	if err != nil {
		op := "update " + string(m.kind)
		if status == types.StatusNew {
			op = "create " + string(m.kind)
		}
		m.logger.Error("draft save failed", "id", id, "error", err)
		return transportError(op, err)
	}

	m.mu.Lock()
	if status == types.StatusNew {
		if rec == nil || rec.ID == types.NoID {
			m.mu.Unlock()
			return transportError("create "+string(m.kind), errors.New("backend returned no identifier"))
		}
		m.id = rec.ID
		m.status = types.StatusDraft
	}
	m.snapshot = types.Apply(m.snapshot, payload)
	newID := m.id
	m.mu.Unlock()

	if status == types.StatusNew {
		for _, v := range m.validators {
			v.SetExclude(newID)
		}
		m.logger.Info("draft created", "id", newID, "fields", len(payload))
	} else {
		m.logger.Info("draft updated", "id", newID, "fields", payload.Fields())
	}
	m.persist()
	return nil
}

// Finalize validates the full shape, saves pending changes, and asks the
// backend for the irreversible transition to ACTIVE. Local validation and
// uniqueness failures return *types.ValidationError without any request;
// status stays DRAFT on every failure.
func (m *Manager) Finalize(ctx context.Context) error {
	m.mu.Lock()
	switch {
	case m.status.Terminal():
		m.mu.Unlock()
		return types.ErrNotEditable
	case m.status != types.StatusDraft:
		m.mu.Unlock()
		return types.ErrNotDraft
	case m.finalizing:
		m.mu.Unlock()
		return types.ErrFinalizeInFlight
	}
	if err := m.form.ValidateFinal(); err != nil {
		var ve *types.ValidationError
		if errors.As(err, &ve) {
			for f, msg := range ve.Errors {
				m.errors[f] = msg
			}
		}
		m.mu.Unlock()
		return err
	}
	// earlier local validation results are superseded; conflicts still stand
	for f, msg := range m.errors {
		if msg != msgExists {
			delete(m.errors, f)
		}
	}
	m.finalizing = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.finalizing = false
		m.mu.Unlock()
	}()

	for _, v := range m.validators {
		v.Flush(ctx)
	}

	m.mu.Lock()
	if len(m.errors) > 0 {
		errs := m.errors.Clone()
		m.mu.Unlock()
		return &types.ValidationError{Errors: errs}
	}
	id := m.id
	m.mu.Unlock()

	if err := m.save(ctx); err != nil {
		return err
	}

	m.saveMu.Lock()
	_, err := m.backend.Finalize(ctx, m.kind, id)
	m.saveMu.Unlock()
	if err != nil {
		if errors.Is(err, types.ErrFinalizeRejected) {
			m.logger.Error("backend rejected finalize", "id", id, "error", err)
			m.mu.Lock()
			var ve *types.ValidationError
			if errors.As(err, &ve) {
				for f, msg := range ve.Errors {
					m.errors[f] = msg
				}
			}
			m.mu.Unlock()
			return err
		}
		m.logger.Error("finalize failed", "id", id, "error", err)
		return transportError("finalize "+string(m.kind), err)
	}

	m.mu.Lock()
	m.status = types.StatusActive
	m.snapshot = m.form.Values()
	m.mu.Unlock()

	m.closeValidators()
	m.clearCache()
	m.logger.Info("entity finalized", "id", id)
	return nil
}

// Delete abandons the session. A NEW entity has nothing to remove on the
// backend; a DRAFT is deleted there first and local state is discarded
// only on success.
func (m *Manager) Delete(ctx context.Context) error {
	m.mu.Lock()
	if err := m.editableLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	status, id := m.status, m.id
	m.mu.Unlock()

	if status == types.StatusDraft {
		m.saveMu.Lock()
		err := m.backend.Delete(ctx, m.kind, id)
		m.saveMu.Unlock()
		if err != nil {
			m.logger.Error("draft delete failed", "id", id, "error", err)
			return transportError("delete "+string(m.kind), err)
		}
	}

	m.mu.Lock()
	m.status = types.StatusDeleted
	m.snapshot = types.FieldValues{}
	m.errors = types.FieldErrors{}
	m.form.Load(types.FieldValues{})
	m.mu.Unlock()

	m.closeValidators()
	m.clearCache()
	m.logger.Info("draft discarded", "id", id)
	return nil
}

// FlushChecks runs pending uniqueness checks now.
func (m *Manager) FlushChecks(ctx context.Context) {
	for _, v := range m.validators {
		v.Flush(ctx)
	}
}

// Close tears down pending uniqueness checks. The session is not deleted.
func (m *Manager) Close() {
	m.closeValidators()
}

func (m *Manager) editableLocked() error {
	if m.status.Terminal() {
		return types.ErrNotEditable
	}
	if m.finalizing {
		return types.ErrFinalizeInFlight
	}
	return nil
}

func (m *Manager) clearChangedErrorsLocked(before types.FieldValues) {
	for f := range types.Diff(m.form.Values(), before) {
		delete(m.errors, f)
	}
}

func (m *Manager) onUniqueResult(r unique.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status.Terminal() {
		return
	}
	// the field changed after this check was issued
	if !unique.Same(m.form.Values().Get(r.Field).String(), r.Value) {
		return
	}
	if r.Exists {
		m.errors[r.Field] = msgExists
		m.logger.Info("uniqueness conflict", "field", r.Field)
		return
	}
	if m.errors[r.Field] == msgExists {
		delete(m.errors, r.Field)
	}
}

func (m *Manager) resetValidators() {
	m.mu.Lock()
	id, status, original := m.id, m.status, m.original
	m.mu.Unlock()
	for f, v := range m.validators {
		v.SetExclude(id)
		v.SetOriginal(original.Get(f).String(), status == types.StatusDraft)
	}
}

func (m *Manager) closeValidators() {
	for _, v := range m.validators {
		v.Close()
	}
}

func (m *Manager) persist() {
	if m.cache == nil {
		return
	}
	m.mu.Lock()
	s := &Session{
		Kind:     m.kind,
		ID:       m.id,
		Status:   m.status,
		Snapshot: m.snapshot.Clone(),
		Current:  m.form.Values(),
		Original: m.original.Clone(),
	}
	m.mu.Unlock()
	if err := m.cache.Save(m.key, s); err != nil {
		m.logger.Warn("failed to cache draft session", "error", err)
	}
}

func (m *Manager) clearCache() {
	if m.cache == nil {
		return
	}
	if err := m.cache.Clear(m.key); err != nil {
		m.logger.Warn("failed to clear draft cache", "error", err)
	}
}
