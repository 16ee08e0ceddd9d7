// Package wizard walks a draft.Manager through an ordered list of steps.
//
// The controller owns navigation only. Field rules, cascades and
// persistence stay in the manager and its form; the controller decides
// when to flush uniqueness checks, when to save, and which step to show.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/solatis/meterkeeper/internal/draft"
	"github.com/solatis/meterkeeper/internal/logging"
	"github.com/solatis/meterkeeper/internal/rules"
	"github.com/solatis/meterkeeper/internal/types"
)

var (
	// ErrLastStep is returned by Next on the review step.
	ErrLastStep = errors.New("already on the last step")

	// ErrNotAtReview is returned by Finish before the review step is reached.
	ErrNotAtReview = errors.New("finish is only available on the review step")
)

const msgRequired = "is required"

// Controller drives one wizard session.
type Controller struct {
	mgr    *draft.Manager
	steps  []Step
	index  int
	logger *slog.Logger
}

// New creates a controller on the first step of the manager's kind.
func New(mgr *draft.Manager, logger *slog.Logger) (*Controller, error) {
	steps, err := StepsFor(mgr.Form().Kind())
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Controller{mgr: mgr, steps: steps, logger: logger.With("wizard", mgr.Form().Kind())}, nil
}

// Manager returns the session being edited.
func (c *Controller) Manager() *draft.Manager { return c.mgr }

// Steps returns the step list.
func (c *Controller) Steps() []Step { return c.steps }

// Index returns the position of the current step.
func (c *Controller) Index() int { return c.index }

// Step returns the current step.
func (c *Controller) Step() Step { return c.steps[c.index] }

// AtReview reports whether the current step is the last one.
func (c *Controller) AtReview() bool { return c.index == len(c.steps)-1 }

// Next validates the current step, saves the draft and advances. Field
// errors and missing step-required fields keep the user on the step and
// are returned as *types.ValidationError; a failed save keeps the user on
// the step with the backend error.
func (c *Controller) Next(ctx context.Context) error {
	if c.AtReview() {
		return ErrLastStep
	}
	step := c.Step()

	c.mgr.FlushChecks(ctx)
	if errs := c.stepErrors(step); len(errs) > 0 {
		c.logger.Debug("step incomplete", "step", step.Name, "fields", len(errs))
		return &types.ValidationError{Errors: errs}
	}

	if err := c.mgr.SaveDraft(ctx); err != nil {
		return fmt.Errorf("save %s step: %w", step.Name, err)
	}
	c.index++
	c.logger.Debug("step advanced", "step", c.Step().Name, "id", c.mgr.ID())
	return nil
}

// Back moves to the previous step without saving. Reports false on the
// first step.
func (c *Controller) Back() bool {
	if c.index == 0 {
		return false
	}
	c.index--
	return true
}

// GoTo jumps to the named step. Only steps already passed may be revisited.
func (c *Controller) GoTo(name string) error {
	for i, s := range c.steps {
		if s.Name != name {
			continue
		}
		if i > c.index {
			return fmt.Errorf("step %q not reached yet", name)
		}
		c.index = i
		return nil
	}
	return fmt.Errorf("unknown step %q", name)
}

// Finish finalizes the entity from the review step. On a validation
// failure the controller moves back to the first step owning a failed field.
func (c *Controller) Finish(ctx context.Context) error {
	if !c.AtReview() {
		return ErrNotAtReview
	}
	err := c.mgr.Finalize(ctx)
	if err == nil {
		c.logger.Info("wizard finished", "id", c.mgr.ID())
		return nil
	}
	var ve *types.ValidationError
	if errors.As(err, &ve) {
		c.index = c.firstStepWith(ve.Errors)
	}
	return err
}

// Abandon deletes the draft.
func (c *Controller) Abandon(ctx context.Context) error {
	if err := c.mgr.Delete(ctx); err != nil {
		return err
	}
	c.index = 0
	return nil
}

// Options returns the choices for a metric field under the current values.
func (c *Controller) Options(field types.Field) (rules.Options[string], error) {
	mf, ok := c.mgr.Form().(*draft.MetricForm)
	if !ok {
		return rules.Options[string]{}, fmt.Errorf("%w: %s has no option sets", types.ErrUnknownField, c.mgr.Form().Kind())
	}
	return mf.Resolver().ResolveField(field, c.mgr.Values())
}

// ConditionOptions returns the dimension and operator choices of the usage
// condition at index.
func (c *Controller) ConditionOptions(index int) (dims, ops rules.Options[string], err error) {
	mf, ok := c.mgr.Form().(*draft.MetricForm)
	if !ok {
		return dims, ops, fmt.Errorf("%w: %s has no usage conditions", types.ErrUnknownField, c.mgr.Form().Kind())
	}
	values := c.mgr.Values()
	conds := values.Get(types.FieldUsageConditions).UsageConditions()
	if index < 0 || index >= len(conds) {
		return dims, ops, fmt.Errorf("%w: %d (have %d)", types.ErrConditionIndex, index, len(conds))
	}

	row := types.FieldValues{
		types.FieldEntityType:    values.Get(types.FieldEntityType),
		types.FieldUnitOfMeasure: values.Get(types.FieldUnitOfMeasure),
		types.FieldDimension:     types.Text(string(conds[index].Dimension)),
	}
	if dims, err = mf.Resolver().ResolveField(types.FieldDimension, row); err != nil {
		return dims, ops, err
	}
	// a stale operator is not offered back
	ops, err = mf.Resolver().ResolveField(rules.OperatorField, row)
	return dims, ops, err
}

func (c *Controller) stepErrors(step Step) types.FieldErrors {
	values := c.mgr.Values()
	errs := types.FieldErrors{}
	for f, msg := range c.mgr.Errors() {
		if step.Owns(f) {
			errs[f] = msg
		}
	}
	for _, f := range step.Required(values) {
		if _, ok := errs[f]; ok {
			continue
		}
		if values.Get(f).IsEmpty() {
			errs[f] = msgRequired
		}
	}
	return errs
}

func (c *Controller) firstStepWith(errs types.FieldErrors) int {
	for i, s := range c.steps {
		for f := range errs {
			if s.Owns(f) {
				return i
			}
		}
	}
	return c.index
}
