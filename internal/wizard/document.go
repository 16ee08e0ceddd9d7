package wizard

import (
	"context"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/solatis/meterkeeper/internal/types"
)

// Document is a scripted wizard session read from YAML:
//
//	kind: metric
//	id: 0190...          # optional, resumes an existing draft
//	finalize: true
//	fields:
//	  name: Payments
//	  entity_type: API
//	  usage_conditions:
//	    - {dimension: AMOUNT, operator: ">", value: "100"}
//
// A null field clears it.
type Document struct {
	Kind     types.Kind
	ID       types.EntityID
	Finalize bool
	Fields   types.FieldValues
}

type documentFile struct {
	Kind     string               `yaml:"kind"`
	ID       string               `yaml:"id"`
	Finalize bool                 `yaml:"finalize"`
	Fields   map[string]yaml.Node `yaml:"fields"`
}

// ReadDocuments decodes every YAML document in r.
func ReadDocuments(r io.Reader) ([]Document, error) {
	dec := yaml.NewDecoder(r)
	var docs []Document
	for {
		var f documentFile
		err := dec.Decode(&f)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", len(docs)+1, err)
		}
		doc, err := f.document()
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", len(docs)+1, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (f documentFile) document() (Document, error) {
	kind, err := types.ParseKind(f.Kind)
	if err != nil {
		return Document{}, err
	}
	schema, err := types.SchemaFor(kind)
	if err != nil {
		return Document{}, err
	}

	values := types.FieldValues{}
	for key, node := range f.Fields {
		field := types.Field(key)
		vk, ok := schema.ValueKind(field)
		if !ok {
			return Document{}, fmt.Errorf("%w: %s.%s", types.ErrUnknownField, kind, key)
		}
		v, err := decodeNode(vk, &node)
		if err != nil {
			return Document{}, fmt.Errorf("%s: line %d: %w", key, node.Line, err)
		}
		values[field] = v
	}

	return Document{
		Kind:     kind,
		ID:       types.EntityID(f.ID),
		Finalize: f.Finalize,
		Fields:   values,
	}, nil
}

func decodeNode(kind types.ValueKind, node *yaml.Node) (types.Value, error) {
	null := node.Kind == yaml.ScalarNode && node.Tag == "!!null"
	switch kind {
	case types.KindText:
		if null {
			return types.Unset(), nil
		}
		var s string
		if err := node.Decode(&s); err != nil {
			return types.Value{}, err
		}
		return types.Text(s), nil
	case types.KindList:
		var items []string
		if !null {
			if err := node.Decode(&items); err != nil {
				return types.Value{}, err
			}
		}
		return types.List(items), nil
	case types.KindConditions:
		var conds []types.UsageCondition
		if !null {
			if err := node.Decode(&conds); err != nil {
				return types.Value{}, err
			}
		}
		return types.Conditions(conds), nil
	default:
		return types.Value{}, fmt.Errorf("%w: %s", types.ErrFieldKind, kind)
	}
}

// Play walks the remaining steps: on each it sets the document's fields
// owned by the step, then advances. At review it finalizes when the
// document asks for it. Errors name the step they stopped on.
func (c *Controller) Play(ctx context.Context, doc Document) error {
	if doc.Kind != c.mgr.Form().Kind() {
		return fmt.Errorf("%w: document is a %s, session edits a %s", types.ErrUnknownKind, doc.Kind, c.mgr.Form().Kind())
	}
	for !c.AtReview() {
		step := c.Step()
		for _, f := range step.Fields {
			v, ok := doc.Fields[f]
			if !ok {
				continue
			}
			if err := c.mgr.SetField(f, v); err != nil {
				return fmt.Errorf("step %s: %w", step.Name, err)
			}
		}
		if err := c.Next(ctx); err != nil {
			return fmt.Errorf("step %s: %w", step.Name, err)
		}
	}
	if !doc.Finalize {
		return nil
	}
	if err := c.Finish(ctx); err != nil {
		return fmt.Errorf("step %s: %w", c.Step().Name, err)
	}
	return nil
}
