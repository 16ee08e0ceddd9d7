// Package types provides the domain model shared across meterkeeper components.
//
// Classification values (EntityType, UnitOfMeasure, Dimension, Operator,
// AggregationFunction, AggregationWindow) are string types with an explicit
// Unset constant so cascade logic is total over its inputs. Entity field
// values travel as the tagged Value variant; see value.go.
package types

import (
	"fmt"
	"strings"
)

// EntityType is the coarse classification of a billable metric.
// Closed set; immutable once the metric is finalized.
type EntityType string

const (
	EntityTypeUnset     EntityType = ""
	EntityTypeAPI       EntityType = "API"
	EntityTypeFlatFile  EntityType = "FLAT_FILE"
	EntityTypeSQLResult EntityType = "SQL_RESULT"
	EntityTypeLLMToken  EntityType = "LLM_TOKEN"
)

// EntityTypes lists the closed set in display order.
var EntityTypes = []EntityType{EntityTypeAPI, EntityTypeFlatFile, EntityTypeSQLResult, EntityTypeLLMToken}

// IsSet reports whether a classification was chosen.
func (e EntityType) IsSet() bool { return e != EntityTypeUnset }

// Valid reports membership in the closed set.
func (e EntityType) Valid() bool {
	for _, known := range EntityTypes {
		if e == known {
			return true
		}
	}
	return false
}

// ParseEntityType accepts case-insensitive input; empty input yields EntityTypeUnset.
func ParseEntityType(s string) (EntityType, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return EntityTypeUnset, nil
	}
	e := EntityType(s)
	if !e.Valid() {
		return EntityTypeUnset, fmt.Errorf("%w: %q", ErrUnknownEntityType, s)
	}
	return e, nil
}

// UnitOfMeasure is scoped to an EntityType. A value missing from the
// catalog for its entity type is "unclassified" and resolves via fallbacks.
type UnitOfMeasure string

const UnitOfMeasureUnset UnitOfMeasure = ""

func (u UnitOfMeasure) IsSet() bool { return u != UnitOfMeasureUnset }

// Dimension is an attribute of a usage event that can be filtered on.
type Dimension string

const DimensionUnset Dimension = ""

func (d Dimension) IsSet() bool { return d != DimensionUnset }

// Operator is a comparison legal for a specific Dimension.
type Operator string

const (
	OperatorUnset      Operator = ""
	OperatorEq         Operator = "="
	OperatorNeq        Operator = "!="
	OperatorGt         Operator = ">"
	OperatorLt         Operator = "<"
	OperatorGte        Operator = ">="
	OperatorLte        Operator = "<="
	OperatorContains   Operator = "contains"
	OperatorStartsWith Operator = "starts_with"
)

func (o Operator) IsSet() bool { return o != OperatorUnset }

// Ordering reports whether the operator compares magnitudes.
func (o Operator) Ordering() bool {
	switch o {
	case OperatorGt, OperatorLt, OperatorGte, OperatorLte:
		return true
	default:
		return false
	}
}

// AggregationFunction summarizes usage (COUNT, SUM, ...).
type AggregationFunction string

const AggregationFunctionUnset AggregationFunction = ""

func (a AggregationFunction) IsSet() bool { return a != AggregationFunctionUnset }

// AggregationWindow is the time bucket usage is summarized over.
type AggregationWindow string

const AggregationWindowUnset AggregationWindow = ""

func (a AggregationWindow) IsSet() bool { return a != AggregationWindowUnset }

// BillingCriteria decides whether usage matching the conditions is billed or excluded.
type BillingCriteria string

const (
	BillingCriteriaUnset   BillingCriteria = ""
	BillingCriteriaInclude BillingCriteria = "INCLUDE"
	BillingCriteriaExclude BillingCriteria = "EXCLUDE"
)

func (b BillingCriteria) IsSet() bool { return b != BillingCriteriaUnset }

func (b BillingCriteria) Valid() bool {
	return b == BillingCriteriaInclude || b == BillingCriteriaExclude
}

// CustomerType is the customer classification; it drives required fields.
type CustomerType string

const (
	CustomerTypeUnset      CustomerType = ""
	CustomerTypeIndividual CustomerType = "INDIVIDUAL"
	CustomerTypeBusiness   CustomerType = "BUSINESS"
)

func (c CustomerType) Valid() bool {
	return c == CustomerTypeIndividual || c == CustomerTypeBusiness
}

// UsageCondition is one {dimension, operator, value} triple.
// Operator must belong to the operator set of Dimension; a condition
// carrying an operator from a previous dimension is stale.
type UsageCondition struct {
	Dimension Dimension `json:"dimension" yaml:"dimension"`
	Operator  Operator  `json:"operator" yaml:"operator"`
	Value     string    `json:"value" yaml:"value"`
}

// Empty reports whether no part of the triple was filled in.
func (c UsageCondition) Empty() bool {
	return !c.Dimension.IsSet() && !c.Operator.IsSet() && c.Value == ""
}

// Complete reports whether every part of the triple is filled in.
func (c UsageCondition) Complete() bool {
	return c.Dimension.IsSet() && c.Operator.IsSet() && strings.TrimSpace(c.Value) != ""
}

// ConditionField names one part of a UsageCondition for editor updates.
type ConditionField string

const (
	ConditionFieldDimension ConditionField = "dimension"
	ConditionFieldOperator  ConditionField = "operator"
	ConditionFieldValue     ConditionField = "value"
)

// Status is the lifecycle state of an entity under edit.
type Status string

const (
	StatusNew     Status = "NEW"
	StatusDraft   Status = "DRAFT"
	StatusActive  Status = "ACTIVE"
	StatusDeleted Status = "DELETED"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusActive || s == StatusDeleted
}

// ParseStatus maps backend status strings (any case) to Status.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusNew:
		return StatusNew, nil
	case StatusDraft:
		return StatusDraft, nil
	case StatusActive:
		return StatusActive, nil
	case StatusDeleted:
		return StatusDeleted, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
}
