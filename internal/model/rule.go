package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Operator is the closed set of rule predicates.
type Operator string

const (
	OpEquals                     Operator = "equals"
	OpNotEquals                  Operator = "not_equals"
	OpContainsCaseSensitive      Operator = "string_contains_case_sensitive"
	OpContainsCaseInsensitive    Operator = "string_contains_case_insensitive"
	OpNotContainsCaseSensitive   Operator = "string_not_contains_case_sensitive"
	OpNotContainsCaseInsensitive Operator = "string_not_contains_case_insensitive"
	OpLessThan                   Operator = "less_than"
	OpLessThanOrEqual            Operator = "less_than_or_equal"
	OpGreaterThan                Operator = "greater_than"
	OpGreaterThanOrEqual         Operator = "greater_than_or_equal"
)

var operators = map[Operator]struct{}{
	OpEquals: {}, OpNotEquals: {},
	OpContainsCaseSensitive: {}, OpContainsCaseInsensitive: {},
	OpNotContainsCaseSensitive: {}, OpNotContainsCaseInsensitive: {},
	OpLessThan: {}, OpLessThanOrEqual: {}, OpGreaterThan: {}, OpGreaterThanOrEqual: {},
}

// ParseOperator rejects anything outside the closed operator set.
func ParseOperator(s string) (Operator, error) {
	op := Operator(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := operators[op]; !ok {
		return "", fmt.Errorf("unknown matching operator %q", s)
	}
	return op, nil
}

// IsNumeric reports whether the operator compares parsed numbers.
func (o Operator) IsNumeric() bool {
	switch o {
	case OpLessThan, OpLessThanOrEqual, OpGreaterThan, OpGreaterThanOrEqual:
		return true
	}
	return false
}

// IsNegated reports whether the operator is the negation of a positive match.
func (o Operator) IsNegated() bool {
	switch o {
	case OpNotEquals, OpNotContainsCaseSensitive, OpNotContainsCaseInsensitive:
		return true
	}
	return false
}

func (o Operator) Value() (driver.Value, error) { return string(o), nil }

func (o *Operator) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	op, err := ParseOperator(s)
	if err != nil {
		return err
	}
	*o = op
	return nil
}

func (o *Operator) Scan(src interface{}) error {
	s, err := scanString(src)
	if err != nil {
		return err
	}
	op, err := ParseOperator(s)
	if err != nil {
		return err
	}
	*o = op
	return nil
}

// Combination says how an element's result folds with the next element's.
type Combination string

const (
	CombineAnd Combination = "AND"
	CombineOr  Combination = "OR"
)

func ParseCombination(s string) (Combination, error) {
	switch c := Combination(strings.ToUpper(strings.TrimSpace(s))); c {
	case CombineAnd, CombineOr:
		return c, nil
	case "":
		return CombineAnd, nil
	default:
		return "", fmt.Errorf("unknown combination %q", s)
	}
}

func (c Combination) Value() (driver.Value, error) { return string(c), nil }

func (c *Combination) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseCombination(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func (c *Combination) Scan(src interface{}) error {
	s, err := scanString(src)
	if err != nil {
		return err
	}
	parsed, err := ParseCombination(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

type RuleGroup struct {
	Base
	Name        string     `db:"rulegroup_name" json:"rulegroup_name" validate:"required"`
	Description *string    `db:"rulegroup_description" json:"rulegroup_description,omitempty"`
	Rulesets    []*Ruleset `db:"-" json:"rulesets" validate:"dive"`
}

type Ruleset struct {
	Base
	RuleGroupID uuid.UUID   `db:"rulegroup_id" json:"rulegroup_id"`
	Name        string      `db:"ruleset_name" json:"ruleset_name"`
	Order       int         `db:"ruleset_order" json:"ruleset_order" validate:"gte=0"`
	Combination Combination `db:"ruleset_combination" json:"ruleset_combination" validate:"omitempty,oneof=AND OR"`
	Rules       []*Rule     `db:"-" json:"rules" validate:"dive"`
}

type Rule struct {
	Base
	RulesetID   uuid.UUID   `db:"ruleset_id" json:"ruleset_id"`
	Order       int         `db:"rule_order" json:"rule_order" validate:"gte=0"`
	Parameter   string      `db:"parameter_to_be_matched" json:"parameter_to_be_matched" validate:"required"`
	Operator    Operator    `db:"matching_operator" json:"matching_operator" validate:"required,operator"`
	Value       string      `db:"matching_value" json:"matching_value"`
	Combination Combination `db:"rule_combination" json:"rule_combination" validate:"omitempty,oneof=AND OR"`
}

type CancerSide string

const (
	SideLeft      CancerSide = "left"
	SideRight     CancerSide = "right"
	SideBilateral CancerSide = "bilateral"
	SideNone      CancerSide = "none"
)

type DoseUnit string

const (
	DoseUnitGy  DoseUnit = "Gy"
	DoseUnitCGy DoseUnit = "cGy"
)

// PrescriptionTemplate owns exactly one rule group.
type PrescriptionTemplate struct {
	Base
	Name              string          `db:"name" json:"name" validate:"required"`
	CancerSite        *string         `db:"cancer_site" json:"cancer_site,omitempty"`
	CancerSide        *CancerSide     `db:"cancer_side" json:"cancer_side,omitempty" validate:"omitempty,oneof=left right bilateral none"`
	TreatmentModality *string         `db:"treatment_modality" json:"treatment_modality,omitempty"`
	RuleGroupID       uuid.UUID       `db:"rulegroup_id" json:"rulegroup_id"`
	RuleGroup         *RuleGroup      `db:"-" json:"rulegroup,omitempty" validate:"required"`
	Prescriptions     []*Prescription `db:"-" json:"prescriptions,omitempty" validate:"dive"`
}

// Prescription is unique per (template, roi name).
type Prescription struct {
	Base
	TemplateID     uuid.UUID `db:"prescription_template_id" json:"prescription_template_id"`
	ROIName        string    `db:"roi_name" json:"roi_name" validate:"required"`
	DosePrescribed float64   `db:"dose_prescribed" json:"dose_prescribed" validate:"gte=0"`
	DoseUnit       DoseUnit  `db:"dose_unit" json:"dose_unit" validate:"oneof=Gy cGy"`
	Fractions      int       `db:"fractions_prescribed" json:"fractions_prescribed" validate:"gte=0"`
}

func scanString(src interface{}) (string, error) {
	switch v := src.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", fmt.Errorf("expected text column, got %T", src)
	}
}
