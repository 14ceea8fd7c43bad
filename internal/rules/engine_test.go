package rules

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/dicom-ingest/internal/model"
)

func rule(order int, param string, op model.Operator, value string, c model.Combination) *model.Rule {
	return &model.Rule{Order: order, Parameter: param, Operator: op, Value: value, Combination: c}
}

func group(sets ...*model.Ruleset) *model.RuleGroup {
	return &model.RuleGroup{Name: "g", Rulesets: sets}
}

func TestEvaluateLiteralCase(t *testing.T) {
	g := group(&model.Ruleset{Order: 0, Rules: []*model.Rule{
		rule(0, "modality", model.OpEquals, "RTSTRUCT", model.CombineAnd),
		rule(1, "roi_name", model.OpContainsCaseInsensitive, "PTV", ""),
	}})

	assert.True(t, Evaluate(g, Record{"modality": {"RTSTRUCT"}, "roi_name": {"ptv_70"}}))
	assert.False(t, Evaluate(g, Record{"modality": {"CT"}, "roi_name": {"ptv_70"}}))
}

func TestEvaluateVacuousTruth(t *testing.T) {
	assert.True(t, Evaluate(group(), Record{}))
	assert.True(t, Evaluate(group(&model.Ruleset{Order: 0}), Record{}))
	assert.True(t, Evaluate(nil, Record{}))
}

func TestEvaluateLeftFoldUsesPrecedingMarker(t *testing.T) {
	// Markers: a OR, b AND, c OR. The fold is ((a OR b) AND c) and c's own
	// marker is never used.
	rs := &model.Ruleset{Order: 0, Rules: []*model.Rule{
		rule(0, "a", model.OpEquals, "x", model.CombineOr),
		rule(1, "b", model.OpEquals, "x", model.CombineAnd),
		rule(2, "c", model.OpEquals, "x", model.CombineOr),
	}}
	g := group(rs)

	assert.False(t, Evaluate(g, Record{"b": {"x"}}))
	assert.True(t, Evaluate(g, Record{"a": {"x"}, "c": {"x"}}))
	// A right fold would give a OR (b AND c) = true here.
	assert.False(t, Evaluate(g, Record{"a": {"x"}}))
}

func TestEvaluateSortsByOrder(t *testing.T) {
	g := group(
		&model.Ruleset{Order: 2, Rules: []*model.Rule{rule(0, "a", model.OpEquals, "x", "")}},
		&model.Ruleset{Order: 1, Combination: model.CombineOr, Rules: []*model.Rule{rule(0, "b", model.OpEquals, "x", "")}},
	)
	// Sorted: set(b) OR set(a).
	assert.True(t, Evaluate(g, Record{"a": {"x"}}))
	assert.True(t, Evaluate(g, Record{"b": {"x"}}))
	assert.False(t, Evaluate(g, Record{}))
}

func TestHolds(t *testing.T) {
	tests := []struct {
		op       model.Operator
		actual   []string
		expected string
		want     bool
	}{
		{model.OpEquals, []string{"CT"}, "CT", true},
		{model.OpEquals, []string{"ct"}, "CT", false},
		{model.OpNotEquals, []string{"MR"}, "CT", true},
		{model.OpContainsCaseSensitive, []string{"PTV_70"}, "PTV", true},
		{model.OpContainsCaseSensitive, []string{"ptv_70"}, "PTV", false},
		{model.OpContainsCaseInsensitive, []string{"ptv_70"}, "PTV", true},
		{model.OpNotContainsCaseSensitive, []string{"ptv_70"}, "PTV", true},
		{model.OpNotContainsCaseInsensitive, []string{"Heart", "ptv_70"}, "PTV", false},
		{model.OpNotContainsCaseInsensitive, []string{"Heart", "Lung"}, "PTV", true},
		{model.OpLessThan, []string{"3"}, "10", true},
		{model.OpLessThanOrEqual, []string{"10"}, "10", true},
		{model.OpGreaterThan, []string{"10.5"}, "10", true},
		{model.OpGreaterThanOrEqual, []string{"9"}, "10", false},
		{model.OpGreaterThan, []string{"abc"}, "1", false},
		{model.OpGreaterThan, []string{"5"}, "abc", false},
		{model.OpGreaterThan, []string{"NaN"}, "1", false},
		{model.OpContainsCaseInsensitive, []string{"Heart", "PTV"}, "ptv", true},
		{model.Operator("bogus"), []string{"x"}, "x", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.op)+"/"+strings.Join(tt.actual, ","), func(t *testing.T) {
			assert.Equal(t, tt.want, Holds(tt.op, tt.actual, tt.expected))
		})
	}
}

func TestMissingParameter(t *testing.T) {
	rec := Record{}
	assert.Equal(t, []string{""}, rec.Values("series_description"))

	assert.True(t, Holds(model.OpEquals, rec.Values("x"), ""))
	assert.True(t, Holds(model.OpNotContainsCaseSensitive, rec.Values("x"), "PTV"))
	assert.False(t, Holds(model.OpLessThan, rec.Values("x"), "5"))
	assert.False(t, Holds(model.OpGreaterThanOrEqual, rec.Values("x"), "0"))
}

func TestEvaluateDetailedTrace(t *testing.T) {
	g := &model.RuleGroup{Name: "prostate", Rulesets: []*model.Ruleset{{
		Name: "structures", Order: 0,
		Rules: []*model.Rule{rule(0, "number_of_roi", model.OpGreaterThan, "2", "")},
	}}}

	tr := EvaluateDetailed(g, Record{}.SetInt("number_of_roi", 5))
	require.Len(t, tr.Rulesets, 1)
	require.Len(t, tr.Rulesets[0].Rules, 1)
	assert.Equal(t, "prostate", tr.Group)
	assert.True(t, tr.Matched)
	assert.Equal(t, []string{"5"}, tr.Rulesets[0].Rules[0].Actual)
}
