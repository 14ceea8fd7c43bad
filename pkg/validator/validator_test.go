package validator

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/dicom-ingest/internal/model"
)

func TestValidateRuleGroup(t *testing.T) {
	v := New()

	group := &model.RuleGroup{
		Name: "prostate",
		Rulesets: []*model.Ruleset{{
			Order:       1,
			Combination: model.CombineAnd,
			Rules: []*model.Rule{
				{Order: 1, Parameter: "modality", Operator: model.OpEquals, Value: "RTSTRUCT"},
			},
		}},
	}
	assert.NoError(t, v.Validate(group))

	group.Rulesets[0].Rules[0].Operator = "roughly_equals"
	group.Rulesets[0].Combination = "XOR"
	err := v.Validate(group)
	require.Error(t, err)

	var verrs Errors
	require.True(t, stderrors.As(err, &verrs))
	fields := map[string]string{}
	for _, e := range verrs {
		fields[e.Field] = e.Message
	}
	assert.Equal(t, "unknown matching operator", fields["RuleGroup.rulesets[0].rules[0].matching_operator"])
	assert.Contains(t, fields, "RuleGroup.rulesets[0].ruleset_combination")
}

func TestValidateRequired(t *testing.T) {
	err := New().Validate(&model.Rule{Operator: model.OpEquals})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parameter_to_be_matched: field is required")
}
