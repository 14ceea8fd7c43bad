package rules

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jwalitptl/dicom-ingest/internal/model"
	"github.com/jwalitptl/dicom-ingest/pkg/validator"
)

// LoadTemplates decodes a JSON array of prescription templates with their
// rule groups and validates them. Unknown operators and combinations are
// rejected while decoding; duplicate orders are rejected afterwards.
func LoadTemplates(r io.Reader) ([]*model.PrescriptionTemplate, error) {
	var templates []*model.PrescriptionTemplate
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&templates); err != nil {
		return nil, fmt.Errorf("failed to decode templates: %w", err)
	}

	v := validator.New()
	groups := map[string]string{}
	for i, t := range templates {
		if err := v.Validate(t); err != nil {
			return nil, fmt.Errorf("template %d (%s): %w", i, t.Name, err)
		}
		if err := checkOrders(t.RuleGroup); err != nil {
			return nil, fmt.Errorf("template %d (%s): %w", i, t.Name, err)
		}
		if other, dup := groups[t.RuleGroup.Name]; dup {
			return nil, fmt.Errorf("templates %q and %q share rule group %q", other, t.Name, t.RuleGroup.Name)
		}
		groups[t.RuleGroup.Name] = t.Name
	}
	return templates, nil
}

func checkOrders(g *model.RuleGroup) error {
	seen := map[int]bool{}
	for _, rs := range g.Rulesets {
		if seen[rs.Order] {
			return fmt.Errorf("rule group %q: duplicate ruleset order %d", g.Name, rs.Order)
		}
		seen[rs.Order] = true

		ruleSeen := map[int]bool{}
		for _, rule := range rs.Rules {
			if ruleSeen[rule.Order] {
				return fmt.Errorf("ruleset %q: duplicate rule order %d", rs.Name, rule.Order)
			}
			ruleSeen[rule.Order] = true
		}
	}
	return nil
}
