package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/dicom-ingest/internal/model"
	"github.com/jwalitptl/dicom-ingest/internal/repository"
)

type ruleRepository struct {
	BaseRepository
}

func NewRuleRepository(base BaseRepository) repository.RuleRepository {
	return &ruleRepository{base}
}

// ListTemplates loads the whole catalogue, ordered by template name then ID,
// with rulesets and rules in evaluation order.
func (r *ruleRepository) ListTemplates(ctx context.Context) ([]*model.PrescriptionTemplate, error) {
	var templates []*model.PrescriptionTemplate
	if err := r.db.SelectContext(ctx, &templates, `
		SELECT id, name, cancer_site, cancer_side, treatment_modality, rulegroup_id, created_at, updated_at
		FROM prescription_templates ORDER BY name, id`); err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	var groups []*model.RuleGroup
	if err := r.db.SelectContext(ctx, &groups, `
		SELECT id, rulegroup_name, rulegroup_description, created_at, updated_at FROM rule_groups`); err != nil {
		return nil, fmt.Errorf("failed to list rule groups: %w", err)
	}

	var rulesets []*model.Ruleset
	if err := r.db.SelectContext(ctx, &rulesets, `
		SELECT id, rulegroup_id, ruleset_name, ruleset_order, ruleset_combination, created_at, updated_at
		FROM rulesets ORDER BY rulegroup_id, ruleset_order`); err != nil {
		return nil, fmt.Errorf("failed to list rulesets: %w", err)
	}

	var rules []*model.Rule
	if err := r.db.SelectContext(ctx, &rules, `
		SELECT id, ruleset_id, rule_order, parameter_to_be_matched, matching_operator, matching_value,
			rule_combination, created_at, updated_at
		FROM rules ORDER BY ruleset_id, rule_order`); err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	var prescriptions []*model.Prescription
	if err := r.db.SelectContext(ctx, &prescriptions, `
		SELECT id, prescription_template_id, roi_name, dose_prescribed, dose_unit, fractions_prescribed,
			created_at, updated_at
		FROM prescriptions ORDER BY roi_name`); err != nil {
		return nil, fmt.Errorf("failed to list prescriptions: %w", err)
	}

	return assembleTemplates(templates, groups, rulesets, rules, prescriptions), nil
}

func assembleTemplates(
	templates []*model.PrescriptionTemplate,
	groups []*model.RuleGroup,
	rulesets []*model.Ruleset,
	rules []*model.Rule,
	prescriptions []*model.Prescription,
) []*model.PrescriptionTemplate {
	rulesByRuleset := make(map[uuid.UUID][]*model.Rule)
	for _, rule := range rules {
		rulesByRuleset[rule.RulesetID] = append(rulesByRuleset[rule.RulesetID], rule)
	}
	rulesetsByGroup := make(map[uuid.UUID][]*model.Ruleset)
	for _, rs := range rulesets {
		rs.Rules = rulesByRuleset[rs.ID]
		rulesetsByGroup[rs.RuleGroupID] = append(rulesetsByGroup[rs.RuleGroupID], rs)
	}
	groupsByID := make(map[uuid.UUID]*model.RuleGroup, len(groups))
	for _, g := range groups {
		g.Rulesets = rulesetsByGroup[g.ID]
		groupsByID[g.ID] = g
	}
	prescriptionsByTemplate := make(map[uuid.UUID][]*model.Prescription)
	for _, p := range prescriptions {
		prescriptionsByTemplate[p.TemplateID] = append(prescriptionsByTemplate[p.TemplateID], p)
	}

	for _, t := range templates {
		t.RuleGroup = groupsByID[t.RuleGroupID]
		t.Prescriptions = prescriptionsByTemplate[t.ID]
	}
	sort.SliceStable(templates, func(i, j int) bool {
		if templates[i].Name != templates[j].Name {
			return templates[i].Name < templates[j].Name
		}
		return templates[i].ID.String() < templates[j].ID.String()
	})
	return templates
}

// SaveTemplate replaces a template, its rule group and its prescriptions in
// one transaction. The rule group is matched by name.
func (r *ruleRepository) SaveTemplate(ctx context.Context, t *model.PrescriptionTemplate) error {
	if t.RuleGroup == nil {
		return fmt.Errorf("template %q has no rule group", t.Name)
	}
	now := time.Now().UTC()

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		g := t.RuleGroup
		g.Touch(now)
		if err := tx.QueryRowxContext(ctx, `
			INSERT INTO rule_groups (id, rulegroup_name, rulegroup_description, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (rulegroup_name) DO UPDATE SET
				rulegroup_description = EXCLUDED.rulegroup_description,
				updated_at = EXCLUDED.updated_at
			RETURNING id, created_at`,
			g.ID, g.Name, g.Description, g.CreatedAt, g.UpdatedAt,
		).Scan(&g.ID, &g.CreatedAt); err != nil {
			return mapError("rule group", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM rulesets WHERE rulegroup_id = $1`, g.ID); err != nil {
			return fmt.Errorf("failed to clear rulesets: %w", err)
		}
		for _, rs := range g.Rulesets {
			rs.ID = uuid.Nil
			rs.Touch(now)
			rs.RuleGroupID = g.ID
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO rulesets (id, rulegroup_id, ruleset_name, ruleset_order, ruleset_combination,
					created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				rs.ID, rs.RuleGroupID, rs.Name, rs.Order, combinationOrAnd(rs.Combination), rs.CreatedAt, rs.UpdatedAt,
			); err != nil {
				return mapError("ruleset", err)
			}
			for _, rule := range rs.Rules {
				rule.ID = uuid.Nil
				rule.Touch(now)
				rule.RulesetID = rs.ID
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO rules (id, ruleset_id, rule_order, parameter_to_be_matched, matching_operator,
						matching_value, rule_combination, created_at, updated_at)
					VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
					rule.ID, rule.RulesetID, rule.Order, rule.Parameter, rule.Operator, rule.Value,
					combinationOrAnd(rule.Combination), rule.CreatedAt, rule.UpdatedAt,
				); err != nil {
					return mapError("rule", err)
				}
			}
		}

		t.Touch(now)
		t.RuleGroupID = g.ID
		if err := tx.QueryRowxContext(ctx, `
			INSERT INTO prescription_templates (id, name, cancer_site, cancer_side, treatment_modality, rulegroup_id,
				created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (rulegroup_id) DO UPDATE SET
				name = EXCLUDED.name,
				cancer_site = EXCLUDED.cancer_site,
				cancer_side = EXCLUDED.cancer_side,
				treatment_modality = EXCLUDED.treatment_modality,
				updated_at = EXCLUDED.updated_at
			RETURNING id, created_at`,
			t.ID, t.Name, t.CancerSite, t.CancerSide, t.TreatmentModality, t.RuleGroupID, t.CreatedAt, t.UpdatedAt,
		).Scan(&t.ID, &t.CreatedAt); err != nil {
			return mapError("prescription template", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM prescriptions WHERE prescription_template_id = $1`, t.ID); err != nil {
			return fmt.Errorf("failed to clear prescriptions: %w", err)
		}
		for _, p := range t.Prescriptions {
			p.ID = uuid.Nil
			p.Touch(now)
			p.TemplateID = t.ID
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO prescriptions (id, prescription_template_id, roi_name, dose_prescribed, dose_unit,
					fractions_prescribed, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				p.ID, p.TemplateID, p.ROIName, p.DosePrescribed, p.DoseUnit, p.Fractions, p.CreatedAt, p.UpdatedAt,
			); err != nil {
				return mapError("prescription", err)
			}
		}
		return nil
	})
}

func combinationOrAnd(c model.Combination) model.Combination {
	if c == "" {
		return model.CombineAnd
	}
	return c
}
