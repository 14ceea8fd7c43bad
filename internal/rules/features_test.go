package rules

import (
	"context"
	"fmt"
	"testing"

	"github.com/cucumber/godog"

	"github.com/jwalitptl/dicom-ingest/internal/model"
)

type scenario struct {
	group  *model.RuleGroup
	record Record
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: initializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}

func initializeScenario(sc *godog.ScenarioContext) {
	s := &scenario{}

	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		s.group = &model.RuleGroup{Name: "feature"}
		s.record = Record{}
		return ctx, nil
	})

	sc.Step(`^a ruleset "([^"]*)" with order (\d+) and combination "([^"]*)"$`, s.aRuleset)
	sc.Step(`^rule (\d+) "([^"]*)" "([^"]*)" "([^"]*)" combined with "([^"]*)"$`, s.aRule)
	sc.Step(`^the record has "([^"]*)" set to "([^"]*)"$`, s.recordValue)
	sc.Step(`^the rule group matches$`, s.matches(true))
	sc.Step(`^the rule group does not match$`, s.matches(false))
}

func (s *scenario) aRuleset(name string, order int, combination string) error {
	c, err := model.ParseCombination(combination)
	if err != nil {
		return err
	}
	s.group.Rulesets = append(s.group.Rulesets, &model.Ruleset{Name: name, Order: order, Combination: c})
	return nil
}

func (s *scenario) aRule(order int, param, operator, value, combination string) error {
	if len(s.group.Rulesets) == 0 {
		return fmt.Errorf("rule declared before any ruleset")
	}
	op, err := model.ParseOperator(operator)
	if err != nil {
		return err
	}
	c, err := model.ParseCombination(combination)
	if err != nil {
		return err
	}
	rs := s.group.Rulesets[len(s.group.Rulesets)-1]
	rs.Rules = append(rs.Rules, &model.Rule{Order: order, Parameter: param, Operator: op, Value: value, Combination: c})
	return nil
}

func (s *scenario) recordValue(key, value string) error {
	s.record[key] = append(s.record[key], value)
	return nil
}

func (s *scenario) matches(want bool) func() error {
	return func() error {
		tr := EvaluateDetailed(s.group, s.record)
		if tr.Matched != want {
			return fmt.Errorf("expected matched=%v, got %v (trace %+v)", want, tr.Matched, tr)
		}
		return nil
	}
}
