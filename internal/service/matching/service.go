package matching

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/dicom-ingest/internal/model"
	"github.com/jwalitptl/dicom-ingest/internal/repository"
	"github.com/jwalitptl/dicom-ingest/internal/rules"
	"github.com/jwalitptl/dicom-ingest/pkg/logger"
	"github.com/jwalitptl/dicom-ingest/pkg/metrics"
)

const catalogueKey = "templates"

type Matcher interface {
	Match(ctx context.Context, sopInstanceUID string) (*Result, error)
	MatchPending(ctx context.Context, limit int) ([]*Result, error)
	Invalidate()
}

// Result is the outcome for one structure set. Template is nil when no
// template matched.
type Result struct {
	SOPInstanceUID string                      `json:"sop_instance_uid"`
	StructureSetID uuid.UUID                   `json:"structure_set_id"`
	Template       *model.PrescriptionTemplate `json:"template,omitempty"`
	Trace          *rules.Trace                `json:"trace,omitempty"`
}

type Service struct {
	structureSets repository.StructureSetRepository
	rules         repository.RuleRepository
	cache         *cache.Cache
	metrics       *metrics.Metrics
	log           *logger.Logger
}

// NewService caches the template catalogue for ttl. A zero ttl keeps it
// until Invalidate is called.
func NewService(
	structureSets repository.StructureSetRepository,
	ruleRepo repository.RuleRepository,
	ttl time.Duration,
	m *metrics.Metrics,
	log *logger.Logger,
) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		structureSets: structureSets,
		rules:         ruleRepo,
		cache:         cache.New(ttl, 2*ttl),
		metrics:       m,
		log:           log,
	}
}

// Invalidate drops the cached catalogue, e.g. after templates were imported.
func (s *Service) Invalidate() {
	s.cache.Delete(catalogueKey)
}

func (s *Service) templates(ctx context.Context) ([]*model.PrescriptionTemplate, error) {
	if cached, found := s.cache.Get(catalogueKey); found {
		return cached.([]*model.PrescriptionTemplate), nil
	}

	list, err := s.rules.ListTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return list[i].ID.String() < list[j].ID.String()
	})
	s.cache.SetDefault(catalogueKey, list)
	return list, nil
}

// Match evaluates every template against the structure set and assigns the
// first match in name order.
func (s *Service) Match(ctx context.Context, sopInstanceUID string) (*Result, error) {
	summary, err := s.structureSets.GetSummary(ctx, sopInstanceUID)
	if err != nil {
		s.observe("error")
		return nil, fmt.Errorf("failed to load structure set %s: %w", sopInstanceUID, err)
	}
	templates, err := s.templates(ctx)
	if err != nil {
		s.observe("error")
		return nil, err
	}

	res := &Result{SOPInstanceUID: summary.SOPInstanceUID, StructureSetID: summary.StructureSetID}
	record := RecordFor(summary)
	for _, t := range templates {
		tr := rules.EvaluateDetailed(t.RuleGroup, record)
		if !tr.Matched {
			continue
		}
		res.Template, res.Trace = t, &tr
		break
	}

	if res.Template == nil {
		s.observe("unmatched")
		s.log.Info("no template matched", "sop_instance_uid", sopInstanceUID)
		return res, nil
	}

	if summary.PrescriptionTemplateID == nil || *summary.PrescriptionTemplateID != res.Template.ID {
		if err := s.structureSets.AssignTemplate(ctx, summary.StructureSetID, res.Template.ID); err != nil {
			s.observe("error")
			return nil, fmt.Errorf("failed to assign template: %w", err)
		}
	}
	s.observe("matched")
	s.log.Info("template assigned",
		"sop_instance_uid", sopInstanceUID,
		"template", res.Template.Name,
		"template_id", res.Template.ID.String(),
	)
	return res, nil
}

// MatchPending matches up to limit structure sets that have no template.
// A failure on one structure set is logged and does not stop the rest.
func (s *Service) MatchPending(ctx context.Context, limit int) ([]*Result, error) {
	uids, err := s.structureSets.ListUnassigned(ctx, limit)
	if err != nil {
		return nil, err
	}

	results := make([]*Result, 0, len(uids))
	for _, uid := range uids {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := s.Match(ctx, uid)
		if err != nil {
			s.log.Error(err, "template matching failed", "sop_instance_uid", uid)
			continue
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *Service) observe(result string) {
	if s.metrics != nil {
		s.metrics.TemplateAssignment.WithLabelValues(result).Inc()
	}
}

// RecordFor exposes a stored structure set to the rule engine. Optional
// fields that are unset stay missing.
func RecordFor(s *model.StructureSetSummary) rules.Record {
	rec := rules.Record{}
	rec.Set("modality", string(s.Modality))
	rec.Set("number_of_roi", strconv.Itoa(s.NumberOfROI))
	rec.Set("patient_id", s.PatientID)
	if len(s.ROINames) > 0 {
		rec.Set("roi_name", s.ROINames...)
	}
	if s.SeriesDescription != nil {
		rec.Set("series_description", *s.SeriesDescription)
	}
	if s.StudyDescription != nil {
		rec.Set("study_description", *s.StudyDescription)
	}
	if s.PatientSex != nil {
		rec.Set("patient_sex", string(*s.PatientSex))
	}
	return rec
}
