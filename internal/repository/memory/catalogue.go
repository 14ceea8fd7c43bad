package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/dicom-ingest/internal/model"
	"github.com/jwalitptl/dicom-ingest/pkg/errors"
)

func (s *Store) GetSummary(_ context.Context, sopInstanceUID string) (*model.StructureSetSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state
	inst, ok := st.instances[sopInstanceUID]
	if !ok {
		return nil, errors.NotFound("structure set", nil)
	}
	ss, ok := st.structs[inst.ID]
	if !ok {
		return nil, errors.NotFound("structure set", nil)
	}

	sum := &model.StructureSetSummary{
		StructureSetID:         ss.ID,
		SOPInstanceUID:         inst.SOPInstanceUID,
		Modality:               inst.Modality,
		NumberOfROI:            ss.NumberOfROI,
		PrescriptionTemplateID: ss.PrescriptionTemplateID,
		ROINames:               []string{},
	}
	for _, se := range st.series {
		if se.ID != inst.SeriesRefID {
			continue
		}
		sum.SeriesDescription = se.Description
		for _, study := range st.studies {
			if study.ID != se.StudyRefID {
				continue
			}
			sum.StudyDescription = study.Description
			for _, p := range st.patients {
				if p.ID == study.PatientRefID {
					sum.PatientID = p.PatientID
					sum.PatientSex = p.Sex
				}
			}
		}
	}

	var rois []model.ROI
	for k, roi := range st.rois {
		if k.structureSet == ss.ID {
			rois = append(rois, roi)
		}
	}
	sort.Slice(rois, func(i, j int) bool { return rois[i].ROINumber < rois[j].ROINumber })
	for _, roi := range rois {
		sum.ROINames = append(sum.ROINames, roi.Name)
	}
	return sum, nil
}

func (s *Store) ListUnassigned(_ context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type row struct {
		created time.Time
		sop     string
	}
	var rows []row
	for _, inst := range s.state.instances {
		ss, ok := s.state.structs[inst.ID]
		if ok && ss.PrescriptionTemplateID == nil {
			rows = append(rows, row{ss.CreatedAt, inst.SOPInstanceUID})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].created.Equal(rows[j].created) {
			return rows[i].created.Before(rows[j].created)
		}
		return rows[i].sop < rows[j].sop
	})

	uids := []string{}
	for _, r := range rows {
		if limit > 0 && len(uids) == limit {
			break
		}
		uids = append(uids, r.sop)
	}
	return uids, nil
}

func (s *Store) AssignTemplate(_ context.Context, structureSetID, templateID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ss := range s.state.structs {
		if ss.ID == structureSetID {
			id := templateID
			ss.PrescriptionTemplateID = &id
			ss.UpdatedAt = time.Now().UTC()
			s.state.structs[k] = ss
			return nil
		}
	}
	return errors.NotFound("structure set", nil)
}

// ListTemplates returns the catalogue ordered by name then ID.
func (s *Store) ListTemplates(_ context.Context) ([]*model.PrescriptionTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.PrescriptionTemplate, len(s.templates))
	copy(out, s.templates)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// SaveTemplate replaces any template whose rule group carries the same name.
func (s *Store) SaveTemplate(_ context.Context, t *model.PrescriptionTemplate) error {
	if t.RuleGroup == nil {
		return fmt.Errorf("template %q has no rule group", t.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	idx := -1
	for i, existing := range s.templates {
		if existing.RuleGroup != nil && existing.RuleGroup.Name == t.RuleGroup.Name {
			idx = i
			t.ID, t.CreatedAt = existing.ID, existing.CreatedAt
			t.RuleGroup.ID, t.RuleGroup.CreatedAt = existing.RuleGroup.ID, existing.RuleGroup.CreatedAt
		}
	}

	g := t.RuleGroup
	g.Touch(now)
	for _, rs := range g.Rulesets {
		rs.ID = uuid.Nil
		rs.Touch(now)
		rs.RuleGroupID = g.ID
		if rs.Combination == "" {
			rs.Combination = model.CombineAnd
		}
		for _, rule := range rs.Rules {
			rule.ID = uuid.Nil
			rule.Touch(now)
			rule.RulesetID = rs.ID
			if rule.Combination == "" {
				rule.Combination = model.CombineAnd
			}
		}
		sort.SliceStable(rs.Rules, func(i, j int) bool { return rs.Rules[i].Order < rs.Rules[j].Order })
	}
	sort.SliceStable(g.Rulesets, func(i, j int) bool { return g.Rulesets[i].Order < g.Rulesets[j].Order })

	t.Touch(now)
	t.RuleGroupID = g.ID
	for _, p := range t.Prescriptions {
		p.ID = uuid.Nil
		p.Touch(now)
		p.TemplateID = t.ID
	}

	if idx >= 0 {
		s.templates[idx] = t
	} else {
		s.templates = append(s.templates, t)
	}
	return nil
}

func (s *Store) Create(_ context.Context, job *model.ArchiveJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job.Touch(time.Now().UTC())
	if job.Status == "" {
		job.Status = model.StatusPending
	}
	s.jobs[job.ID] = *job
	return nil
}

func (s *Store) Get(_ context.Context, id uuid.UUID) (*model.ArchiveJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, errors.NotFound("archive job", nil)
	}
	return &job, nil
}

func (s *Store) UpdateStatus(_ context.Context, id uuid.UUID, status model.ProcessingStatus, logData model.JSONMap) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return errors.NotFound("archive job", nil)
	}
	now := time.Now().UTC()
	job.Status = status
	job.UpdatedAt = now
	if logData != nil {
		job.LogData = logData
	}
	if status == model.StatusCompleted || status == model.StatusFailed {
		job.CompletedAt = &now
	}
	s.jobs[id] = job
	return nil
}
