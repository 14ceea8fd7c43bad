package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/dicom-ingest/internal/model"
	"github.com/jwalitptl/dicom-ingest/internal/repository"
	"github.com/jwalitptl/dicom-ingest/pkg/errors"
)

// Training is the training-corpus view of a Store.
type Training struct {
	s *Store
}

func (s *Store) Training() *Training {
	return &Training{s: s}
}

func (r *Training) CreateArchive(_ context.Context, a *model.TrainingArchive) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a.Touch(time.Now().UTC())
	r.s.archives[a.ID] = *a
	return nil
}

func (r *Training) MarkExtracted(_ context.Context, archiveID uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.archives[archiveID]
	if !ok {
		return errors.NotFound("training archive", nil)
	}
	a.Extracted = true
	a.ExtractedAt = &at
	a.UpdatedAt = at
	r.s.archives[archiveID] = a
	return nil
}

func (r *Training) WithTx(_ context.Context, fn func(repository.TrainingTx) error) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	work := r.s.state.clone()
	if err := fn(&trainingTx{st: work, now: time.Now().UTC(), failOn: r.s.FailOn}); err != nil {
		return err
	}
	r.s.state = work
	return nil
}

func (r *Training) GetManifest(_ context.Context, archiveID uuid.UUID) (*model.TrainingManifest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.archives[archiveID]
	if !ok {
		return nil, errors.NotFound("training archive", nil)
	}
	st := r.s.state
	m := &model.TrainingManifest{Archive: &a}

	seriesIDs := map[uuid.UUID]bool{}
	for _, se := range st.trainingSeries {
		if se.ArchiveID == archiveID {
			se := se
			m.Series = append(m.Series, &se)
			seriesIDs[se.ID] = true
		}
	}
	sort.Slice(m.Series, func(i, j int) bool { return m.Series[i].SeriesInstanceUID < m.Series[j].SeriesInstanceUID })

	structIDs := map[uuid.UUID]bool{}
	for _, ss := range st.trainingStructs {
		if seriesIDs[ss.ImageSeriesID] {
			ss := ss
			ss.ROINames = append([]string(nil), ss.ROINames...)
			sort.Strings(ss.ROINames)
			m.StructureSets = append(m.StructureSets, &ss)
			structIDs[ss.ID] = true
		}
	}
	sort.Slice(m.StructureSets, func(i, j int) bool {
		return m.StructureSets[i].SeriesInstanceUID < m.StructureSets[j].SeriesInstanceUID
	})

	for _, p := range st.pairs {
		if structIDs[p.StructureSetID] {
			p := p
			m.Pairs = append(m.Pairs, &p)
		}
	}
	sort.Slice(m.Pairs, func(i, j int) bool {
		if m.Pairs[i].PlanSeriesUID != m.Pairs[j].PlanSeriesUID {
			return m.Pairs[i].PlanSeriesUID < m.Pairs[j].PlanSeriesUID
		}
		return m.Pairs[i].DoseSeriesUID < m.Pairs[j].DoseSeriesUID
	})
	return m, nil
}

type trainingTx struct {
	st     *state
	now    time.Time
	failOn func(string) error
}

func (t *trainingTx) check(entity string) error {
	if t.failOn == nil {
		return nil
	}
	return t.failOn(entity)
}

func (t *trainingTx) SaveImageSeries(_ context.Context, s *model.TrainingImageSeries) error {
	if err := t.check("training image series"); err != nil {
		return err
	}
	if old, ok := t.st.trainingSeries[s.SeriesInstanceUID]; ok {
		s.ID, s.CreatedAt = old.ID, old.CreatedAt
	}
	s.Touch(t.now)
	s.ImagePaths = append(model.StringList(nil), s.ImagePaths...)
	t.st.trainingSeries[s.SeriesInstanceUID] = *s
	return nil
}

func (t *trainingTx) SaveStructureSet(_ context.Context, ss *model.TrainingStructureSet) error {
	if err := t.check("training structure set"); err != nil {
		return err
	}
	var names []string
	if old, ok := t.st.trainingStructs[ss.SeriesInstanceUID]; ok {
		ss.ID, ss.CreatedAt = old.ID, old.CreatedAt
		names = old.ROINames
	}
	ss.Touch(t.now)

	seen := make(map[string]bool, len(names))
	merged := append([]string(nil), names...)
	for _, n := range names {
		seen[n] = true
	}
	for _, n := range ss.ROINames {
		if !seen[n] {
			seen[n] = true
			merged = append(merged, n)
		}
	}
	stored := *ss
	stored.ROINames = merged
	t.st.trainingStructs[ss.SeriesInstanceUID] = stored
	return nil
}

func (t *trainingTx) SavePlanDosePair(_ context.Context, p *model.PlanDosePair) error {
	if err := t.check("plan dose pair"); err != nil {
		return err
	}
	key := pairKey{dose: p.DoseSeriesUID, plan: p.PlanSeriesUID}
	if old, ok := t.st.pairs[key]; ok {
		p.ID, p.CreatedAt = old.ID, old.CreatedAt
	}
	p.Touch(t.now)
	t.st.pairs[key] = *p
	return nil
}
