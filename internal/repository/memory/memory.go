// Package memory is an in-process implementation of every repository
// interface. Transactions work on a copy of the state and swap it in on
// success, so a failed unit of work leaves nothing behind.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/dicom-ingest/internal/model"
	"github.com/jwalitptl/dicom-ingest/internal/repository"
	"github.com/jwalitptl/dicom-ingest/pkg/errors"
)

type roiKey struct {
	structureSet uuid.UUID
	number       int
}

type pairKey struct {
	dose, plan string
}

type state struct {
	patients  map[string]model.Patient
	studies   map[string]model.Study
	series    map[string]model.Series
	instances map[string]model.Instance
	images    map[uuid.UUID]model.ImageInformation
	structs   map[uuid.UUID]model.StructureSet
	rois      map[roiKey]model.ROI

	trainingSeries  map[string]model.TrainingImageSeries
	trainingStructs map[string]model.TrainingStructureSet
	pairs           map[pairKey]model.PlanDosePair
}

func newState() *state {
	return &state{
		patients:        map[string]model.Patient{},
		studies:         map[string]model.Study{},
		series:          map[string]model.Series{},
		instances:       map[string]model.Instance{},
		images:          map[uuid.UUID]model.ImageInformation{},
		structs:         map[uuid.UUID]model.StructureSet{},
		rois:            map[roiKey]model.ROI{},
		trainingSeries:  map[string]model.TrainingImageSeries{},
		trainingStructs: map[string]model.TrainingStructureSet{},
		pairs:           map[pairKey]model.PlanDosePair{},
	}
}

func (s *state) clone() *state {
	c := newState()
	copyMap(c.patients, s.patients)
	copyMap(c.studies, s.studies)
	copyMap(c.series, s.series)
	copyMap(c.instances, s.instances)
	copyMap(c.images, s.images)
	copyMap(c.structs, s.structs)
	copyMap(c.rois, s.rois)
	copyMap(c.trainingSeries, s.trainingSeries)
	copyMap(c.trainingStructs, s.trainingStructs)
	copyMap(c.pairs, s.pairs)
	return c
}

func copyMap[K comparable, V any](dst, src map[K]V) {
	for k, v := range src {
		dst[k] = v
	}
}

// Store holds everything in memory.
type Store struct {
	mu    sync.Mutex
	state *state

	archives  map[uuid.UUID]model.TrainingArchive
	templates []*model.PrescriptionTemplate
	jobs      map[uuid.UUID]model.ArchiveJob

	// FailOn, when set, is consulted before every Save and may inject an error.
	FailOn func(entity string) error
}

func New() *Store {
	return &Store{
		state:    newState(),
		archives: map[uuid.UUID]model.TrainingArchive{},
		jobs:     map[uuid.UUID]model.ArchiveJob{},
	}
}

var (
	_ repository.Store                  = (*Store)(nil)
	_ repository.StructureSetRepository = (*Store)(nil)
	_ repository.RuleRepository         = (*Store)(nil)
	_ repository.TrainingRepository     = (*Training)(nil)
	_ repository.JobRepository          = (*Store)(nil)
)

func (s *Store) WithTx(ctx context.Context, fn func(repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&tx{st: work, now: time.Now().UTC(), failOn: s.FailOn}); err != nil {
		return err
	}
	s.state = work
	return nil
}

type tx struct {
	st     *state
	now    time.Time
	failOn func(string) error
}

func (t *tx) check(entity string) error {
	if t.failOn == nil {
		return nil
	}
	return t.failOn(entity)
}

func (t *tx) FindPatientByUID(_ context.Context, patientID string) (*model.Patient, error) {
	p, ok := t.st.patients[patientID]
	if !ok {
		return nil, errors.NotFound("patient", nil)
	}
	return &p, nil
}

func (t *tx) SavePatient(_ context.Context, p *model.Patient) error {
	if err := t.check("patient"); err != nil {
		return err
	}
	if old, ok := t.st.patients[p.PatientID]; ok {
		p.ID, p.CreatedAt = old.ID, old.CreatedAt
	}
	p.Touch(t.now)
	t.st.patients[p.PatientID] = *p
	return nil
}

func (t *tx) FindStudyByUID(_ context.Context, uid string) (*model.Study, error) {
	s, ok := t.st.studies[uid]
	if !ok {
		return nil, errors.NotFound("study", nil)
	}
	return &s, nil
}

func (t *tx) SaveStudy(_ context.Context, s *model.Study) error {
	if err := t.check("study"); err != nil {
		return err
	}
	if old, ok := t.st.studies[s.StudyInstanceUID]; ok {
		s.ID, s.CreatedAt = old.ID, old.CreatedAt
	}
	s.Touch(t.now)
	t.st.studies[s.StudyInstanceUID] = *s
	return nil
}

func (t *tx) FindSeriesByUID(_ context.Context, uid string) (*model.Series, error) {
	s, ok := t.st.series[uid]
	if !ok {
		return nil, errors.NotFound("series", nil)
	}
	return &s, nil
}

func (t *tx) SaveSeries(_ context.Context, s *model.Series) error {
	if err := t.check("series"); err != nil {
		return err
	}
	if old, ok := t.st.series[s.SeriesInstanceUID]; ok {
		s.ID, s.CreatedAt = old.ID, old.CreatedAt
	}
	s.Touch(t.now)
	t.st.series[s.SeriesInstanceUID] = *s
	return nil
}

func (t *tx) FindInstanceByUID(_ context.Context, uid string) (*model.Instance, error) {
	i, ok := t.st.instances[uid]
	if !ok {
		return nil, errors.NotFound("instance", nil)
	}
	return &i, nil
}

func (t *tx) SaveInstance(_ context.Context, i *model.Instance) error {
	if err := t.check("instance"); err != nil {
		return err
	}
	if old, ok := t.st.instances[i.SOPInstanceUID]; ok {
		i.ID, i.CreatedAt = old.ID, old.CreatedAt
	}
	i.Touch(t.now)
	t.st.instances[i.SOPInstanceUID] = *i
	return nil
}

func (t *tx) SaveImageInformation(_ context.Context, info *model.ImageInformation) error {
	if err := t.check("image information"); err != nil {
		return err
	}
	if old, ok := t.st.images[info.InstanceRefID]; ok {
		info.ID, info.CreatedAt = old.ID, old.CreatedAt
	}
	info.Touch(t.now)
	t.st.images[info.InstanceRefID] = *info
	return nil
}

func (t *tx) FindStructureSetByInstance(_ context.Context, instanceID uuid.UUID) (*model.StructureSet, error) {
	ss, ok := t.st.structs[instanceID]
	if !ok {
		return nil, errors.NotFound("structure set", nil)
	}
	return &ss, nil
}

func (t *tx) SaveStructureSet(_ context.Context, ss *model.StructureSet) error {
	if err := t.check("structure set"); err != nil {
		return err
	}
	if old, ok := t.st.structs[ss.InstanceRefID]; ok {
		ss.ID, ss.CreatedAt = old.ID, old.CreatedAt
	}
	ss.PrescriptionTemplateID = nil
	ss.Touch(t.now)
	t.st.structs[ss.InstanceRefID] = *ss
	return nil
}

func (t *tx) SaveROI(_ context.Context, roi *model.ROI) error {
	if err := t.check("roi"); err != nil {
		return err
	}
	key := roiKey{roi.StructureSetRefID, roi.ROINumber}
	if old, ok := t.st.rois[key]; ok {
		roi.ID, roi.CreatedAt = old.ID, old.CreatedAt
	}
	if roi.Contours == nil {
		roi.Contours = model.Contours{}
	}
	roi.Touch(t.now)
	t.st.rois[key] = *roi
	return nil
}

// Counts reports the number of rows per clinical table.
func (s *Store) Counts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]int{
		"patients":          len(s.state.patients),
		"studies":           len(s.state.studies),
		"series":            len(s.state.series),
		"instances":         len(s.state.instances),
		"image_information": len(s.state.images),
		"structure_sets":    len(s.state.structs),
		"rois":              len(s.state.rois),
	}
}

func (s *Store) Patient(patientID string) (model.Patient, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.state.patients[patientID]
	return p, ok
}

func (s *Store) Instance(sopUID string) (model.Instance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.state.instances[sopUID]
	return i, ok
}

func (s *Store) ImageInformation(instanceID uuid.UUID) (model.ImageInformation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.state.images[instanceID]
	return info, ok
}

func (s *Store) StructureSet(instanceID uuid.UUID) (model.StructureSet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, ok := s.state.structs[instanceID]
	return ss, ok
}

// ROIs returns the ROIs of a structure set ordered by ROI number.
func (s *Store) ROIs(structureSetID uuid.UUID) []model.ROI {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ROI
	for k, roi := range s.state.rois {
		if k.structureSet == structureSetID {
			out = append(out, roi)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ROINumber < out[j].ROINumber })
	return out
}
