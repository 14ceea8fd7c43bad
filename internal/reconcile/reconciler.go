// Package reconcile turns one parsed DICOM record into the persisted
// patient / study / series / instance graph plus its modality payload.
package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/jwalitptl/dicom-ingest/internal/dicomtag"
	"github.com/jwalitptl/dicom-ingest/internal/model"
	"github.com/jwalitptl/dicom-ingest/internal/repository"
	"github.com/jwalitptl/dicom-ingest/pkg/errors"
	"github.com/jwalitptl/dicom-ingest/pkg/logger"
)

type Reconciler struct {
	store  repository.Store
	writer *Writer
	log    *logger.Logger
}

// NewReconciler builds a reconciler. A nil writer disables re-serialization.
func NewReconciler(store repository.Store, writer *Writer, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.Nop()
	}
	return &Reconciler{store: store, writer: writer, log: log}
}

// identity is the set of UIDs every record must carry.
type identity struct {
	patientID, studyUID, seriesUID, sopUID string
	modality                               model.Modality
}

func readIdentity(r *dicomtag.Reader) (identity, error) {
	var id identity
	required := []struct {
		t    tag.Tag
		name string
		dst  *string
	}{
		{tag.PatientID, "PatientID", &id.patientID},
		{tag.StudyInstanceUID, "StudyInstanceUID", &id.studyUID},
		{tag.SeriesInstanceUID, "SeriesInstanceUID", &id.seriesUID},
		{tag.SOPInstanceUID, "SOPInstanceUID", &id.sopUID},
	}
	// A file without Modality is skipped whatever else it lacks.
	raw, ok := r.String(tag.Modality)
	if !ok {
		return id, errors.ModalityNotPresent()
	}
	id.modality = model.NormalizeModality(raw)

	for _, req := range required {
		v, ok := r.String(req.t)
		if !ok {
			return id, errors.MissingRequiredTag(req.name)
		}
		*req.dst = v
	}
	return id, nil
}

// Reconcile upserts the record in one transaction and, once committed,
// writes its canonical copy. A write failure is reported as a
// SerializationFailure alongside the committed instance.
func (rc *Reconciler) Reconcile(ctx context.Context, r *dicomtag.Reader) (*model.Instance, error) {
	id, err := readIdentity(r)
	if err != nil {
		return nil, err
	}

	var instance *model.Instance
	err = rc.store.WithTx(ctx, func(tx repository.Tx) error {
		patient, err := rc.upsertPatient(ctx, tx, r, id)
		if err != nil {
			return err
		}
		study, err := rc.upsertStudy(ctx, tx, r, id, patient)
		if err != nil {
			return err
		}
		series, err := rc.upsertSeries(ctx, tx, r, id, study)
		if err != nil {
			return err
		}
		instance, err = rc.upsertInstance(ctx, tx, r, id, series)
		if err != nil {
			return err
		}

		switch id.modality.Class() {
		case model.ClassImage:
			return rc.upsertImageInformation(ctx, tx, r, instance)
		case model.ClassStructureSet:
			return rc.upsertStructureSet(ctx, tx, r, instance)
		default:
			rc.log.Debug("modality needs no payload", "modality", string(id.modality), "sop_instance_uid", id.sopUID)
			return nil
		}
	})
	if err != nil {
		return nil, err
	}

	if rc.writer != nil {
		if _, err := rc.writer.Write(r); err != nil {
			return instance, err
		}
	}
	return instance, nil
}

func (rc *Reconciler) upsertPatient(ctx context.Context, tx repository.Tx, r *dicomtag.Reader, id identity) (*model.Patient, error) {
	p, err := tx.FindPatientByUID(ctx, id.patientID)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			return nil, fmt.Errorf("find patient: %w", err)
		}
		p = &model.Patient{PatientID: id.patientID}
	}

	p.Name = optString(r, tag.PatientName)
	p.BirthDate = nil
	if d, ok := r.Date(tag.PatientBirthDate); ok {
		p.BirthDate = &d
	}
	p.Sex = model.SexFromDICOM(r.StringOr(tag.PatientSex, ""))

	if err := tx.SavePatient(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (rc *Reconciler) upsertStudy(ctx context.Context, tx repository.Tx, r *dicomtag.Reader, id identity, patient *model.Patient) (*model.Study, error) {
	s, err := tx.FindStudyByUID(ctx, id.studyUID)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			return nil, fmt.Errorf("find study: %w", err)
		}
		s = &model.Study{StudyInstanceUID: id.studyUID}
	}

	s.PatientRefID = patient.ID
	s.Description = optString(r, tag.StudyDescription)
	s.Date = nil
	if d, ok := r.Date(tag.StudyDate); ok {
		s.Date = &d
	}

	if err := tx.SaveStudy(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (rc *Reconciler) upsertSeries(ctx context.Context, tx repository.Tx, r *dicomtag.Reader, id identity, study *model.Study) (*model.Series, error) {
	s, err := tx.FindSeriesByUID(ctx, id.seriesUID)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			return nil, fmt.Errorf("find series: %w", err)
		}
		s = &model.Series{SeriesInstanceUID: id.seriesUID}
	}

	s.StudyRefID = study.ID
	s.FrameOfReferenceUID = optString(r, tag.FrameOfReferenceUID)
	s.Description = optString(r, tag.SeriesDescription)
	s.Date = nil
	if d, ok := r.Date(tag.SeriesDate); ok {
		s.Date = &d
	}

	if err := tx.SaveSeries(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (rc *Reconciler) upsertInstance(ctx context.Context, tx repository.Tx, r *dicomtag.Reader, id identity, series *model.Series) (*model.Instance, error) {
	i, err := tx.FindInstanceByUID(ctx, id.sopUID)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			return nil, fmt.Errorf("find instance: %w", err)
		}
		i = &model.Instance{SOPInstanceUID: id.sopUID}
	}

	i.SeriesRefID = series.ID
	i.Modality = id.modality
	i.PixelSpacing = nil
	if vals, ok := r.Strings(tag.PixelSpacing); ok {
		raw := strings.Join(vals, `\`)
		i.PixelSpacing = &raw
	}

	if err := tx.SaveInstance(ctx, i); err != nil {
		return nil, err
	}
	return i, nil
}

// upsertImageInformation overwrites every geometric field, so a value
// missing from the newest file clears what an earlier run stored.
func (rc *Reconciler) upsertImageInformation(ctx context.Context, tx repository.Tx, r *dicomtag.Reader, instance *model.Instance) error {
	info := &model.ImageInformation{
		InstanceRefID:   instance.ID,
		SliceLocation:   optFloat(r, tag.SliceLocation),
		SliceThickness:  optFloat(r, tag.SliceThickness),
		PatientPosition: optString(r, tag.PatientPosition),
	}
	if fs, ok := r.Floats(tag.PixelSpacing); ok {
		info.PixelSpacing = fs
	}
	if fs, ok := r.Floats(tag.ImagePositionPatient); ok {
		info.ImagePositionPatient = fs
	}
	if fs, ok := r.Floats(tag.ImageOrientationPatient); ok {
		info.ImageOrientationPatient = fs
	}
	if n, ok := r.Int(tag.InstanceNumber); ok {
		info.InstanceNumber = &n
	}
	return tx.SaveImageInformation(ctx, info)
}

func (rc *Reconciler) upsertStructureSet(ctx context.Context, tx repository.Tx, r *dicomtag.Reader, instance *model.Instance) error {
	rois, _ := r.Sequence(tag.StructureSetROISequence)

	ss, err := tx.FindStructureSetByInstance(ctx, instance.ID)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			return fmt.Errorf("find structure set: %w", err)
		}
		ss = &model.StructureSet{InstanceRefID: instance.ID}
	}
	ss.NumberOfROI = len(rois)
	ss.ReferencedFrameOfReferenceUID, _ = r.PathString(tag.ReferencedFrameOfReferenceSequence, tag.FrameOfReferenceUID)

	if err := tx.SaveStructureSet(ctx, ss); err != nil {
		return err
	}

	contours := contourMap(r)
	for _, item := range rois {
		number, ok := item.Int(tag.ROINumber)
		if !ok {
			rc.log.Warn("ROI entry without a number", "sop_instance_uid", instance.SOPInstanceUID)
			continue
		}
		roi := &model.ROI{
			StructureSetRefID: ss.ID,
			ROINumber:         number,
			Name:              item.StringOr(tag.ROIName, ""),
			Contours:          contours[number],
		}
		if roi.Contours == nil {
			roi.Contours = model.Contours{}
		}
		if err := tx.SaveROI(ctx, roi); err != nil {
			return err
		}
	}
	return nil
}

// contourMap groups contour records by referenced ROI number. Each contour
// carries the SOP instance UID of the first image it references, or "".
// Contours without coordinates are dropped.
func contourMap(r *dicomtag.Reader) map[int]model.Contours {
	out := map[int]model.Contours{}
	items, _ := r.Sequence(tag.ROIContourSequence)
	for _, item := range items {
		number, ok := item.Int(tag.ReferencedROINumber)
		if !ok {
			continue
		}
		list := model.Contours{}
		contours, _ := item.Sequence(tag.ContourSequence)
		for _, c := range contours {
			data, ok := c.Floats(tag.ContourData)
			if !ok {
				continue
			}
			ref, _ := c.PathString(tag.ContourImageSequence, tag.ReferencedSOPInstanceUID)
			list = append(list, model.Contour{Data: data, ReferencedSOPInstanceUID: ref})
		}
		out[number] = list
	}
	return out
}

func optString(r *dicomtag.Reader, t tag.Tag) *string {
	if s, ok := r.String(t); ok {
		return &s
	}
	return nil
}

func optFloat(r *dicomtag.Reader, t tag.Tag) *float64 {
	if f, ok := r.Float(t); ok {
		return &f
	}
	return nil
}
