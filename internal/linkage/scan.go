// Package linkage builds the training-corpus graph of one archive: image
// series, the structure sets contouring them, the plans built on those
// structure sets and the doses computed for those plans.
package linkage

import (
	"context"
	"time"

	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/jwalitptl/dicom-ingest/internal/dicomtag"
	"github.com/jwalitptl/dicom-ingest/internal/model"
	"github.com/jwalitptl/dicom-ingest/pkg/logger"
)

// Image is one image file of a series.
type Image struct {
	Path            string
	SOPInstanceUID  string
	SeriesUID       string
	Modality        model.Modality
	PatientID       string
	Description     string
	AcquisitionDate *time.Time
}

type StructureSet struct {
	Path                string
	SeriesInstanceUID   string
	SOPInstanceUID      string
	ReferencedSeriesUID string
	ROINames            []string
}

type Plan struct {
	Path                      string
	SeriesInstanceUID         string
	SOPInstanceUID            string
	ReferencedStructureSetSOP string
}

type Dose struct {
	Path              string
	SeriesInstanceUID string
	SOPInstanceUID    string
	ReferencedPlanSOP string
}

// Collection holds the metadata of every usable file of an archive, grouped
// by modality class but not yet linked.
type Collection struct {
	Images        []Image
	StructureSets []StructureSet
	Plans         []Plan
	Doses         []Dose

	// Total is the number of files offered to Scan, Ignored the ones that
	// were unreadable, had no modality or an unrelated one.
	Total   int
	Ignored int
}

type Resolver struct {
	log *logger.Logger
}

func NewResolver(log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.Nop()
	}
	return &Resolver{log: log}
}

// Scan reads the metadata of every file, stopping before pixel data. Files
// that cannot contribute to the graph are dropped without error; only a
// cancelled context stops the scan.
func (r *Resolver) Scan(ctx context.Context, files []string) (*Collection, error) {
	c := &Collection{Total: len(files)}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !r.scanFile(c, path) {
			c.Ignored++
		}
	}
	return c, nil
}

func (r *Resolver) scanFile(c *Collection, path string) bool {
	rd, err := dicomtag.Open(path, dicomtag.SkipPixelData(), dicomtag.WithLogger(r.log))
	if err != nil {
		r.log.Debug("skipping unreadable file", "file_path", path, "error", err.Error())
		return false
	}
	raw, ok := rd.String(tag.Modality)
	if !ok {
		r.log.Debug("skipping file without modality", "file_path", path)
		return false
	}
	modality := model.NormalizeModality(raw)
	series := rd.StringOr(tag.SeriesInstanceUID, "")
	sop := rd.StringOr(tag.SOPInstanceUID, "")

	switch modality.Class() {
	case model.ClassImage:
		if series == "" {
			r.log.Debug("skipping image without series UID", "file_path", path)
			return false
		}
		img := Image{
			Path:           path,
			SOPInstanceUID: sop,
			SeriesUID:      series,
			Modality:       modality,
			PatientID:      rd.StringOr(tag.PatientID, ""),
			Description:    rd.StringOr(tag.SeriesDescription, ""),
		}
		if d, ok := rd.Date(tag.SeriesDate); ok {
			img.AcquisitionDate = &d
		}
		c.Images = append(c.Images, img)

	case model.ClassStructureSet:
		ref, _ := rd.PathString(
			tag.ReferencedFrameOfReferenceSequence,
			tag.RTReferencedStudySequence,
			tag.RTReferencedSeriesSequence,
			tag.SeriesInstanceUID,
		)
		ss := StructureSet{Path: path, SeriesInstanceUID: series, SOPInstanceUID: sop, ReferencedSeriesUID: ref}
		items, _ := rd.Sequence(tag.StructureSetROISequence)
		for _, item := range items {
			if name, ok := item.String(tag.ROIName); ok {
				ss.ROINames = append(ss.ROINames, name)
			}
		}
		c.StructureSets = append(c.StructureSets, ss)

	case model.ClassPlan:
		ref, _ := rd.PathString(tag.ReferencedStructureSetSequence, tag.ReferencedSOPInstanceUID)
		c.Plans = append(c.Plans, Plan{Path: path, SeriesInstanceUID: series, SOPInstanceUID: sop, ReferencedStructureSetSOP: ref})

	case model.ClassDose:
		ref, _ := rd.PathString(tag.ReferencedRTPlanSequence, tag.ReferencedSOPInstanceUID)
		c.Doses = append(c.Doses, Dose{Path: path, SeriesInstanceUID: series, SOPInstanceUID: sop, ReferencedPlanSOP: ref})

	default:
		r.log.Debug("skipping unrelated modality", "file_path", path, "modality", string(modality))
		return false
	}
	return true
}
