// Package dicomtest writes small DICOM fixtures for tests.
package dicomtest

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

const (
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"

	CTImageStorage    = "1.2.840.10008.5.1.4.1.1.2"
	RTStructStorage   = "1.2.840.10008.5.1.4.1.1.481.3"
	RTPlanStorage     = "1.2.840.10008.5.1.4.1.1.481.5"
	RTDoseStorage     = "1.2.840.10008.5.1.4.1.1.481.2"
	SecondaryCapture  = "1.2.840.10008.5.1.4.1.1.7"
	defaultSOPClassID = SecondaryCapture
)

// El creates an element and panics on error.
func El(t tag.Tag, value interface{}) *dicom.Element {
	elem, err := dicom.NewElement(t, value)
	if err != nil {
		panic(fmt.Sprintf("failed to create element %v: %v", t, err))
	}
	return elem
}

// Str creates a string valued element.
func Str(t tag.Tag, vals ...string) *dicom.Element {
	return El(t, vals)
}

// Seq creates a sequence with one item per argument.
func Seq(t tag.Tag, items ...[]*dicom.Element) *dicom.Element {
	return El(t, items)
}

// Item groups elements into a sequence item.
func Item(elems ...*dicom.Element) []*dicom.Element {
	return elems
}

// Record is a fluent builder for one fixture file.
type Record struct {
	sopClass string
	sop      string
	elems    []*dicom.Element
}

// NewRecord starts a record with the given SOP instance UID.
func NewRecord(sopInstanceUID string) *Record {
	r := &Record{sopClass: defaultSOPClassID, sop: sopInstanceUID}
	if sopInstanceUID != "" {
		r.elems = append(r.elems, Str(tag.SOPInstanceUID, sopInstanceUID))
	}
	return r
}

func (r *Record) Class(uid string) *Record {
	r.sopClass = uid
	return r
}

// With appends arbitrary elements.
func (r *Record) With(elems ...*dicom.Element) *Record {
	r.elems = append(r.elems, elems...)
	return r
}

// Set appends a string element.
func (r *Record) Set(t tag.Tag, vals ...string) *Record {
	return r.With(Str(t, vals...))
}

// Hierarchy sets the four identifying UIDs above the instance plus modality.
func (r *Record) Hierarchy(patientID, studyUID, seriesUID, modality string) *Record {
	if patientID != "" {
		r.Set(tag.PatientID, patientID)
	}
	if studyUID != "" {
		r.Set(tag.StudyInstanceUID, studyUID)
	}
	if seriesUID != "" {
		r.Set(tag.SeriesInstanceUID, seriesUID)
	}
	if modality != "" {
		r.Set(tag.Modality, modality)
	}
	return r
}

// Dataset returns the record including its file meta group.
func (r *Record) Dataset() dicom.Dataset {
	meta := []*dicom.Element{
		Str(tag.MediaStorageSOPClassUID, r.sopClass),
		Str(tag.MediaStorageSOPInstanceUID, r.sop),
		Str(tag.TransferSyntaxUID, ExplicitVRLittleEndian),
	}
	return dicom.Dataset{Elements: append(meta, r.elems...)}
}

// Write stores the record as dir/name and returns the full path.
func (r *Record) Write(tb testing.TB, dir, name string) string {
	tb.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		tb.Fatalf("create fixture: %v", err)
	}
	defer f.Close()

	if err := dicom.Write(f, r.Dataset(), dicom.SkipVRVerification(), dicom.SkipValueTypeVerification()); err != nil {
		tb.Fatalf("write fixture %s: %v", name, err)
	}
	return path
}

// StructureSet adds the RTSTRUCT payload. refSeriesUID may be empty to leave
// the referenced frame of reference out.
func (r *Record) StructureSet(refSeriesUID string, rois []ROI, contours []ROIContour) *Record {
	if refSeriesUID != "" {
		r.With(Seq(tag.ReferencedFrameOfReferenceSequence, Item(
			Str(tag.FrameOfReferenceUID, "1.2.3.for"),
			Seq(tag.RTReferencedStudySequence, Item(
				Str(tag.ReferencedSOPInstanceUID, "1.2.3.study"),
				Seq(tag.RTReferencedSeriesSequence, Item(
					Str(tag.SeriesInstanceUID, refSeriesUID),
				)),
			)),
		)))
	}

	if len(rois) > 0 {
		items := make([][]*dicom.Element, 0, len(rois))
		for _, roi := range rois {
			items = append(items, Item(
				Str(tag.ROINumber, fmt.Sprintf("%d", roi.Number)),
				Str(tag.ROIName, roi.Name),
			))
		}
		r.With(El(tag.StructureSetROISequence, items))
	}

	if len(contours) > 0 {
		items := make([][]*dicom.Element, 0, len(contours))
		for _, c := range contours {
			var contourItems [][]*dicom.Element
			for _, data := range c.Contours {
				elems := []*dicom.Element{Str(tag.ContourData, data.Points...)}
				if data.ImageSOP != "" {
					elems = append(elems, Seq(tag.ContourImageSequence, Item(
						Str(tag.ReferencedSOPClassUID, CTImageStorage),
						Str(tag.ReferencedSOPInstanceUID, data.ImageSOP),
					)))
				}
				contourItems = append(contourItems, elems)
			}
			item := []*dicom.Element{Str(tag.ReferencedROINumber, fmt.Sprintf("%d", c.ROINumber))}
			if len(contourItems) > 0 {
				item = append(item, El(tag.ContourSequence, contourItems))
			}
			items = append(items, item)
		}
		r.With(El(tag.ROIContourSequence, items))
	}
	return r
}

// ReferencesStructureSet adds ReferencedStructureSetSequence, as on an RTPLAN.
func (r *Record) ReferencesStructureSet(sop string) *Record {
	return r.With(Seq(tag.ReferencedStructureSetSequence, Item(
		Str(tag.ReferencedSOPClassUID, RTStructStorage),
		Str(tag.ReferencedSOPInstanceUID, sop),
	)))
}

// ReferencesPlan adds ReferencedRTPlanSequence, as on an RTDOSE.
func (r *Record) ReferencesPlan(sop string) *Record {
	return r.With(Seq(tag.ReferencedRTPlanSequence, Item(
		Str(tag.ReferencedSOPClassUID, RTPlanStorage),
		Str(tag.ReferencedSOPInstanceUID, sop),
	)))
}

// ROI is one StructureSetROISequence entry.
type ROI struct {
	Number int
	Name   string
}

// ROIContour is one ROIContourSequence entry.
type ROIContour struct {
	ROINumber int
	Contours  []ContourData
}

type ContourData struct {
	Points   []string
	ImageSOP string
}
