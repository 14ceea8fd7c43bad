package dicomtag_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/jwalitptl/dicom-ingest/internal/dicomtag"
	"github.com/jwalitptl/dicom-ingest/internal/dicomtag/dicomtest"
)

func TestReaderScalarAccessors(t *testing.T) {
	dir := t.TempDir()
	path := dicomtest.NewRecord("1.2.3.4").
		Hierarchy("PAT-1", "1.2.3", "1.2.3.1", "CT").
		Set(tag.PatientBirthDate, "19700412").
		Set(tag.StudyDate, "2023-01-01").
		Set(tag.SliceThickness, "2.5").
		Set(tag.InstanceNumber, "17").
		Set(tag.PixelSpacing, "0.9765", "0.9765").
		Set(tag.StudyDescription, "").
		Write(t, dir, "ct.dcm")

	r, err := dicomtag.Open(path, dicomtag.SkipPixelData())
	require.NoError(t, err)
	assert.Equal(t, path, r.File())

	pid, ok := r.String(tag.PatientID)
	assert.True(t, ok)
	assert.Equal(t, "PAT-1", pid)

	dob, ok := r.Date(tag.PatientBirthDate)
	assert.True(t, ok)
	assert.Equal(t, time.Date(1970, 4, 12, 0, 0, 0, 0, time.UTC), dob)

	_, ok = r.Date(tag.StudyDate)
	assert.False(t, ok, "malformed dates are absent")

	thickness, ok := r.Float(tag.SliceThickness)
	assert.True(t, ok)
	assert.InDelta(t, 2.5, thickness, 1e-9)

	n, ok := r.Int(tag.InstanceNumber)
	assert.True(t, ok)
	assert.Equal(t, 17, n)

	spacing, ok := r.Floats(tag.PixelSpacing)
	assert.True(t, ok)
	assert.Len(t, spacing, 2)

	_, ok = r.String(tag.StudyDescription)
	assert.False(t, ok, "empty values are absent")
	assert.Equal(t, "fallback", r.StringOr(tag.StudyDescription, "fallback"))

	_, ok = r.String(tag.PatientName)
	assert.False(t, ok)
	assert.False(t, r.Has(tag.FrameOfReferenceUID))
}

func TestReaderNestedPath(t *testing.T) {
	dir := t.TempDir()
	path := dicomtest.NewRecord("1.2.3.9").
		Hierarchy("PAT-1", "1.2.3", "1.2.3.2", "RTSTRUCT").
		StructureSet("1.2.3.1", []dicomtest.ROI{{Number: 1, Name: "PTV"}}, nil).
		Write(t, dir, "rs.dcm")

	r, err := dicomtag.Open(path, dicomtag.SkipPixelData())
	require.NoError(t, err)

	uid, ok := r.PathString(
		tag.ReferencedFrameOfReferenceSequence,
		tag.RTReferencedStudySequence,
		tag.RTReferencedSeriesSequence,
		tag.SeriesInstanceUID,
	)
	assert.True(t, ok)
	assert.Equal(t, "1.2.3.1", uid)

	_, ok = r.PathString(tag.ReferencedRTPlanSequence, tag.ReferencedSOPInstanceUID)
	assert.False(t, ok)

	rois, ok := r.Sequence(tag.StructureSetROISequence)
	require.True(t, ok)
	require.Len(t, rois, 1)
	assert.Equal(t, "PTV", rois[0].StringOr(tag.ROIName, ""))
	num, ok := rois[0].Int(tag.ROINumber)
	assert.True(t, ok)
	assert.Equal(t, 1, num)
}

func TestOpenRejectsGarbage(t *testing.T) {
	_, err := dicomtag.Open("testdata-does-not-exist.dcm")
	assert.Error(t, err)
}
