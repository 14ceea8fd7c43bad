package reconcile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/jwalitptl/dicom-ingest/internal/dicomtag"
	"github.com/jwalitptl/dicom-ingest/pkg/errors"
	"github.com/jwalitptl/dicom-ingest/pkg/logger"
)

// Writer re-serializes reconciled records under a processed root laid out
// as <patient>/<study>/<series>/<sop>.dcm.
type Writer struct {
	root string
	log  *logger.Logger
}

func NewWriter(root string, log *logger.Logger) *Writer {
	if log == nil {
		log = logger.Nop()
	}
	return &Writer{root: root, log: log}
}

// PathFor returns the canonical location of a record. Every component is
// sanitized, so the result always lies below the root.
func (w *Writer) PathFor(r *dicomtag.Reader) string {
	return filepath.Join(
		w.root,
		SanitizeComponent(r.StringOr(tag.PatientID, ""), "unknown_patient"),
		SanitizeComponent(r.StringOr(tag.StudyInstanceUID, ""), "unknown_study"),
		SanitizeComponent(r.StringOr(tag.SeriesInstanceUID, ""), "unknown_series"),
		SanitizeComponent(r.StringOr(tag.SOPInstanceUID, ""), "unknown_instance")+".dcm",
	)
}

// Write stores the full dataset of r at its canonical path, replacing any
// earlier copy. The reader must have been opened with pixel data.
func (w *Writer) Write(r *dicomtag.Reader) (string, error) {
	out := w.PathFor(r)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", errors.SerializationFailure(out, err)
	}

	f, err := os.Create(out)
	if err != nil {
		return "", errors.SerializationFailure(out, err)
	}
	werr := dicom.Write(f, *r.Dataset(), dicom.SkipVRVerification(), dicom.SkipValueTypeVerification())
	cerr := f.Close()
	if werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(out)
		return "", errors.SerializationFailure(out, fmt.Errorf("write dataset: %w", werr))
	}

	w.log.Debug("saved processed DICOM file", "path", out)
	return out, nil
}
