// Package export renders a training manifest as an Excel workbook.
package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/jwalitptl/dicom-ingest/internal/linkage"
	"github.com/jwalitptl/dicom-ingest/internal/model"
)

const (
	SheetSeries        = "Series"
	SheetStructureSets = "Structure Sets"
	SheetPairs         = "Plan Dose Pairs"
	SheetOrphans       = "Orphans"

	dateLayout = "2006-01-02"
)

type sheet struct {
	name    string
	headers []string
	widths  []float64
	rows    [][]interface{}
}

// Manifest builds the workbook for one archive. orphans may be nil when the
// manifest was loaded back from the database, in which case the Orphans
// sheet only carries its header.
func Manifest(m *model.TrainingManifest, orphans []linkage.Orphan) ([]byte, error) {
	sheets := []sheet{
		seriesSheet(m),
		structureSetSheet(m),
		pairSheet(m),
		orphanSheet(orphans),
	}

	f := excelize.NewFile()
	// Note: Don't defer Close() here, because WriteTo needs the file to be open

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for i, s := range sheets {
		// The first sheet takes over the default Sheet1 and stays active.
		if i == 0 {
			err = f.SetSheetName(f.GetSheetName(0), s.name)
		} else {
			_, err = f.NewSheet(s.name)
		}
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create sheet %s: %w", s.name, err)
		}
		if err := writeSheet(f, s, headerStyle); err != nil {
			f.Close()
			return nil, err
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, s sheet, headerStyle int) error {
	for col, header := range s.headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(s.name, cell, header); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(s.name, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
		if col < len(s.widths) {
			name, err := excelize.ColumnNumberToName(col + 1)
			if err != nil {
				return err
			}
			if err := f.SetColWidth(s.name, name, name, s.widths[col]); err != nil {
				return fmt.Errorf("failed to set column width: %w", err)
			}
		}
	}

	for r, row := range s.rows {
		for c, value := range row {
			if value == nil || value == "" {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(s.name, cell, value); err != nil {
				return fmt.Errorf("failed to set cell %s on %s: %w", cell, s.name, err)
			}
		}
	}

	return f.SetPanes(s.name, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func seriesSheet(m *model.TrainingManifest) sheet {
	s := sheet{
		name:    SheetSeries,
		headers: []string{"Series Instance UID", "Patient ID", "Description", "Acquisition Date", "Image Type", "Images", "Image Paths"},
		widths:  []float64{40, 15, 30, 16, 12, 10, 60},
	}
	for _, series := range m.Series {
		var date, imageType string
		if series.AcquisitionDate != nil {
			date = series.AcquisitionDate.Format(dateLayout)
		}
		if series.ImageType != nil {
			imageType = strings.ToUpper(string(*series.ImageType))
		}
		s.rows = append(s.rows, []interface{}{
			series.SeriesInstanceUID,
			deref(series.PatientID),
			deref(series.Description),
			date,
			imageType,
			series.NumberOfImages,
			strings.Join(series.ImagePaths, "\n"),
		})
	}
	return s
}

func structureSetSheet(m *model.TrainingManifest) sheet {
	s := sheet{
		name:    SheetStructureSets,
		headers: []string{"SOP Instance UID", "Series Instance UID", "Referenced Series UID", "ROI Names", "Path"},
		widths:  []float64{40, 40, 40, 40, 60},
	}
	for _, ss := range m.StructureSets {
		s.rows = append(s.rows, []interface{}{
			ss.SOPInstanceUID,
			ss.SeriesInstanceUID,
			ss.ReferencedSeriesUID,
			strings.Join(ss.ROINames, ", "),
			ss.Path,
		})
	}
	return s
}

func pairSheet(m *model.TrainingManifest) sheet {
	structSOP := make(map[uuid.UUID]string, len(m.StructureSets))
	for _, ss := range m.StructureSets {
		structSOP[ss.ID] = ss.SOPInstanceUID
	}

	s := sheet{
		name:    SheetPairs,
		headers: []string{"Structure Set SOP UID", "Plan SOP UID", "Plan Series UID", "Dose SOP UID", "Dose Series UID", "Plan Path", "Dose Path"},
		widths:  []float64{40, 40, 40, 40, 40, 60, 60},
	}
	for _, p := range m.Pairs {
		s.rows = append(s.rows, []interface{}{
			structSOP[p.StructureSetID],
			p.PlanSOPUID,
			p.PlanSeriesUID,
			p.DoseSOPUID,
			p.DoseSeriesUID,
			p.PlanPath,
			p.DosePath,
		})
	}
	return s
}

func orphanSheet(orphans []linkage.Orphan) sheet {
	s := sheet{
		name:    SheetOrphans,
		headers: []string{"Kind", "SOP Instance UID", "Path", "Reason"},
		widths:  []float64{15, 40, 60, 60},
	}
	for _, o := range orphans {
		var reason string
		if o.Reason != nil {
			reason = o.Reason.Error()
		}
		s.rows = append(s.rows, []interface{}{o.Kind, o.SOPInstanceUID, o.Path, reason})
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
