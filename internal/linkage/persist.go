package linkage

import (
	"context"

	"github.com/google/uuid"

	"github.com/jwalitptl/dicom-ingest/internal/model"
	"github.com/jwalitptl/dicom-ingest/internal/repository"
)

// PersistResult counts the rows written for one archive.
type PersistResult struct {
	Series        int
	StructureSets int
	Pairs         int
}

// Persist stages, reported to a PersistObserver once the stage is written.
const (
	StageImageSeries   = "image_series"
	StageStructureSets = "structure_sets"
	StagePlanDosePairs = "plan_dose_pairs"
)

// PersistObserver is told how many rows each stage wrote. The rows are not
// visible until the surrounding transaction commits.
type PersistObserver func(stage string, rows int)

// Persist writes a fully resolved graph in a single transaction, so no
// partially linked archive is ever visible. Paths come from layout when the
// file was organized. Rows are written parents first: every image series,
// then every structure set, then every plan/dose pair.
func Persist(ctx context.Context, repo repository.TrainingRepository, archiveID uuid.UUID, g *Graph, layout *Layout, observe PersistObserver) (*PersistResult, error) {
	if observe == nil {
		observe = func(string, int) {}
	}

	var res PersistResult
	err := repo.WithTx(ctx, func(tx repository.TrainingTx) error {
		res = PersistResult{}
		seriesIDs := make(map[string]uuid.UUID, len(g.Series))
		for _, s := range g.Series {
			row := &model.TrainingImageSeries{
				ArchiveID:         archiveID,
				SeriesInstanceUID: s.SeriesInstanceUID,
				NumberOfImages:    len(s.Images),
				PatientID:         optional(s.PatientID),
				Description:       optional(s.Description),
				AcquisitionDate:   s.AcquisitionDate,
				ImageType:         model.ImageTypeFor(s.Modality),
				ImagePaths:        layout.ImagePaths(s),
			}
			if err := tx.SaveImageSeries(ctx, row); err != nil {
				return err
			}
			seriesIDs[s.SeriesInstanceUID] = row.ID
			res.Series++
		}
		observe(StageImageSeries, res.Series)

		structIDs := make(map[*StructureSetNode]uuid.UUID)
		for _, s := range g.Series {
			for _, ss := range s.StructureSets {
				row := &model.TrainingStructureSet{
					ImageSeriesID:       seriesIDs[s.SeriesInstanceUID],
					SeriesInstanceUID:   ss.SeriesInstanceUID,
					SOPInstanceUID:      ss.SOPInstanceUID,
					ReferencedSeriesUID: ss.ReferencedSeriesUID,
					Path:                layout.structureSetPath(ss),
					ROINames:            ss.ROINames,
				}
				if err := tx.SaveStructureSet(ctx, row); err != nil {
					return err
				}
				structIDs[ss] = row.ID
				res.StructureSets++
			}
		}
		observe(StageStructureSets, res.StructureSets)

		for _, s := range g.Series {
			for _, ss := range s.StructureSets {
				for _, p := range ss.Plans {
					for _, d := range p.Doses {
						pair := &model.PlanDosePair{
							StructureSetID: structIDs[ss],
							PlanSeriesUID:  p.SeriesInstanceUID,
							PlanSOPUID:     p.SOPInstanceUID,
							PlanPath:       layout.planPath(p),
							DoseSeriesUID:  d.SeriesInstanceUID,
							DoseSOPUID:     d.SOPInstanceUID,
							DosePath:       layout.dosePath(d),
						}
						if err := tx.SavePlanDosePair(ctx, pair); err != nil {
							return err
						}
						res.Pairs++
					}
				}
			}
		}
		observe(StagePlanDosePairs, res.Pairs)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
