package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/dicom-ingest/internal/linkage"
	"github.com/jwalitptl/dicom-ingest/pkg/errors"
)

// Orphan is a training record left out of the graph.
type Orphan struct {
	Kind           string `json:"kind"`
	Path           string `json:"path"`
	SOPInstanceUID string `json:"sop_instance_uid"`
	Reason         string `json:"reason"`
}

// TrainingSummary reports one training archive. RTPlanCount and RTDoseCount
// count every scanned plan and dose, linked or not.
type TrainingSummary struct {
	ArchiveID           uuid.UUID `json:"archive_id"`
	ImagesCount         int       `json:"images_count"`
	RTStructsCount      int       `json:"rtstructs_count"`
	PlanDosePairs       int       `json:"plan_dose_pairs"`
	TotalFilesProcessed int       `json:"total_files_processed"`
	RTPlanCount         int       `json:"rtplan_count"`
	RTDoseCount         int       `json:"rtdose_count"`
	OrganizedPath       string    `json:"organized_path"`
	Orphans             []Orphan  `json:"orphans"`

	// Graph is kept for manifest export; it is not part of the log data.
	Graph *linkage.Graph `json:"-"`
}

// ProcessTrainingArchive extracts a training archive, links its records and
// persists the graph. The archive row must already exist. Nothing is
// persisted unless every stage before it succeeded.
func (o *Orchestrator) ProcessTrainingArchive(ctx context.Context, archiveID uuid.UUID, path string, sink ProgressSink) (summary *TrainingSummary, err error) {
	sink = sinkOrNop(sink)
	log := o.logger.WithFields(map[string]interface{}{"archive_id": archiveID.String(), "archive": path})

	timer := prometheus.NewTimer(o.metrics.ArchiveDuration.WithLabelValues(kindTraining))
	defer timer.ObserveDuration()
	defer func() { o.countArchive(kindTraining, err) }()

	sink.SetProgress(ctx, 0, progressTotal, "Starting archive extraction...")

	workDir, files, err := o.deps.Extractor.Extract(ctx, path)
	if err != nil {
		return nil, err
	}
	defer o.deps.Extractor.Cleanup(workDir)

	if err := o.deps.Training.MarkExtracted(ctx, archiveID, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("mark archive extracted: %w", err)
	}
	sink.SetProgress(ctx, 10, progressTotal, "Archive extracted. Scanning for DICOM files...")

	if len(files) == 0 {
		return nil, errors.InvalidArchive(path, fmt.Errorf("no files found in the archive"))
	}
	sink.SetProgress(ctx, 15, progressTotal, fmt.Sprintf("Found %d files. Reading DICOM metadata...", len(files)))

	collection, err := o.deps.Resolver.Scan(ctx, files)
	if err != nil {
		return nil, err
	}
	sink.SetProgress(ctx, 40, progressTotal, "Metadata extracted. Organizing files...")

	graph := linkage.Resolve(collection)
	for _, orphan := range graph.Orphans {
		o.metrics.UnresolvedLinks.WithLabelValues(orphan.Kind).Inc()
		log.Warn("record left unlinked",
			"kind", orphan.Kind,
			"file_path", orphan.Path,
			"sop_instance_uid", orphan.SOPInstanceUID,
			"reason", orphan.Reason.Error())
	}

	layout, err := o.deps.Organizer.Organize(ctx, archiveID, graph)
	if err != nil {
		return nil, err
	}
	series, structs, _, _ := graph.Counts()
	sink.SetProgress(ctx, 60, progressTotal, fmt.Sprintf("Files organized. Saving %d image series...", series))

	observe := func(stage string, rows int) {
		switch stage {
		case linkage.StageImageSeries:
			sink.SetProgress(ctx, 75, progressTotal,
				fmt.Sprintf("Saved %d image series. Saving %d RT Structure Sets...", rows, structs))
		case linkage.StageStructureSets:
			sink.SetProgress(ctx, 90, progressTotal,
				fmt.Sprintf("Saved %d RT Structure Sets. Saving RT Plans and Doses...", rows))
		}
	}
	persisted, err := linkage.Persist(ctx, o.deps.Training, archiveID, graph, layout, observe)
	if err != nil {
		o.metrics.DatabaseOperations.WithLabelValues("persist_training_graph", "error").Inc()
		return nil, err
	}
	o.metrics.DatabaseOperations.WithLabelValues("persist_training_graph", "success").Inc()
	sink.SetProgress(ctx, progressTotal, progressTotal, "Processing complete!")

	summary = &TrainingSummary{
		ArchiveID:           archiveID,
		ImagesCount:         persisted.Series,
		RTStructsCount:      persisted.StructureSets,
		PlanDosePairs:       persisted.Pairs,
		TotalFilesProcessed: len(files),
		RTPlanCount:         len(collection.Plans),
		RTDoseCount:         len(collection.Doses),
		OrganizedPath:       layout.Root,
		Orphans:             make([]Orphan, 0, len(graph.Orphans)),
		Graph:               graph,
	}
	for _, orphan := range graph.Orphans {
		summary.Orphans = append(summary.Orphans, Orphan{
			Kind:           orphan.Kind,
			Path:           orphan.Path,
			SOPInstanceUID: orphan.SOPInstanceUID,
			Reason:         orphan.Reason.Error(),
		})
	}

	log.Info("training archive processed",
		"images", summary.ImagesCount,
		"structure_sets", summary.RTStructsCount,
		"pairs", summary.PlanDosePairs,
		"orphans", len(summary.Orphans))
	return summary, nil
}
