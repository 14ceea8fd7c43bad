package linkage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/jwalitptl/dicom-ingest/internal/reconcile"
	"github.com/jwalitptl/dicom-ingest/pkg/logger"
)

// Layout records where Organize placed each file. Keys are the UIDs the
// persisted rows are identified by.
type Layout struct {
	Root          string
	Images        map[string][]string // series UID
	StructureSets map[string]string   // structure set series UID
	Plans         map[string]string   // plan SOP UID
	Doses         map[string]string   // dose SOP UID
}

// ImagePaths returns the organized image paths of a series, falling back to
// the source paths when the series was not organized.
func (l *Layout) ImagePaths(s *Series) []string {
	if l != nil {
		if paths, ok := l.Images[s.SeriesInstanceUID]; ok {
			return paths
		}
	}
	out := make([]string, 0, len(s.Images))
	for _, img := range s.Images {
		out = append(out, img.Path)
	}
	return out
}

func (l *Layout) structureSetPath(ss *StructureSetNode) string {
	if l != nil {
		if p, ok := l.StructureSets[ss.SeriesInstanceUID]; ok {
			return p
		}
	}
	return ss.Path
}

func (l *Layout) planPath(p *PlanNode) string {
	if l != nil {
		if path, ok := l.Plans[p.SOPInstanceUID]; ok {
			return path
		}
	}
	return p.Path
}

func (l *Layout) dosePath(d Dose) string {
	if l != nil {
		if path, ok := l.Doses[d.SOPInstanceUID]; ok {
			return path
		}
	}
	return d.Path
}

// Organizer copies resolved files into the nested training layout:
//
//	archive_<id>/<series>/<image sop>.dcm
//	archive_<id>/<series>/RTStruct_<sop>/<sop>.dcm
//	archive_<id>/<series>/RTStruct_<sop>/Plan_<plan sop>/RTPLAN_<plan sop>.dcm
//	archive_<id>/<series>/RTStruct_<sop>/Plan_<plan sop>/RTDOSE_<dose sop>.dcm
type Organizer struct {
	root string
	log  *logger.Logger
}

func NewOrganizer(root string, log *logger.Logger) *Organizer {
	if log == nil {
		log = logger.Nop()
	}
	return &Organizer{root: root, log: log}
}

// Organize copies every file of the graph. A file that cannot be copied is
// logged and left out of the layout; later stages then refer to its source
// path.
func (o *Organizer) Organize(ctx context.Context, archiveID uuid.UUID, g *Graph) (*Layout, error) {
	base := filepath.Join(o.root, "archive_"+archiveID.String())
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create organized root: %w", err)
	}

	l := &Layout{
		Root:          base,
		Images:        map[string][]string{},
		StructureSets: map[string]string{},
		Plans:         map[string]string{},
		Doses:         map[string]string{},
	}

	for _, s := range g.Series {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seriesDir := filepath.Join(base, component(s.SeriesInstanceUID, "unknown_series"))
		for _, img := range s.Images {
			dst := filepath.Join(seriesDir, component(img.SOPInstanceUID, "unknown_instance")+".dcm")
			if o.copy(img.Path, dst) {
				l.Images[s.SeriesInstanceUID] = append(l.Images[s.SeriesInstanceUID], dst)
			}
		}

		for _, ss := range s.StructureSets {
			ssSOP := component(ss.SOPInstanceUID, "unknown_instance")
			ssDir := filepath.Join(seriesDir, "RTStruct_"+ssSOP)
			if dst := filepath.Join(ssDir, ssSOP+".dcm"); o.copy(ss.Path, dst) {
				l.StructureSets[ss.SeriesInstanceUID] = dst
			}

			for _, p := range ss.Plans {
				planSOP := component(p.SOPInstanceUID, "unknown_instance")
				planDir := filepath.Join(ssDir, "Plan_"+planSOP)
				if dst := filepath.Join(planDir, "RTPLAN_"+planSOP+".dcm"); o.copy(p.Path, dst) {
					l.Plans[p.SOPInstanceUID] = dst
				}
				for _, d := range p.Doses {
					dst := filepath.Join(planDir, "RTDOSE_"+component(d.SOPInstanceUID, "dose")+".dcm")
					if o.copy(d.Path, dst) {
						l.Doses[d.SOPInstanceUID] = dst
					}
				}
			}
		}
	}
	return l, nil
}

func (o *Organizer) copy(src, dst string) bool {
	if err := copyFile(src, dst); err != nil {
		o.log.Warn("failed to organize file", "file_path", src, "target", dst, "error", err.Error())
		return false
	}
	return true
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func component(uid, def string) string {
	return reconcile.SanitizeComponent(uid, def)
}
