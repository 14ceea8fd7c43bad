package linkage

import (
	"sort"
	"time"

	"github.com/jwalitptl/dicom-ingest/internal/model"
	"github.com/jwalitptl/dicom-ingest/pkg/errors"
)

// Orphan kinds.
const (
	KindStructureSet = "structure_set"
	KindPlan         = "plan"
	KindDose         = "dose"
)

// Series is an image series with the structure sets that reference it.
type Series struct {
	SeriesInstanceUID string
	Modality          model.Modality
	PatientID         string
	Description       string
	AcquisitionDate   *time.Time
	Images            []Image
	StructureSets     []*StructureSetNode
}

type StructureSetNode struct {
	StructureSet
	Plans []*PlanNode
}

type PlanNode struct {
	Plan
	Doses []Dose
}

// Orphan is a record excluded from the graph because its parent could not
// be found.
type Orphan struct {
	Kind           string
	Path           string
	SOPInstanceUID string
	Reason         error
}

// Graph is the resolved linkage of one archive. Every slice is sorted, so
// the graph depends only on the set of input files and not on their order.
type Graph struct {
	Series  []*Series
	Orphans []Orphan
}

// Pair is one resolved plan/dose combination and the structure set it
// belongs to.
type Pair struct {
	StructureSet *StructureSetNode
	Plan         *PlanNode
	Dose         Dose
}

// Pairs flattens the graph into plan/dose pairs in graph order.
func (g *Graph) Pairs() []Pair {
	var out []Pair
	for _, s := range g.Series {
		for _, ss := range s.StructureSets {
			for _, p := range ss.Plans {
				for _, d := range p.Doses {
					out = append(out, Pair{StructureSet: ss, Plan: p, Dose: d})
				}
			}
		}
	}
	return out
}

// Counts returns the number of series, structure sets, plans and doses that
// made it into the graph.
func (g *Graph) Counts() (series, structureSets, plans, doses int) {
	for _, s := range g.Series {
		series++
		for _, ss := range s.StructureSets {
			structureSets++
			for _, p := range ss.Plans {
				plans++
				doses += len(p.Doses)
			}
		}
	}
	return
}

// Resolve links the collection in dependency order: image series first,
// then structure sets onto series, plans onto structure sets and doses onto
// plans. A record whose parent is absent becomes an orphan; processing of
// the rest continues.
func Resolve(c *Collection) *Graph {
	g := &Graph{}

	images := append([]Image(nil), c.Images...)
	sort.Slice(images, func(i, j int) bool {
		if images[i].SeriesUID != images[j].SeriesUID {
			return images[i].SeriesUID < images[j].SeriesUID
		}
		if images[i].SOPInstanceUID != images[j].SOPInstanceUID {
			return images[i].SOPInstanceUID < images[j].SOPInstanceUID
		}
		return images[i].Path < images[j].Path
	})

	seriesByUID := map[string]*Series{}
	for _, img := range images {
		s, ok := seriesByUID[img.SeriesUID]
		if !ok {
			s = &Series{
				SeriesInstanceUID: img.SeriesUID,
				Modality:          img.Modality,
				PatientID:         img.PatientID,
				Description:       img.Description,
				AcquisitionDate:   img.AcquisitionDate,
			}
			seriesByUID[img.SeriesUID] = s
			g.Series = append(g.Series, s)
		}
		s.Images = append(s.Images, img)
	}

	structs := append([]StructureSet(nil), c.StructureSets...)
	sort.Slice(structs, func(i, j int) bool {
		return less(structs[i].SeriesInstanceUID, structs[j].SeriesInstanceUID,
			structs[i].SOPInstanceUID, structs[j].SOPInstanceUID, structs[i].Path, structs[j].Path)
	})
	structBySOP := map[string]*StructureSetNode{}
	for _, ss := range structs {
		switch {
		case ss.SeriesInstanceUID == "":
			g.orphan(KindStructureSet, ss.Path, ss.SOPInstanceUID, errors.MissingRequiredTag("SeriesInstanceUID"))
			continue
		case ss.SOPInstanceUID == "":
			g.orphan(KindStructureSet, ss.Path, ss.SOPInstanceUID, errors.MissingRequiredTag("SOPInstanceUID"))
			continue
		}
		parent, ok := seriesByUID[ss.ReferencedSeriesUID]
		if !ok {
			g.orphan(KindStructureSet, ss.Path, ss.SOPInstanceUID, errors.UnresolvedReference("image series", ss.ReferencedSeriesUID))
			continue
		}
		node := &StructureSetNode{StructureSet: ss}
		parent.StructureSets = append(parent.StructureSets, node)
		if _, dup := structBySOP[ss.SOPInstanceUID]; !dup {
			structBySOP[ss.SOPInstanceUID] = node
		}
	}

	plans := append([]Plan(nil), c.Plans...)
	sort.Slice(plans, func(i, j int) bool {
		return less(plans[i].SOPInstanceUID, plans[j].SOPInstanceUID,
			plans[i].SeriesInstanceUID, plans[j].SeriesInstanceUID, plans[i].Path, plans[j].Path)
	})
	planBySOP := map[string]*PlanNode{}
	for _, p := range plans {
		switch {
		case p.SOPInstanceUID == "":
			g.orphan(KindPlan, p.Path, p.SOPInstanceUID, errors.MissingRequiredTag("SOPInstanceUID"))
			continue
		case p.SeriesInstanceUID == "":
			g.orphan(KindPlan, p.Path, p.SOPInstanceUID, errors.MissingRequiredTag("SeriesInstanceUID"))
			continue
		}
		parent, ok := structBySOP[p.ReferencedStructureSetSOP]
		if !ok {
			g.orphan(KindPlan, p.Path, p.SOPInstanceUID, errors.UnresolvedReference("structure set", p.ReferencedStructureSetSOP))
			continue
		}
		node := &PlanNode{Plan: p}
		parent.Plans = append(parent.Plans, node)
		if _, dup := planBySOP[p.SOPInstanceUID]; !dup {
			planBySOP[p.SOPInstanceUID] = node
		}
	}

	doses := append([]Dose(nil), c.Doses...)
	sort.Slice(doses, func(i, j int) bool {
		return less(doses[i].SOPInstanceUID, doses[j].SOPInstanceUID,
			doses[i].SeriesInstanceUID, doses[j].SeriesInstanceUID, doses[i].Path, doses[j].Path)
	})
	for _, d := range doses {
		if d.SeriesInstanceUID == "" {
			g.orphan(KindDose, d.Path, d.SOPInstanceUID, errors.MissingRequiredTag("SeriesInstanceUID"))
			continue
		}
		parent, ok := planBySOP[d.ReferencedPlanSOP]
		if !ok {
			g.orphan(KindDose, d.Path, d.SOPInstanceUID, errors.UnresolvedReference("plan", d.ReferencedPlanSOP))
			continue
		}
		parent.Doses = append(parent.Doses, d)
	}

	sort.Slice(g.Orphans, func(i, j int) bool {
		a, b := g.Orphans[i], g.Orphans[j]
		return less(a.Kind, b.Kind, a.SOPInstanceUID, b.SOPInstanceUID, a.Path, b.Path)
	})
	return g
}

func (g *Graph) orphan(kind, path, sop string, reason error) {
	g.Orphans = append(g.Orphans, Orphan{Kind: kind, Path: path, SOPInstanceUID: sop, Reason: reason})
}

// less orders by successive (a, b) key pairs.
func less(keys ...string) bool {
	for i := 0; i+1 < len(keys); i += 2 {
		if keys[i] != keys[i+1] {
			return keys[i] < keys[i+1]
		}
	}
	return false
}
