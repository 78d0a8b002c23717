package timeline

import (
	"github.com/vhftag/tagfinder/internal/gaptag/ambiguity"
	"github.com/vhftag/tagfinder/internal/gaptag/graph"
	"github.com/vhftag/tagfinder/internal/gaptag/tag"
)

// GraphTarget adapts a (Graph, ambiguity.Manager) pair, the per-frequency
// state a conductor owns, to the Target interface Advance routes events
// against.
type GraphTarget struct {
	Graph   *graph.Graph
	Manager *ambiguity.Manager
	Opt     graph.AddTagOptions
}

func (gt *GraphTarget) AddTag(t *tag.Tag) (oldTag, newTag *tag.Tag, err error) {
	return ambiguity.AddTag(gt.Graph, gt.Manager, t, gt.Opt)
}

func (gt *GraphTarget) DelTag(t *tag.Tag) (oldTag, newTag *tag.Tag, err error) {
	return ambiguity.DelTag(gt.Graph, gt.Manager, t)
}
