// Package graph implements the gap-graph automaton: an incrementally
// maintained DFA over inter-pulse gaps, whose states (Node) are
// hash-consed by the tagset.Set they carry (spec.md §4.2).
package graph

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/vhftag/tagfinder/internal/gaptag/tag"
	"github.com/vhftag/tagfinder/internal/gaptag/tagset"
)

// ErrNotUnique is returned by Find when a lookup lands on a node whose
// set holds more than one tag phase; the caller asked for a single tag's
// gap sequence and got an ambiguous state instead.
var ErrNotUnique = errors.New("graph: node set is not unique")

// edge is one breakpoint of a node's ordered gap-to-node map. Edges are
// kept sorted ascending by Bound in Node.edges, mirroring the ordered
// std::map<Gap,Node*> of the reference implementation: the edge in
// force for a gap value g is the one with the largest Bound <= g.
type edge struct {
	bound float64
	to    *Node
}

// Node is one DFA state: the tag phases reachable by the gap sequence
// that leads here, plus the outgoing edges for the next gap.
type Node struct {
	set   tagset.Set
	edges []edge

	useCount   int
	tcUseCount int
	valid      bool
	label      int
	stamp      int
}

// Set returns the node's tag-phase set.
func (n *Node) Set() tagset.Set { return n.set }

// IsUnique reports whether this node represents exactly one (tag, phase).
func (n *Node) IsUnique() bool {
	_, ok := n.set.Unique()
	return ok
}

// Tag returns the sole tag at this node, or nil if the node's set is
// empty or ambiguous. Callers that need to distinguish "empty" from
// "ambiguous" should inspect Set() directly.
func (n *Node) Tag() *tag.Tag {
	tp, ok := n.set.Unique()
	if !ok {
		return nil
	}
	return tp.Tag
}

// GetMaxAge returns the largest finite edge bound leaving this node, or
// 0 if the only edges are the +/-Inf sentinels.
func (n *Node) GetMaxAge() float64 {
	if len(n.edges) < 2 {
		return 0
	}
	last := n.edges[len(n.edges)-2] // skip the +Inf sentinel
	if math.IsInf(last.bound, 0) {
		return 0
	}
	return last.bound
}

// Advance follows the edge in force for gap dt, returning the node
// reached, or nil if that edge leads to the distinguished empty node
// (i.e., no tag is compatible with this gap from here).
func (n *Node) Advance(dt float64) *Node {
	i := upperBound(n.edges, dt) - 1
	if n.edges[i].to == emptySentinel {
		return nil
	}
	return n.edges[i].to
}

func upperBound(edges []edge, b float64) int {
	return sort.Search(len(edges), func(i int) bool { return edges[i].bound > b })
}

func lowerBound(edges []edge, b float64) int {
	return sort.Search(len(edges), func(i int) bool { return edges[i].bound >= b })
}

// emptySentinel is the unique node for the empty tag-phase set. Every
// newly constructed node (other than this one) starts with two edges,
// at -Inf and +Inf, both pointing here, matching Node::ctorCommon.
var emptySentinel = &Node{set: tagset.Empty(), valid: true}

func newNode(label int) *Node {
	n := &Node{label: label, valid: true}
	n.edges = []edge{
		{bound: math.Inf(-1), to: emptySentinel},
		{bound: math.Inf(1), to: emptySentinel},
	}
	return n
}

// cloneShallow returns a new node carrying the same set and edges as n,
// linking every edge target (Node::Node(const Node*) pointer-copy ctor).
func (g *Graph) cloneShallow(n *Node) *Node {
	nn := &Node{set: n.set, label: g.nextLabel, valid: true, edges: append([]edge(nil), n.edges...)}
	g.nextLabel++
	for _, e := range nn.edges {
		g.linkNode(e.to)
	}
	g.numNodes++
	return nn
}

// Graph is the per-frequency gap-graph automaton.
type Graph struct {
	root *Node

	// setToNode hash-cons buckets, keyed by tagset.Set.Hash(); within a
	// bucket, entries are disambiguated by Set.Equal.
	setToNode map[uint64][]*Node

	stamp     int
	nextLabel int
	numNodes  int
	numLinks  int

	tags map[tag.ID]*tag.Tag
}

// New constructs an empty graph with a fresh root node.
func New() *Graph {
	g := &Graph{setToNode: make(map[uint64][]*Node), stamp: 1, tags: make(map[tag.ID]*tag.Tag)}
	g.root = newNode(g.nextLabel)
	g.nextLabel++
	g.numNodes++
	g.mapSet(tagset.Empty(), emptySentinel)
	return g
}

// TagByID returns the tag currently registered under id, or nil if none
// is present (e.g. a proxy that has since been collapsed back to a real
// tag, or an ID never added).
func (g *Graph) TagByID(id tag.ID) *tag.Tag { return g.tags[id] }

// Root returns the graph's root node.
func (g *Graph) Root() *Node { return g.root }

// NumNodes returns the number of live nodes, including the root; the
// shared empty sentinel is not counted.
func (g *Graph) NumNodes() int { return g.numNodes }

// NumLinks returns the total number of edge-to-node links currently
// counted across the graph; used by invariant tests (spec.md §8, #2).
func (g *Graph) NumLinks() int { return g.numLinks }

func (g *Graph) newStamp() {
	g.stamp++
	if g.stamp == 0 {
		g.resetAllStamps()
		g.stamp = 1
	}
}

func (g *Graph) resetAllStamps() {
	for _, bucket := range g.setToNode {
		for _, n := range bucket {
			n.stamp = 0
		}
	}
}

func (g *Graph) mapSet(s tagset.Set, n *Node) {
	h := s.Hash()
	g.setToNode[h] = append(g.setToNode[h], n)
}

func (g *Graph) unmapSet(s tagset.Set) {
	if s.IsEmpty() {
		return
	}
	h := s.Hash()
	bucket := g.setToNode[h]
	for i, n := range bucket {
		if n.set.Equal(s) {
			g.setToNode[h] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(g.setToNode[h]) == 0 {
		delete(g.setToNode, h)
	}
}

// findNode looks up the canonical node for s, if one already exists.
func (g *Graph) findNode(s tagset.Set) *Node {
	for _, n := range g.setToNode[s.Hash()] {
		if n.set.Equal(s) {
			return n
		}
	}
	return nil
}

func (g *Graph) linkNode(n *Node) {
	n.useCount++
	g.numLinks++
}

// unlinkNode decrements n's use count, and if it reaches zero, recycles
// n: removes its set from the hash-cons table, recursively unlinks every
// node it points to, and drops it. The shared empty sentinel is never
// dropped.
func (g *Graph) unlinkNode(n *Node) {
	n.useCount--
	g.numLinks--
	if n.useCount > 0 || n == emptySentinel {
		return
	}
	g.unmapSet(n.set)
	for _, e := range n.edges {
		g.unlinkNode(e.to)
	}
	g.numNodes--
}

// GapRange is the tolerance- and clock-fuzz-widened interval a single
// nominal gap value snaps to (original_source/Gap_Range.hpp).
type GapRange struct {
	Lo, Hi float64
}

// NewGapRange builds the range for gap g with absolute tolerance tol
// (seconds) and relative clock fuzz timeFuzz, rounding outward to a multiple of
// tol so that adjacent gap values sharing a tolerance band snap to
// identical breakpoints.
func NewGapRange(g, tol, timeFuzz float64) GapRange {
	lo := math.Min(g-tol, g*(1-timeFuzz))
	hi := math.Max(g+tol, g*(1+timeFuzz))
	return GapRange{Lo: chunkDown(lo, tol), Hi: chunkUp(hi, tol)}
}

func chunkDown(g, chunkiness float64) float64 { return chunkiness * math.Floor(g/chunkiness) }
func chunkUp(g, chunkiness float64) float64   { return chunkiness * math.Ceil(g/chunkiness) }

// MaxTime returns the elapsed-time horizon (seconds) used to bound how
// many back/skip edges are generated for a tag: the tag's own period,
// plus maxSkippedBursts more periods (SPEC_FULL.md §11, Open Question 1).
func MaxTime(t *tag.Tag, maxSkippedBursts int) float64 {
	return t.Period * float64(maxSkippedBursts+1)
}

// ensureEdge guarantees node n has a breakpoint at exactly gap b,
// splitting whichever edge currently covers b if necessary, and returns
// its index into n.edges.
func (g *Graph) ensureEdge(n *Node, b float64) int {
	idx := upperBound(n.edges, b)
	j := idx - 1
	if n.edges[j].bound == b {
		return j
	}
	to := n.edges[j].to
	n.edges = append(n.edges, edge{})
	copy(n.edges[idx+1:], n.edges[idx:])
	n.edges[idx] = edge{bound: b, to: to}
	g.linkNode(to)
	return idx
}

// augmentEdge adds tp to the tag-phase set of the node at edge index i
// of n's edge list, hash-consing the result.
func (g *Graph) augmentEdge(n *Node, i int, tp tag.TagPhase) {
	tail := n.edges[i].to
	s, err := tail.set.Augment(tp)
	if err != nil {
		// Duplicate transitions are a programmer error: the caller is
		// responsible for not re-inserting an existing (tag, phase).
		panic(fmt.Errorf("graph: augmentEdge: %w", err))
	}
	if existing := g.findNode(s); existing != nil {
		g.unlinkNode(tail)
		n.edges[i].to = existing
		g.linkNode(existing)
		return
	}
	if tail.useCount == 1 && tail != emptySentinel {
		g.unmapSet(tail.set)
		tail.set = s
		g.mapSet(s, tail)
		return
	}
	nn := g.cloneShallow(tail)
	nn.set = s
	g.mapSet(s, nn)
	g.unlinkNode(tail)
	g.linkNode(nn)
	n.edges[i].to = nn
}

// reduceEdge removes every phase of t from the tag-phase set of the node
// at edge index i of n's edge list, hash-consing the result.
func (g *Graph) reduceEdge(n *Node, i int, t *tag.Tag) {
	tail := n.edges[i].to
	if tail.set.Count(t) == 0 {
		return
	}
	s := tail.set.Reduce(t)
	if existing := g.findNode(s); existing != nil {
		n.edges[i].to = existing
		g.linkNode(existing)
		g.unlinkNode(tail)
		return
	}
	if tail.useCount == 1 && tail != emptySentinel {
		g.unmapSet(tail.set)
		tail.set = s
		g.mapSet(s, tail)
		return
	}
	nn := g.cloneShallow(tail)
	nn.set = s
	g.mapSet(s, nn)
	g.unlinkNode(tail)
	g.linkNode(nn)
	n.edges[i].to = nn
}

// insertAt augments every edge of n covering [lo, hi) by tp, widening
// the edge map at lo and hi as needed first.
func (g *Graph) insertAt(n *Node, grs []GapRange, tp tag.TagPhase) {
	for _, gr := range grs {
		g.ensureEdge(n, gr.Hi)
		i := g.ensureEdge(n, gr.Lo)
		for n.edges[i].bound < gr.Hi {
			g.augmentEdge(n, i, tp)
			i++
		}
	}
}

// insertRec recursively inserts a transition from tFrom to tTo over the
// gap ranges grs, starting at root, matching Graph::insertRec's
// depth-first, stamp-guarded traversal of the DAG.
func (g *Graph) insertRec(grs []GapRange, tFrom, tTo tag.TagPhase) {
	g.newStamp()
	g.insertRecAt(g.root, grs, tFrom, tTo)
}

func (g *Graph) insertRecAt(n *Node, grs []GapRange, tFrom, tTo tag.TagPhase) {
	n.stamp = g.stamp
	for _, e := range n.edges {
		if e.to.stamp != g.stamp && e.to.set.Count(tFrom.Tag) > 0 {
			g.insertRecAt(e.to, grs, tFrom, tTo)
		}
	}
	if n.set.CountPhase(tFrom) {
		g.insertAt(n, grs, tTo)
	}
}

// erase removes t from the tail node of every edge of n that carries it,
// reducing (and possibly collapsing) those tail nodes.
func (g *Graph) erase(n *Node, t *tag.Tag) {
	for i := range n.edges {
		if n.edges[i].to.set.Count(t) > 0 {
			g.reduceEdge(n, i, t)
		}
	}
}

// eraseRec recursively removes every occurrence of t from the graph.
func (g *Graph) eraseRec(t *tag.Tag) {
	g.newStamp()
	g.eraseRecAt(g.root, t)
}

func (g *Graph) eraseRecAt(n *Node, t *tag.Tag) {
	n.stamp = g.stamp
	here := n.set.Count(t) > 0
	for _, e := range n.edges {
		if e.to.stamp != g.stamp && e.to.set.Count(t) > 0 {
			g.eraseRecAt(e.to, t)
		}
	}
	if here {
		g.erase(n, t)
	}
}

// renTag replaces every occurrence of t1 in the graph with t2, used when
// the ambiguity manager allocates or retires a proxy tag.
func (g *Graph) renTag(t1, t2 *tag.Tag) {
	if t1 == t2 {
		return
	}
	g.newStamp()
	g.renTagRecAt(g.root, t1, t2)
}

func (g *Graph) renTagRecAt(n *Node, t1, t2 *tag.Tag) {
	n.stamp = g.stamp
	for _, e := range n.edges {
		if e.to.stamp != g.stamp && e.to.set.Count(t1) > 0 {
			g.renTagRecAt(e.to, t1, t2)
		}
	}
	for _, tp := range n.set.TagPhases() {
		if tp.Tag != t1 {
			continue
		}
		reduced := n.set.Reduce(t1)
		augmented, err := reduced.Augment(tag.TagPhase{Tag: t2, Phase: tp.Phase})
		if err != nil {
			// t2 already holds this phase here; nothing further to do.
			continue
		}
		n.set = augmented
	}
}

// insertRootPhaseZero augments the root's own set by (tag, 0), matching
// Graph::insert(const TagPhase&) — the root is never remapped in
// setToNode, since lookups never target it by set.
func (g *Graph) insertRootPhaseZero(t *tag.Tag) {
	s, err := g.root.set.Augment(tag.TagPhase{Tag: t, Phase: 0})
	if err != nil {
		panic(fmt.Errorf("graph: tag %v already present at root: %w", t, err))
	}
	g.root.set = s
}

func (g *Graph) eraseRootTag(t *tag.Tag) {
	g.root.set = g.root.set.Reduce(t)
}

// AddTagOptions bundles the tolerance parameters shared by every add/del
// call for a given batch.
type AddTagOptions struct {
	Tol                float64
	TimeFuzz           float64
	MaxTime            float64
	TimestampWonkiness int
}

// AddTag inserts tag t's gap sequence into the graph (spec.md §4.2),
// without any ambiguity handling: it is a programmer error to call this
// with a tag whose sequence collides with one already present. Callers
// that need collision detection should use Find first and delegate to an
// ambiguity manager, as internal/foray does.
func (g *Graph) AddTag(t *tag.Tag, opt AddTagOptions) {
	n := len(t.Gaps)
	g.tags[t.MotusID] = t
	g.insertRootPhaseZero(t)

	for i := 0; i < 2*n-1; i++ {
		gp := t.Gaps[i%n]
		gr := NewGapRange(gp, opt.Tol, opt.TimeFuzz)
		g.insertRec([]GapRange{gr}, tag.TagPhase{Tag: t, Phase: tag.Phase(i)}, tag.TagPhase{Tag: t, Phase: tag.Phase(i + 1)})
	}

	// Back edges: repetition of the burst cycle.
	var back []GapRange
	for gp := t.Gaps[n-1]; gp < opt.MaxTime; gp += t.Period {
		back = append(back, NewGapRange(gp, opt.Tol, opt.TimeFuzz))
	}
	g.insertRec(back, tag.TagPhase{Tag: t, Phase: tag.Phase(2*n - 1)}, tag.TagPhase{Tag: t, Phase: tag.Phase(n)})

	// Skip edges: one or more whole bursts missed, up to MaxTime (only
	// meaningful for n > 1).
	if n > 1 {
		var skip []GapRange
		for gp := t.Gaps[n-1] + t.Period; gp < opt.MaxTime; gp += t.Period {
			skip = append(skip, NewGapRange(gp, opt.Tol, opt.TimeFuzz))
		}
		g.insertRec(skip, tag.TagPhase{Tag: t, Phase: tag.Phase(n - 1)}, tag.TagPhase{Tag: t, Phase: tag.Phase(n)})
	}

	if opt.TimestampWonkiness > 0 {
		g.addTimestampWonkiness(t, opt, back, n)
	}
}

// addTimestampWonkiness links in the two extra subgraphs (G-, G+) that
// tolerate a +/-1s clock jump, per original_source/Graph.cpp.
func (g *Graph) addTimestampWonkiness(t *tag.Tag, opt AddTagOptions, grs []GapRange, n int) {
	var plus, minus []GapRange
	for gp := t.Gaps[n-1] + t.Period; gp < opt.MaxTime; gp += t.Period {
		plus = append(plus, NewGapRange(gp+1, opt.Tol, opt.TimeFuzz))
		minus = append(minus, NewGapRange(gp-1, opt.Tol, opt.TimeFuzz))
	}

	tp := func(phase int) tag.TagPhase { return tag.TagPhase{Tag: t, Phase: tag.Phase(phase)} }

	// G-: clock jumped back by 1s.
	g.insertRec(minus, tp(2*n-1), tp(2*n))
	g.insertRec(plus, tp(3*n-1), tp(n-1))
	g.insertRec(grs, tp(3*n-1), tp(2*n))
	for i := 0; i < n-1; i++ {
		g.insertRec([]GapRange{grs[i]}, tp(2*n+i), tp(2*n+i+1))
	}

	// G+: clock jumped forward by 1s.
	g.insertRec(plus, tp(2*n-1), tp(3*n))
	g.insertRec(minus, tp(4*n-1), tp(n-1))
	g.insertRec(grs, tp(4*n-1), tp(3*n))
	for i := 0; i < n-1; i++ {
		g.insertRec([]GapRange{grs[i]}, tp(3*n+i), tp(3*n+i+1))
	}
}

// DelTag removes t's gap sequence from the graph, without any ambiguity
// handling.
func (g *Graph) DelTag(t *tag.Tag) {
	g.eraseRec(t)
	g.eraseRootTag(t)
	delete(g.tags, t.MotusID)
}

// RenameTag replaces every occurrence of oldTag with newTag; used by the
// ambiguity manager when a proxy is allocated, widened, or retired.
func (g *Graph) RenameTag(oldTag, newTag *tag.Tag) {
	g.renTag(oldTag, newTag)
	delete(g.tags, oldTag.MotusID)
	g.tags[newTag.MotusID] = newTag
}

// Find walks the graph along tag t's own gap sequence and reports the
// (presumably unique) tag found at the end, widening the search at the
// final (longest) gap to tol/timeFuzz's bounds the way
// Graph::find does, to tolerate a tag whose registered period doesn't
// exactly match its observed one.
func (g *Graph) Find(t *tag.Tag, tol, timeFuzz float64) (*tag.Tag, error) {
	n := g.root
	gaps := t.Gaps[:]
	for i := 0; i < len(gaps)-1; i++ {
		n = n.Advance(gaps[i])
		if n == nil {
			return nil, nil
		}
	}
	last := gaps[len(gaps)-1]
	gr := NewGapRange(last, tol, timeFuzz)
	for _, candidate := range []float64{last, gr.Lo, gr.Hi} {
		m := n.Advance(candidate)
		if m == nil {
			continue
		}
		tp, ok := m.set.Unique()
		if !ok {
			return nil, fmt.Errorf("%w: %d phases", ErrNotUnique, m.set.Len())
		}
		return tp.Tag, nil
	}
	return nil, nil
}

// HasEdge reports whether node n already has an edge at gap b leading to
// a set containing tp.
func HasEdge(n *Node, b float64, tp tag.TagPhase) bool {
	i := lowerBound(n.edges, b)
	if i >= len(n.edges) || n.edges[i].bound != b {
		return false
	}
	return n.edges[i].set().CountPhase(tp)
}

func (e edge) set() tagset.Set { return e.to.set }
