// Package tagset implements Set, the hash-consable state label carried by
// every gap-graph node: an unordered multimap from tag to the phases it
// holds at that node (spec.md §4.1).
package tagset

import (
	"errors"
	"sort"
	"unsafe"

	"github.com/vhftag/tagfinder/internal/gaptag/tag"
)

// ErrDuplicateTagPhase is returned by Augment when the (tag, phase) pair
// is already present; the caller is responsible for not re-inserting an
// existing transition, so this indicates a programmer error upstream.
var ErrDuplicateTagPhase = errors.New("tagset: duplicate tag/phase")

// Set is an immutable, persistent multimap value. Every mutating method
// returns a new Set rather than editing the receiver, so sharing a Set
// across many graph nodes is always safe; callers decide (at the graph
// layer) whether to discard an old Node or edit one in place based on its
// incoming-edge count.
type Set struct {
	// members maps each tag to the sorted phases it holds. A nil map
	// denotes the canonical empty set.
	members map[*tag.Tag][]tag.Phase
	hash    uint64
}

// Empty returns the sentinel empty set. Unlike the reference
// implementation's heap-allocated singleton, Go's Set is a plain value, so
// every zero-value Set already compares and hashes equal to Empty(); the
// function exists for readability at call sites.
func Empty() Set { return Set{} }

// IsEmpty reports whether the set holds no tag/phase pairs.
func (s Set) IsEmpty() bool { return len(s.members) == 0 }

// Hash returns the set's commutative XOR hash, used as the bucket key for
// hash-consing in the gap graph. Two equal sets always hash equal; two
// unequal sets may collide, so lookups must still confirm with Equal.
func (s Set) Hash() uint64 { return s.hash }

// hashTP mirrors the original per-tag-phase hash: a pointer-derived tag
// hash multiplied by the phase. Phase 0 always contributes zero, matching
// the reference behaviour; Equal still disambiguates any resulting
// collision by comparing full contents.
func hashTP(tp tag.TagPhase) uint64 {
	return tagPtrHash(tp.Tag) * uint64(tp.Phase)
}

func tagPtrHash(t *tag.Tag) uint64 {
	// Pointer identity is stable for the lifetime of any Set referencing
	// the tag (spec.md §4.1): the conductor owns Tag values for at least
	// as long as any graph node built from them.
	return uint64(uintptr(unsafe.Pointer(t)))
}

func (s Set) clone() Set {
	ns := Set{members: make(map[*tag.Tag][]tag.Phase, len(s.members)+1), hash: s.hash}
	for t, phases := range s.members {
		cp := make([]tag.Phase, len(phases))
		copy(cp, phases)
		ns.members[t] = cp
	}
	return ns
}

// Augment adds the (tag, phase) pair to the set. It fails with
// ErrDuplicateTagPhase if that exact pair is already present.
func (s Set) Augment(tp tag.TagPhase) (Set, error) {
	if s.CountPhase(tp) {
		return s, ErrDuplicateTagPhase
	}
	ns := s.clone()
	ns.members[tp.Tag] = append(ns.members[tp.Tag], tp.Phase)
	ns.hash = s.hash ^ hashTP(tp)
	return ns, nil
}

// CloneAugment behaves like Augment; the name is kept distinct from
// Augment to mirror spec.md §4.1's explicit clone-vs-mutate vocabulary,
// even though both return a fresh value here.
func (s Set) CloneAugment(tp tag.TagPhase) (Set, error) { return s.Augment(tp) }

// Reduce removes every phase of t from the set (multi-erase), returning
// the empty set if t was the set's only member.
func (s Set) Reduce(t *tag.Tag) Set {
	phases, ok := s.members[t]
	if !ok {
		return s
	}
	ns := s.clone()
	delete(ns.members, t)
	h := s.hash
	for _, p := range phases {
		h ^= hashTP(tag.TagPhase{Tag: t, Phase: p})
	}
	ns.hash = h
	if len(ns.members) == 0 {
		return Empty()
	}
	return ns
}

// CloneReduce behaves like Reduce; see CloneAugment.
func (s Set) CloneReduce(t *tag.Tag) Set { return s.Reduce(t) }

// Count returns the number of phases of t held at this set.
func (s Set) Count(t *tag.Tag) int { return len(s.members[t]) }

// CountPhase reports whether the exact (tag, phase) pair is present.
func (s Set) CountPhase(tp tag.TagPhase) bool {
	for _, p := range s.members[tp.Tag] {
		if p == tp.Phase {
			return true
		}
	}
	return false
}

// Unique reports whether the set contains exactly one (tag, phase) pair
// and, if so, returns it. This is the confirmation precondition from
// spec.md §3 invariant 4.
func (s Set) Unique() (tag.TagPhase, bool) {
	if len(s.members) != 1 {
		return tag.TagPhase{}, false
	}
	for t, phases := range s.members {
		if len(phases) != 1 {
			return tag.TagPhase{}, false
		}
		return tag.TagPhase{Tag: t, Phase: phases[0]}, true
	}
	return tag.TagPhase{}, false
}

// Equal reports full-content equality, used to resolve hash-cons
// collisions (two sets may share a Hash() without being equal).
func (s Set) Equal(o Set) bool {
	if len(s.members) != len(o.members) {
		return false
	}
	for t, phases := range s.members {
		op, ok := o.members[t]
		if !ok || len(op) != len(phases) {
			return false
		}
		sa, sb := append([]tag.Phase(nil), phases...), append([]tag.Phase(nil), op...)
		sort.Slice(sa, func(i, j int) bool { return sa[i] < sa[j] })
		sort.Slice(sb, func(i, j int) bool { return sb[i] < sb[j] })
		for i := range sa {
			if sa[i] != sb[i] {
				return false
			}
		}
	}
	return true
}

// TagPhases returns every (tag, phase) pair in the set, sorted by tag
// MotusID then phase for deterministic iteration (diagnostics, tests).
func (s Set) TagPhases() []tag.TagPhase {
	out := make([]tag.TagPhase, 0, len(s.members))
	for t, phases := range s.members {
		for _, p := range phases {
			out = append(out, tag.TagPhase{Tag: t, Phase: p})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tag.MotusID != out[j].Tag.MotusID {
			return out[i].Tag.MotusID < out[j].Tag.MotusID
		}
		return out[i].Phase < out[j].Phase
	})
	return out
}

// Len returns the number of (tag, phase) pairs in the set.
func (s Set) Len() int {
	n := 0
	for _, phases := range s.members {
		n += len(phases)
	}
	return n
}
