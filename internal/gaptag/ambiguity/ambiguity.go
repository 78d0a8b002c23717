// Package ambiguity manages groups of registered tags whose gap
// sequences cannot be told apart, allocating and retiring synthetic
// proxy tags for them (spec.md §4.3).
package ambiguity

import (
	"fmt"
	"sort"

	"github.com/vhftag/tagfinder/internal/gaptag/graph"
	"github.com/vhftag/tagfinder/internal/gaptag/tag"
)

// MaxTagsPerGroup bounds how many real tags a single proxy may
// represent, matching the output schema's tagAmbig table width
// (spec.md §6: motusTagID1..motusTagIDK, K = MaxTagsPerGroup).
const MaxTagsPerGroup = 6

// ErrGroupFull is returned by Add when adding a tag to an ambiguity
// group would exceed MaxTagsPerGroup.
var ErrGroupFull = fmt.Errorf("ambiguity: group already has %d members", MaxTagsPerGroup)

// Manager is a bimap between sets of indistinguishable real tags and the
// proxy tag allocated to represent each set, mirroring
// original_source/Ambiguity.cpp's boost::bimap<set<Tag*>, Tag*>.
type Manager struct {
	groups  map[string]*tag.Tag          // member-set key -> proxy
	members map[*tag.Tag][]*tag.Tag      // proxy -> member tags, sorted by MotusID
	proxies map[*tag.Tag]struct{}        // fast "is this a live proxy" check
	nextID  tag.ID
}

// NewManager returns a Manager that allocates proxy IDs starting at
// startID and counting downward. startID must be negative (or zero, in
// which case -1 is used) to keep proxies disjoint from real tag IDs.
func NewManager(startID tag.ID) *Manager {
	if startID >= 0 {
		startID = -1
	}
	return &Manager{
		groups:  make(map[string]*tag.Tag),
		members: make(map[*tag.Tag][]*tag.Tag),
		proxies: make(map[*tag.Tag]struct{}),
		nextID:  startID,
	}
}

func groupKey(members []*tag.Tag) string {
	ids := make([]int64, len(members))
	for i, t := range members {
		ids[i] = int64(t.MotusID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	key := make([]byte, 0, len(ids)*8)
	for _, id := range ids {
		key = fmt.Appendf(key, "%d,", id)
	}
	return string(key)
}

func sortedByID(members []*tag.Tag) []*tag.Tag {
	out := append([]*tag.Tag(nil), members...)
	sort.Slice(out, func(i, j int) bool { return out[i].MotusID < out[j].MotusID })
	return out
}

// Add returns the proxy tag representing the ambiguity between t1 and
// t2 (t1 may already be a proxy). If t1 is an undetected proxy (its
// Count is still zero), it is widened in place; otherwise a new,
// possibly already-existing, proxy is returned.
func (m *Manager) Add(t1, t2 *tag.Tag) (*tag.Tag, error) {
	if t1 == nil || t2 == nil {
		return nil, fmt.Errorf("ambiguity: Add called with nil tag")
	}

	var current []*tag.Tag
	if _, isProxy := m.proxies[t1]; isProxy {
		current = m.members[t1]
		for _, t := range current {
			if t == t2 {
				return t1, nil // already represents t2
			}
		}
		if t1.Count == 0 {
			if len(current)+1 > MaxTagsPerGroup {
				return nil, ErrGroupFull
			}
			oldKey := groupKey(current)
			updated := sortedByID(append(append([]*tag.Tag(nil), current...), t2))
			delete(m.groups, oldKey)
			m.groups[groupKey(updated)] = t1
			m.members[t1] = updated
			return t1, nil
		}
	} else {
		current = []*tag.Tag{t1}
	}

	candidate := sortedByID(append(append([]*tag.Tag(nil), current...), t2))
	if len(candidate) > MaxTagsPerGroup {
		return nil, ErrGroupFull
	}
	key := groupKey(candidate)
	if existing, ok := m.groups[key]; ok {
		return existing, nil
	}

	proxy := m.newProxy(t1, 0)
	m.groups[key] = proxy
	m.members[proxy] = candidate
	m.proxies[proxy] = struct{}{}
	return proxy, nil
}

// Remove returns a tag representing proxy's members with t2 excluded: a
// real tag if only one member remains, otherwise the (possibly reduced
// in place, possibly newly allocated) proxy.
func (m *Manager) Remove(proxy, t2 *tag.Tag) (*tag.Tag, error) {
	if _, isProxy := m.proxies[proxy]; !isProxy {
		return nil, fmt.Errorf("ambiguity: Remove called on non-proxy tag %v", proxy)
	}
	current, ok := m.members[proxy]
	if !ok {
		return nil, fmt.Errorf("ambiguity: proxy %v not registered", proxy)
	}
	idx := -1
	for i, t := range current {
		if t == t2 {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, fmt.Errorf("ambiguity: proxy %v does not represent %v", proxy, t2)
	}

	reduced := append(append([]*tag.Tag(nil), current[:idx]...), current[idx+1:]...)
	if len(reduced) == 1 {
		delete(m.groups, groupKey(current))
		delete(m.members, proxy)
		delete(m.proxies, proxy)
		return reduced[0], nil
	}

	key := groupKey(reduced)
	if existing, ok := m.groups[key]; ok {
		return existing, nil
	}

	if proxy.Count == 0 {
		delete(m.groups, groupKey(current))
		m.groups[key] = proxy
		m.members[proxy] = reduced
		return proxy, nil
	}

	newProxy := m.newProxy(proxy, 0)
	m.groups[key] = newProxy
	m.members[newProxy] = reduced
	m.proxies[newProxy] = struct{}{}
	return newProxy, nil
}

// ProxyFor returns the proxy representing t's ambiguity group, or nil if
// t is not currently ambiguous.
func (m *Manager) ProxyFor(t *tag.Tag) *tag.Tag {
	for proxy, members := range m.members {
		for _, member := range members {
			if member == t {
				return proxy
			}
		}
	}
	return nil
}

// Members returns the real tags a proxy represents, sorted by MotusID.
func (m *Manager) Members(proxy *tag.Tag) []*tag.Tag {
	return append([]*tag.Tag(nil), m.members[proxy]...)
}

// Detected freezes proxy's membership (its Count becomes nonzero via the
// caller's Tag.Detected call) and reports whether this is the first
// detection, i.e., whether the caller must persist a tagAmbig row now.
func (m *Manager) Detected(proxy *tag.Tag) (members []*tag.Tag, firstDetection bool) {
	members = m.Members(proxy)
	firstDetection = proxy.Count == 0
	return members, firstDetection
}

func (m *Manager) newProxy(like *tag.Tag, proxyID tag.ID) *tag.Tag {
	nt := *like
	nt.Kind = tag.KindProxy
	nt.Members = nil
	if proxyID != 0 {
		nt.MotusID = proxyID
	} else {
		nt.MotusID = m.nextID
		m.nextID--
		nt.Count = 0
	}
	return &nt
}

// SetNextProxyID overrides the next proxy ID to allocate, used when
// resuming a batch whose prior run already allocated some proxies.
func (m *Manager) SetNextProxyID(id tag.ID) {
	if id >= 0 {
		id = -1
	}
	m.nextID = id
}

// AddTag inserts t into g, resolving any collision with an
// already-present tag via m: if t's gap sequence is indistinguishable
// from an existing tag's, a proxy is allocated (or widened) and the
// graph is updated to rename the old tag to the proxy. It returns the
// (old, new) tag pair the caller should apply to any live candidates
// referencing the old tag, or (nil, nil) if t was simply added with no
// collision.
func AddTag(g *graph.Graph, m *Manager, t *tag.Tag, opt graph.AddTagOptions) (oldTag, newTag *tag.Tag, err error) {
	existing, err := g.Find(t, opt.Tol, opt.TimeFuzz)
	if err != nil {
		return nil, nil, fmt.Errorf("ambiguity: AddTag: %w", err)
	}
	if existing == nil {
		g.AddTag(t, opt)
		return nil, nil, nil
	}
	proxy, err := m.Add(existing, t)
	if err != nil {
		return nil, nil, fmt.Errorf("ambiguity: AddTag: %w", err)
	}
	g.RenameTag(existing, proxy)
	return existing, proxy, nil
}

// DelTag removes t from g, resolving any ambiguity group it belongs to:
// if t is part of a proxied group, the group is reduced (or collapsed
// back to a single real tag) and the graph is updated accordingly. It
// returns the (old, new) tag pair the caller should apply to any live
// candidates referencing the old tag, or (nil, nil) if t was not
// proxied.
func DelTag(g *graph.Graph, m *Manager, t *tag.Tag) (oldTag, newTag *tag.Tag, err error) {
	proxy := m.ProxyFor(t)
	if proxy == nil {
		g.DelTag(t)
		return nil, nil, nil
	}
	reduced, err := m.Remove(proxy, t)
	if err != nil {
		return nil, nil, fmt.Errorf("ambiguity: DelTag: %w", err)
	}
	g.RenameTag(proxy, reduced)
	return proxy, reduced, nil
}
