package ambiguity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vhftag/tagfinder/internal/gaptag/ambiguity"
	"github.com/vhftag/tagfinder/internal/gaptag/graph"
	"github.com/vhftag/tagfinder/internal/gaptag/tag"
)

func opts() graph.AddTagOptions {
	return graph.AddTagOptions{Tol: 0.01, TimeFuzz: 0.001, MaxTime: 60}
}

func newTag(id tag.ID, gaps [tag.PulsesPerBurst]float64) *tag.Tag {
	return tag.NewReal(id, 166.380, 0, gaps)
}

func TestAddTagNoCollisionAddsDirectly(t *testing.T) {
	g := graph.New()
	m := ambiguity.NewManager(-1)
	tg := newTag(1, [tag.PulsesPerBurst]float64{0.2, 0.3, 0.25, 5.0})

	oldTag, newTag, err := ambiguity.AddTag(g, m, tg, opts())
	require.NoError(t, err)
	assert.Nil(t, oldTag)
	assert.Nil(t, newTag)
	assert.Equal(t, tg, g.TagByID(tg.MotusID))
}

func TestAddTagCollisionAllocatesProxy(t *testing.T) {
	g := graph.New()
	m := ambiguity.NewManager(-1)
	gaps := [tag.PulsesPerBurst]float64{0.2, 0.3, 0.25, 5.0}
	t1 := newTag(1, gaps)
	t2 := newTag(2, gaps)

	_, _, err := ambiguity.AddTag(g, m, t1, opts())
	require.NoError(t, err)

	oldTag, proxy, err := ambiguity.AddTag(g, m, t2, opts())
	require.NoError(t, err)
	require.NotNil(t, proxy)
	assert.Equal(t, t1, oldTag)
	assert.True(t, proxy.IsProxy())
	assert.ElementsMatch(t, []*tag.Tag{t1, t2}, m.Members(proxy))

	assert.Nil(t, g.TagByID(t1.MotusID), "t1's own ID is retired once it's folded into a proxy")
	assert.Equal(t, proxy, g.TagByID(proxy.MotusID))
}

func TestDelTagOnUnproxiedTagRemovesItDirectly(t *testing.T) {
	g := graph.New()
	m := ambiguity.NewManager(-1)
	tg := newTag(1, [tag.PulsesPerBurst]float64{0.2, 0.3, 0.25, 5.0})
	_, _, err := ambiguity.AddTag(g, m, tg, opts())
	require.NoError(t, err)

	oldTag, newTag, err := ambiguity.DelTag(g, m, tg)
	require.NoError(t, err)
	assert.Nil(t, oldTag)
	assert.Nil(t, newTag)
	assert.Nil(t, g.TagByID(tg.MotusID))
}

func TestDelTagCollapsesProxyBackToRealTag(t *testing.T) {
	g := graph.New()
	m := ambiguity.NewManager(-1)
	gaps := [tag.PulsesPerBurst]float64{0.2, 0.3, 0.25, 5.0}
	t1 := newTag(1, gaps)
	t2 := newTag(2, gaps)
	_, _, err := ambiguity.AddTag(g, m, t1, opts())
	require.NoError(t, err)
	_, proxy, err := ambiguity.AddTag(g, m, t2, opts())
	require.NoError(t, err)
	require.NotNil(t, proxy)

	oldTag, newTag, err := ambiguity.DelTag(g, m, t2)
	require.NoError(t, err)
	assert.Equal(t, proxy, oldTag)
	assert.Equal(t, t1, newTag, "removing one of two ambiguous members collapses the proxy back to the sole real tag")
	assert.Equal(t, t1, g.TagByID(t1.MotusID))
	assert.Nil(t, g.TagByID(proxy.MotusID))
}

func TestManagerAddGroupFullReturnsError(t *testing.T) {
	m := ambiguity.NewManager(-1)
	members := make([]*tag.Tag, ambiguity.MaxTagsPerGroup+1)
	for i := range members {
		members[i] = newTag(tag.ID(i+1), [tag.PulsesPerBurst]float64{0.2, 0.3, 0.25, 5.0})
	}

	proxy, err := m.Add(members[0], members[1])
	require.NoError(t, err)
	for i := 2; i < ambiguity.MaxTagsPerGroup; i++ {
		proxy, err = m.Add(proxy, members[i])
		require.NoError(t, err)
	}

	_, err = m.Add(proxy, members[ambiguity.MaxTagsPerGroup])
	assert.ErrorIs(t, err, ambiguity.ErrGroupFull)
}
