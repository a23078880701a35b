package ecma

import (
	"testing"

	"siskin/pkg/config"
)

func TestLookupCacheServesHitsAndMisses(t *testing.T) {
	c := newTestContext()
	o := c.CreateObject(NullObject, true, ObjectGeneral)
	name := c.Strings().Intern("hit")
	absent := c.Strings().Intern("miss")
	p := c.CreateNamedDataProperty(o, name, true, true, true)

	if got := c.FindNamedProperty(o, name); got != p {
		t.Fatalf("first lookup = %d, want %d", got, p)
	}
	if got := c.FindNamedProperty(o, name); got != p {
		t.Fatalf("cached lookup = %d, want %d", got, p)
	}
	if got := c.FindNamedProperty(o, absent); got != NullProperty {
		t.Fatalf("first absent lookup = %d, want null", got)
	}
	if got := c.FindNamedProperty(o, absent); got != NullProperty {
		t.Fatalf("cached absent lookup = %d, want null", got)
	}

	st := c.Stats().Lookup
	if st.Misses != 2 {
		t.Errorf("Misses = %d, want 2", st.Misses)
	}
	if st.Hits != 2 {
		t.Errorf("Hits = %d, want 2", st.Hits)
	}
	if st.Evictions != 0 || st.Invalidations != 0 {
		t.Errorf("Evictions = %d, Invalidations = %d, want 0, 0", st.Evictions, st.Invalidations)
	}
	if !c.isLCached(p) {
		t.Error("cached property does not carry the lcached flag")
	}
}

func TestCreateInvalidatesCachedAbsence(t *testing.T) {
	c := newTestContext()
	o := c.CreateObject(NullObject, true, ObjectGeneral)
	name := c.Strings().Intern("late")

	if got := c.FindNamedProperty(o, name); got != NullProperty {
		t.Fatalf("lookup before create = %d, want null", got)
	}
	p := c.CreateNamedDataProperty(o, name, true, true, true)
	if got := c.FindNamedProperty(o, name); got != p {
		t.Errorf("stale absence served after create: got %d, want %d", got, p)
	}
	if got := c.Stats().Lookup.Invalidations; got != 1 {
		t.Errorf("Invalidations = %d, want 1", got)
	}
}

func TestDeleteInvalidatesCachedRow(t *testing.T) {
	c := newTestContext()
	o := c.CreateObject(NullObject, true, ObjectGeneral)
	name := c.Strings().Intern("gone")
	p := c.CreateNamedDataProperty(o, name, true, true, true)

	if got := c.FindNamedProperty(o, name); got != p {
		t.Fatalf("lookup = %d, want %d", got, p)
	}
	c.DeleteProperty(o, p)
	if got := c.FindNamedProperty(o, name); got != NullProperty {
		t.Errorf("deleted property still served from the cache: %d", got)
	}
	if got := c.Stats().Lookup.Invalidations; got != 1 {
		t.Errorf("Invalidations = %d, want 1", got)
	}
}

func TestEvictionKeepsStoreCoherent(t *testing.T) {
	lim := config.Default()
	lim.LookupCache = 2
	c := NewContext(lim)
	o := c.CreateObject(NullObject, true, ObjectGeneral)

	names := [3]string{"a", "b", "c"}
	var props [3]PropertyRef
	for i, n := range names {
		props[i] = c.CreateNamedDataProperty(o, c.Strings().Intern(n), true, true, true)
	}
	for _, n := range names {
		c.FindNamedProperty(o, c.Strings().Intern(n))
	}

	if got := c.Stats().Lookup.Evictions; got != 1 {
		t.Fatalf("Evictions = %d, want 1 with cache size 2", got)
	}
	if c.isLCached(props[0]) {
		t.Error("evicted row left the lcached flag set")
	}
	if !c.isLCached(props[2]) {
		t.Error("resident row lost the lcached flag")
	}

	// The evicted property is still in the store and found by a rescan.
	na := c.Strings().Intern("a")
	if got := c.FindNamedProperty(o, na); got != props[0] {
		t.Errorf("post-eviction lookup = %d, want %d", got, props[0])
	}
	c.DeleteProperty(o, props[0])
	if got := c.FindNamedProperty(o, na); got != NullProperty {
		t.Errorf("deleted property still served: %d", got)
	}
}

func TestCacheRowsAcrossDescriptorReuse(t *testing.T) {
	c := newTestContext()
	name := c.Strings().Intern("k")

	o1 := c.CreateObject(NullObject, true, ObjectGeneral)
	if got := c.FindNamedProperty(o1, name); got != NullProperty {
		t.Fatalf("lookup on an empty object = %d, want null", got)
	}
	c.DerefObject(o1)
	if freed := c.CollectGarbage(); freed != 1 {
		t.Fatalf("collected %d objects, want 1", freed)
	}

	// The pool hands the freed slot right back, so the stale row now points
	// at the new object. It stays truthful until a create removes it.
	o2 := c.CreateObject(NullObject, true, ObjectGeneral)
	if o2 != o1 {
		t.Fatalf("expected slot reuse, got %d after freeing %d", o2, o1)
	}
	if got := c.FindNamedProperty(o2, name); got != NullProperty {
		t.Fatalf("reused slot lookup = %d, want null", got)
	}

	p := c.CreateNamedDataProperty(o2, name, true, true, true)
	if got := c.FindNamedProperty(o2, name); got != p {
		t.Errorf("stale absence served after create on a reused slot: got %d, want %d", got, p)
	}
}
