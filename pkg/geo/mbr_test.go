package geo

import (
	"math"
	"testing"
)

func TestMBR_Area(t *testing.T) {
	m := New([]float64{0, 0}, []float64{2, 3})
	if got := m.Area(); got != 6 {
		t.Errorf("area = %v, want 6", got)
	}

	point := Point([]float64{1, 1})
	if got := point.Area(); got != 0 {
		t.Errorf("point area = %v, want 0", got)
	}
}

func TestMBR_Expand(t *testing.T) {
	m := New([]float64{1, 1}, []float64{2, 2})
	m.Expand(New([]float64{0, 3}, []float64{3, 4}))

	want := New([]float64{0, 1}, []float64{3, 4})
	if !m.Equal(want) {
		t.Errorf("expanded to %s, want %s", m, want)
	}
}

func TestMBR_OverlapsSymmetric(t *testing.T) {
	cases := []struct {
		a, b    MBR
		overlap bool
	}{
		{New([]float64{0, 0}, []float64{2, 2}), New([]float64{1, 1}, []float64{3, 3}), true},
		{New([]float64{0, 0}, []float64{1, 1}), New([]float64{1, 1}, []float64{2, 2}), true}, // touching edge
		{New([]float64{0, 0}, []float64{1, 1}), New([]float64{2, 2}, []float64{3, 3}), false},
		{New([]float64{0, 0}, []float64{5, 1}), New([]float64{2, 2}, []float64{3, 3}), false}, // disjoint on y only
	}
	for i, c := range cases {
		if c.a.Overlaps(c.b) != c.overlap {
			t.Errorf("case %d: a.Overlaps(b) = %v, want %v", i, c.a.Overlaps(c.b), c.overlap)
		}
		if c.a.Overlaps(c.b) != c.b.Overlaps(c.a) {
			t.Errorf("case %d: overlap is not symmetric", i)
		}
	}
}

func TestMBR_OverlapsDimensionMismatch(t *testing.T) {
	a := New([]float64{0, 0}, []float64{1, 1})
	b := New([]float64{0, 0, 0}, []float64{1, 1, 1})
	if a.Overlaps(b) {
		t.Error("boxes of different dimension must not overlap")
	}
}

func TestMBR_Contains(t *testing.T) {
	outer := New([]float64{0, 0}, []float64{10, 10})
	inner := New([]float64{2, 2}, []float64{3, 3})

	if !outer.Contains(inner) {
		t.Error("outer should contain inner")
	}
	if inner.Contains(outer) {
		t.Error("inner should not contain outer")
	}
	if !outer.Contains(outer) {
		t.Error("a box should contain itself")
	}
}

func TestMBR_OverlapVolume(t *testing.T) {
	a := New([]float64{0, 0}, []float64{2, 2})
	b := New([]float64{1, 1}, []float64{3, 3})
	if got := a.OverlapVolume(b); got != 1 {
		t.Errorf("overlap volume = %v, want 1", got)
	}

	c := New([]float64{5, 5}, []float64{6, 6})
	if got := a.OverlapVolume(c); got != 0 {
		t.Errorf("disjoint overlap volume = %v, want 0", got)
	}
}

func TestMBR_MinDistance(t *testing.T) {
	m := New([]float64{0, 0}, []float64{2, 2})

	if got := m.MinDistance([]float64{1, 1}, 2); got != 0 {
		t.Errorf("distance from inner point = %v, want 0", got)
	}

	// Point at (5, 6): dx=3, dy=4.
	if got := m.MinDistance([]float64{5, 6}, 2); math.Abs(got-5) > 1e-12 {
		t.Errorf("euclidean distance = %v, want 5", got)
	}
	if got := m.MinDistance([]float64{5, 6}, 1); math.Abs(got-7) > 1e-12 {
		t.Errorf("manhattan distance = %v, want 7", got)
	}

	if got := m.MinDistance([]float64{1}, 2); got != math.MaxFloat64 {
		t.Errorf("dimension mismatch distance = %v, want MaxFloat64", got)
	}
}

func TestMBR_Center(t *testing.T) {
	m := New([]float64{0, 2}, []float64{4, 4})
	c := m.Center()
	if c[0] != 2 || c[1] != 3 {
		t.Errorf("center = %v, want [2 3]", c)
	}
}

func TestMBR_CloneIsIndependent(t *testing.T) {
	m := New([]float64{0, 0}, []float64{1, 1})
	c := m.Clone()
	c.Expand(New([]float64{5, 5}, []float64{6, 6}))

	if m.Max[0] != 1 {
		t.Error("expanding a clone mutated the original")
	}
}
