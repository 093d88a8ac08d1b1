// Package geo provides the minimum bounding rectangle used for spatial
// indexing and spatial relevance scoring.
package geo

import (
	"fmt"
	"math"
)

// MBR is an axis-aligned minimum bounding rectangle in D dimensions.
// Min[i] <= Max[i] must hold on every axis; the dimension is fixed per
// tree and callers are responsible for passing boxes of matching
// dimensionality.
type MBR struct {
	Min []float64
	Max []float64
}

// New creates an MBR from min/max coordinate slices. The slices are
// copied so callers may reuse their buffers.
func New(min, max []float64) MBR {
	m := MBR{
		Min: make([]float64, len(min)),
		Max: make([]float64, len(max)),
	}
	copy(m.Min, min)
	copy(m.Max, max)
	return m
}

// Zero returns the all-zero MBR of the given dimension. It is the
// sentinel used for uninitialized roots and child placeholders.
func Zero(dims int) MBR {
	return MBR{
		Min: make([]float64, dims),
		Max: make([]float64, dims),
	}
}

// Point returns a degenerate MBR covering a single point.
func Point(coords []float64) MBR {
	return New(coords, coords)
}

// Dims returns the dimensionality of the box.
func (m MBR) Dims() int { return len(m.Min) }

// Area returns the volume of the box (product of side lengths).
func (m MBR) Area() float64 {
	area := 1.0
	for i := range m.Min {
		area *= m.Max[i] - m.Min[i]
	}
	return area
}

// Expand grows the box in place so that it contains other.
func (m *MBR) Expand(other MBR) {
	for i := range m.Min {
		m.Min[i] = math.Min(m.Min[i], other.Min[i])
		m.Max[i] = math.Max(m.Max[i], other.Max[i])
	}
}

// Contains reports whether other lies entirely inside the box.
func (m MBR) Contains(other MBR) bool {
	if len(other.Min) != len(m.Min) {
		return false
	}
	for i := range m.Min {
		if other.Min[i] < m.Min[i] || other.Max[i] > m.Max[i] {
			return false
		}
	}
	return true
}

// Overlaps reports whether the two boxes intersect. It returns false as
// soon as any axis is disjoint.
func (m MBR) Overlaps(other MBR) bool {
	if len(other.Min) != len(m.Min) {
		return false
	}
	for i := range m.Min {
		if other.Max[i] < m.Min[i] || other.Min[i] > m.Max[i] {
			return false
		}
	}
	return true
}

// OverlapVolume returns the volume of the intersection with other, or 0
// when the boxes are disjoint on any axis.
func (m MBR) OverlapVolume(other MBR) float64 {
	vol := 1.0
	for i := range m.Min {
		lo := math.Max(m.Min[i], other.Min[i])
		hi := math.Min(m.Max[i], other.Max[i])
		if lo >= hi {
			return 0
		}
		vol *= hi - lo
	}
	return vol
}

// MinDistance returns the minimum distance from a point to the box.
// pNorm 2 selects Euclidean distance; any other value selects Manhattan.
// The distance is zero for points inside the box.
func (m MBR) MinDistance(point []float64, pNorm int) float64 {
	if len(point) != len(m.Min) {
		return math.MaxFloat64
	}

	dist := 0.0
	if pNorm == 2 {
		for i, p := range point {
			if p < m.Min[i] {
				d := m.Min[i] - p
				dist += d * d
			} else if p > m.Max[i] {
				d := p - m.Max[i]
				dist += d * d
			}
		}
		return math.Sqrt(dist)
	}

	for i, p := range point {
		if p < m.Min[i] {
			dist += m.Min[i] - p
		} else if p > m.Max[i] {
			dist += p - m.Max[i]
		}
	}
	return dist
}

// Center returns the midpoint of the box on every axis.
func (m MBR) Center() []float64 {
	c := make([]float64, len(m.Min))
	for i := range m.Min {
		c[i] = (m.Min[i] + m.Max[i]) / 2
	}
	return c
}

// Clone returns a deep copy of the box.
func (m MBR) Clone() MBR {
	return New(m.Min, m.Max)
}

// Equal reports componentwise equality with other.
func (m MBR) Equal(other MBR) bool {
	if len(other.Min) != len(m.Min) {
		return false
	}
	for i := range m.Min {
		if m.Min[i] != other.Min[i] || m.Max[i] != other.Max[i] {
			return false
		}
	}
	return true
}

// String renders the box for logs and debugging.
func (m MBR) String() string {
	return fmt.Sprintf("MBR[%v - %v]", m.Min, m.Max)
}
