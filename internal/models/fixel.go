// Package models defines the shared data types used throughout the fixel
// statistics pipeline: geometric primitives, voxel coordinates and
// streamlines.
package models

import "math"

// Point is a position or direction in scanner (mm) space.
type Point [3]float64

// Sub returns the component-wise difference p - q.
func (p Point) Sub(q Point) Point {
	return Point{p[0] - q[0], p[1] - q[1], p[2] - q[2]}
}

// Dot returns the inner product of p and q.
func (p Point) Dot(q Point) float64 {
	return p[0]*q[0] + p[1]*q[1] + p[2]*q[2]
}

// Norm returns the Euclidean length of p.
func (p Point) Norm() float64 {
	return math.Sqrt(p.Dot(p))
}

// Normalized returns p scaled to unit length. The zero vector is returned
// unchanged.
func (p Point) Normalized() Point {
	n := p.Norm()
	if n == 0 {
		return p
	}
	return Point{p[0] / n, p[1] / n, p[2] / n}
}

// Distance returns the Euclidean distance between p and q.
func (p Point) Distance(q Point) float64 {
	return p.Sub(q).Norm()
}

// Voxel is an integer coordinate on the image grid.
type Voxel struct {
	I, J, K int
}

// Streamline is a single traced fiber path as an ordered sequence of points
// in scanner (mm) space.
type Streamline []Point

// TangentSample pairs a voxel a streamline passes through with the local
// tangent of the path inside that voxel.
type TangentSample struct {
	Voxel   Voxel
	Tangent Point
}
