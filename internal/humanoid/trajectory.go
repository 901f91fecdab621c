// File: internal/humanoid/trajectory.go
package humanoid

import (
	"math"

	"github.com/aquilax/go-perlin"
)

// Vector2D is a point in CSS pixel space.
type Vector2D struct {
	X float64
	Y float64
}

// Sub returns v - o.
func (v Vector2D) Sub(o Vector2D) Vector2D { return Vector2D{v.X - o.X, v.Y - o.Y} }

// Len returns the euclidean length.
func (v Vector2D) Len() float64 { return math.Hypot(v.X, v.Y) }

// easeInOut maps t in [0,1] onto a smoothstep curve: slow start, fast
// middle, slow settle. Matches gross human pointer kinematics.
func easeInOut(t float64) float64 {
	return t * t * (3 - 2*t)
}

// GeneratePath produces the intermediate pointer positions for a move
// from start to end. Perlin noise displaces each step perpendicular to
// the travel direction, so repeated moves between the same two points
// never retrace an identical line.
func GeneratePath(start, end Vector2D, steps int, jitterPx float64, noiseX, noiseY *perlin.Perlin, noiseOffset float64) []Vector2D {
	if steps < 2 {
		return []Vector2D{start, end}
	}

	path := make([]Vector2D, 0, steps+1)
	for i := 0; i <= steps; i++ {
		t := easeInOut(float64(i) / float64(steps))

		x := start.X + (end.X-start.X)*t
		y := start.Y + (end.Y-start.Y)*t

		// Endpoints stay exact; jitter fades in and back out so the
		// cursor lands where intended.
		fade := math.Sin(math.Pi * float64(i) / float64(steps))
		if jitterPx > 0 && fade > 0 {
			nt := noiseOffset + float64(i)*0.13
			x += noiseX.Noise1D(nt) * jitterPx * fade
			y += noiseY.Noise1D(nt) * jitterPx * fade
		}

		path = append(path, Vector2D{X: x, Y: y})
	}
	return path
}
