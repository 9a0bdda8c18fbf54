package worker

import (
	"math"

	"github.com/flockd-io/flockd/internal/wire"
)

// Physics advances a worker's entities by one tick. candidates holds every
// entity learned during neighbour exchange, the worker's own included.
// Step updates entities in place and must not retain either slice.
type Physics interface {
	Step(entities, candidates []wire.Entity)
}

// PhysicsFunc adapts a function to Physics.
type PhysicsFunc func(entities, candidates []wire.Entity)

// Step calls f.
func (f PhysicsFunc) Step(entities, candidates []wire.Entity) { f(entities, candidates) }

// Boids is the default flocking model: separation, alignment and cohesion
// over every candidate within the vision radius, with speed capped at
// MaxSpeed.
type Boids struct {
	VisionRadius float64
	MaxSpeed     float64
}

type vec struct{ x, y float64 }

func (v vec) add(o vec) vec { return vec{v.x + o.x, v.y + o.y} }
func (v vec) sub(o vec) vec { return vec{v.x - o.x, v.y - o.y} }
func (v vec) scale(f float64) vec { return vec{v.x * f, v.y * f} }
func (v vec) mag() float64 { return math.Hypot(v.x, v.y) }
func (v vec) withMag(m float64) vec {
	n := v.mag()
	if n == 0 {
		return v
	}
	return v.scale(m / n)
}

// Step implements Physics.
func (b Boids) Step(entities, candidates []wire.Entity) {
	r2 := b.VisionRadius * b.VisionRadius
	for i := range entities {
		e := &entities[i]
		pos, vel := vec{e.X, e.Y}, vec{e.VX, e.VY}

		var sep, align, coh vec
		n := 0
		for _, c := range candidates {
			if c.ID == e.ID {
				continue
			}
			other := vec{c.X, c.Y}
			d := pos.sub(other)
			if d.x*d.x+d.y*d.y >= r2 {
				continue
			}
			n++
			sep = sep.add(d.withMag(1))
			align = align.add(vec{c.VX, c.VY})
			coh = coh.add(other)
		}

		if n > 0 {
			inv := 1 / float64(n)
			acc := sep.scale(inv).withMag(b.MaxSpeed).sub(vel)
			acc = acc.add(align.scale(inv).withMag(b.MaxSpeed).sub(vel))
			acc = acc.add(coh.scale(inv).sub(pos).withMag(b.MaxSpeed).sub(vel))
			vel = vel.add(acc)
		}
		if vel.mag() > b.MaxSpeed {
			vel = vel.withMag(b.MaxSpeed)
		}
		pos = pos.add(vel)
		e.X, e.Y, e.VX, e.VY = pos.x, pos.y, vel.x, vel.y
	}
}

// wrap folds v into [0, size).
func wrap(v, size float64) float64 {
	if size <= 0 {
		return v
	}
	v = math.Mod(v, size)
	if v < 0 {
		v += size
	}
	return v
}
