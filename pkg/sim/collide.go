package sim

import "math"

// applyCollisions separates overlapping particles. Each pass nudges
// velocities by a fraction of the overlap rather than resolving it fully;
// a few passes per tick keep dense clusters stable.
func (s *Simulation) applyCollisions() {
	n := len(s.particles)
	if n < 2 || s.cfg.CollisionIterations <= 0 {
		return
	}
	useGrid := s.cfg.GridThreshold > 0 && n > s.cfg.GridThreshold
	for iter := 0; iter < s.cfg.CollisionIterations; iter++ {
		if !useGrid {
			for i := 0; i < n; i++ {
				for j := i + 1; j < n; j++ {
					s.collide(s.particles[i], s.particles[j])
				}
			}
			continue
		}
		s.grid.reset(2 * (s.maxRadius + s.cfg.CollisionPadding))
		for _, p := range s.particles {
			s.grid.insert(p)
		}
		s.grid.eachPair(s.particles, s.collide)
	}
}

// collide resolves one pair using positions predicted from velocities.
// Heavier (larger) particles move less.
func (s *Simulation) collide(a, b *Particle) {
	ra := a.Radius + s.cfg.CollisionPadding
	rb := b.Radius + s.cfg.CollisionPadding
	x := (a.X + a.VX) - (b.X + b.VX)
	y := (a.Y + a.VY) - (b.Y + b.VY)
	r := ra + rb
	if math.Abs(x) >= r || math.Abs(y) >= r {
		return
	}
	w := rb * rb / (ra*ra + rb*rb)

	if a.Square || b.Square {
		ox := r - math.Abs(x)
		oy := r - math.Abs(y)
		if ox < oy {
			if x == 0 {
				x = s.jiggle()
			}
			push := math.Copysign(ox*s.cfg.CollisionStrength, x)
			a.VX += push * w
			b.VX -= push * (1 - w)
		} else {
			if y == 0 {
				y = s.jiggle()
			}
			push := math.Copysign(oy*s.cfg.CollisionStrength, y)
			a.VY += push * w
			b.VY -= push * (1 - w)
		}
		return
	}

	l := x*x + y*y
	if l >= r*r {
		return
	}
	if x == 0 {
		x = s.jiggle()
		l += x * x
	}
	if y == 0 {
		y = s.jiggle()
		l += y * y
	}
	l = math.Sqrt(l)
	l = (r - l) / l * s.cfg.CollisionStrength
	x *= l
	y *= l
	a.VX += x * w
	a.VY += y * w
	b.VX -= x * (1 - w)
	b.VY -= y * (1 - w)
}
