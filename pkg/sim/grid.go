package sim

import "math"

// grid is a uniform spatial hash used by the collision pass on large boards.
// Cells are at least as wide as the largest collision diameter, so any
// overlapping pair lies in the same or adjacent cells.
type grid struct {
	size  float64
	cells map[[2]int][]*Particle
}

func (g *grid) reset(size float64) {
	g.size = size
	if g.cells == nil {
		g.cells = make(map[[2]int][]*Particle)
		return
	}
	for k, v := range g.cells {
		g.cells[k] = v[:0]
	}
}

func (g *grid) key(x, y float64) [2]int {
	return [2]int{int(math.Floor(x / g.size)), int(math.Floor(y / g.size))}
}

// insert files p under its predicted position.
func (g *grid) insert(p *Particle) {
	k := g.key(p.X+p.VX, p.Y+p.VY)
	g.cells[k] = append(g.cells[k], p)
}

// eachPair calls fn once for every unordered pair of particles in the same or
// neighbouring cells.
func (g *grid) eachPair(particles []*Particle, fn func(a, b *Particle)) {
	for _, a := range particles {
		k := g.key(a.X+a.VX, a.Y+a.VY)
		for dx := -1; dx <= 1; dx++ {
			for dy := -1; dy <= 1; dy++ {
				for _, b := range g.cells[[2]int{k[0] + dx, k[1] + dy}] {
					if b.index > a.index {
						fn(a, b)
					}
				}
			}
		}
	}
}
