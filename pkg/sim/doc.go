// Package sim implements the constrained multi-region force simulation.
//
// A [Simulation] holds one [Particle] per board entity and one [Link] per
// resolvable board link. Each call to [Simulation.Tick] runs a fixed pipeline:
//
//  1. cool alpha toward its target
//  2. collision: pairwise separation of circles (squares for memos), a few
//     relaxation passes per tick
//  3. links: springs whose rest length and stiffness come from [LinkParams]
//  4. region strategies: per-region extra forces such as build-region
//     gravity and parent following
//  5. integration with velocity decay; pinned particles snap to their pin
//  6. containment: clamp every particle into its region bounds
//
// Every force finishes accumulating velocity for all particles before any
// position is integrated, so no particle sees a half-updated neighbour.
//
// The package is not safe for concurrent use; the layout engine serializes
// access to a simulation.
package sim
