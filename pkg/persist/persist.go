// Package persist connects the in-memory board to durable storage.
//
// A [Backend] stores entities, links and positions. [Load] fills a
// [store.Store] from a backend, [Sync] keeps the two in step afterwards, and
// a [Batcher] turns the stream of reconciled positions coming out of the
// layout engine into a few coalesced writes.
//
// Storage is eventually consistent with the simulation: write failures are
// logged and reported but never roll back in-memory state. Virtual entities
// and synthetic links never reach a backend.
//
// Backend implementations live in subpackages: sqlstore (SQLite, Postgres),
// redisstore and mongostore. [Memory] is an in-process backend for tests and
// single-user sessions.
package persist

import (
	"context"
	"errors"

	"github.com/leanspace/flowboard/pkg/graph"
	"github.com/leanspace/flowboard/pkg/store"
)

// OriginRemote tags store changes that came from a backend, so they are not
// written back to it.
const OriginRemote = "remote"

// ErrClosed is returned by operations on a closed batcher or backend.
var ErrClosed = errors.New("persist: closed")

// PositionWriter writes a batch of entity positions.
type PositionWriter interface {
	WritePositions(ctx context.Context, updates []graph.PositionUpdate) error
}

// Backend is durable board storage.
//
// Load returns every stored entity and link. Stored positions that fail
// [graph.ParsePosition] are reported through a non-finite Position so the
// caller can substitute a region fallback.
type Backend interface {
	PositionWriter

	Load(ctx context.Context) (graph.Graph, error)
	SaveEntity(ctx context.Context, e graph.Entity) error
	DeleteEntity(ctx context.Context, id string) error
	SaveLink(ctx context.Context, l graph.Link) error
	DeleteLink(ctx context.Context, id string) error
	Close() error
}

// Notifier is implemented by backends that push changes made by other
// writers. The channel closes when ctx is done or the subscription fails.
type Notifier interface {
	Subscribe(ctx context.Context) (<-chan store.Change, error)
}
