// Package graph provides the board data model and its serialization format.
//
// A board is a set of entities (memos, tags, proposals, research, tasks, MVPs,
// dashboards, improvements and transient UI buttons) laid out across five
// fixed regions, plus the links between them. This package is the single
// source of truth for the entity, link and region vocabularies used by the
// simulation, the store and every persistence backend.
//
// # Core Types
//
//   - [Entity]: a placeable element with a region, kind and [Position]
//   - [Link]: a directed relation between two entity IDs
//   - [Graph]: the JSON wire/file format for a whole board
//
// # Serialization
//
// Boards use a simple entity-link JSON format:
//
//	{
//	  "entities": [{"id": "m1", "region": "knowledge_base", "kind": "memo", "position": {"x": 100, "y": 120}}],
//	  "links": [{"id": "l1", "source": "m1", "target": "t1", "kind": "tag"}]
//	}
//
// Common operations:
//
//	g, _ := graph.ReadGraphFile("board.json")
//	graph.WriteGraphFile(g, "board.settled.json")
//	data, _ := graph.MarshalGraph(g)
//
// # Positions
//
// Storage layers hand positions around as untyped JSON payloads. [ParsePosition]
// is the one place those payloads are validated; everything past it works with
// the typed [Position]. Virtual entities and synthetic links are never part of
// the durable form, see [Graph.Durable].
//
// # Concurrency
//
// All functions are safe for concurrent reads but not concurrent writes.
package graph
