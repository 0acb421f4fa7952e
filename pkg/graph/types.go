package graph

import (
	"maps"
	"slices"
	"strings"
)

// =============================================================================
// Regions
// =============================================================================

// Region identifies one of the five fixed workflow stages of the board.
type Region string

// Regions, in top-to-bottom canvas order.
const (
	RegionKnowledgeBase Region = "knowledge_base"
	RegionIdeaStock     Region = "idea_stock"
	RegionBuild         Region = "build"
	RegionMeasure       Region = "measure"
	RegionLearn         Region = "learn"
)

// Regions lists every region in canvas order.
var Regions = []Region{
	RegionKnowledgeBase,
	RegionIdeaStock,
	RegionBuild,
	RegionMeasure,
	RegionLearn,
}

// Index returns the position of r in canvas order, or -1 if r is unknown.
func (r Region) Index() int { return slices.Index(Regions, r) }

// Valid reports whether r is one of the five known regions.
func (r Region) Valid() bool { return r.Index() >= 0 }

// =============================================================================
// Entity Kinds
// =============================================================================

// Kind is the entity type. It drives particle size, link heuristics and the
// button set offered on selection.
type Kind string

// Entity kinds.
const (
	KindMemo        Kind = "memo"
	KindTag         Kind = "tag"
	KindProposal    Kind = "proposal"
	KindResearch    Kind = "research"
	KindTask        Kind = "task"
	KindMVP         Kind = "mvp"
	KindDashboard   Kind = "dashboard"
	KindImprovement Kind = "improvement"
	KindButton      Kind = "button"
)

var kinds = []Kind{
	KindMemo, KindTag, KindProposal, KindResearch, KindTask,
	KindMVP, KindDashboard, KindImprovement, KindButton,
}

// Valid reports whether k is a known entity kind.
func (k Kind) Valid() bool { return slices.Contains(kinds, k) }

// Status is the progress state of a task entity.
type Status string

// Task statuses.
const (
	StatusPending    Status = "pending"
	StatusIncomplete Status = "incomplete"
	StatusCompleted  Status = "completed"
)

// =============================================================================
// Link Kinds
// =============================================================================

// LinkKind is the semantic type of a link.
type LinkKind string

// Link kinds.
const (
	LinkTag         LinkKind = "tag"
	LinkReference   LinkKind = "reference"
	LinkFlow        LinkKind = "flow"
	LinkDependency  LinkKind = "dependency"
	LinkImprovement LinkKind = "improvement"
	LinkLink        LinkKind = "link"
	LinkMeasurement LinkKind = "measurement"
	LinkLearning    LinkKind = "learning"
	LinkRebuild     LinkKind = "rebuild"
	LinkPivot       LinkKind = "pivot"
)

var linkKinds = []LinkKind{
	LinkTag, LinkReference, LinkFlow, LinkDependency, LinkImprovement,
	LinkLink, LinkMeasurement, LinkLearning, LinkRebuild, LinkPivot,
}

// Valid reports whether k is a known link kind.
func (k LinkKind) Valid() bool { return slices.Contains(linkKinds, k) }

// Metadata keys with a meaning shared across packages.
const (
	MetaParentID     = "parentId"     // owning entity of a virtual button
	MetaAction       = "action"       // workflow action a button triggers
	MetaDependencies = "dependencies" // task dependency references
)

// =============================================================================
// Entity
// =============================================================================

// Entity is any placeable element on the board, persisted or virtual.
type Entity struct {
	ID       string         `json:"id" bson:"_id"`
	Region   Region         `json:"region" bson:"region"`
	Kind     Kind           `json:"kind" bson:"kind"`
	Position Position       `json:"position" bson:"position"`
	Title    string         `json:"title,omitempty" bson:"title,omitempty"`
	Status   Status         `json:"status,omitempty" bson:"status,omitempty"`
	Size     float64        `json:"size,omitempty" bson:"size,omitempty"` // memo-only size override
	Virtual  bool           `json:"virtual,omitempty" bson:"-"`
	Metadata map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

// ParentID returns the owning entity recorded on a virtual button, if any.
func (e Entity) ParentID() string {
	s, _ := e.Metadata[MetaParentID].(string)
	return s
}

// Clone returns a copy of e whose metadata map can be mutated independently.
func (e Entity) Clone() Entity {
	if e.Metadata != nil {
		e.Metadata = maps.Clone(e.Metadata)
	}
	return e
}

// =============================================================================
// Link
// =============================================================================

// Link is a directed relation between two entities.
type Link struct {
	ID        string   `json:"id" bson:"_id"`
	Source    string   `json:"source" bson:"source"`
	Target    string   `json:"target" bson:"target"`
	Kind      LinkKind `json:"kind" bson:"kind"`
	IsBranch  bool     `json:"is_branch,omitempty" bson:"is_branch,omitempty"`
	IsMerge   bool     `json:"is_merge,omitempty" bson:"is_merge,omitempty"`
	Synthetic bool     `json:"synthetic,omitempty" bson:"-"` // simulation-only, never persisted
}

// Touches reports whether id is one of the link's endpoints.
func (l Link) Touches(id string) bool { return l.Source == id || l.Target == id }

// =============================================================================
// Graph
// =============================================================================

// Graph is the canonical serialization format for a board.
type Graph struct {
	Entities []Entity `json:"entities" bson:"entities"`
	Links    []Link   `json:"links" bson:"links"`
}

// Durable returns a copy of g without virtual entities or synthetic links.
// This is the only shape that may reach a storage backend.
func (g Graph) Durable() Graph {
	out := Graph{
		Entities: make([]Entity, 0, len(g.Entities)),
		Links:    make([]Link, 0, len(g.Links)),
	}
	for _, e := range g.Entities {
		if !e.Virtual {
			out.Entities = append(out.Entities, e)
		}
	}
	for _, l := range g.Links {
		if !l.Synthetic {
			out.Links = append(out.Links, l)
		}
	}
	return out
}

// Sort orders entities and links by ID for deterministic output.
func (g *Graph) Sort() {
	slices.SortFunc(g.Entities, func(a, b Entity) int { return strings.Compare(a.ID, b.ID) })
	slices.SortFunc(g.Links, func(a, b Link) int { return strings.Compare(a.ID, b.ID) })
}

