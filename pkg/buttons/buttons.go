// Package buttons synthesizes the virtual action buttons shown around a
// selected entity.
//
// Buttons are ordinary entities flagged Virtual. They join the simulation
// through synthetic links to their parent, are never persisted, and carry
// their parent id and action in metadata so a click can be routed back to the
// workflow that owns it.
package buttons

import (
	"math"

	"github.com/google/uuid"

	"github.com/leanspace/flowboard/pkg/graph"
	"github.com/leanspace/flowboard/pkg/sim"
)

// Action names a workflow step a button triggers.
type Action string

// Actions.
const (
	ActionTag       Action = "tag"
	ActionPropose   Action = "propose"
	ActionEdit      Action = "edit"
	ActionDelete    Action = "delete"
	ActionRemove    Action = "remove"
	ActionResearch  Action = "research"
	ActionTask      Action = "task"
	ActionConclude  Action = "conclude"
	ActionLink      Action = "link"
	ActionComplete  Action = "complete"
	ActionDepend    Action = "depend"
	ActionMVP       Action = "mvp"
	ActionRelease   Action = "release"
	ActionDashboard Action = "dashboard"
	ActionMeasure   Action = "measure"
	ActionImprove   Action = "improve"
	ActionRebuild   Action = "rebuild"
	ActionPivot     Action = "pivot"
	ActionLearn     Action = "learn"
)

// sets lists the buttons offered per entity kind, in placement order.
var sets = map[graph.Kind][]Action{
	graph.KindMemo:        {ActionTag, ActionPropose, ActionEdit},
	graph.KindTag:         {ActionRemove},
	graph.KindProposal:    {ActionResearch, ActionTask, ActionEdit, ActionDelete},
	graph.KindResearch:    {ActionConclude, ActionLink, ActionEdit, ActionDelete},
	graph.KindTask:        {ActionComplete, ActionDepend, ActionEdit, ActionDelete},
	graph.KindMVP:         {ActionRelease, ActionDashboard, ActionEdit, ActionDelete},
	graph.KindDashboard:   {ActionMeasure, ActionImprove, ActionLink, ActionEdit, ActionDelete},
	graph.KindImprovement: {ActionRebuild, ActionPivot, ActionLearn, ActionEdit, ActionDelete},
}

// Gap is the clearance between a parent's edge and its buttons' edges.
const Gap = 30

// namespace scopes button ids so they never collide with stored entity ids.
var namespace = uuid.MustParse("0b7c4c52-4f3d-4c8e-9a57-3f1d3f6b9e21")

// Actions returns the buttons offered for e given every loaded entity. Tasks
// that are the frontmost (largest Y) task of their region also offer MVP.
func Actions(e graph.Entity, all []graph.Entity) []Action {
	actions := append([]Action(nil), sets[e.Kind]...)
	if e.Kind == graph.KindTask && Frontmost(e, all) {
		actions = append(actions, ActionMVP)
	}
	return actions
}

// Frontmost reports whether e has the largest Y among non-virtual entities of
// its kind and region. Ties go to the smaller id.
func Frontmost(e graph.Entity, all []graph.Entity) bool {
	for _, o := range all {
		if o.ID == e.ID || o.Virtual || o.Kind != e.Kind || o.Region != e.Region {
			continue
		}
		if o.Position.Y > e.Position.Y || (o.Position.Y == e.Position.Y && o.ID < e.ID) {
			return false
		}
	}
	return true
}

// ID returns the deterministic id of the button for action on parent.
func ID(parentID string, action Action) string {
	return uuid.NewSHA1(namespace, []byte(parentID+"/"+string(action))).String()
}

// Build returns the buttons for selected, placed evenly on a ring around at,
// the parent's current simulated position. The first button sits directly
// above the parent.
func Build(selected graph.Entity, at graph.Position, all []graph.Entity) []graph.Entity {
	actions := Actions(selected, all)
	if len(actions) == 0 {
		return nil
	}
	button := graph.Entity{Kind: graph.KindButton}
	offset := sim.Radius(selected) + Gap + sim.Radius(button)
	step := 2 * math.Pi / float64(len(actions))

	out := make([]graph.Entity, 0, len(actions))
	for i, a := range actions {
		angle := -math.Pi/2 + float64(i)*step
		out = append(out, graph.Entity{
			ID:     ID(selected.ID, a),
			Region: selected.Region,
			Kind:   graph.KindButton,
			Title:  string(a),
			Position: graph.Position{
				X: at.X + offset*math.Cos(angle),
				Y: at.Y + offset*math.Sin(angle),
			},
			Virtual: true,
			Metadata: map[string]any{
				graph.MetaParentID: selected.ID,
				graph.MetaAction:   string(a),
			},
		})
	}
	return out
}

// Links returns the synthetic links tying each button to its parent.
func Links(buttons []graph.Entity) []graph.Link {
	out := make([]graph.Link, 0, len(buttons))
	for _, b := range buttons {
		parent := b.ParentID()
		if parent == "" {
			continue
		}
		out = append(out, graph.Link{
			ID:        "button:" + b.ID,
			Source:    parent,
			Target:    b.ID,
			Kind:      graph.LinkLink,
			Synthetic: true,
		})
	}
	return out
}
