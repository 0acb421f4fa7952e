package graph

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
)

// Position is a point in the shared board coordinate space.
type Position struct {
	X float64 `json:"x" bson:"x"`
	Y float64 `json:"y" bson:"y"`
}

// Finite reports whether both coordinates are real numbers.
func (p Position) Finite() bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}

// Distance returns the euclidean distance between p and q.
func (p Position) Distance(q Position) float64 {
	return math.Hypot(q.X-p.X, q.Y-p.Y)
}

// PositionUpdate is a single durable position write.
type PositionUpdate struct {
	ID       string   `json:"id"`
	Position Position `json:"position"`
}

// ParsePosition validates an untyped position payload as stored by a backend.
//
// Accepted shapes are a JSON object with numeric or numeric-string "x" and "y"
// members. Missing axes, non-numeric values and non-finite numbers report
// false; callers substitute a region fallback rather than failing.
func ParsePosition(raw []byte) (Position, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return Position{}, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Position{}, false
	}
	x, okX := parseAxis(fields["x"])
	y, okY := parseAxis(fields["y"])
	if !okX || !okY {
		return Position{}, false
	}
	p := Position{X: x, Y: y}
	return p, p.Finite()
}

func parseAxis(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Unplaced returns the position carried by entities whose stored position
// could not be parsed. It is never Finite.
func Unplaced() Position { return Position{X: math.NaN(), Y: math.NaN()} }

// MarshalJSON encodes a non-finite position as null, which [ParsePosition]
// reads back as unplaced.
func (p Position) MarshalJSON() ([]byte, error) {
	if !p.Finite() {
		return []byte("null"), nil
	}
	type plain Position
	return json.Marshal(plain(p))
}
