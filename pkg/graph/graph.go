package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// =============================================================================
// Graph Serialization API
// =============================================================================

// MarshalGraph converts a board to JSON bytes.
// Entities and links are sorted by ID for deterministic output.
func MarshalGraph(g Graph) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeGraphTo(g, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalGraph deserializes JSON bytes to a Graph.
func UnmarshalGraph(data []byte) (Graph, error) {
	return readGraphFrom(bytes.NewReader(data))
}

// WriteGraphFile writes a board to a JSON file.
// The file is created with 0644 permissions.
func WriteGraphFile(g Graph, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	return writeGraphTo(g, f)
}

// WriteGraph writes a board as JSON to an io.Writer.
func WriteGraph(g Graph, w io.Writer) error {
	return writeGraphTo(g, w)
}

// ReadGraphFile reads a JSON board file.
func ReadGraphFile(path string) (Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return Graph{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return readGraphFrom(f)
}

// ReadGraph decodes a JSON board from an io.Reader.
func ReadGraph(r io.Reader) (Graph, error) {
	return readGraphFrom(r)
}

// =============================================================================
// Internal Implementation
// =============================================================================

func writeGraphTo(g Graph, w io.Writer) error {
	out := Graph{
		Entities: append([]Entity(nil), g.Entities...),
		Links:    append([]Link(nil), g.Links...),
	}
	out.Sort()
	if out.Entities == nil {
		out.Entities = []Entity{}
	}
	if out.Links == nil {
		out.Links = []Link{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return nil
}

// wireEntity mirrors Entity but keeps the position untyped so that malformed
// payloads degrade to a missing position instead of a decode failure.
type wireEntity struct {
	Entity
	Position json.RawMessage `json:"position"`
}

// Missing reports entity IDs whose position payload failed validation while
// decoding. Callers place those entities with a region fallback.
type Missing map[string]bool

func readGraphFrom(r io.Reader) (Graph, error) {
	g, _, err := decode(r)
	return g, err
}

// ReadGraphChecked decodes a board and also reports which entities carried an
// invalid or absent position.
func ReadGraphChecked(r io.Reader) (Graph, Missing, error) {
	return decode(r)
}

// UnmarshalEntity decodes a single entity as stored by a backend. An invalid
// or absent position decodes as [Unplaced] instead of failing.
func UnmarshalEntity(data []byte) (Entity, error) {
	var we wireEntity
	if err := json.Unmarshal(data, &we); err != nil {
		return Entity{}, fmt.Errorf("decode entity: %w", err)
	}
	e := we.Entity
	if p, ok := ParsePosition(we.Position); ok {
		e.Position = p
	} else {
		e.Position = Unplaced()
	}
	return e, nil
}

func decode(r io.Reader) (Graph, Missing, error) {
	var data struct {
		Entities []wireEntity `json:"entities"`
		Links    []Link       `json:"links"`
	}
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return Graph{}, nil, fmt.Errorf("decode: %w", err)
	}
	g := Graph{Entities: make([]Entity, 0, len(data.Entities)), Links: data.Links}
	missing := Missing{}
	for _, we := range data.Entities {
		e := we.Entity
		if p, ok := ParsePosition(we.Position); ok {
			e.Position = p
		} else {
			e.Position = Unplaced()
			missing[e.ID] = true
		}
		g.Entities = append(g.Entities, e)
	}
	return g, missing, nil
}
