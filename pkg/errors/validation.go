package errors

import (
	"strings"
	"unicode"

	"github.com/leanspace/flowboard/pkg/graph"
)

// MaxIDLength bounds entity and link ids.
const MaxIDLength = 128

// ValidateID checks an entity or link id. Ids end up in URLs, cache keys and
// backend keys, so control characters, slashes and whitespace are rejected.
func ValidateID(id string) error {
	if id == "" {
		return New(ErrCodeInvalidInput, "id cannot be empty")
	}
	if len(id) > MaxIDLength {
		return New(ErrCodeInvalidInput, "id too long (max %d characters)", MaxIDLength)
	}
	for _, r := range id {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return New(ErrCodeInvalidInput, "id %q contains whitespace or control characters", id)
		}
	}
	if strings.ContainsAny(id, "/\\") {
		return New(ErrCodeInvalidInput, "id %q contains a path separator", id)
	}
	return nil
}

// ValidateEntity checks an entity submitted from outside. The position is
// not checked: a missing or invalid one is placed by the region fallback.
func ValidateEntity(e graph.Entity) error {
	if err := ValidateID(e.ID); err != nil {
		return Wrap(ErrCodeInvalidEntity, err, "entity")
	}
	if !e.Region.Valid() {
		return New(ErrCodeInvalidEntity, "entity %s: unknown region %q", e.ID, e.Region)
	}
	if !e.Kind.Valid() {
		return New(ErrCodeInvalidEntity, "entity %s: unknown kind %q", e.ID, e.Kind)
	}
	if e.Virtual || e.Kind == graph.KindButton {
		return New(ErrCodeInvalidEntity, "entity %s: virtual entities cannot be stored", e.ID)
	}
	if e.Size < 0 {
		return New(ErrCodeInvalidEntity, "entity %s: negative size %g", e.ID, e.Size)
	}
	return nil
}

// ValidateLink checks a link submitted from outside. Endpoints are not
// resolved here; a link whose endpoint is missing is kept in the store and
// dropped by the simulation.
func ValidateLink(l graph.Link) error {
	if err := ValidateID(l.ID); err != nil {
		return Wrap(ErrCodeInvalidLink, err, "link")
	}
	if l.Source == "" || l.Target == "" {
		return New(ErrCodeInvalidLink, "link %s: source and target are required", l.ID)
	}
	if l.Source == l.Target {
		return New(ErrCodeInvalidLink, "link %s: self link on %s", l.ID, l.Source)
	}
	if !l.Kind.Valid() {
		return New(ErrCodeInvalidLink, "link %s: unknown kind %q", l.ID, l.Kind)
	}
	if l.Synthetic {
		return New(ErrCodeInvalidLink, "link %s: synthetic links cannot be stored", l.ID)
	}
	return nil
}

// ValidatePosition checks a position submitted from outside.
func ValidatePosition(p graph.Position) error {
	if !p.Finite() {
		return New(ErrCodeInvalidPosition, "position must be finite, got (%g, %g)", p.X, p.Y)
	}
	return nil
}
