package entity

import (
	"fmt"
	"time"

	"github.com/kevinmichaelchen/ixchel/internal/ixerr"
)

// RelationValue is one target reference in a relationship key's value: a
// bare id, or an id with an optional type qualifier
// (spec §6 "a list of objects {id, type?}").
type RelationValue struct {
	ID   string
	Type string
}

// Entity is the in-memory representation of one Markdown file's
// frontmatter plus body (spec §3 "Entity").
type Entity struct {
	ID          string
	Kind        string
	Title       string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CreatedBy   string
	Tags        []string
	Properties  map[string]any
	Body        string
	FilePath    string
	// Relationships maps a relation name to its target values, as declared
	// in this entity's own frontmatter. The reverse side is derived during
	// indexing, never stored here.
	Relationships map[string][]RelationValue
}

// ValidateEntity checks kind, status, and required fields per spec §4.1's
// validate_entity. prevStatus is the status last committed to the cache
// for this entity's node, or "" if this is a new entity; it governs the
// immutability check.
func (r *Registry) ValidateEntity(e Entity, prevStatus string, prevTitle string, prevBody string) error {
	kind, ok := r.KindByName(e.Kind)
	if !ok {
		return ixerr.ValidationError(ixerr.ErrCodeUnknownKind,
			fmt.Sprintf("unknown entity kind %q", e.Kind), e.FilePath)
	}

	if e.Status != "" && !kind.AllowsStatus(e.Status) {
		return ixerr.ValidationError(ixerr.ErrCodeInvalidStatus,
			fmt.Sprintf("status %q is not allowed for kind %q", e.Status, e.Kind), e.FilePath)
	}

	for _, f := range kind.RequiredFields {
		if err := checkField(f, e); err != nil {
			return ixerr.ValidationError(ixerr.ErrCodeMissingField, err.Error(), e.FilePath)
		}
	}

	if prevStatus != "" && kind.IsImmutableAt(prevStatus) {
		if e.Title != prevTitle || e.Body != prevBody {
			return ixerr.ValidationError(ixerr.ErrCodeImmutabilityViolation,
				fmt.Sprintf("entity %s is immutable past status %q; title or body changed", e.ID, kind.ImmutableAfter),
				e.FilePath)
		}
	}

	return nil
}

func checkField(f FieldSpec, e Entity) error {
	switch f.Name {
	case "title":
		if e.Title == "" {
			return fmt.Errorf("required field %q is missing", f.Name)
		}
		return nil
	case "created_at":
		if e.CreatedAt.IsZero() {
			return fmt.Errorf("required field %q is missing", f.Name)
		}
		return nil
	case "updated_at":
		if e.UpdatedAt.IsZero() {
			return fmt.Errorf("required field %q is missing", f.Name)
		}
		return nil
	default:
		v, present := e.Properties[f.Name]
		if !present {
			return fmt.Errorf("required field %q is missing", f.Name)
		}
		return checkFieldType(f, v)
	}
}

func checkFieldType(f FieldSpec, v any) error {
	switch f.Type {
	case FieldArray:
		if _, ok := v.([]any); !ok {
			if _, ok := v.([]string); !ok {
				return fmt.Errorf("field %q must be an array", f.Name)
			}
		}
	case FieldBool:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("field %q must be a bool", f.Name)
		}
	case FieldDate:
		switch v.(type) {
		case time.Time, string:
		default:
			return fmt.Errorf("field %q must be a date", f.Name)
		}
	case FieldString:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("field %q must be a string", f.Name)
		}
	}
	return nil
}
