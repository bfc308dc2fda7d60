package entity

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pelletier/go-toml/v2"

	"github.com/kevinmichaelchen/ixchel/internal/ixerr"
)

// Registry is the combined Entity & Relationship Registry: built-in kinds
// and relations, overlaid with any .ixchel/entities/*.toml and
// .ixchel/relationships/*.toml project files, the same defaults-then-
// overlay precedence the ambient config package uses.
type Registry struct {
	kindsByName   map[string]Kind
	kindsByPrefix map[string]string // prefix (incl. aliases) -> kind name
	relations     map[string]Relation
}

// LoadRegistry builds the registry for repoRoot: built-ins overlaid with
// any project-defined kinds/relations. A missing .ixchel/entities or
// .ixchel/relationships directory is not an error.
func LoadRegistry(repoRoot string) (*Registry, error) {
	r := newRegistry()

	for _, k := range BuiltinKinds() {
		r.addKind(k)
	}
	for _, rel := range BuiltinRelations() {
		r.addRelation(rel)
	}

	if repoRoot != "" {
		if err := r.overlayKinds(filepath.Join(repoRoot, ".ixchel", "entities")); err != nil {
			return nil, err
		}
		if err := r.overlayRelations(filepath.Join(repoRoot, ".ixchel", "relationships")); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func newRegistry() *Registry {
	return &Registry{
		kindsByName:   make(map[string]Kind),
		kindsByPrefix: make(map[string]string),
		relations:     make(map[string]Relation),
	}
}

func (r *Registry) addKind(k Kind) {
	r.kindsByName[k.Name] = k
	for _, p := range k.AllPrefixes() {
		r.kindsByPrefix[p] = k.Name
	}
}

func (r *Registry) addRelation(rel Relation) {
	r.relations[rel.Name] = rel
}

func (r *Registry) overlayKinds(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".toml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		var k Kind
		if err := toml.Unmarshal(data, &k); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
		if k.Name == "" {
			return fmt.Errorf("%s: kind is missing a name", path)
		}
		r.addKind(k)
	}
	return nil
}

func (r *Registry) overlayRelations(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".toml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		var rel Relation
		if err := toml.Unmarshal(data, &rel); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
		if rel.Name == "" {
			return fmt.Errorf("%s: relation is missing a name", path)
		}
		r.addRelation(rel)
	}
	return nil
}

// KindByName looks up a kind by its canonical name.
func (r *Registry) KindByName(name string) (Kind, bool) {
	k, ok := r.kindsByName[name]
	return k, ok
}

// KindByPrefix resolves a prefix (canonical or alias) to its kind.
func (r *Registry) KindByPrefix(prefix string) (Kind, bool) {
	name, ok := r.kindsByPrefix[prefix]
	if !ok {
		return Kind{}, false
	}
	k, ok := r.kindsByName[name]
	return k, ok
}

// Kinds returns all registered kinds, sorted by name for deterministic
// iteration (e.g. `ixchel list` without a kind filter).
func (r *Registry) Kinds() []Kind {
	out := make([]Kind, 0, len(r.kindsByName))
	for _, k := range r.kindsByName {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Relation looks up a relation by name.
func (r *Registry) Relation(name string) (Relation, bool) {
	rel, ok := r.relations[name]
	return rel, ok
}

// ValidateRelationship consults the validity matrix for (fromKind,
// relation, toKind). Cycle detection on blocking relations is the
// caller's responsibility (spec §4.1: "Cycle detection is delegated"),
// since it requires a graph traversal this package does not have access
// to.
func (r *Registry) ValidateRelationship(fromKind, relation, toKind string) error {
	rel, ok := r.relations[relation]
	if !ok {
		return ixerr.New(ixerr.ErrCodeRelationshipNotPermitted,
			fmt.Sprintf("unknown relation %q", relation), nil)
	}
	if !rel.Permits(fromKind, toKind) {
		return ixerr.New(ixerr.ErrCodeRelationshipNotPermitted,
			fmt.Sprintf("relation %q from kind %q to kind %q is not permitted", relation, fromKind, toKind), nil)
	}
	return nil
}

// IsBlocking reports whether relation requires a pre-commit cycle check.
func (r *Registry) IsBlocking(relation string) bool {
	rel, ok := r.relations[relation]
	return ok && rel.Blocking
}
