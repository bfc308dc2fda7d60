package mdstore

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kevinmichaelchen/ixchel/internal/entity"
	"github.com/kevinmichaelchen/ixchel/internal/ixerr"
)

const (
	delimiter  = "---"
	timeFormat = time.RFC3339
)

// knownKeys are the frontmatter fields with dedicated Frontmatter struct
// fields; every other key is either a relation (if its value is
// id-shaped) or preserved verbatim in Extra.
var knownKeys = map[string]bool{
	"id": true, "title": true, "status": true, "created_at": true,
	"updated_at": true, "created_by": true, "tags": true,
}

// Frontmatter is the typed, round-trip-faithful decoding of a file's YAML
// frontmatter block (spec §4.3, §6).
type Frontmatter struct {
	ID        string
	Title     string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
	CreatedBy string
	Tags      []string

	// Relations holds every frontmatter key whose value parses as a
	// target id, a list of ids, or a list of {id, type?} objects — i.e.
	// every key the spec treats as a relation key.
	Relations map[string][]entity.RelationValue

	// Extra preserves any remaining unknown key verbatim as a yaml.Node,
	// so serialize(parse(x)) reproduces it exactly even though this
	// package does not understand its shape.
	Extra map[string]yaml.Node
}

// Document is a parsed Markdown file: frontmatter plus body.
type Document struct {
	Frontmatter Frontmatter
	Body        string
}

// Parse splits raw into a YAML frontmatter block and a Markdown body and
// decodes the frontmatter. raw must begin with a "---" delimiter line.
func Parse(raw []byte) (Document, error) {
	fmBytes, body, err := splitFrontmatter(raw)
	if err != nil {
		return Document{}, err
	}

	var root yaml.Node
	if err := yaml.Unmarshal(fmBytes, &root); err != nil {
		return Document{}, ixerr.New(ixerr.ErrCodeFrontmatterInvalid, err.Error(), err)
	}
	if len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return Document{}, ixerr.New(ixerr.ErrCodeFrontmatterInvalid, "frontmatter is not a YAML mapping", nil)
	}
	mapping := root.Content[0]

	fm := Frontmatter{
		Relations: make(map[string][]entity.RelationValue),
		Extra:     make(map[string]yaml.Node),
	}

	for i := 0; i+1 < len(mapping.Content); i += 2 {
		keyNode := mapping.Content[i]
		valNode := mapping.Content[i+1]
		key := keyNode.Value

		switch {
		case key == "id":
			fm.ID = valNode.Value
		case key == "title":
			fm.Title = valNode.Value
		case key == "status":
			fm.Status = valNode.Value
		case key == "created_by":
			fm.CreatedBy = valNode.Value
		case key == "created_at":
			t, err := parseTime(valNode.Value)
			if err != nil {
				return Document{}, ixerr.New(ixerr.ErrCodeFrontmatterInvalid,
					fmt.Sprintf("created_at: %s", err), err)
			}
			fm.CreatedAt = t
		case key == "updated_at":
			t, err := parseTime(valNode.Value)
			if err != nil {
				return Document{}, ixerr.New(ixerr.ErrCodeFrontmatterInvalid,
					fmt.Sprintf("updated_at: %s", err), err)
			}
			fm.UpdatedAt = t
		case key == "tags":
			var tags []string
			if err := valNode.Decode(&tags); err != nil {
				return Document{}, ixerr.New(ixerr.ErrCodeFrontmatterInvalid, "tags: "+err.Error(), err)
			}
			fm.Tags = tags
		default:
			if vals, ok := decodeRelationValue(valNode); ok {
				fm.Relations[key] = vals
			} else {
				fm.Extra[key] = *valNode
			}
		}
	}

	if fm.ID == "" {
		return Document{}, ixerr.New(ixerr.ErrCodeFrontmatterMissing, "frontmatter has no id field", nil)
	}

	return Document{Frontmatter: fm, Body: body}, nil
}

// decodeRelationValue attempts to interpret node as a relation value: a
// bare id string, a list of id strings, or a list of {id, type?}
// mappings, where an id string is a YAML string containing a '-'
// (prefix-suffix). Returns ok=false if the node does not match any of those
// shapes, in which case the caller falls back to Extra.
func decodeRelationValue(node *yaml.Node) ([]entity.RelationValue, bool) {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value == "" || node.ShortTag() != "!!str" || !strings.Contains(node.Value, "-") {
			return nil, false
		}
		return []entity.RelationValue{{ID: node.Value}}, true
	case yaml.SequenceNode:
		out := make([]entity.RelationValue, 0, len(node.Content))
		for _, item := range node.Content {
			switch item.Kind {
			case yaml.ScalarNode:
				if item.ShortTag() != "!!str" || !strings.Contains(item.Value, "-") {
					return nil, false
				}
				out = append(out, entity.RelationValue{ID: item.Value})
			case yaml.MappingNode:
				var rv entity.RelationValue
				for i := 0; i+1 < len(item.Content); i += 2 {
					k := item.Content[i].Value
					v := item.Content[i+1].Value
					switch k {
					case "id":
						rv.ID = v
					case "type":
						rv.Type = v
					default:
						return nil, false
					}
				}
				if rv.ID == "" {
					return nil, false
				}
				out = append(out, rv)
			default:
				return nil, false
			}
		}
		if len(out) == 0 {
			return nil, false
		}
		return out, true
	default:
		return nil, false
	}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeFormat, s)
}

// Serialize renders doc back to canonical frontmatter+body bytes: a fixed
// key order (id, title, status, created_at, updated_at, created_by, tags,
// relation keys sorted, extra keys sorted), ISO-8601 UTC dates, and LF
// line endings. Because the order is always this fixed order rather than
// the source file's original order, re-parsing and re-serializing a file
// the tool previously wrote reproduces it byte for byte.
func Serialize(doc Document) ([]byte, error) {
	fm := doc.Frontmatter

	mapping := &yaml.Node{Kind: yaml.MappingNode}
	put := func(key string, value *yaml.Node) {
		mapping.Content = append(mapping.Content, scalarNode(key), value)
	}

	put("id", scalarNode(fm.ID))
	put("title", scalarNode(fm.Title))
	if fm.Status != "" {
		put("status", scalarNode(fm.Status))
	}
	put("created_at", scalarNode(fm.CreatedAt.UTC().Format(timeFormat)))
	put("updated_at", scalarNode(fm.UpdatedAt.UTC().Format(timeFormat)))
	if fm.CreatedBy != "" {
		put("created_by", scalarNode(fm.CreatedBy))
	}
	if len(fm.Tags) > 0 {
		tagsNode := &yaml.Node{Kind: yaml.SequenceNode}
		for _, tag := range fm.Tags {
			tagsNode.Content = append(tagsNode.Content, scalarNode(tag))
		}
		put("tags", tagsNode)
	}

	relKeys := sortedKeys(fm.Relations)
	for _, key := range relKeys {
		put(key, relationNode(fm.Relations[key]))
	}

	extraKeys := make([]string, 0, len(fm.Extra))
	for k := range fm.Extra {
		extraKeys = append(extraKeys, k)
	}
	sort.Strings(extraKeys)
	for _, key := range extraKeys {
		node := fm.Extra[key]
		put(key, &node)
	}

	doc2 := &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{mapping}}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc2); err != nil {
		return nil, fmt.Errorf("mdstore: encoding frontmatter: %w", err)
	}
	_ = enc.Close()

	var out bytes.Buffer
	out.WriteString(delimiter)
	out.WriteByte('\n')
	out.Write(normalizeLineEndings(buf.Bytes()))
	out.WriteString(delimiter)
	out.WriteByte('\n')
	if doc.Body != "" {
		out.WriteByte('\n')
		out.WriteString(normalizeLineEndingsString(doc.Body))
		if !strings.HasSuffix(doc.Body, "\n") {
			out.WriteByte('\n')
		}
	}

	return out.Bytes(), nil
}

func relationNode(vals []entity.RelationValue) *yaml.Node {
	if len(vals) == 1 && vals[0].Type == "" {
		return scalarNode(vals[0].ID)
	}
	seq := &yaml.Node{Kind: yaml.SequenceNode}
	for _, v := range vals {
		if v.Type == "" {
			seq.Content = append(seq.Content, scalarNode(v.ID))
			continue
		}
		m := &yaml.Node{Kind: yaml.MappingNode}
		m.Content = append(m.Content, scalarNode("id"), scalarNode(v.ID))
		m.Content = append(m.Content, scalarNode("type"), scalarNode(v.Type))
		seq.Content = append(seq.Content, m)
	}
	return seq
}

func scalarNode(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: s}
}

func sortedKeys(m map[string][]entity.RelationValue) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func splitFrontmatter(raw []byte) (fm []byte, body string, err error) {
	text := normalizeLineEndingsString(string(raw))
	if !strings.HasPrefix(text, delimiter) {
		return nil, "", ixerr.New(ixerr.ErrCodeFrontmatterMissing, "file does not start with a frontmatter delimiter", nil)
	}

	rest := text[len(delimiter):]
	rest = strings.TrimPrefix(rest, "\n")

	idx := strings.Index(rest, "\n"+delimiter)
	if idx == -1 {
		return nil, "", ixerr.New(ixerr.ErrCodeFrontmatterMissing, "no closing frontmatter delimiter found", nil)
	}

	fmText := rest[:idx]
	remainder := rest[idx+len("\n"+delimiter):]
	remainder = strings.TrimPrefix(remainder, "\n")
	remainder = strings.TrimPrefix(remainder, "\n")

	return []byte(fmText), remainder, nil
}

func normalizeLineEndings(b []byte) []byte {
	return []byte(normalizeLineEndingsString(string(b)))
}

func normalizeLineEndingsString(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
