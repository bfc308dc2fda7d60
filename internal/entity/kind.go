package entity

// FieldType is the scalar/array/date type a frontmatter field must hold.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldArray  FieldType = "array"
	FieldDate   FieldType = "date"
	FieldBool   FieldType = "bool"
)

// FieldSpec names one required or optional frontmatter field and its
// expected type.
type FieldSpec struct {
	Name string    `toml:"name"`
	Type FieldType `toml:"type"`
}

// Kind describes one entity kind: decision, issue, idea, report, source,
// citation, agent, session, or a user extension loaded from
// .ixchel/entities/*.toml.
type Kind struct {
	Name string `toml:"name"`
	// Prefix is the canonical id prefix minted for new entities of this kind.
	Prefix string `toml:"prefix"`
	// AliasPrefixes are legacy prefixes accepted on read (e.g. "bd" for
	// "issue") but never minted.
	AliasPrefixes []string `toml:"alias_prefixes"`
	// Dir is the on-disk directory under .ixchel/ this kind's files live in.
	Dir string `toml:"dir"`
	// AllowedStatuses is the closed set of valid status values, or empty
	// for no restriction.
	AllowedStatuses []string `toml:"allowed_statuses"`
	// ImmutableAfter names a status past which title and body are frozen.
	// Empty means the kind never becomes immutable.
	ImmutableAfter  string      `toml:"immutable_after"`
	RequiredFields  []FieldSpec `toml:"required_fields"`
	OptionalFields  []FieldSpec `toml:"optional_fields"`
}

// AllPrefixes returns the canonical prefix followed by any aliases, the
// full set of prefixes that resolve to this kind on read.
func (k Kind) AllPrefixes() []string {
	out := make([]string, 0, 1+len(k.AliasPrefixes))
	out = append(out, k.Prefix)
	out = append(out, k.AliasPrefixes...)
	return out
}

// AllowsStatus reports whether status is permitted. An empty
// AllowedStatuses list permits any status.
func (k Kind) AllowsStatus(status string) bool {
	if len(k.AllowedStatuses) == 0 {
		return true
	}
	for _, s := range k.AllowedStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// IsImmutableAt reports whether status is at or past the kind's
// immutable_after threshold. Statuses are compared against the declared
// AllowedStatuses order, since immutability is a lifecycle position, not
// a lexicographic one.
func (k Kind) IsImmutableAt(status string) bool {
	if k.ImmutableAfter == "" {
		return false
	}
	thresholdIdx := -1
	statusIdx := -1
	for i, s := range k.AllowedStatuses {
		if s == k.ImmutableAfter {
			thresholdIdx = i
		}
		if s == status {
			statusIdx = i
		}
	}
	if thresholdIdx == -1 || statusIdx == -1 {
		return status == k.ImmutableAfter
	}
	return statusIdx >= thresholdIdx
}

// BuiltinKinds returns the kinds Ixchel ships with, as Go literals so the
// zero-config path works without any .ixchel/entities/*.toml files.
func BuiltinKinds() []Kind {
	return []Kind{
		{
			Name:            "decision",
			Prefix:          "dec",
			Dir:             "decisions",
			AllowedStatuses: []string{"proposed", "accepted", "superseded", "rejected"},
			ImmutableAfter:  "accepted",
			RequiredFields: []FieldSpec{
				{Name: "title", Type: FieldString},
				{Name: "created_at", Type: FieldDate},
				{Name: "updated_at", Type: FieldDate},
			},
		},
		{
			Name:   "issue",
			Prefix: "iss",
			// bd- is a legacy alias, read-compatible only (SPEC §6.1 Open
			// Question resolution): never minted for new issues.
			AliasPrefixes:   []string{"bd"},
			Dir:             "issues",
			AllowedStatuses: []string{"open", "in_progress", "blocked", "closed"},
			RequiredFields: []FieldSpec{
				{Name: "title", Type: FieldString},
				{Name: "created_at", Type: FieldDate},
				{Name: "updated_at", Type: FieldDate},
			},
		},
		{
			Name:   "idea",
			Prefix: "idea",
			Dir:    "ideas",
			AllowedStatuses: []string{"raw", "exploring", "adopted", "discarded"},
			RequiredFields: []FieldSpec{
				{Name: "title", Type: FieldString},
				{Name: "created_at", Type: FieldDate},
				{Name: "updated_at", Type: FieldDate},
			},
		},
		{
			Name:            "report",
			Prefix:          "rep",
			Dir:             "reports",
			AllowedStatuses: []string{"draft", "final"},
			ImmutableAfter:  "final",
			RequiredFields: []FieldSpec{
				{Name: "title", Type: FieldString},
				{Name: "created_at", Type: FieldDate},
				{Name: "updated_at", Type: FieldDate},
			},
		},
		{
			Name:   "source",
			Prefix: "src",
			Dir:    "sources",
			RequiredFields: []FieldSpec{
				{Name: "title", Type: FieldString},
				{Name: "created_at", Type: FieldDate},
				{Name: "updated_at", Type: FieldDate},
			},
			OptionalFields: []FieldSpec{
				{Name: "url", Type: FieldString},
			},
		},
		{
			Name:   "citation",
			Prefix: "cit",
			Dir:    "citations",
			RequiredFields: []FieldSpec{
				{Name: "title", Type: FieldString},
				{Name: "created_at", Type: FieldDate},
				{Name: "updated_at", Type: FieldDate},
			},
		},
		{
			Name:   "agent",
			Prefix: "agt",
			Dir:    "agents",
			RequiredFields: []FieldSpec{
				{Name: "title", Type: FieldString},
				{Name: "created_at", Type: FieldDate},
				{Name: "updated_at", Type: FieldDate},
			},
		},
		{
			Name:            "session",
			Prefix:          "ses",
			Dir:             "sessions",
			AllowedStatuses: []string{"active", "ended"},
			RequiredFields: []FieldSpec{
				{Name: "title", Type: FieldString},
				{Name: "created_at", Type: FieldDate},
				{Name: "updated_at", Type: FieldDate},
			},
		},
	}
}
