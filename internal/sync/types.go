package sync

// Options configures one Sync call.
type Options struct {
	// Directory restricts the sync to files under this path (relative to
	// repo root). Empty syncs the whole repo.
	Directory string

	// Force re-embeds and re-validates every file regardless of the
	// manifest's stat/hash match, used by `ixchel sync --force`.
	Force bool
}

// Stats is the SyncStats result spec.md §4.5 requires Engine.Sync to
// return.
type Stats struct {
	FilesScanned  int `json:"files_scanned"`
	FilesAdded    int `json:"files_added"`
	FilesModified int `json:"files_modified"`
	FilesRenamed  int `json:"files_renamed"`
	FilesDeleted  int `json:"files_deleted"`

	EdgesAdded   int `json:"edges_added"`
	EdgesRemoved int `json:"edges_removed"`
	EdgesRefused int `json:"edges_refused"`

	EmbedDurationMS  int64 `json:"embed_duration_ms"`
	CommitDurationMS int64 `json:"commit_duration_ms"`

	Warnings []Warning `json:"warnings"`
}

// Warning is one deferred validation or reconciliation failure that did
// not abort the sync (spec.md §4.5: "other files continue").
type Warning struct {
	FilePath string `json:"file_path"`
	Message  string `json:"message"`
}

func (s *Stats) warn(filePath, message string) {
	s.Warnings = append(s.Warnings, Warning{FilePath: filePath, Message: message})
}
