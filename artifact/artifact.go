// Package artifact defines the compiled stylesheet artifact and the cell
// that holds the current one.
package artifact

import (
	"sort"
	"time"
)

// SourceRoot is a location the scanner searches for candidates.
type SourceRoot struct {
	// Base is the directory patterns are evaluated against.
	Base string `json:"base"`
	// Pattern is a doublestar glob relative to Base.
	Pattern string `json:"pattern"`
	// Negated marks the entry as an exclusion.
	Negated bool `json:"negated"`
}

// Artifact is one complete compiled stylesheet plus the metadata describing
// how it was produced. It is never mutated after construction.
type Artifact struct {
	Content        string
	CandidateCount int
	FileCount      int
	SourceRoots    []SourceRoot
	// Extensions is the sorted set of file extensions (without the leading
	// dot) seen among scanned files.
	Extensions []string
	// Dependencies lists the stylesheet and every file it imported.
	Dependencies []string
	Digest       string
	BuildID      string
	Duration     time.Duration
}

// Summary is the short form returned by compile and rebuild operations.
type Summary struct {
	CSS            string `json:"css,omitempty"`
	CandidateCount int    `json:"candidateCount"`
	FileCount      int    `json:"fileCount"`
}

// Summary returns the artifact's summary.
func (a *Artifact) Summary() Summary {
	return Summary{
		CSS:            a.Content,
		CandidateCount: a.CandidateCount,
		FileCount:      a.FileCount,
	}
}

// HasExtension reports whether ext (with or without a leading dot) was
// observed among the scanned files.
func (a *Artifact) HasExtension(ext string) bool {
	if len(ext) > 0 && ext[0] == '.' {
		ext = ext[1:]
	}
	i := sort.SearchStrings(a.Extensions, ext)
	return i < len(a.Extensions) && a.Extensions[i] == ext
}
