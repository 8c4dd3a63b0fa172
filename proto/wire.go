// Package proto defines wire format DTOs for the tailwind-serve HTTP API.
package proto

// HealthResponse is returned by the health endpoints.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	// Mode is "development" or "production".
	Mode string `json:"mode"`
	// State is the server lifecycle state: "starting", "ready" or "closed".
	State string `json:"state"`
}

// RebuildResponse is returned after a forced rebuild.
type RebuildResponse struct {
	// CSS is only included when requested with ?css=1.
	CSS            string `json:"css,omitempty"`
	CandidateCount int    `json:"candidateCount"`
	FileCount      int    `json:"fileCount"`
	Bytes          int    `json:"bytes"`
	BuildID        string `json:"buildId"`
	Digest         string `json:"digest"`
}

// SourceRoot mirrors a scanned location.
type SourceRoot struct {
	Base    string `json:"base"`
	Pattern string `json:"pattern"`
	Negated bool   `json:"negated,omitempty"`
}

// StatusResponse describes the artifact currently being served.
type StatusResponse struct {
	Mode           string       `json:"mode"`
	State          string       `json:"state"`
	Source         string       `json:"source"`
	BuildID        string       `json:"buildId"`
	Digest         string       `json:"digest"`
	LastModified   int64        `json:"lastModified"`
	Bytes          int          `json:"bytes"`
	CandidateCount int          `json:"candidateCount"`
	FileCount      int          `json:"fileCount"`
	DurationMs     int64        `json:"durationMs"`
	SourceRoots    []SourceRoot `json:"sourceRoots"`
	Extensions     []string     `json:"extensions"`
	Dependencies   []string     `json:"dependencies"`
	WatchedRoots   []string     `json:"watchedRoots"`
	// Clients is the number of connected livereload clients.
	Clients int `json:"clients"`
	// Builds is the number of recorded build attempts; -1 when history
	// is disabled.
	Builds int `json:"builds"`
}

// BuildRecord is one build attempt from the history.
type BuildRecord struct {
	ID             string `json:"id"`
	Trigger        string `json:"trigger"`
	StartedAt      int64  `json:"startedAt"`
	DurationMs     int64  `json:"durationMs"`
	OK             bool   `json:"ok"`
	CandidateCount int    `json:"candidateCount,omitempty"`
	FileCount      int    `json:"fileCount,omitempty"`
	Bytes          int    `json:"bytes,omitempty"`
	Digest         string `json:"digest,omitempty"`
	Error          string `json:"error,omitempty"`
}

// BuildsResponse lists recent build attempts, newest first.
type BuildsResponse struct {
	Builds []*BuildRecord `json:"builds"`
}

// Reload event types.
const (
	ReloadCSS   = "css"
	ReloadError = "error"
)

// ReloadEvent is pushed to livereload clients after every background or
// forced build attempt.
type ReloadEvent struct {
	Type    string `json:"type"`
	BuildID string `json:"buildId,omitempty"`
	Digest  string `json:"digest,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ErrorResponse is returned for API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
