package history

import (
	"github.com/Moshyfawn/tailwind-serve/jit"
	"github.com/Moshyfawn/tailwind-serve/proto"
)

// FromEvent converts a build attempt into a history record.
func FromEvent(ev jit.Event) *proto.BuildRecord {
	rec := &proto.BuildRecord{
		ID:         ev.ID,
		Trigger:    string(ev.Trigger),
		StartedAt:  ev.Started.UnixMilli(),
		DurationMs: ev.Duration.Milliseconds(),
		OK:         ev.Err == nil,
	}
	if ev.Err != nil {
		rec.Error = ev.Err.Error()
	}
	if a := ev.Artifact; a != nil {
		rec.CandidateCount = a.CandidateCount
		rec.FileCount = a.FileCount
		rec.Bytes = len(a.Content)
		rec.Digest = a.Digest
	}
	return rec
}
