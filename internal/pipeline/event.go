package pipeline

import (
	"strings"
	"time"
)

// IngestEvent describes one newly stored source photo.
type IngestEvent struct {
	SourceBucket string
	SourceKey    string
	ActorID      string
	EventTime    time.Time
}

// Source is the bucket/key form used in logs and errors.
func (e IngestEvent) Source() string {
	return e.SourceBucket + "/" + e.SourceKey
}

// Extension returns the text after the last '.' of the key, as written.
// ok is false when the key has no '.'.
func (e IngestEvent) Extension() (ext string, ok bool) {
	i := strings.LastIndexByte(e.SourceKey, '.')
	if i < 0 {
		return "", false
	}
	return e.SourceKey[i+1:], true
}
