package models

import "time"

// Checkpoint is a named, content-addressed snapshot of the workspace taken
// by the Checkpoint Store. A checkpoint exists iff there is a commit object
// in the checkpoint store carrying the "CHECKPOINT:" subject prefix or the
// reserved initial marker commit.
type Checkpoint struct {
	// ID is the opaque content hash (the backing commit's hash).
	ID string `json:"id"`

	// Name is parsed back from the commit subject line, with any
	// " (advice-only)" suffix trimmed.
	Name string `json:"name"`

	Timestamp time.Time `json:"timestamp"`

	// Files lists the paths changed in this commit relative to its parent.
	Files []string `json:"files"`

	// AdviceOnly is true when the checkpoint commit recorded no content
	// change (the subject carries the " (advice-only)" suffix).
	AdviceOnly bool `json:"adviceOnly,omitempty"`
}
