// Package project models the externally-visible artifact of a recording: the
// persisted media assets (SourceMetadata), their event buffer, and the Project
// record tying them together. The durable blob store and the editor that
// consumes the project are external collaborators; only their interfaces live
// here.
package project

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jmikh/recordio/internal/logging"
)

// Library is the durable blob store collaborator. Save has write-once
// semantics: an id is never written twice by this module.
type Library interface {
	Save(id string, blob []byte) error
}

// SourceMetadata describes one persisted media asset.
type SourceMetadata struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	// DurationMs is the recorded duration of this asset.
	DurationMs int64 `json:"durationMs"`
	HasAudio   bool  `json:"hasAudio"`
	// EventBufferID links the primary screen source to its event buffer.
	// Empty for secondary (camera) sources.
	EventBufferID string `json:"eventBufferId,omitempty"`
}

// Project is the assembled artifact: one or two sources plus the event buffer.
// Ownership transfers to the editor collaborator once created.
type Project struct {
	ID        string           `json:"id"`
	SessionID string           `json:"sessionId"`
	Sources   []SourceMetadata `json:"sources"`
	CreatedAt time.Time        `json:"createdAt"`
}

// NewID returns a fresh opaque asset/project identifier.
func NewID() string {
	return uuid.NewString()
}

// BlobURL is the opaque reference embedded in SourceMetadata.URL for a blob
// stored in the library under id.
func BlobURL(id string) string {
	return "blob:" + id
}

// EditorURL constructs the editor collaborator's entry URL for a finished
// session. The editor owns the project from the moment the user lands there.
func EditorURL(sessionID string) string {
	return fmt.Sprintf("recordio://editor?session=%s", sessionID)
}

// Assembler persists sources and projects into a Library.
type Assembler struct {
	library Library
}

// NewAssembler wires an assembler to the blob store collaborator.
func NewAssembler(library Library) *Assembler {
	return &Assembler{library: library}
}

// SaveBlob stores raw media bytes under a fresh id and returns the id.
func (a *Assembler) SaveBlob(blob []byte) (string, error) {
	id := NewID()
	if err := a.library.Save(id, blob); err != nil {
		return "", fmt.Errorf("save blob %s: %w", id, err)
	}
	logging.Project("Saved blob %s (%d bytes)", id, len(blob))
	return id, nil
}

// SaveProject serializes and stores the project record itself.
func (a *Assembler) SaveProject(p Project) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal project %s: %w", p.ID, err)
	}
	if err := a.library.Save(p.ID, data); err != nil {
		return fmt.Errorf("save project %s: %w", p.ID, err)
	}
	logging.Project("Saved project %s (%d sources)", p.ID, len(p.Sources))
	return nil
}
