package models

import (
	"strings"
	"time"
)

/*
 Application layer data models.
*/

const (
	// AnonymousName is stored whenever a submitter leaves the name blank
	AnonymousName = "Anonymous"
	NameMaxLen    = 50
	BodyMaxLen    = 500
)

// Note is a fan note accepted by the submission pipeline. Notes are append-only:
// created once, never mutated, never deleted by this service.
type Note struct {
	ID   string `json:"_id"`
	Rev  string `json:"_rev,omitempty"`
	Name string `json:"name"`
	Body string `json:"body"`
	// HashedID is a one-way salted digest of the submitter's network address,
	// used only for equality comparison in rate limiting
	HashedID  string    `json:"hashed_id"`
	Approved  bool      `json:"approved"`
	CreatedAt time.Time `json:"created_at"`
}

// NewNote assembles a note ready for persistence. The caller supplies the id.
// A blank name defaults to AnonymousName and creation time is server-assigned.
func NewNote(id, name, body, hashedID string) *Note {
	if strings.TrimSpace(name) == "" {
		name = AnonymousName
	}
	return &Note{
		ID:        id,
		Name:      name,
		Body:      body,
		HashedID:  hashedID,
		Approved:  true,
		// truncated to seconds so the stored RFC3339 strings stay uniform and
		// range-comparable
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

// NoteView is the client-facing projection of a note. It must never expose the
// hashed identifier or the approval flag.
type NoteView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (n *Note) View() *NoteView {
	return &NoteView{
		ID:        n.ID,
		Name:      n.Name,
		Content:   n.Body,
		CreatedAt: n.CreatedAt,
	}
}
