package models

import (
	"time"
)

// RemoteLink binds an entry to a remote cipher. An entry is local-only while
// CipherID is empty; VaultID without CipherID means "tagged for upload".
type RemoteLink struct {
	VaultID  string
	CipherID string
	FolderID string
	// Revision is the remote revision date last seen for the cipher.
	Revision string
	// LocalModified is set when the entry must be pushed. Only a confirmed
	// push clears it.
	LocalModified bool
}

func (l RemoteLink) Bound() bool { return l.CipherID != "" }

// ContainerLink records where an imported entry came from.
type ContainerLink struct {
	ContainerID string
	GroupPath   string
}

// Entry is the persisted form of a vault entry. Sealed is the encrypted
// payload envelope; the plaintext payload lives only in Item.
type Entry struct {
	ID         string
	Kind       Kind
	Title      string
	Sealed     string
	CategoryID string
	Remote     RemoteLink
	Source     ContainerLink
	IsFavorite bool
	IsDeleted  bool
	DeletedAt  *time.Time
	SortOrder  int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Trash soft-deletes the entry at now.
func (e *Entry) Trash(now time.Time) {
	e.IsDeleted = true
	e.DeletedAt = &now
}

func (e *Entry) Restore() {
	e.IsDeleted = false
	e.DeletedAt = nil
}

// Item is an entry together with its decrypted payload.
type Item struct {
	Entry
	Payload Payload
}

// ItemFields returns the title followed by the payload fields.
func ItemFields(it *Item) []Field {
	return append([]Field{{LabelTitle, it.Title}}, Fields(it.Payload)...)
}

// SetItemField sets a labeled field on it, including the title.
func SetItemField(it *Item, label, value string) error {
	if label == LabelTitle {
		it.Title = value
		return nil
	}
	p, err := SetField(it.Payload, label, value)
	if err != nil {
		return err
	}
	it.Payload = p
	return nil
}
