package models

import (
	"strings"
	"time"
)

type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Item types beyond entry kinds.
const (
	ItemTypeCategory = "category"
	ItemTypeBatch    = "batch"
)

// Reserved diff fields carrying batch payloads as JSON.
const (
	FieldBatchMove  = "__batch_move_payload"
	FieldBatchTrash = "__batch_copy_payload"
	// FieldPurged marks the deletion of an entry that no longer exists.
	FieldPurged = "__purged"
)

// FieldDiff is one labeled change.
type FieldDiff struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

// Hidden reports whether the diff is internal and not shown to users.
func (d FieldDiff) Hidden() bool { return strings.HasPrefix(d.Field, "__") }

// ChangeRecord is an immutable timeline entry; only IsReverted changes.
type ChangeRecord struct {
	ID         string
	Operation  Operation
	ItemType   string
	ItemID     string
	ItemTitle  string
	Diffs      []FieldDiff
	Timestamp  time.Time
	DeviceID   string
	IsReverted bool
}

// MoveState is the placement of one entry captured for a batch move.
type MoveState struct {
	EntryID    string        `json:"entry_id"`
	CategoryID string        `json:"category_id"`
	Remote     RemoteLink    `json:"remote"`
	Source     ContainerLink `json:"source"`
}

// TrashState is the trash flag of a set of entries for a batch copy.
type TrashState struct {
	EntryIDs []string `json:"entry_ids"`
	Deleted  bool     `json:"deleted"`
}
