package models

import (
	"slices"
	"time"
)

// FolderLink attaches a category to a folder of a remote vault. SyncKinds
// filters which entry kinds follow the link; empty means all kinds.
type FolderLink struct {
	VaultID   string
	FolderID  string
	SyncKinds []Kind
}

func (l FolderLink) Allows(k Kind) bool {
	return len(l.SyncKinds) == 0 || slices.Contains(l.SyncKinds, k)
}

type Category struct {
	ID        string
	Name      string
	SortOrder int
	Link      *FolderLink
	CreatedAt time.Time
}

// GroupBinding maps a group inside a container file to a remote folder.
// (ContainerID, GroupPath) is unique.
type GroupBinding struct {
	ContainerID string
	GroupPath   string
	VaultID     string
	FolderID    string
	UpdatedAt   time.Time
}

// StorageMode says whether a container file is copied into the data
// directory or referenced where it lives.
type StorageMode string

const (
	StorageEmbedded StorageMode = "embedded"
	StorageExternal StorageMode = "external"
)

// ContainerDescriptor describes a registered container file. URI is a local
// path, a file:// URL or an s3://bucket/key reference. SealedPassword is the
// container master password encrypted with the device key.
type ContainerDescriptor struct {
	ID             string
	Name           string
	Mode           StorageMode
	URI            string
	SealedPassword string
	EntryCount     int
	IsDefault      bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
