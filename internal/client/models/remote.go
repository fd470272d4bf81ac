package models

import "time"

// RemoteVault is a configured remote account. Tokens and the vault key
// halves are stored sealed with the device key.
type RemoteVault struct {
	ID                 string
	Name               string
	Endpoint           string
	Email              string
	SealedAccessToken  string
	SealedRefreshToken string
	SealedEncKey       string
	SealedMacKey       string
	TokenExpiresAt     time.Time
	LastSyncAt         *time.Time
	// AllowEmptyOnce is the user's one-shot confirmation that an empty
	// remote is intentional. The next sync consumes it.
	AllowEmptyOnce bool
	CreatedAt      time.Time
}

// FirstSync reports whether the vault has never been synchronized.
func (v *RemoteVault) FirstSync() bool { return v.LastSyncAt == nil }

// RemoteFolder is the local cache of a remote folder.
type RemoteFolder struct {
	VaultID    string
	FolderID   string
	SealedName string
	Revision   string
}
