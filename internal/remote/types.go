package remote

import "time"

// Cipher types as numbered by the remote service.
const (
	CipherTypeLogin      = 1
	CipherTypeSecureNote = 2
	CipherTypeCard       = 3
	CipherTypeIdentity   = 4
)

// Custom field types.
const (
	FieldTypeText   = 0
	FieldTypeHidden = 1
)

type preloginRequest struct {
	Email string `json:"email"`
}

type preloginResponse struct {
	Kdf            int  `json:"Kdf"`
	KdfIterations  int  `json:"KdfIterations"`
	KdfMemory      *int `json:"KdfMemory"`
	KdfParallelism *int `json:"KdfParallelism"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Key          string `json:"Key"`
}

type tokenError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type syncResponse struct {
	Profile profileResponse  `json:"Profile"`
	Folders []folderResponse `json:"Folders"`
	Ciphers []cipherJSON     `json:"Ciphers"`
}

type profileResponse struct {
	ID    string `json:"Id"`
	Email string `json:"Email"`
	Key   string `json:"Key"`
}

type folderRequest struct {
	Name string `json:"Name"`
}

type folderResponse struct {
	ID           string    `json:"Id"`
	Name         string    `json:"Name"`
	RevisionDate time.Time `json:"RevisionDate"`
}

// cipherJSON is a cipher as it travels on the wire: every secret string is
// an enc-string.
type cipherJSON struct {
	ID             string      `json:"Id,omitempty"`
	FolderID       *string     `json:"FolderId"`
	OrganizationID *string     `json:"OrganizationId,omitempty"`
	Type           int         `json:"Type"`
	Key            string      `json:"Key,omitempty"`
	Name           string      `json:"Name"`
	Notes          string      `json:"Notes,omitempty"`
	Favorite       bool        `json:"Favorite"`
	Login          *loginJSON  `json:"Login,omitempty"`
	SecureNote     *noteJSON   `json:"SecureNote,omitempty"`
	Card           *cardJSON   `json:"Card,omitempty"`
	Fields         []fieldJSON `json:"Fields,omitempty"`
	RevisionDate   *time.Time  `json:"RevisionDate,omitempty"`
	DeletedDate    *time.Time  `json:"DeletedDate,omitempty"`
}

type loginJSON struct {
	Username string    `json:"Username,omitempty"`
	Password string    `json:"Password,omitempty"`
	Totp     string    `json:"Totp,omitempty"`
	URIs     []uriJSON `json:"Uris,omitempty"`
}

type uriJSON struct {
	URI string `json:"Uri"`
}

type noteJSON struct {
	Type int `json:"Type"`
}

type cardJSON struct {
	CardholderName string `json:"CardholderName,omitempty"`
	Brand          string `json:"Brand,omitempty"`
	Number         string `json:"Number,omitempty"`
	ExpMonth       string `json:"ExpMonth,omitempty"`
	ExpYear        string `json:"ExpYear,omitempty"`
	Code           string `json:"Code,omitempty"`
}

type fieldJSON struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
	Type  int    `json:"Type"`
}

// Folder is a decrypted remote folder.
type Folder struct {
	ID       string
	Name     string
	Revision time.Time
}

// Login holds the login-specific part of a cipher.
type Login struct {
	Username string
	Password string
	URIs     []string
	Totp     string
}

// Card holds the card-specific part of a cipher.
type Card struct {
	Holder   string
	Brand    string
	Number   string
	ExpMonth string
	ExpYear  string
	Code     string
}

type Field struct {
	Name   string
	Value  string
	Hidden bool
}

// Cipher is a decrypted remote item.
type Cipher struct {
	ID       string
	FolderID string
	Type     int
	Name     string
	Notes    string
	Favorite bool
	Login    *Login
	Card     *Card
	Fields   []Field
	Revision time.Time
	// Deleted is set when the item sits in the remote trash.
	Deleted bool
}

// FieldValue returns the value of the first custom field named name.
func (c *Cipher) FieldValue(name string) string {
	for _, f := range c.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

// CipherFailure is a cipher that could not be decrypted during a sync.
type CipherFailure struct {
	ID  string
	Err error
}

// Snapshot is the decrypted content of a sync response.
type Snapshot struct {
	Folders []Folder
	Ciphers []Cipher
	// Failed lists ciphers skipped because they could not be decrypted.
	Failed []CipherFailure
	// OrganizationSkipped counts ciphers owned by an organization.
	OrganizationSkipped int
}
