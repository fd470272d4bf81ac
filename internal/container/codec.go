// Package container reads and writes KDBX container files. A Container moves
// through Decoded and Modified states in memory; persistence is handled by
// Store, which serializes access per descriptor and replaces files
// atomically.
package container

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/tobischo/gokeepasslib/v3"
	w "github.com/tobischo/gokeepasslib/v3/wrappers"
)

// State of an in-memory container.
type State int

const (
	Decoded State = iota + 1
	Modified
)

func (s State) String() string {
	switch s {
	case Decoded:
		return "decoded"
	case Modified:
		return "modified"
	default:
		return "unopened"
	}
}

const (
	sigBase      = 0x9AA2D903
	sigSecondary = 0xB54BFB67
	headerMinLen = 12
)

// Standard value keys.
const (
	keyTitle    = "Title"
	keyUserName = "UserName"
	keyPassword = "Password"
	keyURL      = "URL"
	keyNotes    = "Notes"
	keyOTP      = "otp"
)

// Container is a decoded container tree with its credentials.
type Container struct {
	db    *gokeepasslib.Database
	state State
}

func (c *Container) State() State { return c.state }

// Record is the flattened view of one entry.
type Record struct {
	UUID      string
	GroupPath string
	Title     string
	Username  string
	Password  string
	URL       string
	Notes     string
	OTP       string
	Extra     map[string]string
	// Protected names the Extra keys stored as protected values.
	Protected map[string]bool
}

// New creates an empty KDBX 4 container with one root group.
func New(password, rootName string) *Container {
	db := gokeepasslib.NewDatabase(gokeepasslib.WithDatabaseKDBXVersion4())
	db.Credentials = gokeepasslib.NewPasswordCredentials(password)
	root := gokeepasslib.NewGroup()
	root.Name = rootName
	if db.Content.Root == nil {
		db.Content.Root = &gokeepasslib.RootData{}
	}
	db.Content.Root.Groups = []gokeepasslib.Group{root}
	return &Container{db: db, state: Modified}
}

// Decode parses data with password. A bad signature or unreadable structure
// is common.ErrCorruptContainer; a key mismatch is common.ErrWrongPassword.
func Decode(data []byte, password string) (*Container, error) {
	if err := checkSignature(data); err != nil {
		return nil, err
	}

	db := gokeepasslib.NewDatabase()
	db.Credentials = gokeepasslib.NewPasswordCredentials(password)
	if err := gokeepasslib.NewDecoder(bytes.NewReader(data)).Decode(db); err != nil {
		return nil, classify(err)
	}
	if err := db.UnlockProtectedEntries(); err != nil {
		return nil, fmt.Errorf("%w: unlock protected values: %v", common.ErrCorruptContainer, err)
	}
	if db.Content == nil || db.Content.Root == nil {
		return nil, fmt.Errorf("%w: missing root", common.ErrCorruptContainer)
	}
	return &Container{db: db, state: Decoded}, nil
}

// Encode serializes c. The container itself is not mutated; a fresh master
// seed and IV are used for every write.
func Encode(c *Container) ([]byte, error) {
	db := cloneDatabase(c.db)
	if err := refreshSeeds(db); err != nil {
		return nil, err
	}
	if err := db.LockProtectedEntries(); err != nil {
		return nil, fmt.Errorf("lock protected values: %w", err)
	}
	var buf bytes.Buffer
	if err := gokeepasslib.NewEncoder(&buf).Encode(db); err != nil {
		return nil, fmt.Errorf("encode container: %w", err)
	}
	return buf.Bytes(), nil
}

// Records flattens every entry in the tree, in traversal order.
func (c *Container) Records() []Record {
	var out []Record
	var walk func(prefix string, groups []gokeepasslib.Group)
	walk = func(prefix string, groups []gokeepasslib.Group) {
		for _, g := range groups {
			path := joinPath(prefix, g.Name)
			for _, e := range g.Entries {
				out = append(out, toRecord(path, e))
			}
			walk(path, g.Groups)
		}
	}
	walk("", c.db.Content.Root.Groups)
	return out
}

// EntryCount is the number of entries in the tree.
func (c *Container) EntryCount() int {
	return len(c.Records())
}

// AppendEntries returns a Modified copy of c with recs added under
// groupPath. Missing groups along the path are created; an empty path means
// the first root group. c is left unchanged.
func AppendEntries(c *Container, groupPath string, recs []Record) (*Container, error) {
	db := cloneDatabase(c.db)
	root := db.Content.Root
	if len(root.Groups) == 0 {
		g := gokeepasslib.NewGroup()
		g.Name = "Root"
		root.Groups = append(root.Groups, g)
	}

	target := &root.Groups[0]
	if groupPath != "" {
		var err error
		if target, err = ensurePath(root, groupPath); err != nil {
			return nil, err
		}
	}

	for _, r := range recs {
		target.Entries = append(target.Entries, fromRecord(r))
	}
	return &Container{db: db, state: Modified}, nil
}

func ensurePath(root *gokeepasslib.RootData, path string) (*gokeepasslib.Group, error) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: empty group path", common.ErrInvalidArgument)
	}
	groups := &root.Groups
	var cur *gokeepasslib.Group
	for _, name := range parts {
		idx := -1
		for i := range *groups {
			if (*groups)[i].Name == name {
				idx = i
				break
			}
		}
		if idx < 0 {
			g := gokeepasslib.NewGroup()
			g.Name = name
			*groups = append(*groups, g)
			idx = len(*groups) - 1
		}
		cur = &(*groups)[idx]
		groups = &cur.Groups
	}
	return cur, nil
}

func toRecord(path string, e gokeepasslib.Entry) Record {
	r := Record{UUID: uuidString(e.UUID), GroupPath: path}
	for _, v := range e.Values {
		switch v.Key {
		case keyTitle:
			r.Title = v.Value.Content
		case keyUserName:
			r.Username = v.Value.Content
		case keyPassword:
			r.Password = v.Value.Content
		case keyURL:
			r.URL = v.Value.Content
		case keyNotes:
			r.Notes = v.Value.Content
		case keyOTP:
			r.OTP = v.Value.Content
		default:
			if r.Extra == nil {
				r.Extra = map[string]string{}
			}
			r.Extra[v.Key] = v.Value.Content
			if v.Value.Protected.Bool {
				if r.Protected == nil {
					r.Protected = map[string]bool{}
				}
				r.Protected[v.Key] = true
			}
		}
	}
	return r
}

func fromRecord(r Record) gokeepasslib.Entry {
	e := gokeepasslib.NewEntry()
	e.Values = append(e.Values,
		plainValue(keyTitle, r.Title),
		plainValue(keyUserName, r.Username),
		protectedValue(keyPassword, r.Password),
		plainValue(keyURL, r.URL),
		plainValue(keyNotes, r.Notes),
	)
	if r.OTP != "" {
		e.Values = append(e.Values, protectedValue(keyOTP, r.OTP))
	}
	for k, v := range r.Extra {
		if r.Protected[k] {
			e.Values = append(e.Values, protectedValue(k, v))
		} else {
			e.Values = append(e.Values, plainValue(k, v))
		}
	}
	return e
}

func plainValue(key, value string) gokeepasslib.ValueData {
	return gokeepasslib.ValueData{Key: key, Value: gokeepasslib.V{Content: value}}
}

func protectedValue(key, value string) gokeepasslib.ValueData {
	return gokeepasslib.ValueData{Key: key, Value: gokeepasslib.V{Content: value, Protected: w.NewBoolWrapper(true)}}
}

func checkSignature(data []byte) error {
	if len(data) < headerMinLen {
		return fmt.Errorf("%w: file too short", common.ErrCorruptContainer)
	}
	if binary.LittleEndian.Uint32(data[0:4]) != sigBase || binary.LittleEndian.Uint32(data[4:8]) != sigSecondary {
		return fmt.Errorf("%w: bad signature", common.ErrCorruptContainer)
	}
	major := binary.LittleEndian.Uint16(data[10:12])
	if major != 3 && major != 4 {
		return fmt.Errorf("%w: unsupported version %d", common.ErrCorruptContainer, major)
	}
	return nil
}

// classify maps decoder errors. The decoder reports key mismatches through
// the header HMAC (KDBX 4) or the stream start bytes (KDBX 3); both errors
// are unexported and start with "Wrong password?". A block HMAC failure
// after a good header is damage, not a bad key.
func classify(err error) error {
	if errors.Is(err, gokeepasslib.ErrInvalidDatabaseOrCredentials) ||
		strings.HasPrefix(strings.ToLower(err.Error()), "wrong password") {
		return fmt.Errorf("%w: %v", common.ErrWrongPassword, err)
	}
	return fmt.Errorf("%w: %v", common.ErrCorruptContainer, err)
}

func refreshSeeds(db *gokeepasslib.Database) error {
	if db.Header == nil || db.Header.FileHeaders == nil {
		return nil
	}
	h := *db.Header
	fh := *h.FileHeaders
	for _, b := range []*[]byte{&fh.MasterSeed, &fh.EncryptionIV} {
		if len(*b) == 0 {
			continue
		}
		fresh := make([]byte, len(*b))
		if _, err := rand.Read(fresh); err != nil {
			return err
		}
		*b = fresh
	}
	h.FileHeaders = &fh
	db.Header = &h
	return nil
}

func cloneDatabase(src *gokeepasslib.Database) *gokeepasslib.Database {
	db := *src
	if src.Content != nil {
		content := *src.Content
		if src.Content.Root != nil {
			root := *src.Content.Root
			root.Groups = cloneGroups(root.Groups)
			content.Root = &root
		}
		db.Content = &content
	}
	return &db
}

func cloneGroups(in []gokeepasslib.Group) []gokeepasslib.Group {
	if in == nil {
		return nil
	}
	out := make([]gokeepasslib.Group, len(in))
	for i, g := range in {
		g.Groups = cloneGroups(g.Groups)
		g.Entries = cloneEntries(g.Entries)
		out[i] = g
	}
	return out
}

func cloneEntries(in []gokeepasslib.Entry) []gokeepasslib.Entry {
	if in == nil {
		return nil
	}
	out := make([]gokeepasslib.Entry, len(in))
	for i, e := range in {
		e.Values = append([]gokeepasslib.ValueData(nil), e.Values...)
		if e.Histories != nil {
			hs := make([]gokeepasslib.History, len(e.Histories))
			for j, h := range e.Histories {
				h.Entries = cloneEntries(h.Entries)
				hs[j] = h
			}
			e.Histories = hs
		}
		out[i] = e
	}
	return out
}

func uuidString(u gokeepasslib.UUID) string {
	return hex.EncodeToString(u[:])
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func splitPath(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
