// Package services is the core facade the CLI talks to. A VaultService owns
// the device session and routes every operation through the field cipher,
// the change log and, for bound entries, the sync reconciler.
package services

import (
	"context"
	"database/sql"
	"net/http"
	"sync"
	"time"

	"github.com/dmitrijs2005/vaultkeeper/internal/audit"
	"github.com/dmitrijs2005/vaultkeeper/internal/changelog"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/dmitrijs2005/vaultkeeper/internal/container"
	"github.com/dmitrijs2005/vaultkeeper/internal/cryptox"
	"github.com/dmitrijs2005/vaultkeeper/internal/logging"
	"github.com/dmitrijs2005/vaultkeeper/internal/remote"
	"github.com/dmitrijs2005/vaultkeeper/internal/syncer"
)

// Options configure a VaultService. Zero values fall back to defaults.
type Options struct {
	DeviceID string
	DataDir  string
	S3       container.S3Settings

	HTTPClient *http.Client
	MaxRetries uint64
	Backoff    time.Duration

	BreachURL     string
	BreachDelay   time.Duration
	BreachRetries uint64

	TrashRetention time.Duration
	// KDF overrides the Argon2id cost of new key material.
	KDF *cryptox.KDFParams
	Now func() time.Time
}

// unlocked is everything that only exists while the device key is loaded.
type unlocked struct {
	session *cryptox.Session
	log     *changelog.Log
	rec     *syncer.Reconciler
}

type VaultService struct {
	db      *sql.DB
	opts    Options
	log     logging.Logger
	keyring *cryptox.Keyring
	store   *container.Store

	mu      sync.RWMutex
	state   *unlocked
	clients map[string]*remote.Client

	breaches audit.BreachChecker
}

func New(db *sql.DB, opts Options, log logging.Logger) *VaultService {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.BreachURL == "" {
		opts.BreachURL = audit.DefaultPwnedURL
	}
	if opts.TrashRetention <= 0 {
		opts.TrashRetention = syncer.DefaultRetention
	}
	var kopts []cryptox.KeyringOption
	if opts.KDF != nil {
		kopts = append(kopts, cryptox.WithKDFParams(*opts.KDF))
	}
	return &VaultService{
		db:      db,
		opts:    opts,
		log:     log,
		keyring: cryptox.NewKeyring(metadata.NewSQLiteRepository(db), kopts...),
		store:   container.NewStore(opts.DataDir, opts.S3, log),
		clients: make(map[string]*remote.Client),
	}
}

// WithBreachChecker replaces the breach lookup used by audits.
func (s *VaultService) WithBreachChecker(b audit.BreachChecker) *VaultService {
	s.breaches = b
	return s
}

// Store is the container store, for wiring an S3 client in tests.
func (s *VaultService) Store() *container.Store { return s.store }

// Initialized reports whether a master passphrase was ever set.
func (s *VaultService) Initialized(ctx context.Context) (bool, error) {
	return s.keyring.Initialized(ctx)
}

// Setup sets the first master passphrase and unlocks the vault.
func (s *VaultService) Setup(ctx context.Context, passphrase []byte) error {
	ok, err := s.keyring.Initialized(ctx)
	if err != nil {
		return err
	}
	if ok {
		return common.ErrAlreadyInitialized
	}
	sess, err := s.keyring.SetMasterPassphrase(ctx, passphrase)
	if err != nil {
		return err
	}
	s.install(sess)
	s.log.Info(ctx, "vault initialized")
	return nil
}

// Unlock derives the device key from passphrase. A wrong passphrase is
// common.ErrAuth.
func (s *VaultService) Unlock(ctx context.Context, passphrase []byte) error {
	sess, err := s.keyring.Unlock(ctx, passphrase)
	if err != nil {
		s.log.Warn(ctx, "unlock failed", "error", err)
		return err
	}
	s.install(sess)
	return nil
}

// Lock drops the device key. Every later operation fails with
// common.ErrLocked until the next Unlock.
func (s *VaultService) Lock() {
	s.install(nil)
}

func (s *VaultService) Locked() bool {
	_, err := s.current()
	return err != nil
}

// VerifyPassphrase reports whether candidate is the master passphrase.
func (s *VaultService) VerifyPassphrase(ctx context.Context, candidate []byte) (bool, error) {
	return s.keyring.VerifyMasterPassphrase(ctx, candidate)
}

// EncryptField seals one value with the device key.
func (s *VaultService) EncryptField(plaintext string) (string, error) {
	st, err := s.current()
	if err != nil {
		return "", err
	}
	return st.session.Encrypt(plaintext)
}

// DecryptField opens a value sealed by EncryptField.
func (s *VaultService) DecryptField(ciphertext string) (string, error) {
	st, err := s.current()
	if err != nil {
		return "", err
	}
	return st.session.Decrypt(ciphertext)
}

func (s *VaultService) current() (*unlocked, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil || s.state.session.Locked() {
		return nil, common.ErrLocked
	}
	return s.state, nil
}

// install replaces the session and locks the previous one.
func (s *VaultService) install(sess *cryptox.Session) {
	var next *unlocked
	if sess != nil {
		next = &unlocked{
			session: sess,
			log:     changelog.New(s.db, sess, s.opts.DeviceID, s.log).WithClock(s.opts.Now),
		}
		next.rec = syncer.New(s.db, sess, connector{s: s, sess: sess}, s.log).WithClock(s.opts.Now).WithJournal(next.log)
	}

	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	if prev != nil && (next == nil || prev.session != next.session) {
		prev.session.Lock()
	}
}
