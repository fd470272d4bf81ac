// Package remotetest runs an in-memory sync service over httptest for tests.
// It speaks the same REST dialect as the real service: prelogin, password
// and refresh grants, sync, and folder and cipher CRUD. Stored bodies are
// kept as the client sent them, so everything stays end-to-end encrypted.
package remotetest

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/vaultkeeper/internal/cryptox"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims are the access-token claims issued by the fake.
type Claims struct {
	jwt.RegisteredClaims
	UserID string
}

const kdfIterations = 1000

type Server struct {
	*httptest.Server

	email    string
	pwHash   string
	userKey  *cryptox.SymmetricKey
	protKey  string
	secret   []byte
	tokenTTL time.Duration

	mu       sync.Mutex
	clock    time.Time
	refresh  map[string]bool
	folders  []map[string]any
	ciphers  []map[string]any
	failures []int
	hits     map[string]int
}

// NewServer starts a fake account for email/password using PBKDF2.
func NewServer(email, password string) *Server {
	email = strings.ToLower(strings.TrimSpace(email))
	kdf := cryptox.RemoteKdf{Type: cryptox.KdfPBKDF2SHA256, Iterations: kdfIterations}
	master, err := cryptox.DeriveRemoteMasterKey([]byte(password), email, kdf)
	if err != nil {
		panic(err)
	}
	stretched, err := cryptox.StretchMasterKey(master)
	if err != nil {
		panic(err)
	}
	raw := make([]byte, 64)
	for i := range raw {
		raw[i] = byte(i*7 + 3)
	}
	userKey, err := cryptox.NewSymmetricKey(raw)
	if err != nil {
		panic(err)
	}
	prot, err := cryptox.Encrypt(raw, stretched)
	if err != nil {
		panic(err)
	}

	s := &Server{
		email:    email,
		pwHash:   cryptox.MasterPasswordHash(master, []byte(password)),
		userKey:  userKey,
		protKey:  prot.String(),
		secret:   []byte("remotetest-secret"),
		tokenTTL: time.Hour,
		clock:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		refresh:  map[string]bool{},
		hits:     map[string]int{},
	}
	s.Server = httptest.NewServer(s.routes())
	return s
}

// Key is the account's vault key, for tests that build enc-strings.
func (s *Server) Key() *cryptox.SymmetricKey { return s.userKey }

// SetTokenTTL changes the lifetime of tokens issued from now on.
func (s *Server) SetTokenTTL(d time.Duration) {
	s.mu.Lock()
	s.tokenTTL = d
	s.mu.Unlock()
}

// FailNext makes the next len(statuses) api requests fail with the given
// statuses, in order.
func (s *Server) FailNext(statuses ...int) {
	s.mu.Lock()
	s.failures = append(s.failures, statuses...)
	s.mu.Unlock()
}

// Hits reports how many requests reached method+" "+path.
func (s *Server) Hits(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[method+" "+path]
}

// CipherIDs lists stored cipher ids in creation order.
func (s *Server) CipherIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.ciphers))
	for _, c := range s.ciphers {
		out = append(out, c["Id"].(string))
	}
	return out
}

// WipeCiphers drops every cipher, as a faulty server would.
func (s *Server) WipeCiphers() {
	s.mu.Lock()
	s.ciphers = nil
	s.mu.Unlock()
}

// RemoveCipher drops one cipher without trashing it.
func (s *Server) RemoveCipher(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := indexOf(s.ciphers, id); i >= 0 {
		s.ciphers = append(s.ciphers[:i], s.ciphers[i+1:]...)
	}
}

// TrashCipher moves a cipher to the remote trash.
func (s *Server) TrashCipher(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := indexOf(s.ciphers, id); i >= 0 {
		s.ciphers[i]["DeletedDate"] = s.tick()
		s.ciphers[i]["RevisionDate"] = s.tick()
	}
}

// TouchCipher bumps the revision as a write from another device would.
func (s *Server) TouchCipher(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := indexOf(s.ciphers, id); i >= 0 {
		s.ciphers[i]["RevisionDate"] = s.tick()
	}
}

// RemoveFolder drops a folder.
func (s *Server) RemoveFolder(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := indexOf(s.folders, id); i >= 0 {
		s.folders = append(s.folders[:i], s.folders[i+1:]...)
	}
}

// PutRawCipher stores body as-is and returns its id.
func (s *Server) PutRawCipher(body map[string]any) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	body["Id"] = id
	body["RevisionDate"] = s.tick()
	s.ciphers = append(s.ciphers, body)
	return id
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /identity/accounts/prelogin", s.handlePrelogin)
	mux.HandleFunc("POST /identity/connect/token", s.handleToken)
	mux.HandleFunc("GET /api/sync", s.api(s.handleSync))
	mux.HandleFunc("POST /api/folders", s.api(s.handleCreateFolder))
	mux.HandleFunc("PUT /api/folders/{id}", s.api(s.handleUpdateFolder))
	mux.HandleFunc("DELETE /api/folders/{id}", s.api(s.handleDeleteFolder))
	mux.HandleFunc("POST /api/ciphers", s.api(s.handleCreateCipher))
	mux.HandleFunc("PUT /api/ciphers/{id}", s.api(s.handleUpdateCipher))
	mux.HandleFunc("DELETE /api/ciphers/{id}", s.api(s.handleDeleteCipher))
	return mux
}

// api counts the request, applies injected failures and checks the bearer
// token before calling next with the lock held.
func (s *Server) api(next func(w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.hits[r.Method+" "+r.URL.Path]++

		if len(s.failures) > 0 {
			status := s.failures[0]
			s.failures = s.failures[1:]
			http.Error(w, http.StatusText(status), status)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || s.verify(token) != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handlePrelogin(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"Kdf": 0, "KdfIterations": kdfIterations})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.PostForm.Get("grant_type") {
	case "password":
		emailHdr := base64.RawURLEncoding.EncodeToString([]byte(s.email))
		if r.PostForm.Get("username") != s.email || r.PostForm.Get("password") != s.pwHash || r.Header.Get("Auth-Email") != emailHdr {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "invalid_username_or_password"})
			return
		}
	case "refresh_token":
		rt := r.PostForm.Get("refresh_token")
		if !s.refresh[rt] {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		delete(s.refresh, rt)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}

	access, err := s.issue()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	rt := uuid.NewString()
	s.refresh[rt] = true
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  access,
		"refresh_token": rt,
		"expires_in":    int(s.tokenTTL / time.Second),
		"token_type":    "Bearer",
		"Key":           s.protKey,
	})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"Profile": map[string]any{"Id": "user-1", "Email": s.email, "Key": s.protKey},
		"Folders": nonNil(s.folders),
		"Ciphers": nonNil(s.ciphers),
	})
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	body["Id"] = uuid.NewString()
	body["RevisionDate"] = s.tick()
	s.folders = append(s.folders, body)
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleUpdateFolder(w http.ResponseWriter, r *http.Request) {
	i := indexOf(s.folders, r.PathValue("id"))
	if i < 0 {
		http.NotFound(w, r)
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	s.folders[i]["Name"] = body["Name"]
	s.folders[i]["RevisionDate"] = s.tick()
	writeJSON(w, http.StatusOK, s.folders[i])
}

func (s *Server) handleDeleteFolder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	i := indexOf(s.folders, id)
	if i < 0 {
		http.NotFound(w, r)
		return
	}
	s.folders = append(s.folders[:i], s.folders[i+1:]...)
	for _, c := range s.ciphers {
		if c["FolderId"] == id {
			c["FolderId"] = nil
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleCreateCipher(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	body["Id"] = uuid.NewString()
	body["RevisionDate"] = s.tick()
	s.ciphers = append(s.ciphers, body)
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleUpdateCipher(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	i := indexOf(s.ciphers, id)
	if i < 0 {
		http.NotFound(w, r)
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	body["Id"] = id
	body["RevisionDate"] = s.tick()
	s.ciphers[i] = body
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleDeleteCipher(w http.ResponseWriter, r *http.Request) {
	i := indexOf(s.ciphers, r.PathValue("id"))
	if i < 0 {
		http.NotFound(w, r)
		return
	}
	s.ciphers = append(s.ciphers[:i], s.ciphers[i+1:]...)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) issue() (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenTTL)),
			ID:        uuid.NewString(),
		},
		UserID: "user-1",
	})
	return token.SignedString(s.secret)
}

func (s *Server) verify(tokenString string) error {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return err
	}
	if !token.Valid || claims.UserID == "" {
		return errors.New("invalid token")
	}
	return nil
}

// tick returns a strictly increasing revision timestamp. Caller holds mu.
func (s *Server) tick() string {
	s.clock = s.clock.Add(time.Second)
	return s.clock.Format(time.RFC3339Nano)
}

func indexOf(items []map[string]any, id string) int {
	for i, it := range items {
		if it["Id"] == id {
			return i
		}
	}
	return -1
}

func nonNil(items []map[string]any) []map[string]any {
	if items == nil {
		return []map[string]any{}
	}
	return items
}

func readBody(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("bad body: %v", err), http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
