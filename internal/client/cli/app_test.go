package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dmitrijs2005/vaultkeeper/internal/client/config"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/models"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/services"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/storage"
	"github.com/dmitrijs2005/vaultkeeper/internal/container"
	"github.com/dmitrijs2005/vaultkeeper/internal/cryptox"
	"github.com/dmitrijs2005/vaultkeeper/internal/logging"
	"github.com/dmitrijs2005/vaultkeeper/internal/remote/remotetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPassphrase = "correct horse battery staple"

type harness struct {
	svc *services.VaultService
	cfg *config.Config
	out bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	old := isTerminal
	isTerminal = func(int) bool { return false }
	t.Cleanup(func() { isTerminal = old })

	db, err := storage.Open(context.Background(), storage.Memory)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.DataDir = t.TempDir()
	cfg.DeviceID = "cli-test"

	kdf := cryptox.KDFParams{Time: 1, Memory: 8 * 1024, Threads: 1}
	svc := services.New(db, services.Options{DeviceID: cfg.DeviceID, DataDir: cfg.DataDir, KDF: &kdf}, logging.Discard())
	return &harness{svc: svc, cfg: cfg}
}

// run executes one command line with input as stdin and returns what it
// printed.
func (h *harness) run(t *testing.T, input string, args ...string) (string, error) {
	t.Helper()
	h.out.Reset()
	a := newApp(h.cfg, h.svc, strings.NewReader(input), &h.out)
	err := a.Run(context.Background(), args)
	return h.out.String(), err
}

func (h *harness) mustRun(t *testing.T, input string, args ...string) string {
	t.Helper()
	out, err := h.run(t, input, args...)
	require.NoError(t, err, out)
	return out
}

func initialized(t *testing.T) *harness {
	t.Helper()
	t.Setenv(PassphraseEnv, testPassphrase)
	h := newHarness(t)
	h.mustRun(t, "", "init")
	return h
}

func TestInit_AsksTwice(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "one\ntwo\n", "init")
	require.ErrorContains(t, err, "do not match")

	out := h.mustRun(t, testPassphrase+"\n"+testPassphrase+"\n", "init")
	assert.Contains(t, out, "Vault initialized")

	_, err = h.run(t, "x\nx\n", "init")
	require.Error(t, err)
}

func TestUnlock(t *testing.T) {
	h := newHarness(t)
	h.mustRun(t, testPassphrase+"\n"+testPassphrase+"\n", "init")
	h.svc.Lock()

	_, err := h.run(t, "wrong\n", "item", "list")
	require.ErrorContains(t, err, "wrong master passphrase")
	assert.True(t, h.svc.Locked())

	h.mustRun(t, testPassphrase+"\n", "item", "list")
	assert.False(t, h.svc.Locked())
}

func TestUnlock_NotInitialized(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "", "item", "list")
	require.ErrorContains(t, err, "not initialized")
}

func TestItemAddShowList(t *testing.T) {
	h := initialized(t)

	id := strings.TrimSpace(h.mustRun(t, "", "item", "add", "--title", "Mail",
		"--set", "username=me", "--set", "password=s3cret", "--set", "website=https://mail.example.com"))
	require.NotEmpty(t, id)

	out := h.mustRun(t, "", "item", "show", id)
	assert.Contains(t, out, "me")
	assert.NotContains(t, out, "s3cret")
	assert.Contains(t, out, "********")

	out = h.mustRun(t, "", "item", "show", id, "--reveal")
	assert.Contains(t, out, "s3cret")

	out = h.mustRun(t, "", "item", "list")
	assert.Contains(t, out, "Mail")
	assert.Contains(t, out, id)

	out = h.mustRun(t, "", "item", "list", "--kind", "note")
	assert.NotContains(t, out, id)
}

func TestItemAdd_Prompts(t *testing.T) {
	h := initialized(t)

	// title, card holder, number, month, year, cvv
	id := lastField(h.mustRun(t, "Visa\nJ DOE\n4111111111111111\n12\n2030\n123\n", "item", "add", "--kind", "card"))

	it, err := h.svc.GetItem(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Visa", it.Title)
	assert.Equal(t, models.CardPayload{Holder: "J DOE", Number: "4111111111111111", ExpMonth: "12", ExpYear: "2030", CVV: "123"}, it.Payload)

	id = lastField(h.mustRun(t, "line one\nline two\n\n", "item", "add", "--kind", "note", "--title", "Memo"))
	it, err = h.svc.GetItem(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.NotePayload{Content: "line one\nline two"}, it.Payload)
}

func TestItemAdd_Errors(t *testing.T) {
	h := initialized(t)

	_, err := h.run(t, "", "item", "add", "--kind", "spaceship", "--title", "x")
	require.Error(t, err)

	_, err = h.run(t, "", "item", "add", "--kind", "note", "--title", "x", "--set", "cvv=1")
	require.Error(t, err)

	_, err = h.run(t, "\n", "item", "add", "--kind", "note")
	require.ErrorContains(t, err, "title is required")
}

func TestEditTimelineRevert(t *testing.T) {
	h := initialized(t)
	ctx := context.Background()

	id := strings.TrimSpace(h.mustRun(t, "", "item", "add", "--title", "Mail", "--set", "password=one"))
	out := h.mustRun(t, "", "item", "edit", id, "--set", "title=Mailbox", "--set", "password=two")
	require.True(t, strings.HasPrefix(out, "recorded "))
	recID := strings.Fields(out)[1]

	out = h.mustRun(t, "", "timeline", "--item", id)
	assert.Contains(t, out, "Mailbox")
	assert.NotContains(t, out, `"two"`)

	out = h.mustRun(t, "", "revert", recID)
	assert.Equal(t, "reverted\n", out)
	it, err := h.svc.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Mail", it.Title)

	out = h.mustRun(t, "", "revert", recID)
	assert.Equal(t, "re-applied\n", out)
}

func TestTrashCommands(t *testing.T) {
	h := initialized(t)

	id := strings.TrimSpace(h.mustRun(t, "", "item", "add", "--kind", "note", "--title", "A", "--set", "content=a"))
	out := h.mustRun(t, "", "item", "trash", id, "missing")
	assert.Contains(t, out, "succeeded=1, skipped=0, failed=1")
	assert.Contains(t, out, "  missing: ")

	out = h.mustRun(t, "", "item", "list", "--trash")
	assert.Contains(t, out, id)

	out = h.mustRun(t, "", "trash", "empty")
	assert.Contains(t, out, "deleted: succeeded=1")
}

func TestOTPCommand(t *testing.T) {
	h := initialized(t)

	id := strings.TrimSpace(h.mustRun(t, "", "item", "add", "--title", "Seed",
		"--uri", "otpauth://hotp/Corp:me?secret=GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ&counter=0"))
	// RFC 4226 appendix D
	assert.Equal(t, "755224\n", h.mustRun(t, "", "otp", id))
	assert.Equal(t, "287082\n", h.mustRun(t, "", "otp", id, "--next"))
}

func TestCategoryCommands(t *testing.T) {
	h := initialized(t)

	cat := strings.TrimSpace(h.mustRun(t, "", "category", "add", "Work"))
	id := strings.TrimSpace(h.mustRun(t, "", "item", "add", "--kind", "note", "--title", "A", "--set", "content=a"))
	out := h.mustRun(t, "", "item", "move", id, "--category", cat)
	assert.Contains(t, out, "moved: succeeded=1")

	h.mustRun(t, "", "category", "rename", cat, "Office")
	out = h.mustRun(t, "", "category", "list")
	assert.Contains(t, out, "Office")

	_, err := h.run(t, "", "category", "link", cat)
	require.ErrorContains(t, err, "--vault")
}

func TestContainerCommands(t *testing.T) {
	h := initialized(t)

	c := container.New("kdbx-pass", "Root")
	c, err := container.AppendEntries(c, "Root/Work", []container.Record{{Title: "VPN", Username: "corp", Password: "x"}})
	require.NoError(t, err)
	data, err := container.Encode(c)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "home.kdbx")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	out := h.mustRun(t, "kdbx-pass\n", "container", "register", "Home", path)
	assert.Contains(t, out, "(1 entries)")
	list, err := h.svc.ListContainers(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	id := list[0].ID
	assert.Contains(t, out, id)

	out = h.mustRun(t, "", "container", "groups", id, "--match", "**/Work")
	assert.Contains(t, out, "Root/Work")

	out = h.mustRun(t, "", "container", "import", id)
	assert.Contains(t, out, "imported: succeeded=1")

	out = h.mustRun(t, "", "container", "list")
	assert.Contains(t, out, "Home")
}

func TestAuditCommand(t *testing.T) {
	h := initialized(t)
	h.svc.WithBreachChecker(noBreaches{})

	h.mustRun(t, "", "item", "add", "--title", "A", "--set", "password=same-pass")
	h.mustRun(t, "", "item", "add", "--title", "B", "--set", "password=same-pass")

	out := h.mustRun(t, "", "audit", "-q")
	assert.Contains(t, out, "Security score:")
	assert.Contains(t, out, "Reused password")
	assert.Regexp(t, `A, B|B, A`, out)
}

type noBreaches struct{}

func (noBreaches) Counts(context.Context, []string, func(done, total int)) (map[string]int, error) {
	return map[string]int{}, nil
}

// lastField skips the prompts printed before the result.
func lastField(s string) string {
	f := strings.Fields(s)
	if len(f) == 0 {
		return ""
	}
	return f[len(f)-1]
}

func TestRemoteFolderCommands(t *testing.T) {
	h := initialized(t)
	srv := remotetest.NewServer("owner@example.com", "remote pass")
	t.Cleanup(srv.Close)
	v, err := h.svc.AddRemoteVault(context.Background(), "Personal", srv.URL, "owner@example.com", "remote pass")
	require.NoError(t, err)

	folder := strings.TrimSpace(h.mustRun(t, "", "remote", "mkfolder", v.ID, "Work"))
	h.mustRun(t, "", "remote", "mvfolder", v.ID, folder, "Office")
	out := h.mustRun(t, "", "remote", "folders", v.ID)
	assert.Contains(t, out, "Office")
	assert.NotContains(t, out, "Work")

	h.mustRun(t, "", "remote", "rmfolder", v.ID, folder)
	out = h.mustRun(t, "", "remote", "folders", v.ID)
	assert.NotContains(t, out, folder)
}
