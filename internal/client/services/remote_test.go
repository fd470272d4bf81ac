package services

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/dmitrijs2005/vaultkeeper/internal/client/models"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/repositories/entries"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/repositories/remotevaults"
	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/dmitrijs2005/vaultkeeper/internal/remote/remotetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	remoteEmail    = "owner@example.com"
	remotePassword = "remote master password"
)

func addRemote(t *testing.T, f *fixture) (*remotetest.Server, *models.RemoteVault) {
	t.Helper()
	srv := remotetest.NewServer(remoteEmail, remotePassword)
	t.Cleanup(srv.Close)
	v, err := f.svc.AddRemoteVault(context.Background(), "Personal", srv.URL, remoteEmail, remotePassword)
	require.NoError(t, err)
	return srv, v
}

func TestAddRemoteVault(t *testing.T) {
	f := newService(t)
	ctx := context.Background()
	srv := remotetest.NewServer(remoteEmail, remotePassword)
	t.Cleanup(srv.Close)

	_, err := f.svc.AddRemoteVault(ctx, "Personal", srv.URL, remoteEmail, "wrong")
	require.ErrorIs(t, err, common.ErrAuth)

	v, err := f.svc.AddRemoteVault(ctx, "Personal", srv.URL, remoteEmail, remotePassword)
	require.NoError(t, err)
	assert.NotEmpty(t, v.SealedAccessToken)
	assert.Len(t, v.SealedEncKey, len(v.SealedMacKey))

	vaults, err := f.svc.ListRemoteVaults(ctx)
	require.NoError(t, err)
	require.Len(t, vaults, 1)
	assert.True(t, vaults[0].FirstSync())
}

func TestSyncAndPush(t *testing.T) {
	f := newService(t)
	ctx := context.Background()
	srv, v := addRemote(t, f)

	folder, err := f.svc.CreateFolder(ctx, v.ID, "Work")
	require.NoError(t, err)
	folders, err := f.svc.Folders(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, []Folder{*folder}, folders)

	cat, err := f.svc.CreateCategory(ctx, "Work")
	require.NoError(t, err)
	tagged, err := f.svc.LinkCategory(ctx, cat.ID, &models.FolderLink{VaultID: v.ID, FolderID: folder.ID})
	require.NoError(t, err)
	assert.Zero(t, tagged)

	it, err := f.svc.AddItem(ctx, "VPN", models.PasswordPayload{Username: "corp", Password: "s3cret"}, cat.ID)
	require.NoError(t, err)
	assert.True(t, it.Remote.LocalModified)

	out, err := f.svc.DrainPending(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Outcome{Succeeded: 1}, out)
	require.Len(t, srv.CipherIDs(), 1)

	got, err := f.svc.GetItem(ctx, it.ID)
	require.NoError(t, err)
	assert.True(t, got.Remote.Bound())
	assert.False(t, got.Remote.LocalModified)

	// an edit flags the entry again and the next drain updates the cipher
	_, err = f.svc.SetFields(ctx, it.ID, []models.Field{{Label: models.LabelPassword, Value: "rotated"}})
	require.NoError(t, err)
	pending, err := f.svc.ListItems(ctx, entries.Filter{Pending: true})
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	_, err = f.svc.DrainPending(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, srv.Hits(http.MethodPut, "/api/ciphers/"+got.Remote.CipherID))

	res, err := f.svc.Sync(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Unchanged)
	vault, err := remotevaults.NewSQLiteRepository(f.db).Get(ctx, v.ID)
	require.NoError(t, err)
	assert.False(t, vault.FirstSync())
}

func TestSync_EmptyVaultGate(t *testing.T) {
	f := newService(t)
	ctx := context.Background()
	srv, v := addRemote(t, f)

	for _, title := range []string{"A", "B"} {
		_, err := f.svc.AddItem(ctx, title, models.PasswordPayload{Username: title, Password: "p"}, "")
		require.NoError(t, err)
	}
	out, err := f.svc.UploadAll(ctx, v.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 2, out.Succeeded)
	_, err = f.svc.Sync(ctx, v.ID)
	require.NoError(t, err)

	srv.WipeCiphers()
	_, err = f.svc.Sync(ctx, v.ID)
	require.ErrorIs(t, err, common.ErrEmptyVaultBlocked)
	live, err := f.svc.ListItems(ctx, entries.Filter{})
	require.NoError(t, err)
	assert.Len(t, live, 2)

	require.NoError(t, f.svc.AllowEmptyOnce(ctx, v.ID))
	res, err := f.svc.Sync(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Removed)
}

func TestPermanentlyDelete_BoundEntry(t *testing.T) {
	f := newService(t)
	ctx := context.Background()
	srv, v := addRemote(t, f)

	it, err := f.svc.AddItem(ctx, "A", models.NotePayload{Content: "a"}, "")
	require.NoError(t, err)
	_, err = f.svc.UploadAll(ctx, v.ID, "")
	require.NoError(t, err)
	require.Len(t, srv.CipherIDs(), 1)

	srv.FailNext(http.StatusBadGateway)
	err = f.svc.PermanentlyDelete(ctx, it.ID)
	require.ErrorIs(t, err, common.ErrNetwork)
	_, err = f.svc.GetItem(ctx, it.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.PermanentlyDelete(ctx, it.ID))
	assert.Empty(t, srv.CipherIDs())
	_, err = f.svc.GetItem(ctx, it.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestConnector_StoresRefreshedTokens(t *testing.T) {
	f := newService(t)
	ctx := context.Background()
	srv := remotetest.NewServer(remoteEmail, remotePassword)
	t.Cleanup(srv.Close)
	// tokens inside the refresh window are renewed before every call
	srv.SetTokenTTL(30 * time.Second)

	v, err := f.svc.AddRemoteVault(ctx, "Personal", srv.URL, remoteEmail, remotePassword)
	require.NoError(t, err)
	before, err := remotevaults.NewSQLiteRepository(f.db).Get(ctx, v.ID)
	require.NoError(t, err)

	_, err = f.svc.Sync(ctx, v.ID)
	require.NoError(t, err)

	after, err := remotevaults.NewSQLiteRepository(f.db).Get(ctx, v.ID)
	require.NoError(t, err)
	assert.NotEqual(t, before.SealedAccessToken, after.SealedAccessToken)
	st, err := f.svc.current()
	require.NoError(t, err)
	oldAccess, err := st.session.Decrypt(before.SealedAccessToken)
	require.NoError(t, err)
	newAccess, err := st.session.Decrypt(after.SealedAccessToken)
	require.NoError(t, err)
	assert.NotEqual(t, oldAccess, newAccess)
}

func TestRemoveRemoteVault_UnbindsEntries(t *testing.T) {
	f := newService(t)
	ctx := context.Background()
	_, v := addRemote(t, f)

	it, err := f.svc.AddItem(ctx, "A", models.NotePayload{Content: "a"}, "")
	require.NoError(t, err)
	_, err = f.svc.UploadAll(ctx, v.ID, "")
	require.NoError(t, err)

	require.NoError(t, f.svc.RemoveRemoteVault(ctx, v.ID))
	got, err := f.svc.GetItem(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RemoteLink{}, got.Remote)
	vaults, err := f.svc.ListRemoteVaults(ctx)
	require.NoError(t, err)
	assert.Empty(t, vaults)
}

func TestRenameAndDeleteFolder(t *testing.T) {
	f := newService(t)
	ctx := context.Background()
	srv, v := addRemote(t, f)

	folder, err := f.svc.CreateFolder(ctx, v.ID, "Work")
	require.NoError(t, err)
	renamed, err := f.svc.RenameFolder(ctx, v.ID, folder.ID, "Office")
	require.NoError(t, err)
	assert.Equal(t, "Office", renamed.Name)
	folders, err := f.svc.Folders(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, []Folder{{ID: folder.ID, Name: "Office"}}, folders)

	cat, err := f.svc.CreateCategory(ctx, "Work")
	require.NoError(t, err)
	_, err = f.svc.LinkCategory(ctx, cat.ID, &models.FolderLink{VaultID: v.ID, FolderID: folder.ID})
	require.NoError(t, err)
	it, err := f.svc.AddItem(ctx, "VPN", models.PasswordPayload{Username: "corp", Password: "s3cret"}, cat.ID)
	require.NoError(t, err)
	_, err = f.svc.DrainPending(ctx, v.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteFolder(ctx, v.ID, folder.ID))
	assert.Equal(t, 1, srv.Hits(http.MethodDelete, "/api/folders/"+folder.ID))

	folders, err = f.svc.Folders(ctx, v.ID)
	require.NoError(t, err)
	assert.Empty(t, folders)
	cats, err := f.svc.ListCategories(ctx)
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Nil(t, cats[0].Link)

	// запись остаётся привязанной к шифру, но без папки
	got, err := f.svc.GetItem(ctx, it.ID)
	require.NoError(t, err)
	assert.True(t, got.Remote.Bound())
	assert.Empty(t, got.Remote.FolderID)
	assert.Len(t, srv.CipherIDs(), 1)

	// a second delete of the same folder is tolerated
	require.NoError(t, f.svc.DeleteFolder(ctx, v.ID, folder.ID))
}
