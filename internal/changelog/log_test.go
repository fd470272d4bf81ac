package changelog

import (
	"bytes"
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/vaultkeeper/internal/client/models"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/repositories/categories"
	repo "github.com/dmitrijs2005/vaultkeeper/internal/client/repositories/changelog"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/repositories/entries"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/storage"
	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/dmitrijs2005/vaultkeeper/internal/cryptox"
	"github.com/dmitrijs2005/vaultkeeper/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	db      *sql.DB
	session *cryptox.Session
	log     *Log
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.Open(context.Background(), storage.Memory)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := cryptox.NewSession(bytes.Repeat([]byte{7}, 32))
	l := New(db, s, "device-1", logging.Discard()).WithClock(func() time.Time { return t0 })
	return &fixture{db: db, session: s, log: l}
}

func (f *fixture) put(t *testing.T, id string, p models.Payload) *models.Item {
	t.Helper()
	it := &models.Item{
		Entry:   models.Entry{ID: id, Title: "title-" + id, CreatedAt: t0, UpdatedAt: t0},
		Payload: p,
	}
	require.NoError(t, models.Seal(f.session, it))
	require.NoError(t, entries.NewSQLiteRepository(f.db).Create(context.Background(), &it.Entry))
	return it
}

func (f *fixture) load(t *testing.T, id string) *models.Item {
	t.Helper()
	e, err := entries.NewSQLiteRepository(f.db).Get(context.Background(), id)
	require.NoError(t, err)
	it, err := models.Open(f.session, *e)
	require.NoError(t, err)
	return it
}

// edit applies mutate to the stored entry and records the edit.
func (f *fixture) edit(t *testing.T, id string, mutate func(it *models.Item)) *models.ChangeRecord {
	t.Helper()
	before := f.load(t, id)
	after := f.load(t, id)
	mutate(after)
	require.NoError(t, models.Seal(f.session, after))
	require.NoError(t, entries.NewSQLiteRepository(f.db).Update(context.Background(), &after.Entry))
	rec, err := f.log.RecordEdit(context.Background(), nil, before, after)
	require.NoError(t, err)
	return rec
}

func TestDiff_OnlyChangedFields(t *testing.T) {
	before := &models.Item{Entry: models.Entry{Title: "Mail"}, Payload: models.PasswordPayload{Username: "me", Password: "a"}}
	after := &models.Item{Entry: models.Entry{Title: "Mail"}, Payload: models.PasswordPayload{Username: "me", Password: "b"}}

	assert.Equal(t, []models.FieldDiff{{Field: models.LabelPassword, Old: "a", New: "b"}}, Diff(before, after))
	assert.Empty(t, Diff(before, before))
}

func TestRecordEdit_AlwaysRecorded(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.put(t, "e1", models.NotePayload{Content: "same"})

	rec := f.edit(t, "e1", func(*models.Item) {})
	assert.Empty(t, rec.Diffs)

	list, err := f.log.List(ctx, repo.ListOptions{ItemID: "e1"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.OpUpdate, list[0].Operation)
	assert.Equal(t, "device-1", list[0].DeviceID)
	assert.NotNil(t, list[0].Diffs)
}

func TestRecord_DiffsSealedAtRest(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.put(t, "e1", models.PasswordPayload{Password: "hunter2"})
	f.edit(t, "e1", func(it *models.Item) {
		p := it.Payload.(models.PasswordPayload)
		p.Password = "hunter3"
		it.Payload = p
	})

	var sealed string
	require.NoError(t, f.db.QueryRowContext(ctx, `SELECT changes_sealed FROM changelog`).Scan(&sealed))
	assert.NotContains(t, sealed, "hunter2")
	assert.NotContains(t, sealed, "hunter3")
}

func TestRevert_IsToggle(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.put(t, "e1", models.PasswordPayload{Username: "me", Password: "old"})

	rec := f.edit(t, "e1", func(it *models.Item) {
		p := it.Payload.(models.PasswordPayload)
		p.Password = "new"
		it.Payload = p
		it.Title = "Renamed"
	})

	reverted, err := f.log.Revert(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, reverted)
	it := f.load(t, "e1")
	assert.Equal(t, "old", it.Payload.(models.PasswordPayload).Password)
	assert.Equal(t, "title-e1", it.Title)

	reverted, err = f.log.Revert(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, reverted)
	it = f.load(t, "e1")
	assert.Equal(t, "new", it.Payload.(models.PasswordPayload).Password)
	assert.Equal(t, "Renamed", it.Title)
}

func TestRevert_MarksRemoteEntryPending(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	it := f.put(t, "e1", models.NotePayload{Content: "v1"})
	it.Remote = models.RemoteLink{VaultID: "v1", CipherID: "c1"}
	_, err := f.db.ExecContext(ctx, `INSERT INTO remote_vaults(id, name, endpoint, email, created_at) VALUES ('v1', 'n', 'http://x', 'a@b', ?)`, t0)
	require.NoError(t, err)
	require.NoError(t, entries.NewSQLiteRepository(f.db).Update(ctx, &it.Entry))

	rec := f.edit(t, "e1", func(it *models.Item) { it.Payload = models.NotePayload{Content: "v2"} })
	_, err = f.log.Revert(ctx, rec.ID)
	require.NoError(t, err)

	got := f.load(t, "e1")
	assert.Equal(t, "v1", got.Payload.(models.NotePayload).Content)
	assert.True(t, got.Remote.LocalModified)
}

func TestRevert_UnknownLabelFailsWhole(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.put(t, "e1", models.NotePayload{Content: "keep"})

	rec, err := f.log.Record(ctx, nil, models.OpUpdate, string(models.KindNote), "e1", "t", []models.FieldDiff{
		{Field: models.LabelContent, Old: "changed", New: "keep"},
		{Field: "colour", Old: "red", New: "blue"},
	})
	require.NoError(t, err)

	_, err = f.log.Revert(ctx, rec.ID)
	require.ErrorIs(t, err, common.ErrUnknownField)

	assert.Equal(t, "keep", f.load(t, "e1").Payload.(models.NotePayload).Content, "nothing applied")
	row, err := repo.NewSQLiteRepository(f.db).Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, row.IsReverted)
}

func TestRevert_CreateAndDeleteToggleTrash(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	it := f.put(t, "e1", models.NotePayload{Content: "x"})

	created, err := f.log.RecordCreate(ctx, nil, it)
	require.NoError(t, err)
	require.Len(t, created.Diffs, 2) // title + content

	_, err = f.log.Revert(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, f.load(t, "e1").IsDeleted)

	_, err = f.log.Revert(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, f.load(t, "e1").IsDeleted)

	deleted, err := f.log.RecordDelete(ctx, nil, it)
	require.NoError(t, err)
	_, err = f.log.Revert(ctx, deleted.ID)
	require.NoError(t, err)
	assert.False(t, f.load(t, "e1").IsDeleted)
	assert.Equal(t, "x", f.load(t, "e1").Payload.(models.NotePayload).Content)
}

func TestRevert_MissingEntry(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	it := f.put(t, "e1", models.NotePayload{Content: "x"})
	rec, err := f.log.RecordDelete(ctx, nil, it)
	require.NoError(t, err)
	require.NoError(t, entries.NewSQLiteRepository(f.db).Delete(ctx, "e1"))

	_, err = f.log.Revert(ctx, rec.ID)
	require.ErrorIs(t, err, common.ErrRevertTargetMissing)
}

func TestRevert_BatchMoveAllOrNothing(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	cats := categories.NewSQLiteRepository(f.db)
	require.NoError(t, cats.Create(ctx, &models.Category{ID: "home", Name: "Home", CreatedAt: t0}))
	require.NoError(t, cats.Create(ctx, &models.Category{ID: "work", Name: "Work", CreatedAt: t0}))
	f.put(t, "a", models.NotePayload{})
	f.put(t, "b", models.NotePayload{})

	before := []models.MoveState{{EntryID: "a", CategoryID: "home"}, {EntryID: "b", CategoryID: "home"}}
	after := []models.MoveState{{EntryID: "a", CategoryID: "work"}, {EntryID: "b", CategoryID: "work"}}
	for _, st := range after {
		e, err := entries.NewSQLiteRepository(f.db).Get(ctx, st.EntryID)
		require.NoError(t, err)
		e.CategoryID = st.CategoryID
		require.NoError(t, entries.NewSQLiteRepository(f.db).Update(ctx, e))
	}
	rec, err := f.log.RecordBatchMove(ctx, nil, "Move 2 entries", before, after)
	require.NoError(t, err)

	reverted, err := f.log.Revert(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, reverted)
	assert.Equal(t, "home", f.load(t, "a").CategoryID)
	assert.Equal(t, "home", f.load(t, "b").CategoryID)

	// b пропала: повтор должен упасть целиком
	require.NoError(t, entries.NewSQLiteRepository(f.db).Delete(ctx, "b"))
	_, err = f.log.Revert(ctx, rec.ID)
	require.ErrorIs(t, err, common.ErrRevertTargetMissing)
	assert.Equal(t, "home", f.load(t, "a").CategoryID, "a must not be moved alone")

	row, err := repo.NewSQLiteRepository(f.db).Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, row.IsReverted)
}

func TestRevert_BatchTrash(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		f.put(t, id, models.NotePayload{})
	}
	rec, err := f.log.RecordBatchTrash(ctx, nil, "Trash 3 entries", []string{"a", "b", "c"}, true)
	require.NoError(t, err)
	assert.Equal(t, models.OpDelete, rec.Operation)

	// entries are live, so applying Old (deleted=false) is a restore
	_, err = f.log.Revert(ctx, rec.ID)
	require.NoError(t, err)
	_, err = f.log.Revert(ctx, rec.ID)
	require.NoError(t, err)
	for _, id := range []string{"a", "b", "c"} {
		assert.True(t, f.load(t, id).IsDeleted, id)
	}
}

func TestRevert_CategoryRename(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	cats := categories.NewSQLiteRepository(f.db)
	require.NoError(t, cats.Create(ctx, &models.Category{ID: "c1", Name: "Banking", CreatedAt: t0}))

	rec, err := f.log.Record(ctx, nil, models.OpUpdate, models.ItemTypeCategory, "c1", "Finance",
		[]models.FieldDiff{{Field: models.LabelName, Old: "Banking", New: "Finance"}})
	require.NoError(t, err)

	_, err = f.log.Revert(ctx, rec.ID)
	require.NoError(t, err)
	c, err := cats.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Banking", c.Name)

	del, err := f.log.Record(ctx, nil, models.OpDelete, models.ItemTypeCategory, "c1", "Banking", nil)
	require.NoError(t, err)
	_, err = f.log.Revert(ctx, del.ID)
	require.ErrorIs(t, err, common.ErrInvalidArgument)
}

func TestRevert_ConcurrentTogglesSerialize(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.put(t, "e1", models.NotePayload{Content: "a"})
	rec := f.edit(t, "e1", func(it *models.Item) { it.Payload = models.NotePayload{Content: "b"} })

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.log.Revert(ctx, rec.ID)
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	// четыре переключения возвращают исходное состояние
	row, err := repo.NewSQLiteRepository(f.db).Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, row.IsReverted)
	assert.Equal(t, "b", f.load(t, "e1").Payload.(models.NotePayload).Content)
}

func TestReseal_RotatesKey(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.put(t, "e1", models.NotePayload{Content: "a"})
	f.edit(t, "e1", func(it *models.Item) { it.Payload = models.NotePayload{Content: "b"} })

	next := cryptox.NewSession(bytes.Repeat([]byte{9}, 32))
	require.NoError(t, Reseal(ctx, f.db, f.session, next))

	list, err := f.log.WithSealer(next).List(ctx, repo.ListOptions{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []models.FieldDiff{{Field: models.LabelContent, Old: "a", New: "b"}}, list[0].Diffs)

	list, err = f.log.List(ctx, repo.ListOptions{})
	require.NoError(t, err)
	assert.Nil(t, list[0].Diffs, "old key no longer opens diffs")
}

func TestRestoreLink(t *testing.T) {
	tests := []struct {
		name string
		cur  models.RemoteLink
		want models.RemoteLink
		exp  models.RemoteLink
	}{
		{
			name: "local entry takes saved tag",
			cur:  models.RemoteLink{},
			want: models.RemoteLink{VaultID: "v1", FolderID: "f1", LocalModified: true},
			exp:  models.RemoteLink{VaultID: "v1", FolderID: "f1", LocalModified: true},
		},
		{
			name: "stale cipher in snapshot is dropped",
			cur:  models.RemoteLink{},
			want: models.RemoteLink{VaultID: "v1", CipherID: "c-old", Revision: "r", FolderID: "f1"},
			exp:  models.RemoteLink{VaultID: "v1", FolderID: "f1"},
		},
		{
			name: "pushed entry keeps its cipher",
			cur:  models.RemoteLink{VaultID: "v1", CipherID: "c1", Revision: "r1", FolderID: "f1"},
			want: models.RemoteLink{},
			exp:  models.RemoteLink{VaultID: "v1", CipherID: "c1", Revision: "r1", LocalModified: true},
		},
		{
			name: "same folder leaves the flag alone",
			cur:  models.RemoteLink{VaultID: "v1", CipherID: "c1", Revision: "r1", FolderID: "f1"},
			want: models.RemoteLink{VaultID: "v1", FolderID: "f1"},
			exp:  models.RemoteLink{VaultID: "v1", CipherID: "c1", Revision: "r1", FolderID: "f1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.exp, restoreLink(tt.cur, tt.want))
		})
	}
}
