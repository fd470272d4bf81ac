package entries

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/models"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/storage"
	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := storage.Open(context.Background(), storage.Memory)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newEntry(id string, kind models.Kind) *models.Entry {
	return &models.Entry{
		ID:        id,
		Kind:      kind,
		Title:     "title-" + id,
		Sealed:    "x1.sealed-" + id,
		CreatedAt: t0,
		UpdatedAt: t0,
	}
}

func ids(list []models.Entry) []string {
	out := make([]string, 0, len(list))
	for _, e := range list {
		out = append(out, e.ID)
	}
	return out
}

func TestCreateGetUpdate_RoundTrip(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	_, err := db.Exec(`INSERT INTO categories(id, name, created_at) VALUES ('cat', 'Work', ?)`, t0)
	require.NoError(t, err)

	e := newEntry("a", models.KindPassword)
	e.CategoryID = "cat"
	e.Source = models.ContainerLink{GroupPath: "Root/Work"}
	e.IsFavorite = true
	e.SortOrder = 3
	require.NoError(t, r.Create(ctx, e))

	got, err := r.Get(ctx, "a")
	require.NoError(t, err)
	if diff := cmp.Diff(e, got); diff != "" {
		t.Fatalf("entry mismatch (-want +got):\n%s", diff)
	}

	// привязка к удалённому шифру и корзина
	deleted := t0.Add(time.Hour)
	e.Remote = models.RemoteLink{VaultID: "v1", CipherID: "c1", FolderID: "f1", Revision: "rev-1", LocalModified: true}
	e.DeletedAt = &deleted
	e.IsDeleted = true
	e.UpdatedAt = deleted
	require.NoError(t, r.Update(ctx, e))

	got, err = r.Get(ctx, "a")
	require.NoError(t, err)
	if diff := cmp.Diff(e, got); diff != "" {
		t.Fatalf("updated entry mismatch (-want +got):\n%s", diff)
	}
}

func TestMissingRows_NotFound(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	_, err := r.Get(ctx, "nope")
	require.ErrorIs(t, err, common.ErrNotFound)
	_, err = r.FindByCipher(ctx, "v", "c")
	require.ErrorIs(t, err, common.ErrNotFound)
	require.ErrorIs(t, r.Update(ctx, newEntry("nope", models.KindNote)), common.ErrNotFound)
	require.ErrorIs(t, r.Delete(ctx, "nope"), common.ErrNotFound)
}

func TestList_Filters(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	live := newEntry("live", models.KindPassword)
	live.SortOrder = 1
	pending := newEntry("pending", models.KindTotp)
	pending.SortOrder = 2
	pending.Remote = models.RemoteLink{VaultID: "v1", LocalModified: true}
	oldTrash := newEntry("old", models.KindNote)
	oldTrash.Trash(t0.Add(-40 * 24 * time.Hour))
	newTrash := newEntry("new", models.KindNote)
	newTrash.Trash(t0)

	for _, e := range []*models.Entry{live, pending, oldTrash, newTrash} {
		require.NoError(t, r.Create(ctx, e))
	}

	got, err := r.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"live", "pending"}, ids(got))

	got, err = r.List(ctx, Filter{Trash: true})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"old", "new"}, ids(got))

	got, err = r.List(ctx, Filter{Any: true, Kind: models.KindNote})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = r.List(ctx, Filter{VaultID: "v1", Pending: true, Any: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"pending"}, ids(got))

	cutoff := t0.Add(-30 * 24 * time.Hour)
	got, err = r.List(ctx, Filter{Trash: true, DeletedBefore: &cutoff})
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, ids(got))
}

func TestBinding_UniqueAndCounted(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	a := newEntry("a", models.KindPassword)
	a.Remote = models.RemoteLink{VaultID: "v1", CipherID: "c1"}
	b := newEntry("b", models.KindPassword)
	b.Remote = models.RemoteLink{VaultID: "v1", CipherID: "c2"}
	b.Trash(t0)
	c := newEntry("c", models.KindPassword)
	c.Remote = models.RemoteLink{VaultID: "v1"} // tagged, not bound
	require.NoError(t, r.Create(ctx, a))
	require.NoError(t, r.Create(ctx, b))
	require.NoError(t, r.Create(ctx, c))

	n, err := r.CountBound(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := r.FindByCipher(ctx, "v1", "c2")
	require.NoError(t, err)
	assert.Equal(t, "b", got.ID)

	dup := newEntry("dup", models.KindPassword)
	dup.Remote = models.RemoteLink{VaultID: "v1", CipherID: "c1"}
	require.Error(t, r.Create(ctx, dup), "one entry per remote cipher")

	require.NoError(t, r.Delete(ctx, "a"))
	n, err = r.CountBound(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDBErrorsWrapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO entries").WillReturnError(errors.New("disk full"))
	err = r.Create(ctx, newEntry("a", models.KindNote))
	require.ErrorContains(t, err, "failed to insert entry")

	mock.ExpectQuery("SELECT (.+) FROM entries").WillReturnError(errors.New("boom"))
	_, err = r.List(ctx, Filter{})
	require.ErrorContains(t, err, "failed to select entries")

	mock.ExpectExec("UPDATE entries SET").WillReturnResult(sqlmock.NewErrorResult(errors.New("no count")))
	err = r.Update(ctx, newEntry("a", models.KindNote))
	require.ErrorContains(t, err, "rows affected")

	mock.ExpectQuery("SELECT COUNT").WillReturnError(errors.New("locked"))
	_, err = r.CountBound(ctx, "v")
	require.ErrorContains(t, err, "failed to count bound entries")

	require.NoError(t, mock.ExpectationsWereMet())
}
