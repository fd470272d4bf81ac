// Package entries provides the client-side persistence layer for vault entries.
//
// # Overview
//
// Repository stores models.Entry rows: the kind, the plaintext title, the
// sealed payload envelope, category ownership, remote binding columns,
// container provenance and the trash lifecycle (is_deleted, deleted_at).
// SQLiteRepository persists them through a dbx.DBTX, so the same code runs
// on *sql.DB or inside a transaction.
//
// # Binding
//
// An entry is local-only while remote_cipher_id is NULL. A remote vault id
// without a cipher id marks an entry tagged for its first upload. The pair
// (remote_vault_id, remote_cipher_id) is unique.
//
// Typical Usage
//
//	repo := entries.NewSQLiteRepository(db)
//	_ = repo.Create(ctx, e)
//	live, _ := repo.List(ctx, entries.Filter{})
//	pending, _ := repo.List(ctx, entries.Filter{VaultID: id, Pending: true, Any: true})
package entries
