package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"teledrive-go/internal/model"
)

func newGormTestRepo(t *testing.T) *GormFileRepository {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "teledrive.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	repo, err := NewGormFileRepository(db)
	require.NoError(t, err)
	return repo
}

func TestGormFileRepository_AppendGetList(t *testing.T) {
	ctx := context.Background()
	repo := newGormTestRepo(t)

	a := newTestRecord(1)
	b := newTestRecord(2)
	b.Remote = &model.RemoteReference{
		Provider:  "telegram",
		FileID:    "BQACAgUAAxkBAAI",
		MessageID: 9,
		ChatID:    -100,
		RelayedAt: time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
	}
	require.NoError(t, repo.Append(ctx, a))
	require.NoError(t, repo.Append(ctx, b))

	records, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, a.ID, records[0].ID)
	assert.Nil(t, records[0].Remote)
	require.NotNil(t, records[1].Remote)
	assert.Equal(t, *b.Remote, *records[1].Remote)

	got, err := repo.FindByStoredName(ctx, b.StoredName)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
	assert.True(t, got.UploadedAt.Equal(b.UploadedAt))

	_, err = repo.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestGormFileRepository_RejectsCollisions(t *testing.T) {
	ctx := context.Background()
	repo := newGormTestRepo(t)

	first := newTestRecord(1)
	require.NoError(t, repo.Append(ctx, first))

	sameID := newTestRecord(2)
	sameID.ID = first.ID
	assert.ErrorIs(t, repo.Append(ctx, sameID), ErrDuplicateID)

	sameName := newTestRecord(3)
	sameName.StoredName = first.StoredName
	assert.ErrorIs(t, repo.Append(ctx, sameName), ErrDuplicateStoredName)

	records, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestGormFileRepository_UpdateAndRemove(t *testing.T) {
	ctx := context.Background()
	repo := newGormTestRepo(t)
	rec := newTestRecord(1)
	require.NoError(t, repo.Append(ctx, rec))

	err := repo.Update(ctx, rec.ID, func(r *model.FileRecord) error {
		r.OriginalName = "renamed.txt"
		r.StoredName = "other"
		r.Remote = &model.RemoteReference{Provider: "minio", ObjectKey: "k"}
		return nil
	})
	require.NoError(t, err)

	got, err := repo.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed.txt", got.OriginalName)
	assert.Equal(t, rec.StoredName, got.StoredName)
	require.NotNil(t, got.Remote)
	assert.Equal(t, "k", got.Remote.ObjectKey)

	assert.ErrorIs(t, repo.Update(ctx, "missing", func(*model.FileRecord) error { return nil }), ErrRecordNotFound)

	removed, err := repo.Remove(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = repo.Remove(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestGormFileRepository_DuplicateKeyNamesTheCollidingColumn(t *testing.T) {
	ctx := context.Background()
	repo := newGormTestRepo(t)
	a := newTestRecord(1)
	require.NoError(t, repo.Append(ctx, a))

	sameName := newTestRecord(2)
	sameName.StoredName = a.StoredName
	assert.ErrorIs(t, repo.duplicateOf(ctx, sameName, gorm.ErrDuplicatedKey), ErrDuplicateStoredName)

	sameID := newTestRecord(3)
	sameID.ID = a.ID
	assert.ErrorIs(t, repo.duplicateOf(ctx, sameID, gorm.ErrDuplicatedKey), ErrDuplicateID)

	// 两个键都不冲突时保留原始错误
	err := repo.duplicateOf(ctx, newTestRecord(4), gorm.ErrDuplicatedKey)
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
	assert.NotErrorIs(t, err, ErrDuplicateID)
}
