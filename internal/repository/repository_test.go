package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupdrive/internal/domain"
	"groupdrive/internal/testutil"
)

var now = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func createUser(t *testing.T, db *sqlx.DB, id, email string) {
	t.Helper()
	err := NewUserRepository(db).Create(context.Background(), &domain.User{ID: id, Email: email, CreatedAt: now})
	require.NoError(t, err)
}

func TestUserRepository(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	users := NewUserRepository(db)

	createUser(t, db, "u1", "alice@example.com")

	got, err := users.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got.Email)
	assert.True(t, got.CreatedAt.Equal(now))

	err = users.Create(ctx, &domain.User{ID: "u2", Email: "alice@example.com", CreatedAt: now})
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = users.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAdminRepository(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	admins := NewAdminRepository(db)
	createUser(t, db, "u1", "alice@example.com")

	ok, err := admins.IsAdmin(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, admins.Grant(ctx, "u1", now))
	require.NoError(t, admins.Grant(ctx, "u1", now))
	ok, err = admins.IsAdmin(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, admins.Revoke(ctx, "u1"))
	assert.ErrorIs(t, admins.Revoke(ctx, "u1"), domain.ErrNotFound)
}

func TestGroupRepository(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	groups := NewGroupRepository(db)
	createUser(t, db, "u1", "alice@example.com")
	createUser(t, db, "u2", "bob@example.com")

	g := &domain.Group{Name: "team", CreatorID: "u1", CreatedAt: now}
	require.NoError(t, groups.Create(ctx, g))
	assert.NotZero(t, g.ID)

	err := groups.Create(ctx, &domain.Group{Name: "team", CreatorID: "u2", CreatedAt: now})
	assert.ErrorIs(t, err, domain.ErrConflict)

	member, err := groups.IsMember(ctx, g.ID, "u1")
	require.NoError(t, err)
	assert.True(t, member, "creator is added as a member")

	require.NoError(t, groups.AddMember(ctx, g.ID, "u2", now))
	require.NoError(t, groups.AddMember(ctx, g.ID, "u2", now))
	members, err := groups.ListMembers(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, members)

	byUser, err := groups.ListByUser(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, byUser, 1)
	assert.Equal(t, "team", byUser[0].Name)

	require.NoError(t, groups.RemoveMember(ctx, g.ID, "u2"))
	assert.ErrorIs(t, groups.RemoveMember(ctx, g.ID, "u2"), domain.ErrNotFound)

	_, err = groups.GetByName(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMetadataRepository(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	meta := NewMetadataRepository(db)
	groups := NewGroupRepository(db)
	createUser(t, db, "u1", "alice@example.com")
	g := &domain.Group{Name: "team", CreatorID: "u1", CreatedAt: now}
	require.NoError(t, groups.Create(ctx, g))

	userRow := &domain.Metadata{
		Kind: domain.KindDirectory, Path: "groups/team/restricted",
		UserID: sql.NullString{String: "u1", Valid: true}, Mode: domain.AccessRead, CreatedAt: now,
	}
	require.NoError(t, meta.Upsert(ctx, userRow))
	groupRow := &domain.Metadata{
		Kind: domain.KindDirectory, Path: "groups/team/restricted",
		GroupID: sql.NullInt64{Int64: g.ID, Valid: true}, Mode: domain.AccessRead | domain.AccessCreate, CreatedAt: now,
	}
	require.NoError(t, meta.Upsert(ctx, groupRow))

	// повторный Upsert заменяет запись, а не дублирует её
	userRow.ID = 0
	userRow.Mode = domain.AccessRead | domain.AccessWrite
	require.NoError(t, meta.Upsert(ctx, userRow))

	rows, err := meta.ListByPath(ctx, domain.KindDirectory, "groups/team/restricted")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].UserID.Valid, "user rows come first")
	assert.Equal(t, domain.AccessRead|domain.AccessWrite, rows[0].Mode)

	assert.Equal(t, g.ID, rows[1].GroupID.Int64)
	assert.Equal(t, domain.AccessRead|domain.AccessCreate, rows[1].Mode)

	subjects, err := meta.ListForSubjects(ctx, "u1", []int64{g.ID})
	require.NoError(t, err)
	assert.Len(t, subjects, 2)

	err = meta.Upsert(ctx, &domain.Metadata{Kind: domain.KindFile, Path: "x", Mode: domain.AccessRead, CreatedAt: now})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	tx := db.MustBeginTx(ctx, nil)
	n, err := meta.DeleteTreeTx(ctx, tx, domain.KindDirectory, "groups/team")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.EqualValues(t, 2, n)
}

func TestDeleteTreeEscapesLikePatterns(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	meta := NewMetadataRepository(db)
	createUser(t, db, "u1", "alice@example.com")

	for _, p := range []string{"a_b", "a_b/c", "axb/c"} {
		require.NoError(t, meta.Upsert(ctx, &domain.Metadata{
			Kind: domain.KindDirectory, Path: p,
			UserID: sql.NullString{String: "u1", Valid: true}, Mode: domain.AccessAll, CreatedAt: now,
		}))
	}

	tx := db.MustBeginTx(ctx, nil)
	n, err := meta.DeleteTreeTx(ctx, tx, domain.KindDirectory, "a_b")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.EqualValues(t, 2, n)

	rows, err := meta.ListByPath(ctx, domain.KindDirectory, "axb/c")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestTrashRepository(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	trash := NewTrashRepository(db)
	meta := NewMetadataRepository(db)
	createUser(t, db, "u1", "alice@example.com")

	tx, err := trash.BeginTx(ctx)
	require.NoError(t, err)
	version, err := trash.MaxVersionTx(ctx, tx, "a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, 0, version)

	shadow := &domain.Metadata{
		Kind: domain.KindFile, Path: "deleted_files/a/b_v1_1705314600000.txt",
		UserID: sql.NullString{String: "u1", Valid: true}, Mode: domain.AccessAll, CreatedAt: now,
	}
	require.NoError(t, meta.CreateTx(ctx, tx, shadow, false))
	record := &domain.DeletedFile{ID: uuid.New(), FileMetadataID: shadow.ID, OriginalPath: "a/b.txt", Version: 1, WorkTime: now}
	require.NoError(t, trash.CreateTx(ctx, tx, record))
	version, err = trash.MaxVersionTx(ctx, tx, "a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, 1, version)
	require.NoError(t, tx.Commit())

	got, err := trash.GetByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, "a/b.txt", got.OriginalPath)
	assert.Equal(t, shadow.ID, got.FileMetadataID)

	items, err := trash.ListItems(ctx, "u1", nil, false)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, shadow.Path, items[0].ShadowPath)

	items, err = trash.ListItems(ctx, "someone-else", nil, false)
	require.NoError(t, err)
	assert.Empty(t, items)

	require.NoError(t, trash.UpdateSettings(ctx, &domain.TrashSettings{OwnerID: "u1", RetentionSeconds: 3600, UpdatedAt: now}))
	require.NoError(t, trash.UpdateSettings(ctx, &domain.TrashSettings{OwnerID: "u1", RetentionSeconds: 7200, UpdatedAt: now}))
	settings, err := trash.GetSettings(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, settings.RetentionPeriod())
}

func TestWorkHistoryRepository(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	history := NewWorkHistoryRepository(db)

	require.NoError(t, history.Append(ctx, &domain.WorkHistory{UserID: "u1", OperationType: domain.OperationUpload, Path: "a.txt", Time: now}))
	require.NoError(t, history.Append(ctx, &domain.WorkHistory{UserID: "u1", OperationType: domain.OperationDelete, Path: "a.txt", Time: now.Add(time.Minute)}))

	entries, err := history.ListByUser(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.OperationDelete, entries[0].OperationType)
}
