package database

import (
	"context"
	"os"
	"testing"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

// newTestRepository connects to TEST_DATABASE_DSN and applies migrations.
func newTestRepository(t *testing.T) *PgRoomRepository {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set")
	}

	db, err := NewPgRoomRepository(dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("expected second migrate to be a no-op: %v", err)
	}

	return db
}

func TestMigrationFilesEmbedded(t *testing.T) {
	entries, err := migrationFiles.ReadDir("migrations")
	assert.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "000001_create_rooms.up.sql")
	assert.Contains(t, names, "000001_create_rooms.down.sql")
	assert.Contains(t, names, "000002_create_follows.up.sql")
	assert.Contains(t, names, "000002_create_follows.down.sql")
}

func TestPgRoomRepository_Rooms(t *testing.T) {
	db := newTestRepository(t)
	ctx := context.Background()

	room, err := db.CreateRoom(ctx, CreateRoomParams{
		Title:    "integration",
		Category: "test",
		HostId:   1,
		Capacity: 2,
	})
	assert.NoError(t, err)
	assert.NotZero(t, room.Id)
	assert.False(t, room.IsDeleted)

	found, err := db.FindRoomById(ctx, room.Id)
	assert.NoError(t, err)
	assert.Equal(t, room.Title, found.Title)
	assert.Equal(t, 2, found.Capacity)

	for _, want := range []int{1, 0, 0} {
		capacity, err := db.DecrementCapacity(ctx, room.Id)
		assert.NoError(t, err)
		assert.Equal(t, want, capacity, "expected capacity to stop at zero")
	}

	found.IsDeleted = true
	assert.NoError(t, db.Save(ctx, found))

	deleted, err := db.FindRoomById(ctx, room.Id)
	assert.NoError(t, err)
	assert.True(t, deleted.IsDeleted)

	_, err = db.DecrementCapacity(ctx, room.Id)
	assert.ErrorIs(t, err, ErrRoomNotFound, "expected deleted rooms to be left alone")

	_, err = db.FindRoomById(ctx, -1)
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.ErrorIs(t, db.Save(ctx, Room{Id: -1}), ErrRoomNotFound)
}

func TestPgRoomRepository_SoftDeleteKeepsCapacity(t *testing.T) {
	db := newTestRepository(t)
	ctx := context.Background()

	room, err := db.CreateRoom(ctx, CreateRoomParams{
		Title:    "soft delete",
		Category: "test",
		HostId:   1,
		Capacity: 4,
	})
	assert.NoError(t, err)

	stale, err := db.FindRoomById(ctx, room.Id)
	assert.NoError(t, err)

	_, err = db.DecrementCapacity(ctx, room.Id)
	assert.NoError(t, err)

	assert.NoError(t, db.SoftDelete(ctx, room.Id))
	assert.ErrorIs(t, db.SoftDelete(ctx, room.Id), ErrRoomNotFound, "expected a second soft delete to find nothing to do")
	assert.ErrorIs(t, db.SoftDelete(ctx, -1), ErrRoomNotFound)

	deleted, err := db.FindRoomById(ctx, room.Id)
	assert.NoError(t, err)
	assert.True(t, deleted.IsDeleted)
	assert.Equal(t, stale.Capacity-1, deleted.Capacity, "expected the decrement to survive the soft delete")
}

func TestPgRoomRepository_ListFollowerIds(t *testing.T) {
	db := newTestRepository(t)
	ctx := context.Background()

	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO follows (follower_id, followee_id) VALUES (101, 100), (102, 100), (100, 103) "+
			"ON CONFLICT DO NOTHING")
	assert.NoError(t, err)

	ids, err := db.ListFollowerIds(ctx, 100)
	assert.NoError(t, err)
	assert.ElementsMatch(t, []int64{101, 102}, ids)

	ids, err = db.ListFollowerIds(ctx, 999)
	assert.NoError(t, err)
	assert.Empty(t, ids)
}
