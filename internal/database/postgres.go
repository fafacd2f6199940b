package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const roomColumns = "id, title, category, host_id, capacity, is_private, password_hash, is_deleted, created_at, updated_at"

type PgRoomRepository struct {
	conn *sql.DB
}

func NewPgRoomRepository(dsn string) (*PgRoomRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgRoomRepository{conn: db}, nil
}

func (db *PgRoomRepository) Ping() error {
	return db.conn.Ping()
}

func (db *PgRoomRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

func scanRoom(row interface{ Scan(...any) error }) (Room, error) {
	var room Room
	err := row.Scan(
		&room.Id,
		&room.Title,
		&room.Category,
		&room.HostId,
		&room.Capacity,
		&room.IsPrivate,
		&room.PasswordHash,
		&room.IsDeleted,
		&room.CreatedAt,
		&room.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Room{}, ErrRoomNotFound
	}

	return room, err
}

func (db *PgRoomRepository) FindRoomById(ctx context.Context, id int64) (Room, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+roomColumns+" FROM rooms WHERE id = $1 LIMIT 1",
		id,
	)

	return scanRoom(row)
}

// Save writes back the fields the signaling core owns.
func (db *PgRoomRepository) Save(ctx context.Context, room Room) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE rooms SET capacity = $2, is_deleted = $3, updated_at = $4 WHERE id = $1",
		room.Id,
		room.Capacity,
		room.IsDeleted,
		time.Now().UTC(),
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRoomNotFound
	}

	return nil
}

func (db *PgRoomRepository) DecrementCapacity(ctx context.Context, id int64) (int, error) {
	row := db.conn.QueryRowContext(ctx,
		"UPDATE rooms SET capacity = GREATEST(capacity - 1, 0), updated_at = $2 "+
			"WHERE id = $1 AND is_deleted = FALSE RETURNING capacity",
		id,
		time.Now().UTC(),
	)

	var capacity int
	if err := row.Scan(&capacity); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrRoomNotFound
		}
		return 0, err
	}

	return capacity, nil
}

func (db *PgRoomRepository) SoftDelete(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE rooms SET is_deleted = TRUE, updated_at = $2 WHERE id = $1 AND is_deleted = FALSE",
		id,
		time.Now().UTC(),
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRoomNotFound
	}

	return nil
}

func (db *PgRoomRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	now := time.Now().UTC()
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO rooms (title, category, host_id, capacity, is_private, password_hash, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING "+roomColumns,
		params.Title,
		params.Category,
		params.HostId,
		params.Capacity,
		params.IsPrivate,
		params.PasswordHash,
		now,
		now,
	)

	return scanRoom(row)
}

func (db *PgRoomRepository) ListFollowerIds(ctx context.Context, followeeId int64) ([]int64, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT follower_id FROM follows WHERE followee_id = $1",
		followeeId,
	)
	if err != nil {
		return nil, fmt.Errorf("list followers: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan follower: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}
