package database

import (
	"context"
	"errors"
)

var ErrRoomNotFound = errors.New("room not found")

// RoomRepository is the durable side of a room. The signaling core only reads
// id, host, capacity and the deletion flag, and only writes capacity and the
// deletion flag.
type RoomRepository interface {
	Ping() error
	FindRoomById(ctx context.Context, id int64) (Room, error)
	Save(ctx context.Context, room Room) error
	// DecrementCapacity lowers capacity by one, never below zero, and returns
	// the new value. Soft-deleted rooms are left untouched and reported as
	// ErrRoomNotFound.
	DecrementCapacity(ctx context.Context, id int64) (int, error)
	// SoftDelete sets the deletion flag and nothing else. A room that is
	// missing or already deleted is reported as ErrRoomNotFound.
	SoftDelete(ctx context.Context, id int64) error
	CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error)
	ListFollowerIds(ctx context.Context, followeeId int64) ([]int64, error)
}
