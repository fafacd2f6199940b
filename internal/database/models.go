package database

import "time"

type Room struct {
	Id           int64
	Title        string
	Category     string
	HostId       int64
	Capacity     int
	IsPrivate    bool
	PasswordHash string
	IsDeleted    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type CreateRoomParams struct {
	Title        string
	Category     string
	HostId       int64
	Capacity     int
	IsPrivate    bool
	PasswordHash string
}
