package types

import (
	"time"
)

type Room struct {
	Id        int64     `json:"id"`
	Title     string    `json:"title"`
	Category  string    `json:"category"`
	HostId    int64     `json:"host_id"`
	Capacity  int       `json:"capacity"`
	IsPrivate bool      `json:"is_private"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Notice is a server-sent event pushed to followers.
type Notice struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}
