package surgery

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrRoomNotFound  = errors.New("or room not found")
	ErrDuplicateRoom = errors.New("or room name already in use")
)

// ORRoom maps to the or_room table.
type ORRoom struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Status    string    `db:"status" json:"status"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	Note      *string   `db:"note" json:"note,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

var validORRoomStatuses = map[string]bool{
	"available": true, "in-use": true, "cleaning": true, "maintenance": true,
}
