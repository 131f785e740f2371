package staff

import (
	"time"

	"github.com/google/uuid"

	"github.com/orcoord/orcoord/internal/domain/surgery"
)

var validRoles = map[string]bool{
	surgery.RoleAnesthesiologist: true,
	surgery.RoleSurgicalNurse:    true,
	surgery.RoleAnesthesiaNurse:  true,
}

// Staff maps to the staff table.
type Staff struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Role      string    `db:"role" json:"role"`
	Phone     *string   `db:"phone" json:"phone,omitempty"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Ref is the copy of s stored on a surgery team.
func (s *Staff) Ref() surgery.StaffRef {
	return surgery.StaffRef{ID: s.ID.String(), Name: s.Name, Role: s.Role}
}

// ShiftAssignment puts one staff member on one shift of one day's roster.
// StaffName and Role are copied when the assignment is made.
type ShiftAssignment struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Date      string    `db:"shift_date" json:"date"`
	Shift     ShiftKey  `db:"shift" json:"shift"`
	StaffID   uuid.UUID `db:"staff_id" json:"staff_id"`
	StaffName string    `db:"staff_name" json:"staff_name"`
	Role      string    `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Roster is the set of assignments for one shift.
type Roster struct {
	Date        string             `json:"date"`
	Shift       ShiftKey           `json:"shift"`
	Assignments []*ShiftAssignment `json:"assignments"`
}

type StaffFilter struct {
	Role       string
	ActiveOnly bool
}

type ShiftFilter struct {
	Date    string
	Shift   ShiftKey
	StaffID *uuid.UUID
	Role    string
}
