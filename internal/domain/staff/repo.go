package staff

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("staff not found")
	ErrShiftNotFound  = errors.New("shift assignment not found")
	ErrDuplicateShift = errors.New("staff already assigned to this shift")
	ErrInvalidInput   = errors.New("invalid input")
)

type StaffRepository interface {
	Create(ctx context.Context, s *Staff) error
	GetByID(ctx context.Context, id uuid.UUID) (*Staff, error)
	Update(ctx context.Context, s *Staff) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f StaffFilter, limit, offset int) ([]*Staff, int, error)
}

type ShiftRepository interface {
	Create(ctx context.Context, a *ShiftAssignment) error
	GetByID(ctx context.Context, id uuid.UUID) (*ShiftAssignment, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f ShiftFilter, limit, offset int) ([]*ShiftAssignment, int, error)
}
