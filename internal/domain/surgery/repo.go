package surgery

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the document store holding surgeries and their live-tracking
// records. Documents are addressed by surgery ID.
type Store interface {
	Get(ctx context.Context, id string) (*Surgery, error)
	Set(ctx context.Context, s *Surgery) error
	// UpdateFields merges f into the top level of the stored document.
	UpdateFields(ctx context.Context, id string, f Fields) error
	// RunTransaction runs fn against a single transaction. Nothing fn wrote
	// is visible unless fn returns nil and the commit succeeds.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Surgery, int, error)
	FindLatestByMRN(ctx context.Context, mrn string) (*Surgery, error)
	ListOngoing(ctx context.Context) ([]*OngoingSurgery, error)
	// Delete removes the surgery together with its live-tracking record.
	Delete(ctx context.Context, id string) error
}

// Tx is the view of the store inside RunTransaction.
type Tx interface {
	Get(ctx context.Context, id string) (*Surgery, error)
	Set(ctx context.Context, s *Surgery) error
	UpdateFields(ctx context.Context, id string, f Fields) error
	GetOngoing(ctx context.Context, surgeryID string) (*OngoingSurgery, error)
	SetOngoing(ctx context.Context, o *OngoingSurgery) error
	// Now is the transaction's own timestamp.
	Now(ctx context.Context) (time.Time, error)
}

type ORRoomRepository interface {
	Create(ctx context.Context, r *ORRoom) error
	GetByID(ctx context.Context, id uuid.UUID) (*ORRoom, error)
	GetByName(ctx context.Context, name string) (*ORRoom, error)
	Update(ctx context.Context, r *ORRoom) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*ORRoom, int, error)
}
