package staff

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/orcoord/orcoord/internal/domain/surgery"
	"github.com/orcoord/orcoord/internal/platform/activity"
)

// rosterLimit bounds the assignments read for a single shift.
const rosterLimit = 500

// OnDutyTeam groups the staff rostered on the active shift by role.
type OnDutyTeam struct {
	Date              string             `json:"date"`
	Shift             ShiftKey           `json:"shift"`
	Anesthesiologists []surgery.StaffRef `json:"anesthesiologists"`
	Nurses            []surgery.StaffRef `json:"nurses"`
}

var _ surgery.AnesthesiologistResolver = (*Service)(nil)

type Service struct {
	staff    StaffRepository
	shifts   ShiftRepository
	activity activity.Recorder
	log      zerolog.Logger
	loc      *time.Location
	now      func() time.Time
}

func NewService(staff StaffRepository, shifts ShiftRepository, rec activity.Recorder) *Service {
	return &Service{
		staff:    staff,
		shifts:   shifts,
		activity: rec,
		log:      zerolog.Nop(),
		loc:      time.UTC,
		now:      time.Now,
	}
}

func (s *Service) SetLogger(l zerolog.Logger) {
	s.log = l.With().Str("component", "staff").Logger()
}

// SetLocation sets the hospital's time zone used to resolve shifts.
func (s *Service) SetLocation(loc *time.Location) {
	if loc != nil {
		s.loc = loc
	}
}

func (s *Service) SetClock(now func() time.Time) { s.now = now }

// -- Staff --

func validateStaff(st *Staff) error {
	st.Name = strings.TrimSpace(st.Name)
	if st.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if !validRoles[st.Role] {
		return fmt.Errorf("%w: invalid role: %q", ErrInvalidInput, st.Role)
	}
	return nil
}

func (s *Service) CreateStaff(ctx context.Context, st *Staff, actor string) error {
	if err := validateStaff(st); err != nil {
		return err
	}
	st.IsActive = true
	if err := s.staff.Create(ctx, st); err != nil {
		return err
	}
	s.record(ctx, "staff.created", fmt.Sprintf("Staf %s (%s) ditambahkan", st.Name, st.Role), actor)
	return nil
}

func (s *Service) GetStaff(ctx context.Context, id uuid.UUID) (*Staff, error) {
	return s.staff.GetByID(ctx, id)
}

func (s *Service) UpdateStaff(ctx context.Context, st *Staff, actor string) error {
	if err := validateStaff(st); err != nil {
		return err
	}
	if err := s.staff.Update(ctx, st); err != nil {
		return err
	}
	s.record(ctx, "staff.updated", fmt.Sprintf("Data staf %s diperbarui", st.Name), actor)
	return nil
}

func (s *Service) DeleteStaff(ctx context.Context, id uuid.UUID, actor string) error {
	st, err := s.staff.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.staff.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, "staff.deleted", fmt.Sprintf("Staf %s dihapus", st.Name), actor)
	return nil
}

func (s *Service) ListStaff(ctx context.Context, f StaffFilter, limit, offset int) ([]*Staff, int, error) {
	return s.staff.List(ctx, f, limit, offset)
}

// -- Shifts --

// AssignShift rosters an active staff member. The staff member's name and
// role are copied onto the assignment.
func (s *Service) AssignShift(ctx context.Context, a *ShiftAssignment, actor string) error {
	date, err := ParseDate(a.Date)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	key, err := ParseShiftKey(string(a.Shift))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	st, err := s.staff.GetByID(ctx, a.StaffID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: unknown staff %s", ErrInvalidInput, a.StaffID)
		}
		return err
	}
	if !st.IsActive {
		return fmt.Errorf("%w: staff %s is inactive", ErrInvalidInput, st.Name)
	}

	a.Date, a.Shift = date, key
	a.StaffName, a.Role = st.Name, st.Role
	if err := s.shifts.Create(ctx, a); err != nil {
		return err
	}
	s.record(ctx, "shift.assigned", fmt.Sprintf("%s dijadwalkan shift %s tanggal %s", st.Name, key, date), actor)
	return nil
}

func (s *Service) RemoveShift(ctx context.Context, id uuid.UUID, actor string) error {
	a, err := s.shifts.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.shifts.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, "shift.removed", fmt.Sprintf("%s dihapus dari shift %s tanggal %s", a.StaffName, a.Shift, a.Date), actor)
	return nil
}

func (s *Service) ListShifts(ctx context.Context, f ShiftFilter, limit, offset int) ([]*ShiftAssignment, int, error) {
	return s.shifts.List(ctx, f, limit, offset)
}

// RosterAt returns the assignments of the shift covering at.
func (s *Service) RosterAt(ctx context.Context, at time.Time) (*Roster, error) {
	date, key := ResolveActiveShift(at, s.loc)
	items, _, err := s.shifts.List(ctx, ShiftFilter{Date: date, Shift: key}, rosterLimit, 0)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*ShiftAssignment{}
	}
	return &Roster{Date: date, Shift: key, Assignments: items}, nil
}

func (s *Service) CurrentRoster(ctx context.Context) (*Roster, error) {
	return s.RosterAt(ctx, s.now())
}

// OnDuty lists the active staff rostered on the shift covering at. Entries
// come from the current directory, so renamed or deactivated staff are
// reflected.
func (s *Service) OnDuty(ctx context.Context, at time.Time) (*OnDutyTeam, error) {
	roster, err := s.RosterAt(ctx, at)
	if err != nil {
		return nil, err
	}
	team := &OnDutyTeam{
		Date:              roster.Date,
		Shift:             roster.Shift,
		Anesthesiologists: []surgery.StaffRef{},
		Nurses:            []surgery.StaffRef{},
	}
	for _, a := range roster.Assignments {
		st, err := s.activeStaff(ctx, a)
		if err != nil {
			return nil, err
		}
		if st == nil {
			continue
		}
		if st.Role == surgery.RoleAnesthesiologist {
			team.Anesthesiologists = append(team.Anesthesiologists, st.Ref())
		} else {
			team.Nurses = append(team.Nurses, st.Ref())
		}
	}
	return team, nil
}

// OnDutyAnesthesiologist returns the first active anesthesiologist on the
// shift covering at, ordered by name, or nil when none is rostered.
func (s *Service) OnDutyAnesthesiologist(ctx context.Context, at time.Time) (*surgery.StaffRef, error) {
	date, key := ResolveActiveShift(at, s.loc)
	items, _, err := s.shifts.List(ctx, ShiftFilter{Date: date, Shift: key, Role: surgery.RoleAnesthesiologist}, rosterLimit, 0)
	if err != nil {
		return nil, err
	}
	for _, a := range items {
		st, err := s.activeStaff(ctx, a)
		if err != nil {
			return nil, err
		}
		if st != nil && st.Role == surgery.RoleAnesthesiologist {
			ref := st.Ref()
			return &ref, nil
		}
	}
	s.log.Debug().Str("date", date).Str("shift", string(key)).Msg("no anesthesiologist on duty")
	return nil, nil
}

// activeStaff returns nil for assignments whose staff member was removed or
// deactivated after rostering.
func (s *Service) activeStaff(ctx context.Context, a *ShiftAssignment) (*Staff, error) {
	st, err := s.staff.GetByID(ctx, a.StaffID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !st.IsActive {
		return nil, nil
	}
	return st, nil
}

func (s *Service) record(ctx context.Context, action, desc, actor string) {
	if s.activity == nil {
		return
	}
	s.activity.Record(ctx, action, desc, actor)
}
