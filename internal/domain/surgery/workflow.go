package surgery

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidInput marks malformed request data, as opposed to a request
// that is well formed but not allowed in the current state.
var ErrInvalidInput = errors.New("invalid input")

// Advance moves s one step along the workflow to target and returns the
// updated copy. s itself is never modified. The only permitted targets are
// the immediate successor of s.Status and, while the patient has not yet
// been received, StatusCancelled.
func Advance(s *Surgery, target Status, now time.Time) (*Surgery, error) {
	if target == StatusCancelled {
		if !s.Status.Cancellable() {
			return nil, &TransitionError{Code: CodeCancelNotAllowed, From: s.Status, To: target}
		}
	} else {
		next, ok := s.Status.Next()
		if !ok || target != next {
			return nil, &TransitionError{Code: CodeInvalidOrder, From: s.Status, To: target}
		}
	}

	switch target {
	case StatusReadyToCall:
		if missing := missingAssignments(s); len(missing) > 0 {
			return nil, &TransitionError{Code: CodeMissingAssignment, From: s.Status, To: target, Missing: missing}
		}
	case StatusReceived:
		if s.HandoverNotes == nil || strings.TrimSpace(*s.HandoverNotes) == "" {
			return nil, &TransitionError{Code: CodeMissingHandoverNotes, From: s.Status, To: target}
		}
	}

	out := s.Clone()
	out.Status = target
	EnterStage(out, target, now)
	out.UpdatedAt = now
	return out, nil
}

// EnterStage records the stage-entry timestamp for st on s. A timestamp
// that is already set is left as is.
func EnterStage(s *Surgery, st Status, now time.Time) {
	switch st {
	case StatusPreparation:
		if s.StartTime == nil {
			s.StartTime = ptrTime(now)
		}
	case StatusInProgress:
		if s.ActualStartTime == nil {
			s.ActualStartTime = ptrTime(now)
		}
	case StatusCompleted:
		if s.EndTime == nil {
			s.EndTime = ptrTime(now)
		}
	}
}

func missingAssignments(s *Surgery) []string {
	var missing []string
	if s.AssignedOR == nil || strings.TrimSpace(*s.AssignedOR) == "" {
		missing = append(missing, "assigned_or")
	}
	switch {
	case s.AssignedTeam == nil:
		missing = append(missing, "assigned_team")
	default:
		if s.AssignedTeam.Anesthesiologist == nil {
			missing = append(missing, "assigned_team.anesthesiologist")
		}
		if len(s.AssignedTeam.Nurses) == 0 {
			missing = append(missing, "assigned_team.nurses")
		}
	}
	return missing
}

// AssignRoom sets the operating room while the assignment window is open.
func AssignRoom(s *Surgery, room string, now time.Time) (*Surgery, error) {
	room = strings.TrimSpace(room)
	if room == "" {
		return nil, fmt.Errorf("%w: room is required", ErrInvalidInput)
	}
	if !s.Status.AssignmentOpen() {
		return nil, &TransitionError{Code: CodeInvalidState, From: s.Status}
	}
	out := s.Clone()
	out.AssignedOR = &room
	out.UpdatedAt = now
	return out, nil
}

// AssignTeam sets the surgical team while the assignment window is open.
// The anesthesiologist is chosen by the caller; the engine does not look
// at shifts.
func AssignTeam(s *Surgery, team Team, now time.Time) (*Surgery, error) {
	if err := validateTeam(team); err != nil {
		return nil, err
	}
	if !s.Status.AssignmentOpen() {
		return nil, &TransitionError{Code: CodeInvalidState, From: s.Status}
	}
	out := s.Clone()
	t := Team{Nurses: append([]StaffRef(nil), team.Nurses...)}
	if team.Anesthesiologist != nil {
		a := *team.Anesthesiologist
		t.Anesthesiologist = &a
	}
	out.AssignedTeam = &t
	out.UpdatedAt = now
	return out, nil
}

func validateTeam(team Team) error {
	if a := team.Anesthesiologist; a != nil {
		if a.ID == "" {
			return fmt.Errorf("%w: anesthesiologist id is required", ErrInvalidInput)
		}
		if a.Role != "" && a.Role != RoleAnesthesiologist {
			return fmt.Errorf("%w: %s is not an anesthesiologist", ErrInvalidInput, a.Name)
		}
	}
	seen := make(map[string]bool, len(team.Nurses))
	for _, n := range team.Nurses {
		if n.ID == "" {
			return fmt.Errorf("%w: nurse id is required", ErrInvalidInput)
		}
		if n.Role != "" && n.Role != RoleSurgicalNurse && n.Role != RoleAnesthesiaNurse {
			return fmt.Errorf("%w: %s is not a nurse", ErrInvalidInput, n.Name)
		}
		if seen[n.ID] {
			return fmt.Errorf("%w: nurse %s listed twice", ErrInvalidInput, n.ID)
		}
		seen[n.ID] = true
	}
	return nil
}

// Handover attaches the handover record and receives the patient. It is
// only valid while the patient is Dipanggil.
func Handover(s *Surgery, notes string, receiving []StaffRef, now time.Time) (*Surgery, error) {
	if s.Status != StatusCalled {
		return nil, &TransitionError{Code: CodeInvalidOrder, From: s.Status, To: StatusReceived}
	}
	if strings.TrimSpace(notes) == "" {
		return nil, &TransitionError{Code: CodeMissingHandoverNotes, From: s.Status, To: StatusReceived}
	}
	staged := s.Clone()
	staged.HandoverNotes = ptrString(notes)
	staged.ReceivingTeam = append([]StaffRef(nil), receiving...)
	staged.HandoverAt = ptrTime(now)
	return Advance(staged, StatusReceived, now)
}

// RecordLog stores the intra-operative log once the operation has begun.
func RecordLog(s *Surgery, log SurgeryLog, now time.Time) (*Surgery, error) {
	if s.Status == StatusCancelled || s.Status.Index() < StatusInProgress.Index() {
		return nil, &TransitionError{Code: CodeInvalidState, From: s.Status}
	}
	if log.BloodLossML != nil && *log.BloodLossML < 0 {
		return nil, fmt.Errorf("%w: blood loss cannot be negative", ErrInvalidInput)
	}
	out := s.Clone()
	if log.RecordedAt.IsZero() {
		log.RecordedAt = now
	}
	log.Implants = append([]string(nil), log.Implants...)
	out.SurgeryLog = &log
	out.UpdatedAt = now
	return out, nil
}

// NewOngoing builds the live-tracking record created at handover.
func NewOngoing(s *Surgery, startTime time.Time) *OngoingSurgery {
	o := &OngoingSurgery{
		SurgeryID:   s.ID,
		PatientName: s.PatientName,
		MRN:         s.MRN,
		Procedure:   s.Procedure,
		DoctorName:  s.DoctorName,
		Status:      StatusPreparation,
		StartTime:   startTime,
		UpdatedAt:   startTime,
	}
	if s.AssignedOR != nil {
		o.OperatingRoom = *s.AssignedOR
	}
	return o
}

// SyncOngoing copies the surgery's progress onto its live-tracking record.
// The record never moves backwards and keeps its own start time.
func SyncOngoing(o *OngoingSurgery, s *Surgery, now time.Time) {
	if s.Status.Index() > o.Status.Index() {
		o.Status = s.Status
	}
	if o.ActualStartTime == nil && s.ActualStartTime != nil {
		o.ActualStartTime = cloneTime(s.ActualStartTime)
	}
	if o.EndTime == nil && s.EndTime != nil {
		o.EndTime = cloneTime(s.EndTime)
	}
	o.UpdatedAt = now
}
