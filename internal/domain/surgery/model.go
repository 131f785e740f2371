package surgery

import (
	"time"
)

// Staff roles that may appear on a surgical team snapshot.
const (
	RoleAnesthesiologist = "Anesthesiologist"
	RoleSurgicalNurse    = "Surgical Nurse"
	RoleAnesthesiaNurse  = "Anesthesia Nurse"
)

// StaffRef is a copy of a staff directory entry taken at assignment time.
// Later edits to the directory do not change it.
type StaffRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// Team is the clinical team assigned to a surgery.
type Team struct {
	Anesthesiologist *StaffRef  `json:"anesthesiologist,omitempty"`
	Nurses           []StaffRef `json:"nurses"`
}

// SurgeryLog is the intra-operative record. It is audit data only and
// plays no part in transition rules.
type SurgeryLog struct {
	SpongeCountCorrect *bool     `json:"sponge_count_correct,omitempty"`
	InstrumentCount    *int      `json:"instrument_count,omitempty"`
	BloodLossML        *int      `json:"blood_loss_ml,omitempty"`
	Implants           []string  `json:"implants,omitempty"`
	Complications      *string   `json:"complications,omitempty"`
	FollowUpNotes      *string   `json:"follow_up_notes,omitempty"`
	RecordedBy         string    `json:"recorded_by,omitempty"`
	RecordedAt         time.Time `json:"recorded_at"`
}

// Surgery is the scheduling record and the carrier of workflow state.
type Surgery struct {
	ID              string      `json:"id"`
	PatientName     string      `json:"patient_name"`
	MRN             string      `json:"mrn"`
	Procedure       string      `json:"procedure"`
	DoctorName      string      `json:"doctor_name"`
	ScheduledAt     time.Time   `json:"scheduled_at"`
	Status          Status      `json:"status"`
	AssignedOR      *string     `json:"assigned_or,omitempty"`
	AssignedTeam    *Team       `json:"assigned_team,omitempty"`
	SurgeryLog      *SurgeryLog `json:"surgery_log,omitempty"`
	HandoverNotes   *string     `json:"handover_notes,omitempty"`
	ReceivingTeam   []StaffRef  `json:"receiving_team,omitempty"`
	HandoverAt      *time.Time  `json:"handover_at,omitempty"`
	StartTime       *time.Time  `json:"start_time,omitempty"`
	ActualStartTime *time.Time  `json:"actual_start_time,omitempty"`
	EndTime         *time.Time  `json:"end_time,omitempty"`
	CancelReason    *string     `json:"cancel_reason,omitempty"`
	Notes           *string     `json:"notes,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate the result without
// touching s.
func (s *Surgery) Clone() *Surgery {
	if s == nil {
		return nil
	}
	c := *s
	c.AssignedOR = cloneString(s.AssignedOR)
	c.HandoverNotes = cloneString(s.HandoverNotes)
	c.CancelReason = cloneString(s.CancelReason)
	c.Notes = cloneString(s.Notes)
	c.HandoverAt = cloneTime(s.HandoverAt)
	c.StartTime = cloneTime(s.StartTime)
	c.ActualStartTime = cloneTime(s.ActualStartTime)
	c.EndTime = cloneTime(s.EndTime)
	if s.AssignedTeam != nil {
		t := Team{Nurses: append([]StaffRef(nil), s.AssignedTeam.Nurses...)}
		if s.AssignedTeam.Anesthesiologist != nil {
			a := *s.AssignedTeam.Anesthesiologist
			t.Anesthesiologist = &a
		}
		c.AssignedTeam = &t
	}
	if s.ReceivingTeam != nil {
		c.ReceivingTeam = append([]StaffRef(nil), s.ReceivingTeam...)
	}
	if s.SurgeryLog != nil {
		l := *s.SurgeryLog
		l.Implants = append([]string(nil), s.SurgeryLog.Implants...)
		c.SurgeryLog = &l
	}
	return &c
}

// OngoingSurgery is the live-tracking record shown on the OR board. It
// exists from handover onwards and follows the surgery's status.
type OngoingSurgery struct {
	SurgeryID       string     `json:"surgery_id"`
	PatientName     string     `json:"patient_name"`
	MRN             string     `json:"mrn"`
	Procedure       string     `json:"procedure"`
	DoctorName      string     `json:"doctor_name"`
	OperatingRoom   string     `json:"operating_room"`
	Status          Status     `json:"status"`
	StartTime       time.Time  `json:"start_time"`
	ActualStartTime *time.Time `json:"actual_start_time,omitempty"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Fields is a partial document update keyed by JSON field name.
type Fields map[string]interface{}

// ListFilter narrows a surgery listing. Zero values mean no filter.
type ListFilter struct {
	Status Status
	MRN    string
	Room   string
	From   *time.Time
	To     *time.Time
}

func (f ListFilter) match(s *Surgery) bool {
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if f.MRN != "" && s.MRN != f.MRN {
		return false
	}
	if f.Room != "" && (s.AssignedOR == nil || *s.AssignedOR != f.Room) {
		return false
	}
	if f.From != nil && s.ScheduledAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !s.ScheduledAt.Before(*f.To) {
		return false
	}
	return true
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func ptrString(s string) *string { return &s }

func ptrTime(t time.Time) *time.Time { return &t }
