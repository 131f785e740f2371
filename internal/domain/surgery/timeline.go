package surgery

import (
	"time"
)

// StageKey identifies a step of the public timeline.
type StageKey string

const (
	StageReception   StageKey = "reception"
	StagePreparation StageKey = "preparation"
	StageInProgress  StageKey = "in_progress"
	StageCompleted   StageKey = "completed"
	StageRecovery    StageKey = "recovery"
)

type stageDef struct {
	key         StageKey
	status      Status
	name        string
	description string
}

// stageCatalog is the same for every surgery.
var stageCatalog = []stageDef{
	{StageReception, StatusReceived, "Penerimaan Pasien", "Pasien telah diterima oleh tim kamar operasi."},
	{StagePreparation, StatusPreparation, "Persiapan Operasi", "Pasien sedang dipersiapkan untuk tindakan operasi."},
	{StageInProgress, StatusInProgress, "Operasi Berlangsung", "Tindakan operasi sedang berlangsung."},
	{StageCompleted, StatusCompleted, "Operasi Selesai", "Tindakan operasi telah selesai."},
	{StageRecovery, StatusRecovery, "Ruang Pemulihan", "Pasien dipindahkan ke ruang pemulihan untuk pemantauan."},
}

// Stage is one entry of PatientStatusData.Stages.
type Stage struct {
	Key         StageKey   `json:"key"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Timestamp   *time.Time `json:"timestamp"`
}

// PatientStatusData is the timeline projection of a surgery.
type PatientStatusData struct {
	SurgeryID     string  `json:"surgery_id,omitempty"`
	Status        Status  `json:"status"`
	OperatingRoom string  `json:"operating_room,omitempty"`
	CurrentStage  string  `json:"current_stage"`
	Stages        []Stage `json:"stages"`
}

// stageIndex maps a status to its position in stageCatalog, or -1 when the
// status has no timeline stage (before reception, or cancelled).
func stageIndex(st Status) int {
	for i, d := range stageCatalog {
		if d.status == st {
			return i
		}
	}
	return -1
}

func ownTimestamp(s *Surgery, key StageKey) *time.Time {
	switch key {
	case StageReception:
		return s.HandoverAt
	case StagePreparation:
		return s.StartTime
	case StageInProgress:
		return s.ActualStartTime
	case StageCompleted:
		return s.EndTime
	default:
		return nil
	}
}

// initialStart is the back-fill value for passed stages that were never
// stamped.
func initialStart(s *Surgery) *time.Time {
	if s.StartTime != nil {
		return s.StartTime
	}
	return s.HandoverAt
}

// DeriveTimeline projects s onto the fixed stage catalog. Passed stages
// carry their recorded time (or the initial start when none was recorded),
// the current stage falls back to now, and later stages have no time. now
// is only used for display and is never written back.
func DeriveTimeline(s *Surgery, now time.Time) PatientStatusData {
	current := stageIndex(s.Status)
	data := PatientStatusData{
		SurgeryID: s.ID,
		Status:    s.Status,
		Stages:    make([]Stage, len(stageCatalog)),
	}
	if s.AssignedOR != nil {
		data.OperatingRoom = *s.AssignedOR
	}
	if current >= 0 {
		data.CurrentStage = stageCatalog[current].name
	}

	for i, d := range stageCatalog {
		st := Stage{Key: d.key, Name: d.name, Description: d.description}
		switch {
		case current < 0 || i > current:
		case i < current:
			ts := ownTimestamp(s, d.key)
			if ts == nil {
				ts = initialStart(s)
			}
			if ts == nil {
				ts = &now
			}
			st.Timestamp = cloneTime(ts)
		default:
			ts := ownTimestamp(s, d.key)
			if ts == nil {
				ts = &now
			}
			st.Timestamp = cloneTime(ts)
		}
		data.Stages[i] = st
	}
	return data
}

// PublicStatus is the only shape of surgery data exposed outside the
// clinical staff surface.
type PublicStatus struct {
	PatientName   *string   `json:"patient_name"`
	OperatingRoom string    `json:"operating_room"`
	Status        Status    `json:"status"`
	LastUpdated   time.Time `json:"last_updated"`
}

// PublicView reduces s to PublicStatus. The patient name is only included
// when showName is set.
func PublicView(s *Surgery, showName bool) PublicStatus {
	p := PublicStatus{Status: s.Status, LastUpdated: s.UpdatedAt}
	if showName {
		p.PatientName = ptrString(s.PatientName)
	}
	if s.AssignedOR != nil {
		p.OperatingRoom = *s.AssignedOR
	}
	return p
}

// PublicTimeline strips a timeline down to stage names and times.
func PublicTimeline(d PatientStatusData) PatientStatusData {
	return PatientStatusData{
		Status:       d.Status,
		CurrentStage: d.CurrentStage,
		Stages:       d.Stages,
	}
}
