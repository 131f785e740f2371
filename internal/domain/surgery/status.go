package surgery

import "fmt"

// Status is a stage of the surgery lifecycle. Values are the labels the
// ward uses on its boards and are stored verbatim.
type Status string

const (
	StatusScheduled   Status = "Terjadwal"
	StatusConfirmed   Status = "Terkonfirmasi"
	StatusReadyToCall Status = "Siap Panggil"
	StatusCalled      Status = "Dipanggil"
	StatusReceived    Status = "Pasien Diterima"
	StatusPreparation Status = "Persiapan Operasi"
	StatusInProgress  Status = "Operasi Berlangsung"
	StatusCompleted   Status = "Operasi Selesai"
	StatusRecovery    Status = "Ruang Pemulihan"
	StatusCancelled   Status = "Dibatalkan"
)

// happyPath is the canonical order. Index in this slice is the stage index.
var happyPath = []Status{
	StatusScheduled,
	StatusConfirmed,
	StatusReadyToCall,
	StatusCalled,
	StatusReceived,
	StatusPreparation,
	StatusInProgress,
	StatusCompleted,
	StatusRecovery,
}

// Statuses returns every known status, happy path first.
func Statuses() []Status {
	out := make([]Status, 0, len(happyPath)+1)
	out = append(out, happyPath...)
	return append(out, StatusCancelled)
}

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusScheduled, StatusConfirmed, StatusReadyToCall, StatusCalled,
		StatusReceived, StatusPreparation, StatusInProgress, StatusCompleted,
		StatusRecovery, StatusCancelled:
		return Status(s), nil
	default:
		return "", fmt.Errorf("unknown status: %q", s)
	}
}

// Index returns the position of s on the happy path, or -1 for
// StatusCancelled and unknown values.
func (s Status) Index() int {
	for i, st := range happyPath {
		if st == s {
			return i
		}
	}
	return -1
}

// Next returns the immediate successor on the happy path. ok is false for
// terminal and unknown statuses.
func (s Status) Next() (next Status, ok bool) {
	i := s.Index()
	if i < 0 || i == len(happyPath)-1 {
		return "", false
	}
	return happyPath[i+1], true
}

func (s Status) IsTerminal() bool {
	return s == StatusRecovery || s == StatusCancelled
}

// Cancellable reports whether the surgery may still be cancelled, i.e. the
// patient has not been received into the OR flow.
func (s Status) Cancellable() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusReadyToCall, StatusCalled:
		return true
	case StatusReceived, StatusPreparation, StatusInProgress, StatusCompleted,
		StatusRecovery, StatusCancelled:
		return false
	default:
		panic(fmt.Sprintf("surgery: unhandled status %q", string(s)))
	}
}

// AssignmentOpen reports whether room and team may still be changed.
func (s Status) AssignmentOpen() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

// Label is the English display text for s.
func (s Status) Label() string {
	switch s {
	case StatusScheduled:
		return "Scheduled"
	case StatusConfirmed:
		return "Confirmed"
	case StatusReadyToCall:
		return "Ready to call"
	case StatusCalled:
		return "Called"
	case StatusReceived:
		return "Patient received"
	case StatusPreparation:
		return "Preparation"
	case StatusInProgress:
		return "Surgery in progress"
	case StatusCompleted:
		return "Surgery complete"
	case StatusRecovery:
		return "Recovery"
	case StatusCancelled:
		return "Cancelled"
	default:
		panic(fmt.Sprintf("surgery: unhandled status %q", string(s)))
	}
}

// tracksLive reports whether a surgery in status s has a live-tracking
// record that must follow its transitions.
func (s Status) tracksLive() bool {
	return s.Index() >= StatusReceived.Index()
}
