package surgery

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

var (
	anesA  = StaffRef{ID: "st-a", Name: "dr. Andi, Sp.An", Role: RoleAnesthesiologist}
	nurse1 = StaffRef{ID: "st-n1", Name: "Ns. Rina", Role: RoleSurgicalNurse}
	nurse2 = StaffRef{ID: "st-n2", Name: "Ns. Budi", Role: RoleAnesthesiaNurse}
)

func newScheduled() *Surgery {
	return &Surgery{
		ID:          "s-1",
		PatientName: "Siti Aminah",
		MRN:         "RM-001",
		Procedure:   "Laparoscopic cholecystectomy",
		DoctorName:  "dr. Hadi, Sp.B",
		ScheduledAt: t0.Add(2 * time.Hour),
		Status:      StatusScheduled,
		CreatedAt:   t0,
		UpdatedAt:   t0,
	}
}

func fullTeam() Team {
	a := anesA
	return Team{Anesthesiologist: &a, Nurses: []StaffRef{nurse1, nurse2}}
}

// atStatus builds a surgery that has walked the happy path up to st with
// every precondition satisfied.
func atStatus(t *testing.T, st Status) *Surgery {
	t.Helper()
	s := newScheduled()
	s.AssignedOR = ptrString("OK 1")
	team := fullTeam()
	s.AssignedTeam = &team
	now := t0
	for s.Status != st {
		now = now.Add(10 * time.Minute)
		next, ok := s.Status.Next()
		require.True(t, ok, "cannot reach %s", st)
		var err error
		if next == StatusReceived {
			s, err = Handover(s, "Pasien puasa sejak 00.00", []StaffRef{nurse1}, now)
		} else {
			s, err = Advance(s, next, now)
		}
		require.NoError(t, err)
	}
	return s
}

func requireCode(t *testing.T, err error, code ErrorCode) *TransitionError {
	t.Helper()
	var te *TransitionError
	require.True(t, errors.As(err, &te), "expected TransitionError, got %v", err)
	assert.Equal(t, code, te.Code)
	return te
}

func TestStatus_Order(t *testing.T) {
	all := Statuses()
	require.Len(t, all, 10)
	for i, st := range all[:9] {
		assert.Equal(t, i, st.Index())
	}
	assert.Equal(t, -1, StatusCancelled.Index())

	next, ok := StatusCalled.Next()
	assert.True(t, ok)
	assert.Equal(t, StatusReceived, next)
	_, ok = StatusRecovery.Next()
	assert.False(t, ok)
	_, ok = StatusCancelled.Next()
	assert.False(t, ok)
}

func TestStatus_ParseAndLabel(t *testing.T) {
	for _, st := range Statuses() {
		got, err := ParseStatus(string(st))
		require.NoError(t, err)
		assert.Equal(t, st, got)
		assert.NotEmpty(t, st.Label())
	}
	_, err := ParseStatus("Selesai")
	assert.Error(t, err)
	assert.Panics(t, func() { Status("Unknown").Label() })
	assert.Panics(t, func() { Status("Unknown").Cancellable() })
}

func TestAdvance_OnlyImmediateSuccessor(t *testing.T) {
	for i, from := range Statuses() {
		for _, target := range Statuses() {
			if target == StatusCancelled {
				continue
			}
			s := &Surgery{ID: "x", Status: from, AssignedOR: ptrString("OK 1"), HandoverNotes: ptrString("ok")}
			team := fullTeam()
			s.AssignedTeam = &team

			out, err := Advance(s, target, t0)
			want, ok := from.Next()
			if ok && target == want {
				require.NoError(t, err, "%s -> %s", from, target)
				assert.Equal(t, target, out.Status)
				assert.Equal(t, i+1, out.Status.Index())
			} else {
				requireCode(t, err, CodeInvalidOrder)
				assert.Nil(t, out)
			}
			assert.Equal(t, from, s.Status, "input must not change")
		}
	}
}

func TestAdvance_ReadyToCallGating(t *testing.T) {
	team := fullTeam()
	noNurses := Team{Anesthesiologist: team.Anesthesiologist}
	noAnes := Team{Nurses: team.Nurses}

	tests := []struct {
		name    string
		room    *string
		team    *Team
		missing []string
	}{
		{"no room", nil, &team, []string{"assigned_or"}},
		{"blank room", ptrString("  "), &team, []string{"assigned_or"}},
		{"no team", ptrString("OK 1"), nil, []string{"assigned_team"}},
		{"no nurses", ptrString("OK 1"), &noNurses, []string{"assigned_team.nurses"}},
		{"no anesthesiologist", ptrString("OK 1"), &noAnes, []string{"assigned_team.anesthesiologist"}},
		{"nothing", nil, nil, []string{"assigned_or", "assigned_team"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Surgery{ID: "x", Status: StatusConfirmed, AssignedOR: tt.room, AssignedTeam: tt.team}
			_, err := Advance(s, StatusReadyToCall, t0)
			te := requireCode(t, err, CodeMissingAssignment)
			assert.Equal(t, tt.missing, te.Missing)
			assert.Equal(t, StatusConfirmed, s.Status)
		})
	}

	s := &Surgery{ID: "x", Status: StatusConfirmed, AssignedOR: ptrString("OK 1"), AssignedTeam: &team}
	out, err := Advance(s, StatusReadyToCall, t0)
	require.NoError(t, err)
	assert.Equal(t, StatusReadyToCall, out.Status)
}

func TestAdvance_CallIsNotIdempotent(t *testing.T) {
	s := atStatus(t, StatusCalled)
	_, err := Advance(s, StatusCalled, t0)
	requireCode(t, err, CodeInvalidOrder)
}

func TestAdvance_ReceiveNeedsHandoverNotes(t *testing.T) {
	s := atStatus(t, StatusCalled)
	_, err := Advance(s, StatusReceived, t0)
	requireCode(t, err, CodeMissingHandoverNotes)

	s.HandoverNotes = ptrString("   ")
	_, err = Advance(s, StatusReceived, t0)
	requireCode(t, err, CodeMissingHandoverNotes)
}

func TestAdvance_StampsStageTimes(t *testing.T) {
	s := atStatus(t, StatusReceived)
	assert.Nil(t, s.StartTime)

	prep, err := Advance(s, StatusPreparation, t0.Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, prep.StartTime)
	assert.Equal(t, t0.Add(time.Hour), *prep.StartTime)
	assert.Nil(t, s.StartTime, "input must not change")

	running, err := Advance(prep, StatusInProgress, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, t0.Add(2*time.Hour), *running.ActualStartTime)

	done, err := Advance(running, StatusCompleted, t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, t0.Add(3*time.Hour), *done.EndTime)
	assert.Equal(t, t0.Add(time.Hour), *done.StartTime)

	rec, err := Advance(done, StatusRecovery, t0.Add(4*time.Hour))
	require.NoError(t, err)
	assert.True(t, rec.Status.IsTerminal())
	assert.Equal(t, t0.Add(4*time.Hour), rec.UpdatedAt)
}

func TestAdvance_StartTimeNeverOverwritten(t *testing.T) {
	s := atStatus(t, StatusPreparation)
	start := *s.StartTime

	// Erroneous repeat.
	_, err := Advance(s, StatusPreparation, t0.Add(5*time.Hour))
	requireCode(t, err, CodeInvalidOrder)
	assert.Equal(t, start, *s.StartTime)

	// Re-entering the stage directly.
	EnterStage(s, StatusPreparation, t0.Add(6*time.Hour))
	assert.Equal(t, start, *s.StartTime)

	for _, st := range []Status{StatusInProgress, StatusCompleted, StatusRecovery} {
		s, err = Advance(s, st, t0.Add(7*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, start, *s.StartTime)
	}
}

func TestCancel(t *testing.T) {
	for _, st := range []Status{StatusScheduled, StatusConfirmed, StatusReadyToCall, StatusCalled} {
		s := atStatus(t, st)
		out, err := Advance(s, StatusCancelled, t0)
		require.NoError(t, err, st)
		assert.Equal(t, StatusCancelled, out.Status)
		assert.True(t, out.Status.IsTerminal())

		_, err = Advance(out, StatusConfirmed, t0)
		requireCode(t, err, CodeInvalidOrder)
		_, err = Advance(out, StatusCancelled, t0)
		requireCode(t, err, CodeCancelNotAllowed)
	}
	for _, st := range []Status{StatusReceived, StatusPreparation, StatusInProgress, StatusCompleted, StatusRecovery} {
		s := atStatus(t, st)
		_, err := Advance(s, StatusCancelled, t0)
		requireCode(t, err, CodeCancelNotAllowed)
		assert.Equal(t, st, s.Status)
	}
}

func TestAssignRoom(t *testing.T) {
	s := newScheduled()
	out, err := AssignRoom(s, " OK 3 ", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "OK 3", *out.AssignedOR)
	assert.Nil(t, s.AssignedOR)

	_, err = AssignRoom(s, "", t0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	late := atStatus(t, StatusReadyToCall)
	_, err = AssignRoom(late, "OK 2", t0)
	requireCode(t, err, CodeInvalidState)
	assert.Equal(t, "OK 1", *late.AssignedOR)
}

func TestAssignTeam(t *testing.T) {
	s := newScheduled()
	team := fullTeam()
	out, err := AssignTeam(s, team, t0)
	require.NoError(t, err)
	require.NotNil(t, out.AssignedTeam)
	assert.Len(t, out.AssignedTeam.Nurses, 2)

	// The stored team is a snapshot.
	team.Nurses[0].Name = "changed"
	team.Anesthesiologist.Name = "changed"
	assert.Equal(t, "Ns. Rina", out.AssignedTeam.Nurses[0].Name)
	assert.Equal(t, "dr. Andi, Sp.An", out.AssignedTeam.Anesthesiologist.Name)

	_, err = AssignTeam(s, Team{Nurses: []StaffRef{nurse1, nurse1}}, t0)
	assert.ErrorIs(t, err, ErrInvalidInput)
	wrongRole := nurse1
	_, err = AssignTeam(s, Team{Anesthesiologist: &wrongRole}, t0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = AssignTeam(atStatus(t, StatusCalled), fullTeam(), t0)
	requireCode(t, err, CodeInvalidState)
}

func TestHandover(t *testing.T) {
	s := atStatus(t, StatusCalled)
	at := t0.Add(3 * time.Hour)
	out, err := Handover(s, "Alergi penisilin", []StaffRef{nurse2}, at)
	require.NoError(t, err)
	assert.Equal(t, StatusReceived, out.Status)
	assert.Equal(t, "Alergi penisilin", *out.HandoverNotes)
	assert.Equal(t, []StaffRef{nurse2}, out.ReceivingTeam)
	assert.Equal(t, at, *out.HandoverAt)
	assert.Nil(t, s.HandoverNotes)

	_, err = Handover(s, "  ", nil, at)
	requireCode(t, err, CodeMissingHandoverNotes)

	_, err = Handover(out, "again", nil, at)
	requireCode(t, err, CodeInvalidOrder)

	_, err = Handover(atStatus(t, StatusConfirmed), "early", nil, at)
	requireCode(t, err, CodeInvalidOrder)
}

func TestRecordLog(t *testing.T) {
	blood := 150
	ok := true
	l := SurgeryLog{SpongeCountCorrect: &ok, BloodLossML: &blood, Implants: []string{"mesh"}}

	_, err := RecordLog(atStatus(t, StatusPreparation), l, t0)
	requireCode(t, err, CodeInvalidState)

	s := atStatus(t, StatusInProgress)
	out, err := RecordLog(s, l, t0)
	require.NoError(t, err)
	require.NotNil(t, out.SurgeryLog)
	assert.Equal(t, 150, *out.SurgeryLog.BloodLossML)
	assert.Equal(t, t0, out.SurgeryLog.RecordedAt)
	assert.Equal(t, s.Status, out.Status)

	neg := -1
	_, err = RecordLog(s, SurgeryLog{BloodLossML: &neg}, t0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestOngoing_FollowsSurgery(t *testing.T) {
	s := atStatus(t, StatusReceived)
	o := NewOngoing(s, t0)
	assert.Equal(t, StatusPreparation, o.Status)
	assert.Equal(t, "OK 1", o.OperatingRoom)
	assert.Equal(t, t0, o.StartTime)

	// Entering Persiapan Operasi does not move the record backwards or
	// change its start time.
	prep, err := Advance(s, StatusPreparation, t0.Add(time.Minute))
	require.NoError(t, err)
	SyncOngoing(o, prep, t0.Add(time.Minute))
	assert.Equal(t, StatusPreparation, o.Status)
	assert.Equal(t, t0, o.StartTime)

	running, err := Advance(prep, StatusInProgress, t0.Add(time.Hour))
	require.NoError(t, err)
	SyncOngoing(o, running, t0.Add(time.Hour))
	assert.Equal(t, StatusInProgress, o.Status)
	assert.Equal(t, t0.Add(time.Hour), *o.ActualStartTime)

	SyncOngoing(o, s, t0.Add(2*time.Hour))
	assert.Equal(t, StatusInProgress, o.Status)
}

// Worked examples of the scheduling workflow.

func TestScenario_ScheduleToReadyToCall(t *testing.T) {
	s := newScheduled()
	s, err := AssignRoom(s, "OK 1", t0)
	require.NoError(t, err)
	s, err = AssignTeam(s, fullTeam(), t0)
	require.NoError(t, err)
	s, err = Advance(s, StatusConfirmed, t0)
	require.NoError(t, err)
	s, err = Advance(s, StatusReadyToCall, t0)
	require.NoError(t, err)
	assert.Equal(t, StatusReadyToCall, s.Status)
}

func TestScenario_SkipToCalled(t *testing.T) {
	s := newScheduled()
	_, err := Advance(s, StatusCalled, t0)
	requireCode(t, err, CodeInvalidOrder)
	assert.Equal(t, StatusScheduled, s.Status)
}

func TestScenario_EmptyTeamRetry(t *testing.T) {
	s := newScheduled()
	s.Status = StatusConfirmed
	s.AssignedOR = ptrString("OK 1")
	_, err := Advance(s, StatusReadyToCall, t0)
	te := requireCode(t, err, CodeMissingAssignment)
	assert.Contains(t, te.Missing, "assigned_team")
	assert.Contains(t, te.Error(), "assigned_team")
}

func TestScenario_ActualStartKept(t *testing.T) {
	s := atStatus(t, StatusInProgress)
	first := *s.ActualStartTime
	EnterStage(s, StatusInProgress, first.Add(time.Hour))
	assert.Equal(t, first, *s.ActualStartTime)
}

func TestScenario_CancelAfterReception(t *testing.T) {
	s := atStatus(t, StatusReceived)
	_, err := Advance(s, StatusCancelled, t0)
	requireCode(t, err, CodeCancelNotAllowed)
	assert.True(t, IsTransitionError(err, CodeCancelNotAllowed))
}
