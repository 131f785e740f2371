package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/orcoord/orcoord/internal/domain/staff"
	"github.com/orcoord/orcoord/internal/domain/surgery"
	"github.com/orcoord/orcoord/internal/platform/activity"
)

var wib = time.FixedZone("WIB", 7*3600)

type pgStack struct {
	surgeries *surgery.Service
	staff     *staff.Service
	log       *activity.PGSink
	async     *activity.Async
}

func newPGStack(t *testing.T, now time.Time) *pgStack {
	t.Helper()
	sink := activity.NewPGSink(globalPool)
	async := activity.NewAsync(sink, 64, zerolog.Nop())

	staffSvc := staff.NewService(staff.NewStaffRepoPG(globalPool), staff.NewShiftRepoPG(globalPool), async)
	staffSvc.SetLocation(wib)
	staffSvc.SetClock(func() time.Time { return now })

	svc := surgery.NewService(surgery.NewStorePG(globalPool), surgery.NewORRoomRepoPG(globalPool), async, nil)
	svc.SetClock(func() time.Time { return now })
	svc.SetAnesthesiologistResolver(staffSvc)

	return &pgStack{surgeries: svc, staff: staffSvc, log: sink, async: async}
}

func (p *pgStack) addStaff(t *testing.T, name, role string) *staff.Staff {
	t.Helper()
	st := &staff.Staff{Name: name, Role: role, IsActive: true}
	if err := p.staff.CreateStaff(context.Background(), st, "scheduler"); err != nil {
		t.Fatalf("CreateStaff %s: %v", name, err)
	}
	return st
}

func TestWorkflow_FullDayOnPostgres(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, wib)
	p := newPGStack(t, now)

	if err := p.surgeries.CreateORRoom(ctx, &surgery.ORRoom{Name: "OK 1", Status: "available", IsActive: true}); err != nil {
		t.Fatalf("CreateORRoom: %v", err)
	}
	anes := p.addStaff(t, "dr. Andi, Sp.An", surgery.RoleAnesthesiologist)
	nurse := p.addStaff(t, "Ns. Rina", surgery.RoleSurgicalNurse)
	err := p.staff.AssignShift(ctx, &staff.ShiftAssignment{Date: "2026-03-02", Shift: staff.ShiftMorning, StaffID: anes.ID}, "scheduler")
	if err != nil {
		t.Fatalf("AssignShift: %v", err)
	}

	sg := &surgery.Surgery{
		PatientName: "Siti Aminah",
		MRN:         "RM-001",
		Procedure:   "Laparoscopic cholecystectomy",
		DoctorName:  "dr. Hadi, Sp.B",
		ScheduledAt: now.Add(2 * time.Hour),
	}
	if err := p.surgeries.CreateSurgery(ctx, sg, "scheduler"); err != nil {
		t.Fatalf("CreateSurgery: %v", err)
	}
	if _, err := p.surgeries.AssignRoom(ctx, sg.ID, "ok 1", "scheduler"); err != nil {
		t.Fatalf("AssignRoom: %v", err)
	}
	out, err := p.surgeries.AssignTeam(ctx, sg.ID, surgery.Team{Nurses: []surgery.StaffRef{nurse.Ref()}}, "scheduler")
	if err != nil {
		t.Fatalf("AssignTeam: %v", err)
	}
	if out.AssignedTeam.Anesthesiologist == nil || out.AssignedTeam.Anesthesiologist.ID != anes.ID.String() {
		t.Fatalf("expected on-duty anesthesiologist to be filled in, got %+v", out.AssignedTeam)
	}
	if *out.AssignedOR != "OK 1" {
		t.Errorf("expected canonical room name, got %s", *out.AssignedOR)
	}

	for _, st := range []surgery.Status{surgery.StatusConfirmed, surgery.StatusReadyToCall, surgery.StatusCalled} {
		if _, err := p.surgeries.Advance(ctx, sg.ID, st, "", "or-staff"); err != nil {
			t.Fatalf("Advance to %s: %v", st, err)
		}
	}

	out, err = p.surgeries.Handover(ctx, sg.ID, "Pasien puasa sejak 00.00", []surgery.StaffRef{nurse.Ref()}, "nurse")
	if err != nil {
		t.Fatalf("Handover: %v", err)
	}
	if out.Status != surgery.StatusReceived || out.HandoverAt == nil {
		t.Fatalf("expected received with handover time, got %+v", out)
	}
	ongoing, err := p.surgeries.ListOngoing(ctx)
	if err != nil {
		t.Fatalf("ListOngoing: %v", err)
	}
	if len(ongoing) != 1 || ongoing[0].OperatingRoom != "OK 1" {
		t.Fatalf("expected one live record in OK 1, got %+v", ongoing)
	}

	for _, st := range []surgery.Status{surgery.StatusPreparation, surgery.StatusInProgress, surgery.StatusCompleted} {
		if _, err := p.surgeries.Advance(ctx, sg.ID, st, "", "or-staff"); err != nil {
			t.Fatalf("Advance to %s: %v", st, err)
		}
	}
	ongoing, err = p.surgeries.ListOngoing(ctx)
	if err != nil {
		t.Fatalf("ListOngoing: %v", err)
	}
	if ongoing[0].Status != surgery.StatusCompleted || ongoing[0].EndTime == nil {
		t.Errorf("expected live record to follow the surgery, got %+v", ongoing[0])
	}

	// Skipping back is refused and leaves the stored record alone.
	_, err = p.surgeries.Advance(ctx, sg.ID, surgery.StatusInProgress, "", "or-staff")
	var te *surgery.TransitionError
	if !errors.As(err, &te) || te.Code != surgery.CodeInvalidOrder {
		t.Fatalf("expected invalid order, got %v", err)
	}

	data, err := p.surgeries.PublicTimeline(ctx, "RM-001")
	if err != nil {
		t.Fatalf("PublicTimeline: %v", err)
	}
	if data.CurrentStage != "Operasi Selesai" {
		t.Errorf("expected current stage Operasi Selesai, got %s", data.CurrentStage)
	}

	if err := p.surgeries.DeleteSurgery(ctx, sg.ID, "scheduler"); err == nil {
		t.Error("expected delete of a tracked surgery to be refused")
	}

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.async.Close(closeCtx); err != nil {
		t.Fatalf("close activity recorder: %v", err)
	}
	entries, total, err := p.log.Recent(ctx, 100, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if total < 10 || len(entries) != total {
		t.Errorf("expected every step in the activity log, got %d entries", total)
	}
}

func TestStaffPG_ShiftsAndRoster(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	night := time.Date(2026, 3, 3, 2, 0, 0, 0, wib)
	p := newPGStack(t, night)

	anes := p.addStaff(t, "dr. Andi, Sp.An", surgery.RoleAnesthesiologist)
	nurse := p.addStaff(t, "Ns. Rina", surgery.RoleSurgicalNurse)

	for _, id := range []*staff.Staff{anes, nurse} {
		a := &staff.ShiftAssignment{Date: "2026-03-02", Shift: staff.ShiftNight, StaffID: id.ID}
		if err := p.staff.AssignShift(ctx, a, "scheduler"); err != nil {
			t.Fatalf("AssignShift: %v", err)
		}
	}
	dup := &staff.ShiftAssignment{Date: "2026-03-02", Shift: staff.ShiftNight, StaffID: anes.ID}
	if err := p.staff.AssignShift(ctx, dup, "scheduler"); !errors.Is(err, staff.ErrDuplicateShift) {
		t.Fatalf("expected ErrDuplicateShift, got %v", err)
	}

	// 02:00 belongs to the previous day's night shift.
	team, err := p.staff.OnDuty(ctx, night)
	if err != nil {
		t.Fatalf("OnDuty: %v", err)
	}
	if team.Date != "2026-03-02" || team.Shift != staff.ShiftNight {
		t.Errorf("expected 2026-03-02 malam, got %s %s", team.Date, team.Shift)
	}
	if len(team.Anesthesiologists) != 1 || len(team.Nurses) != 1 {
		t.Errorf("expected one anesthesiologist and one nurse, got %+v", team)
	}

	items, total, err := p.staff.ListShifts(ctx, staff.ShiftFilter{Role: surgery.RoleSurgicalNurse}, 10, 0)
	if err != nil {
		t.Fatalf("ListShifts: %v", err)
	}
	if total != 1 || items[0].StaffName != "Ns. Rina" || items[0].Date != "2026-03-02" {
		t.Errorf("unexpected shifts: total=%d %+v", total, items)
	}

	// Deleting a staff member drops their assignments with them.
	if err := p.staff.DeleteStaff(ctx, nurse.ID, "scheduler"); err != nil {
		t.Fatalf("DeleteStaff: %v", err)
	}
	_, total, err = p.staff.ListShifts(ctx, staff.ShiftFilter{Date: "2026-03-02"}, 10, 0)
	if err != nil {
		t.Fatalf("ListShifts: %v", err)
	}
	if total != 1 {
		t.Errorf("expected 1 remaining assignment, got %d", total)
	}

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_ = p.async.Close(closeCtx)
}
