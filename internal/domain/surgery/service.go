package surgery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/orcoord/orcoord/internal/platform/activity"
	"github.com/orcoord/orcoord/internal/platform/metrics"
	"github.com/orcoord/orcoord/internal/platform/websocket"
)

// Live board topics.
const (
	TopicSurgeries = "surgeries"
	TopicOngoing   = "ongoing-surgeries"
)

// AnesthesiologistResolver finds the anesthesiologist on duty at a given
// time. It returns nil when nobody is rostered.
type AnesthesiologistResolver interface {
	OnDutyAnesthesiologist(ctx context.Context, at time.Time) (*StaffRef, error)
}

type Service struct {
	store     Store
	orRooms   ORRoomRepository
	activity  activity.Recorder
	events    websocket.EventPublisher
	metrics   *metrics.Metrics
	resolver  AnesthesiologistResolver
	log       zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
	showNames bool
}

func NewService(store Store, orRooms ORRoomRepository, rec activity.Recorder, events websocket.EventPublisher) *Service {
	return &Service{
		store:    store,
		orRooms:  orRooms,
		activity: rec,
		events:   events,
		log:      zerolog.Nop(),
		tracer:   otel.Tracer("github.com/orcoord/orcoord/internal/domain/surgery"),
		now:      time.Now,
	}
}

func (s *Service) SetLogger(l zerolog.Logger) {
	s.log = l.With().Str("component", "surgery").Logger()
}

func (s *Service) SetMetrics(m *metrics.Metrics) { s.metrics = m }

func (s *Service) SetClock(now func() time.Time) { s.now = now }

// SetAnesthesiologistResolver enables filling in the anesthesiologist from
// the shift roster when a team is assigned without one.
func (s *Service) SetAnesthesiologistResolver(r AnesthesiologistResolver) { s.resolver = r }

// SetShowPatientName controls whether public lookups include the patient's
// name.
func (s *Service) SetShowPatientName(show bool) { s.showNames = show }

func (s *Service) startSpan(ctx context.Context, name, id string) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "surgery."+name)
	if id != "" {
		span.SetAttributes(attribute.String("surgery.id", id))
	}
	return ctx, span
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// -- Surgery --

func (s *Service) CreateSurgery(ctx context.Context, sg *Surgery, actor string) (err error) {
	ctx, span := s.startSpan(ctx, "Create", "")
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(sg.PatientName) == "" {
		return fmt.Errorf("%w: patient_name is required", ErrInvalidInput)
	}
	if strings.TrimSpace(sg.MRN) == "" {
		return fmt.Errorf("%w: mrn is required", ErrInvalidInput)
	}
	if strings.TrimSpace(sg.Procedure) == "" {
		return fmt.Errorf("%w: procedure is required", ErrInvalidInput)
	}
	if strings.TrimSpace(sg.DoctorName) == "" {
		return fmt.Errorf("%w: doctor_name is required", ErrInvalidInput)
	}
	if sg.ScheduledAt.IsZero() {
		return fmt.Errorf("%w: scheduled_at is required", ErrInvalidInput)
	}

	now := s.now()
	*sg = Surgery{
		ID:          uuid.New().String(),
		PatientName: strings.TrimSpace(sg.PatientName),
		MRN:         strings.TrimSpace(sg.MRN),
		Procedure:   strings.TrimSpace(sg.Procedure),
		DoctorName:  strings.TrimSpace(sg.DoctorName),
		ScheduledAt: sg.ScheduledAt,
		Status:      StatusScheduled,
		Notes:       sg.Notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	span.SetAttributes(attribute.String("surgery.id", sg.ID))
	if err := s.store.Set(ctx, sg); err != nil {
		return err
	}

	s.record(ctx, "surgery.created",
		fmt.Sprintf("Operasi %s untuk %s dijadwalkan %s", sg.Procedure, sg.PatientName, sg.ScheduledAt.Format("2006-01-02 15:04")), actor)
	s.publish(ctx, TopicSurgeries, "surgery.created", sg.ID, sg)
	return nil
}

func (s *Service) GetSurgery(ctx context.Context, id string) (*Surgery, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) ListSurgeries(ctx context.Context, f ListFilter, limit, offset int) ([]*Surgery, int, error) {
	return s.store.List(ctx, f, limit, offset)
}

// SurgeryPatch holds the descriptive fields that may be edited outside the
// workflow. Nil fields are left as they are.
type SurgeryPatch struct {
	PatientName *string    `json:"patient_name"`
	MRN         *string    `json:"mrn"`
	Procedure   *string    `json:"procedure"`
	DoctorName  *string    `json:"doctor_name"`
	ScheduledAt *time.Time `json:"scheduled_at"`
	Notes       *string    `json:"notes"`
}

func (p SurgeryPatch) fields() (Fields, error) {
	f := Fields{}
	required := []struct {
		key string
		val *string
	}{
		{"patient_name", p.PatientName},
		{"mrn", p.MRN},
		{"procedure", p.Procedure},
		{"doctor_name", p.DoctorName},
	}
	for _, r := range required {
		if r.val == nil {
			continue
		}
		v := strings.TrimSpace(*r.val)
		if v == "" {
			return nil, fmt.Errorf("%w: %s cannot be blank", ErrInvalidInput, r.key)
		}
		f[r.key] = v
	}
	if p.ScheduledAt != nil {
		if p.ScheduledAt.IsZero() {
			return nil, fmt.Errorf("%w: scheduled_at cannot be empty", ErrInvalidInput)
		}
		f["scheduled_at"] = *p.ScheduledAt
	}
	if p.Notes != nil {
		f["notes"] = *p.Notes
	}
	if len(f) == 0 {
		return nil, fmt.Errorf("%w: nothing to update", ErrInvalidInput)
	}
	return f, nil
}

// UpdateSurgery edits descriptive fields. Workflow fields are never touched
// here.
func (s *Service) UpdateSurgery(ctx context.Context, id string, p SurgeryPatch, actor string) (out *Surgery, err error) {
	ctx, span := s.startSpan(ctx, "Update", id)
	defer func() { endSpan(span, err) }()

	f, err := p.fields()
	if err != nil {
		return nil, err
	}
	f["updated_at"] = s.now()
	if err := s.store.UpdateFields(ctx, id, f); err != nil {
		return nil, err
	}
	out, err = s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.record(ctx, "surgery.updated", fmt.Sprintf("Data operasi %s diperbarui", out.PatientName), actor)
	s.publish(ctx, TopicSurgeries, "surgery.updated", id, out)
	return out, nil
}

// DeleteSurgery removes a surgery that has not reached the OR yet.
func (s *Service) DeleteSurgery(ctx context.Context, id, actor string) (err error) {
	ctx, span := s.startSpan(ctx, "Delete", id)
	defer func() { endSpan(span, err) }()

	sg, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if sg.Status.tracksLive() {
		return &TransitionError{Code: CodeInvalidState, From: sg.Status}
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, "surgery.deleted", fmt.Sprintf("Jadwal operasi %s dihapus", sg.PatientName), actor)
	s.publish(ctx, TopicSurgeries, "surgery.deleted", id, nil)
	return nil
}

// AssignRoom sets the operating room. The label must name an active room
// when a room registry is configured.
func (s *Service) AssignRoom(ctx context.Context, id, room, actor string) (out *Surgery, err error) {
	ctx, span := s.startSpan(ctx, "AssignRoom", id)
	defer func() { endSpan(span, err) }()

	room = strings.TrimSpace(room)
	if s.orRooms != nil && room != "" {
		r, err := s.orRooms.GetByName(ctx, room)
		if errors.Is(err, ErrRoomNotFound) {
			return nil, fmt.Errorf("%w: unknown or room %q", ErrInvalidInput, room)
		}
		if err != nil {
			return nil, wrapStore("get room", err)
		}
		if !r.IsActive {
			return nil, fmt.Errorf("%w: or room %q is not active", ErrInvalidInput, r.Name)
		}
		room = r.Name
	}

	out, err = s.update(ctx, id, func(sg *Surgery, now time.Time) (*Surgery, error) {
		return AssignRoom(sg, room, now)
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, "surgery.room_assigned", fmt.Sprintf("%s ditempatkan di %s", out.PatientName, room), actor)
	s.publish(ctx, TopicSurgeries, "surgery.updated", id, out)
	return out, nil
}

// AssignTeam sets the surgical team. When no anesthesiologist is given the
// one on duty now is used.
func (s *Service) AssignTeam(ctx context.Context, id string, team Team, actor string) (out *Surgery, err error) {
	ctx, span := s.startSpan(ctx, "AssignTeam", id)
	defer func() { endSpan(span, err) }()

	now := s.now()
	if team.Anesthesiologist == nil && s.resolver != nil {
		a, err := s.resolver.OnDutyAnesthesiologist(ctx, now)
		if err != nil {
			return nil, wrapStore("resolve anesthesiologist", err)
		}
		team.Anesthesiologist = a
	}

	out, err = s.update(ctx, id, func(sg *Surgery, now time.Time) (*Surgery, error) {
		return AssignTeam(sg, team, now)
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, "surgery.team_assigned",
		fmt.Sprintf("Tim operasi %s ditetapkan (%d perawat)", out.PatientName, len(team.Nurses)), actor)
	s.publish(ctx, TopicSurgeries, "surgery.updated", id, out)
	return out, nil
}

// update applies fn to the stored surgery and writes the result back inside
// one transaction, so a concurrent transition is never overwritten with a
// stale status.
func (s *Service) update(ctx context.Context, id string, fn func(sg *Surgery, now time.Time) (*Surgery, error)) (*Surgery, error) {
	var out *Surgery
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		sg, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		now, err := tx.Now(ctx)
		if err != nil {
			return err
		}
		next, err := fn(sg, now)
		if err != nil {
			s.rejected(sg, err)
			return err
		}
		if err := tx.Set(ctx, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Advance moves the surgery to target. Once the patient has been received
// the live-tracking record is updated in the same transaction.
func (s *Service) Advance(ctx context.Context, id string, target Status, cancelReason, actor string) (out *Surgery, err error) {
	ctx, span := s.startSpan(ctx, "Advance", id)
	span.SetAttributes(attribute.String("surgery.to", string(target)))
	defer func() { endSpan(span, err) }()

	var (
		from    Status
		ongoing *OngoingSurgery
	)
	err = s.store.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		sg, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		from = sg.Status
		now, err := tx.Now(ctx)
		if err != nil {
			return err
		}
		next, err := Advance(sg, target, now)
		if err != nil {
			s.rejected(sg, err)
			return err
		}
		if target == StatusCancelled && strings.TrimSpace(cancelReason) != "" {
			next.CancelReason = ptrString(strings.TrimSpace(cancelReason))
		}
		if err := tx.Set(ctx, next); err != nil {
			return err
		}
		if next.Status.tracksLive() {
			o, err := tx.GetOngoing(ctx, id)
			if errors.Is(err, ErrNotFound) {
				s.log.Warn().Str("surgery_id", id).Msg("live-tracking record missing, recreating")
				o, err = NewOngoing(next, now), nil
			}
			if err != nil {
				return err
			}
			SyncOngoing(o, next, now)
			if err := tx.SetOngoing(ctx, o); err != nil {
				return err
			}
			ongoing = o
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.transitioned(ctx, out, from, actor)
	if ongoing != nil {
		s.publish(ctx, TopicOngoing, "ongoing.updated", id, ongoing)
	}
	return out, nil
}

// Handover records the handover from the ward team and receives the
// patient. The surgery and its new live-tracking record are written in one
// transaction, so either both exist afterwards or neither changed.
func (s *Service) Handover(ctx context.Context, id, notes string, receiving []StaffRef, actor string) (out *Surgery, err error) {
	ctx, span := s.startSpan(ctx, "Handover", id)
	defer func() { endSpan(span, err) }()

	var ongoing *OngoingSurgery
	err = s.store.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		sg, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		now, err := tx.Now(ctx)
		if err != nil {
			return err
		}
		next, err := Handover(sg, notes, receiving, now)
		if err != nil {
			s.rejected(sg, err)
			return err
		}
		if err := tx.Set(ctx, next); err != nil {
			return err
		}
		o := NewOngoing(next, now)
		if err := tx.SetOngoing(ctx, o); err != nil {
			return err
		}
		out, ongoing = next, o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveHandover()
	s.transitioned(ctx, out, StatusCalled, actor)
	s.publish(ctx, TopicOngoing, "ongoing.created", id, ongoing)
	return out, nil
}

// RecordLog stores the intra-operative log.
func (s *Service) RecordLog(ctx context.Context, id string, l SurgeryLog, actor string) (out *Surgery, err error) {
	ctx, span := s.startSpan(ctx, "RecordLog", id)
	defer func() { endSpan(span, err) }()

	l.RecordedBy = actor
	out, err = s.update(ctx, id, func(sg *Surgery, now time.Time) (*Surgery, error) {
		return RecordLog(sg, l, now)
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, "surgery.log_recorded", fmt.Sprintf("Catatan operasi %s disimpan", out.PatientName), actor)
	return out, nil
}

func (s *Service) Timeline(ctx context.Context, id string) (PatientStatusData, error) {
	sg, err := s.store.Get(ctx, id)
	if err != nil {
		return PatientStatusData{}, err
	}
	return DeriveTimeline(sg, s.now()), nil
}

func (s *Service) ListOngoing(ctx context.Context) ([]*OngoingSurgery, error) {
	return s.store.ListOngoing(ctx)
}

// -- Public lookup --

// PublicStatus returns the reduced view of the patient's most recent
// surgery.
func (s *Service) PublicStatus(ctx context.Context, mrn string) (PublicStatus, error) {
	sg, err := s.store.FindLatestByMRN(ctx, strings.TrimSpace(mrn))
	if err != nil {
		return PublicStatus{}, err
	}
	return PublicView(sg, s.showNames), nil
}

func (s *Service) PublicTimeline(ctx context.Context, mrn string) (PatientStatusData, error) {
	sg, err := s.store.FindLatestByMRN(ctx, strings.TrimSpace(mrn))
	if err != nil {
		return PatientStatusData{}, err
	}
	return PublicTimeline(DeriveTimeline(sg, s.now())), nil
}

// -- OR Room --

func (s *Service) CreateORRoom(ctx context.Context, r *ORRoom) error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if r.Status == "" {
		r.Status = "available"
	}
	if !validORRoomStatuses[r.Status] {
		return fmt.Errorf("%w: invalid status: %s", ErrInvalidInput, r.Status)
	}
	r.IsActive = true
	return wrapStore("create room", s.orRooms.Create(ctx, r))
}

func (s *Service) GetORRoom(ctx context.Context, id uuid.UUID) (*ORRoom, error) {
	r, err := s.orRooms.GetByID(ctx, id)
	if err != nil {
		return nil, wrapStore("get room", err)
	}
	return r, nil
}

// UpdateORRoom replaces the stored room. An empty status keeps the stored
// one.
func (s *Service) UpdateORRoom(ctx context.Context, r *ORRoom) error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if r.Status == "" {
		existing, err := s.GetORRoom(ctx, r.ID)
		if err != nil {
			return err
		}
		r.Status = existing.Status
	}
	if !validORRoomStatuses[r.Status] {
		return fmt.Errorf("%w: invalid status: %s", ErrInvalidInput, r.Status)
	}
	return wrapStore("update room", s.orRooms.Update(ctx, r))
}

func (s *Service) DeleteORRoom(ctx context.Context, id uuid.UUID) error {
	return wrapStore("delete room", s.orRooms.Delete(ctx, id))
}

func (s *Service) ListORRooms(ctx context.Context, limit, offset int) ([]*ORRoom, int, error) {
	items, total, err := s.orRooms.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, wrapStore("list rooms", err)
	}
	return items, total, nil
}

// -- side effects --

func (s *Service) transitioned(ctx context.Context, out *Surgery, from Status, actor string) {
	s.metrics.ObserveTransition(string(from), string(out.Status))
	s.log.Info().
		Str("surgery_id", out.ID).
		Str("from", string(from)).
		Str("to", string(out.Status)).
		Str("actor", actor).
		Msg("surgery status changed")
	desc := fmt.Sprintf("Status %s berubah dari %s menjadi %s", out.PatientName, from, out.Status)
	if out.Status == StatusCancelled && out.CancelReason != nil {
		desc += ": " + *out.CancelReason
	}
	s.record(ctx, "surgery.status_changed", desc, actor)
	s.publish(ctx, TopicSurgeries, "surgery.status_changed", out.ID, out)
}

func (s *Service) rejected(sg *Surgery, err error) {
	var te *TransitionError
	if !errors.As(err, &te) {
		return
	}
	s.metrics.ObserveRejected(string(te.Code))
	s.log.Debug().
		Str("surgery_id", sg.ID).
		Str("from", string(te.From)).
		Str("to", string(te.To)).
		Str("code", string(te.Code)).
		Msg("workflow operation rejected")
}

func (s *Service) record(ctx context.Context, action, desc, actor string) {
	if s.activity == nil {
		return
	}
	s.activity.Record(ctx, action, desc, actor)
}

func (s *Service) publish(ctx context.Context, topic, eventType, id string, payload interface{}) {
	if s.events == nil {
		return
	}
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			s.log.Error().Err(err).Str("surgery_id", id).Msg("encode live event")
			return
		}
		data = b
	}
	evt := websocket.Event{
		Type:         eventType,
		Topic:        topic,
		ResourceType: "Surgery",
		ResourceID:   id,
		Timestamp:    s.now(),
		Data:         data,
	}
	if err := s.events.Publish(ctx, evt); err != nil {
		s.log.Warn().Err(err).Str("surgery_id", id).Str("topic", topic).Msg("publish live event")
	}
}
