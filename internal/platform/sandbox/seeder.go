// Package sandbox fills an empty installation with a reproducible OR day:
// rooms, staff, the day's roster and a board of surgeries spread across the
// workflow. It is meant for demos and developer on-boarding.
package sandbox

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/orcoord/orcoord/internal/domain/staff"
	"github.com/orcoord/orcoord/internal/domain/surgery"
)

// Actor is recorded as the author of every seeded change.
const Actor = "sandbox"

// SeedConfig controls the volume and shape of generated data.
type SeedConfig struct {
	Rooms             int       `json:"rooms"`
	Anesthesiologists int       `json:"anesthesiologists"`
	Nurses            int       `json:"nurses"`
	Surgeries         int       `json:"surgeries"`
	Date              time.Time `json:"date"`
	Seed              int64     `json:"seed"`
}

// DefaultSeedConfig returns a small but busy day.
func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		Rooms:             4,
		Anesthesiologists: 3,
		Nurses:            6,
		Surgeries:         10,
	}
}

// SeedResult summarizes a seed run.
type SeedResult struct {
	Rooms     int           `json:"rooms"`
	Staff     int           `json:"staff"`
	Shifts    int           `json:"shifts"`
	Surgeries int           `json:"surgeries"`
	Received  int           `json:"received"`
	Duration  time.Duration `json:"duration"`
}

var (
	givenNames = []string{
		"Siti", "Budi", "Dewi", "Agus", "Rina", "Eko", "Putri", "Joko",
		"Ayu", "Hendra", "Wulan", "Rizky", "Lestari", "Bayu", "Intan",
	}
	familyNames = []string{
		"Aminah", "Santoso", "Wijaya", "Saputra", "Rahayu", "Hidayat",
		"Kusuma", "Pratama", "Nugroho", "Susanti", "Halim", "Siregar",
	}
	procedures = []string{
		"Laparoscopic cholecystectomy",
		"Appendectomy",
		"Sectio caesarea",
		"Inguinal hernia repair",
		"Total knee arthroplasty",
		"Open reduction internal fixation",
		"Tonsillectomy",
		"Thyroidectomy",
		"Mastectomy",
		"Transurethral resection of prostate",
	}
	surgeons = []string{
		"dr. Hadi, Sp.B", "dr. Maya, Sp.OG", "dr. Yusuf, Sp.OT",
		"dr. Ratna, Sp.THT-KL", "dr. Fajar, Sp.U",
	}
	handoverNotes = []string{
		"Pasien puasa sejak 00.00, IV line terpasang",
		"Informed consent lengkap, alergi tidak ada",
		"Premedikasi sudah diberikan di ruangan",
	}
)

// progression lists the statuses a seeded surgery walks through, in order.
var progression = []surgery.Status{
	surgery.StatusScheduled,
	surgery.StatusConfirmed,
	surgery.StatusReadyToCall,
	surgery.StatusCalled,
	surgery.StatusReceived,
	surgery.StatusPreparation,
	surgery.StatusInProgress,
	surgery.StatusCompleted,
	surgery.StatusRecovery,
}

// DataGenerator produces deterministic names and picks.
type DataGenerator struct {
	rng     *rand.Rand
	counter int
}

// NewDataGenerator returns a generator seeded for reproducibility. If seed is
// 0 a time-based seed is chosen.
func NewDataGenerator(seed int64) *DataGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &DataGenerator{rng: rand.New(rand.NewSource(seed))}
}

func (g *DataGenerator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

// PersonName returns a two-part name.
func (g *DataGenerator) PersonName() string {
	return g.pick(givenNames) + " " + g.pick(familyNames)
}

// MRN returns a medical record number unique within this generator.
func (g *DataGenerator) MRN() string {
	g.counter++
	return fmt.Sprintf("RM-%04d%04d", g.rng.Intn(10000), g.counter)
}

func (g *DataGenerator) phone() string {
	return fmt.Sprintf("08%02d-%04d-%04d", 11+g.rng.Intn(89), g.rng.Intn(10000), g.rng.Intn(10000))
}

// Seeder writes generated data through the domain services so the seeded
// records obey the same rules as real ones.
type Seeder struct {
	surgeries *surgery.Service
	staff     *staff.Service
	generator *DataGenerator
	config    SeedConfig
	loc       *time.Location
	log       zerolog.Logger
}

// NewSeeder creates a Seeder. A zero config.Date means today in loc.
func NewSeeder(surgeries *surgery.Service, staffSvc *staff.Service, config SeedConfig, loc *time.Location) *Seeder {
	if loc == nil {
		loc = time.UTC
	}
	return &Seeder{
		surgeries: surgeries,
		staff:     staffSvc,
		generator: NewDataGenerator(config.Seed),
		config:    config,
		loc:       loc,
		log:       zerolog.Nop(),
	}
}

func (s *Seeder) SetLogger(l zerolog.Logger) {
	s.log = l.With().Str("component", "sandbox").Logger()
}

// Generate creates everything the config asks for. Rooms that already exist
// by name are reused.
func (s *Seeder) Generate(ctx context.Context) (*SeedResult, error) {
	start := time.Now()
	result := &SeedResult{}

	day := s.config.Date
	if day.IsZero() {
		day = time.Now()
	}
	day = day.In(s.loc)
	date := day.Format("2006-01-02")

	rooms, err := s.seedRooms(ctx, result)
	if err != nil {
		return nil, err
	}
	anes, nurses, err := s.seedStaff(ctx, result)
	if err != nil {
		return nil, err
	}
	if err := s.seedRoster(ctx, date, anes, nurses, result); err != nil {
		return nil, err
	}
	if len(rooms) > 0 && len(anes) > 0 && len(nurses) > 0 {
		first := time.Date(day.Year(), day.Month(), day.Day(), 7, 30, 0, 0, s.loc)
		for i := 0; i < s.config.Surgeries; i++ {
			if err := s.seedSurgery(ctx, i, first, rooms, anes, nurses, result); err != nil {
				return nil, err
			}
		}
	}

	result.Duration = time.Since(start)
	s.log.Info().
		Str("date", date).
		Int("rooms", result.Rooms).
		Int("staff", result.Staff).
		Int("shifts", result.Shifts).
		Int("surgeries", result.Surgeries).
		Dur("duration", result.Duration).
		Msg("sandbox data seeded")
	return result, nil
}

func (s *Seeder) seedRooms(ctx context.Context, result *SeedResult) ([]string, error) {
	existing, _, err := s.surgeries.ListORRooms(ctx, 1000, 0)
	if err != nil {
		return nil, fmt.Errorf("list or rooms: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, r := range existing {
		have[r.Name] = true
	}

	names := make([]string, 0, s.config.Rooms)
	for i := 1; i <= s.config.Rooms; i++ {
		name := fmt.Sprintf("OK %d", i)
		names = append(names, name)
		if have[name] {
			continue
		}
		if err := s.surgeries.CreateORRoom(ctx, &surgery.ORRoom{Name: name}); err != nil {
			return nil, fmt.Errorf("create or room %s: %w", name, err)
		}
		result.Rooms++
	}
	return names, nil
}

func (s *Seeder) seedStaff(ctx context.Context, result *SeedResult) (anes, nurses []*staff.Staff, err error) {
	add := func(prefix, role string) (*staff.Staff, error) {
		phone := s.generator.phone()
		st := &staff.Staff{Name: prefix + s.generator.PersonName(), Role: role, Phone: &phone}
		if err := s.staff.CreateStaff(ctx, st, Actor); err != nil {
			return nil, fmt.Errorf("create staff: %w", err)
		}
		result.Staff++
		return st, nil
	}

	for i := 0; i < s.config.Anesthesiologists; i++ {
		st, err := add("dr. ", surgery.RoleAnesthesiologist)
		if err != nil {
			return nil, nil, err
		}
		anes = append(anes, st)
	}
	for i := 0; i < s.config.Nurses; i++ {
		role := surgery.RoleSurgicalNurse
		if i%2 == 1 {
			role = surgery.RoleAnesthesiaNurse
		}
		st, err := add("Ns. ", role)
		if err != nil {
			return nil, nil, err
		}
		nurses = append(nurses, st)
	}
	return anes, nurses, nil
}

// seedRoster spreads staff round-robin over the day's three shifts.
func (s *Seeder) seedRoster(ctx context.Context, date string, anes, nurses []*staff.Staff, result *SeedResult) error {
	shifts := []staff.ShiftKey{staff.ShiftMorning, staff.ShiftAfternoon, staff.ShiftNight}
	assign := func(i int, st *staff.Staff) error {
		a := &staff.ShiftAssignment{Date: date, Shift: shifts[i%len(shifts)], StaffID: st.ID}
		if err := s.staff.AssignShift(ctx, a, Actor); err != nil {
			return fmt.Errorf("assign %s to %s: %w", st.Name, a.Shift, err)
		}
		result.Shifts++
		return nil
	}
	for i, st := range anes {
		if err := assign(i, st); err != nil {
			return err
		}
	}
	for i, st := range nurses {
		if err := assign(i, st); err != nil {
			return err
		}
	}
	return nil
}

func (s *Seeder) seedSurgery(ctx context.Context, i int, first time.Time, rooms []string, anes, nurses []*staff.Staff, result *SeedResult) error {
	g := s.generator
	sg := &surgery.Surgery{
		PatientName: g.PersonName(),
		MRN:         g.MRN(),
		Procedure:   g.pick(procedures),
		DoctorName:  g.pick(surgeons),
		ScheduledAt: first.Add(time.Duration(i/len(rooms)) * 90 * time.Minute),
	}
	if err := s.surgeries.CreateSurgery(ctx, sg, Actor); err != nil {
		return fmt.Errorf("create surgery: %w", err)
	}
	result.Surgeries++

	target := progression[g.rng.Intn(len(progression))]
	if target == surgery.StatusScheduled {
		return nil
	}

	if _, err := s.surgeries.AssignRoom(ctx, sg.ID, rooms[i%len(rooms)], Actor); err != nil {
		return fmt.Errorf("assign room: %w", err)
	}
	a := anes[i%len(anes)].Ref()
	team := surgery.Team{
		Anesthesiologist: &a,
		Nurses:           []surgery.StaffRef{nurses[i%len(nurses)].Ref()},
	}
	if len(nurses) > 1 {
		team.Nurses = append(team.Nurses, nurses[(i+1)%len(nurses)].Ref())
	}
	if _, err := s.surgeries.AssignTeam(ctx, sg.ID, team, Actor); err != nil {
		return fmt.Errorf("assign team: %w", err)
	}

	for _, st := range progression[1:] {
		var err error
		if st == surgery.StatusReceived {
			_, err = s.surgeries.Handover(ctx, sg.ID, g.pick(handoverNotes), team.Nurses[:1], Actor)
			if err == nil {
				result.Received++
			}
		} else {
			_, err = s.surgeries.Advance(ctx, sg.ID, st, "", Actor)
		}
		if err != nil {
			return fmt.Errorf("advance %s to %s: %w", sg.ID, st, err)
		}
		if st == target {
			break
		}
	}
	return nil
}
