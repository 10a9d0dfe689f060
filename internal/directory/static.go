package directory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"qrattendance/internal/schedule"
)

// Static is an in-memory directory, used with the memory store and in tests.
// Activities can be edited; subjects and attendance types are fixed by the seed.
type Static struct {
	mu         sync.RWMutex
	subjects   map[int64]Subject
	types      map[int64]schedule.AttendanceType
	activities map[int64]schedule.Activity
	created    map[int64]int // insertion order, for newest-first listing
	seq        int
	nextID     int64
}

// Seed is the YAML layout read by LoadStatic.
type Seed struct {
	Users           []Subject                 `yaml:"users"`
	AttendanceTypes []schedule.AttendanceType `yaml:"attendance_types"`
	Activities      []schedule.Activity       `yaml:"activities"`
}

// NewStatic indexes a seed by id.
func NewStatic(seed Seed) *Static {
	s := &Static{
		subjects:   make(map[int64]Subject, len(seed.Users)),
		types:      make(map[int64]schedule.AttendanceType, len(seed.AttendanceTypes)),
		activities: make(map[int64]schedule.Activity, len(seed.Activities)),
		created:    make(map[int64]int, len(seed.Activities)),
		nextID:     1,
	}
	for _, u := range seed.Users {
		s.subjects[u.ID] = u
	}
	for _, t := range seed.AttendanceTypes {
		s.types[t.ID] = t
	}
	for _, a := range seed.Activities {
		s.put(a)
		if a.ID >= s.nextID {
			s.nextID = a.ID + 1
		}
	}
	return s
}

// ParseSeed decodes a YAML seed document.
func ParseSeed(data []byte) (Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return Seed{}, fmt.Errorf("parse directory seed: %w", err)
	}
	return seed, nil
}

// LoadStatic reads a YAML seed file.
func LoadStatic(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory seed: %w", err)
	}
	seed, err := ParseSeed(data)
	if err != nil {
		return nil, err
	}
	return NewStatic(seed), nil
}

func (s *Static) Subject(_ context.Context, id int64) (Subject, error) {
	u, ok := s.subjects[id]
	if !ok {
		return Subject{}, ErrSubjectNotFound
	}
	return u, nil
}

func (s *Static) AttendanceType(_ context.Context, id int64) (schedule.AttendanceType, error) {
	t, ok := s.types[id]
	if !ok {
		return schedule.AttendanceType{}, ErrScheduleNotFound
	}
	return t, nil
}

func (s *Static) Activity(_ context.Context, id int64) (schedule.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.activities[id]
	if !ok {
		return schedule.Activity{}, ErrActivityNotFound
	}
	return a, nil
}

func (s *Static) AttendanceTypes(context.Context) ([]schedule.AttendanceType, error) {
	out := make([]schedule.AttendanceType, 0, len(s.types))
	for _, t := range s.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Static) ActiveActivities(_ context.Context, now time.Time) ([]schedule.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]schedule.Activity, 0, len(s.activities))
	for _, a := range s.activities {
		all = append(all, a)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Start != all[j].Start {
			return all[i].Start < all[j].Start
		}
		return all[i].ID < all[j].ID
	})
	return filterEligible(all, now), nil
}

func (s *Static) put(a schedule.Activity) {
	if _, ok := s.activities[a.ID]; !ok {
		s.seq++
		s.created[a.ID] = s.seq
	}
	s.activities[a.ID] = a
}

func (s *Static) ListActivities(_ context.Context, limit, offset int) ([]schedule.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]schedule.Activity, 0, len(s.activities))
	for _, a := range s.activities {
		all = append(all, a)
	}
	sort.Slice(all, func(i, j int) bool { return s.created[all[i].ID] > s.created[all[j].ID] })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (s *Static) CreateActivity(_ context.Context, a schedule.Activity) (schedule.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.nextID
	s.nextID++
	s.put(a)
	return a, nil
}

func (s *Static) UpdateActivity(_ context.Context, a schedule.Activity) (schedule.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.activities[a.ID]
	if !ok {
		return schedule.Activity{}, ErrActivityNotFound
	}
	a.CreatedBy = old.CreatedBy
	s.put(a)
	return a, nil
}

// DeleteActivity removes an activity. Static has no attendance records to
// protect, so it never reports ErrActivityInUse.
func (s *Static) DeleteActivity(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.activities[id]; !ok {
		return ErrActivityNotFound
	}
	delete(s.activities, id)
	delete(s.created, id)
	return nil
}
