package attendance

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"qrattendance/internal/schedule"
	"qrattendance/internal/token"
)

type dayKey struct {
	kind       token.Kind
	subjectID  int64
	scheduleID int64
	day        schedule.Date
}

// MemoryStore keeps records in process. Insert enforces the same uniqueness
// as the Postgres unique indexes, so it is safe under concurrent use.
// Writes inside InTx are visible immediately and undone on rollback.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	byDay   map[dayKey]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		byDay:   make(map[dayKey]string),
	}
}

func keyOf(r Record) dayKey {
	return dayKey{kind: r.Kind, subjectID: r.SubjectID, scheduleID: r.ScheduleID, day: r.Day}
}

// InTx runs fn and reverts its writes if it fails.
func (s *MemoryStore) InTx(ctx context.Context, fn func(Repository) error) error {
	tx := &memTx{store: s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *MemoryStore) FindForDay(_ context.Context, kind token.Kind, subjectID, scheduleID int64, day schedule.Date) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byDay[dayKey{kind, subjectID, scheduleID, day}]
	if !ok {
		return nil, nil
	}
	rec := s.records[id]
	return &rec, nil
}

func (s *MemoryStore) Insert(ctx context.Context, rec Record) error {
	_, err := s.insert(rec)
	return err
}

func (s *MemoryStore) insert(rec Record) (string, error) {
	if _, err := tableFor(rec.Kind); err != nil {
		return "", err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := keyOf(rec)
	if _, taken := s.byDay[k]; taken {
		return "", ErrAlreadyCheckedIn
	}
	s.byDay[k] = rec.ID
	s.records[rec.ID] = rec
	return rec.ID, nil
}

func (s *MemoryStore) GetForUpdate(_ context.Context, kind token.Kind, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.Kind != kind {
		return Record{}, ErrRecordNotFound
	}
	return rec, nil
}

func (s *MemoryStore) Close(_ context.Context, rec Record) error {
	_, err := s.close(rec)
	return err
}

func (s *MemoryStore) close(rec Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[rec.ID]
	if !ok || cur.Kind != rec.Kind {
		return Record{}, ErrRecordNotFound
	}
	if !cur.Open() {
		return Record{}, ErrAlreadyCheckedOut
	}
	cur.CheckOut = rec.CheckOut
	cur.IsEarly = rec.IsEarly
	cur.Latitude, cur.Longitude, cur.Notes = rec.Latitude, rec.Longitude, rec.Notes
	prev := s.records[rec.ID]
	s.records[rec.ID] = cur
	return prev, nil
}

func (s *MemoryStore) OpenForDay(_ context.Context, kind token.Kind, subjectID int64, day schedule.Date) ([]Record, error) {
	return s.filter(func(r Record) bool {
		return r.Kind == kind && r.SubjectID == subjectID && r.Day == day && r.Open()
	}, false), nil
}

func (s *MemoryStore) List(_ context.Context, q HistoryQuery) ([]Record, error) {
	all := s.filter(func(r Record) bool {
		if r.Kind != q.Kind || r.SubjectID != q.SubjectID {
			return false
		}
		if !q.From.IsZero() && r.Day.Before(q.From) {
			return false
		}
		if !q.To.IsZero() && q.To.Before(r.Day) {
			return false
		}
		return true
	}, true)
	if q.Offset > 0 {
		if q.Offset >= len(all) {
			return nil, nil
		}
		all = all[q.Offset:]
	}
	if q.Limit > 0 && len(all) > q.Limit {
		all = all[:q.Limit]
	}
	return all, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *MemoryStore) filter(keep func(Record) bool, newestFirst bool) []Record {
	s.mu.Lock()
	var out []Record
	for _, r := range s.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].CheckIn.After(out[j].CheckIn)
		}
		return out[i].CheckIn.Before(out[j].CheckIn)
	})
	return out
}

// memTx records an undo log against its store.
type memTx struct {
	store *MemoryStore
	undo  []func()
}

func (t *memTx) FindForDay(ctx context.Context, kind token.Kind, subjectID, scheduleID int64, day schedule.Date) (*Record, error) {
	return t.store.FindForDay(ctx, kind, subjectID, scheduleID, day)
}

func (t *memTx) Insert(_ context.Context, rec Record) error {
	id, err := t.store.insert(rec)
	if err != nil {
		return err
	}
	k := keyOf(rec)
	t.undo = append(t.undo, func() {
		delete(t.store.records, id)
		delete(t.store.byDay, k)
	})
	return nil
}

func (t *memTx) GetForUpdate(ctx context.Context, kind token.Kind, id string) (Record, error) {
	return t.store.GetForUpdate(ctx, kind, id)
}

func (t *memTx) Close(_ context.Context, rec Record) error {
	prev, err := t.store.close(rec)
	if err != nil {
		return err
	}
	t.undo = append(t.undo, func() { t.store.records[prev.ID] = prev })
	return nil
}

func (t *memTx) OpenForDay(ctx context.Context, kind token.Kind, subjectID int64, day schedule.Date) ([]Record, error) {
	return t.store.OpenForDay(ctx, kind, subjectID, day)
}

func (t *memTx) List(ctx context.Context, q HistoryQuery) ([]Record, error) {
	return t.store.List(ctx, q)
}

func (t *memTx) rollback() {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
}
