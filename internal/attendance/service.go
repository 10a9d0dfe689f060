package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"qrattendance/internal/directory"
	"qrattendance/internal/replay"
	"qrattendance/internal/schedule"
	"qrattendance/internal/token"
)

// Config tunes an Engine. Zero values select defaults.
type Config struct {
	// Skew must match the validator's so replay entries outlive acceptance.
	Skew time.Duration
	// Location is the zone schedule times are read in. Defaults to time.Local.
	Location *time.Location
	Now      func() time.Time
}

// Engine enforces one record per (subject, schedule, day) and computes the
// late/early flags. It holds no per-request state.
type Engine struct {
	store     Store
	guard     replay.Guard
	dir       directory.Source
	skew      time.Duration
	loc       *time.Location
	now       func() time.Time
	observers []Observer
	logger    *zap.Logger
}

// NewEngine creates an engine.
func NewEngine(store Store, guard replay.Guard, dir directory.Source, cfg Config, logger *zap.Logger, observers ...Observer) *Engine {
	if cfg.Skew <= 0 {
		cfg.Skew = token.DefaultSkew
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:     store,
		guard:     guard,
		dir:       dir,
		skew:      cfg.Skew,
		loc:       cfg.Location,
		now:       cfg.Now,
		observers: observers,
		logger:    logger.Named("attendance.engine"),
	}
}

// Today returns the current calendar day in the engine's zone.
func (e *Engine) Today() schedule.Date {
	return schedule.DateOf(e.clock())
}

func (e *Engine) clock() time.Time {
	// Whole seconds, matching token timestamps.
	return e.now().In(e.loc).Truncate(time.Second)
}

// CheckInInput is a check-in request. Token must already have passed the
// validator. ScheduleID names the attendance type for daily tokens; activity
// tokens carry their own schedule and ScheduleID, if set, must agree with it.
type CheckInInput struct {
	SubjectID  int64
	ScheduleID int64
	Token      token.Token
	Details    Details
}

// CheckIn records attendance for a validated token.
func (e *Engine) CheckIn(ctx context.Context, in CheckInInput) (Record, error) {
	now := e.clock()
	rec := Record{
		ID:        uuid.NewString(),
		SubjectID: in.SubjectID,
		Day:       schedule.DateOf(now),
		CheckIn:   now,
	}
	in.Details.applyTo(&rec)

	switch t := in.Token.(type) {
	case *token.Daily:
		if t.UserID != in.SubjectID {
			return Record{}, ErrTokenSubjectMismatch
		}
		at, err := e.dir.AttendanceType(ctx, in.ScheduleID)
		if err != nil {
			return Record{}, err
		}
		rec.Kind = token.KindDaily
		rec.ScheduleID = at.ID
		rec.IsLate = schedule.IsLate(now, at.Start)
	case *token.Activity:
		if in.ScheduleID != 0 && in.ScheduleID != t.ActivityID {
			return Record{}, ErrTokenScheduleMismatch
		}
		act, err := e.dir.Activity(ctx, t.ActivityID)
		if err != nil {
			return Record{}, err
		}
		if err := act.CheckEligible(now); err != nil {
			return Record{}, ErrActivityNotEligible.WithDetail(err)
		}
		rec.Kind = token.KindActivity
		rec.ScheduleID = act.ID
		rec.IsLate = schedule.IsLate(now, act.Start)
	default:
		return Record{}, fmt.Errorf("unsupported token %T", in.Token)
	}

	claims := in.Token.Common()
	singleUse := claims.Usage == token.SingleUse
	marked := false
	log := e.logger.With(
		zap.String("kind", string(rec.Kind)),
		zap.Int64("user_id", rec.SubjectID),
		zap.Int64("schedule_id", rec.ScheduleID),
	)

	err := e.store.InTx(ctx, func(repo Repository) error {
		existing, err := repo.FindForDay(ctx, rec.Kind, rec.SubjectID, rec.ScheduleID, rec.Day)
		if err != nil {
			return fmt.Errorf("find attendance: %w", err)
		}
		if existing != nil {
			// A spent token is the more precise answer when it is this one.
			if singleUse {
				used, err := e.guard.Exists(ctx, claims.Signature)
				if err != nil {
					return fmt.Errorf("replay lookup: %w", err)
				}
				if used {
					return token.ErrAlreadyUsed
				}
			}
			return ErrAlreadyCheckedIn
		}
		if singleUse {
			ok, err := e.guard.SetIfAbsent(ctx, claims.Signature, replay.TTLFor(claims.ExpiresAt, now, e.skew))
			if err != nil {
				return fmt.Errorf("replay mark: %w", err)
			}
			if !ok {
				return token.ErrAlreadyUsed
			}
			marked = true
		}
		return repo.Insert(ctx, rec)
	})
	if err != nil {
		if marked {
			e.release(ctx, claims.Signature, log)
		}
		if errors.Is(err, token.ErrAlreadyUsed) || errors.Is(err, ErrAlreadyCheckedIn) {
			log.Info("check-in rejected", zap.Error(err))
		}
		return Record{}, err
	}

	log.Info("checked in", zap.String("record_id", rec.ID), zap.Bool("is_late", rec.IsLate))
	for _, o := range e.observers {
		o.CheckedIn(ctx, rec)
	}
	return rec, nil
}

// release undoes a replay mark whose record was not committed. The request
// context may already be done, so the delete gets its own deadline.
func (e *Engine) release(ctx context.Context, signature string, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := e.guard.Release(ctx, signature); err != nil {
		log.Error("failed to release replay mark", zap.Error(err))
	}
}

// CheckOutInput is a check-out request for one of the caller's records.
type CheckOutInput struct {
	Kind      token.Kind
	RecordID  string
	SubjectID int64
	Details   Details
}

// CheckOut closes an open record owned by the caller.
func (e *Engine) CheckOut(ctx context.Context, in CheckOutInput) (Record, error) {
	now := e.clock()
	var out Record
	err := e.store.InTx(ctx, func(repo Repository) error {
		rec, err := repo.GetForUpdate(ctx, in.Kind, in.RecordID)
		if err != nil {
			return err
		}
		if rec.SubjectID != in.SubjectID {
			return ErrNotOwner
		}
		if !rec.Open() {
			return ErrAlreadyCheckedOut
		}
		end, err := e.endOf(ctx, rec)
		if err != nil {
			return err
		}
		rec.CheckOut = &now
		rec.IsEarly = schedule.IsEarly(now, end)
		in.Details.applyTo(&rec)
		if err := repo.Close(ctx, rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return Record{}, err
	}

	e.logger.Info("checked out",
		zap.String("kind", string(out.Kind)),
		zap.String("record_id", out.ID),
		zap.Int64("user_id", out.SubjectID),
		zap.Bool("is_early", out.IsEarly),
	)
	for _, o := range e.observers {
		o.CheckedOut(ctx, out)
	}
	return out, nil
}

func (e *Engine) endOf(ctx context.Context, rec Record) (schedule.TimeOfDay, error) {
	switch rec.Kind {
	case token.KindDaily:
		at, err := e.dir.AttendanceType(ctx, rec.ScheduleID)
		return at.End, err
	case token.KindActivity:
		act, err := e.dir.Activity(ctx, rec.ScheduleID)
		return act.End, err
	}
	return 0, fmt.Errorf("unknown record kind %q", rec.Kind)
}

// Active returns the caller's records for today that are still open.
func (e *Engine) Active(ctx context.Context, subjectID int64, kind token.Kind) ([]Record, error) {
	return e.store.OpenForDay(ctx, kind, subjectID, e.Today())
}

// History lists the caller's records, newest first.
func (e *Engine) History(ctx context.Context, q HistoryQuery) ([]Record, error) {
	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		return nil, ErrInvalidRange
	}
	return e.store.List(ctx, q)
}
