// Package stats publishes attendance events and aggregates them into daily
// counters.
package stats

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"qrattendance/internal/attendance"
	"qrattendance/internal/queue"
	"qrattendance/internal/schedule"
	"qrattendance/internal/token"
)

// Message types carried on the queue.
const (
	TypeCheckedIn  = "attendance.checked_in"
	TypeCheckedOut = "attendance.checked_out"
)

// Retention keeps a week of daily counters.
const Retention = 8 * 24 * time.Hour

// Event is the queue body for both message types.
type Event struct {
	RecordID   string     `json:"record_id"`
	Kind       token.Kind `json:"kind"`
	SubjectID  int64      `json:"user_id"`
	ScheduleID int64      `json:"schedule_id"`
	Day        string     `json:"attendance_date"`
	Late       bool       `json:"is_late"`
	Early      bool       `json:"is_early"`
	At         time.Time  `json:"at"`
}

func eventOf(rec attendance.Record, at time.Time) Event {
	return Event{
		RecordID:   rec.ID,
		Kind:       rec.Kind,
		SubjectID:  rec.SubjectID,
		ScheduleID: rec.ScheduleID,
		Day:        rec.Day.String(),
		Late:       rec.IsLate,
		Early:      rec.IsEarly,
		At:         at,
	}
}

// Key is the Redis hash holding a day's counters.
func Key(day string) string { return "attendance:stats:" + day }

// Publisher pushes committed changes onto the queue. It is an
// attendance.Observer; publish failures are logged and never fail a request.
type Publisher struct {
	q      queue.Queue
	logger *zap.Logger
}

func NewPublisher(q queue.Queue, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{q: q, logger: logger.Named("stats.publisher")}
}

func (p *Publisher) CheckedIn(ctx context.Context, rec attendance.Record) {
	p.publish(ctx, TypeCheckedIn, eventOf(rec, rec.CheckIn))
}

func (p *Publisher) CheckedOut(ctx context.Context, rec attendance.Record) {
	at := rec.CheckIn
	if rec.CheckOut != nil {
		at = *rec.CheckOut
	}
	p.publish(ctx, TypeCheckedOut, eventOf(rec, at))
}

func (p *Publisher) publish(ctx context.Context, typ string, evt Event) {
	msg, err := queue.NewMessage(typ, evt)
	if err != nil {
		p.logger.Error("encode event", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := p.q.Publish(ctx, msg); err != nil {
		p.logger.Warn("queue publish failed", zap.String("type", typ), zap.String("record_id", evt.RecordID), zap.Error(err))
	}
}

// Aggregator folds events into per-day Redis hashes.
type Aggregator struct {
	rdb    redis.Cmdable
	logger *zap.Logger
}

func NewAggregator(rdb redis.Cmdable, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{rdb: rdb, logger: logger.Named("stats.aggregator")}
}

// Apply counts one message. Unknown types are ignored.
func (a *Aggregator) Apply(ctx context.Context, msg queue.Message) error {
	var evt Event
	if err := msg.Decode(&evt); err != nil {
		return fmt.Errorf("decode %s: %w", msg.Type, err)
	}
	var fields []string
	switch msg.Type {
	case TypeCheckedIn:
		fields = append(fields, field(evt.Kind, "checkins"))
		if evt.Late {
			fields = append(fields, field(evt.Kind, "late"))
		}
	case TypeCheckedOut:
		fields = append(fields, field(evt.Kind, "checkouts"))
		if evt.Early {
			fields = append(fields, field(evt.Kind, "early"))
		}
	default:
		return nil
	}
	key := Key(evt.Day)
	_, err := a.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, f := range fields {
			p.HIncrBy(ctx, key, f, 1)
		}
		p.Expire(ctx, key, Retention)
		return nil
	})
	return err
}

// Run consumes q until ctx is done.
func (a *Aggregator) Run(ctx context.Context, q queue.Queue) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	a.logger.Info("aggregator started")
	for msg := range messages {
		if err := a.Apply(ctx, msg); err != nil {
			a.logger.Warn("failed to apply event", zap.String("type", msg.Type), zap.Error(err))
		}
	}
	a.logger.Info("aggregator stopped")
	return nil
}

func field(kind token.Kind, name string) string { return string(kind) + ":" + name }

// Counts are one kind's totals for a day.
type Counts struct {
	CheckIns  int64 `json:"checkins"`
	Late      int64 `json:"late"`
	CheckOuts int64 `json:"checkouts"`
	Early     int64 `json:"early"`
}

// Summary is a day's counters for both kinds.
type Summary struct {
	Day      string `json:"date"`
	Daily    Counts `json:"daily"`
	Activity Counts `json:"activity"`
}

// Reader reads aggregated counters.
type Reader struct {
	rdb redis.Cmdable
}

func NewReader(rdb redis.Cmdable) *Reader { return &Reader{rdb: rdb} }

// Day returns the counters for day; a missing hash reads as zeros.
func (r *Reader) Day(ctx context.Context, day schedule.Date) (Summary, error) {
	vals, err := r.rdb.HGetAll(ctx, Key(day.String())).Result()
	if err != nil {
		return Summary{}, err
	}
	get := func(kind token.Kind, name string) int64 {
		n, _ := strconv.ParseInt(vals[field(kind, name)], 10, 64)
		return n
	}
	counts := func(kind token.Kind) Counts {
		return Counts{
			CheckIns:  get(kind, "checkins"),
			Late:      get(kind, "late"),
			CheckOuts: get(kind, "checkouts"),
			Early:     get(kind, "early"),
		}
	}
	return Summary{
		Day:      day.String(),
		Daily:    counts(token.KindDaily),
		Activity: counts(token.KindActivity),
	}, nil
}
