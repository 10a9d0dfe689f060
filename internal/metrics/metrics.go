// Package metrics exposes Prometheus counters for token and attendance
// outcomes.
package metrics

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"qrattendance/internal/apperror"
	"qrattendance/internal/attendance"
	"qrattendance/internal/token"
)

// Metrics groups the service counters. It is an attendance.Observer.
type Metrics struct {
	TokensIssued *prometheus.CounterVec
	Validations  *prometheus.CounterVec
	CheckIns     *prometheus.CounterVec
	CheckOuts    *prometheus.CounterVec
}

// New creates the counters and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qr_tokens_issued_total",
			Help: "QR tokens issued, by kind and usage.",
		}, []string{"kind", "usage"}),
		Validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qr_validations_total",
			Help: "QR token validations, by outcome.",
		}, []string{"outcome"}),
		CheckIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_checkins_total",
			Help: "Committed check-ins, by kind and lateness.",
		}, []string{"kind", "late"}),
		CheckOuts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_checkouts_total",
			Help: "Committed check-outs, by kind and earliness.",
		}, []string{"kind", "early"}),
	}
	reg.MustRegister(m.TokensIssued, m.Validations, m.CheckIns, m.CheckOuts)
	return m
}

func (m *Metrics) Issued(kind token.Kind, usage token.Usage) {
	m.TokensIssued.WithLabelValues(string(kind), string(usage)).Inc()
}

// Validated counts a validation by outcome: "accepted", a rejection code in
// lower case, or "error" for infrastructure faults.
func (m *Metrics) Validated(err error) {
	m.Validations.WithLabelValues(Outcome(err)).Inc()
}

// Outcome names the label value for a validation result.
func Outcome(err error) string {
	if err == nil {
		return "accepted"
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		for _, r := range token.Rejections {
			if appErr.Code == r.Code {
				return strings.ToLower(r.Code)
			}
		}
	}
	return "error"
}

func (m *Metrics) CheckedIn(_ context.Context, rec attendance.Record) {
	m.CheckIns.WithLabelValues(string(rec.Kind), strconv.FormatBool(rec.IsLate)).Inc()
}

func (m *Metrics) CheckedOut(_ context.Context, rec attendance.Record) {
	m.CheckOuts.WithLabelValues(string(rec.Kind), strconv.FormatBool(rec.IsEarly)).Inc()
}
