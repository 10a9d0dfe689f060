package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultSkew absorbs clock drift between the issuing and scanning devices.
const DefaultSkew = 10 * time.Second

// ConsumedChecker answers whether a single-use token has been spent.
type ConsumedChecker interface {
	Exists(ctx context.Context, signature string) (bool, error)
}

// Validator turns QR text into an accepted Token or a rejection. It never
// mutates state.
type Validator struct {
	signer   Signer
	consumed ConsumedChecker
	skew     time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewValidator creates a validator. now and logger may be nil.
func NewValidator(s Signer, consumed ConsumedChecker, skew time.Duration, now func() time.Time, logger *zap.Logger) *Validator {
	if skew < 0 {
		skew = DefaultSkew
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		signer:   s,
		consumed: consumed,
		skew:     skew,
		now:      now,
		logger:   logger.Named("token.validator"),
	}
}

// Skew returns the configured clock tolerance.
func (v *Validator) Skew() time.Duration { return v.skew }

// Validate runs the checks in order: parse, signature present, usage known,
// signature valid, not expired, not issued in the future, not consumed. Rejections are
// returned as token errors; any other error is an infrastructure fault.
func (v *Validator) Validate(ctx context.Context, text string) (Token, error) {
	t, err := Decode(text)
	if err != nil {
		v.logger.Info("token rejected", zap.String("reason", CodeMalformedToken), zap.Error(err))
		return nil, ErrMalformedToken.WithDetail(err)
	}
	c := t.Common()
	log := v.logger.With(zap.String("kind", string(t.Kind())), zap.String("usage", string(c.Usage)))

	if c.Signature == "" {
		log.Info("token rejected", zap.String("reason", CodeMissingSignature))
		return nil, ErrMissingSignature
	}
	// Every issued token states its usage, activity tokens included.
	if !c.Usage.valid() {
		log.Info("token rejected", zap.String("reason", CodeMalformedToken))
		return nil, ErrMalformedToken.WithDetail(fmt.Errorf("unknown usage %q", c.Usage))
	}
	if !v.signer.Verify(t.attributes(), c.Signature) {
		log.Warn("token rejected", zap.String("reason", CodeInvalidSignature))
		return nil, ErrInvalidSignature
	}

	now := v.now().Unix()
	skew := int64(v.skew / time.Second)
	if c.ExpiresAt.IsZero() {
		log.Info("token rejected", zap.String("reason", CodeExpired), zap.String("detail", "no exp"))
		return nil, ErrExpired.WithDetail(errors.New("token has no expiry"))
	}
	if late := now - c.ExpiresAt.Unix(); late > skew {
		log.Info("token rejected", zap.String("reason", CodeExpired), zap.Int64("seconds_past_expiry", late))
		return nil, ErrExpired.WithDetail(fmt.Errorf("expired %ds ago", late))
	}
	if !c.IssuedAt.IsZero() {
		if ahead := c.IssuedAt.Unix() - now; ahead > skew {
			log.Warn("token rejected", zap.String("reason", CodeIssuedInFuture), zap.Int64("seconds_ahead", ahead))
			return nil, ErrIssuedInFuture
		}
	}

	if c.Usage == SingleUse {
		used, err := v.consumed.Exists(ctx, c.Signature)
		if err != nil {
			return nil, fmt.Errorf("replay lookup: %w", err)
		}
		if used {
			log.Info("token rejected", zap.String("reason", CodeAlreadyUsed))
			return nil, ErrAlreadyUsed
		}
	}
	return t, nil
}
