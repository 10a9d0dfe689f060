// Package token issues and validates the signed payloads carried by QR codes.
package token

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"qrattendance/internal/signer"
)

// Kind discriminates daily shift tokens from activity tokens.
type Kind string

const (
	KindDaily    Kind = "daily"
	KindActivity Kind = "activity"
)

// Usage is the replay policy of a token.
type Usage string

const (
	SingleUse Usage = "single-use"
	MultiUse  Usage = "multi-use"
)

func (u Usage) valid() bool { return u == SingleUse || u == MultiUse }

// Claims are the fields shared by every token variant.
type Claims struct {
	Usage     Usage
	IssuedAt  time.Time // zero when absent
	ExpiresAt time.Time // zero when absent
	Signature string
}

// Token is a parsed QR payload: a *Daily or an *Activity.
type Token interface {
	Kind() Kind
	Common() Claims
	// attributes returns every signed field; the signature is excluded.
	attributes() signer.Attributes
}

// Daily authorises one subject to record shift attendance.
type Daily struct {
	Claims
	UserID int64
}

func (*Daily) Kind() Kind       { return KindDaily }
func (d *Daily) Common() Claims { return d.Claims }

func (d *Daily) attributes() signer.Attributes {
	a := d.Claims.attributes(KindDaily)
	a["user_id"] = strconv.FormatInt(d.UserID, 10)
	return a
}

// Activity authorises anyone holding it to record attendance for an activity.
type Activity struct {
	Claims
	ActivityID int64
}

func (*Activity) Kind() Kind       { return KindActivity }
func (a *Activity) Common() Claims { return a.Claims }

func (a *Activity) attributes() signer.Attributes {
	attrs := a.Claims.attributes(KindActivity)
	attrs["activity_id"] = strconv.FormatInt(a.ActivityID, 10)
	return attrs
}

func (c Claims) attributes(kind Kind) signer.Attributes {
	a := signer.Attributes{
		"type":  string(kind),
		"usage": string(c.Usage),
	}
	if !c.IssuedAt.IsZero() {
		a["iat"] = strconv.FormatInt(c.IssuedAt.Unix(), 10)
	}
	if !c.ExpiresAt.IsZero() {
		a["exp"] = strconv.FormatInt(c.ExpiresAt.Unix(), 10)
	}
	return a
}

// wire is the JSON shape embedded in the QR code.
type wire struct {
	Type       Kind   `json:"type"`
	Usage      Usage  `json:"usage"`
	UserID     *int64 `json:"user_id,omitempty"`
	ActivityID *int64 `json:"activity_id,omitempty"`
	IssuedAt   *int64 `json:"iat,omitempty"`
	ExpiresAt  *int64 `json:"exp,omitempty"`
	Signature  string `json:"sig,omitempty"`
}

// Encode serialises t to its QR text form.
func Encode(t Token) (string, error) {
	c := t.Common()
	w := wire{Type: t.Kind(), Usage: c.Usage, Signature: c.Signature}
	if !c.IssuedAt.IsZero() {
		v := c.IssuedAt.Unix()
		w.IssuedAt = &v
	}
	if !c.ExpiresAt.IsZero() {
		v := c.ExpiresAt.Unix()
		w.ExpiresAt = &v
	}
	switch v := t.(type) {
	case *Daily:
		w.UserID = &v.UserID
	case *Activity:
		w.ActivityID = &v.ActivityID
	default:
		return "", fmt.Errorf("token: unsupported variant %T", t)
	}
	b, err := json.Marshal(w)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode parses QR text into a variant. It checks structure only: usage,
// signature presence, validity and timing are the validator's job.
func Decode(text string) (Token, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.DisallowUnknownFields()
	var w wire
	if err := dec.Decode(&w); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after token")
	}

	c := Claims{Usage: w.Usage, Signature: w.Signature}
	if w.IssuedAt != nil {
		c.IssuedAt = time.Unix(*w.IssuedAt, 0)
	}
	if w.ExpiresAt != nil {
		c.ExpiresAt = time.Unix(*w.ExpiresAt, 0)
	}
	if w.IssuedAt != nil && w.ExpiresAt != nil && *w.IssuedAt > *w.ExpiresAt {
		return nil, errors.New("iat after exp")
	}

	switch w.Type {
	case KindDaily:
		if w.UserID == nil || w.ActivityID != nil {
			return nil, errors.New("daily token needs user_id and no activity_id")
		}
		return &Daily{Claims: c, UserID: *w.UserID}, nil
	case KindActivity:
		if w.ActivityID == nil || w.UserID != nil {
			return nil, errors.New("activity token needs activity_id and no user_id")
		}
		return &Activity{Claims: c, ActivityID: *w.ActivityID}, nil
	default:
		return nil, fmt.Errorf("unknown type %q", w.Type)
	}
}
