package token

import (
	"time"

	"qrattendance/internal/signer"
)

// Signer is the subset of *signer.Signer the issuer and validator use.
type Signer interface {
	Sign(attrs signer.Attributes) (string, error)
	Verify(attrs signer.Attributes, signature string) bool
}

// Issued is a freshly signed token together with its QR text.
type Issued struct {
	Token     Token
	Content   string
	ExpiresAt time.Time
}

// Issuer builds and signs tokens.
type Issuer struct {
	signer Signer
	policy Policy
	now    func() time.Time
}

// NewIssuer creates an issuer. now may be nil.
func NewIssuer(s Signer, policy Policy, now func() time.Time) *Issuer {
	if now == nil {
		now = time.Now
	}
	if policy.ActivityTTL <= 0 {
		policy.ActivityTTL = DefaultPolicy().ActivityTTL
	}
	return &Issuer{signer: s, policy: policy, now: now}
}

// IssueDaily creates a shift token for a subject, with lifetime and usage
// chosen by the subject's employment category.
func (i *Issuer) IssueDaily(subjectID int64, category string) (Issued, error) {
	rule := i.policy.RuleFor(category)
	t := &Daily{Claims: i.claims(rule.Usage, rule.TTL), UserID: subjectID}
	return i.finish(t, &t.Claims)
}

// IssueActivity creates a multi-use token for an activity.
func (i *Issuer) IssueActivity(activityID int64) (Issued, error) {
	t := &Activity{Claims: i.claims(MultiUse, i.policy.ActivityTTL), ActivityID: activityID}
	return i.finish(t, &t.Claims)
}

func (i *Issuer) claims(usage Usage, ttl time.Duration) Claims {
	// Second precision: the wire format carries unix seconds.
	iat := time.Unix(i.now().Unix(), 0)
	return Claims{
		Usage:     usage,
		IssuedAt:  iat,
		ExpiresAt: iat.Add(ttl),
	}
}

func (i *Issuer) finish(t Token, c *Claims) (Issued, error) {
	sig, err := i.signer.Sign(t.attributes())
	if err != nil {
		return Issued{}, err
	}
	c.Signature = sig
	content, err := Encode(t)
	if err != nil {
		return Issued{}, err
	}
	return Issued{Token: t, Content: content, ExpiresAt: c.ExpiresAt}, nil
}
