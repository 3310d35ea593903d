package entitlement

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the billing lifecycle state of a subscription.
type Status string

const (
	StatusActive    Status = "active"
	StatusTrial     Status = "trial"
	StatusCancelled Status = "cancelled"
	StatusSuspended Status = "suspended"
	StatusExpired   Status = "expired"
)

// BillingCycle is the renewal period of a paid subscription.
type BillingCycle string

const (
	CycleNone    BillingCycle = ""
	CycleMonthly BillingCycle = "monthly"
	CycleYearly  BillingCycle = "yearly"
)

var (
	ErrUnknownStatus = errors.New("unknown subscription status")
	ErrUnknownCycle  = errors.New("unknown billing cycle")
	ErrBadTimestamp  = errors.New("invalid subscription timestamp")
)

// Subscription is the typed billing record of one user. Optional timestamps
// are nil when the billing provider never set them.
type Subscription struct {
	Tier            Tier
	Status          Status
	Cycle           BillingCycle
	StartedAt       *time.Time
	NextBillingDate *time.Time
	CancelledAt     *time.Time
	AccessUntil     *time.Time
	TrialEndsAt     *time.Time
	ExpiresAt       *time.Time
}

// Free returns the subscription assigned at signup.
func Free(now time.Time) Subscription {
	started := now.UTC()
	return Subscription{Tier: TierFree, Status: StatusActive, StartedAt: &started}
}

// RawSubscription is the persisted form. Timestamps are RFC 3339 strings;
// an empty string means unset.
type RawSubscription struct {
	Tier            string `json:"tier"`
	Status          string `json:"status"`
	BillingCycle    string `json:"billing_cycle,omitempty"`
	StartedAt       string `json:"started_at,omitempty"`
	NextBillingDate string `json:"next_billing_date,omitempty"`
	CancelledAt     string `json:"cancelled_at,omitempty"`
	AccessUntil     string `json:"access_until,omitempty"`
	TrialEndsAt     string `json:"trial_ends_at,omitempty"`
	ExpiresAt       string `json:"expires_at,omitempty"`
}

// ParseError reports which field of a raw record could not be parsed.
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("subscription field %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseSubscription converts a stored record into a Subscription. An empty
// tier and status default to free and active.
func ParseSubscription(raw RawSubscription) (Subscription, error) {
	var sub Subscription
	var err error

	if strings.TrimSpace(raw.Tier) == "" {
		sub.Tier = TierFree
	} else if sub.Tier, err = ParseTier(raw.Tier); err != nil {
		return Subscription{}, &ParseError{Field: "tier", Err: err}
	}

	if sub.Status, err = parseStatus(raw.Status); err != nil {
		return Subscription{}, &ParseError{Field: "status", Err: err}
	}

	switch c := BillingCycle(strings.ToLower(strings.TrimSpace(raw.BillingCycle))); c {
	case CycleNone, CycleMonthly, CycleYearly:
		sub.Cycle = c
	default:
		return Subscription{}, &ParseError{Field: "billing_cycle", Err: fmt.Errorf("%w: %q", ErrUnknownCycle, raw.BillingCycle)}
	}

	fields := []struct {
		name string
		in   string
		out  **time.Time
	}{
		{"started_at", raw.StartedAt, &sub.StartedAt},
		{"next_billing_date", raw.NextBillingDate, &sub.NextBillingDate},
		{"cancelled_at", raw.CancelledAt, &sub.CancelledAt},
		{"access_until", raw.AccessUntil, &sub.AccessUntil},
		{"trial_ends_at", raw.TrialEndsAt, &sub.TrialEndsAt},
		{"expires_at", raw.ExpiresAt, &sub.ExpiresAt},
	}
	for _, f := range fields {
		ts, err := parseTimestamp(f.in)
		if err != nil {
			return Subscription{}, &ParseError{Field: f.name, Err: err}
		}
		*f.out = ts
	}

	return sub, nil
}

// Raw converts s into its persisted form.
func (s Subscription) Raw() RawSubscription {
	return RawSubscription{
		Tier:            s.Tier.String(),
		Status:          string(s.Status),
		BillingCycle:    string(s.Cycle),
		StartedAt:       formatTimestamp(s.StartedAt),
		NextBillingDate: formatTimestamp(s.NextBillingDate),
		CancelledAt:     formatTimestamp(s.CancelledAt),
		AccessUntil:     formatTimestamp(s.AccessUntil),
		TrialEndsAt:     formatTimestamp(s.TrialEndsAt),
		ExpiresAt:       formatTimestamp(s.ExpiresAt),
	}
}

func parseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case "":
		return StatusActive, nil
	case StatusActive, StatusTrial, StatusCancelled, StatusSuspended, StatusExpired:
		return s, nil
	// some billing payloads spell it the US way
	case "canceled":
		return StatusCancelled, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
	}
}

func parseTimestamp(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrBadTimestamp, s)
	}
	t = t.UTC()
	return &t, nil
}

func formatTimestamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
