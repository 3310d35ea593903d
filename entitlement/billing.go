package entitlement

import (
	"errors"
	"fmt"
	"time"
)

// UpdateKind is the billing operation that produced an update.
type UpdateKind string

const (
	UpdateUpgrade   UpdateKind = "upgrade"
	UpdateDowngrade UpdateKind = "downgrade"
	UpdateCancel    UpdateKind = "cancel"
	UpdateSync      UpdateKind = "sync"
)

var ErrInvalidUpdate = errors.New("invalid billing update")

// BillingUpdate is the result of a billing-provider event, already
// translated out of the provider's webhook format.
type BillingUpdate struct {
	Kind            UpdateKind
	Tier            Tier
	Status          Status
	Cycle           BillingCycle
	NextBillingDate *time.Time
	TrialEndsAt     *time.Time
	ExpiresAt       *time.Time
}

// Apply returns sub with upd applied. It is the only place the raw tier of
// a subscription changes.
func Apply(sub Subscription, upd BillingUpdate, now time.Time) (Subscription, error) {
	now = now.UTC()
	switch upd.Kind {
	case UpdateUpgrade:
		if !upd.Tier.Paid() || (upd.Tier <= sub.Tier && sub.Status != StatusCancelled) {
			return sub, fmt.Errorf("%w: upgrade from %s to %s", ErrInvalidUpdate, sub.Tier, upd.Tier)
		}
		sub.Tier = upd.Tier
		sub.Status = StatusActive
		if upd.Status == StatusTrial {
			sub.Status = StatusTrial
		}
		sub.Cycle = upd.Cycle
		sub.StartedAt = &now
		sub.NextBillingDate = upd.NextBillingDate
		sub.TrialEndsAt = upd.TrialEndsAt
		sub.ExpiresAt = upd.ExpiresAt
		sub.CancelledAt = nil
		sub.AccessUntil = nil

	case UpdateDowngrade:
		if !upd.Tier.Valid() || upd.Tier >= sub.Tier {
			return sub, fmt.Errorf("%w: downgrade from %s to %s", ErrInvalidUpdate, sub.Tier, upd.Tier)
		}
		sub.Tier = upd.Tier
		sub.Status = StatusActive
		if upd.Tier == TierFree {
			sub.Cycle = CycleNone
			sub.NextBillingDate = nil
			sub.ExpiresAt = nil
		} else {
			sub.Cycle = upd.Cycle
			sub.NextBillingDate = upd.NextBillingDate
			sub.ExpiresAt = upd.ExpiresAt
		}
		sub.TrialEndsAt = nil
		sub.CancelledAt = nil
		sub.AccessUntil = nil

	case UpdateCancel:
		if !sub.Tier.Paid() {
			return sub, fmt.Errorf("%w: cancel on free tier", ErrInvalidUpdate)
		}
		if sub.Status == StatusCancelled {
			return sub, nil
		}
		sub.Status = StatusCancelled
		sub.CancelledAt = &now
		// access runs through the period already paid for
		sub.AccessUntil = sub.NextBillingDate
		if sub.AccessUntil == nil {
			sub.AccessUntil = sub.ExpiresAt
		}

	case UpdateSync:
		if !upd.Tier.Valid() {
			return sub, fmt.Errorf("%w: sync with tier %d", ErrInvalidUpdate, int(upd.Tier))
		}
		if _, err := parseStatus(string(upd.Status)); err != nil || upd.Status == "" {
			return sub, fmt.Errorf("%w: sync with status %q", ErrInvalidUpdate, upd.Status)
		}
		sub.Tier = upd.Tier
		sub.Status = upd.Status
		sub.Cycle = upd.Cycle
		sub.NextBillingDate = upd.NextBillingDate
		sub.TrialEndsAt = upd.TrialEndsAt
		sub.ExpiresAt = upd.ExpiresAt
		if upd.Status == StatusCancelled && sub.CancelledAt == nil {
			sub.CancelledAt = &now
			sub.AccessUntil = upd.NextBillingDate
		}
		if upd.Status != StatusCancelled {
			sub.CancelledAt = nil
			sub.AccessUntil = nil
		}

	default:
		return sub, fmt.Errorf("%w: kind %q", ErrInvalidUpdate, upd.Kind)
	}
	return sub, nil
}
