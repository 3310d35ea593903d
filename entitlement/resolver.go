package entitlement

import "time"

// Reason codes recorded on a Resolution.
const (
	ReasonFreeTier          = "free_tier"
	ReasonActive            = "active"
	ReasonTrial             = "trial"
	ReasonCancelledInPeriod = "cancelled_in_period"
	ReasonCancelledEnded    = "cancelled_period_ended"
	ReasonCancelledNoPeriod = "cancelled_no_period"
	ReasonInactiveStatus    = "inactive_status"
	ReasonExpired           = "expired"
	ReasonTrialEnded        = "trial_ended"
	ReasonUnparseable       = "unparseable_record"
)

// Resolution is the effective entitlement of a subscription at one instant.
type Resolution struct {
	EffectiveTier Tier
	RawTier       Tier
	Status        Status
	// HasAccess is true when the user currently receives the tier they
	// subscribed to.
	HasAccess bool
	// AccessUntil is when the current effective tier lapses, if known.
	AccessUntil *time.Time
	Reason      string
}

// Resolver computes effective tiers. The zero value is ready to use.
type Resolver struct {
	// GracePeriod extends ExpiresAt of active and trial subscriptions to
	// absorb billing-sync lag.
	GracePeriod time.Duration
}

// Resolve applies the entitlement rules in order:
//  1. a free tier resolves to free;
//  2. a cancelled subscription keeps its paid tier until AccessUntil
//     (falling back to NextBillingDate), then resolves to free;
//  3. a status other than active or trial, a passed expiry, or a passed
//     trial end resolves to free;
//  4. otherwise the raw tier is effective.
func (r Resolver) Resolve(sub Subscription, now time.Time) Resolution {
	res := Resolution{RawTier: sub.Tier, Status: sub.Status}

	if !sub.Tier.Paid() {
		return res.downgrade(ReasonFreeTier)
	}

	if sub.Status == StatusCancelled {
		until := sub.AccessUntil
		if until == nil {
			until = sub.NextBillingDate
		}
		if until == nil {
			return res.downgrade(ReasonCancelledNoPeriod)
		}
		if now.Before(*until) {
			return res.grant(ReasonCancelledInPeriod, until)
		}
		return res.downgrade(ReasonCancelledEnded)
	}

	if sub.Status != StatusActive && sub.Status != StatusTrial {
		return res.downgrade(ReasonInactiveStatus)
	}

	var until *time.Time
	if sub.ExpiresAt != nil {
		deadline := sub.ExpiresAt.Add(r.GracePeriod)
		if !now.Before(deadline) {
			return res.downgrade(ReasonExpired)
		}
		until = &deadline
	}

	if sub.Status == StatusTrial {
		if sub.TrialEndsAt != nil {
			if !now.Before(*sub.TrialEndsAt) {
				return res.downgrade(ReasonTrialEnded)
			}
			until = earliest(until, sub.TrialEndsAt)
		}
		return res.grant(ReasonTrial, until)
	}

	if until == nil {
		until = sub.NextBillingDate
	}
	return res.grant(ReasonActive, until)
}

// ResolveRaw parses raw and resolves it. A record that cannot be parsed
// resolves to free; the parse error is returned alongside for logging.
func (r Resolver) ResolveRaw(raw RawSubscription, now time.Time) (Resolution, error) {
	sub, err := ParseSubscription(raw)
	if err != nil {
		res := Resolution{RawTier: TierFree, Status: Status(raw.Status)}
		return res.downgrade(ReasonUnparseable), err
	}
	return r.Resolve(sub, now), nil
}

// Resolve is Resolver{}.Resolve.
func Resolve(sub Subscription, now time.Time) Resolution {
	return Resolver{}.Resolve(sub, now)
}

func (res Resolution) downgrade(reason string) Resolution {
	res.EffectiveTier = TierFree
	res.HasAccess = res.RawTier == TierFree
	res.AccessUntil = nil
	res.Reason = reason
	return res
}

func (res Resolution) grant(reason string, until *time.Time) Resolution {
	res.EffectiveTier = res.RawTier
	res.HasAccess = true
	if until != nil {
		u := *until
		res.AccessUntil = &u
	}
	res.Reason = reason
	return res
}

func earliest(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b == nil || a.Before(*b) {
		return a
	}
	return b
}
