// Package timeline merges billing transition records and blocking-state
// records into one chronological, deterministic SubscriptionEvent stream.
//
// The merge is a pure function of the persisted records: it is recomputed on
// every read, depends only on record content (never on insertion order), and
// breaks same-day ties by a fixed event-type priority so entitlement
// existence is visible before any state or billing change on the same day.
package timeline

import (
	"sort"
	"time"

	"github.com/tallyhq/tally/blocking"
	"github.com/tallyhq/tally/catalog"
	"github.com/tallyhq/tally/id"
	"github.com/tallyhq/tally/subscription"
)

// EventType is the kind of a derived subscription event.
type EventType string

const (
	EventCreate             EventType = "CREATE"
	EventTransfer           EventType = "TRANSFER"
	EventMigrate            EventType = "MIGRATE"
	EventServiceStateChange EventType = "SERVICE_STATE_CHANGE"
	EventPhase              EventType = "PHASE"
	EventChange             EventType = "CHANGE"
	EventCancel             EventType = "CANCEL"
)

// tiePriority orders same-day events: existence first, then service overlays,
// then phase, change and finally cancellation.
var tiePriority = map[EventType]int{
	EventCreate:             0,
	EventTransfer:           0,
	EventMigrate:            0,
	EventServiceStateChange: 1,
	EventPhase:              2,
	EventChange:             3,
	EventCancel:             4,
}

// CatalogState is the resolved plan coordinates at a point on the timeline.
type CatalogState struct {
	ProductName   string                `json:"product"`
	PlanName      string                `json:"plan"`
	PhaseName     string                `json:"phase"`
	PriceListName string                `json:"price_list"`
	BillingPeriod catalog.BillingPeriod `json:"billing_period"`
}

// Event is one derived timeline entry. PrevState is the catalog state just
// before the event (nil for the first event); NextState the state as of and
// after it. The blocking flags are the running combined overlay after the
// event takes effect.
type Event struct {
	SubscriptionID id.SubscriptionID `json:"subscription_id"`
	Type           EventType         `json:"type"`
	EffectiveDate  time.Time         `json:"effective_date"`

	PrevState *CatalogState `json:"prev_state,omitempty"`
	NextState *CatalogState `json:"next_state,omitempty"`

	BlockedEntitlement bool `json:"blocked_entitlement"`
	BlockedBilling     bool `json:"blocked_billing"`
	BlockedChanges     bool `json:"blocked_changes"`

	// Set for SERVICE_STATE_CHANGE events.
	ServiceName      string `json:"service_name,omitempty"`
	ServiceStateName string `json:"service_state_name,omitempty"`

	seq int64
}

// transitionEventType maps a persisted transition type to its event type.
var transitionEventType = map[subscription.TransitionType]EventType{
	subscription.TransitionCreate:   EventCreate,
	subscription.TransitionTransfer: EventTransfer,
	subscription.TransitionMigrate:  EventMigrate,
	subscription.TransitionPhase:    EventPhase,
	subscription.TransitionChange:   EventChange,
	subscription.TransitionCancel:   EventCancel,
}

// Build merges the subscription's billing transitions with the blocking-state
// records overlaying it (its own, its bundle's and its account's, already
// collected by the caller) into the ordered event stream.
func Build(subID id.SubscriptionID, transitions []*subscription.Transition, states []*blocking.State) []Event {
	events := make([]Event, 0, len(transitions)+len(states))

	for _, t := range transitions {
		events = append(events, Event{
			SubscriptionID: subID,
			Type:           transitionEventType[t.Type],
			EffectiveDate:  t.EffectiveDate,
			NextState: &CatalogState{
				ProductName:   t.ProductName,
				PlanName:      t.PlanName,
				PhaseName:     t.PhaseName,
				PriceListName: t.PriceListName,
				BillingPeriod: t.BillingPeriod,
			},
			seq: t.Seq,
		})
	}

	for _, s := range states {
		events = append(events, Event{
			SubscriptionID:   subID,
			Type:             EventServiceStateChange,
			EffectiveDate:    s.EffectiveDate,
			ServiceName:      s.Service,
			ServiceStateName: s.StateName,
			seq:              s.Seq,
		})
	}

	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.EffectiveDate.Equal(b.EffectiveDate) {
			return a.EffectiveDate.Before(b.EffectiveDate)
		}
		if tiePriority[a.Type] != tiePriority[b.Type] {
			return tiePriority[a.Type] < tiePriority[b.Type]
		}
		return a.seq < b.seq
	})

	// Walk the merged list folding running catalog state and blocking flags.
	var current *CatalogState
	for i := range events {
		ev := &events[i]
		ev.PrevState = current

		if ev.Type == EventServiceStateChange {
			// Service overlays never move the catalog state.
			ev.NextState = current
		} else {
			current = ev.NextState
		}

		flags := blocking.FlagsAt(states, ev.EffectiveDate)
		if ev.Type == EventServiceStateChange {
			// Same-day later records for the same service win in FlagsAt;
			// recompute with only records up to this one so an unblock
			// followed by a re-block on one day shows both steps.
			flags = flagsUpTo(states, ev.EffectiveDate, ev.seq, ev.ServiceName)
		}
		ev.BlockedEntitlement = flags.Entitlement
		ev.BlockedBilling = flags.Billing
		ev.BlockedChanges = flags.Changes
	}

	return events
}

// flagsUpTo computes combined flags at the instant of a specific service
// record, excluding same-service records that order after it.
func flagsUpTo(states []*blocking.State, at time.Time, seq int64, service string) blocking.Flags {
	trimmed := make([]*blocking.State, 0, len(states))
	for _, s := range states {
		if s.Service == service && s.EffectiveDate.Equal(at) && s.Seq > seq {
			continue
		}
		trimmed = append(trimmed, s)
	}
	return blocking.FlagsAt(trimmed, at)
}

// StateAt returns the catalog state effective at the given instant, or nil
// before the first state-bearing event.
func StateAt(events []Event, at time.Time) *CatalogState {
	var current *CatalogState
	for i := range events {
		if events[i].EffectiveDate.After(at) {
			break
		}
		if events[i].NextState != nil {
			current = events[i].NextState
		}
	}
	return current
}

// FlagsAtTime returns the combined blocking flags carried by the last event
// at or before the given instant.
func FlagsAtTime(events []Event, at time.Time) blocking.Flags {
	var f blocking.Flags
	for i := range events {
		if events[i].EffectiveDate.After(at) {
			break
		}
		f = blocking.Flags{
			Entitlement: events[i].BlockedEntitlement,
			Billing:     events[i].BlockedBilling,
			Changes:     events[i].BlockedChanges,
		}
	}
	return f
}
