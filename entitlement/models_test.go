package entitlement

import (
	"testing"
	"time"

	"github.com/tallyhq/tally/blocking"
	"github.com/tallyhq/tally/catalog"
	"github.com/tallyhq/tally/id"
	"github.com/tallyhq/tally/subscription"
	"github.com/tallyhq/tally/timeline"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestDeriveState(t *testing.T) {
	start := date(2024, 1, 1)
	cancel := date(2024, 6, 1)

	tests := []struct {
		name       string
		cancelDate *time.Time
		blocked    bool
		at         time.Time
		want       State
	}{
		{"before start", nil, false, date(2023, 12, 1), StatePending},
		{"at start", nil, false, start, StateActive},
		{"active", nil, false, date(2024, 3, 1), StateActive},
		{"blocked", nil, true, date(2024, 3, 1), StateBlocked},
		{"pending wins over blocked", nil, true, date(2023, 12, 1), StatePending},
		{"before cancel date", &cancel, false, date(2024, 5, 31), StateActive},
		{"at cancel date", &cancel, false, cancel, StateCancelled},
		{"after cancel date", &cancel, false, date(2024, 7, 1), StateCancelled},
		{"cancelled wins over blocked", &cancel, true, date(2024, 7, 1), StateCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveState(start, tt.cancelDate, tt.blocked, tt.at)
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseActionPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    ActionPolicy
		wantErr bool
	}{
		{"", PolicyNone, false},
		{"IMMEDIATE", PolicyImmediate, false},
		{"IMM", PolicyImmediate, false},
		{"END_OF_TERM", PolicyEndOfTerm, false},
		{"EOT", PolicyEndOfTerm, false},
		{"WHENEVER", PolicyNone, true},
		{"immediate", PolicyNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseActionPolicy(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseActionPolicy(%q): expected error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseActionPolicy(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestProject(t *testing.T) {
	subID := id.NewSubscriptionID()
	row := &Row{
		ID:          subID,
		BundleID:    id.NewBundleID(),
		AccountID:   id.NewAccountID(),
		ExternalKey: "ext-1",
		StartDate:   date(2024, 1, 1),
	}

	transitions := []*subscription.Transition{
		{
			ID:             id.NewTransitionID(),
			SubscriptionID: subID,
			Type:           subscription.TransitionCreate,
			EffectiveDate:  date(2024, 1, 1),
			Seq:            1,
			PlanName:       "standard-monthly",
			PhaseName:      "standard-monthly-trial",
			PhaseType:      catalog.PhaseTrial,
			ProductName:    "Standard",
			PriceListName:  catalog.DefaultPriceListName,
			BillingPeriod:  catalog.BillingMonthly,
		},
		{
			ID:             id.NewTransitionID(),
			SubscriptionID: subID,
			Type:           subscription.TransitionPhase,
			EffectiveDate:  date(2024, 1, 31),
			Seq:            2,
			PlanName:       "standard-monthly",
			PhaseName:      "standard-monthly-evergreen",
			PhaseType:      catalog.PhaseEvergreen,
			ProductName:    "Standard",
			PriceListName:  catalog.DefaultPriceListName,
			BillingPeriod:  catalog.BillingMonthly,
		},
	}
	states := []*blocking.State{
		{
			ID:            id.NewBlockingStateID(),
			BlockedID:     subID,
			Service:       blocking.EntitlementService,
			StateName:     blocking.StateStarted,
			EffectiveDate: date(2024, 1, 1),
			Seq:           1,
		},
		{
			ID:               id.NewBlockingStateID(),
			BlockedID:        subID,
			Service:          "billing-service",
			StateName:        "OVERDUE",
			EffectiveDate:    date(2024, 3, 1),
			BlockEntitlement: true,
			BlockBilling:     true,
			Seq:              2,
		},
	}
	events := timeline.Build(subID, transitions, states)

	t.Run("during trial", func(t *testing.T) {
		e := Project(row, events, nil, date(2024, 1, 15))
		if e.State != StateActive {
			t.Errorf("State: got %s", e.State)
		}
		if e.PhaseName != "standard-monthly-trial" {
			t.Errorf("PhaseName: got %q", e.PhaseName)
		}
		if e.ExternalKey != "ext-1" {
			t.Errorf("ExternalKey: got %q", e.ExternalKey)
		}
	})

	t.Run("after phase change", func(t *testing.T) {
		e := Project(row, events, nil, date(2024, 2, 15))
		if e.PhaseName != "standard-monthly-evergreen" {
			t.Errorf("PhaseName: got %q", e.PhaseName)
		}
		if e.State != StateActive {
			t.Errorf("State: got %s", e.State)
		}
	})

	t.Run("while blocked", func(t *testing.T) {
		e := Project(row, events, nil, date(2024, 3, 15))
		if e.State != StateBlocked {
			t.Errorf("State: got %s", e.State)
		}
		if !e.BlockedEntitlement || !e.BlockedBilling {
			t.Errorf("flags: %+v", e)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		cancel := date(2024, 4, 1)
		e := Project(row, events, &cancel, date(2024, 5, 1))
		if e.State != StateCancelled {
			t.Errorf("State: got %s", e.State)
		}
		if e.EndDate == nil || !e.EndDate.Equal(cancel) {
			t.Errorf("EndDate: got %v", e.EndDate)
		}
	})
}

func TestCancelDate(t *testing.T) {
	if got := CancelDate(nil); got != nil {
		t.Errorf("no transitions: got %v", got)
	}

	cancel := date(2024, 6, 1)
	transitions := []*subscription.Transition{
		{Type: subscription.TransitionCreate, EffectiveDate: date(2024, 1, 1)},
		{Type: subscription.TransitionCancel, EffectiveDate: cancel},
	}
	got := CancelDate(transitions)
	if got == nil || !got.Equal(cancel) {
		t.Errorf("got %v, want %s", got, cancel)
	}

	noCancel := []*subscription.Transition{
		{Type: subscription.TransitionCreate, EffectiveDate: date(2024, 1, 1)},
		{Type: subscription.TransitionPhase, EffectiveDate: date(2024, 1, 31)},
	}
	if got := CancelDate(noCancel); got != nil {
		t.Errorf("no cancel transition: got %v", got)
	}
}
