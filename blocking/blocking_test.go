package blocking

import (
	"errors"
	"testing"
	"time"

	"github.com/tallyhq/tally/id"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func record(blocked id.AnyID, service, state string, effective time.Time, seq int64, ent, bill, change bool) *State {
	return &State{
		ID:               id.NewBlockingStateID(),
		BlockedID:        blocked,
		Service:          service,
		StateName:        state,
		EffectiveDate:    effective,
		BlockEntitlement: ent,
		BlockBilling:     bill,
		BlockChanges:     change,
		Seq:              seq,
	}
}

func TestStateBefore(t *testing.T) {
	sub := id.NewSubscriptionID()
	earlier := record(sub, EntitlementService, StateStarted, date(2024, 1, 1), 1, false, false, false)
	later := record(sub, EntitlementService, StateBlocked, date(2024, 2, 1), 2, true, true, true)
	sameDay := record(sub, EntitlementService, StateClear, date(2024, 2, 1), 3, false, false, false)

	if !earlier.Before(later) {
		t.Error("earlier date should order before later date")
	}
	if later.Before(earlier) {
		t.Error("later date should not order before earlier date")
	}
	if !later.Before(sameDay) {
		t.Error("same date: lower seq should order first")
	}
	if sameDay.Before(later) {
		t.Error("same date: higher seq should order last")
	}
}

func TestValidateAppend(t *testing.T) {
	sub := id.NewSubscriptionID()
	other := id.NewSubscriptionID()
	existing := []*State{
		record(sub, EntitlementService, StateStarted, date(2024, 1, 1), 1, false, false, false),
		record(sub, "billing-service", "OVERDUE", date(2024, 3, 1), 2, false, true, false),
	}

	tests := []struct {
		name    string
		next    *State
		wantErr bool
	}{
		{
			"later date same service",
			record(sub, EntitlementService, StateBlocked, date(2024, 2, 1), 3, true, true, true),
			false,
		},
		{
			"same date same service",
			record(sub, EntitlementService, StateBlocked, date(2024, 1, 1), 3, true, true, true),
			false,
		},
		{
			"earlier date same service",
			record(sub, "billing-service", "CLEARED", date(2024, 2, 1), 3, false, false, false),
			true,
		},
		{
			"earlier date different service",
			record(sub, "fraud-service", "REVIEW", date(2023, 6, 1), 3, true, false, false),
			false,
		},
		{
			"earlier date different entity",
			record(other, EntitlementService, StateStarted, date(2023, 6, 1), 3, false, false, false),
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAppend(existing, tt.next)
			if tt.wantErr && !errors.Is(err, ErrOutOfOrder) {
				t.Errorf("expected ErrOutOfOrder, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestCurrentForService(t *testing.T) {
	sub := id.NewSubscriptionID()
	records := []*State{
		record(sub, EntitlementService, StateStarted, date(2024, 1, 1), 1, false, false, false),
		record(sub, EntitlementService, StateBlocked, date(2024, 3, 1), 2, true, true, true),
		record(sub, EntitlementService, StateClear, date(2024, 5, 1), 3, false, false, false),
		record(sub, "billing-service", "OVERDUE", date(2024, 2, 1), 4, false, true, false),
	}

	tests := []struct {
		name    string
		service string
		at      time.Time
		want    string // state name, "" for nil
	}{
		{"before first record", EntitlementService, date(2023, 12, 31), ""},
		{"at first record", EntitlementService, date(2024, 1, 1), StateStarted},
		{"between records", EntitlementService, date(2024, 2, 15), StateStarted},
		{"at block", EntitlementService, date(2024, 3, 1), StateBlocked},
		{"after clear", EntitlementService, date(2024, 6, 1), StateClear},
		{"other service", "billing-service", date(2024, 6, 1), "OVERDUE"},
		{"unknown service", "fraud-service", date(2024, 6, 1), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CurrentForService(records, tt.service, tt.at)
			if tt.want == "" {
				if got != nil {
					t.Errorf("expected nil, got %s", got.StateName)
				}
				return
			}
			if got == nil || got.StateName != tt.want {
				t.Errorf("got %v, want %s", got, tt.want)
			}
		})
	}
}

// The combined overlay is the OR across every service's latest state, so one
// service clearing its block does not unblock another service's.
func TestFlagsAtAcrossServices(t *testing.T) {
	sub := id.NewSubscriptionID()
	records := []*State{
		record(sub, EntitlementService, StateStarted, date(2024, 1, 1), 1, false, false, false),
		record(sub, "billing-service", "OVERDUE", date(2024, 2, 1), 2, false, true, true),
		record(sub, EntitlementService, StateBlocked, date(2024, 3, 1), 3, true, true, true),
		record(sub, EntitlementService, StateClear, date(2024, 4, 1), 4, false, false, false),
	}

	tests := []struct {
		name string
		at   time.Time
		want Flags
	}{
		{"before any record", date(2023, 12, 31), Flags{}},
		{"started only", date(2024, 1, 15), Flags{}},
		{"billing overdue", date(2024, 2, 15), Flags{Billing: true, Changes: true}},
		{"both blocked", date(2024, 3, 15), Flags{Entitlement: true, Billing: true, Changes: true}},
		{"entitlement cleared, billing still overdue", date(2024, 4, 15), Flags{Billing: true, Changes: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FlagsAt(records, tt.at); got != tt.want {
				t.Errorf("FlagsAt(%s): got %+v, want %+v", tt.at, got, tt.want)
			}
		})
	}
}

func TestFlagsAtSameDaySeqOrder(t *testing.T) {
	sub := id.NewSubscriptionID()
	day := date(2024, 1, 1)
	records := []*State{
		record(sub, EntitlementService, StateBlocked, day, 1, true, true, true),
		record(sub, EntitlementService, StateClear, day, 2, false, false, false),
	}

	if got := FlagsAt(records, day); got != (Flags{}) {
		t.Errorf("same-day records: highest seq should win, got %+v", got)
	}
}

func TestMaxSeq(t *testing.T) {
	sub := id.NewSubscriptionID()
	if got := MaxSeq(nil); got != 0 {
		t.Errorf("MaxSeq(nil): got %d, want 0", got)
	}

	records := []*State{
		record(sub, EntitlementService, StateStarted, date(2024, 1, 1), 3, false, false, false),
		record(sub, EntitlementService, StateBlocked, date(2024, 2, 1), 7, true, true, true),
		record(sub, "billing-service", "OVERDUE", date(2024, 3, 1), 5, false, true, false),
	}
	if got := MaxSeq(records); got != 7 {
		t.Errorf("MaxSeq: got %d, want 7", got)
	}
}
