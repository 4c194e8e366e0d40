package tally_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/tallyhq/tally"
	"github.com/tallyhq/tally/catalog"
	"github.com/tallyhq/tally/entitlement"
	"github.com/tallyhq/tally/id"
	"github.com/tallyhq/tally/store/memory"
	"github.com/tallyhq/tally/timeline"
	"github.com/tallyhq/tally/types"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func money(v int64, c types.Currency) *types.Money {
	m := types.NewMoney(v, c)
	return &m
}

// fakeClock pins the engine's notion of now.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func testCatalog(t *testing.T) *catalog.VersionedCatalog {
	t.Helper()

	snap := &catalog.Snapshot{
		Name:          "engine-test",
		EffectiveDate: date(2024, 1, 1),
		Currencies:    []types.Currency{types.USD},
		Products: []*catalog.Product{
			{Name: "Standard", Category: catalog.ProductBase},
			{Name: "Premium", Category: catalog.ProductBase},
		},
		Plans: []*catalog.Plan{
			{
				Name:          "standard-monthly",
				ProductName:   "Standard",
				BillingPeriod: catalog.BillingMonthly,
				Phases: []*catalog.PlanPhase{
					{
						Type:     catalog.PhaseTrial,
						Duration: catalog.Duration{Unit: catalog.UnitDays, Number: 30},
						Fixed:    catalog.InternationalPrice{{Currency: types.USD, Value: money(0, types.USD)}},
					},
					{
						Type:      catalog.PhaseEvergreen,
						Duration:  catalog.Duration{Unit: catalog.UnitUnlimited},
						Recurring: catalog.InternationalPrice{{Currency: types.USD, Value: money(1000, types.USD)}},
					},
				},
			},
			{
				Name:          "premium-monthly",
				ProductName:   "Premium",
				BillingPeriod: catalog.BillingMonthly,
				Phases: []*catalog.PlanPhase{
					{
						Type:      catalog.PhaseEvergreen,
						Duration:  catalog.Duration{Unit: catalog.UnitUnlimited},
						Recurring: catalog.InternationalPrice{{Currency: types.USD, Value: money(2000, types.USD)}},
					},
				},
			},
		},
		PriceLists: &catalog.PriceListSet{
			Default: &catalog.PriceList{
				Name:      catalog.DefaultPriceListName,
				PlanNames: []string{"standard-monthly", "premium-monthly"},
			},
		},
		Rules: &catalog.Rules{
			Change: []catalog.CaseChangeRule{
				{PhaseType: catalog.PhaseTrial, Policy: catalog.ActionImmediate},
				{FromProduct: "Premium", ToProduct: "Standard", Policy: catalog.ActionIllegal},
				{Policy: catalog.ActionEndOfTerm},
			},
			Cancel: []catalog.CaseCancelRule{
				{PhaseType: catalog.PhaseTrial, Policy: catalog.ActionImmediate},
				{Policy: catalog.ActionEndOfTerm},
			},
			CreateAlignment: []catalog.CaseCreateAlignmentRule{
				{Alignment: catalog.AlignStartOfBundle},
			},
		},
	}
	if err := snap.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	vc, err := catalog.NewVersionedCatalog(snap)
	if err != nil {
		t.Fatalf("NewVersionedCatalog: %v", err)
	}
	return vc
}

func newTestEngine(t *testing.T, now time.Time) (*tally.Engine, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: now}
	e := tally.New(memory.New(), testCatalog(t),
		tally.WithClock(clock.Now),
		tally.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return e, clock
}

func create(t *testing.T, e *tally.Engine, planName string, effective time.Time) *entitlement.Entitlement {
	t.Helper()
	ent, err := e.CreateEntitlement(context.Background(), tally.CreateParams{
		AccountID:     id.NewAccountID(),
		Spec:          catalog.ByName(planName),
		EffectiveDate: effective,
	})
	if err != nil {
		t.Fatalf("CreateEntitlement: %v", err)
	}
	return ent
}

func eventTypes(events []timeline.Event) []timeline.EventType {
	out := make([]timeline.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestCreateEntitlement(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, date(2024, 2, 15))

	ent := create(t, e, "standard-monthly", date(2024, 1, 1))

	if ent.State != entitlement.StateActive {
		t.Errorf("State: got %s, want ACTIVE", ent.State)
	}
	if ent.PlanName != "standard-monthly" {
		t.Errorf("PlanName: got %q", ent.PlanName)
	}
	// The 30-day trial ended on Jan 31; by Feb 15 the evergreen phase applies.
	if ent.PhaseName != "standard-monthly-evergreen" {
		t.Errorf("PhaseName: got %q", ent.PhaseName)
	}
	if ent.BundleID.IsNil() {
		t.Error("BundleID not assigned")
	}

	events, err := e.Timeline(ctx, ent.ID)
	if err != nil {
		t.Fatalf("Timeline: %v", err)
	}
	want := []timeline.EventType{
		timeline.EventCreate,
		timeline.EventServiceStateChange, // ENT_STARTED
		timeline.EventPhase,              // trial → evergreen on Jan 31
	}
	got := eventTypes(events)
	if len(got) != len(want) {
		t.Fatalf("events: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: got %s, want %s", i, got[i], want[i])
		}
	}
	if !events[2].EffectiveDate.Equal(date(2024, 1, 31)) {
		t.Errorf("phase date: got %s, want 2024-01-31", events[2].EffectiveDate)
	}
}

func TestCreateEntitlementFutureStart(t *testing.T) {
	e, _ := newTestEngine(t, date(2024, 2, 1))

	ent := create(t, e, "standard-monthly", date(2024, 3, 1))
	if ent.State != entitlement.StatePending {
		t.Errorf("State: got %s, want PENDING", ent.State)
	}
}

func TestCreateEntitlementValidation(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, date(2024, 2, 1))

	_, err := e.CreateEntitlement(ctx, tally.CreateParams{
		Spec: catalog.ByName("standard-monthly"),
	})
	if !errors.Is(err, tally.ErrInvalidInput) {
		t.Errorf("missing account: got %v, want ErrInvalidInput", err)
	}

	_, err = e.CreateEntitlement(ctx, tally.CreateParams{
		AccountID: id.NewAccountID(),
		Spec:      catalog.ByName("no-such-plan"),
	})
	if !errors.Is(err, tally.ErrNoSuchPlan) {
		t.Errorf("unknown plan: got %v, want ErrNoSuchPlan", err)
	}

	_, err = e.CreateEntitlement(ctx, tally.CreateParams{
		AccountID:     id.NewAccountID(),
		Spec:          catalog.ByName("standard-monthly"),
		EffectiveDate: date(2023, 6, 1),
	})
	if !errors.Is(err, tally.ErrCatalogNotFoundForDate) {
		t.Errorf("date before catalog: got %v, want ErrCatalogNotFoundForDate", err)
	}
}

func TestChangePlanEndOfTerm(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, date(2024, 2, 15))

	ent := create(t, e, "standard-monthly", date(2024, 1, 1))

	// Evergreen phase, no explicit policy: the default rule defers the change
	// to the end of the running monthly term (Mar 1, anchored at Jan 1).
	changed, err := e.ChangePlan(ctx, ent.ID, tally.ChangeParams{
		Spec: catalog.ByName("premium-monthly"),
	})
	if err != nil {
		t.Fatalf("ChangePlan: %v", err)
	}
	if changed.PlanName != "standard-monthly" {
		t.Errorf("plan before change date: got %q", changed.PlanName)
	}

	events, err := e.Timeline(ctx, ent.ID)
	if err != nil {
		t.Fatalf("Timeline: %v", err)
	}
	var changeEv *timeline.Event
	for i := range events {
		if events[i].Type == timeline.EventChange {
			changeEv = &events[i]
		}
	}
	if changeEv == nil {
		t.Fatal("no CHANGE event recorded")
	}
	if !changeEv.EffectiveDate.Equal(date(2024, 3, 1)) {
		t.Errorf("change date: got %s, want 2024-03-01", changeEv.EffectiveDate)
	}
	if changeEv.NextState.PlanName != "premium-monthly" {
		t.Errorf("change target: got %q", changeEv.NextState.PlanName)
	}
}

func TestChangePlanImmediatePolicy(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, date(2024, 2, 15))

	ent := create(t, e, "standard-monthly", date(2024, 1, 1))

	changed, err := e.ChangePlan(ctx, ent.ID, tally.ChangeParams{
		Spec:   catalog.ByName("premium-monthly"),
		Policy: entitlement.PolicyImmediate,
	})
	if err != nil {
		t.Fatalf("ChangePlan: %v", err)
	}
	if changed.PlanName != "premium-monthly" {
		t.Errorf("plan: got %q, want premium-monthly", changed.PlanName)
	}
	if changed.ProductName != "Premium" {
		t.Errorf("product: got %q", changed.ProductName)
	}
}

func TestChangePlanIllegal(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, date(2024, 2, 15))

	ent := create(t, e, "premium-monthly", date(2024, 1, 1))

	_, err := e.ChangePlan(ctx, ent.ID, tally.ChangeParams{
		Spec: catalog.ByName("standard-monthly"),
	})
	if !errors.Is(err, tally.ErrChangePlanIllegal) {
		t.Errorf("got %v, want ErrChangePlanIllegal", err)
	}
}

func TestChangePlanDateFloor(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, date(2024, 2, 15))

	ent := create(t, e, "premium-monthly", date(2024, 2, 1))

	_, err := e.ChangePlan(ctx, ent.ID, tally.ChangeParams{
		Spec:          catalog.ByName("premium-monthly"),
		Policy:        entitlement.PolicyImmediate,
		RequestedDate: date(2024, 1, 15),
	})
	if !errors.Is(err, tally.ErrInvalidRequestedDate) {
		t.Errorf("got %v, want ErrInvalidRequestedDate", err)
	}
}

func TestChangePlanWhileBlocked(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, date(2024, 2, 15))

	ent := create(t, e, "standard-monthly", date(2024, 1, 1))
	if err := e.Pause(ctx, ent.BundleID, time.Time{}); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	_, err := e.ChangePlan(ctx, ent.ID, tally.ChangeParams{
		Spec: catalog.ByName("premium-monthly"),
	})
	if !errors.Is(err, tally.ErrBlockedChange) {
		t.Errorf("got %v, want ErrBlockedChange", err)
	}
}

func TestCancelEndOfTerm(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, date(2024, 2, 15))

	ent := create(t, e, "standard-monthly", date(2024, 1, 1))

	cancelled, err := e.Cancel(ctx, ent.ID, tally.CancelParams{})
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	// The cancellation lands at the end of the running term; until then the
	// entitlement stays active with its end date pinned.
	if cancelled.State != entitlement.StateActive {
		t.Errorf("State: got %s, want ACTIVE", cancelled.State)
	}
	if cancelled.EndDate == nil || !cancelled.EndDate.Equal(date(2024, 3, 1)) {
		t.Errorf("EndDate: got %v, want 2024-03-01", cancelled.EndDate)
	}

	// Cancelling twice is rejected.
	if _, err := e.Cancel(ctx, ent.ID, tally.CancelParams{}); !errors.Is(err, tally.ErrEntitlementCancelled) {
		t.Errorf("double cancel: got %v, want ErrEntitlementCancelled", err)
	}
	// So is changing a cancelled plan.
	_, err = e.ChangePlan(ctx, ent.ID, tally.ChangeParams{Spec: catalog.ByName("premium-monthly")})
	if !errors.Is(err, tally.ErrEntitlementCancelled) {
		t.Errorf("change after cancel: got %v, want ErrEntitlementCancelled", err)
	}
}

func TestCancelImmediate(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, date(2024, 2, 15))

	ent := create(t, e, "standard-monthly", date(2024, 1, 1))

	cancelled, err := e.Cancel(ctx, ent.ID, tally.CancelParams{
		Policy: entitlement.PolicyImmediate,
	})
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.State != entitlement.StateCancelled {
		t.Errorf("State: got %s, want CANCELLED", cancelled.State)
	}
	if cancelled.EndDate == nil || !cancelled.EndDate.Equal(date(2024, 2, 15)) {
		t.Errorf("EndDate: got %v", cancelled.EndDate)
	}
}

func TestCancelBeforeStart(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, date(2024, 2, 15))

	ent := create(t, e, "premium-monthly", date(2024, 2, 1))

	_, err := e.Cancel(ctx, ent.ID, tally.CancelParams{
		Policy:        entitlement.PolicyImmediate,
		RequestedDate: date(2024, 1, 15),
	})
	if !errors.Is(err, tally.ErrInvalidRequestedDate) {
		t.Errorf("got %v, want ErrInvalidRequestedDate", err)
	}
}

func TestUncancelRestoresSchedule(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, date(2024, 1, 15))

	// Still in trial; the future evergreen phase is scheduled for Jan 31.
	ent := create(t, e, "standard-monthly", date(2024, 1, 1))

	// A future-dated cancellation on Jan 20 wipes that phase transition.
	if _, err := e.Cancel(ctx, ent.ID, tally.CancelParams{
		Policy:        entitlement.PolicyImmediate,
		RequestedDate: date(2024, 1, 20),
	}); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	events, err := e.Timeline(ctx, ent.ID)
	if err != nil {
		t.Fatalf("Timeline: %v", err)
	}
	for _, ev := range events {
		if ev.Type == timeline.EventPhase {
			t.Fatal("future phase transition survived the cancellation")
		}
	}

	// Undoing it before Jan 20 removes the cancellation and regenerates the
	// phase schedule.
	restored, err := e.Uncancel(ctx, ent.ID)
	if err != nil {
		t.Fatalf("Uncancel: %v", err)
	}
	if restored.State != entitlement.StateActive {
		t.Errorf("State: got %s, want ACTIVE", restored.State)
	}
	if restored.EndDate != nil {
		t.Errorf("EndDate: got %v, want nil", restored.EndDate)
	}

	events, err = e.Timeline(ctx, ent.ID)
	if err != nil {
		t.Fatalf("Timeline: %v", err)
	}
	var phaseEv *timeline.Event
	for i := range events {
		if events[i].Type == timeline.EventCancel {
			t.Error("CANCEL event survived uncancel")
		}
		if events[i].Type == timeline.EventPhase {
			phaseEv = &events[i]
		}
	}
	if phaseEv == nil {
		t.Fatal("phase schedule not restored")
	}
	if !phaseEv.EffectiveDate.Equal(date(2024, 1, 31)) {
		t.Errorf("restored phase date: got %s, want 2024-01-31", phaseEv.EffectiveDate)
	}
}

func TestUncancelBadStates(t *testing.T) {
	ctx := context.Background()
	e, clock := newTestEngine(t, date(2024, 2, 15))

	ent := create(t, e, "standard-monthly", date(2024, 1, 1))

	// Nothing to undo.
	if _, err := e.Uncancel(ctx, ent.ID); !errors.Is(err, tally.ErrUncancelBadState) {
		t.Errorf("no cancellation: got %v, want ErrUncancelBadState", err)
	}

	// Once the cancellation date passes the entitlement is terminal.
	if _, err := e.Cancel(ctx, ent.ID, tally.CancelParams{}); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	clock.now = date(2024, 3, 2) // past the Mar 1 effective date
	if _, err := e.Uncancel(ctx, ent.ID); !errors.Is(err, tally.ErrUncancelBadState) {
		t.Errorf("after effective date: got %v, want ErrUncancelBadState", err)
	}
}

func TestPauseResume(t *testing.T) {
	ctx := context.Background()
	e, clock := newTestEngine(t, date(2024, 2, 1))

	ent := create(t, e, "standard-monthly", date(2024, 1, 1))

	if err := e.Pause(ctx, ent.BundleID, date(2024, 2, 1)); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	paused, err := e.GetEntitlement(ctx, ent.ID)
	if err != nil {
		t.Fatalf("GetEntitlement: %v", err)
	}
	if paused.State != entitlement.StateBlocked {
		t.Errorf("State: got %s, want BLOCKED", paused.State)
	}
	if !paused.BlockedEntitlement || !paused.BlockedBilling || !paused.BlockedChanges {
		t.Errorf("flags: %+v", paused)
	}

	clock.now = date(2024, 2, 10)
	if err := e.Resume(ctx, ent.BundleID, date(2024, 2, 10)); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	resumed, err := e.GetEntitlement(ctx, ent.ID)
	if err != nil {
		t.Fatalf("GetEntitlement: %v", err)
	}
	if resumed.State != entitlement.StateActive {
		t.Errorf("State: got %s, want ACTIVE", resumed.State)
	}
	if resumed.BlockedEntitlement || resumed.BlockedBilling || resumed.BlockedChanges {
		t.Errorf("flags after resume: %+v", resumed)
	}
}

func TestAddBlockingState(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, date(2024, 2, 1))

	ent := create(t, e, "standard-monthly", date(2024, 1, 1))

	st, err := e.AddBlockingState(ctx, tally.BlockParams{
		BlockedID:     ent.ID,
		Service:       "payment-service",
		StateName:     "OVERDUE",
		EffectiveDate: date(2024, 2, 1),
		BlockBilling:  true,
	})
	if err != nil {
		t.Fatalf("AddBlockingState: %v", err)
	}
	if st.Seq <= 0 {
		t.Errorf("Seq: got %d", st.Seq)
	}

	// An earlier record for the same (entity, service) pair is rejected and
	// nothing is written.
	_, err = e.AddBlockingState(ctx, tally.BlockParams{
		BlockedID:     ent.ID,
		Service:       "payment-service",
		StateName:     "CLEARED",
		EffectiveDate: date(2024, 1, 15),
	})
	if !errors.Is(err, tally.ErrOutOfOrderBlockingState) {
		t.Errorf("got %v, want ErrOutOfOrderBlockingState", err)
	}

	// A different service may still report earlier dates.
	if _, err := e.AddBlockingState(ctx, tally.BlockParams{
		BlockedID:     ent.ID,
		Service:       "fraud-service",
		StateName:     "REVIEW",
		EffectiveDate: date(2024, 1, 15),
	}); err != nil {
		t.Errorf("different service: %v", err)
	}

	if _, err := e.AddBlockingState(ctx, tally.BlockParams{Service: "x", StateName: "y"}); !errors.Is(err, tally.ErrInvalidInput) {
		t.Errorf("missing entity: got %v, want ErrInvalidInput", err)
	}
	if _, err := e.AddBlockingState(ctx, tally.BlockParams{BlockedID: ent.ID}); !errors.Is(err, tally.ErrInvalidInput) {
		t.Errorf("missing service: got %v, want ErrInvalidInput", err)
	}
}

func TestBlockingAppendsShareOneLock(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: date(2024, 2, 1)}
	s := memory.New()
	e := tally.New(s, testCatalog(t),
		tally.WithClock(clock.Now),
		tally.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	ent := create(t, e, "standard-monthly", date(2024, 1, 1))

	// External services and a cancellation writing the same entity's ledger
	// concurrently. Every append must observe the earlier ones, so the
	// sequence numbers come out unique.
	var wg sync.WaitGroup
	services := []string{"payment-service", "fraud-service", "support-service", "compliance-service"}
	for _, svc := range services {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.AddBlockingState(ctx, tally.BlockParams{
				BlockedID:     ent.ID,
				Service:       svc,
				StateName:     "HOLD",
				EffectiveDate: date(2024, 2, 1),
				BlockBilling:  true,
			}); err != nil {
				t.Errorf("AddBlockingState(%s): %v", svc, err)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := e.Cancel(ctx, ent.ID, tally.CancelParams{}); err != nil {
			t.Errorf("Cancel: %v", err)
		}
	}()
	wg.Wait()

	states, err := s.ListBlockingStates(ctx, ent.ID)
	if err != nil {
		t.Fatalf("ListBlockingStates: %v", err)
	}
	// The creation record, one per service, and the cancellation record.
	if len(states) != len(services)+2 {
		t.Fatalf("records: got %d, want %d", len(states), len(services)+2)
	}
	seen := make(map[int64]bool)
	for _, st := range states {
		if seen[st.Seq] {
			t.Errorf("duplicate seq %d", st.Seq)
		}
		seen[st.Seq] = true
	}
}

func TestGetSubscription(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, date(2024, 2, 15))

	ent := create(t, e, "standard-monthly", date(2024, 1, 1))

	sub, err := e.GetSubscription(ctx, ent.ID)
	if err != nil {
		t.Fatalf("GetSubscription: %v", err)
	}
	if sub.PlanName != "standard-monthly" {
		t.Errorf("PlanName: got %q", sub.PlanName)
	}
	if !sub.BillingStartDate.Equal(date(2024, 1, 1)) {
		t.Errorf("BillingStartDate: got %s", sub.BillingStartDate)
	}
	if sub.BillCycleDay != 1 {
		t.Errorf("BillCycleDay: got %d, want 1", sub.BillCycleDay)
	}
	// Next monthly boundary strictly after Feb 15.
	if !sub.ChargedThroughDate.Equal(date(2024, 3, 1)) {
		t.Errorf("ChargedThroughDate: got %s, want 2024-03-01", sub.ChargedThroughDate)
	}
	if sub.BillingEndDate != nil {
		t.Errorf("BillingEndDate: got %v, want nil", sub.BillingEndDate)
	}
	if sub.BlockedBilling {
		t.Error("BlockedBilling: got true")
	}

	// A later entitlement on the same account bills on the account's cycle
	// day (the default billing alignment), not its own start day.
	second, err := e.CreateEntitlement(ctx, tally.CreateParams{
		AccountID:     ent.AccountID,
		Spec:          catalog.ByName("premium-monthly"),
		EffectiveDate: date(2024, 1, 10),
	})
	if err != nil {
		t.Fatalf("CreateEntitlement: %v", err)
	}
	secondSub, err := e.GetSubscription(ctx, second.ID)
	if err != nil {
		t.Fatalf("GetSubscription: %v", err)
	}
	if !secondSub.BillingStartDate.Equal(date(2024, 1, 10)) {
		t.Errorf("second BillingStartDate: got %s", secondSub.BillingStartDate)
	}
	if secondSub.BillCycleDay != 1 {
		t.Errorf("second BillCycleDay: got %d, want account-aligned 1", secondSub.BillCycleDay)
	}
}

func TestGetSubscriptionChargedThroughStopsAtCancel(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, date(2024, 2, 15))

	ent := create(t, e, "standard-monthly", date(2024, 1, 1))

	// Cancel mid-period, before the next monthly boundary on Mar 1.
	if _, err := e.Cancel(ctx, ent.ID, tally.CancelParams{
		Policy:        entitlement.PolicyImmediate,
		RequestedDate: date(2024, 2, 20),
	}); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	sub, err := e.GetSubscription(ctx, ent.ID)
	if err != nil {
		t.Fatalf("GetSubscription: %v", err)
	}
	if sub.BillingEndDate == nil || !sub.BillingEndDate.Equal(date(2024, 2, 20)) {
		t.Fatalf("BillingEndDate: got %v, want 2024-02-20", sub.BillingEndDate)
	}
	// Charged through the cancellation date, not the period boundary past it.
	if !sub.ChargedThroughDate.Equal(date(2024, 2, 20)) {
		t.Errorf("ChargedThroughDate: got %s, want 2024-02-20", sub.ChargedThroughDate)
	}
}

func TestGetEntitlementByExternalKey(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, date(2024, 2, 1))

	ent, err := e.CreateEntitlement(ctx, tally.CreateParams{
		AccountID:     id.NewAccountID(),
		ExternalKey:   "customer-42",
		Spec:          catalog.ByName("standard-monthly"),
		EffectiveDate: date(2024, 1, 1),
	})
	if err != nil {
		t.Fatalf("CreateEntitlement: %v", err)
	}

	got, err := e.GetEntitlementByExternalKey(ctx, "customer-42")
	if err != nil {
		t.Fatalf("GetEntitlementByExternalKey: %v", err)
	}
	if got.ID.String() != ent.ID.String() {
		t.Errorf("ID: got %s, want %s", got.ID, ent.ID)
	}

	if _, err := e.GetEntitlementByExternalKey(ctx, "ghost"); !errors.Is(err, tally.ErrEntitlementNotFound) {
		t.Errorf("got %v, want ErrEntitlementNotFound", err)
	}
}

func TestCreateWithPriceOverride(t *testing.T) {
	ctx := context.Background()
	e, clock := newTestEngine(t, date(2024, 1, 15))

	ent, err := e.CreateEntitlement(ctx, tally.CreateParams{
		AccountID:     id.NewAccountID(),
		Spec:          catalog.ByName("standard-monthly"),
		EffectiveDate: date(2024, 1, 1),
		Overrides: []catalog.PhaseOverride{
			{PhaseType: catalog.PhaseEvergreen, Currency: types.USD, Recurring: money(800, types.USD)},
		},
	})
	if err != nil {
		t.Fatalf("CreateEntitlement: %v", err)
	}
	if ent.PlanName == "standard-monthly" {
		t.Error("override should resolve to a synthesized variant plan")
	}

	// The variant survives a cancel/uncancel round trip even though it is not
	// resolvable by name in the catalog.
	if _, err := e.Cancel(ctx, ent.ID, tally.CancelParams{
		Policy:        entitlement.PolicyImmediate,
		RequestedDate: date(2024, 1, 20),
	}); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	restored, err := e.Uncancel(ctx, ent.ID)
	if err != nil {
		t.Fatalf("Uncancel: %v", err)
	}
	if restored.PlanName != ent.PlanName {
		t.Errorf("plan after uncancel: got %q, want %q", restored.PlanName, ent.PlanName)
	}

	clock.now = date(2024, 2, 15)
	later, err := e.GetEntitlement(ctx, ent.ID)
	if err != nil {
		t.Fatalf("GetEntitlement: %v", err)
	}
	if later.PhaseName != "standard-monthly-evergreen" {
		t.Errorf("restored phase: got %q", later.PhaseName)
	}
	if later.PlanName != ent.PlanName {
		t.Errorf("plan on restored phase: got %q, want %q", later.PlanName, ent.PlanName)
	}
}

func TestBundleAlignment(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, date(2024, 2, 15))

	first := create(t, e, "standard-monthly", date(2024, 1, 1))

	// A second entitlement joining the bundle mid-stream aligns its phase
	// schedule to the bundle's start, so its trial window is already partly
	// consumed.
	second, err := e.CreateEntitlement(ctx, tally.CreateParams{
		AccountID:     first.AccountID,
		BundleID:      first.BundleID,
		Spec:          catalog.ByName("standard-monthly"),
		EffectiveDate: date(2024, 1, 20),
	})
	if err != nil {
		t.Fatalf("CreateEntitlement: %v", err)
	}

	events, err := e.Timeline(ctx, second.ID)
	if err != nil {
		t.Fatalf("Timeline: %v", err)
	}
	var phaseEv *timeline.Event
	for i := range events {
		if events[i].Type == timeline.EventPhase {
			phaseEv = &events[i]
		}
	}
	if phaseEv == nil {
		t.Fatal("no phase transition for bundled entitlement")
	}
	// Aligned to the bundle start Jan 1, not its own Jan 20 start.
	if !phaseEv.EffectiveDate.Equal(date(2024, 1, 31)) {
		t.Errorf("aligned phase date: got %s, want 2024-01-31", phaseEv.EffectiveDate)
	}
}

func TestUncancelKeepsBundleAlignedSchedule(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, date(2024, 1, 21))

	first := create(t, e, "standard-monthly", date(2024, 1, 1))

	second, err := e.CreateEntitlement(ctx, tally.CreateParams{
		AccountID:     first.AccountID,
		BundleID:      first.BundleID,
		Spec:          catalog.ByName("standard-monthly"),
		EffectiveDate: date(2024, 1, 20),
	})
	if err != nil {
		t.Fatalf("CreateEntitlement: %v", err)
	}

	// A future-dated cancellation wipes the bundle-aligned Jan 31 phase
	// transition; undoing it must put the schedule back exactly as created.
	if _, err := e.Cancel(ctx, second.ID, tally.CancelParams{
		Policy:        entitlement.PolicyImmediate,
		RequestedDate: date(2024, 1, 25),
	}); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := e.Uncancel(ctx, second.ID); err != nil {
		t.Fatalf("Uncancel: %v", err)
	}

	events, err := e.Timeline(ctx, second.ID)
	if err != nil {
		t.Fatalf("Timeline: %v", err)
	}
	var phaseEv *timeline.Event
	for i := range events {
		if events[i].Type == timeline.EventPhase {
			phaseEv = &events[i]
		}
	}
	if phaseEv == nil {
		t.Fatal("no phase transition after uncancel")
	}
	// Still anchored at the bundle start Jan 1, not at the entitlement's own
	// Jan 20 start.
	if !phaseEv.EffectiveDate.Equal(date(2024, 1, 31)) {
		t.Errorf("restored phase date: got %s, want 2024-01-31", phaseEv.EffectiveDate)
	}
}
