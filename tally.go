package tally

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tallyhq/tally/blocking"
	"github.com/tallyhq/tally/catalog"
	"github.com/tallyhq/tally/entitlement"
	"github.com/tallyhq/tally/hooks"
	"github.com/tallyhq/tally/id"
	"github.com/tallyhq/tally/store"
	"github.com/tallyhq/tally/subscription"
	"github.com/tallyhq/tally/timeline"
	"github.com/tallyhq/tally/types"
)

// Engine is the main entry point for the Tally subscription core. It owns the
// versioned catalog, the persistence backend and the hook registry, and
// enforces every lifecycle and ledger invariant before anything is written.
//
// An Engine is safe for concurrent use. Writes for one entity are serialized
// on a per-key lock; reads never block writes on other entities.
type Engine struct {
	store   store.Store
	catalog *catalog.VersionedCatalog
	hooks   *hooks.Registry
	logger  *slog.Logger
	clock   func() time.Time
	locks   *keyedMutex

	catalogDir string
	cancelBg   context.CancelFunc
	bg         sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger used by the engine and its hook
// registry.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.hooks.WithLogger(logger)
	}
}

// WithHook registers a hook at construction time. Registration errors
// (duplicate names) panic; hooks are wired by the embedding program, so a
// collision is a programming error.
func WithHook(h hooks.Hook) Option {
	return func(e *Engine) {
		if err := e.hooks.Register(h); err != nil {
			panic(err)
		}
	}
}

// WithClock overrides the engine's time source. Tests use this to pin "now".
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithCatalogDirectory enables hot-loading of new catalog versions dropped
// into dir while the engine runs.
func WithCatalogDirectory(dir string) Option {
	return func(e *Engine) { e.catalogDir = dir }
}

// New creates an engine over the given store and catalog.
func New(s store.Store, vc *catalog.VersionedCatalog, opts ...Option) *Engine {
	e := &Engine{
		store:   s,
		catalog: vc,
		hooks:   hooks.NewRegistry(),
		logger:  slog.Default(),
		clock:   time.Now,
		locks:   newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Catalog returns the engine's versioned catalog.
func (e *Engine) Catalog() *catalog.VersionedCatalog { return e.catalog }

// Hooks returns the engine's hook registry.
func (e *Engine) Hooks() *hooks.Registry { return e.hooks }

// Start migrates the store, fires OnInit hooks and, when a catalog directory
// is configured, begins watching it for new versions.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}

	e.hooks.EmitInit(ctx, e)

	if e.catalogDir != "" {
		watcher := catalog.NewWatcher(e.catalog, e.catalogDir,
			catalog.WithWatcherLogger(e.logger),
			catalog.WithReloadCallback(func(snap *catalog.Snapshot) {
				e.hooks.EmitCatalogReloaded(context.Background(), snap)
			}),
		)

		bgCtx, cancel := context.WithCancel(context.Background())
		e.cancelBg = cancel
		e.bg.Add(1)
		go func() {
			defer e.bg.Done()
			if err := watcher.Watch(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
				e.logger.Error("catalog watcher stopped", "error", err)
			}
		}()
	}

	e.logger.Info("tally engine started",
		"catalog", e.catalog.Name(),
		"catalog_versions", len(e.catalog.Versions()),
		"hooks", e.hooks.Count(),
	)
	return nil
}

// Stop shuts the engine down: the catalog watcher is stopped, OnShutdown
// hooks fire and the store is closed.
func (e *Engine) Stop(ctx context.Context) error {
	if e.cancelBg != nil {
		e.cancelBg()
	}
	e.bg.Wait()

	e.hooks.EmitShutdown(ctx)

	if err := e.store.Close(); err != nil {
		return err
	}
	e.logger.Info("tally engine stopped")
	return nil
}

// ──────────────────────────────────────────────────
// Entitlement operations
// ──────────────────────────────────────────────────

// CreateParams describes a new entitlement.
type CreateParams struct {
	AccountID   id.AccountID
	ExternalKey string

	// BundleID groups the entitlement with existing ones. Zero starts a
	// new bundle.
	BundleID id.BundleID

	Spec      catalog.PlanSpecifier
	Overrides []catalog.PhaseOverride

	// EffectiveDate is when the entitlement starts. Zero means now; a
	// future date creates a PENDING entitlement.
	EffectiveDate time.Time
}

// CreateEntitlement creates a new entitlement: the base row, its CREATE
// transition, the future phase transitions derived from the plan's phase
// durations, and the initial blocking-ledger record.
func (e *Engine) CreateEntitlement(ctx context.Context, params CreateParams) (*entitlement.Entitlement, error) {
	if params.AccountID.IsNil() {
		return nil, fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}

	now := e.clock()
	effective := params.EffectiveDate
	if effective.IsZero() {
		effective = now
	}

	snap, err := e.catalog.ForDate(effective)
	if err != nil {
		return nil, err
	}
	plan, err := snap.ResolvePlan(params.Spec, params.Overrides)
	if err != nil {
		return nil, err
	}

	bundleID := params.BundleID
	newBundle := bundleID.IsNil()
	if newBundle {
		bundleID = id.NewBundleID()
	}

	unlock := e.locks.Lock(bundleID.String())
	defer unlock()

	alignDate, err := e.alignmentDate(ctx, snap, plan, bundleID, newBundle, effective)
	if err != nil {
		return nil, err
	}

	row := &entitlement.Row{
		Entity:      types.NewEntity(),
		ID:          id.NewSubscriptionID(),
		BundleID:    bundleID,
		AccountID:   params.AccountID,
		ExternalKey: params.ExternalKey,
		StartDate:   effective,
	}
	if err := e.store.CreateEntitlement(ctx, row); err != nil {
		return nil, err
	}

	starts := phaseStarts(plan, alignDate)
	currentIdx := 0
	for i, ps := range starts {
		if !ps.start.After(effective) {
			currentIdx = i
		}
	}

	seq := int64(1)
	create := newTransition(row.ID, bundleID, subscription.TransitionCreate,
		effective, now, snap, plan, plan.Phases[currentIdx], seq)
	if err := e.store.AppendTransition(ctx, create); err != nil {
		return nil, err
	}
	for _, ps := range starts[currentIdx+1:] {
		seq++
		phase := newTransition(row.ID, bundleID, subscription.TransitionPhase,
			ps.start, now, snap, plan, plan.Phases[ps.idx], seq)
		if err := e.store.AppendTransition(ctx, phase); err != nil {
			return nil, err
		}
	}

	if _, err := e.appendBlocking(ctx, row.ID, blocking.EntitlementService,
		blocking.StateStarted, effective, blocking.Flags{}); err != nil {
		return nil, err
	}

	e.logger.Info("entitlement created",
		"subscription_id", row.ID,
		"bundle_id", bundleID,
		"plan", plan.Name,
		"effective_date", effective,
	)

	ent, err := e.project(ctx, row, now)
	if err != nil {
		return nil, err
	}
	e.hooks.EmitEntitlementCreated(ctx, ent)
	return ent, nil
}

// ChangeParams describes a plan change.
type ChangeParams struct {
	Spec      catalog.PlanSpecifier
	Overrides []catalog.PhaseOverride

	// Policy overrides the catalog change rules when set.
	Policy entitlement.ActionPolicy

	// RequestedDate is the caller-requested change date. Zero means now.
	// It must not precede the subscription's latest recorded transition.
	RequestedDate time.Time
}

// ChangePlan records a plan change for the entitlement. The effective date
// follows the catalog change rules unless the params carry an explicit
// policy; future phase transitions of the old plan are replaced by the new
// plan's schedule.
func (e *Engine) ChangePlan(ctx context.Context, subID id.SubscriptionID, params ChangeParams) (*entitlement.Entitlement, error) {
	row, err := e.store.GetEntitlement(ctx, subID)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(row.BundleID.String())
	defer unlock()

	now := e.clock()
	transitions, err := e.store.ListTransitions(ctx, row.ID)
	if err != nil {
		return nil, err
	}
	if len(transitions) == 0 {
		return nil, fmt.Errorf("%w: %s has no transitions", ErrEntitlementNotFound, subID)
	}
	if entitlement.CancelDate(transitions) != nil {
		return nil, ErrEntitlementCancelled
	}

	states, err := e.loadBlockingFor(ctx, row)
	if err != nil {
		return nil, err
	}
	if blocking.FlagsAt(states, now).Changes {
		return nil, ErrBlockedChange
	}

	current := subscription.Latest(transitions, now)
	if current == nil {
		current = transitions[0]
	}

	requested := params.RequestedDate
	if requested.IsZero() {
		requested = now
	}

	snap, err := e.catalog.ForDate(requested)
	if err != nil {
		return nil, err
	}
	plan, err := snap.ResolvePlan(params.Spec, params.Overrides)
	if err != nil {
		return nil, err
	}

	req := catalog.ChangeRequest{
		FromProduct:       current.ProductName,
		FromBillingPeriod: current.BillingPeriod,
		FromPriceList:     current.PriceListName,
		ToProduct:         plan.ProductName,
		ToBillingPeriod:   plan.BillingPeriod,
		ToPriceList:       plan.PriceListName,
		PhaseType:         current.PhaseType,
	}
	change, err := snap.Rules.EvaluateChange(req)
	if errors.Is(err, ErrNoMatchingRule) {
		change = catalog.PlanChange{Policy: catalog.ActionImmediate, Kind: req.Kind()}
	} else if err != nil {
		return nil, err
	}
	if change.Policy == catalog.ActionIllegal {
		return nil, fmt.Errorf("%w: %s -> %s", ErrChangePlanIllegal, current.PlanName, plan.Name)
	}

	effective, err := e.effectiveDate(change.Policy, params.Policy, requested, transitions, current.BillingPeriod, now)
	if err != nil {
		return nil, err
	}

	// Future phase transitions are replaced below; anything else already
	// recorded is a hard floor for the change date.
	for _, t := range transitions {
		if t.Type != subscription.TransitionPhase && effective.Before(t.EffectiveDate) {
			return nil, fmt.Errorf("%w: %s is before %s", ErrInvalidRequestedDate,
				effective.Format(time.RFC3339), t.EffectiveDate.Format(time.RFC3339))
		}
	}

	if err := e.deleteFuturePhases(ctx, transitions, effective); err != nil {
		return nil, err
	}

	// Stay in the same phase type when the new plan has it, otherwise the
	// new plan starts from its initial phase.
	targetIdx := 0
	if phase, phErr := plan.PhaseByType(current.PhaseType); phErr == nil {
		for i, ph := range plan.Phases {
			if ph == phase {
				targetIdx = i
			}
		}
	}

	seq := subscription.MaxSeq(transitions) + 1
	changeTx := newTransition(row.ID, row.BundleID, subscription.TransitionChange,
		effective, requested, snap, plan, plan.Phases[targetIdx], seq)
	if err := e.store.AppendTransition(ctx, changeTx); err != nil {
		return nil, err
	}
	for _, ps := range phaseStarts(plan, effective)[targetIdx+1:] {
		seq++
		phase := newTransition(row.ID, row.BundleID, subscription.TransitionPhase,
			ps.start, requested, snap, plan, plan.Phases[ps.idx], seq)
		if err := e.store.AppendTransition(ctx, phase); err != nil {
			return nil, err
		}
	}

	e.logger.Info("plan changed",
		"subscription_id", row.ID,
		"from_plan", current.PlanName,
		"to_plan", plan.Name,
		"policy", change.Policy,
		"effective_date", effective,
	)

	ent, err := e.project(ctx, row, now)
	if err != nil {
		return nil, err
	}
	e.hooks.EmitPlanChanged(ctx, ent, change)
	return ent, nil
}

// CancelParams describes a cancellation.
type CancelParams struct {
	// Policy overrides the catalog cancel rules when set.
	Policy entitlement.ActionPolicy

	// RequestedDate is the caller-requested cancellation date. Zero means
	// now.
	RequestedDate time.Time
}

// Cancel records a cancellation: the CANCEL transition plus the terminal
// blocking-ledger record. A future effective date leaves the entitlement
// active until the date passes; Uncancel can undo it until then.
func (e *Engine) Cancel(ctx context.Context, subID id.SubscriptionID, params CancelParams) (*entitlement.Entitlement, error) {
	row, err := e.store.GetEntitlement(ctx, subID)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(row.BundleID.String())
	defer unlock()

	now := e.clock()
	transitions, err := e.store.ListTransitions(ctx, row.ID)
	if err != nil {
		return nil, err
	}
	if len(transitions) == 0 {
		return nil, fmt.Errorf("%w: %s has no transitions", ErrEntitlementNotFound, subID)
	}
	if entitlement.CancelDate(transitions) != nil {
		return nil, ErrEntitlementCancelled
	}

	current := subscription.Latest(transitions, now)
	if current == nil {
		current = transitions[0]
	}

	requested := params.RequestedDate
	if requested.IsZero() {
		requested = now
	}

	snap, err := e.catalog.ForDate(requested)
	if err != nil {
		return nil, err
	}
	policy, err := snap.Rules.EvaluateCancel(catalog.CancelRequest{
		Product:       current.ProductName,
		BillingPeriod: current.BillingPeriod,
		PriceList:     current.PriceListName,
		PhaseType:     current.PhaseType,
	})
	if errors.Is(err, ErrNoMatchingRule) {
		policy = catalog.ActionImmediate
	} else if err != nil {
		return nil, err
	}

	effective, err := e.effectiveDate(policy, params.Policy, requested, transitions, current.BillingPeriod, now)
	if err != nil {
		return nil, err
	}
	if effective.Before(row.StartDate) {
		return nil, fmt.Errorf("%w: cancellation before start date", ErrInvalidRequestedDate)
	}

	if err := e.deleteFuturePhases(ctx, transitions, effective); err != nil {
		return nil, err
	}

	cancelTx := &subscription.Transition{
		Entity:               types.NewEntity(),
		ID:                   id.NewTransitionID(),
		SubscriptionID:       row.ID,
		BundleID:             row.BundleID,
		Type:                 subscription.TransitionCancel,
		EffectiveDate:        effective,
		RequestedDate:        requested,
		Seq:                  subscription.MaxSeq(transitions) + 1,
		CatalogEffectiveDate: current.CatalogEffectiveDate,
		PlanName:             current.PlanName,
		BasePlanName:         current.BasePlanName,
		PhaseName:            current.PhaseName,
		PhaseType:            current.PhaseType,
		ProductName:          current.ProductName,
		PriceListName:        current.PriceListName,
		BillingPeriod:        current.BillingPeriod,
	}
	if err := e.store.AppendTransition(ctx, cancelTx); err != nil {
		return nil, err
	}

	if _, err := e.appendBlocking(ctx, row.ID, blocking.EntitlementService,
		blocking.StateCancelled, effective,
		blocking.Flags{Entitlement: true, Billing: true, Changes: true}); err != nil {
		return nil, err
	}

	e.logger.Info("entitlement cancelled",
		"subscription_id", row.ID,
		"policy", policy,
		"effective_date", effective,
	)

	ent, err := e.project(ctx, row, now)
	if err != nil {
		return nil, err
	}
	e.hooks.EmitCancelRequested(ctx, row.ID, effective)
	return ent, nil
}

// Uncancel undoes a pending cancellation. It is only legal while the
// cancellation's effective date lies in the future; once it passes the
// entitlement is terminally cancelled. The CANCEL transition and its ledger
// record are removed and the future phase schedule is restored.
func (e *Engine) Uncancel(ctx context.Context, subID id.SubscriptionID) (*entitlement.Entitlement, error) {
	row, err := e.store.GetEntitlement(ctx, subID)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(row.BundleID.String())
	defer unlock()

	now := e.clock()
	transitions, err := e.store.ListTransitions(ctx, row.ID)
	if err != nil {
		return nil, err
	}

	var cancelTx *subscription.Transition
	for _, t := range transitions {
		if t.Type == subscription.TransitionCancel {
			cancelTx = t
		}
	}
	if cancelTx == nil || !cancelTx.EffectiveDate.After(now) {
		return nil, ErrUncancelBadState
	}

	if err := e.store.DeleteTransition(ctx, cancelTx.ID); err != nil {
		return nil, err
	}

	// The ledger's single permitted removal: the record the pending
	// cancellation created.
	states, err := e.store.ListBlockingStates(ctx, row.ID)
	if err != nil {
		return nil, err
	}
	for _, st := range states {
		if st.Service == blocking.EntitlementService &&
			st.StateName == blocking.StateCancelled &&
			st.EffectiveDate.Equal(cancelTx.EffectiveDate) {
			if err := e.store.DeleteBlockingState(ctx, st.ID); err != nil {
				return nil, err
			}
			break
		}
	}

	if err := e.restorePhases(ctx, row, transitions, cancelTx); err != nil {
		return nil, err
	}

	e.logger.Info("cancellation undone", "subscription_id", row.ID)

	ent, err := e.project(ctx, row, now)
	if err != nil {
		return nil, err
	}
	e.hooks.EmitUncancelled(ctx, row.ID)
	return ent, nil
}

// restorePhases regenerates the future phase transitions that a cancellation
// deleted. The schedule is re-derived the same way the operation that wrote it
// derived it: a plan change anchors at its own effective date, a creation at
// the create-alignment date.
func (e *Engine) restorePhases(ctx context.Context, row *entitlement.Row, transitions []*subscription.Transition, cancelTx *subscription.Transition) error {
	var last, base *subscription.Transition
	for _, t := range transitions {
		if t.ID.String() == cancelTx.ID.String() {
			continue
		}
		if last == nil || last.Before(t) {
			last = t
		}
		if t.Type != subscription.TransitionPhase && (base == nil || base.Before(t)) {
			base = t
		}
	}
	if last == nil || base == nil {
		return fmt.Errorf("%w: %s has no transitions", ErrEntitlementNotFound, row.ID)
	}

	snap, err := e.catalog.ForDate(last.CatalogEffectiveDate)
	if err != nil {
		return err
	}
	// Override-synthesized variants are not resolvable by name; their base
	// plan carries the identical phase structure.
	planName := last.PlanName
	if last.BasePlanName != "" {
		planName = last.BasePlanName
	}
	plan, err := snap.Plan(planName)
	if err != nil {
		return err
	}

	anchor := base.EffectiveDate
	switch base.Type {
	case subscription.TransitionCreate, subscription.TransitionTransfer, subscription.TransitionMigrate:
		anchor, err = e.alignmentDate(ctx, snap, plan, row.BundleID, false, row.StartDate)
		if err != nil {
			return err
		}
	}

	fromIdx := 0
	for i, ph := range plan.Phases {
		if ph.Type == last.PhaseType {
			fromIdx = i
		}
	}

	seq := subscription.MaxSeq(transitions) + 1
	for _, ps := range phaseStarts(plan, anchor)[fromIdx+1:] {
		// Phases at or before the cancellation date were never deleted.
		if !ps.start.After(cancelTx.EffectiveDate) {
			continue
		}
		phase := newTransition(row.ID, row.BundleID, subscription.TransitionPhase,
			ps.start, e.clock(), snap, plan, plan.Phases[ps.idx], seq)
		phase.PlanName = last.PlanName
		phase.BasePlanName = last.BasePlanName
		if err := e.store.AppendTransition(ctx, phase); err != nil {
			return err
		}
		seq++
	}
	return nil
}

// ──────────────────────────────────────────────────
// Blocking-state operations
// ──────────────────────────────────────────────────

// BlockParams describes a blocking-state append by an external service.
type BlockParams struct {
	BlockedID id.AnyID // subscription, bundle or account
	Service   string
	StateName string

	// EffectiveDate must not precede the latest record for the same
	// (entity, service) pair. Zero means now.
	EffectiveDate time.Time

	BlockEntitlement bool
	BlockBilling     bool
	BlockChanges     bool
}

// AddBlockingState appends a blocking-state record for any service. The
// monotonic-append invariant is checked under the entity's lock; violations
// fail with ErrOutOfOrderBlockingState and nothing is written.
func (e *Engine) AddBlockingState(ctx context.Context, params BlockParams) (*blocking.State, error) {
	if params.BlockedID.IsNil() {
		return nil, fmt.Errorf("%w: blocked id is required", ErrInvalidInput)
	}
	if params.Service == "" || params.StateName == "" {
		return nil, fmt.Errorf("%w: service and state name are required", ErrInvalidInput)
	}

	effective := params.EffectiveDate
	if effective.IsZero() {
		effective = e.clock()
	}

	// Lifecycle operations also append records for a subscription, under its
	// bundle's lock. Appends for the same entity must serialize on one key or
	// two writers can hand out the same sequence number.
	lockKey := params.BlockedID
	if params.BlockedID.Prefix() == id.PrefixSubscription {
		row, err := e.store.GetEntitlement(ctx, params.BlockedID)
		switch {
		case err == nil:
			lockKey = row.BundleID
		case errors.Is(err, ErrEntitlementNotFound):
			// No row means no lifecycle writer to race.
		default:
			return nil, err
		}
	}

	unlock := e.locks.Lock(lockKey.String())
	defer unlock()

	st, err := e.appendBlocking(ctx, params.BlockedID, params.Service, params.StateName,
		effective, blocking.Flags{
			Entitlement: params.BlockEntitlement,
			Billing:     params.BlockBilling,
			Changes:     params.BlockChanges,
		})
	if err != nil {
		return nil, err
	}

	e.logger.Info("blocking state added",
		"blocked_id", params.BlockedID,
		"service", params.Service,
		"state", params.StateName,
		"effective_date", effective,
	)
	return st, nil
}

// Pause blocks every entitlement in the bundle: entitlement access, billing
// and changes all stop at the effective date.
func (e *Engine) Pause(ctx context.Context, bundleID id.BundleID, effectiveDate time.Time) error {
	if effectiveDate.IsZero() {
		effectiveDate = e.clock()
	}

	unlock := e.locks.Lock(bundleID.String())
	defer unlock()

	if _, err := e.appendBlocking(ctx, bundleID, blocking.EntitlementService,
		blocking.StateBlocked, effectiveDate,
		blocking.Flags{Entitlement: true, Billing: true, Changes: true}); err != nil {
		return err
	}

	e.logger.Info("bundle paused", "bundle_id", bundleID, "effective_date", effectiveDate)
	e.hooks.EmitBundlePaused(ctx, bundleID, effectiveDate)
	return nil
}

// Resume lifts a bundle-wide pause from the effective date onward.
func (e *Engine) Resume(ctx context.Context, bundleID id.BundleID, effectiveDate time.Time) error {
	if effectiveDate.IsZero() {
		effectiveDate = e.clock()
	}

	unlock := e.locks.Lock(bundleID.String())
	defer unlock()

	if _, err := e.appendBlocking(ctx, bundleID, blocking.EntitlementService,
		blocking.StateClear, effectiveDate, blocking.Flags{}); err != nil {
		return err
	}

	e.logger.Info("bundle resumed", "bundle_id", bundleID, "effective_date", effectiveDate)
	e.hooks.EmitBundleResumed(ctx, bundleID, effectiveDate)
	return nil
}

// ──────────────────────────────────────────────────
// Read-side projections
// ──────────────────────────────────────────────────

// GetEntitlement returns the entitlement projection as of now.
func (e *Engine) GetEntitlement(ctx context.Context, subID id.SubscriptionID) (*entitlement.Entitlement, error) {
	row, err := e.store.GetEntitlement(ctx, subID)
	if err != nil {
		return nil, err
	}
	return e.project(ctx, row, e.clock())
}

// GetEntitlementByExternalKey returns the entitlement projection looked up by
// its caller-assigned key.
func (e *Engine) GetEntitlementByExternalKey(ctx context.Context, externalKey string) (*entitlement.Entitlement, error) {
	row, err := e.store.GetEntitlementByExternalKey(ctx, externalKey)
	if err != nil {
		return nil, err
	}
	return e.project(ctx, row, e.clock())
}

// GetSubscription returns the billing-facing projection of the entitlement as
// of now.
func (e *Engine) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	row, err := e.store.GetEntitlement(ctx, subID)
	if err != nil {
		return nil, err
	}
	now := e.clock()

	transitions, err := e.store.ListTransitions(ctx, row.ID)
	if err != nil {
		return nil, err
	}
	states, err := e.loadBlockingFor(ctx, row)
	if err != nil {
		return nil, err
	}
	events := timeline.Build(row.ID, transitions, states)

	sub := &subscription.Subscription{
		ID:        row.ID,
		BundleID:  row.BundleID,
		AccountID: row.AccountID,
	}
	if state := timeline.StateAt(events, now); state != nil {
		sub.PlanName = state.PlanName
		sub.PhaseName = state.PhaseName
		sub.ProductName = state.ProductName
		sub.PriceListName = state.PriceListName
		sub.BillingPeriod = state.BillingPeriod
	}

	anchor := billingAnchor(transitions)
	sub.BillingStartDate = anchor
	sub.BillingEndDate = entitlement.CancelDate(transitions)
	sub.ChargedThroughDate = periodEnd(anchor, sub.BillingPeriod, now)
	// Billing stops at a recorded cancellation, not at the next boundary.
	if sub.BillingEndDate != nil && sub.ChargedThroughDate.After(*sub.BillingEndDate) {
		sub.ChargedThroughDate = *sub.BillingEndDate
	}

	bcdAnchor, err := e.bcdAnchor(ctx, row, transitions, anchor)
	if err != nil {
		return nil, err
	}
	sub.BillCycleDay = subscription.BCDFromDate(bcdAnchor)
	sub.BlockedBilling = timeline.FlagsAtTime(events, now).Billing

	return sub, nil
}

// bcdAnchor resolves the billing-alignment rules to the date the bill cycle
// day derives from: the account's, the bundle's or the subscription's own
// first start.
func (e *Engine) bcdAnchor(ctx context.Context, row *entitlement.Row, transitions []*subscription.Transition, own time.Time) (time.Time, error) {
	if len(transitions) == 0 {
		return own, nil
	}
	first := transitions[0]

	snap, err := e.catalog.ForDate(first.CatalogEffectiveDate)
	if err != nil {
		return time.Time{}, err
	}
	alignment, err := snap.Rules.EvaluateBillingAlignment(catalog.CreateRequest{
		Product:       first.ProductName,
		BillingPeriod: first.BillingPeriod,
		PriceList:     first.PriceListName,
		PhaseType:     first.PhaseType,
	})
	if errors.Is(err, ErrNoMatchingRule) {
		alignment = catalog.BillingAlignAccount
	} else if err != nil {
		return time.Time{}, err
	}

	var rows []*entitlement.Row
	switch alignment {
	case catalog.BillingAlignAccount:
		rows, err = e.store.ListEntitlementsByAccount(ctx, row.AccountID)
	case catalog.BillingAlignBundle:
		rows, err = e.store.ListEntitlementsByBundle(ctx, row.BundleID)
	default:
		return own, nil
	}
	if err != nil {
		return time.Time{}, err
	}

	bcd := own
	for _, r := range rows {
		if r.StartDate.Before(bcd) {
			bcd = r.StartDate
		}
	}
	return bcd, nil
}

// Timeline returns the merged, deterministic event stream for the
// subscription: its billing transitions plus the blocking records of the
// subscription, its bundle and its account.
func (e *Engine) Timeline(ctx context.Context, subID id.SubscriptionID) ([]timeline.Event, error) {
	row, err := e.store.GetEntitlement(ctx, subID)
	if err != nil {
		return nil, err
	}
	transitions, err := e.store.ListTransitions(ctx, row.ID)
	if err != nil {
		return nil, err
	}
	states, err := e.loadBlockingFor(ctx, row)
	if err != nil {
		return nil, err
	}
	return timeline.Build(row.ID, transitions, states), nil
}

// ──────────────────────────────────────────────────
// Internals
// ──────────────────────────────────────────────────

// project assembles the entitlement projection from persisted records.
func (e *Engine) project(ctx context.Context, row *entitlement.Row, at time.Time) (*entitlement.Entitlement, error) {
	transitions, err := e.store.ListTransitions(ctx, row.ID)
	if err != nil {
		return nil, err
	}
	states, err := e.loadBlockingFor(ctx, row)
	if err != nil {
		return nil, err
	}
	events := timeline.Build(row.ID, transitions, states)
	return entitlement.Project(row, events, entitlement.CancelDate(transitions), at), nil
}

// loadBlockingFor collects the blocking records overlaying an entitlement:
// its own, its bundle's and its account's.
func (e *Engine) loadBlockingFor(ctx context.Context, row *entitlement.Row) ([]*blocking.State, error) {
	var all []*blocking.State
	for _, entity := range []id.AnyID{row.ID, row.BundleID, row.AccountID} {
		if entity.IsNil() {
			continue
		}
		states, err := e.store.ListBlockingStates(ctx, entity)
		if err != nil {
			return nil, err
		}
		all = append(all, states...)
	}
	return all, nil
}

// appendBlocking validates and appends one ledger record. The caller must
// hold the entity's lock.
func (e *Engine) appendBlocking(ctx context.Context, blockedID id.AnyID, service, stateName string, effective time.Time, flags blocking.Flags) (*blocking.State, error) {
	existing, err := e.store.ListBlockingStates(ctx, blockedID)
	if err != nil {
		return nil, err
	}

	st := &blocking.State{
		Entity:           types.NewEntity(),
		ID:               id.NewBlockingStateID(),
		BlockedID:        blockedID,
		Service:          service,
		StateName:        stateName,
		EffectiveDate:    effective,
		BlockEntitlement: flags.Entitlement,
		BlockBilling:     flags.Billing,
		BlockChanges:     flags.Changes,
		Seq:              blocking.MaxSeq(existing) + 1,
	}
	if err := blocking.ValidateAppend(existing, st); err != nil {
		return nil, err
	}
	if err := e.store.AppendBlockingState(ctx, st); err != nil {
		return nil, err
	}

	e.hooks.EmitBlockingStateAdded(ctx, st)
	return st, nil
}

// alignmentDate evaluates the create-alignment rules and returns the date the
// plan's phase schedule anchors to: the bundle's first start for
// START_OF_BUNDLE, the entitlement's own start otherwise.
func (e *Engine) alignmentDate(ctx context.Context, snap *catalog.Snapshot, plan *catalog.Plan, bundleID id.BundleID, newBundle bool, effective time.Time) (time.Time, error) {
	alignment, err := snap.Rules.EvaluateCreateAlignment(catalog.CreateRequest{
		Product:       plan.ProductName,
		BillingPeriod: plan.BillingPeriod,
		PriceList:     plan.PriceListName,
	})
	if errors.Is(err, ErrNoMatchingRule) {
		alignment = catalog.AlignStartOfBundle
	} else if err != nil {
		return time.Time{}, err
	}

	if alignment != catalog.AlignStartOfBundle || newBundle {
		return effective, nil
	}

	rows, err := e.store.ListEntitlementsByBundle(ctx, bundleID)
	if err != nil {
		return time.Time{}, err
	}
	align := effective
	for _, r := range rows {
		if r.StartDate.Before(align) {
			align = r.StartDate
		}
	}
	return align, nil
}

// effectiveDate maps the decided policy to a concrete date. A caller-supplied
// policy overrides the rule result.
func (e *Engine) effectiveDate(rulePolicy catalog.ActionPolicy, override entitlement.ActionPolicy, requested time.Time, transitions []*subscription.Transition, period catalog.BillingPeriod, now time.Time) (time.Time, error) {
	policy := rulePolicy
	switch override {
	case entitlement.PolicyImmediate:
		policy = catalog.ActionImmediate
	case entitlement.PolicyEndOfTerm:
		policy = catalog.ActionEndOfTerm
	}

	switch policy {
	case catalog.ActionImmediate, catalog.ActionStartOfTerm, catalog.ActionPolicyUnspecified:
		return requested, nil
	case catalog.ActionEndOfTerm:
		return periodEnd(billingAnchor(transitions), period, now), nil
	default:
		return time.Time{}, fmt.Errorf("%w: policy %s", ErrInvalidInput, policy)
	}
}

// deleteFuturePhases removes phase transitions scheduled strictly after the
// given date; the superseding operation writes its own schedule.
func (e *Engine) deleteFuturePhases(ctx context.Context, transitions []*subscription.Transition, after time.Time) error {
	for _, t := range transitions {
		if t.Type == subscription.TransitionPhase && t.EffectiveDate.After(after) {
			if err := e.store.DeleteTransition(ctx, t.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// phaseStart pairs a plan phase index with the date it begins.
type phaseStart struct {
	idx   int
	start time.Time
}

// phaseStarts computes the start date of every phase when the plan's first
// phase anchors at align.
func phaseStarts(plan *catalog.Plan, align time.Time) []phaseStart {
	starts := make([]phaseStart, 0, len(plan.Phases))
	cursor := align
	for i, ph := range plan.Phases {
		starts = append(starts, phaseStart{idx: i, start: cursor})
		if ph.Duration.IsUnlimited() {
			break
		}
		cursor = ph.Duration.AddTo(cursor)
	}
	return starts
}

// newTransition builds a transition record capturing the catalog state of the
// resolved plan and phase.
func newTransition(subID id.SubscriptionID, bundleID id.BundleID, typ subscription.TransitionType, effective, requested time.Time, snap *catalog.Snapshot, plan *catalog.Plan, phase *catalog.PlanPhase, seq int64) *subscription.Transition {
	t := &subscription.Transition{
		Entity:               types.NewEntity(),
		ID:                   id.NewTransitionID(),
		SubscriptionID:       subID,
		BundleID:             bundleID,
		Type:                 typ,
		EffectiveDate:        effective,
		RequestedDate:        requested,
		Seq:                  seq,
		CatalogEffectiveDate: snap.EffectiveDate,
		PlanName:             plan.Name,
		PhaseName:            phase.Name,
		PhaseType:            phase.Type,
		ProductName:          plan.ProductName,
		PriceListName:        plan.PriceListName,
		BillingPeriod:        plan.BillingPeriod,
	}
	if plan.Overridden {
		t.BasePlanName = plan.BaseName
	}
	return t
}

// billingAnchor returns the date recurring billing anchors to: the first
// existence transition.
func billingAnchor(transitions []*subscription.Transition) time.Time {
	for _, t := range transitions {
		switch t.Type {
		case subscription.TransitionCreate, subscription.TransitionTransfer, subscription.TransitionMigrate:
			return t.EffectiveDate
		}
	}
	if len(transitions) > 0 {
		return transitions[0].EffectiveDate
	}
	return time.Time{}
}

// periodEnd steps whole billing periods forward from the anchor until the
// boundary strictly after now.
func periodEnd(anchor time.Time, period catalog.BillingPeriod, now time.Time) time.Time {
	if period == catalog.BillingPeriodUnspecified || period == catalog.NoBillingPeriod || anchor.IsZero() {
		return now
	}
	t := anchor
	for !t.After(now) {
		t = period.AddTo(t)
	}
	return t
}
