package mongo

import (
	"time"

	"github.com/tallyhq/tally/blocking"
	"github.com/tallyhq/tally/catalog"
	"github.com/tallyhq/tally/entitlement"
	"github.com/tallyhq/tally/id"
	"github.com/tallyhq/tally/subscription"
)

// Persistence models mirror the domain records with BSON field names. IDs are
// stored as their TypeID strings.

type entitlementModel struct {
	ID          string    `bson:"_id"`
	BundleID    string    `bson:"bundle_id"`
	AccountID   string    `bson:"account_id"`
	ExternalKey string    `bson:"external_key"`
	StartDate   time.Time `bson:"start_date"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func toEntitlementModel(row *entitlement.Row) *entitlementModel {
	return &entitlementModel{
		ID:          row.ID.String(),
		BundleID:    row.BundleID.String(),
		AccountID:   row.AccountID.String(),
		ExternalKey: row.ExternalKey,
		StartDate:   row.StartDate,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}

func fromEntitlementModel(m *entitlementModel) (*entitlement.Row, error) {
	rowID, err := id.Parse(m.ID)
	if err != nil {
		return nil, err
	}
	bundleID, err := parseOptional(m.BundleID)
	if err != nil {
		return nil, err
	}
	accountID, err := parseOptional(m.AccountID)
	if err != nil {
		return nil, err
	}

	row := &entitlement.Row{
		ID:          rowID,
		BundleID:    bundleID,
		AccountID:   accountID,
		ExternalKey: m.ExternalKey,
		StartDate:   m.StartDate,
	}
	row.CreatedAt = m.CreatedAt
	row.UpdatedAt = m.UpdatedAt
	return row, nil
}

type transitionModel struct {
	ID                   string    `bson:"_id"`
	SubscriptionID       string    `bson:"subscription_id"`
	BundleID             string    `bson:"bundle_id"`
	Type                 string    `bson:"type"`
	EffectiveDate        time.Time `bson:"effective_date"`
	RequestedDate        time.Time `bson:"requested_date"`
	Seq                  int64     `bson:"seq"`
	CatalogEffectiveDate time.Time `bson:"catalog_effective_date"`
	PlanName             string    `bson:"plan_name"`
	BasePlanName         string    `bson:"base_plan_name,omitempty"`
	PhaseName            string    `bson:"phase_name"`
	PhaseType            string    `bson:"phase_type"`
	ProductName          string    `bson:"product_name"`
	PriceListName        string    `bson:"price_list_name"`
	BillingPeriod        string    `bson:"billing_period"`
	CreatedAt            time.Time `bson:"created_at"`
	UpdatedAt            time.Time `bson:"updated_at"`
}

func toTransitionModel(t *subscription.Transition) *transitionModel {
	return &transitionModel{
		ID:                   t.ID.String(),
		SubscriptionID:       t.SubscriptionID.String(),
		BundleID:             t.BundleID.String(),
		Type:                 string(t.Type),
		EffectiveDate:        t.EffectiveDate,
		RequestedDate:        t.RequestedDate,
		Seq:                  t.Seq,
		CatalogEffectiveDate: t.CatalogEffectiveDate,
		PlanName:             t.PlanName,
		BasePlanName:         t.BasePlanName,
		PhaseName:            t.PhaseName,
		PhaseType:            string(t.PhaseType),
		ProductName:          t.ProductName,
		PriceListName:        t.PriceListName,
		BillingPeriod:        string(t.BillingPeriod),
		CreatedAt:            t.CreatedAt,
		UpdatedAt:            t.UpdatedAt,
	}
}

func fromTransitionModel(m *transitionModel) (*subscription.Transition, error) {
	txnID, err := id.Parse(m.ID)
	if err != nil {
		return nil, err
	}
	subID, err := id.Parse(m.SubscriptionID)
	if err != nil {
		return nil, err
	}
	bundleID, err := parseOptional(m.BundleID)
	if err != nil {
		return nil, err
	}

	t := &subscription.Transition{
		ID:                   txnID,
		SubscriptionID:       subID,
		BundleID:             bundleID,
		Type:                 subscription.TransitionType(m.Type),
		EffectiveDate:        m.EffectiveDate,
		RequestedDate:        m.RequestedDate,
		Seq:                  m.Seq,
		CatalogEffectiveDate: m.CatalogEffectiveDate,
		PlanName:             m.PlanName,
		BasePlanName:         m.BasePlanName,
		PhaseName:            m.PhaseName,
		PhaseType:            catalog.PhaseType(m.PhaseType),
		ProductName:          m.ProductName,
		PriceListName:        m.PriceListName,
		BillingPeriod:        catalog.BillingPeriod(m.BillingPeriod),
	}
	t.CreatedAt = m.CreatedAt
	t.UpdatedAt = m.UpdatedAt
	return t, nil
}

type blockingStateModel struct {
	ID               string    `bson:"_id"`
	BlockedID        string    `bson:"blocked_id"`
	Service          string    `bson:"service"`
	StateName        string    `bson:"state_name"`
	EffectiveDate    time.Time `bson:"effective_date"`
	BlockEntitlement bool      `bson:"block_entitlement"`
	BlockBilling     bool      `bson:"block_billing"`
	BlockChanges     bool      `bson:"block_changes"`
	Seq              int64     `bson:"seq"`
	CreatedAt        time.Time `bson:"created_at"`
	UpdatedAt        time.Time `bson:"updated_at"`
}

func toBlockingStateModel(st *blocking.State) *blockingStateModel {
	return &blockingStateModel{
		ID:               st.ID.String(),
		BlockedID:        st.BlockedID.String(),
		Service:          st.Service,
		StateName:        st.StateName,
		EffectiveDate:    st.EffectiveDate,
		BlockEntitlement: st.BlockEntitlement,
		BlockBilling:     st.BlockBilling,
		BlockChanges:     st.BlockChanges,
		Seq:              st.Seq,
		CreatedAt:        st.CreatedAt,
		UpdatedAt:        st.UpdatedAt,
	}
}

func fromBlockingStateModel(m *blockingStateModel) (*blocking.State, error) {
	stateID, err := id.Parse(m.ID)
	if err != nil {
		return nil, err
	}
	blockedID, err := id.Parse(m.BlockedID)
	if err != nil {
		return nil, err
	}

	st := &blocking.State{
		ID:               stateID,
		BlockedID:        blockedID,
		Service:          m.Service,
		StateName:        m.StateName,
		EffectiveDate:    m.EffectiveDate,
		BlockEntitlement: m.BlockEntitlement,
		BlockBilling:     m.BlockBilling,
		BlockChanges:     m.BlockChanges,
		Seq:              m.Seq,
	}
	st.CreatedAt = m.CreatedAt
	st.UpdatedAt = m.UpdatedAt
	return st, nil
}

func parseOptional(s string) (id.ID, error) {
	if s == "" {
		return id.Nil, nil
	}
	return id.Parse(s)
}
