package catalog

import (
	"testing"
	"time"

	"github.com/tallyhq/tally/types"
)

// Shared fixtures for the catalog tests.

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func usd(v int64) *types.Money {
	m := types.NewMoney(v, types.USD)
	return &m
}

func eur(v int64) *types.Money {
	m := types.NewMoney(v, types.EUR)
	return &m
}

// testSnapshot builds a finalized two-product snapshot with trialed and
// untrialed plans, a child price list and a full rule set.
func testSnapshot(t *testing.T, effective time.Time) *Snapshot {
	t.Helper()

	s := &Snapshot{
		Name:          "test-catalog",
		EffectiveDate: effective,
		Currencies:    []types.Currency{types.USD, types.EUR},
		Products: []*Product{
			{Name: "Standard", Category: ProductBase},
			{Name: "Premium", Category: ProductBase},
		},
		Plans: []*Plan{
			{
				Name:          "standard-monthly",
				ProductName:   "Standard",
				BillingPeriod: BillingMonthly,
				Phases: []*PlanPhase{
					{
						Type:     PhaseTrial,
						Duration: Duration{Unit: UnitDays, Number: 30},
						Fixed:    InternationalPrice{{Currency: types.USD, Value: usd(0)}},
					},
					{
						Type:     PhaseEvergreen,
						Duration: Duration{Unit: UnitUnlimited},
						Recurring: InternationalPrice{
							{Currency: types.USD, Value: usd(1000)},
							{Currency: types.EUR, Value: eur(900)},
						},
					},
				},
			},
			{
				Name:          "premium-monthly",
				ProductName:   "Premium",
				BillingPeriod: BillingMonthly,
				Phases: []*PlanPhase{
					{
						Type:     PhaseEvergreen,
						Duration: Duration{Unit: UnitUnlimited},
						Recurring: InternationalPrice{
							{Currency: types.USD, Value: usd(2000)},
							{Currency: types.EUR, Value: nil}, // declared, unavailable
						},
					},
				},
			},
			{
				Name:          "premium-annual",
				ProductName:   "Premium",
				BillingPeriod: BillingAnnual,
				Phases: []*PlanPhase{
					{
						Type:      PhaseEvergreen,
						Duration:  Duration{Unit: UnitUnlimited},
						Recurring: InternationalPrice{{Currency: types.USD, Value: usd(20000)}},
					},
				},
			},
			{
				Name:             "locked-monthly",
				ProductName:      "Standard",
				BillingPeriod:    BillingMonthly,
				DisallowOverride: true,
				Phases: []*PlanPhase{
					{
						Type:      PhaseEvergreen,
						Duration:  Duration{Unit: UnitUnlimited},
						Recurring: InternationalPrice{{Currency: types.USD, Value: usd(500)}},
					},
				},
			},
		},
		PriceLists: &PriceListSet{
			Default: &PriceList{
				Name:      DefaultPriceListName,
				PlanNames: []string{"standard-monthly", "premium-monthly", "premium-annual", "locked-monthly"},
			},
			Children: []*PriceList{
				{Name: "promo", PlanNames: []string{"premium-monthly"}},
			},
		},
		Rules: &Rules{
			Change: []CaseChangeRule{
				{FromProduct: "Standard", ToProduct: "Premium", Policy: ActionImmediate},
				{PhaseType: PhaseTrial, Policy: ActionImmediate},
				{Policy: ActionEndOfTerm},
			},
			Cancel: []CaseCancelRule{
				{PhaseType: PhaseTrial, Policy: ActionImmediate},
				{Policy: ActionEndOfTerm},
			},
			CreateAlignment: []CaseCreateAlignmentRule{
				{Alignment: AlignStartOfBundle},
			},
			BillingAlignment: []CaseBillingAlignmentRule{
				{Alignment: BillingAlignAccount},
			},
			PriceList: []CasePriceListRule{
				{FromPriceList: "promo", ToPriceList: DefaultPriceListName},
				{ToPriceList: DefaultPriceListName},
			},
		},
	}

	if err := s.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return s
}
