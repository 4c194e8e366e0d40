// Package catalog implements the versioned product catalog: immutable
// snapshots of products, plans and price lists selected by effective date,
// ordered case rules deciding transition policy and alignment, and plan
// resolution with per-phase price overrides.
package catalog

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tallyhq/tally/types"
)

// DefaultPriceListName is the name of the mandatory default price list.
const DefaultPriceListName = "DEFAULT"

// Product is a sellable product. Included and Available reference add-on
// product names bundled with, or purchasable alongside, this product.
type Product struct {
	Name      string          `json:"name"`
	Category  ProductCategory `json:"category"`
	Included  []string        `json:"included,omitempty"`
	Available []string        `json:"available,omitempty"`
}

// Duration is the length of a plan phase.
type Duration struct {
	Unit   TimeUnit `json:"unit"`
	Number int      `json:"number,omitempty"`
}

// IsUnlimited reports whether the duration never ends.
func (d Duration) IsUnlimited() bool { return d.Unit == UnitUnlimited }

// AddTo advances t by the duration. Unlimited durations return the zero time.
func (d Duration) AddTo(t time.Time) time.Time {
	switch d.Unit {
	case UnitDays:
		return t.AddDate(0, 0, d.Number)
	case UnitWeeks:
		return t.AddDate(0, 0, 7*d.Number)
	case UnitMonths:
		return t.AddDate(0, d.Number, 0)
	case UnitYears:
		return t.AddDate(d.Number, 0, 0)
	default:
		return time.Time{}
	}
}

// Price is one currency entry of an InternationalPrice. A nil Value means the
// price is explicitly declared unavailable for that currency, which is a
// different condition from the currency being absent altogether.
type Price struct {
	Currency types.Currency `json:"currency"`
	Value    *types.Money   `json:"value,omitempty"`
}

// InternationalPrice is a per-currency price table.
type InternationalPrice []Price

// For returns the price in the given currency.
// Absent currency → ErrNoPriceForCurrency; explicit null → ErrPriceNullForCurrency.
func (ip InternationalPrice) For(currency types.Currency) (types.Money, error) {
	for _, p := range ip {
		if p.Currency != currency {
			continue
		}
		if p.Value == nil {
			return types.Money{}, fmt.Errorf("%w: %s", ErrPriceNullForCurrency, currency)
		}
		return *p.Value, nil
	}
	return types.Money{}, fmt.Errorf("%w: %s", ErrNoPriceForCurrency, currency)
}

// Has reports whether the currency has an entry, null or not.
func (ip InternationalPrice) Has(currency types.Currency) bool {
	for _, p := range ip {
		if p.Currency == currency {
			return true
		}
	}
	return false
}

// IsZero reports whether every defined price is zero. Empty tables are zero.
func (ip InternationalPrice) IsZero() bool {
	for _, p := range ip {
		if p.Value != nil && !p.Value.IsZero() {
			return false
		}
	}
	return true
}

// PlanPhase is one lifecycle phase of a plan: its duration and prices.
type PlanPhase struct {
	Name      string             `json:"name"`
	Type      PhaseType          `json:"type"`
	Duration  Duration           `json:"duration"`
	Fixed     InternationalPrice `json:"fixed,omitempty"`
	Recurring InternationalPrice `json:"recurring,omitempty"`
}

// Plan is a concrete sellable plan: a product, an ordered list of phases and
// a recurring billing period.
type Plan struct {
	Name             string        `json:"name"`
	ProductName      string        `json:"product"`
	BillingPeriod    BillingPeriod `json:"billing_period"`
	Phases           []*PlanPhase  `json:"phases"`
	PriceListName    string        `json:"price_list"`
	DisallowOverride bool          `json:"disallow_override,omitempty"`

	// Overridden marks a plan synthesized from per-phase price overrides.
	Overridden bool `json:"overridden,omitempty"`
	// BaseName is the name of the plan an overridden variant derives from.
	BaseName string `json:"base_name,omitempty"`

	product *Product
}

// Product returns the product this plan sells. Nil before snapshot finalize.
func (p *Plan) Product() *Product { return p.product }

// PhaseByType returns the first phase of the given type.
func (p *Plan) PhaseByType(t PhaseType) (*PlanPhase, error) {
	for _, ph := range p.Phases {
		if ph.Type == t {
			return ph, nil
		}
	}
	return nil, fmt.Errorf("%w: plan %s has no %s phase", ErrNoSuchPhase, p.Name, t)
}

// PhaseByName returns the phase with the given name.
func (p *Plan) PhaseByName(name string) (*PlanPhase, error) {
	for _, ph := range p.Phases {
		if ph.Name == name {
			return ph, nil
		}
	}
	return nil, fmt.Errorf("%w: plan %s has no phase %q", ErrNoSuchPhase, p.Name, name)
}

// InitialPhase returns the first phase of the plan.
func (p *Plan) InitialPhase() *PlanPhase {
	if len(p.Phases) == 0 {
		return nil
	}
	return p.Phases[0]
}

// FinalPhase returns the last phase of the plan.
func (p *Plan) FinalPhase() *PlanPhase {
	if len(p.Phases) == 0 {
		return nil
	}
	return p.Phases[len(p.Phases)-1]
}

// PriceList is a named grouping of plans. Plans outside any named list belong
// to the default list.
type PriceList struct {
	Name      string   `json:"name"`
	PlanNames []string `json:"plans"`

	plans []*Plan
}

// Plans returns the resolved plans of the list. Empty before finalize.
func (pl *PriceList) Plans() []*Plan { return pl.plans }

// PlansWith returns the plans in this list selling the product under the
// given billing period.
func (pl *PriceList) PlansWith(productName string, period BillingPeriod) []*Plan {
	var out []*Plan
	for _, p := range pl.plans {
		if p.ProductName == productName && p.BillingPeriod == period {
			out = append(out, p)
		}
	}
	return out
}

// PriceListSet is the default price list plus any named children.
type PriceListSet struct {
	Default  *PriceList   `json:"default"`
	Children []*PriceList `json:"children,omitempty"`
}

// ByName resolves a price list by name. The empty name and
// DefaultPriceListName both select the default list.
func (s *PriceListSet) ByName(name string) (*PriceList, error) {
	if name == "" || name == DefaultPriceListName {
		return s.Default, nil
	}
	for _, pl := range s.Children {
		if pl.Name == name {
			return pl, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNoSuchPriceList, name)
}

// Snapshot is one immutable catalog version, effective from EffectiveDate
// until the next version's effective date. After Finalize it must not be
// mutated; concurrent readers rely on that.
type Snapshot struct {
	Name          string           `json:"name"`
	EffectiveDate time.Time        `json:"effective_date"`
	Currencies    []types.Currency `json:"currencies"`
	Products      []*Product       `json:"products"`
	Plans         []*Plan          `json:"plans"`
	PriceLists    *PriceListSet    `json:"price_lists"`
	Rules         *Rules           `json:"rules"`

	productsByName map[string]*Product
	plansByName    map[string]*Plan

	// Cache of plans synthesized from price overrides, keyed by
	// (base plan, normalized override set, currency). Lives as long as
	// the snapshot.
	overrideMu    sync.Mutex
	overrideCache map[string]*Plan
}

// Finalize indexes and validates the snapshot. It must be called once after
// construction and before any lookup.
func (s *Snapshot) Finalize() error {
	if s.EffectiveDate.IsZero() {
		return fmt.Errorf("%w: missing effective date", ErrInvalid)
	}
	if s.PriceLists == nil || s.PriceLists.Default == nil {
		return fmt.Errorf("%w: missing default price list", ErrInvalid)
	}
	if s.Rules == nil {
		s.Rules = &Rules{}
	}

	s.productsByName = make(map[string]*Product, len(s.Products))
	for _, p := range s.Products {
		if _, dup := s.productsByName[p.Name]; dup {
			return fmt.Errorf("%w: duplicate product %q", ErrInvalid, p.Name)
		}
		s.productsByName[p.Name] = p
	}

	s.plansByName = make(map[string]*Plan, len(s.Plans))
	for _, pl := range s.Plans {
		if _, dup := s.plansByName[pl.Name]; dup {
			return fmt.Errorf("%w: duplicate plan %q", ErrInvalid, pl.Name)
		}
		prod, ok := s.productsByName[pl.ProductName]
		if !ok {
			return fmt.Errorf("%w: plan %q references unknown product %q", ErrInvalid, pl.Name, pl.ProductName)
		}
		pl.product = prod
		if err := finalizePlan(pl); err != nil {
			return err
		}
		s.plansByName[pl.Name] = pl
	}

	if err := s.finalizePriceList(s.PriceLists.Default); err != nil {
		return err
	}
	for _, child := range s.PriceLists.Children {
		if child.Name == "" || child.Name == DefaultPriceListName {
			return fmt.Errorf("%w: child price list must have a non-default name", ErrInvalid)
		}
		if err := s.finalizePriceList(child); err != nil {
			return err
		}
	}

	s.overrideCache = make(map[string]*Plan)
	return nil
}

func finalizePlan(pl *Plan) error {
	if len(pl.Phases) == 0 {
		return fmt.Errorf("%w: plan %q has no phases", ErrInvalid, pl.Name)
	}
	lastOrder := -1
	for i, ph := range pl.Phases {
		order, ok := phaseOrder[ph.Type]
		if !ok {
			return fmt.Errorf("%w: plan %q phase %d has no type", ErrInvalid, pl.Name, i)
		}
		if order <= lastOrder {
			return fmt.Errorf("%w: plan %q phases out of order", ErrInvalid, pl.Name)
		}
		lastOrder = order
		if ph.Name == "" {
			ph.Name = pl.Name + "-" + strings.ToLower(string(ph.Type))
		}
		if i < len(pl.Phases)-1 && ph.Duration.IsUnlimited() {
			return fmt.Errorf("%w: plan %q has an unlimited non-final phase", ErrInvalid, pl.Name)
		}
	}
	if pl.PriceListName == "" {
		pl.PriceListName = DefaultPriceListName
	}
	if pl.BillingPeriod == BillingPeriodUnspecified {
		return fmt.Errorf("%w: plan %q has no billing period", ErrInvalid, pl.Name)
	}
	return nil
}

func (s *Snapshot) finalizePriceList(pl *PriceList) error {
	pl.plans = make([]*Plan, 0, len(pl.PlanNames))
	for _, name := range pl.PlanNames {
		plan, ok := s.plansByName[name]
		if !ok {
			return fmt.Errorf("%w: price list %q references unknown plan %q", ErrInvalid, pl.Name, name)
		}
		pl.plans = append(pl.plans, plan)
	}
	return nil
}

// Product looks up a product by name.
func (s *Snapshot) Product(name string) (*Product, error) {
	if p, ok := s.productsByName[name]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNoSuchProduct, name)
}

// Plan looks up a plan by exact name.
func (s *Snapshot) Plan(name string) (*Plan, error) {
	if p, ok := s.plansByName[name]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNoSuchPlan, name)
}

// CurrencySupported reports whether the snapshot declares the currency.
func (s *Snapshot) CurrencySupported(c types.Currency) bool {
	for _, cur := range s.Currencies {
		if cur == c {
			return true
		}
	}
	return false
}

// sortSnapshots orders snapshots by effective date ascending.
func sortSnapshots(versions []*Snapshot) {
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].EffectiveDate.Before(versions[j].EffectiveDate)
	})
}
