package catalog

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/tallyhq/tally/types"
)

// XML document shapes for catalog files. Parsing builds the DTOs below and
// converts them into a finalized Snapshot; semantic validation happens in
// Snapshot.Finalize.

type xmlCatalog struct {
	XMLName       xml.Name      `xml:"catalog"`
	Name          string        `xml:"catalogName"`
	EffectiveDate string        `xml:"effectiveDate"`
	Currencies    []string      `xml:"currencies>currency"`
	Products      []xmlProduct  `xml:"products>product"`
	Rules         *xmlRules     `xml:"rules"`
	Plans         []xmlPlan     `xml:"plans>plan"`
	PriceLists    xmlPriceLists `xml:"priceLists"`
}

type xmlProduct struct {
	Name      string   `xml:"name,attr"`
	Category  string   `xml:"category"`
	Included  []string `xml:"included>product"`
	Available []string `xml:"available>product"`
}

type xmlRules struct {
	Change           []xmlChangeCase           `xml:"changePolicy>case"`
	Cancel           []xmlCancelCase           `xml:"cancelPolicy>case"`
	CreateAlignment  []xmlCreateAlignmentCase  `xml:"createAlignment>case"`
	BillingAlignment []xmlBillingAlignmentCase `xml:"billingAlignment>case"`
	PriceList        []xmlPriceListCase        `xml:"priceList>case"`
}

type xmlChangeCase struct {
	FromProduct       string `xml:"fromProduct"`
	FromBillingPeriod string `xml:"fromBillingPeriod"`
	FromPriceList     string `xml:"fromPriceList"`
	ToProduct         string `xml:"toProduct"`
	ToBillingPeriod   string `xml:"toBillingPeriod"`
	ToPriceList       string `xml:"toPriceList"`
	PhaseType         string `xml:"phaseType"`
	Policy            string `xml:"policy"`
}

type xmlCancelCase struct {
	Product       string `xml:"product"`
	BillingPeriod string `xml:"billingPeriod"`
	PriceList     string `xml:"priceList"`
	PhaseType     string `xml:"phaseType"`
	Policy        string `xml:"policy"`
}

type xmlCreateAlignmentCase struct {
	Product       string `xml:"product"`
	BillingPeriod string `xml:"billingPeriod"`
	PriceList     string `xml:"priceList"`
	Alignment     string `xml:"alignment"`
}

type xmlBillingAlignmentCase struct {
	Product       string `xml:"product"`
	BillingPeriod string `xml:"billingPeriod"`
	PriceList     string `xml:"priceList"`
	PhaseType     string `xml:"phaseType"`
	Alignment     string `xml:"alignment"`
}

type xmlPriceListCase struct {
	FromProduct       string `xml:"fromProduct"`
	FromBillingPeriod string `xml:"fromBillingPeriod"`
	FromPriceList     string `xml:"fromPriceList"`
	ToPriceList       string `xml:"toPriceList"`
}

type xmlPlan struct {
	Name             string     `xml:"name,attr"`
	DisallowOverride bool       `xml:"disallowOverride,attr"`
	Product          string     `xml:"product"`
	BillingPeriod    string     `xml:"billingPeriod"`
	Phases           []xmlPhase `xml:"phases>phase"`
}

type xmlPhase struct {
	Type      string      `xml:"type,attr"`
	Duration  xmlDuration `xml:"duration"`
	Fixed     []xmlPrice  `xml:"fixed>price"`
	Recurring []xmlPrice  `xml:"recurring>price"`
}

type xmlDuration struct {
	Unit   string `xml:"unit"`
	Number int    `xml:"number"`
}

// xmlPrice with a missing <value> element is an explicit null price: the
// currency is declared unavailable, which is distinct from omitting the
// currency entirely.
type xmlPrice struct {
	Currency string `xml:"currency"`
	Value    *int64 `xml:"value"`
}

type xmlPriceLists struct {
	Default  xmlPriceList   `xml:"defaultPriceList"`
	Children []xmlPriceList `xml:"childPriceList"`
}

type xmlPriceList struct {
	Name  string   `xml:"name,attr"`
	Plans []string `xml:"plans>plan"`
}

// ParseXML parses one catalog XML document into a finalized Snapshot.
func ParseXML(data []byte) (*Snapshot, error) {
	var doc xmlCatalog
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	effective, err := parseDate(doc.EffectiveDate)
	if err != nil {
		return nil, fmt.Errorf("%w: effectiveDate: %v", ErrInvalid, err)
	}

	currencyTable := types.DefaultCurrencies()
	currencies := make([]types.Currency, 0, len(doc.Currencies))
	for _, c := range doc.Currencies {
		cur, err := currencyTable.Parse(c)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		currencies = append(currencies, cur)
	}

	snap := &Snapshot{
		Name:          doc.Name,
		EffectiveDate: effective,
		Currencies:    currencies,
	}

	for _, xp := range doc.Products {
		category, err := ParseProductCategory(xp.Category)
		if err != nil {
			return nil, fmt.Errorf("%w: product %q: %v", ErrInvalid, xp.Name, err)
		}
		snap.Products = append(snap.Products, &Product{
			Name:      xp.Name,
			Category:  category,
			Included:  xp.Included,
			Available: xp.Available,
		})
	}

	for _, xp := range doc.Plans {
		plan, err := convertPlan(xp)
		if err != nil {
			return nil, err
		}
		snap.Plans = append(snap.Plans, plan)
	}

	snap.PriceLists = &PriceListSet{
		Default: &PriceList{Name: DefaultPriceListName, PlanNames: doc.PriceLists.Default.Plans},
	}
	for _, child := range doc.PriceLists.Children {
		snap.PriceLists.Children = append(snap.PriceLists.Children, &PriceList{
			Name:      child.Name,
			PlanNames: child.Plans,
		})
	}

	if doc.Rules != nil {
		rules, err := convertRules(doc.Rules)
		if err != nil {
			return nil, err
		}
		snap.Rules = rules
	}

	if err := snap.Finalize(); err != nil {
		return nil, err
	}
	return snap, nil
}

func convertPlan(xp xmlPlan) (*Plan, error) {
	period, err := ParseBillingPeriod(xp.BillingPeriod)
	if err != nil {
		return nil, fmt.Errorf("%w: plan %q: %v", ErrInvalid, xp.Name, err)
	}

	plan := &Plan{
		Name:             xp.Name,
		ProductName:      xp.Product,
		BillingPeriod:    period,
		DisallowOverride: xp.DisallowOverride,
	}

	for _, xph := range xp.Phases {
		phaseType, err := ParsePhaseType(xph.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: plan %q: %v", ErrInvalid, xp.Name, err)
		}
		unit, err := ParseTimeUnit(xph.Duration.Unit)
		if err != nil {
			return nil, fmt.Errorf("%w: plan %q phase %s: %v", ErrInvalid, xp.Name, phaseType, err)
		}
		phase := &PlanPhase{
			Type:     phaseType,
			Duration: Duration{Unit: unit, Number: xph.Duration.Number},
		}
		if phase.Fixed, err = convertPrices(xph.Fixed); err != nil {
			return nil, fmt.Errorf("%w: plan %q phase %s: %v", ErrInvalid, xp.Name, phaseType, err)
		}
		if phase.Recurring, err = convertPrices(xph.Recurring); err != nil {
			return nil, fmt.Errorf("%w: plan %q phase %s: %v", ErrInvalid, xp.Name, phaseType, err)
		}
		plan.Phases = append(plan.Phases, phase)
	}

	return plan, nil
}

func convertPrices(entries []xmlPrice) (InternationalPrice, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	table := types.DefaultCurrencies()
	out := make(InternationalPrice, 0, len(entries))
	for _, e := range entries {
		cur, err := table.Parse(e.Currency)
		if err != nil {
			return nil, err
		}
		var value *types.Money
		if e.Value != nil {
			m := types.NewMoney(*e.Value, cur)
			value = &m
		}
		out = append(out, Price{Currency: cur, Value: value})
	}
	return out, nil
}

func convertRules(xr *xmlRules) (*Rules, error) {
	rules := &Rules{}

	for _, c := range xr.Change {
		policy, err := ParseActionPolicy(c.Policy)
		if err != nil {
			return nil, fmt.Errorf("%w: changePolicy: %v", ErrInvalid, err)
		}
		rule := CaseChangeRule{
			FromProduct:   c.FromProduct,
			FromPriceList: c.FromPriceList,
			ToProduct:     c.ToProduct,
			ToPriceList:   c.ToPriceList,
			Policy:        policy,
		}
		if rule.FromBillingPeriod, err = parseOptionalPeriod(c.FromBillingPeriod); err != nil {
			return nil, fmt.Errorf("%w: changePolicy: %v", ErrInvalid, err)
		}
		if rule.ToBillingPeriod, err = parseOptionalPeriod(c.ToBillingPeriod); err != nil {
			return nil, fmt.Errorf("%w: changePolicy: %v", ErrInvalid, err)
		}
		if rule.PhaseType, err = parseOptionalPhase(c.PhaseType); err != nil {
			return nil, fmt.Errorf("%w: changePolicy: %v", ErrInvalid, err)
		}
		rules.Change = append(rules.Change, rule)
	}

	for _, c := range xr.Cancel {
		policy, err := ParseActionPolicy(c.Policy)
		if err != nil {
			return nil, fmt.Errorf("%w: cancelPolicy: %v", ErrInvalid, err)
		}
		rule := CaseCancelRule{Product: c.Product, PriceList: c.PriceList, Policy: policy}
		if rule.BillingPeriod, err = parseOptionalPeriod(c.BillingPeriod); err != nil {
			return nil, fmt.Errorf("%w: cancelPolicy: %v", ErrInvalid, err)
		}
		if rule.PhaseType, err = parseOptionalPhase(c.PhaseType); err != nil {
			return nil, fmt.Errorf("%w: cancelPolicy: %v", ErrInvalid, err)
		}
		rules.Cancel = append(rules.Cancel, rule)
	}

	for _, c := range xr.CreateAlignment {
		alignment, err := ParsePlanAlignment(c.Alignment)
		if err != nil {
			return nil, fmt.Errorf("%w: createAlignment: %v", ErrInvalid, err)
		}
		rule := CaseCreateAlignmentRule{Product: c.Product, PriceList: c.PriceList, Alignment: alignment}
		if rule.BillingPeriod, err = parseOptionalPeriod(c.BillingPeriod); err != nil {
			return nil, fmt.Errorf("%w: createAlignment: %v", ErrInvalid, err)
		}
		rules.CreateAlignment = append(rules.CreateAlignment, rule)
	}

	for _, c := range xr.BillingAlignment {
		alignment, err := ParseBillingAlignment(c.Alignment)
		if err != nil {
			return nil, fmt.Errorf("%w: billingAlignment: %v", ErrInvalid, err)
		}
		rule := CaseBillingAlignmentRule{Product: c.Product, PriceList: c.PriceList, Alignment: alignment}
		if rule.BillingPeriod, err = parseOptionalPeriod(c.BillingPeriod); err != nil {
			return nil, fmt.Errorf("%w: billingAlignment: %v", ErrInvalid, err)
		}
		if rule.PhaseType, err = parseOptionalPhase(c.PhaseType); err != nil {
			return nil, fmt.Errorf("%w: billingAlignment: %v", ErrInvalid, err)
		}
		rules.BillingAlignment = append(rules.BillingAlignment, rule)
	}

	for _, c := range xr.PriceList {
		rule := CasePriceListRule{
			FromProduct:   c.FromProduct,
			FromPriceList: c.FromPriceList,
			ToPriceList:   c.ToPriceList,
		}
		var err error
		if rule.FromBillingPeriod, err = parseOptionalPeriod(c.FromBillingPeriod); err != nil {
			return nil, fmt.Errorf("%w: priceList: %v", ErrInvalid, err)
		}
		rules.PriceList = append(rules.PriceList, rule)
	}

	return rules, nil
}

func parseOptionalPeriod(s string) (BillingPeriod, error) {
	if s == "" {
		return BillingPeriodUnspecified, nil
	}
	return ParseBillingPeriod(s)
}

func parseOptionalPhase(s string) (PhaseType, error) {
	if s == "" {
		return PhaseTypeUnspecified, nil
	}
	return ParsePhaseType(s)
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
