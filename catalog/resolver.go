package catalog

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"

	"github.com/tallyhq/tally/types"
)

// PlanSpecifier selects a plan either by exact name or by the
// (product, billing period, price list) triple. Immutable request value.
type PlanSpecifier struct {
	PlanName      string
	ProductName   string
	BillingPeriod BillingPeriod
	PriceListName string
}

// ByName builds a specifier selecting a plan by exact name.
func ByName(planName string) PlanSpecifier {
	return PlanSpecifier{PlanName: planName}
}

// ByProduct builds a specifier selecting a plan by product, billing period
// and price list. An empty price list name selects the default list.
func ByProduct(product string, period BillingPeriod, priceList string) PlanSpecifier {
	return PlanSpecifier{ProductName: product, BillingPeriod: period, PriceListName: priceList}
}

// PhaseSpecifier is a PlanSpecifier with an optional phase type hint.
type PhaseSpecifier struct {
	PlanSpecifier
	PhaseType PhaseType
}

// PhaseOverride replaces the fixed and/or recurring price of one phase in a
// single currency. The phase is addressed by name, or by type when the name
// is empty.
type PhaseOverride struct {
	PhaseName string
	PhaseType PhaseType
	Currency  types.Currency
	Fixed     *types.Money
	Recurring *types.Money
}

// ResolvePlan resolves the specifier against the snapshot. With overrides it
// returns a synthesized variant plan, cached for the snapshot's lifetime so
// repeated resolution of the same (specifier, overrides) pair is idempotent.
func (s *Snapshot) ResolvePlan(spec PlanSpecifier, overrides []PhaseOverride) (*Plan, error) {
	base, err := s.findPlan(spec)
	if err != nil {
		return nil, err
	}
	if len(overrides) == 0 {
		return base, nil
	}
	return s.overridePlan(base, overrides)
}

// ResolvePhase resolves a plan and, when the specifier carries a phase type
// hint, the matching phase. Without a hint the plan's initial phase is used.
func (s *Snapshot) ResolvePhase(spec PhaseSpecifier, overrides []PhaseOverride) (*Plan, *PlanPhase, error) {
	plan, err := s.ResolvePlan(spec.PlanSpecifier, overrides)
	if err != nil {
		return nil, nil, err
	}
	if spec.PhaseType == PhaseTypeUnspecified {
		return plan, plan.InitialPhase(), nil
	}
	phase, err := plan.PhaseByType(spec.PhaseType)
	if err != nil {
		return nil, nil, err
	}
	return plan, phase, nil
}

func (s *Snapshot) findPlan(spec PlanSpecifier) (*Plan, error) {
	if spec.PlanName != "" {
		return s.Plan(spec.PlanName)
	}

	if _, err := s.Product(spec.ProductName); err != nil {
		return nil, err
	}
	priceList, err := s.PriceLists.ByName(spec.PriceListName)
	if err != nil {
		return nil, err
	}

	candidates := priceList.PlansWith(spec.ProductName, spec.BillingPeriod)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: product %q, period %s, price list %q",
			ErrPlanNotFound, spec.ProductName, spec.BillingPeriod, priceList.Name)
	}
	// Price lists are authored with at most one plan per (product, period);
	// the first entry wins if that convention is broken.
	return candidates[0], nil
}

// overridePlan synthesizes a plan variant with the given price overrides,
// reusing a previously synthesized variant when the override set is
// structurally identical.
func (s *Snapshot) overridePlan(base *Plan, overrides []PhaseOverride) (*Plan, error) {
	if base.DisallowOverride {
		return nil, fmt.Errorf("%w: plan %q", ErrPriceOverrideNotAllowed, base.Name)
	}

	key, err := overrideKey(base, overrides)
	if err != nil {
		return nil, err
	}

	s.overrideMu.Lock()
	defer s.overrideMu.Unlock()

	if cached, ok := s.overrideCache[key]; ok {
		return cached, nil
	}

	variant := clonePlan(base)
	variant.Name = fmt.Sprintf("%s-override-%s", base.Name, shortHash(key))
	variant.Overridden = true
	variant.BaseName = base.Name

	for _, ov := range overrides {
		phase, err := findOverridePhase(variant, ov)
		if err != nil {
			return nil, err
		}
		// The overridden component carries only the override currency;
		// other currencies become undefined for that component.
		if ov.Fixed != nil {
			phase.Fixed = InternationalPrice{{Currency: ov.Currency, Value: ov.Fixed}}
		}
		if ov.Recurring != nil {
			phase.Recurring = InternationalPrice{{Currency: ov.Currency, Value: ov.Recurring}}
		}
	}

	s.overrideCache[key] = variant
	return variant, nil
}

func findOverridePhase(plan *Plan, ov PhaseOverride) (*PlanPhase, error) {
	if ov.PhaseName != "" {
		return plan.PhaseByName(ov.PhaseName)
	}
	if ov.PhaseType != PhaseTypeUnspecified {
		return plan.PhaseByType(ov.PhaseType)
	}
	return nil, fmt.Errorf("%w: override names no phase", ErrNoSuchPhase)
}

// overrideKey builds a deterministic cache key from the base plan identity
// and the normalized override set.
func overrideKey(base *Plan, overrides []PhaseOverride) (string, error) {
	parts := make([]string, 0, len(overrides))
	for _, ov := range overrides {
		if ov.Currency == "" {
			return "", fmt.Errorf("catalog: price override missing currency")
		}
		addr := ov.PhaseName
		if addr == "" {
			addr = string(ov.PhaseType)
		}
		fixed := "-"
		if ov.Fixed != nil {
			fixed = fmt.Sprintf("%d", ov.Fixed.Amount)
		}
		recurring := "-"
		if ov.Recurring != nil {
			recurring = fmt.Sprintf("%d", ov.Recurring.Amount)
		}
		parts = append(parts, fmt.Sprintf("%s:%s:f=%s:r=%s", addr, ov.Currency, fixed, recurring))
	}
	sort.Strings(parts)
	return base.Name + "|" + strings.Join(parts, "|"), nil
}

func shortHash(key string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return fmt.Sprintf("%x", h.Sum64())
}

func clonePlan(base *Plan) *Plan {
	clone := *base
	clone.Phases = make([]*PlanPhase, len(base.Phases))
	for i, ph := range base.Phases {
		phaseCopy := *ph
		phaseCopy.Fixed = append(InternationalPrice(nil), ph.Fixed...)
		phaseCopy.Recurring = append(InternationalPrice(nil), ph.Recurring...)
		clone.Phases[i] = &phaseCopy
	}
	return &clone
}
