package catalog

// Case rules are ordered (predicate, result) pairs. An unset predicate field
// is a wildcard matching anything; the first rule whose every non-wildcard
// field equals the request wins. Rule sets are authored most-specific-first,
// with a trailing all-wildcard rule serving as the default. Evaluation is a
// pure function over (rule set, request); a set with no matching rule fails
// with ErrNoMatchingRule.

// ChangeRequest describes a plan change for rule evaluation.
type ChangeRequest struct {
	FromProduct       string
	FromBillingPeriod BillingPeriod
	FromPriceList     string
	ToProduct         string
	ToBillingPeriod   BillingPeriod
	ToPriceList       string
	PhaseType         PhaseType
}

// Kind classifies the structural shape of the change.
func (r ChangeRequest) Kind() ChangeKind {
	sameProduct := r.FromProduct == r.ToProduct
	samePeriod := r.FromBillingPeriod == r.ToBillingPeriod
	switch {
	case sameProduct && samePeriod:
		return ChangeSameProductSamePeriod
	case sameProduct:
		return ChangeSameProductDifferentPeriod
	case samePeriod:
		return ChangeDifferentProductSamePeriod
	default:
		return ChangeDifferentProductDifferentPeriod
	}
}

// CancelRequest describes a cancellation for rule evaluation.
type CancelRequest struct {
	Product       string
	BillingPeriod BillingPeriod
	PriceList     string
	PhaseType     PhaseType
}

// CreateRequest describes a subscription creation for rule evaluation.
type CreateRequest struct {
	Product       string
	BillingPeriod BillingPeriod
	PriceList     string
	PhaseType     PhaseType
}

// CaseChangeRule maps a plan-change shape to an action policy.
type CaseChangeRule struct {
	FromProduct       string        `json:"from_product,omitempty"`
	FromBillingPeriod BillingPeriod `json:"from_billing_period,omitempty"`
	FromPriceList     string        `json:"from_price_list,omitempty"`
	ToProduct         string        `json:"to_product,omitempty"`
	ToBillingPeriod   BillingPeriod `json:"to_billing_period,omitempty"`
	ToPriceList       string        `json:"to_price_list,omitempty"`
	PhaseType         PhaseType     `json:"phase_type,omitempty"`
	Policy            ActionPolicy  `json:"policy"`
}

func (c CaseChangeRule) matches(r ChangeRequest) bool {
	return wildcardEq(c.FromProduct, r.FromProduct) &&
		wildcardEqPeriod(c.FromBillingPeriod, r.FromBillingPeriod) &&
		wildcardEq(c.FromPriceList, r.FromPriceList) &&
		wildcardEq(c.ToProduct, r.ToProduct) &&
		wildcardEqPeriod(c.ToBillingPeriod, r.ToBillingPeriod) &&
		wildcardEq(c.ToPriceList, r.ToPriceList) &&
		wildcardEqPhase(c.PhaseType, r.PhaseType)
}

// CaseCancelRule maps a cancellation shape to an action policy.
type CaseCancelRule struct {
	Product       string        `json:"product,omitempty"`
	BillingPeriod BillingPeriod `json:"billing_period,omitempty"`
	PriceList     string        `json:"price_list,omitempty"`
	PhaseType     PhaseType     `json:"phase_type,omitempty"`
	Policy        ActionPolicy  `json:"policy"`
}

func (c CaseCancelRule) matches(r CancelRequest) bool {
	return wildcardEq(c.Product, r.Product) &&
		wildcardEqPeriod(c.BillingPeriod, r.BillingPeriod) &&
		wildcardEq(c.PriceList, r.PriceList) &&
		wildcardEqPhase(c.PhaseType, r.PhaseType)
}

// CaseCreateAlignmentRule maps a creation shape to a plan alignment.
type CaseCreateAlignmentRule struct {
	Product       string        `json:"product,omitempty"`
	BillingPeriod BillingPeriod `json:"billing_period,omitempty"`
	PriceList     string        `json:"price_list,omitempty"`
	Alignment     PlanAlignment `json:"alignment"`
}

func (c CaseCreateAlignmentRule) matches(r CreateRequest) bool {
	return wildcardEq(c.Product, r.Product) &&
		wildcardEqPeriod(c.BillingPeriod, r.BillingPeriod) &&
		wildcardEq(c.PriceList, r.PriceList)
}

// CaseBillingAlignmentRule maps a creation shape to a billing alignment.
type CaseBillingAlignmentRule struct {
	Product       string           `json:"product,omitempty"`
	BillingPeriod BillingPeriod    `json:"billing_period,omitempty"`
	PriceList     string           `json:"price_list,omitempty"`
	PhaseType     PhaseType        `json:"phase_type,omitempty"`
	Alignment     BillingAlignment `json:"alignment"`
}

func (c CaseBillingAlignmentRule) matches(r CreateRequest) bool {
	return wildcardEq(c.Product, r.Product) &&
		wildcardEqPeriod(c.BillingPeriod, r.BillingPeriod) &&
		wildcardEq(c.PriceList, r.PriceList) &&
		wildcardEqPhase(c.PhaseType, r.PhaseType)
}

// CasePriceListRule decides which price list a change lands in when the
// target does not name one.
type CasePriceListRule struct {
	FromProduct       string        `json:"from_product,omitempty"`
	FromBillingPeriod BillingPeriod `json:"from_billing_period,omitempty"`
	FromPriceList     string        `json:"from_price_list,omitempty"`
	ToPriceList       string        `json:"to_price_list"`
}

func (c CasePriceListRule) matches(product string, period BillingPeriod, priceList string) bool {
	return wildcardEq(c.FromProduct, product) &&
		wildcardEqPeriod(c.FromBillingPeriod, period) &&
		wildcardEq(c.FromPriceList, priceList)
}

// Rules is the ordered rule set of one catalog snapshot.
type Rules struct {
	Change           []CaseChangeRule           `json:"change,omitempty"`
	Cancel           []CaseCancelRule           `json:"cancel,omitempty"`
	CreateAlignment  []CaseCreateAlignmentRule  `json:"create_alignment,omitempty"`
	BillingAlignment []CaseBillingAlignmentRule `json:"billing_alignment,omitempty"`
	PriceList        []CasePriceListRule        `json:"price_list,omitempty"`
}

// PlanChange is the result of change-rule evaluation: the action policy and
// the structural classification of the change.
type PlanChange struct {
	Policy ActionPolicy
	Kind   ChangeKind
}

// EvaluateChange returns the policy for a plan change plus its structural
// classification.
func (rs *Rules) EvaluateChange(req ChangeRequest) (PlanChange, error) {
	for _, rule := range rs.Change {
		if rule.matches(req) {
			return PlanChange{Policy: rule.Policy, Kind: req.Kind()}, nil
		}
	}
	return PlanChange{}, ErrNoMatchingRule
}

// EvaluateCancel returns the policy for a cancellation.
func (rs *Rules) EvaluateCancel(req CancelRequest) (ActionPolicy, error) {
	for _, rule := range rs.Cancel {
		if rule.matches(req) {
			return rule.Policy, nil
		}
	}
	return ActionPolicyUnspecified, ErrNoMatchingRule
}

// EvaluateCreateAlignment returns the phase alignment for a creation.
func (rs *Rules) EvaluateCreateAlignment(req CreateRequest) (PlanAlignment, error) {
	for _, rule := range rs.CreateAlignment {
		if rule.matches(req) {
			return rule.Alignment, nil
		}
	}
	return "", ErrNoMatchingRule
}

// EvaluateBillingAlignment returns the billing alignment for a creation.
func (rs *Rules) EvaluateBillingAlignment(req CreateRequest) (BillingAlignment, error) {
	for _, rule := range rs.BillingAlignment {
		if rule.matches(req) {
			return rule.Alignment, nil
		}
	}
	return "", ErrNoMatchingRule
}

// EvaluatePriceList returns the price list a change from the given plan shape
// lands in when the target specifier does not name one.
func (rs *Rules) EvaluatePriceList(product string, period BillingPeriod, priceList string) (string, error) {
	for _, rule := range rs.PriceList {
		if rule.matches(product, period, priceList) {
			return rule.ToPriceList, nil
		}
	}
	return "", ErrNoMatchingRule
}

func wildcardEq(pred, val string) bool {
	return pred == "" || pred == val
}

func wildcardEqPeriod(pred, val BillingPeriod) bool {
	return pred == BillingPeriodUnspecified || pred == val
}

func wildcardEqPhase(pred, val PhaseType) bool {
	return pred == PhaseTypeUnspecified || pred == val
}
