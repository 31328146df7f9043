package billing

import "fmt"

// PlanName identifies a subscription plan.
type PlanName string

const (
	PlanFree         PlanName = "free"
	PlanSolo         PlanName = "solo"
	PlanEntrepreneur PlanName = "entrepreneur"
	PlanTeam         PlanName = "team"
)

// Plan describes a subscription plan. The catalog is static configuration:
// seats and analysis allowance always come from here, never from the billing
// provider.
type Plan struct {
	Name            PlanName
	DisplayName     string
	PriceUSD        int64 // monthly price in cents
	Seats           int
	MonthlyAnalyses int
	Features        []string
}

// catalog is the canonical plan table. Order matters for display.
var catalog = []Plan{
	{
		Name:            PlanFree,
		DisplayName:     "Free",
		PriceUSD:        0,
		Seats:           1,
		MonthlyAnalyses: 10,
		Features:        []string{"10 email analyses per month", "1 protected inbox"},
	},
	{
		Name:            PlanSolo,
		DisplayName:     "Solo",
		PriceUSD:        900,
		Seats:           1,
		MonthlyAnalyses: 500,
		Features:        []string{"500 email analyses per month", "1 protected inbox", "Priority scanning"},
	},
	{
		Name:            PlanEntrepreneur,
		DisplayName:     "Entrepreneur",
		PriceUSD:        2900,
		Seats:           3,
		MonthlyAnalyses: 2000,
		Features:        []string{"2000 email analyses per month", "3 team seats", "Priority scanning"},
	},
	{
		Name:            PlanTeam,
		DisplayName:     "Team",
		PriceUSD:        9900,
		Seats:           10,
		MonthlyAnalyses: 10000,
		Features:        []string{"10000 email analyses per month", "10 team seats", "Priority scanning", "Dedicated support"},
	},
}

// Plans returns the plan catalog in display order.
func Plans() []Plan {
	plans := make([]Plan, len(catalog))
	copy(plans, catalog)
	return plans
}

// PlanByName returns the plan with the given name.
func PlanByName(name PlanName) (Plan, bool) {
	for _, p := range catalog {
		if p.Name == name {
			return p, true
		}
	}
	return Plan{}, false
}

// SeatsForPlan returns the seat count for a plan.
// Unknown plans resolve to the Free tier seat count.
func SeatsForPlan(name PlanName) int {
	if p, ok := PlanByName(name); ok {
		return p.Seats
	}
	return catalog[0].Seats
}

// AllowanceForPlan returns the monthly analysis allowance for a plan.
// Unknown plans resolve to the Free tier allowance.
func AllowanceForPlan(name PlanName) int {
	if p, ok := PlanByName(name); ok {
		return p.MonthlyAnalyses
	}
	return catalog[0].MonthlyAnalyses
}

// PriceTable maps billing provider price references to plan names.
// Price IDs differ between environments, so the table is built from config.
type PriceTable struct {
	prices map[string]PlanName
}

// NewPriceTable builds a price table from config, validating plan names.
func NewPriceTable(prices map[string]string) (PriceTable, error) {
	table := PriceTable{prices: make(map[string]PlanName, len(prices))}
	for priceID, planName := range prices {
		name := PlanName(planName)
		if _, ok := PlanByName(name); !ok {
			return PriceTable{}, fmt.Errorf("price %s maps to unknown plan %q", priceID, planName)
		}
		table.prices[priceID] = name
	}
	return table, nil
}

// Lookup resolves a price reference to a plan name.
// Unknown prices resolve to Free with ok=false so callers can flag them.
func (t PriceTable) Lookup(priceRef string) (PlanName, bool) {
	if name, ok := t.prices[priceRef]; ok {
		return name, true
	}
	return PlanFree, false
}
