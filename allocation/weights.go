package allocation

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/su-allocator/generic"
)

// =============================================================================
// ROSTER - Who is who
// =============================================================================

// Roster resolves user ids to Persons from the configured people list.
type Roster struct {
	cfg    Config
	people map[string]PersonSpec
}

func NewRoster(cfg Config) *Roster {
	people := make(map[string]PersonSpec, len(cfg.People))
	for _, p := range cfg.People {
		people[p.ID] = p
	}
	return &Roster{cfg: cfg, people: people}
}

// Resolve materializes a Person. Users missing from the roster become
// CategoryUnknown and are reported with a warning.
func (r *Roster) Resolve(userID string) (Person, *generic.ConsistencyWarning) {
	spec, ok := r.people[userID]
	if !ok {
		return Person{ID: userID, Category: CategoryUnknown}, &generic.ConsistencyWarning{
			Kind:   generic.WarnUnknownUser,
			UserID: userID,
			Detail: "user not on the roster, treated as " + string(CategoryUnknown),
		}
	}
	return Person{
		ID:             spec.ID,
		Category:       spec.Category,
		WeightOverride: spec.Weight,
		Past:           spec.Past,
	}, nil
}

// =============================================================================
// WEIGHTS
// =============================================================================

// EffectiveWeight returns a person's share weight.
//
// Precedence: explicit override, then the past-member weight for past
// members, then the category default. An undefined category weighs 0.
func (c Config) EffectiveWeight(p Person) decimal.Decimal {
	if p.WeightOverride != nil {
		return *p.WeightOverride
	}
	if p.Past {
		return c.PastMemberWeight
	}
	if spec, ok := c.Categories[p.Category]; ok {
		return spec.Weight
	}
	return decimal.Zero
}

// GroupWeight sums the effective weights of a group's members.
func (c Config) GroupWeight(members []Member) decimal.Decimal {
	total := decimal.Zero
	for _, m := range members {
		total = total.Add(c.EffectiveWeight(m.Person))
	}
	return total
}

// WeightFractions returns weight / total weight for every group. When the
// total is zero every group gets 0 instead of dividing by zero.
func WeightFractions(groups []Group) map[string]decimal.Decimal {
	fractions := make(map[string]decimal.Decimal, len(groups))
	total := decimal.Zero
	for _, g := range groups {
		total = total.Add(g.Weight)
	}
	for _, g := range groups {
		if !total.IsPositive() {
			fractions[g.ID] = decimal.Zero
			continue
		}
		fractions[g.ID] = g.Weight.Div(total)
	}
	return fractions
}

// DescribeWeight explains how a person's weight was derived, for reports.
func (c Config) DescribeWeight(p Person) string {
	w := c.EffectiveWeight(p).String()
	switch {
	case p.WeightOverride != nil:
		return fmt.Sprintf("%s (override)", w)
	case p.Past:
		return fmt.Sprintf("%s (past member)", w)
	default:
		return fmt.Sprintf("%s (%s)", w, p.Category)
	}
}
