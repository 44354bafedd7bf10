package allocation_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/warp/su-allocator/allocation"
	"github.com/warp/su-allocator/generic"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

// =============================================================================
// EFFECTIVE WEIGHT
// =============================================================================

func TestEffectiveWeight_Precedence(t *testing.T) {
	cfg := allocation.DefaultConfig()
	cfg.PastMemberWeight = dec("0.1")

	tests := []struct {
		name   string
		person allocation.Person
		want   string
	}{
		{"category default", allocation.Person{ID: "a", Category: allocation.CategoryPostdoc}, "0.2"},
		{"override beats category", allocation.Person{ID: "b", Category: allocation.CategoryPostdoc, WeightOverride: decPtr("0.7")}, "0.7"},
		{"past member discount", allocation.Person{ID: "c", Category: allocation.CategoryTenureTrack, Past: true}, "0.1"},
		{"override beats past flag", allocation.Person{ID: "d", Category: allocation.CategoryTenureTrack, Past: true, WeightOverride: decPtr("0.5")}, "0.5"},
		{"unknown category", allocation.Person{ID: "e", Category: allocation.CategoryUnknown}, "0"},
		{"undefined category", allocation.Person{ID: "f", Category: "visitor"}, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cfg.EffectiveWeight(tt.person)
			assert.True(t, dec(tt.want).Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestEffectiveWeight_PastFlagStaysWithOverride(t *testing.T) {
	// GIVEN: a past member with an explicit weight
	cfg := allocation.DefaultConfig()
	cfg.People = []allocation.PersonSpec{{ID: "old", Category: allocation.CategoryGradStudent, Weight: decPtr("0.4"), Past: true}}

	// WHEN: resolved through the roster
	p, w := allocation.NewRoster(cfg).Resolve("old")

	// THEN: both fields survive independently
	assert.Nil(t, w)
	assert.True(t, p.Past)
	assert.True(t, dec("0.4").Equal(cfg.EffectiveWeight(p)))
	assert.Equal(t, "0.4 (override)", cfg.DescribeWeight(p))
}

func TestRoster_UnknownUser(t *testing.T) {
	p, w := allocation.NewRoster(allocation.DefaultConfig()).Resolve("stranger")

	assert.Equal(t, allocation.CategoryUnknown, p.Category)
	if assert.NotNil(t, w) {
		assert.Equal(t, generic.WarnUnknownUser, w.Kind)
		assert.Equal(t, "stranger", w.UserID)
	}
}

func TestGroupWeight_SumsMembers(t *testing.T) {
	cfg := allocation.DefaultConfig()
	members := []allocation.Member{
		{Person: allocation.Person{ID: "pi", Category: allocation.CategoryTenureTrack}},
		{Person: allocation.Person{ID: "gs1", Category: allocation.CategoryGradStudent}},
		{Person: allocation.Person{ID: "gs2", Category: allocation.CategoryGradStudent, Past: true}},
	}

	assert.True(t, dec("1.15").Equal(cfg.GroupWeight(members)))
	assert.True(t, decimal.Zero.Equal(cfg.GroupWeight(nil)))
}

// =============================================================================
// WEIGHT FRACTIONS
// =============================================================================

func TestWeightFractions_SumToOne(t *testing.T) {
	groups := []allocation.Group{
		{ID: "a", Weight: dec("1.15")},
		{ID: "b", Weight: dec("0.3")},
		{ID: "c", Weight: dec("2.05")},
		{ID: "empty", Weight: decimal.Zero},
	}

	fractions := allocation.WeightFractions(groups)

	sum := decimal.Zero
	for _, f := range fractions {
		sum = sum.Add(f)
	}
	assert.True(t, sum.Sub(decimal.NewFromInt(1)).Abs().LessThan(dec("0.000001")), "sum = %s", sum)
	assert.True(t, decimal.Zero.Equal(fractions["empty"]))
}

func TestWeightFractions_ScenarioThreeToOne(t *testing.T) {
	fractions := allocation.WeightFractions([]allocation.Group{
		{ID: "alpha", Weight: dec("3")},
		{ID: "beta", Weight: dec("1")},
	})

	assert.True(t, dec("0.75").Equal(fractions["alpha"]))
	assert.True(t, dec("0.25").Equal(fractions["beta"]))
}

func TestWeightFractions_ZeroTotal(t *testing.T) {
	// GIVEN: no group has any weight
	// THEN: every fraction is zero, no division by zero
	fractions := allocation.WeightFractions([]allocation.Group{
		{ID: "a", Weight: decimal.Zero},
		{ID: "b", Weight: decimal.Zero},
	})

	assert.Len(t, fractions, 2)
	for id, f := range fractions {
		assert.True(t, f.IsZero(), "group %s", id)
	}
}
