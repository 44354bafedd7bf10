package allocation_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/warp/su-allocator/allocation"
	"github.com/warp/su-allocator/generic"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	assert.Empty(t, allocation.DefaultConfig().Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *allocation.Config)
		field  string
	}{
		{"terminal period with fraction", func(c *allocation.Config) {
			c.Periods[1].Fraction = decPtr("0.5")
		}, "periods[1]"},
		{"non-terminal period without fraction", func(c *allocation.Config) {
			c.Periods = []allocation.PeriodSpec{{StartDay: 0}, {StartDay: 30}}
		}, "periods[0]"},
		{"first period not on day 0", func(c *allocation.Config) {
			c.Periods[0].StartDay = 3
		}, "periods[0]"},
		{"start days not ascending", func(c *allocation.Config) {
			c.Periods[1].StartDay = 0
		}, "periods[1]"},
		{"start day beyond quarter", func(c *allocation.Config) {
			c.Periods[1].StartDay = 95
		}, "periods[1]"},
		{"fraction above one", func(c *allocation.Config) {
			c.Periods[0].Fraction = decPtr("1.5")
		}, "periods[0]"},
		{"no periods", func(c *allocation.Config) {
			c.Periods = nil
		}, "periods"},
		{"bad base quarter", func(c *allocation.Config) {
			c.BaseQuarter = 5
		}, "baseQuarter"},
		{"thresholds not ascending", func(c *allocation.Config) {
			c.WarningThresholds = []decimal.Decimal{dec("100"), dec("80")}
		}, "warningThresholds[1]"},
		{"undefined category on roster", func(c *allocation.Config) {
			c.People = []allocation.PersonSpec{{ID: "x", Category: "visitor"}}
		}, "people[0]"},
		{"duplicate person", func(c *allocation.Config) {
			c.People = []allocation.PersonSpec{{ID: "x", Category: allocation.CategoryPostdoc}, {ID: "x", Category: allocation.CategoryPostdoc}}
		}, "people[1]"},
		{"duplicate group", func(c *allocation.Config) {
			c.Groups = []allocation.GroupSpec{{ID: "g"}, {ID: "g"}}
		}, "groups[1]"},
		{"negative penalty factor", func(c *allocation.Config) {
			c.PenaltyFactor = dec("-1")
		}, "penaltyFactor"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := allocation.DefaultConfig()
			tt.mutate(&cfg)

			errs := cfg.Validate()

			if assert.NotEmpty(t, errs) {
				var fields []string
				for _, err := range errs {
					assert.True(t, generic.IsConfigurationError(err))
					var ce *generic.ConfigurationError
					if errors.As(err, &ce) {
						fields = append(fields, ce.Field)
					}
				}
				assert.Contains(t, fields, tt.field)
			}
		})
	}
}
