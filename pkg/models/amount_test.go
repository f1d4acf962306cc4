package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want Amount
	}{
		{"0", 0},
		{"1", AmountScale},
		{"0.001", 1000},
		{"0.000001", 1},
		{".5", 500000},
		{"2.50", 2500000},
		{"-0.25", -250000},
		{"1e-3", 1000},
		{"0.0010000", 1000},
	}
	for _, tt := range tests {
		got, err := ParseAmount(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseAmountRejects(t *testing.T) {
	for _, in := range []string{"", "abc", "0.0000001", "1.2.3", "."} {
		_, err := ParseAmount(in)
		assert.ErrorIs(t, err, ErrInvalidAmount, in)
	}
}

func TestAmountString(t *testing.T) {
	assert.Equal(t, "0.001", Amount(1000).String())
	assert.Equal(t, "1", Amount(AmountScale).String())
	assert.Equal(t, "0", Amount(0).String())
	assert.Equal(t, "-2.5", Amount(-2500000).String())
	assert.Equal(t, "$0.6000", MustParseAmount("0.6").Dollars())
}

func TestAmountJSON(t *testing.T) {
	var v struct {
		A Amount `json:"a"`
		B Amount `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":0.001,"b":"0.5"}`), &v))
	assert.Equal(t, Amount(1000), v.A)
	assert.Equal(t, Amount(500000), v.B)

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":0.001,"b":0.5}`, string(out))
}

func TestAmountYAML(t *testing.T) {
	var v struct {
		Limit Amount `yaml:"limit"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("limit: 1.25\n"), &v))
	assert.Equal(t, MustParseAmount("1.25"), v.Limit)
}

func TestAmountSumIsExact(t *testing.T) {
	// 0.1 + 0.2 drifts in float64; micro-units do not.
	a := MustParseAmount("0.1") + MustParseAmount("0.2")
	assert.Equal(t, MustParseAmount("0.3"), a)
}

func TestPolicyApplyPartial(t *testing.T) {
	base := PolicyConfig{
		MaxPricePerCall:  MustParseAmount("0.5"),
		AllowedProviders: []string{"email"},
		AllowedActions:   []string{"send"},
		AllowedTasks:     []string{"welcome_flow"},
	}
	price := MustParseAmount("0.1")
	got := base.Apply(PolicyUpdate{MaxPricePerCall: &price})

	assert.Equal(t, price, got.MaxPricePerCall)
	assert.Equal(t, []string{"email"}, got.AllowedProviders)

	got.AllowedProviders[0] = "mutated"
	assert.Equal(t, "email", base.AllowedProviders[0], "Apply must not alias the base slices")
}

func TestBudgetStatus(t *testing.T) {
	s := BudgetState{DailyLimit: MustParseAmount("1"), Remaining: MustParseAmount("0.75")}.Status()
	assert.Equal(t, MustParseAmount("0.25"), s.Spent)
	assert.InDelta(t, 25.0, s.PercentageUsed, 0.0001)
}
