package policy

import (
	"slices"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/pario-ai/spendguard/pkg/models"
)

// The first failing rule in provider, action, task, price order determines the code.
func TestEvaluatePrecedenceProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	names := gen.OneConstOf("email", "sms", "send", "delete", "welcome_flow", "digest")
	cost := gen.Int64Range(0, 2*models.AmountScale)

	properties.Property("first failing rule wins", prop.ForAll(
		func(provider, action, task string, c int64) bool {
			p := defaultPolicy()
			req := Request{Provider: provider, Action: action, Task: task, Cost: models.Amount(c)}
			res := Evaluate(p, req)

			var want models.ReasonCode
			switch {
			case !slices.Contains(p.AllowedProviders, provider):
				want = models.ReasonProviderNotAllowed
			case !slices.Contains(p.AllowedActions, action):
				want = models.ReasonActionNotAllowed
			case !slices.Contains(p.AllowedTasks, task):
				want = models.ReasonTaskNotAllowed
			case req.Cost > p.MaxPricePerCall:
				want = models.ReasonPriceExceeded
			default:
				want = models.ReasonPolicyCheckPassed
			}
			return res.Code == want && res.Allowed == (want == models.ReasonPolicyCheckPassed)
		},
		names, names, names, cost,
	))

	properties.TestingRun(t)
}
