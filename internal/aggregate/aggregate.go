// Package aggregate ranks and summarises fan-out quote results. Ranking is
// an explicit policy; the default keeps the request order.
package aggregate

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/Azurepeal/neighbor-swap/internal/amount"
	"github.com/Azurepeal/neighbor-swap/internal/model"
)

// Policy selects how fan-out results are ordered
type Policy int

const (
	// RankInputOrder keeps results in request order
	RankInputOrder Policy = iota
	// RankBestOutput orders by expected output, largest first
	RankBestOutput
)

// String returns the string representation of the policy
func (p Policy) String() string {
	if p == RankBestOutput {
		return "best-output"
	}
	return "input-order"
}

// ParsePolicy maps a policy name to a Policy. Empty means RankInputOrder.
func ParsePolicy(name string) (Policy, error) {
	switch name {
	case "", "input-order":
		return RankInputOrder, nil
	case "best-output":
		return RankBestOutput, nil
	default:
		return RankInputOrder, fmt.Errorf("unknown ranking policy %q", name)
	}
}

// Output returns the quote's expected output in human units of the output token
func Output(q model.EndpointQuote) decimal.Decimal {
	if q.Result == nil {
		return decimal.Zero
	}
	return amount.FromScaledString(q.Result.DexAgg.ExpectedAmountOut, q.ToDecimals)
}

// RankQuotes returns a new slice ordered by policy. Ties keep request order.
func RankQuotes(quotes []model.EndpointQuote, policy Policy) []model.EndpointQuote {
	ranked := make([]model.EndpointQuote, len(quotes))
	copy(ranked, quotes)

	if policy == RankBestOutput {
		outputs := make(map[int]decimal.Decimal, len(ranked))
		for i, q := range ranked {
			outputs[i] = Output(q)
		}
		idx := make([]int, len(ranked))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool {
			return outputs[idx[a]].GreaterThan(outputs[idx[b]])
		})
		sorted := make([]model.EndpointQuote, len(ranked))
		for i, j := range idx {
			sorted[i] = ranked[j]
		}
		ranked = sorted
	}
	return ranked
}

// Best returns the quote with the largest expected output
func Best(quotes []model.EndpointQuote) (model.EndpointQuote, bool) {
	if len(quotes) == 0 {
		return model.EndpointQuote{}, false
	}
	return RankQuotes(quotes, RankBestOutput)[0], true
}

// MedianOutput is the median expected output across quotes with a result
func MedianOutput(quotes []model.EndpointQuote) decimal.Decimal {
	values := outputs(quotes)
	if len(values) == 0 {
		return decimal.Zero
	}

	n := len(values)
	if n%2 == 0 {
		return values[n/2-1].Add(values[n/2]).Div(decimal.NewFromInt(2))
	}
	return values[n/2]
}

// FilterOutliers drops quotes whose output falls outside 1.5 IQR of the
// rest. Fewer than four quotes are returned unchanged.
func FilterOutliers(quotes []model.EndpointQuote) []model.EndpointQuote {
	values := outputs(quotes)
	if len(values) < 4 {
		return quotes
	}

	n := len(values)
	q1 := values[n/4]
	q3 := values[n*3/4]
	margin := q3.Sub(q1).Mul(decimal.NewFromFloat(1.5))
	lower := q1.Sub(margin)
	upper := q3.Add(margin)

	filtered := make([]model.EndpointQuote, 0, len(quotes))
	for _, q := range quotes {
		out := Output(q)
		if out.GreaterThanOrEqual(lower) && out.LessThanOrEqual(upper) {
			filtered = append(filtered, q)
		}
	}
	return filtered
}

// outputs returns the sorted outputs of quotes that carry a result
func outputs(quotes []model.EndpointQuote) []decimal.Decimal {
	values := make([]decimal.Decimal, 0, len(quotes))
	for _, q := range quotes {
		if q.Result != nil {
			values = append(values, Output(q))
		}
	}
	sort.Slice(values, func(i, j int) bool {
		return values[i].LessThan(values[j])
	})
	return values
}
