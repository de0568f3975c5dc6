package ledger

import (
	"sort"

	"github.com/ledgerkit/ledgerkit/ast"
	"github.com/shopspring/decimal"
)

// Transaction interpolation: completing partially specified transactions.
//
// Each posting contributes a weight to a per-currency residual map (see
// weight.go). Interpolation fills at most one unknown number per currency,
// assigns currencies to fully missing postings deterministically, infers
// per-unit costs for empty cost specs, and finally checks every residual
// against the inferred tolerance.
//
// Where the assignment of fully missing postings to leftover residuals is
// ambiguous, currencies are taken in lexicographic order and postings in
// source order, so interpolation is deterministic run to run.

// interpolationResult carries everything interpolation worked out about one
// transaction.
type interpolationResult struct {
	// InferredAmounts maps postings without complete units to the amount
	// interpolation chose for them.
	InferredAmounts map[*ast.Posting]*ast.Amount

	// InferredCosts maps postings with an empty cost spec {} to the
	// per-unit cost inferred from the residual.
	InferredCosts map[*ast.Posting]*ast.Amount

	// Residuals holds the per-currency residuals that remain beyond
	// tolerance after interpolation. Empty means the transaction balances.
	Residuals map[string]decimal.Decimal

	// Failures holds the typed interpolation errors (MultipleMissingError,
	// CannotInferCurrencyError). Residual overruns are reported separately
	// through Residuals so the caller can decide how to phrase them.
	Failures []error
}

// balanced reports whether interpolation completed with no leftover residual
// and no failure.
func (r *interpolationResult) balanced() bool {
	return len(r.Residuals) == 0 && len(r.Failures) == 0
}

// interpolate completes a transaction's postings. The returned error slice
// holds hard errors (unparseable amounts); semantic interpolation failures
// land in the result's Failures.
func interpolate(txn *ast.Transaction, tolConfig *ToleranceConfig) (*interpolationResult, []error) {
	var errs []error
	pc := classifyPostings(txn.Postings)

	result := &interpolationResult{
		InferredAmounts: make(map[*ast.Posting]*ast.Amount),
		InferredCosts:   make(map[*ast.Posting]*ast.Amount),
		Residuals:       make(map[string]decimal.Decimal),
	}

	// Accumulate weights of complete postings.
	var allWeights []WeightSet
	for _, posting := range pc.withAmounts {
		weights, err := CalculateWeights(posting)
		if err != nil {
			errs = append(errs, NewInvalidAmountError(txn, posting.Account, posting.Amount.Value, err))
			continue
		}
		allWeights = append(allWeights, weights)
	}
	if len(errs) > 0 {
		return nil, errs
	}

	balance := BalanceWeights(allWeights)
	defer putBalanceMap(balance)

	// Postings with a known currency but no number absorb that currency's
	// residual. Two of them in the same currency cannot be told apart.
	byCurrency := make(map[string][]*ast.Posting)
	for _, posting := range pc.currencyOnly {
		byCurrency[posting.Amount.Currency] = append(byCurrency[posting.Amount.Currency], posting)
	}
	for _, currency := range sortedKeys(byCurrency) {
		group := byCurrency[currency]
		if len(group) > 1 {
			result.Failures = append(result.Failures, NewMultipleMissingError(txn, currency))
			continue
		}
		needed := balance[currency].Neg()
		result.InferredAmounts[group[0]] = &ast.Amount{
			Value:    needed.String(),
			Currency: currency,
		}
		balance[currency] = decimal.Zero
	}

	// Postings with a number but no currency need exactly one candidate
	// residual currency to borrow from.
	for _, posting := range pc.numberOnly {
		candidates := nonZeroCurrencies(balance)
		if len(candidates) != 1 {
			result.Failures = append(result.Failures, NewCannotInferCurrencyError(txn, posting.Account))
			continue
		}
		currency := candidates[0]
		number, err := ParseAmount(&ast.Amount{Value: posting.Amount.Value, Currency: currency})
		if err != nil {
			errs = append(errs, NewInvalidAmountError(txn, posting.Account, posting.Amount.Value, err))
			continue
		}
		result.InferredAmounts[posting] = &ast.Amount{
			Value:    posting.Amount.Value,
			Currency: currency,
		}
		balance[currency] = balance[currency].Add(number)
	}

	// Cost inference for empty cost specs {} must happen before fully
	// missing postings are assigned: the residual the cost absorbs would
	// otherwise be handed to them.
	interpolateEmptyCosts(txn, pc, balance, result)

	// Fully missing postings are paired with the remaining non-zero
	// residuals: currencies in lexicographic order, postings in source
	// order. Surplus postings become zero postings in the first currency.
	if len(pc.withoutAmounts) > 0 {
		candidates := nonZeroCurrencies(balance)
		if len(candidates) == 0 {
			for _, posting := range pc.withoutAmounts {
				result.Failures = append(result.Failures, NewCannotInferCurrencyError(txn, posting.Account))
			}
		} else {
			for i, posting := range pc.withoutAmounts {
				var currency string
				if i < len(candidates) {
					currency = candidates[i]
				} else {
					currency = candidates[0]
				}
				needed := balance[currency].Neg()
				result.InferredAmounts[posting] = &ast.Amount{
					Value:    needed.String(),
					Currency: currency,
				}
				balance[currency] = decimal.Zero
			}
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}

	// Recompute the per-currency tolerance from every complete and inferred
	// amount, then flag any residual beyond it.
	amountsByCurrency := make(map[string][]decimal.Decimal)
	for _, posting := range pc.withAmounts {
		amount, err := ParseAmount(posting.Amount)
		if err != nil {
			continue
		}
		amountsByCurrency[posting.Amount.Currency] = append(amountsByCurrency[posting.Amount.Currency], amount)
	}
	for _, inferred := range result.InferredAmounts {
		amount, err := ParseAmount(inferred)
		if err != nil {
			continue
		}
		amountsByCurrency[inferred.Currency] = append(amountsByCurrency[inferred.Currency], amount)
	}

	for currency, residual := range balance {
		tolerance := InferTolerance(amountsByCurrency[currency], currency, tolConfig)
		if residual.Abs().GreaterThan(tolerance) {
			result.Residuals[currency] = residual
		}
	}

	return result, nil
}

// interpolateEmptyCosts infers per-unit costs for postings holding an empty
// cost spec {} with positive units: the cost absorbs the whole residual of
// the single remaining non-zero currency. More than one such posting is
// ambiguous and leaves the residual unabsorbed, to be reported as an
// imbalance. Negative empty-cost postings are reductions; their cost comes
// from the matched lot, not from interpolation.
func interpolateEmptyCosts(txn *ast.Transaction, pc postingClassification, balance map[string]decimal.Decimal, result *interpolationResult) {
	if len(pc.withEmptyCosts) == 0 {
		return
	}

	positive := 0
	for _, posting := range pc.withEmptyCosts {
		amount, err := ParseAmount(posting.Amount)
		if err != nil {
			continue
		}
		if !amount.IsNegative() {
			positive++
		}
	}
	if positive > 1 {
		return
	}

	for _, posting := range pc.withEmptyCosts {
		amount, err := ParseAmount(posting.Amount)
		if err != nil || amount.IsNegative() || amount.IsZero() {
			continue
		}

		candidates := nonZeroCurrencies(balance)
		if len(candidates) != 1 {
			return
		}
		currency := candidates[0]

		costPerUnit := balance[currency].Neg().Div(amount)
		result.InferredCosts[posting] = &ast.Amount{
			Value:    costPerUnit.String(),
			Currency: currency,
		}
		balance[currency] = balance[currency].Add(amount.Mul(costPerUnit))
	}
}

// nonZeroCurrencies lists the currencies with a non-zero residual in
// lexicographic order.
func nonZeroCurrencies(balance map[string]decimal.Decimal) []string {
	currencies := make([]string, 0, len(balance))
	for currency, residual := range balance {
		if !residual.IsZero() {
			currencies = append(currencies, currency)
		}
	}
	sort.Strings(currencies)
	return currencies
}

// sortedKeys lists map keys in lexicographic order.
func sortedKeys(m map[string][]*ast.Posting) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
