package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledgerkit/ledgerkit/ast"
	"github.com/shopspring/decimal"
)

// Pad processing: between a pad directive and the next balance assertion on
// the same account, the ledger synthesizes exactly one transaction bringing
// the account to the asserted balance. The synthetic transaction is dated at
// the *pad's* date, not the balance's: the balance is only the assertion
// point, while the padding belongs at the start of the interval. Transactions
// between the two apply normally; the pad absorbs whatever deficit remains
// at the assertion date.
//
// A pad that no balance assertion ever consumes is reported as an unused-pad
// warning at the end of processing.

// createPaddingTransaction creates the synthetic transaction for a consumed
// pad directive. The transaction has flag "P" and a narration matching the
// official beancount format.
//
// Example output:
//
//	2020-01-01 P "(Padding inserted for Balance of 1000.00 USD for difference 1000.00 USD)"
//	  Assets:Checking         1000.00 USD
//	  Equity:Opening-Balances -1000.00 USD
func createPaddingTransaction(
	date *ast.Date,
	paddedAccount ast.Account,
	padSourceAccount ast.Account,
	differenceStr string, // string representation, preserves precision for formatting
	currency string,
	expectedAmountStr string,
) *ast.Transaction {
	var narration strings.Builder
	narration.WriteString("(Padding inserted for Balance of ")
	narration.WriteString(expectedAmountStr)
	narration.WriteString(" ")
	narration.WriteString(currency)
	narration.WriteString(" for difference ")
	narration.WriteString(differenceStr)
	narration.WriteString(" ")
	narration.WriteString(currency)
	narration.WriteString(")")

	// Negate the difference string without reparsing, so the posting pair
	// keeps the exact precision of the balance amount.
	var negDifferenceStr string
	if differenceStr[0] == '-' {
		negDifferenceStr = differenceStr[1:]
	} else {
		negDifferenceStr = "-" + differenceStr
	}

	return ast.NewTransaction(date, narration.String(),
		ast.WithFlag("P"),
		ast.WithPostings(
			ast.NewPosting(paddedAccount,
				ast.WithAmount(differenceStr, currency),
			),
			ast.NewPosting(padSourceAccount,
				ast.WithAmount(negDifferenceStr, currency),
			),
		),
	)
}

// calculateBalanceDelta computes the mutations for a balance assertion,
// consuming the pending pad when one exists.
//
// The pad must be dated strictly before the balance assertion. When the
// asserted balance differs from the live inventory by more than the balance
// tolerance and a pad is pending, the difference becomes a synthetic padding
// transaction dated at the pad's date and the pad is consumed. Without a pad,
// a difference beyond tolerance is a balance mismatch.
func (v *validator) calculateBalanceDelta(ctx context.Context,
	balance *ast.Balance,
	padEntry *ast.Pad) (*BalanceDelta, error) {

	expectedAmount, _ := ParseAmount(balance.Amount)
	currency := balance.Amount.Currency
	accountName := string(balance.Account)
	account := v.accounts[accountName]

	actualAmount := account.Inventory.Get(currency)

	delta := &BalanceDelta{
		Balance:            balance,
		AccountName:        accountName,
		Currency:           currency,
		ExpectedAmount:     expectedAmount,
		ActualAmount:       actualAmount,
		PaddingAdjustments: make(map[string]decimal.Decimal),
	}

	tolerance := balanceAssertionTolerance(balance, expectedAmount, v.toleranceConfig)
	finalAmount := actualAmount

	if padEntry != nil {
		// The pad anchors the synthetic transaction; it must precede the
		// assertion it supports.
		if !padEntry.Date.Time.Before(balance.Date.Time) { //nolint:staticcheck
			return nil, fmt.Errorf("pad directive dated %s must come before balance assertion dated %s",
				padEntry.Date.Format("2006-01-02"), balance.Date.Format("2006-01-02"))
		}

		// The first matching balance consumes the pad for this currency,
		// whether it synthesizes a transaction or drops the pad silently
		// because the delta is zero. Later balances on the same currency
		// must not see it as pending again.
		delta.ShouldRemovePad = true

		difference := expectedAmount.Sub(actualAmount)
		if difference.Abs().GreaterThan(tolerance) {
			delta.PadRequired = true
			delta.PadAmount = difference
			delta.PadCurrency = currency
			delta.PadAccount = string(padEntry.AccountPad)
			delta.PaddingAdjustments[currency] = difference

			// Match the precision of the balance amount when rendering the
			// synthesized postings.
			decimalPlaces := int32(0)
			if dotIndex := strings.Index(balance.Amount.Value, "."); dotIndex >= 0 {
				decimalPlaces = int32(len(balance.Amount.Value) - dotIndex - 1)
			}

			delta.SyntheticTransaction = createPaddingTransaction(
				padEntry.Date,
				balance.Account,
				padEntry.AccountPad,
				difference.StringFixed(decimalPlaces),
				currency,
				balance.Amount.Value,
			)

			finalAmount = actualAmount.Add(difference)
		}
	}

	delta.FinalAmount = finalAmount

	if !AmountEqual(expectedAmount, finalAmount, tolerance) {
		return nil, NewBalanceMismatchError(
			balance,
			expectedAmount.String(),
			finalAmount.String(),
			currency,
		)
	}

	return delta, nil
}
