package ast

// AmountCompleteness classifies how much of a posting's amount the source
// actually spelled out. The parser accepts partial amounts ("50.00" with no
// currency, or a bare currency code) so that files remain parseable while
// being edited; interpolation later fills the gaps or rejects the transaction.
type AmountCompleteness int

const (
	// AmountMissing means no amount was written at all (nil *Amount).
	AmountMissing AmountCompleteness = iota
	// AmountNumberOnly means a number was written without a currency.
	AmountNumberOnly
	// AmountCurrencyOnly means a currency was written without a number.
	AmountCurrencyOnly
	// AmountComplete means both number and currency are present.
	AmountComplete
)

func (c AmountCompleteness) String() string {
	switch c {
	case AmountMissing:
		return "missing"
	case AmountNumberOnly:
		return "number-only"
	case AmountCurrencyOnly:
		return "currency-only"
	case AmountComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Completeness reports which parts of the amount are present. A nil amount
// is AmountMissing.
func (a *Amount) Completeness() AmountCompleteness {
	switch {
	case a == nil:
		return AmountMissing
	case a.Value != "" && a.Currency != "":
		return AmountComplete
	case a.Value != "":
		return AmountNumberOnly
	case a.Currency != "":
		return AmountCurrencyOnly
	default:
		return AmountMissing
	}
}

// IsComplete reports whether both number and currency are present.
func (a *Amount) IsComplete() bool {
	return a.Completeness() == AmountComplete
}
