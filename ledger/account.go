package ledger

import (
	"strings"

	"github.com/ledgerkit/ledgerkit/ast"
	"github.com/shopspring/decimal"
)

// AccountType is the category an account's root segment places it in.
type AccountType string

const (
	AccountTypeUnknown     AccountType = ""
	AccountTypeAssets      AccountType = "Assets"
	AccountTypeLiabilities AccountType = "Liabilities"
	AccountTypeEquity      AccountType = "Equity"
	AccountTypeIncome      AccountType = "Income"
	AccountTypeExpenses    AccountType = "Expenses"
)

// ParseAccountType derives the account type from the account's root segment.
func ParseAccountType(account ast.Account) AccountType {
	name := string(account)
	root := name
	if idx := strings.IndexByte(name, ':'); idx >= 0 {
		root = name[:idx]
	}

	switch root {
	case "Assets":
		return AccountTypeAssets
	case "Liabilities":
		return AccountTypeLiabilities
	case "Equity":
		return AccountTypeEquity
	case "Income":
		return AccountTypeIncome
	case "Expenses":
		return AccountTypeExpenses
	default:
		return AccountTypeUnknown
	}
}

// DefaultBookingMethod is used when an account's open directive names no
// booking method and no booking_method option overrides it. STRICT requires a
// reducing posting's cost spec to match exactly one lot.
const DefaultBookingMethod = "STRICT"

// Account represents an account in the ledger
type Account struct {
	Name                 ast.Account
	Type                 AccountType
	OpenDate             *ast.Date
	CloseDate            *ast.Date
	ConstraintCurrencies []string
	BookingMethod        string
	Metadata             []*ast.Metadata
	Inventory            *Inventory // Inventory with lot tracking
}

// IsOpen returns true if the account is open at the given date
func (a *Account) IsOpen(date *ast.Date) bool {
	if a.OpenDate == nil {
		return false
	}

	// Account must be opened before or on the date
	if a.OpenDate.After(date.Time) {
		return false
	}

	// If there's a close date, check that the date is not after closing
	// Transactions are allowed ON the close date, but not AFTER
	if a.CloseDate != nil && date.After(a.CloseDate.Time) {
		return false
	}

	return true
}

// IsClosed returns true if the account has been closed
func (a *Account) IsClosed() bool {
	return a.CloseDate != nil
}

// HasMetadata returns true if the account has metadata
func (a *Account) HasMetadata() bool {
	return len(a.Metadata) > 0
}

// GetParent returns the parent account path.
// For example, GetParent("Assets:US:Checking") returns "Assets:US".
// Returns empty string if the account has no parent (only one segment).
func (a *Account) GetParent() string {
	parts := strings.Split(string(a.Name), ":")
	if len(parts) < 2 {
		return ""
	}
	return strings.Join(parts[:len(parts)-1], ":")
}

// GetBalance returns the balance for this account (not including children).
// Returns a map of commodity to decimal amount.
func (a *Account) GetBalance() map[string]decimal.Decimal {
	result := make(map[string]decimal.Decimal)
	for _, currency := range a.Inventory.Currencies() {
		result[currency] = a.Inventory.Get(currency)
	}
	return result
}
