// Package ledger provides accounting ledger validation and processing for Beancount files.
// It validates transactions, maintains account states, tracks inventory with lot-based cost
// basis, and performs balance assertions.
//
// The ledger validates that:
//   - All transactions balance to zero across all currencies within tolerance
//   - Accounts are opened before use and closed accounts are not used
//   - Accounts only hold their open-declared currencies
//   - Balance assertions match actual inventory balances
//   - Pad directives correctly balance accounts
//   - Lot reductions are satisfiable under the account's booking method
//
// The ledger tracks inventory using lot-based accounting. STRICT booking is
// the default: a reducing posting's cost spec must match exactly one lot.
// FIFO, LIFO, AVERAGE and NONE are selectable per account or globally. All
// monetary arithmetic uses decimal values; floats never appear on the
// balance path.
//
// Example usage:
//
//	tree, err := parser.ParseBytes(ctx, []byte(source))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	l := ledger.New()
//	if err := l.Process(ctx, tree); err != nil {
//	    var verr *ledger.ValidationErrors
//	    if errors.As(err, &verr) {
//	        for _, e := range verr.Errors {
//	            fmt.Println(e)
//	        }
//	    }
//	}
package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledgerkit/ledgerkit/ast"
	"github.com/ledgerkit/ledgerkit/telemetry"
	"github.com/shopspring/decimal"
)

// Ledger represents the state of the accounting ledger with account balances,
// transaction validation, and error tracking. It processes directives in date
// order and maintains the complete state of all accounts including their
// inventory positions.
//
// Directives are dispatched to per-kind handlers (handlers.go) which validate
// against a read-only view and return deltas; only validated deltas mutate
// state. Diagnostics split into errors and warnings: warnings (unused pads,
// duplicate prices, duplicate documents) are reported but never fail a run.
type Ledger struct {
	accounts    map[string]*Account
	commodities map[string]*ast.Commodity
	graph       *Graph      // account hierarchy and commodity/currency nodes
	prices      *PriceGraph // temporal price index with forward-fill lookup
	documents   *documentRegistry

	config          *Config
	toleranceConfig *ToleranceConfig

	errors   []error
	warnings []error

	padEntries map[string]*ast.Pad // account -> pending pad directive
	usedPads   map[string]bool     // account -> whether a balance consumed it

	// consumedPads records which (account, currency) pairs the pending pad
	// has already been spent on. The pad entry itself stays pending so one
	// pad can still back assertions in other currencies, but a later
	// balance on an already-consumed currency must not re-consume it.
	consumedPads map[string]map[string]bool

	declaredPrices        map[string]*ast.Price // "base|date" -> declaration
	syntheticTransactions []*ast.Transaction    // padding transactions to insert into the AST
}

// ValidationErrors wraps multiple validation errors
type ValidationErrors struct {
	Errors []error
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	// Show all errors plus summary
	var buf strings.Builder
	for i, err := range e.Errors {
		if i > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(err.Error())
	}
	buf.WriteString(fmt.Sprintf("\n\n%d validation error(s) found", len(e.Errors)))
	return buf.String()
}

// Unwrap returns the underlying errors for error unwrapping
func (e *ValidationErrors) Unwrap() []error {
	return e.Errors
}

// New creates a new empty ledger
func New() *Ledger {
	return &Ledger{
		accounts:        make(map[string]*Account),
		commodities:     make(map[string]*ast.Commodity),
		graph:           NewGraph(),
		prices:          NewPriceGraph(),
		documents:       newDocumentRegistry(),
		toleranceConfig: NewToleranceConfig(),
		padEntries:      make(map[string]*ast.Pad),
		usedPads:        make(map[string]bool),
		consumedPads:    make(map[string]map[string]bool),
		declaredPrices:  make(map[string]*ast.Price),
	}
}

// GetAccountTypeFromName converts an account type name to its enum value.
// Returns ("", false) if the name doesn't match any configured account type.
func (l *Ledger) GetAccountTypeFromName(name string) (AccountType, bool) {
	cfg := l.config
	if cfg == nil {
		cfg = NewConfig()
	}
	return cfg.GetAccountTypeFromName(name)
}

// Process processes an AST and builds the ledger state
func (l *Ledger) Process(ctx context.Context, tree *ast.AST) error {
	collector := telemetry.FromContext(ctx)

	// Enrich AST with semantic information (currencies, accounts)
	enriched := tree.Enrich()

	// Pre-populate graph with currency nodes (they're not explicitly opened)
	// Account nodes are created by Open directives with full metadata
	for currency := range enriched.Currencies {
		l.graph.AddNode(currency, "currency", nil)
	}

	// Parse configuration from AST options
	cfg, err := configFromAST(tree)
	if err != nil {
		l.errors = append(l.errors, err)
		cfg = NewConfig() // Use defaults if parsing fails
	}
	l.config = cfg
	l.toleranceConfig = cfg.Tolerance
	ctx = cfg.WithContext(ctx)

	// The parser already sorts, but callers can hand over hand-built or
	// plugin-transformed trees; the time-ordered walk below depends on
	// sorted input, so re-assert it. The stable sort keeps source order as
	// the tie-break, and every directive still carries its original
	// position for diagnostics.
	_ = ast.SortDirectives(tree)

	// Process directives in order
	processTimer := collector.StartStructured(telemetry.TimerConfig{
		Name:  "ledger.processing",
		Count: len(tree.Directives),
		Unit:  "directives",
	})

	for _, directive := range tree.Directives {
		select {
		case <-ctx.Done():
			processTimer.End()
			return ctx.Err()
		default:
		}

		l.processDirective(ctx, directive)
	}

	processTimer.End()

	// Insert synthetic padding transactions into the AST. Their inventory
	// effect was already applied when the balance assertion consumed the
	// pad; insertion here is only about making them visible in the stream.
	if len(l.syntheticTransactions) > 0 {
		insertTimer := collector.StartStructured(telemetry.TimerConfig{
			Name:  "ledger.synthetic_txn_insertion",
			Count: len(l.syntheticTransactions),
			Unit:  "transactions",
		})

		for _, txn := range l.syntheticTransactions {
			tree.Directives = append(tree.Directives, txn)
		}

		// Re-sort to maintain chronological order
		_ = ast.SortDirectives(tree)

		insertTimer.End()
	}

	// A pad that no balance assertion ever consumed is suspicious, but it
	// doesn't invalidate the ledger; report it as a warning.
	for accountName, pad := range l.padEntries {
		if !l.usedPads[accountName] {
			l.warnings = append(l.warnings, NewUnusedPadWarning(pad))
		}
	}

	if len(l.errors) > 0 {
		return &ValidationErrors{Errors: l.errors}
	}

	return nil
}

// MustProcess processes an AST, panicking on validation errors.
// Intended for use in tests and examples where error handling is not needed.
func (l *Ledger) MustProcess(ctx context.Context, tree *ast.AST) {
	if err := l.Process(ctx, tree); err != nil {
		panic(err)
	}
}

// Errors returns all collected errors
func (l *Ledger) Errors() []error {
	return l.errors
}

// Warnings returns all collected warning-level diagnostics.
func (l *Ledger) Warnings() []error {
	return l.warnings
}

// GetAccount returns an account by name
func (l *Ledger) GetAccount(name string) (*Account, bool) {
	acc, ok := l.accounts[name]
	return acc, ok
}

// Accounts returns all accounts in the ledger, keyed by name.
func (l *Ledger) Accounts() map[string]*Account {
	return l.accounts
}

// AccountBalance returns a deterministic multi-currency view of one
// account's inventory, with currencies in lexicographic order.
func (l *Ledger) AccountBalance(name string) (*Balance, bool) {
	acc, ok := l.accounts[name]
	if !ok {
		return nil, false
	}
	return NewBalanceFromMap(acc.GetBalance()), true
}

// Commodities returns the declared commodities, keyed by currency code.
func (l *Ledger) Commodities() map[string]*ast.Commodity {
	return l.commodities
}

// GetPrice returns the exchange rate from one currency to another at a given
// date, using forward-fill semantics (most recent price on or before the
// date). Same-currency conversions always return 1.0.
func (l *Ledger) GetPrice(date *ast.Date, fromCurrency, toCurrency string) (decimal.Decimal, bool) {
	return l.prices.LookupPrice(date, fromCurrency, toCurrency)
}

// Graph returns the underlying graph for advanced queries.
func (l *Ledger) Graph() *Graph {
	return l.graph
}

// processDirective validates and applies a single directive.
func (l *Ledger) processDirective(ctx context.Context, directive ast.Directive) {
	handler := GetHandler(directive.Kind())
	if handler == nil {
		// Unknown directive kind - ignore
		return
	}

	errs, delta := handler.Validate(ctx, l, directive)
	if len(errs) > 0 {
		for _, err := range errs {
			if IsWarning(err) {
				l.warnings = append(l.warnings, err)
			} else {
				l.errors = append(l.errors, err)
			}
		}
		return
	}

	handler.Apply(ctx, l, directive, delta)
}

// processOpen validates and applies a single open directive.
func (l *Ledger) processOpen(ctx context.Context, open *ast.Open) {
	l.processDirective(ctx, open)
}

// processPad validates and applies a single pad directive.
func (l *Ledger) processPad(ctx context.Context, pad *ast.Pad) {
	l.processDirective(ctx, pad)
}

// ApplyOpenDelta adds the pre-created account from a validated open directive.
func (l *Ledger) ApplyOpenDelta(delta *OpenDelta) {
	account := delta.Account
	accountName := string(account.Name)

	l.accounts[accountName] = account
	l.graph.AddNode(accountName, "account", account)
	l.ensureAccountHierarchy(accountName)
}

// ensureAccountHierarchy creates graph nodes and hierarchy edges for every
// ancestor of the account, so subtree queries can walk parent links even when
// the intermediate accounts were never explicitly opened.
func (l *Ledger) ensureAccountHierarchy(accountName string) {
	parts := strings.Split(accountName, ":")
	for i := 1; i < len(parts); i++ {
		parent := strings.Join(parts[:i], ":")
		child := strings.Join(parts[:i+1], ":")

		l.graph.AddNode(parent, "account_group", nil)
		l.graph.AddEdge(&Edge{
			From: parent,
			To:   child,
			Kind: "hierarchy",
		})
	}
}

// ApplyCloseDelta marks the account closed.
func (l *Ledger) ApplyCloseDelta(delta *CloseDelta) {
	if account, ok := l.accounts[delta.AccountName]; ok {
		account.CloseDate = delta.Close.Date
	}
}

// ApplyTransactionDelta applies a validated transaction's inventory changes.
func (l *Ledger) ApplyTransactionDelta(delta *TransactionDelta) {
	for _, change := range delta.InventoryChanges {
		account, ok := l.accounts[change.Account]
		if !ok {
			continue
		}

		switch change.Operation {
		case OpAdd:
			account.Inventory.AddLot(change.Currency, change.Amount, change.LotSpec)
		case OpReduce:
			bookingMethod := account.BookingMethod
			if bookingMethod == "" {
				bookingMethod = l.bookingMethod()
			}
			if err := account.Inventory.ReduceLot(change.Currency, change.Amount.Neg(), change.LotSpec, bookingMethod); err != nil {
				// The validator vets reductions before Apply; a failure here
				// means the inventory changed between the two phases.
				l.errors = append(l.errors, fmt.Errorf("inventory reduction failed for %s: %w", change.Account, err))
			}
		}
	}
}

// bookingMethod returns the global booking method option, defaulting to STRICT.
func (l *Ledger) bookingMethod() string {
	if l.config != nil && l.config.BookingMethod != "" {
		return l.config.BookingMethod
	}
	return DefaultBookingMethod
}

// ApplyBalanceDelta applies padding mutations from a validated balance
// assertion: the padded account and the pad source account absorb the
// difference, and the synthesized transaction is queued for insertion into
// the directive stream. The pad is marked consumed for the asserted
// currency; it stays pending only for currencies it has not yet served.
func (l *Ledger) ApplyBalanceDelta(delta *BalanceDelta) {
	for currency, difference := range delta.PaddingAdjustments {
		if account, ok := l.accounts[delta.AccountName]; ok {
			account.Inventory.Add(currency, difference)
		}
		if source, ok := l.accounts[delta.PadAccount]; ok {
			source.Inventory.Add(currency, difference.Neg())
		}
	}

	if delta.ShouldRemovePad {
		l.markPadConsumed(delta.AccountName, delta.Currency)
	}

	if delta.SyntheticTransaction != nil {
		l.syntheticTransactions = append(l.syntheticTransactions, delta.SyntheticTransaction)
	}
}

// markPadConsumed records that the pending pad for an account was spent on
// the given currency.
func (l *Ledger) markPadConsumed(account, currency string) {
	if l.consumedPads[account] == nil {
		l.consumedPads[account] = make(map[string]bool)
	}
	l.consumedPads[account][currency] = true
}

// padConsumed reports whether the pending pad for an account was already
// spent on the given currency.
func (l *Ledger) padConsumed(account, currency string) bool {
	return l.consumedPads[account][currency]
}

// applyPrice records a price declaration. The last declaration for a (base
// currency, date) pair wins; earlier ones are superseded with a warning.
func (l *Ledger) applyPrice(price *ast.Price) {
	rate, err := ParseAmount(price.Amount)
	if err != nil {
		return // rejected during validation
	}

	key := price.Commodity + "|" + price.Date.String()
	if _, exists := l.declaredPrices[key]; exists {
		l.warnings = append(l.warnings, NewPriceDuplicateWarning(price))
	}
	l.declaredPrices[key] = price

	if err := l.prices.AddPrice(price.Date, price.Commodity, price.Amount.Currency, rate); err != nil {
		l.errors = append(l.errors, NewInvalidPriceDirectiveError(price, err.Error()))
	}
}

// applyCommodity records a commodity declaration and upgrades (or creates)
// its graph node from a bare currency node to a commodity node carrying the
// declaration metadata.
func (l *Ledger) applyCommodity(delta *CommodityDelta) {
	l.commodities[delta.CommodityID] = delta.Commodity

	meta := &CommodityNode{
		ID:       delta.CommodityID,
		Date:     delta.Date,
		Metadata: delta.Metadata,
	}

	if node := l.graph.GetNode(delta.CommodityID); node != nil {
		node.Kind = "commodity"
		node.Meta = meta
		return
	}
	l.graph.AddNode(delta.CommodityID, "commodity", meta)
}

// CommodityNode is the graph metadata attached to a declared commodity.
type CommodityNode struct {
	ID       string
	Date     *ast.Date
	Metadata []*ast.Metadata
}
