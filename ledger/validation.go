package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ledgerkit/ledgerkit/ast"
	"github.com/shopspring/decimal"
)

// Validation Architecture
//
// The ledger uses a two-phase approach for processing directives:
//
// 1. Validation Phase (Pure Functions)
//   - Checks all business rules without side effects
//   - Uses the validator type with read-only access to ledger state
//   - Returns all errors found (doesn't short-circuit)
//   - Produces delta objects describing planned mutations
//
// 2. Mutation Phase (State Changes)
//   - Only executes if validation passes
//   - Applies deltas to update account state
//   - Can assume all inputs are valid
//
// Transactions flow through interpolation first (interpolate.go): missing
// posting amounts are completed against the per-currency residuals, costs are
// inferred for empty cost specs, and the residuals are checked against the
// inferred tolerance. The validator then re-derives and enforces everything
// the interpolator promised — lifecycle, currency constraints, lot booking —
// so a bug upstream can never smuggle an unbalanced transaction into the
// ledger state.

// validator provides directive validation with read-only access to ledger
// state. This is a separate type from Ledger to ensure validation cannot
// mutate state.
type validator struct {
	accounts        map[string]*Account
	padEntries      map[string]*ast.Pad
	toleranceConfig *ToleranceConfig
}

// newValidator creates a validator with a read-only view of the current ledger state.
func newValidator(accounts map[string]*Account, padEntries map[string]*ast.Pad, toleranceConfig *ToleranceConfig) *validator {
	return &validator{
		accounts:        accounts,
		padEntries:      padEntries,
		toleranceConfig: toleranceConfig,
	}
}

// postingClassification groups postings by how complete their amounts are,
// which decides the interpolation path each one takes.
type postingClassification struct {
	withAmounts      []*ast.Posting // complete units (number and currency)
	withoutAmounts   []*ast.Posting // no amount written at all
	currencyOnly     []*ast.Posting // currency written, number missing
	numberOnly       []*ast.Posting // number written, currency missing
	withEmptyCosts   []*ast.Posting // complete units with an empty cost spec {}
	withExplicitCost []*ast.Posting // complete units with a concrete cost
}

// classifyPostings categorizes postings for different processing paths.
func classifyPostings(postings []*ast.Posting) postingClassification {
	var pc postingClassification
	for _, posting := range postings {
		switch posting.Amount.Completeness() {
		case ast.AmountMissing:
			pc.withoutAmounts = append(pc.withoutAmounts, posting)
		case ast.AmountCurrencyOnly:
			pc.currencyOnly = append(pc.currencyOnly, posting)
		case ast.AmountNumberOnly:
			pc.numberOnly = append(pc.numberOnly, posting)
		case ast.AmountComplete:
			pc.withAmounts = append(pc.withAmounts, posting)

			if posting.Cost != nil && posting.Cost.IsEmpty() {
				pc.withEmptyCosts = append(pc.withEmptyCosts, posting)
			} else if posting.Cost != nil && !posting.Cost.IsEmpty() && !posting.Cost.IsMergeCost() {
				pc.withExplicitCost = append(pc.withExplicitCost, posting)
			}
		}
	}
	return pc
}

// validateAccountsOpen checks all posting accounts are open at the
// transaction date: each referenced account exists, was opened on or before
// the date, and was not closed before it.
func (v *validator) validateAccountsOpen(ctx context.Context, txn *ast.Transaction) []error {
	var errs []error
	for _, posting := range txn.Postings {
		accountName := string(posting.Account)
		acc, exists := v.accounts[accountName]
		if !exists {
			errs = append(errs, NewAccountNotOpenError(txn, posting.Account))
			continue
		}
		if !acc.IsOpen(txn.Date) {
			errs = append(errs, NewAccountNotOpenError(txn, posting.Account))
		}
	}
	return errs
}

// validateAmounts checks all complete amounts can be parsed. Incomplete
// amounts are the interpolator's concern, not an error here.
func (v *validator) validateAmounts(ctx context.Context, txn *ast.Transaction) []error {
	var errs []error
	for _, posting := range txn.Postings {
		if !posting.Amount.IsComplete() {
			continue
		}
		if _, err := ParseAmount(posting.Amount); err != nil {
			errs = append(errs, NewInvalidAmountError(txn, posting.Account, posting.Amount.Value, err))
		}
	}
	return errs
}

// validateCosts checks all cost specifications are valid: the amount parses,
// ParseLotSpec accepts the shape, a total cost {{T}} has an amount and a
// non-zero quantity to divide it by, and a stated date is not zero. Labels
// are not checked. Empty costs {} are accepted (automatic lot selection).
func (v *validator) validateCosts(ctx context.Context, txn *ast.Transaction) []error {
	var errs []error
	for i, posting := range txn.Postings {
		if posting.Cost == nil {
			continue
		}

		if posting.Cost.IsTotal && posting.Cost.Amount == nil {
			errs = append(errs, NewInvalidCostError(txn, posting.Account, i, "{{}}",
				fmt.Errorf("total cost requires an amount")))
			continue
		}

		if posting.Cost.IsEmpty() {
			continue
		}

		if posting.Cost.Amount != nil {
			if _, err := ParseAmount(posting.Cost.Amount); err != nil {
				costSpec := fmt.Sprintf("{%s %s}", posting.Cost.Amount.Value, posting.Cost.Amount.Currency)
				errs = append(errs, NewInvalidCostError(txn, posting.Account, i, costSpec, err))
			}
		}

		spec, err := ParseLotSpec(posting.Cost)
		if err == nil {
			// Converts a total cost to per-unit on the local spec only; the
			// posting is left as written.
			err = normalizeLotSpecForPosting(spec, posting)
		}
		if err != nil {
			costSpec := "{...}"
			if posting.Cost.Amount != nil {
				costSpec = fmt.Sprintf("{%s %s}", posting.Cost.Amount.Value, posting.Cost.Amount.Currency)
			}
			errs = append(errs, NewInvalidCostError(txn, posting.Account, i, costSpec, err))
		}

		if posting.Cost.Date != nil && posting.Cost.Date.IsZero() {
			costSpec := "{...}"
			if posting.Cost.Amount != nil {
				costSpec = fmt.Sprintf("{%s %s, ...}", posting.Cost.Amount.Value, posting.Cost.Amount.Currency)
			}
			errs = append(errs, NewInvalidCostError(txn, posting.Account, i, costSpec,
				fmt.Errorf("cost date cannot be zero")))
		}
	}
	return errs
}

// validatePrices checks all complete price annotations are parseable.
// Incomplete annotations ("@" with a missing part) are parser tolerance for
// files mid-edit; they contribute nothing and are skipped here.
func (v *validator) validatePrices(ctx context.Context, txn *ast.Transaction) []error {
	var errs []error
	for i, posting := range txn.Postings {
		if posting.Price == nil || !posting.Price.IsComplete() {
			continue
		}

		if _, err := ParseAmount(posting.Price); err != nil {
			priceSpec := fmt.Sprintf("@ %s %s", posting.Price.Value, posting.Price.Currency)
			if posting.PriceTotal {
				priceSpec = fmt.Sprintf("@@ %s %s", posting.Price.Value, posting.Price.Currency)
			}
			errs = append(errs, NewInvalidPriceError(txn, posting.Account, i, priceSpec, err))
		}
	}
	return errs
}

// validateMetadata checks metadata entries: no duplicate keys within a
// directive or posting, no empty string values.
func (v *validator) validateMetadata(ctx context.Context, txn *ast.Transaction) []error {
	var errs []error

	if len(txn.Metadata) > 0 {
		seen := make(map[string]bool)
		for _, meta := range txn.Metadata {
			if seen[meta.Key] {
				errs = append(errs, NewInvalidMetadataError(txn, "", meta.Key, meta.Value, "duplicate key"))
				continue
			}
			seen[meta.Key] = true

			if meta.Value != nil && meta.Value.StringValue != nil && *meta.Value.StringValue == "" {
				errs = append(errs, NewInvalidMetadataError(txn, "", meta.Key, meta.Value, "empty value"))
			}
		}
	}

	for _, posting := range txn.Postings {
		if len(posting.Metadata) == 0 {
			continue
		}
		seen := make(map[string]bool)
		for _, meta := range posting.Metadata {
			if seen[meta.Key] {
				errs = append(errs, NewInvalidMetadataError(txn, posting.Account, meta.Key, meta.Value, "duplicate key"))
				continue
			}
			seen[meta.Key] = true

			if meta.Value != nil && meta.Value.StringValue != nil && *meta.Value.StringValue == "" {
				errs = append(errs, NewInvalidMetadataError(txn, posting.Account, meta.Key, meta.Value, "empty value"))
			}
		}
	}

	return errs
}

// balanceValidation captures the outcome of interpolation for a transaction.
type balanceValidation struct {
	isBalanced bool
	residuals  map[string]decimal.Decimal
	failures   []error
}

// calculateBalance runs interpolation for a transaction: weights, amount and
// cost inference, and the tolerance check. Returns the mutation delta, the
// balance outcome, and any hard errors (unparseable amounts).
func (v *validator) calculateBalance(ctx context.Context, txn *ast.Transaction) (*TransactionDelta, *balanceValidation, []error) {
	result, errs := interpolate(txn, v.toleranceConfig)
	if len(errs) > 0 {
		return nil, nil, errs
	}

	delta := &TransactionDelta{
		Transaction:     txn,
		InferredAmounts: result.InferredAmounts,
		InferredCosts:   result.InferredCosts,
	}

	validation := &balanceValidation{
		isBalanced: result.balanced(),
		residuals:  result.Residuals,
		failures:   result.Failures,
	}

	return delta, validation, nil
}

// validateTransaction runs all validation checks on a transaction.
//
// Validation steps (in order):
//  1. validateAccountsOpen - accounts exist and are open
//  2. validateAmounts - complete amounts are parseable
//  3. validateCosts - cost specifications are valid
//  4. validatePrices - price annotations are valid
//  5. validateMetadata - metadata entries are valid
//  6. calculateBalance - interpolation, inference, tolerance check
//  7. validateConstraintCurrencies - currency restrictions (after inference)
//  8. validateInventoryOperations - lot reductions are bookable
//
// Validation does NOT short-circuit on first error within a step: it collects
// everything it can so the user gets comprehensive feedback.
func (v *validator) validateTransaction(ctx context.Context, txn *ast.Transaction) ([]error, *TransactionDelta) {
	var allErrors []error

	allErrors = append(allErrors, v.validateAccountsOpen(ctx, txn)...)
	allErrors = append(allErrors, v.validateAmounts(ctx, txn)...)
	allErrors = append(allErrors, v.validateCosts(ctx, txn)...)
	allErrors = append(allErrors, v.validatePrices(ctx, txn)...)
	allErrors = append(allErrors, v.validateMetadata(ctx, txn)...)

	if len(allErrors) > 0 {
		return allErrors, nil
	}

	delta, validation, errs := v.calculateBalance(ctx, txn)
	if len(errs) > 0 {
		return errs, nil
	}

	if !validation.isBalanced {
		if len(validation.failures) > 0 {
			allErrors = append(allErrors, validation.failures...)
		}
		if len(validation.residuals) > 0 {
			residualStrings := make(map[string]string, len(validation.residuals))
			for currency, amount := range validation.residuals {
				residualStrings[currency] = amount.String()
			}
			allErrors = append(allErrors, NewTransactionNotBalancedError(txn, residualStrings))
		}
		return allErrors, nil
	}

	if errs := v.validateConstraintCurrencies(ctx, txn, delta); len(errs) > 0 {
		allErrors = append(allErrors, errs...)
	}

	if errs := v.validateInventoryOperations(ctx, txn, delta); len(errs) > 0 {
		allErrors = append(allErrors, errs...)
	}

	if len(allErrors) > 0 {
		return allErrors, nil
	}

	if errs := v.buildInventoryChanges(txn, delta); len(errs) > 0 {
		return errs, nil
	}

	return nil, delta
}

// buildInventoryChanges translates the transaction's postings (with inferred
// values substituted) into the explicit inventory mutations Apply will make.
func (v *validator) buildInventoryChanges(txn *ast.Transaction, delta *TransactionDelta) []error {
	var errs []error

	for _, posting := range txn.Postings {
		amountAST := v.effectiveAmount(posting, delta)
		if amountAST == nil {
			continue
		}

		amount, err := ParseAmount(amountAST)
		if err != nil {
			errs = append(errs, NewInvalidAmountError(txn, posting.Account, amountAST.Value, err))
			continue
		}

		spec, err := v.effectiveLotSpec(posting, delta)
		if err != nil {
			errs = append(errs, NewInvalidCostError(txn, posting.Account, 0, "{...}", err))
			continue
		}

		change := InventoryChange{
			Account:  string(posting.Account),
			Currency: amountAST.Currency,
			LotSpec:  spec,
		}
		if amount.IsNegative() {
			change.Operation = OpReduce
			change.Amount = amount.Neg()
		} else {
			change.Operation = OpAdd
			change.Amount = amount
		}

		delta.InventoryChanges = append(delta.InventoryChanges, change)
	}

	return errs
}

// effectiveAmount returns the posting's units after inference, or nil when
// even interpolation left it without units.
func (v *validator) effectiveAmount(posting *ast.Posting, delta *TransactionDelta) *ast.Amount {
	if posting.Amount.IsComplete() {
		return posting.Amount
	}
	if inferred, ok := delta.InferredAmounts[posting]; ok {
		return inferred
	}
	return nil
}

// effectiveLotSpec resolves the posting's lot spec: a concrete cost becomes a
// per-unit spec (total costs are divided by the quantity), an empty cost on
// an augmentation uses the inferred cost, and an empty cost on a reduction
// stays empty so booking resolves the lot.
func (v *validator) effectiveLotSpec(posting *ast.Posting, delta *TransactionDelta) (*lotSpec, error) {
	if posting.Cost == nil {
		return nil, nil
	}

	if posting.Cost.IsEmpty() {
		if inferred, ok := delta.InferredCosts[posting]; ok {
			cost, err := ParseAmount(inferred)
			if err != nil {
				return nil, err
			}
			return &lotSpec{Cost: &cost, CostCurrency: inferred.Currency}, nil
		}
		return &lotSpec{}, nil
	}

	spec, err := ParseLotSpec(posting.Cost)
	if err != nil {
		return nil, err
	}
	if err := normalizeLotSpecForPosting(spec, posting); err != nil {
		return nil, err
	}
	return spec, nil
}

// validateBalance checks a balance assertion: the account is open, the amount
// parses, and — consulting any pending pad for the account — the asserted
// balance holds within tolerance. The returned delta carries the padding
// mutations when a pad absorbs the difference.
func (v *validator) validateBalance(ctx context.Context, balance *ast.Balance) ([]error, *BalanceDelta) {
	accountName := string(balance.Account)
	acc, exists := v.accounts[accountName]
	if !exists || !acc.IsOpen(balance.Date) {
		return []error{NewAccountNotOpenErrorFromBalance(balance)}, nil
	}

	if _, err := ParseAmount(balance.Amount); err != nil {
		return []error{NewInvalidAmountErrorFromBalance(balance, err)}, nil
	}

	var padEntry *ast.Pad
	if v.padEntries != nil {
		padEntry = v.padEntries[accountName]
	}

	delta, err := v.calculateBalanceDelta(ctx, balance, padEntry)
	if err != nil {
		return []error{err}, nil
	}

	return nil, delta
}

// validatePad checks a pad directive: both accounts must be open at the
// pad's date. A later pad for the same account silently replaces the pending
// one; only the last pad before the balance assertion applies.
func (v *validator) validatePad(ctx context.Context, pad *ast.Pad) ([]error, *PadDelta) {
	var errs []error

	if !v.isAccountOpen(pad.Account, pad.Date) {
		errs = append(errs, NewAccountNotOpenErrorFromPad(pad, pad.Account))
	}

	if !v.isAccountOpen(pad.AccountPad, pad.Date) {
		errs = append(errs, NewAccountNotOpenErrorFromPad(pad, pad.AccountPad))
	}

	if len(errs) > 0 {
		return errs, nil
	}

	return nil, &PadDelta{Pad: pad, AccountName: string(pad.Account)}
}

// validateNote checks the note's account is open and its text is non-empty.
func (v *validator) validateNote(ctx context.Context, note *ast.Note) []error {
	var errs []error

	if !v.isAccountOpen(note.Account, note.Date) {
		errs = append(errs, NewAccountNotOpenErrorFromNote(note))
	}

	if note.Description.Value == "" {
		errs = append(errs, fmt.Errorf("note description cannot be empty"))
	}

	return errs
}

// validateDocument checks the document's account is open and its path is
// non-empty.
func (v *validator) validateDocument(ctx context.Context, doc *ast.Document) []error {
	var errs []error

	if !v.isAccountOpen(doc.Account, doc.Date) {
		errs = append(errs, NewAccountNotOpenErrorFromDocument(doc))
	}

	if doc.PathToDocument.Value == "" {
		errs = append(errs, fmt.Errorf("document path cannot be empty"))
	}

	return errs
}

// isAccountOpen checks if an account is open at the given date.
func (v *validator) isAccountOpen(account ast.Account, date *ast.Date) bool {
	acc, ok := v.accounts[string(account)]
	if !ok {
		return false
	}
	return acc.IsOpen(date)
}

// validateOpen validates an open directive. Duplicate opens are errors;
// reopening a closed account is also a duplicate. Metadata and constraint
// currencies are copied so the account never shares backing arrays with the
// AST.
func (v *validator) validateOpen(ctx context.Context, open *ast.Open) ([]error, *OpenDelta) {
	accountName := string(open.Account)

	if existing, ok := v.accounts[accountName]; ok {
		return []error{NewAccountAlreadyOpenError(open, existing.OpenDate)}, nil
	}

	metadataCopy := make([]*ast.Metadata, len(open.Metadata))
	copy(metadataCopy, open.Metadata)

	constraintCurrenciesCopy := make([]string, len(open.ConstraintCurrencies))
	copy(constraintCurrenciesCopy, open.ConstraintCurrencies)

	account := &Account{
		Name:                 open.Account,
		Type:                 ParseAccountType(open.Account),
		OpenDate:             open.Date,
		ConstraintCurrencies: constraintCurrenciesCopy,
		BookingMethod:        open.BookingMethod,
		Metadata:             metadataCopy,
		Inventory:            NewInventory(),
	}

	delta := &OpenDelta{
		Open:                 open,
		Account:              account,
		Metadata:             metadataCopy,
		ConstraintCurrencies: constraintCurrenciesCopy,
	}

	return nil, delta
}

// validateClose validates a close directive: the account must exist and must
// not already be closed.
func (v *validator) validateClose(ctx context.Context, close *ast.Close) ([]error, *CloseDelta) {
	accountName := string(close.Account)

	account, ok := v.accounts[accountName]
	if !ok {
		return []error{NewAccountNotClosedError(close)}, nil
	}

	if account.IsClosed() {
		return []error{NewAccountAlreadyClosedError(close, account.CloseDate)}, nil
	}

	return nil, &CloseDelta{Close: close, AccountName: accountName}
}

// validateInventoryOperations validates that every lot reduction the
// transaction performs can be satisfied by the account's current holdings
// under its booking method. Both explicit and inferred amounts are checked;
// must run after inference.
func (v *validator) validateInventoryOperations(ctx context.Context,
	txn *ast.Transaction,
	delta *TransactionDelta) []error {

	var errs []error

	for _, posting := range txn.Postings {
		amountAST := v.effectiveAmount(posting, delta)
		if amountAST == nil {
			continue
		}

		amount, _ := ParseAmount(amountAST)
		currency := amountAST.Currency

		if posting.Cost == nil || !amount.IsNegative() {
			continue
		}

		account, ok := v.accounts[string(posting.Account)]
		if !ok {
			continue // reported by validateAccountsOpen
		}

		spec, err := ParseLotSpec(posting.Cost)
		if err != nil {
			continue // reported by validateCosts
		}
		if err := normalizeLotSpecForPosting(spec, posting); err != nil {
			continue
		}

		bookingMethod := account.BookingMethod
		if bookingMethod == "" {
			bookingMethod = ConfigFromContext(ctx).BookingMethod
		}
		if bookingMethod == "" {
			bookingMethod = DefaultBookingMethod
		}

		if err := account.Inventory.CanReduceLot(currency, amount, spec, bookingMethod); err != nil {
			var noMatch *noMatchingLotError
			var ambiguous *ambiguousLotError
			switch {
			case errors.As(err, &noMatch):
				errs = append(errs, NewNoMatchingLotError(txn, posting.Account, currency, noMatch.spec))
			case errors.As(err, &ambiguous):
				errs = append(errs, NewAmbiguousLotError(txn, posting.Account, currency, ambiguous.spec, ambiguous.matches))
			default:
				errs = append(errs, NewInsufficientInventoryError(txn, posting.Account, err))
			}
		}
	}

	return errs
}

// validateConstraintCurrencies validates that postings only use currencies
// allowed by the account's open-declared constraints. Both explicit and
// inferred amounts are checked; must run after inference.
func (v *validator) validateConstraintCurrencies(ctx context.Context,
	txn *ast.Transaction,
	delta *TransactionDelta) []error {

	var errs []error

	for _, posting := range txn.Postings {
		account, ok := v.accounts[string(posting.Account)]
		if !ok {
			continue // reported by validateAccountsOpen
		}

		if len(account.ConstraintCurrencies) == 0 {
			continue
		}

		amountAST := v.effectiveAmount(posting, delta)
		if amountAST == nil {
			continue
		}
		currency := amountAST.Currency

		allowed := false
		for _, c := range account.ConstraintCurrencies {
			if c == currency {
				allowed = true
				break
			}
		}
		if !allowed {
			errs = append(errs, NewCurrencyConstraintError(
				txn, posting.Account, currency, account.ConstraintCurrencies))
		}
	}

	return errs
}
