package ledger

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ledgerkit/ledgerkit/ast"
	"github.com/ledgerkit/ledgerkit/formatter"
)

// Error types for ledger validation errors.
//
// Every error carries the source position of the offending directive (when
// known), its date, and whatever context makes the failure actionable. The
// Warning marker distinguishes diagnostics that are reported but do not fail
// a check run: only non-warnings contribute to a non-zero exit code.

// Warning marks a diagnostic as non-fatal. Warnings are printed alongside
// errors but never fail validation on their own.
type Warning interface {
	error
	IsWarning() bool
}

// IsWarning reports whether err is a warning-level diagnostic.
func IsWarning(err error) bool {
	w, ok := err.(Warning)
	return ok && w.IsWarning()
}

// location renders a "filename:line" prefix, falling back to the directive's
// date when no source position is available (e.g. programmatically built
// directives).
func location(pos ast.Position, date *ast.Date) string {
	if pos.Filename == "" {
		if date != nil {
			return date.Format("2006-01-02")
		}
		return "<unknown>"
	}
	return fmt.Sprintf("%s:%d", pos.Filename, pos.Line)
}

// formatDirectiveContext renders the offending directive indented under the
// error message, bean-check style.
func formatDirectiveContext(d ast.Directive, f *formatter.Formatter, buf *bytes.Buffer) {
	if d == nil {
		return
	}

	if txn, ok := d.(*ast.Transaction); ok {
		txnFormatter := formatter.New()
		if f != nil && f.CurrencyColumn > 0 {
			txnFormatter = formatter.New(formatter.WithCurrencyColumn(f.CurrencyColumn))
		}

		var txnBuf bytes.Buffer
		if err := txnFormatter.FormatTransaction(txn, &txnBuf); err == nil {
			lines := bytes.Split(txnBuf.Bytes(), []byte("\n"))
			for _, line := range lines {
				if len(line) > 0 {
					buf.WriteString("   ")
					buf.Write(line)
					buf.WriteByte('\n')
				}
			}
		}
		return
	}

	buf.WriteString("   ")
	switch dir := d.(type) {
	case *ast.Balance:
		fmt.Fprintf(buf, "%s balance %s", dir.Date.Format("2006-01-02"), dir.Account)
		if dir.Amount != nil {
			fmt.Fprintf(buf, "  %s %s", dir.Amount.Value, dir.Amount.Currency)
		}
	case *ast.Pad:
		fmt.Fprintf(buf, "%s pad %s %s", dir.Date.Format("2006-01-02"), dir.Account, dir.AccountPad)
	case *ast.Note:
		fmt.Fprintf(buf, "%s note %s %q", dir.Date.Format("2006-01-02"), dir.Account, dir.Description.Value)
	case *ast.Document:
		fmt.Fprintf(buf, "%s document %s %q", dir.Date.Format("2006-01-02"), dir.Account, dir.PathToDocument.Value)
	case *ast.Open:
		fmt.Fprintf(buf, "%s open %s", dir.Date.Format("2006-01-02"), dir.Account)
	case *ast.Close:
		fmt.Fprintf(buf, "%s close %s", dir.Date.Format("2006-01-02"), dir.Account)
	}
	buf.WriteByte('\n')
}

// AccountNotOpenError is returned when a directive references an account that
// hasn't been opened (or was closed before the directive's date).
type AccountNotOpenError struct {
	Account   ast.Account
	Date      *ast.Date
	Pos       ast.Position
	Directive ast.Directive
}

// NewAccountNotOpenError reports a transaction posting to an unopened account.
func NewAccountNotOpenError(txn *ast.Transaction, account ast.Account) *AccountNotOpenError {
	return &AccountNotOpenError{
		Account:   account,
		Date:      txn.Date,
		Pos:       txn.Pos,
		Directive: txn,
	}
}

// NewAccountNotOpenErrorFromBalance reports a balance assertion against an
// unopened account.
func NewAccountNotOpenErrorFromBalance(balance *ast.Balance) *AccountNotOpenError {
	return &AccountNotOpenError{
		Account:   balance.Account,
		Date:      balance.Date,
		Pos:       balance.Pos,
		Directive: balance,
	}
}

// NewAccountNotOpenErrorFromPad reports a pad naming an unopened account.
func NewAccountNotOpenErrorFromPad(pad *ast.Pad, account ast.Account) *AccountNotOpenError {
	return &AccountNotOpenError{
		Account:   account,
		Date:      pad.Date,
		Pos:       pad.Pos,
		Directive: pad,
	}
}

// NewAccountNotOpenErrorFromNote reports a note on an unopened account.
func NewAccountNotOpenErrorFromNote(note *ast.Note) *AccountNotOpenError {
	return &AccountNotOpenError{
		Account:   note.Account,
		Date:      note.Date,
		Pos:       note.Pos,
		Directive: note,
	}
}

// NewAccountNotOpenErrorFromDocument reports a document on an unopened account.
func NewAccountNotOpenErrorFromDocument(doc *ast.Document) *AccountNotOpenError {
	return &AccountNotOpenError{
		Account:   doc.Account,
		Date:      doc.Date,
		Pos:       doc.Pos,
		Directive: doc,
	}
}

func (e *AccountNotOpenError) Error() string {
	return fmt.Sprintf("%s: Invalid reference to unknown account '%s'", location(e.Pos, e.Date), e.Account)
}

// FormatWithContext formats the full error message including the directive context.
// This produces output similar to bean-check, showing the complete directive.
func (e *AccountNotOpenError) FormatWithContext(f *formatter.Formatter) string {
	var buf bytes.Buffer
	buf.WriteString(e.Error())
	buf.WriteString("\n\n")
	formatDirectiveContext(e.Directive, f, &buf)
	return buf.String()
}

// AccountAlreadyOpenError is returned when trying to open an account that's
// already open. Reopening a closed account is also a duplicate open.
type AccountAlreadyOpenError struct {
	Account    ast.Account
	Date       *ast.Date
	OpenedDate *ast.Date
	Pos        ast.Position
}

// NewAccountAlreadyOpenError reports a duplicate open directive.
func NewAccountAlreadyOpenError(open *ast.Open, openedDate *ast.Date) *AccountAlreadyOpenError {
	return &AccountAlreadyOpenError{
		Account:    open.Account,
		Date:       open.Date,
		OpenedDate: openedDate,
		Pos:        open.Pos,
	}
}

func (e *AccountAlreadyOpenError) Error() string {
	return fmt.Sprintf("%s: Account %s is already open (opened on %s)",
		location(e.Pos, e.Date), e.Account, e.OpenedDate.Format("2006-01-02"))
}

// AccountAlreadyClosedError is returned when trying to use or close an account
// that's already closed.
type AccountAlreadyClosedError struct {
	Account    ast.Account
	Date       *ast.Date
	ClosedDate *ast.Date
	Pos        ast.Position
}

// NewAccountAlreadyClosedError reports a close of an already-closed account.
func NewAccountAlreadyClosedError(close *ast.Close, closedDate *ast.Date) *AccountAlreadyClosedError {
	return &AccountAlreadyClosedError{
		Account:    close.Account,
		Date:       close.Date,
		ClosedDate: closedDate,
		Pos:        close.Pos,
	}
}

func (e *AccountAlreadyClosedError) Error() string {
	return fmt.Sprintf("%s: Account %s is already closed (closed on %s)",
		location(e.Pos, e.Date), e.Account, e.ClosedDate.Format("2006-01-02"))
}

// AccountNotClosedError is returned when trying to close an account that was
// never opened.
type AccountNotClosedError struct {
	Account ast.Account
	Date    *ast.Date
	Pos     ast.Position
}

// NewAccountNotClosedError reports a close of an account that never existed.
func NewAccountNotClosedError(close *ast.Close) *AccountNotClosedError {
	return &AccountNotClosedError{
		Account: close.Account,
		Date:    close.Date,
		Pos:     close.Pos,
	}
}

func (e *AccountNotClosedError) Error() string {
	return fmt.Sprintf("%s: Cannot close account %s that was never opened",
		location(e.Pos, e.Date), e.Account)
}

// DuplicateCommodityError is returned when a currency is declared by more
// than one commodity directive. The first declaration remains authoritative.
type DuplicateCommodityError struct {
	Currency     string
	Date         *ast.Date
	DeclaredDate *ast.Date
	Pos          ast.Position
}

// NewDuplicateCommodityError reports a repeat commodity declaration.
func NewDuplicateCommodityError(commodity *ast.Commodity, declared *ast.Commodity) *DuplicateCommodityError {
	return &DuplicateCommodityError{
		Currency:     commodity.Currency,
		Date:         commodity.Date,
		DeclaredDate: declared.Date,
		Pos:          commodity.Pos,
	}
}

func (e *DuplicateCommodityError) Error() string {
	return fmt.Sprintf("%s: Commodity %s is already declared (declared on %s)",
		location(e.Pos, e.Date), e.Currency, e.DeclaredDate.Format("2006-01-02"))
}

// TransactionNotBalancedError is returned when a transaction's per-currency
// residuals exceed tolerance after interpolation.
type TransactionNotBalancedError struct {
	Pos         ast.Position
	Date        *ast.Date
	Narration   string
	Residuals   map[string]string // currency -> residual amount string
	Transaction *ast.Transaction
}

// NewTransactionNotBalancedError reports an unbalanced transaction with its
// per-currency residuals.
func NewTransactionNotBalancedError(txn *ast.Transaction, residuals map[string]string) *TransactionNotBalancedError {
	return &TransactionNotBalancedError{
		Pos:         txn.Pos,
		Date:        txn.Date,
		Narration:   txn.Narration.Value,
		Residuals:   residuals,
		Transaction: txn,
	}
}

func (e *TransactionNotBalancedError) Error() string {
	return fmt.Sprintf("%s: Transaction does not balance: %s", location(e.Pos, e.Date), e.formatResiduals())
}

// formatResiduals formats the residual amounts in a consistent order.
func (e *TransactionNotBalancedError) formatResiduals() string {
	if len(e.Residuals) == 0 {
		return ""
	}

	currencies := make([]string, 0, len(e.Residuals))
	for currency := range e.Residuals {
		currencies = append(currencies, currency)
	}
	sort.Strings(currencies)

	result := "("
	for i, currency := range currencies {
		if i > 0 {
			result += ", "
		}
		result += fmt.Sprintf("%s %s", e.Residuals[currency], currency)
	}
	result += ")"

	return result
}

// FormatWithContext formats the full error message including the transaction context.
func (e *TransactionNotBalancedError) FormatWithContext(f *formatter.Formatter) string {
	var buf bytes.Buffer
	buf.WriteString(e.Error())
	buf.WriteString("\n\n")
	formatDirectiveContext(e.Transaction, f, &buf)
	return buf.String()
}

// MultipleMissingError is returned when interpolation finds two or more
// postings missing a number in the same currency; the transaction cannot be
// completed unambiguously.
type MultipleMissingError struct {
	Pos         ast.Position
	Date        *ast.Date
	Currency    string
	Transaction *ast.Transaction
}

// NewMultipleMissingError reports multiple un-inferable postings in one currency.
func NewMultipleMissingError(txn *ast.Transaction, currency string) *MultipleMissingError {
	return &MultipleMissingError{
		Pos:         txn.Pos,
		Date:        txn.Date,
		Currency:    currency,
		Transaction: txn,
	}
}

func (e *MultipleMissingError) Error() string {
	return fmt.Sprintf("%s: Cannot interpolate: multiple postings are missing an amount in %s",
		location(e.Pos, e.Date), e.Currency)
}

// CannotInferCurrencyError is returned when a posting omits both number and
// currency and no residual currency remains to assign it to.
type CannotInferCurrencyError struct {
	Pos         ast.Position
	Date        *ast.Date
	Account     ast.Account
	Transaction *ast.Transaction
}

// NewCannotInferCurrencyError reports an unassignable fully-missing posting.
func NewCannotInferCurrencyError(txn *ast.Transaction, account ast.Account) *CannotInferCurrencyError {
	return &CannotInferCurrencyError{
		Pos:         txn.Pos,
		Date:        txn.Date,
		Account:     account,
		Transaction: txn,
	}
}

func (e *CannotInferCurrencyError) Error() string {
	return fmt.Sprintf("%s: Cannot interpolate: no currency can be inferred for posting to %s",
		location(e.Pos, e.Date), e.Account)
}

// InvalidAmountError is returned when an amount cannot be parsed.
type InvalidAmountError struct {
	Date       *ast.Date
	Account    ast.Account
	Value      string
	Underlying error
}

// NewInvalidAmountError reports an unparseable posting amount.
func NewInvalidAmountError(txn *ast.Transaction, account ast.Account, value string, err error) *InvalidAmountError {
	return &InvalidAmountError{
		Date:       txn.Date,
		Account:    account,
		Value:      value,
		Underlying: err,
	}
}

// NewInvalidAmountErrorFromBalance reports an unparseable balance amount.
func NewInvalidAmountErrorFromBalance(balance *ast.Balance, err error) *InvalidAmountError {
	value := ""
	if balance.Amount != nil {
		value = balance.Amount.Value
	}
	return &InvalidAmountError{
		Date:       balance.Date,
		Account:    balance.Account,
		Value:      value,
		Underlying: err,
	}
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("%s: Invalid amount %q for account %s: %v",
		e.Date.Format("2006-01-02"), e.Value, e.Account, e.Underlying)
}

// InvalidCostError is returned when a cost specification is invalid.
type InvalidCostError struct {
	Date         *ast.Date
	Account      ast.Account
	PostingIndex int
	CostSpec     string
	Underlying   error
}

// NewInvalidCostError reports an invalid cost specification on a posting.
func NewInvalidCostError(txn *ast.Transaction, account ast.Account, index int, costSpec string, err error) *InvalidCostError {
	return &InvalidCostError{
		Date:         txn.Date,
		Account:      account,
		PostingIndex: index,
		CostSpec:     costSpec,
		Underlying:   err,
	}
}

func (e *InvalidCostError) Error() string {
	return fmt.Sprintf("%s: Invalid cost specification (Posting #%d: %s): %s: %v",
		e.Date.Format("2006-01-02"), e.PostingIndex+1, e.Account, e.CostSpec, e.Underlying)
}

// InvalidPriceError is returned when a price annotation is invalid.
type InvalidPriceError struct {
	Date         *ast.Date
	Account      ast.Account
	PostingIndex int
	PriceSpec    string
	Underlying   error
}

// NewInvalidPriceError reports an invalid price annotation on a posting.
func NewInvalidPriceError(txn *ast.Transaction, account ast.Account, index int, priceSpec string, err error) *InvalidPriceError {
	return &InvalidPriceError{
		Date:         txn.Date,
		Account:      account,
		PostingIndex: index,
		PriceSpec:    priceSpec,
		Underlying:   err,
	}
}

func (e *InvalidPriceError) Error() string {
	return fmt.Sprintf("%s: Invalid price specification (Posting #%d: %s): %s: %v",
		e.Date.Format("2006-01-02"), e.PostingIndex+1, e.Account, e.PriceSpec, e.Underlying)
}

// InvalidMetadataError is returned for duplicate or empty metadata entries.
type InvalidMetadataError struct {
	Date    *ast.Date
	Account ast.Account // empty for directive-level metadata
	Key     string
	Reason  string
}

// NewInvalidMetadataError reports a bad metadata entry. The account is empty
// for transaction-level metadata.
func NewInvalidMetadataError(txn *ast.Transaction, account ast.Account, key string, value *ast.MetadataValue, reason string) *InvalidMetadataError {
	return &InvalidMetadataError{
		Date:    txn.Date,
		Account: account,
		Key:     key,
		Reason:  reason,
	}
}

func (e *InvalidMetadataError) Error() string {
	if e.Account != "" {
		return fmt.Sprintf("%s: Invalid metadata (account %s): key=%q: %s",
			e.Date.Format("2006-01-02"), e.Account, e.Key, e.Reason)
	}
	return fmt.Sprintf("%s: Invalid metadata: key=%q: %s",
		e.Date.Format("2006-01-02"), e.Key, e.Reason)
}

// BalanceMismatchError is returned when a balance assertion fails.
type BalanceMismatchError struct {
	Date     *ast.Date
	Account  ast.Account
	Expected string
	Actual   string
	Currency string
	Pos      ast.Position
}

// NewBalanceMismatchError reports a failed balance assertion.
func NewBalanceMismatchError(balance *ast.Balance, expected, actual, currency string) *BalanceMismatchError {
	return &BalanceMismatchError{
		Date:     balance.Date,
		Account:  balance.Account,
		Expected: expected,
		Actual:   actual,
		Currency: currency,
		Pos:      balance.Pos,
	}
}

func (e *BalanceMismatchError) Error() string {
	return fmt.Sprintf("%s: Balance mismatch for %s:\n  Expected: %s %s\n  Actual:   %s %s",
		location(e.Pos, e.Date), e.Account,
		e.Expected, e.Currency,
		e.Actual, e.Currency)
}

// InsufficientInventoryError is returned when a lot reduction cannot be
// satisfied by the account's holdings.
type InsufficientInventoryError struct {
	Date      *ast.Date
	Pos       ast.Position
	Payee     string
	Account   ast.Account
	Details   error
	Directive ast.Directive
}

// NewInsufficientInventoryError reports a reduction the inventory cannot satisfy.
func NewInsufficientInventoryError(txn *ast.Transaction, account ast.Account, details error) *InsufficientInventoryError {
	return &InsufficientInventoryError{
		Date:      txn.Date,
		Pos:       txn.Pos,
		Payee:     txn.Payee.Value,
		Account:   account,
		Details:   details,
		Directive: txn,
	}
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("%s: Insufficient inventory for %s: %v",
		location(e.Pos, e.Date), e.Account, e.Details)
}

func (e *InsufficientInventoryError) GetDate() *ast.Date           { return e.Date }
func (e *InsufficientInventoryError) GetPosition() ast.Position    { return e.Pos }
func (e *InsufficientInventoryError) GetDirective() ast.Directive  { return e.Directive }
func (e *InsufficientInventoryError) GetAccount() ast.Account      { return e.Account }

// NoMatchingLotError is returned under STRICT booking when no lot matches the
// posting's cost specification.
type NoMatchingLotError struct {
	Date      *ast.Date
	Pos       ast.Position
	Account   ast.Account
	Commodity string
	Spec      string
}

// NewNoMatchingLotError reports a reduction whose cost spec matches no lot.
func NewNoMatchingLotError(txn *ast.Transaction, account ast.Account, commodity, spec string) *NoMatchingLotError {
	return &NoMatchingLotError{
		Date:      txn.Date,
		Pos:       txn.Pos,
		Account:   account,
		Commodity: commodity,
		Spec:      spec,
	}
}

func (e *NoMatchingLotError) Error() string {
	return fmt.Sprintf("%s: No lot of %s in %s matches %s",
		location(e.Pos, e.Date), e.Commodity, e.Account, e.Spec)
}

// AmbiguousLotError is returned under STRICT booking when more than one lot
// matches the posting's cost specification.
type AmbiguousLotError struct {
	Date      *ast.Date
	Pos       ast.Position
	Account   ast.Account
	Commodity string
	Spec      string
	Matches   int
}

// NewAmbiguousLotError reports a reduction whose cost spec matches several lots.
func NewAmbiguousLotError(txn *ast.Transaction, account ast.Account, commodity, spec string, matches int) *AmbiguousLotError {
	return &AmbiguousLotError{
		Date:      txn.Date,
		Pos:       txn.Pos,
		Account:   account,
		Commodity: commodity,
		Spec:      spec,
		Matches:   matches,
	}
}

func (e *AmbiguousLotError) Error() string {
	return fmt.Sprintf("%s: Ambiguous lot reduction of %s in %s: %s matches %d lots",
		location(e.Pos, e.Date), e.Commodity, e.Account, e.Spec, e.Matches)
}

// CurrencyConstraintError is returned when a posting uses a currency outside
// the account's open-declared constraint list.
type CurrencyConstraintError struct {
	Date              *ast.Date
	Pos               ast.Position
	Payee             string
	Account           ast.Account
	Currency          string
	AllowedCurrencies []string
	Directive         ast.Directive
}

// NewCurrencyConstraintError reports a currency-restricted account violation.
func NewCurrencyConstraintError(txn *ast.Transaction, account ast.Account, currency string, allowed []string) *CurrencyConstraintError {
	return &CurrencyConstraintError{
		Date:              txn.Date,
		Pos:               txn.Pos,
		Payee:             txn.Payee.Value,
		Account:           account,
		Currency:          currency,
		AllowedCurrencies: allowed,
		Directive:         txn,
	}
}

func (e *CurrencyConstraintError) Error() string {
	return fmt.Sprintf("%s: Currency %s not allowed for account %s (allowed: %v)",
		location(e.Pos, e.Date), e.Currency, e.Account, e.AllowedCurrencies)
}

func (e *CurrencyConstraintError) GetDate() *ast.Date          { return e.Date }
func (e *CurrencyConstraintError) GetPosition() ast.Position   { return e.Pos }
func (e *CurrencyConstraintError) GetDirective() ast.Directive { return e.Directive }
func (e *CurrencyConstraintError) GetAccount() ast.Account     { return e.Account }

// UnusedPadWarning is reported for a pad directive that no balance assertion
// ever consumed.
type UnusedPadWarning struct {
	Pad *ast.Pad
}

// NewUnusedPadWarning reports a pad with no subsequent balance assertion.
func NewUnusedPadWarning(pad *ast.Pad) *UnusedPadWarning {
	return &UnusedPadWarning{Pad: pad}
}

func (e *UnusedPadWarning) Error() string {
	return fmt.Sprintf("%s: Unused pad directive for %s",
		location(e.Pad.Pos, e.Pad.Date), e.Pad.Account)
}

func (e *UnusedPadWarning) IsWarning() bool { return true }

// PriceDuplicateWarning is reported when two price directives cover the same
// (base currency, date) pair. The last one in source order wins.
type PriceDuplicateWarning struct {
	Price *ast.Price
}

// NewPriceDuplicateWarning reports a superseded price declaration.
func NewPriceDuplicateWarning(price *ast.Price) *PriceDuplicateWarning {
	return &PriceDuplicateWarning{Price: price}
}

func (e *PriceDuplicateWarning) Error() string {
	currency := ""
	if e.Price.Amount != nil {
		currency = e.Price.Amount.Currency
	}
	return fmt.Sprintf("%s: Duplicate price for %s in %s on %s; the last declaration wins",
		location(e.Price.Pos, e.Price.Date), e.Price.Commodity, currency,
		e.Price.Date.Format("2006-01-02"))
}

func (e *PriceDuplicateWarning) IsWarning() bool { return true }

// DuplicateDocumentWarning is reported when the same document path is
// attached to the same account and date more than once.
type DuplicateDocumentWarning struct {
	Document *ast.Document
}

// NewDuplicateDocumentWarning reports a repeated document attachment.
func NewDuplicateDocumentWarning(doc *ast.Document) *DuplicateDocumentWarning {
	return &DuplicateDocumentWarning{Document: doc}
}

func (e *DuplicateDocumentWarning) Error() string {
	return fmt.Sprintf("%s: Duplicate document %q for %s",
		location(e.Document.Pos, e.Document.Date), e.Document.PathToDocument.Value, e.Document.Account)
}

func (e *DuplicateDocumentWarning) IsWarning() bool { return true }

// InvalidPriceDirectiveError is returned when a price directive's rate cannot
// be used.
type InvalidPriceDirectiveError struct {
	Date     *ast.Date
	Pos      ast.Position
	Currency string
	Reason   string
}

// NewInvalidPriceDirectiveError reports an unusable price directive.
func NewInvalidPriceDirectiveError(price *ast.Price, reason string) *InvalidPriceDirectiveError {
	return &InvalidPriceDirectiveError{
		Date:     price.Date,
		Pos:      price.Pos,
		Currency: price.Commodity,
		Reason:   reason,
	}
}

func (e *InvalidPriceDirectiveError) Error() string {
	return fmt.Sprintf("%s: Invalid price for %s: %s", location(e.Pos, e.Date), e.Currency, e.Reason)
}

// DuplicateNoteWarning is reported when the same note text is attached to
// the same account and date more than once.
type DuplicateNoteWarning struct {
	Note *ast.Note
}

// NewDuplicateNoteWarning reports a repeated note.
func NewDuplicateNoteWarning(note *ast.Note) *DuplicateNoteWarning {
	return &DuplicateNoteWarning{Note: note}
}

func (e *DuplicateNoteWarning) Error() string {
	return fmt.Sprintf("%s: Duplicate note for %s", location(e.Note.Pos, e.Note.Date), e.Note.Account)
}

func (e *DuplicateNoteWarning) IsWarning() bool { return true }
