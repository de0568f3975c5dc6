package ledger

import (
	"context"

	"github.com/ledgerkit/ledgerkit/ast"
)

// Handler defines the interface for processing directives.
// Each directive type has a corresponding handler that validates and applies mutations.
//
// Validation returns a slice of errors and an optional delta object.
// The delta is directive-specific (e.g., OpenDelta, TransactionDelta) and contains
// mutations to apply if validation passes.
//
// Apply receives the directive and the delta (if any) and mutates the ledger
// state. Apply is only called if Validate returned no errors.
type Handler interface {
	// Validate checks if a directive is valid without mutating state.
	// Returns a slice of errors (empty if valid) and an optional delta describing mutations.
	// The delta type is specific to each handler (OpenDelta, TransactionDelta, etc.).
	Validate(ctx context.Context, l *Ledger, d ast.Directive) ([]error, any)

	// Apply mutates ledger state after successful validation.
	Apply(ctx context.Context, l *Ledger, d ast.Directive, delta any)
}

// OpenHandler processes Open directives.
type OpenHandler struct{}

func (h *OpenHandler) Validate(ctx context.Context, l *Ledger, d ast.Directive) ([]error, any) {
	open := d.(*ast.Open)
	v := newValidator(l.accounts, l.padEntries, l.toleranceConfig)
	errs, delta := v.validateOpen(ctx, open)
	if delta == nil {
		return errs, nil
	}
	return errs, delta
}

func (h *OpenHandler) Apply(ctx context.Context, l *Ledger, d ast.Directive, delta any) {
	l.ApplyOpenDelta(delta.(*OpenDelta))
}

// CloseHandler processes Close directives.
type CloseHandler struct{}

func (h *CloseHandler) Validate(ctx context.Context, l *Ledger, d ast.Directive) ([]error, any) {
	close := d.(*ast.Close)
	v := newValidator(l.accounts, l.padEntries, l.toleranceConfig)
	errs, delta := v.validateClose(ctx, close)
	if delta == nil {
		return errs, nil
	}
	return errs, delta
}

func (h *CloseHandler) Apply(ctx context.Context, l *Ledger, d ast.Directive, delta any) {
	l.ApplyCloseDelta(delta.(*CloseDelta))
}

// TransactionHandler processes Transaction directives.
type TransactionHandler struct{}

func (h *TransactionHandler) Validate(ctx context.Context, l *Ledger, d ast.Directive) ([]error, any) {
	txn := d.(*ast.Transaction)
	v := newValidator(l.accounts, l.padEntries, l.toleranceConfig)
	errs, delta := v.validateTransaction(ctx, txn)
	if delta == nil {
		return errs, nil
	}
	return errs, delta
}

func (h *TransactionHandler) Apply(ctx context.Context, l *Ledger, d ast.Directive, delta any) {
	l.ApplyTransactionDelta(delta.(*TransactionDelta))
}

// BalanceHandler processes Balance directives. A pending pad for the asserted
// account is consumed here: the handler marks it used and stores the
// synthesized padding transaction for insertion into the stream.
type BalanceHandler struct{}

func (h *BalanceHandler) Validate(ctx context.Context, l *Ledger, d ast.Directive) ([]error, any) {
	balance := d.(*ast.Balance)

	// A pad already spent on this currency is no longer pending for it:
	// the next balance on the same (account, currency) stands on its own.
	accountName := string(balance.Account)
	padEntries := l.padEntries
	padVisible := padEntries[accountName] != nil
	if padVisible && balance.Amount != nil && l.padConsumed(accountName, balance.Amount.Currency) {
		padVisible = false
		trimmed := make(map[string]*ast.Pad, len(l.padEntries))
		for account, pad := range l.padEntries {
			if account != accountName {
				trimmed[account] = pad
			}
		}
		padEntries = trimmed
	}

	v := newValidator(l.accounts, padEntries, l.toleranceConfig)

	errs, delta := v.validateBalance(ctx, balance)
	if len(errs) > 0 {
		return errs, nil
	}

	// Only a successful assertion consumes the pad.
	if padVisible {
		l.usedPads[delta.AccountName] = true
	}

	return nil, delta
}

func (h *BalanceHandler) Apply(ctx context.Context, l *Ledger, d ast.Directive, delta any) {
	l.ApplyBalanceDelta(delta.(*BalanceDelta))
}

// PadHandler processes Pad directives. A later pad for the same account
// replaces the pending one; only the last pad before a balance assertion
// applies.
type PadHandler struct{}

func (h *PadHandler) Validate(ctx context.Context, l *Ledger, d ast.Directive) ([]error, any) {
	pad := d.(*ast.Pad)
	v := newValidator(l.accounts, l.padEntries, l.toleranceConfig)
	errs, delta := v.validatePad(ctx, pad)
	if delta == nil {
		return errs, nil
	}
	return errs, delta
}

func (h *PadHandler) Apply(ctx context.Context, l *Ledger, d ast.Directive, delta any) {
	padDelta := delta.(*PadDelta)
	l.padEntries[padDelta.AccountName] = padDelta.Pad
	l.usedPads[padDelta.AccountName] = false
	// A fresh pad is pending for every currency again.
	delete(l.consumedPads, padDelta.AccountName)
}

// NoteHandler processes Note directives. Repeating the same note on the same
// account and date is reported as a warning.
type NoteHandler struct{}

func (h *NoteHandler) Validate(ctx context.Context, l *Ledger, d ast.Directive) ([]error, any) {
	note := d.(*ast.Note)
	v := newValidator(l.accounts, l.padEntries, l.toleranceConfig)
	return v.validateNote(ctx, note), nil
}

func (h *NoteHandler) Apply(ctx context.Context, l *Ledger, d ast.Directive, delta any) {
	note := d.(*ast.Note)
	if l.documents.recordNote(note) {
		l.warnings = append(l.warnings, NewDuplicateNoteWarning(note))
	}
}

// DocumentHandler processes Document directives. Repeated attachments of the
// same path to the same account and date are reported as warnings.
type DocumentHandler struct{}

func (h *DocumentHandler) Validate(ctx context.Context, l *Ledger, d ast.Directive) ([]error, any) {
	doc := d.(*ast.Document)
	v := newValidator(l.accounts, l.padEntries, l.toleranceConfig)
	return v.validateDocument(ctx, doc), nil
}

func (h *DocumentHandler) Apply(ctx context.Context, l *Ledger, d ast.Directive, delta any) {
	doc := d.(*ast.Document)
	if l.documents.record(doc) {
		l.warnings = append(l.warnings, NewDuplicateDocumentWarning(doc))
	}
}

// PriceHandler processes Price directives. A duplicate (base, date) pair is
// reported as a warning; the last declaration in source order wins.
type PriceHandler struct{}

func (h *PriceHandler) Validate(ctx context.Context, l *Ledger, d ast.Directive) ([]error, any) {
	price := d.(*ast.Price)

	if price.Amount == nil {
		return []error{NewInvalidPriceDirectiveError(price, "price amount is missing")}, nil
	}
	if _, err := ParseAmount(price.Amount); err != nil {
		return []error{NewInvalidPriceDirectiveError(price, err.Error())}, nil
	}

	return nil, price
}

func (h *PriceHandler) Apply(ctx context.Context, l *Ledger, d ast.Directive, delta any) {
	l.applyPrice(delta.(*ast.Price))
}

// CommodityHandler processes Commodity directives.
// Creates explicit commodity nodes in the graph with metadata from the
// directive. Declaring the same currency twice is an error; the first
// declaration remains authoritative.
type CommodityHandler struct{}

func (h *CommodityHandler) Validate(ctx context.Context, l *Ledger, d ast.Directive) ([]error, any) {
	commodity := d.(*ast.Commodity)

	if previous, ok := l.commodities[commodity.Currency]; ok {
		return []error{NewDuplicateCommodityError(commodity, previous)}, nil
	}

	delta := &CommodityDelta{
		Commodity:   commodity,
		CommodityID: commodity.Currency,
		Date:        commodity.Date,
		Metadata:    commodity.Metadata,
	}

	return nil, delta
}

func (h *CommodityHandler) Apply(ctx context.Context, l *Ledger, d ast.Directive, delta any) {
	l.applyCommodity(delta.(*CommodityDelta))
}

// EventHandler processes Event directives.
// Events are informational; they're carried through unvalidated.
type EventHandler struct{}

func (h *EventHandler) Validate(ctx context.Context, l *Ledger, d ast.Directive) ([]error, any) {
	return nil, nil
}

func (h *EventHandler) Apply(ctx context.Context, l *Ledger, d ast.Directive, delta any) {
	// Event directives don't mutate state
}

// QueryHandler processes Query directives.
// The query text is opaque to the core; external query tooling consumes it.
type QueryHandler struct{}

func (h *QueryHandler) Validate(ctx context.Context, l *Ledger, d ast.Directive) ([]error, any) {
	return nil, nil
}

func (h *QueryHandler) Apply(ctx context.Context, l *Ledger, d ast.Directive, delta any) {
	// Query directives don't mutate state
}

// CustomHandler processes Custom directives.
// Custom directives are a plugin extension point; the core carries them
// through unvalidated.
type CustomHandler struct{}

func (h *CustomHandler) Validate(ctx context.Context, l *Ledger, d ast.Directive) ([]error, any) {
	return nil, nil
}

func (h *CustomHandler) Apply(ctx context.Context, l *Ledger, d ast.Directive, delta any) {
	// Custom directives don't mutate state
}

// handlerRegistry maps directive kinds to their handlers.
var handlerRegistry = map[ast.DirectiveKind]Handler{
	ast.KindOpen:        &OpenHandler{},
	ast.KindClose:       &CloseHandler{},
	ast.KindTransaction: &TransactionHandler{},
	ast.KindBalance:     &BalanceHandler{},
	ast.KindPad:         &PadHandler{},
	ast.KindNote:        &NoteHandler{},
	ast.KindDocument:    &DocumentHandler{},
	ast.KindPrice:       &PriceHandler{},
	ast.KindCommodity:   &CommodityHandler{},
	ast.KindEvent:       &EventHandler{},
	ast.KindQuery:       &QueryHandler{},
	ast.KindCustom:      &CustomHandler{},
}

// GetHandler returns the handler for a given directive kind.
// Returns nil if no handler is registered for the directive kind.
func GetHandler(kind ast.DirectiveKind) Handler {
	return handlerRegistry[kind]
}
