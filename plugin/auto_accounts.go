package plugin

import (
	"sort"

	"github.com/ledgerkit/ledgerkit/ast"
)

// AutoAccounts synthesizes an open directive for every account that is
// referenced before (or without) being opened, dated at the account's first
// reference. It mirrors the beancount auto_accounts plugin and backs the
// check front-end's --auto flag.
type AutoAccounts struct{}

// Name implements Plugin.
func (p *AutoAccounts) Name() string { return "auto_accounts" }

// Apply implements Plugin. The input slice is not mutated; when accounts need
// opening a new slice is returned with the synthesized opens prepended in
// deterministic (date, then name) order.
func (p *AutoAccounts) Apply(directives []ast.Directive, config string) ([]ast.Directive, []error) {
	opened := make(map[ast.Account]bool)
	firstUse := make(map[ast.Account]*ast.Date)

	note := func(account ast.Account, date *ast.Date) {
		if account == "" || opened[account] {
			return
		}
		if existing, ok := firstUse[account]; !ok || date.Before(existing.Time) {
			firstUse[account] = date
		}
	}

	for _, directive := range directives {
		switch d := directive.(type) {
		case *ast.Open:
			opened[d.Account] = true
		case *ast.Transaction:
			for _, posting := range d.Postings {
				note(posting.Account, d.Date)
			}
		case *ast.Balance:
			note(d.Account, d.Date)
		case *ast.Pad:
			note(d.Account, d.Date)
			note(d.AccountPad, d.Date)
		case *ast.Note:
			note(d.Account, d.Date)
		case *ast.Document:
			note(d.Account, d.Date)
		case *ast.Close:
			note(d.Account, d.Date)
		}
	}

	var missing []ast.Account
	for account := range firstUse {
		if !opened[account] {
			missing = append(missing, account)
		}
	}
	if len(missing) == 0 {
		return directives, nil
	}

	sort.Slice(missing, func(i, j int) bool {
		di, dj := firstUse[missing[i]], firstUse[missing[j]]
		if !di.Equal(dj.Time) {
			return di.Before(dj.Time)
		}
		return missing[i] < missing[j]
	})

	out := make([]ast.Directive, 0, len(directives)+len(missing))
	for _, account := range missing {
		out = append(out, ast.NewOpen(firstUse[account], account, nil, ""))
	}
	out = append(out, directives...)

	// Same-date ordering puts opens before the directives that need them.
	sort.Stable(ast.Directives(out))

	return out, nil
}
