package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/ledgerkit/ledgerkit/ast"
	"github.com/ledgerkit/ledgerkit/ledger"
	"github.com/ledgerkit/ledgerkit/loader"
	"github.com/ledgerkit/ledgerkit/parser"
)

// DoctorCmd provides doctor utilities for debugging beancount files.
type DoctorCmd struct {
	Lex     LexCmd     `cmd:"" help:"Show lexical tokens from a beancount file."`
	DumpAST DumpASTCmd `cmd:"" name:"dump-ast" help:"Dump the parsed tree as a Go value."`
	Stats   StatsCmd   `cmd:"" help:"Summarize a ledger: files, sizes, directive and account counts."`
	Repair  RepairCmd  `cmd:"" help:"Suggest fixes for common problems (e.g. accounts used before open)."`
}

// LexCmd shows lexical tokens from a beancount file.
type LexCmd struct {
	File FileOrStdin `help:"Beancount input filename (use '-' for stdin, or omit for stdin)." arg:"" optional:""`
}

// Run executes the lex command.
func (cmd *LexCmd) Run(ctx *kong.Context, globals *Globals) error {
	if err := cmd.File.EnsureContents(); err != nil {
		return err
	}

	// Get source content for lexing
	content, err := cmd.File.GetSourceContent()
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	// Create lexer and scan all tokens
	lexer := parser.NewLexer(content, cmd.File.Filename)
	tokens, err := lexer.ScanAll()
	if err != nil {
		// Handle specific lexer errors like InvalidUTF8Error
		if _, ok := err.(*parser.InvalidUTF8Error); ok {
			return fmt.Errorf("lexer error: %w", err)
		}
		return fmt.Errorf("failed to lex file: %w", err)
	}

	// Display tokens in the format: TYPE line:col "content"
	for _, token := range tokens {
		// Skip EOF token for clean output
		if token.Type == parser.EOF {
			continue
		}

		// Get the token content
		content := token.String(content)

		// Format: TYPE line:col "content"
		_, _ = fmt.Fprintf(ctx.Stdout, "%-10s %d:%d    %q\n",
			token.Type.String(),
			token.Line,
			token.Column,
			content)
	}

	return nil
}

// StatsCmd summarizes a loaded ledger: file count and sizes, directive
// counts per kind, and account/commodity totals.
type StatsCmd struct {
	File FileOrStdin `help:"Beancount input filename (use '-' for stdin, or omit for stdin)." arg:"" optional:""`
}

// Run executes the stats command.
func (cmd *StatsCmd) Run(ctx *kong.Context, globals *Globals) error {
	if err := cmd.File.EnsureContents(); err != nil {
		return err
	}

	runCtx := context.Background()
	ldr := loader.New(loader.WithFollowIncludes())
	tree, err := cmd.File.LoadAST(runCtx, ldr)
	if tree == nil {
		return err
	}

	totalBytes := 0
	for _, file := range ldr.SourceMap().Files() {
		totalBytes += len(file.Contents)
		if globals.Verbose {
			printInfof(ctx.Stdout, "%s (%s)", file.Path, humanBytes(len(file.Contents)))
		}
	}

	byKind := make(map[string]int)
	for _, directive := range tree.Directives {
		byKind[directive.Directive()]++
	}

	l := ledger.New()
	_ = l.Process(runCtx, tree)

	printInfof(ctx.Stdout, "%d file(s), %s of source", ldr.SourceMap().Len(), humanBytes(totalBytes))
	printInfof(ctx.Stdout, "%d directives", len(tree.Directives))

	kinds := make([]string, 0, len(byKind))
	for kind := range byKind {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		_, _ = fmt.Fprintf(ctx.Stdout, "    %-12s %d\n", kind, byKind[kind])
	}

	printInfof(ctx.Stdout, "%d accounts, %d declared commodities",
		len(l.Accounts()), len(l.Commodities()))

	if globals.Verbose {
		names := make([]string, 0, len(l.Accounts()))
		for name := range l.Accounts() {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if balance, ok := l.AccountBalance(name); ok && !balance.IsZero() {
				_, _ = fmt.Fprintf(ctx.Stdout, "    %-40s %s\n", name, balance.String())
			}
		}
	}

	return nil
}

// RepairCmd scans validation errors for accounts that were used without
// being opened and offers to synthesize the missing open directives. The
// suggested directives are printed so they can be pasted into the ledger;
// with confirmation they are appended to the input file.
type RepairCmd struct {
	File  FileOrStdin `help:"Beancount input filename." arg:""`
	Write bool        `help:"Append accepted fixes to the input file without prompting."`
}

// Run executes the repair command.
func (cmd *RepairCmd) Run(ctx *kong.Context, globals *Globals) error {
	runCtx := context.Background()
	ldr := loader.New(loader.WithFollowIncludes())
	tree, err := cmd.File.LoadAST(runCtx, ldr)
	if tree == nil {
		return err
	}

	l := ledger.New()
	processErr := l.Process(runCtx, tree)
	if processErr == nil {
		printSuccess(ctx.Stdout, "Nothing to repair")
		return nil
	}

	// Collect the earliest reference date per unopened account.
	missing := make(map[ast.Account]*ast.Date)
	var validationErrors *ledger.ValidationErrors
	if errors.As(processErr, &validationErrors) {
		for _, err := range validationErrors.Errors {
			var notOpen *ledger.AccountNotOpenError
			if errors.As(err, &notOpen) {
				if existing, ok := missing[notOpen.Account]; !ok || notOpen.Date.Before(existing.Time) {
					missing[notOpen.Account] = notOpen.Date
				}
			}
		}
	}

	if len(missing) == 0 {
		printInfof(ctx.Stdout, "no repairable errors found; run check for the full diagnostics")
		return NewCommandError(1)
	}

	accounts := make([]ast.Account, 0, len(missing))
	for account := range missing {
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i] < accounts[j] })

	var fixes strings.Builder
	for _, account := range accounts {
		fmt.Fprintf(&fixes, "%s open %s\n", missing[account].Format("2006-01-02"), account)
	}

	printInfof(ctx.Stdout, "%d account(s) are used before being opened:", len(accounts))
	_, _ = fmt.Fprint(ctx.Stdout, fixes.String())

	apply := cmd.Write
	if !apply {
		apply, err = promptYesNo(ctx, fmt.Sprintf("Append %d open directive(s) to %s?", len(accounts), cmd.File.Filename))
		if err != nil {
			return err
		}
	}

	if !apply {
		printInfof(ctx.Stdout, "no changes written")
		return nil
	}

	f, err := os.OpenFile(cmd.File.Filename, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s for writing: %w", cmd.File.Filename, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.WriteString("\n" + fixes.String()); err != nil {
		return fmt.Errorf("failed to append fixes: %w", err)
	}

	printSuccess(ctx.Stdout, fmt.Sprintf("appended %d open directive(s)", len(accounts)))
	return nil
}
