package cli

import (
	"context"
	stdErrors "errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/alecthomas/kong"

	"github.com/ledgerkit/ledgerkit/ast"
	"github.com/ledgerkit/ledgerkit/ledger"
	"github.com/ledgerkit/ledgerkit/loader"
	"github.com/ledgerkit/ledgerkit/plugin"
	"github.com/ledgerkit/ledgerkit/telemetry"
)

// CheckCmd parses, loads, interpolates, and validates a beancount input.
//
// Exit codes: 0 on clean validation, 1 when any non-warning diagnostic is
// produced, 2 on an invocation-level failure (missing file, unreadable root).
type CheckCmd struct {
	File FileOrStdin `help:"Beancount input filename (use '-' for stdin, or omit for stdin)." arg:"" optional:""`

	Auto         bool     `help:"Open referenced accounts automatically (auto_accounts plugin)."`
	NativePlugin []string `name:"native-plugin" help:"Run a built-in plugin by name (repeatable)."`
	Plugin       []string `name:"plugin" help:"WASM plugin file, consumed by an external host (repeatable)." type:"path"`
	Sandbox      string   `help:"Restrict includes to descendants of this directory." type:"path"`
	Watch        bool     `help:"Re-run the check whenever a loaded file changes."`

	// The pipeline is functional over in-memory state; the flag exists for
	// interface compatibility with callers that pass it.
	Cache bool `hidden:"" help:"Accepted for compatibility; has no effect."`
}

func (cmd *CheckCmd) Run(ctx *kong.Context, globals *Globals) error {
	if err := cmd.File.EnsureContents(); err != nil {
		// Invocation-level failure: nothing was parsed.
		printError(ctx.Stderr, err.Error())
		return NewCommandError(2)
	}

	if cmd.Watch {
		return cmd.runWatch(ctx, globals)
	}

	return cmd.runOnce(ctx, globals)
}

// runOnce executes one full check pass.
func (cmd *CheckCmd) runOnce(ctx *kong.Context, globals *Globals) error {
	runCtx := context.Background()

	var collector telemetry.Collector
	var checkTimer telemetry.Timer
	var once sync.Once

	reportTelemetry := func() {
		once.Do(func() {
			if collector != nil {
				checkTimer.End()
				_, _ = fmt.Fprintln(ctx.Stderr)
				collector.Report(ctx.Stderr)
			}
		})
	}

	if globals.Telemetry {
		collector = telemetry.NewTimingCollector()
		runCtx = telemetry.WithCollector(runCtx, collector)

		checkTimer = collector.Start(fmt.Sprintf("check %s", filepath.Base(cmd.File.Filename)))
		runCtx = telemetry.WithRootTimer(runCtx, checkTimer)

		defer reportTelemetry()
	}

	sourceContent, err := cmd.File.GetSourceContent()
	if err != nil {
		printError(ctx.Stderr, fmt.Sprintf("failed to read file: %v", err))
		return NewCommandError(2)
	}

	ldr := cmd.newLoader()
	tree, loadErr := cmd.File.LoadAST(runCtx, ldr)
	if tree == nil {
		// Nothing could be parsed at all: the root file is unreadable.
		if loadErr != nil {
			printError(ctx.Stderr, loadErr.Error())
		}
		reportTelemetry()
		return NewCommandError(2)
	}

	renderer := NewErrorRenderer(sourceContent)
	failed := false

	// Loader diagnostics: cycles and missing includes are errors, option
	// problems are warnings.
	if loadErr != nil {
		var loadErrs *loader.LoadErrors
		if stdErrors.As(loadErr, &loadErrs) {
			failed = cmd.report(ctx, globals, renderer, loadErrs.Errors) || failed
		} else {
			printError(ctx.Stderr, loadErr.Error())
			failed = true
		}
	}

	// Plugin chain: fully parsed directives in, transformed directives out.
	tree.Directives, err = cmd.runPlugins(ctx, globals, tree)
	if err != nil {
		printError(ctx.Stderr, err.Error())
		reportTelemetry()
		return NewCommandError(1)
	}

	l := ledger.New()
	if err := l.Process(runCtx, tree); err != nil {
		var validationErrors *ledger.ValidationErrors
		if stdErrors.As(err, &validationErrors) {
			failed = cmd.report(ctx, globals, renderer, validationErrors.Errors) || failed
		} else {
			printError(ctx.Stderr, err.Error())
			failed = true
		}
	}

	// Warnings are always shown, never fatal.
	cmd.report(ctx, globals, renderer, l.Warnings())

	reportTelemetry()

	if failed {
		if !globals.Quiet {
			printError(ctx.Stderr, "check failed")
		}
		return NewCommandError(1)
	}

	if !globals.Quiet {
		printSuccess(ctx.Stdout, "Check passed")
		if globals.Verbose {
			printInfof(ctx.Stdout, "%d directives across %d file(s)",
				len(tree.Directives), ldr.SourceMap().Len())
		}
	}

	return nil
}

// newLoader builds the loader for this invocation.
func (cmd *CheckCmd) newLoader() *loader.Loader {
	opts := []loader.Option{loader.WithFollowIncludes()}
	if cmd.Sandbox != "" {
		opts = append(opts, loader.WithSandboxRoot(cmd.Sandbox))
	}
	return loader.New(opts...)
}

// report renders a batch of diagnostics, splitting warnings from errors.
// Returns true when any non-warning error was printed.
func (cmd *CheckCmd) report(ctx *kong.Context, globals *Globals, renderer *ErrorRenderer, errs []error) bool {
	hadError := false
	for _, err := range errs {
		if ledger.IsWarning(err) {
			printWarning(ctx.Stderr, renderer.Render(err))
			continue
		}
		hadError = true
		_, _ = fmt.Fprintln(ctx.Stderr, renderer.Render(err))
	}
	return hadError
}

// runPlugins chains the requested native plugins over the directive stream.
// WASM plugin files are recorded for an external host; the core does not
// execute them.
func (cmd *CheckCmd) runPlugins(ctx *kong.Context, globals *Globals, tree *ast.AST) ([]ast.Directive, error) {
	registry := plugin.DefaultRegistry()

	var plugins []plugin.Plugin
	var configs []string

	if cmd.Auto {
		plugins = append(plugins, registry.Lookup("auto_accounts"))
		configs = append(configs, "")
	}

	for _, name := range cmd.NativePlugin {
		p := registry.Lookup(name)
		if p == nil {
			return nil, fmt.Errorf("unknown native plugin %q", name)
		}
		plugins = append(plugins, p)
		configs = append(configs, "")
	}

	if globals.Verbose && !globals.Quiet {
		for _, file := range cmd.Plugin {
			printInfof(ctx.Stderr, "plugin %s recorded for external host", file)
		}
		for _, decl := range tree.Plugins {
			printInfof(ctx.Stderr, "plugin %q declared in source, awaiting host", decl.Name.Value)
		}
	}

	if len(plugins) == 0 {
		return tree.Directives, nil
	}

	directives, errs := plugin.Chain(plugins, configs, tree.Directives)
	for _, err := range errs {
		printWarning(ctx.Stderr, err.Error())
	}

	return directives, nil
}
