// Package loader provides functionality for loading Beancount files with support for
// include directives. It can recursively resolve and merge multiple files into a
// single AST, handling relative paths, deduplication, cycle detection, and optional
// path sandboxing.
//
// The loader supports two modes of operation:
//   - Simple mode: Parses a single file with include directives preserved in the AST
//   - Follow mode: Recursively loads all included files and merges them into one AST
//
// When following includes, the loader resolves relative paths from the directory of
// the file containing the include directive and canonicalizes them. A file included
// more than once is loaded once and silently skipped afterwards; a file that is
// still being loaded when it is included again is a cycle, reported as an
// IncludeCycleError and skipped. With a sandbox root configured, any include
// resolving outside that root is rejected with a PathTraversalError.
//
// Loading is synchronous end-to-end: the pipeline is CPU-bound and callers that
// want parallelism load independent ledgers concurrently, each with its own
// Loader.
//
// Files ending in .gpg (or .asc files carrying the PGP armor header) are piped
// through "gpg --batch --decrypt" before parsing.
//
// Example usage:
//
//	// Load a single file without following includes
//	ldr := loader.New()
//	tree, err := ldr.Load(ctx, "main.beancount")
//
//	// Load with recursive include resolution, sandboxed to the ledger root
//	ldr := loader.New(loader.WithFollowIncludes(), loader.WithSandboxRoot("/ledgers"))
//	tree, err := ldr.Load(ctx, "/ledgers/main.beancount")
package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/ledgerkit/ledgerkit/ast"
	"github.com/ledgerkit/ledgerkit/parser"
	"github.com/ledgerkit/ledgerkit/telemetry"
)

// Loader handles loading and parsing of Beancount files with optional include
// resolution.
//
// Configure the loader using functional options passed to New:
//
//	ldr := New(WithFollowIncludes())
type Loader struct {
	// FollowIncludes determines whether to recursively load included files.
	// When false, only the specified file is parsed and ast.Includes is preserved.
	// When true, all included files are recursively loaded and merged into a single AST.
	FollowIncludes bool

	// SandboxRoot, when non-empty, restricts every resolved include to paths
	// under this directory.
	SandboxRoot string

	sourceMap *SourceMap
}

// Option configures how files are loaded.
type Option func(*Loader)

// WithFollowIncludes configures the loader to recursively load and merge all included files.
// When enabled:
//   - All include directives are recursively resolved and loaded
//   - Relative paths are resolved from the directory of the including file
//   - All directives, options, and plugins are merged into a single AST
//   - The returned AST has ast.Includes set to nil (all includes resolved)
//
// When disabled (default):
//   - Only the specified file is parsed
//   - Include directives remain in ast.Includes
//   - No path resolution or validation occurs
func WithFollowIncludes() Option {
	return func(l *Loader) {
		l.FollowIncludes = true
	}
}

// WithSandboxRoot restricts include resolution to descendants of root. An
// include whose canonical path escapes the root is rejected with a
// PathTraversalError.
func WithSandboxRoot(root string) Option {
	return func(l *Loader) {
		if abs, err := filepath.Abs(root); err == nil {
			l.SandboxRoot = abs
		} else {
			l.SandboxRoot = root
		}
	}
}

// New creates a new Loader with the given options.
func New(opts ...Option) *Loader {
	l := &Loader{
		sourceMap: NewSourceMap(),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// SourceMap returns the map of every file read so far, in load order. The
// contents are retained so error rendering can quote the offending lines.
func (l *Loader) SourceMap() *SourceMap {
	return l.sourceMap
}

// Load parses a beancount file with optional recursive include resolution.
//
// Errors that only affect part of the tree (a missing or cyclic include, a
// recoverable parse error) are aggregated into the returned *LoadErrors while
// the rest of the tree still loads; only a failure to read the root file
// returns a nil tree.
func (l *Loader) Load(ctx context.Context, filename string) (*ast.AST, error) {
	absPath, err := filepath.Abs(filename)
	if err != nil {
		return nil, &IoError{Path: filename, Err: err}
	}

	data, err := readSource(absPath)
	if err != nil {
		return nil, err
	}

	return l.load(ctx, absPath, data)
}

// LoadBytes parses beancount content from a byte slice with optional recursive
// include resolution. The filename parameter is used for error reporting and
// as the base path for resolving includes; relative includes resolve from its
// directory, or from the working directory when reading stdin ("-").
func (l *Loader) LoadBytes(ctx context.Context, filename string, data []byte) (*ast.AST, error) {
	absPath := filename
	if filename == "-" || filename == "" || filename == "<stdin>" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, &IoError{Path: filename, Err: err}
		}
		absPath = filepath.Join(cwd, "<stdin>")
	} else if abs, err := filepath.Abs(filename); err == nil {
		absPath = abs
	}

	return l.load(ctx, absPath, data)
}

// load drives parsing for pre-read root content and, in follow mode, the
// include walk.
func (l *Loader) load(ctx context.Context, absPath string, data []byte) (*ast.AST, error) {
	state := &loaderState{
		loader: l,
		loaded: make(map[string]bool),
	}

	parseTimer := telemetry.StartTimer(ctx, fmt.Sprintf("loader.parse %s", filepath.Base(absPath)))
	l.sourceMap.Add(absPath, data)
	tree, err := parser.ParseBytesWithFilename(ctx, absPath, data)
	parseTimer.End()
	if err != nil {
		if tree == nil {
			return nil, err
		}
		// Recoverable parse errors: keep the tree, carry the diagnostics.
		state.errors = append(state.errors, err)
	}

	state.errors = append(state.errors, validateOptions(tree.Options)...)

	if !l.FollowIncludes {
		return tree, state.result()
	}

	loadTimer := telemetry.StartTimer(ctx, fmt.Sprintf("loader.load %s", filepath.Base(absPath)))
	defer loadTimer.End()

	state.loaded[absPath] = true
	state.push(absPath)
	includedASTs := state.loadIncludes(ctx, tree, filepath.Dir(absPath))
	state.pop()

	merged := mergeASTs(tree, includedASTs...)
	return merged, state.result()
}

// loaderState tracks state during recursive loading.
type loaderState struct {
	loader *Loader

	// loaded holds canonical paths of fully loaded files; re-including one
	// is silently skipped.
	loaded map[string]bool

	// inProgress is the stack of canonical paths currently being loaded.
	// Hitting a path that is already on the stack is an include cycle.
	inProgress []string

	errors []error
}

func (s *loaderState) push(path string) { s.inProgress = append(s.inProgress, path) }
func (s *loaderState) pop()             { s.inProgress = s.inProgress[:len(s.inProgress)-1] }

// onStack reports whether path is currently being loaded.
func (s *loaderState) onStack(path string) bool {
	return slices.Contains(s.inProgress, path)
}

// cycleChain renders the chain from the first occurrence of path on the
// stack back to path itself.
func (s *loaderState) cycleChain(path string) []string {
	for i, p := range s.inProgress {
		if p == path {
			chain := make([]string, 0, len(s.inProgress)-i+1)
			chain = append(chain, s.inProgress[i:]...)
			return append(chain, path)
		}
	}
	return []string{path, path}
}

// result folds the collected errors into a single *LoadErrors, or nil.
func (s *loaderState) result() error {
	if len(s.errors) == 0 {
		return nil
	}
	return &LoadErrors{Errors: s.errors}
}

// loadIncludes resolves and loads every include of a parsed tree, returning
// the loaded subtrees in include order. Failed branches are skipped after
// recording their error.
func (s *loaderState) loadIncludes(ctx context.Context, tree *ast.AST, baseDir string) []*ast.AST {
	var includedASTs []*ast.AST

	for _, inc := range tree.Includes {
		select {
		case <-ctx.Done():
			s.errors = append(s.errors, ctx.Err())
			return includedASTs
		default:
		}

		includePath := inc.Filename.Value
		if !filepath.IsAbs(includePath) {
			includePath = filepath.Join(baseDir, includePath)
		}
		includePath = filepath.Clean(includePath)

		if root := s.loader.SandboxRoot; root != "" && !isDescendant(root, includePath) {
			s.errors = append(s.errors, &PathTraversalError{Path: includePath, Root: root})
			continue
		}

		if s.onStack(includePath) {
			s.errors = append(s.errors, &IncludeCycleError{Chain: s.cycleChain(includePath)})
			continue
		}

		if s.loaded[includePath] {
			continue
		}

		included := s.loadFile(ctx, includePath)
		if included != nil {
			includedASTs = append(includedASTs, included)
		}
	}

	return includedASTs
}

// loadFile reads, parses and recursively resolves one included file.
func (s *loaderState) loadFile(ctx context.Context, absPath string) *ast.AST {
	s.loaded[absPath] = true

	data, err := readSource(absPath)
	if err != nil {
		s.errors = append(s.errors, err)
		return nil
	}

	parseTimer := telemetry.StartTimer(ctx, fmt.Sprintf("loader.parse %s", filepath.Base(absPath)))
	s.loader.sourceMap.Add(absPath, data)
	tree, err := parser.ParseBytesWithFilename(ctx, absPath, data)
	parseTimer.End()
	if err != nil {
		if tree == nil {
			s.errors = append(s.errors, err)
			return nil
		}
		s.errors = append(s.errors, err)
	}

	s.errors = append(s.errors, validateOptions(tree.Options)...)

	if len(tree.Includes) == 0 {
		tree.Includes = nil
		return tree
	}

	s.push(absPath)
	includedASTs := s.loadIncludes(ctx, tree, filepath.Dir(absPath))
	s.pop()

	return mergeASTs(tree, includedASTs...)
}

// mergeASTs combines a main AST with multiple included ASTs.
// The main AST's options take precedence over included files' options.
// All directives are combined and re-sorted by date.
func mergeASTs(main *ast.AST, included ...*ast.AST) *ast.AST {
	if len(included) == 0 && main.Includes == nil {
		return main
	}

	result := &ast.AST{
		Directives: make(ast.Directives, 0, len(main.Directives)),
		Includes:   nil,            // All includes resolved, so clear this
		Plugins:    main.Plugins,   // Start with main file plugins
		Pushtags:   main.Pushtags,  // Start with main file pushtags
		Poptags:    main.Poptags,   // Start with main file poptags
		Pushmetas:  main.Pushmetas, // Start with main file pushmetas
		Popmetas:   main.Popmetas,  // Start with main file popmetas
	}

	// Merge options: main file options override duplicates, but preserve unique options from includes
	mainOptionsMap := make(map[string]bool)
	for _, opt := range main.Options {
		mainOptionsMap[opt.Name.Value] = true
	}

	// Add options from included files (only if not overridden by main file)
	for _, inc := range included {
		for _, opt := range inc.Options {
			if !mainOptionsMap[opt.Name.Value] {
				result.Options = append(result.Options, opt)
				mainOptionsMap[opt.Name.Value] = true // Mark as added to avoid duplicates from multiple includes
			}
		}
	}

	// Add main file options last (these have precedence)
	result.Options = append(result.Options, main.Options...)

	// Add main file directives
	result.Directives = append(result.Directives, main.Directives...)

	// Add directives from all included files
	for _, inc := range included {
		result.Directives = append(result.Directives, inc.Directives...)

		// Merge plugins (append, don't override)
		result.Plugins = append(result.Plugins, inc.Plugins...)

		// Note: Pushtag/Poptag/Pushmeta/Popmeta are already applied during parsing,
		// so we don't need to merge them here (they've already modified their
		// respective file's directives)
	}

	// Re-sort all directives by date
	_ = ast.SortDirectives(result)

	return result
}

// isDescendant reports whether path lies under root after canonicalization.
func isDescendant(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
