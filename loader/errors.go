package loader

import (
	"fmt"
	"strings"

	"github.com/ledgerkit/ledgerkit/ast"
)

// Diagnostic codes for option handling. These are warnings: loading
// continues and the option directive stays in the returned tree.
const (
	CodeOptionUnknown   = "E7001"
	CodeOptionInvalid   = "E7002"
	CodeOptionDuplicate = "E7003"
)

// IoError reports a failure to read (or decrypt) a source file.
type IoError struct {
	Path string
	Err  error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("failed to read %s: %v", e.Path, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

// PathTraversalError reports an include that resolved outside the configured
// root directory while sandboxing was enabled.
type PathTraversalError struct {
	Path string
	Root string
}

func (e *PathTraversalError) Error() string {
	return fmt.Sprintf("include %s escapes the sandbox root %s", e.Path, e.Root)
}

// IncludeCycleError reports a circular include chain. The chain lists the
// files from the first repeated file back to itself.
type IncludeCycleError struct {
	Chain []string
}

func (e *IncludeCycleError) Error() string {
	return fmt.Sprintf("include cycle: %s", strings.Join(e.Chain, " → "))
}

// OptionWarning reports a problem with an option directive: unknown key
// (E7001), invalid value (E7002), or duplicate non-repeatable key (E7003).
// Warnings never abort loading.
type OptionWarning struct {
	Code    string
	Name    string
	Pos     ast.Position
	Message string
}

func (e *OptionWarning) Error() string {
	return fmt.Sprintf("%s: %s: option %q: %s", e.Pos, e.Code, e.Name, e.Message)
}

// IsWarning marks option diagnostics as non-fatal.
func (e *OptionWarning) IsWarning() bool { return true }

// LoadErrors aggregates everything that went wrong while loading a ledger.
// The tree it accompanies holds everything that loaded cleanly.
type LoadErrors struct {
	Errors []error
}

func (e *LoadErrors) Error() string {
	switch len(e.Errors) {
	case 0:
		return "no load errors"
	case 1:
		return e.Errors[0].Error()
	default:
		return fmt.Sprintf("%s (and %d more load errors)", e.Errors[0].Error(), len(e.Errors)-1)
	}
}

// Unwrap exposes the individual errors for errors.Is/As traversal.
func (e *LoadErrors) Unwrap() []error { return e.Errors }
