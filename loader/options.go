package loader

import (
	"strings"

	"github.com/ledgerkit/ledgerkit/ast"
	"github.com/shopspring/decimal"
)

// Option directive checking. The loader only vets the option surface —
// unknown keys, duplicate non-repeatable keys, and values that cannot
// possibly parse. The typed option record itself is built by the ledger's
// config layer from the same directives.

// knownOptions lists every option key this implementation understands.
var knownOptions = map[string]bool{
	"title":                         true,
	"operating_currency":            true,
	"documents":                     true,
	"insert_pythonpath":             true,
	"booking_method":                true,
	"inferred_tolerance_default":    true,
	"inferred_tolerance_multiplier": true,
	"infer_tolerance_from_cost":     true,
	"name_assets":                   true,
	"name_liabilities":              true,
	"name_equity":                   true,
	"name_income":                   true,
	"name_expenses":                 true,
	"render_commas":                 true,
	"long_string_maxlines":          true,
}

// repeatableOptions may appear more than once; their values accumulate.
var repeatableOptions = map[string]bool{
	"operating_currency":         true,
	"documents":                  true,
	"insert_pythonpath":          true,
	"inferred_tolerance_default": true,
}

// validateOptions checks the parsed option directives and returns warnings:
// E7001 for unknown keys, E7002 for values that cannot parse, E7003 for
// duplicate non-repeatable keys. The first occurrence of a duplicated option
// stays authoritative.
func validateOptions(options []*ast.Option) []error {
	var warnings []error
	seen := make(map[string]bool)

	for _, opt := range options {
		name := opt.Name.Value

		if !knownOptions[name] {
			warnings = append(warnings, &OptionWarning{
				Code:    CodeOptionUnknown,
				Name:    name,
				Pos:     opt.Pos,
				Message: "unknown option",
			})
			continue
		}

		if seen[name] && !repeatableOptions[name] {
			warnings = append(warnings, &OptionWarning{
				Code:    CodeOptionDuplicate,
				Name:    name,
				Pos:     opt.Pos,
				Message: "duplicate option; first value wins",
			})
			continue
		}
		seen[name] = true

		if msg := checkOptionValue(name, opt.Value.Value); msg != "" {
			warnings = append(warnings, &OptionWarning{
				Code:    CodeOptionInvalid,
				Name:    name,
				Pos:     opt.Pos,
				Message: msg,
			})
		}
	}

	return warnings
}

// checkOptionValue vets the values whose shape the loader can judge without
// the ledger's config machinery. Returns an empty string when the value is
// acceptable.
func checkOptionValue(name, value string) string {
	switch name {
	case "booking_method":
		switch strings.ToUpper(value) {
		case "STRICT", "FIFO", "LIFO", "AVERAGE", "NONE":
			return ""
		}
		return "expected STRICT, FIFO, LIFO, AVERAGE or NONE"

	case "inferred_tolerance_multiplier":
		if _, err := decimal.NewFromString(value); err != nil {
			return "expected a decimal number"
		}

	case "inferred_tolerance_default":
		parts := strings.SplitN(value, ":", 2)
		if len(parts) != 2 {
			return "expected CURRENCY:TOLERANCE"
		}
		if _, err := decimal.NewFromString(strings.TrimSpace(parts[1])); err != nil {
			return "expected a decimal tolerance"
		}

	case "infer_tolerance_from_cost":
		switch strings.ToUpper(value) {
		case "TRUE", "FALSE":
			return ""
		}
		return "expected TRUE or FALSE"
	}
	return ""
}
