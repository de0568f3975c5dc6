package cli

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/alecthomas/repr"

	"github.com/ledgerkit/ledgerkit/loader"
)

// DumpASTCmd prints the parsed tree as an indented Go value, useful when
// debugging parser behavior or plugin transforms.
type DumpASTCmd struct {
	File    FileOrStdin `help:"Beancount input filename (use '-' for stdin, or omit for stdin)." arg:"" optional:""`
	Follow  bool        `help:"Resolve includes before dumping."`
	Shallow bool        `help:"Omit metadata and trivia from the dump."`
}

// Run executes the dump-ast command.
func (cmd *DumpASTCmd) Run(ctx *kong.Context, globals *Globals) error {
	if err := cmd.File.EnsureContents(); err != nil {
		return err
	}

	var opts []loader.Option
	if cmd.Follow {
		opts = append(opts, loader.WithFollowIncludes())
	}

	tree, err := cmd.File.LoadAST(context.Background(), loader.New(opts...))
	if tree == nil {
		return err
	}

	printer := repr.New(ctx.Stdout, repr.Indent("  "), repr.OmitEmpty(true))

	if cmd.Shallow {
		for _, directive := range tree.Directives {
			printer.Println(directive)
		}
		return nil
	}

	printer.Println(tree)
	return nil
}
