package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/ledgerkit/ledgerkit/cli"
)

var (
	// Version contains the application version number. It's set via ldflags
	// when building.
	Version = ""

	// CommitSHA contains the SHA of the commit that this application was built
	// against. It's set via ldflags when building.
	CommitSHA = ""

	cliStruct struct {
		Version kong.VersionFlag `help:"Show version information"`
		cli.Commands
	}
)

func main() {
	// Set version information in cli package
	cli.Version = Version
	cli.CommitSHA = CommitSHA

	ctx := kong.Parse(&cliStruct,
		kong.Vars{
			"version": buildVersion(),
		},
		kong.Name("ledgerkit"),
		kong.Description("A beancount ledger checker and formatter."),
		kong.UsageOnError(),
		kong.Bind(&cliStruct.Globals),
	)

	if err := ctx.Run(); err != nil {
		// Commands print their own diagnostics; the error only carries the
		// exit code. Anything else is an invocation-level failure.
		var cmdErr *cli.CommandError
		if errors.As(err, &cmdErr) {
			os.Exit(cmdErr.ExitCode())
		}
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

func buildVersion() string {
	if Version == "" {
		Version = "dev"
	}
	if CommitSHA == "" {
		return Version
	}
	return fmt.Sprintf("%s (%s)", Version, CommitSHA)
}
