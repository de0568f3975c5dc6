package cli

import (
	"context"
	"time"

	"github.com/alecthomas/kong"
	"github.com/fsnotify/fsnotify"
)

// runWatch re-runs the check whenever any loaded source file changes. The
// exit code of the final run is not meaningful; watch mode runs until
// interrupted.
func (cmd *CheckCmd) runWatch(ctx *kong.Context, globals *Globals) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		printError(ctx.Stderr, err.Error())
		return NewCommandError(2)
	}
	defer func() { _ = watcher.Close() }()

	runAndWatch := func() {
		_ = cmd.runOnce(ctx, globals)

		// Re-resolve the watched set after every run: includes may have
		// been added or removed.
		ldr := cmd.newLoader()
		if tree, _ := cmd.File.LoadAST(context.Background(), ldr); tree != nil {
			for _, file := range ldr.SourceMap().Files() {
				_ = watcher.Add(file.Path)
			}
		}
	}

	runAndWatch()
	if !globals.Quiet {
		printInfof(ctx.Stderr, "watching for changes (interrupt to stop)")
	}

	// Editors write files as bursts of events; a short debounce folds each
	// burst into one re-check.
	var pending <-chan time.Time

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				pending = time.After(200 * time.Millisecond)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			printWarning(ctx.Stderr, err.Error())

		case <-pending:
			pending = nil
			if !globals.Quiet {
				printInfof(ctx.Stderr, "change detected, re-checking %s", cmd.File.Filename)
			}
			runAndWatch()
		}
	}
}
