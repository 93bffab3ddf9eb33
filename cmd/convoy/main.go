package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/matzehuels/convoy/internal/cli"
	"github.com/matzehuels/convoy/pkg/driver"
	"github.com/matzehuels/convoy/pkg/errors"
)

func main() {
	ctx, cancel := interruptContext()
	defer cancel()

	if err := run(ctx); err != nil {
		code := errors.ExitCode(err)
		if code != errors.ExitInterrupted {
			fmt.Fprintln(os.Stderr, cli.StyleError.Render("error:"), err)
		}
		cancel()
		os.Exit(code)
	}
}

// interruptContext returns a context that a first interrupt cancels, letting
// running conversions finish while queued ones are dropped. A second
// interrupt, or SIGTERM, also kills the running conversions. After that the
// default signal handling applies again.
func interruptContext() (context.Context, context.CancelFunc) {
	stop, cancelStop := context.WithCancel(context.Background())
	kill, cancelKill := context.WithCancel(context.Background())

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigs)
		for {
			select {
			case sig := <-sigs:
				if sig == os.Interrupt && stop.Err() == nil {
					cancelStop()
					fmt.Fprintln(os.Stderr, cli.StyleWarning.Render("interrupted: finishing running jobs, interrupt again to abort them"))
					continue
				}
				cancelStop()
				cancelKill()
				return
			case <-kill.Done():
				return
			}
		}
	}()

	return driver.WithKill(stop, kill), func() {
		cancelStop()
		cancelKill()
	}
}

func run(ctx context.Context) error {
	var verbose bool

	c := cli.New(os.Stderr, cli.LogInfo)
	root := c.RootCommand()

	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	// Apply the log level before the root's own pre-run loads the config.
	loadConfig := root.PersistentPreRunE
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level := cli.LogInfo
		if verbose {
			level = cli.LogDebug
		}
		c.SetLogLevel(level)

		if loadConfig != nil {
			return loadConfig(cmd, args)
		}
		return nil
	}

	return root.ExecuteContext(ctx)
}
