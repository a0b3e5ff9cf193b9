// Command pvacert is the operator-facing CLI against a running CMS: it
// submits CREATE requests, reads a status PV, and drives REVOKE/APPROVE/
// DENY transitions. Structured the way eclipse-symphony's cli/cmd package
// structures its subcommands (one cobra.Command var per operation, flags
// bound at package scope), generalized from a deployment CLI to a
// certificate-lifecycle one.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var cmsURL string

var rootCmd = &cobra.Command{
	Use:           "pvacert",
	Short:         "Operate a PVA certificate management service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cmsURL, "cms-url", "http://localhost:5075", "base URL of the CMS's non-TLS RPC listener")
	rootCmd.AddCommand(createCmd, statusCmd, revokeCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		os.Exit(exitSuccess)
	}

	if ctx.Err() != nil {
		fmt.Fprintln(os.Stderr, "pvacert: interrupted")
		os.Exit(exitUserInterrupt)
	}

	var ce *cliError
	if errors.As(err, &ce) {
		fmt.Fprintln(os.Stderr, "pvacert:", ce.Error())
		os.Exit(ce.code)
	}

	fmt.Fprintln(os.Stderr, "pvacert:", err.Error())
	os.Exit(exitOther)
}
