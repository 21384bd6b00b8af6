// Package cli содержит команды бинарника token-proxy.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"token-proxy/config"
)

const version = "1.0.0"

// Коды выхода процесса.
const (
	ExitSuccess      = 0
	ExitFindings     = 1
	ExitUsageError   = 2
	ExitConfigError  = 3
	ExitRuntimeError = 4
)

// exitError переносит код выхода из RunE команды в Run.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

// Run выполняет команду с аргументами args и возвращает код выхода.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}

	var exit *exitError
	if errors.As(err, &exit) {
		if exit.err != nil && exit.code != ExitFindings {
			fmt.Fprintf(stderr, "Error: %v\n", exit.err)
		}
		return exit.code
	}

	fmt.Fprintf(stderr, "Error: %v\n", err)
	return ExitUsageError
}

// Main — точка входа для cmd/token-proxy.
func Main() int {
	return Run(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "token-proxy",
		Short:         "CORS proxy and cache for an OAuth2 access token",
		Long:          "token-proxy fetches an OAuth2 token with fixed credentials, caches it until shortly before expiry and serves it with the web client's static files.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("env-file", config.DefaultEnvFile, "file with KEY=VALUE settings loaded before the environment")

	root.AddCommand(newServeCmd())
	root.AddCommand(newFetchCmd())
	root.AddCommand(newCheckSecretsCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print token-proxy version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "token-proxy version %s\n", version)
		},
	})

	return root
}

func envFileFlag(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("env-file")
	return path
}
