package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"token-proxy/auth"
	"token-proxy/config"
	"token-proxy/logging"
	"token-proxy/tokens"
)

func newFetchCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch a token once and print it with browser console commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFileFlag(cmd))
			if err != nil {
				return withCode(ExitConfigError, fmt.Errorf("config load failed: %w", err))
			}

			logger := logging.New(cmd.ErrOrStderr(), bool(cfg.Debug))
			client := auth.NewClient(cfg.OAuth, nil)
			manager := tokens.NewManager(&tokens.MemoryStore{}, client.RequestToken, tokens.WithLogger(logger))

			result, err := manager.Get(cmd.Context())
			if err != nil {
				var rejected *auth.RejectedError
				if errors.As(err, &rejected) {
					fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(rejected.Body))
					return withCode(ExitRuntimeError, fmt.Errorf("token request failed: %d", rejected.StatusCode))
				}
				return withCode(ExitRuntimeError, err)
			}

			out := cmd.OutOrStdout()
			writeTokenReport(out, cfg.OAuth, result)

			if outPath != "" {
				var b strings.Builder
				writeConsoleLines(&b, result)
				if err := os.WriteFile(outPath, []byte(b.String()), 0o600); err != nil {
					return withCode(ExitRuntimeError, fmt.Errorf("write %s: %w", outPath, err))
				}
				fmt.Fprintf(out, "\nsaved to %s\n", outPath)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", "also write the token and console commands to this file (mode 0600)")

	return cmd
}

func writeTokenReport(w io.Writer, cfg config.OAuthConfig, result tokens.Result) {
	expiresIn := time.Duration(result.ExpiresIn) * time.Second

	fmt.Fprintf(w, "url:        %s\n", cfg.TokenURL)
	fmt.Fprintf(w, "client:     %s\n", cfg.ClientID)
	fmt.Fprintf(w, "username:   %s\n", cfg.Username)
	fmt.Fprintf(w, "expires in: %d seconds (%.1f minutes)\n", result.ExpiresIn, expiresIn.Minutes())
	fmt.Fprintf(w, "token type: Bearer\n\n")
	fmt.Fprintln(w, "access token:")
	fmt.Fprintln(w, result.AccessToken)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "browser console:")
	writeConsoleLines(w, result)
}

func writeConsoleLines(w io.Writer, result tokens.Result) {
	fmt.Fprintf(w, "authToken = %q\n", result.AccessToken)
	fmt.Fprintf(w, "tokenExpiration = Date.now() + (%d * 1000)\n", result.ExpiresIn)
}
