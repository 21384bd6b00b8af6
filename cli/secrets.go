package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"token-proxy/secrets"
)

func newCheckSecretsCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "check-secrets",
		Short: "Scan staged files for credential leaks (pre-commit hook)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			files, err := secrets.StagedFiles(cmd.Context(), dir)
			if err != nil {
				return withCode(ExitRuntimeError, err)
			}
			if len(files) == 0 {
				fmt.Fprintln(out, "no staged files to check")
				return nil
			}

			scanner := secrets.NewScanner(credentialLiterals(envFileFlag(cmd))...)

			var findings []secrets.Finding
			for _, name := range files {
				found, err := scanner.ScanFile(filepath.Join(dir, name))
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: could not check %s: %v\n", name, err)
					continue
				}
				for i := range found {
					found[i].File = name
				}
				findings = append(findings, found...)
			}

			if len(findings) == 0 {
				fmt.Fprintln(out, "no credential leaks detected")
				return nil
			}

			fmt.Fprintln(out, "POTENTIAL CREDENTIAL LEAK DETECTED")
			for _, f := range findings {
				fmt.Fprintf(out, "%s:%d: %s\n", f.File, f.Line, secrets.Redact(f.Match))
			}
			fmt.Fprintln(out, "commit blocked: move credentials to the .env file and unstage with `git reset HEAD <file>`")

			return withCode(ExitFindings, fmt.Errorf("%d potential credential leaks", len(findings)))
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "git working tree to check")

	return cmd
}

// credentialLiterals собирает значения CLIENT_SECRET и OAUTH_PASSWORD из
// окружения и env-файла; отсутствие файла не ошибка.
func credentialLiterals(envFile string) []string {
	values := map[string]string{}
	if envFile != "" {
		if fromFile, err := godotenv.Read(envFile); err == nil {
			values = fromFile
		}
	}

	var literals []string
	for _, key := range []string{"CLIENT_SECRET", "OAUTH_PASSWORD"} {
		if v := os.Getenv(key); v != "" {
			literals = append(literals, v)
		}
		if v := values[key]; v != "" {
			literals = append(literals, v)
		}
	}
	return literals
}
