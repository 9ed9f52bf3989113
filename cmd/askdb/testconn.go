package main

import (
	"fmt"
	"os"

	"askdb/internal/core"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newTestConnCmd() *cobra.Command {
	var (
		dialect string
		creds   core.Credentials
	)
	cmd := &cobra.Command{
		Use:   "test-conn",
		Short: "Check that credentials can reach a database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if creds.ConnectionString == "" {
				password, err := readPassword(cmd)
				if err != nil {
					return err
				}
				creds.Password = password
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.bridge.TestConnection(cmd.Context(), core.Dialect(dialect), creds)
			if err != nil {
				return err
			}
			if !res.Success {
				return errors.Errorf("connection failed: %s", res.Error)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Connection OK.")
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&dialect, "dialect", "postgres", "postgres, mysql or sqlserver")
	f.StringVar(&creds.Host, "host", "localhost", "database host")
	f.IntVar(&creds.Port, "port", 0, "database port (dialect default when 0)")
	f.StringVar(&creds.Database, "database", "", "database name")
	f.StringVar(&creds.User, "user", "", "database user")
	f.StringVar(&creds.SSLMode, "ssl-mode", "", "TLS mode, e.g. disable or require")
	f.StringVar(&creds.ConnectionString, "dsn", "", "full connection string; overrides the other fields")
	return cmd
}

// readPassword prompts without echo when stdin is a terminal.
func readPassword(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", nil
	}
	fmt.Fprint(cmd.OutOrStdout(), "Password: ")
	passBytes, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.OutOrStdout())
	if err != nil {
		return "", errors.Wrap(err, "read password")
	}
	return string(passBytes), nil
}
