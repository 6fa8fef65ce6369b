package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pthm/pgsupporter"
	"github.com/pthm/pgsupporter/internal/cli"
)

var (
	ddlFile   string
	ddlSchema string
)

var ddlCmd = &cobra.Command{
	Use:   "ddl",
	Short: "Execute a DDL script",
	Long: `Execute a DDL script in a single read-write transaction.

The script is sent as-is without parameter binding, so literal percent signs
need no escaping. Any failure rolls the whole script back.`,
	Example: `  # Apply a script
  pgsupporter ddl --file schema.sql

  # Read the script from stdin inside a tenant schema
  cat schema.sql | pgsupporter ddl --file - --schema tenant_a`,
	RunE: func(cmd *cobra.Command, args []string) error {
		script, err := readScript(cmd.InOrStdin(), ddlFile)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		src, err := connect(ctx)
		if err != nil {
			return err
		}
		defer src.Close()

		opts := []pgsupporter.TxOption{pgsupporter.ReadOnly(false), pgsupporter.WithLogger(logger)}
		if schema := resolveString(ddlSchema, cfg.Schema); schema != "" {
			opts = append(opts, pgsupporter.InSchema(schema))
		}

		err = pgsupporter.RunInTransaction(ctx, src, func(tx *pgsupporter.Transaction) error {
			return tx.ExecuteDDL(ctx, script)
		}, opts...)
		if err != nil {
			return cli.GeneralError("executing ddl", err)
		}

		if !quiet {
			fmt.Fprintln(cmd.ErrOrStderr(), "DDL applied.")
		}
		return nil
	},
}

func init() {
	f := ddlCmd.Flags()
	f.StringVarP(&ddlFile, "file", "f", "", "script file, or - for stdin (required)")
	f.StringVar(&ddlSchema, "schema", "", "schema placed first on the search path (default: config schema)")
	_ = ddlCmd.MarkFlagRequired("file")
}

// readScript reads path, or stdin when path is "-". Blank scripts are
// input errors.
func readScript(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", cli.InputError("reading ddl script", err)
	}

	script := string(data)
	if strings.TrimSpace(script) == "" {
		return "", cli.InputError("ddl script is empty", nil)
	}
	return script, nil
}
