package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pthm/pgsupporter/internal/cli"
	"github.com/pthm/pgsupporter/internal/doctor"
)

var (
	doctorSchema  string
	doctorVerbose bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run health checks",
	Long:  `Run health checks on the configured database: connectivity, transactions and schema.`,
	Example: `  # Run health checks
  pgsupporter doctor --db postgres://localhost/mydb

  # Check a tenant schema and show check details
  pgsupporter doctor --schema tenant_a --details`,
	RunE: func(cmd *cobra.Command, args []string) error {
		schema := resolveString(doctorSchema, cfg.Schema)
		verboseFlag := resolveBool(doctorVerbose, cfg.Doctor.Verbose, verbose > 0)

		dsn, err := resolveDSN()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		src, err := openSource(ctx, dsn)
		if err != nil {
			return err
		}
		defer src.Close()

		out := cmd.OutOrStdout()
		if !quiet {
			fmt.Fprintln(out, "pgsupporter doctor - Health Check")
		}

		d := doctor.New(src,
			doctor.WithSchema(schema),
			doctor.WithTarget(cli.RedactDSN(dsn)),
			doctor.WithLogger(logger))
		report, err := d.Run(ctx)
		if err != nil {
			return cli.GeneralError("running doctor", err)
		}

		report.Print(out, verboseFlag)

		if report.HasErrors() {
			return cli.GeneralError("health checks failed", nil)
		}
		return nil
	},
}

func init() {
	f := doctorCmd.Flags()
	f.StringVar(&doctorSchema, "schema", "", "schema to check (default: config schema)")
	f.BoolVar(&doctorVerbose, "details", false, "show check details")
}
