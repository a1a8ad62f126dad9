package main

import (
	"fmt"
	"os"

	"github.com/function61/gokit/dynversion"
	"github.com/function61/gokit/osutil"
	"github.com/spf13/cobra"
)

func main() {
	app := &cobra.Command{
		Use:     os.Args[0],
		Short:   "CertWatch tracks TLS certificate lifecycles so renewals don't surprise you",
		Version: dynversion.Version,
	}

	app.AddCommand(serverEntry())
	app.AddCommand(sweepEntry())
	app.AddCommand(importExcelEntry())
	app.AddCommand(acmSyncEntry())
	app.AddCommand(hostScanEntry())
	app.AddCommand(listEntry())
	app.AddCommand(inspectEntry())
	app.AddCommand(setEntry())
	app.AddCommand(lambdaEntry())

	if err := app.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func serverEntry() *cobra.Command {
	addr := ":8080"

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the dashboard API + ticketing webhook server",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if err := server(osutil.CancelOnInterruptOrTerminate(nil), addr); err != nil {
				panic(err)
			}
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "", addr, "Address to listen on")

	return cmd
}

func sweepEntry() *cobra.Command {
	dryRun := false
	noNotify := false
	noTickets := false
	twoTier := false

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Reconcile every certificate's status, send alerts, open tickets",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if err := runSweep(osutil.CancelOnInterruptOrTerminate(nil), sweepFlags{
				dryRun:    dryRun,
				noNotify:  noNotify,
				noTickets: noTickets,
				twoTier:   twoTier,
			}); err != nil {
				panic(err)
			}
		},
	}

	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", dryRun, "Report what would change without writing or sending anything")
	cmd.Flags().BoolVarP(&noNotify, "no-notify", "", noNotify, "Skip expiry alert emails")
	cmd.Flags().BoolVarP(&noTickets, "no-tickets", "", noTickets, "Skip ticket creation")
	cmd.Flags().BoolVarP(&twoTier, "two-tier", "", twoTier, "Use the 30/90 day two-tier expiry policy")

	return cmd
}

func importExcelEntry() *cobra.Command {
	return &cobra.Command{
		Use:   "import-excel [bucket] [key]",
		Short: "Import a certificate spreadsheet from S3",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			if err := importExcel(osutil.CancelOnInterruptOrTerminate(nil), args[0], args[1]); err != nil {
				panic(err)
			}
		},
	}
}

func acmSyncEntry() *cobra.Command {
	return &cobra.Command{
		Use:   "acm-sync",
		Short: "Pull certificate inventory from AWS Certificate Manager",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if err := acmSync(osutil.CancelOnInterruptOrTerminate(nil)); err != nil {
				panic(err)
			}
		},
	}
}

func hostScanEntry() *cobra.Command {
	return &cobra.Command{
		Use:   "host-scan",
		Short: "Discover certificates installed on managed servers via SSM",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if err := hostScan(osutil.CancelOnInterruptOrTerminate(nil)); err != nil {
				panic(err)
			}
		},
	}
}

func listEntry() *cobra.Command {
	return &cobra.Command{
		Use:   "cert-list",
		Short: "List tracked certificates",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if err := list(osutil.CancelOnInterruptOrTerminate(nil)); err != nil {
				panic(err)
			}
		},
	}
}

func inspectEntry() *cobra.Command {
	return &cobra.Command{
		Use:   "cert-inspect [id]",
		Short: "Inspect a certificate",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := inspect(osutil.CancelOnInterruptOrTerminate(nil), args[0]); err != nil {
				panic(err)
			}
		},
	}
}

func setEntry() *cobra.Command {
	owner := ""
	support := ""
	status := ""

	cmd := &cobra.Command{
		Use:   "cert-set [id]",
		Short: "Set a certificate's contacts or status by hand",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := set(osutil.CancelOnInterruptOrTerminate(nil), args[0], owner, support, status); err != nil {
				panic(err)
			}
		},
	}

	cmd.Flags().StringVarP(&owner, "owner", "", owner, "Owner email")
	cmd.Flags().StringVarP(&support, "support", "", support, "Support email")
	cmd.Flags().StringVarP(&status, "status", "", status, `Status (e.g. "Renewal in Progress", "Renewal Done")`)

	return cmd
}
