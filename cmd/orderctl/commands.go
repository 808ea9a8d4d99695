package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/go-engagement-orderflow/internal/app"
	"github.com/imrishuroy/go-engagement-orderflow/internal/config"
	"github.com/imrishuroy/go-engagement-orderflow/internal/orders"
)

// withApp loads configuration from the environment, builds the app and closes it after fn.
func withApp(cmd *cobra.Command, fn func(a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a, err := app.New(cmd.Context(), cfg, app.NewLogger(&config.Config{LogLevel: "warn", RunLocal: true}))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one reconciliation sweep and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app.App) error {
				report, err := a.Scheduler.RunSweep(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}

func webhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Manage the payment gateway notification URL",
	}

	register := &cobra.Command{
		Use:   "register",
		Short: "Register the notification URL and print the notification id",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, _ := cmd.Flags().GetString("url")
			method, _ := cmd.Flags().GetString("method")
			return withApp(cmd, func(a *app.App) error {
				id, err := a.Gateway.RegisterWebhook(cmd.Context(), url, method)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "notification_id: %s\n", id)
				fmt.Fprintln(cmd.OutOrStdout(), "set GATEWAY_NOTIFICATION_ID to this value")
				return nil
			})
		},
	}
	register.Flags().String("url", "", "Public URL of /payment/ipn")
	register.Flags().String("method", "GET", "Notification method (GET or POST)")
	_ = register.MarkFlagRequired("url")

	cmd.AddCommand(register)
	return cmd
}

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the supplier service catalog",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List supplier services",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app.App) error {
				if a.Catalog.LoadedAt().IsZero() {
					return fmt.Errorf("catalog could not be loaded from the supplier")
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tCATEGORY\tNAME\tRATE\tMIN\tMAX")
				for _, s := range a.Catalog.Services() {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%d\n", s.ID, s.Category, s.Name, s.Rate.String(), s.Min, s.Max)
				}
				return tw.Flush()
			})
		},
	})
	return cmd
}

func orderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Inspect and repair orders",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [order-id]",
		Short: "Print one order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app.App) error {
				o, err := a.Engine.GetOrder(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), o)
			})
		},
	})

	force := &cobra.Command{
		Use:   "force-status [order-id] [status]",
		Short: "Move an order along a legal transition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			note, _ := cmd.Flags().GetString("note")
			return withApp(cmd, func(a *app.App) error {
				to := orders.Status(strings.ToUpper(args[1]))
				o, err := a.Engine.AdminForceStatus(cmd.Context(), args[0], to, note)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), o)
			})
		},
	}
	force.Flags().String("note", "", "Reason recorded on the order")
	cmd.AddCommand(force)

	return cmd
}

func supplierCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "supplier",
		Short: "Supplier account operations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "balance",
		Short: "Print the supplier account balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app.App) error {
				bal, err := a.Engine.SupplierBalance(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", bal.Amount.StringFixed(2), bal.Currency)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "refill-status [refill-id]",
		Short: "Print the status of a refill request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app.App) error {
				status, err := a.Supplier.RefillStatus(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), status)
				return nil
			})
		},
	})
	return cmd
}
