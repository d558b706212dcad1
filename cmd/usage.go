package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/tokengate/pkg/config"
	"github.com/dmitrymomot/tokengate/pkg/entitlement"
	"github.com/dmitrymomot/tokengate/svc/metering"
)

func newUsageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Inspect token usage",
	}

	cmd.AddCommand(newUsageShowCmd(), newUsageDevicesCmd())

	return cmd
}

func newUsageShowCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <account-id|email>",
		Short: "Show the usage and allowance of an account",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			ctx := cmd.Context()

			var policy entitlement.Policy
			if err := config.Load(&policy); err != nil {
				return fmt.Errorf("load policy: %w", err)
			}

			acct, err := lookupAccount(ctx, a.store, args[0])
			if err != nil {
				return err
			}
			snap, err := metering.NewService(a.store, policy, metering.WithLogger(a.log)).Usage(ctx, acct.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}

			status := "allowed"
			if !snap.Decision.Allowed {
				status = "blocked (" + string(snap.Decision.Reason) + ")"
			}
			_, err = fmt.Fprintf(out,
				"account:     %s\nemail:       %s\npaid:        %t\nused:        %d\nlimit:       %d\nremaining:   %d\nstatus:      %s\n",
				snap.AccountID, acct.Email, snap.PaidSubscription, snap.TotalTokens, snap.TrialTokenLimit, snap.Remaining, status,
			)
			return err
		}),
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")

	return cmd
}

var errHistoryUnsupported = errors.New("this store driver does not keep binding history")

type bindingHistorian interface {
	BindingHistory(ctx context.Context, fingerprint string) ([]entitlement.DeviceBinding, error)
}

func newUsageDevicesCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "devices <fingerprint>",
		Short: "List which accounts a device fingerprint has been bound to",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			h, ok := a.store.(bindingHistorian)
			if !ok {
				return fmt.Errorf("%w: STORE_DRIVER=%s", errHistoryUnsupported, a.cfg.StoreDriver)
			}
			history, err := h.BindingHistory(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(history)
			}
			return writeBindings(out, args[0], history)
		}),
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")

	return cmd
}

func writeBindings(w io.Writer, fp string, history []entitlement.DeviceBinding) error {
	if len(history) == 0 {
		_, err := fmt.Fprintf(w, "no bindings for %s\n", fp)
		return err
	}
	for _, b := range history {
		state := "active"
		if !b.Active() {
			state = "superseded " + b.SupersededAt.Format(time.RFC3339)
		}
		if _, err := fmt.Fprintf(w, "%s  %-24s seed=%d  %s\n",
			b.CreatedAt.Format(time.RFC3339), b.AccountID, b.TrialConsumedTokens, state); err != nil {
			return err
		}
	}
	return nil
}
