package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/tokengate/pkg/entitlement"
	"github.com/dmitrymomot/tokengate/pkg/logger"
)

// newSubscriptionCmd is the support path for payments whose webhook could not
// be matched to an account.
func newSubscriptionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscription",
		Short: "Grant or revoke the paid subscription of an account",
	}

	cmd.AddCommand(
		newSubscriptionSetCmd("grant <account-id|email>", "Mark an account as paid", true),
		newSubscriptionSetCmd("revoke <account-id|email>", "Remove the paid subscription of an account", false),
	)

	return cmd
}

func newSubscriptionSetCmd(use, short string, paid bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			ctx := cmd.Context()

			acct, err := lookupAccount(ctx, a.store, args[0])
			if err != nil {
				return err
			}
			if err := a.store.SetPaidSubscription(ctx, acct.ID, paid); err != nil {
				return err
			}

			a.log.InfoContext(ctx, "subscription changed by operator",
				logger.Event("subscription_manual"),
				logger.AccountID(acct.ID),
			)
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tpaid_subscription=%t\n", acct.ID, acct.Email, paid)
			return err
		}),
	}
}

// lookupAccount accepts either an account id or an email address.
func lookupAccount(ctx context.Context, store entitlement.Store, ref string) (*entitlement.Account, error) {
	ref = strings.TrimSpace(ref)
	if strings.Contains(ref, "@") {
		acct, err := store.FindAccountByEmail(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ref, err)
		}
		return acct, nil
	}
	acct, err := store.GetAccount(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ref, err)
	}
	return acct, nil
}
