package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var errPurgeUnsupported = errors.New("this ledger driver expires entries on its own")

type purger interface {
	Purge(ctx context.Context) (int64, error)
}

func newLedgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Maintain the processed webhook event ledger",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete expired processed-event entries",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			p, ok := a.ledger.(purger)
			if !ok {
				return fmt.Errorf("%w: LEDGER_DRIVER=%s", errPurgeUnsupported, a.cfg.LedgerDriver)
			}
			n, err := p.Purge(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "purged %d entries\n", n)
			return err
		}),
	})

	return cmd
}
