package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage accounts",
	}
	cmd.AddCommand(newAccountCreateCmd())
	return cmd
}

func newAccountCreateCmd() *cobra.Command {
	var (
		name     string
		currency string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account statements can be imported into",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			account, err := a.finance.CreateAccount(ctx, name, currency)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "account %s created: %s (%s)\n",
				account.ID, account.Name, account.Currency)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "account name")
	cmd.Flags().StringVar(&currency, "currency", "EUR", "ISO currency code")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
