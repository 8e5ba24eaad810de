package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"service-dispatch/internal/auth"
	"service-dispatch/internal/domain"
)

func newTokenCmd(f *clientFlags) *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an identity token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.secret == "" {
				return fmt.Errorf("--secret is required")
			}
			tok, err := auth.Issue(f.secret, subject, domain.Role(role), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "", "subject (courier, restaurant or customer id)")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleCourier), "courier, restaurant or customer")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime, 0 for no expiry")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}
