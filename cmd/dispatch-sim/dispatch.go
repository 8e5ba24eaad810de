package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"service-dispatch/internal/connmgr"
	"service-dispatch/internal/domain"
)

func newDispatchCmd(f *clientFlags) *cobra.Command {
	var (
		lat, lon   float64
		restaurant string
		timeout    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "dispatch <orderID>",
		Short: "Request the nearest courier for an order as a restaurant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := f.dialer(restaurant, domain.RoleRestaurant)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd)
			defer cancel()
			ctx, cancelTimeout := context.WithTimeout(ctx, timeout)
			defer cancelTimeout()

			w := newStateWatcher()
			c := connmgr.NewDispatcher(d, connmgr.DispatcherOptions{OnStateChange: w.observe}, f.logger())
			c.Start(ctx)
			defer func() {
				_ = c.Close()
				<-c.Done()
			}()

			if err := w.wait(ctx); err != nil {
				return err
			}
			res, err := c.RequestDispatch(ctx, args[0], lat, lon)
			if err != nil {
				return fmt.Errorf("dispatch %s: %w", args[0], err)
			}
			state := "assigned"
			if res.Duplicate {
				state = "already assigned"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "order %s %s to courier %s\n", res.OrderID, state, res.CourierID)
			return nil
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "pickup latitude")
	cmd.Flags().Float64Var(&lon, "lon", 0, "pickup longitude")
	cmd.Flags().StringVar(&restaurant, "restaurant", "restaurant-sim", "restaurant id used when minting a token")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "overall deadline")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")
	return cmd
}
