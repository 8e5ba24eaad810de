package main

import (
	"time"

	"github.com/spf13/cobra"

	"service-dispatch/internal/connmgr"
	"service-dispatch/internal/domain"
)

func newTrackCmd(f *clientFlags) *cobra.Command {
	var customer string
	cmd := &cobra.Command{
		Use:   "track <orderID>",
		Short: "Follow an order's courier as a customer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID := args[0]
			d, err := f.dialer(customer, domain.RoleCustomer)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd)
			defer cancel()

			out := &lineWriter{w: cmd.OutOrStdout()}
			t := connmgr.NewTracker(d, orderID, connmgr.TrackerOptions{
				OnLocation: func(orderID string, p domain.Position) {
					at := time.UnixMilli(p.Timestamp).UTC().Format(time.RFC3339)
					out.printf("location order=%s lat=%.6f lon=%.6f at=%s\n", orderID, p.Lat, p.Lon, at)
				},
				OnStatus: func(msg domain.Message) {
					switch {
					case msg.Online != nil:
						out.printf("%s order=%s online=%t\n", msg.Type, msg.OrderID, *msg.Online)
					case msg.Code != "":
						out.printf("%s order=%s code=%s %s\n", msg.Type, msg.OrderID, msg.Code, msg.Error)
					default:
						out.printf("%s order=%s courier=%s\n", msg.Type, msg.OrderID, msg.CourierID)
					}
				},
				OnClosed: func(orderID, reason string) {
					out.printf("closed order=%s reason=%s\n", orderID, reason)
					cancel()
				},
				OnStateChange: func(_, to connmgr.State) { out.printf("state %s\n", to) },
			}, f.logger())

			t.Start(ctx)
			<-ctx.Done()
			_ = t.Close()
			<-t.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&customer, "customer", "customer-sim", "customer id used when minting a token")
	return cmd
}
