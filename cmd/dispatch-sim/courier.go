package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"service-dispatch/internal/connmgr"
	"service-dispatch/internal/domain"
	"service-dispatch/internal/sim"
)

func newCourierCmd(f *clientFlags) *cobra.Command {
	var (
		routePath string
		id        string
		available bool
		complete  bool
	)
	cmd := &cobra.Command{
		Use:   "courier",
		Short: "Drive a courier along a route file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			route, err := sim.LoadRoute(routePath)
			if err != nil {
				return err
			}
			if id == "" {
				id = route.CourierID
			}
			if id == "" && f.token == "" {
				return fmt.Errorf("courier id is required: set --id or courier_id in the route")
			}
			d, err := f.dialer(id, domain.RoleCourier)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd)
			defer cancel()

			out := &lineWriter{w: cmd.OutOrStdout()}
			var c *connmgr.Courier
			c = connmgr.NewCourier(d, sim.NewSource(route, nil), connmgr.CourierOptions{
				Interval:  route.Interval,
				Available: available,
				OnError: func(err error) {
					if sim.IsDone(err) {
						out.printf("route finished\n")
						cancel()
						return
					}
					out.printf("error: %v\n", err)
				},
				OnMessage: func(msg domain.Message) {
					out.printf("%s order=%s %s\n", msg.Type, msg.OrderID, string(msg.Summary))
					if complete && msg.Type == domain.MsgOrderAssignment && msg.OrderID != "" {
						if err := c.Complete(msg.OrderID); err != nil {
							out.printf("complete %s: %v\n", msg.OrderID, err)
						}
					}
				},
				OnStateChange: func(_, to connmgr.State) { out.printf("state %s\n", to) },
			}, f.logger())

			c.Start(ctx)
			<-ctx.Done()
			_ = c.Close()
			<-c.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&routePath, "route", "", "YAML route file")
	cmd.Flags().StringVar(&id, "id", "", "courier id, overrides courier_id from the route")
	cmd.Flags().BoolVar(&available, "available", true, "announce the courier as available")
	cmd.Flags().BoolVar(&complete, "complete", false, "complete every assigned order right away")
	_ = cmd.MarkFlagRequired("route")
	return cmd
}

// lineWriter serializes output from connection callbacks.
type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lineWriter) printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, format, args...)
}
