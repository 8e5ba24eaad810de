package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"service-dispatch/internal/auth"
	"service-dispatch/internal/connmgr"
	"service-dispatch/internal/domain"
	"service-dispatch/internal/logx"
	"service-dispatch/internal/transport/ws"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

const defaultURL = "ws://localhost:8080/ws"

// clientFlags are shared by every command that opens a connection.
type clientFlags struct {
	url      string
	token    string
	secret   string
	logLevel string
}

func newRootCmd() *cobra.Command {
	f := &clientFlags{}
	cmd := &cobra.Command{
		Use:           "dispatch-sim",
		Short:         "Simulated couriers, customers and restaurants for service-dispatch",
		Long:          "dispatch-sim drives the dispatch websocket endpoint the way real clients do.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&f.url, "url", defaultURL, "websocket endpoint")
	pf.StringVar(&f.token, "token", "", "identity token")
	pf.StringVar(&f.secret, "secret", os.Getenv("AUTH_JWT_SECRET"), "signing secret used to mint a token when --token is empty")
	pf.StringVar(&f.logLevel, "log-level", "warn", "client log level")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newTokenCmd(f))
	cmd.AddCommand(newCourierCmd(f))
	cmd.AddCommand(newTrackCmd(f))
	cmd.AddCommand(newDispatchCmd(f))
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dispatch-sim %s (commit: %s)\n", Version, Commit)
		},
	}
}

// dialer resolves the token for subject/role and returns a websocket dialer.
func (f *clientFlags) dialer(subject string, role domain.Role) (*ws.Dialer, error) {
	token := f.token
	if token == "" {
		if f.secret == "" {
			return nil, errors.New("either --token or --secret is required")
		}
		var err error
		token, err = auth.Issue(f.secret, subject, role, time.Hour)
		if err != nil {
			return nil, fmt.Errorf("issue token: %w", err)
		}
	}
	return &ws.Dialer{URL: f.url, Token: token, HandshakeTimeout: 5 * time.Second}, nil
}

func (f *clientFlags) logger() logx.Logger {
	return logx.NewJSON(os.Stderr, f.logLevel).With(logx.String("service", "dispatch-sim"))
}

// stateWatcher signals every transition into StateConnected.
type stateWatcher struct {
	connected chan struct{}
}

func newStateWatcher() *stateWatcher {
	return &stateWatcher{connected: make(chan struct{}, 1)}
}

func (w *stateWatcher) observe(_, to connmgr.State) {
	if to != connmgr.StateConnected {
		return
	}
	select {
	case w.connected <- struct{}{}:
	default:
	}
}

func (w *stateWatcher) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("waiting for connection: %w", ctx.Err())
	case <-w.connected:
		return nil
	}
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func execute(cmd *cobra.Command) int {
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
