// Package relayctl is the operator command line for a running relay.
package relayctl

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	defaultServer  = "http://localhost:8080"
	defaultTimeout = 30 * time.Second
)

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	server  string
	token   string
	timeout time.Duration
	verbose bool
	out     io.Writer
}

func (g *globals) logger() *zap.Logger {
	if !g.verbose {
		return zap.NewNop()
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// endpoint joins path elements onto the server base URL.
func (g *globals) endpoint(elem ...string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(g.server, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url must be http or https, got %q", g.server)
	}
	return u.JoinPath(elem...), nil
}

// wsEndpoint returns the relay websocket URL, carrying the token when one is set.
func (g *globals) wsEndpoint() (string, error) {
	u, err := g.endpoint("ws")
	if err != nil {
		return "", err
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	if g.token != "" {
		q := u.Query()
		q.Set("token", g.token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// NewRootCommand builds the relayctl command tree writing results to out.
func NewRootCommand(out io.Writer) *cobra.Command {
	g := &globals{out: out}
	root := &cobra.Command{
		Use:   "relayctl",
		Short: "Operate and watch a live event relay.",
		Long: `relayctl talks to a running relay server.

  relayctl watch                    print every relayed event, reconnecting on loss
  relayctl connect <handle>         attach the relay to a live room and wait for the result
  relayctl disconnect               detach the relay from its room
  relayctl status                   show the upstream connection state
  relayctl stream <handle>          show a session or its recent entries
  relayctl token                    mint an operator token
  relayctl tail                     follow the Redis event mirror
  relayctl queue                    show archive queue depth`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&g.server, "server", envOr("RELAYCTL_SERVER", defaultServer), "relay base URL")
	root.PersistentFlags().StringVar(&g.token, "token", os.Getenv("RELAYCTL_TOKEN"), "operator token for control commands")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", defaultTimeout, "timeout for one-shot commands")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "log client diagnostics to stderr")

	root.AddCommand(
		newWatchCmd(g),
		newConnectCmd(g),
		newDisconnectCmd(g),
		newStatusCmd(g),
		newStreamCmd(g),
		newTokenCmd(g),
		newTailCmd(g),
		newQueueCmd(g),
	)
	return root
}

// Main runs relayctl with the process arguments.
func Main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := NewRootCommand(os.Stdout).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
