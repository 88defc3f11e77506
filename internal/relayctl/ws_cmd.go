package relayctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aura-webinar/liverelay/internal/relay"
	"github.com/aura-webinar/liverelay/internal/session"
	"github.com/aura-webinar/liverelay/internal/wsclient"
)

// errSuperseded is reported when the relay went back to disconnected before our connect finished.
var errSuperseded = errors.New("connect was superseded by a later command")

func newWatchCmd(g *globals) *cobra.Command {
	var types []string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print every relayed event as one JSON line, reconnecting on loss.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			endpoint, err := g.wsEndpoint()
			if err != nil {
				return err
			}
			only := make(map[string]bool, len(types))
			for _, t := range types {
				only[t] = true
			}
			logger := g.logger()
			c := wsclient.New(endpoint, func(eventType string, data json.RawMessage) {
				if len(only) > 0 && !only[eventType] {
					return
				}
				printEnvelope(g.out, eventType, data)
			}, wsclient.Options{
				Logger: logger,
				OnState: func(s wsclient.State) {
					logger.Debug("subscriber state", zap.String("state", string(s)))
				},
			})
			return c.Run(cmd.Context())
		},
	}
	cmd.Flags().StringSliceVar(&types, "type", nil, "only print these event types (e.g. new-gift,stream-stats)")
	return cmd
}

func newConnectCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "connect <handle>",
		Short: "Attach the relay to a live room and wait until it is connected or has failed.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle := session.NormalizeHandle(args[0])
			if handle == "" {
				return session.ErrInvalidHandle
			}
			endpoint, err := g.wsEndpoint()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
			defer cancel()

			err = sendCommand(ctx, endpoint, g.logger(), relay.TypeConnectTiktok,
				relay.ConnectPayload{Username: handle}, connectOutcome(handle))
			if err != nil {
				return err
			}
			fmt.Fprintf(g.out, "connected to @%s\n", handle)
			return nil
		},
	}
}

// connectOutcome reports whether a frame settles a connect for handle, and how.
func connectOutcome(handle string) func(eventType string, data json.RawMessage) (bool, error) {
	return func(eventType string, data json.RawMessage) (bool, error) {
		switch eventType {
		case relay.TypeError:
			var p relay.ErrorPayload
			if err := json.Unmarshal(data, &p); err != nil || p.Message == "" {
				return true, errors.New("relay reported an error")
			}
			return true, errors.New(p.Message)
		case relay.TypeConnectionStatus:
			var p relay.StatusPayload
			if err := json.Unmarshal(data, &p); err != nil {
				return false, nil
			}
			switch p.Status {
			case relay.StatusConnected:
				if p.Username == handle {
					return true, nil
				}
			case relay.StatusDisconnected:
				if p.Error != "" {
					return true, errors.New(p.Error)
				}
				return true, errSuperseded
			}
		}
		return false, nil
	}
}

// sendCommand opens a one-shot subscription, sends one command and waits until outcome settles it.
// No reconnect is attempted.
func sendCommand(ctx context.Context, endpoint string, logger *zap.Logger, cmdType string, payload any,
	outcome func(eventType string, data json.RawMessage) (bool, error)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	result := make(chan error, 1)
	opened := make(chan struct{})
	var once sync.Once
	c := wsclient.New(endpoint, func(eventType string, data json.RawMessage) {
		if done, err := outcome(eventType, data); done {
			select {
			case result <- err:
			default:
			}
		}
	}, wsclient.Options{
		Policy: wsclient.Policy{MaxAttempts: 0, Interval: time.Second},
		OnState: func(s wsclient.State) {
			if s == wsclient.StateOpen {
				once.Do(func() { close(opened) })
			}
		},
		Logger: logger,
	})

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	select {
	case <-opened:
	case err := <-runErr:
		return fmt.Errorf("open relay websocket: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := c.Send(cmdType, payload); err != nil {
		return fmt.Errorf("send %s: %w", cmdType, err)
	}

	select {
	case err := <-result:
		return err
	case err := <-runErr:
		if err == nil {
			err = ctx.Err()
		}
		return fmt.Errorf("relay closed the connection: %w", err)
	case <-ctx.Done():
		return fmt.Errorf("waiting for relay: %w", ctx.Err())
	}
}

func printEnvelope(out io.Writer, eventType string, data json.RawMessage) {
	frame, err := relay.Encode(eventType, data)
	if err != nil {
		return
	}
	fmt.Fprintln(out, string(frame))
}
