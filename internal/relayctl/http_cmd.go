package relayctl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"
)

// streamKinds are the entry lists served under /api/streams/:username.
var streamKinds = map[string]bool{
	"messages": true,
	"gifts":    true,
	"likes":    true,
	"follows":  true,
	"shares":   true,
	"members":  true,
}

type apiBody struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// call performs one API request and returns the data of a successful envelope.
func (g *globals) call(ctx context.Context, method string, query map[string]string, body any, elem ...string) (json.RawMessage, error) {
	u, err := g.endpoint(elem...)
	if err != nil {
		return nil, err
	}
	if len(query) > 0 {
		q := u.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env apiBody
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode response (%s): %w", resp.Status, err)
	}
	if !env.Success {
		return nil, fmt.Errorf("%s: %s", resp.Status, env.Error)
	}
	return env.Data, nil
}

func (g *globals) printJSON(data json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err := g.out.Write(buf.Bytes())
	return err
}

func newDisconnectCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Detach the relay from its live room.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
			defer cancel()
			data, err := g.call(ctx, http.MethodPost, nil, nil, "api", "disconnect")
			if err != nil {
				return err
			}
			return g.printJSON(data)
		},
	}
}

func newStatusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the upstream connection state.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
			defer cancel()
			data, err := g.call(ctx, http.MethodGet, nil, nil, "api", "status")
			if err != nil {
				return err
			}
			return g.printJSON(data)
		},
	}
}

func newStreamCmd(g *globals) *cobra.Command {
	var (
		kind  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "stream <handle>",
		Short: "Show a session, or its recent entries with --kind.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			elem := []string{"api", "streams", args[0]}
			var query map[string]string
			if kind != "" {
				if !streamKinds[kind] {
					return fmt.Errorf("unknown kind %q (messages, gifts, likes, follows, shares, members)", kind)
				}
				elem = append(elem, kind)
				if limit > 0 {
					query = map[string]string{"limit": strconv.Itoa(limit)}
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
			defer cancel()
			data, err := g.call(ctx, http.MethodGet, query, nil, elem...)
			if err != nil {
				return err
			}
			return g.printJSON(data)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "entry list to show: messages, gifts, likes, follows, shares or members")
	cmd.Flags().IntVar(&limit, "limit", 0, "number of newest entries (server default when 0)")
	return cmd
}
