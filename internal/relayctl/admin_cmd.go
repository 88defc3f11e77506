package relayctl

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/aura-webinar/liverelay/internal/auth"
	"github.com/aura-webinar/liverelay/internal/relay"
	"github.com/aura-webinar/liverelay/pkg/queue"
	"github.com/aura-webinar/liverelay/pkg/redis"
)

func newTokenCmd(g *globals) *cobra.Command {
	var (
		secret      string
		subject     string
		role        string
		expireHours int
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a token signed with the relay's JWT secret.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if secret == "" {
				return errors.New("--secret (or JWT_SECRET) is required")
			}
			token, err := auth.NewJWTService(secret, expireHours).Generate(subject, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(g.out, token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "signing secret")
	cmd.Flags().StringVar(&subject, "subject", "relayctl", "token subject")
	cmd.Flags().StringVar(&role, "role", auth.RoleOperator, "operator or viewer")
	cmd.Flags().IntVar(&expireHours, "expire-hours", envInt("JWT_EXPIRE_HOURS", 24), "token lifetime in hours")
	return cmd
}

// redisFlags are the connection flags of the Redis-backed commands.
type redisFlags struct {
	addr     string
	password string
	db       int
}

func (f *redisFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.addr, "redis-addr", envOr("REDIS_ADDR", "localhost:6379"), "Redis address")
	cmd.Flags().StringVar(&f.password, "redis-password", os.Getenv("REDIS_PASSWORD"), "Redis password")
	cmd.Flags().IntVar(&f.db, "redis-db", envInt("REDIS_DB", 0), "Redis database")
}

func (f *redisFlags) options() redis.Options {
	return redis.Options{Addr: f.addr, Password: f.password, DB: f.db}
}

func newTailCmd(g *globals) *cobra.Command {
	var (
		rf      redisFlags
		channel string
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow the event frames mirrored to Redis.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := g.logger()
			rdb, err := redis.NewClient(ctx, rf.options(), logger)
			if err != nil {
				return err
			}
			defer rdb.Close()

			mirror := relay.NewRedisMirror(rdb.Client, channel, logger)
			stop, err := mirror.Subscribe(ctx, func(frame []byte) {
				fmt.Fprintln(g.out, string(frame))
			})
			if err != nil {
				return err
			}
			defer stop()
			<-ctx.Done()
			return nil
		},
	}
	rf.bind(cmd)
	cmd.Flags().StringVar(&channel, "channel", envOr("REDIS_EVENTS_CHANNEL", relay.DefaultEventsChannel), "mirror channel")
	return cmd
}

func newQueueCmd(g *globals) *cobra.Command {
	var rf redisFlags
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Show how many archive jobs are waiting and how many were dead-lettered.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := g.logger()
			rdb, err := redis.NewClient(ctx, rf.options(), logger)
			if err != nil {
				return err
			}
			defer rdb.Close()

			pending, dead, err := queue.NewQueue(rdb.Client, logger).Pending(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(g.out, "%s\t%d\n%s\t%d\n", queue.QueueArchive, pending, queue.QueueDLQ, dead)
			return nil
		},
	}
	rf.bind(cmd)
	return cmd
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
