package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/MrEthical07/templock"
	"github.com/MrEthical07/templock/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type app struct {
	v       *viper.Viper
	cfgPath string
	debug   bool
}

func newRootCommand() *cobra.Command {
	a := &app{v: config.New()}

	root := &cobra.Command{
		Use:           "templock",
		Short:         "Inspect and drive temporary lockouts",
		Long:          "templock records attempts against items and reports or clears their locks.\nState is only shared between invocations with --store redis.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", "", "config file (yaml, json, or toml)")
	pf.BoolVar(&a.debug, "debug", false, "development logging at debug level")
	pf.String("store", config.StoreMemory, "backend: memory or redis")
	pf.String("redis-addr", "localhost:6379", "redis address")
	pf.String("redis-prefix", "", "redis key prefix (default templock:)")
	pf.Duration("store-timeout", templock.DefaultStoreTimeout, "rolling TTL of attempt counters")

	for key, flag := range map[string]string{
		"store":         "store",
		"redis.addr":    "redis-addr",
		"redis.prefix":  "redis-prefix",
		"store_timeout": "store-timeout",
	} {
		if err := a.v.BindPFlag(key, pf.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	root.AddCommand(
		a.attemptCommand(),
		a.statusCommand(),
		a.lockCommand(),
		a.unlockCommand(),
		a.resetCommand(),
		a.countCommand(),
		a.strategiesCommand(),
	)
	return root
}

func (a *app) newLogger() (*zap.Logger, error) {
	if a.debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// run loads settings, opens the backend and builds an engine for fn. Lock
// events are printed to out.
func (a *app) run(ctx context.Context, out io.Writer, fn func(context.Context, *templock.Engine) error) error {
	settings, err := config.Load(a.v, a.cfgPath)
	if err != nil {
		return err
	}
	cfg, err := settings.EngineConfig()
	if err != nil {
		return err
	}

	logger, err := a.newLogger()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	backend, closeBackend, err := settings.OpenBackend(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeBackend(); err != nil {
			logger.Warn("close backend", zap.Error(err))
		}
	}()

	engine, err := templock.New().
		WithConfig(cfg).
		WithStorage(backend).
		WithLogger(logger.With(zap.String("store", settings.Store))).
		WithLockHandler(func(_ context.Context, ev templock.LockEvent) error {
			_, err := fmt.Fprintf(out, "locked %s by %s until %s\n", ev.Item, ev.Strategy.Label(), ev.ExpiresAt.Format(time.RFC3339))
			return err
		}).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	return fn(ctx, engine)
}

func (a *app) attemptCommand() *cobra.Command {
	var repeat int
	cmd := &cobra.Command{
		Use:   "attempt ITEM [CATEGORY...]",
		Short: "Record an attempt for ITEM",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return a.run(cmd.Context(), out, func(ctx context.Context, e *templock.Engine) error {
				for i := 0; i < repeat; i++ {
					if err := e.AddAttempt(ctx, args[0], args[1:]...); err != nil {
						return err
					}
				}
				return printStatus(ctx, out, e, args[0])
			})
		},
	}
	cmd.Flags().IntVarP(&repeat, "repeat", "n", 1, "number of attempts to record")
	return cmd
}

func (a *app) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status ITEM",
		Short: "Report whether ITEM is locked",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return a.run(cmd.Context(), out, func(ctx context.Context, e *templock.Engine) error {
				return printStatus(ctx, out, e, args[0])
			})
		},
	}
}

func (a *app) lockCommand() *cobra.Command {
	var (
		lockFor time.Duration
		name    string
	)
	cmd := &cobra.Command{
		Use:   "lock ITEM",
		Short: "Lock ITEM immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			strategy := templock.Strategy{
				Name:     name,
				Category: templock.Exact(templock.MainCategory),
				Attempts: 1,
				LockFor:  lockFor,
			}
			return a.run(cmd.Context(), cmd.OutOrStdout(), func(ctx context.Context, e *templock.Engine) error {
				return e.Lock(ctx, args[0], strategy)
			})
		},
	}
	cmd.Flags().DurationVar(&lockFor, "for", time.Minute, "lock duration")
	cmd.Flags().StringVar(&name, "name", "manual", "strategy name recorded on the lock event")
	return cmd
}

func (a *app) unlockCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock ITEM",
		Short: "Remove the lock on ITEM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return a.run(cmd.Context(), out, func(ctx context.Context, e *templock.Engine) error {
				if err := e.Unlock(ctx, args[0]); err != nil {
					return err
				}
				_, err := fmt.Fprintf(out, "%s unlocked\n", args[0])
				return err
			})
		},
	}
}

func (a *app) resetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset ITEM [CATEGORY...]",
		Short: "Clear attempt counters of ITEM, all of them when no category is given",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return a.run(cmd.Context(), out, func(ctx context.Context, e *templock.Engine) error {
				if err := e.ResetCounters(ctx, args[0], args[1:]...); err != nil {
					return err
				}
				_, err := fmt.Fprintf(out, "%s counters reset\n", args[0])
				return err
			})
		},
	}
}

func (a *app) countCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "count ITEM [CATEGORY]",
		Short: "Print the attempt counter of ITEM for CATEGORY (default main)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			category := templock.MainCategory
			if len(args) == 2 {
				category = args[1]
			}
			out := cmd.OutOrStdout()
			return a.run(cmd.Context(), out, func(ctx context.Context, e *templock.Engine) error {
				n, err := e.Count(ctx, args[0], category)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(out, "%d\n", n)
				return err
			})
		},
	}
}

func (a *app) strategiesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "strategies [CATEGORY]",
		Short: "List configured strategies, or those matching CATEGORY",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return a.run(cmd.Context(), out, func(_ context.Context, e *templock.Engine) error {
				strategies := e.Strategies()
				if len(args) == 1 {
					var err error
					if strategies, err = e.GetMatchedStrategies(args[0]); err != nil {
						return err
					}
				}
				return printStrategies(out, strategies)
			})
		},
	}
}

func printStatus(ctx context.Context, out io.Writer, e *templock.Engine, item string) error {
	locked, err := e.IsLocked(ctx, item)
	if err != nil {
		return err
	}
	state := "unlocked"
	if locked {
		state = "locked"
	}
	_, err = fmt.Fprintf(out, "%s %s\n", item, state)
	return err
}

func printStrategies(out io.Writer, strategies []templock.Strategy) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join([]string{"NAME", "CATEGORY", "ATTEMPTS", "LOCK FOR"}, "\t"))
	for _, s := range strategies {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.Name, templock.MatcherString(s.Category), s.Attempts, s.LockFor)
	}
	return tw.Flush()
}
