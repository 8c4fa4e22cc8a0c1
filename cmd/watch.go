package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rollcall-project/rollcall/internal/gateway"
	"github.com/rollcall-project/rollcall/internal/push"
	"github.com/rollcall-project/rollcall/internal/record"
	"github.com/rollcall-project/rollcall/internal/service"
	"github.com/rollcall-project/rollcall/internal/submux"
	"github.com/rollcall-project/rollcall/internal/util"
)

var flagWatchFilter string

var watchCmd = &cobra.Command{
	Use:   "watch [CLUSTERS...]",
	Short: "Watch clusters live and print every attendance change",
	Long: `Watch subscribes to the push channel for the given clusters (or the whole
dataset when none are given) and prints the refreshed view on every change.
Multiple clusters share one physical connection. SIGHUP re-reads the config
file and reconnects with the new endpoint and credentials.`,
	ValidArgsFunction: clusterCompletion,
	RunE:              runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&flagWatchFilter, "filter", "f", "All()",
		"Filter expression selecting which rows to print")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	prog, err := expr.Compile(flagWatchFilter, expr.Env(util.RowEnv{}), expr.AsBool())
	if err != nil {
		return fmt.Errorf("compiling filter expression: %w", err)
	}

	c := newCache()
	defer func() { _ = c.Close() }()
	gw, err := newGateway()
	if err != nil {
		return err
	}
	svc := service.New(c, gw, log.Logger)

	channel := newChannel()
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	if err := channel.Connect(ctx); err != nil {
		return fmt.Errorf("connecting push channel: %w", err)
	}
	defer func() { _ = channel.Close() }()

	mux := submux.New(svc, channel, log.Logger)
	defer mux.Close()

	scopes := scopesFromArgs(args)
	for _, scope := range scopes {
		unsubscribe, err := mux.Subscribe(ctx, scope, submux.Subscriber{
			OnRows:  printFiltered(prog),
			OnError: func(err error) { log.Warn().Err(err).Msg("subscription error") },
		})
		if err != nil {
			return err
		}
		defer unsubscribe()
	}
	setupLog.Info().Msgf("Watching %d scope(s), press Ctrl+C to exit", len(scopes))

	// SIGHUP: re-read config, reconnect gateway + channel with new credentials
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			if err := reloadConfig(ctx, gw, channel); err != nil {
				log.Error().Err(err).Msg("reconfigure failed, keeping old connection settings")
			} else {
				setupLog.Info().Msg("Reconfigured from config file")
			}
		}
	}
}

func scopesFromArgs(args []string) []record.Scope {
	if len(args) == 0 {
		return []record.Scope{record.ScopeAll}
	}
	known := knownClusters()
	seen := make(map[record.Scope]struct{}, len(args))
	var scopes []record.Scope
	for _, arg := range args {
		scope := record.ScopeAll
		if arg != string(record.ScopeAll) {
			scope = record.ClusterScope(record.NormalizeCluster(known, arg))
		}
		if _, dup := seen[scope]; dup {
			continue
		}
		seen[scope] = struct{}{}
		scopes = append(scopes, scope)
	}
	return scopes
}

func printFiltered(prog *vm.Program) func([]record.Row) {
	return func(rows []record.Row) {
		var keep []record.Row
		for _, row := range rows {
			pass, err := expr.Run(prog, util.RowEnv{Row: row})
			if err != nil {
				log.Warn().Err(err).Str("id", row.ID).Msg("filter expression failed for row")
				continue
			}
			if pass.(bool) {
				keep = append(keep, row)
			}
		}
		printRows(keep)
		fmt.Println()
	}
}

func reloadConfig(ctx context.Context, gw *gateway.Client, channel *push.Channel) error {
	if err := viper.ReadInConfig(); err != nil {
		return err
	}
	cfg := gateway.Config{
		BaseURL: viper.GetString("api-url"),
		APIKey:  viper.GetString("api-key"),
	}
	if err := gw.Reconfigure(cfg); err != nil {
		return err
	}
	return channel.Reconfigure(ctx, push.Config{
		URL:    viper.GetString("push-url"),
		APIKey: viper.GetString("api-key"),
	})
}
