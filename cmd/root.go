package cmd

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rollcall-project/rollcall/internal/cache"
	bboltCache "github.com/rollcall-project/rollcall/internal/cache/bbolt"
	"github.com/rollcall-project/rollcall/internal/gateway"
	"github.com/rollcall-project/rollcall/internal/push"
	"github.com/rollcall-project/rollcall/internal/record"
	"github.com/rollcall-project/rollcall/internal/service"
)

var (
	// persistent flags
	cfgFile          string
	enableDebugMode  bool
	truncateDebugLog bool

	flagAPIURL        string
	flagPushURL       string
	flagAPIKey        string
	flagCacheFile     string
	flagNoDurableSync bool
)

var rootCmd = &cobra.Command{
	Use:   "rollcall",
	Short: "Cache-first attendance sync client",
	Long: `Rollcall keeps a local, persistent copy of the employee roster and its
attendance records, partitioned by cluster. Queries answer instantly from the
cache while revalidating against the remote store in the background, and a
push channel keeps watched clusters converging in real time.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return setupLogging()
	},
}

var setupLog = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().
	Timestamp().
	Logger()

// debugLogFile stays open for the process lifetime; closed in Execute.
var debugLogFile *os.File

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is $HOME/.rollcall.yaml)")
	rootCmd.PersistentFlags().BoolVar(&enableDebugMode, "debug", false,
		"Enable debug mode, which will print additional information to the debug.log file")
	rootCmd.PersistentFlags().BoolVar(&truncateDebugLog, "truncate-debug", false,
		"Truncate the debug.log file on startup, if it exists")

	rootCmd.PersistentFlags().StringVar(&flagAPIURL, "api-url", "",
		"Base URL of the remote attendance store")
	rootCmd.PersistentFlags().StringVar(&flagPushURL, "push-url", "",
		"WebSocket URL of the push-update channel")
	rootCmd.PersistentFlags().StringVar(&flagAPIKey, "api-key", "",
		"API key for the remote store and the push channel")
	defaultCache := "rollcall-cache.db"
	if home, err := os.UserHomeDir(); err == nil {
		defaultCache = filepath.Join(home, ".rollcall-cache.db")
	}
	rootCmd.PersistentFlags().StringVar(&flagCacheFile, "cache", defaultCache,
		"Path to the local cache database file")
	rootCmd.PersistentFlags().BoolVar(&flagNoDurableSync, "no-durable-sync", false,
		"Skip fsync on every cache write (the cache can always be refetched)")

	mustBind("api-url",
		viper.BindPFlag("api-url", rootCmd.PersistentFlags().Lookup("api-url")))
	mustBind("push-url",
		viper.BindPFlag("push-url", rootCmd.PersistentFlags().Lookup("push-url")))
	mustBind("api-key",
		viper.BindPFlag("api-key", rootCmd.PersistentFlags().Lookup("api-key")))
	mustBind("cache",
		viper.BindPFlag("cache", rootCmd.PersistentFlags().Lookup("cache")))
	mustBind("no-durable-sync",
		viper.BindPFlag("no-durable-sync", rootCmd.PersistentFlags().Lookup("no-durable-sync")))
}

func Execute() {
	err := rootCmd.Execute()
	if debugLogFile != nil {
		_ = debugLogFile.Close()
	}
	if err != nil {
		os.Exit(1)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".rollcall")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		setupLog.Info().Msgf("Using config file: %s", viper.ConfigFileUsed())
	}
}

// setupLogging routes the package-level logger either to stderr or, in debug
// mode, additionally to debug.log.
func setupLogging() error {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().
		Timestamp().
		Logger().
		Level(zerolog.WarnLevel)

	if !enableDebugMode {
		return nil
	}
	fileMode := os.O_CREATE | os.O_WRONLY
	if truncateDebugLog {
		fileMode |= os.O_TRUNC
	} else {
		fileMode |= os.O_APPEND
	}
	logFile, err := os.OpenFile("debug.log", fileMode, 0o644)
	if err != nil {
		return err
	}
	debugLogFile = logFile
	log.Logger = zerolog.New(logFile).With().
		Timestamp().
		Caller().
		Logger().
		Level(zerolog.DebugLevel)
	return nil
}

// knownClusters returns the configured cluster set, or the default.
func knownClusters() []record.Cluster {
	configured := viper.GetStringSlice("clusters")
	if len(configured) == 0 {
		return record.DefaultClusters
	}
	out := make([]record.Cluster, len(configured))
	for i, c := range configured {
		out[i] = record.Cluster(c)
	}
	return out
}

// scopeFromArg maps a positional cluster argument to a scope; no argument or
// "all" selects the whole dataset.
func scopeFromArg(args []string) record.Scope {
	if len(args) == 0 || args[0] == string(record.ScopeAll) {
		return record.ScopeAll
	}
	return record.ClusterScope(record.NormalizeCluster(knownClusters(), args[0]))
}

func newCache() *cache.Cache {
	path := viper.GetString("cache")
	durable := !viper.GetBool("no-durable-sync")
	return cache.New(log.Logger, func() (cache.Store, error) {
		return bboltCache.New(path, nil, durable)
	})
}

func newGateway() (*gateway.Client, error) {
	return gateway.New(gateway.Config{
		BaseURL: viper.GetString("api-url"),
		APIKey:  viper.GetString("api-key"),
	}, log.Logger)
}

func newChannel() *push.Channel {
	return push.New(push.Config{
		URL:    viper.GetString("push-url"),
		APIKey: viper.GetString("api-key"),
	}, log.Logger)
}

// newService wires cache, gateway and coordinator for a one-shot command.
func newService() (*service.Service, *cache.Cache, error) {
	c := newCache()
	gw, err := newGateway()
	if err != nil {
		return nil, nil, err
	}
	return service.New(c, gw, log.Logger), c, nil
}

func mustBind(flagName string, err error) {
	if err != nil {
		setupLog.Fatal().Err(err).Msgf("Failed to bind flag %s", flagName)
	}
}
