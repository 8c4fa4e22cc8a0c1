package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or change the persisted configuration",
}

var configGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the effective configuration",
	RunE: func(_ *cobra.Command, _ []string) error {
		fmt.Printf("api-url:  %s\n", viper.GetString("api-url"))
		fmt.Printf("push-url: %s\n", viper.GetString("push-url"))
		fmt.Printf("api-key:  %s\n", maskKey(viper.GetString("api-key")))
		fmt.Printf("cache:    %s\n", viper.GetString("cache"))
		fmt.Printf("clusters: %s\n", strings.Join(viper.GetStringSlice("clusters"), ", "))
		return nil
	},
}

var settableKeys = map[string]struct{}{
	"api-url":  {},
	"push-url": {},
	"api-key":  {},
	"cache":    {},
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY=VALUE...",
	Short: "Persist configuration values",
	Long: `Set writes the given values to the config file. A running watch session
picks changed endpoint or credential values up on SIGHUP and reconnects the
push channel with them.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		for _, pair := range args {
			key, value, ok := strings.Cut(pair, "=")
			if !ok {
				return fmt.Errorf("invalid argument %q, want KEY=VALUE", pair)
			}
			if _, settable := settableKeys[key]; !settable {
				return fmt.Errorf("unknown config key %q", key)
			}
			viper.Set(key, value)
		}
		if err := viper.WriteConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return err
			}
			if err := viper.SafeWriteConfig(); err != nil {
				return err
			}
		}
		fmt.Printf("wrote %s\n", viper.ConfigFileUsed())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(configCmd)
}

func maskKey(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return key[:2] + strings.Repeat("*", len(key)-4) + key[len(key)-2:]
}
