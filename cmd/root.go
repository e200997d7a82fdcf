package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/matchatime/sessiond/cmd/tokens"
	"github.com/matchatime/sessiond/cmd/users"
	"github.com/matchatime/sessiond/internal/config"
)

var (
	cfg        *config.Config
	logger     *slog.Logger
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "sessiond",
	Short: "Session and identity server",
	Long: `sessiond issues short-lived access tokens and rotating refresh tokens for
password and Google sign-in, and serves the HTTP endpoints browsers use to manage them.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read config file %s: %w", configFile, err)
			}
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		logger = newLogger(cfg.Debug)
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Path to a YAML, TOML or JSON config file")
	flags.String("db-url", "", "Database connection URL (env: SESSIOND_DATABASE_URL)")
	flags.String("server-addr", "", "Server bind address (env: SESSIOND_SERVER_ADDR)")
	flags.String("environment", "", "development or production (env: SESSIOND_ENVIRONMENT)")
	flags.Bool("debug", false, "Enable debug logging (env: SESSIOND_DEBUG)")

	_ = viper.BindPFlag("database_url", flags.Lookup("db-url"))
	_ = viper.BindPFlag("server_addr", flags.Lookup("server-addr"))
	_ = viper.BindPFlag("environment", flags.Lookup("environment"))
	_ = viper.BindPFlag("debug", flags.Lookup("debug"))

	rootCmd.AddCommand(users.UsersCmd)
	rootCmd.AddCommand(tokens.TokensCmd)
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
