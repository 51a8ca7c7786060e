package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// envPrefix namespaces every environment variable, e.g. OAUTH_ISSUER_SIGNING_SECRET
const envPrefix = "OAUTH_ISSUER"

func newRootCommand() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "oauth-issuer",
		Short:         "OAuth 2.0 authorization server issuing PKCE-bound codes and signed access/refresh tokens",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfigFile(v)
		},
	}

	persistent := cmd.PersistentFlags()
	persistent.StringP("config", "c", "", "path to a YAML, TOML or JSON config file")
	persistent.String("log-level", "info", "log level (debug, info, warn, error)")
	persistent.String("log-format", "text", "log format (text, json)")
	persistent.String("storage", storageMemory, "storage backend (memory, valkey, postgres)")
	persistent.String("valkey-addr", "localhost:6379", "Valkey server address")
	persistent.String("valkey-password", "", "Valkey password")
	persistent.Int("valkey-db", 0, "Valkey database number")
	persistent.String("valkey-prefix", "oauth:", "prefix for every Valkey key")
	persistent.String("postgres-dsn", "", "PostgreSQL connection string")
	persistent.Int32("postgres-max-conns", 0, "PostgreSQL pool size (0 keeps the driver default)")
	bindFlags(v, persistent)

	bindEnv(v)

	cmd.AddCommand(newServeCommand(v))
	cmd.AddCommand(newClientsCommand(v))

	return cmd
}

// bindFlags binds every flag in fs to the viper key of the same name
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) {
	fs.VisitAll(func(flag *pflag.Flag) {
		if err := v.BindPFlag(flag.Name, flag); err != nil {
			panic(fmt.Sprintf("bind flag %q: %v", flag.Name, err))
		}
	})
}

// bindEnv maps every key to OAUTH_ISSUER_<KEY> with dashes turned into underscores.
// List keys read from the environment are split on whitespace.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// loadConfigFile reads the --config file, if any. Flags and environment
// variables take precedence over its values.
func loadConfigFile(v *viper.Viper) error {
	path := strings.TrimSpace(v.GetString("config"))
	if path == "" {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("config file %q: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config file %q is a directory", path)
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %q: %w", path, err)
	}
	return nil
}

// newLogger builds the process logger from log-level and log-format
func newLogger(v *viper.Viper, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString("log-level"))); err != nil {
		return nil, fmt.Errorf("invalid log-level %q", v.GetString("log-level"))
	}

	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log-format %q (want text or json)", v.GetString("log-format"))
	}
}
