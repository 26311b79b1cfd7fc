// Package config loads paramhubd's deployment configuration: multicast
// group/port/TTL, the RPC listen address, the working/backup database
// paths, the timer-poll interval and the RPC timeout (SPEC_FULL.md's
// Configuration section). Values are layered, lowest to highest priority,
// the way spf13/viper's own documentation prescribes and the way this
// pack's other cobra+viper user (the teacher's sibling repos) composes
// them: compiled-in defaults, an optional TOML file, environment variables
// under the PARAMHUB_ prefix, then command-line flags.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved deployment configuration for one paramhubd
// process.
type Config struct {
	WorkingDBPath     string `mapstructure:"working_db"`
	BackupDBPath      string `mapstructure:"backup_db"`
	DefaultAssetsPath string `mapstructure:"default_assets_path"`
	SchemaPath        string `mapstructure:"schema"`

	MulticastGroup string `mapstructure:"multicast_group"`
	MulticastPort  int    `mapstructure:"multicast_port"`
	MulticastTTL   int    `mapstructure:"multicast_ttl"`
	MulticastIface string `mapstructure:"multicast_iface"`

	RPCListenAddr    string `mapstructure:"rpc_listen_addr"`
	RPCWebSocketPath string `mapstructure:"rpc_websocket_path"`
	RPCTimeoutMS     int    `mapstructure:"rpc_timeout_ms"`

	PollIntervalMS int `mapstructure:"poll_interval_ms"`
}

const envPrefix = "PARAMHUB"

// Defaults matches spec.md §6's fixed multicast group/port and a
// conservative timer-poll interval.
func Defaults() Config {
	return Config{
		WorkingDBPath:    "paramhub_working.db",
		BackupDBPath:     "paramhub_backup.db",
		MulticastGroup:   "239.192.7.1",
		MulticastPort:    7713,
		MulticastTTL:     1,
		RPCListenAddr:    ":8765",
		RPCWebSocketPath: "/api_ws",
		RPCTimeoutMS:     5000,
		PollIntervalMS:   2000,
	}
}

// BindFlags registers every Config field as a persistent flag on cmd and
// binds it into v, so cobra parses the command line and viper resolves the
// final precedence order in Load.
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	d := Defaults()
	flags := cmd.PersistentFlags()

	flags.String("working-db", d.WorkingDBPath, "path to the working parameter database")
	flags.String("backup-db", d.BackupDBPath, "path to the backup parameter database")
	flags.String("default-assets-path", d.DefaultAssetsPath, "base directory for blob-default assets")
	flags.String("schema", d.SchemaPath, "path to the YAML schema file, compiled at startup")
	flags.String("multicast-group", d.MulticastGroup, "multicast group address for change notifications")
	flags.Int("multicast-port", d.MulticastPort, "multicast port for change notifications")
	flags.Int("multicast-ttl", d.MulticastTTL, "multicast TTL")
	flags.String("multicast-iface", d.MulticastIface, "network interface to join the multicast group on")
	flags.String("rpc-listen-addr", d.RPCListenAddr, "address for the JSON-RPC/WebSocket/info server to listen on")
	flags.String("rpc-websocket-path", d.RPCWebSocketPath, "WebSocket path for JSON-RPC request/response and push")
	flags.Int("rpc-timeout-ms", d.RPCTimeoutMS, "RPC request timeout in milliseconds")
	flags.Int("poll-interval-ms", d.PollIntervalMS, "reconciler timer-poll interval in milliseconds")

	// Bind each flag under its underscore key so it overrides the same
	// setting Unmarshal reads through the mapstructure tags.
	flags.VisitAll(func(f *pflag.Flag) {
		v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})
}

// Load resolves the final Config from an optional TOML file, environment
// variables prefixed PARAMHUB_ (PARAMHUB_MULTICAST_PORT overrides
// multicast_port), and whatever flags BindFlags already bound, in that
// ascending precedence order.
func Load(v *viper.Viper, configFile string) (Config, error) {
	for key, val := range structToMap(Defaults()) {
		v.SetDefault(key, val)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

func structToMap(c Config) map[string]any {
	return map[string]any{
		"working_db":          c.WorkingDBPath,
		"backup_db":           c.BackupDBPath,
		"default_assets_path": c.DefaultAssetsPath,
		"schema":              c.SchemaPath,
		"multicast_group":     c.MulticastGroup,
		"multicast_port":      c.MulticastPort,
		"multicast_ttl":       c.MulticastTTL,
		"multicast_iface":     c.MulticastIface,
		"rpc_listen_addr":     c.RPCListenAddr,
		"rpc_websocket_path":  c.RPCWebSocketPath,
		"rpc_timeout_ms":      c.RPCTimeoutMS,
		"poll_interval_ms":    c.PollIntervalMS,
	}
}
