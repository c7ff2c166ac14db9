package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "DEJAVU"

const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"

	AnalyticsLog  = "log"
	AnalyticsNone = "none"
)

type Config struct {
	Bind             string
	Port             int
	Store            string
	SQLitePath       string
	DatabaseURL      string
	ScenarioEndpoint string
	ScenarioAPIKey   string
	ScenarioModel    string
	ScenarioTimeout  time.Duration
	ScenariosFile    string
	IdleTimeout      time.Duration
	Analytics        string
	PublicURL        string
	Verbose          bool
	Version          bool
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	switch c.Store {
	case StoreMemory:
	case StoreSQLite:
		if c.SQLitePath == "" {
			return errors.New("--sqlite-path is required with --store=sqlite")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("--database-url is required with --store=postgres")
		}
	default:
		return fmt.Errorf("unknown store %q (want memory, sqlite or postgres)", c.Store)
	}
	switch c.Analytics {
	case AnalyticsLog, AnalyticsNone:
	default:
		return fmt.Errorf("unknown analytics sink %q (want log or none)", c.Analytics)
	}
	if c.ScenarioTimeout <= 0 {
		return fmt.Errorf("--scenario-timeout must be positive, got %s", c.ScenarioTimeout)
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("--idle-timeout must be positive, got %s", c.IdleTimeout)
	}
	if c.PublicURL != "" {
		u, err := url.Parse(c.PublicURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("--public-url must be an absolute URL, got %q", c.PublicURL)
		}
	}
	return nil
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}

// RegisterFlags adds every setting to cmd. Each flag can also be set from
// the environment as DEJAVU_<FLAG_NAME>, which a flag on the command line
// overrides.
func RegisterFlags(cmd *cobra.Command, cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	fs := cmd.Flags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.Bind, "bind", "b", "0.0.0.0", "address to bind to (env: DEJAVU_BIND)")
	fs.IntVarP(&cfg.Port, "port", "p", 8787, "port to listen on (env: DEJAVU_PORT)")
	fs.StringVar(&cfg.Store, "store", StoreMemory, "room store: memory, sqlite or postgres (env: DEJAVU_STORE)")
	fs.StringVar(&cfg.SQLitePath, "sqlite-path", "dejavu.db", "sqlite database file (env: DEJAVU_SQLITE_PATH)")
	fs.StringVar(&cfg.DatabaseURL, "database-url", "", "postgres connection string (env: DEJAVU_DATABASE_URL)")
	fs.StringVar(&cfg.ScenarioEndpoint, "scenario-endpoint", "", "OpenAI-compatible chat completions URL for scenarios (env: DEJAVU_SCENARIO_ENDPOINT)")
	fs.StringVar(&cfg.ScenarioAPIKey, "scenario-api-key", "", "bearer token for the scenario endpoint (env: DEJAVU_SCENARIO_API_KEY)")
	fs.StringVar(&cfg.ScenarioModel, "scenario-model", "gpt-4o-mini", "model name sent to the scenario endpoint (env: DEJAVU_SCENARIO_MODEL)")
	fs.DurationVar(&cfg.ScenarioTimeout, "scenario-timeout", 8*time.Second, "time allowed for generating a scenario (env: DEJAVU_SCENARIO_TIMEOUT)")
	fs.StringVar(&cfg.ScenariosFile, "scenarios-file", "", "CSV file of custom scenarios (env: DEJAVU_SCENARIOS_FILE)")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", 10*time.Minute, "time before rooms without connections are unloaded (env: DEJAVU_IDLE_TIMEOUT)")
	fs.StringVar(&cfg.Analytics, "analytics", AnalyticsLog, "analytics sink: log or none (env: DEJAVU_ANALYTICS)")
	fs.StringVar(&cfg.PublicURL, "public-url", "", "base URL players open, used for share links (env: DEJAVU_PUBLIC_URL)")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", false, "display additional output (env: DEJAVU_VERBOSE)")
	fs.BoolVarP(&cfg.Version, "version", "V", false, "display version and exit (env: DEJAVU_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}
