package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ggonzalez94/xroute/internal/id"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "XROUTE_"

type GlobalFlags struct {
	ConfigPath     string
	EnvFile        string
	JSON           bool
	Plain          bool
	Select         string
	ResultsOnly    bool
	EnableCommands string
	Timeout        string
	Retries        int
	NoCache        bool
	LogLevel       string
}

type Settings struct {
	OutputMode     string
	SelectFields   []string
	ResultsOnly    bool
	EnableCommands []string

	// Timeout bounds every upstream call. Retries applies to the price
	// source only; quote adapters never retry.
	Timeout time.Duration
	Retries int

	PriceTTL      time.Duration
	PriceRPS      float64
	CacheEnabled  bool
	CachePath     string
	CacheLockPath string

	ListenAddr   string
	// LogLevel empty lets the command pick: info for serve, error otherwise.
	LogLevel     string
	LogFormat    string
	OTLPEndpoint string
	OTLPInsecure bool

	LiFiAPIKey      string
	CoinGeckoAPIKey string
	RouterPartnerID string

	// RPCURLs maps canonical chain names to JSON-RPC endpoints.
	RPCURLs map[string]string
}

type fileConfig struct {
	Output  string `yaml:"output"`
	Timeout string `yaml:"timeout"`
	Retries *int   `yaml:"retries"`
	Price   struct {
		TTL       string   `yaml:"ttl"`
		RateLimit *float64 `yaml:"rate_limit"`
	} `yaml:"price"`
	Cache struct {
		Enabled  *bool  `yaml:"enabled"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"cache"`
	Server struct {
		Listen string `yaml:"listen"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Telemetry struct {
		OTLPEndpoint string `yaml:"otlp_endpoint"`
		Insecure     bool   `yaml:"insecure"`
	} `yaml:"telemetry"`
	Providers struct {
		LiFi struct {
			APIKey    string `yaml:"api_key"`
			APIKeyEnv string `yaml:"api_key_env"`
		} `yaml:"lifi"`
		CoinGecko struct {
			APIKey    string `yaml:"api_key"`
			APIKeyEnv string `yaml:"api_key_env"`
		} `yaml:"coingecko"`
		RouterProtocol struct {
			PartnerID string `yaml:"partner_id"`
		} `yaml:"routerprotocol"`
	} `yaml:"providers"`
	RPCURLs map[string]string `yaml:"rpc_urls"`
}

// Load resolves settings from defaults, the YAML file, a .env file, XROUTE_*
// environment variables and flags, later sources winning.
func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}
	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	if err := loadEnvFile(flags.EnvFile); err != nil {
		return Settings{}, err
	}
	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.PriceTTL <= 0 {
		settings.PriceTTL = 60 * time.Second
	}
	return settings, nil
}

func defaultSettings() (Settings, error) {
	cachePath, lockPath, err := defaultCachePaths()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:    "json",
		Timeout:       10 * time.Second,
		Retries:       1,
		PriceTTL:      60 * time.Second,
		PriceRPS:      0.5,
		CacheEnabled:  true,
		CachePath:     cachePath,
		CacheLockPath: lockPath,
		ListenAddr:    ":8080",
		LogLevel:      "",
		LogFormat:     "json",
		RPCURLs:       map[string]string{},
	}, nil
}

// RPCURLsByChainID keys the configured RPC overrides by EVM chain id,
// skipping names the registry does not know.
func (s Settings) RPCURLsByChainID() map[int64]string {
	out := make(map[int64]string, len(s.RPCURLs))
	for name, u := range s.RPCURLs {
		chain, err := id.ParseChain(name)
		if err != nil || strings.TrimSpace(u) == "" {
			continue
		}
		out[chain.EVMChainID] = strings.TrimSpace(u)
	}
	return out
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "xroute", "config.yaml"), nil
}

func defaultCachePaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "xroute")
	return filepath.Join(dir, "prices.db"), filepath.Join(dir, "prices.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.Price.TTL != "" {
		d, err := time.ParseDuration(cfg.Price.TTL)
		if err != nil {
			return fmt.Errorf("config price.ttl: %w", err)
		}
		settings.PriceTTL = d
	}
	if cfg.Price.RateLimit != nil {
		settings.PriceRPS = *cfg.Price.RateLimit
	}
	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	if cfg.Cache.Path != "" {
		settings.CachePath = cfg.Cache.Path
	}
	if cfg.Cache.LockPath != "" {
		settings.CacheLockPath = cfg.Cache.LockPath
	}
	if cfg.Server.Listen != "" {
		settings.ListenAddr = cfg.Server.Listen
	}
	if cfg.Log.Level != "" {
		settings.LogLevel = strings.ToLower(cfg.Log.Level)
	}
	if cfg.Log.Format != "" {
		settings.LogFormat = strings.ToLower(cfg.Log.Format)
	}
	if cfg.Telemetry.OTLPEndpoint != "" {
		settings.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	}
	if cfg.Telemetry.Insecure {
		settings.OTLPInsecure = true
	}
	if cfg.Providers.LiFi.APIKey != "" {
		settings.LiFiAPIKey = cfg.Providers.LiFi.APIKey
	}
	if cfg.Providers.LiFi.APIKeyEnv != "" {
		settings.LiFiAPIKey = os.Getenv(cfg.Providers.LiFi.APIKeyEnv)
	}
	if cfg.Providers.CoinGecko.APIKey != "" {
		settings.CoinGeckoAPIKey = cfg.Providers.CoinGecko.APIKey
	}
	if cfg.Providers.CoinGecko.APIKeyEnv != "" {
		settings.CoinGeckoAPIKey = os.Getenv(cfg.Providers.CoinGecko.APIKeyEnv)
	}
	if cfg.Providers.RouterProtocol.PartnerID != "" {
		settings.RouterPartnerID = cfg.Providers.RouterProtocol.PartnerID
	}
	for name, u := range cfg.RPCURLs {
		setRPCURL(settings, name, u)
	}
	return nil
}

// loadEnvFile exports a dotenv file into the process environment without
// overriding variables that are already set. A missing default file is
// ignored; an explicit path must exist.
func loadEnvFile(path string) error {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("read env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("parse env file: %w", err)
	}
	return nil
}

func applyEnv(settings *Settings) {
	if v := getenv("OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := getenv("TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := getenv("RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := getenv("PRICE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.PriceTTL = d
		}
	}
	if v := getenv("PRICE_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			settings.PriceRPS = f
		}
	}
	if v := getenv("NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	if v := getenv("CACHE_PATH"); v != "" {
		settings.CachePath = v
	}
	if v := getenv("CACHE_LOCK_PATH"); v != "" {
		settings.CacheLockPath = v
	}
	if v := getenv("LISTEN"); v != "" {
		settings.ListenAddr = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		settings.LogLevel = strings.ToLower(v)
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		settings.LogFormat = strings.ToLower(v)
	}
	if v := getenv("OTLP_ENDPOINT"); v != "" {
		settings.OTLPEndpoint = v
	}
	if v := getenv("OTLP_INSECURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.OTLPInsecure = b
		}
	}
	if v := getenv("LIFI_API_KEY"); v != "" {
		settings.LiFiAPIKey = v
	}
	if v := getenv("COINGECKO_API_KEY"); v != "" {
		settings.CoinGeckoAPIKey = v
	}
	if v := getenv("ROUTER_PARTNER_ID"); v != "" {
		settings.RouterPartnerID = v
	}
	for _, chain := range id.Chains() {
		if v := getenv("RPC_" + chain.Name); v != "" {
			setRPCURL(settings, chain.Name, v)
		}
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if strings.TrimSpace(flags.Select) != "" {
		settings.SelectFields = splitList(flags.Select)
	}
	settings.ResultsOnly = flags.ResultsOnly
	if strings.TrimSpace(flags.EnableCommands) != "" {
		settings.EnableCommands = splitList(flags.EnableCommands)
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}
	if flags.LogLevel != "" {
		settings.LogLevel = strings.ToLower(flags.LogLevel)
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}
	if settings.LogFormat != "json" && settings.LogFormat != "console" {
		return fmt.Errorf("log format must be json or console")
	}
	return nil
}

func setRPCURL(settings *Settings, name, u string) {
	if settings.RPCURLs == nil {
		settings.RPCURLs = map[string]string{}
	}
	key := strings.ToUpper(strings.TrimSpace(name))
	if chain, err := id.ParseChain(name); err == nil {
		key = chain.Name
	}
	settings.RPCURLs[key] = strings.TrimSpace(u)
}

func getenv(key string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + key))
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if f := strings.TrimSpace(part); f != "" {
			out = append(out, f)
		}
	}
	return out
}
