// Package config layers settings from defaults, the YAML config file, and
// environment variables, in that order. The result is an immutable Settings
// value built once at startup and injected into every constructor.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dmarzzo/defi-agent/internal/chains"
)

type GlobalFlags struct {
	ConfigPath string
	ListenAddr string
	Timeout    string
	Retries    int
}

type Settings struct {
	Timeout    time.Duration
	Retries    int
	ListenAddr string

	// BackendURL is where the wallet directory API lives. When this service
	// runs `serve` it is its own backend; tool-only deployments point at a
	// remote one.
	BackendURL string

	OperatorKeyHex           string
	OperatorKeyFile          string
	OperatorKeystorePath     string
	OperatorKeystorePassword string

	// DelegateContract is the delegate implementation address users point
	// their EIP-7702 authorizations at. Setup is refused without it.
	DelegateContract string

	PrivyAppID     string
	PrivyAppSecret string

	StrategiesDir string
	JournalPath   string

	// Chains holds raw entries before ${ENV} substitution. Empty means the
	// built-in default table.
	Chains map[string]chains.RawConfig
}

type fileConfig struct {
	ListenAddr    string `yaml:"listen_addr"`
	BackendURL    string `yaml:"backend_url"`
	Timeout       string `yaml:"timeout"`
	Retries       *int   `yaml:"retries"`
	StrategiesDir string `yaml:"strategies_dir"`
	JournalPath   string `yaml:"journal_path"`
	Operator      struct {
		DelegateContract    string `yaml:"delegate_contract"`
		PrivateKey          string `yaml:"private_key"`
		PrivateKeyEnv       string `yaml:"private_key_env"`
		PrivateKeyFile      string `yaml:"private_key_file"`
		KeystorePath        string `yaml:"keystore_path"`
		KeystorePassword    string `yaml:"keystore_password"`
		KeystorePasswordEnv string `yaml:"keystore_password_env"`
	} `yaml:"operator"`
	Custody struct {
		AppID        string `yaml:"app_id"`
		AppIDEnv     string `yaml:"app_id_env"`
		AppSecret    string `yaml:"app_secret"`
		AppSecretEnv string `yaml:"app_secret_env"`
	} `yaml:"custody"`
	Chains map[string]chains.RawConfig `yaml:"chains"`
}

// Load builds Settings. A missing config file is fine; a malformed one is
// not. A .env file in the working directory is folded into the environment
// first so chain URL substitution and _env references see it.
func Load(flags GlobalFlags) (Settings, error) {
	_ = godotenv.Load()

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
	applyEnv(&settings)
	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.ListenAddr == "" {
		settings.ListenAddr = ":3000"
	}
	return settings, nil
}

// Registry resolves the configured chains, falling back to the default table
// when the file names none.
func (s Settings) Registry() chains.Registry {
	if len(s.Chains) == 0 {
		return chains.Defaults()
	}
	return chains.Resolve(s.Chains, os.Getenv)
}

func defaultSettings() (Settings, error) {
	dataDir, err := defaultDataDir()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		Timeout:       10 * time.Second,
		Retries:       0,
		ListenAddr:    ":3000",
		StrategiesDir: filepath.Join(dataDir, "strategies"),
		JournalPath:   filepath.Join(dataDir, "journal.db"),
	}, nil
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
	return filepath.Join(base, "defi-agent", "config.yaml"), nil
}

func defaultDataDir() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "defi-agent"), nil
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

	if cfg.ListenAddr != "" {
		settings.ListenAddr = cfg.ListenAddr
	}
	if cfg.BackendURL != "" {
		settings.BackendURL = cfg.BackendURL
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
	if cfg.StrategiesDir != "" {
		settings.StrategiesDir = cfg.StrategiesDir
	}
	if cfg.JournalPath != "" {
		settings.JournalPath = cfg.JournalPath
	}
	if cfg.Operator.DelegateContract != "" {
		settings.DelegateContract = cfg.Operator.DelegateContract
	}
	if cfg.Operator.PrivateKey != "" {
		settings.OperatorKeyHex = cfg.Operator.PrivateKey
	}
	if cfg.Operator.PrivateKeyEnv != "" {
		settings.OperatorKeyHex = os.Getenv(cfg.Operator.PrivateKeyEnv)
	}
	if cfg.Operator.PrivateKeyFile != "" {
		settings.OperatorKeyFile = cfg.Operator.PrivateKeyFile
	}
	if cfg.Operator.KeystorePath != "" {
		settings.OperatorKeystorePath = cfg.Operator.KeystorePath
	}
	if cfg.Operator.KeystorePassword != "" {
		settings.OperatorKeystorePassword = cfg.Operator.KeystorePassword
	}
	if cfg.Operator.KeystorePasswordEnv != "" {
		settings.OperatorKeystorePassword = os.Getenv(cfg.Operator.KeystorePasswordEnv)
	}
	if cfg.Custody.AppID != "" {
		settings.PrivyAppID = cfg.Custody.AppID
	}
	if cfg.Custody.AppIDEnv != "" {
		settings.PrivyAppID = os.Getenv(cfg.Custody.AppIDEnv)
	}
	if cfg.Custody.AppSecret != "" {
		settings.PrivyAppSecret = cfg.Custody.AppSecret
	}
	if cfg.Custody.AppSecretEnv != "" {
		settings.PrivyAppSecret = os.Getenv(cfg.Custody.AppSecretEnv)
	}
	if len(cfg.Chains) > 0 {
		settings.Chains = cfg.Chains
	}
	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("OPERATOR_PRIVATE_KEY"); v != "" {
		settings.OperatorKeyHex = v
	}
	if v := os.Getenv("DELEGATE_CONTRACT_ADDRESS"); v != "" {
		settings.DelegateContract = v
	}
	if v := os.Getenv("PRIVY_APP_ID"); v != "" {
		settings.PrivyAppID = v
	}
	if v := os.Getenv("PRIVY_APP_SECRET"); v != "" {
		settings.PrivyAppSecret = v
	}
	if v := os.Getenv("BACKEND_URL"); v != "" {
		settings.BackendURL = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		settings.ListenAddr = v
	}
	if v := os.Getenv("STRATEGIES_DIR"); v != "" {
		settings.StrategiesDir = v
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.ListenAddr != "" {
		settings.ListenAddr = flags.ListenAddr
	}
	if strings.TrimSpace(flags.Timeout) != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("invalid --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries > 0 {
		settings.Retries = flags.Retries
	}
	return nil
}
