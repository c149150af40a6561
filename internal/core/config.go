package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	prov "github.com/3cpo-dev/shardfleet/internal/providers"
)

const envPrefix = "SHARDFLEET"

// ConfigDir is $XDG_CONFIG_HOME/shardfleet, falling back to
// ~/.config/shardfleet.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "shardfleet")
}

func DefaultConfigPath() string { return filepath.Join(ConfigDir(), "config.yaml") }

// DefaultConfig is what `shardfleet init` writes and what every unset key
// falls back to.
func DefaultConfig() prov.Config {
	var cfg prov.Config
	cfg.Providers.Default = "ec2"
	cfg.Providers.EC2.Region = "us-east-1"
	cfg.Providers.EC2.TagKey = "cluster-name"
	cfg.SSH.User = "ubuntu"
	cfg.SSH.Port = 22
	cfg.SSH.KnownHosts = filepath.Join(ConfigDir(), "known_hosts")
	cfg.Defaults.RemoteBase = "/home/ubuntu/workspace"
	cfg.Defaults.RosterPath = "./neighbors.txt"
	cfg.Defaults.Retries = 3
	cfg.Defaults.Concurrency = 8
	cfg.Defaults.DialTimeout = 30 * time.Second
	cfg.Defaults.ProbeTimeout = 5 * time.Second
	return cfg
}

// NewViper returns a viper instance carrying the defaults and reading
// SHARDFLEET_* environment variables (SHARDFLEET_SSH_USER for ssh.user).
func NewViper() *viper.Viper {
	v := viper.New()
	d := DefaultConfig()
	v.SetDefault("fleet", "")
	v.SetDefault("credential", "")
	v.SetDefault("providers.default", d.Providers.Default)
	v.SetDefault("providers.ec2.region", d.Providers.EC2.Region)
	v.SetDefault("providers.ec2.tag_key", d.Providers.EC2.TagKey)
	for _, k := range []string{"profile", "access_key_id", "secret_access_key", "key_name", "ami", "instance_type", "spot_price", "security_group"} {
		v.SetDefault("providers.ec2."+k, "")
	}
	for _, k := range []string{"token", "location", "server_type", "image", "ssh_key"} {
		v.SetDefault("providers.hetzner."+k, "")
	}
	for _, k := range []string{"token", "base_url", "region", "plan"} {
		v.SetDefault("providers.vultr."+k, "")
	}
	v.SetDefault("providers.vultr.os_id", 0)
	v.SetDefault("ssh.user", d.SSH.User)
	v.SetDefault("ssh.port", d.SSH.Port)
	v.SetDefault("ssh.key_path", "")
	v.SetDefault("ssh.known_hosts", d.SSH.KnownHosts)
	v.SetDefault("ssh.strict", false)
	v.SetDefault("defaults.remote_base", d.Defaults.RemoteBase)
	v.SetDefault("defaults.roster_path", d.Defaults.RosterPath)
	v.SetDefault("defaults.ledger_path", "")
	v.SetDefault("defaults.retries", d.Defaults.Retries)
	v.SetDefault("defaults.concurrency", d.Defaults.Concurrency)
	v.SetDefault("defaults.dial_timeout", d.Defaults.DialTimeout)
	v.SetDefault("defaults.probe_timeout", d.Defaults.ProbeTimeout)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig resolves configuration in one pass: defaults, the YAML file,
// SHARDFLEET_* env, flags bound to v, then the credential file and secrets.
// An explicit path must exist; the default path is optional.
func LoadConfig(v *viper.Viper, path string) (prov.Config, error) {
	var cfg prov.Config
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound), errors.Is(err, os.ErrNotExist):
			if explicit {
				return cfg, fmt.Errorf("%w: config %s", ErrMissingLocalFile, path)
			}
		default:
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Credential != "" {
		cred, err := LoadCredentialFile(expandHome(cfg.Credential))
		if err != nil {
			return cfg, err
		}
		cred.apply(&cfg)
	}
	secrets, err := LoadSecretsEnv("")
	if err != nil {
		return cfg, err
	}
	applySecrets(&cfg, secrets)

	cfg.SSH.KeyPath = expandHome(cfg.SSH.KeyPath)
	cfg.SSH.KnownHosts = expandHome(cfg.SSH.KnownHosts)
	cfg.Defaults.LedgerPath = expandHome(cfg.Defaults.LedgerPath)
	return cfg, nil
}

// WriteConfigFile writes cfg as YAML, refusing to overwrite an existing
// file.
func WriteConfigFile(path string, cfg prov.Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
