package core

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	prov "github.com/3cpo-dev/shardfleet/internal/providers"
)

// Credential is one entry of the credential file:
//
//	my-account:
//	  key_name: ops
//	  ssh_key: ~/.ssh/ops.pem
//	  access_key_id: AKIA...
//	  secret_access_key: ...
type Credential struct {
	KeyName         string `yaml:"key_name"`
	SSHKey          string `yaml:"ssh_key"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// LoadCredentialFile reads a credential file. Only the first entry is used.
func LoadCredentialFile(path string) (Credential, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Credential{}, fmt.Errorf("%w: credential file %s", ErrMissingLocalFile, path)
	}
	if err != nil {
		return Credential{}, fmt.Errorf("read credential file: %w", err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return Credential{}, fmt.Errorf("parse credential file: %w", err)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode || len(doc.Content[0].Content) < 2 {
		return Credential{}, fmt.Errorf("credential file %s has no entries", path)
	}
	var cred Credential
	if err := doc.Content[0].Content[1].Decode(&cred); err != nil {
		return Credential{}, fmt.Errorf("decode credential entry: %w", err)
	}
	return cred, nil
}

// apply fills fields the configuration left empty.
func (c Credential) apply(cfg *prov.Config) {
	if cfg.Providers.EC2.KeyName == "" {
		cfg.Providers.EC2.KeyName = c.KeyName
	}
	if cfg.SSH.KeyPath == "" {
		cfg.SSH.KeyPath = c.SSHKey
	}
	if cfg.Providers.EC2.AccessKeyID == "" {
		cfg.Providers.EC2.AccessKeyID = c.AccessKeyID
		cfg.Providers.EC2.SecretAccessKey = c.SecretAccessKey
	}
}

// LoadSecretsEnv reads $XDG_CONFIG_HOME/shardfleet/secrets.env (or
// ~/.config/shardfleet/secrets.env) and returns key/value pairs. Lines
// starting with # are ignored. Format: KEY=VALUE. A missing file is empty.
func LoadSecretsEnv(path string) (map[string]string, error) {
	if path == "" {
		path = filepath.Join(ConfigDir(), "secrets.env")
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open secrets: %w", err)
	}
	defer f.Close()
	out := map[string]string{}
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.Trim(strings.TrimSpace(line[i+1:]), `"'`)
			out[k] = v
		}
	}
	return out, s.Err()
}

// applySecrets lets secrets.env and then the process environment override
// provider tokens and keys.
func applySecrets(cfg *prov.Config, secrets map[string]string) {
	for _, k := range []string{"AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "HCLOUD_TOKEN", "VULTR_TOKEN"} {
		if v := os.Getenv(k); v != "" {
			secrets[k] = v
		}
	}
	if v := secrets["AWS_ACCESS_KEY_ID"]; v != "" {
		cfg.Providers.EC2.AccessKeyID = v
		if s := secrets["AWS_SECRET_ACCESS_KEY"]; s != "" {
			cfg.Providers.EC2.SecretAccessKey = s
		}
	}
	if v := secrets["HCLOUD_TOKEN"]; v != "" {
		cfg.Providers.Hetzner.Token = v
	}
	if v := secrets["VULTR_TOKEN"]; v != "" {
		cfg.Providers.Vultr.Token = v
	}
}
