package providers

import "time"

// Config is the resolved configuration shared by the CLI, the providers and
// the remote channel. Tags serve both the YAML file and viper decoding.
type Config struct {
	Fleet     string `yaml:"fleet" mapstructure:"fleet"`
	Providers struct {
		Default string `yaml:"default" mapstructure:"default"`
		EC2     struct {
			Region          string `yaml:"region" mapstructure:"region"`
			Profile         string `yaml:"profile" mapstructure:"profile"`
			AccessKeyID     string `yaml:"access_key_id" mapstructure:"access_key_id"`
			SecretAccessKey string `yaml:"secret_access_key" mapstructure:"secret_access_key"`
			KeyName         string `yaml:"key_name" mapstructure:"key_name"`
			AMI             string `yaml:"ami" mapstructure:"ami"`
			InstanceType    string `yaml:"instance_type" mapstructure:"instance_type"`
			SpotPrice       string `yaml:"spot_price" mapstructure:"spot_price"`
			TagKey          string `yaml:"tag_key" mapstructure:"tag_key"`
			SecurityGroup   string `yaml:"security_group" mapstructure:"security_group"`
		} `yaml:"ec2" mapstructure:"ec2"`
		Hetzner struct {
			Token      string `yaml:"token" mapstructure:"token"`
			Location   string `yaml:"location" mapstructure:"location"`
			ServerType string `yaml:"server_type" mapstructure:"server_type"`
			Image      string `yaml:"image" mapstructure:"image"`
			SSHKey     string `yaml:"ssh_key" mapstructure:"ssh_key"`
		} `yaml:"hetzner" mapstructure:"hetzner"`
		Vultr struct {
			Token   string `yaml:"token" mapstructure:"token"`
			BaseURL string `yaml:"base_url" mapstructure:"base_url"`
			Region  string `yaml:"region" mapstructure:"region"`
			Plan    string `yaml:"plan" mapstructure:"plan"`
			OSID    int    `yaml:"os_id" mapstructure:"os_id"`
		} `yaml:"vultr" mapstructure:"vultr"`
		LocalSSH struct {
			Hosts []struct {
				Name string `yaml:"name" mapstructure:"name"`
				IP   string `yaml:"ip" mapstructure:"ip"`
			} `yaml:"hosts" mapstructure:"hosts"`
		} `yaml:"localssh" mapstructure:"localssh"`
	} `yaml:"providers" mapstructure:"providers"`
	SSH struct {
		User       string `yaml:"user" mapstructure:"user"`
		Port       int    `yaml:"port" mapstructure:"port"`
		KeyPath    string `yaml:"key_path" mapstructure:"key_path"`
		KnownHosts string `yaml:"known_hosts" mapstructure:"known_hosts"`
		// Strict enables known_hosts verification. Fleet nodes are ephemeral
		// and get fresh host keys, so it is off unless asked for.
		Strict bool `yaml:"strict" mapstructure:"strict"`
	} `yaml:"ssh" mapstructure:"ssh"`
	Defaults struct {
		RemoteBase   string        `yaml:"remote_base" mapstructure:"remote_base"`
		RosterPath   string        `yaml:"roster_path" mapstructure:"roster_path"`
		LedgerPath   string        `yaml:"ledger_path" mapstructure:"ledger_path"`
		Retries      int           `yaml:"retries" mapstructure:"retries"`
		Concurrency  int           `yaml:"concurrency" mapstructure:"concurrency"`
		DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
		ProbeTimeout time.Duration `yaml:"probe_timeout" mapstructure:"probe_timeout"`
	} `yaml:"defaults" mapstructure:"defaults"`
	// Credential points at the YAML credential file holding the key pair and
	// access keys.
	Credential string `yaml:"credential" mapstructure:"credential"`
}
