/*
Copyright The Ratify Authors.
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config loads the replication configuration from a YAML file, the
// environment and command line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ratify-project/imagesync-go"
	"github.com/ratify-project/imagesync-go/internal/constants"
)

// DefaultSchedule runs the guard once a day.
const DefaultSchedule = "@daily"

const redacted = "*****"

// Config is the complete replication configuration.
type Config struct {
	Source             SourceConfig      `mapstructure:"source" yaml:"source"`
	Destination        DestinationConfig `mapstructure:"destination" yaml:"destination"`
	CurrentAccountID   string            `mapstructure:"currentAccountId" yaml:"currentAccountId,omitempty"`
	ConcurrencyLimit   int               `mapstructure:"concurrencyLimit" yaml:"concurrencyLimit"`
	Retry              RetryConfig       `mapstructure:"retry" yaml:"retry"`
	EnumerationTimeout time.Duration     `mapstructure:"enumerationTimeout" yaml:"enumerationTimeout"`
	RunTimeout         time.Duration     `mapstructure:"runTimeout" yaml:"runTimeout"`
	Registry           RegistryConfig    `mapstructure:"registry" yaml:"registry"`
	Credentials        CredentialsConfig `mapstructure:"credentials" yaml:"credentials"`
	Worker             WorkerConfig      `mapstructure:"worker" yaml:"worker"`
	OutcomeStore       PluginConfig      `mapstructure:"outcomeStore" yaml:"outcomeStore"`
	Alert              PluginConfig      `mapstructure:"alert" yaml:"alert"`
	Schedule           string            `mapstructure:"schedule" yaml:"schedule"`
	Metrics            MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
}

// SourceConfig selects the images to replicate.
type SourceConfig struct {
	Mode          string `mapstructure:"mode" yaml:"mode"`
	Registry      string `mapstructure:"registry" yaml:"registry,omitempty"`
	Region        string `mapstructure:"region" yaml:"region,omitempty"`
	AccountID     string `mapstructure:"accountId" yaml:"accountId,omitempty"`
	CuratedList   string `mapstructure:"curatedList" yaml:"curatedList,omitempty"`
	CredentialRef string `mapstructure:"credentialRef" yaml:"credentialRef,omitempty"`
}

// DestinationConfig is where the images are replicated to.
type DestinationConfig struct {
	Registry      string `mapstructure:"registry" yaml:"registry,omitempty"`
	Region        string `mapstructure:"region" yaml:"region,omitempty"`
	AccountID     string `mapstructure:"accountId" yaml:"accountId,omitempty"`
	PathPrefix    string `mapstructure:"pathPrefix" yaml:"pathPrefix,omitempty"`
	CredentialRef string `mapstructure:"credentialRef" yaml:"credentialRef,omitempty"`
}

// RetryConfig is the per image retry policy.
type RetryConfig struct {
	MaxAttempts       int           `mapstructure:"maxAttempts" yaml:"maxAttempts"`
	InitialBackoff    time.Duration `mapstructure:"initialBackoff" yaml:"initialBackoff"`
	BackoffMultiplier float64       `mapstructure:"backoffMultiplier" yaml:"backoffMultiplier"`
}

// RegistryConfig tunes the registry clients.
type RegistryConfig struct {
	PlainHTTP bool `mapstructure:"plainHTTP" yaml:"plainHTTP"`
	PageSize  int  `mapstructure:"pageSize" yaml:"pageSize,omitempty"`
}

// CredentialsConfig selects the credential resolver. Secrets are read from
// Dir when set, otherwise from the docker config file Docker (the default
// docker config when empty).
type CredentialsConfig struct {
	Dir    string `mapstructure:"dir" yaml:"dir,omitempty"`
	Docker string `mapstructure:"docker" yaml:"docker,omitempty"`
}

// WorkerConfig selects the copy worker.
type WorkerConfig struct {
	Type        string   `mapstructure:"type" yaml:"type"`
	Command     string   `mapstructure:"command" yaml:"command,omitempty"`
	Args        []string `mapstructure:"args" yaml:"args,omitempty"`
	Concurrency int      `mapstructure:"concurrency" yaml:"concurrency,omitempty"`
}

// PluginConfig selects a registered implementation by type.
type PluginConfig struct {
	Type       string         `mapstructure:"type" yaml:"type"`
	Parameters map[string]any `mapstructure:"parameters" yaml:"parameters,omitempty"`
}

// MetricsConfig configures the metrics endpoint. An empty address disables
// it.
type MetricsConfig struct {
	Address string `mapstructure:"address" yaml:"address,omitempty"`
}

// defaults holds the default of every key. Keys without default are still
// listed so that they can be set from the environment.
var defaults = map[string]any{
	constants.SourceMode:               imagesync.FullRegistryScan.String(),
	constants.SourceRegistry:           "",
	constants.SourceRegion:             "",
	constants.SourceAccountID:          "",
	constants.SourceCuratedList:        "",
	constants.SourceCredentialRef:      "",
	constants.DestinationRegistry:      "",
	constants.DestinationRegion:        "",
	constants.DestinationAccountID:     "",
	constants.DestinationPathPrefix:    "",
	constants.DestinationCredentialRef: "",
	constants.CurrentAccountID:         "",
	constants.ConcurrencyLimit:         imagesync.DefaultConcurrencyLimit,
	constants.EnumerationTimeout:       imagesync.DefaultEnumerationTimeout,
	constants.RunTimeout:               time.Duration(0),
	constants.RetryMaxAttempts:         imagesync.DefaultMaxAttempts,
	constants.RetryInitialBackoff:      imagesync.DefaultInitialBackoff,
	constants.RetryBackoffMultiplier:   imagesync.DefaultBackoffMultiplier,
	constants.RegistryPlainHTTP:        false,
	constants.RegistryPageSize:         0,
	constants.CredentialsDir:           "",
	constants.CredentialsDocker:        "",
	constants.WorkerType:               constants.WorkerTypeOras,
	constants.WorkerCommand:            "",
	constants.WorkerConcurrency:        0,
	constants.OutcomeStoreType:         imagesync.MemoryOutcomeStoreType,
	constants.AlertType:                imagesync.LogAlertPublisherType,
	constants.Schedule:                 DefaultSchedule,
	constants.MetricsAddress:           "",
}

// flagKeys maps the command line flags to their configuration keys.
var flagKeys = map[string]string{
	"source-mode":         constants.SourceMode,
	"source-registry":     constants.SourceRegistry,
	"source-region":       constants.SourceRegion,
	"source-account":      constants.SourceAccountID,
	"curated-list":        constants.SourceCuratedList,
	"source-credential":   constants.SourceCredentialRef,
	"dest-registry":       constants.DestinationRegistry,
	"dest-region":         constants.DestinationRegion,
	"dest-account":        constants.DestinationAccountID,
	"dest-prefix":         constants.DestinationPathPrefix,
	"dest-credential":     constants.DestinationCredentialRef,
	"current-account":     constants.CurrentAccountID,
	"concurrency":         constants.ConcurrencyLimit,
	"max-attempts":        constants.RetryMaxAttempts,
	"plain-http":          constants.RegistryPlainHTTP,
	"worker":              constants.WorkerType,
	"outcome-store":       constants.OutcomeStoreType,
	"alert":               constants.AlertType,
	"schedule":            constants.Schedule,
	"metrics-address":     constants.MetricsAddress,
	"credentials-dir":     constants.CredentialsDir,
	"run-timeout":         constants.RunTimeout,
	"initial-backoff":     constants.RetryInitialBackoff,
	"enumeration-timeout": constants.EnumerationTimeout,
}

// NewViper returns a viper instance with the defaults of every key, reading
// the environment with the IMAGESYNC_ prefix. Nested keys use "_" instead of
// ".", e.g. IMAGESYNC_DESTINATION_PATHPREFIX.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(constants.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return v
}

// AddFlags defines the configuration flags on flags. The flag defaults are
// informational only; unset flags never override other sources.
func AddFlags(flags *pflag.FlagSet) {
	flags.String("source-mode", "", "Source mode (FullScan, Curated)")
	flags.String("source-registry", "", "Source registry host")
	flags.String("source-region", "", "Source registry region")
	flags.String("source-account", "", "Source registry account ID")
	flags.String("curated-list", "", `Comma separated "repository[:tag]" list to replicate`)
	flags.String("source-credential", "", "Secret name of the source credential")
	flags.String("dest-registry", "", "Destination registry host")
	flags.String("dest-region", "", "Destination registry region")
	flags.String("dest-account", "", "Destination registry account ID")
	flags.String("dest-prefix", "", "Repository path prefix in the destination registry")
	flags.String("dest-credential", "", "Secret name of the destination credential")
	flags.String("current-account", "", "Account ID the replication runs in")
	flags.Int("concurrency", imagesync.DefaultConcurrencyLimit, "Maximum images copied concurrently")
	flags.Int("max-attempts", imagesync.DefaultMaxAttempts, "Maximum copy attempts per image")
	flags.Duration("initial-backoff", imagesync.DefaultInitialBackoff, "Backoff before the first retry")
	flags.Duration("enumeration-timeout", imagesync.DefaultEnumerationTimeout, "Time budget of the image enumeration")
	flags.Duration("run-timeout", 0, "Time budget of a replication, 0 for unbounded")
	flags.Bool("plain-http", false, "Access registries via HTTP")
	flags.String("worker", constants.WorkerTypeOras, "Copy worker (oras, exec)")
	flags.String("outcome-store", imagesync.MemoryOutcomeStoreType, "Outcome store type")
	flags.String("alert", imagesync.LogAlertPublisherType, "Alert publisher type")
	flags.String("schedule", DefaultSchedule, "Cron schedule of the replication guard")
	flags.String("metrics-address", "", "Listen address of the metrics endpoint")
	flags.String("credentials-dir", "", "Directory of JSON credential secrets")
}

// BindFlags binds the configuration flags defined on flags to v.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Load reads the configuration file at path, if any, and decodes the
// configuration from v.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return decode(v)
}

// LoadReader decodes the YAML configuration read from r on top of the
// defaults of v.
func LoadReader(v *viper.Viper, r io.Reader) (*Config, error) {
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.RunContext(); err != nil {
		errs = append(errs, err)
	}
	switch c.Worker.Type {
	case constants.WorkerTypeOras:
	case constants.WorkerTypeExec:
		if c.Worker.Command == "" {
			errs = append(errs, fmt.Errorf("%s is required for the exec worker", constants.WorkerCommand))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown %s %q", constants.WorkerType, c.Worker.Type))
	}
	if c.OutcomeStore.Type == "" {
		errs = append(errs, fmt.Errorf("%s is required", constants.OutcomeStoreType))
	}
	if c.Alert.Type == "" {
		errs = append(errs, fmt.Errorf("%s is required", constants.AlertType))
	}
	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s %q: %w", constants.Schedule, c.Schedule, err))
		}
	}
	return errors.Join(errs...)
}

// RunContext returns the run context described by the configuration.
func (c *Config) RunContext() (imagesync.RunContext, error) {
	kind, err := imagesync.ParseSourceKind(c.Source.Mode)
	if err != nil {
		return imagesync.RunContext{}, err
	}
	rc := imagesync.RunContext{
		SourceKind: kind,
		Source: imagesync.Location{
			Registry:      c.Source.Registry,
			Region:        c.Source.Region,
			Account:       c.Source.AccountID,
			CredentialRef: c.Source.CredentialRef,
		},
		Destination: imagesync.Destination{
			Location: imagesync.Location{
				Registry:      c.Destination.Registry,
				Region:        c.Destination.Region,
				Account:       c.Destination.AccountID,
				CredentialRef: c.Destination.CredentialRef,
			},
			PathPrefix: c.Destination.PathPrefix,
		},
		CuratedList:      c.Source.CuratedList,
		CurrentAccount:   c.CurrentAccountID,
		ConcurrencyLimit: c.ConcurrencyLimit,
		RetryPolicy: imagesync.RetryPolicy{
			MaxAttempts:       c.Retry.MaxAttempts,
			InitialBackoff:    c.Retry.InitialBackoff,
			BackoffMultiplier: c.Retry.BackoffMultiplier,
		},
		EnumerationTimeout: c.EnumerationTimeout,
		RunTimeout:         c.RunTimeout,
	}
	if err := rc.Validate(); err != nil {
		return imagesync.RunContext{}, err
	}
	return rc, nil
}

// Write writes the configuration as YAML to w, with the plugin parameters
// holding secrets redacted.
func (c *Config) Write(w io.Writer) error {
	out := *c
	out.OutcomeStore.Parameters = redact(c.OutcomeStore.Parameters)
	out.Alert.Parameters = redact(c.Alert.Parameters)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&out); err != nil {
		return err
	}
	return enc.Close()
}

func redact(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for key, value := range params {
		lower := strings.ToLower(key)
		switch {
		case strings.Contains(lower, "password"),
			strings.Contains(lower, "secret"),
			strings.Contains(lower, "token"),
			strings.HasSuffix(lower, "url"):
			out[key] = redacted
		default:
			out[key] = value
		}
	}
	return out
}
