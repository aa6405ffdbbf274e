// Package config loads and saves the client's on-disk configuration, backed
// by viper so the same JSON file can be overridden with LWM2MCLIENT_*
// environment variables.
//
// Grounded on _examples/1stship-inventoryd/inventoryd.go's Config/
// LoadInventorydConfig and inventoryd_prepare.go's CreateDefaultConfig.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

const (
	modelsDir    = "models"
	resourcesDir = "resources"

	defaultObserveInterval = 5
	defaultBootstrapServer = "bootstrap.soracom.io:5683"
	envPrefix              = "LWM2MCLIENT"
)

// Config is the client's persisted configuration: where object models and
// file-backed resources live on disk, how often to poll observed resources,
// the bootstrap server to contact on first run, and this client's endpoint
// name.
type Config struct {
	RootPath           string `mapstructure:"rootPath" json:"rootPath"`
	ObserveInterval    int    `mapstructure:"observeInterval" json:"observeInterval"`
	BootstrapServer    string `mapstructure:"bootstrapServer" json:"bootstrapServer"`
	EndpointClientName string `mapstructure:"endpointClientName" json:"endpointClientName"`
}

// ModelsPath and ResourcesPath are the well-known subdirectories of RootPath.
func (c *Config) ModelsPath() string    { return filepath.Join(c.RootPath, modelsDir) }
func (c *Config) ResourcesPath() string { return filepath.Join(c.RootPath, resourcesDir) }

// Load reads configPath as JSON, then applies any LWM2MCLIENT_* environment
// overrides (e.g. LWM2MCLIENT_OBSERVEINTERVAL).
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg back to configPath as indented JSON.
func Save(configPath string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(configPath, data, 0o644)
}

// CreateDefault builds a fresh Config rooted next to configPath, creates its
// models/ and resources/ directories, and saves it.
func CreateDefault(configPath string) (*Config, error) {
	rootPath := filepath.Dir(configPath)
	cfg := &Config{
		RootPath:           rootPath,
		ObserveInterval:    defaultObserveInterval,
		BootstrapServer:    defaultBootstrapServer,
		EndpointClientName: "lwm2mclient-" + time.Now().Format("20060102150405"),
	}

	for _, dir := range []string{cfg.ModelsPath(), cfg.ResourcesPath()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	if err := Save(configPath, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
