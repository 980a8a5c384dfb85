package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

const (
	defaultConfigPath = "vmcarrier.yaml"
	defaultZone       = "us-central1-b"
	defaultGcloudPath = "gcloud"
)

// Config holds defaults for the instance parameters. Command-line flags
// override every field.
type Config struct {
	Project        string `yaml:"project"`
	DefaultZone    string `yaml:"default_zone"`
	SourceImage    string `yaml:"source_image"`
	ServiceAccount string `yaml:"service_account"`
	Subnet         string `yaml:"subnet"`

	// Path to the gcloud executable
	GcloudPath string `yaml:"gcloud_path"`

	// Service account key used by --preflight and --describe.
	// Application default credentials are used when empty.
	CredentialsFile string `yaml:"credentials_file"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		DefaultZone: defaultZone,
		GcloudPath:  defaultGcloudPath,
	}
}

// Load loads configuration from the YAML file at CONFIG_PATH (or
// vmcarrier.yaml). A missing file is not an error.
func Load() (*Config, error) {
	config := Default()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.UnmarshalStrict(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	}

	// Expand environment variables in string fields
	config.Project = os.ExpandEnv(config.Project)
	config.DefaultZone = os.ExpandEnv(config.DefaultZone)
	config.SourceImage = os.ExpandEnv(config.SourceImage)
	config.ServiceAccount = os.ExpandEnv(config.ServiceAccount)
	config.Subnet = os.ExpandEnv(config.Subnet)
	config.GcloudPath = os.ExpandEnv(config.GcloudPath)
	config.CredentialsFile = os.ExpandEnv(config.CredentialsFile)

	// Override with environment variables if set
	if project := os.Getenv("VMCARRIER_PROJECT"); project != "" {
		config.Project = project
	}
	if zone := os.Getenv("VMCARRIER_ZONE"); zone != "" {
		config.DefaultZone = zone
	}
	if gcloud := os.Getenv("VMCARRIER_GCLOUD_PATH"); gcloud != "" {
		config.GcloudPath = gcloud
	}
	if creds := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); creds != "" && config.CredentialsFile == "" {
		config.CredentialsFile = creds
	}

	if config.DefaultZone == "" {
		return nil, fmt.Errorf("default_zone must not be empty")
	}
	if config.GcloudPath == "" {
		return nil, fmt.Errorf("gcloud_path must not be empty")
	}

	return config, nil
}
