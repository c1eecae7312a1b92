package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	secretmanagerpb "cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"gopkg.in/yaml.v2"
)

// Config holds service configuration: where the legacy archive lives,
// how to authenticate against it, and which retrieval strategy to use
// when the caller doesn't pick one.
type Config struct {
	ArchiveURL      string
	ArchiveUsername string
	ArchivePassword string

	DefaultStrategy Strategy

	// SizeInference enables the file-size dimension correction path in
	// the metadata pipeline. Off by default.
	SizeInference bool

	// DevBearer allows a fixed bearer token to bypass ID-token
	// verification in dev/test environments.
	DevBearer string

	// ProjectID is used for ID-token verification and, when set,
	// for loading archive credentials from Secret Manager.
	ProjectID string
}

// fileConfig is the optional YAML config file shape. Environment
// variables override anything set here.
type fileConfig struct {
	ArchiveURL      string `yaml:"archive_url"`
	ArchiveUsername string `yaml:"archive_username"`
	ArchivePassword string `yaml:"archive_password"`
	DefaultStrategy string `yaml:"default_strategy"`
	SizeInference   bool   `yaml:"enable_size_inference"`
}

// readConfigFile loads the YAML config file at path.
func readConfigFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &fc, nil
}

// archiveCreds is a minimal view of the archive credential secret:
// {"username": "...", "password": "..."}.
type archiveCreds struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loadArchiveCreds loads the archive's basic-auth credentials from
// Google Secret Manager. Missing or malformed secrets are logged and
// treated as "no credentials"; plenty of archive deployments run open.
func loadArchiveCreds(ctx context.Context, projectID string) (string, string) {
	const secretID = "pacsbridge-archive-credentials"

	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		log.Printf("loadArchiveCreds: failed to init Secret Manager client: %v", err)
		return "", ""
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Printf("loadArchiveCreds: error closing Secret Manager client: %v", err)
		}
	}()

	name := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", projectID, secretID)
	resp, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		log.Printf("loadArchiveCreds: AccessSecretVersion failed for %s: %v", name, err)
		return "", ""
	}
	if resp.Payload == nil || len(resp.Payload.Data) == 0 {
		log.Printf("loadArchiveCreds: secret %s has empty payload", name)
		return "", ""
	}

	var creds archiveCreds
	if err := json.Unmarshal(resp.Payload.Data, &creds); err != nil {
		log.Printf("loadArchiveCreds: failed to unmarshal credential JSON: %v", err)
		return "", ""
	}
	return creds.Username, creds.Password
}

// LoadConfig reads configuration from an optional YAML file
// (PACSBRIDGE_CONFIG) and environment variables, env winning.
func LoadConfig() Config {
	var cfg Config

	if path := os.Getenv("PACSBRIDGE_CONFIG"); path != "" {
		fc, err := readConfigFile(path)
		if err != nil {
			log.Printf("LoadConfig: config file %s: %v", path, err)
		} else {
			cfg.ArchiveURL = fc.ArchiveURL
			cfg.ArchiveUsername = fc.ArchiveUsername
			cfg.ArchivePassword = fc.ArchivePassword
			cfg.SizeInference = fc.SizeInference
			if s, err := ParseStrategy(fc.DefaultStrategy); err == nil {
				cfg.DefaultStrategy = s
			} else {
				log.Printf("LoadConfig: %v, using automatic", err)
			}
		}
	}

	if v := os.Getenv("PACSBRIDGE_ARCHIVE_URL"); v != "" {
		cfg.ArchiveURL = v
	}
	if v := os.Getenv("PACSBRIDGE_ARCHIVE_USERNAME"); v != "" {
		cfg.ArchiveUsername = v
	}
	if v := os.Getenv("PACSBRIDGE_ARCHIVE_PASSWORD"); v != "" {
		cfg.ArchivePassword = v
	}
	if v := os.Getenv("PACSBRIDGE_DEFAULT_STRATEGY"); v != "" {
		if s, err := ParseStrategy(v); err == nil {
			cfg.DefaultStrategy = s
		} else {
			log.Printf("LoadConfig: %v, using automatic", err)
		}
	}
	if cfg.DefaultStrategy == "" {
		cfg.DefaultStrategy = StrategyAutomatic
	}
	if os.Getenv("PACSBRIDGE_SIZE_INFERENCE") == "1" {
		cfg.SizeInference = true
	}

	cfg.DevBearer = os.Getenv("AUTH_DEV_BEARER")
	cfg.ProjectID = os.Getenv("PACSBRIDGE_PROJECT_ID")

	// Credentials from Secret Manager only when a project is configured
	// and nothing more specific was provided.
	if cfg.ProjectID != "" && cfg.ArchiveUsername == "" {
		user, pass := loadArchiveCreds(context.Background(), cfg.ProjectID)
		cfg.ArchiveUsername = user
		cfg.ArchivePassword = pass
	}

	return cfg
}
