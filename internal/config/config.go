// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TenantConfig maps recipient domains to an isolation scope. Records and
// attachment keys are partitioned by tenant alias.
type TenantConfig struct {
	Alias   string
	Domains []string
}

// Config holds all configuration for the insight service.
type Config struct {
	Tenants []TenantConfig

	// Bedrock
	Region       string
	ModelID      string
	EmbedModelID string
	LLMTimeout   time.Duration

	// Storage
	TableName    string
	AttachBucket string

	// Knowledge retrieval
	DatabaseURL       string
	RetrievalMinScore float64
	RetrievalMaxHits  int

	// Redis
	RedisURL      string
	InsightsQueue string

	// Outbound reply
	ReplyEnabled bool
	ReplySender  string

	// RecordTTL expires persisted records after this duration.
	// Zero disables expiry (production).
	RecordTTL time.Duration

	// Server
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Tenants []struct {
		Alias   string   `yaml:"alias"`
		Domains []string `yaml:"domains"`
	} `yaml:"tenants"`
	Bedrock struct {
		Region     string `yaml:"region"`
		ModelID    string `yaml:"model_id"`
		EmbedModel string `yaml:"embed_model_id"`
	} `yaml:"bedrock"`
	Storage struct {
		Table        string `yaml:"table"`
		AttachBucket string `yaml:"attach_bucket"`
	} `yaml:"storage"`
	Retrieval struct {
		DatabaseURL string  `yaml:"database_url"`
		MinScore    float64 `yaml:"min_score"`
		MaxResults  int     `yaml:"max_results"`
	} `yaml:"retrieval"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Insights string `yaml:"insights"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	Reply struct {
		Enabled bool   `yaml:"enabled"`
		Sender  string `yaml:"sender"`
	} `yaml:"reply"`
}

// Defaults for the retrieval contract. Deployment overrides live in YAML.
const (
	DefaultRetrievalMinScore = 0.7
	DefaultRetrievalMaxHits  = 9
)

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		Region:       firstNonEmpty(raw.Bedrock.Region, envOrDefault("AWS_REGION", "us-east-1")),
		ModelID:      firstNonEmpty(raw.Bedrock.ModelID, envOrDefault("MODEL_ID", "us.anthropic.claude-3-7-sonnet-20250219-v1:0")),
		EmbedModelID: firstNonEmpty(raw.Bedrock.EmbedModel, envOrDefault("EMBED_MODEL_ID", "amazon.titan-embed-text-v2:0")),
		LLMTimeout:   envOrDefaultDuration("LLM_TIMEOUT", 60*time.Second),

		TableName:    firstNonEmpty(raw.Storage.Table, os.Getenv("TABLE_NAME")),
		AttachBucket: firstNonEmpty(raw.Storage.AttachBucket, os.Getenv("ATTACH_BUCKET")),

		DatabaseURL:       firstNonEmpty(raw.Retrieval.DatabaseURL, envOrDefault("DATABASE_URL", "postgres://localhost:5432/insight")),
		RetrievalMinScore: raw.Retrieval.MinScore,
		RetrievalMaxHits:  raw.Retrieval.MaxResults,

		RedisURL:      firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		InsightsQueue: firstNonEmpty(raw.Redis.Queues.Insights, envOrDefault("INSIGHTS_QUEUE", "insights")),

		ReplyEnabled: raw.Reply.Enabled,
		ReplySender:  firstNonEmpty(raw.Reply.Sender, os.Getenv("SENDER_EMAIL")),

		RecordTTL: envOrDefaultDuration("RECORD_TTL", 0),
		Port:      envOrDefaultInt("PORT", 8080),
	}

	if cfg.RetrievalMinScore <= 0 {
		cfg.RetrievalMinScore = DefaultRetrievalMinScore
	}
	if cfg.RetrievalMaxHits <= 0 {
		cfg.RetrievalMaxHits = DefaultRetrievalMaxHits
	}

	if cfg.TableName == "" {
		return nil, fmt.Errorf("storage.table (or TABLE_NAME) is required")
	}
	if cfg.AttachBucket == "" {
		return nil, fmt.Errorf("storage.attach_bucket (or ATTACH_BUCKET) is required")
	}

	// Build tenant configs
	for _, t := range raw.Tenants {
		tc := TenantConfig{
			Alias:   t.Alias,
			Domains: t.Domains,
		}

		// Skip tenants without a routing domain (commented out in YAML)
		if len(tc.Domains) == 0 {
			continue
		}

		if tc.Alias == "" {
			tc.Alias = tc.Domains[0]
		}

		cfg.Tenants = append(cfg.Tenants, tc)
	}

	return cfg, nil
}

// TenantForRecipient resolves the tenant alias for a recipient address by
// domain match. Unmatched recipients fall into the "default" tenant.
func (c *Config) TenantForRecipient(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return "default"
	}
	domain := strings.ToLower(addr[at+1:])

	for _, t := range c.Tenants {
		for _, d := range t.Domains {
			if strings.EqualFold(d, domain) {
				return t.Alias
			}
		}
	}
	return "default"
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
