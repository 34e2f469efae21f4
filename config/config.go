// Copyright 2025 Poiesic Systems
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


// Package config loads deployment configuration from a YAML file with
// dotenv overrides, producing the immutable structs the rest of the
// system is constructed from.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/poiesic/docquery/core"
	"github.com/poiesic/docquery/gate"
)

// Config is the full deployment configuration.
type Config struct {
	// Storage
	DBPath   string `yaml:"db_path"`
	InMemory bool   `yaml:"in_memory"`

	// Embedding provider
	EmbeddingHost  string `yaml:"embedding_host"`
	EmbeddingModel string `yaml:"embedding_model"`
	APIToken       string `yaml:"api_token"`

	// Retrieval
	RRFK              float64 `yaml:"rrf_k"`
	MinScore          float64 `yaml:"min_score"`
	MaxVectorDistance float64 `yaml:"max_vector_distance"`
	Signals           Signals `yaml:"signals"`

	// Optional external vector store; empty host keeps the embedded one.
	QdrantHost       string `yaml:"qdrant_host"`
	QdrantCollection string `yaml:"qdrant_collection"`

	// Disclosure
	Env               string   `yaml:"env"`
	DebugFlag         bool     `yaml:"debug_flag"`
	ProdDebugUnlocked bool     `yaml:"prod_debug_unlocked"`
	AdminTokenDigests []string `yaml:"admin_token_digests"`
}

// Signals configures which retrieval signals run.
type Signals struct {
	Lexical bool `yaml:"lexical"`
	Vector  bool `yaml:"vector"`
	Trigram bool `yaml:"trigram"`
}

// Default returns the development defaults: embedded storage, all signals
// on, disclosure closed.
func Default() Config {
	return Config{
		DBPath:           "docquery.db",
		EmbeddingHost:    "http://localhost:11434",
		EmbeddingModel:   "nomic-embed-text",
		RRFK:             60,
		Signals:          Signals{Lexical: true, Vector: true, Trigram: true},
		QdrantCollection: "docquery",
		Env:              "dev",
	}
}

// Load reads configuration in ascending precedence: defaults, then the
// YAML file (if path is non-empty), then environment variables. A .env
// file in the working directory is folded into the environment first.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// missing .env is fine
	_ = godotenv.Load()
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot produce a working system.
func (c Config) Validate() error {
	if !c.Signals.Lexical && !c.Signals.Vector && !c.Signals.Trigram {
		return core.ErrAllSignalsDisabled
	}
	if c.RRFK <= 0 {
		return fmt.Errorf("rrf_k must be positive, got %v", c.RRFK)
	}
	return nil
}

// DeployConfig derives the disclosure gate configuration.
func (c Config) DeployConfig() gate.DeployConfig {
	return gate.DeployConfig{
		DebugFlag:         c.DebugFlag,
		Env:               c.Env,
		ProdDebugUnlocked: c.ProdDebugUnlocked,
		AdminTokenDigests: c.AdminTokenDigests,
		Signals: core.SignalFlags{
			Lexical: c.Signals.Lexical,
			Vector:  c.Signals.Vector,
			Trigram: c.Signals.Trigram,
		},
	}
}

// applyEnv overlays DOCQUERY_* environment variables.
func applyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setBool := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			if parsed, err := strconv.ParseBool(v); err == nil {
				*dst = parsed
			}
		}
	}
	setFloat := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(key); ok {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = parsed
			}
		}
	}

	setString("DOCQUERY_DB_PATH", &cfg.DBPath)
	setBool("DOCQUERY_IN_MEMORY", &cfg.InMemory)
	setString("DOCQUERY_EMBEDDING_HOST", &cfg.EmbeddingHost)
	setString("DOCQUERY_EMBEDDING_MODEL", &cfg.EmbeddingModel)
	setString("DOCQUERY_API_TOKEN", &cfg.APIToken)
	setFloat("DOCQUERY_RRF_K", &cfg.RRFK)
	setFloat("DOCQUERY_MIN_SCORE", &cfg.MinScore)
	setFloat("DOCQUERY_MAX_VECTOR_DISTANCE", &cfg.MaxVectorDistance)
	setBool("DOCQUERY_SIGNAL_LEXICAL", &cfg.Signals.Lexical)
	setBool("DOCQUERY_SIGNAL_VECTOR", &cfg.Signals.Vector)
	setBool("DOCQUERY_SIGNAL_TRIGRAM", &cfg.Signals.Trigram)
	setString("DOCQUERY_QDRANT_HOST", &cfg.QdrantHost)
	setString("DOCQUERY_QDRANT_COLLECTION", &cfg.QdrantCollection)
	setString("DOCQUERY_ENV", &cfg.Env)
	setBool("DOCQUERY_DEBUG_FLAG", &cfg.DebugFlag)
	setBool("DOCQUERY_PROD_DEBUG_UNLOCKED", &cfg.ProdDebugUnlocked)

	if v, ok := os.LookupEnv("DOCQUERY_ADMIN_TOKEN_DIGESTS"); ok {
		var digests []string
		for _, d := range strings.Split(v, ",") {
			if d = strings.TrimSpace(d); d != "" {
				digests = append(digests, d)
			}
		}
		cfg.AdminTokenDigests = digests
	}
}
