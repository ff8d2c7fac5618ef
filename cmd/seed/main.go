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

// Insight — Knowledge Seeder
//
// Loads a JSONL passages file into the vector knowledge base. Each line
// is {"content": "...", "tenant_alias": "..."}; rows without a tenant
// fall under the -tenant default.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bcem/insight/internal/config"
	"github.com/bcem/insight/internal/knowledge"
	"github.com/bcem/insight/internal/llm"
)

func main() {
	var (
		file     = flag.String("file", "passages.jsonl", "JSONL passages file")
		tenant   = flag.String("tenant", "", "default tenant alias for rows without one")
		rowDelay = flag.Duration("row-delay", 100*time.Millisecond, "delay between embedding calls")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		slog.Error("failed to load AWS configuration", "error", err)
		os.Exit(1)
	}
	model := llm.NewClient(
		bedrockruntime.NewFromConfig(awsCfg),
		cfg.ModelID, cfg.EmbedModelID, cfg.LLMTimeout,
	)

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	kb, err := knowledge.NewStore(ctx, pool)
	if err != nil {
		slog.Error("failed to initialise knowledge store", "error", err)
		os.Exit(1)
	}

	f, err := os.Open(*file)
	if err != nil {
		slog.Error("failed to open passages file", "file", *file, "error", err)
		os.Exit(1)
	}
	defer f.Close()

	seeder := knowledge.NewSeeder(knowledge.SeederConfig{
		Embedder: model,
		Store:    kb,
		RowDelay: *rowDelay,
	})

	result, err := seeder.Run(ctx, f, *tenant)
	if err != nil {
		slog.Error("seeding failed", "error", err)
		os.Exit(1)
	}

	if result.Errors > 0 {
		os.Exit(1)
	}
}
