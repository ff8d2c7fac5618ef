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

// Insight — Email Intelligence Service
//
// Entry point for the enrichment service. It:
//  1. Loads multi-tenant configuration from config.yaml
//  2. Connects to Bedrock, DynamoDB, S3, SES, PostgreSQL, and Redis
//  3. Assembles the extraction/classification/retrieval/composition agent
//  4. Serves the event, invoke, and health endpoints
//  5. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/insight/internal/agent"
	"github.com/bcem/insight/internal/blob"
	"github.com/bcem/insight/internal/config"
	"github.com/bcem/insight/internal/dedup"
	"github.com/bcem/insight/internal/ingest"
	"github.com/bcem/insight/internal/knowledge"
	"github.com/bcem/insight/internal/llm"
	"github.com/bcem/insight/internal/notify"
	"github.com/bcem/insight/internal/pipeline"
	"github.com/bcem/insight/internal/queue"
	"github.com/bcem/insight/internal/store"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting insight service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"tenants", len(cfg.Tenants),
		"model", cfg.ModelID,
		"reply_enabled", cfg.ReplyEnabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- AWS Clients ---
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		slog.Error("failed to load AWS configuration", "error", err)
		os.Exit(1)
	}

	brc := bedrockruntime.NewFromConfig(awsCfg)
	ddb := dynamodb.NewFromConfig(awsCfg)
	s3c := s3.NewFromConfig(awsCfg)
	ses := sesv2.NewFromConfig(awsCfg)

	// --- Connect to PostgreSQL (knowledge base) ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	kb, err := knowledge.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise knowledge store", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	publisher := queue.NewPublisher(rdb, cfg.InsightsQueue)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Dedup Filter ---
	filter := dedup.NewFilter(rdb)

	// --- Agent ---
	model := llm.NewClient(brc, cfg.ModelID, cfg.EmbedModelID, cfg.LLMTimeout)

	// Retrieval searches the shared knowledge base across tenants.
	retriever := knowledge.NewRetriever(model, kb, "")

	orchestrator := agent.NewOrchestrator(
		agent.NewInsightExtractor(model),
		agent.NewReplyClassifier(model),
		retriever,
		agent.NewReplyComposer(model),
		cfg.RetrievalMinScore,
		cfg.RetrievalMaxHits,
	)

	// --- Persistence and fan-out ---
	records := store.NewStore(ddb, cfg.TableName, cfg.RecordTTL)
	blobs := blob.NewStore(s3c, cfg.AttachBucket)

	var replier pipeline.ReplySender
	if cfg.ReplyEnabled {
		replier = notify.NewSender(ses, cfg.ReplySender)
		slog.Info("auto-reply enabled", "sender", cfg.ReplySender)
	}

	// --- Pipeline Server ---
	handler := pipeline.NewHandler(
		cfg,
		orchestrator,
		blobs,
		ingest.Parse,
		filter,
		records,
		publisher,
		replier,
		publisher, kb,
	)

	ready, err := pipeline.Serve(ctx, cfg.Port, handler)
	if err != nil {
		slog.Error("failed to start pipeline server", "error", err)
		os.Exit(1)
	}
	<-ready
	slog.Info("insight service ready", "port", cfg.Port)

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	slog.Info("received shutdown signal", "signal", sig)
	cancel()

	// Give in-flight background enrichments a moment to finish.
	time.Sleep(2 * time.Second)

	rdb.Close()
	pgPool.Close()

	slog.Info("insight service stopped")
}
