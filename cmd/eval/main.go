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

// Insight — Evaluation Runner
//
// Scores the agent against a JSONL dataset and prints a JSON report to
// stdout. With -endpoint it POSTs each case to a running service's
// /invoke; without it the agent runs in process against Bedrock using
// the service configuration.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bcem/insight/internal/agent"
	"github.com/bcem/insight/internal/config"
	"github.com/bcem/insight/internal/eval"
	"github.com/bcem/insight/internal/knowledge"
	"github.com/bcem/insight/internal/llm"
	"github.com/bcem/insight/internal/models"
)

// invoker runs one payload and returns the raw response JSON.
type invoker func(ctx context.Context, payload *models.EmailPayload) (json.RawMessage, error)

func main() {
	var (
		dataset  = flag.String("dataset", "eval/cases.jsonl", "path to the JSONL dataset")
		endpoint = flag.String("endpoint", "", "invoke URL of a running service; empty runs the agent in process")
		timeout  = flag.Duration("timeout", 60*time.Second, "per-case invocation timeout")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	f, err := os.Open(*dataset)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open dataset: %v\n", err)
		os.Exit(1)
	}
	cases, err := eval.LoadCases(f)
	f.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load dataset: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	var invoke invoker
	target := *endpoint
	if target != "" {
		invoke = httpInvoker(target)
	} else {
		target = "local"
		invoke, err = localInvoker(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "build local agent: %v\n", err)
			os.Exit(1)
		}
	}

	start := time.Now()
	results := make([]eval.CaseResult, 0, len(cases))
	for _, c := range cases {
		caseCtx, cancel := context.WithTimeout(ctx, *timeout)
		raw, err := invoke(caseCtx, &c.Input)
		cancel()

		if err != nil {
			raw, _ = json.Marshal(models.ErrorEnvelope{
				Error:  models.ErrCodeInvocationFailed,
				Detail: err.Error(),
			})
		}

		results = append(results, eval.Judge(c, raw))
	}

	report := eval.BuildReport(*dataset, target, results, time.Since(start).Seconds())

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		fmt.Fprintf(os.Stderr, "write report: %v\n", err)
		os.Exit(1)
	}
}

// httpInvoker POSTs each payload to a running service.
func httpInvoker(endpoint string) invoker {
	client := &http.Client{}

	return func(ctx context.Context, payload *models.EmailPayload) (json.RawMessage, error) {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("invoke %s: %w", endpoint, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}

		if !json.Valid(raw) {
			wrapped, _ := json.Marshal(models.ErrorEnvelope{
				Error: "NonJSONResponse",
				Raw:   string(raw),
			})
			return wrapped, nil
		}

		return raw, nil
	}
}

// localInvoker assembles the agent in process. Retrieval uses the
// configured knowledge base when one is reachable and degrades to
// context-free composition otherwise.
func localInvoker(ctx context.Context) (invoker, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS configuration: %w", err)
	}

	model := llm.NewClient(
		bedrockruntime.NewFromConfig(awsCfg),
		cfg.ModelID, cfg.EmbedModelID, cfg.LLMTimeout,
	)

	var retriever agent.Retriever = noRetrieval{}
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err == nil {
			if kb, kerr := knowledge.NewStore(ctx, pool); kerr == nil {
				retriever = knowledge.NewRetriever(model, kb, "")
			} else {
				slog.Warn("knowledge store unavailable, retrieval disabled", "error", kerr)
			}
		} else {
			slog.Warn("postgres unavailable, retrieval disabled", "error", err)
		}
	}

	orchestrator := agent.NewOrchestrator(
		agent.NewInsightExtractor(model),
		agent.NewReplyClassifier(model),
		retriever,
		agent.NewReplyComposer(model),
		cfg.RetrievalMinScore,
		cfg.RetrievalMaxHits,
	)

	return func(ctx context.Context, payload *models.EmailPayload) (json.RawMessage, error) {
		env, err := orchestrator.Run(ctx, payload)
		if err != nil {
			return nil, err
		}
		return json.Marshal(env)
	}, nil
}

// noRetrieval satisfies the retriever contract with an empty knowledge
// base.
type noRetrieval struct{}

func (noRetrieval) Retrieve(ctx context.Context, query string, minScore float64, maxResults int) ([]models.Passage, error) {
	return nil, nil
}
