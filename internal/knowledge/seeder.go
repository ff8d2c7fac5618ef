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

package knowledge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/bcem/insight/internal/llm"
)

// Upserter stores one embedded passage.
type Upserter interface {
	Upsert(ctx context.Context, tenantAlias, content string, embedding []float32) error
}

// SeedResult summarises a completed seeding run.
type SeedResult struct {
	Indexed int
	Skipped int
	Errors  int
	Elapsed time.Duration
}

// seedRow is one JSONL line of the passages file. A row-level tenant
// overrides the run default.
type seedRow struct {
	Content     string `json:"content"`
	TenantAlias string `json:"tenant_alias,omitempty"`
}

// Seeder embeds passages and loads them into the knowledge store.
type Seeder struct {
	embedder llm.Embedder
	store    Upserter

	// rowDelay spaces out embedding calls to avoid throttling.
	rowDelay time.Duration
}

// SeederConfig holds dependencies for the seeder.
type SeederConfig struct {
	Embedder llm.Embedder
	Store    Upserter
	RowDelay time.Duration
}

// NewSeeder creates a knowledge-base seeder.
func NewSeeder(cfg SeederConfig) *Seeder {
	delay := cfg.RowDelay
	if delay == 0 {
		delay = 100 * time.Millisecond
	}
	return &Seeder{
		embedder: cfg.Embedder,
		store:    cfg.Store,
		rowDelay: delay,
	}
}

// Run reads JSONL passages from r and indexes each one. Blank lines and
// empty passages are skipped; row-level failures are counted and logged
// but do not stop the run.
func (s *Seeder) Run(ctx context.Context, r io.Reader, defaultTenant string) (*SeedResult, error) {
	start := time.Now()
	result := &SeedResult{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var row seedRow
		if err := json.Unmarshal([]byte(text), &row); err != nil {
			return nil, fmt.Errorf("passages line %d: %w", line, err)
		}

		content := strings.TrimSpace(row.Content)
		if content == "" {
			result.Skipped++
			continue
		}

		tenant := row.TenantAlias
		if tenant == "" {
			tenant = defaultTenant
		}

		if err := s.indexPassage(ctx, tenant, content); err != nil {
			slog.Error("passage indexing failed",
				"line", line,
				"tenant", tenant,
				"error", err,
			)
			result.Errors++
			continue
		}
		result.Indexed++

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.rowDelay):
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read passages: %w", err)
	}

	result.Elapsed = time.Since(start)

	slog.Info("knowledge seeding complete",
		"indexed", result.Indexed,
		"skipped", result.Skipped,
		"errors", result.Errors,
		"elapsed", result.Elapsed,
	)

	return result, nil
}

func (s *Seeder) indexPassage(ctx context.Context, tenant, content string) error {
	embedding, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embed passage: %w", err)
	}
	if err := s.store.Upsert(ctx, tenant, content, embedding); err != nil {
		return fmt.Errorf("store passage: %w", err)
	}
	return nil
}
