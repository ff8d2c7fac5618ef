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

// Package agent implements the email-intelligence orchestration: a fixed
// four-stage pipeline (extract, classify, retrieve, compose) over opaque
// LLM collaborators, with defined fallback behavior at every stage.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/bcem/insight/internal/llm"
	"github.com/bcem/insight/internal/models"
)

// stripPolicy removes all markup when falling back to html_body.
var stripPolicy = bluemonday.StrictPolicy()

// InsightExtractor turns a raw email payload into a structured insight
// envelope, or an error envelope when the source text is unusable.
type InsightExtractor struct {
	llm llm.Completer
}

// NewInsightExtractor creates an extractor backed by the given completer.
func NewInsightExtractor(c llm.Completer) *InsightExtractor {
	return &InsightExtractor{llm: c}
}

// Extract runs the extraction stage. An empty or unparsable body yields the
// EmptyMessage error envelope without a model call; a transport fault is
// returned as a Go error and is terminal for the pipeline.
func (e *InsightExtractor) Extract(ctx context.Context, p *models.EmailPayload) (models.Envelope, error) {
	if CanonicalBody(p) == "" {
		return models.Failure(&models.ErrorEnvelope{
			Error: models.ErrCodeEmptyMessage,
		}), nil
	}

	// The model receives the payload exactly as the caller provided it.
	payloadJSON, err := json.Marshal(p)
	if err != nil {
		return models.Envelope{}, fmt.Errorf("marshal email payload: %w", err)
	}

	raw, err := e.llm.Complete(ctx, extractorSystemPrompt, string(payloadJSON))
	if err != nil {
		return models.Envelope{}, fmt.Errorf("extract completion: %w", err)
	}

	env := ParseEnvelope(raw)
	if env.IsError() {
		return env, nil
	}

	badCat, badSent := env.Insight.Normalize()
	if badCat != "" {
		slog.Warn("extractor returned out-of-set category, using Other",
			"category", badCat,
		)
	}
	if badSent != "" {
		slog.Warn("extractor returned out-of-set sentiment, using Neutral",
			"sentiment", badSent,
		)
	}

	return env, nil
}

// CanonicalBody returns the text the extractor should analyse: plain_body
// when present, otherwise html_body stripped of markup. Empty string means
// the message has no usable content.
func CanonicalBody(p *models.EmailPayload) string {
	if body := strings.TrimSpace(p.PlainBody); body != "" {
		return body
	}
	if p.HTMLBody != nil {
		return StripHTML(*p.HTMLBody)
	}
	return ""
}

// StripHTML reduces markup to its text content.
func StripHTML(s string) string {
	return strings.TrimSpace(html.UnescapeString(stripPolicy.Sanitize(s)))
}

// ParseEnvelope parses the raw model output as a single JSON object. Code
// fences are tolerated; anything else that fails to parse produces the
// OrchestratorInvalidJSON error envelope with the original text attached
// verbatim, rather than a parse error propagating to the caller.
func ParseEnvelope(raw string) models.Envelope {
	text := strings.TrimSpace(raw)

	// Models occasionally wrap JSON in a markdown code fence.
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
	}

	var env models.Envelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return models.Failure(&models.ErrorEnvelope{
			Error: models.ErrCodeInvalidJSON,
			Raw:   raw,
		})
	}

	return env
}
