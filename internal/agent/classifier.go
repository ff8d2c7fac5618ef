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

package agent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/bcem/insight/internal/llm"
	"github.com/bcem/insight/internal/models"
)

// ReplyClassifier decides whether answering a query needs knowledge-base
// augmentation. Faults never abort the pipeline: any failure or ambiguous
// model output defaults to a general reply, since over-retrieval wastes
// cost and risks contaminating a simple reply with irrelevant context.
type ReplyClassifier struct {
	llm llm.Completer
}

// NewReplyClassifier creates a classifier backed by the given completer.
func NewReplyClassifier(c llm.Completer) *ReplyClassifier {
	return &ReplyClassifier{llm: c}
}

// Classify returns the retrieval-routing verdict for the query.
func (c *ReplyClassifier) Classify(ctx context.Context, query string) models.Verdict {
	raw, err := c.llm.Complete(ctx, classifierSystemPrompt, query)
	if err != nil {
		slog.Warn("classifier call failed, defaulting to general",
			"error", err,
		)
		return models.VerdictGeneral
	}

	return NormalizeVerdict(raw)
}

// NormalizeVerdict maps model output onto the two canonical tokens. The
// output contract is a single token, but any other output is treated
// defensively: the affirmative token must be unambiguously present and the
// negative token absent, otherwise the verdict is general.
func NormalizeVerdict(raw string) models.Verdict {
	text := strings.ToLower(strings.TrimSpace(raw))

	hasRetrieval := strings.Contains(text, string(models.VerdictNeedsRetrieval))
	hasGeneral := strings.Contains(text, string(models.VerdictGeneral))

	if hasRetrieval && !hasGeneral {
		return models.VerdictNeedsRetrieval
	}
	return models.VerdictGeneral
}
