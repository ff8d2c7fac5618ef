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
	"fmt"
	"strings"

	"github.com/bcem/insight/internal/llm"
	"github.com/bcem/insight/internal/models"
)

// ReplyComposer drafts a ready-to-send reply, optionally conditioned on
// retrieved passages. Its output never references internal mechanics; the
// prompts enforce that, and the orchestrator absorbs any fault here by
// substituting an empty reply.
type ReplyComposer struct {
	llm llm.Completer
}

// NewReplyComposer creates a composer backed by the given completer.
func NewReplyComposer(c llm.Completer) *ReplyComposer {
	return &ReplyComposer{llm: c}
}

// Compose drafts a reply to the query. With passages it synthesizes a
// direct answer grounded in them; without, it answers from general
// capability.
func (c *ReplyComposer) Compose(ctx context.Context, query string, passages []models.Passage) (string, error) {
	system := composerGeneralPrompt
	user := query

	if len(passages) > 0 {
		system = composerGroundedPrompt
		user = buildGroundedPrompt(query, passages)
	}

	reply, err := c.llm.Complete(ctx, system, user)
	if err != nil {
		return "", fmt.Errorf("compose completion: %w", err)
	}

	return strings.TrimSpace(reply), nil
}

// buildGroundedPrompt joins the query with its context passages.
func buildGroundedPrompt(query string, passages []models.Passage) string {
	var b strings.Builder
	b.WriteString("Query:\n")
	b.WriteString(query)
	b.WriteString("\n\nContext passages:\n")

	for i, p := range passages {
		fmt.Fprintf(&b, "%d. %s\n", i+1, p.Content)
	}

	return b.String()
}
