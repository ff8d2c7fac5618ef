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

// Package llm wraps the Bedrock Runtime API behind a small completion and
// embedding interface. One Client is built at process start and passed to
// every component; it is never re-instantiated per call.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

const (
	// defaultTemperature matches the deployed agent configuration.
	defaultTemperature = 0.3

	// defaultMaxTokens bounds a single completion.
	defaultMaxTokens = 1024
)

// Completer produces a text completion for a system + user prompt pair.
// Components depend on this interface so tests can substitute fakes.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Embedder produces a vector embedding for a text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Client is the process-wide Bedrock handle.
type Client struct {
	brc          *bedrockruntime.Client
	modelID      string
	embedModelID string
	timeout      time.Duration
}

// NewClient creates a Bedrock client for the given model IDs. timeout
// bounds each individual model call.
func NewClient(brc *bedrockruntime.Client, modelID, embedModelID string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		brc:          brc,
		modelID:      modelID,
		embedModelID: embedModelID,
		timeout:      timeout,
	}
}

// Complete sends one user message under the given system prompt and returns
// the concatenated text blocks of the response.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.brc.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.modelID),
		System: []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: system},
		},
		Messages: []types.Message{
			{
				Role: types.ConversationRoleUser,
				Content: []types.ContentBlock{
					&types.ContentBlockMemberText{Value: user},
				},
			},
		},
		InferenceConfig: &types.InferenceConfiguration{
			Temperature: aws.Float32(defaultTemperature),
			MaxTokens:   aws.Int32(defaultMaxTokens),
		},
	})
	if err != nil {
		return "", fmt.Errorf("bedrock converse: %w", err)
	}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", fmt.Errorf("unexpected converse output type %T", out.Output)
	}

	var text strings.Builder
	for _, block := range msg.Value.Content {
		if tb, ok := block.(*types.ContentBlockMemberText); ok {
			text.WriteString(tb.Value)
		}
	}

	return text.String(), nil
}

// titanEmbedRequest is the Titan text embedding request body.
type titanEmbedRequest struct {
	InputText string `json:"inputText"`
}

// titanEmbedResponse is the Titan text embedding response body.
type titanEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed returns the embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(titanEmbedRequest{InputText: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	out, err := c.brc.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.embedModelID),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock invoke embed model: %w", err)
	}

	var resp titanEmbedResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}

	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("embed model returned no vector")
	}

	return resp.Embedding, nil
}
