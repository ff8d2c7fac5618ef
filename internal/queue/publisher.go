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

// Package queue publishes enriched-email events to a Redis list so
// downstream consumers (search indexers, digests) can react without
// touching the hot path.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/insight/internal/models"
)

// Publisher pushes insight events to a named Redis queue.
type Publisher struct {
	rdb       *redis.Client
	queueName string
}

// NewPublisher creates a Redis publisher targeting the specified queue.
func NewPublisher(rdb *redis.Client, queueName string) *Publisher {
	return &Publisher{
		rdb:       rdb,
		queueName: queueName,
	}
}

// InsightEvent is the wire format pushed onto the queue.
type InsightEvent struct {
	EventID     string          `json:"event_id"`
	TenantAlias string          `json:"tenant_alias"`
	Recipient   string          `json:"recipient"`
	MessageID   string          `json:"message_id"`
	Subject     string          `json:"subject"`
	PublishedAt string          `json:"published_at"`
	Insight     *models.Insight `json:"insight"`
}

// PublishInsight serialises the enriched result and LPUSHes it onto the
// queue. Consumers pop with BRPOP, so the list behaves as FIFO.
func (p *Publisher) PublishInsight(ctx context.Context, tenantAlias, recipient, messageID, subject string, in *models.Insight) error {
	event := InsightEvent{
		EventID:     uuid.New().String(),
		TenantAlias: tenantAlias,
		Recipient:   recipient,
		MessageID:   messageID,
		Subject:     subject,
		PublishedAt: time.Now().UTC().Format(time.RFC3339),
		Insight:     in,
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal insight event: %w", err)
	}

	if err := p.rdb.LPush(ctx, p.queueName, string(eventJSON)).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Info("published insight event",
		"event_id", event.EventID,
		"message_id", messageID,
		"tenant", tenantAlias,
		"queue", p.queueName,
	)

	return nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
