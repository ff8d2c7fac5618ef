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

// Package store persists enriched email records to DynamoDB, keyed by
// tenant and recipient with secondary projections by category and
// sentiment for query access patterns.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/bcem/insight/internal/models"
)

// GSI names for the secondary projections.
const (
	CategoryIndex  = "category-index"
	SentimentIndex = "sentiment-index"
)

// Record is one persisted enriched email.
type Record struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`

	TenantAlias string `dynamodbav:"tenant_alias"`
	UserID      string `dynamodbav:"user_id"`
	MessageID   string `dynamodbav:"message_id"`
	From        string `dynamodbav:"from"`
	FromName    string `dynamodbav:"from_name,omitempty"`
	Subject     string `dynamodbav:"subject"`
	Date        string `dynamodbav:"date,omitempty"`
	ReceivedAt  string `dynamodbav:"received_at"`

	Insight models.Insight `dynamodbav:"ai_insights"`

	// Secondary projections.
	CategoryPK  string `dynamodbav:"GSI1PK"`
	CategorySK  string `dynamodbav:"GSI1SK"`
	SentimentPK string `dynamodbav:"GSI2PK"`
	SentimentSK string `dynamodbav:"GSI2SK"`

	// ExpiresAt is a Unix-seconds TTL attribute, zero for no expiry.
	ExpiresAt int64 `dynamodbav:"expires_at,omitempty"`
}

// PutParams identifies the email a record is built from.
type PutParams struct {
	TenantAlias string
	Recipient   string
	MessageID   string
	From        string
	FromName    string
	Subject     string
	Date        string
	Insight     *models.Insight
}

// Store writes enriched records to one DynamoDB table.
type Store struct {
	db    *dynamodb.Client
	table string

	// ttl expires non-production records; zero disables expiry.
	ttl time.Duration
}

// NewStore creates a record store for the given table.
func NewStore(db *dynamodb.Client, table string, ttl time.Duration) *Store {
	return &Store{
		db:    db,
		table: table,
		ttl:   ttl,
	}
}

// PutInsight writes one enriched record.
func (s *Store) PutInsight(ctx context.Context, p PutParams) error {
	rec := buildRecord(p, time.Now().UTC(), s.ttl)

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put record: %w", err)
	}

	slog.Info("enriched record persisted",
		"tenant", p.TenantAlias,
		"user", p.Recipient,
		"message_id", p.MessageID,
		"category", p.Insight.Category,
	)

	return nil
}

// ListByRecipient returns records for one tenant + recipient, newest last.
func (s *Store) ListByRecipient(ctx context.Context, tenantAlias, recipient string, limit int32) ([]Record, error) {
	out, err := s.db.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{
				Value: partitionKey(tenantAlias, recipient),
			},
		},
		Limit: aws.Int32(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("query by recipient: %w", err)
	}
	return unmarshalRecords(out.Items)
}

// ListByCategory returns records in a category across all recipients via
// the category projection.
func (s *Store) ListByCategory(ctx context.Context, category models.Category, limit int32) ([]Record, error) {
	out, err := s.db.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(CategoryIndex),
		KeyConditionExpression: aws.String("GSI1PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{
				Value: "CATEGORY#" + string(category),
			},
		},
		Limit: aws.Int32(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("query by category: %w", err)
	}
	return unmarshalRecords(out.Items)
}

func unmarshalRecords(items []map[string]types.AttributeValue) ([]Record, error) {
	records := make([]Record, 0, len(items))
	for _, item := range items {
		var r Record
		if err := attributevalue.UnmarshalMap(item, &r); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
		records = append(records, r)
	}
	return records, nil
}

// buildRecord derives the full key layout for one enriched email.
func buildRecord(p PutParams, now time.Time, ttl time.Duration) Record {
	receivedAt := now.Format(time.RFC3339)

	rec := Record{
		PK: partitionKey(p.TenantAlias, p.Recipient),
		SK: "EMAIL#" + p.MessageID,

		TenantAlias: p.TenantAlias,
		UserID:      p.Recipient,
		MessageID:   p.MessageID,
		From:        p.From,
		FromName:    p.FromName,
		Subject:     p.Subject,
		Date:        p.Date,
		ReceivedAt:  receivedAt,

		Insight: *p.Insight,

		CategoryPK:  "CATEGORY#" + string(p.Insight.Category),
		CategorySK:  receivedAt,
		SentimentPK: "SENTIMENT#" + string(p.Insight.Sentiment),
		SentimentSK: receivedAt,
	}

	if ttl > 0 {
		rec.ExpiresAt = now.Add(ttl).Unix()
	}

	return rec
}

func partitionKey(tenantAlias, recipient string) string {
	return fmt.Sprintf("TENANT#%s#USER#%s", tenantAlias, recipient)
}
