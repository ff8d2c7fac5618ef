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

// Package blob provides object-storage access: fetching raw email bytes
// and persisting extracted attachments.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Store wraps the S3 client for the pipeline's two object operations.
type Store struct {
	s3           *s3.Client
	attachBucket string
}

// NewStore creates a blob store writing attachments to attachBucket.
func NewStore(client *s3.Client, attachBucket string) *Store {
	return &Store{
		s3:           client,
		attachBucket: attachBucket,
	}
}

// FetchRaw downloads a raw email object.
func (s *Store) FetchRaw(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := s.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read object body: %w", err)
	}
	return data, nil
}

// PutAttachment persists attachment bytes under a key derived from the
// message identifier and original filename, and returns that key.
func (s *Store) PutAttachment(ctx context.Context, messageID, filename string, data []byte) (string, error) {
	key := fmt.Sprintf("attachments/%s/%s", messageID, filename)

	_, err := s.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.attachBucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("put attachment %s: %w", key, err)
	}

	slog.Debug("attachment stored",
		"key", key,
		"bytes", len(data),
	)

	return key, nil
}
