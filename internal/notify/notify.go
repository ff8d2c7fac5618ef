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

// Package notify sends drafted replies over SES. Sending is best-effort
// from the pipeline's perspective: a rejected message never fails the
// enrichment run.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// Sender sends plain-text replies from a fixed verified address.
type Sender struct {
	ses    *sesv2.Client
	sender string
}

// NewSender creates a reply sender using the given source address.
func NewSender(client *sesv2.Client, sender string) *Sender {
	return &Sender{
		ses:    client,
		sender: sender,
	}
}

// SendReply sends a plain-text reply to the recipient.
func (s *Sender) SendReply(ctx context.Context, recipient, subject, body string) error {
	out, err := s.ses.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.sender),
		Destination: &types.Destination{
			ToAddresses: []string{recipient},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Text: &types.Content{
						Data:    aws.String(body),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("ses send to %s: %w", recipient, err)
	}

	slog.Info("reply sent",
		"recipient", recipient,
		"ses_message_id", aws.ToString(out.MessageId),
	)

	return nil
}

// ReplySubject prefixes the original subject the conventional way.
func ReplySubject(subject string) string {
	if subject == "" {
		return "Re: your message"
	}
	return "Re: " + subject
}
