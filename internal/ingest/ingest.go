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

// Package ingest decomposes raw RFC-822 email bytes into the canonical
// EmailPayload: headers, the first text/plain and first text/html parts in
// traversal order, and attachment parts with their content.
package ingest

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"github.com/bcem/insight/internal/models"
)

// Meta carries the routing identity of a parsed email.
type Meta struct {
	MessageID string
	FromName  string
	FromAddr  string

	// Recipient is the first To address — the primary "user" the
	// enriched record is keyed by.
	Recipient string
}

// Attachment is an extracted attachment with its decoded content. The
// pipeline persists the data to blob storage and records the resulting
// storage key on the payload.
type Attachment struct {
	Filename string
	Data     []byte
}

// ParsedEmail is the result of decomposing one raw message.
type ParsedEmail struct {
	Payload     models.EmailPayload
	Meta        Meta
	Attachments []Attachment

	html    string
	htmlSet bool
}

// Parse decomposes raw email bytes. Multipart containers themselves are
// ignored; only leaf parts contribute content.
func Parse(raw []byte) (*ParsedEmail, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}

	dec := new(mime.WordDecoder)

	p := &ParsedEmail{
		Payload: models.EmailPayload{
			From:        msg.Header.Get("From"),
			To:          msg.Header.Get("To"),
			Subject:     decodeHeader(dec, msg.Header.Get("Subject")),
			Date:        msg.Header.Get("Date"),
			Attachments: []models.AttachmentRef{},
		},
	}

	if cc := msg.Header.Get("Cc"); cc != "" {
		p.Payload.CC = &cc
	}

	p.Meta.MessageID = strings.Trim(msg.Header.Get("Message-Id"), "<>")

	if addr, err := mail.ParseAddress(p.Payload.From); err == nil {
		p.Meta.FromName = addr.Name
		p.Meta.FromAddr = addr.Address
	} else {
		p.Meta.FromAddr = p.Payload.From
	}

	p.Meta.Recipient = firstAddress(p.Payload.To)

	err = p.walkPart(
		msg.Body,
		msg.Header.Get("Content-Type"),
		msg.Header.Get("Content-Transfer-Encoding"),
		"", "",
	)
	if err != nil {
		return nil, err
	}

	if p.htmlSet {
		p.Payload.HTMLBody = &p.html
	}

	return p, nil
}

// walkPart processes one MIME entity, recursing into multipart containers.
func (p *ParsedEmail) walkPart(body io.Reader, contentType, encoding, disposition, filename string) error {
	mediaType := "text/plain"
	var params map[string]string
	if contentType != "" {
		var err error
		mediaType, params, err = mime.ParseMediaType(contentType)
		if err != nil {
			// Unparsable type: treat the content as plain text.
			mediaType = "text/plain"
		}
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return fmt.Errorf("multipart entity without boundary")
		}

		mr := multipart.NewReader(body, boundary)
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("read part: %w", err)
			}

			// multipart.Part strips quoted-printable transparently;
			// anything left in the header still needs decoding.
			err = p.walkPart(
				part,
				part.Header.Get("Content-Type"),
				part.Header.Get("Content-Transfer-Encoding"),
				partDisposition(part),
				part.FileName(),
			)
			if err != nil {
				return err
			}
		}
	}

	data, err := decodeBody(body, encoding)
	if err != nil {
		return fmt.Errorf("decode %s part: %w", mediaType, err)
	}

	if disposition == "attachment" {
		if filename == "" {
			filename = "unknown"
		}
		p.Attachments = append(p.Attachments, Attachment{
			Filename: filename,
			Data:     data,
		})
		return nil
	}

	switch {
	case mediaType == "text/plain" && p.Payload.PlainBody == "":
		p.Payload.PlainBody = string(data)
	case mediaType == "text/html" && !p.htmlSet:
		p.html = string(data)
		p.htmlSet = true
	}

	return nil
}

// partDisposition returns the bare disposition token of a part.
func partDisposition(part *multipart.Part) string {
	disp, _, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
	if err != nil {
		return ""
	}
	return disp
}

// decodeBody applies the Content-Transfer-Encoding.
func decodeBody(r io.Reader, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return io.ReadAll(base64.NewDecoder(base64.StdEncoding, newLineStripper(r)))
	case "quoted-printable":
		return io.ReadAll(quotedprintable.NewReader(r))
	default:
		return io.ReadAll(r)
	}
}

// firstAddress returns the first address from a comma-separated list,
// falling back to a placeholder so records always have a partition key.
func firstAddress(list string) string {
	addrs, err := mail.ParseAddressList(list)
	if err != nil || len(addrs) == 0 {
		return "unknown@example.com"
	}
	return addrs[0].Address
}

func decodeHeader(dec *mime.WordDecoder, s string) string {
	decoded, err := dec.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}

// lineStripper removes CR/LF so base64 bodies with line wrapping decode
// cleanly.
type lineStripper struct {
	r io.Reader
}

func newLineStripper(r io.Reader) io.Reader {
	return &lineStripper{r: r}
}

func (l *lineStripper) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	out := 0
	for i := 0; i < n; i++ {
		if p[i] == '\r' || p[i] == '\n' {
			continue
		}
		p[out] = p[i]
		out++
	}
	if out == 0 && n > 0 && err == nil {
		// Whole chunk was line breaks; keep the reader moving.
		return l.Read(p)
	}
	return out, err
}
