package connectors

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jhillyerd/enmime"

	"pharmatrack/internal"
)

// ParsedMessage is the part of a raw RFC 822 message the ingestion cares
// about.
type ParsedMessage struct {
	MessageID   string
	Subject     string
	From        string
	Attachments []internal.Attachment
}

// ParseMessage reads the raw message and keeps only PDF attachments, in
// the order they appear.
func ParseMessage(raw []byte) (ParsedMessage, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return ParsedMessage{}, fmt.Errorf("read envelope: %w", err)
	}

	msg := ParsedMessage{
		MessageID: strings.TrimSpace(env.GetHeader("Message-Id")),
		Subject:   env.GetHeader("Subject"),
		From:      env.GetHeader("From"),
	}

	parts := make([]*enmime.Part, 0, len(env.Attachments)+len(env.Inlines))
	parts = append(parts, env.Attachments...)
	parts = append(parts, env.Inlines...)
	for _, p := range parts {
		if !IsPDF(p.FileName, p.ContentType) {
			continue
		}
		name := strings.TrimSpace(p.FileName)
		if name == "" {
			name = "attachment.pdf"
		}
		msg.Attachments = append(msg.Attachments, internal.Attachment{
			Filename:    name,
			ContentType: p.ContentType,
			Content:     p.Content,
		})
	}
	return msg, nil
}

// IsPDF reports whether an attachment qualifies for extraction.
func IsPDF(filename, contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct == "application/pdf" || strings.HasSuffix(strings.ToLower(strings.TrimSpace(filename)), ".pdf")
}
