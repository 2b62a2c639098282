package imap

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"talent-inbox/internal/ingestion/domain"

	"github.com/emersion/go-message/mail"
)

// ParsedMessage is a MIME message normalized for ingestion, with attachment bodies kept by ID.
type ParsedMessage struct {
	Email       *domain.InboundEmail
	Attachments map[string][]byte
}

// ParseMessage reads an RFC 5322 message. Attachment IDs are their 1-based position in the message.
func ParseMessage(id string, raw []byte) (*ParsedMessage, error) {
	email := &domain.InboundEmail{
		ID:      id,
		Headers: map[string]string{},
	}
	out := &ParsedMessage{Email: email, Attachments: map[string][]byte{}}

	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse message %s: %w", id, err)
	}

	fields := reader.Header.Fields()
	for fields.Next() {
		if _, exists := email.Headers[fields.Key()]; !exists {
			email.Headers[fields.Key()] = fields.Value()
		}
	}

	if subject, err := reader.Header.Subject(); err == nil {
		email.Subject = subject
	}
	if fromList, err := reader.Header.AddressList("From"); err == nil && len(fromList) > 0 {
		email.FromAddress = fromList[0].Address
		email.FromName = fromList[0].Name
	}
	if toList, err := reader.Header.AddressList("To"); err == nil {
		for _, addr := range toList {
			email.To = append(email.To, addr.Address)
		}
	}
	if date, err := reader.Header.Date(); err == nil {
		email.ReceivedAt = date.UTC()
	}
	email.ThreadID = strings.Trim(reader.Header.Get("In-Reply-To"), "<>")

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return out, fmt.Errorf("read part of %s: %w", id, err)
		}

		switch header := part.Header.(type) {
		case *mail.InlineHeader:
			mediaType, _, _ := header.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			switch {
			case strings.HasPrefix(mediaType, "text/plain") || mediaType == "":
				if email.TextBody == "" {
					email.TextBody = string(body)
				}
			case strings.HasPrefix(mediaType, "text/html"):
				if email.HTMLBody == "" {
					email.HTMLBody = string(body)
				}
			}
		case *mail.AttachmentHeader:
			filename, _ := header.Filename()
			if strings.TrimSpace(filename) == "" {
				filename = "attachment"
			}
			contentType, _, _ := header.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			attID := strconv.Itoa(len(email.Attachments) + 1)
			email.Attachments = append(email.Attachments, domain.Attachment{
				ID:       attID,
				Filename: filename,
				MimeType: contentType,
				Size:     int64(len(body)),
			})
			out.Attachments[attID] = body
		}
	}

	if email.ReceivedAt.IsZero() {
		email.ReceivedAt = time.Now().UTC()
	}
	return out, nil
}
