package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"talent-inbox/internal/ingestion/domain"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/api/gmail/v1"
)

type session struct {
	srv          *gmail.Service
	limiter      *rate.Limiter
	unreadQuery  string
	historyTypes []string
	logger       *zap.Logger
}

func (s *session) wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}

// ListChanges walks the mailbox history from cursor. Gmail answers 404 once the start history ID
// is too old, which surfaces as ErrInvalidCursor.
func (s *session) ListChanges(ctx context.Context, cursor uint64) (*domain.ChangeSet, error) {
	out := &domain.ChangeSet{Cursor: cursor}
	seen := make(map[string]bool)
	pageToken := ""

	for {
		if err := s.wait(ctx); err != nil {
			return nil, err
		}
		call := s.srv.Users.History.List(user).
			StartHistoryId(cursor).
			HistoryTypes(s.historyTypes...).
			LabelId("INBOX").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			err = mapError(err)
			if errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("%w: history %d: %v", domain.ErrInvalidCursor, cursor, err)
			}
			return nil, fmt.Errorf("unable to list history: %w", err)
		}

		for _, h := range resp.History {
			for _, added := range h.MessagesAdded {
				if added.Message == nil || seen[added.Message.Id] {
					continue
				}
				seen[added.Message.Id] = true
				out.MessageIDs = append(out.MessageIDs, added.Message.Id)
			}
		}
		if resp.HistoryId > out.Cursor {
			out.Cursor = resp.HistoryId
		}

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	s.logger.Debug("listed history changes",
		zap.Uint64("from", cursor),
		zap.Uint64("to", out.Cursor),
		zap.Int("messages", len(out.MessageIDs)),
	)
	return out, nil
}

// ListUnread returns up to limit unread inbox messages, oldest first, and the mailbox's current
// history ID read before listing so that nothing arriving meanwhile is skipped on the next sync.
func (s *session) ListUnread(ctx context.Context, limit int) (*domain.ChangeSet, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	profile, err := s.srv.Users.GetProfile(user).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to get profile: %w", mapError(err))
	}

	out := &domain.ChangeSet{Cursor: profile.HistoryId}
	pageToken := ""
	for len(out.MessageIDs) < limit {
		if err := s.wait(ctx); err != nil {
			return nil, err
		}
		batch := int64(limit - len(out.MessageIDs))
		if batch > pageSize {
			batch = pageSize
		}
		call := s.srv.Users.Messages.List(user).Q(s.unreadQuery).MaxResults(batch).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("unable to list unread messages: %w", mapError(err))
		}
		for _, m := range resp.Messages {
			out.MessageIDs = append(out.MessageIDs, m.Id)
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}
	if len(out.MessageIDs) > limit {
		out.MessageIDs = out.MessageIDs[:limit]
	}

	// Gmail lists newest first.
	for i, j := 0, len(out.MessageIDs)-1; i < j; i, j = i+1, j-1 {
		out.MessageIDs[i], out.MessageIDs[j] = out.MessageIDs[j], out.MessageIDs[i]
	}
	return out, nil
}

func (s *session) GetMessage(ctx context.Context, id string) (*domain.InboundEmail, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	msg, err := s.srv.Users.Messages.Get(user, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve message %s: %w", id, mapError(err))
	}
	return convertMessage(msg), nil
}

func (s *session) GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	part, err := s.srv.Users.Messages.Attachments.Get(user, messageID, attachmentID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve attachment: %w", mapError(err))
	}
	data, err := decodeData(part.Data)
	if err != nil {
		return nil, fmt.Errorf("unable to decode attachment data: %w", err)
	}
	return data, nil
}

func (s *session) Close() error {
	return nil
}

func convertMessage(msg *gmail.Message) *domain.InboundEmail {
	email := &domain.InboundEmail{
		ID:         msg.Id,
		ThreadID:   msg.ThreadId,
		ReceivedAt: time.UnixMilli(msg.InternalDate).UTC(),
		Headers:    map[string]string{},
	}
	if msg.Payload == nil {
		return email
	}

	for _, h := range msg.Payload.Headers {
		email.Headers[h.Name] = h.Value
	}
	email.Subject = getHeader(msg.Payload.Headers, "Subject")
	email.FromAddress, email.FromName = parseFrom(getHeader(msg.Payload.Headers, "From"))
	if to := getHeader(msg.Payload.Headers, "To"); to != "" {
		if list, err := mail.ParseAddressList(to); err == nil {
			for _, a := range list {
				email.To = append(email.To, a.Address)
			}
		} else {
			email.To = []string{to}
		}
	}

	email.TextBody, email.HTMLBody = getEmailBody(msg.Payload)
	email.Attachments = getAttachments(msg.Payload)
	return email
}

func parseFrom(from string) (address, name string) {
	if addr, err := mail.ParseAddress(from); err == nil {
		return addr.Address, addr.Name
	}
	// Fall back to the "Name <email@example.com>" shape.
	if idx := strings.Index(from, "<"); idx >= 0 {
		name = strings.Trim(strings.TrimSpace(from[:idx]), `"`)
		address = strings.TrimSuffix(strings.TrimSpace(from[idx+1:]), ">")
		return address, name
	}
	return strings.TrimSpace(from), ""
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, header := range headers {
		if strings.EqualFold(header.Name, name) {
			return header.Value
		}
	}
	return ""
}

func decodeData(data string) ([]byte, error) {
	if out, err := base64.URLEncoding.DecodeString(data); err == nil {
		return out, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
}

// getEmailBody returns the first text/plain and text/html bodies found in the part tree.
func getEmailBody(payload *gmail.MessagePart) (text, html string) {
	var walk func(part *gmail.MessagePart)
	walk = func(part *gmail.MessagePart) {
		if part.Filename == "" && part.Body != nil && part.Body.Data != "" {
			if data, err := decodeData(part.Body.Data); err == nil {
				switch {
				case strings.HasPrefix(part.MimeType, "text/plain") && text == "":
					text = string(data)
				case strings.HasPrefix(part.MimeType, "text/html") && html == "":
					html = string(data)
				}
			}
		}
		for _, child := range part.Parts {
			walk(child)
		}
	}
	walk(payload)
	return text, html
}

func getAttachments(payload *gmail.MessagePart) []domain.Attachment {
	var attachments []domain.Attachment

	var findAttachments func(parts []*gmail.MessagePart)
	findAttachments = func(parts []*gmail.MessagePart) {
		for _, part := range parts {
			if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
				attachments = append(attachments, domain.Attachment{
					ID:       part.Body.AttachmentId,
					Filename: part.Filename,
					Size:     part.Body.Size,
					MimeType: part.MimeType,
				})
			}
			if len(part.Parts) > 0 {
				findAttachments(part.Parts)
			}
		}
	}

	findAttachments(payload.Parts)
	return attachments
}
