package imap

import (
	"strings"
	"testing"
)

const rawApplication = "From: Jane Doe <jane@example.com>\r\n" +
	"To: jobs@acme.io\r\n" +
	"Subject: Application for Backend Engineer\r\n" +
	"Date: Tue, 14 Nov 2023 22:13:20 +0000\r\n" +
	"List-Unsubscribe: <mailto:unsub@example.com>\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"outer\"\r\n" +
	"\r\n" +
	"--outer\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Please find my CV attached.\r\n" +
	"--outer\r\n" +
	"Content-Type: application/pdf\r\n" +
	"Content-Disposition: attachment; filename=\"Jane_Doe_CV.pdf\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"JVBERi0xLjc=\r\n" +
	"--outer--\r\n"

func TestParseMessage(t *testing.T) {
	parsed, err := ParseMessage("42", []byte(rawApplication))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	email := parsed.Email

	if email.ID != "42" || email.Subject != "Application for Backend Engineer" {
		t.Fatalf("unexpected id/subject: %q %q", email.ID, email.Subject)
	}
	if email.FromAddress != "jane@example.com" || email.FromName != "Jane Doe" {
		t.Fatalf("unexpected sender: %q %q", email.FromAddress, email.FromName)
	}
	if len(email.To) != 1 || email.To[0] != "jobs@acme.io" {
		t.Fatalf("unexpected recipients: %v", email.To)
	}
	if strings.TrimSpace(email.TextBody) != "Please find my CV attached." {
		t.Fatalf("unexpected body: %q", email.TextBody)
	}
	if email.Header("list-unsubscribe") == "" {
		t.Fatal("List-Unsubscribe header missing")
	}
	if email.ReceivedAt.Unix() != 1700000000 {
		t.Fatalf("unexpected date: %v", email.ReceivedAt)
	}

	if len(email.Attachments) != 1 {
		t.Fatalf("expected one attachment, got %d", len(email.Attachments))
	}
	att := email.Attachments[0]
	if att.ID != "1" || att.Filename != "Jane_Doe_CV.pdf" || att.MimeType != "application/pdf" {
		t.Fatalf("unexpected attachment: %+v", att)
	}
	if string(parsed.Attachments["1"]) != "%PDF-1.7" {
		t.Fatalf("unexpected attachment body: %q", parsed.Attachments["1"])
	}
}

func TestCursorPacking(t *testing.T) {
	c := PackCursor(7, 1234)
	v, uid := UnpackCursor(c)
	if v != 7 || uid != 1234 {
		t.Fatalf("round trip failed: %d %d", v, uid)
	}
	if PackCursor(7, 1235) <= c {
		t.Fatal("a higher uid must give a higher cursor")
	}

	high := PackCursor(0xffffffff, 1)
	if high > 1<<63-1 {
		t.Fatalf("cursor must fit in int64, got %d", high)
	}

	// UIDVALIDITY values past 2^31 stay distinct in their low bits.
	before, after := PackCursor(0x7ffffff0, 50), PackCursor(0x80000001, 3)
	if vb, _ := UnpackCursor(before); vb == maskValidity(0x80000001) {
		t.Fatal("validity change across 2^31 must be detectable")
	}
	if after >= before {
		t.Fatalf("expected the rebuilt mailbox to pack lower (%d >= %d)", after, before)
	}
}
