// Package triage decides, without any I/O, whether an inbound email is skipped,
// classified from rules alone, or sent to the classification oracle.
package triage

import (
	"net/mail"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"talent-inbox/internal/ingestion/domain"
)

type Action string

const (
	ActionSkip         Action = "skip"
	ActionAutoClassify Action = "auto_classify"
	ActionNeedsAI      Action = "needs_ai"
)

const (
	ConfidenceSubjectPhrase = 90
	ConfidenceBodyPhrase    = 85
	ConfidenceCVFilename    = 80
)

type Settings struct {
	Enabled             bool `json:"enabled"`
	AutoClassifyEnabled bool `json:"auto_classify_enabled"`
}

type Input struct {
	Subject         string
	Body            string
	SenderEmail     string
	SenderName      string
	CompanyDomain   string
	ListUnsubscribe string
	AutoSubmitted   string
	Attachments     []domain.Attachment
}

type Result struct {
	Action           Action `json:"action"`
	Reason           string `json:"reason"`
	Confidence       int    `json:"confidence,omitempty"`
	DetectedPosition string `json:"detected_position,omitempty"`
}

// Engine holds the runtime toggles. Triage itself is a pure function of input and settings.
type Engine struct {
	settings atomic.Pointer[Settings]
}

func NewEngine(s Settings) *Engine {
	e := &Engine{}
	e.settings.Store(&s)
	return e
}

func (e *Engine) Settings() Settings {
	return *e.settings.Load()
}

// UpdateSettings swaps the toggles atomically; triage calls in flight keep the old values.
func (e *Engine) UpdateSettings(s Settings) {
	e.settings.Store(&s)
}

func (e *Engine) Triage(in Input) Result {
	return Evaluate(in, e.Settings())
}

// Evaluate applies skip rules first, then auto-classify rules, and defaults to needs_ai.
func Evaluate(in Input, s Settings) Result {
	if !s.Enabled {
		return Result{Action: ActionNeedsAI, Reason: "triage disabled"}
	}

	if reason, skip := skipReason(in); skip {
		return Result{Action: ActionSkip, Reason: reason}
	}

	if s.AutoClassifyEnabled {
		if res, ok := autoClassify(in); ok {
			return res
		}
	}

	return Result{Action: ActionNeedsAI, Reason: "no rule matched"}
}

func skipReason(in Input) (string, bool) {
	sender := strings.ToLower(strings.TrimSpace(in.SenderEmail))

	if autoReplySubject.MatchString(in.Subject) {
		return "auto-reply subject", true
	}
	if v := strings.ToLower(in.AutoSubmitted); v != "" && v != "no" {
		return "auto-reply (Auto-Submitted: " + v + ")", true
	}
	if noReplySender.MatchString(sender) {
		return "no-reply sender", true
	}
	if isInternalSender(sender, in.CompanyDomain) {
		return "internal sender domain", true
	}
	if n := countNewsletterIndicators(in.Subject + "\n" + in.Body); n >= 2 {
		return "newsletter content", true
	}
	if systemSender.MatchString(sender) || systemSubject.MatchString(in.Subject) {
		return "system notification", true
	}
	if strings.TrimSpace(in.ListUnsubscribe) != "" {
		return "List-Unsubscribe header present", true
	}
	if _, ok := FindCVAttachment(in.Attachments); !ok && !jobKeywords.MatchString(in.Subject+"\n"+in.Body) {
		return "no CV attachment and no job keywords", true
	}
	return "", false
}

func autoClassify(in Input) (Result, bool) {
	cv, ok := FindCVAttachment(in.Attachments)
	if !ok {
		return Result{}, false
	}

	position := ExtractPosition(in.Subject, in.Body)

	if matchAny(subjectApplicationPhrases, in.Subject) {
		return Result{Action: ActionAutoClassify, Reason: "application phrase in subject", Confidence: ConfidenceSubjectPhrase, DetectedPosition: position}, true
	}
	if matchAny(bodyApplicationPhrases, in.Body) {
		return Result{Action: ActionAutoClassify, Reason: "application phrase in body", Confidence: ConfidenceBodyPhrase, DetectedPosition: position}, true
	}
	if cvFilename.MatchString(cv.Filename) {
		return Result{Action: ActionAutoClassify, Reason: "CV-named attachment", Confidence: ConfidenceCVFilename, DetectedPosition: position}, true
	}
	return Result{}, false
}

// IsCVAttachment reports whether the attachment looks like a resume document by MIME type or extension.
func IsCVAttachment(a domain.Attachment) bool {
	mime := strings.ToLower(strings.TrimSpace(a.MimeType))
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	if cvMimeTypes[mime] {
		return true
	}
	return cvExtensions[strings.ToLower(filepath.Ext(a.Filename))]
}

// FindCVAttachment returns the first CV-like attachment, preferring one whose name says resume/CV.
func FindCVAttachment(atts []domain.Attachment) (domain.Attachment, bool) {
	var first *domain.Attachment
	for i := range atts {
		if !IsCVAttachment(atts[i]) {
			continue
		}
		if cvFilename.MatchString(atts[i].Filename) {
			return atts[i], true
		}
		if first == nil {
			first = &atts[i]
		}
	}
	if first == nil {
		return domain.Attachment{}, false
	}
	return *first, true
}

// ExtractPosition returns the first position title found in subject, then body, or "".
func ExtractPosition(subject, body string) string {
	text := subject + "\n" + body
	for _, p := range positionPatterns {
		for _, m := range p.FindAllStringSubmatch(text, -1) {
			if pos := cleanPosition(m[1]); pos != "" {
				return pos
			}
		}
	}
	return ""
}

func cleanPosition(raw string) string {
	pos := strings.Join(strings.Fields(raw), " ")
	pos = positionTrailer.ReplaceAllString(pos, "")
	pos = strings.Trim(pos, " -–—'\"")
	n := utf8.RuneCountInString(pos)
	if n < minPositionLength || n > maxPositionLength {
		return ""
	}
	return pos
}

func isInternalSender(sender, companyDomain string) bool {
	companyDomain = strings.ToLower(strings.TrimSpace(companyDomain))
	if companyDomain == "" {
		return false
	}
	addr := sender
	if parsed, err := mail.ParseAddress(sender); err == nil {
		addr = strings.ToLower(parsed.Address)
	}
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return false
	}
	d := addr[at+1:]
	return d == companyDomain || strings.HasSuffix(d, "."+companyDomain)
}

func countNewsletterIndicators(text string) int {
	n := 0
	for _, re := range newsletterIndicators {
		if re.MatchString(text) {
			n++
		}
	}
	return n
}

func matchAny(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
