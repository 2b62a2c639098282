package triage

import "regexp"

// Skip rules, evaluated in order.
var (
	autoReplySubject = regexp.MustCompile(`(?i)\b(out of (the )?office|auto(matic)?[ -]?reply|autoreply|auto[ -]?response|away from (the |my )?(office|desk)|on (vacation|leave)|ooo)\b`)

	noReplySender = regexp.MustCompile(`(?i)^(no[-_.]?reply|do[-_.]?not[-_.]?reply|donotreply|mailer-daemon|postmaster|bounces?)([+._-][^@]*)?@`)

	systemSender  = regexp.MustCompile(`(?i)^(notifications?|notify|alerts?|system|automated|mailer|billing|receipts?|security|calendar|jira|github|gitlab)(\+[^@]*|[-_.]no[-_.]?reply)?@`)
	systemSubject = regexp.MustCompile(`(?i)\b(password reset|reset your password|verify your (email|account)|verification code|security alert|new sign[- ]?in|login alert|your (order|invoice|receipt|subscription)|payment (received|failed|confirmation)|invoice #?\d+|build (failed|passed|succeeded)|pull request|delivery status notification|undeliverable|mail delivery (failed|subsystem))\b|^(invitation|accepted|declined|updated invitation):`)

	newsletterIndicators = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bunsubscribe\b`),
		regexp.MustCompile(`(?i)\bview (this (email|message) )?(in (your )?browser|online)\b`),
		regexp.MustCompile(`(?i)\bnewsletter\b`),
		regexp.MustCompile(`(?i)\b(email|manage (your )?(email )?|update (your )?)preferences\b`),
		regexp.MustCompile(`(?i)\byou('re| are) receiving this\b|\byou received this (email|message) because\b`),
		regexp.MustCompile(`(?i)\bopt[ -]?out\b`),
		// A legal footer counts once.
		regexp.MustCompile(`(?i)\ball rights reserved\b|\bprivacy policy\b`),
	}

	jobKeywords = regexp.MustCompile(`(?i)\b(jobs?|positions?|roles?|vacanc(y|ies)|openings?|applications?|apply|applying|applied|resume|cv|curriculum vitae|candidate|candidacy|hiring|recruit\w*|interview|cover letter|internship)\b|r[eé]sum[eé]`)
)

// Auto-classify rules. A CV-like attachment is required for any of them to apply.
var (
	subjectApplicationPhrases = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bapplication\s+(for|to)\b`),
		regexp.MustCompile(`(?i)\bapplying\s+(for|to)\b`),
		regexp.MustCompile(`(?i)\b(job|position|role)\s+application\b`),
		regexp.MustCompile(`(?i)\b(resume|cv)\s+(for|submission)\b`),
		regexp.MustCompile(`(?i)\bcandidate\s+for\b`),
		regexp.MustCompile(`(?i)\binterested\s+in\s+the\s+.+\s+(position|role|opening)\b`),
	}

	bodyApplicationPhrases = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bi\s+am\s+(writing\s+to\s+)?apply(ing)?\s+(for|to)\b`),
		regexp.MustCompile(`(?i)\bi('m|\s+am)\s+applying\b`),
		regexp.MustCompile(`(?i)\bi\s+would\s+like\s+to\s+apply\b`),
		regexp.MustCompile(`(?i)\bwish\s+to\s+apply\b`),
		regexp.MustCompile(`(?i)\bplease\s+find\s+(attached\s+)?my\s+(resume|cv|curriculum\s+vitae)\b`),
		regexp.MustCompile(`(?i)\b(attached|enclosed)\s+(is|are|please\s+find)\s+my\s+(resume|cv)\b`),
		regexp.MustCompile(`(?i)\bmy\s+(resume|cv)\s+is\s+(attached|enclosed)\b`),
		regexp.MustCompile(`(?i)\bapplication\s+for\s+the\s+.+\s+(position|role)\b`),
	}

	cvFilename = regexp.MustCompile(`(?i)(^|[^a-z])(resume|r[eé]sum[eé]|cv|curriculum[ _-]?vitae|lebenslauf)([^a-z]|$)`)
)

// Position extraction alternatives, tried in order. The first capture of acceptable length wins.
var (
	positionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)application\s+(?:for|to)\s+(?:the\s+)?(?:position|role)\s+of\s+([^\n,.;:()|!?]+)`),
		regexp.MustCompile(`(?i)(?:application|applying|apply)\s+(?:for|to)\s+(?:the\s+)?([^\n,.;:()|!?]+?)\s+(?:position|role|job|opening|vacancy)\b`),
		regexp.MustCompile(`(?i)application\s+(?:for|to)\s+(?:the\s+)?([^\n,.;:()|!?]+)`),
		regexp.MustCompile(`(?i)applying\s+for\s+(?:the\s+)?([^\n,.;:()|!?]+)`),
		regexp.MustCompile(`(?i)\b(?:position|role|job\s+title)\s*:\s*([^\n,.;()|!?]+)`),
	}

	positionTrailer = regexp.MustCompile(`(?i)\s+at\s+.*$|\s+[-–—]\s+.*$|\s+(?:position|role|job|opening)$`)
)

const (
	minPositionLength = 4
	maxPositionLength = 99
)

var cvMimeTypes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/rtf":                         true,
	"text/rtf":                                true,
	"application/vnd.oasis.opendocument.text": true,
}

var cvExtensions = map[string]bool{
	".pdf":  true,
	".doc":  true,
	".docx": true,
	".rtf":  true,
	".odt":  true,
}
