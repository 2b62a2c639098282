package ai

import (
	"fmt"
	"strings"
)

const (
	maxEmailChars  = 6000
	maxResumeChars = 15000
)

func classifyPrompt(email EmailInput) string {
	body := email.Body
	if len(body) > maxEmailChars {
		body = body[:maxEmailChars]
	}
	attachments := "none"
	if len(email.Attachments) > 0 {
		attachments = strings.Join(email.Attachments, ", ")
	}

	return fmt.Sprintf(`You screen a recruiting inbox. Decide whether the email below is a candidate applying for a job.

Rules:
- Recruiter outreach, job-board digests, newsletters and internal messages are NOT applications.
- confidence is an integer from 0 to 100.
- detected_position is the job title the candidate applies for, or an empty string.
- Respond with a single JSON object and nothing else.

Schema:
{"is_job_application": bool, "confidence": int, "detected_position": string, "candidate_name": string, "candidate_email": string, "reasoning": string}

FROM: %s <%s>
SUBJECT: %s
ATTACHMENTS: %s

BODY:
%s

JSON:`, email.FromName, email.FromAddress, email.Subject, attachments, body)
}

func resumePrompt(text, filename string) string {
	if len(text) > maxResumeChars {
		text = text[:maxResumeChars]
	}
	if filename == "" {
		filename = "(unknown)"
	}
	return fmt.Sprintf(`Extract structured data from the resume below.

Rules:
- name is required. Use an empty string for any other field you cannot find.
- skills is a list of short skill names.
- experience_years is the total professional experience as a number.
- The file name may hint at the candidate's name when the text does not state it.
- Respond with a single JSON object and nothing else.

Schema:
{"name": string, "email": string, "phone": string, "skills": [string], "experience_years": number, "education": string, "summary": string}

FILE NAME: %s

RESUME:
%s

JSON:`, filename, text)
}

func scorePrompt(resume *ParsedResume, role RoleRequirements) string {
	return fmt.Sprintf(`Score how well the candidate fits the role.

Rules:
- Every score is an integer from 0 to 100.
- recommendation is one of: strong_yes, yes, maybe, no.
- Respond with a single JSON object and nothing else.

Schema:
{"overall_score": int, "skills_score": int, "experience_score": int, "education_score": int, "recommendation": string, "explanation": string}

ROLE: %s
REQUIREMENTS:
%s

CANDIDATE:
Name: %s
Skills: %s
Experience (years): %.1f
Education: %s
Summary: %s

JSON:`, role.Title, role.Requirements, resume.Name, strings.Join(resume.Skills, ", "), resume.ExperienceYears, resume.Education, resume.Summary)
}
