package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

var ErrMalformedResponse = errors.New("malformed oracle response")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedResponse, fmt.Sprintf(format, args...))
}

// extractJSON strips markdown fences and surrounding prose, returning the outermost JSON object.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
		raw = strings.TrimSpace(raw)
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		return raw
	}
	return raw[start : end+1]
}

func decodeObject(raw string, into any) error {
	cleaned := extractJSON(raw)
	if cleaned == "" {
		return malformed("empty response")
	}
	if err := json.Unmarshal([]byte(cleaned), into); err != nil {
		return malformed("decode json: %v", err)
	}
	return nil
}

func percent(field string, v *float64) (int, error) {
	if v == nil {
		return 0, malformed("missing %s", field)
	}
	if math.IsNaN(*v) || *v < 0 || *v > 100 {
		return 0, malformed("%s out of range: %v", field, *v)
	}
	return int(math.Round(*v)), nil
}

// ParseClassification validates a classification response.
func ParseClassification(raw string) (*Classification, error) {
	var payload struct {
		IsJobApplication *bool    `json:"is_job_application"`
		Confidence       *float64 `json:"confidence"`
		DetectedPosition *string  `json:"detected_position"`
		CandidateName    *string  `json:"candidate_name"`
		CandidateEmail   *string  `json:"candidate_email"`
		Reasoning        *string  `json:"reasoning"`
	}
	if err := decodeObject(raw, &payload); err != nil {
		return nil, err
	}
	if payload.IsJobApplication == nil {
		return nil, malformed("missing is_job_application")
	}
	confidence, err := percent("confidence", payload.Confidence)
	if err != nil {
		return nil, err
	}

	out := &Classification{
		IsJobApplication: *payload.IsJobApplication,
		Confidence:       confidence,
		DetectedPosition: strings.TrimSpace(deref(payload.DetectedPosition)),
		CandidateName:    strings.TrimSpace(deref(payload.CandidateName)),
		CandidateEmail:   strings.TrimSpace(deref(payload.CandidateEmail)),
		Reasoning:        strings.TrimSpace(deref(payload.Reasoning)),
	}
	if len([]rune(out.DetectedPosition)) > 99 {
		out.DetectedPosition = ""
	}
	if out.CandidateEmail != "" && !strings.Contains(out.CandidateEmail, "@") {
		out.CandidateEmail = ""
	}
	return out, nil
}

// ParseResumeResponse validates a resume parsing response. A name is required.
func ParseResumeResponse(raw string) (*ParsedResume, error) {
	var payload struct {
		Name            *string  `json:"name"`
		Email           *string  `json:"email"`
		Phone           *string  `json:"phone"`
		Skills          []string `json:"skills"`
		ExperienceYears *float64 `json:"experience_years"`
		Education       *string  `json:"education"`
		Summary         *string  `json:"summary"`
	}
	if err := decodeObject(raw, &payload); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(deref(payload.Name))
	if name == "" {
		return nil, malformed("missing name")
	}

	var years float64
	if payload.ExperienceYears != nil {
		years = *payload.ExperienceYears
		if math.IsNaN(years) || years < 0 || years > 70 {
			return nil, malformed("experience_years out of range: %v", years)
		}
	}

	skills := make([]string, 0, len(payload.Skills))
	seen := make(map[string]bool, len(payload.Skills))
	for _, s := range payload.Skills {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		skills = append(skills, s)
	}

	email := strings.TrimSpace(deref(payload.Email))
	if email != "" && !strings.Contains(email, "@") {
		email = ""
	}

	return &ParsedResume{
		Name:            name,
		Email:           email,
		Phone:           strings.TrimSpace(deref(payload.Phone)),
		Skills:          skills,
		ExperienceYears: years,
		Education:       strings.TrimSpace(deref(payload.Education)),
		Summary:         strings.TrimSpace(deref(payload.Summary)),
	}, nil
}

// ParseScore validates a scoring response. All four scores and a known recommendation are required.
func ParseScore(raw string) (*ScoreResult, error) {
	var payload struct {
		OverallScore    *float64 `json:"overall_score"`
		SkillsScore     *float64 `json:"skills_score"`
		ExperienceScore *float64 `json:"experience_score"`
		EducationScore  *float64 `json:"education_score"`
		Recommendation  *string  `json:"recommendation"`
		Explanation     *string  `json:"explanation"`
	}
	if err := decodeObject(raw, &payload); err != nil {
		return nil, err
	}

	out := &ScoreResult{Explanation: strings.TrimSpace(deref(payload.Explanation))}
	var err error
	if out.OverallScore, err = percent("overall_score", payload.OverallScore); err != nil {
		return nil, err
	}
	if out.SkillsScore, err = percent("skills_score", payload.SkillsScore); err != nil {
		return nil, err
	}
	if out.ExperienceScore, err = percent("experience_score", payload.ExperienceScore); err != nil {
		return nil, err
	}
	if out.EducationScore, err = percent("education_score", payload.EducationScore); err != nil {
		return nil, err
	}

	rec := Recommendation(strings.ToLower(strings.TrimSpace(strings.ReplaceAll(deref(payload.Recommendation), " ", "_"))))
	switch rec {
	case RecommendStrongYes, RecommendYes, RecommendMaybe, RecommendNo:
		out.Recommendation = rec
	default:
		return nil, malformed("unknown recommendation %q", deref(payload.Recommendation))
	}
	return out, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
