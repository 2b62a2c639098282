package ai

import "context"

// EmailInput is what the oracle sees of an inbound message.
type EmailInput struct {
	Subject     string
	Body        string
	FromAddress string
	FromName    string
	Attachments []string
}

type Classification struct {
	IsJobApplication bool   `json:"is_job_application"`
	Confidence       int    `json:"confidence"`
	DetectedPosition string `json:"detected_position,omitempty"`
	CandidateName    string `json:"candidate_name,omitempty"`
	CandidateEmail   string `json:"candidate_email,omitempty"`
	Reasoning        string `json:"reasoning,omitempty"`
}

type ParsedResume struct {
	Name            string   `json:"name"`
	Email           string   `json:"email,omitempty"`
	Phone           string   `json:"phone,omitempty"`
	Skills          []string `json:"skills"`
	ExperienceYears float64  `json:"experience_years"`
	Education       string   `json:"education,omitempty"`
	Summary         string   `json:"summary,omitempty"`
}

type RoleRequirements struct {
	Title        string `json:"title"`
	Requirements string `json:"requirements"`
}

type Recommendation string

const (
	RecommendStrongYes Recommendation = "strong_yes"
	RecommendYes       Recommendation = "yes"
	RecommendMaybe     Recommendation = "maybe"
	RecommendNo        Recommendation = "no"
)

type ScoreResult struct {
	OverallScore    int            `json:"overall_score"`
	SkillsScore     int            `json:"skills_score"`
	ExperienceScore int            `json:"experience_score"`
	EducationScore  int            `json:"education_score"`
	Recommendation  Recommendation `json:"recommendation"`
	Explanation     string         `json:"explanation,omitempty"`
}

// Oracle is the classification/parsing/scoring service. Every result is validated
// before it is returned; a malformed model response is an error, never a zero value.
type Oracle interface {
	Classify(ctx context.Context, email EmailInput) (*Classification, error)
	// ParseResume extracts structured resume data. The filename is a hint and may be empty.
	ParseResume(ctx context.Context, resumeText, filename string) (*ParsedResume, error)
	Score(ctx context.Context, resume *ParsedResume, role RoleRequirements) (*ScoreResult, error)
}

// Generator produces raw model text for a prompt. Implement it to add a new model backend.
type Generator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
	Name() string
}

// ProviderType represents the AI provider type
type ProviderType string

const (
	ProviderGemini ProviderType = "gemini"
	ProviderOllama ProviderType = "ollama"
	ProviderAuto   ProviderType = "auto"
)
