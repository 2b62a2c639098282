package ai

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"talent-inbox/pkg/logger"
	"talent-inbox/pkg/metrics"

	"go.uber.org/zap"
)

const defaultPreviewLength = 200

// LLMOracle implements Oracle on top of a text Generator.
type LLMOracle struct {
	generator Generator
	timeout   time.Duration
	logger    *zap.Logger
}

func NewLLMOracle(generator Generator, timeout time.Duration, log *zap.Logger) *LLMOracle {
	if log == nil {
		log = zap.NewNop()
	}
	return &LLMOracle{generator: generator, timeout: timeout, logger: log.Named("oracle")}
}

func (o *LLMOracle) Classify(ctx context.Context, email EmailInput) (*Classification, error) {
	raw, err := o.generate(ctx, "classify", classifyPrompt(email))
	if err != nil {
		return nil, err
	}
	return ParseClassification(raw)
}

func (o *LLMOracle) ParseResume(ctx context.Context, resumeText, filename string) (*ParsedResume, error) {
	if utf8.RuneCountInString(resumeText) == 0 {
		return nil, errors.New("resume text is empty")
	}
	raw, err := o.generate(ctx, "parse_resume", resumePrompt(resumeText, filename))
	if err != nil {
		return nil, err
	}
	return ParseResumeResponse(raw)
}

func (o *LLMOracle) Score(ctx context.Context, resume *ParsedResume, role RoleRequirements) (*ScoreResult, error) {
	if resume == nil {
		return nil, errors.New("resume is required")
	}
	raw, err := o.generate(ctx, "score", scorePrompt(resume, role))
	if err != nil {
		return nil, err
	}
	return ParseScore(raw)
}

func (o *LLMOracle) generate(ctx context.Context, op, prompt string) (string, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	o.logger.Debug("generate request",
		zap.String("op", op),
		zap.String("backend", o.generator.Name()),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
	)

	started := time.Now()
	raw, err := o.generator.GenerateContent(ctx, prompt)
	if err != nil {
		metrics.RecordOracleCall(op, "error", time.Since(started))
		return "", fmt.Errorf("%s via %s: %w", op, o.generator.Name(), err)
	}

	metrics.RecordOracleCall(op, "ok", time.Since(started))

	o.logger.Debug("generate response",
		zap.String("op", op),
		zap.Duration("took", time.Since(started)),
		zap.String("response_preview", logger.Truncate(raw, defaultPreviewLength)),
	)
	return raw, nil
}
