// Package extractor turns resume attachments into plain text and estimates how usable that text is.
package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"path/filepath"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	MethodPlainText = "plaintext"
	MethodTika      = "tika"

	maxResponseBytes = 8 << 20
)

var ErrUnsupportedFormat = errors.New("no extraction method for attachment format")

type Extraction struct {
	Text       string
	Confidence int
	Method     string
}

// Service extracts text locally for plain-text formats and through an Apache Tika server for documents.
type Service struct {
	tikaURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewService(tikaURL string, timeout time.Duration, log *zap.Logger) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		tikaURL: strings.TrimRight(tikaURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  log.Named("extractor"),
	}
}

func (s *Service) Extract(ctx context.Context, data []byte, filename, mimeType string) (*Extraction, error) {
	if len(data) == 0 {
		return nil, errors.New("attachment is empty")
	}

	if isPlainText(filename, mimeType) {
		text := normalize(strings.ToValidUTF8(string(data), ""))
		return &Extraction{Text: text, Confidence: Confidence(text), Method: MethodPlainText}, nil
	}

	if s.tikaURL == "" {
		return nil, fmt.Errorf("%w: %s (%s)", ErrUnsupportedFormat, filename, mimeType)
	}

	text, err := s.tika(ctx, data, filename, mimeType)
	if err != nil {
		return nil, err
	}
	text = normalize(text)
	out := &Extraction{Text: text, Confidence: Confidence(text), Method: MethodTika}

	s.logger.Debug("extracted attachment text",
		zap.String("filename", filename),
		zap.Int("chars", utf8.RuneCountInString(text)),
		zap.Int("confidence", out.Confidence),
	)
	return out, nil
}

func (s *Service) tika(ctx context.Context, data []byte, filename, mimeType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.tikaURL+"/tika", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/plain; charset=utf-8")
	if mimeType != "" {
		req.Header.Set("Content-Type", mimeType)
	}
	if filename != "" {
		req.Header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("tika request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read tika response: %w", err)
	}
	if resp.StatusCode == http.StatusUnsupportedMediaType || resp.StatusCode == http.StatusUnprocessableEntity {
		return "", fmt.Errorf("%w: tika returned %d for %s", ErrUnsupportedFormat, resp.StatusCode, filename)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tika error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return string(body), nil
}

func isPlainText(filename, mimeType string) bool {
	mimeType = strings.ToLower(mimeType)
	if strings.HasPrefix(mimeType, "text/plain") || strings.HasPrefix(mimeType, "text/markdown") {
		return true
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".md":
		return true
	}
	return false
}

func normalize(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// Confidence scores extracted text from 0 to 100. It rewards clean printable text made of
// real words and penalizes very short output, which is typical of scanned or image-only PDFs.
func Confidence(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}

	var total, printable int
	for _, r := range text {
		total++
		if r == utf8.RuneError || (unicode.IsControl(r) && r != '\n' && r != '\t') {
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || unicode.IsPunct(r) {
			printable++
		}
	}
	printableRatio := float64(printable) / float64(total)

	words := strings.Fields(text)
	var wordLike int
	for _, w := range words {
		letters := 0
		for _, r := range w {
			if unicode.IsLetter(r) {
				letters++
			}
		}
		if letters >= 2 && letters*2 >= utf8.RuneCountInString(w) {
			wordLike++
		}
	}
	wordRatio := float64(wordLike) / float64(len(words))

	lengthFactor := math.Min(1, float64(len(words))/80)

	score := 100 * printableRatio * wordRatio * (0.5 + 0.5*lengthFactor)
	return int(math.Round(math.Max(0, math.Min(100, score))))
}
