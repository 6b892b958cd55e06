// Package assist asks a generative model to describe columns and suggest
// transformations for an uploaded data set.
package assist

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/rpattn/dataforge/internal/domain"
)

// SampleRows is the number of data rows included in a description prompt.
const SampleRows = 5

var (
	// ErrDisabled is returned when no generator is configured.
	ErrDisabled = errors.New("assist is not configured")
	// ErrInvalidResponse is returned when the model output is not the expected JSON.
	ErrInvalidResponse = errors.New("invalid model response")
)

// Generator produces a JSON text completion for a prompt.
type Generator interface {
	GenerateJSON(ctx context.Context, prompt string) (string, error)
}

// Service builds prompts and decodes the model's answers.
type Service struct {
	generator Generator
	logger    *zap.Logger
}

// NewService returns a Service. A nil generator makes every call fail with ErrDisabled.
func NewService(generator Generator, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{generator: generator, logger: logger}
}

// Enabled reports whether a generator is configured.
func (s *Service) Enabled() bool {
	return s != nil && s.generator != nil
}

// Insights combines both assist answers for a data set.
type Insights struct {
	ColumnDescriptions map[string]string `json:"columnDescriptions"`
	Suggestions        []string          `json:"suggestions"`
}

// DescribeColumns returns a description per column, keyed by header.
func (s *Service) DescribeColumns(ctx context.Context, headers []string, rows []domain.Row) (map[string]string, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}
	sample, err := SampleCSV(headers, rows, SampleRows)
	if err != nil {
		return nil, err
	}

	text, err := s.generator.GenerateJSON(ctx, columnDescriptionPrompt(sample))
	if err != nil {
		return nil, fmt.Errorf("generate column descriptions: %w", err)
	}

	descriptions := map[string]string{}
	if err := decodeJSON(text, &descriptions); err != nil {
		s.logger.Warn("column description response rejected", zap.Error(err))
		return nil, err
	}
	return descriptions, nil
}

// SuggestTransformations returns free-text suggestions for the given headers.
func (s *Service) SuggestTransformations(ctx context.Context, headers []string) ([]string, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}
	if len(headers) == 0 {
		return []string{}, nil
	}

	text, err := s.generator.GenerateJSON(ctx, suggestionPrompt(headers))
	if err != nil {
		return nil, fmt.Errorf("generate suggestions: %w", err)
	}

	var out struct {
		Transformations []string `json:"transformations"`
	}
	if err := decodeJSON(text, &out); err != nil {
		s.logger.Warn("suggestion response rejected", zap.Error(err))
		return nil, err
	}
	if out.Transformations == nil {
		out.Transformations = []string{}
	}
	return out.Transformations, nil
}

// Describe runs both requests. A failed suggestion call does not discard the
// column descriptions.
func (s *Service) Describe(ctx context.Context, headers []string, rows []domain.Row) (Insights, error) {
	descriptions, err := s.DescribeColumns(ctx, headers, rows)
	if err != nil {
		return Insights{}, err
	}
	suggestions, err := s.SuggestTransformations(ctx, headers)
	if err != nil {
		s.logger.Warn("suggestions unavailable", zap.Error(err))
		suggestions = []string{}
	}
	return Insights{ColumnDescriptions: descriptions, Suggestions: suggestions}, nil
}

// SampleCSV renders the header line and up to limit rows as CSV text.
func SampleCSV(headers []string, rows []domain.Row, limit int) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(headers); err != nil {
		return "", fmt.Errorf("write sample header: %w", err)
	}
	for i, row := range rows {
		if i >= limit {
			break
		}
		record := make([]string, len(headers))
		for j, h := range headers {
			value, _ := row.Get(h)
			record[j] = domain.FormatValue(value)
		}
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("write sample row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush sample: %w", err)
	}
	return buf.String(), nil
}

func columnDescriptionPrompt(sample string) string {
	var b strings.Builder
	b.WriteString("You are an expert data analyst. Describe each column of the CSV data below.\n\n")
	b.WriteString(sample)
	b.WriteString("\nFor each column give a concise description of its contents, its data type ")
	b.WriteString("(string, number, boolean, date) and, where it applies, the range of values.\n")
	b.WriteString("Answer with a single JSON object mapping each column name to its description. ")
	b.WriteString("Do not add any other text.")
	return b.String()
}

func suggestionPrompt(headers []string) string {
	var b strings.Builder
	b.WriteString("Based on these CSV column headers:\n")
	for _, h := range headers {
		b.WriteString("- ")
		b.WriteString(h)
		b.WriteString("\n")
	}
	b.WriteString("\nsuggest data transformations that might be useful. Name the transformation and the columns it applies to.\n")
	b.WriteString("Typical transformations are converting latitude/longitude from DMS to decimal degrees, ")
	b.WriteString("converting UTM easting/northing to latitude/longitude and filling URLs by island.\n")
	b.WriteString(`Answer with a JSON object of the form {"transformations": ["..."]}.`)
	return b.String()
}

// decodeJSON accepts bare JSON or JSON wrapped in a markdown code fence.
func decodeJSON(text string, target any) error {
	body := strings.TrimSpace(text)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```")
		if nl := strings.IndexByte(body, '\n'); nl >= 0 {
			body = body[nl+1:]
		}
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
		body = strings.TrimSpace(body)
	}
	if body == "" {
		return fmt.Errorf("%w: empty body", ErrInvalidResponse)
	}
	if err := json.Unmarshal([]byte(body), target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}
