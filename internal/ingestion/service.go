package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/dataforge/internal/domain"
	"github.com/rpattn/dataforge/internal/repository"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrEmptyFile is returned for zero-length uploads.
	ErrEmptyFile = errors.New("file is empty")
	// ErrNoHeader is returned when no header row can be found.
	ErrNoHeader = errors.New("no header row detected")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

	timeLayouts = []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02",
		"2006-01-02 15:04:05",
		"2006/01/02",
		"01/02/2006",
		"02/01/2006",
	}

	// Plain decimal numbers only; hex, Inf and NaN stay strings.
	numberPattern = regexp.MustCompile(`^-?(\d+\.?|\.\d+|\d+\.\d+)([eE][-+]?\d+)?$`)
)

// Service turns uploaded files into row-sets for the reconciliation engine.
type Service struct {
	logRepo repository.IngestionLogRepository
	logger  *zap.Logger
}

// NewService creates a new ingestion service. logRepo may be nil.
func NewService(logRepo repository.IngestionLogRepository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{logRepo: logRepo, logger: logger}
}

// Request describes the ingestion input.
type Request struct {
	// FileID is generated when empty.
	FileID         string
	FileName       string
	HeaderRowIndex *int
	Data           io.Reader
}

// PreviewRequest describes the preview input prior to ingestion.
type PreviewRequest struct {
	FileName       string
	HeaderRowIndex *int
	Data           io.Reader
	Limit          int
}

// ColumnType is the type detected for a column across all rows.
type ColumnType string

const (
	ColumnTypeString    ColumnType = "string"
	ColumnTypeInteger   ColumnType = "integer"
	ColumnTypeFloat     ColumnType = "float"
	ColumnTypeBoolean   ColumnType = "boolean"
	ColumnTypeTimestamp ColumnType = "timestamp"
	ColumnTypeEmpty     ColumnType = "empty"
)

// PreviewHeader summarizes column level metadata for previews.
type PreviewHeader struct {
	Name          string     `json:"name"`
	OriginalLabel string     `json:"originalLabel"`
	DetectedType  ColumnType `json:"detectedType"`
	Required      bool       `json:"required"`
}

// PreviewRow captures sample data.
type PreviewRow struct {
	RowNumber int               `json:"rowNumber"`
	Values    map[string]string `json:"values"`
}

// HeaderCandidate represents a potential header row option.
type HeaderCandidate struct {
	Index   int      `json:"index"`
	Values  []string `json:"values"`
	Current bool     `json:"current"`
}

// PreviewResult returns preview metadata back to clients.
type PreviewResult struct {
	FileName         string            `json:"fileName"`
	TotalRows        int               `json:"totalRows"`
	Headers          []PreviewHeader   `json:"headers"`
	Rows             []PreviewRow      `json:"rows"`
	HeaderCandidates []HeaderCandidate `json:"headerCandidates"`
}

type tableRow struct {
	number int // 1-based line in the source
	cells  []string
}

type tableData struct {
	headers        []string
	rawHeaders     []string
	rows           []tableRow
	headerRowIndex int
}

// Load reads the uploaded file and returns its rows with types inferred.
func (s *Service) Load(ctx context.Context, req Request) (domain.SourceFile, error) {
	if req.Data == nil {
		return domain.SourceFile{}, errors.New("data reader is required")
	}
	payload, err := io.ReadAll(req.Data)
	if err != nil {
		return domain.SourceFile{}, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return domain.SourceFile{}, ErrEmptyFile
	}

	file := domain.SourceFile{ID: strings.TrimSpace(req.FileID), Name: req.FileName}
	if file.ID == "" {
		file.ID = uuid.NewString()
	}

	if isJSON(req.FileName) {
		rows, err := parseJSONRows(payload)
		if err != nil {
			s.recordIssue(ctx, file, nil, err.Error())
			return domain.SourceFile{}, err
		}
		file.Rows = rows
		s.logger.Info("file ingested",
			zap.String("file_id", file.ID),
			zap.String("file_name", file.Name),
			zap.Int("rows", len(rows)))
		return file, nil
	}

	table, _, err := parseTable(req.FileName, payload, req.HeaderRowIndex)
	if err != nil {
		s.recordIssue(ctx, file, nil, err.Error())
		return domain.SourceFile{}, err
	}

	file.Rows = make([]domain.Row, 0, len(table.rows))
	for _, row := range table.rows {
		if len(row.cells) != len(table.headers) && isCSV(req.FileName) {
			rowNumber := row.number
			s.recordIssue(ctx, file, &rowNumber,
				fmt.Sprintf("expected %d fields, found %d", len(table.headers), len(row.cells)))
		}
		file.Rows = append(file.Rows, buildRow(table.headers, row.cells))
	}

	s.logger.Info("file ingested",
		zap.String("file_id", file.ID),
		zap.String("file_name", file.Name),
		zap.Int("rows", len(file.Rows)),
		zap.Int("columns", len(table.headers)))
	return file, nil
}

// Preview profiles the columns and returns the first rows without keeping anything.
func (s *Service) Preview(ctx context.Context, req PreviewRequest) (PreviewResult, error) {
	result := PreviewResult{
		FileName:         req.FileName,
		Headers:          []PreviewHeader{},
		Rows:             []PreviewRow{},
		HeaderCandidates: []HeaderCandidate{},
	}

	if req.Data == nil {
		return result, errors.New("data reader is required")
	}
	payload, err := io.ReadAll(req.Data)
	if err != nil {
		return result, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return result, ErrEmptyFile
	}

	var table tableData
	if isJSON(req.FileName) {
		rows, err := parseJSONRows(payload)
		if err != nil {
			return result, err
		}
		table = tableFromRows(rows)
	} else {
		var records [][]string
		table, records, err = parseTable(req.FileName, payload, req.HeaderRowIndex)
		if err != nil {
			return result, err
		}
		result.HeaderCandidates = buildHeaderCandidates(records, 10, table.headerRowIndex)
	}

	result.TotalRows = len(table.rows)

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	for rowIdx, row := range table.rows {
		if rowIdx >= limit {
			break
		}
		values := make(map[string]string, len(table.headers))
		for colIdx, header := range table.headers {
			if colIdx < len(row.cells) {
				values[header] = strings.TrimSpace(row.cells[colIdx])
			} else {
				values[header] = ""
			}
		}
		result.Rows = append(result.Rows, PreviewRow{RowNumber: row.number, Values: values})
	}

	for idx, header := range table.headers {
		columnType, required := profileColumn(idx, table.rows)
		previewHeader := PreviewHeader{
			Name:         header,
			DetectedType: columnType,
			Required:     required,
		}
		if idx < len(table.rawHeaders) {
			previewHeader.OriginalLabel = table.rawHeaders[idx]
		}
		result.Headers = append(result.Headers, previewHeader)
	}

	return result, nil
}

func isJSON(fileName string) bool {
	return strings.EqualFold(filepath.Ext(fileName), ".json")
}

func isCSV(fileName string) bool {
	return strings.EqualFold(filepath.Ext(fileName), ".csv")
}

// parseJSONRows accepts an array of objects or a single object.
func parseJSONRows(payload []byte) ([]domain.Row, error) {
	payload = bytes.TrimPrefix(payload, byteOrderMark)
	trimmed := bytes.TrimSpace(payload)
	switch {
	case len(trimmed) == 0:
		return nil, ErrEmptyFile
	case trimmed[0] == '{':
		var row domain.Row
		if err := json.Unmarshal(trimmed, &row); err != nil {
			return nil, fmt.Errorf("failed to read json: %w", err)
		}
		return []domain.Row{row}, nil
	case trimmed[0] == '[':
		var rows []domain.Row
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return nil, fmt.Errorf("failed to read json: %w", err)
		}
		if rows == nil {
			rows = []domain.Row{}
		}
		return rows, nil
	default:
		return nil, fmt.Errorf("%w: json must be an object or an array of objects", ErrUnsupportedFormat)
	}
}

func tableFromRows(rows []domain.Row) tableData {
	file := domain.SourceFile{Rows: rows}
	headers := file.Headers()
	table := tableData{headers: headers, rawHeaders: headers}
	for idx, row := range rows {
		cells := make([]string, len(headers))
		for col, header := range headers {
			value, _ := row.Get(header)
			cells[col] = domain.FormatValue(value)
		}
		table.rows = append(table.rows, tableRow{number: idx + 1, cells: cells})
	}
	return table
}

func buildRow(headers []string, cells []string) domain.Row {
	fields := make([]domain.Field, len(headers))
	for idx, header := range headers {
		var value any
		if idx < len(cells) {
			value = inferValue(cells[idx])
		}
		fields[idx] = domain.F(header, value)
	}
	return domain.NewRow(fields...)
}

// inferValue applies the dynamic typing the row-sets expect: booleans,
// plain decimal numbers and null for empty cells.
func inferValue(cell string) any {
	value := strings.TrimSpace(cell)
	switch value {
	case "":
		return nil
	case "true", "TRUE", "True":
		return true
	case "false", "FALSE", "False":
		return false
	}
	if numberPattern.MatchString(value) {
		if f, err := strconv.ParseFloat(value, 64); err == nil && !math.IsInf(f, 0) {
			return f
		}
	}
	return value
}

func parseTable(fileName string, payload []byte, headerRowIndex *int) (tableData, [][]string, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv", ".txt":
		return parseCSV(payload, headerRowIndex)
	case ".xlsx":
		return parseExcel(payload, headerRowIndex)
	default:
		return tableData{}, nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func parseCSV(payload []byte, headerRowIndex *int) (tableData, [][]string, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return tableData{}, nil, fmt.Errorf("failed to read csv: %w", err)
	}

	table, err := normalizeTable(records, headerRowIndex)
	if err != nil {
		return tableData{}, nil, err
	}
	return table, records, nil
}

func parseExcel(payload []byte, headerRowIndex *int) (tableData, [][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return tableData{}, nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return tableData{}, nil, errors.New("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return tableData{}, nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}

	table, err := normalizeTable(rows, headerRowIndex)
	if err != nil {
		return tableData{}, nil, err
	}
	return table, rows, nil
}

func normalizeTable(records [][]string, headerRowIndex *int) (tableData, error) {
	if len(records) == 0 {
		return tableData{}, errors.New("no rows found in file")
	}

	var headerRow []string
	var dataRows []tableRow
	headerIndex := -1

	if headerRowIndex != nil {
		if *headerRowIndex < 0 || *headerRowIndex >= len(records) {
			return tableData{}, fmt.Errorf("header row index %d out of range", *headerRowIndex)
		}
		if len(cleanRow(records[*headerRowIndex])) == 0 {
			return tableData{}, fmt.Errorf("selected header row %d is empty", *headerRowIndex+1)
		}
		headerRow = records[*headerRowIndex]
		headerIndex = *headerRowIndex
		for idx := *headerRowIndex + 1; idx < len(records); idx++ {
			if len(cleanRow(records[idx])) == 0 {
				continue
			}
			dataRows = append(dataRows, tableRow{number: idx + 1, cells: records[idx]})
		}
	} else {
		for idx, row := range records {
			if len(cleanRow(row)) == 0 {
				continue
			}
			if headerRow == nil {
				headerRow = row
				headerIndex = idx
				continue
			}
			dataRows = append(dataRows, tableRow{number: idx + 1, cells: row})
		}
	}

	if headerRow == nil {
		return tableData{}, ErrNoHeader
	}

	rawHeaders := make([]string, len(headerRow))
	for i, value := range headerRow {
		rawHeaders[i] = strings.TrimSpace(value)
	}

	return tableData{
		headers:        dedupeHeaders(headerRow),
		rawHeaders:     rawHeaders,
		rows:           dataRows,
		headerRowIndex: headerIndex,
	}, nil
}

func buildHeaderCandidates(records [][]string, limit int, currentIndex int) []HeaderCandidate {
	if limit <= 0 {
		limit = 10
	}

	candidates := make([]HeaderCandidate, 0, limit)
	for idx, row := range records {
		if len(cleanRow(row)) == 0 {
			continue
		}

		values := make([]string, len(row))
		for i, cell := range row {
			values[i] = strings.TrimSpace(cell)
		}

		candidates = append(candidates, HeaderCandidate{
			Index:   idx,
			Values:  values,
			Current: idx == currentIndex,
		})

		if len(candidates) >= limit {
			break
		}
	}

	return candidates
}

func cleanRow(row []string) []string {
	var cleaned []string
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			cleaned = append(cleaned, cell)
		}
	}
	return cleaned
}

// dedupeHeaders keeps header text as written (the engine matches names
// exactly) and only disambiguates blanks and repeats.
func dedupeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int)

	for idx, value := range raw {
		name := strings.TrimSpace(value)
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		}

		base := name
		count := seen[base]
		if count > 0 {
			name = fmt.Sprintf("%s_%d", base, count+1)
		}
		seen[base] = count + 1

		headers[idx] = name
	}

	return headers
}

func profileColumn(col int, rows []tableRow) (ColumnType, bool) {
	isBool := true
	isInt := true
	isFloat := true
	isTimestamp := true
	allPresent := true
	hasValue := false

	for _, row := range rows {
		if col >= len(row.cells) {
			allPresent = false
			continue
		}

		value := strings.TrimSpace(row.cells[col])
		if value == "" {
			allPresent = false
			continue
		}

		hasValue = true

		if !looksLikeBool(value) {
			isBool = false
		}
		if !looksLikeInt(value) {
			isInt = false
		}
		if !looksLikeFloat(value) {
			isFloat = false
		}
		if !looksLikeTimestamp(value) {
			isTimestamp = false
		}
	}

	switch {
	case !hasValue:
		return ColumnTypeEmpty, false
	case isBool:
		return ColumnTypeBoolean, allPresent
	case isInt:
		return ColumnTypeInteger, allPresent
	case isFloat:
		return ColumnTypeFloat, allPresent
	case isTimestamp:
		return ColumnTypeTimestamp, allPresent
	default:
		return ColumnTypeString, allPresent
	}
}

func looksLikeBool(value string) bool {
	switch strings.ToLower(value) {
	case "true", "false":
		return true
	}
	return false
}

func looksLikeInt(value string) bool {
	if !numberPattern.MatchString(value) {
		return false
	}
	f, err := strconv.ParseFloat(value, 64)
	return err == nil && math.Mod(f, 1) == 0
}

func looksLikeFloat(value string) bool {
	return numberPattern.MatchString(value)
}

func looksLikeTimestamp(value string) bool {
	for _, layout := range timeLayouts {
		if _, err := time.Parse(layout, value); err == nil {
			return true
		}
	}
	return false
}

func (s *Service) recordIssue(ctx context.Context, file domain.SourceFile, rowNumber *int, message string) {
	fields := []zap.Field{
		zap.String("file_id", file.ID),
		zap.String("file_name", file.Name),
		zap.String("issue", message),
	}
	if rowNumber != nil {
		fields = append(fields, zap.Int("row", *rowNumber))
	}
	s.logger.Warn("ingestion issue", fields...)

	if s.logRepo == nil {
		return
	}
	entry := domain.IngestionLogEntry{
		FileID:    file.ID,
		FileName:  file.Name,
		RowNumber: rowNumber,
		Message:   message,
	}
	if err := s.logRepo.Record(ctx, entry); err != nil {
		s.logger.Error("failed to record ingestion issue", zap.Error(err))
	}
}
