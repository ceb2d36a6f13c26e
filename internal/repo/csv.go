package repo

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/miradorstack/leakscope/internal/models"
)

// ExportHeader is the column order of exported scan results.
var ExportHeader = []string{
	"commit_sha",
	"risk_score",
	"risk_level",
	"has_prediction",
	"predicted_label",
	"predicted_confidence",
	"matcher_severity_max",
	"kind",
	"severity",
	"file_path",
	"line_number",
	"matched_text",
}

// ExportRow is one credential joined with its commit assessment. Commits without
// credentials export a single row with empty credential columns.
type ExportRow struct {
	Assessment models.RiskAssessment
	Credential *models.DetectedCredential
}

// ExportRows flattens a scan result in assessment order.
func ExportRows(result *models.ScanResult) []ExportRow {
	byCommit := make(map[string][]models.DetectedCredential)
	for _, c := range result.Credentials {
		byCommit[c.CommitSHA] = append(byCommit[c.CommitSHA], c)
	}
	rows := make([]ExportRow, 0, len(result.Assessments)+len(result.Credentials))
	for _, a := range result.Assessments {
		creds := byCommit[a.CommitSHA]
		if len(creds) == 0 {
			rows = append(rows, ExportRow{Assessment: a})
			continue
		}
		for i := range creds {
			rows = append(rows, ExportRow{Assessment: a, Credential: &creds[i]})
		}
	}
	return rows
}

// WriteCSV writes rows with a header line.
func WriteCSV(w io.Writer, rows []ExportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ExportHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, row := range rows {
		a := row.Assessment
		record := []string{
			a.CommitSHA,
			strconv.FormatFloat(a.RiskScore, 'f', -1, 64),
			string(a.RiskLevel),
			strconv.FormatBool(a.HasPrediction),
			strconv.Itoa(a.PredictedLabel),
			strconv.FormatFloat(a.PredictedConfidence, 'f', -1, 64),
			a.MatcherSeverityMax.String(),
			"", "", "", "", "",
		}
		if c := row.Credential; c != nil {
			record[7] = c.Kind
			record[8] = c.Severity.String()
			record[9] = c.FilePath
			record[10] = strconv.Itoa(c.LineNumber)
			record[11] = c.MatchedText
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row for %s: %w", a.CommitSHA, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses output produced by WriteCSV.
func ReadCSV(r io.Reader) ([]ExportRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(ExportHeader)

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty export")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i, name := range ExportHeader {
		if header[i] != name {
			return nil, fmt.Errorf("unexpected column %d: %q", i, header[i])
		}
	}

	var rows []ExportRow
	for line := 2; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		row, err := parseExportRecord(record)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
}

func parseExportRecord(record []string) (ExportRow, error) {
	var (
		row ExportRow
		err error
	)
	a := &row.Assessment
	a.CommitSHA = record[0]
	if a.RiskScore, err = strconv.ParseFloat(record[1], 64); err != nil {
		return row, fmt.Errorf("risk_score: %w", err)
	}
	a.RiskLevel = models.RiskLevel(record[2])
	if a.HasPrediction, err = strconv.ParseBool(record[3]); err != nil {
		return row, fmt.Errorf("has_prediction: %w", err)
	}
	if a.PredictedLabel, err = strconv.Atoi(record[4]); err != nil {
		return row, fmt.Errorf("predicted_label: %w", err)
	}
	if a.PredictedConfidence, err = strconv.ParseFloat(record[5], 64); err != nil {
		return row, fmt.Errorf("predicted_confidence: %w", err)
	}
	if a.MatcherSeverityMax, err = models.ParseSeverity(record[6]); err != nil {
		return row, err
	}
	if record[7] == "" {
		return row, nil
	}

	c := &models.DetectedCredential{
		CommitSHA:   a.CommitSHA,
		Kind:        record[7],
		FilePath:    record[9],
		MatchedText: record[11],
	}
	if c.Severity, err = models.ParseSeverity(record[8]); err != nil {
		return row, err
	}
	if c.LineNumber, err = strconv.Atoi(record[10]); err != nil {
		return row, fmt.Errorf("line_number: %w", err)
	}
	row.Credential = c
	return row, nil
}
