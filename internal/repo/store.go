package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/miradorstack/leakscope/internal/engine"
	"github.com/miradorstack/leakscope/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

type repositoryRow struct {
	ID            uint   `gorm:"primaryKey"`
	Owner         string `gorm:"uniqueIndex:idx_repositories_owner_name;not null"`
	Name          string `gorm:"uniqueIndex:idx_repositories_owner_name;not null"`
	LastScanID    string
	LastRiskLevel string
	LastScannedAt time.Time
	CreatedAt     time.Time
}

func (repositoryRow) TableName() string { return "repositories" }

type scanRow struct {
	ID               string `gorm:"primaryKey"`
	RepositoryID     uint   `gorm:"index"`
	Branch           string
	CommitsSeen      int
	CommitsScanned   int
	CommitsSkipped   int
	CommitsFailed    int
	TotalCredentials int
	RiskyCommits     int
	MaxRiskScore     float64
	AvgRiskScore     float64
	RiskLevel        string
	ModelID          string
	Summary          string
	StartedAt        time.Time
	FinishedAt       time.Time `gorm:"index"`
}

func (scanRow) TableName() string { return "scans" }

type credentialRow struct {
	ID          uint   `gorm:"primaryKey"`
	ScanID      string `gorm:"index"`
	CommitSHA   string `gorm:"index"`
	Kind        string
	Severity    string
	FilePath    string
	LineNumber  int
	MatchedText string
}

func (credentialRow) TableName() string { return "credentials" }

type featureRow struct {
	ID                   uint   `gorm:"primaryKey"`
	ScanID               string `gorm:"index"`
	CommitSHA            string `gorm:"index"`
	CommitHour           int
	CommitDayOfWeek      int
	MessageLength        int
	HasSuspiciousKeyword bool
	FilesModified        int
	CodeAdditions        int
	CodeDeletions        int
	ChangeRatio          float64
	HasConfigFile        bool
	HasEnvFile           bool
	RegexDetectedCount   int
	MaxRegexSeverity     int
	IsSensitiveFile      bool
	RiskLabel            *int
	HasPrediction        bool
	PredictedLabel       int
	PredictedConfidence  float64
	RiskScore            float64
	RiskLevel            string
}

func (featureRow) TableName() string { return "feature_vectors" }

type modelAuditRow struct {
	ModelID         string `gorm:"primaryKey"`
	Schema          string
	TrainedAt       time.Time `gorm:"index"`
	Samples         int
	TrainSamples    int
	TestSamples     int
	MaxDepth        int
	MinSamplesSplit int
	Depth           int
	Leaves          int
	Accuracy        float64
	Precision       float64
	Recall          float64
	F1              float64
	Confusion       string
	Importance      string
	Rules           string
}

func (modelAuditRow) TableName() string { return "model_audits" }

type feedbackRow struct {
	CommitSHA   string `gorm:"primaryKey"`
	Risky       bool
	Notes       string
	SubmittedAt time.Time
}

func (feedbackRow) TableName() string { return "feedback" }

// SQLStore persists scans, training audits and analyst feedback in SQLite.
type SQLStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

var (
	_ engine.ResultStore  = (*SQLStore)(nil)
	_ engine.SampleSource = (*SQLStore)(nil)
)

// OpenSQLStore opens (creating if needed) the database at dsn and migrates the schema.
func OpenSQLStore(dsn string, logger *slog.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dsn == "" {
		return nil, fmt.Errorf("storage dsn is required")
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&repositoryRow{}, &scanRow{}, &credentialRow{}, &featureRow{}, &modelAuditRow{}, &feedbackRow{}); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return &SQLStore{db: db, logger: logger}, nil
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveScan writes a scan and everything it produced in one transaction.
func (s *SQLStore) SaveScan(ctx context.Context, result *models.ScanResult) error {
	summary := result.Summary
	encoded, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}

	assessments := make(map[string]models.RiskAssessment, len(result.Assessments))
	for _, a := range result.Assessments {
		assessments[a.CommitSHA] = a
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := repositoryRow{Owner: summary.Owner, Name: summary.Name}
		if err := tx.Where(&repositoryRow{Owner: summary.Owner, Name: summary.Name}).FirstOrCreate(&repo).Error; err != nil {
			return fmt.Errorf("upsert repository: %w", err)
		}
		repo.LastScanID = summary.ScanID
		repo.LastRiskLevel = string(summary.RiskLevel)
		repo.LastScannedAt = summary.FinishedAt
		if err := tx.Save(&repo).Error; err != nil {
			return fmt.Errorf("update repository: %w", err)
		}

		scan := scanRow{
			ID:               summary.ScanID,
			RepositoryID:     repo.ID,
			Branch:           summary.Branch,
			CommitsSeen:      summary.CommitsSeen,
			CommitsScanned:   summary.CommitsScanned,
			CommitsSkipped:   summary.CommitsSkipped,
			CommitsFailed:    summary.CommitsFailed,
			TotalCredentials: summary.TotalCredentials,
			RiskyCommits:     summary.RiskyCommits,
			MaxRiskScore:     summary.MaxRiskScore,
			AvgRiskScore:     summary.AvgRiskScore,
			RiskLevel:        string(summary.RiskLevel),
			ModelID:          summary.ModelID,
			Summary:          string(encoded),
			StartedAt:        summary.StartedAt,
			FinishedAt:       summary.FinishedAt,
		}
		if err := tx.Create(&scan).Error; err != nil {
			return fmt.Errorf("insert scan: %w", err)
		}

		if len(result.Credentials) > 0 {
			rows := make([]credentialRow, 0, len(result.Credentials))
			for _, c := range result.Credentials {
				rows = append(rows, credentialRow{
					ScanID:      summary.ScanID,
					CommitSHA:   c.CommitSHA,
					Kind:        c.Kind,
					Severity:    c.Severity.String(),
					FilePath:    c.FilePath,
					LineNumber:  c.LineNumber,
					MatchedText: c.MatchedText,
				})
			}
			if err := tx.CreateInBatches(rows, 200).Error; err != nil {
				return fmt.Errorf("insert credentials: %w", err)
			}
		}

		if len(result.Features) > 0 {
			rows := make([]featureRow, 0, len(result.Features))
			for _, v := range result.Features {
				rows = append(rows, toFeatureRow(summary.ScanID, v, assessments[v.CommitSHA]))
			}
			if err := tx.CreateInBatches(rows, 200).Error; err != nil {
				return fmt.Errorf("insert feature vectors: %w", err)
			}
		}
		return nil
	})
}

// SaveModelAudit appends a training run to the audit history.
func (s *SQLStore) SaveModelAudit(ctx context.Context, audit models.ModelAudit) error {
	confusion, err := json.Marshal(audit.Confusion)
	if err != nil {
		return fmt.Errorf("encode confusion: %w", err)
	}
	importance, err := json.Marshal(audit.Importance)
	if err != nil {
		return fmt.Errorf("encode importance: %w", err)
	}
	row := modelAuditRow{
		ModelID:         audit.ModelID,
		Schema:          audit.Schema,
		TrainedAt:       audit.TrainedAt,
		Samples:         audit.Samples,
		TrainSamples:    audit.TrainSamples,
		TestSamples:     audit.TestSamples,
		MaxDepth:        audit.MaxDepth,
		MinSamplesSplit: audit.MinSamplesSplit,
		Depth:           audit.Depth,
		Leaves:          audit.Leaves,
		Accuracy:        audit.Accuracy,
		Precision:       audit.Precision,
		Recall:          audit.Recall,
		F1:              audit.F1,
		Confusion:       string(confusion),
		Importance:      string(importance),
		Rules:           audit.Rules,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert model audit: %w", err)
	}
	return nil
}

// ListModelAudits returns the most recent training runs, newest first.
func (s *SQLStore) ListModelAudits(ctx context.Context, limit int) ([]models.ModelAudit, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []modelAuditRow
	if err := s.db.WithContext(ctx).Order("trained_at desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list model audits: %w", err)
	}
	out := make([]models.ModelAudit, 0, len(rows))
	for _, r := range rows {
		audit := models.ModelAudit{
			ModelID:         r.ModelID,
			Schema:          r.Schema,
			TrainedAt:       r.TrainedAt,
			Samples:         r.Samples,
			TrainSamples:    r.TrainSamples,
			TestSamples:     r.TestSamples,
			MaxDepth:        r.MaxDepth,
			MinSamplesSplit: r.MinSamplesSplit,
			Depth:           r.Depth,
			Leaves:          r.Leaves,
			Accuracy:        r.Accuracy,
			Precision:       r.Precision,
			Recall:          r.Recall,
			F1:              r.F1,
			Rules:           r.Rules,
		}
		if err := json.Unmarshal([]byte(r.Confusion), &audit.Confusion); err != nil {
			return nil, fmt.Errorf("decode confusion for %s: %w", r.ModelID, err)
		}
		if err := json.Unmarshal([]byte(r.Importance), &audit.Importance); err != nil {
			return nil, fmt.Errorf("decode importance for %s: %w", r.ModelID, err)
		}
		out = append(out, audit)
	}
	return out, nil
}

// SaveFeedback records or replaces the analyst verdict for a commit.
func (s *SQLStore) SaveFeedback(ctx context.Context, fb models.Feedback) error {
	if fb.CommitSHA == "" {
		return fmt.Errorf("feedback requires a commit sha")
	}
	if fb.SubmittedAt.IsZero() {
		fb.SubmittedAt = time.Now().UTC()
	}
	row := feedbackRow{CommitSHA: fb.CommitSHA, Risky: fb.Risky, Notes: fb.Notes, SubmittedAt: fb.SubmittedAt}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save feedback: %w", err)
	}
	return nil
}

// LoadSamples returns the latest stored vector per commit. Analyst feedback replaces the
// derived label where present.
func (s *SQLStore) LoadSamples(ctx context.Context) ([]models.FeatureVector, error) {
	var rows []featureRow
	if err := s.db.WithContext(ctx).Order("id asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load feature vectors: %w", err)
	}
	var feedback []feedbackRow
	if err := s.db.WithContext(ctx).Find(&feedback).Error; err != nil {
		return nil, fmt.Errorf("load feedback: %w", err)
	}
	verdicts := make(map[string]bool, len(feedback))
	for _, f := range feedback {
		verdicts[f.CommitSHA] = f.Risky
	}

	latest := make(map[string]int, len(rows))
	var order []string
	for i, r := range rows {
		if _, ok := latest[r.CommitSHA]; !ok {
			order = append(order, r.CommitSHA)
		}
		latest[r.CommitSHA] = i
	}

	out := make([]models.FeatureVector, 0, len(order))
	for _, sha := range order {
		v := fromFeatureRow(rows[latest[sha]])
		if risky, ok := verdicts[sha]; ok {
			label := 0
			if risky {
				label = 1
			}
			v.RiskLabel = models.Label(label)
		}
		out = append(out, v)
	}
	return out, nil
}

// LatestScan returns the newest scan summary for a repository.
func (s *SQLStore) LatestScan(ctx context.Context, owner, name string) (models.RepositorySummary, error) {
	var repo repositoryRow
	err := s.db.WithContext(ctx).Where(&repositoryRow{Owner: owner, Name: name}).First(&repo).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.RepositorySummary{}, ErrNotFound
	}
	if err != nil {
		return models.RepositorySummary{}, fmt.Errorf("find repository: %w", err)
	}
	return s.scanSummary(ctx, repo.LastScanID)
}

func (s *SQLStore) scanSummary(ctx context.Context, scanID string) (models.RepositorySummary, error) {
	var scan scanRow
	err := s.db.WithContext(ctx).Where("id = ?", scanID).First(&scan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.RepositorySummary{}, ErrNotFound
	}
	if err != nil {
		return models.RepositorySummary{}, fmt.Errorf("find scan: %w", err)
	}
	var summary models.RepositorySummary
	if err := json.Unmarshal([]byte(scan.Summary), &summary); err != nil {
		return models.RepositorySummary{}, fmt.Errorf("decode scan summary: %w", err)
	}
	return summary, nil
}

// ScanResult reloads a stored scan for export.
func (s *SQLStore) ScanResult(ctx context.Context, scanID string) (*models.ScanResult, error) {
	summary, err := s.scanSummary(ctx, scanID)
	if err != nil {
		return nil, err
	}
	result := &models.ScanResult{Summary: summary}

	var creds []credentialRow
	if err := s.db.WithContext(ctx).Where("scan_id = ?", scanID).Order("id asc").Find(&creds).Error; err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	for _, c := range creds {
		severity, err := models.ParseSeverity(c.Severity)
		if err != nil {
			return nil, fmt.Errorf("credential %d: %w", c.ID, err)
		}
		result.Credentials = append(result.Credentials, models.DetectedCredential{
			Kind:        c.Kind,
			Severity:    severity,
			FilePath:    c.FilePath,
			LineNumber:  c.LineNumber,
			MatchedText: c.MatchedText,
			CommitSHA:   c.CommitSHA,
		})
	}

	var features []featureRow
	if err := s.db.WithContext(ctx).Where("scan_id = ?", scanID).Order("id asc").Find(&features).Error; err != nil {
		return nil, fmt.Errorf("load feature vectors: %w", err)
	}
	for _, f := range features {
		result.Features = append(result.Features, fromFeatureRow(f))
		result.Assessments = append(result.Assessments, models.RiskAssessment{
			CommitSHA:           f.CommitSHA,
			MatcherSeverityMax:  models.Severity(f.MaxRegexSeverity),
			HasPrediction:       f.HasPrediction,
			PredictedLabel:      f.PredictedLabel,
			PredictedConfidence: f.PredictedConfidence,
			RiskScore:           f.RiskScore,
			RiskLevel:           models.RiskLevel(f.RiskLevel),
		})
	}
	return result, nil
}

func toFeatureRow(scanID string, v models.FeatureVector, a models.RiskAssessment) featureRow {
	return featureRow{
		ScanID:               scanID,
		CommitSHA:            v.CommitSHA,
		CommitHour:           v.CommitHour,
		CommitDayOfWeek:      v.CommitDayOfWeek,
		MessageLength:        v.MessageLength,
		HasSuspiciousKeyword: v.HasSuspiciousKeyword,
		FilesModified:        v.FilesModified,
		CodeAdditions:        v.CodeAdditions,
		CodeDeletions:        v.CodeDeletions,
		ChangeRatio:          v.ChangeRatio,
		HasConfigFile:        v.HasConfigFile,
		HasEnvFile:           v.HasEnvFile,
		RegexDetectedCount:   v.RegexDetectedCount,
		MaxRegexSeverity:     v.MaxRegexSeverity,
		IsSensitiveFile:      v.IsSensitiveFile,
		RiskLabel:            v.RiskLabel,
		HasPrediction:        a.HasPrediction,
		PredictedLabel:       a.PredictedLabel,
		PredictedConfidence:  a.PredictedConfidence,
		RiskScore:            a.RiskScore,
		RiskLevel:            string(a.RiskLevel),
	}
}

func fromFeatureRow(r featureRow) models.FeatureVector {
	return models.FeatureVector{
		CommitSHA:            r.CommitSHA,
		CommitHour:           r.CommitHour,
		CommitDayOfWeek:      r.CommitDayOfWeek,
		MessageLength:        r.MessageLength,
		HasSuspiciousKeyword: r.HasSuspiciousKeyword,
		FilesModified:        r.FilesModified,
		CodeAdditions:        r.CodeAdditions,
		CodeDeletions:        r.CodeDeletions,
		ChangeRatio:          r.ChangeRatio,
		HasConfigFile:        r.HasConfigFile,
		HasEnvFile:           r.HasEnvFile,
		RegexDetectedCount:   r.RegexDetectedCount,
		MaxRegexSeverity:     r.MaxRegexSeverity,
		IsSensitiveFile:      r.IsSensitiveFile,
		RiskLabel:            r.RiskLabel,
	}
}
