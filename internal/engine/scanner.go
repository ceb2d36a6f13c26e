package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/panjf2000/ants/v2"

	"github.com/miradorstack/leakscope/internal/metrics"
	"github.com/miradorstack/leakscope/internal/models"
)

// CommitIterator yields commits lazily. Next returns io.EOF after the last commit.
type CommitIterator interface {
	Next(ctx context.Context) (models.CommitChange, error)
}

// BranchReporter is implemented by iterators that resolve the branch they walk, such as
// a repository's default branch when the request names none.
type BranchReporter interface {
	Branch() string
}

// CommitSource opens the commit history for one scan request.
type CommitSource interface {
	Commits(ctx context.Context, req models.ScanRequest) (CommitIterator, error)
}

// ResultStore receives scan and training output. The core only pushes to it.
type ResultStore interface {
	SaveScan(ctx context.Context, result *models.ScanResult) error
	SaveModelAudit(ctx context.Context, audit models.ModelAudit) error
}

// CommitFetchError reports a commit whose details could not be fetched. The scan counts it
// as failed and moves on.
type CommitFetchError struct {
	SHA string
	Err error
}

func (e *CommitFetchError) Error() string {
	return fmt.Sprintf("fetch commit %s: %v", e.SHA, e.Err)
}

func (e *CommitFetchError) Unwrap() error {
	return e.Err
}

// ScannerConfig tunes a Scanner.
type ScannerConfig struct {
	Workers int
}

// Scanner runs the pipeline over a repository history with a bounded worker pool.
type Scanner struct {
	logger   *slog.Logger
	source   CommitSource
	pipeline *Pipeline
	store    ResultStore
	workers  int
	now      func() time.Time
}

// NewScanner constructs a Scanner. store may be nil when results are only returned.
func NewScanner(logger *slog.Logger, source CommitSource, pipeline *Pipeline, store ResultStore, cfg ScannerConfig) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	return &Scanner{
		logger:   logger,
		source:   source,
		pipeline: pipeline,
		store:    store,
		workers:  workers,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type sequenced struct {
	seq    int
	result CommitResult
}

// collector gathers worker output. Workers finish out of order; seq restores source order.
type collector struct {
	mu        sync.Mutex
	results   []sequenced
	skipped   []models.CommitIssue
	failed    []models.CommitIssue
	refused   int
	cancelled int
}

func (c *collector) add(seq int, r CommitResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, sequenced{seq: seq, result: r})
	if r.PredictionErr != nil {
		c.refused++
	}
}

func (c *collector) skip(sha string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.skipped = append(c.skipped, models.CommitIssue{CommitSHA: sha, Reason: err.Error()})
}

func (c *collector) cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled++
}

func (c *collector) fail(sha string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed = append(c.failed, models.CommitIssue{CommitSHA: sha, Reason: err.Error()})
}

// Scan processes every commit the source yields. Cancellation is checked between commits;
// a commit already in a worker runs to completion. On cancellation the partial result is
// returned with the context error and nothing is persisted.
func (s *Scanner) Scan(ctx context.Context, req models.ScanRequest) (*models.ScanResult, error) {
	if s.source == nil || s.pipeline == nil {
		return nil, fmt.Errorf("scanner not configured")
	}
	started := s.now()

	iter, err := s.source.Commits(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("open commit history for %s: %w", req.FullName(), err)
	}
	if br, ok := iter.(BranchReporter); ok && req.Branch == "" {
		req.Branch = br.Branch()
	}

	pool, err := ants.NewPool(s.workers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	var (
		wg      sync.WaitGroup
		out     collector
		seen    int
		scanErr error
	)

	for {
		if err := ctx.Err(); err != nil {
			scanErr = err
			break
		}
		change, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var malformed *models.MalformedCommitError
			var fetch *CommitFetchError
			switch {
			case errors.As(err, &malformed):
				seen++
				out.skip(malformed.SHA, err)
				metrics.ObserveCommit(metrics.OutcomeSkipped)
				s.logger.Warn("skipping malformed commit", slog.String("commit", malformed.SHA), slog.Any("error", err))
				continue
			case errors.As(err, &fetch):
				seen++
				out.fail(fetch.SHA, err)
				metrics.ObserveCommit(metrics.OutcomeError)
				s.logger.Warn("commit fetch failed", slog.String("commit", fetch.SHA), slog.Any("error", err))
				continue
			case ctx.Err() != nil:
				scanErr = ctx.Err()
			default:
				scanErr = fmt.Errorf("read commit history: %w", err)
			}
			break
		}

		seq := seen
		seen++
		wg.Add(1)
		task := func() {
			defer wg.Done()
			s.processOne(ctx, seq, change, &out)
		}
		if err := pool.Submit(task); err != nil {
			wg.Done()
			out.fail(change.Commit.SHA, err)
			metrics.ObserveCommit(metrics.OutcomeError)
		}
	}

	wg.Wait()

	result := s.assemble(req, &out, seen, started)
	metrics.ObserveScan(result.Summary.FinishedAt.Sub(started))

	if scanErr != nil {
		s.logger.Warn("scan aborted",
			slog.String("repository", req.FullName()),
			slog.Int("commits_seen", seen),
			slog.Any("error", scanErr),
		)
		return result, fmt.Errorf("scan %s: %w", req.FullName(), scanErr)
	}

	if s.store != nil {
		if err := s.store.SaveScan(ctx, result); err != nil {
			return result, fmt.Errorf("persist scan: %w", err)
		}
	}

	s.logger.Info("scan completed",
		slog.String("repository", req.FullName()),
		slog.String("scan_id", result.Summary.ScanID),
		slog.Int("commits_scanned", result.Summary.CommitsScanned),
		slog.Int("commits_skipped", result.Summary.CommitsSkipped),
		slog.Int("commits_failed", result.Summary.CommitsFailed),
		slog.Int("credentials", result.Summary.TotalCredentials),
		slog.String("risk_level", string(result.Summary.RiskLevel)),
	)
	return result, nil
}

func (s *Scanner) processOne(ctx context.Context, seq int, change models.CommitChange, out *collector) {
	defer func() {
		if r := recover(); r != nil {
			out.fail(change.Commit.SHA, fmt.Errorf("panic: %v", r))
			metrics.ObserveCommit(metrics.OutcomeError)
		}
	}()
	if ctx.Err() != nil {
		out.cancel()
		metrics.ObserveCommit(metrics.OutcomeCancelled)
		return
	}

	res, err := s.pipeline.Process(change)
	if err != nil {
		var malformed *models.MalformedCommitError
		if errors.As(err, &malformed) {
			out.skip(change.Commit.SHA, err)
			metrics.ObserveCommit(metrics.OutcomeSkipped)
			s.logger.Warn("skipping malformed commit", slog.String("commit", change.Commit.SHA), slog.Any("error", err))
			return
		}
		out.fail(change.Commit.SHA, err)
		metrics.ObserveCommit(metrics.OutcomeError)
		return
	}
	for _, c := range res.Credentials {
		metrics.ObserveDetection(c.Severity.String())
	}
	metrics.ObserveCommit(metrics.OutcomeSuccess)
	out.add(seq, res)
}

// assemble runs after the worker barrier.
func (s *Scanner) assemble(req models.ScanRequest, out *collector, seen int, started time.Time) *models.ScanResult {
	sort.Slice(out.results, func(i, j int) bool { return out.results[i].seq < out.results[j].seq })

	result := &models.ScanResult{
		Assessments: make([]models.RiskAssessment, 0, len(out.results)),
		Features:    make([]models.FeatureVector, 0, len(out.results)),
		Skipped:     out.skipped,
		Failed:      out.failed,
	}
	for _, r := range out.results {
		result.Assessments = append(result.Assessments, r.result.Assessment)
		result.Features = append(result.Features, r.result.Features)
		result.Credentials = append(result.Credentials, r.result.Credentials...)
	}

	summary := s.pipeline.Aggregator().Summarize(req, result, seen, started, s.now())
	summary.ScanID = ulid.Make().String()
	if m := s.pipeline.Model().Load(); m != nil {
		summary.ModelID = m.ID
	} else {
		summary.Warnings = append(summary.Warnings, "no trained model; risk scored from pattern matches only")
	}
	if n := len(out.skipped); n > 0 {
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("%d malformed commits skipped", n))
	}
	if n := len(out.failed); n > 0 {
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("%d commits failed", n))
	}
	if out.refused > 0 {
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("model refused %d feature vectors; retraining required", out.refused))
	}
	if out.cancelled > 0 {
		summary.CommitsCancelled = out.cancelled
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("%d commits not processed after cancellation", out.cancelled))
	}
	result.Summary = summary
	return result
}
