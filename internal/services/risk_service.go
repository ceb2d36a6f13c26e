package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/leakscope/internal/api"
	"github.com/miradorstack/leakscope/internal/cache"
	"github.com/miradorstack/leakscope/internal/engine"
	"github.com/miradorstack/leakscope/internal/models"
	"github.com/miradorstack/leakscope/internal/repo"
	"github.com/miradorstack/leakscope/internal/tree"
	"github.com/miradorstack/leakscope/internal/utils"
)

// Store is the persistence the service reads back from, beyond what the core pushes.
type Store interface {
	engine.ResultStore
	engine.SampleSource
	SaveFeedback(ctx context.Context, fb models.Feedback) error
	LatestScan(ctx context.Context, owner, name string) (models.RepositorySummary, error)
}

// Options tunes RiskService.
type Options struct {
	// DefaultMaxCommits applies when a request leaves MaxCommits at zero.
	DefaultMaxCommits int
	// ScanTimeout bounds a single scan; zero means no limit.
	ScanTimeout time.Duration
	// Locks, when set, holds one scan lock per repository so concurrent scans of the same
	// history are refused.
	Locks cache.Provider
	// LockTTL bounds a lock left behind by a crashed process. Zero uses one hour.
	LockTTL time.Duration
}

// RiskService is the facade used by the CLI and the gRPC API.
type RiskService struct {
	logger    *slog.Logger
	scanner   *engine.Scanner
	pipeline  *engine.Pipeline
	trainer   *engine.Trainer
	store     Store
	opts      Options
	latencies *utils.LatencyTracker
}

var _ api.RiskScannerServer = (*RiskService)(nil)

// NewRiskService constructs the service. scanner, trainer and store may be nil; the
// operations that need them then fail with a precondition error.
func NewRiskService(logger *slog.Logger, scanner *engine.Scanner, pipeline *engine.Pipeline, trainer *engine.Trainer, store Store, opts Options) *RiskService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RiskService{
		logger:    logger,
		scanner:   scanner,
		pipeline:  pipeline,
		trainer:   trainer,
		store:     store,
		opts:      opts,
		latencies: utils.NewLatencyTracker(256),
	}
}

// Scan runs a repository scan.
func (s *RiskService) Scan(ctx context.Context, req models.ScanRequest) (*models.ScanResult, error) {
	const op = "Scan"
	if req.Owner == "" || req.Name == "" {
		return nil, utils.NewAppError(op, utils.KindInvalidInput, "owner and name are required", nil)
	}
	if s.scanner == nil {
		return nil, utils.NewAppError(op, utils.KindPrecondition, "scanner not configured", nil)
	}
	if req.MaxCommits == 0 {
		req.MaxCommits = s.opts.DefaultMaxCommits
	}
	release, err := s.lockRepository(ctx, req)
	if err != nil {
		return nil, err
	}
	defer release()
	if s.opts.ScanTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ScanTimeout)
		defer cancel()
	}

	start := time.Now()
	result, err := s.scanner.Scan(ctx, req)
	if err != nil {
		kind := utils.KindInternal
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			kind = utils.KindUnavailable
		}
		return result, utils.NewAppError(op, kind, fmt.Sprintf("scan of %s failed", req.FullName()), err)
	}
	s.latencies.Observe(time.Since(start))
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("scan latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}
	return result, nil
}

func scanLockKey(req models.ScanRequest) string {
	return "leakscope:scan-lock:" + strings.ToLower(req.FullName())
}

// lockRepository takes the per-repository scan lock. The returned release is always safe
// to call.
func (s *RiskService) lockRepository(ctx context.Context, req models.ScanRequest) (func(), error) {
	if s.opts.Locks == nil {
		return func() {}, nil
	}
	ttl := s.opts.LockTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	key := scanLockKey(req)
	acquired, err := s.opts.Locks.SetNX(ctx, key, []byte(time.Now().UTC().Format(time.RFC3339)), ttl)
	if err != nil {
		return nil, utils.NewAppError("Scan", utils.KindUnavailable, "scan lock unavailable", err)
	}
	if !acquired {
		return nil, utils.NewAppError("Scan", utils.KindPrecondition, fmt.Sprintf("a scan of %s is already running", req.FullName()), nil)
	}
	return func() {
		if err := s.opts.Locks.Del(context.Background(), key); err != nil {
			s.logger.Warn("release scan lock", slog.String("repository", req.FullName()), slog.Any("error", err))
		}
	}, nil
}

// Assess scores a single commit without persisting anything.
func (s *RiskService) Assess(change models.CommitChange) (engine.CommitResult, error) {
	const op = "Assess"
	if s.pipeline == nil {
		return engine.CommitResult{}, utils.NewAppError(op, utils.KindPrecondition, "pipeline not configured", nil)
	}
	result, err := s.pipeline.Process(change)
	if err != nil {
		var malformed *models.MalformedCommitError
		if errors.As(err, &malformed) {
			return result, utils.NewAppError(op, utils.KindInvalidInput, "malformed commit", err)
		}
		return result, utils.NewAppError(op, utils.KindInternal, "assessment failed", err)
	}
	return result, nil
}

// Train fits and publishes a new model.
func (s *RiskService) Train(ctx context.Context) (engine.TrainReport, error) {
	const op = "Train"
	if s.trainer == nil {
		return engine.TrainReport{}, utils.NewAppError(op, utils.KindPrecondition, "trainer not configured", nil)
	}
	report, err := s.trainer.Train(ctx)
	if err != nil {
		var insufficient *tree.InsufficientDataError
		if errors.As(err, &insufficient) {
			return report, utils.NewAppError(op, utils.KindPrecondition, "not enough labelled data", err)
		}
		return report, utils.NewAppError(op, utils.KindInternal, "training failed", err)
	}
	return report, nil
}

// Model returns the active model.
func (s *RiskService) Model() (*tree.TrainedModel, error) {
	if s.pipeline == nil || s.pipeline.Model().Load() == nil {
		return nil, utils.NewAppError("Model", utils.KindNotFound, "no model trained", nil)
	}
	return s.pipeline.Model().Load(), nil
}

// Feedback records an analyst verdict used by later training runs.
func (s *RiskService) Feedback(ctx context.Context, fb models.Feedback) error {
	const op = "Feedback"
	if fb.CommitSHA == "" {
		return utils.NewAppError(op, utils.KindInvalidInput, "commit sha is required", nil)
	}
	if s.store == nil {
		return utils.NewAppError(op, utils.KindPrecondition, "feedback store not configured", nil)
	}
	if err := s.store.SaveFeedback(ctx, fb); err != nil {
		return utils.NewAppError(op, utils.KindInternal, "failed to persist feedback", err)
	}
	return nil
}

// Summary returns the latest stored scan summary of a repository.
func (s *RiskService) Summary(ctx context.Context, owner, name string) (models.RepositorySummary, error) {
	const op = "Summary"
	if s.store == nil {
		return models.RepositorySummary{}, utils.NewAppError(op, utils.KindPrecondition, "store not configured", nil)
	}
	summary, err := s.store.LatestScan(ctx, owner, name)
	if errors.Is(err, repo.ErrNotFound) {
		return summary, utils.NewAppError(op, utils.KindNotFound, fmt.Sprintf("no scan of %s/%s", owner, name), err)
	}
	if err != nil {
		return summary, utils.NewAppError(op, utils.KindInternal, "failed to load summary", err)
	}
	return summary, nil
}

// Health reports serving state, the active model and scan latency.
func (s *RiskService) Health() api.HealthReply {
	snap := s.latencies.Snapshot()
	reply := api.HealthReply{
		Status:      "SERVING",
		ScansServed: snap.Count,
		ScanP95:     snap.P95.String(),
	}
	if m, err := s.Model(); err == nil {
		reply.ModelID = m.ID
		reply.ModelSchema = m.Schema
	}
	return reply
}

// ScanRepository implements api.RiskScannerServer.
func (s *RiskService) ScanRepository(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := api.FromScanRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	s.logger.Debug("ScanRepository called", slog.String("repository", req.FullName()))

	result, err := s.Scan(ctx, req)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return s.encode(api.ScanReply{
		Summary:     result.Summary,
		Assessments: result.Assessments,
		Credentials: result.Credentials,
		Skipped:     result.Skipped,
		Failed:      result.Failed,
	})
}

// AssessCommit implements api.RiskScannerServer.
func (s *RiskService) AssessCommit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	change, err := api.FromCommitChange(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	result, err := s.Assess(change)
	if err != nil {
		return nil, s.toStatus(err)
	}
	reply := api.AssessReply{
		Assessment:  result.Assessment,
		Credentials: result.Credentials,
		Features:    result.Features,
	}
	if result.PredictionErr != nil {
		reply.PredictionError = result.PredictionErr.Error()
	}
	return s.encode(reply)
}

// TrainModel implements api.RiskScannerServer.
func (s *RiskService) TrainModel(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	report, err := s.Train(ctx)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return s.encode(api.TrainReply{
		Model:        api.ModelInfoFrom(report.Model, false),
		TrainSamples: report.TrainSamples,
		TestSamples:  report.TestSamples,
		Unlabelled:   report.Unlabelled,
	})
}

// GetModel implements api.RiskScannerServer.
func (s *RiskService) GetModel(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.ModelRequest
	if err := api.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	model, err := s.Model()
	if err != nil {
		return nil, s.toStatus(err)
	}
	return s.encode(api.ModelInfoFrom(model, req.Rules))
}

// GetSummary implements api.RiskScannerServer.
func (s *RiskService) GetSummary(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := api.FromSummaryRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	summary, err := s.Summary(ctx, req.Owner, req.Name)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return s.encode(summary)
}

// SubmitFeedback implements api.RiskScannerServer.
func (s *RiskService) SubmitFeedback(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fb, err := api.FromFeedbackRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.Feedback(ctx, fb); err != nil {
		return nil, s.toStatus(err)
	}
	return s.encode(api.FeedbackAck{CommitSHA: fb.CommitSHA, Accepted: true})
}

// HealthCheck implements api.RiskScannerServer.
func (s *RiskService) HealthCheck(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return s.encode(s.Health())
}

// LatencyP95 returns the current p95 scan latency.
func (s *RiskService) LatencyP95() time.Duration {
	return s.latencies.Percentile(95)
}

func (s *RiskService) encode(v any) (*structpb.Struct, error) {
	out, err := api.Encode(v)
	if err != nil {
		s.logger.Error("encode reply failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to encode reply")
	}
	return out, nil
}

func (s *RiskService) toStatus(err error) error {
	var appErr *utils.AppError
	msg := err.Error()
	if errors.As(err, &appErr) {
		msg = appErr.Msg
	}
	switch utils.KindOf(err) {
	case utils.KindInvalidInput:
		return status.Error(codes.InvalidArgument, err.Error())
	case utils.KindNotFound:
		return status.Error(codes.NotFound, msg)
	case utils.KindPrecondition:
		return status.Error(codes.FailedPrecondition, err.Error())
	case utils.KindUnavailable:
		return status.Error(codes.Unavailable, msg)
	default:
		s.logger.Error("request failed", slog.Any("error", err))
		return status.Error(codes.Internal, msg)
	}
}
