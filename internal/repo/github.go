package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/miradorstack/leakscope/internal/cache"
	"github.com/miradorstack/leakscope/internal/engine"
	"github.com/miradorstack/leakscope/internal/extractors"
	"github.com/miradorstack/leakscope/internal/models"
)

const (
	defaultGitHubURL = "https://github.com"
	maxPerPage       = 100
)

// GitHubConfig configures the hosting client.
type GitHubConfig struct {
	Token         string
	BaseURL       string
	Timeout       time.Duration
	RateLimitWait time.Duration
	CacheTTL      time.Duration
}

// GitHubSource streams commit history from the GitHub REST API.
type GitHubSource struct {
	client   *github.Client
	cache    cache.Provider
	logger   *slog.Logger
	maxWait  time.Duration
	cacheTTL time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

var _ engine.CommitSource = (*GitHubSource)(nil)

// NewGitHubSource builds a source. httpClient may be nil; a token then yields an oauth2
// client and no token an anonymous one.
func NewGitHubSource(cfg GitHubConfig, httpClient *http.Client, cacheProvider cache.Provider, logger *slog.Logger) (*GitHubSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if httpClient == nil {
		if cfg.Token != "" {
			ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
			httpClient = oauth2.NewClient(context.Background(), ts)
		} else {
			httpClient = &http.Client{}
		}
		httpClient.Timeout = cfg.Timeout
	}

	client := github.NewClient(httpClient)
	if cfg.BaseURL != "" && strings.TrimRight(cfg.BaseURL, "/") != defaultGitHubURL {
		var err error
		client, err = client.WithEnterpriseURLs(cfg.BaseURL, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("github base url: %w", err)
		}
	}

	return &GitHubSource{
		client:   client,
		cache:    cacheProvider,
		logger:   logger,
		maxWait:  cfg.RateLimitWait,
		cacheTTL: cfg.CacheTTL,
		sleep:    sleepContext,
	}, nil
}

// Commits opens a lazy iterator over the branch history, newest first, bounded by
// req.MaxCommits when positive.
func (s *GitHubSource) Commits(ctx context.Context, req models.ScanRequest) (engine.CommitIterator, error) {
	if req.Owner == "" || req.Name == "" {
		return nil, fmt.Errorf("owner and name are required")
	}
	// Resolve the repository up front so a typo fails the scan instead of yielding nothing.
	var repo *github.Repository
	err := s.withRateLimit(ctx, func() error {
		var err error
		repo, _, err = s.client.Repositories.Get(ctx, req.Owner, req.Name)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get repository %s: %w", req.FullName(), err)
	}
	if req.Branch == "" {
		req.Branch = repo.GetDefaultBranch()
	}
	return &commitIterator{src: s, req: req, page: 1}, nil
}

var _ engine.BranchReporter = (*commitIterator)(nil)

type commitIterator struct {
	src       *GitHubSource
	req       models.ScanRequest
	page      int
	buffer    []*github.RepositoryCommit
	delivered int
	exhausted bool
}

// Branch returns the branch being walked, resolved to the default branch when the
// request named none.
func (it *commitIterator) Branch() string {
	return it.req.Branch
}

func (it *commitIterator) Next(ctx context.Context) (models.CommitChange, error) {
	if it.req.MaxCommits > 0 && it.delivered >= it.req.MaxCommits {
		return models.CommitChange{}, io.EOF
	}
	if len(it.buffer) == 0 {
		if it.exhausted {
			return models.CommitChange{}, io.EOF
		}
		if err := it.fetchPage(ctx); err != nil {
			return models.CommitChange{}, err
		}
		if len(it.buffer) == 0 {
			return models.CommitChange{}, io.EOF
		}
	}

	head := it.buffer[0]
	it.buffer = it.buffer[1:]
	it.delivered++

	sha := head.GetSHA()
	if sha == "" {
		return models.CommitChange{}, &models.MalformedCommitError{Fields: []string{"sha"}}
	}
	return it.src.commitChange(ctx, it.req, sha)
}

func (it *commitIterator) fetchPage(ctx context.Context) error {
	perPage := maxPerPage
	if it.req.MaxCommits > 0 {
		perPage = min(maxPerPage, it.req.MaxCommits)
	}
	opts := &github.CommitsListOptions{
		SHA:         it.req.Branch,
		ListOptions: github.ListOptions{Page: it.page, PerPage: perPage},
	}
	var (
		page []*github.RepositoryCommit
		resp *github.Response
	)
	err := it.src.withRateLimit(ctx, func() error {
		var err error
		page, resp, err = it.src.client.Repositories.ListCommits(ctx, it.req.Owner, it.req.Name, opts)
		return err
	})
	if err != nil {
		return fmt.Errorf("list commits page %d: %w", it.page, err)
	}
	it.buffer = page
	if resp == nil || resp.NextPage == 0 {
		it.exhausted = true
	} else {
		it.page = resp.NextPage
	}
	return nil
}

func (s *GitHubSource) commitChange(ctx context.Context, req models.ScanRequest, sha string) (models.CommitChange, error) {
	key := commitCacheKey(req, sha)
	if data, err := s.cache.Get(ctx, key); err == nil {
		var change models.CommitChange
		if err := json.Unmarshal(data, &change); err == nil {
			return change, nil
		}
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Debug("commit cache read failed", slog.String("key", key), slog.Any("error", err))
	}

	var detail *github.RepositoryCommit
	err := s.withRateLimit(ctx, func() error {
		var err error
		detail, _, err = s.client.Repositories.GetCommit(ctx, req.Owner, req.Name, sha, nil)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return models.CommitChange{}, ctx.Err()
		}
		return models.CommitChange{}, &engine.CommitFetchError{SHA: sha, Err: err}
	}

	change, err := s.toCommitChange(detail)
	if err != nil {
		return models.CommitChange{}, err
	}

	if s.cacheTTL > 0 {
		if payload, err := json.Marshal(change); err == nil {
			_ = s.cache.Set(ctx, key, payload, s.cacheTTL)
		}
	}
	return change, nil
}

func (s *GitHubSource) toCommitChange(detail *github.RepositoryCommit) (models.CommitChange, error) {
	author := detail.GetCommit().GetAuthor()
	record := models.CommitRecord{
		SHA:          detail.GetSHA(),
		Message:      detail.GetCommit().GetMessage(),
		AuthorName:   author.GetName(),
		AuthorEmail:  author.GetEmail(),
		Timestamp:    author.GetDate().Time.UTC(),
		FilesChanged: len(detail.Files),
		Additions:    detail.GetStats().GetAdditions(),
		Deletions:    detail.GetStats().GetDeletions(),
		URL:          detail.GetHTMLURL(),
	}
	if err := record.Validate(); err != nil {
		return models.CommitChange{}, err
	}

	change := models.CommitChange{Commit: record}
	for _, f := range detail.Files {
		record.ChangedPaths = append(record.ChangedPaths, f.GetFilename())
		file, err := extractors.ParseFile(f.GetFilename(), f.GetStatus(), f.GetAdditions(), f.GetDeletions(), f.GetPatch())
		if err != nil {
			s.logger.Warn("unparseable patch; file scanned without added lines",
				slog.String("commit", record.SHA),
				slog.Any("error", err),
			)
		}
		change.Files = append(change.Files, file)
	}
	change.Commit = record
	return change, nil
}

// withRateLimit retries fn while GitHub reports a rate limit, waiting until the reset time
// but never longer than maxWait in total.
func (s *GitHubSource) withRateLimit(ctx context.Context, fn func() error) error {
	budget := s.maxWait
	for {
		err := fn()
		if err == nil {
			return nil
		}
		wait, limited := rateLimitDelay(err)
		if !limited || wait > budget {
			return err
		}
		s.logger.Warn("github rate limit reached; waiting", slog.Duration("wait", wait))
		if err := s.sleep(ctx, wait); err != nil {
			return err
		}
		budget -= wait
	}
}

func rateLimitDelay(err error) (time.Duration, bool) {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		wait := time.Until(rateErr.Rate.Reset.Time) + time.Second
		if wait < time.Second {
			wait = time.Second
		}
		return wait, true
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		if d := abuseErr.GetRetryAfter(); d > 0 {
			return d, true
		}
		return time.Minute, true
	}
	return 0, false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func commitCacheKey(req models.ScanRequest, sha string) string {
	return "leakscope:commit:" + strings.ToLower(req.FullName()) + ":" + sha
}
