// Package forgesource is a worked ingress example adapter: it polls a
// GitHub repository's issues on an interval and publishes each new or
// updated issue as a WORLD_DATA observation. It exercises
// google/go-github/v69 the way the teacher's internal/forge package
// does (a *github.Client built over an httpkit-constructed
// *http.Client), narrowed from the teacher's full issue-CRUD surface
// down to the read-only polling this adapter needs.
package forgesource

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/go-github/v69/github"

	"github.com/nugget/gatecore/internal/httpkit"
	"github.com/nugget/gatecore/internal/observation"
)

// DefaultPollInterval is used when Config.PollInterval is unset.
const DefaultPollInterval = 5 * time.Minute

// Config configures the forge source poller.
type Config struct {
	Owner        string
	Repos        []string
	Token        string
	PollInterval time.Duration
}

// Publisher delivers observations to a bus.PublishNowait-style sink.
// The source depends only on this narrow interface so it never needs
// to import the bus package directly.
type Publisher interface {
	PublishNowait(obs observation.Observation) error
}

// Source polls one or more repositories' issues and publishes each one
// not already seen as a WORLD_DATA observation.
type Source struct {
	cfg    Config
	client *github.Client
	logger *slog.Logger

	seen map[string]time.Time // "owner/repo#number" -> last seen UpdatedAt
}

// New constructs a Source. httpClient is typically built via
// httpkit.NewClient; passing nil uses httpkit's defaults.
func New(cfg Config, httpClient *http.Client, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if httpClient == nil {
		httpClient = httpkit.NewClient(httpkit.WithTimeout(20 * time.Second))
	}
	client := github.NewClient(httpClient)
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}
	return &Source{
		cfg:    cfg,
		client: client,
		logger: logger,
		seen:   make(map[string]time.Time),
	}
}

// Run polls every repository in cfg.Repos on cfg.PollInterval until ctx
// is cancelled, publishing a WORLD_DATA observation for every issue
// that is new or whose UpdatedAt advanced since last seen.
func (s *Source) Run(ctx context.Context, pub Publisher) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.pollAll(ctx, pub)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollAll(ctx, pub)
		}
	}
}

func (s *Source) pollAll(ctx context.Context, pub Publisher) {
	for _, repo := range s.cfg.Repos {
		if err := s.pollRepo(ctx, repo, pub); err != nil {
			s.logger.Warn("forgesource: poll failed", "owner", s.cfg.Owner, "repo", repo, "error", err)
		}
	}
}

func (s *Source) pollRepo(ctx context.Context, repo string, pub Publisher) error {
	opts := &github.IssueListByRepoOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: 30},
	}
	issues, resp, err := s.client.Issues.ListByRepo(ctx, s.cfg.Owner, repo, opts)
	if err != nil {
		return fmt.Errorf("list issues: %w", err)
	}
	if resp != nil && resp.Rate.Remaining > 0 && resp.Rate.Remaining < 100 {
		s.logger.Warn("forgesource: github rate limit low", "remaining", resp.Rate.Remaining)
	}

	for _, issue := range issues {
		if issue == nil || issue.IsPullRequest() {
			continue
		}
		key := fmt.Sprintf("%s/%s#%d", s.cfg.Owner, repo, issue.GetNumber())
		updated := issue.GetUpdatedAt().Time
		if last, ok := s.seen[key]; ok && !updated.After(last) {
			continue
		}
		s.seen[key] = updated

		obs := s.issueObservation(repo, issue)
		if err := pub.PublishNowait(obs); err != nil {
			s.logger.Warn("forgesource: publish failed", "key", key, "error", err)
		}
	}
	return nil
}

func (s *Source) issueObservation(repo string, issue *github.Issue) observation.Observation {
	fields := map[string]any{
		"owner":      s.cfg.Owner,
		"repo":       repo,
		"number":     issue.GetNumber(),
		"title":      issue.GetTitle(),
		"state":      issue.GetState(),
		"url":        issue.GetHTMLURL(),
		"updated_at": issue.GetUpdatedAt().Format(time.RFC3339),
	}
	obs := observation.New(
		observation.TypeWorldData,
		observation.SystemSessionKey,
		observation.Actor{ActorID: issue.GetUser().GetLogin(), ActorType: observation.ActorService},
		"forgesource:github",
		observation.SourceExternal,
		observation.Payload{World: &observation.OpaquePayload{Fields: fields}},
	)
	obs.Evidence.RawEventURI = issue.GetHTMLURL()
	obs.SetMetadata("issue_number", strconv.Itoa(issue.GetNumber()))
	return obs
}
