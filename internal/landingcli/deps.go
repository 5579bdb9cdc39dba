package landingcli

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mozilla-lando/landingd/internal/api"
	"github.com/mozilla-lando/landingd/internal/bugzilla"
	"github.com/mozilla-lando/landingd/internal/config"
	"github.com/mozilla-lando/landingd/internal/configcache"
	"github.com/mozilla-lando/landingd/internal/landing"
	"github.com/mozilla-lando/landingd/internal/landingdb"
	"github.com/mozilla-lando/landingd/internal/review"
	"github.com/mozilla-lando/landingd/internal/treestatus"
	"github.com/mozilla-lando/landingd/internal/uplift"
	"github.com/mozilla-lando/landingd/internal/worker"
	"github.com/mozilla-lando/landingd/internal/worktree"
)

// runtimeFlags is the parsed form of the flags addRuntimeFlags registers.
type runtimeFlags struct {
	databaseURL      string
	redisURL         string
	repositoriesPath string
	hgBaseDir        string
	reviewAPIURL     string
	reviewAPIKey     string
	treestatusURL    string
	bugzillaURL      string
	bugzillaAPIKey   string
}

func readRuntimeFlags(cmd *cobra.Command) (runtimeFlags, error) {
	var rf runtimeFlags
	var err error
	get := func(name string) string {
		if err != nil {
			return ""
		}
		var v string
		v, err = cmd.Flags().GetString(name)
		return v
	}
	rf.databaseURL = get("database-url")
	rf.redisURL = get("redis-url")
	rf.repositoriesPath = get("repositories-config")
	rf.hgBaseDir = get("hg-base-dir")
	rf.reviewAPIURL = get("review-api-url")
	rf.reviewAPIKey = get("review-api-key")
	rf.treestatusURL = get("treestatus-url")
	rf.bugzillaURL = get("bugzilla-url")
	rf.bugzillaAPIKey = get("bugzilla-api-key")
	return rf, err
}

// deps bundles every constructed collaborator the serve and worker
// commands share, so each command only has to pick which pieces it runs.
type deps struct {
	log        *zap.Logger
	db         *landingdb.DB
	store      *landing.Store
	cfg        *config.RepositoriesConfig
	reviewSvc  *review.Client
	treeStatus *treestatus.Client
	worker     *worker.Worker
	repoLookup api.RepositoryLookup
}

func build(ctx context.Context, rf runtimeFlags) (*deps, error) {
	log, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	cfg, err := loadRepositoriesConfig(rf.repositoriesPath)
	if err != nil {
		return nil, err
	}
	if problems := config.Validate(cfg); len(problems) > 0 {
		return nil, fmt.Errorf("invalid repositories config: %v", problems)
	}

	db, err := landingdb.Open(ctx, rf.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	store := landing.NewStore(db.Conn())

	treestatusURL := rf.treestatusURL
	if treestatusURL == "" {
		treestatusURL = treestatus.DefaultURL
	}
	treeStatus := treestatus.NewClient(treestatusURL)

	reviewSvc := review.NewClient(rf.reviewAPIURL, rf.reviewAPIKey)
	patchSource := review.NewPatchSource(reviewSvc)

	bugzillaURL := rf.bugzillaURL
	if bugzillaURL == "" {
		bugzillaURL = bugzilla.DefaultURL
	}
	bugTracker := uplift.NewUpdater(bugzilla.NewClient(bugzillaURL, rf.bugzillaAPIKey), log)

	manager := worktree.NewManager(&worktree.ExecHg{}, rf.hgBaseDir)
	repos := make(map[string]*worktree.Repo, len(cfg.Repositories))
	repoConfig := make(map[string]worker.RepositoryConfig, len(cfg.Repositories))
	for _, r := range cfg.Repositories {
		repos[r.ShortName] = manager.Repo(r.ShortName, r.PullPath, r.PushPath, r.PushBookmark)
		repoConfig[r.ShortName] = worker.RepositoryConfig{
			Name:              r.ShortName,
			AutoformatEnabled: r.AutoformatEnabled,
			ApprovalRequired:  r.ApprovalRequired,
			ForcePush:         r.ForcePush,
			PhabIdentifier:    r.PhabIdentifier,
		}
	}

	w := worker.New(store, repos, repoConfig, treeStatus, patchSource, log,
		worker.WithBugTracker(bugTracker),
		worker.WithRepoUpdateNotifier(reviewSvc),
		worker.WithGraceSeconds(cfg.Worker.GraceSeconds),
		worker.WithThrottle(secondsToDuration(cfg.Worker.ThrottleSeconds)),
	)

	repoLookup := buildRepoLookup(rf, log)

	return &deps{
		log:        log,
		db:         db,
		store:      store,
		cfg:        cfg,
		reviewSvc:  reviewSvc,
		treeStatus: treeStatus,
		worker:     w,
		repoLookup: repoLookup,
	}, nil
}

// buildRepoLookup wires a Redis-backed cached repository lookup when a
// Redis URL is configured, so the Public Request API doesn't re-parse
// repositories.yaml on every submission. With no Redis configured the API
// falls back to allowing any repository name (see Server.lookupRepository).
func buildRepoLookup(rf runtimeFlags, log *zap.Logger) api.RepositoryLookup {
	if rf.redisURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(rf.redisURL)
	if err != nil {
		log.Warn("invalid redis URL, repository lookup caching disabled", zap.Error(err))
		return nil
	}
	client := redis.NewClient(opts)
	cache := configcache.New(client, configcache.DefaultTTL)
	return config.NewCachedRepositoryLookup(cache, rf.repositoriesPath, log)
}

func loadRepositoriesConfig(path string) (*config.RepositoriesConfig, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.LoadDefault()
}

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}
