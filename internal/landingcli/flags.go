package landingcli

import (
	"os"

	"github.com/spf13/cobra"
)

// envOrDefault reads name from the environment, falling back to def. Used
// to seed flag defaults so every flag also has a LANDINGD_* environment
// variable equivalent, the usual way a daemon like this is configured in
// production without a committed config file for secrets.
func envOrDefault(name, def string) string {
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	return def
}

// addRuntimeFlags registers the collaborator flags shared by serve and
// worker: database, cache, repositories config, working-copy base
// directory, and the three external services the worker calls out to.
func addRuntimeFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("database-url", envOrDefault("LANDINGD_DATABASE_URL", "postgres://localhost:5432/landingd?sslmode=disable"), "Postgres DSN")
	f.String("redis-url", envOrDefault("LANDINGD_REDIS_URL", ""), "Redis URL for the repository config cache (empty disables caching)")
	f.String("repositories-config", envOrDefault("LANDINGD_REPOSITORIES_CONFIG", ""), "Path to repositories.yaml (defaults to the usual search path)")
	f.String("hg-base-dir", envOrDefault("LANDINGD_HG_BASE_DIR", "/var/lib/landingd/repos"), "Base directory for managed Mercurial working copies")
	f.String("review-api-url", envOrDefault("LANDINGD_REVIEW_API_URL", ""), "Review service (Phabricator Conduit) base URL")
	f.String("review-api-key", envOrDefault("LANDINGD_REVIEW_API_KEY", ""), "Review service API token")
	f.String("treestatus-url", envOrDefault("LANDINGD_TREESTATUS_URL", ""), "Tree Status service base URL (defaults to the production instance)")
	f.String("bugzilla-url", envOrDefault("LANDINGD_BUGZILLA_URL", ""), "Bugzilla base URL (defaults to the production instance)")
	f.String("bugzilla-api-key", envOrDefault("LANDINGD_BUGZILLA_API_KEY", ""), "Bugzilla API key")
}
