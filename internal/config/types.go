package config

// RepositoriesConfig is the top-level configuration structure parsed from
// repositories YAML: the set of upstream repositories this service is
// allowed to land into, plus the landing worker's tuning defaults.
type RepositoriesConfig struct {
	Worker       WorkerConfig       `yaml:"worker"`
	Repositories []RepositoryConfig `yaml:"repositories"`
}

// WorkerConfig holds the landing worker's tuning knobs.
type WorkerConfig struct {
	ThrottleSeconds int `yaml:"throttle_seconds"`
	GraceSeconds    int `yaml:"grace_seconds"`
}

// RepositoryConfig describes one upstream repository this service can
// land revisions into, mirroring the original's Repo model fields:
// access_group gates who may submit landings, autoformat_enabled/
// approval_required/force_push/phab_identifier/product_details_url/
// milestone_tracking_flag_template drive the worker's per-repository
// behavior.
type RepositoryConfig struct {
	ShortName                    string `yaml:"short_name"`
	URL                          string `yaml:"url"`
	PullPath                     string `yaml:"pull_path"`
	PushPath                     string `yaml:"push_path"`
	PushBookmark                 string `yaml:"push_bookmark"`
	AccessGroup                  string `yaml:"access_group"`
	AutoformatEnabled            bool   `yaml:"autoformat_enabled"`
	ApprovalRequired             bool   `yaml:"approval_required"`
	ForcePush                    bool   `yaml:"force_push"`
	PhabIdentifier               string `yaml:"phab_identifier"`
	ProductDetailsURL            string `yaml:"product_details_url"`
	MilestoneTrackingFlagTemplate string `yaml:"milestone_tracking_flag_template"`
}
