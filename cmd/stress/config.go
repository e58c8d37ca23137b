package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"stressjudge/internal/common/mq"
	"stressjudge/internal/stress/repository"
	"stressjudge/internal/stress/sandbox/engine"
	"stressjudge/internal/stress/sandbox/spec"
	appErr "stressjudge/pkg/errors"
	"stressjudge/pkg/utils/logger"

	"github.com/google/shlex"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "127.0.0.1:8090"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultStoreDSN        = "data/test_results.db"
	defaultWorkspaceRoot   = "test_workspace"
	defaultEventTopic      = "stress.run.events"
	defaultTimeLimit       = 2 * time.Second
	defaultProjectName     = "stressjudge"

	modeKindCustom = "custom"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
	// AllowedOrigins extends the browser origins derived from Addr.
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// KafkaConfig holds Kafka settings; leaving brokers empty disables event publishing.
type KafkaConfig struct {
	mq.KafkaConfig `yaml:",inline"`

	Topic string `yaml:"topic"`
}

// WorkspaceConfig holds per-test artifact settings.
type WorkspaceConfig struct {
	// Root receives the inputs and outputs directories of every mode.
	Root string `yaml:"root"`
	// TempRoot holds the private per-test directories.
	TempRoot string `yaml:"tempRoot"`
}

// StageConfig describes one stage of a custom mode.
type StageConfig struct {
	Role     string        `yaml:"role"`
	Command  string        `yaml:"command"`
	Timeout  time.Duration `yaml:"timeout"`
	Stdin    string        `yaml:"stdin"`
	ArgFiles []string      `yaml:"argFiles"`
}

// ModeConfig describes one test mode. Kind picks a built-in layout
// (validator, comparator, benchmark) or custom stages.
type ModeConfig struct {
	Kind      string `yaml:"kind"`
	Generator string `yaml:"generator"`
	Candidate string `yaml:"candidate"`
	Judge     string `yaml:"judge"`
	Reference string `yaml:"reference"`

	// Timeouts overrides the default timeout per role.
	Timeouts      map[string]time.Duration `yaml:"timeouts"`
	TimeLimit     time.Duration            `yaml:"timeLimit"`
	MemoryLimitMB int64                    `yaml:"memoryLimitMB"`
	Compare       string                   `yaml:"compare"`
	MaxWorkers    int                      `yaml:"maxWorkers"`
	StopOnFailure bool                     `yaml:"stopOnFailure"`

	Stages        []StageConfig `yaml:"stages"`
	Policy        string        `yaml:"policy"`
	CandidateRole string        `yaml:"candidateRole"`
	ReferenceRole string        `yaml:"referenceRole"`

	// Sources are stored with every run record of this mode.
	Sources []string `yaml:"sources"`
}

// AppConfig holds stressjudge config.
type AppConfig struct {
	Server      ServerConfig           `yaml:"server"`
	Logger      logger.Config          `yaml:"logger"`
	Store       repository.StoreConfig `yaml:"store"`
	Kafka       KafkaConfig            `yaml:"kafka"`
	Engine      engine.Config          `yaml:"engine"`
	Workspace   WorkspaceConfig        `yaml:"workspace"`
	ProjectName string                 `yaml:"projectName"`
	Modes       map[string]ModeConfig  `yaml:"modes"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Modes) == 0 {
		return nil, fmt.Errorf("at least one mode is required")
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Format == "" {
		cfg.Logger.Format = "console"
	}
	if cfg.Logger.OutputPath == "" {
		cfg.Logger.OutputPath = "stderr"
	}
	if cfg.Store.Kind == "" {
		cfg.Store.Kind = "sqlite"
	}
	if cfg.Store.Kind == "sqlite" && cfg.Store.Database.DSN == "" {
		cfg.Store.Database.DSN = defaultStoreDSN
	}
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = defaultEventTopic
	}
	if cfg.Workspace.Root == "" {
		cfg.Workspace.Root = defaultWorkspaceRoot
	}
	if cfg.ProjectName == "" {
		cfg.ProjectName = defaultProjectName
	}
}

// buildModes turns the configured modes into pipeline specs.
func buildModes(modes map[string]ModeConfig) (map[string]spec.PipelineSpec, error) {
	out := make(map[string]spec.PipelineSpec, len(modes))
	names := make([]string, 0, len(modes))
	for name := range modes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ps, err := buildMode(name, modes[name])
		if err != nil {
			return nil, err
		}
		out[name] = ps
	}
	return out, nil
}

func buildMode(name string, mc ModeConfig) (spec.PipelineSpec, error) {
	kind := mc.Kind
	if kind == "" {
		kind = name
	}

	var ps spec.PipelineSpec
	switch kind {
	case spec.ModeValidator:
		cmds, err := parseCommands(name, map[string]string{
			"generator": mc.Generator,
			"candidate": mc.Candidate,
			"judge":     mc.Judge,
		})
		if err != nil {
			return ps, err
		}
		ps = spec.ValidatorSpec(cmds["generator"], cmds["candidate"], cmds["judge"])
	case spec.ModeComparator:
		cmds, err := parseCommands(name, map[string]string{
			"generator": mc.Generator,
			"candidate": mc.Candidate,
			"reference": mc.Reference,
		})
		if err != nil {
			return ps, err
		}
		ps = spec.ComparatorSpec(cmds["generator"], cmds["candidate"], cmds["reference"])
	case spec.ModeBenchmark:
		cmds, err := parseCommands(name, map[string]string{
			"generator": mc.Generator,
			"candidate": mc.Candidate,
		})
		if err != nil {
			return ps, err
		}
		limit := mc.TimeLimit
		if limit <= 0 {
			limit = defaultTimeLimit
		}
		ps = spec.BenchmarkSpec(cmds["generator"], cmds["candidate"], limit, mc.MemoryLimitMB<<20)
	case modeKindCustom:
		custom, err := buildCustomMode(name, mc)
		if err != nil {
			return ps, err
		}
		ps = custom
	default:
		return ps, appErr.Newf(appErr.PipelineInvalid, "mode %s: unknown kind %q", name, kind)
	}

	ps.Mode = name
	for i := range ps.Stages {
		if d, ok := mc.Timeouts[string(ps.Stages[i].Role)]; ok && d > 0 {
			ps.Stages[i].Timeout = d
		}
	}
	if mc.Compare != "" {
		ps.Compare = spec.CompareMode(mc.Compare)
	}
	if mc.MaxWorkers > 0 {
		ps.MaxWorkersCap = mc.MaxWorkers
	}
	ps.StopOnFailure = mc.StopOnFailure

	ps = ps.Normalize()
	if err := ps.Validate(); err != nil {
		return ps, err
	}
	return ps, nil
}

func buildCustomMode(name string, mc ModeConfig) (spec.PipelineSpec, error) {
	ps := spec.PipelineSpec{
		Policy:           spec.PolicyKind(mc.Policy),
		CandidateRole:    spec.Role(mc.CandidateRole),
		ReferenceRole:    spec.Role(mc.ReferenceRole),
		MemoryLimitBytes: mc.MemoryLimitMB << 20,
	}
	for _, sc := range mc.Stages {
		argv, err := parseCommand(name, sc.Role, sc.Command)
		if err != nil {
			return ps, err
		}
		stage := spec.StageSpec{
			Role:    spec.Role(sc.Role),
			Command: argv,
			Timeout: sc.Timeout,
			Stdin:   spec.Role(sc.Stdin),
		}
		for _, r := range sc.ArgFiles {
			stage.ArgFiles = append(stage.ArgFiles, spec.Role(r))
		}
		ps.Stages = append(ps.Stages, stage)
	}
	return ps, nil
}

func parseCommands(mode string, raw map[string]string) (map[string][]string, error) {
	roles := make([]string, 0, len(raw))
	for role := range raw {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	out := make(map[string][]string, len(raw))
	for _, role := range roles {
		argv, err := parseCommand(mode, role, raw[role])
		if err != nil {
			return nil, err
		}
		out[role] = argv
	}
	return out, nil
}

// parseCommand splits a shell-like command line into argv.
func parseCommand(mode, role, line string) ([]string, error) {
	argv, err := shlex.Split(line)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CommandParseFailed, "mode %s: %s command", mode, role)
	}
	if len(argv) == 0 {
		return nil, appErr.Newf(appErr.CommandParseFailed, "mode %s: %s command is empty", mode, role)
	}
	return argv, nil
}
