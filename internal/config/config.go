// Package config holds runtime configuration: defaults, file and environment
// overlay, CLI flag parsing, and validation. Defaults follow the original
// cleaner script where one existed.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/go-homedir"
)

// ColorMode controls ANSI color output.
type ColorMode string

const (
	ColorAuto   ColorMode = "auto"   // Enable colors when stdout is a TTY (default).
	ColorAlways ColorMode = "always" // Force colors on.
	ColorNever  ColorMode = "never"  // Disable colors entirely.
)

// Default locations, relative to the user's home directory.
const (
	defaultBackupDir  = "~/.metascrub/backups"
	defaultLogDir     = "~/.metascrub/logs"
	DefaultConfigFile = "~/.metascrub/config.yaml"
)

// Config holds all runtime settings. It is populated by [DefaultConfig],
// overlaid by [Load] (YAML file and METASCRUB_* environment), then mutated by
// [ParseFlags]. Once [Config.Validate] succeeds it is treated as immutable for
// the run and passed by pointer.
type Config struct {
	// Paths.
	Root      string `yaml:"root" env:"METASCRUB_ROOT"`
	BackupDir string `yaml:"backup_dir" env:"METASCRUB_BACKUP_DIR" validate:"required_if=Backup true"`

	// Behavior flags.
	DryRun         bool `yaml:"dry_run" env:"METASCRUB_DRY_RUN"`
	Backup         bool `yaml:"backup" env:"METASCRUB_BACKUP"`
	ReencodeVideos bool `yaml:"reencode_videos" env:"METASCRUB_REENCODE_VIDEOS"`
	NormalizeTime  bool `yaml:"normalize_time" env:"METASCRUB_NORMALIZE_TIME"`

	// Concurrency and limits.
	Workers          int           `yaml:"workers" env:"METASCRUB_WORKERS" validate:"gte=1,lte=256"`
	MaxProcs         int           `yaml:"max_procs" env:"METASCRUB_MAX_PROCS" validate:"gte=1,lte=256"`
	ToolTimeout      time.Duration `yaml:"tool_timeout" env:"METASCRUB_TOOL_TIMEOUT"`           // Default: 5m.
	TranscodeTimeout time.Duration `yaml:"transcode_timeout" env:"METASCRUB_TRANSCODE_TIMEOUT"` // Default: 30m.

	// Directory names pruned during the walk.
	SkipDirs []string `yaml:"skip_dirs" env:"METASCRUB_SKIP_DIRS" env-separator:","`

	// Display and logging.
	Verbose     bool      `yaml:"verbose" env:"METASCRUB_VERBOSE"`
	ColorMode   ColorMode `yaml:"color" env:"METASCRUB_COLOR" validate:"oneof=auto always never"`
	LogFile     string    `yaml:"log_file" env:"METASCRUB_LOG_FILE"`
	MetricsFile string    `yaml:"metrics_file" env:"METASCRUB_METRICS_FILE"`

	// Alternate modes (CLI only).
	CheckOnly   bool   `yaml:"-"`
	RestoreFrom string `yaml:"-"`
	ConfigFile  string `yaml:"-"`
}

// DefaultConfig returns a Config with built-in defaults. The log file name
// embeds the start time so repeated runs never share a file.
func DefaultConfig() Config {
	return Config{
		Root:             ".",
		BackupDir:        defaultBackupDir,
		Workers:          runtime.GOMAXPROCS(0),
		MaxProcs:         runtime.GOMAXPROCS(0),
		ToolTimeout:      5 * time.Minute,
		TranscodeTimeout: 30 * time.Minute,
		SkipDirs:         []string{".git", "__pycache__", "node_modules", ".venv", "venv"},
		ColorMode:        ColorAuto,
		LogFile:          filepath.Join(defaultLogDir, "clean_"+time.Now().Format("20060102_150405")+".log"),
	}
}

// NormalizeDirArg strips trailing slashes from a directory path.
// The filesystem root "/" is returned unchanged so we don't produce an empty string.
func NormalizeDirArg(path string) string {
	if path == "/" {
		return "/"
	}
	return strings.TrimRight(path, "/")
}

var validate = validator.New()

// Validate checks enum and range fields, cross-field constraints, and
// expands "~" in every path field. Called once after flags are applied.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return describeFieldError(verrs[0])
		}
		return err
	}
	if c.ToolTimeout <= 0 {
		return errors.New("tool timeout must be positive")
	}
	if c.TranscodeTimeout <= 0 {
		return errors.New("transcode timeout must be positive")
	}
	if c.DryRun && c.RestoreFrom != "" {
		return errors.New("--restore cannot be combined with --dry-run")
	}

	for _, p := range []*string{&c.Root, &c.BackupDir, &c.LogFile, &c.MetricsFile, &c.RestoreFrom} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expand %q: %w", *p, err)
		}
		*p = expanded
	}

	if c.CheckOnly || c.RestoreFrom != "" {
		return nil
	}
	if c.Root == "" {
		return errors.New("need a path to clean")
	}
	return nil
}

// describeFieldError turns a validator failure into a flag-oriented message.
func describeFieldError(fe validator.FieldError) error {
	switch fe.Field() {
	case "Workers":
		return fmt.Errorf("invalid workers %v (use 1-256)", fe.Value())
	case "MaxProcs":
		return fmt.Errorf("invalid max-procs %v (use 1-256)", fe.Value())
	case "ColorMode":
		return fmt.Errorf("invalid color mode %q (use 'auto', 'always' or 'never')", fe.Value())
	case "BackupDir":
		return errors.New("backup directory must be set when --backup is enabled")
	}
	return fmt.Errorf("invalid %s: failed %q", fe.Field(), fe.Tag())
}

// ValidatePaths rejects a backup directory equal to the root. A backup
// directory nested inside root is allowed; the walker prunes it. Both
// arguments must be absolute, symlink-resolved paths.
func (c *Config) ValidatePaths(rootAbs, backupAbs string) error {
	if backupAbs == rootAbs {
		return errors.New("backup directory must not be the directory being cleaned")
	}
	return nil
}
