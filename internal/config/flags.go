package config

// This file implements CLI flag parsing and help text.
// Flags are grouped into cleaning, safety, performance, display, and utility.
// Negated flags (e.g. --no-color) are applied after Parse so Config values hold unless set.

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// ParseFlags applies the config file and environment overlay, then parses
// args (without the program name) into cfg. On --help or --version it prints
// and exits. On error it returns non-nil (e.g. unknown flag, extra positional args).
func ParseFlags(cfg *Config, version string, args []string) error {
	if err := Load(cfg, configArg(args)); err != nil {
		return err
	}

	fs := flag.NewFlagSet("metascrub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() { printUsage(os.Stderr, version) }

	var negated negatedFlags

	defineCleaningFlags(fs, cfg)
	defineSafetyFlags(fs, cfg)
	definePerformanceFlags(fs, cfg)
	defineDisplayFlags(fs, cfg, &negated)
	defineUtilityFlags(fs, cfg, &negated)

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			printUsage(os.Stderr, version)
			os.Exit(0)
		}
		return err
	}

	applyNegatedFlags(cfg, &negated)

	if negated.showHelp {
		printUsage(os.Stderr, version)
		os.Exit(0)
	}
	if negated.showVersion {
		fmt.Fprintln(os.Stdout, "metascrub v"+version)
		os.Exit(0)
	}

	return parsePositionalArgs(fs, cfg)
}

// negatedFlags holds boolean flags that are applied after Parse.
// These either invert a config value (noColor, noLog) or trigger exit (showHelp, showVersion).
type negatedFlags struct {
	forceColor  bool
	noColor     bool
	noLog       bool
	showVersion bool
	showHelp    bool
}

// defineCleaningFlags registers -p/--path, --reencode-videos, --normalize-time.
func defineCleaningFlags(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.Root, "path", cfg.Root, "Directory to clean")
	fs.StringVar(&cfg.Root, "p", cfg.Root, "Same as --path")
	fs.BoolVar(&cfg.ReencodeVideos, "reencode-videos", cfg.ReencodeVideos, "Fully re-encode videos (slow, strongest removal)")
	fs.BoolVar(&cfg.NormalizeTime, "normalize-time", cfg.NormalizeTime, "Reset mtime/atime to the Unix epoch")
}

// defineSafetyFlags registers -d/--dry-run, -b/--backup, --backup-dir, --restore.
func defineSafetyFlags(fs *flag.FlagSet, cfg *Config) {
	fs.BoolVar(&cfg.DryRun, "dry-run", cfg.DryRun, "Preview only; do not modify files")
	fs.BoolVar(&cfg.DryRun, "d", cfg.DryRun, "Same as --dry-run")
	fs.BoolVar(&cfg.Backup, "backup", cfg.Backup, "Copy each file into a timestamped backup before cleaning")
	fs.BoolVar(&cfg.Backup, "b", cfg.Backup, "Same as --backup")
	fs.StringVar(&cfg.BackupDir, "backup-dir", cfg.BackupDir, "Backup root directory")
	fs.StringVar(&cfg.RestoreFrom, "restore", "", "Restore every file recorded in a backup run directory")
}

// definePerformanceFlags registers -w/--workers, --max-procs and the tool timeouts.
func definePerformanceFlags(fs *flag.FlagSet, cfg *Config) {
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Files cleaned in parallel")
	fs.IntVar(&cfg.Workers, "w", cfg.Workers, "Same as --workers")
	fs.IntVar(&cfg.MaxProcs, "max-procs", cfg.MaxProcs, "Concurrent external tool processes")
	fs.DurationVar(&cfg.ToolTimeout, "tool-timeout", cfg.ToolTimeout, "Timeout for exiftool and remux runs")
	fs.DurationVar(&cfg.TranscodeTimeout, "transcode-timeout", cfg.TranscodeTimeout, "Timeout for a video re-encode")
}

// defineDisplayFlags registers --color, --no-color, verbose, --log, --no-log, --metrics-file.
func defineDisplayFlags(fs *flag.FlagSet, cfg *Config, n *negatedFlags) {
	fs.BoolVar(&n.forceColor, "color", false, "Force colored logs")
	fs.BoolVar(&n.noColor, "no-color", false, "Disable colored logs")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "Verbose output")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Same as --verbose")
	fs.StringVar(&cfg.LogFile, "log", cfg.LogFile, "Append logs to file")
	fs.StringVar(&cfg.LogFile, "l", cfg.LogFile, "Same as --log")
	fs.BoolVar(&n.noLog, "no-log", false, "Do not write a log file")
	fs.StringVar(&cfg.MetricsFile, "metrics-file", cfg.MetricsFile, "Write Prometheus textfile metrics at run end")
}

// defineUtilityFlags registers --config, --check, --version and --help.
func defineUtilityFlags(fs *flag.FlagSet, cfg *Config, n *negatedFlags) {
	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "YAML config file")
	fs.BoolVar(&cfg.CheckOnly, "check", false, "Report available external tools and exit")
	fs.BoolVar(&cfg.CheckOnly, "c", false, "Same as --check")
	fs.BoolVar(&n.showVersion, "version", false, "Print version and exit")
	fs.BoolVar(&n.showVersion, "V", false, "Same as --version")
	fs.BoolVar(&n.showHelp, "help", false, "Show this help and exit")
	fs.BoolVar(&n.showHelp, "h", false, "Same as --help")
}

// applyNegatedFlags copies negated and override flag values into cfg.
func applyNegatedFlags(cfg *Config, n *negatedFlags) {
	if n.noColor {
		cfg.ColorMode = ColorNever
	} else if n.forceColor {
		cfg.ColorMode = ColorAlways
	}
	if n.noLog {
		cfg.LogFile = ""
	}
}

// parsePositionalArgs sets Root from an optional positional path.
func parsePositionalArgs(fs *flag.FlagSet, cfg *Config) error {
	args := fs.Args()
	switch len(args) {
	case 0:
	case 1:
		cfg.Root = args[0]
	default:
		return fmt.Errorf("expected at most one path, got %d: %s", len(args), strings.Join(args, " "))
	}
	cfg.Root = NormalizeDirArg(cfg.Root)
	return nil
}

// printUsage writes the help text to w. Column-aligned for readability.
func printUsage(w io.Writer, version string) {
	const col1 = 30 // width of "  -x, --long-name <arg>  "
	lines := []struct {
		flags string
		desc  string
	}{
		{"", "metascrub v" + version + " - strip identifying metadata from files"},
		{"", ""},
		{"  metascrub [OPTIONS] [path]", ""},
		{"", ""},
		{"Cleaning", ""},
		{"  -p, --path <dir>", "Directory to clean (default: .)"},
		{"  --reencode-videos", "Re-encode videos (slow, strongest removal)"},
		{"  --normalize-time", "Reset mtime/atime to 1970-01-01"},
		{"", ""},
		{"Safety", ""},
		{"  -d, --dry-run", "Preview only; do not modify files"},
		{"  -b, --backup", "Back up each file before cleaning"},
		{"  --backup-dir <dir>", "Backup root (default: ~/.metascrub/backups)"},
		{"  --restore <run-dir>", "Restore files from a backup run and exit"},
		{"", ""},
		{"Performance", ""},
		{"  -w, --workers <n>", "Files cleaned in parallel (default: CPUs)"},
		{"  --max-procs <n>", "Concurrent external tools (default: CPUs)"},
		{"  --tool-timeout <dur>", "exiftool/remux timeout (default: 5m)"},
		{"  --transcode-timeout <dur>", "Video re-encode timeout (default: 30m)"},
		{"", ""},
		{"Display", ""},
		{"  --color", "Force colored logs"},
		{"  --no-color", "Disable colored logs"},
		{"  -v, --verbose", "Verbose output"},
		{"", ""},
		{"Utility", ""},
		{"  --config <path>", "YAML config (default: ~/.metascrub/config.yaml)"},
		{"  -l, --log <path>", "Append logs to file"},
		{"  --no-log", "Do not write a log file"},
		{"  --metrics-file <path>", "Write Prometheus textfile metrics"},
		{"  -c, --check", "Report external tools (exiftool, ffmpeg, ffprobe)"},
		{"  -V, --version", "Print version and exit"},
		{"  -h, --help", "Show this help and exit"},
	}

	for _, l := range lines {
		if l.flags == "" && l.desc == "" {
			fmt.Fprintln(w)
			continue
		}
		if l.desc == "" {
			fmt.Fprintln(w, l.flags)
			continue
		}
		if l.flags == "" {
			fmt.Fprintln(w, l.desc)
			continue
		}
		padding := col1 - len(l.flags)
		if padding < 1 {
			padding = 1
		}
		fmt.Fprintf(w, "%s%*s%s\n", l.flags, padding, "", l.desc)
	}
}
