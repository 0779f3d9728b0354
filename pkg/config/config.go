// Package config loads proctop settings from defaults, an optional YAML
// file, PROCTOP_* environment variables and command-line flags, in that
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/srodi/proctop-bpf/pkg/collector"
	"github.com/srodi/proctop-bpf/pkg/model"
)

const (
	envPrefix = "PROCTOP"
	minDelay  = 100 * time.Millisecond
)

// Config is the validated runtime configuration.
type Config struct {
	Delay               time.Duration
	Tree                bool
	User                string
	ShowKernelThreads   bool
	Filter              string
	Sort                model.SortColumn
	SortAscending       bool
	OffsetsFile         string
	ProcRoot            string
	CgroupRoot          string
	CgroupRefreshCycles int
	CPUBasis            collector.CPUBasis
	SeedCmdlines        bool
	QueueDepth          int
	Listen              string
	AllowedOrigins      []string
	Headless            bool
	LogLevel            logrus.Level
	LogFile             string
	ConfigFile          string
}

// ErrHelp is returned when -h or --help was requested; usage has already
// been printed.
var ErrHelp = pflag.ErrHelp

func defaults(v *viper.Viper) {
	v.SetDefault("delay", time.Second)
	v.SetDefault("tree", false)
	v.SetDefault("user", "")
	v.SetDefault("show_kernel_threads", false)
	v.SetDefault("filter", "")
	v.SetDefault("sort", "cpu")
	v.SetDefault("sort_ascending", false)
	v.SetDefault("offsets_file", "")
	v.SetDefault("proc_root", "/proc")
	v.SetDefault("cgroup_root", "/sys/fs/cgroup")
	v.SetDefault("cgroup_refresh_cycles", 5)
	v.SetDefault("cpu_basis", string(collector.BasisTicks))
	v.SetDefault("seed_cmdlines", true)
	v.SetDefault("queue_depth", 4)
	v.SetDefault("listen", "")
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("headless", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", filepath.Join(os.TempDir(), "proctop.log"))
}

func flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "path to a YAML config file")
	fs.DurationP("delay", "d", time.Second, "refresh interval (min 100ms)")
	fs.BoolP("tree", "t", false, "start in tree view")
	fs.StringP("user", "u", "", "only show processes of this user")
	fs.Bool("show-kernel-threads", false, "list kernel threads")
	fs.String("filter", "", "initial text filter")
	fs.String("sort", "cpu", "sort column (pid, user, cpu, mem, time, net, command, ...)")
	fs.Bool("sort-ascending", false, "sort ascending instead of descending")
	fs.String("offsets-file", "", "YAML kernel offset table to use instead of the built-in one")
	fs.String("proc-root", "/proc", "procfs mount point")
	fs.String("cgroup-root", "/sys/fs/cgroup", "cgroup v2 mount point")
	fs.Int("cgroup-refresh-cycles", 5, "rebuild the cgroup index every N cycles")
	fs.String("cpu-basis", string(collector.BasisTicks), "CPU% denominator: ticks or wallclock")
	fs.Bool("seed-cmdlines", true, "seed command lines of already running processes from procfs")
	fs.Int("queue-depth", 4, "snapshots buffered between collector and UI")
	fs.String("listen", "", "serve /healthz, /metrics, /api/snapshot and /ws on this address")
	fs.StringSlice("allowed-origins", nil, "websocket origin patterns allowed to connect")
	fs.Bool("headless", false, "run without a terminal UI (requires --listen)")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("log-file", "", "log file for the interactive UI")
	return fs
}

// Load parses args (without the program name) and the environment.
func Load(name string, args []string) (Config, error) {
	fs := flags(name)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	v := viper.New()
	defaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// Flags use dashes, keys use underscores.
	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" {
			return
		}
		if err := v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f); err != nil {
			bindErr = errors.Join(bindErr, err)
		}
	})
	if bindErr != nil {
		return Config{}, bindErr
	}

	configFile, _ := fs.GetString("config")
	if configFile == "" {
		configFile = os.Getenv(envPrefix + "_CONFIG")
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", configFile, err)
		}
	} else if dir, err := os.UserConfigDir(); err == nil {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join(dir, "proctop"))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("reading config: %w", err)
			}
		} else {
			configFile = v.ConfigFileUsed()
		}
	}

	cfg := Config{
		Delay:               v.GetDuration("delay"),
		Tree:                v.GetBool("tree"),
		User:                v.GetString("user"),
		ShowKernelThreads:   v.GetBool("show_kernel_threads"),
		Filter:              v.GetString("filter"),
		SortAscending:       v.GetBool("sort_ascending"),
		OffsetsFile:         v.GetString("offsets_file"),
		ProcRoot:            v.GetString("proc_root"),
		CgroupRoot:          v.GetString("cgroup_root"),
		CgroupRefreshCycles: v.GetInt("cgroup_refresh_cycles"),
		CPUBasis:            collector.CPUBasis(strings.ToLower(v.GetString("cpu_basis"))),
		SeedCmdlines:        v.GetBool("seed_cmdlines"),
		QueueDepth:          v.GetInt("queue_depth"),
		Listen:              v.GetString("listen"),
		AllowedOrigins:      v.GetStringSlice("allowed_origins"),
		Headless:            v.GetBool("headless"),
		LogFile:             v.GetString("log_file"),
		ConfigFile:          configFile,
	}
	if cfg.LogFile == "" {
		cfg.LogFile = filepath.Join(os.TempDir(), "proctop.log")
	}

	var err error
	if cfg.Sort, err = model.ParseSortColumn(v.GetString("sort")); err != nil {
		return Config{}, fmt.Errorf("invalid sort: %w", err)
	}
	if cfg.LogLevel, err = logrus.ParseLevel(v.GetString("log_level")); err != nil {
		return Config{}, fmt.Errorf("invalid log_level: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var errs []error
	if c.Delay < minDelay {
		errs = append(errs, fmt.Errorf("invalid delay: %v is below %v", c.Delay, minDelay))
	}
	switch c.CPUBasis {
	case collector.BasisTicks, collector.BasisWallclock:
	default:
		errs = append(errs, fmt.Errorf("invalid cpu_basis: %q (want ticks or wallclock)", c.CPUBasis))
	}
	if c.CgroupRefreshCycles < 1 {
		errs = append(errs, fmt.Errorf("invalid cgroup_refresh_cycles: %d must be >= 1", c.CgroupRefreshCycles))
	}
	if c.QueueDepth < 1 {
		errs = append(errs, fmt.Errorf("invalid queue_depth: %d must be >= 1", c.QueueDepth))
	}
	if c.ProcRoot == "" {
		errs = append(errs, errors.New("invalid proc_root: empty"))
	}
	if c.Headless && c.Listen == "" {
		errs = append(errs, errors.New("invalid headless: requires listen"))
	}
	return errors.Join(errs...)
}

// FilterConfig is the model filter implied by the settings.
func (c Config) FilterConfig() model.FilterConfig {
	hide := !c.ShowKernelThreads
	return model.FilterConfig{HideKernel: &hide, User: c.User, Text: c.Filter}
}

// ModelOptions are the initial view settings.
func (c Config) ModelOptions() model.Options {
	return model.Options{
		Sort:      c.Sort,
		Ascending: c.SortAscending,
		Tree:      c.Tree,
		Filter:    c.FilterConfig(),
	}
}
