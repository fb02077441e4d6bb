package config

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents runtime configuration sourced from environment variables
// and, for the CLI, bound command line flags.
type Config struct {
	ListenAddr         string
	SampleInterval     time.Duration
	HistorySize        int
	ResetHistoryOnStop bool
	Seed               uint64
	HasSeed            bool
	AllowedOrigins     []string
	EnablePrometheus   bool
	EnablePprof        bool
	Log                LogConfig
	Run                RunConfig
	Device             DeviceConfig
	Annotate           AnnotateConfig
	WS                 WebsocketConfig
}

// LogConfig controls the process logger and its optional rotating file.
type LogConfig struct {
	Level      slog.Level
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// RunConfig tunes step progression.
type RunConfig struct {
	StepInterval time.Duration
	MaxSteps     int
}

// DeviceConfig describes the simulated accelerator.
type DeviceConfig struct {
	Name        string
	PCIID       string
	VRAMTotalGB float64
	PeakTFLOPS  float64
}

// AnnotateConfig configures the remote annotation model. An empty APIKey
// selects the built-in corpus.
type AnnotateConfig struct {
	APIKey         string
	Endpoint       string
	TrainingModel  string
	InferenceModel string
	CompareModel   string
	Timeout        time.Duration
	Retries        int
	Backoff        time.Duration
	CorpusFile     string
}

// WebsocketConfig captures tunables for WebSocket handling.
type WebsocketConfig struct {
	MaxClients   int
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
}

// defaults holds the raw value of every setting. Keys map to APP_<KEY>
// environment variables.
var defaults = map[string]string{
	"listen_addr":              ":8080",
	"sample_interval":          "1s",
	"history_size":             "30",
	"reset_history_on_stop":    "false",
	"rand_seed":                "",
	"allowed_origins":          "*",
	"enable_prometheus":        "false",
	"enable_pprof":             "false",
	"log_level":                "info",
	"log_file":                 "",
	"log_max_size_mb":          "100",
	"log_max_backups":          "3",
	"log_max_age_days":         "28",
	"step_interval":            "1500ms",
	"max_steps":                "20",
	"device_name":              "",
	"device_pci_id":            "10de:2330",
	"vram_total_gb":            "",
	"peak_tflops":              "",
	"annotate_api_key":         "",
	"annotate_endpoint":        "https://generativelanguage.googleapis.com",
	"annotate_training_model":  "gemini-3-pro-preview",
	"annotate_inference_model": "gemini-3-flash-preview",
	"annotate_compare_model":   "gemini-3-flash-preview",
	"annotate_timeout":         "15s",
	"annotate_retries":         "2",
	"annotate_backoff":         "1s",
	"annotate_corpus_file":     "",
	"ws_max_clients":           "1024",
	"ws_write_timeout":         "3s",
	"ws_read_timeout":          "30s",
}

// NewViper returns a viper instance reading APP_* environment variables on
// top of the built-in defaults. Callers may bind command line flags to it
// before passing it to FromViper.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	// The API key also honours the variable names the model SDKs use.
	_ = v.BindEnv("annotate_api_key", "APP_ANNOTATE_API_KEY", "GEMINI_API_KEY", "API_KEY")
	return v
}

// Load parses configuration from environment variables, applying defaults.
func Load() (Config, error) {
	return FromViper(NewViper())
}

// FromViper builds a validated Config from v.
func FromViper(v *viper.Viper) (Config, error) {
	r := reader{v: v}
	cfg := Config{
		ListenAddr:         r.str("listen_addr"),
		SampleInterval:     r.positiveDuration("sample_interval"),
		HistorySize:        r.positiveInt("history_size"),
		ResetHistoryOnStop: r.boolean("reset_history_on_stop"),
		EnablePrometheus:   r.boolean("enable_prometheus"),
		EnablePprof:        r.boolean("enable_pprof"),
		Log: LogConfig{
			File:       r.str("log_file"),
			MaxSizeMB:  r.positiveInt("log_max_size_mb"),
			MaxBackups: r.nonNegativeInt("log_max_backups"),
			MaxAgeDays: r.nonNegativeInt("log_max_age_days"),
		},
		Run: RunConfig{
			StepInterval: r.positiveDuration("step_interval"),
			MaxSteps:     r.positiveInt("max_steps"),
		},
		Device: DeviceConfig{
			Name:        r.str("device_name"),
			PCIID:       r.str("device_pci_id"),
			VRAMTotalGB: r.positiveFloat("vram_total_gb"),
			PeakTFLOPS:  r.positiveFloat("peak_tflops"),
		},
		Annotate: AnnotateConfig{
			APIKey:         r.str("annotate_api_key"),
			Endpoint:       strings.TrimRight(r.str("annotate_endpoint"), "/"),
			TrainingModel:  r.str("annotate_training_model"),
			InferenceModel: r.str("annotate_inference_model"),
			CompareModel:   r.str("annotate_compare_model"),
			Timeout:        r.positiveDuration("annotate_timeout"),
			Retries:        r.nonNegativeInt("annotate_retries"),
			Backoff:        r.positiveDuration("annotate_backoff"),
			CorpusFile:     r.str("annotate_corpus_file"),
		},
		WS: WebsocketConfig{
			MaxClients:   r.positiveInt("ws_max_clients"),
			WriteTimeout: r.positiveDuration("ws_write_timeout"),
			ReadTimeout:  r.positiveDuration("ws_read_timeout"),
		},
	}

	if value := r.str("rand_seed"); value != "" {
		seed, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			r.fail("rand_seed", err)
		}
		cfg.Seed = seed
		cfg.HasSeed = true
	}

	cfg.AllowedOrigins = splitAndTrim(r.str("allowed_origins"), ",")
	if len(cfg.AllowedOrigins) == 0 {
		r.fail("allowed_origins", fmt.Errorf("must not be empty"))
	}

	level, err := parseLogLevel(r.str("log_level"))
	if err != nil {
		r.fail("log_level", err)
	}
	cfg.Log.Level = level

	if r.err != nil {
		return Config{}, r.err
	}
	return cfg, nil
}

// EnvName returns the environment variable backing key.
func EnvName(key string) string {
	return "APP_" + strings.ToUpper(key)
}

// reader parses settings from viper and keeps the first failure.
type reader struct {
	v   *viper.Viper
	err error
}

func (r *reader) fail(key string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("parse %s: %w", EnvName(key), err)
	}
}

// str returns the trimmed setting, falling back to the default when a bound
// flag or variable is explicitly empty.
func (r *reader) str(key string) string {
	if value := strings.TrimSpace(r.v.GetString(key)); value != "" {
		return value
	}
	return defaults[key]
}

func (r *reader) positiveDuration(key string) time.Duration {
	value := r.str(key)
	duration, err := time.ParseDuration(value)
	if err != nil {
		r.fail(key, err)
		return 0
	}
	if duration <= 0 {
		r.fail(key, fmt.Errorf("must be > 0"))
		return 0
	}
	return duration
}

func (r *reader) positiveInt(key string) int {
	n, ok := r.integer(key)
	if ok && n <= 0 {
		r.fail(key, fmt.Errorf("must be > 0"))
		return 0
	}
	return n
}

func (r *reader) nonNegativeInt(key string) int {
	n, ok := r.integer(key)
	if ok && n < 0 {
		r.fail(key, fmt.Errorf("must be >= 0"))
		return 0
	}
	return n
}

func (r *reader) integer(key string) (int, bool) {
	n, err := strconv.Atoi(r.str(key))
	if err != nil {
		r.fail(key, err)
		return 0, false
	}
	return n, true
}

// positiveFloat treats an unset value as zero, meaning "use the device default".
func (r *reader) positiveFloat(key string) float64 {
	value := r.str(key)
	if value == "" {
		return 0
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		r.fail(key, err)
		return 0
	}
	if f <= 0 {
		r.fail(key, fmt.Errorf("must be > 0"))
		return 0
	}
	return f
}

func (r *reader) boolean(key string) bool {
	enabled, err := strconv.ParseBool(r.str(key))
	if err != nil {
		r.fail(key, err)
		return false
	}
	return enabled
}

func splitAndTrim(value, sep string) []string {
	raw := strings.Split(value, sep)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseLogLevel(input string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(input)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", input)
	}
}
