// Package config loads the watcher configuration from YAML, SENTINEL_ environment variables and
// defaults.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/nvr-ai/sentinel/capture"
	"github.com/nvr-ai/sentinel/controller"
	"github.com/nvr-ai/sentinel/detector"
	"github.com/nvr-ai/sentinel/inference"
	"github.com/nvr-ai/sentinel/inference/providers"
	"github.com/nvr-ai/sentinel/motion"
	"github.com/nvr-ai/sentinel/segmentation"
)

// EnvPrefix prefixes every environment override, e.g. SENTINEL_VISION_API_KEY.
const EnvPrefix = "SENTINEL"

type Config struct {
	Capture      CaptureConfig        `mapstructure:"capture"`
	Motion       MotionConfig         `mapstructure:"motion"`
	Segmentation SegmentationConfig   `mapstructure:"segmentation"`
	Target       TargetConfig         `mapstructure:"target"`
	Vision       detector.HTTPOptions `mapstructure:"vision"`
	Journal      JournalConfig        `mapstructure:"journal"`
	Server       ServerConfig         `mapstructure:"server"`
	Log          LogConfig            `mapstructure:"log"`
}

type CaptureConfig struct {
	capture.Options `mapstructure:",squash"`

	Interval time.Duration `mapstructure:"interval"`
}

// Motion strategies.
const (
	StrategyDifference = "difference"
	StrategyBackground = "background"
)

type MotionConfig struct {
	motion.Options `mapstructure:",squash"`

	Strategy   string                   `mapstructure:"strategy"`
	Background motion.BackgroundOptions `mapstructure:"background"`
}

type SegmentationConfig struct {
	Enabled      bool                     `mapstructure:"enabled"`
	ModelSize    string                   `mapstructure:"model_size"`
	ModelBase    string                   `mapstructure:"model_base"`
	Accelerator  string                   `mapstructure:"accelerator"`
	Provider     providers.Options        `mapstructure:"provider"`
	LibraryPath  string                   `mapstructure:"library_path"`
	RefineKernel int                      `mapstructure:"refine_kernel"`
	Points       []string                 `mapstructure:"points"`
	Demo         segmentation.DemoOptions `mapstructure:"demo"`
}

type TargetConfig struct {
	Description    string  `mapstructure:"description"`
	Confidence     float64 `mapstructure:"confidence"`
	ReferenceImage string  `mapstructure:"reference_image"`
}

type JournalConfig struct {
	Path string `mapstructure:"path"`
	// Retention is the number of events kept. Zero keeps everything.
	Retention int `mapstructure:"retention"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type LogConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// Load reads the configuration.
//
// Arguments:
//   - configPath: A YAML file. Empty uses defaults and the environment only.
//
// Bare numbers in duration fields are seconds, so `interval: 1.5` is 1.5s.
//
// Returns:
//   - *Config: The configuration with the capture interval clamped.
//   - error: An error if the file cannot be read or decoded.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, "failed to read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	cfg.Capture.Interval = controller.ClampInterval(cfg.Capture.Interval)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("capture.kind", string(capture.KindCamera))
	v.SetDefault("capture.device", 0)
	v.SetDefault("capture.path", "")
	v.SetDefault("capture.resolution", "")
	v.SetDefault("capture.interval", controller.DefaultInterval)

	v.SetDefault("motion.enabled", true)
	v.SetDefault("motion.threshold", motion.DefaultThreshold)
	v.SetDefault("motion.pixel_threshold", motion.DefaultPixelThreshold)
	v.SetDefault("motion.blur_radius", 0)
	v.SetDefault("motion.strategy", StrategyDifference)
	background := motion.DefaultBackgroundOptions()
	v.SetDefault("motion.background.threshold", background.Threshold)
	v.SetDefault("motion.background.min_region_area", background.MinRegionArea)
	v.SetDefault("motion.background.history", background.History)
	v.SetDefault("motion.background.variance_threshold", background.VarianceThreshold)
	v.SetDefault("motion.background.kernel_size", background.KernelSize)

	v.SetDefault("segmentation.enabled", true)
	v.SetDefault("segmentation.model_size", string(inference.ModelSizeTiny))
	v.SetDefault("segmentation.model_base", "./models")
	v.SetDefault("segmentation.accelerator", string(providers.AutoProviderBackend))
	v.SetDefault("segmentation.library_path", "")
	v.SetDefault("segmentation.provider.cuda.device_id", 0)
	v.SetDefault("segmentation.provider.cuda.gpu_mem_limit", 0)
	v.SetDefault("segmentation.provider.coreml.ml_program", false)
	v.SetDefault("segmentation.provider.openvino.device_type", "")
	v.SetDefault("segmentation.provider.openvino.precision", "")
	v.SetDefault("segmentation.refine_kernel", 0)
	v.SetDefault("segmentation.points", []string{})
	demo := segmentation.DefaultDemoOptions()
	v.SetDefault("segmentation.demo.min_radius", demo.MinRadius)
	v.SetDefault("segmentation.demo.max_radius", demo.MaxRadius)
	v.SetDefault("segmentation.demo.min_score", demo.MinScore)
	v.SetDefault("segmentation.demo.max_score", demo.MaxScore)
	v.SetDefault("segmentation.demo.wobble", demo.Wobble)

	v.SetDefault("target.description", "")
	v.SetDefault("target.confidence", 0.7)
	v.SetDefault("target.reference_image", "")

	v.SetDefault("vision.endpoint", "")
	v.SetDefault("vision.api_key", "")
	v.SetDefault("vision.timeout", 30*time.Second)
	v.SetDefault("vision.requests_per_second", 0.5)
	v.SetDefault("vision.max_retries", 3)

	v.SetDefault("journal.path", "sentinel.db")
	v.SetDefault("journal.retention", 10000)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("log.mode", "debug")
	v.SetDefault("log.level", "")
}

// Validate checks the values that cannot be clamped.
//
// Returns:
//   - error: A *detector.ConfigurationError naming the first invalid field.
func (c *Config) Validate() error {
	invalid := func(field, message string) error {
		return &detector.ConfigurationError{Field: field, Message: message}
	}

	switch capture.Kind(strings.ToLower(string(c.Capture.Kind))) {
	case capture.KindCamera, "":
	case capture.KindVideo, capture.KindDirectory, capture.KindImage:
		if c.Capture.Path == "" {
			return invalid("capture.path", "a path is required for "+string(c.Capture.Kind)+" sources")
		}
	default:
		return invalid("capture.kind", "unknown source kind "+string(c.Capture.Kind))
	}

	if c.Motion.Threshold <= 0 || c.Motion.Threshold >= 1 {
		return invalid("motion.threshold", "must be within (0, 1)")
	}
	if c.Motion.PixelThreshold <= 0 || c.Motion.PixelThreshold > 3*255 {
		return invalid("motion.pixel_threshold", "must be within (0, 765]")
	}
	switch c.Motion.Strategy {
	case StrategyDifference, StrategyBackground, "":
	default:
		return invalid("motion.strategy", "must be difference or background")
	}

	if _, err := inference.ParseModelSize(c.Segmentation.ModelSize); err != nil {
		return invalid("segmentation.model_size", err.Error())
	}
	if _, err := providers.ParseBackend(c.Segmentation.Accelerator); err != nil {
		return invalid("segmentation.accelerator", err.Error())
	}
	if _, err := c.FocusPoints(); err != nil {
		return invalid("segmentation.points", err.Error())
	}

	if c.Target.Confidence < 0 || c.Target.Confidence > 1 {
		return invalid("target.confidence", "must be within [0, 1]")
	}
	if c.Vision.RequestsPerSecond < 0 {
		return invalid("vision.requests_per_second", "must not be negative")
	}
	if c.Journal.Retention < 0 {
		return invalid("journal.retention", "must not be negative")
	}
	return nil
}

// FocusPoints parses the configured segmentation points.
func (c *Config) FocusPoints() ([]segmentation.Point, error) {
	return segmentation.ParsePoints(c.Segmentation.Points)
}
