package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/swdee/go-roadhazard/fusion"
)

// Config is the process wide configuration, read once at startup
type Config struct {
	Server     ServerConfig       `mapstructure:"server"`
	Camera     CameraConfig       `mapstructure:"camera"`
	Models     ModelsConfig       `mapstructure:"models"`
	Thresholds map[string]float64 `mapstructure:"thresholds"`
	Distance   DistanceConfig     `mapstructure:"distance"`
	Stream     StreamConfig       `mapstructure:"stream"`
	Mongo      MongoConfig        `mapstructure:"mongo"`
	Email      EmailConfig        `mapstructure:"email"`
	Reports    ReportsConfig      `mapstructure:"reports"`
	Kafka      KafkaConfig        `mapstructure:"kafka"`
	Log        LogConfig          `mapstructure:"log"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// CameraConfig selects the frame source, either a device index or a video
// file or stream URL
type CameraConfig struct {
	Device string `mapstructure:"device"`
	Width  int    `mapstructure:"width"`
	Height int    `mapstructure:"height"`
}

type ModelConfig struct {
	File      string `mapstructure:"file"`
	Labels    string `mapstructure:"labels"`
	InputSize int    `mapstructure:"input_size"`
}

type ModelsConfig struct {
	Hazard  ModelConfig `mapstructure:"hazard"`
	General ModelConfig `mapstructure:"general"`
	// Device is one of cpu, cuda or cuda-fp16
	Device   string `mapstructure:"device"`
	PoolSize int    `mapstructure:"pool_size"`
	// DetectTimeout bounds a single detector call, zero disables
	DetectTimeout time.Duration `mapstructure:"detect_timeout"`
}

type DistanceConfig struct {
	FocalLength float64            `mapstructure:"focal_length"`
	KnownWidth  map[string]float64 `mapstructure:"known_width"`
}

type StreamConfig struct {
	FrameInterval time.Duration `mapstructure:"frame_interval"`
	JPEGQuality   int           `mapstructure:"jpeg_quality"`
	// StatsEvery is the number of frames between timing summaries
	StatsEvery int `mapstructure:"stats_every"`
}

type MongoConfig struct {
	URI        string        `mapstructure:"uri"`
	Database   string        `mapstructure:"database"`
	Collection string        `mapstructure:"collection"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type EmailConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	User      string `mapstructure:"user"`
	Password  string `mapstructure:"password"`
	Sender    string `mapstructure:"sender"`
	Authority string `mapstructure:"authority"`
	// PerMinute caps the number of alert emails sent per minute
	PerMinute int `mapstructure:"per_minute"`
}

// Enabled reports whether alert emails can be sent
func (e EmailConfig) Enabled() bool {
	return e.Host != "" && e.Authority != ""
}

type ReportsConfig struct {
	// DuplicateWindow is how long a report suppresses new reports nearby
	DuplicateWindow time.Duration `mapstructure:"duplicate_window"`
	// NearbyWindow is how far back nearby reports are counted
	NearbyWindow time.Duration `mapstructure:"nearby_window"`
}

type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// Enabled reports whether reports are published to Kafka
func (k KafkaConfig) Enabled() bool {
	return k.Brokers != ""
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// envBindings are the environment variable names the deployment already
// uses, bound in addition to the HAZARDCAM_ prefixed names
var envBindings = map[string]string{
	"mongo.uri":       "MONGODB_URI",
	"email.host":      "EMAIL_HOST",
	"email.port":      "EMAIL_PORT",
	"email.user":      "EMAIL_USER",
	"email.password":  "EMAIL_PASSWORD",
	"email.authority": "AUTHORITY_EMAIL",
	"email.sender":    "SENDER_EMAIL",
}

// setDefaults registers the defaults for every key
func setDefaults(v *viper.Viper) {

	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("camera.device", "2")
	v.SetDefault("camera.width", 0)
	v.SetDefault("camera.height", 0)

	v.SetDefault("models.hazard.file", "models/road_hazard.onnx")
	v.SetDefault("models.hazard.labels", "models/road_hazard_labels.txt")
	v.SetDefault("models.hazard.input_size", 640)
	v.SetDefault("models.general.file", "models/yolov8n.onnx")
	v.SetDefault("models.general.labels", "models/coco_80_labels_list.txt")
	v.SetDefault("models.general.input_size", 640)
	v.SetDefault("models.device", "cpu")
	v.SetDefault("models.pool_size", 1)
	v.SetDefault("models.detect_timeout", 0)

	v.SetDefault("thresholds", fusion.DefaultThresholds())

	cam := fusion.DefaultCameraParameters()
	v.SetDefault("distance.focal_length", cam.FocalLength)
	v.SetDefault("distance.known_width", cam.KnownWidth)

	v.SetDefault("stream.frame_interval", 33*time.Millisecond)
	v.SetDefault("stream.jpeg_quality", 80)
	v.SetDefault("stream.stats_every", 300)

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "road_hazards")
	v.SetDefault("mongo.collection", "hazard_reports")
	v.SetDefault("mongo.timeout", 5*time.Second)

	v.SetDefault("email.host", "smtp.gmail.com")
	v.SetDefault("email.port", 587)
	v.SetDefault("email.user", "")
	v.SetDefault("email.password", "")
	v.SetDefault("email.sender", "")
	v.SetDefault("email.authority", "local.authority@example.com")
	v.SetDefault("email.per_minute", 10)

	v.SetDefault("reports.duplicate_window", 7*24*time.Hour)
	v.SetDefault("reports.nearby_window", 30*24*time.Hour)

	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", "road-hazard-reports")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Load reads the configuration from the optional YAML file at path, a .env
// file in the working directory and the environment, in increasing order of
// precedence, then validates it
func Load(path string) (*Config, error) {

	// a missing .env is normal outside development
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("HAZARDCAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range envBindings {
		if err := v.BindEnv(key, "HAZARDCAM_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("error binding %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config %s: %w", path, err)
		}
	}

	var cfg Config

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the settings the pipeline cannot start without.  Errors
// wrap fusion.ErrConfiguration.
func (c *Config) Validate() error {

	if _, err := c.ThresholdTable(); err != nil {
		return err
	}

	if err := c.CameraParameters().Validate(); err != nil {
		return err
	}

	if c.Models.Hazard.File == "" || c.Models.General.File == "" {
		return fmt.Errorf("%w: both model files are required", fusion.ErrConfiguration)
	}

	if c.Models.Hazard.Labels == "" || c.Models.General.Labels == "" {
		return fmt.Errorf("%w: both label files are required", fusion.ErrConfiguration)
	}

	if c.Stream.FrameInterval <= 0 {
		return fmt.Errorf("%w: stream.frame_interval must be positive", fusion.ErrConfiguration)
	}

	if c.Stream.JPEGQuality < 1 || c.Stream.JPEGQuality > 100 {
		return fmt.Errorf("%w: stream.jpeg_quality must be within 1-100", fusion.ErrConfiguration)
	}

	if c.Models.DetectTimeout < 0 {
		return fmt.Errorf("%w: models.detect_timeout cannot be negative", fusion.ErrConfiguration)
	}

	return nil
}

// ThresholdTable returns the validated class thresholds
func (c *Config) ThresholdTable() (fusion.ThresholdTable, error) {
	return fusion.NewThresholdTable(c.Thresholds)
}

// CameraParameters returns the distance estimation camera model
func (c *Config) CameraParameters() fusion.CameraParameters {
	return fusion.CameraParameters{
		FocalLength: c.Distance.FocalLength,
		KnownWidth:  c.Distance.KnownWidth,
	}
}
