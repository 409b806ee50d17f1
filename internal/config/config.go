package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/mfenniak/cloud-persistent-storage/pkg/errors"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global        GlobalConfig        `yaml:"global"`
	BlockProvider BlockProviderConfig `yaml:"block_provider"`
	FileSystem    FileSystemConfig    `yaml:"file_system"`
	Mount         MountConfig         `yaml:"mount"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel    string        `yaml:"log_level"`
	LogFormat   string        `yaml:"log_format"`
	LogFile     string        `yaml:"log_file"`
	MetricsFile string        `yaml:"metrics_file"`
	RunTimeout  time.Duration `yaml:"run_timeout"`
}

// BlockProviderConfig selects the block storage backend. Only AWS EBS is supported.
type BlockProviderConfig struct {
	AWSEBS EBSConfig `yaml:"aws_ebs"`
}

// EBSConfig represents the EBS volume policy and client settings
type EBSConfig struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	MaxRetries      int    `yaml:"max_retries"`

	Device     string            `yaml:"device"`
	Tags       map[string]string `yaml:"ebs_tags"`
	VolumeType string            `yaml:"type"`
	Size       int32             `yaml:"size"`

	AllowCreate          bool `yaml:"allow_create"`
	DeleteOrphanedVolume bool `yaml:"delete_orphaned_volume"`

	AttachTimeout          time.Duration `yaml:"attach_timeout"`
	PollInterval           time.Duration `yaml:"poll_interval"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures"`
}

// FileSystemConfig represents filesystem creation settings
type FileSystemConfig struct {
	Mkfs string `yaml:"mkfs"`
}

// MountConfig represents mount settings
type MountConfig struct {
	Target  string `yaml:"target"`
	Options string `yaml:"options"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "text",
		},
		BlockProvider: BlockProviderConfig{
			AWSEBS: EBSConfig{
				MaxRetries:             3,
				Device:                 "/dev/xvdh",
				Tags:                   map[string]string{},
				VolumeType:             string(types.VolumeTypeGp2),
				AllowCreate:            true,
				DeleteOrphanedVolume:   false,
				AttachTimeout:          5 * time.Minute,
				PollInterval:           5 * time.Second,
				MaxConsecutiveFailures: 5,
			},
		},
		FileSystem: FileSystemConfig{
			Mkfs: "-t ext4 -m 0",
		},
	}
}

// Load reads filename over the defaults, applies environment overrides and validates the result.
func Load(filename string) (*Configuration, error) {
	cfg := NewDefault()
	if err := cfg.LoadFromFile(filename); err != nil {
		return nil, err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to read config file").
			WithComponent("config").
			WithContext("path", filename)
	}

	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidConfig, "failed to parse config file").
			WithComponent("config").
			WithContext("path", filename)
	}

	return nil
}

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file into the process environment.
// Variables already present in the environment are not overridden.
func LoadEnvFile(filename string) error {
	if err := godotenv.Load(filename); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to load env file").
			WithComponent("config").
			WithContext("path", filename)
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Configuration) LoadFromEnv() error {
	ebs := &c.BlockProvider.AWSEBS

	// Global settings
	if val := os.Getenv("CPS_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("CPS_LOG_FORMAT"); val != "" {
		c.Global.LogFormat = val
	}
	if val := os.Getenv("CPS_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv("CPS_METRICS_FILE"); val != "" {
		c.Global.MetricsFile = val
	}
	if val := os.Getenv("CPS_RUN_TIMEOUT"); val != "" {
		duration, err := time.ParseDuration(val)
		if err != nil {
			return envError("CPS_RUN_TIMEOUT", err)
		}
		c.Global.RunTimeout = duration
	}

	// EBS settings
	if val := os.Getenv("CPS_REGION"); val != "" {
		ebs.Region = val
	}
	if val := os.Getenv("CPS_ENDPOINT"); val != "" {
		ebs.Endpoint = val
	}
	if val := os.Getenv("CPS_DEVICE"); val != "" {
		ebs.Device = val
	}
	if val := os.Getenv("CPS_VOLUME_TYPE"); val != "" {
		ebs.VolumeType = val
	}
	if val := os.Getenv("CPS_VOLUME_SIZE"); val != "" {
		size, err := strconv.ParseInt(val, 10, 32)
		if err != nil {
			return envError("CPS_VOLUME_SIZE", err)
		}
		ebs.Size = int32(size)
	}
	if val := os.Getenv("CPS_ALLOW_CREATE"); val != "" {
		ebs.AllowCreate = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("CPS_DELETE_ORPHANED_VOLUME"); val != "" {
		ebs.DeleteOrphanedVolume = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("CPS_ATTACH_TIMEOUT"); val != "" {
		duration, err := time.ParseDuration(val)
		if err != nil {
			return envError("CPS_ATTACH_TIMEOUT", err)
		}
		ebs.AttachTimeout = duration
	}
	if val := os.Getenv("CPS_POLL_INTERVAL"); val != "" {
		duration, err := time.ParseDuration(val)
		if err != nil {
			return envError("CPS_POLL_INTERVAL", err)
		}
		ebs.PollInterval = duration
	}
	if val := os.Getenv("CPS_MAX_CONSECUTIVE_FAILURES"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return envError("CPS_MAX_CONSECUTIVE_FAILURES", err)
		}
		ebs.MaxConsecutiveFailures = n
	}
	if val := os.Getenv("CPS_MAX_RETRIES"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return envError("CPS_MAX_RETRIES", err)
		}
		ebs.MaxRetries = n
	}

	// Mount settings
	if val := os.Getenv("CPS_MOUNT_TARGET"); val != "" {
		c.Mount.Target = val
	}

	return nil
}

func envError(name string, err error) error {
	return errors.Wrap(err, errors.ErrCodeInvalidConfig, "invalid environment override").
		WithComponent("config").
		WithContext("variable", name)
}

var (
	devicePattern = regexp.MustCompile(`^/dev/[a-z0-9]+$`)
	tagKeyPattern = regexp.MustCompile(`^[^\s].{0,127}$`)
)

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if err := validation.ValidateStruct(&c.Global,
		validation.Field(&c.Global.LogLevel, validation.Required,
			validation.In("DEBUG", "INFO", "WARN", "WARNING", "ERROR",
				"debug", "info", "warn", "warning", "error")),
		validation.Field(&c.Global.LogFormat, validation.In("text", "json")),
		validation.Field(&c.Global.RunTimeout, validation.Min(time.Duration(0))),
	); err != nil {
		return validationError("global", err)
	}

	ebs := &c.BlockProvider.AWSEBS
	if err := validation.ValidateStruct(ebs,
		validation.Field(&ebs.Device, validation.Required, validation.Match(devicePattern)),
		validation.Field(&ebs.Tags, validation.Required, validation.By(validateTags)),
		validation.Field(&ebs.VolumeType, validation.Required, validation.In(volumeTypes()...)),
		validation.Field(&ebs.Size, validation.Required, validation.Min(1)),
		validation.Field(&ebs.MaxRetries, validation.Min(0)),
		validation.Field(&ebs.AttachTimeout, validation.Required, validation.Min(time.Second)),
		validation.Field(&ebs.PollInterval, validation.Required, validation.Min(100*time.Millisecond)),
		validation.Field(&ebs.MaxConsecutiveFailures, validation.Required, validation.Min(1)),
	); err != nil {
		return validationError("block_provider.aws_ebs", err)
	}
	if ebs.PollInterval > ebs.AttachTimeout {
		return validationError("block_provider.aws_ebs",
			fmt.Errorf("poll_interval (%s) must not exceed attach_timeout (%s)", ebs.PollInterval, ebs.AttachTimeout))
	}

	if err := validation.ValidateStruct(&c.Mount,
		validation.Field(&c.Mount.Target, validation.By(absolutePath)),
	); err != nil {
		return validationError("mount", err)
	}

	return nil
}

// MkfsArgs returns the configured mkfs arguments split on whitespace.
func (c *Configuration) MkfsArgs() []string {
	return strings.Fields(c.FileSystem.Mkfs)
}

func volumeTypes() []interface{} {
	values := types.VolumeType("").Values()
	out := make([]interface{}, 0, len(values))
	for _, v := range values {
		out = append(out, string(v))
	}
	return out
}

func validateTags(value interface{}) error {
	tags, _ := value.(map[string]string)
	for key := range tags {
		if !tagKeyPattern.MatchString(key) {
			return fmt.Errorf("invalid tag key %q", key)
		}
		if strings.HasPrefix(strings.ToLower(key), "aws:") {
			return fmt.Errorf("tag key %q uses the reserved aws: prefix", key)
		}
	}
	return nil
}

func absolutePath(value interface{}) error {
	path, _ := value.(string)
	if path != "" && !filepath.IsAbs(path) {
		return fmt.Errorf("must be an absolute path")
	}
	return nil
}

func validationError(section string, err error) error {
	return errors.Wrap(err, errors.ErrCodeConfigValidation, "invalid "+section+" configuration").
		WithComponent("config")
}
