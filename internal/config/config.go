package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Backend names.
const (
	BackendXML = "xml"
	BackendSQL = "sql"
)

// Config holds every runtime setting. Values come from defaults, then an
// optional TOML file, then CONNTREE_* environment variables.
type Config struct {
	Backend     string `toml:"backend"`      // CONNTREE_BACKEND ("xml" or "sql", default "xml")
	File        string `toml:"file"`         // CONNTREE_FILE (default <user config dir>/conntree/confCons.xml)
	BackupCount int    `toml:"backup_count"` // CONNTREE_BACKUP_COUNT (default 10; 0 = no backups)
	DatabaseURL string `toml:"database_url"` // CONNTREE_DATABASE_URL (required for sql)
	SQLReadOnly bool   `toml:"sql_read_only"`

	EncryptionEngine   string `toml:"encryption_engine"` // CONNTREE_ENCRYPTION_ENGINE (default "AES")
	BlockCipherMode    string `toml:"block_cipher_mode"` // CONNTREE_BLOCK_CIPHER_MODE (default "GCM")
	KdfIterations      int    `toml:"kdf_iterations"`    // CONNTREE_KDF_ITERATIONS (default 1000)
	FullFileEncryption bool   `toml:"full_file_encryption"`

	HostnameLikeDisplayName bool `toml:"hostname_like_display_name"`
	AutoSave                bool `toml:"auto_save"` // CONNTREE_AUTO_SAVE: save after every change

	NATSURL             string        `toml:"nats_url"`              // CONNTREE_NATS_URL (optional, empty = no events)
	Instance            string        `toml:"instance"`              // CONNTREE_INSTANCE (default hostname)
	UpdateCheckInterval time.Duration `toml:"update_check_interval"` // CONNTREE_UPDATE_CHECK_INTERVAL (default 3s)

	PresetsFile string `toml:"presets_file"` // CONNTREE_PRESETS_FILE (default next to File)

	// Mirror settings
	MirrorInterval   time.Duration `toml:"mirror_interval"`    // CONNTREE_MIRROR_INTERVAL (sql backend only; 0 = disabled)
	MirrorS3Bucket   string        `toml:"mirror_s3_bucket"`   // CONNTREE_MIRROR_S3_BUCKET (enables S3 when set)
	MirrorS3Endpoint string        `toml:"mirror_s3_endpoint"` // CONNTREE_MIRROR_S3_ENDPOINT (custom endpoint for MinIO)
	MirrorS3Region   string        `toml:"mirror_s3_region"`   // CONNTREE_MIRROR_S3_REGION (default "us-east-1")
	MirrorS3Key      string        `toml:"mirror_s3_key"`      // CONNTREE_MIRROR_S3_KEY (default "conntree/confCons.xml")
	MirrorGitRepo    string        `toml:"mirror_git_repo"`    // CONNTREE_MIRROR_GIT_REPO (enables git when set; path to clone)
	MirrorGitFile    string        `toml:"mirror_git_file"`    // CONNTREE_MIRROR_GIT_FILE (default "confCons.xml")
	MirrorGitBranch  string        `toml:"mirror_git_branch"`  // CONNTREE_MIRROR_GIT_BRANCH (default "main")
}

// Default returns the built-in settings.
func Default() *Config {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	host, _ := os.Hostname()
	return &Config{
		Backend:             BackendXML,
		File:                filepath.Join(dir, "conntree", "confCons.xml"),
		BackupCount:         10,
		EncryptionEngine:    "AES",
		BlockCipherMode:     "GCM",
		KdfIterations:       1000,
		Instance:            host,
		UpdateCheckInterval: 3 * time.Second,
		MirrorS3Region:      "us-east-1",
		MirrorS3Key:         "conntree/confCons.xml",
		MirrorGitFile:       "confCons.xml",
		MirrorGitBranch:     "main",
	}
}

// Load builds the configuration. path names an optional TOML file; when
// empty, CONNTREE_CONFIG is used. A named file that does not exist is an
// error.
func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		path = os.Getenv("CONNTREE_CONFIG")
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, c); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if c.PresetsFile == "" {
		c.PresetsFile = filepath.Join(filepath.Dir(c.File), "presets.toml")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	c.Backend = strings.ToLower(envOrDefault("CONNTREE_BACKEND", c.Backend))
	c.File = envOrDefault("CONNTREE_FILE", c.File)
	c.DatabaseURL = envOrDefault("CONNTREE_DATABASE_URL", c.DatabaseURL)
	c.EncryptionEngine = envOrDefault("CONNTREE_ENCRYPTION_ENGINE", c.EncryptionEngine)
	c.BlockCipherMode = envOrDefault("CONNTREE_BLOCK_CIPHER_MODE", c.BlockCipherMode)
	c.NATSURL = envOrDefault("CONNTREE_NATS_URL", c.NATSURL)
	c.Instance = envOrDefault("CONNTREE_INSTANCE", c.Instance)
	c.PresetsFile = envOrDefault("CONNTREE_PRESETS_FILE", c.PresetsFile)
	c.MirrorS3Bucket = envOrDefault("CONNTREE_MIRROR_S3_BUCKET", c.MirrorS3Bucket)
	c.MirrorS3Endpoint = envOrDefault("CONNTREE_MIRROR_S3_ENDPOINT", c.MirrorS3Endpoint)
	c.MirrorS3Region = envOrDefault("CONNTREE_MIRROR_S3_REGION", c.MirrorS3Region)
	c.MirrorS3Key = envOrDefault("CONNTREE_MIRROR_S3_KEY", c.MirrorS3Key)
	c.MirrorGitRepo = envOrDefault("CONNTREE_MIRROR_GIT_REPO", c.MirrorGitRepo)
	c.MirrorGitFile = envOrDefault("CONNTREE_MIRROR_GIT_FILE", c.MirrorGitFile)
	c.MirrorGitBranch = envOrDefault("CONNTREE_MIRROR_GIT_BRANCH", c.MirrorGitBranch)

	var err error
	if c.BackupCount, err = envInt("CONNTREE_BACKUP_COUNT", c.BackupCount); err != nil {
		return err
	}
	if c.KdfIterations, err = envInt("CONNTREE_KDF_ITERATIONS", c.KdfIterations); err != nil {
		return err
	}
	for key, dst := range map[string]*bool{
		"CONNTREE_SQL_READ_ONLY":              &c.SQLReadOnly,
		"CONNTREE_FULL_FILE_ENCRYPTION":       &c.FullFileEncryption,
		"CONNTREE_HOSTNAME_LIKE_DISPLAY_NAME": &c.HostnameLikeDisplayName,
		"CONNTREE_AUTO_SAVE":                  &c.AutoSave,
	} {
		if *dst, err = envBool(key, *dst); err != nil {
			return err
		}
	}
	if c.UpdateCheckInterval, err = envDuration("CONNTREE_UPDATE_CHECK_INTERVAL", c.UpdateCheckInterval); err != nil {
		return err
	}
	if c.MirrorInterval, err = envDuration("CONNTREE_MIRROR_INTERVAL", c.MirrorInterval); err != nil {
		return err
	}
	return nil
}

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendXML:
		if c.File == "" {
			return fmt.Errorf("CONNTREE_FILE is required for the xml backend")
		}
	case BackendSQL:
		if c.DatabaseURL == "" {
			return fmt.Errorf("CONNTREE_DATABASE_URL is required for the sql backend")
		}
	default:
		return fmt.Errorf("CONNTREE_BACKEND: unknown backend %q (want %q or %q)", c.Backend, BackendXML, BackendSQL)
	}
	if c.BackupCount < 0 {
		return fmt.Errorf("CONNTREE_BACKUP_COUNT: must not be negative")
	}
	if c.KdfIterations <= 0 {
		return fmt.Errorf("CONNTREE_KDF_ITERATIONS: must be positive")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
