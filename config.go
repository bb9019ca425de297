package fusesnap

// config.go loads engine configuration from YAML files.

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/aalhour/fusesnap/internal/catalog"
	"github.com/aalhour/fusesnap/internal/checksum"
	"github.com/aalhour/fusesnap/internal/compression"
	"github.com/aalhour/fusesnap/internal/logging"
	"github.com/aalhour/fusesnap/internal/objstore"
	"github.com/aalhour/fusesnap/internal/retention"
	"github.com/aalhour/fusesnap/internal/vfs"
)

// maxConfigFileSize bounds the config files LoadConfig accepts.
const maxConfigFileSize = 1 << 20

var configValidate = validator.New(validator.WithRequiredStructEnabled())

// Config is the file form of Options.
//
//	storage:
//	  backend: fs
//	  dir: /var/lib/fusesnap/data
//	catalog:
//	  backend: badger
//	  path: /var/lib/fusesnap/catalog
//	retention:
//	  time_horizon: 72h
//	  min_snapshots: 3
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Manifest  ManifestConfig  `yaml:"manifest"`
	Commit    CommitConfig    `yaml:"commit"`
	Retention RetentionConfig `yaml:"retention"`
	Cache     CacheConfig     `yaml:"cache"`
	Log       LogConfig       `yaml:"log"`
}

// StorageConfig selects the object store.
type StorageConfig struct {
	Backend         string `yaml:"backend" validate:"omitempty,oneof=memory fs gcs"`
	Dir             string `yaml:"dir" validate:"required_if=Backend fs"`
	Bucket          string `yaml:"bucket" validate:"required_if=Backend gcs"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file"`
}

// CatalogConfig selects the catalog backend.
type CatalogConfig struct {
	Backend    string `yaml:"backend" validate:"omitempty,oneof=memory badger"`
	Path       string `yaml:"path" validate:"required_if=Backend badger"`
	SyncWrites *bool  `yaml:"sync_writes"`
}

// ManifestConfig names the manifest codecs.
type ManifestConfig struct {
	Compression string `yaml:"compression"`
	Checksum    string `yaml:"checksum" validate:"omitempty,oneof=none crc32c xxhash64 xxh3"`
}

// CommitConfig bounds commit retries.
type CommitConfig struct {
	MaxRetries int           `yaml:"max_retries" validate:"gte=0,lte=1000"`
	Backoff    time.Duration `yaml:"backoff" validate:"gte=0"`
	MaxBackoff time.Duration `yaml:"max_backoff" validate:"gte=0"`
	Writer     string        `yaml:"writer"`
}

// RetentionConfig configures vacuum and dropped-table retention.
type RetentionConfig struct {
	TimeHorizon      time.Duration `yaml:"time_horizon" validate:"gte=0"`
	MinSnapshots     int           `yaml:"min_snapshots" validate:"gte=0"`
	SweepOrphans     bool          `yaml:"sweep_orphans"`
	OrphanMinAge     time.Duration `yaml:"orphan_min_age" validate:"gte=0"`
	DropRetention    time.Duration `yaml:"drop_retention" validate:"gte=0"`
	Concurrency      int           `yaml:"concurrency" validate:"gte=0,lte=1024"`
	DeletesPerSecond float64       `yaml:"deletes_per_second" validate:"gte=0"`
}

// CacheConfig sizes in-memory caches.
type CacheConfig struct {
	Manifests *int `yaml:"manifests" validate:"omitempty,gte=0"`
	MaxPinned int  `yaml:"max_pinned" validate:"gte=0"`
}

// LogConfig sets the log level.
type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error DEBUG INFO WARN WARNING ERROR"`
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("fusesnap: config: %w", err)
	}
	if st.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("%w: config %s is %d bytes, limit %d", ErrInvalidArgument, path, st.Size(), maxConfigFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fusesnap: config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes and validates YAML config data. Unknown keys are
// rejected.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: config: %v", ErrInvalidArgument, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and codec names.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: config: %s fails %q (value %v)", ErrInvalidArgument, fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("%w: config: %v", ErrInvalidArgument, err)
	}
	if c.Manifest.Compression != "" {
		if _, err := compression.Parse(c.Manifest.Compression); err != nil {
			return fmt.Errorf("%w: config: %v", ErrInvalidArgument, err)
		}
	}
	if c.Log.Level != "" {
		if _, err := logging.ParseLevel(c.Log.Level); err != nil {
			return fmt.Errorf("%w: config: %v", ErrInvalidArgument, err)
		}
	}
	return nil
}

func parseChecksum(name string) checksum.Type {
	switch name {
	case "none":
		return checksum.TypeNoChecksum
	case "crc32c":
		return checksum.TypeCRC32C
	case "xxhash64":
		return checksum.TypeXXHash64
	default:
		return checksum.TypeXXH3
	}
}

// Options opens the configured catalog and store and returns engine
// options built on DefaultOptions. The caller owns the returned Catalog and
// Store until they are handed to Open, whose Close releases them.
func (c *Config) Options(ctx context.Context) (Options, error) {
	opts := DefaultOptions()

	if c.Log.Level != "" {
		level, err := logging.ParseLevel(c.Log.Level)
		if err != nil {
			return Options{}, err
		}
		opts.Logger = logging.NewDefaultLogger(level)
	}
	if c.Manifest.Compression != "" {
		t, err := compression.Parse(c.Manifest.Compression)
		if err != nil {
			return Options{}, err
		}
		opts.ManifestCompression = t
	}
	if c.Manifest.Checksum != "" {
		opts.ManifestChecksum = parseChecksum(c.Manifest.Checksum)
	}
	if c.Commit.MaxRetries > 0 {
		opts.MaxCommitRetries = c.Commit.MaxRetries
	}
	if c.Commit.Backoff > 0 {
		opts.CommitBackoff = c.Commit.Backoff
	}
	if c.Commit.MaxBackoff > 0 {
		opts.MaxCommitBackoff = c.Commit.MaxBackoff
	}
	opts.Writer = c.Commit.Writer

	r := c.Retention
	if r.TimeHorizon > 0 || r.MinSnapshots > 0 || r.SweepOrphans {
		opts.DefaultRetention = retention.Policy{
			TimeHorizon:        r.TimeHorizon,
			MinSnapshotsToKeep: r.MinSnapshots,
			SweepOrphans:       r.SweepOrphans,
			OrphanMinAge:       r.OrphanMinAge,
		}
		if opts.DefaultRetention.TimeHorizon == 0 {
			opts.DefaultRetention.TimeHorizon = retention.DefaultPolicy().TimeHorizon
		}
	}
	if r.DropRetention > 0 {
		opts.DropRetention = r.DropRetention
	}
	if r.Concurrency > 0 {
		opts.VacuumConcurrency = r.Concurrency
	}
	opts.VacuumDeletesPerSecond = r.DeletesPerSecond

	if c.Cache.Manifests != nil {
		opts.ManifestCacheSize = *c.Cache.Manifests
	}
	opts.MaxPinnedSnapshots = c.Cache.MaxPinned

	store, err := c.openStore(ctx)
	if err != nil {
		return Options{}, err
	}
	cat, err := c.openCatalog(opts.Logger)
	if err != nil {
		if cl, ok := store.(io.Closer); ok {
			_ = cl.Close()
		}
		return Options{}, err
	}
	opts.Store = store
	opts.Catalog = cat
	return opts, nil
}

func (c *Config) openStore(ctx context.Context) (objstore.Store, error) {
	s := c.Storage
	switch s.Backend {
	case "", "memory":
		return objstore.NewMemory(), nil
	case "fs":
		return objstore.NewFS(vfs.Default(), s.Dir)
	case "gcs":
		return objstore.NewGCS(ctx, objstore.GCSConfig{
			Bucket:          s.Bucket,
			Prefix:          s.Prefix,
			CredentialsFile: s.CredentialsFile,
			WriteOnce:       true,
		})
	}
	return nil, fmt.Errorf("%w: storage backend %q", ErrInvalidArgument, s.Backend)
}

func (c *Config) openCatalog(logger Logger) (catalog.Catalog, error) {
	cc := c.Catalog
	switch cc.Backend {
	case "", "memory":
		return catalog.NewMemory(), nil
	case "badger":
		bc := catalog.DefaultBadgerConfig(cc.Path)
		if cc.SyncWrites != nil {
			bc.SyncWrites = *cc.SyncWrites
		}
		bc.Logger = logger
		return catalog.OpenBadger(bc)
	}
	return nil, fmt.Errorf("%w: catalog backend %q", ErrInvalidArgument, cc.Backend)
}
