// Package config loads the "locations" file that tells the scheduler and workers
// where everything lives: job store endpoints, buckets, scratch and log roots,
// tool install paths and mail settings.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes environment overrides, e.g. HPCQ_API_KEY.
	EnvPrefix = "hpcq"

	DefaultStaleLimitHours = 24
	DefaultLockGrace       = 12 * time.Hour
	DefaultSubmitInterval  = 200 * time.Millisecond
	DefaultSignedURLTTL    = 7 * 24 * time.Hour

	StorageGsutil = "gsutil"
	StorageLocal  = "local"
)

// PipelineKeys holds one value per job type, plus a base value shared by all of them.
type PipelineKeys struct {
	Base       string `mapstructure:"base"`
	OGV        string `mapstructure:"ogv"`
	Intactness string `mapstructure:"intactness"`
	TCSDR      string `mapstructure:"tcsdr"`
	Coreceptor string `mapstructure:"coreceptor"`
	Splicing   string `mapstructure:"splicing"`
}

// For returns the value configured for jobType, or "" when unknown.
func (k PipelineKeys) For(jobType string) string {
	switch jobType {
	case "ogv":
		return k.OGV
	case "intactness":
		return k.Intactness
	case "tcsdr":
		return k.TCSDR
	case "coreceptor":
		return k.Coreceptor
	case "splicing":
		return k.Splicing
	case "base", "":
		return k.Base
	}
	return ""
}

// Resolve returns the value for jobType, falling back to <base>/<jobType> when the
// type has no explicit entry. Works for both directories and URLs.
func (k PipelineKeys) Resolve(jobType string) string {
	if v := k.For(jobType); v != "" {
		return v
	}
	if k.Base == "" {
		return ""
	}
	return strings.TrimSuffix(k.Base, "/") + "/" + jobType
}

func (k PipelineKeys) String() string {
	return fmt.Sprintf("base: %s, ogv: %s, intactness: %s, tcsdr: %s, coreceptor: %s, splicing: %s",
		k.Base, k.OGV, k.Intactness, k.TCSDR, k.Coreceptor, k.Splicing)
}

func (k *PipelineKeys) expand() error {
	for _, p := range []*string{&k.Base, &k.OGV, &k.Intactness, &k.TCSDR, &k.Coreceptor, &k.Splicing} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	return nil
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

func (s SMTPConfig) String() string {
	return fmt.Sprintf("SMTPConfig: Host: %s, Port: %d, Username: %s, From: %s", s.Host, s.Port, s.Username, s.From)
}

type ToolsConfig struct {
	// conda environment root used as --cwd for the intactness tool
	IntactnessBasePath string `mapstructure:"intactness_base_path"`
	CoreceptorBasePath string `mapstructure:"coreceptor_base_path"`
	OGVBasePath        string `mapstructure:"ogv_base_path"`
	SplicingBinary     string `mapstructure:"splicing_binary"`
	// timeout for a single tool invocation, 0 means none
	UnitTimeout time.Duration `mapstructure:"unit_timeout"`
}

func (t ToolsConfig) String() string {
	return fmt.Sprintf("ToolsConfig: Intactness: %s, Coreceptor: %s, OGV: %s, Splicing: %s, UnitTimeout: %s",
		t.IntactnessBasePath, t.CoreceptorBasePath, t.OGVBasePath, t.SplicingBinary, t.UnitTimeout)
}

// Locations is the full runtime configuration shared by the scheduler and the workers.
type Locations struct {
	AdminEmail string `mapstructure:"admin_email"`
	// Base holds the lock file and is the working directory for conda tools.
	Base string `mapstructure:"base"`
	// SiteURL is linked from the signature of every email.
	SiteURL      string `mapstructure:"site_url"`
	WorkerBinary string `mapstructure:"worker_binary"`
	APIKey       string `mapstructure:"api_key"`

	LogDir       PipelineKeys `mapstructure:"log_dir"`
	ScratchSpace PipelineKeys `mapstructure:"scratch_space"`
	APIURL       PipelineKeys `mapstructure:"api_url"`
	BucketURL    PipelineKeys `mapstructure:"bucket_url"`

	// StaleLimitHours maps job type to the whole number of hours a pending job may wait.
	StaleLimitHours map[string]int `mapstructure:"stale_limit_hours"`
	LockGrace       time.Duration  `mapstructure:"lock_grace"`
	SubmitInterval  time.Duration  `mapstructure:"submit_interval"`
	SignedURLTTL    time.Duration  `mapstructure:"signed_url_ttl"`

	// Storage selects the object storage backend: gsutil or local.
	Storage            string `mapstructure:"storage"`
	LocalStorageRoot   string `mapstructure:"local_storage_root"`
	PrivateKeyLocation string `mapstructure:"private_key_location"`
	SignURLRegion      string `mapstructure:"sign_url_region"`

	SMTP  SMTPConfig  `mapstructure:"smtp"`
	Tools ToolsConfig `mapstructure:"tools"`

	// Dev runs workers in the foreground and logs emails instead of sending them.
	Dev bool `mapstructure:"-"`
}

func (l Locations) String() string {
	return fmt.Sprintf("Locations: AdminEmail: %s, Base: %s, WorkerBinary: %s, Storage: %s, Dev: %t\n"+
		"  LogDir: %s\n  ScratchSpace: %s\n  APIURL: %s\n  BucketURL: %s\n"+
		"  StaleLimitHours: %v, LockGrace: %s, SubmitInterval: %s, SignedURLTTL: %s\n  %s\n  %s",
		l.AdminEmail, l.Base, l.WorkerBinary, l.Storage, l.Dev,
		l.LogDir, l.ScratchSpace, l.APIURL, l.BucketURL,
		l.StaleLimitHours, l.LockGrace, l.SubmitInterval, l.SignedURLTTL, l.SMTP, l.Tools)
}

// StaleLimit returns the stale limit in whole hours for jobType.
func (l *Locations) StaleLimit(jobType string) int {
	if h, ok := l.StaleLimitHours[jobType]; ok && h > 0 {
		return h
	}
	return DefaultStaleLimitHours
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("worker_binary", "hpcqueue-worker")
	v.SetDefault("lock_grace", DefaultLockGrace)
	v.SetDefault("submit_interval", DefaultSubmitInterval)
	v.SetDefault("signed_url_ttl", DefaultSignedURLTTL)
	v.SetDefault("storage", StorageGsutil)
	v.SetDefault("sign_url_region", "us-east1")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("api_key", "")
	v.SetDefault("admin_email", "")
}

// Load reads the locations file. With an empty path, "locations.json" (or
// "locations.dev.json" in dev mode) is searched for in the working directory,
// $HOME/.hpcqueue and /etc/hpcqueue. HPCQ_* environment variables override file values.
func Load(path string, isDev bool) (*Locations, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		expanded, err := homedir.Expand(path)
		if err != nil {
			return nil, errors.Wrapf(err, "expanding config path %s", path)
		}
		v.SetConfigFile(expanded)
	} else {
		name := "locations"
		if isDev {
			name = "locations.dev"
		}
		v.SetConfigName(name)
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.hpcqueue")
		v.AddConfigPath("/etc/hpcqueue")
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, "reading locations")
	}
	log.Infof("Loaded locations from %s", v.ConfigFileUsed())

	locs := &Locations{}
	if err := v.Unmarshal(locs); err != nil {
		return nil, errors.Wrap(err, "decoding locations")
	}
	locs.Dev = isDev
	if err := locs.normalize(); err != nil {
		return nil, err
	}
	return locs, nil
}

func (l *Locations) normalize() error {
	var err error
	for _, p := range []*string{&l.Base, &l.WorkerBinary, &l.LocalStorageRoot, &l.PrivateKeyLocation,
		&l.Tools.IntactnessBasePath, &l.Tools.CoreceptorBasePath, &l.Tools.OGVBasePath, &l.Tools.SplicingBinary} {
		if *p, err = homedir.Expand(*p); err != nil {
			return errors.Wrap(err, "expanding locations path")
		}
	}
	for _, k := range []*PipelineKeys{&l.LogDir, &l.ScratchSpace} {
		if err := k.expand(); err != nil {
			return errors.Wrap(err, "expanding locations path")
		}
	}
	return l.Validate()
}

// Validate checks the fields every process needs regardless of job type.
func (l *Locations) Validate() error {
	if l.Base == "" {
		return errors.New("locations: base is required")
	}
	switch l.Storage {
	case StorageGsutil:
	case StorageLocal:
		if l.LocalStorageRoot == "" {
			return errors.New("locations: local_storage_root is required for local storage")
		}
	default:
		return errors.Errorf("locations: unknown storage backend %q", l.Storage)
	}
	if l.SubmitInterval < 0 || l.LockGrace <= 0 {
		return errors.New("locations: lock_grace must be positive and submit_interval non-negative")
	}
	return nil
}
