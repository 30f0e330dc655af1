/*
Package config loads the relay configuration from YAML.
*/
package config

import (
	"io/ioutil"
	"os"
	"time"

	"dario.cat/mergo"
	"github.com/jawr/mxrelay/internal/logger"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App       App       `yaml:"app"`
	EmailIt   EmailIt   `yaml:"emailit"`
	Sender    Sender    `yaml:"sender"`
	Database  Database  `yaml:"database"`
	MQ        MQ        `yaml:"mq"`
	Scheduler Scheduler `yaml:"scheduler"`
	Retention Retention `yaml:"retention"`
	HTTP      HTTP      `yaml:"http"`
	SMTP      SMTP      `yaml:"smtp"`
}

type App struct {
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`
}

type EmailIt struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Sender holds the default from address parts
type Sender struct {
	FromPrefix string `yaml:"from_prefix"`
	FromDomain string `yaml:"from_domain"`
	FromName   string `yaml:"from_name"`
}

// Database is optional; without a URL logs are kept in memory
type Database struct {
	URL string `yaml:"url"`
}

// MQ is optional; without a URL no metrics are published
type MQ struct {
	URL          string `yaml:"url"`
	MetricsQueue string `yaml:"metrics_queue"`
}

type Scheduler struct {
	// empty keeps tasks in memory only
	Path          string        `yaml:"path"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	SendDelay     time.Duration `yaml:"send_delay"`
	BatchSize     int           `yaml:"batch_size"`
	BatchInterval time.Duration `yaml:"batch_interval"`
}

type Retention struct {
	logger.RetentionPolicy `yaml:",inline"`
	SweepInterval          time.Duration `yaml:"sweep_interval"`
}

type HTTP struct {
	Addr         string `yaml:"addr"`
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
	CacheMaxCost int64  `yaml:"cache_max_cost"`
}

// SMTP ingress is disabled when Addr is empty
type SMTP struct {
	Addr           string `yaml:"addr"`
	Domain         string `yaml:"domain"`
	Username       string `yaml:"username"`
	PasswordHash   string `yaml:"password_hash"`
	AllowAnonymous bool   `yaml:"allow_anonymous"`
}

func Default() Config {
	return Config{
		App: App{
			Env:      "production",
			LogLevel: "info",
		},
		EmailIt: EmailIt{
			BaseURL: "https://api.emailit.com/v2",
			Timeout: 30 * time.Second,
		},
		MQ: MQ{
			MetricsQueue: "metrics",
		},
		Scheduler: Scheduler{
			PollInterval:  5 * time.Second,
			SendDelay:     2 * time.Second,
			BatchSize:     10,
			BatchInterval: 60 * time.Second,
		},
		Retention: Retention{
			RetentionPolicy: logger.DefaultRetentionPolicy(),
			SweepInterval:   24 * time.Hour,
		},
		HTTP: HTTP{
			Addr:         ":8080",
			CacheMaxCost: 64 << 20,
		},
		SMTP: SMTP{
			Domain: "localhost",
		},
	}
}

// Load reads path, expands ${ENV} references and fills unset values
// from Default. An empty path loads defaults only.
func Load(path string) (*Config, error) {
	var cfg Config

	if len(path) > 0 {
		data, err := ioutil.ReadFile(path)
		if err != nil {
			return nil, errors.WithMessage(err, "ReadFile")
		}

		data = []byte(os.ExpandEnv(string(data)))

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.WithMessage(err, "yaml.Unmarshal")
		}
	}

	if err := mergo.Merge(&cfg, Default()); err != nil {
		return nil, errors.WithMessage(err, "mergo.Merge")
	}

	cfg.Retention.RetentionPolicy = cfg.Retention.RetentionPolicy.Sanitize()

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Scheduler.BatchSize < 1 {
		return errors.New("scheduler.batch_size must be positive")
	}
	if c.Scheduler.PollInterval <= 0 || c.Scheduler.BatchInterval <= 0 || c.Retention.SweepInterval <= 0 {
		return errors.New("scheduler and retention intervals must be positive")
	}
	if len(c.HTTP.Addr) > 0 && (len(c.HTTP.Username) == 0 || len(c.HTTP.PasswordHash) == 0) {
		return errors.New("http.username and http.password_hash are required when the admin api is enabled")
	}
	if len(c.SMTP.Addr) > 0 && !c.SMTP.AllowAnonymous && (len(c.SMTP.Username) == 0 || len(c.SMTP.PasswordHash) == 0) {
		return errors.New("smtp.username and smtp.password_hash are required unless smtp.allow_anonymous is set")
	}
	return nil
}
