// Package config reads the process configuration from the environment.
//
// The configuration is loaded once at startup and handed to the rest of the
// program by value. Nothing is validated here: a missing key only matters to
// the code path that needs it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	// ErrParsingConfig is returned when the environment can't be parsed into Config.
	ErrParsingConfig = errors.New("failed to parse environment variables into config")
	// ErrEnvFile is returned when an explicitly requested env file can't be loaded.
	ErrEnvFile = errors.New("failed to load env file")
)

type MetaConfig struct {
	Version         string
	AppName         string `env:"APP_NAME" envDefault:"app"`
	Host            string `env:"HOST" envDefault:"127.0.0.1"`
	Port            string `env:"PORT" envDefault:"5050"`
	SiteURL         string `env:"SITE_URL"`
	DevelopmentMode bool   `env:"DEBUG"`
	LiveTemplate    bool   `env:"TEMPLATE_LIVE"`
	PathTemplates   string `env:"TEMPLATE_DIR" envDefault:"templates"`
	PathStatic      string `env:"STATIC_DIR" envDefault:"static"`
}

// KeyConfig holds the mail provider settings.
type KeyConfig struct {
	DomainName    string `env:"DOMAIN_NAME"`
	AdminEmail    string `env:"ADMIN_EMAIL"`
	MailgunAPIKey string `env:"MAILGUN_API_KEY"`
	MailgunURL    string `env:"MAILGUN_BASE_URL" envDefault:"https://api.mailgun.net/v3"`
}

type SecurityConfig struct {
	SecretKey       string        `env:"SECRET_KEY"`
	CSRFKey         string        `env:"CSRF_SESSION_KEY"`
	CSRFEnabled     bool          `env:"CSRF_ENABLED" envDefault:"true"`
	Whitelist       string        `env:"ALLOWLIST_FILE"`
	Blacklist       string        `env:"BLOCKLIST_FILE"`
	GreylistRefresh time.Duration `env:"GREYLIST_REFRESH" envDefault:"0s"`
}

type LogConfig struct {
	Level      string `env:"LOG_LEVEL" envDefault:"info"`
	File       string `env:"LOG_FILE" envDefault:"app.log"`
	MaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"1"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"3"`
}

// HTTPConfig holds server timeouts. No write timeout: a contact request
// stays open for the whole upstream call.
type HTTPConfig struct {
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

type Config struct {
	Meta MetaConfig
	Keys KeyConfig
	Sec  SecurityConfig
	Log  LogConfig
	HTTP HTTPConfig

	ConfigFilePath string // first env file, empty if only the process environment was used
}

// Load reads the given env files (or ./.env when none are given and it
// exists), then parses the environment into a Config. Values already present
// in the process environment win over values from files.
func Load(envFiles ...string) (Config, error) {
	if err := loadEnvFiles(envFiles...); err != nil {
		return Config{}, err
	}
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, errors.Join(ErrParsingConfig, err)
	}
	if len(envFiles) > 0 {
		cfg.ConfigFilePath = envFiles[0]
	}
	if err := CheckConfig(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadEnvFiles(files ...string) error {
	if len(files) == 0 {
		// the default .env is optional
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return errors.Join(ErrEnvFile, err)
		}
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return errors.Join(ErrEnvFile, err)
	}
	return nil
}

// CheckConfig makes the template and static directories absolute, relative
// to the env file's directory when one was used, otherwise to the working
// directory. The directories are not required to exist yet.
func CheckConfig(config *Config) error {
	dir, err := os.Getwd()
	if err != nil {
		return err
	}
	if config.ConfigFilePath != "" {
		dir, err = filepath.Abs(filepath.Dir(config.ConfigFilePath))
		if err != nil {
			return fmt.Errorf("resolving config dir: %w", err)
		}
	}
	for _, p := range []*string{&config.Meta.PathTemplates, &config.Meta.PathStatic} {
		if *p == "" || filepath.IsAbs(*p) {
			continue
		}
		*p = filepath.Join(dir, *p)
	}
	return nil
}

// Addr is the listen address built from HOST and PORT.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Meta.Host, c.Meta.Port)
}

// CSRFActive reports whether CSRF protection can be turned on. It needs both
// the flag and a key.
func (c Config) CSRFActive() bool {
	return c.Sec.CSRFEnabled && c.Sec.CSRFKey != ""
}

// Plaintext reports whether the site is served over plain HTTP. Unless
// SITE_URL says https, plain HTTP is assumed. Development mode always counts
// as plaintext, so cookies are not marked Secure.
func (c Config) Plaintext() bool {
	return c.Meta.DevelopmentMode || !strings.HasPrefix(strings.ToLower(c.Meta.SiteURL), "https://")
}
