// Package config defines the necessary types to configure the application.
// An example config file config.yaml is provided in the repository.
package config

import (
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
)

type Config struct {
	commoncfg.BaseConfig `mapstructure:",squash" yaml:",inline"`

	HTTP HTTPServer `yaml:"http"`

	Database Database `yaml:"database"`
	OIDC     OIDC     `yaml:"oidc"`
	Admin    Admin    `yaml:"admin"`
}

type HTTPServer struct {
	Address         string        `yaml:"address" default:":8080"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"5s"`
}

type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

type Database struct {
	Driver Driver `yaml:"driver" default:"postgres"`

	// PostgreSQL
	Name     string              `yaml:"name"`
	Port     string              `yaml:"port"`
	Host     commoncfg.SourceRef `yaml:"host"`
	User     commoncfg.SourceRef `yaml:"user"`
	Password commoncfg.SourceRef `yaml:"password"`

	// SQLite
	Path string `yaml:"path" default:"./providers.db"`
}

// OIDC configures how clients for the registered providers are built.
type OIDC struct {
	// WebDomain is the public base URL used for the default callback URL.
	WebDomain string `yaml:"webDomain"`
	// RedirectURL overrides the callback URL. A "{provider}" placeholder
	// is replaced by the provider name. OIDC_REDIRECT_URL takes precedence.
	RedirectURL    string        `yaml:"redirectURL"`
	ClientCacheTTL time.Duration `yaml:"clientCacheTTL" default:"10m"`
	// MTLS is used for discovery requests when set.
	MTLS *commoncfg.MTLS `yaml:"mtls"`
}

type Admin struct {
	Token commoncfg.SourceRef `yaml:"token"`
}
