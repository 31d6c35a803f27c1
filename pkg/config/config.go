package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	perrors "github.com/yairfalse/permitwatch/internal/errors"
	"github.com/yairfalse/permitwatch/pkg/types"
)

// EnvPrefix is the prefix of environment variable overrides
const EnvPrefix = "PERMITWATCH"

// Settings is the validated content of the settings document
type Settings struct {
	ShowBrowser bool           `mapstructure:"show-browser" yaml:"show-browser"`
	RunOnce     bool           `mapstructure:"run-once" yaml:"run-once"`
	RunEvery    int            `mapstructure:"run-every" yaml:"run-every"`
	WaitTime    int            `mapstructure:"wait-time" yaml:"wait-time"`
	Permits     []types.Entity `mapstructure:"permits" yaml:"permits"`
	Dates       DatesConfig    `mapstructure:"dates" yaml:"dates"`
	Emails      EmailsConfig   `mapstructure:"emails" yaml:"emails"`
	Notifiers   []string       `mapstructure:"notifiers" yaml:"notifiers"`
	Webhook     WebhookConfig  `mapstructure:"webhook" yaml:"webhook,omitempty"`
	Storage     StorageConfig  `mapstructure:"storage" yaml:"storage"`
	API         APIConfig      `mapstructure:"api" yaml:"api"`
	Logging     LoggingConfig  `mapstructure:"logging" yaml:"logging"`

	// Path is the settings file the values were read from
	Path string `mapstructure:"-" yaml:"-"`
	// Notices lists the defaults that were filled in
	Notices []string `mapstructure:"-" yaml:"-"`
	// Range is the parsed form of Dates
	Range types.DateRange `mapstructure:"-" yaml:"-"`
}

// DatesConfig holds the window of dates to search, as YYYY-MM-DD
type DatesConfig struct {
	Start string `mapstructure:"start" yaml:"start"`
	End   string `mapstructure:"end" yaml:"end"`
}

// EmailsConfig holds the SMTP sender and recipient lists
type EmailsConfig struct {
	SendFrom     SenderConfig `mapstructure:"sendFrom" yaml:"sendFrom"`
	SendTo       []string     `mapstructure:"sendTo" yaml:"sendTo"`
	SendErrorsTo []string     `mapstructure:"sendErrorsTo" yaml:"sendErrorsTo"`
	Host         string       `mapstructure:"host" yaml:"host"`
	Port         int          `mapstructure:"port" yaml:"port"`
}

// SenderConfig is the account used to send email. An empty AppPass is
// looked up in the OS keyring.
type SenderConfig struct {
	Email   string `mapstructure:"email" yaml:"email"`
	AppPass string `mapstructure:"appPass" yaml:"-"`
}

// WebhookConfig configures the webhook notifier
type WebhookConfig struct {
	URL      string `mapstructure:"url" yaml:"url,omitempty"`
	ErrorURL string `mapstructure:"error-url" yaml:"error-url,omitempty"`
}

// StorageConfig configures where the snapshot store lives
type StorageConfig struct {
	// URL is a file path or a s3://, gs://, azblob:// or sqlite:// location
	URL    string `mapstructure:"url" yaml:"url"`
	Backup bool   `mapstructure:"backup" yaml:"backup"`
}

// APIConfig configures the availability API client
type APIConfig struct {
	BaseURL    string        `mapstructure:"base-url" yaml:"base-url"`
	UserAgent  string        `mapstructure:"user-agent" yaml:"user-agent"`
	DetailsTTL time.Duration `mapstructure:"details-ttl" yaml:"details-ttl"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Interval is the delay between the end of one check and the start of the next
func (s *Settings) Interval() time.Duration {
	return time.Duration(s.RunEvery) * time.Second
}

// WaitBudget is the time allowed for each request to the availability API
func (s *Settings) WaitBudget() time.Duration {
	return time.Duration(s.WaitTime) * time.Second
}

// ErrorRecipients returns the addresses that receive failure reports
func (e EmailsConfig) ErrorRecipients() []string {
	if len(e.SendErrorsTo) > 0 {
		return e.SendErrorsTo
	}
	return e.SendTo
}

// Load reads, defaults and validates the settings file at path. Any
// failure is a configuration error.
func Load(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext == "" {
		v.SetConfigType("json")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, perrors.ConfigReadError(path, err)
	}

	settings, err := FromViper(v)
	if err != nil {
		return nil, err
	}
	settings.Path = path
	return settings, nil
}

// FromViper builds settings from an already populated viper instance
func FromViper(v *viper.Viper) (*Settings, error) {
	if err := checkMandatory(v); err != nil {
		return nil, err
	}

	notices := applyDefaults(v)

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, perrors.ConfigReadError(v.ConfigFileUsed(), err)
	}
	settings.Notices = notices

	if err := settings.ExpandPaths(); err != nil {
		return nil, perrors.ConfigError(err.Error())
	}

	if len(settings.Emails.SendErrorsTo) == 0 && len(settings.Emails.SendTo) > 0 {
		settings.Notices = append(settings.Notices,
			`No "sendErrorsTo" field in settings. Sending error reports to "sendTo".`)
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &settings, nil
}

// checkMandatory fails on keys that have no default
func checkMandatory(v *viper.Viper) error {
	if !v.IsSet("permits") {
		return perrors.ConfigError(`No "permits" field in settings. No permits to search for.`,
			`Add a "permits" list with at least one {"id": "..."} entry`)
	}
	if !v.IsSet("dates") {
		return perrors.ConfigError(`No "dates" field in settings. No time range to search in.`,
			`Add "dates": {"start": "YYYY-MM-DD", "end": "YYYY-MM-DD"}`)
	}
	if !v.IsSet("dates.start") || !v.IsSet("dates.end") {
		return perrors.ConfigError(`Must have "start" and "end" fields under "dates". No time range to search in.`,
			`Add "dates": {"start": "YYYY-MM-DD", "end": "YYYY-MM-DD"}`)
	}
	return nil
}

// Validate checks the settings values. It assumes defaults were applied.
func (s *Settings) Validate() error {
	if len(s.Permits) == 0 {
		return perrors.ConfigError(`Empty list of permits in settings. No permits to search for.`,
			`Add at least one {"id": "..."} entry to "permits"`)
	}

	seen := make(map[types.EntityID]bool, len(s.Permits))
	for _, p := range s.Permits {
		if err := p.Validate(); err != nil {
			return perrors.ConfigError(err.Error())
		}
		if seen[p.ID] {
			return perrors.ConfigError(fmt.Sprintf("permit %s is listed more than once", p.ID))
		}
		seen[p.ID] = true
	}

	r, err := types.ParseDateRange(s.Dates.Start, s.Dates.End)
	if err != nil {
		return perrors.ConfigError(err.Error(), `Dates must look like "2025-03-01"`)
	}
	s.Range = r

	if s.RunEvery <= 0 {
		return perrors.ConfigError(fmt.Sprintf(`"run-every" must be a positive number of seconds, got %d`, s.RunEvery))
	}
	if s.WaitTime <= 0 {
		return perrors.ConfigError(fmt.Sprintf(`"wait-time" must be a positive number of seconds, got %d`, s.WaitTime))
	}

	for _, name := range s.Notifiers {
		if err := s.validateNotifier(name); err != nil {
			return err
		}
	}
	return nil
}

func (s *Settings) validateNotifier(name string) error {
	switch name {
	case NotifierEmail:
		if s.Emails.SendFrom.Email == "" {
			return perrors.ConfigError(`email notifications need "emails.sendFrom.email"`)
		}
		if len(s.Emails.SendTo) == 0 {
			return perrors.ConfigError(`email notifications need at least one address in "emails.sendTo"`)
		}
	case NotifierWebhook:
		if s.Webhook.URL == "" {
			return perrors.ConfigError(`webhook notifications need "webhook.url"`)
		}
	case NotifierConsole, NotifierDesktop:
	default:
		return perrors.ConfigError(fmt.Sprintf("unknown notifier %q", name),
			fmt.Sprintf("Use one of: %s", strings.Join(KnownNotifiers(), ", ")))
	}
	return nil
}

// ResolvePath returns the settings file to use: the explicit path if
// given, otherwise the first existing default location.
func ResolvePath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	for _, candidate := range DefaultPaths() {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", perrors.ConfigReadError(strings.Join(DefaultPaths(), ", "),
		errors.New("no settings file found"))
}

// expandPath expands ~ to home directory
func expandPath(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path, err
	}

	if len(path) == 1 {
		return home, nil
	}

	return filepath.Join(home, path[1:]), nil
}
