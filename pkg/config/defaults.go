package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Notifier names accepted in the "notifiers" list
const (
	NotifierEmail   = "email"
	NotifierWebhook = "webhook"
	NotifierConsole = "console"
	NotifierDesktop = "desktop"
)

// Defaults for optional settings
const (
	DefaultRunEvery   = 15 * 60
	DefaultWaitTime   = 10
	DefaultStorageURL = "permitAvail.json"
	DefaultAPIBaseURL = "https://www.recreation.gov"
	DefaultUserAgent  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:124.0) Gecko/20100101 Firefox/124.0"
	DefaultSMTPHost   = "smtp.gmail.com"
	DefaultSMTPPort   = 465
	DefaultDetailsTTL = time.Hour
)

// KnownNotifiers lists the supported notifier names
func KnownNotifiers() []string {
	return []string{NotifierEmail, NotifierWebhook, NotifierConsole, NotifierDesktop}
}

// DefaultPaths are searched, in order, when no settings file is given
func DefaultPaths() []string {
	paths := []string{"settings.json", "settings.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".permitwatch", "settings.json"),
			filepath.Join(home, ".permitwatch", "settings.yaml"))
	}
	return paths
}

// noticeDefault is an optional key whose absence is reported to the user
type noticeDefault struct {
	key   string
	value interface{}
	text  string
}

var noticeDefaults = []noticeDefault{
	{"show-browser", false, "false"},
	{"run-once", false, "false"},
	{"run-every", DefaultRunEvery, fmt.Sprintf("%d (seconds)", DefaultRunEvery)},
	{"wait-time", DefaultWaitTime, fmt.Sprintf("%d (seconds)", DefaultWaitTime)},
}

// applyDefaults fills optional keys and returns a notice for each of the
// user-facing defaults that had to be filled in
func applyDefaults(v *viper.Viper) []string {
	var notices []string
	for _, d := range noticeDefaults {
		if !v.IsSet(d.key) {
			notices = append(notices,
				fmt.Sprintf(`No %q field in settings. Using %s as a default.`, d.key, d.text))
		}
		v.SetDefault(d.key, d.value)
	}

	v.SetDefault("storage.url", DefaultStorageURL)
	v.SetDefault("storage.backup", false)
	v.SetDefault("api.base-url", DefaultAPIBaseURL)
	v.SetDefault("api.user-agent", DefaultUserAgent)
	v.SetDefault("api.details-ttl", DefaultDetailsTTL)
	v.SetDefault("emails.host", DefaultSMTPHost)
	v.SetDefault("emails.port", DefaultSMTPPort)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	if !v.IsSet("notifiers") {
		if v.IsSet("emails.sendFrom.email") {
			v.SetDefault("notifiers", []string{NotifierEmail})
		} else {
			notices = append(notices,
				`No "emails" field in settings. Printing notifications to the console.`)
			v.SetDefault("notifiers", []string{NotifierConsole})
		}
	}

	return notices
}

// ExpandPaths expands home directory paths
func (s *Settings) ExpandPaths() error {
	expanded, err := expandPath(s.Storage.URL)
	if err != nil {
		return fmt.Errorf("failed to expand storage path: %w", err)
	}
	s.Storage.URL = expanded
	return nil
}
