package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"google.golang.org/api/gmail/v1"

	"github.com/bassamadnan/delivnotify/mailbox"
)

const (
	envPrefix = "DELIVNOTIFY"

	BackendGmail = "gmail"
	BackendIMAP  = "imap"

	DefaultTokenURI   = "https://oauth2.googleapis.com/token"
	DefaultWebexBase  = "https://webexapis.com"
	DefaultMarker     = "[実験実習購入]"
	DefaultMetricsJob = "delivnotify"
)

// Search controls which messages are candidates for processing.
type Search struct {
	Marker     string        `mapstructure:"marker"`
	MaxAge     time.Duration `mapstructure:"max_age"`
	UnreadOnly bool          `mapstructure:"unread_only"`
	Query      string        `mapstructure:"query"` // raw Gmail query, overrides the fields above
}

// Mail selects the mailbox backend.
type Mail struct {
	Backend string `mapstructure:"backend"`
	User    string `mapstructure:"user"`
}

// Gmail is the OAuth2 credential bundle for the Gmail API.
type Gmail struct {
	Token        string    `mapstructure:"token"`
	RefreshToken string    `mapstructure:"refresh_token"`
	TokenURI     string    `mapstructure:"token_uri"`
	TokenExpiry  time.Time `mapstructure:"token_expiry"`
	ClientID     string    `mapstructure:"client_id"`
	ClientSecret string    `mapstructure:"client_secret"`
	Scopes       []string  `mapstructure:"scopes"`
}

type IMAP struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	TLS      bool   `mapstructure:"tls"`
	Mailbox  string `mapstructure:"mailbox"`
}

// Webex is the notification destination.
type Webex struct {
	BotToken string `mapstructure:"bot_token"`
	RoomID   string `mapstructure:"room_id"`
	BaseURL  string `mapstructure:"base_url"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console or json
	File   string `mapstructure:"file"`
}

type Metrics struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

type Run struct {
	Timeout time.Duration `mapstructure:"timeout"`
	DryRun  bool          `mapstructure:"dry_run"`
	Review  bool          `mapstructure:"review"`
}

// Config is the full configuration of one run.
type Config struct {
	Search  Search  `mapstructure:"search"`
	Mail    Mail    `mapstructure:"mail"`
	Gmail   Gmail   `mapstructure:"gmail"`
	IMAP    IMAP    `mapstructure:"imap"`
	Webex   Webex   `mapstructure:"webex"`
	Log     Log     `mapstructure:"log"`
	Metrics Metrics `mapstructure:"metrics"`
	Run     Run     `mapstructure:"run"`
}

// Query converts the search section into a mailbox query.
func (c *Config) Query() mailbox.Query {
	return mailbox.Query{
		SubjectMarker: c.Search.Marker,
		MaxAge:        c.Search.MaxAge,
		UnreadOnly:    c.Search.UnreadOnly,
		Raw:           c.Search.Query,
	}
}

// Validate checks the values that would make a run meaningless.
// Missing credentials are not checked here; the components that need them
// report it themselves.
func (c *Config) Validate() error {
	switch c.Mail.Backend {
	case BackendGmail, BackendIMAP:
	default:
		return fmt.Errorf("unknown mail backend %q", c.Mail.Backend)
	}
	if c.Search.Query == "" && c.Search.MaxAge <= 0 {
		return errors.New("search.max_age must be positive")
	}
	if c.Search.Query == "" && c.Search.Marker == "" {
		return errors.New("search.marker must not be empty")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// Flags declares the command line flags that Load understands.
func Flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "path to a YAML config file")
	fs.Bool("dry-run", false, "render notifications without sending or marking read")
	fs.Bool("review", false, "open the interactive review screen")
	fs.String("backend", "", "mail backend: gmail or imap")
	fs.String("log-level", "", "log level: debug, info, warn, error")
	return fs
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("search.marker", DefaultMarker)
	v.SetDefault("search.max_age", 24*time.Hour)
	v.SetDefault("search.unread_only", true)
	v.SetDefault("search.query", "")

	v.SetDefault("mail.backend", BackendGmail)
	v.SetDefault("mail.user", "me")

	v.SetDefault("gmail.token", "")
	v.SetDefault("gmail.refresh_token", "")
	v.SetDefault("gmail.token_uri", DefaultTokenURI)
	v.SetDefault("gmail.token_expiry", "")
	v.SetDefault("gmail.client_id", "")
	v.SetDefault("gmail.client_secret", "")
	v.SetDefault("gmail.scopes", []string{gmail.GmailModifyScope})

	v.SetDefault("imap.host", "")
	v.SetDefault("imap.port", 993)
	v.SetDefault("imap.username", "")
	v.SetDefault("imap.password", "")
	v.SetDefault("imap.tls", true)
	v.SetDefault("imap.mailbox", "INBOX")

	v.SetDefault("webex.bot_token", "")
	v.SetDefault("webex.room_id", "")
	v.SetDefault("webex.base_url", DefaultWebexBase)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")

	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", DefaultMetricsJob)

	v.SetDefault("run.timeout", 5*time.Minute)
	v.SetDefault("run.dry_run", false)
	v.SetDefault("run.review", false)
}

// The credential variables keep the names the deployment secrets already use.
var legacyEnv = map[string]string{
	"gmail.token":         "GMAIL_TOKEN",
	"gmail.refresh_token": "GMAIL_REFRESH_TOKEN",
	"gmail.token_uri":     "GMAIL_TOKEN_URI",
	"gmail.token_expiry":  "GMAIL_TOKEN_EXPIRY",
	"gmail.client_id":     "GMAIL_CLIENT_ID",
	"gmail.client_secret": "GMAIL_CLIENT_SECRET",
	"webex.bot_token":     "WEBEX_BOT_TOKEN",
	"webex.room_id":       "WEBEX_ROOM_ID",
}

var flagKeys = map[string]string{
	"dry-run":   "run.dry_run",
	"review":    "run.review",
	"backend":   "mail.backend",
	"log-level": "log.level",
}

// Load resolves the configuration from defaults, the optional YAML file named
// by --config, the environment and the parsed flags, in increasing priority.
// fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, envPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			f := fs.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("binding flag %s: %w", name, err)
			}
		}
		if path, _ := fs.GetString("config"); path != "" {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		stringToTimeHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// stringToTimeHook decodes RFC 3339 strings into time.Time; an empty string
// leaves the zero time.
func stringToTimeHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(time.Time{}) {
		return data, nil
	}
	s := strings.TrimSpace(data.(string))
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
