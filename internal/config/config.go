package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Env           string
	Addr          string
	DatabaseURL   string

	// Connection pool bounds and how long startup waits for the database
	DBMaxOpenConns int
	DBMaxIdleConns int
	DBWaitTimeout  time.Duration

	JWTSecret     string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	CORSOrigin    string
	MeiliURL      string
	MeiliKey      string
	ArchiveDir    string
	LogLevel      string
	LogFormat     string
	PublicBaseURL string
	// SMTP Configuration
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	// SendgridAPIKey selects SendGrid over SMTP when set
	SendgridAPIKey string
	// Recipients of activity notifications
	ActivityNotifyTo []string
	GEFLITSTAddress  string
	// Redis Configuration
	RedisURL string
	// Seed account created on an empty database
	BootstrapAdminEmail    string
	BootstrapAdminPassword string
}

// Load reads configuration from the environment. Variables use the ASSOC_
// prefix, e.g. ASSOC_DATABASE_URL. Dotenv files are optional.
func Load() Config {
	env := strings.ToLower(strings.TrimSpace(os.Getenv("ASSOC_ENV")))
	if env == "" {
		env = "dev"
	}
	loadDotEnv(".env." + env)
	loadDotEnv(".env")

	return FromViper(newViper(env))
}

func newViper(env string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("ASSOC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("env", env)
	v.SetDefault("addr", ":8787")
	v.SetDefault("database_url", "")
	v.SetDefault("db_max_open_conns", 20)
	v.SetDefault("db_max_idle_conns", 10)
	v.SetDefault("db_wait_timeout", 30*time.Second)
	v.SetDefault("jwt_secret", "association-dev-secret")
	v.SetDefault("access_ttl", 15*time.Minute)
	v.SetDefault("refresh_ttl", 30*24*time.Hour)
	v.SetDefault("cors_origin", "*")
	v.SetDefault("meili_url", "")
	v.SetDefault("meili_key", "")
	v.SetDefault("archive_dir", "./data/archive")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("public_base_url", "http://localhost:8787")
	// SMTP - empty by default, email disabled if not configured
	v.SetDefault("smtp_host", "")
	v.SetDefault("smtp_port", "587")
	v.SetDefault("smtp_username", "")
	v.SetDefault("smtp_password", "")
	v.SetDefault("smtp_from", "")
	v.SetDefault("smtp_from_name", "Activities")
	v.SetDefault("sendgrid_api_key", "")
	v.SetDefault("activity_notify_to", "")
	v.SetDefault("geflitst_address", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("bootstrap_admin_email", "admin@localhost")
	v.SetDefault("bootstrap_admin_password", "")
	return v
}

// FromViper maps an already populated viper instance onto Config.
func FromViper(v *viper.Viper) Config {
	return Config{
		Env:                    v.GetString("env"),
		Addr:                   v.GetString("addr"),
		DatabaseURL:            v.GetString("database_url"),
		DBMaxOpenConns:         v.GetInt("db_max_open_conns"),
		DBMaxIdleConns:         v.GetInt("db_max_idle_conns"),
		DBWaitTimeout:          v.GetDuration("db_wait_timeout"),
		JWTSecret:              v.GetString("jwt_secret"),
		AccessTTL:              v.GetDuration("access_ttl"),
		RefreshTTL:             v.GetDuration("refresh_ttl"),
		CORSOrigin:             v.GetString("cors_origin"),
		MeiliURL:               v.GetString("meili_url"),
		MeiliKey:               v.GetString("meili_key"),
		ArchiveDir:             v.GetString("archive_dir"),
		LogLevel:               v.GetString("log_level"),
		LogFormat:              v.GetString("log_format"),
		PublicBaseURL:          strings.TrimRight(v.GetString("public_base_url"), "/"),
		SMTPHost:               v.GetString("smtp_host"),
		SMTPPort:               v.GetString("smtp_port"),
		SMTPUsername:           v.GetString("smtp_username"),
		SMTPPassword:           v.GetString("smtp_password"),
		SMTPFrom:               v.GetString("smtp_from"),
		SMTPFromName:           v.GetString("smtp_from_name"),
		SendgridAPIKey:         v.GetString("sendgrid_api_key"),
		ActivityNotifyTo:       splitList(v.GetString("activity_notify_to")),
		GEFLITSTAddress:        v.GetString("geflitst_address"),
		RedisURL:               v.GetString("redis_url"),
		BootstrapAdminEmail:    v.GetString("bootstrap_admin_email"),
		BootstrapAdminPassword: v.GetString("bootstrap_admin_password"),
	}
}

func loadDotEnv(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	// Variables already present in the environment win over the file.
	_ = godotenv.Load(path)
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
