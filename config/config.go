package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DefaultEnvFile — файл с секретами рядом с бинарником.
const DefaultEnvFile = ".env"

// Config агрегирует значения конфигурации из переменных окружения.
type Config struct {
	OAuth    OAuthConfig
	Server   ServerConfig
	Postgres PostgresConfig
	Journal  JournalConfig
	Debug    Flag `env:"DEBUG" envDefault:"false"`
}

// Flag — переключатель, включённый только значением "true" в любом регистре.
// Любое другое значение означает false и не считается ошибкой.
type Flag bool

// UnmarshalText реализует encoding.TextUnmarshaler для caarlos0/env.
func (f *Flag) UnmarshalText(text []byte) error {
	*f = Flag(strings.EqualFold(strings.TrimSpace(string(text)), "true"))
	return nil
}

// OAuthConfig содержит адрес провайдера и учётные данные для password grant.
type OAuthConfig struct {
	TokenURL       string        `env:"TOKEN_URL" envDefault:"https://login.mzoneweb.net/connect/token"`
	ClientID       string        `env:"CLIENT_ID"`
	ClientSecret   string        `env:"CLIENT_SECRET"`
	Username       string        `env:"OAUTH_USERNAME"`
	Password       string        `env:"OAUTH_PASSWORD"`
	Scope          string        `env:"SCOPE" envDefault:"mz6-api.all mz_username"`
	GrantType      string        `env:"GRANT_TYPE" envDefault:"password"`
	ResponseType   string        `env:"RESPONSE_TYPE" envDefault:"code id_token"`
	RequestTimeout time.Duration `env:"TOKEN_REQUEST_TIMEOUT" envDefault:"10s"`
}

// ServerConfig задаёт адрес HTTP сервера и каталог со статикой клиента.
type ServerConfig struct {
	Host            string        `env:"HOST" envDefault:"0.0.0.0"`
	Port            int           `env:"PORT" envDefault:"5000"`
	StaticDir       string        `env:"STATIC_DIR" envDefault:"."`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Addr собирает адрес для http.Server.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// PostgresConfig хранит параметры подключения к журналу запросов токена.
// Журнал включается, только если задан POSTGRES_HOST.
type PostgresConfig struct {
	Host     string `env:"POSTGRES_HOST"`
	Port     string `env:"POSTGRES_PORT"`
	DB       string `env:"POSTGRES_DB"`
	User     string `env:"POSTGRES_USER"`
	Password string `env:"POSTGRES_PASSWORD"`
}

// Enabled сообщает, настроен ли журнал в PostgreSQL.
func (p PostgresConfig) Enabled() bool {
	return p.Host != ""
}

// DSN собирает строку подключения для pgx/pgxpool.
func (p PostgresConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     net.JoinHostPort(p.Host, p.Port),
		Path:     "/" + p.DB,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// JournalConfig задаёт параметры батчинга при записи событий в журнал.
type JournalConfig struct {
	MaxBatch      int           `env:"JOURNAL_MAX_BATCH" envDefault:"100"`
	FlushEvery    time.Duration `env:"JOURNAL_FLUSH_EVERY" envDefault:"1500ms"`
	ChanBuffer    int           `env:"JOURNAL_CHAN_BUFFER" envDefault:"1024"`
	StatsLogEvery time.Duration `env:"JOURNAL_STATS_EVERY" envDefault:"5m"`
	FlushTimeout  time.Duration `env:"JOURNAL_FLUSH_TIMEOUT" envDefault:"5s"`
}

// Load читает envFile (если он есть), затем переменные окружения и
// возвращает валидированную Config. Пустой envFile отключает чтение файла.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		// godotenv не перезаписывает уже выставленные переменные.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.OAuth.TokenURL = strings.TrimSpace(cfg.OAuth.TokenURL)
	cfg.OAuth.ClientID = strings.TrimSpace(cfg.OAuth.ClientID)
	cfg.OAuth.Username = strings.TrimSpace(cfg.OAuth.Username)
	cfg.Postgres.Host = strings.TrimSpace(cfg.Postgres.Host)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	if c.OAuth.ClientID == "" {
		return fmt.Errorf("требуется CLIENT_ID")
	}
	if c.OAuth.ClientSecret == "" {
		return fmt.Errorf("требуется CLIENT_SECRET")
	}
	if c.OAuth.Username == "" {
		return fmt.Errorf("требуется OAUTH_USERNAME")
	}
	if c.OAuth.Password == "" {
		return fmt.Errorf("требуется OAUTH_PASSWORD")
	}

	u, err := url.Parse(c.OAuth.TokenURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("TOKEN_URL должен быть абсолютным http(s) адресом: %q", c.OAuth.TokenURL)
	}
	if c.OAuth.RequestTimeout <= 0 {
		return fmt.Errorf("TOKEN_REQUEST_TIMEOUT должен быть больше нуля")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("PORT вне диапазона: %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT должен быть больше нуля")
	}

	if c.Postgres.Enabled() {
		if c.Postgres.Port == "" {
			return fmt.Errorf("требуется POSTGRES_PORT")
		}
		if c.Postgres.DB == "" {
			return fmt.Errorf("требуется POSTGRES_DB")
		}
		if c.Postgres.User == "" {
			return fmt.Errorf("требуется POSTGRES_USER")
		}
		if c.Postgres.Password == "" {
			return fmt.Errorf("требуется POSTGRES_PASSWORD")
		}
	}

	if c.Journal.MaxBatch <= 0 {
		return fmt.Errorf("Journal.MaxBatch должен быть больше нуля")
	}
	if c.Journal.FlushEvery <= 0 {
		return fmt.Errorf("Journal.FlushEvery должен быть больше нуля")
	}
	if c.Journal.ChanBuffer <= 0 {
		return fmt.Errorf("Journal.ChanBuffer должен быть больше нуля")
	}
	if c.Journal.StatsLogEvery <= 0 {
		return fmt.Errorf("Journal.StatsLogEvery должен быть больше нуля")
	}
	if c.Journal.FlushTimeout <= 0 {
		return fmt.Errorf("Journal.FlushTimeout должен быть больше нуля")
	}

	return nil
}
