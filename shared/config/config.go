package config

import (
	"fmt"
	"os"
	"path"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Store drivers understood by setup.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Public  Public
	Private Private
}

type Public struct {
	Server        Server        `yaml:"server"`
	Backend       Backend       `yaml:"backend"`
	Store         Store         `yaml:"store"`
	Upload        Upload        `yaml:"upload"`
	Log           Log           `yaml:"log"`
	SessionTTL    time.Duration `yaml:"session_ttl" validate:"required"`
	SecureCookies bool          `yaml:"secure_cookies"`
	CORSOrigins   []string      `yaml:"cors_allowed_origins"`
	TemplatesDir  string        `yaml:"templates_dir"` // set in development to reload templates from disk
}

type Server struct {
	Port         int           `yaml:"port" validate:"required,min=1,max=65535"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Backend describes the external analysis/chat service.
type Backend struct {
	BaseURL     string        `yaml:"base_url" validate:"required,url"`
	HistoryPath string        `yaml:"history_path" validate:"required,startswith=/"`
	Timeout     time.Duration `yaml:"timeout"`
}

type Store struct {
	Driver     string `yaml:"driver" validate:"required,oneof=memory postgres redis sqlite"`
	SQLitePath string `yaml:"sqlite_path"`
}

type Upload struct {
	MaxFiles          int      `yaml:"max_files" validate:"required,min=1"`
	MaxFileSizeBytes  int64    `yaml:"max_file_size_bytes" validate:"required,min=1"`
	AllowedMimeTypes  []string `yaml:"allowed_mime_types" validate:"required,min=1"`
	ThumbnailSize     int      `yaml:"thumbnail_size" validate:"required,min=16"`
	DecodeConcurrency int      `yaml:"decode_concurrency"`
}

type Log struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type Pg struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Dbname   string `yaml:"dbname"`
}

type Private struct {
	SessionKey string `yaml:"session_key" validate:"required,min=32"`
	Pg         Pg     `yaml:"pg"`
	RedisURL   string `yaml:"redis_url"`
}

func (c *Config) SessionKey() string {
	return c.Private.SessionKey
}

func (c *Config) MaxUploadRequestSize() int64 {
	// one megabyte of slack for form fields and multipart framing
	return int64(c.Public.Upload.MaxFiles)*c.Public.Upload.MaxFileSizeBytes + 1<<20
}

func (p *Public) applyDefaults() {
	if p.Server.ReadTimeout == 0 {
		p.Server.ReadTimeout = 30 * time.Second
	}
	if p.Server.WriteTimeout == 0 {
		p.Server.WriteTimeout = 3 * time.Minute
	}
	if p.Backend.HistoryPath == "" {
		p.Backend.HistoryPath = "/get_history"
	}
	if p.Backend.Timeout == 0 {
		p.Backend.Timeout = 2 * time.Minute
	}
	if p.Store.Driver == "" {
		p.Store.Driver = DriverMemory
	}
	if p.Upload.DecodeConcurrency == 0 {
		p.Upload.DecodeConcurrency = 4
	}
	if p.Log.Level == "" {
		p.Log.Level = "info"
	}
}

// applyEnv lets deployments keep secrets out of yaml.
func (c *Config) applyEnv() {
	if v := os.Getenv("SESSION_KEY"); v != "" {
		c.Private.SessionKey = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Private.RedisURL = v
	}
	if v := os.Getenv("PG_PASSWORD"); v != "" {
		c.Private.Pg.Password = v
	}
	if v := os.Getenv("BACKEND_URL"); v != "" {
		c.Public.Backend.BaseURL = v
	}
}

func (c *Config) validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return err
	}
	switch c.Public.Store.Driver {
	case DriverPostgres:
		if c.Private.Pg.Host == "" || c.Private.Pg.Dbname == "" {
			return fmt.Errorf("store driver %q requires pg.host and pg.dbname", c.Public.Store.Driver)
		}
	case DriverRedis:
		if c.Private.RedisURL == "" {
			return fmt.Errorf("store driver %q requires redis_url", c.Public.Store.Driver)
		}
	case DriverSQLite:
		if c.Public.Store.SQLitePath == "" {
			return fmt.Errorf("store driver %q requires sqlite_path", c.Public.Store.Driver)
		}
	}
	return nil
}

func mustLoadPath(configPath string, output interface{}) {
	// check if file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}
	configFile, err := os.ReadFile(configPath)
	if err != nil {
		panic("can't read config file")
	}

	if err := yaml.UnmarshalStrict(configFile, output); err != nil {
		panic("can't unmarshal config file: " + err.Error())
	}
}

// MustLoad reads public.yaml and (if present) private.yaml from configFolder,
// then overlays environment variables, optionally from a .env file in the
// working directory.
func MustLoad(configFolder string) *Config {
	var public Public
	mustLoadPath(path.Join(configFolder, "public.yaml"), &public)
	public.applyDefaults()

	var private Private
	privatePath := path.Join(configFolder, "private.yaml")
	if _, err := os.Stat(privatePath); err == nil {
		mustLoadPath(privatePath, &private)
	}

	// .env is optional
	_ = godotenv.Load()

	cfg := &Config{Public: public, Private: private}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		panic("invalid config: " + err.Error())
	}
	return cfg
}
