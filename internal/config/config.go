package config

import (
	"log"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env       string          `yaml:"env" env:"ENV" env-default:"local"`
	HTTP      HTTPConfig      `yaml:"http"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Auth      AuthConfig      `yaml:"auth"`
	GeoIP     GeoIPConfig     `yaml:"geoip"`
}

type HTTPConfig struct {
	Port           int      `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type PostgresConfig struct {
	URL string `yaml:"url" env:"POSTGRES_URL" env-required:"true"`
}

// RedisConfig is optional: with no address the dirty set falls back to
// the in-memory tracker and fan-out stays process-local.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	FanOut   bool   `yaml:"fan_out" env:"REDIS_FAN_OUT"`
}

type BroadcastConfig struct {
	Interval time.Duration `yaml:"interval" env:"BROADCAST_INTERVAL" env-default:"2s"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
}

type GeoIPConfig struct {
	DBPath string `yaml:"db_path" env:"GEOIP_DB_PATH"`
}

func Load(path string) *Config {
	var config Config
	if err := cleanenv.ReadConfig(path, &config); err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return &config
}
