package utils

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadEnv reads an optional .env file from the working directory (or the
// path in ARDUINOHUB_ENV_FILE). Variables already set in the environment win.
func LoadEnv() {
	path := os.Getenv("ARDUINOHUB_ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
		log.Printf("[config] could not read %s: %v", path, err)
	}
}

type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTDuration time.Duration
}

func LoadAuthConfig() AuthConfig {
	secret := os.Getenv("ARDUINOHUB_JWT_SECRET")
	if secret == "" {
		// dev default (change for demo / production)
		secret = "dev-secret-change-me"
	}

	issuer := os.Getenv("ARDUINOHUB_JWT_ISSUER")
	if issuer == "" {
		issuer = "arduinohub"
	}

	hours := envInt("ARDUINOHUB_JWT_TTL_HOURS", 24)
	if hours <= 0 {
		hours = 24
	}

	return AuthConfig{
		JWTSecret:   secret,
		JWTIssuer:   issuer,
		JWTDuration: time.Duration(hours) * time.Hour,
	}
}

type ServerConfig struct {
	HTTPAddr string
	TCPAddr  string
	GRPCAddr string
	// AllowedOrigins restricts websocket upgrades; empty allows any origin.
	AllowedOrigins []string
}

func LoadServerConfig() ServerConfig {
	cfg := ServerConfig{
		HTTPAddr: envString("ARDUINOHUB_HTTP_ADDR", ":8080"),
		TCPAddr:  envString("ARDUINOHUB_TCP_ADDR", "127.0.0.1:7070"),
		GRPCAddr: envString("ARDUINOHUB_GRPC_ADDR", ":9090"),
	}
	if v := strings.TrimSpace(os.Getenv("ARDUINOHUB_ALLOWED_ORIGINS")); v != "" {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}
	return cfg
}

type DetectConfig struct {
	BaseURL string
	Timeout time.Duration
	// MaxDimension bounds the longest image side sent upstream; 0 sends the upload as-is.
	MaxDimension int
}

func LoadDetectConfig() DetectConfig {
	return DetectConfig{
		BaseURL:      strings.TrimRight(envString("ARDUINOHUB_DETECT_URL", "http://localhost:5001"), "/"),
		Timeout:      envDuration("ARDUINOHUB_DETECT_TIMEOUT", 30*time.Second),
		MaxDimension: envInt("ARDUINOHUB_DETECT_MAX_DIM", 1280),
	}
}

type GenerateConfig struct {
	APIKey   string
	Model    string
	Endpoint string
	Timeout  time.Duration
}

func LoadGenerateConfig() GenerateConfig {
	key := os.Getenv("ARDUINOHUB_GEMINI_API_KEY")
	if key == "" {
		// same variable name the web frontend used
		key = os.Getenv("REACT_APP_GEMINI_API_KEY")
	}
	return GenerateConfig{
		APIKey:   key,
		Model:    envString("ARDUINOHUB_GEMINI_MODEL", "gemini-2.0-flash-lite"),
		Endpoint: strings.TrimRight(envString("ARDUINOHUB_GEMINI_ENDPOINT", "https://generativelanguage.googleapis.com/v1beta"), "/"),
		Timeout:  envDuration("ARDUINOHUB_GENERATE_TIMEOUT", 60*time.Second),
	}
}

type SessionConfig struct {
	// IdleTimeout drops sessions nobody touched for this long; 0 keeps them forever.
	IdleTimeout time.Duration
	SweepEvery  time.Duration
}

func LoadSessionConfig() SessionConfig {
	cfg := SessionConfig{
		IdleTimeout: envDuration("ARDUINOHUB_SESSION_IDLE", 2*time.Hour),
		SweepEvery:  envDuration("ARDUINOHUB_SESSION_SWEEP", 5*time.Minute),
	}
	if os.Getenv("ARDUINOHUB_SESSION_IDLE") == "0" {
		cfg.IdleTimeout = 0
	}
	return cfg
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// envInt falls back to def when the variable is unset or not a number.
func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] %s=%q is not an integer, using %d", key, v, def)
		return def
	}
	return n
}

// envDuration accepts Go duration strings ("45s") or plain seconds ("45").
func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	log.Printf("[config] %s=%q is not a duration, using %s", key, v, def)
	return def
}
