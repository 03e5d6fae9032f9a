package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// AppConfig holds all server configuration.
// Priority (lowest → highest): defaults < env vars (.env included) < config file < CLI flags.
type AppConfig struct {
	// Server
	DB        string `json:"db"`         // sqlite DSN, or a postgres:// URL
	Dev       bool   `json:"dev"`        // dev mode: debug logging, pretty console output
	Addr      string `json:"addr"`       // HTTP listen address
	PublicURL string `json:"public_url"` // base URL put into join QR codes
	NATSURL   string `json:"nats_url"`   // mirror room events to NATS when set

	// Logging
	LogLevel     string `json:"log_level"`      // zerolog level name
	LogFile      string `json:"log_file"`       // tee the main log into this file
	LogOutputDir string `json:"log_output_dir"` // directory for extended log files
	LogRequests  bool   `json:"log_requests"`
	LogWS        bool   `json:"log_ws"`

	// Rooms
	MinPlayers         int `json:"min_players"`
	MaxPlayers         int `json:"max_players"`
	DaySeconds         int `json:"day_seconds"`
	VotingSeconds      int `json:"voting_seconds"`
	NightSeconds       int `json:"night_seconds"`
	NarrativeTimeoutMS int `json:"narrative_timeout_ms"`
	IdleTimeoutSeconds int `json:"idle_timeout_seconds"` // close rooms nobody is connected to

	// AI narrator
	StorytellerProvider    string `json:"storyteller_provider"`    // ollama | openai | claude | gemini | groq | openai-compatible
	StorytellerModel       string `json:"storyteller_model"`       // model name
	StorytellerOllamaURL   string `json:"storyteller_ollama_url"`  // Ollama server URL
	StorytellerURL         string `json:"storyteller_url"`         // base URL for openai-compatible
	StorytellerAPIKey      string `json:"storyteller_api_key"`     // API key for openai-compatible
	StorytellerTemperature string `json:"storyteller_temperature"` // float 0-1 as string
	StorytellerThinking    string `json:"storyteller_thinking"`    // none | low | medium | high | auto
	GroqAPIKey             string `json:"groq_api_key"`            // API key for groq provider
}

func (cfg AppConfig) toLogConfig() LogConfig {
	return LogConfig{
		Level:       cfg.LogLevel,
		File:        cfg.LogFile,
		OutputDir:   cfg.LogOutputDir,
		LogRequests: cfg.LogRequests,
		LogWS:       cfg.LogWS,
		Dev:         cfg.Dev,
	}
}

// roomSettings is the Settings new rooms start from.
func (cfg AppConfig) roomSettings() Settings {
	return Settings{
		MinPlayers:    cfg.MinPlayers,
		MaxPlayers:    cfg.MaxPlayers,
		DaySeconds:    cfg.DaySeconds,
		VotingSeconds: cfg.VotingSeconds,
		NightSeconds:  cfg.NightSeconds,
	}.normalized()
}

func (cfg AppConfig) narrativeTimeout() time.Duration {
	return time.Duration(cfg.NarrativeTimeoutMS) * time.Millisecond
}

func (cfg AppConfig) idleTimeout() time.Duration {
	return time.Duration(cfg.IdleTimeoutSeconds) * time.Second
}

func defaultConfig() AppConfig {
	d := defaultSettings()
	return AppConfig{
		DB:                   "file:werewolf.db?cache=shared",
		Addr:                 ":8080",
		PublicURL:            "http://localhost:8080",
		LogLevel:             "info",
		MinPlayers:           d.MinPlayers,
		MaxPlayers:           d.MaxPlayers,
		DaySeconds:           d.DaySeconds,
		VotingSeconds:        d.VotingSeconds,
		NightSeconds:         d.NightSeconds,
		NarrativeTimeoutMS:   3000,
		IdleTimeoutSeconds:   int(defaultIdleTimeout / time.Second),
		StorytellerOllamaURL: "http://localhost:11434",
	}
}

// loadConfig builds a config by layering: defaults → env vars → config file.
// A .env file in the working directory is loaded into the environment first
// without overriding variables that are already set. CLI flag overrides are
// applied separately by flagValues.applyTo after parsing.
func loadConfig(configPath string) AppConfig {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("config: failed to load .env")
	}

	cfg := defaultConfig()
	applyEnv(&cfg, os.Getenv)

	overlay, err := readConfigFile(configPath)
	switch {
	case err == nil:
		applyJSONOverlay(&cfg, overlay)
		log.Info().Str("path", configPath).Msg("config: loaded")
	case os.IsNotExist(err):
	default:
		log.Error().Err(err).Str("path", configPath).Msg("config: failed to read")
	}
	return cfg
}

// applyEnv layers environment variables onto cfg.
func applyEnv(cfg *AppConfig, getenv func(string) string) {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v := getenv(key); v != "" {
			*dst = v == "1" || v == "true" || v == "yes"
		}
	}
	integer := func(key string, dst *int) {
		v := getenv(key)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Warn().Str("key", key).Str("value", v).Msg("config: ignoring non-numeric env var")
			return
		}
		*dst = n
	}

	str("DB", &cfg.DB)
	boolean("DEV", &cfg.Dev)
	str("ADDR", &cfg.Addr)
	str("PUBLIC_URL", &cfg.PublicURL)
	str("NATS_URL", &cfg.NATSURL)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FILE", &cfg.LogFile)
	str("LOG_OUTPUT_DIR", &cfg.LogOutputDir)
	boolean("LOG_REQUESTS", &cfg.LogRequests)
	boolean("LOG_WS", &cfg.LogWS)
	integer("MIN_PLAYERS", &cfg.MinPlayers)
	integer("MAX_PLAYERS", &cfg.MaxPlayers)
	integer("DAY_SECONDS", &cfg.DaySeconds)
	integer("VOTING_SECONDS", &cfg.VotingSeconds)
	integer("NIGHT_SECONDS", &cfg.NightSeconds)
	integer("NARRATIVE_TIMEOUT_MS", &cfg.NarrativeTimeoutMS)
	integer("IDLE_TIMEOUT_SECONDS", &cfg.IdleTimeoutSeconds)
	str("STORYTELLER_PROVIDER", &cfg.StorytellerProvider)
	str("STORYTELLER_MODEL", &cfg.StorytellerModel)
	str("STORYTELLER_OLLAMA_URL", &cfg.StorytellerOllamaURL)
	str("STORYTELLER_URL", &cfg.StorytellerURL)
	str("STORYTELLER_API_KEY", &cfg.StorytellerAPIKey)
	str("STORYTELLER_TEMPERATURE", &cfg.StorytellerTemperature)
	str("STORYTELLER_THINKING", &cfg.StorytellerThinking)
	str("GROQ_API_KEY", &cfg.GroqAPIKey)
}

// readConfigFile reads a JSON or YAML config file into a key → raw JSON map,
// so both formats go through the same overlay.
func readConfigFile(path string) (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		overlay := make(map[string]json.RawMessage, len(raw))
		for k, v := range raw {
			b, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("convert key %q in %s: %w", k, path, err)
			}
			overlay[k] = b
		}
		return overlay, nil
	default:
		var overlay map[string]json.RawMessage
		if err := json.Unmarshal(data, &overlay); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return overlay, nil
	}
}

// applyJSONOverlay only sets fields that are explicitly present in the map.
func applyJSONOverlay(cfg *AppConfig, m map[string]json.RawMessage) {
	set := func(key string, dst any) {
		if v, ok := m[key]; ok {
			if err := json.Unmarshal(v, dst); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("config: ignoring invalid value")
			}
		}
	}
	set("db", &cfg.DB)
	set("dev", &cfg.Dev)
	set("addr", &cfg.Addr)
	set("public_url", &cfg.PublicURL)
	set("nats_url", &cfg.NATSURL)
	set("log_level", &cfg.LogLevel)
	set("log_file", &cfg.LogFile)
	set("log_output_dir", &cfg.LogOutputDir)
	set("log_requests", &cfg.LogRequests)
	set("log_ws", &cfg.LogWS)
	set("min_players", &cfg.MinPlayers)
	set("max_players", &cfg.MaxPlayers)
	set("day_seconds", &cfg.DaySeconds)
	set("voting_seconds", &cfg.VotingSeconds)
	set("night_seconds", &cfg.NightSeconds)
	set("narrative_timeout_ms", &cfg.NarrativeTimeoutMS)
	set("idle_timeout_seconds", &cfg.IdleTimeoutSeconds)
	set("storyteller_provider", &cfg.StorytellerProvider)
	set("storyteller_model", &cfg.StorytellerModel)
	set("storyteller_ollama_url", &cfg.StorytellerOllamaURL)
	set("storyteller_url", &cfg.StorytellerURL)
	set("storyteller_api_key", &cfg.StorytellerAPIKey)
	set("storyteller_temperature", &cfg.StorytellerTemperature)
	set("storyteller_thinking", &cfg.StorytellerThinking)
	set("groq_api_key", &cfg.GroqAPIKey)
}

// flagValues holds pointers to all registered CLI flags.
type flagValues struct {
	fs                     *flag.FlagSet
	configPath             *string
	db                     *string
	dev                    *bool
	addr                   *string
	publicURL              *string
	natsURL                *string
	logLevel               *string
	logFile                *string
	logOutputDir           *string
	logRequests            *bool
	logWS                  *bool
	minPlayers             *int
	maxPlayers             *int
	daySeconds             *int
	votingSeconds          *int
	nightSeconds           *int
	narrativeTimeoutMS     *int
	idleTimeoutSeconds     *int
	storytellerProvider    *string
	storytellerModel       *string
	storytellerOllamaURL   *string
	storytellerURL         *string
	storytellerAPIKey      *string
	storytellerTemperature *string
	storytellerThinking    *string
	groqAPIKey             *string
}

// registerFlags registers all CLI flags on fs and returns pointers to their
// values. Parse fs after this, then applyTo to layer them over the loaded config.
func registerFlags(fs *flag.FlagSet) flagValues {
	return flagValues{
		fs:                     fs,
		configPath:             fs.String("config", "config.json", "path to JSON or YAML config file"),
		db:                     fs.String("db", "", "sqlite DSN or postgres:// URL for room snapshots"),
		dev:                    fs.Bool("dev", false, "enable development mode (debug logging)"),
		addr:                   fs.String("addr", "", "HTTP listen address (e.g. :8080)"),
		publicURL:              fs.String("public-url", "", "public base URL used in join links"),
		natsURL:                fs.String("nats-url", "", "NATS server URL for room event mirroring"),
		logLevel:               fs.String("log-level", "", "log level (trace|debug|info|warn|error)"),
		logFile:                fs.String("log-file", "", "also write the main log to this file"),
		logOutputDir:           fs.String("log-output-dir", "", "directory for extended log files"),
		logRequests:            fs.Bool("log-requests", false, "log HTTP requests and responses"),
		logWS:                  fs.Bool("log-ws", false, "log WebSocket messages"),
		minPlayers:             fs.Int("min-players", 0, "minimum players to start a game"),
		maxPlayers:             fs.Int("max-players", 0, "maximum players per room"),
		daySeconds:             fs.Int("day-seconds", 0, "length of the day discussion"),
		votingSeconds:          fs.Int("voting-seconds", 0, "length of the voting phase"),
		nightSeconds:           fs.Int("night-seconds", 0, "length of the night phase"),
		narrativeTimeoutMS:     fs.Int("narrative-timeout-ms", 0, "timeout for one AI narrator line"),
		idleTimeoutSeconds:     fs.Int("idle-timeout-seconds", 0, "close a room after this long without a connected player"),
		storytellerProvider:    fs.String("storyteller-provider", "", "AI narrator provider (ollama|openai|claude|gemini|groq|openai-compatible)"),
		storytellerModel:       fs.String("storyteller-model", "", "AI narrator model name"),
		storytellerOllamaURL:   fs.String("storyteller-ollama-url", "", "Ollama server URL"),
		storytellerURL:         fs.String("storyteller-url", "", "base URL for openai-compatible provider"),
		storytellerAPIKey:      fs.String("storyteller-api-key", "", "API key for narrator provider"),
		storytellerTemperature: fs.String("storyteller-temperature", "", "sampling temperature 0-1"),
		storytellerThinking:    fs.String("storyteller-thinking", "", "thinking mode: none|low|medium|high|auto"),
		groqAPIKey:             fs.String("groq-api-key", "", "Groq API key"),
	}
}

// applyTo overlays any CLI flags that were explicitly set onto cfg.
// Flags that were not passed on the command line are ignored (env/file values win).
func (fv flagValues) applyTo(cfg *AppConfig) {
	fv.fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "db":
			cfg.DB = *fv.db
		case "dev":
			cfg.Dev = *fv.dev
		case "addr":
			cfg.Addr = *fv.addr
		case "public-url":
			cfg.PublicURL = *fv.publicURL
		case "nats-url":
			cfg.NATSURL = *fv.natsURL
		case "log-level":
			cfg.LogLevel = *fv.logLevel
		case "log-file":
			cfg.LogFile = *fv.logFile
		case "log-output-dir":
			cfg.LogOutputDir = *fv.logOutputDir
		case "log-requests":
			cfg.LogRequests = *fv.logRequests
		case "log-ws":
			cfg.LogWS = *fv.logWS
		case "min-players":
			cfg.MinPlayers = *fv.minPlayers
		case "max-players":
			cfg.MaxPlayers = *fv.maxPlayers
		case "day-seconds":
			cfg.DaySeconds = *fv.daySeconds
		case "voting-seconds":
			cfg.VotingSeconds = *fv.votingSeconds
		case "night-seconds":
			cfg.NightSeconds = *fv.nightSeconds
		case "narrative-timeout-ms":
			cfg.NarrativeTimeoutMS = *fv.narrativeTimeoutMS
		case "idle-timeout-seconds":
			cfg.IdleTimeoutSeconds = *fv.idleTimeoutSeconds
		case "storyteller-provider":
			cfg.StorytellerProvider = *fv.storytellerProvider
		case "storyteller-model":
			cfg.StorytellerModel = *fv.storytellerModel
		case "storyteller-ollama-url":
			cfg.StorytellerOllamaURL = *fv.storytellerOllamaURL
		case "storyteller-url":
			cfg.StorytellerURL = *fv.storytellerURL
		case "storyteller-api-key":
			cfg.StorytellerAPIKey = *fv.storytellerAPIKey
		case "storyteller-temperature":
			cfg.StorytellerTemperature = *fv.storytellerTemperature
		case "storyteller-thinking":
			cfg.StorytellerThinking = *fv.storytellerThinking
		case "groq-api-key":
			cfg.GroqAPIKey = *fv.groqAPIKey
		}
	})
}
