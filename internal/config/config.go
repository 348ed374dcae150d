package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config aggregates all service configuration.
type Config struct {
	Server ServerConfig
	Store  StoreConfig
	AI     AIConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	store := loadStoreConfig()

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Store: store, AI: ai}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Allow passing ":8080" or "127.0.0.1:8080" directly.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// StoreConfig describes where chat data lives.
type StoreConfig struct {
	Path string
}

func loadStoreConfig() StoreConfig {
	path := strings.TrimSpace(os.Getenv("CHAT_DB_PATH"))
	if path == "" {
		path = filepath.Join("data", "chatpad.db")
	}
	return StoreConfig{Path: path}
}

// AIConfig describes the model provider and sampling parameters.
type AIConfig struct {
	Provider         string // "openai" (default) or "ark"
	APIKey           string
	AccessKey        string
	SecretKey        string
	Model            string
	BaseURL          string
	Region           string
	MaxTokens        *int
	Temperature      *float64
	TopP             *float64
	FrequencyPenalty *float64
	PresencePenalty  *float64
	HistoryWindow    int // prior interactions replayed per request
	SystemPrompt     string
	StreamResponse   bool
}

// Enabled reports whether the provider can be constructed at all. The OpenAI
// key itself may arrive later through the settings surface, so only the ark
// provider requires credentials up front.
func (c AIConfig) Enabled() bool {
	switch c.Provider {
	case "ark":
		return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
	default:
		return c.Model != ""
	}
}

func loadAIConfig() (AIConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("AI_PROVIDER", "openai"))

	maxTokens, err := parseOptionalIntEnv("CHAT_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	temperature, err := parseOptionalFloatEnv("CHAT_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("CHAT_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	frequencyPenalty, err := parseOptionalFloatEnv("CHAT_FREQUENCY_PENALTY")
	if err != nil {
		return AIConfig{}, err
	}

	presencePenalty, err := parseOptionalFloatEnv("CHAT_PRESENCE_PENALTY")
	if err != nil {
		return AIConfig{}, err
	}

	stream, err := parseBoolEnv("CHAT_STREAM", true)
	if err != nil {
		return AIConfig{}, err
	}

	historyWindow := 5
	if windowOverride, err := parseOptionalIntEnv("CHAT_HISTORY_WINDOW"); err != nil {
		return AIConfig{}, err
	} else if windowOverride != nil && *windowOverride >= 1 {
		historyWindow = *windowOverride
	}

	cfg := AIConfig{
		Provider:         provider,
		Model:            getEnvOrDefault("CHAT_MODEL", "gpt-3.5-turbo"),
		MaxTokens:        maxTokens,
		Temperature:      temperature,
		TopP:             topP,
		FrequencyPenalty: frequencyPenalty,
		PresencePenalty:  presencePenalty,
		HistoryWindow:    historyWindow,
		SystemPrompt:     strings.TrimSpace(os.Getenv("CHAT_SYSTEM_PROMPT")),
		StreamResponse:   stream,
	}

	if provider == "ark" {
		cfg.APIKey = strings.TrimSpace(os.Getenv("ARK_API_KEY"))
		cfg.AccessKey = strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY"))
		cfg.SecretKey = strings.TrimSpace(os.Getenv("ARK_SECRET_KEY"))
		cfg.BaseURL = getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3")
		cfg.Region = getEnvOrDefault("ARK_REGION", "cn-beijing")
		cfg.Model = getEnvOrDefault("ARK_MODEL", cfg.Model)
	} else {
		cfg.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
		cfg.BaseURL = strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
