package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

// ErrModelNotAllowed 表示请求的模型不在允许列表中。
var ErrModelNotAllowed = errors.New("model not in allow-list")

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	AI     AIConfig
	Router RouterConfig
	Limit  RateLimitConfig
	Log    LogConfig
	// Roles 覆盖内置角色的指令，键为角色名。
	Roles map[string]string
}

// Load 从环境变量加载配置，若设置了 RELAY_CONFIG 则叠加 TOML 文件。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	router, err := loadRouterConfig()
	if err != nil {
		return nil, err
	}

	limit, err := loadRateLimitConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: server,
		AI:     ai,
		Router: router,
		Limit:  limit,
		Log:    loadLogConfig(),
		Roles:  map[string]string{},
	}

	if path := strings.TrimSpace(os.Getenv("RELAY_CONFIG")); path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// Provider 标识托管模型的供应商。
type Provider string

const (
	ProviderGroq   Provider = "groq"
	ProviderOpenAI Provider = "openai"
	ProviderOllama Provider = "ollama"
	ProviderArk    Provider = "ark"
)

// ParseProvider 解析供应商名称，大小写不敏感。
func ParseProvider(raw string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ProviderGroq:
		return ProviderGroq, nil
	case ProviderOpenAI:
		return ProviderOpenAI, nil
	case ProviderOllama:
		return ProviderOllama, nil
	case ProviderArk:
		return ProviderArk, nil
	default:
		return "", fmt.Errorf("unknown LLM_PROVIDER %q", raw)
	}
}

// KeyPrefix 返回该供应商凭证必须具备的前缀，空串表示不校验前缀。
func (p Provider) KeyPrefix() string {
	switch p {
	case ProviderGroq:
		return "gsk_"
	case ProviderOpenAI:
		return "sk-"
	default:
		return ""
	}
}

// RequiresKey 表示调用前是否必须提供凭证。
func (p Provider) RequiresKey() bool {
	return p != ProviderOllama
}

// DefaultBaseURL 返回供应商的默认接口地址。
func (p Provider) DefaultBaseURL() string {
	switch p {
	case ProviderGroq:
		return "https://api.groq.com/openai/v1"
	case ProviderOpenAI:
		return "https://api.openai.com/v1"
	case ProviderOllama:
		return "http://localhost:11434"
	case ProviderArk:
		return "https://ark.cn-beijing.volces.com/api/v3"
	default:
		return ""
	}
}

// DefaultModels 返回供应商的默认模型允许列表，第一个为默认模型。
func (p Provider) DefaultModels() []string {
	switch p {
	case ProviderGroq:
		return []string{
			"llama3-8b-8192",
			"llama3-70b-8192",
			"llama-3.3-70b-versatile",
			"mixtral-8x7b-32768",
			"gemma2-9b-it",
			"llama3-groq-70b-8192-tool-use-preview",
		}
	case ProviderOpenAI:
		return []string{"gpt-4o-mini", "gpt-4o", "gpt-3.5-turbo"}
	case ProviderOllama:
		return []string{"llama3", "mistral", "phi3"}
	default:
		return nil
	}
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider       Provider
	APIKey         string
	BaseURL        string
	Model          string
	Models         []string
	Temperature    *float64
	MaxTokens      *int
	StreamResponse bool
	Timeout        time.Duration
}

// Enabled 表示是否具备启动时构造默认模型所需的配置。
func (c AIConfig) Enabled() bool {
	if c.Model == "" {
		return false
	}
	return !c.Provider.RequiresKey() || c.APIKey != ""
}

// Allowed 判断模型是否在允许列表中。
func (c AIConfig) Allowed(name string) bool {
	for _, m := range c.Models {
		if m == name {
			return true
		}
	}
	return false
}

// ResolveModel 返回请求使用的模型，空值回退到默认模型。
func (c AIConfig) ResolveModel(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return c.Model, nil
	}
	if !c.Allowed(name) {
		return "", fmt.Errorf("%w: %s", ErrModelNotAllowed, name)
	}
	return name, nil
}

// NewChatModel 使用配置与给定凭证创建一个模型实例。apiKey 为空时使用配置中的凭证。
func (c AIConfig) NewChatModel(ctx context.Context, apiKey string) (model.BaseChatModel, error) {
	if apiKey == "" {
		apiKey = c.APIKey
	}
	if c.Provider.RequiresKey() && apiKey == "" {
		return nil, fmt.Errorf("%s 凭证缺失", c.Provider)
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	switch c.Provider {
	case ProviderGroq, ProviderOpenAI:
		// Groq 提供 OpenAI 兼容接口，共用同一个客户端。
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:      apiKey,
			BaseURL:     c.BaseURL,
			Model:       c.Model,
			Timeout:     c.Timeout,
			MaxTokens:   maxTokens,
			Temperature: temperature,
		})
	case ProviderOllama:
		return ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
			BaseURL: c.BaseURL,
			Model:   c.Model,
			Timeout: c.Timeout,
		})
	case ProviderArk:
		return ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:     c.BaseURL,
			APIKey:      apiKey,
			Model:       c.Model,
			MaxTokens:   maxTokens,
			Temperature: temperature,
		})
	default:
		return nil, fmt.Errorf("unsupported provider %q", c.Provider)
	}
}

func loadAIConfig() (AIConfig, error) {
	provider, err := ParseProvider(os.Getenv("LLM_PROVIDER"))
	if err != nil {
		return AIConfig{}, err
	}

	temperature, err := parseOptionalFloatEnv("LLM_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}
	if temperature == nil {
		val := 0.7
		temperature = &val
	}

	maxTokens, err := parseOptionalIntEnv("LLM_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	stream, err := parseBoolEnv("LLM_STREAM", true)
	if err != nil {
		return AIConfig{}, err
	}

	timeout := 60 * time.Second
	if seconds, err := parseOptionalIntEnv("LLM_TIMEOUT"); err != nil {
		return AIConfig{}, err
	} else if seconds != nil && *seconds > 0 {
		timeout = time.Duration(*seconds) * time.Second
	}

	models := provider.DefaultModels()
	defaultModel := strings.TrimSpace(os.Getenv("LLM_MODEL"))
	if defaultModel == "" && len(models) > 0 {
		defaultModel = models[0]
	}
	if defaultModel != "" && !contains(models, defaultModel) {
		models = append([]string{defaultModel}, models...)
	}

	baseURL := getEnvOrDefault("LLM_BASE_URL", provider.DefaultBaseURL())
	if provider == ProviderOllama {
		baseURL = getEnvOrDefault("OLLAMA_BASE_URL", baseURL)
	}

	return AIConfig{
		Provider:       provider,
		APIKey:         apiKeyFor(provider),
		BaseURL:        baseURL,
		Model:          defaultModel,
		Models:         models,
		Temperature:    temperature,
		MaxTokens:      maxTokens,
		StreamResponse: stream,
		Timeout:        timeout,
	}, nil
}

func apiKeyFor(p Provider) string {
	switch p {
	case ProviderGroq:
		return strings.TrimSpace(os.Getenv("GROQ_API_KEY"))
	case ProviderOpenAI:
		return strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	case ProviderArk:
		return strings.TrimSpace(os.Getenv("ARK_API_KEY"))
	default:
		return ""
	}
}

// RouterMode 选择监督者的路由策略。
type RouterMode string

const (
	RouterKeyword RouterMode = "keyword"
	RouterModel   RouterMode = "model"
)

// RouterConfig 描述监督者路由配置。
type RouterConfig struct {
	Mode RouterMode
}

func loadRouterConfig() (RouterConfig, error) {
	switch mode := RouterMode(strings.ToLower(getEnvOrDefault("ROUTER_MODE", string(RouterKeyword)))); mode {
	case RouterKeyword, RouterModel:
		return RouterConfig{Mode: mode}, nil
	default:
		return RouterConfig{}, fmt.Errorf("invalid ROUTER_MODE value %q", mode)
	}
}

// RateLimitConfig 描述每个客户端的请求限速。RPS 为 0 表示不限速。
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

func loadRateLimitConfig() (RateLimitConfig, error) {
	cfg := RateLimitConfig{RPS: 2, Burst: 5}

	rps, err := parseOptionalFloatEnv("RATE_LIMIT_RPS")
	if err != nil {
		return RateLimitConfig{}, err
	}
	if rps != nil {
		cfg.RPS = *rps
	}

	burst, err := parseOptionalIntEnv("RATE_LIMIT_BURST")
	if err != nil {
		return RateLimitConfig{}, err
	}
	if burst != nil {
		cfg.Burst = *burst
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	return cfg, nil
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string
	Format string
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Level:  getEnvOrDefault("LOG_LEVEL", "info"),
		Format: getEnvOrDefault("LOG_FORMAT", "text"),
	}
}

// fileConfig 是 TOML 配置文件的结构。
type fileConfig struct {
	Models    []string `toml:"models"`
	Model     string   `toml:"default_model"`
	RateLimit *struct {
		RPS   float64 `toml:"rps"`
		Burst int     `toml:"burst"`
	} `toml:"rate_limit"`
	Roles map[string]struct {
		Instruction string `toml:"instruction"`
	} `toml:"roles"`
}

// ApplyFile 读取 TOML 文件并覆盖模型列表、角色指令与限速设置。
func (c *Config) ApplyFile(path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	return c.apply(fc)
}

func (c *Config) apply(fc fileConfig) error {
	if len(fc.Models) > 0 {
		c.AI.Models = append([]string(nil), fc.Models...)
		if !contains(c.AI.Models, c.AI.Model) {
			c.AI.Model = c.AI.Models[0]
		}
	}
	if fc.Model != "" {
		if !contains(c.AI.Models, fc.Model) {
			return fmt.Errorf("%w: default_model %s", ErrModelNotAllowed, fc.Model)
		}
		c.AI.Model = fc.Model
	}
	if fc.RateLimit != nil {
		c.Limit.RPS = fc.RateLimit.RPS
		if fc.RateLimit.Burst > 0 {
			c.Limit.Burst = fc.RateLimit.Burst
		}
	}
	if c.Roles == nil {
		c.Roles = map[string]string{}
	}
	for name, role := range fc.Roles {
		if text := strings.TrimSpace(role.Instruction); text != "" {
			c.Roles[strings.ToLower(name)] = text
		}
	}
	return nil
}

func contains(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
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
