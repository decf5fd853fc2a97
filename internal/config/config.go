package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server   ServerConfig
	Comfy    ComfyConfig
	Preview  PreviewConfig
	Registry RegistryConfig
	Redis    RedisConfig
	Publish  PublishConfig
}

type ServerConfig struct {
	Env      string
	LogLevel string
	// OpsPort serves the Fiber debug/ops surface, MCPPort the streamable
	// HTTP transport. Stdio mode ignores MCPPort.
	OpsPort string
	MCPPort string
}

type ComfyConfig struct {
	BaseURL        string
	WorkflowDir    string
	PollIntervalMS int
	PollAttempts   int
	ResumeAttempts int
	RequestTimeout int // seconds
}

type PreviewConfig struct {
	MaxDim       int
	MaxB64Chars  int
	StartQuality int
	CacheSize    int
}

type RegistryConfig struct {
	TTLHours int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PublishConfig struct {
	ProjectRoot string
	PublishRoot string
	OutputRoot  string
	MaxBytes    int64
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.ops_port", "OPS_PORT")
	_ = viper.BindEnv("server.mcp_port", "MCP_PORT")
	_ = viper.BindEnv("comfy.base_url", "COMFYUI_URL")
	_ = viper.BindEnv("comfy.workflow_dir", "COMFY_MCP_WORKFLOW_DIR")
	_ = viper.BindEnv("comfy.poll_interval_ms", "COMFY_POLL_INTERVAL_MS")
	_ = viper.BindEnv("comfy.poll_attempts", "COMFY_POLL_ATTEMPTS")
	_ = viper.BindEnv("comfy.resume_attempts", "COMFY_RESUME_ATTEMPTS")
	_ = viper.BindEnv("comfy.request_timeout", "COMFY_REQUEST_TIMEOUT")
	_ = viper.BindEnv("preview.max_dim", "COMFY_MCP_PREVIEW_MAX_DIM")
	_ = viper.BindEnv("preview.max_b64_chars", "COMFY_MCP_PREVIEW_MAX_B64")
	_ = viper.BindEnv("preview.start_quality", "COMFY_MCP_PREVIEW_QUALITY")
	_ = viper.BindEnv("preview.cache_size", "COMFY_MCP_PREVIEW_CACHE")
	_ = viper.BindEnv("registry.ttl_hours", "COMFY_MCP_ASSET_TTL_HOURS")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("publish.project_root", "COMFY_MCP_PROJECT_ROOT")
	_ = viper.BindEnv("publish.publish_root", "COMFY_MCP_PUBLISH_ROOT")
	_ = viper.BindEnv("publish.output_root", "COMFYUI_OUTPUT_ROOT")
	_ = viper.BindEnv("publish.max_bytes", "COMFY_MCP_PUBLISH_MAX_BYTES")

	// Defaults
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("server.ops_port", "8000")
	viper.SetDefault("server.mcp_port", "9000")
	viper.SetDefault("comfy.base_url", "http://127.0.0.1:8188")
	viper.SetDefault("comfy.workflow_dir", "./workflows")
	viper.SetDefault("comfy.poll_interval_ms", 1000)
	viper.SetDefault("comfy.poll_attempts", 60)
	viper.SetDefault("comfy.resume_attempts", 300)
	viper.SetDefault("comfy.request_timeout", 30)

	// The preview budget counts base64 characters including the data URI
	// prefix. 100k chars keeps responses well inside what MCP clients
	// render without stalling.
	viper.SetDefault("preview.max_dim", 512)
	viper.SetDefault("preview.max_b64_chars", 100000)
	viper.SetDefault("preview.start_quality", 70)
	viper.SetDefault("preview.cache_size", 100)

	viper.SetDefault("registry.ttl_hours", 24)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("publish.max_bytes", 600*1024)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
			OpsPort:  viper.GetString("server.ops_port"),
			MCPPort:  viper.GetString("server.mcp_port"),
		},
		Comfy: ComfyConfig{
			BaseURL:        strings.TrimRight(viper.GetString("comfy.base_url"), "/"),
			WorkflowDir:    viper.GetString("comfy.workflow_dir"),
			PollIntervalMS: viper.GetInt("comfy.poll_interval_ms"),
			PollAttempts:   viper.GetInt("comfy.poll_attempts"),
			ResumeAttempts: viper.GetInt("comfy.resume_attempts"),
			RequestTimeout: viper.GetInt("comfy.request_timeout"),
		},
		Preview: PreviewConfig{
			MaxDim:       viper.GetInt("preview.max_dim"),
			MaxB64Chars:  viper.GetInt("preview.max_b64_chars"),
			StartQuality: viper.GetInt("preview.start_quality"),
			CacheSize:    viper.GetInt("preview.cache_size"),
		},
		Registry: RegistryConfig{
			TTLHours: viper.GetInt("registry.ttl_hours"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Publish: PublishConfig{
			ProjectRoot: viper.GetString("publish.project_root"),
			PublishRoot: viper.GetString("publish.publish_root"),
			OutputRoot:  viper.GetString("publish.output_root"),
			MaxBytes:    viper.GetInt64("publish.max_bytes"),
		},
	}

	return cfg, nil
}
