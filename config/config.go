package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 DOCQA_CHUNK_MAX_SIZE
const EnvPrefix = "DOCQA"

// Config 应用程序配置结构体
// 所有组件通过构造函数接收所需的配置片段
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Chunk   ChunkConfig   `mapstructure:"chunk"`
	Search  SearchConfig  `mapstructure:"search"`
	Session SessionConfig `mapstructure:"session"`
	Index   IndexConfig   `mapstructure:"index"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Embed   EmbedConfig   `mapstructure:"embed"`
	Cache   CacheConfig   `mapstructure:"cache"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
	Format     string `mapstructure:"format" validate:"oneof=json text"`
	File       string `mapstructure:"file"`                        // 日志文件，为空时只输出到标准输出
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"` // 单个日志文件大小上限
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"gt=0,lte=65535"`
	Mode            string        `mapstructure:"mode" validate:"oneof=debug release test"`
	MaxUploadMB     int           `mapstructure:"max_upload_mb" validate:"gt=0"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StorageConfig 上传文件暂存配置
type StorageConfig struct {
	Type      string `mapstructure:"type" validate:"oneof=local minio"` // 存储类型：local 或 minio
	Path      string `mapstructure:"path"`                              // 本地存储路径
	Bucket    string `mapstructure:"bucket"`                            // MinIO桶名称
	Endpoint  string `mapstructure:"endpoint"`                          // MinIO端点
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// ChunkConfig 文本分块配置
type ChunkConfig struct {
	MaxSize int `mapstructure:"max_size" validate:"gt=0"`                // 分块最大字符数
	Overlap int `mapstructure:"overlap" validate:"gte=0,ltfield=MaxSize"` // 相邻分块重叠字符数
}

// SearchConfig 检索配置
type SearchConfig struct {
	TopK     int     `mapstructure:"top_k" validate:"gt=0"`              // 返回的片段数
	MinScore float32 `mapstructure:"min_score" validate:"gte=-1,lte=1"` // 视为相关的最低得分
}

// SessionConfig 会话生命周期配置
type SessionConfig struct {
	IdleTTL         time.Duration `mapstructure:"idle_ttl" validate:"gte=0"` // 闲置多久后自动释放，0表示不过期
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" validate:"gte=0"`
}

// IndexConfig 向量索引配置
type IndexConfig struct {
	Distance string `mapstructure:"distance" validate:"oneof=cosine dot l2"`
	Workers  int    `mapstructure:"workers" validate:"gt=0"` // 并行嵌入的工作线程数
}

// LLMConfig 大语言模型配置
type LLMConfig struct {
	Provider    string        `mapstructure:"provider" validate:"oneof=openai"`
	ModelID     string        `mapstructure:"model_id" validate:"required"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url" validate:"omitempty,url"`
	MaxTokens   int           `mapstructure:"max_tokens" validate:"gte=0"`
	Temperature float32       `mapstructure:"temperature" validate:"gte=0,lte=2"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// EmbedConfig 向量嵌入模型配置
type EmbedConfig struct {
	Provider   string        `mapstructure:"provider" validate:"oneof=local openai"`
	Model      string        `mapstructure:"model"`
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url" validate:"omitempty,url"`
	Dimensions int           `mapstructure:"dimensions" validate:"gte=0"`
	BatchSize  int           `mapstructure:"batch_size" validate:"gt=0"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// CacheConfig 嵌入缓存配置
type CacheConfig struct {
	Enable   bool          `mapstructure:"enable"`
	Type     string        `mapstructure:"type" validate:"oneof=memory redis"`
	Address  string        `mapstructure:"address"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db" validate:"gte=0"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// Load 从文件和环境变量加载配置
// configPath为空时在当前目录和./config下查找config.yaml，找不到则使用默认值。
// 配置文件中出现未知字段时返回错误
func Load(configPath string) (*Config, error) {
	v := newViper()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	return decode(v)
}

// FromMap 用给定的键值覆盖默认配置，键使用点分路径，例如"chunk.max_size"
// 未知的键会被拒绝
func FromMap(settings map[string]interface{}) (*Config, error) {
	v := newViper()
	for key, value := range settings {
		if !isKnownKey(v, key) {
			return nil, fmt.Errorf("unknown config option: %s", key)
		}
		v.Set(key, value)
	}
	return decode(v)
}

// Default 返回默认配置，不读取配置文件和环境变量
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		panic(fmt.Sprintf("default config is invalid: %v", err))
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	// 支持环境变量覆盖
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func isKnownKey(v *viper.Viper, key string) bool {
	key = strings.ToLower(key)
	for _, k := range v.AllKeys() {
		if k == key {
			return true
		}
	}
	return false
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.UnmarshalExact(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	expandSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandSecrets 展开密钥类字段中的${VAR}引用
func expandSecrets(cfg *Config) {
	for _, field := range []*string{
		&cfg.LLM.APIKey,
		&cfg.Embed.APIKey,
		&cfg.Storage.AccessKey,
		&cfg.Storage.SecretKey,
		&cfg.Cache.Password,
	} {
		if strings.Contains(*field, "${") {
			*field = os.ExpandEnv(*field)
		}
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate 校验配置取值
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// setDefaults 设置配置的默认值
// 每个字段都需要默认值，环境变量覆盖依赖已知键
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.max_upload_mb", 32)
	v.SetDefault("server.read_timeout", "60s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.path", "./uploads")
	v.SetDefault("storage.bucket", "docqa")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.use_ssl", false)

	v.SetDefault("chunk.max_size", 512)
	v.SetDefault("chunk.overlap", 50)

	v.SetDefault("search.top_k", 5)
	v.SetDefault("search.min_score", 0.05)

	v.SetDefault("session.idle_ttl", "30m")
	v.SetDefault("session.cleanup_interval", "1m")

	v.SetDefault("index.distance", "cosine")
	v.SetDefault("index.workers", 4)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model_id", "gemini-2.0-flash")
	v.SetDefault("llm.api_key", "${GEMINI_API_KEY}")
	v.SetDefault("llm.base_url", "https://generativelanguage.googleapis.com/v1beta/openai/")
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.timeout", "60s")

	v.SetDefault("embed.provider", "local")
	v.SetDefault("embed.model", "")
	v.SetDefault("embed.api_key", "")
	v.SetDefault("embed.base_url", "")
	v.SetDefault("embed.dimensions", 0)
	v.SetDefault("embed.batch_size", 16)
	v.SetDefault("embed.timeout", "30s")

	v.SetDefault("cache.enable", true)
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.address", "localhost:6379")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.prefix", "docqa")
	v.SetDefault("cache.ttl", "1h")
}
