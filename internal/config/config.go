// Package config 负责加载和管理应用程序的配置
// 使用 viper 库支持 YAML 配置文件和环境变量覆盖
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 是应用程序的根配置结构
// 包含所有子配置模块
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`   // 服务器配置
	Database DatabaseConfig `mapstructure:"database"` // 关系型数据库配置
	Mongo    MongoConfig    `mapstructure:"mongo"`    // MongoDB 配置
	Redis    RedisConfig    `mapstructure:"redis"`    // Redis 配置
	JWT      JWTConfig      `mapstructure:"jwt"`      // JWT 配置
	Log      LogConfig      `mapstructure:"log"`      // 日志配置
	AI       AIConfig       `mapstructure:"ai"`       // 生成服务配置
	Image    ImageConfig    `mapstructure:"image"`    // 图片生成配置
	Storage  StorageConfig  `mapstructure:"storage"`  // 对象存储配置
}

// ServerConfig 服务器相关配置
type ServerConfig struct {
	Port int      `mapstructure:"port"` // 监听端口，默认 8080
	Mode string   `mapstructure:"mode"` // 运行模式: debug / release
	CORS []string `mapstructure:"cors"` // CORS 允许的域名
}

// DatabaseConfig 数据库连接配置
// Driver 决定会话和消息对的存储后端
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`         // mysql / postgres / sqlite / mongo
	DSN          string `mapstructure:"dsn"`            // 完整 DSN，设置后忽略下面的分项
	Host         string `mapstructure:"host"`           // 数据库主机地址
	Port         int    `mapstructure:"port"`           // 数据库端口
	Username     string `mapstructure:"username"`       // 数据库用户名
	Password     string `mapstructure:"password"`       // 数据库密码
	Database     string `mapstructure:"database"`       // 数据库名称（sqlite 为文件路径）
	Charset      string `mapstructure:"charset"`        // 字符集（mysql）
	SSLMode      string `mapstructure:"ssl_mode"`       // SSL 模式（postgres）
	MaxIdleConns int    `mapstructure:"max_idle_conns"` // 最大空闲连接数
	MaxOpenConns int    `mapstructure:"max_open_conns"` // 最大打开连接数
	MaxLifetime  int    `mapstructure:"max_lifetime"`   // 连接最大生命周期（秒）
}

// MongoConfig MongoDB 连接配置
// 仅在 database.driver = mongo 时使用
type MongoConfig struct {
	URI      string `mapstructure:"uri"`      // 连接串
	Database string `mapstructure:"database"` // 数据库名称
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Host     string `mapstructure:"host"`      // Redis 主机地址
	Port     int    `mapstructure:"port"`      // Redis 端口
	Username string `mapstructure:"username"`  // Redis 用户名
	Password string `mapstructure:"password"`  // Redis 密码
	DB       int    `mapstructure:"db"`        // 数据库索引 (0-15)
	PoolSize int    `mapstructure:"pool_size"` // 连接池大小
}

// JWTConfig JWT 认证配置
type JWTConfig struct {
	Secret       string        `mapstructure:"secret"`        // JWT 签名密钥，至少32字符
	AccessExpire time.Duration `mapstructure:"access_expire"` // Access Token 过期时间
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`  // 日志级别: debug/info/warn/error
	Format string `mapstructure:"format"` // 日志格式: json/console
}

// AIConfig 生成服务配置
type AIConfig struct {
	Provider       string        `mapstructure:"provider"`        // openai / mock
	APIKey         string        `mapstructure:"api_key"`         // API Key
	BaseURL        string        `mapstructure:"base_url"`        // OpenAI 兼容接口地址
	Model          string        `mapstructure:"model"`           // 默认模型
	VisionModel    string        `mapstructure:"vision_model"`    // 带图片附件时使用的模型
	SystemPrompt   string        `mapstructure:"system_prompt"`   // 系统提示词（可选）
	ReservedTokens int           `mapstructure:"reserved_tokens"` // 为回复预留的 token 数
	MaxTokens      int           `mapstructure:"max_tokens"`      // 单次回复最大 token 数，0 表示不限制
	Temperature    float32       `mapstructure:"temperature"`     // 采样温度
	StreamTimeout  time.Duration `mapstructure:"stream_timeout"`  // 单次流式生成的总时长上限
	Memory         bool          `mapstructure:"memory"`          // 是否启用用户记忆（需要 Redis）
	MemoryLimit    int           `mapstructure:"memory_limit"`    // 每次注入的记忆条数上限
}

// ImageConfig 图片生成配置
type ImageConfig struct {
	GeneratorURL string        `mapstructure:"generator_url"` // 图片生成地址模板，%s 为转义后的 prompt
	Model        string        `mapstructure:"model"`         // 图片模型名称
	Timeout      time.Duration `mapstructure:"timeout"`       // 下载超时
}

// StorageConfig 生成图片的存储配置
type StorageConfig struct {
	Driver        string `mapstructure:"driver"`          // local / gcs
	Dir           string `mapstructure:"dir"`             // 本地存储目录
	Bucket        string `mapstructure:"bucket"`          // GCS bucket
	PublicBaseURL string `mapstructure:"public_base_url"` // 对外访问地址前缀
}

// Load 从指定路径加载配置文件
// 支持环境变量覆盖配置项
// 参数:
//   - configPath: 配置文件目录路径 (如 "./configs")
//
// 返回:
//   - *Config: 配置对象
//   - error: 如果加载失败则返回错误
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	// 将环境变量中的 _ 映射到配置的 .
	// 例如: REDIS_HOST -> redis.host
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	bindEnvVariables(v)
	setDefaults(v)

	// 配置文件不存在时继续使用默认值和环境变量
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// bindEnvVariables 绑定环境变量到配置项
func bindEnvVariables(v *viper.Viper) {
	// 服务器配置
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("server.mode", "SERVER_MODE")

	// 数据库配置
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.dsn", "DB_DSN")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.username", "DB_USERNAME")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.database", "DB_DATABASE")
	v.BindEnv("mongo.uri", "MONGO_URI")
	v.BindEnv("mongo.database", "MONGO_DATABASE")

	// Redis 配置
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.username", "REDIS_USERNAME")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// JWT 配置
	v.BindEnv("jwt.secret", "JWT_SECRET")

	// 生成服务配置
	v.BindEnv("ai.provider", "AI_PROVIDER")
	v.BindEnv("ai.api_key", "AI_API_KEY")
	v.BindEnv("ai.base_url", "AI_BASE_URL")
	v.BindEnv("ai.model", "AI_MODEL")

	// 存储配置
	v.BindEnv("storage.driver", "STORAGE_DRIVER")
	v.BindEnv("storage.bucket", "STORAGE_BUCKET")
}

// setDefaults 设置配置项的默认值
// 当配置文件中没有指定某个值时，将使用这里设置的默认值
func setDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors", []string{"http://localhost:3000", "http://localhost:5173"})

	// 数据库默认配置
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.database", "galaxy.db")
	v.SetDefault("database.charset", "utf8mb4")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.max_lifetime", 3600)
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "galaxy")

	// Redis 默认配置
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 100)

	// JWT 默认配置
	v.SetDefault("jwt.access_expire", "24h")

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// 生成服务默认配置
	v.SetDefault("ai.provider", "openai")
	v.SetDefault("ai.base_url", "https://generativelanguage.googleapis.com/v1beta/openai/")
	v.SetDefault("ai.model", "gemini-2.5-flash")
	v.SetDefault("ai.vision_model", "gemini-2.5-flash")
	v.SetDefault("ai.reserved_tokens", 1024)
	v.SetDefault("ai.temperature", 0.7)
	v.SetDefault("ai.stream_timeout", "5m")
	v.SetDefault("ai.memory", true)
	v.SetDefault("ai.memory_limit", 5)

	// 图片默认配置
	v.SetDefault("image.generator_url", "https://image.pollinations.ai/prompt/%s?width=1024&height=1024&nologo=true&model=flux")
	v.SetDefault("image.model", "flux")
	v.SetDefault("image.timeout", "60s")

	// 存储默认配置
	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.dir", "./data/images")
	v.SetDefault("storage.public_base_url", "/files")
}
