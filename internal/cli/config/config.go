// Package config 管理 CLI 客户端配置
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config CLI 配置结构
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Auth   AuthConfig   `mapstructure:"auth"`
	Chat   ChatConfig   `mapstructure:"chat"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	URL string `mapstructure:"url"` // HTTP API 地址，WebSocket 地址由它推导
}

// AuthConfig 凭证
type AuthConfig struct {
	AccessToken string `mapstructure:"access_token"`
}

// ChatConfig 对话默认参数
type ChatConfig struct {
	Model string `mapstructure:"model"` // 为空时使用服务端默认模型
}

var (
	cfg        *Config
	configPath string
)

// Init 初始化配置，配置文件位于 ~/.galaxy/config.yaml
func Init() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("获取用户目录失败: %w", err)
	}
	return InitAt(filepath.Join(home, ".galaxy"))
}

// InitAt 从指定目录加载配置，文件不存在时写入默认配置
func InitAt(dir string) error {
	configPath = filepath.Join(dir, "config.yaml")

	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}

	viper.Reset()
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("GALAXY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.url", "http://localhost:8080")
	viper.SetDefault("auth.access_token", "")
	viper.SetDefault("chat.model", "")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("读取配置失败: %w", err)
		}
		if err := viper.WriteConfigAs(configPath); err != nil {
			return fmt.Errorf("写入默认配置失败: %w", err)
		}
	}

	cfg = &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("解析配置失败: %w", err)
	}
	return nil
}

// Get 获取配置
func Get() *Config {
	return cfg
}

// Path 配置文件路径
func Path() string {
	return configPath
}

// SaveToken 保存访问 Token
func SaveToken(token string) error {
	viper.Set("auth.access_token", token)
	if cfg != nil {
		cfg.Auth.AccessToken = token
	}
	return viper.WriteConfigAs(configPath)
}

// GetAccessToken 获取访问 Token
func GetAccessToken() string {
	if cfg == nil {
		return ""
	}
	return cfg.Auth.AccessToken
}

// GetServerURL 获取服务器地址
func GetServerURL() string {
	if cfg == nil || cfg.Server.URL == "" {
		return "http://localhost:8080"
	}
	return strings.TrimRight(cfg.Server.URL, "/")
}

// SetServerURL 设置服务器地址，只对本次运行生效
func SetServerURL(url string) {
	viper.Set("server.url", url)
	if cfg != nil {
		cfg.Server.URL = url
	}
}

// GetModel 默认模型
func GetModel() string {
	if cfg == nil {
		return ""
	}
	return cfg.Chat.Model
}

// ClearToken 清除本地凭证
func ClearToken() error {
	return SaveToken("")
}

// IsLoggedIn 检查是否已保存 Token
func IsLoggedIn() bool {
	return GetAccessToken() != ""
}
