// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Store         StoreConfig         `mapstructure:"store"`
	Naming        NamingConfig        `mapstructure:"naming"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Admin         AdminConfig         `mapstructure:"admin"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Telegram      TelegramConfig      `mapstructure:"telegram"`
	Relay         RelayConfig         `mapstructure:"relay"`
	RateLimit     RateLimitConfig     `mapstructure:"ratelimit"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// StorageConfig 描述本地上传目录及其限制。
// MaxUploadBytes 由外层入口决定（原实现中 20MB 与 50MB 并存），不是核心逻辑的一部分。
type StorageConfig struct {
	UploadDir      string `mapstructure:"upload_dir"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes"`
	TempMaxAge     string `mapstructure:"temp_max_age"`
	ImportOrphans  bool   `mapstructure:"import_orphans"`
}

// StoreConfig 选择元数据存储后端。
type StoreConfig struct {
	Backend       string `mapstructure:"backend"` // json | mysql
	Path          string `mapstructure:"path"`
	BackfillNames bool   `mapstructure:"backfill_names"`
}

// NamingConfig 控制磁盘文件名的生成方式。
type NamingConfig struct {
	KeepOriginalStem bool `mapstructure:"keep_original_stem"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。Addr 为空时不启用 Redis。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
	ShareLinkExpireHours   int    `mapstructure:"share_link_expire_hours"`
}

// AdminConfig 单一管理员账号，密码以 bcrypt 哈希保存。
type AdminConfig struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。Brokers 为空时使用进程内队列。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 镜像存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
	Region          string `mapstructure:"region"`
	PresignMinutes  int    `mapstructure:"presign_minutes"`
}

// TelegramConfig 存储 Telegram 机器人相关的配置。
type TelegramConfig struct {
	BotToken         string `mapstructure:"bot_token"`
	ChatID           int64  `mapstructure:"chat_id"`
	EnableBot        bool   `mapstructure:"enable_bot"`
	MaxDownloadBytes int64  `mapstructure:"max_download_bytes"`
}

// RelayConfig 控制上传完成后的转发行为。
type RelayConfig struct {
	Workers               int  `mapstructure:"workers"`
	QueueSize             int  `mapstructure:"queue_size"`
	MaxAttempts           int  `mapstructure:"max_attempts"`
	DeleteLocalAfterRelay bool `mapstructure:"delete_local_after_relay"`
}

// RateLimitConfig 上传限流配置（依赖 Redis）。
type RateLimitConfig struct {
	UploadsPerMinute int `mapstructure:"uploads_per_minute"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "3008")
	v.SetDefault("server.mode", "release")
	v.SetDefault("storage.upload_dir", "uploads")
	v.SetDefault("storage.max_upload_bytes", 20*1024*1024)
	v.SetDefault("storage.temp_max_age", "1h")
	v.SetDefault("store.backend", "json")
	v.SetDefault("store.path", "data/files.json")
	v.SetDefault("jwt.access_token_expire_hours", 24)
	v.SetDefault("jwt.share_link_expire_hours", 72)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("kafka.topic", "teledrive-relay")
	v.SetDefault("kafka.group_id", "teledrive-relay-consumer")
	v.SetDefault("elasticsearch.index_name", "teledrive_files")
	v.SetDefault("telegram.max_download_bytes", 20*1024*1024)
	v.SetDefault("minio.region", "us-east-1")
	v.SetDefault("minio.presign_minutes", 60)
	v.SetDefault("relay.workers", 2)
	v.SetDefault("relay.queue_size", 256)
	v.SetDefault("relay.max_attempts", 3)

	// 以下键没有有意义的默认值，注册后才能被 AutomaticEnv 覆盖。
	for _, key := range []string{
		"database.mysql.dsn", "database.redis.addr", "database.redis.password",
		"jwt.secret", "admin.username", "admin.password_hash",
		"kafka.brokers", "elasticsearch.addresses", "elasticsearch.username", "elasticsearch.password",
		"minio.endpoint", "minio.access_key_id", "minio.secret_access_key", "minio.bucket_name",
		"telegram.bot_token",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("telegram.chat_id", 0)
	v.SetDefault("telegram.enable_bot", false)
}

// Load 读取指定路径的 YAML 配置，环境变量 TELEDRIVE_<SECTION>_<KEY> 可覆盖文件中的值。
// 配置文件不存在时仅使用默认值和环境变量。
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TELEDRIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if cfg.Storage.MaxUploadBytes <= 0 {
		return cfg, fmt.Errorf("storage.max_upload_bytes 必须大于 0")
	}
	return cfg, nil
}

// Init 初始化配置加载，失败时直接 panic。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}
