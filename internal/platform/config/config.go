package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Cfg 是一个全局变量，用于存储所有应用程序的配置
var Cfg *Config

// Config 结构体定义了应用程序的所有配置项
// 它与 config.yaml 文件的结构完全对应
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Handoff  HandoffConfig  `mapstructure:"handoff"`
	Protocol ProtocolConfig `mapstructure:"protocol"`
	Presence PresenceConfig `mapstructure:"presence"`
	Motions  MotionsConfig  `mapstructure:"motions"`
	Staff    StaffConfig    `mapstructure:"staff"`
}

// ServerConfig 定义了服务器相关的配置
type ServerConfig struct {
	Mode    string     `mapstructure:"mode"`
	Address string     `mapstructure:"address"`
	Cors    CorsConfig `mapstructure:"cors"`
	// BallotBaseURL 是投票箱(BBS)对外的根地址，验证成功后的跳转链接以它为前缀
	BallotBaseURL string `mapstructure:"ballotBaseURL"`
}

// CorsConfig 定义了CORS相关的配置
type CorsConfig struct {
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

// DatabaseConfig 定义了持久化数据库的配置
type DatabaseConfig struct {
	// Driver 取值 sqlite 或 postgres
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	LogLevel string `mapstructure:"logLevel"`
}

// RedisConfig 定义了Redis的配置
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// HandoffMode 决定BBS如何调用CIS
type HandoffMode string

const (
	// HandoffLocal 表示CIS与BBS部署在同一进程内，spend标记加入投票事务
	HandoffLocal HandoffMode = "local"
	// HandoffRemote 表示通过HMAC签名的HTTP请求调用远端CIS
	HandoffRemote HandoffMode = "remote"
)

// HandoffConfig 定义了CIS与BBS之间服务间通信的配置
type HandoffConfig struct {
	Mode         HandoffMode   `mapstructure:"mode"`
	SharedSecret string        `mapstructure:"sharedSecret"`
	CISBaseURL   string        `mapstructure:"cisBaseURL"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// ProtocolConfig 定义了匿名会话与跳转码的生命周期
type ProtocolConfig struct {
	SessionTTL   time.Duration `mapstructure:"sessionTTL"`
	CodeTTL      time.Duration `mapstructure:"codeTTL"`
	CookieSecret string        `mapstructure:"cookieSecret"`
}

// PresenceConfig 定义了在线状态滑动窗口的配置
type PresenceConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// MotionsConfig 定义了动议模块的后台任务配置
type MotionsConfig struct {
	AutoCloseInterval time.Duration `mapstructure:"autoCloseInterval"`
	// ReconcileInterval 是校正计票缓存的周期
	ReconcileInterval time.Duration `mapstructure:"reconcileInterval"`
}

// StaffAccount 是一个工作人员账号，密码以bcrypt哈希存储
type StaffAccount struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"passwordHash"`
}

// StaffConfig 定义了工作人员登录凭证与令牌的配置
type StaffConfig struct {
	JWTSecret string         `mapstructure:"jwtSecret"`
	TokenTTL  time.Duration  `mapstructure:"tokenTTL"`
	Accounts  []StaffAccount `mapstructure:"accounts"`
}

// setDefaults 为所有配置项设置默认值，使得没有配置文件时也能以开发模式启动
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.cors.allowedOrigins", []string{"http://localhost:3000"})
	v.SetDefault("server.ballotBaseURL", "http://localhost:8080")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "agm.db")
	v.SetDefault("database.logLevel", "silent")

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// 没有默认值的密钥也要注册，否则 Unmarshal 时读不到对应的环境变量
	v.SetDefault("handoff.sharedSecret", "")
	v.SetDefault("protocol.cookieSecret", "")
	v.SetDefault("staff.jwtSecret", "")

	v.SetDefault("handoff.mode", string(HandoffLocal))
	v.SetDefault("handoff.cisBaseURL", "http://localhost:8080")
	v.SetDefault("handoff.timeout", 5*time.Second)

	v.SetDefault("protocol.sessionTTL", 12*time.Hour)
	v.SetDefault("protocol.codeTTL", 10*time.Minute)

	v.SetDefault("presence.timeout", 45*time.Second)
	v.SetDefault("motions.autoCloseInterval", 2*time.Second)
	v.SetDefault("motions.reconcileInterval", time.Minute)

	v.SetDefault("staff.tokenTTL", 8*time.Hour)
}

// LoadConfig 函数负责查找、加载和解析配置文件
// 它会在指定的路径中查找名为 config.yaml 的文件，找不到时只使用默认值和环境变量
func LoadConfig() (*Config, error) {
	// 0. 先加载 .env，使其中的变量可以被下面的 AutomaticEnv 读取
	// .env 不存在并不是错误
	_ = godotenv.Load()

	v := viper.New()

	// 1. 设置配置文件名和类型
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// 2. 添加配置文件搜索路径
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	// 3. 允许通过环境变量覆盖配置，例如 HANDOFF_SHAREDSECRET=xxx
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// 4. 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	// 5. 将配置反序列化到结构体中
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// 6. 将加载的配置赋值给全局变量
	Cfg = &cfg

	return Cfg, nil
}

// Validate 检查那些没有安全默认值的配置项
func (c *Config) Validate() error {
	if c.Handoff.SharedSecret == "" {
		return errors.New("handoff.sharedSecret 未配置")
	}
	if c.Protocol.CookieSecret == "" {
		return errors.New("protocol.cookieSecret 未配置")
	}
	if c.Staff.JWTSecret == "" {
		return errors.New("staff.jwtSecret 未配置")
	}
	switch c.Handoff.Mode {
	case HandoffLocal, HandoffRemote:
	default:
		return errors.New("handoff.mode 只能是 local 或 remote")
	}
	return nil
}
