package config

import (
	"github.com/blues/tms/internal/logger"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Task     TaskConfig     `mapstructure:"task"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// ChainConfig 链配置
type ChainConfig struct {
	ChainId       int64  `mapstructure:"chain_id"`       // 链ID
	RpcUrl        string `mapstructure:"rpc_url"`        // RPC节点URL
	EscrowAddress string `mapstructure:"escrow_address"` // 托管合约地址
	TokenAddress  string `mapstructure:"token_address"`  // 稳定币合约地址
	TokenDecimals int32  `mapstructure:"token_decimals"` // 稳定币精度
	SettlerKey    string `mapstructure:"settler_key"`    // 结算账户私钥，仅用于release/refund调用
	Confirmations int64  `mapstructure:"confirmations"`  // 确认数，兼作启动时的安全回溯区块数
	PollInterval  int    `mapstructure:"poll_interval"`  // 轮询间隔（秒）
	BatchSize     int64  `mapstructure:"batch_size"`     // 单次日志查询的最大区块范围
}

// TaskConfig 定时任务配置
type TaskConfig struct {
	Interval    int  `mapstructure:"interval"`     // 秒
	SweepGrace  int  `mapstructure:"sweep_grace"`  // 超期清扫的宽限期（秒）
	AutoRefund  bool `mapstructure:"auto_refund"`  // 是否由结算方自动退款超期任务
	WorkerCount int  `mapstructure:"worker_count"` // 定时任务协程池大小
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // 日志级别: debug, info, warn, error, fatal
	Output string `mapstructure:"output"` // 输出目标: stdout, stderr, file
	File   string `mapstructure:"file"`   // 日志文件路径（当output为file时使用）
}

// GetLevel 实现 logger.LogConfig 接口
func (l LogConfig) GetLevel() string {
	return l.Level
}

// GetOutput 实现 logger.LogConfig 接口
func (l LogConfig) GetOutput() string {
	return l.Output
}

// GetFile 实现 logger.LogConfig 接口
func (l LogConfig) GetFile() string {
	return l.File
}

func Load() *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/tms")

	// 设置默认值
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.dbname", "taskmarket")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("chain.chain_id", 8453)
	viper.SetDefault("chain.token_decimals", 6)
	viper.SetDefault("chain.confirmations", 12)
	viper.SetDefault("chain.poll_interval", 10)
	viper.SetDefault("chain.batch_size", 500)
	viper.SetDefault("task.interval", 60)
	viper.SetDefault("task.sweep_grace", 3600)
	viper.SetDefault("task.auto_refund", false)
	viper.SetDefault("task.worker_count", 4)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.file", "logs/app.log")

	// 自动读取环境变量
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		logger.Warn("Warning: Could not read config file: %v", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		logger.Fatal("Unable to decode config into struct: %v", err)
	}

	return &config
}
