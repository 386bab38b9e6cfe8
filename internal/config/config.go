package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the operator-facing configuration for an accel-dispatch
// controller process: how the Dispatcher is built, whether the admin
// introspection server and the Redis registry side-channel run, and at
// what level the whole process logs.
type Config struct {
	Dispatcher DispatcherConfig
	Admin      AdminConfig
	Registry   RegistryConfig
	LogLevel   string
}

// DispatcherConfig parameterizes dispatch.New and the RunOptions a caller
// builds around it.
type DispatcherConfig struct {
	WorkerClass     string
	DeviceIDs       []int
	QueueSize       int
	BaseSeed        int64
	TaskTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// AdminConfig controls the optional HTTP/WS introspection server.
type AdminConfig struct {
	Enabled      bool
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	Auth         AuthConfig
}

// AuthConfig gates the admin server's optional JWT bearer auth, off by
// default.
type AuthConfig struct {
	Enabled   bool
	JWTSecret string
}

// RegistryConfig controls the optional Redis-backed observability
// side-channel. Nothing in the Dispatcher's own correctness depends on it.
type RegistryConfig struct {
	Enabled           bool
	Addr              string
	Password          string
	DB                int
	PoolSize          int
	DialTimeout       time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

// Load reads configuration from ./config.yaml (or /etc/acceldispatch), a
// set of baked-in defaults, and ACCELDISPATCH_-prefixed environment
// variables, in ascending priority.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/acceldispatch")

	setDefaults()

	viper.SetEnvPrefix("ACCELDISPATCH")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	// Dispatcher defaults
	viper.SetDefault("dispatcher.workerclass", "")
	viper.SetDefault("dispatcher.deviceids", []int{0})
	viper.SetDefault("dispatcher.queuesize", 100)
	viper.SetDefault("dispatcher.baseseed", 0)
	viper.SetDefault("dispatcher.tasktimeout", 0*time.Second)
	viper.SetDefault("dispatcher.shutdowntimeout", 30*time.Second)

	// Admin defaults
	viper.SetDefault("admin.enabled", true)
	viper.SetDefault("admin.host", "0.0.0.0")
	viper.SetDefault("admin.port", 8081)
	viper.SetDefault("admin.readtimeout", 10*time.Second)
	viper.SetDefault("admin.writetimeout", 10*time.Second)
	viper.SetDefault("admin.idletimeout", 120*time.Second)
	viper.SetDefault("admin.auth.enabled", false)
	viper.SetDefault("admin.auth.jwtsecret", "")

	// Registry defaults
	viper.SetDefault("registry.enabled", false)
	viper.SetDefault("registry.addr", "localhost:6379")
	viper.SetDefault("registry.password", "")
	viper.SetDefault("registry.db", 0)
	viper.SetDefault("registry.poolsize", 10)
	viper.SetDefault("registry.dialtimeout", 5*time.Second)
	viper.SetDefault("registry.heartbeatinterval", 5*time.Second)
	viper.SetDefault("registry.heartbeattimeout", 15*time.Second)

	// Logging defaults
	viper.SetDefault("loglevel", "info")
}
