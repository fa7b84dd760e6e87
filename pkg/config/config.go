// Package config defines the LiveInspect server and client configuration.
//
// Configuration is read from an optional YAML file and then overlaid with
// environment variables, so a deployment can keep the file in version control
// and inject secrets (GEMINI_API_KEY) through the environment.
package config

import "time"

// Default values applied by Default.
const (
	DefaultServerAddr        = ":3000"
	DefaultLivePath          = "/live"
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultMaxMessageSize    = 4 * 1024 * 1024

	DefaultUpstreamURL   = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1alpha.GenerativeService.BidiGenerateContent"
	DefaultUpstreamModel = "models/gemini-2.0-flash-exp"
	DefaultVoice         = "Kore"
	DefaultDialTimeout   = 15 * time.Second
	DefaultSetupTimeout  = 10 * time.Second

	DefaultConnectTimeout = 5 * time.Second
	DefaultOutboundBuffer = 64
	DefaultPreReadyBuffer = 8
	DefaultVideoInterval  = time.Second
	DefaultAudioInterval  = 128 * time.Millisecond
	DefaultMaxChunkRate   = 20

	DefaultRegistryBackend = RegistryMemory
	DefaultRegistryPrefix  = "liveinspect"
	DefaultRegistryTTL     = 2 * time.Hour

	DefaultServiceName = "liveinspect"
)

// Registry backends.
const (
	RegistryMemory = "memory"
	RegistryRedis  = "redis"
)

// Config is the root configuration.
type Config struct {
	// APIKey is the upstream credential. Prefer the GEMINI_API_KEY environment
	// variable over writing it into the file.
	APIKey string `yaml:"api_key" env:"GEMINI_API_KEY"`

	Server    ServerConfig    `yaml:"server" envPrefix:"LIVEINSPECT_SERVER_"`
	Upstream  UpstreamConfig  `yaml:"upstream" envPrefix:"LIVEINSPECT_UPSTREAM_"`
	Client    ClientConfig    `yaml:"client" envPrefix:"LIVEINSPECT_CLIENT_"`
	Registry  RegistryConfig  `yaml:"registry" envPrefix:"LIVEINSPECT_REGISTRY_"`
	Logging   LoggingConfig   `yaml:"logging" envPrefix:"LIVEINSPECT_LOG_"`
	Metrics   MetricsConfig   `yaml:"metrics" envPrefix:"LIVEINSPECT_METRICS_"`
	Telemetry TelemetryConfig `yaml:"telemetry" envPrefix:"LIVEINSPECT_TELEMETRY_"`
}

// ServerConfig configures the relay HTTP/WebSocket listener.
type ServerConfig struct {
	Addr              string        `yaml:"addr" env:"ADDR"`
	LivePath          string        `yaml:"live_path" env:"LIVE_PATH"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"READ_HEADER_TIMEOUT"`
	MaxMessageSize    int64         `yaml:"max_message_size" env:"MAX_MESSAGE_SIZE"`
	// AllowedOrigins restricts browser origins; empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
}

// UpstreamConfig configures the Gemini Live session opened per client.
type UpstreamConfig struct {
	URL               string        `yaml:"url" env:"URL"`
	Model             string        `yaml:"model" env:"MODEL"`
	Voice             string        `yaml:"voice" env:"VOICE"`
	SystemInstruction string        `yaml:"system_instruction" env:"SYSTEM_INSTRUCTION"`
	Greeting          string        `yaml:"greeting" env:"GREETING"`
	DialTimeout       time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
	SetupTimeout      time.Duration `yaml:"setup_timeout" env:"SETUP_TIMEOUT"`
}

// ClientConfig configures the client session and its transport channel.
type ClientConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
	OutboundBuffer int           `yaml:"outbound_buffer" env:"OUTBOUND_BUFFER"`
	PreReadyBuffer int           `yaml:"pre_ready_buffer" env:"PRE_READY_BUFFER"`
	VideoInterval  time.Duration `yaml:"video_interval" env:"VIDEO_INTERVAL"`
	AudioInterval  time.Duration `yaml:"audio_interval" env:"AUDIO_INTERVAL"`
	// MaxChunkRate caps chunk production per second across all tracks.
	MaxChunkRate int `yaml:"max_chunk_rate" env:"MAX_CHUNK_RATE"`
}

// RegistryConfig selects the live-session registry backend.
type RegistryConfig struct {
	Backend   string        `yaml:"backend" env:"BACKEND"`
	RedisAddr string        `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisDB   int           `yaml:"redis_db" env:"REDIS_DB"`
	Prefix    string        `yaml:"prefix" env:"PREFIX"`
	TTL       time.Duration `yaml:"ttl" env:"TTL"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// MetricsConfig enables the Prometheus exporter when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

// TelemetryConfig enables OTLP trace export when OTLPEndpoint is set.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string `yaml:"service_name" env:"SERVICE_NAME"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              DefaultServerAddr,
			LivePath:          DefaultLivePath,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			MaxMessageSize:    DefaultMaxMessageSize,
		},
		Upstream: UpstreamConfig{
			URL:               DefaultUpstreamURL,
			Model:             DefaultUpstreamModel,
			Voice:             DefaultVoice,
			SystemInstruction: DefaultSystemInstruction,
			Greeting:          DefaultGreeting,
			DialTimeout:       DefaultDialTimeout,
			SetupTimeout:      DefaultSetupTimeout,
		},
		Client: ClientConfig{
			ConnectTimeout: DefaultConnectTimeout,
			OutboundBuffer: DefaultOutboundBuffer,
			PreReadyBuffer: DefaultPreReadyBuffer,
			VideoInterval:  DefaultVideoInterval,
			AudioInterval:  DefaultAudioInterval,
			MaxChunkRate:   DefaultMaxChunkRate,
		},
		Registry: RegistryConfig{
			Backend: DefaultRegistryBackend,
			Prefix:  DefaultRegistryPrefix,
			TTL:     DefaultRegistryTTL,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			ServiceName: DefaultServiceName,
		},
	}
}

// DefaultGreeting is the wake-up turn sent once the upstream session is set up.
const DefaultGreeting = "Здравствуйте, я готов к осмотру."

// DefaultSystemInstruction is the inspector persona given to the model.
const DefaultSystemInstruction = `
Роль: Страховой инспектор.
Язык: Русский.

Сценарий:
1. Приветствие.
2. Просьба показать VIN.
3. Осмотр автомобиля по кругу.
4. Детализация повреждений (если есть).
5. Завершение.

Триггер завершения:
Когда осмотр завершен или получена команда "FINISH_REPORT":
1. Скажи голосом финальную фразу (например, "Осмотр закончен, формирую отчет").
2. НЕ ПИШИ ТЕКСТ.
3. ВЫЗОВИ ФУНКЦИЮ submit_report с параметрами отчета.
`
