package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	Port      string          `mapstructure:"port"`
	Log       LogConfig       `mapstructure:"log"`
	Game      GameConfig      `mapstructure:"game"`
	Questions QuestionsConfig `mapstructure:"questions"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Ollama    OllamaConfig    `mapstructure:"ollama"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Debug     DebugConfig     `mapstructure:"debug"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console or json
}

type GameConfig struct {
	MinPlayers      int           `mapstructure:"min_players"`
	QuestionCount   int           `mapstructure:"question_count"`
	GenerateTimeout time.Duration `mapstructure:"generate_timeout"`
	AnswerGrace     time.Duration `mapstructure:"answer_grace"`
	AutoAdvance     time.Duration `mapstructure:"auto_advance"`
	ExportFile      string        `mapstructure:"export_file"`
}

type QuestionsConfig struct {
	Provider     string        `mapstructure:"provider"`
	Model        string        `mapstructure:"model"`
	SystemPrompt string        `mapstructure:"system_prompt"`
	BankFile     string        `mapstructure:"bank_file"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

type OllamaConfig struct {
	Host string `mapstructure:"host"`
}

type GeminiConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type DebugConfig struct {
	Pprof bool `mapstructure:"pprof"`
}

// Question providers.
const (
	ProviderStatic = "static"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
)

func Default() Config {
	return Config{
		Port: "8080",
		Log:  LogConfig{Level: "info", Format: "console"},
		Game: GameConfig{
			MinPlayers:      2,
			QuestionCount:   10,
			GenerateTimeout: 30 * time.Second,
			AnswerGrace:     2 * time.Second,
		},
		Questions: QuestionsConfig{
			Provider: ProviderStatic,
			Model:    "gemini-2.0-flash",
		},
		Ollama: OllamaConfig{Host: "http://localhost:11434"},
		Redis:  RedisConfig{Prefix: "geotrivia:"},
	}
}

// Load builds the configuration from defaults, an optional config file and the
// environment, in increasing order of precedence. A .env file in the working
// directory is loaded into the environment first if present.
func Load(file string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	v := viper.New()
	m := make(map[string]any)
	if err := mapstructure.Decode(cfg, &m); err != nil {
		return cfg, fmt.Errorf("mapstructure: %v", err)
	}
	if err := v.MergeConfigMap(m); err != nil {
		return cfg, fmt.Errorf("merge config map: %v", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("read config from file %s: %v", file, err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %v", err)
	}
	cfg.Questions.Provider = strings.ToLower(strings.TrimSpace(cfg.Questions.Provider))
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	if c.Game.MinPlayers < 1 {
		errs = append(errs, fmt.Errorf("game.min_players must be at least 1, got %d", c.Game.MinPlayers))
	}
	if c.Game.QuestionCount < 1 {
		errs = append(errs, fmt.Errorf("game.question_count must be at least 1, got %d", c.Game.QuestionCount))
	}
	if c.Game.GenerateTimeout <= 0 {
		errs = append(errs, errors.New("game.generate_timeout must be positive"))
	}
	if c.Game.AnswerGrace < 0 || c.Game.AutoAdvance < 0 {
		errs = append(errs, errors.New("game.answer_grace and game.auto_advance must not be negative"))
	}
	switch c.Questions.Provider {
	case ProviderStatic, ProviderOpenAI, ProviderOllama, ProviderGemini:
	default:
		errs = append(errs, fmt.Errorf("unknown questions.provider %q", c.Questions.Provider))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
