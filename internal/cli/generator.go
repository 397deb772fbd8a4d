package cli

import (
	"fmt"

	"github.com/kiliankoe/geotrivia/internal/ai"
	"github.com/kiliankoe/geotrivia/internal/ai/gemini"
	"github.com/kiliankoe/geotrivia/internal/ai/ollama"
	"github.com/kiliankoe/geotrivia/internal/ai/openai"
	"github.com/kiliankoe/geotrivia/internal/config"
	"github.com/kiliankoe/geotrivia/internal/game"
	"github.com/kiliankoe/geotrivia/internal/questions"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// newGenerator builds the configured question source. The returned client is
// non-nil when generated questions are cached in redis and must be closed by
// the caller.
func newGenerator(cfg config.Config) (game.QuestionGenerator, *redis.Client, error) {
	var gen game.QuestionGenerator
	switch cfg.Questions.Provider {
	case config.ProviderStatic:
		var bank []game.Question
		if cfg.Questions.BankFile != "" {
			b, err := questions.LoadBank(cfg.Questions.BankFile)
			if err != nil {
				return nil, nil, err
			}
			bank = b
		}
		return questions.NewStatic(bank), nil, nil
	case config.ProviderOpenAI, config.ProviderOllama, config.ProviderGemini:
		gen = &questions.LLM{
			Provider:     newProvider(cfg),
			Model:        cfg.Questions.Model,
			SystemPrompt: cfg.Questions.SystemPrompt,
		}
	default:
		return nil, nil, fmt.Errorf("unknown question provider %q", cfg.Questions.Provider)
	}

	if cfg.Redis.Addr == "" || cfg.Questions.CacheTTL <= 0 {
		return gen, nil, nil
	}
	rdb := questions.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	log.Info().Str("addr", cfg.Redis.Addr).Dur("ttl", cfg.Questions.CacheTTL).Msg("caching generated questions")
	cache := questions.NewCache(gen, rdb, cfg.Questions.CacheTTL, cfg.Redis.Prefix)
	cache.Timeout = cfg.Game.GenerateTimeout
	return cache, rdb, nil
}

func newProvider(cfg config.Config) ai.Provider {
	switch cfg.Questions.Provider {
	case config.ProviderOllama:
		return ollama.New(cfg.Ollama.Host)
	case config.ProviderGemini:
		c := gemini.New(cfg.Gemini.APIKey, cfg.Gemini.BaseURL)
		c.Schema = gemini.QuestionSchema(cfg.Game.QuestionCount)
		return c
	default:
		return openai.New(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)
	}
}
