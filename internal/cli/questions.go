package cli

import (
	"context"
	"fmt"

	"github.com/kiliankoe/geotrivia/internal/config"
	"github.com/kiliankoe/geotrivia/internal/game"
	"github.com/kiliankoe/geotrivia/internal/questions"
	"github.com/spf13/cobra"
)

// newQuestionsCmd generates one question set with the configured provider and
// prints it as a bank file, which the static provider can load.
func newQuestionsCmd(configPath *string) *cobra.Command {
	var (
		region  string
		count   int
		refresh bool
	)
	cmd := &cobra.Command{
		Use:   "questions",
		Short: "Generate a question bank for a region",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if count <= 0 {
				count = cfg.Game.QuestionCount
			}
			gen, rdb, err := newGenerator(cfg)
			if err != nil {
				return err
			}
			if rdb != nil {
				defer rdb.Close()
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Game.GenerateTimeout)
			defer cancel()
			out, err := generateBank(ctx, gen, region, count, refresh)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().StringVar(&region, "region", "", "region the questions are about")
	cmd.Flags().IntVar(&count, "count", 0, "number of questions (defaults to game.question_count)")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "drop a cached set for the region before generating")
	_ = cmd.MarkFlagRequired("region")
	return cmd
}

// generateBank renders one generated question set as a bank file.
func generateBank(ctx context.Context, gen game.QuestionGenerator, region string, count int, refresh bool) ([]byte, error) {
	if cache, ok := gen.(*questions.Cache); ok && refresh {
		if err := cache.Invalidate(ctx, region, count); err != nil {
			return nil, fmt.Errorf("invalidate cached questions: %w", err)
		}
	}
	qs, err := gen.GenerateQuestions(ctx, region, count)
	if err != nil {
		return nil, err
	}
	for i, q := range qs {
		if err := game.ValidateQuestion(q); err != nil {
			return nil, fmt.Errorf("question %d: %w", i, err)
		}
	}
	return questions.MarshalBank(qs)
}
