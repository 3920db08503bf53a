package batch

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	model "github.com/zhouzirui/ise-evaluator/internal/model/evaluation"
	"github.com/zhouzirui/ise-evaluator/internal/service/evaluation"
)

// Evaluator 执行单次评测，便于测试替换
type Evaluator interface {
	Evaluate(ctx context.Context, req *model.Request) (*model.Result, error)
}

// Options 批量评测策略
type Options struct {
	Concurrency int           // 同时进行的会话数
	Retries     int           // 可重试错误的额外尝试次数
	ItemDelay   time.Duration // 同一 worker 相邻两次请求的间隔，避免频繁请求
}

// Item 一条待评测的音频
type Item struct {
	Source  string
	Request *model.Request
}

// Outcome 单条音频的评测结果
type Outcome struct {
	Source   string
	Result   *model.Result
	Err      error
	Attempts int
	Elapsed  time.Duration
}

// Runner 批量执行评测，负责并发、重试与跳过策略
type Runner struct {
	evaluator Evaluator
	options   Options
	logger    *logrus.Entry
}

// NewRunner 创建批量执行器
func NewRunner(evaluator Evaluator, options Options, logger *logrus.Entry) *Runner {
	if options.Concurrency < 1 {
		options.Concurrency = 1
	}
	if options.Retries < 0 {
		options.Retries = 0
	}
	if logger == nil {
		logger = logrus.WithField("component", "batch")
	}
	return &Runner{evaluator: evaluator, options: options, logger: logger}
}

// Run 评测全部条目，结果与输入顺序一致。单条失败不会中断其它条目。
func (r *Runner) Run(ctx context.Context, items []Item) []Outcome {
	outcomes := make([]Outcome, len(items))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.options.Concurrency)

	for i, item := range items {
		g.Go(func() error {
			outcomes[i] = r.runOne(ctx, i, len(items), item)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (r *Runner) runOne(ctx context.Context, index, total int, item Item) Outcome {
	logger := r.logger.WithFields(logrus.Fields{
		"source": item.Source,
		"item":   index + 1,
		"total":  total,
	})
	start := time.Now()
	outcome := Outcome{Source: item.Source}

	for attempt := 0; attempt <= r.options.Retries; attempt++ {
		if attempt > 0 || index >= r.options.Concurrency {
			if err := r.wait(ctx); err != nil {
				outcome.Err = err
				break
			}
		}

		outcome.Attempts++
		result, err := r.evaluator.Evaluate(ctx, item.Request)
		if err == nil {
			outcome.Result = result
			outcome.Err = nil
			break
		}

		outcome.Err = err
		if !evaluation.IsRetryableError(err) {
			break
		}
		logger.WithError(err).WithField("attempt", outcome.Attempts).Warn("[batch] evaluation failed, retrying")
	}

	outcome.Elapsed = time.Since(start)
	if outcome.Err != nil {
		logger.WithError(outcome.Err).Error("[batch] skip item")
	} else {
		logger.WithFields(logrus.Fields{
			"total_score": outcome.Result.TotalScore,
			"rejected":    outcome.Result.Rejected,
			"elapsed":     outcome.Elapsed,
		}).Info("[batch] item evaluated")
	}
	return outcome
}

func (r *Runner) wait(ctx context.Context) error {
	if r.options.ItemDelay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(r.options.ItemDelay):
		return nil
	}
}
