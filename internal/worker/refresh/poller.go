// Package refresh はダッシュボードの定期更新を提供する。
// 失敗が続く場合は指数バックオフで間隔を広げる。
package refresh

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/coestate/internal/metrics"
)

const (
	// DefaultInterval はダッシュボードの更新間隔（3秒）。
	DefaultInterval = 3 * time.Second
	// maxBackoff はバックオフの最大遅延（1分）。
	maxBackoff = time.Minute
)

// LoaderFunc は1回分の更新を行う。
type LoaderFunc func(ctx context.Context) error

// Poller はLoaderFuncを一定間隔で呼び出す。
type Poller struct {
	load     LoaderFunc
	interval time.Duration
	logger   *slog.Logger
	metrics  metrics.MetricsCollector

	consecutiveErrors int
}

// NewPoller はPollerを生成する。intervalが0以下の場合はDefaultIntervalを使用する。
func NewPoller(load LoaderFunc, interval time.Duration, logger *slog.Logger, mc metrics.MetricsCollector) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Poller{load: load, interval: interval, logger: logger, metrics: mc}
}

// CalculateBackoff は連続失敗回数に基づく次回までの遅延を返す。
// 1回目の失敗で間隔の2倍、以降2倍ずつ増加し、最大1分。
func CalculateBackoff(interval time.Duration, consecutiveErrors int) time.Duration {
	if consecutiveErrors <= 0 {
		return interval
	}
	delay := interval
	for i := 0; i < consecutiveErrors; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// Start は起動直後に1回更新し、以降はコンテキストがキャンセルされるまで更新を続ける。
// 戻った後にLoaderFuncが呼ばれることはない。
func (p *Poller) Start(ctx context.Context) {
	p.logger.Info("定期更新を開始しました", slog.Duration("interval", p.interval))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("定期更新を停止しました")
			return
		case <-timer.C:
		}
		if ctx.Err() != nil {
			p.logger.Info("定期更新を停止しました")
			return
		}

		_ = p.RunOnce(ctx)
		timer.Reset(p.NextDelay())
	}
}

// RunOnce は1回更新し、結果に応じて連続失敗回数を更新する。
func (p *Poller) RunOnce(ctx context.Context) error {
	start := time.Now()
	err := p.load(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		p.consecutiveErrors++
		p.metrics.RecordRefresh(metrics.OutcomeFailure)
		p.logger.Warn("定期更新に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("consecutive_errors", p.consecutiveErrors),
		)
		return err
	}

	p.consecutiveErrors = 0
	p.metrics.RecordRefresh(metrics.OutcomeSuccess)
	p.logger.Debug("定期更新が完了しました",
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// NextDelay は次回更新までの遅延を返す。
func (p *Poller) NextDelay() time.Duration {
	return CalculateBackoff(p.interval, p.consecutiveErrors)
}
