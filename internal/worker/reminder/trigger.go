// Package reminder は日次のリマインダー送信スケジュールを提供する。
// cron式で指定した時刻に、その日がリマインド日にあたる未送信の生徒へ送信する。
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hitoshi/feereminder/internal/campaign"
)

// DueRunner は指定日にリマインド対象となる送信先へ送信する。*campaign.Runnerが満たす。
type DueRunner interface {
	RunDue(ctx context.Context, day time.Time) (campaign.ScheduleSummary, error)
}

// Config はTriggerの生成パラメータ。
type Config struct {
	// Spec は標準5フィールドのcron式（例: "0 0 * * *"）。@dailyなどの記述子も使える。
	Spec     string
	Location *time.Location
	Logger   *slog.Logger
	// Now は現在時刻を返す。テスト用に差し替え可能。
	Now func() time.Time
}

// Trigger はcronスケジュールに従って日次送信を起動する。
// 前回の送信が終わっていない場合、その回の起動はスキップする。
type Trigger struct {
	runner DueRunner
	cron   *cron.Cron
	spec   string
	loc    *time.Location
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewTrigger はTriggerを生成する。cron式が解釈できない場合はエラーを返す。
func NewTrigger(runner DueRunner, cfg Config) (*Trigger, error) {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	cl := cronLogger{logger: cfg.Logger}
	t := &Trigger{
		runner: runner,
		spec:   cfg.Spec,
		loc:    cfg.Location,
		logger: cfg.Logger,
		now:    cfg.Now,
		ctx:    context.Background(),
		cancel: func() {},
		cron: cron.New(
			cron.WithLocation(cfg.Location),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}

	if _, err := t.cron.AddFunc(cfg.Spec, t.runScheduled); err != nil {
		return nil, fmt.Errorf("invalid reminder schedule %q: %w", cfg.Spec, err)
	}
	return t, nil
}

// Start はスケジュールを開始する。ブロックしない。
// ctxがキャンセルされると実行中の送信も中断される。
func (t *Trigger) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.ctx = runCtx
	t.cancel = cancel
	t.mu.Unlock()

	t.cron.Start()

	attrs := []any{
		slog.String("spec", t.spec),
		slog.String("timezone", t.loc.String()),
	}
	if entries := t.cron.Entries(); len(entries) > 0 {
		attrs = append(attrs, slog.Time("next_run", entries[0].Next))
	}
	t.logger.Info("reminder scheduler started", attrs...)
}

// Stop は新たな起動を止め、実行中の送信の完了を待つ。
// ctxの期限までに完了しない場合は実行中の送信を中断し、ctx.Err()を返す。
func (t *Trigger) Stop(ctx context.Context) error {
	done := t.cron.Stop()

	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()

	select {
	case <-done.Done():
		cancel()
		t.logger.Info("reminder scheduler stopped")
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// RunOnce は今日（設定したタイムゾーンの日付）のリマインダーを1回送信する。
func (t *Trigger) RunOnce(ctx context.Context) (campaign.ScheduleSummary, error) {
	day := Today(t.now(), t.loc)
	return t.runner.RunDue(ctx, day)
}

func (t *Trigger) runScheduled() {
	t.mu.Lock()
	ctx := t.ctx
	t.mu.Unlock()

	start := time.Now()
	summary, err := t.RunOnce(ctx)
	if err != nil {
		t.logger.Error("scheduled reminder run failed",
			slog.String("error", err.Error()),
			slog.Int("sent_count", summary.Sent),
			slog.Int("failed_count", summary.Failed),
		)
		return
	}
	t.logger.Info("scheduled reminder run completed",
		slog.Int("due", summary.Due),
		slog.Int("sent_count", summary.Sent),
		slog.Int("failed_count", summary.Failed),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
}

// Today はlocにおけるnowの日付の0時を返す。
func Today(now time.Time, loc *time.Location) time.Time {
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// cronLogger はcron.Loggerをslogに橋渡しする。cronの定常ログはDebugに落とす。
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	args := append([]any{slog.String("error", err.Error())}, keysAndValues...)
	l.logger.Error("cron: "+msg, args...)
}
