// Package campaign はリマインダーの一括送信（キャンペーン）を実行する。
//
// 送信は1ユーザーのセッションに対して厳密に逐次で行い、同一ユーザーの
// キャンペーンが同時に2つ走らないようセッションの実行権を取得してから処理する。
package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/feereminder/internal/metrics"
	"github.com/hitoshi/feereminder/internal/model"
	"github.com/hitoshi/feereminder/internal/session"
)

// ErrInvalidPhone は電話番号に数字が含まれないことを表す。
var ErrInvalidPhone = errors.New("phone number has no digits")

// RecipientStore はキャンペーンが使用する送信先の永続化操作。
type RecipientStore interface {
	ListByOwner(ctx context.Context, ownerID string) ([]*model.Recipient, error)
	MarkReminderSent(ctx context.Context, ownerID, phone string, at time.Time) error
	ListDueForReminder(ctx context.Context, day time.Time, leadDays int) ([]*model.Recipient, error)
	MarkScheduledSent(ctx context.Context, id string, at time.Time) error
}

// TemplateSource はユーザーのメッセージテンプレートを返す。未保存の場合はnilを返す。
type TemplateSource interface {
	FindByUserID(ctx context.Context, userID string) (*model.MessageTemplate, error)
}

// Session はキャンペーンが使用するセッション操作。*session.Sessionが満たす。
type Session interface {
	State() session.State
	Send(ctx context.Context, address, body string) error
	TryAcquireCampaign() (release func(), err error)
	AcquireCampaign(ctx context.Context) (release func(), err error)
}

// SessionLookup はユーザーIDからセッションを引く。
type SessionLookup interface {
	Lookup(userID string) (Session, bool)
}

type registryLookup struct {
	registry *session.Registry
}

// NewRegistryLookup はsession.RegistryをSessionLookupとして使うアダプターを返す。
func NewRegistryLookup(r *session.Registry) SessionLookup {
	return registryLookup{registry: r}
}

func (l registryLookup) Lookup(userID string) (Session, bool) {
	s, ok := l.registry.Get(userID)
	if !ok {
		return nil, false
	}
	return s, true
}

// Config はRunnerの生成パラメータ。
type Config struct {
	Recipients RecipientStore
	Templates  TemplateSource
	Sessions   SessionLookup
	Notifier   session.Notifier
	Metrics    metrics.MetricsCollector
	Logger     *slog.Logger
	// AddressDomain は送信先アドレスに付与するドメイン（例: s.whatsapp.net）。
	AddressDomain string
	// LeadDays は期日から何日後にリマインドするか。
	LeadDays int
	// Now は現在時刻を返す。テスト用に差し替え可能。
	Now func() time.Time
}

// Runner は送信キャンペーンを実行する。
type Runner struct {
	recipients RecipientStore
	templates  TemplateSource
	sessions   SessionLookup
	notifier   session.Notifier
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
	domain     string
	leadDays   int
	now        func() time.Time
}

// NewRunner はRunnerを生成する。
func NewRunner(cfg Config) *Runner {
	r := &Runner{
		recipients: cfg.Recipients,
		templates:  cfg.Templates,
		sessions:   cfg.Sessions,
		notifier:   cfg.Notifier,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		domain:     cfg.AddressDomain,
		leadDays:   cfg.LeadDays,
		now:        cfg.Now,
	}
	if r.metrics == nil {
		r.metrics = metrics.Nop{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// readySession はReady状態のセッションを返す。存在しなければErrSessionNotReadyを返す。
func (r *Runner) readySession(userID string) (Session, error) {
	s, ok := r.sessions.Lookup(userID)
	if !ok || s.State() != session.StateReady {
		return nil, session.ErrSessionNotReady
	}
	return s, nil
}

// template はユーザーのテンプレート本文を返す。未保存の場合は既定のテンプレートを返す。
func (r *Runner) template(ctx context.Context, userID string) (string, error) {
	tmpl, err := r.templates.FindByUserID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to load message template: %w", err)
	}
	if tmpl == nil || tmpl.Body == "" {
		return model.DefaultMessageTemplate, nil
	}
	return tmpl.Body, nil
}

// Run はユーザーの全送信先へリマインダーを送信する。
// Ready状態のセッションがなければ送信せずにErrSessionNotReadyを、
// 実行中のキャンペーンがあればErrCampaignInProgressを返す。
// 個々の送信失敗はCampaignOutcomeに記録し、処理は継続する。
func (r *Runner) Run(ctx context.Context, user model.UserIdentity) (*model.CampaignOutcome, error) {
	s, err := r.readySession(user.ID)
	if err != nil {
		return nil, err
	}
	release, err := s.TryAcquireCampaign()
	if err != nil {
		return nil, err
	}
	defer release()

	tmpl, err := r.template(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	recipients, err := r.recipients.ListByOwner(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}

	r.metrics.RecordCampaign(metrics.TriggerManual)
	logger := r.logger.With(slog.String("user_id", user.ID))
	logger.Info("campaign started", slog.Int("recipients", len(recipients)))

	outcome := &model.CampaignOutcome{
		Results: make([]model.DeliveryResult, 0, len(recipients)),
		Errors:  []model.DeliveryError{},
	}
	for _, rec := range recipients {
		result := r.deliver(ctx, s, rec, tmpl, func(at time.Time) error {
			return r.recipients.MarkReminderSent(ctx, user.ID, rec.Phone, at)
		})
		outcome.Results = append(outcome.Results, result)
		if result.Status == model.DeliveryStatusSent {
			outcome.SentCount++
		} else {
			outcome.Errors = append(outcome.Errors, model.DeliveryError{
				Recipient: rec.Name,
				Error:     result.Error,
			})
		}
	}

	logger.Info("campaign completed",
		slog.Int("sent_count", outcome.SentCount),
		slog.Int("failed_count", len(outcome.Errors)),
	)
	return outcome, nil
}

// deliver は1件の送信と送信記録を行う。送信成功後に記録が失敗しても送信済みとして扱い、
// エラー内容を結果に残す。
func (r *Runner) deliver(ctx context.Context, s Session, rec *model.Recipient, tmpl string, record func(at time.Time) error) model.DeliveryResult {
	result := model.DeliveryResult{Recipient: *rec}
	logger := r.logger.With(
		slog.String("user_id", rec.OwnerID),
		slog.String("recipient_id", rec.ID),
	)

	address := NormalizeAddress(rec.Phone, r.domain)
	var err error
	if address == "" {
		err = ErrInvalidPhone
	} else {
		err = s.Send(ctx, address, RenderTemplate(tmpl, rec))
	}
	if err != nil {
		r.metrics.RecordMessageFailed()
		logger.Warn("failed to send reminder", slog.String("error", err.Error()))
		result.Status = model.DeliveryStatusFailed
		result.Error = err.Error()
		return result
	}

	r.metrics.RecordMessageSent()
	result.Status = model.DeliveryStatusSent
	if err := record(r.now()); err != nil {
		logger.Error("reminder sent but failed to record", slog.String("error", err.Error()))
		result.Error = err.Error()
	}
	return result
}

// SendOne はユーザーのセッションから任意の宛先へ1通送信する。
// キャンペーンと同じ実行権を取得するため、キャンペーン実行中はErrCampaignInProgressを返す。
func (r *Runner) SendOne(ctx context.Context, user model.UserIdentity, phone, body string) error {
	s, err := r.readySession(user.ID)
	if err != nil {
		return err
	}
	release, err := s.TryAcquireCampaign()
	if err != nil {
		return err
	}
	defer release()

	address := NormalizeAddress(phone, r.domain)
	if address == "" {
		return ErrInvalidPhone
	}
	if err := s.Send(ctx, address, body); err != nil {
		r.metrics.RecordMessageFailed()
		return fmt.Errorf("failed to send message: %w", err)
	}
	r.metrics.RecordMessageSent()
	return nil
}

// ScheduleSummary は日次送信1回分の集計。
type ScheduleSummary struct {
	Due    int
	Sent   int
	Failed int
}

// RunDue はdayにリマインド対象となる未送信の送信先へ送信する。
// ユーザーごとにセッションの実行権が空くまで待ってから処理し、
// 送信に成功した送信先のみ送信済みにする。1件の失敗で残りの送信は止めない。
func (r *Runner) RunDue(ctx context.Context, day time.Time) (ScheduleSummary, error) {
	due, err := r.recipients.ListDueForReminder(ctx, day, r.leadDays)
	if err != nil {
		return ScheduleSummary{}, fmt.Errorf("failed to list due recipients: %w", err)
	}

	summary := ScheduleSummary{Due: len(due)}
	for _, group := range groupByOwner(due) {
		sent, failed, err := r.runOwnerDue(ctx, group)
		summary.Sent += sent
		summary.Failed += failed
		if err != nil {
			return summary, err
		}
	}

	r.logger.Info("scheduled reminders completed",
		slog.String("day", day.Format(model.DateLayout)),
		slog.Int("due", summary.Due),
		slog.Int("sent_count", summary.Sent),
		slog.Int("failed_count", summary.Failed),
	)
	return summary, nil
}

// runOwnerDue は1ユーザー分の対象を送信する。返すエラーはコンテキストの終了のみ。
func (r *Runner) runOwnerDue(ctx context.Context, group []*model.Recipient) (sent, failed int, err error) {
	ownerID := group[0].OwnerID
	logger := r.logger.With(slog.String("user_id", ownerID))

	s, err := r.readySession(ownerID)
	if err != nil {
		logger.Warn("skipping scheduled reminders: session not ready", slog.Int("due", len(group)))
		for _, rec := range group {
			r.emitStatus(rec, model.DeliveryStatusFailed, err.Error())
		}
		return 0, len(group), nil
	}

	release, err := s.AcquireCampaign(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer release()

	tmpl, err := r.template(ctx, ownerID)
	if err != nil {
		logger.Error("failed to load template, using default", slog.String("error", err.Error()))
		tmpl = model.DefaultMessageTemplate
	}

	r.metrics.RecordCampaign(metrics.TriggerScheduled)
	for _, rec := range group {
		result := r.deliver(ctx, s, rec, tmpl, func(at time.Time) error {
			return r.recipients.MarkScheduledSent(ctx, rec.ID, at)
		})
		r.emitStatus(rec, result.Status, result.Error)
		if result.Status == model.DeliveryStatusSent {
			sent++
		} else {
			failed++
		}
	}
	return sent, failed, nil
}

func (r *Runner) emitStatus(rec *model.Recipient, status model.DeliveryStatus, errMsg string) {
	if r.notifier == nil {
		return
	}
	payload := model.MessageStatusPayload{ID: rec.ID, Status: status}
	if status == model.DeliveryStatusFailed {
		payload.Error = errMsg
	}
	r.notifier.Emit(rec.OwnerID, model.EventMessageStatus, payload)
}

// groupByOwner は送信先をユーザーごとにまとめる。ユーザーの出現順と各ユーザー内の順序を保つ。
func groupByOwner(recipients []*model.Recipient) [][]*model.Recipient {
	index := make(map[string]int)
	var groups [][]*model.Recipient
	for _, rec := range recipients {
		i, ok := index[rec.OwnerID]
		if !ok {
			i = len(groups)
			index[rec.OwnerID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], rec)
	}
	return groups
}
