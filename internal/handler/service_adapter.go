package handler

import (
	"context"

	"github.com/hitoshi/feereminder/internal/auth"
	"github.com/hitoshi/feereminder/internal/campaign"
	"github.com/hitoshi/feereminder/internal/pushchannel"
	"github.com/hitoshi/feereminder/internal/recipient"
	"github.com/hitoshi/feereminder/internal/session"
	"github.com/hitoshi/feereminder/internal/settings"
)

// コンパイル時にインターフェースの実装を検証する。
var (
	_ AuthServiceInterface      = (*auth.Service)(nil)
	_ RecipientServiceInterface = (*recipient.Service)(nil)
	_ TemplateServiceInterface  = (*settings.Service)(nil)
	_ CampaignRunnerInterface   = (*campaign.Runner)(nil)
	_ Broadcaster               = (*pushchannel.Hub)(nil)
	_ SessionDirectory          = (*SessionDirectoryAdapter)(nil)
)

// SessionDirectoryAdapter は session.Registry を SessionDirectory に適合させるアダプタ。
type SessionDirectoryAdapter struct {
	registry *session.Registry
}

// NewSessionDirectoryAdapter はSessionDirectoryAdapterを生成する。
func NewSessionDirectoryAdapter(registry *session.Registry) *SessionDirectoryAdapter {
	return &SessionDirectoryAdapter{registry: registry}
}

// Count は登録済みのセッション数を返す。
func (a *SessionDirectoryAdapter) Count() int {
	return a.registry.Count()
}

// DisconnectAll は全セッションを破棄する。
func (a *SessionDirectoryAdapter) DisconnectAll(ctx context.Context) error {
	return a.registry.DisconnectAll(ctx)
}

// State はユーザーのセッション状態を返す。
func (a *SessionDirectoryAdapter) State(userID string) (session.State, bool) {
	s, ok := a.registry.Get(userID)
	if !ok {
		return "", false
	}
	return s.State(), true
}
