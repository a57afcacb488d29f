package session

// State はセッションのライフサイクル状態を表す。
type State string

const (
	// StateInitializing はバックエンドを資格情報ディレクトリに対して起動中の状態。
	StateInitializing State = "initializing"
	// StateAwaitingPairing はペアリングコードを提示し、端末での読み取りを待っている状態。
	StateAwaitingPairing State = "awaiting_pairing"
	// StateReady は送信可能な状態。
	StateReady State = "ready"
	// StateDisconnected はバックエンドが接続断を通知した状態。終端。
	StateDisconnected State = "disconnected"
	// StateDestroyed は明示的な切断または初期化失敗で破棄された状態。終端。
	StateDestroyed State = "destroyed"
)

// transitions は許可される状態遷移。Destroyedへはどの状態からも遷移できる。
var transitions = map[State][]State{
	StateInitializing:    {StateAwaitingPairing, StateReady},
	StateAwaitingPairing: {StateAwaitingPairing, StateReady},
	StateReady:           {StateDisconnected},
}

// Terminal は終端状態かどうかを返す。終端状態ではバックエンドのイベントを無視する。
func (s State) Terminal() bool {
	return s == StateDisconnected || s == StateDestroyed
}

// Live は初期化中・ペアリング待ち・接続済みのいずれかであるかを返す。
func (s State) Live() bool {
	return s == StateInitializing || s == StateAwaitingPairing || s == StateReady
}

// CanTransition はfromからtoへの遷移が許可されているかを返す。
func CanTransition(from, to State) bool {
	if from == StateDestroyed {
		return false
	}
	if to == StateDestroyed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
