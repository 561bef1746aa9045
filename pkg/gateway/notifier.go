package gateway

import "sync"

// MaintenanceListener はメンテナンス状態の遷移を受け取るコールバック。
type MaintenanceListener func(state MaintenanceState)

// Notifier はメンテナンス状態の遷移を通知する単一スロットのオブザーバー。
// 登録できるリスナーは常に1つで、新しい登録は古いリスナーを置き換える。
// 通知はバッファリングされず、後から登録したリスナーに過去の状態は再送しない。
type Notifier struct {
	mu         sync.Mutex
	listener   MaintenanceListener
	generation uint64
}

// Register はリスナーを登録し、登録解除関数を返す。
// 解除関数は、その後に別のリスナーが登録されていた場合は何もしない。
func (n *Notifier) Register(listener MaintenanceListener) (unregister func()) {
	n.mu.Lock()
	n.generation++
	gen := n.generation
	n.listener = listener
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if n.generation == gen {
			n.listener = nil
		}
	}
}

// Notify は登録中のリスナーを同期的に呼び出す。
func (n *Notifier) Notify(state MaintenanceState) {
	n.mu.Lock()
	listener := n.listener
	n.mu.Unlock()

	if listener != nil {
		listener(state)
	}
}
