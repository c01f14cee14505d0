package syncfast

import "sync"

// NetState folds WebSocket state transitions into a boolean online signal
// for the sync queue. Repeated states collapse, so subscribers only see real
// offline/online edges.
type NetState struct {
	ws *WebSocket

	mu     sync.Mutex
	online bool
	cbs    map[int]func(online bool)
	nextID int
	wsCbID int
}

func NewNetState(ws *WebSocket) *NetState {
	n := &NetState{
		ws:     ws,
		cbs:    make(map[int]func(online bool)),
		online: ws.State() == WSStateConnected,
	}
	n.wsCbID = ws.OnStateChange(n.handleState)
	return n
}

func (n *NetState) Online() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.online
}

func (n *NetState) OnChange(cb func(online bool)) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	n.cbs[n.nextID] = cb
	return n.nextID
}

func (n *NetState) RemoveOnChange(id int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.cbs, id)
}

// Close detaches from the WebSocket's state callbacks.
func (n *NetState) Close() {
	n.ws.RemoveStateCallback(n.wsCbID)
}

func (n *NetState) handleState(state WebSocketState) {
	online := state == WSStateConnected

	n.mu.Lock()
	if online == n.online {
		n.mu.Unlock()
		return
	}
	n.online = online
	cbs := make([]func(online bool), 0, len(n.cbs))
	for _, cb := range n.cbs {
		cbs = append(cbs, cb)
	}
	n.mu.Unlock()

	for _, cb := range cbs {
		cb(online)
	}
}
