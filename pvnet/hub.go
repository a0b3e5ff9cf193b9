package pvnet

import (
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pvacms/metrics"
)

// hub fans a StatusValue out to every live MONITOR subscriber of one
// status PV. Grounded on thc1006-nephoran-intent-operator's webui
// server, narrowed from "broadcast to every connected client" to
// "broadcast to the subscribers of one named PV."
type hub struct {
	mu   sync.Mutex
	subs map[*websocket.Conn]struct{}
	log  *zap.Logger
}

func newHub(log *zap.Logger) *hub {
	return &hub{subs: make(map[*websocket.Conn]struct{}), log: log}
}

func (h *hub) add(c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[c] = struct{}{}
	metrics.MonitorSubscribers.Inc()
}

func (h *hub) remove(c *websocket.Conn) {
	h.mu.Lock()
	_, existed := h.subs[c]
	delete(h.subs, c)
	h.mu.Unlock()
	c.Close()
	if existed {
		metrics.MonitorSubscribers.Dec()
	}
}

// publish writes v to every subscriber in turn, dropping (and evicting)
// any connection whose write fails. Writes are sequential, so a slow
// subscriber delays the ones after it.
func (h *hub) publish(v StatusValue) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.subs))
	for c := range h.subs {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if err := c.WriteJSON(v); err != nil {
			h.log.Debug("pvnet: dropping unresponsive monitor subscriber", zap.Error(err))
			h.remove(c)
		}
	}
}

// hubSet owns one hub per status PV name plus the single wildcard hub
// that mirrors every publish (the CMS-side "CERT:STATUS:????????:*"
// subscription from ).
type hubSet struct {
	mu       sync.Mutex
	byPV     map[string]*hub
	wildcard *hub
	log      *zap.Logger
}

func newHubSet(log *zap.Logger) *hubSet {
	return &hubSet{byPV: make(map[string]*hub), wildcard: newHub(log), log: log}
}

func (hs *hubSet) hubFor(pvName string) *hub {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	h, ok := hs.byPV[pvName]
	if !ok {
		h = newHub(hs.log)
		hs.byPV[pvName] = h
	}
	return h
}

// Publish pushes v to pvName's direct subscribers and to the wildcard
// subscription.
func (hs *hubSet) Publish(pvName string, v StatusValue) {
	hs.hubFor(pvName).publish(v)
	hs.wildcard.publish(v)
}
