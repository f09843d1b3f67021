package realtime

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/upb/secretmanager/models"
	"go.uber.org/zap"
)

const approversTopic = "approvers"

// Metrics receives connection and delivery counts
type Metrics interface {
	ClientConnected()
	ClientDisconnected()
	NotificationSent(event string)
}

type nopMetrics struct{}

func (nopMetrics) ClientConnected()        {}
func (nopMetrics) ClientDisconnected()     {}
func (nopMetrics) NotificationSent(string) {}

// Stats summarizes connected clients
type Stats struct {
	Connected int                     `json:"connected"`
	Users     int                     `json:"users"`
	ByRole    map[models.UserRole]int `json:"by_role"`
}

// Hub tracks connected clients and fans events out by topic.
// Publishing never blocks on a client: a full send buffer disconnects it.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	topics  map[string]map[*Client]struct{}
	closed  bool

	metrics Metrics
	logger  *zap.Logger
}

// NewHub creates an empty hub. metrics may be nil.
func NewHub(metrics Metrics, logger *zap.Logger) *Hub {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		topics:  make(map[string]map[*Client]struct{}),
		metrics: metrics,
		logger:  logger,
	}
}

// selfTopic keys a self-channel by ledger user id. The id stands in for the token subject: every
// authenticated identity resolves to exactly one ledger user, and the notifier only knows ledger ids.
func selfTopic(userID int64) string {
	return fmt.Sprintf("user-%d", userID)
}

// Register adds c to its own channel and, for approvers and admins, to the approver group
func (h *Hub) Register(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return fmt.Errorf("hub is closed")
	}
	h.clients[c] = struct{}{}
	h.subscribeLocked(selfTopic(c.UserID), c)
	if c.Identity.CanApprove() {
		h.subscribeLocked(approversTopic, c)
	}
	h.metrics.ClientConnected()

	h.logger.Info("realtime client connected",
		zap.String("connection_id", c.ID),
		zap.String("username", c.Identity.Username),
		zap.String("role", string(c.Identity.Role)))
	return nil
}

func (h *Hub) subscribeLocked(topic string, c *Client) {
	subs := h.topics[topic]
	if subs == nil {
		subs = make(map[*Client]struct{})
		h.topics[topic] = subs
	}
	subs[c] = struct{}{}
}

// Unregister removes c and closes its send channel. Unregistering twice is a no-op.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unregisterLocked(c)
}

func (h *Hub) unregisterLocked(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	for topic, subs := range h.topics {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
	close(c.send)
	h.metrics.ClientDisconnected()

	h.logger.Info("realtime client disconnected",
		zap.String("connection_id", c.ID),
		zap.String("username", c.Identity.Username))
}

// PublishToUser sends ev to every connection of one local user
func (h *Hub) PublishToUser(userID int64, ev Event) int {
	return h.publish(selfTopic(userID), ev)
}

// PublishToApprovers sends ev to every approver and admin connection
func (h *Hub) PublishToApprovers(ev Event) int {
	return h.publish(approversTopic, ev)
}

// Broadcast sends ev to every connection
func (h *Hub) Broadcast(ev Event) int {
	return h.publish("", ev)
}

// publish delivers ev to the topic subscribers, or to everyone for the empty topic.
// It returns the number of clients the event was queued for.
func (h *Hub) publish(topic string, ev Event) int {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to encode realtime event", zap.String("event", ev.Type), zap.Error(err))
		return 0
	}

	h.mu.RLock()
	targets := h.clients
	if topic != "" {
		targets = h.topics[topic]
	}
	var slow []*Client
	delivered := 0
	for c := range targets {
		select {
		case c.send <- payload:
			delivered++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	if len(slow) > 0 {
		h.mu.Lock()
		for _, c := range slow {
			h.logger.Warn("dropping slow realtime client", zap.String("connection_id", c.ID))
			h.unregisterLocked(c)
		}
		h.mu.Unlock()
	}

	h.metrics.NotificationSent(ev.Type)
	return delivered
}

// DisconnectSubject closes every connection held by the identity-provider subject
func (h *Hub) DisconnectSubject(subjectID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for c := range h.clients {
		if c.Identity.SubjectID == subjectID {
			h.unregisterLocked(c)
			n++
		}
	}
	return n
}

// Stats counts connections, distinct users and connections per role
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := Stats{
		Connected: len(h.clients),
		ByRole:    map[models.UserRole]int{models.RoleUser: 0, models.RoleApprover: 0, models.RoleAdmin: 0},
	}
	users := make(map[int64]struct{})
	for c := range h.clients {
		stats.ByRole[c.Identity.Role]++
		users[c.UserID] = struct{}{}
	}
	stats.Users = len(users)
	return stats
}

// Close disconnects every client and rejects new registrations
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for c := range h.clients {
		h.unregisterLocked(c)
	}
}
