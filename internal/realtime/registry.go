// Package realtime tracks live client channels and fans notifications out to
// them: per-identity delivery, role broadcasts, and presence announcements.
package realtime

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/vaenkat/health-ecosystem-hub/internal/metrics"
	"github.com/vaenkat/health-ecosystem-hub/pkg/protocol"
)

// Stats is a point-in-time snapshot of registry occupancy.
type Stats struct {
	TotalChannels    int            `json:"total_connections"`
	UniqueIdentities int            `json:"unique_users"`
	ChannelsByRole   map[string]int `json:"connections_by_role"`
}

// IdentityInfo describes one connected identity.
type IdentityInfo struct {
	Identity string        `json:"user_id"`
	Role     protocol.Role `json:"role"`
	Channels int           `json:"connections"`
}

// Registry tracks every live channel and which identity owns it. All state is
// guarded by one RWMutex; sends happen on snapshots taken under the read lock
// so a slow channel never blocks registration.
type Registry struct {
	logger       *slog.Logger
	presenceRole protocol.Role

	mu         sync.RWMutex
	channels   map[string]Channel             // channel id -> channel
	byIdentity map[string]map[string]struct{} // identity -> set of channel ids
	identityOf map[string]string              // channel id -> identity
	roles      map[string]protocol.Role       // identity -> last-known role
}

// NewRegistry creates an empty Registry. Online/offline announcements go to
// presenceRole (hospital staff when empty).
func NewRegistry(logger *slog.Logger, presenceRole protocol.Role) *Registry {
	if presenceRole == "" {
		presenceRole = protocol.RoleHospitalStaff
	}
	return &Registry{
		logger:       logger.With("component", "realtime"),
		presenceRole: presenceRole,
		channels:     make(map[string]Channel),
		byIdentity:   make(map[string]map[string]struct{}),
		identityOf:   make(map[string]string),
		roles:        make(map[string]protocol.Role),
	}
}

// Register adds a channel for identity and returns its channel id. The
// connection ack is delivered on the new channel before Register returns; the
// online announcement to the presence role goes out asynchronously.
func (r *Registry) Register(identity string, role protocol.Role, ch Channel) string {
	id := uuid.New().String()

	r.mu.Lock()
	r.channels[id] = ch
	set := r.byIdentity[identity]
	if set == nil {
		set = make(map[string]struct{})
		r.byIdentity[identity] = set
	}
	set[id] = struct{}{}
	r.identityOf[id] = identity
	if role != "" {
		r.roles[identity] = role
	}
	r.mu.Unlock()

	metrics.ConnectionOpened()
	r.logger.Info("channel connected", "conn_id", id, "user_id", identity, "role", role)

	ack := protocol.NewNotification(protocol.TypeConnection, "Connected",
		"Successfully connected to real-time updates",
		map[string]any{"connection_id": id})
	if data, err := json.Marshal(ack); err == nil {
		if err := ch.Send(data); err != nil {
			r.logger.Info("connection ack failed, dropping channel", "conn_id", id, "error", err)
			metrics.RecordDeliveryFailure()
			r.Unregister(id)
			return id
		}
		metrics.RecordNotification(ack.Type)
	}

	online := protocol.NewNotification(protocol.TypeUserOnline, "User Online",
		fmt.Sprintf("User %s is now online", identity),
		map[string]any{"user_id": identity, "role": string(role)})
	go r.SendToRole(r.presenceRole, online, identity)

	return id
}

// Unregister closes and removes a channel. Unknown ids are a no-op, so the
// read-loop defer and failed-send pruning can race without harm. Removing the
// identity's last channel drops its role cache entry and announces it offline.
func (r *Registry) Unregister(channelID string) {
	r.mu.Lock()
	ch, ok := r.channels[channelID]
	if !ok {
		r.mu.Unlock()
		return
	}
	identity := r.identityOf[channelID]
	delete(r.channels, channelID)
	delete(r.identityOf, channelID)

	wentOffline := false
	if set, ok := r.byIdentity[identity]; ok {
		delete(set, channelID)
		if len(set) == 0 {
			delete(r.byIdentity, identity)
			delete(r.roles, identity)
			wentOffline = true
		}
	}
	r.mu.Unlock()

	_ = ch.Close()
	metrics.ConnectionClosed()
	r.logger.Info("channel disconnected", "conn_id", channelID, "user_id", identity)

	if wentOffline {
		offline := protocol.NewNotification(protocol.TypeUserOffline, "User Offline",
			fmt.Sprintf("User %s is now offline", identity),
			map[string]any{"user_id": identity})
		go r.SendToRole(r.presenceRole, offline, identity)
	}
}

// target pairs a channel with its id for snapshot sends.
type target struct {
	id string
	ch Channel
}

// SendToChannel delivers a notification to one specific channel. Used for
// direct replies such as pong and subscription acks.
func (r *Registry) SendToChannel(channelID string, n *protocol.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	r.mu.RLock()
	ch, ok := r.channels[channelID]
	r.mu.RUnlock()
	if !ok {
		return ErrUnknownChannel
	}

	if err := ch.Send(payload); err != nil {
		metrics.RecordDeliveryFailure()
		r.Unregister(channelID)
		return err
	}
	metrics.RecordNotification(n.Type)
	return nil
}

// SendToIdentity delivers a notification to every channel of one identity and
// returns the number of channels reached. Unknown identities deliver zero;
// nothing is queued.
func (r *Registry) SendToIdentity(identity string, n *protocol.Notification) int {
	payload, err := json.Marshal(n)
	if err != nil {
		r.logger.Error("marshal notification failed", "type", n.Type, "error", err)
		return 0
	}

	r.mu.RLock()
	targets := r.targetsOf(identity)
	r.mu.RUnlock()

	return r.deliver(targets, payload, n.Type)
}

// SendToIdentities delivers to each listed identity once, skipping any in
// exclude. Duplicate entries do not cause duplicate delivery.
func (r *Registry) SendToIdentities(identities []string, n *protocol.Notification, exclude ...string) int {
	payload, err := json.Marshal(n)
	if err != nil {
		r.logger.Error("marshal notification failed", "type", n.Type, "error", err)
		return 0
	}

	skip := toSet(exclude)
	seen := make(map[string]struct{}, len(identities))

	r.mu.RLock()
	var targets []target
	for _, identity := range identities {
		if _, dup := seen[identity]; dup {
			continue
		}
		seen[identity] = struct{}{}
		if _, skipped := skip[identity]; skipped {
			continue
		}
		targets = append(targets, r.targetsOf(identity)...)
	}
	r.mu.RUnlock()

	return r.deliver(targets, payload, n.Type)
}

// SendToRole delivers to every identity whose cached role matches, skipping
// any in exclude.
func (r *Registry) SendToRole(role protocol.Role, n *protocol.Notification, exclude ...string) int {
	payload, err := json.Marshal(n)
	if err != nil {
		r.logger.Error("marshal notification failed", "type", n.Type, "error", err)
		return 0
	}

	skip := toSet(exclude)

	r.mu.RLock()
	var targets []target
	for identity, cached := range r.roles {
		if cached != role {
			continue
		}
		if _, skipped := skip[identity]; skipped {
			continue
		}
		targets = append(targets, r.targetsOf(identity)...)
	}
	r.mu.RUnlock()

	return r.deliver(targets, payload, n.Type)
}

// BroadcastAll delivers to every connected identity, skipping any in exclude.
func (r *Registry) BroadcastAll(n *protocol.Notification, exclude ...string) int {
	payload, err := json.Marshal(n)
	if err != nil {
		r.logger.Error("marshal notification failed", "type", n.Type, "error", err)
		return 0
	}

	skip := toSet(exclude)

	r.mu.RLock()
	var targets []target
	for identity := range r.byIdentity {
		if _, skipped := skip[identity]; skipped {
			continue
		}
		targets = append(targets, r.targetsOf(identity)...)
	}
	r.mu.RUnlock()

	return r.deliver(targets, payload, n.Type)
}

// targetsOf collects the channels of one identity. Callers must hold r.mu.
func (r *Registry) targetsOf(identity string) []target {
	set := r.byIdentity[identity]
	if len(set) == 0 {
		return nil
	}
	targets := make([]target, 0, len(set))
	for id := range set {
		if ch, ok := r.channels[id]; ok {
			targets = append(targets, target{id: id, ch: ch})
		}
	}
	return targets
}

// deliver writes one marshaled payload to each target. A failed send prunes
// that channel and the fan-out continues with the rest.
func (r *Registry) deliver(targets []target, payload []byte, typ string) int {
	delivered := 0
	for _, t := range targets {
		if err := t.ch.Send(payload); err != nil {
			r.logger.Info("send failed, dropping channel", "conn_id", t.id, "error", err)
			metrics.RecordDeliveryFailure()
			r.Unregister(t.id)
			continue
		}
		metrics.RecordNotification(typ)
		delivered++
	}
	return delivered
}

// Disconnect closes every channel of one identity and returns how many were
// closed.
func (r *Registry) Disconnect(identity string) int {
	r.mu.RLock()
	ids := make([]string, 0, len(r.byIdentity[identity]))
	for id := range r.byIdentity[identity] {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.Unregister(id)
	}
	return len(ids)
}

// DisconnectAll closes every channel. Used on shutdown.
func (r *Registry) DisconnectAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.Unregister(id)
	}
}

// Online reports whether identity has at least one live channel.
func (r *Registry) Online(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIdentity[identity]) > 0
}

// Snapshot returns current occupancy counts.
func (r *Registry) Snapshot() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byRole := make(map[string]int)
	for identity, role := range r.roles {
		byRole[string(role)] += len(r.byIdentity[identity])
	}
	return Stats{
		TotalChannels:    len(r.channels),
		UniqueIdentities: len(r.byIdentity),
		ChannelsByRole:   byRole,
	}
}

// ConnectedIdentities lists every connected identity with its role and
// channel count, for the admin stats endpoint.
func (r *Registry) ConnectedIdentities() []IdentityInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]IdentityInfo, 0, len(r.byIdentity))
	for identity, set := range r.byIdentity {
		infos = append(infos, IdentityInfo{
			Identity: identity,
			Role:     r.roles[identity],
			Channels: len(set),
		})
	}
	return infos
}

func toSet(items []string) map[string]struct{} {
	if len(items) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	return set
}
