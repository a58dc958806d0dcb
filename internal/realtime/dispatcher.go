package realtime

import (
	"log/slog"

	"github.com/vaenkat/health-ecosystem-hub/pkg/protocol"
)

// Dispatcher builds domain notifications and hands them to the registry.
// Each builder carries the fixed type tag and title clients key off; the
// payload's "message" entry overrides the default body text when present.
type Dispatcher struct {
	reg    *Registry
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher delivering through reg.
func NewDispatcher(reg *Registry, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		reg:    reg,
		logger: logger.With("component", "dispatcher"),
	}
}

// AppointmentNotice notifies one identity about an appointment change.
func (d *Dispatcher) AppointmentNotice(identity string, data map[string]any) int {
	n := protocol.NewNotification(protocol.TypeAppointment, "Appointment Update",
		messageFrom(data, "Your appointment has been updated"), data)
	delivered := d.reg.SendToIdentity(identity, n)
	d.logger.Debug("appointment notice", "user_id", identity, "delivered", delivered)
	return delivered
}

// PrescriptionNotice notifies one identity about a prescription change.
func (d *Dispatcher) PrescriptionNotice(identity string, data map[string]any) int {
	n := protocol.NewNotification(protocol.TypePrescription, "Prescription Update",
		messageFrom(data, "Your prescription has been updated"), data)
	delivered := d.reg.SendToIdentity(identity, n)
	d.logger.Debug("prescription notice", "user_id", identity, "delivered", delivered)
	return delivered
}

// OrderNotice announces a pharmacy order to everyone holding role.
func (d *Dispatcher) OrderNotice(role protocol.Role, data map[string]any) int {
	n := protocol.NewNotification(protocol.TypeOrder, "New Order",
		messageFrom(data, "A new order has been placed"), data)
	delivered := d.reg.SendToRole(role, n)
	d.logger.Debug("order notice", "role", role, "delivered", delivered)
	return delivered
}

// OrderStatusNotice tells the ordering user and everyone holding role about
// an order status change. The identity is excluded from the role fan-out so
// an orderer who also holds the role hears about it once.
func (d *Dispatcher) OrderStatusNotice(identity string, role protocol.Role, data map[string]any) int {
	n := protocol.NewNotification(protocol.TypeOrder, "Order Update",
		messageFrom(data, "Order status has changed"), data)
	delivered := d.reg.SendToIdentity(identity, n)
	delivered += d.reg.SendToRole(role, n, identity)
	d.logger.Debug("order status notice", "user_id", identity, "role", role, "delivered", delivered)
	return delivered
}

// InventoryAlert announces a stock condition to everyone holding role.
func (d *Dispatcher) InventoryAlert(role protocol.Role, data map[string]any) int {
	n := protocol.NewNotification(protocol.TypeInventory, "Inventory Alert",
		messageFrom(data, "Inventory alert"), data)
	delivered := d.reg.SendToRole(role, n)
	d.logger.Debug("inventory alert", "role", role, "delivered", delivered)
	return delivered
}

// SystemNotification fans a system message out to the given roles, or to
// every connected identity when roles is empty. An empty typ falls back to
// the generic system tag.
func (d *Dispatcher) SystemNotification(message, typ string, roles []protocol.Role) int {
	if typ == "" {
		typ = protocol.TypeSystem
	}
	n := protocol.NewNotification(typ, "System Notification", message,
		map[string]any{"system": true})

	delivered := 0
	if len(roles) == 0 {
		delivered = d.reg.BroadcastAll(n)
	} else {
		for _, role := range roles {
			delivered += d.reg.SendToRole(role, n)
		}
	}
	d.logger.Info("system notification", "type", typ, "delivered", delivered)
	return delivered
}

// messageFrom picks the "message" entry out of a payload, falling back to
// def when absent or not a string.
func messageFrom(data map[string]any, def string) string {
	if msg, ok := data["message"].(string); ok && msg != "" {
		return msg
	}
	return def
}
