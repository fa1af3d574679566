// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package zwave

// NotificationType tags the kind of change a Notification reports.
type NotificationType int

const (
	NotificationValueAdded NotificationType = iota
	NotificationValueRemoved
	NotificationValueChanged
	NotificationValueRefreshed
	NotificationGroup
	NotificationNodeNew
	NotificationNodeAdded
	NotificationNodeRemoved
	NotificationNodeProtocolInfo
	NotificationNodeNaming
	NotificationNodeEvent
	NotificationPollingDisabled
	NotificationPollingEnabled
	NotificationDriverReady
	NotificationDriverFailed
	NotificationDriverReset
	NotificationEssentialNodeQueriesComplete
	NotificationNodeQueriesComplete
	NotificationAwakeNodesQueried
	NotificationAllNodesQueried
	NotificationGeneric
)

var notificationNames = map[NotificationType]string{
	NotificationValueAdded:                   "value_added",
	NotificationValueRemoved:                 "value_removed",
	NotificationValueChanged:                 "value_changed",
	NotificationValueRefreshed:               "value_refreshed",
	NotificationGroup:                        "group",
	NotificationNodeNew:                      "node_new",
	NotificationNodeAdded:                    "node_added",
	NotificationNodeRemoved:                  "node_removed",
	NotificationNodeProtocolInfo:             "node_protocol_info",
	NotificationNodeNaming:                   "node_naming",
	NotificationNodeEvent:                    "node_event",
	NotificationPollingDisabled:              "polling_disabled",
	NotificationPollingEnabled:               "polling_enabled",
	NotificationDriverReady:                  "driver_ready",
	NotificationDriverFailed:                 "driver_failed",
	NotificationDriverReset:                  "driver_reset",
	NotificationEssentialNodeQueriesComplete: "essential_node_queries_complete",
	NotificationNodeQueriesComplete:          "node_queries_complete",
	NotificationAwakeNodesQueried:            "awake_nodes_queried",
	NotificationAllNodesQueried:              "all_nodes_queried",
	NotificationGeneric:                      "notification",
}

func (t NotificationType) String() string {
	if name, ok := notificationNames[t]; ok {
		return name
	}
	return "unknown"
}

// Notification is one event delivered by the runtime. It is passed by value
// and never modified after construction.
type Notification struct {
	Type    NotificationType
	HomeID  HomeID
	NodeID  NodeID
	ValueID *ValueID // set for value notifications
	Byte    *uint8   // event byte for node events, if any
}

// Value returns the value identifier, or false if the notification carries none.
func (n Notification) Value() (ValueID, bool) {
	if n.ValueID == nil {
		return ValueID{}, false
	}
	return *n.ValueID, true
}

// EventByte returns the raw event byte, or zero when absent.
func (n Notification) EventByte() uint8 {
	if n.Byte == nil {
		return 0
	}
	return *n.Byte
}

// NewValueNotification builds a value notification for v.
func NewValueNotification(t NotificationType, v ValueID) Notification {
	return Notification{Type: t, HomeID: v.HomeID, NodeID: v.NodeID, ValueID: &v}
}

// NewNodeNotification builds a node-level notification.
func NewNodeNotification(t NotificationType, home HomeID, node NodeID) Notification {
	return Notification{Type: t, HomeID: home, NodeID: node}
}

// NewNodeEvent builds a node event notification carrying the event byte.
func NewNodeEvent(home HomeID, node NodeID, b uint8) Notification {
	return Notification{Type: NotificationNodeEvent, HomeID: home, NodeID: node, Byte: &b}
}

// Watcher receives notifications from the runtime.
type Watcher func(Notification)
