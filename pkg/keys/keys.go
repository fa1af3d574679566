// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package keys derives store keys and pub/sub channel names from Z-Wave
// identifiers.
//
// Every identifier is rendered as lowercase, zero-padded hexadecimal with a
// width fixed by its size (8 bits: 2 digits, 16: 4, 32: 8, 64: 16), so keys
// never collide at field boundaries:
//
//	zw_home:<home>
//	zw_node:<home>:<node>
//	zw_value:<home>:<node>:<value id>
package keys

import (
	"fmt"
	"strconv"

	"github.com/soothill/zwave-redis-bridge/zwave"
)

const (
	networkPrefix = "zw_home:"
	nodePrefix    = "zw_node:"
	valuePrefix   = "zw_value:"

	// PortKey holds the transport identifier the bridge was started with.
	PortKey = "port"
)

// Channels published by the notification dispatcher. The payload is always
// the affected entity's store key.
const (
	ChannelValueAdd    = "zw_value_add"
	ChannelValueDelete = "zw_value_delete"
	ChannelValueUpdate = "zw_value_update"
	ChannelNodeAdd     = "zw_node_add"
	ChannelNodeDelete  = "zw_node_delete"
	ChannelNodeUpdate  = "zw_node_update"
	ChannelNodeNamed   = "zw_node_named"
)

// Channels consumed by the command listener.
const (
	ChannelSetNodeName     = "zw_set_node_name"
	ChannelSetNodeLocation = "zw_set_node_location"
	ChannelControl         = "zw_control"
	ChannelTurnOnNode      = "zw_turn_on_node"
	ChannelTurnOffNode     = "zw_turn_off_node"
	ChannelSetNodeLevel    = "zw_set_node_level"
)

// CommandChannels returns the fixed set of channels the listener subscribes to.
func CommandChannels() []string {
	return []string{
		ChannelSetNodeName,
		ChannelSetNodeLocation,
		ChannelControl,
		ChannelTurnOnNode,
		ChannelTurnOffNode,
		ChannelSetNodeLevel,
	}
}

// EventChannels returns every channel the dispatcher publishes on.
func EventChannels() []string {
	return []string{
		ChannelValueAdd,
		ChannelValueDelete,
		ChannelValueUpdate,
		ChannelNodeAdd,
		ChannelNodeDelete,
		ChannelNodeUpdate,
		ChannelNodeNamed,
	}
}

func Hex8(v uint8) string   { return fmt.Sprintf("%02x", v) }
func Hex16(v uint16) string { return fmt.Sprintf("%04x", v) }
func Hex32(v uint32) string { return fmt.Sprintf("%08x", v) }
func Hex64(v uint64) string { return fmt.Sprintf("%016x", v) }

// ParseHex8 is the inverse of Hex8. Case is ignored.
func ParseHex8(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 16, 8)
	return uint8(v), err
}

// ParseHex16 is the inverse of Hex16.
func ParseHex16(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 16, 16)
	return uint16(v), err
}

// ParseHex32 is the inverse of Hex32.
func ParseHex32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 16, 32)
	return uint32(v), err
}

// ParseHex64 is the inverse of Hex64.
func ParseHex64(s string) (uint64, error) {
	return strconv.ParseUint(s, 16, 64)
}

// NetworkKey names the record reserved for network level metadata.
func NetworkKey(home zwave.HomeID) string {
	return networkPrefix + Hex32(uint32(home))
}

// NodeKey names a node record.
func NodeKey(home zwave.HomeID, node zwave.NodeID) string {
	return nodePrefix + Hex32(uint32(home)) + ":" + Hex8(uint8(node))
}

// ValueKey names a value record.
func ValueKey(home zwave.HomeID, node zwave.NodeID, v zwave.ValueID) string {
	return valuePrefix + Hex32(uint32(home)) + ":" + Hex8(uint8(node)) + ":" + Hex64(v.ID())
}

// ValueMirrorField is the node record field mirroring a value's current string.
func ValueMirrorField(label string) string {
	return "v_" + label
}
