// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package zwave models the Z-Wave device network as seen by the bridge.
//
// The bridge does not speak the Z-Wave wire protocol itself. A device-network
// runtime (OpenZWave or the simulated runtime in zwave/sim) owns discovery,
// the serial link and the node/value model, and reports changes as
// Notification values to a registered Watcher. This package holds the
// identifiers and notification types shared by the runtime, the notification
// dispatcher and the command listener.
package zwave

import "fmt"

// HomeID identifies one Z-Wave network. It is assigned by the runtime when the
// driver becomes ready.
type HomeID uint32

// NodeID identifies one device within a network.
type NodeID uint8

// CommandClassBasic is the generic on/off/level command class.
const CommandClassBasic uint8 = 0x20

// Basic device class codes reported by GetNodeBasic. Anything above
// BasicTypeStaticController is a slave device.
const (
	BasicTypeController       uint8 = 0x01
	BasicTypeStaticController uint8 = 0x02
	BasicTypeSlave            uint8 = 0x03
	BasicTypeRoutingSlave     uint8 = 0x04
)

// IsController reports whether a basic device class code names a controller.
func IsController(basic uint8) bool {
	return basic <= BasicTypeStaticController
}

// ValueGenre groups values by their intended audience.
type ValueGenre uint8

const (
	GenreBasic ValueGenre = iota
	GenreUser
	GenreConfig
	GenreSystem
)

var genreNames = [...]string{"basic", "user", "config", "system"}

func (g ValueGenre) String() string {
	if int(g) < len(genreNames) {
		return genreNames[g]
	}
	return "unknown"
}

// ValueType is the data type of a value.
type ValueType uint8

const (
	TypeBool ValueType = iota
	TypeByte
	TypeDecimal
	TypeInt
	TypeList
	TypeSchedule
	TypeShort
	TypeString
	TypeButton
	TypeRaw
)

var typeNames = [...]string{"bool", "byte", "decimal", "int", "list", "schedule", "short", "string", "button", "raw"}

func (t ValueType) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "unknown"
}

// ValueID names one observable or controllable property on a node.
type ValueID struct {
	HomeID         HomeID
	NodeID         NodeID
	Genre          ValueGenre
	CommandClassID uint8
	Instance       uint8
	Index          uint8
	Type           ValueType
}

// ID returns the canonical 64-bit encoding of the value within its network.
//
// Layout: bits 0-3 type, 4-11 index, 14-21 command class, 22-23 genre,
// 24-31 node id, 56-63 instance. The home id is not part of the encoding.
func (v ValueID) ID() uint64 {
	low := uint32(v.NodeID)<<24 |
		uint32(v.Genre&0x03)<<22 |
		uint32(v.CommandClassID)<<14 |
		uint32(v.Index)<<4 |
		uint32(v.Type&0x0f)
	high := uint32(v.Instance) << 24
	return uint64(high)<<32 | uint64(low)
}

// Equal reports whether two identifiers name the same value.
func (v ValueID) Equal(o ValueID) bool {
	return v.HomeID == o.HomeID && v.ID() == o.ID()
}

// BelongsTo reports whether the value lives on the given node.
func (v ValueID) BelongsTo(home HomeID, node NodeID) bool {
	return v.HomeID == home && v.NodeID == node
}

func (v ValueID) String() string {
	return fmt.Sprintf("%08x:%02x:%016x", uint32(v.HomeID), uint8(v.NodeID), v.ID())
}
