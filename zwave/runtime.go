// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package zwave

import (
	"strings"
	"time"
)

// DefaultSerialPort is used when no transport is given on the command line.
const DefaultSerialPort = "/dev/ttyUSB0"

// HIDControllerName is the driver name used for USB HID controllers.
const HIDControllerName = "HID Controller"

// ControllerInterface selects how the runtime talks to the controller stick.
type ControllerInterface int

const (
	InterfaceSerial ControllerInterface = iota
	InterfaceHID
)

func (c ControllerInterface) String() string {
	if c == InterfaceHID {
		return "hid"
	}
	return "serial"
}

// Transport identifies the controller the runtime drives.
type Transport struct {
	Identifier string // as given by the operator: "usb" or a serial path
	Path       string // device path or driver name handed to the runtime
	Interface  ControllerInterface
}

// ParseTransport maps the operator supplied identifier to a Transport. The
// literal "usb" (any case) selects the HID controller; an empty identifier
// selects DefaultSerialPort.
func ParseTransport(identifier string) Transport {
	if identifier == "" {
		identifier = DefaultSerialPort
	}
	if strings.EqualFold(identifier, "usb") {
		return Transport{Identifier: identifier, Path: HIDControllerName, Interface: InterfaceHID}
	}
	return Transport{Identifier: identifier, Path: identifier, Interface: InterfaceSerial}
}

// LogLevel mirrors the runtime's internal log levels.
type LogLevel int

const (
	LogLevelNone LogLevel = iota
	LogLevelAlways
	LogLevelFatal
	LogLevelError
	LogLevelWarning
	LogLevelAlert
	LogLevelInfo
	LogLevelDetail
	LogLevelDebug
)

// Options are applied once, before the runtime is started.
type Options struct {
	ConfigPath           string // manufacturer database directory
	UserPath             string // saved network state and runtime logs
	SaveLogLevel         LogLevel
	QueueLogLevel        LogLevel
	DumpTrigger          LogLevel
	PollInterval         time.Duration
	IntervalBetweenPolls bool
	ValidateValueChanges bool
}

// DefaultOptions returns the option set the bridge has always run with.
func DefaultOptions(configPath string) Options {
	return Options{
		ConfigPath:           configPath,
		SaveLogLevel:         LogLevelError,
		QueueLogLevel:        LogLevelError,
		DumpTrigger:          LogLevelError,
		PollInterval:         1500 * time.Millisecond,
		IntervalBetweenPolls: true,
		ValidateValueChanges: true,
	}
}

// DriverStatistics are the controller link counters kept by the runtime.
type DriverStatistics struct {
	SOFCount    uint32
	ACKWaiting  uint32
	ReadAborts  uint32
	BadChecksum uint32
	ReadCount   uint32
	WriteCount  uint32
	CANCount    uint32
	NAKCount    uint32
	ACKCount    uint32
	OOFCount    uint32
	Dropped     uint32
	Retries     uint32
}

// ValueInfo exposes the runtime's value accessors.
type ValueInfo interface {
	ValueLabel(v ValueID) string
	ValueUnits(v ValueID) string
	ValueHelp(v ValueID) string
	ValueMin(v ValueID) int32
	ValueMax(v ValueID) int32
	IsValueReadOnly(v ValueID) bool
	IsValueWriteOnly(v ValueID) bool
	IsValueSet(v ValueID) bool
	// ValueAsString returns false when the value has no string form yet.
	ValueAsString(v ValueID) (string, bool)
}

// NodeInfo exposes the runtime's node accessors.
type NodeInfo interface {
	NodeType(home HomeID, node NodeID) string
	NodeManufacturerName(home HomeID, node NodeID) string
	NodeProductName(home HomeID, node NodeID) string
	NodeName(home HomeID, node NodeID) string
	NodeLocation(home HomeID, node NodeID) string
	NodeBasic(home HomeID, node NodeID) uint8
	NodeGeneric(home HomeID, node NodeID) uint8
	NodeManufacturerID(home HomeID, node NodeID) string
	NodeProductType(home HomeID, node NodeID) string
	NodeProductID(home HomeID, node NodeID) string
	IsNodeRoutingDevice(home HomeID, node NodeID) bool
	IsNodeListeningDevice(home HomeID, node NodeID) bool
	IsNodeFrequentListeningDevice(home HomeID, node NodeID) bool
	IsNodeBeamingDevice(home HomeID, node NodeID) bool
	IsNodeSecurityDevice(home HomeID, node NodeID) bool
	IsNodeAwake(home HomeID, node NodeID) bool
	IsNodeFailed(home HomeID, node NodeID) bool
}

// Info is the read side of the runtime used by the notification dispatcher.
type Info interface {
	ValueInfo
	NodeInfo
}

// Controller is the set of control operations the bridge issues.
type Controller interface {
	SetNodeOn(home HomeID, node NodeID) error
	SetNodeOff(home HomeID, node NodeID) error
	SetNodeLevel(home HomeID, node NodeID, level uint8) error
	SetNodeName(home HomeID, node NodeID, name string) error
	SetNodeLocation(home HomeID, node NodeID, location string) error
}

// Poller enables active polling of values.
type Poller interface {
	EnablePoll(v ValueID, intensity uint8) error
	DisablePoll(v ValueID) error
}

// Runtime is the device-network runtime the bridge drives.
//
// Watchers are always invoked from the runtime's own delivery goroutine,
// never synchronously from inside another Runtime method. A watcher may
// therefore call back into the runtime without re-entering itself.
type Runtime interface {
	Info
	Controller
	Poller

	AddWatcher(w Watcher)
	RemoveWatcher()
	AddDriver(t Transport) error
	RemoveDriver(t Transport) error
	WriteConfig(home HomeID) error
	DriverStatistics(home HomeID) (DriverStatistics, error)
	// Destroy releases the runtime. It must be the last call.
	Destroy()
}
