// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package errors provides structured error types for the Z-Wave bridge.
//
// Each type carries the failed operation and the underlying error and
// supports errors.Is and errors.As through Unwrap.
//
//	err := errors.NewStorageError("hset", key, redisErr)
//	if errors.IsStorageError(err) {
//	    logger.Error().Err(err).Msg("store write failed")
//	}
//
//	var se *errors.StorageError
//	if errors.As(err, &se) {
//	    log.Printf("failed key: %s", se.Key)
//	}
package errors

import (
	"errors"
	"fmt"
)

// Re-exported so callers need only one errors import.
var (
	Is  = errors.Is
	As  = errors.As
	New = errors.New
)

// StorageError represents a failed store command.
type StorageError struct {
	Op  string // Store command (e.g., "hset", "publish", "del")
	Key string // Key or channel involved (if applicable)
	Err error  // Underlying error
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage %s (key=%s): %v", e.Op, e.Key, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s failed", e.Op)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new storage error.
func NewStorageError(op string, key string, err error) *StorageError {
	return &StorageError{Op: op, Key: key, Err: err}
}

// IsStorageError checks if an error is a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// CommandError represents a command message whose control call failed.
type CommandError struct {
	Channel string // Channel the message arrived on
	Op      string // Control operation (e.g., "set level")
	Err     error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("command %s on %s: %v", e.Op, e.Channel, e.Err)
	}
	return fmt.Sprintf("command %s on %s failed", e.Op, e.Channel)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// NewCommandError creates a new command error.
func NewCommandError(channel, op string, err error) *CommandError {
	return &CommandError{Channel: channel, Op: op, Err: err}
}

// IsCommandError checks if an error is a CommandError.
func IsCommandError(err error) bool {
	var ce *CommandError
	return errors.As(err, &ce)
}

// DriverError represents a failed driver lifecycle call on the runtime.
type DriverError struct {
	Op        string // "add driver", "remove driver", "write config", ...
	Transport string
	Err       error
}

func (e *DriverError) Error() string {
	if e.Transport != "" {
		return fmt.Sprintf("driver %s (%s): %v", e.Op, e.Transport, e.Err)
	}
	return fmt.Sprintf("driver %s: %v", e.Op, e.Err)
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

// NewDriverError creates a new driver error.
func NewDriverError(op, transport string, err error) *DriverError {
	return &DriverError{Op: op, Transport: transport, Err: err}
}

// IsDriverError checks if an error is a DriverError.
func IsDriverError(err error) bool {
	var de *DriverError
	return errors.As(err, &de)
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field string // Configuration field that caused the error
	Value string // Invalid value (optional, may be redacted for sensitive fields)
	Err   error  // Underlying error or description
}

func (e *ConfigError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("config error in field %q (value=%q): %v", e.Field, e.Value, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("config error in field %q: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("config error in field %q", e.Field)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new configuration error.
func NewConfigError(field string, value string, err error) *ConfigError {
	return &ConfigError{Field: field, Value: value, Err: err}
}

// IsConfigError checks if an error is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// NetworkError represents a network-related error.
type NetworkError struct {
	Op   string // Operation being performed (e.g., "connect", "mDNS lookup")
	Addr string // Network address (if applicable)
	Err  error  // Underlying error
}

func (e *NetworkError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("network %s (%s): %v", e.Op, e.Addr, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("network %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("network %s failed", e.Op)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new network error.
func NewNetworkError(op string, addr string, err error) *NetworkError {
	return &NetworkError{Op: op, Addr: addr, Err: err}
}

// IsNetworkError checks if an error is a NetworkError.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// NotificationError represents an error sending notifications.
type NotificationError struct {
	Type string // Notification type (e.g., "slack", "mqtt")
	Err  error  // Underlying error
}

func (e *NotificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("notification %s: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("notification %s failed", e.Type)
}

func (e *NotificationError) Unwrap() error {
	return e.Err
}

// NewNotificationError creates a new notification error.
func NewNotificationError(notifType string, err error) *NotificationError {
	return &NotificationError{Type: notifType, Err: err}
}

// IsNotificationError checks if an error is a NotificationError.
func IsNotificationError(err error) bool {
	var ne *NotificationError
	return errors.As(err, &ne)
}

// Sentinel errors for common conditions
var (
	// ErrDriverFailed indicates the runtime reported that the driver could not start
	ErrDriverFailed = errors.New("driver failed")

	// ErrInitTimeout indicates the network did not finish its initial queries in time
	ErrInitTimeout = errors.New("initialization timeout")

	// ErrCircuitBreakerOpen indicates the store circuit breaker is shedding writes
	ErrCircuitBreakerOpen = errors.New("circuit breaker open")

	// ErrNotConnected indicates an operation was attempted before connecting
	ErrNotConnected = errors.New("not connected")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrListenerExit is returned internally when the exit control word is received
	ErrListenerExit = errors.New("listener exit requested")
)
