// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package dispatcher turns device-network notifications into store writes
// and channel publications, keeps the poll registry current, and resolves the
// initialization barrier.
//
// Each notification is handled under a single lock. Store failures are
// logged and counted and end the handling of that notification; nothing is
// retried. Event sinks are called after the lock is released, in
// publication order.
package dispatcher

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soothill/zwave-redis-bridge/monitoring"
	"github.com/soothill/zwave-redis-bridge/pkg/barrier"
	"github.com/soothill/zwave-redis-bridge/pkg/interfaces"
	"github.com/soothill/zwave-redis-bridge/pkg/keys"
	"github.com/soothill/zwave-redis-bridge/pkg/logger"
	"github.com/soothill/zwave-redis-bridge/pkg/metrics"
	"github.com/soothill/zwave-redis-bridge/zwave"
)

const alertTimeout = 10 * time.Second

// DriverAlerter is told when the controller driver fails.
type DriverAlerter interface {
	IsEnabled() bool
	SendDriverFailure(ctx context.Context, transport string) error
}

// Dispatcher is the runtime watcher. Register Handle with the runtime.
type Dispatcher struct {
	mu sync.Mutex

	ctx      context.Context
	info     zwave.Info
	store    interfaces.Store
	registry *monitoring.Registry
	barrier  *barrier.Barrier
	sinks    []interfaces.EventSink
	pending  []interfaces.Event

	alerter   DriverAlerter
	transport string

	home atomic.Uint32
	now  func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSinks adds event sinks that receive every publication.
func WithSinks(sinks ...interfaces.EventSink) Option {
	return func(d *Dispatcher) {
		for _, s := range sinks {
			if s != nil {
				d.sinks = append(d.sinks, s)
			}
		}
	}
}

// WithDriverAlerter sends an alert naming transport when the driver fails.
func WithDriverAlerter(a DriverAlerter, transport string) Option {
	return func(d *Dispatcher) {
		d.alerter = a
		d.transport = transport
	}
}

// WithRegistry uses an existing poll registry.
func WithRegistry(r *monitoring.Registry) Option {
	return func(d *Dispatcher) { d.registry = r }
}

// WithBarrier uses an existing barrier.
func WithBarrier(b *barrier.Barrier) Option {
	return func(d *Dispatcher) { d.barrier = b }
}

// New creates a dispatcher writing to store. ctx bounds every store call.
func New(ctx context.Context, info zwave.Info, store interfaces.Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		ctx:   ctx,
		info:  info,
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.registry == nil {
		d.registry = monitoring.NewRegistry()
	}
	if d.barrier == nil {
		d.barrier = barrier.New()
	}
	return d
}

// HomeID returns the network id recorded on driver ready, or zero before.
func (d *Dispatcher) HomeID() zwave.HomeID {
	return zwave.HomeID(d.home.Load())
}

// Registry returns the poll registry.
func (d *Dispatcher) Registry() *monitoring.Registry {
	return d.registry
}

// Barrier returns the initialization barrier.
func (d *Dispatcher) Barrier() *barrier.Barrier {
	return d.barrier
}

// Handle processes one notification, then hands the resulting publications
// to the event sinks.
func (d *Dispatcher) Handle(n zwave.Notification) {
	start := time.Now()
	defer func() { metrics.DispatchDuration.Observe(time.Since(start).Seconds()) }()
	metrics.NotificationsTotal.WithLabelValues(n.Type.String()).Inc()

	d.deliver(d.dispatch(n))
}

// dispatch applies n to the store and returns the events queued for sinks.
func (d *Dispatcher) dispatch(n zwave.Notification) []interfaces.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	defer func() { d.pending = nil }()

	switch n.Type {
	case zwave.NotificationValueAdded:
		if v, ok := n.Value(); ok {
			d.valueAdded(n, v)
		}
	case zwave.NotificationValueRemoved:
		if v, ok := n.Value(); ok {
			d.valueRemoved(n, v)
		}
	case zwave.NotificationValueChanged:
		if v, ok := n.Value(); ok {
			d.valueChanged(n, v)
		}
	case zwave.NotificationNodeAdded:
		d.nodeAdded(n)
	case zwave.NotificationNodeRemoved:
		d.nodeRemoved(n)
	case zwave.NotificationNodeEvent:
		d.nodeEvent(n)
	case zwave.NotificationNodeNaming:
		d.nodeNaming(n)
	case zwave.NotificationDriverReady:
		d.home.Store(uint32(n.HomeID))
		logger.Info().Str("home_id", keys.Hex32(uint32(n.HomeID))).Msg("Driver ready")
	case zwave.NotificationDriverFailed:
		d.driverFailed()
	case zwave.NotificationAwakeNodesQueried, zwave.NotificationAllNodesQueried:
		if d.barrier.Resolve(barrier.Ready) {
			logger.Info().Str("milestone", n.Type.String()).Int("polled_values", d.registry.Len()).
				Msg("Network initialization complete")
		}
	case zwave.NotificationGeneric:
		logger.Info().Str("home_id", keys.Hex32(uint32(n.HomeID))).Uint8("node_id", uint8(n.NodeID)).
			Uint8("byte", n.EventByte()).Msg("Runtime notification")
	default:
		logger.Debug().Str("type", n.Type.String()).Uint8("node_id", uint8(n.NodeID)).Msg("Notification ignored")
	}
	return d.pending
}

// deliver runs without the dispatcher lock; a slow sink delays only the
// runtime's delivery goroutine.
func (d *Dispatcher) deliver(events []interfaces.Event) {
	for _, ev := range events {
		for _, s := range d.sinks {
			if err := s.HandleEvent(d.ctx, ev); err != nil {
				logger.Warn().Err(err).Str("channel", ev.Channel).Msg("Event sink failed")
			}
		}
	}
}

func (d *Dispatcher) valueAdded(n zwave.Notification, v zwave.ValueID) {
	key := keys.ValueKey(n.HomeID, n.NodeID, v)
	label := d.info.ValueLabel(v)

	fields := map[string]string{
		"label":          label,
		"units":          d.info.ValueUnits(v),
		"help":           d.info.ValueHelp(v),
		"min":            keys.Hex32(uint32(d.info.ValueMin(v))),
		"max":            keys.Hex32(uint32(d.info.ValueMax(v))),
		"genre":          v.Genre.String(),
		"type":           v.Type.String(),
		"readOnly":       strconv.FormatBool(d.info.IsValueReadOnly(v)),
		"writeOnly":      strconv.FormatBool(d.info.IsValueWriteOnly(v)),
		"set":            strconv.FormatBool(d.info.IsValueSet(v)),
		"commandClassId": keys.Hex8(v.CommandClassID),
	}
	current, resolved := d.info.ValueAsString(v)
	if resolved {
		fields["initial_value"] = current
	}

	if monitoring.ShouldPoll(v, d.info.NodeBasic(n.HomeID, n.NodeID)) && d.registry.Register(v) {
		logger.Debug().Str("key", key).Msg("Value registered for polling")
	}

	if !d.write(key, fields) || !resolved {
		return
	}
	if !d.write(keys.NodeKey(n.HomeID, n.NodeID), map[string]string{keys.ValueMirrorField(label): current}) {
		return
	}
	d.publish(n, keys.ChannelValueAdd, key, label, current, true)
}

func (d *Dispatcher) valueRemoved(n zwave.Notification, v zwave.ValueID) {
	key := keys.ValueKey(n.HomeID, n.NodeID, v)
	d.registry.Unregister(v)

	if !d.del(key) {
		return
	}
	d.publish(n, keys.ChannelValueDelete, key, "", "", false)
}

func (d *Dispatcher) valueChanged(n zwave.Notification, v zwave.ValueID) {
	current, ok := d.info.ValueAsString(v)
	if !ok {
		return
	}
	key := keys.ValueKey(n.HomeID, n.NodeID, v)
	label := d.info.ValueLabel(v)

	if !d.write(key, map[string]string{"updated_value": current}) {
		return
	}
	if !d.write(keys.NodeKey(n.HomeID, n.NodeID), map[string]string{keys.ValueMirrorField(label): current}) {
		return
	}
	d.publish(n, keys.ChannelValueUpdate, key, label, current, true)
}

func (d *Dispatcher) nodeAdded(n zwave.Notification) {
	home, node := n.HomeID, n.NodeID
	key := keys.NodeKey(home, node)

	fields := map[string]string{
		"type":                      d.info.NodeType(home, node),
		"mfgName":                   d.info.NodeManufacturerName(home, node),
		"prodName":                  d.info.NodeProductName(home, node),
		"nodeName":                  d.info.NodeName(home, node),
		"nodeLocation":              d.info.NodeLocation(home, node),
		"nodeBasic":                 keys.Hex8(d.info.NodeBasic(home, node)),
		"nodeGeneric":               keys.Hex8(d.info.NodeGeneric(home, node)),
		"mfgId":                     d.info.NodeManufacturerID(home, node),
		"prodType":                  d.info.NodeProductType(home, node),
		"prodId":                    d.info.NodeProductID(home, node),
		"isRoutingDevice":           strconv.FormatBool(d.info.IsNodeRoutingDevice(home, node)),
		"isListeningDevice":         strconv.FormatBool(d.info.IsNodeListeningDevice(home, node)),
		"isFrequentListeningDevice": strconv.FormatBool(d.info.IsNodeFrequentListeningDevice(home, node)),
		"isBeamingDevice":           strconv.FormatBool(d.info.IsNodeBeamingDevice(home, node)),
		"isSecurityDevice":          strconv.FormatBool(d.info.IsNodeSecurityDevice(home, node)),
		"isAwake":                   strconv.FormatBool(d.info.IsNodeAwake(home, node)),
		"isFailed":                  strconv.FormatBool(d.info.IsNodeFailed(home, node)),
		"value":                     keys.Hex8(n.EventByte()),
	}

	if !d.write(key, fields) {
		return
	}
	d.publish(n, keys.ChannelNodeAdd, key, "", "", false)
}

func (d *Dispatcher) nodeRemoved(n zwave.Notification) {
	key := keys.NodeKey(n.HomeID, n.NodeID)
	if purged := d.registry.UnregisterNode(n.HomeID, n.NodeID); purged > 0 {
		logger.Debug().Str("key", key).Int("purged", purged).Msg("Node values removed from poll registry")
	}

	if !d.del(key) {
		return
	}
	d.publish(n, keys.ChannelNodeDelete, key, "", "", false)
}

func (d *Dispatcher) nodeEvent(n zwave.Notification) {
	key := keys.NodeKey(n.HomeID, n.NodeID)
	if !d.write(key, map[string]string{"value": keys.Hex8(n.EventByte())}) {
		return
	}
	d.publish(n, keys.ChannelNodeUpdate, key, "", "", false)
}

func (d *Dispatcher) nodeNaming(n zwave.Notification) {
	key := keys.NodeKey(n.HomeID, n.NodeID)
	fields := map[string]string{
		"nodeName":     d.info.NodeName(n.HomeID, n.NodeID),
		"nodeLocation": d.info.NodeLocation(n.HomeID, n.NodeID),
	}
	if !d.write(key, fields) {
		return
	}
	d.publish(n, keys.ChannelNodeNamed, key, "", "", false)
}

func (d *Dispatcher) driverFailed() {
	if !d.barrier.Resolve(barrier.Failed) {
		return
	}
	logger.Error().Str("transport", d.transport).Msg("Driver failed to initialize")

	if d.alerter == nil || !d.alerter.IsEnabled() {
		return
	}
	transport := d.transport
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
		defer cancel()
		if err := d.alerter.SendDriverFailure(ctx, transport); err != nil {
			logger.Error().Err(err).Msg("Failed to send driver failure alert")
		}
	}()
}

func (d *Dispatcher) write(key string, fields map[string]string) bool {
	if err := d.store.HSet(d.ctx, key, fields); err != nil {
		logger.Error().Err(err).Str("key", key).Msg("Store write failed")
		return false
	}
	return true
}

func (d *Dispatcher) del(key string) bool {
	if err := d.store.Del(d.ctx, key); err != nil {
		logger.Error().Err(err).Str("key", key).Msg("Store delete failed")
		return false
	}
	return true
}

func (d *Dispatcher) publish(n zwave.Notification, channel, key, label, value string, hasValue bool) {
	if err := d.store.Publish(d.ctx, channel, key); err != nil {
		logger.Error().Err(err).Str("channel", channel).Str("key", key).Msg("Publish failed")
		return
	}
	logger.Debug().Str("channel", channel).Str("key", key).Msg("Published")

	if len(d.sinks) == 0 {
		return
	}
	d.pending = append(d.pending, interfaces.Event{
		Channel:  channel,
		Key:      key,
		HomeID:   uint32(n.HomeID),
		NodeID:   uint8(n.NodeID),
		Label:    label,
		Value:    value,
		HasValue: hasValue,
		Time:     d.now(),
	})
}

// EnablePolling enables polling at the given intensity for every value
// currently in the registry. The snapshot is taken under the dispatcher lock;
// the runtime calls are made after it is released.
func (d *Dispatcher) EnablePolling(ctx context.Context, poller zwave.Poller, intensity uint8) int {
	d.mu.Lock()
	values := d.registry.Snapshot()
	d.mu.Unlock()

	return monitoring.EnablePolling(ctx, poller, values, intensity)
}
