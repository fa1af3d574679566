// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package sim provides an in-process device-network runtime that implements
// zwave.Runtime over a configured, simulated mesh. It is used when no
// hardware runtime is linked in and by the tests.
package sim

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/soothill/zwave-redis-bridge/pkg/logger"
	"github.com/soothill/zwave-redis-bridge/zwave"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownHome  = errors.New("unknown home id")
	ErrUnknownNode  = errors.New("unknown node")
	ErrUnknownValue = errors.New("unknown value")
	ErrDriverExists = errors.New("driver already added")
	ErrNoDriver     = errors.New("no such driver")
)

type node struct {
	spec  NodeSpec
	awake bool
}

type value struct {
	id      zwave.ValueID
	spec    ValueSpec
	current *string
}

// Runtime is a simulated zwave.Runtime. Notifications are queued without
// bound and delivered in order from a single goroutine, so a watcher may call
// any Runtime method.
type Runtime struct {
	opts zwave.Options

	mu      sync.Mutex
	network Network
	home    zwave.HomeID
	nodes   map[zwave.NodeID]*node
	values  map[uint64]*value
	order   []uint64 // value ids in discovery order
	polls   map[uint64]uint8
	drivers map[string]zwave.Transport
	stats   zwave.DriverStatistics
	watcher zwave.Watcher

	qmu        sync.Mutex
	cond       *sync.Cond
	pending    []zwave.Notification
	delivering bool
	closed     bool

	stopPoll chan struct{}
	wg       sync.WaitGroup
}

// New creates a runtime for the given network and starts its delivery
// goroutine. Options are recorded as they would be by a hardware runtime;
// PollInterval drives the simulated poll cycle.
func New(opts zwave.Options, network Network) *Runtime {
	r := &Runtime{
		opts:     opts,
		network:  network,
		home:     zwave.HomeID(network.HomeID),
		nodes:    make(map[zwave.NodeID]*node),
		values:   make(map[uint64]*value),
		polls:    make(map[uint64]uint8),
		drivers:  make(map[string]zwave.Transport),
		stopPoll: make(chan struct{}),
	}
	r.cond = sync.NewCond(&r.qmu)

	for _, ns := range network.Nodes {
		n := &node{spec: ns, awake: ns.Listening || ns.FrequentListening}
		n.spec.Values = nil
		r.nodes[zwave.NodeID(ns.ID)] = n
		for _, vs := range ns.Values {
			r.addValueLocked(zwave.NodeID(ns.ID), vs)
		}
	}

	logger.Debug().
		Str("config_path", opts.ConfigPath).
		Dur("poll_interval", opts.PollInterval).
		Bool("interval_between_polls", opts.IntervalBetweenPolls).
		Bool("validate_value_changes", opts.ValidateValueChanges).
		Int("nodes", len(r.nodes)).
		Msg("Simulated runtime created")

	r.wg.Add(1)
	go r.deliver()

	if opts.PollInterval > 0 {
		r.wg.Add(1)
		go r.pollLoop(opts.PollInterval)
	}
	return r
}

func (r *Runtime) addValueLocked(nodeID zwave.NodeID, vs ValueSpec) zwave.ValueID {
	id := zwave.ValueID{
		HomeID:         r.home,
		NodeID:         nodeID,
		Genre:          parseGenre(vs.Genre, vs.CommandClass),
		CommandClassID: vs.CommandClass,
		Instance:       vs.Instance,
		Index:          vs.Index,
		Type:           parseType(vs.Type),
	}
	v := &value{id: id, spec: vs}
	if vs.Value != nil {
		s := *vs.Value
		v.current = &s
	}
	if _, exists := r.values[id.ID()]; !exists {
		r.order = append(r.order, id.ID())
	}
	r.values[id.ID()] = v
	return id
}

// deliver runs the watcher for each queued notification, one at a time.
func (r *Runtime) deliver() {
	defer r.wg.Done()

	for {
		r.qmu.Lock()
		for len(r.pending) == 0 && !r.closed {
			r.cond.Wait()
		}
		if len(r.pending) == 0 && r.closed {
			r.qmu.Unlock()
			return
		}
		n := r.pending[0]
		r.pending = r.pending[1:]
		r.delivering = true
		r.qmu.Unlock()

		r.mu.Lock()
		w := r.watcher
		r.mu.Unlock()
		if w != nil {
			w(n)
		}

		r.qmu.Lock()
		r.delivering = false
		r.cond.Broadcast()
		r.qmu.Unlock()
	}
}

func (r *Runtime) emit(ns ...zwave.Notification) {
	r.qmu.Lock()
	defer r.qmu.Unlock()
	if r.closed {
		return
	}
	r.pending = append(r.pending, ns...)
	r.cond.Broadcast()
}

// Sync blocks until every queued notification has been delivered.
func (r *Runtime) Sync() {
	r.qmu.Lock()
	defer r.qmu.Unlock()
	for (len(r.pending) > 0 || r.delivering) && !r.closed {
		r.cond.Wait()
	}
}

// pollLoop refreshes one polled value per tick, round robin.
func (r *Runtime) pollLoop(interval time.Duration) {
	defer r.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	next := 0
	for {
		select {
		case <-r.stopPoll:
			return
		case <-ticker.C:
			r.mu.Lock()
			var polled []zwave.ValueID
			for _, id := range r.order {
				if _, ok := r.polls[id]; ok {
					polled = append(polled, r.values[id].id)
				}
			}
			if len(polled) == 0 {
				r.mu.Unlock()
				continue
			}
			v := polled[next%len(polled)]
			next++
			r.stats.ReadCount++
			r.stats.SOFCount++
			r.mu.Unlock()

			r.emit(zwave.NewValueNotification(zwave.NotificationValueRefreshed, v))
		}
	}
}

func (r *Runtime) nodeLocked(home zwave.HomeID, id zwave.NodeID) (*node, error) {
	if home != r.home {
		return nil, fmt.Errorf("%08x: %w", uint32(home), ErrUnknownHome)
	}
	n, ok := r.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %02x: %w", uint8(id), ErrUnknownNode)
	}
	return n, nil
}

// AddWatcher registers the notification watcher. Only one is kept.
func (r *Runtime) AddWatcher(w zwave.Watcher) {
	r.mu.Lock()
	r.watcher = w
	r.mu.Unlock()
}

// RemoveWatcher stops notification delivery to the watcher.
func (r *Runtime) RemoveWatcher() {
	r.mu.Lock()
	r.watcher = nil
	r.mu.Unlock()
}

// AddDriver attaches the controller and starts the simulated network
// discovery: driver ready, every node with its values, then the all-queried
// milestone. A network configured to fail reports driver failed instead.
func (r *Runtime) AddDriver(t zwave.Transport) error {
	r.mu.Lock()
	if _, exists := r.drivers[t.Path]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", t.Path, ErrDriverExists)
	}
	r.drivers[t.Path] = t

	if r.network.FailDriver {
		r.mu.Unlock()
		logger.Debug().Str("transport", t.Path).Msg("Simulated driver failing")
		r.emit(zwave.NewNodeNotification(zwave.NotificationDriverFailed, 0, 0))
		return nil
	}

	var ns []zwave.Notification
	ns = append(ns, zwave.NewNodeNotification(zwave.NotificationDriverReady, r.home, 0))
	for _, nid := range r.sortedNodeIDsLocked() {
		ns = append(ns, zwave.NewNodeNotification(zwave.NotificationNodeAdded, r.home, nid))
		for _, id := range r.order {
			v := r.values[id]
			if v.id.NodeID == nid {
				ns = append(ns, zwave.NewValueNotification(zwave.NotificationValueAdded, v.id))
			}
		}
		ns = append(ns, zwave.NewNodeNotification(zwave.NotificationNodeQueriesComplete, r.home, nid))
	}
	if r.network.AwakeOnly {
		ns = append(ns, zwave.NewNodeNotification(zwave.NotificationAwakeNodesQueried, r.home, 0))
	} else {
		ns = append(ns, zwave.NewNodeNotification(zwave.NotificationAllNodesQueried, r.home, 0))
	}
	r.stats.SOFCount += uint32(len(ns))
	r.stats.ReadCount += uint32(len(ns))
	r.stats.ACKCount += uint32(len(ns))
	r.mu.Unlock()

	r.emit(ns...)
	return nil
}

func (r *Runtime) sortedNodeIDsLocked() []zwave.NodeID {
	ids := make([]zwave.NodeID, 0, len(r.nodes))
	for i := 0; i <= 0xff; i++ {
		if _, ok := r.nodes[zwave.NodeID(i)]; ok {
			ids = append(ids, zwave.NodeID(i))
		}
	}
	return ids
}

// RemoveDriver detaches a controller added with AddDriver.
func (r *Runtime) RemoveDriver(t zwave.Transport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.drivers[t.Path]; !ok {
		return fmt.Errorf("%s: %w", t.Path, ErrNoDriver)
	}
	delete(r.drivers, t.Path)
	return nil
}

// WriteConfig saves the network state under Options.UserPath as YAML. It is
// a no-op when no user path is configured.
func (r *Runtime) WriteConfig(home zwave.HomeID) error {
	r.mu.Lock()
	if home != r.home {
		r.mu.Unlock()
		return fmt.Errorf("%08x: %w", uint32(home), ErrUnknownHome)
	}
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	if r.opts.UserPath == "" {
		return nil
	}

	data, err := yaml.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode network state: %w", err)
	}
	path := filepath.Join(r.opts.UserPath, fmt.Sprintf("zwcfg_0x%08x.yaml", uint32(home)))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write network state: %w", err)
	}
	logger.Debug().Str("path", path).Msg("Network state written")
	return nil
}

func (r *Runtime) snapshotLocked() Network {
	out := Network{HomeID: uint32(r.home), FailDriver: r.network.FailDriver, AwakeOnly: r.network.AwakeOnly}
	for _, nid := range r.sortedNodeIDsLocked() {
		spec := r.nodes[nid].spec
		spec.Values = nil
		for _, id := range r.order {
			v := r.values[id]
			if v.id.NodeID != nid {
				continue
			}
			vs := v.spec
			vs.Value = v.current
			spec.Values = append(spec.Values, vs)
		}
		out.Nodes = append(out.Nodes, spec)
	}
	return out
}

// DriverStatistics returns the simulated link counters.
func (r *Runtime) DriverStatistics(home zwave.HomeID) (zwave.DriverStatistics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if home != r.home {
		return zwave.DriverStatistics{}, fmt.Errorf("%08x: %w", uint32(home), ErrUnknownHome)
	}
	return r.stats, nil
}

// Destroy stops delivery and polling. Queued notifications are dropped.
func (r *Runtime) Destroy() {
	r.qmu.Lock()
	if r.closed {
		r.qmu.Unlock()
		return
	}
	r.closed = true
	r.pending = nil
	r.cond.Broadcast()
	r.qmu.Unlock()

	close(r.stopPoll)
	r.wg.Wait()
}

// Controller

func (r *Runtime) setBasic(home zwave.HomeID, id zwave.NodeID, level string) error {
	r.mu.Lock()
	if _, err := r.nodeLocked(home, id); err != nil {
		r.mu.Unlock()
		return err
	}
	r.stats.WriteCount++
	r.stats.ACKCount++

	var changed []zwave.Notification
	for _, vid := range r.order {
		v := r.values[vid]
		if v.id.NodeID != id || v.id.CommandClassID != zwave.CommandClassBasic {
			continue
		}
		s := level
		v.current = &s
		changed = append(changed, zwave.NewValueNotification(zwave.NotificationValueChanged, v.id))
	}
	r.mu.Unlock()

	r.emit(changed...)
	return nil
}

func (r *Runtime) SetNodeOn(home zwave.HomeID, node zwave.NodeID) error {
	return r.setBasic(home, node, "255")
}

func (r *Runtime) SetNodeOff(home zwave.HomeID, node zwave.NodeID) error {
	return r.setBasic(home, node, "0")
}

func (r *Runtime) SetNodeLevel(home zwave.HomeID, node zwave.NodeID, level uint8) error {
	return r.setBasic(home, node, strconv.Itoa(int(level)))
}

func (r *Runtime) SetNodeName(home zwave.HomeID, id zwave.NodeID, name string) error {
	r.mu.Lock()
	n, err := r.nodeLocked(home, id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	n.spec.Name = name
	r.stats.WriteCount++
	r.mu.Unlock()

	r.emit(zwave.NewNodeNotification(zwave.NotificationNodeNaming, home, id))
	return nil
}

func (r *Runtime) SetNodeLocation(home zwave.HomeID, id zwave.NodeID, location string) error {
	r.mu.Lock()
	n, err := r.nodeLocked(home, id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	n.spec.Location = location
	r.stats.WriteCount++
	r.mu.Unlock()

	r.emit(zwave.NewNodeNotification(zwave.NotificationNodeNaming, home, id))
	return nil
}

// Poller

func (r *Runtime) EnablePoll(v zwave.ValueID, intensity uint8) error {
	r.mu.Lock()
	if _, ok := r.values[v.ID()]; !ok || v.HomeID != r.home {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", v, ErrUnknownValue)
	}
	r.polls[v.ID()] = intensity
	r.mu.Unlock()

	r.emit(zwave.NewValueNotification(zwave.NotificationPollingEnabled, v))
	return nil
}

func (r *Runtime) DisablePoll(v zwave.ValueID) error {
	r.mu.Lock()
	if _, ok := r.polls[v.ID()]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", v, ErrUnknownValue)
	}
	delete(r.polls, v.ID())
	r.mu.Unlock()

	r.emit(zwave.NewValueNotification(zwave.NotificationPollingDisabled, v))
	return nil
}

// PollIntensity reports the intensity a value is polled at, if any.
func (r *Runtime) PollIntensity(v zwave.ValueID) (uint8, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.polls[v.ID()]
	return i, ok
}

// Device side events

// ReportValue simulates a device reporting a new value.
func (r *Runtime) ReportValue(v zwave.ValueID, s string) error {
	r.mu.Lock()
	val, ok := r.values[v.ID()]
	if !ok || v.HomeID != r.home {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", v, ErrUnknownValue)
	}
	val.current = &s
	r.stats.ReadCount++
	r.mu.Unlock()

	r.emit(zwave.NewValueNotification(zwave.NotificationValueChanged, v))
	return nil
}

// SendNodeEvent simulates a basic set or hail from a node.
func (r *Runtime) SendNodeEvent(id zwave.NodeID, b uint8) error {
	r.mu.Lock()
	if _, err := r.nodeLocked(r.home, id); err != nil {
		r.mu.Unlock()
		return err
	}
	r.stats.ReadCount++
	home := r.home
	r.mu.Unlock()

	r.emit(zwave.NewNodeEvent(home, id, b))
	return nil
}

// IncludeNode adds a node to the running network and reports it with its values.
func (r *Runtime) IncludeNode(spec NodeSpec) {
	r.mu.Lock()
	nid := zwave.NodeID(spec.ID)
	n := &node{spec: spec, awake: spec.Listening || spec.FrequentListening}
	n.spec.Values = nil
	r.nodes[nid] = n

	ns := []zwave.Notification{zwave.NewNodeNotification(zwave.NotificationNodeAdded, r.home, nid)}
	for _, vs := range spec.Values {
		id := r.addValueLocked(nid, vs)
		ns = append(ns, zwave.NewValueNotification(zwave.NotificationValueAdded, id))
	}
	ns = append(ns, zwave.NewNodeNotification(zwave.NotificationNodeQueriesComplete, r.home, nid))
	r.mu.Unlock()

	r.emit(ns...)
}

// ExcludeNode removes a node: each of its values is reported removed, then
// the node itself.
func (r *Runtime) ExcludeNode(id zwave.NodeID) error {
	r.mu.Lock()
	if _, err := r.nodeLocked(r.home, id); err != nil {
		r.mu.Unlock()
		return err
	}

	var ns []zwave.Notification
	kept := r.order[:0]
	for _, vid := range r.order {
		v := r.values[vid]
		if v.id.NodeID == id {
			ns = append(ns, zwave.NewValueNotification(zwave.NotificationValueRemoved, v.id))
			delete(r.values, vid)
			delete(r.polls, vid)
			continue
		}
		kept = append(kept, vid)
	}
	r.order = kept
	delete(r.nodes, id)
	ns = append(ns, zwave.NewNodeNotification(zwave.NotificationNodeRemoved, r.home, id))
	r.mu.Unlock()

	r.emit(ns...)
	return nil
}

// Inject queues an arbitrary notification.
func (r *Runtime) Inject(n zwave.Notification) {
	r.emit(n)
}
