// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package sim

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/soothill/zwave-redis-bridge/zwave"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type recorder struct {
	mu  sync.Mutex
	got []zwave.Notification
}

func (r *recorder) watch(n zwave.Notification) {
	r.mu.Lock()
	r.got = append(r.got, n)
	r.mu.Unlock()
}

func (r *recorder) types() []zwave.NotificationType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]zwave.NotificationType, len(r.got))
	for i, n := range r.got {
		out[i] = n.Type
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.got = nil
	r.mu.Unlock()
}

func newTestRuntime(t *testing.T, network Network) (*Runtime, *recorder) {
	t.Helper()
	opts := zwave.DefaultOptions(t.TempDir())
	opts.PollInterval = 0
	opts.UserPath = t.TempDir()

	rt := New(opts, network)
	t.Cleanup(rt.Destroy)

	rec := &recorder{}
	rt.AddWatcher(rec.watch)
	return rt, rec
}

func TestAddDriverDiscoveryOrder(t *testing.T) {
	rt, rec := newTestRuntime(t, DefaultNetwork())

	require.NoError(t, rt.AddDriver(zwave.ParseTransport("")))
	rt.Sync()

	types := rec.types()
	require.NotEmpty(t, types)
	assert.Equal(t, zwave.NotificationDriverReady, types[0])
	assert.Equal(t, zwave.NotificationAllNodesQueried, types[len(types)-1])

	// Every value arrives after its node.
	nodeSeen := map[zwave.NodeID]bool{}
	for _, n := range rec.got {
		switch n.Type {
		case zwave.NotificationNodeAdded:
			nodeSeen[n.NodeID] = true
		case zwave.NotificationValueAdded:
			assert.True(t, nodeSeen[n.NodeID], "value for node %d before node added", n.NodeID)
			v, ok := n.Value()
			require.True(t, ok)
			assert.Equal(t, zwave.HomeID(0x0184e2c1), v.HomeID)
		}
	}
	assert.Len(t, nodeSeen, 3)
}

func TestAddDriverTwice(t *testing.T) {
	rt, _ := newTestRuntime(t, DefaultNetwork())
	tr := zwave.ParseTransport("usb")

	require.NoError(t, rt.AddDriver(tr))
	assert.ErrorIs(t, rt.AddDriver(tr), ErrDriverExists)
	require.NoError(t, rt.RemoveDriver(tr))
	assert.ErrorIs(t, rt.RemoveDriver(tr), ErrNoDriver)
}

func TestFailingDriver(t *testing.T) {
	network := DefaultNetwork()
	network.FailDriver = true
	rt, rec := newTestRuntime(t, network)

	require.NoError(t, rt.AddDriver(zwave.ParseTransport("")))
	rt.Sync()

	assert.Equal(t, []zwave.NotificationType{zwave.NotificationDriverFailed}, rec.types())
}

func TestAwakeOnlyMilestone(t *testing.T) {
	network := DefaultNetwork()
	network.AwakeOnly = true
	rt, rec := newTestRuntime(t, network)

	require.NoError(t, rt.AddDriver(zwave.ParseTransport("")))
	rt.Sync()

	types := rec.types()
	assert.Equal(t, zwave.NotificationAwakeNodesQueried, types[len(types)-1])
}

func TestValueAccessors(t *testing.T) {
	rt, _ := newTestRuntime(t, DefaultNetwork())

	basic := zwave.ValueID{HomeID: 0x0184e2c1, NodeID: 2, Genre: zwave.GenreBasic, CommandClassID: zwave.CommandClassBasic, Instance: 1, Type: zwave.TypeByte}
	assert.Equal(t, "Basic", rt.ValueLabel(basic))
	assert.Equal(t, int32(255), rt.ValueMax(basic))
	s, ok := rt.ValueAsString(basic)
	assert.True(t, ok)
	assert.Equal(t, "0", s)

	// Node 3's basic value has no string form yet.
	unset := basic
	unset.NodeID = 3
	_, ok = rt.ValueAsString(unset)
	assert.False(t, ok)
	assert.False(t, rt.IsValueSet(unset))

	assert.Equal(t, zwave.BasicTypeStaticController, rt.NodeBasic(0x0184e2c1, 1))
	assert.Equal(t, "Fibaro", rt.NodeManufacturerName(0x0184e2c1, 2))
	assert.True(t, rt.IsNodeFrequentListeningDevice(0x0184e2c1, 3))
	assert.True(t, rt.IsNodeAwake(0x0184e2c1, 3))
	assert.True(t, rt.IsNodeFailed(0x0184e2c1, 9))
	assert.Equal(t, "", rt.NodeType(0xdead, 2), "wrong home id yields nothing")
}

func TestControlsEmitNotifications(t *testing.T) {
	rt, rec := newTestRuntime(t, DefaultNetwork())
	home := zwave.HomeID(0x0184e2c1)

	require.NoError(t, rt.SetNodeLevel(home, 2, 0x3f))
	rt.Sync()
	assert.Equal(t, []zwave.NotificationType{zwave.NotificationValueChanged}, rec.types())
	v, _ := rec.got[0].Value()
	s, _ := rt.ValueAsString(v)
	assert.Equal(t, "63", s)

	rec.reset()
	require.NoError(t, rt.SetNodeName(home, 2, "Hall"))
	require.NoError(t, rt.SetNodeLocation(home, 2, "Downstairs"))
	rt.Sync()
	assert.Equal(t, []zwave.NotificationType{zwave.NotificationNodeNaming, zwave.NotificationNodeNaming}, rec.types())
	assert.Equal(t, "Hall", rt.NodeName(home, 2))
	assert.Equal(t, "Downstairs", rt.NodeLocation(home, 2))

	assert.ErrorIs(t, rt.SetNodeOn(home, 42), ErrUnknownNode)
	assert.ErrorIs(t, rt.SetNodeOff(0x1, 2), ErrUnknownHome)

	stats, err := rt.DriverStatistics(home)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), stats.WriteCount)
}

func TestPolling(t *testing.T) {
	rt, rec := newTestRuntime(t, DefaultNetwork())
	v := zwave.ValueID{HomeID: 0x0184e2c1, NodeID: 2, Genre: zwave.GenreBasic, CommandClassID: zwave.CommandClassBasic, Instance: 1, Type: zwave.TypeByte}

	require.NoError(t, rt.EnablePoll(v, 2))
	intensity, ok := rt.PollIntensity(v)
	assert.True(t, ok)
	assert.Equal(t, uint8(2), intensity)

	require.NoError(t, rt.DisablePoll(v))
	_, ok = rt.PollIntensity(v)
	assert.False(t, ok)

	missing := v
	missing.Index = 9
	assert.ErrorIs(t, rt.EnablePoll(missing, 2), ErrUnknownValue)

	rt.Sync()
	assert.Equal(t, []zwave.NotificationType{zwave.NotificationPollingEnabled, zwave.NotificationPollingDisabled}, rec.types())
}

func TestExcludeNode(t *testing.T) {
	rt, rec := newTestRuntime(t, DefaultNetwork())

	require.NoError(t, rt.ExcludeNode(2))
	rt.Sync()

	assert.Equal(t, []zwave.NotificationType{
		zwave.NotificationValueRemoved,
		zwave.NotificationValueRemoved,
		zwave.NotificationNodeRemoved,
	}, rec.types())
	assert.ErrorIs(t, rt.ExcludeNode(2), ErrUnknownNode)
}

func TestWatcherMayCallBack(t *testing.T) {
	opts := zwave.DefaultOptions("")
	opts.PollInterval = 0
	rt := New(opts, DefaultNetwork())
	defer rt.Destroy()

	var names []string
	rt.AddWatcher(func(n zwave.Notification) {
		if n.Type == zwave.NotificationNodeAdded {
			// Calling back into the runtime from the watcher must not deadlock.
			names = append(names, rt.NodeProductName(n.HomeID, n.NodeID))
			_ = rt.SetNodeName(n.HomeID, n.NodeID, "named")
		}
	})

	require.NoError(t, rt.AddDriver(zwave.ParseTransport("")))
	rt.Sync()

	assert.Equal(t, []string{"Z-Stick Gen5", "Dimmer 2", "MultiSensor 6"}, names)
	assert.Equal(t, "named", rt.NodeName(0x0184e2c1, 3))
}

func TestWriteConfig(t *testing.T) {
	rt, _ := newTestRuntime(t, DefaultNetwork())
	home := zwave.HomeID(0x0184e2c1)

	require.NoError(t, rt.SetNodeName(home, 2, "Hall"))
	require.NoError(t, rt.WriteConfig(home))

	data, err := os.ReadFile(filepath.Join(rt.opts.UserPath, "zwcfg_0x0184e2c1.yaml"))
	require.NoError(t, err)

	var saved Network
	require.NoError(t, yaml.Unmarshal(data, &saved))
	assert.Equal(t, uint32(home), saved.HomeID)
	require.Len(t, saved.Nodes, 3)
	assert.Equal(t, "Hall", saved.Nodes[1].Name)
	assert.Len(t, saved.Nodes[1].Values, 2)

	assert.ErrorIs(t, rt.WriteConfig(0x1), ErrUnknownHome)
}

func TestDestroyIsIdempotent(t *testing.T) {
	rt := New(zwave.DefaultOptions(""), DefaultNetwork())
	rt.Destroy()
	rt.Destroy()
	rt.Inject(zwave.NewNodeNotification(zwave.NotificationGeneric, 0, 0))
	rt.Sync()
}
