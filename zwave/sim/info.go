// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package sim

import "github.com/soothill/zwave-redis-bridge/zwave"

func (r *Runtime) valueSpec(v zwave.ValueID) (ValueSpec, *string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	val, ok := r.values[v.ID()]
	if !ok || v.HomeID != r.home {
		return ValueSpec{}, nil, false
	}
	return val.spec, val.current, true
}

func (r *Runtime) ValueLabel(v zwave.ValueID) string {
	s, _, _ := r.valueSpec(v)
	return s.Label
}

func (r *Runtime) ValueUnits(v zwave.ValueID) string {
	s, _, _ := r.valueSpec(v)
	return s.Units
}

func (r *Runtime) ValueHelp(v zwave.ValueID) string {
	s, _, _ := r.valueSpec(v)
	return s.Help
}

func (r *Runtime) ValueMin(v zwave.ValueID) int32 {
	s, _, _ := r.valueSpec(v)
	return s.Min
}

func (r *Runtime) ValueMax(v zwave.ValueID) int32 {
	s, _, _ := r.valueSpec(v)
	return s.Max
}

func (r *Runtime) IsValueReadOnly(v zwave.ValueID) bool {
	s, _, _ := r.valueSpec(v)
	return s.ReadOnly
}

func (r *Runtime) IsValueWriteOnly(v zwave.ValueID) bool {
	s, _, _ := r.valueSpec(v)
	return s.WriteOnly
}

func (r *Runtime) IsValueSet(v zwave.ValueID) bool {
	_, cur, _ := r.valueSpec(v)
	return cur != nil
}

func (r *Runtime) ValueAsString(v zwave.ValueID) (string, bool) {
	_, cur, ok := r.valueSpec(v)
	if !ok || cur == nil {
		return "", false
	}
	return *cur, true
}

func (r *Runtime) nodeSpec(home zwave.HomeID, id zwave.NodeID) (NodeSpec, bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, err := r.nodeLocked(home, id)
	if err != nil {
		return NodeSpec{}, false, false
	}
	return n.spec, n.awake, true
}

func (r *Runtime) NodeType(home zwave.HomeID, node zwave.NodeID) string {
	s, _, _ := r.nodeSpec(home, node)
	return s.Type
}

func (r *Runtime) NodeManufacturerName(home zwave.HomeID, node zwave.NodeID) string {
	s, _, _ := r.nodeSpec(home, node)
	return s.Manufacturer
}

func (r *Runtime) NodeProductName(home zwave.HomeID, node zwave.NodeID) string {
	s, _, _ := r.nodeSpec(home, node)
	return s.Product
}

func (r *Runtime) NodeName(home zwave.HomeID, node zwave.NodeID) string {
	s, _, _ := r.nodeSpec(home, node)
	return s.Name
}

func (r *Runtime) NodeLocation(home zwave.HomeID, node zwave.NodeID) string {
	s, _, _ := r.nodeSpec(home, node)
	return s.Location
}

func (r *Runtime) NodeBasic(home zwave.HomeID, node zwave.NodeID) uint8 {
	s, _, _ := r.nodeSpec(home, node)
	return s.Basic
}

func (r *Runtime) NodeGeneric(home zwave.HomeID, node zwave.NodeID) uint8 {
	s, _, _ := r.nodeSpec(home, node)
	return s.Generic
}

func (r *Runtime) NodeManufacturerID(home zwave.HomeID, node zwave.NodeID) string {
	s, _, _ := r.nodeSpec(home, node)
	return s.ManufacturerID
}

func (r *Runtime) NodeProductType(home zwave.HomeID, node zwave.NodeID) string {
	s, _, _ := r.nodeSpec(home, node)
	return s.ProductType
}

func (r *Runtime) NodeProductID(home zwave.HomeID, node zwave.NodeID) string {
	s, _, _ := r.nodeSpec(home, node)
	return s.ProductID
}

func (r *Runtime) IsNodeRoutingDevice(home zwave.HomeID, node zwave.NodeID) bool {
	s, _, _ := r.nodeSpec(home, node)
	return s.Routing
}

func (r *Runtime) IsNodeListeningDevice(home zwave.HomeID, node zwave.NodeID) bool {
	s, _, _ := r.nodeSpec(home, node)
	return s.Listening
}

func (r *Runtime) IsNodeFrequentListeningDevice(home zwave.HomeID, node zwave.NodeID) bool {
	s, _, _ := r.nodeSpec(home, node)
	return s.FrequentListening
}

func (r *Runtime) IsNodeBeamingDevice(home zwave.HomeID, node zwave.NodeID) bool {
	s, _, _ := r.nodeSpec(home, node)
	return s.Beaming
}

func (r *Runtime) IsNodeSecurityDevice(home zwave.HomeID, node zwave.NodeID) bool {
	s, _, _ := r.nodeSpec(home, node)
	return s.Security
}

func (r *Runtime) IsNodeAwake(home zwave.HomeID, node zwave.NodeID) bool {
	_, awake, _ := r.nodeSpec(home, node)
	return awake
}

// IsNodeFailed is true only for nodes the runtime does not know.
func (r *Runtime) IsNodeFailed(home zwave.HomeID, node zwave.NodeID) bool {
	_, _, ok := r.nodeSpec(home, node)
	return !ok
}

var _ zwave.Runtime = (*Runtime)(nil)
