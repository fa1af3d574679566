// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package sim

import (
	"strings"

	"github.com/soothill/zwave-redis-bridge/zwave"
)

// Network describes the simulated mesh. It is loaded from the `simulation`
// section of the bridge configuration.
type Network struct {
	HomeID     uint32     `yaml:"home_id" json:"home_id"`
	FailDriver bool       `yaml:"fail_driver" json:"fail_driver"`
	AwakeOnly  bool       `yaml:"awake_only" json:"awake_only"` // finish with awake_nodes_queried
	Nodes      []NodeSpec `yaml:"nodes" json:"nodes"`
}

// NodeSpec describes one simulated device.
type NodeSpec struct {
	ID                uint8       `yaml:"id" json:"id"`
	Basic             uint8       `yaml:"basic" json:"basic"`
	Generic           uint8       `yaml:"generic" json:"generic"`
	Type              string      `yaml:"type" json:"type"`
	Manufacturer      string      `yaml:"manufacturer" json:"manufacturer"`
	Product           string      `yaml:"product" json:"product"`
	ManufacturerID    string      `yaml:"manufacturer_id" json:"manufacturer_id"`
	ProductType       string      `yaml:"product_type" json:"product_type"`
	ProductID         string      `yaml:"product_id" json:"product_id"`
	Name              string      `yaml:"name,omitempty" json:"name,omitempty"`
	Location          string      `yaml:"location,omitempty" json:"location,omitempty"`
	Listening         bool        `yaml:"listening" json:"listening"`
	FrequentListening bool        `yaml:"frequent_listening,omitempty" json:"frequent_listening,omitempty"`
	Routing           bool        `yaml:"routing" json:"routing"`
	Beaming           bool        `yaml:"beaming" json:"beaming"`
	Security          bool        `yaml:"security,omitempty" json:"security,omitempty"`
	Values            []ValueSpec `yaml:"values,omitempty" json:"values,omitempty"`
}

// ValueSpec describes one value on a simulated device. A nil Value means the
// value has no string form yet.
type ValueSpec struct {
	Label        string  `yaml:"label" json:"label"`
	Units        string  `yaml:"units,omitempty" json:"units,omitempty"`
	Help         string  `yaml:"help,omitempty" json:"help,omitempty"`
	CommandClass uint8   `yaml:"command_class" json:"command_class"`
	Instance     uint8   `yaml:"instance,omitempty" json:"instance,omitempty"`
	Index        uint8   `yaml:"index,omitempty" json:"index,omitempty"`
	Genre        string  `yaml:"genre,omitempty" json:"genre,omitempty"`
	Type         string  `yaml:"type,omitempty" json:"type,omitempty"`
	Min          int32   `yaml:"min,omitempty" json:"min,omitempty"`
	Max          int32   `yaml:"max,omitempty" json:"max,omitempty"`
	ReadOnly     bool    `yaml:"read_only,omitempty" json:"read_only,omitempty"`
	WriteOnly    bool    `yaml:"write_only,omitempty" json:"write_only,omitempty"`
	Value        *string `yaml:"value,omitempty" json:"value,omitempty"`
}

// DefaultNetwork is a small mesh with the controller, a dimmer and a sensor.
func DefaultNetwork() Network {
	on := "0"
	temp := "21.5"
	return Network{
		HomeID: 0x0184e2c1,
		Nodes: []NodeSpec{
			{
				ID: 1, Basic: zwave.BasicTypeStaticController, Generic: 0x02,
				Type: "Static PC Controller", Manufacturer: "Aeotec", Product: "Z-Stick Gen5",
				ManufacturerID: "0086", ProductType: "0001", ProductID: "005a",
				Listening: true, Routing: false, Beaming: true,
			},
			{
				ID: 2, Basic: zwave.BasicTypeRoutingSlave, Generic: 0x11,
				Type: "Multilevel Power Switch", Manufacturer: "Fibaro", Product: "Dimmer 2",
				ManufacturerID: "010f", ProductType: "0102", ProductID: "1000",
				Listening: true, Routing: true, Beaming: true,
				Values: []ValueSpec{
					{Label: "Basic", CommandClass: zwave.CommandClassBasic, Instance: 1, Type: "byte", Max: 255, Value: &on},
					{Label: "Level", CommandClass: 0x26, Instance: 1, Type: "byte", Max: 99, Value: &on},
				},
			},
			{
				ID: 3, Basic: zwave.BasicTypeRoutingSlave, Generic: 0x21,
				Type: "Routing Multilevel Sensor", Manufacturer: "Aeotec", Product: "MultiSensor 6",
				ManufacturerID: "0086", ProductType: "0002", ProductID: "0064",
				FrequentListening: true, Routing: true,
				Values: []ValueSpec{
					{Label: "Basic", CommandClass: zwave.CommandClassBasic, Instance: 1, Type: "byte", Max: 255},
					{Label: "Temperature", Units: "C", CommandClass: 0x31, Instance: 1, Index: 1, Type: "decimal", ReadOnly: true, Value: &temp},
				},
			},
		},
	}
}

func parseGenre(s string, cc uint8) zwave.ValueGenre {
	switch strings.ToLower(s) {
	case "basic":
		return zwave.GenreBasic
	case "user":
		return zwave.GenreUser
	case "config":
		return zwave.GenreConfig
	case "system":
		return zwave.GenreSystem
	}
	if cc == zwave.CommandClassBasic {
		return zwave.GenreBasic
	}
	return zwave.GenreUser
}

func parseType(s string) zwave.ValueType {
	for t := zwave.TypeBool; t <= zwave.TypeRaw; t++ {
		if strings.EqualFold(t.String(), s) {
			return t
		}
	}
	return zwave.TypeByte
}
