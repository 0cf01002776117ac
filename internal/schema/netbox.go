package schema

import "github.com/vektah/gqlparser/v2/ast"

// Catalog is a fixed table of known edges keyed by parent type and field.
type Catalog struct {
	edges map[string]map[string]Field
}

var _ Resolver = (*Catalog)(nil)

// NewCatalog builds a catalog from a parent type → field → Field table.
func NewCatalog(edges map[string]map[string]Field) *Catalog {
	c := &Catalog{edges: make(map[string]map[string]Field, len(edges))}
	for parent, fields := range edges {
		m := make(map[string]Field, len(fields))
		for name, f := range fields {
			m[name] = f
		}
		c.edges[parent] = m
	}
	return c
}

// RootType implements Resolver.
func (c *Catalog) RootType(op ast.Operation) string { return rootTypeName(op) }

// Field implements Resolver.
func (c *Catalog) Field(parentType, name string) (Field, bool) {
	f, ok := c.edges[parentType][name]
	return f, ok
}

func many(t string) Field { return Field{Type: t, List: true} }
func one(t string) Field  { return Field{Type: t} }

// NetBox returns the built-in catalog of common NetBox DCIM/IPAM edges.
// Root *_list and by-ID accessors not listed here are still recognized by Guess.
func NetBox() *Catalog {
	return NewCatalog(map[string]map[string]Field{
		"Query": {
			"site":       {Type: "Site", Singular: true},
			"device":     {Type: "Device", Singular: true},
			"interface":  {Type: "Interface", Singular: true},
			"rack":       {Type: "Rack", Singular: true},
			"prefix":     {Type: "Prefix", Singular: true},
			"ip_address": {Type: "IPAddress", Singular: true},
			"vlan":       {Type: "VLAN", Singular: true},
			"circuit":    {Type: "Circuit", Singular: true},

			"site_list":       many("Site"),
			"region_list":     many("Region"),
			"location_list":   many("Location"),
			"rack_list":       many("Rack"),
			"device_list":     many("Device"),
			"interface_list":  many("Interface"),
			"cable_list":      many("Cable"),
			"prefix_list":     many("Prefix"),
			"ip_address_list": many("IPAddress"),
			"vlan_list":       many("VLAN"),
			"circuit_list":    many("Circuit"),
			"tenant_list":     many("Tenant"),
		},
		"Region": {
			"sites":    many("Site"),
			"children": many("Region"),
			"parent":   one("Region"),
		},
		"Site": {
			"region":               one("Region"),
			"tenant":               one("Tenant"),
			"status":               one("SiteStatus"),
			"locations":            many("Location"),
			"racks":                many("Rack"),
			"devices":              many("Device"),
			"prefixes":             many("Prefix"),
			"vlans":                many("VLAN"),
			"circuit_terminations": many("CircuitTermination"),
			"tags":                 many("Tag"),
		},
		"Location": {
			"site":    one("Site"),
			"parent":  one("Location"),
			"racks":   many("Rack"),
			"devices": many("Device"),
		},
		"Rack": {
			"site":     one("Site"),
			"location": one("Location"),
			"tenant":   one("Tenant"),
			"devices":  many("Device"),
			"tags":     many("Tag"),
		},
		"Device": {
			"site":          one("Site"),
			"location":      one("Location"),
			"rack":          one("Rack"),
			"tenant":        one("Tenant"),
			"role":          one("DeviceRole"),
			"device_type":   one("DeviceType"),
			"platform":      one("Platform"),
			"primary_ip4":   one("IPAddress"),
			"primary_ip6":   one("IPAddress"),
			"interfaces":    many("Interface"),
			"console_ports": many("ConsolePort"),
			"power_ports":   many("PowerPort"),
			"front_ports":   many("FrontPort"),
			"rear_ports":    many("RearPort"),
			"tags":          many("Tag"),
		},
		"DeviceType": {
			"manufacturer": one("Manufacturer"),
			"instances":    many("Device"),
		},
		"Interface": {
			"device":        one("Device"),
			"cable":         one("Cable"),
			"lag":           one("Interface"),
			"untagged_vlan": one("VLAN"),
			"tagged_vlans":  many("VLAN"),
			"ip_addresses":  many("IPAddress"),
			"link_peers":    many("LinkPeer"),
			"tags":          many("Tag"),
		},
		"Cable": {
			"a_terminations": many("CableTermination"),
			"b_terminations": many("CableTermination"),
			"tenant":         one("Tenant"),
		},
		"Prefix": {
			"site":   one("Site"),
			"vlan":   one("VLAN"),
			"tenant": one("Tenant"),
			"vrf":    one("VRF"),
			"tags":   many("Tag"),
		},
		"IPAddress": {
			"vrf":    one("VRF"),
			"tenant": one("Tenant"),
			"tags":   many("Tag"),
		},
		"VLAN": {
			"site":                   one("Site"),
			"group":                  one("VLANGroup"),
			"tenant":                 one("Tenant"),
			"prefixes":               many("Prefix"),
			"interfaces_as_tagged":   many("Interface"),
			"interfaces_as_untagged": many("Interface"),
		},
		"Tenant": {
			"sites":   many("Site"),
			"devices": many("Device"),
			"racks":   many("Rack"),
		},
		"Circuit": {
			"provider":     one("Provider"),
			"tenant":       one("Tenant"),
			"terminations": many("CircuitTermination"),
		},
	})
}
