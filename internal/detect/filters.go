package detect

// LocalFilters maps a filtered type to its relation → local filter field table.
type LocalFilters map[string]map[string]string

// Lookup returns the local filter registered on typeName for relation.
func (lf LocalFilters) Lookup(typeName, relation string) (string, bool) {
	local, ok := lf[typeName][relation]
	return local, ok && local != ""
}

// Merge returns lf overlaid with other. Neither input is modified.
func (lf LocalFilters) Merge(other LocalFilters) LocalFilters {
	out := make(LocalFilters, len(lf)+len(other))
	for _, src := range []LocalFilters{lf, other} {
		for typeName, fields := range src {
			m, ok := out[typeName]
			if !ok {
				m = make(map[string]string, len(fields))
				out[typeName] = m
			}
			for relation, local := range fields {
				m[relation] = local
			}
		}
	}
	return out
}

// NetBoxLocalFilters lists NetBox filter fields that match on a related
// object without joining through it.
func NetBoxLocalFilters() LocalFilters {
	return LocalFilters{
		"Device": {
			"site":        "site",
			"location":    "location_id",
			"rack":        "rack_id",
			"tenant":      "tenant",
			"role":        "role",
			"device_type": "device_type_id",
			"platform":    "platform",
		},
		"Interface": {
			"device": "device_id",
			"site":   "site",
		},
		"Rack": {
			"site":     "site",
			"location": "location_id",
		},
		"Prefix": {
			"site": "site",
			"vlan": "vlan_id",
			"vrf":  "vrf_id",
		},
		"IPAddress": {
			"interface": "interface_id",
			"device":    "device",
			"vrf":       "vrf_id",
		},
		"VLAN": {
			"site":  "site",
			"group": "group_id",
		},
		"Cable": {
			"site":   "site",
			"device": "device",
		},
	}
}
