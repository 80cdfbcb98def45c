package model

import "sort"

// VersionVector maps a device id to the highest logical clock value
// absorbed from that device. Entries only ever grow.
type VersionVector map[string]uint64

// Get returns the clock for device, 0 if unseen.
func (vv VersionVector) Get(device string) uint64 { return vv[device] }

// Observe raises the device's entry to seq if seq is larger.
func (vv VersionVector) Observe(device string, seq uint64) {
	if seq > vv[device] {
		vv[device] = seq
	}
}

// Merge raises every entry of vv to at least the matching entry of o.
func (vv VersionVector) Merge(o VersionVector) {
	for d, s := range o {
		vv.Observe(d, s)
	}
}

// Max returns the largest clock value in the vector.
func (vv VersionVector) Max() uint64 {
	var m uint64
	for _, s := range vv {
		if s > m {
			m = s
		}
	}
	return m
}

// Dominates reports whether vv >= o component-wise.
func (vv VersionVector) Dominates(o VersionVector) bool {
	for d, s := range o {
		if vv[d] < s {
			return false
		}
	}
	return true
}

// Equal compares two vectors, treating missing entries as 0.
func (vv VersionVector) Equal(o VersionVector) bool {
	return vv.Dominates(o) && o.Dominates(vv)
}

// Clone returns an independent copy. Zero entries are dropped.
func (vv VersionVector) Clone() VersionVector {
	out := make(VersionVector, len(vv))
	for d, s := range vv {
		if s > 0 {
			out[d] = s
		}
	}
	return out
}

// Devices returns the device ids with a non-zero entry, sorted.
func (vv VersionVector) Devices() []string {
	out := make([]string, 0, len(vv))
	for d, s := range vv {
		if s > 0 {
			out = append(out, d)
		}
	}
	sort.Strings(out)
	return out
}
