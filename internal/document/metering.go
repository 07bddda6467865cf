package document

// Counters holds named usage counters for one stage or resource.
type Counters map[string]int64

// Metering maps stage/resource names to usage counters. Counters merge
// additively across stage invocations and fan-out branches.
type Metering map[string]Counters

// Merge adds every counter from other into m, creating entries as needed.
func (m Metering) Merge(other Metering) {
	for resource, counters := range other {
		dst, ok := m[resource]
		if !ok {
			dst = make(Counters, len(counters))
			m[resource] = dst
		}
		for name, value := range counters {
			dst[name] += value
		}
	}
}

// Add increments a single counter for the given resource.
func (m Metering) Add(resource, counter string, value int64) {
	dst, ok := m[resource]
	if !ok {
		dst = make(Counters)
		m[resource] = dst
	}
	dst[counter] += value
}

// Clone returns a deep copy of the metering map.
func (m Metering) Clone() Metering {
	if m == nil {
		return nil
	}
	out := make(Metering, len(m))
	for resource, counters := range m {
		dst := make(Counters, len(counters))
		for name, value := range counters {
			dst[name] = value
		}
		out[resource] = dst
	}
	return out
}
