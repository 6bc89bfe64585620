package labcom

// Reconcile reduces the shared measurement set to one device's latest value
// per parameter.
//
// A measurement belongs to the device when its account or its device serial
// equals the key; upstream naming is inconsistent between endpoints, so both
// fields are matched. A missing serial counts as "unknown", the same key
// DiscoverDevices assigns, so serial-less records still reach their device.
// Records missing a parameter land in the retained "unknown" bucket rather
// than being dropped, surfacing data-quality problems.
//
// Within a parameter group the winner is the record with the largest
// canonical timestamp; equal timestamps resolve to the earlier record in
// upstream order, making selection independent of input permutation. When a
// group contains a record whose timestamp failed to parse, the group degrades
// to its first record in upstream order, the one documented non-commutative
// case. Reconcile never fails.
func Reconcile(measurements []Measurement, key string) map[string]Measurement {
	grouped := make(map[string][]Measurement)
	var order []string

	for _, m := range measurements {
		serial := m.DeviceSerial
		if serial == "" {
			serial = UnknownKey
		}
		if m.Account != key && serial != key {
			continue
		}
		param := m.Parameter
		if param == "" {
			param = UnknownKey
		}
		if _, ok := grouped[param]; !ok {
			order = append(order, param)
		}
		grouped[param] = append(grouped[param], m)
	}

	latest := make(map[string]Measurement, len(order))
	for _, param := range order {
		latest[param] = selectLatest(grouped[param])
	}
	return latest
}

func selectLatest(group []Measurement) Measurement {
	for _, m := range group {
		if !m.TimestampValid {
			return group[0]
		}
	}

	winner := group[0]
	for _, m := range group[1:] {
		if m.MeasuredAt > winner.MeasuredAt {
			winner = m
		}
	}
	return winner
}
