package labcom

// DiscoverDevices derives the distinct devices (pools) from a measurement
// stream. The key is the device serial, falling back to "unknown" when a
// record carries none; the first occurrence of a key wins and fixes the
// display name from its account field. Output preserves first-occurrence
// order.
func DiscoverDevices(measurements []Measurement) []Device {
	seen := make(map[string]struct{})
	devices := make([]Device, 0)

	for _, m := range measurements {
		key := m.DeviceSerial
		if key == "" {
			key = UnknownKey
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		name := m.Account
		if name == "" {
			name = key
		}
		devices = append(devices, Device{
			ID:           key,
			Name:         name,
			SerialNumber: m.DeviceSerial,
		})
	}

	return devices
}
