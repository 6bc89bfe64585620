package labcom

import "testing"

func TestDiscoverDevices(t *testing.T) {
	measurements := []Measurement{
		{DeviceSerial: "POOL001", Account: "Hemma Pool", Parameter: ParamPH},
		{DeviceSerial: "SPA001", Account: "Hemma Spa", Parameter: ParamTemperature},
		{DeviceSerial: "POOL001", Account: "Renamed Later", Parameter: ParamFreeChlorine},
	}

	devices := DiscoverDevices(measurements)
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(devices))
	}
	if devices[0].ID != "POOL001" || devices[1].ID != "SPA001" {
		t.Fatalf("first-occurrence order not preserved: %+v", devices)
	}
	if devices[0].Name != "Hemma Pool" {
		t.Fatalf("first occurrence should fix the name, got %q", devices[0].Name)
	}
}

func TestDiscoverDevicesMissingSerial(t *testing.T) {
	measurements := []Measurement{
		{Account: "Orphan Account", Parameter: ParamPH},
		{Parameter: ParamSalt},
	}

	devices := DiscoverDevices(measurements)
	if len(devices) != 1 {
		t.Fatalf("serial-less records collapse into one device, got %d", len(devices))
	}
	if devices[0].ID != UnknownKey {
		t.Fatalf("expected %q key, got %q", UnknownKey, devices[0].ID)
	}
	if devices[0].Name != "Orphan Account" {
		t.Fatalf("name should fall back to account, got %q", devices[0].Name)
	}
}

func TestDiscoverDevicesEmpty(t *testing.T) {
	if devices := DiscoverDevices(nil); len(devices) != 0 {
		t.Fatalf("expected no devices, got %d", len(devices))
	}
}
