package labcom

import (
	"encoding/json"
	"strconv"
	"time"
)

// Well-known LabCom parameter names.
const (
	ParamPH           = "PL pH"
	ParamFreeChlorine = "PL Chlorine Free"
	ParamTotalCl      = "PL Total Chlorine"
	ParamTemperature  = "PL Temperature"
	ParamAlkalinity   = "PL T-Alka"
	ParamCyanuricAcid = "PL Cyanuric Acid"
	ParamSalt         = "PL Salt"

	// UnknownKey buckets records missing a device serial or parameter name.
	UnknownKey = "unknown"
)

// Measurement is a single time-stamped photometer reading as returned by the
// LabCom measurement list. Timestamps are canonicalised to epoch seconds at
// unmarshal time; MeasuredAt is only meaningful when TimestampValid is set.
type Measurement struct {
	Account        string
	DeviceSerial   string
	ID             int64
	Parameter      string
	Unit           string
	Value          float64
	Timestamp      string
	MeasuredAt     int64
	TimestampValid bool
	Comment        string
	OperatorName   string
}

type measurementJSON struct {
	Account      string          `json:"account"`
	DeviceSerial string          `json:"device_serial"`
	ID           int64           `json:"id"`
	Parameter    string          `json:"parameter"`
	Unit         *string         `json:"unit"`
	Value        float64         `json:"value"`
	Timestamp    json.RawMessage `json:"timestamp"`
	Comment      *string         `json:"comment"`
	OperatorName *string         `json:"operator_name"`
}

// UnmarshalJSON normalises the inconsistent upstream shape: nullable strings
// become empty strings and the timestamp (integer, integer-string, or RFC 3339
// string) is parsed once here so no format union leaks downstream.
func (m *Measurement) UnmarshalJSON(data []byte) error {
	var raw measurementJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	m.Account = raw.Account
	m.DeviceSerial = raw.DeviceSerial
	m.ID = raw.ID
	m.Parameter = raw.Parameter
	m.Value = raw.Value
	if raw.Unit != nil {
		m.Unit = *raw.Unit
	}
	if raw.Comment != nil {
		m.Comment = *raw.Comment
	}
	if raw.OperatorName != nil {
		m.OperatorName = *raw.OperatorName
	}

	m.Timestamp = rawTimestampString(raw.Timestamp)
	m.MeasuredAt, m.TimestampValid = parseTimestamp(m.Timestamp)
	return nil
}

func rawTimestampString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// parseTimestamp converts an upstream timestamp to epoch seconds. Integer
// strings are the common case; some endpoints return RFC 3339 instead.
func parseTimestamp(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	if epoch, err := strconv.ParseInt(s, 10, 64); err == nil {
		return epoch, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Unix(), true
	}
	return 0, false
}

// Device is a logical pool or spa. LabCom has no device-listing endpoint, so
// devices are synthesised from the measurement stream (see DiscoverDevices).
type Device struct {
	ID           string
	Name         string
	SerialNumber string
}

// ActiveChlorine is the breakdown returned by the upstream ActiveChlorine
// calculation: how much free chlorine is actually available for sanitisation
// versus bound to the CYA stabiliser.
type ActiveChlorine struct {
	UnboundChlorine float64 `json:"unbound_chlorine"`
	BoundToCYA      float64 `json:"bound_to_cya"`
	OCl             float64 `json:"ocl"`
	Cl3CY           float64 `json:"cl3cy"`
}
