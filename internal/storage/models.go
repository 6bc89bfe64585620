package storage

import "time"

// Reading is a persisted measurement for one device and parameter.
type Reading struct {
	DeviceSerial  string
	Account       string
	Parameter     string
	MeasurementID int64
	Value         float64
	Unit          string
	MeasuredAt    time.Time
	OperatorName  string
	Comment       string
	CreatedAt     time.Time
}

// AlertRecord captures an emitted chemistry alert for auditing.
type AlertRecord struct {
	ID           int64
	DeviceSerial string
	Metric       string
	Value        float64
	Threshold    float64
	Channels     []string
	CreatedAt    time.Time
}
