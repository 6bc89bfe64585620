package labcom

import (
	"context"
	"encoding/json"
	"fmt"
)

const measurementsQuery = `
    query {
        Measurements {
            account
            id
            unit
            parameter
            timestamp
            comment
            value
            device_serial
            operator_name
        }
    }`

const measurementHistoryQuery = `
    query MeasurementHistory($serial: String!, $hours: Int!) {
        MeasurementHistory(device_serial: $serial, hours: $hours) {
            account
            id
            unit
            parameter
            timestamp
            comment
            value
            device_serial
            operator_name
        }
    }`

const activeChlorineQuery = `
    query ActiveChlorine($temperature: Float!, $ph: Float!, $chlorine: Float!, $cya: Float!) {
        ActiveChlorine(temperature: $temperature, ph: $ph, chlorine: $chlorine, cya: $cya) {
            unbound_chlorine
            bound_to_cya
            ocl
            cl3cy
        }
    }`

// Measurements fetches the full measurement list. The API returns every
// device's records in one call; there is no per-device endpoint.
func (c *Client) Measurements(ctx context.Context) ([]Measurement, error) {
	data, err := c.Query(ctx, measurementsQuery, nil, QueryOptions{})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Measurements []Measurement `json:"Measurements"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode measurements: %w", err)
	}
	return payload.Measurements, nil
}

// MeasurementHistory fetches historical readings for one device serial,
// covering the trailing window in hours. Used by the backfill job.
func (c *Client) MeasurementHistory(ctx context.Context, serial string, hours int) ([]Measurement, error) {
	data, err := c.Query(ctx, measurementHistoryQuery, map[string]any{
		"serial": serial,
		"hours":  hours,
	}, QueryOptions{})
	if err != nil {
		return nil, err
	}

	var payload struct {
		MeasurementHistory []Measurement `json:"MeasurementHistory"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode measurement history: %w", err)
	}
	return payload.MeasurementHistory, nil
}

// FetchActiveChlorine runs the upstream ActiveChlorine calculation. The call
// bypasses the throttle spacing; it rides directly behind a measurement fetch
// inside the same refresh cycle.
func (c *Client) FetchActiveChlorine(ctx context.Context, temperature, ph, chlorine, cya float64) (*ActiveChlorine, error) {
	data, err := c.Query(ctx, activeChlorineQuery, map[string]any{
		"temperature": temperature,
		"ph":          ph,
		"chlorine":    chlorine,
		"cya":         cya,
	}, QueryOptions{BypassThrottle: true})
	if err != nil {
		return nil, err
	}

	var payload struct {
		ActiveChlorine *ActiveChlorine `json:"ActiveChlorine"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode active chlorine: %w", err)
	}
	if payload.ActiveChlorine == nil {
		return nil, fmt.Errorf("active chlorine payload missing")
	}
	return payload.ActiveChlorine, nil
}

// VerifyToken checks the credential by attempting a measurement fetch. It
// succeeds exactly when a fetch returns a non-error payload.
func (c *Client) VerifyToken(ctx context.Context) error {
	_, err := c.Measurements(ctx)
	return err
}
