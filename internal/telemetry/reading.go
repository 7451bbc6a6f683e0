// Package telemetry decodes live sensor messages into typed readings.
package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// SensorReading is one timestamped temperature/humidity/pressure sample.
type SensorReading struct {
	Time        time.Time
	Temperature float64
	Humidity    float64
	Pressure    float64
}

// DecodeError reports a payload that could not be turned into a reading.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode reading: %s: %v", e.Reason, e.Err)
	}
	return "decode reading: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// record is the wire shape of a reading. Pointers distinguish missing fields
// from zero. The suffixed names are the cloudpico gateway's telemetry
// fields and are used when the plain name is absent.
type record struct {
	Time        json.RawMessage `json:"time"`
	Temperature *float64        `json:"temperature"`
	Humidity    *float64        `json:"humidity"`
	Pressure    *float64        `json:"pressure"`

	Timestamp    json.RawMessage `json:"timestamp"`
	TemperatureC *float64        `json:"temperature_c"`
	HumidityPct  *float64        `json:"humidity_pct"`
	PressureHPa  *float64        `json:"pressure_hpa"`
}

func (r *record) normalize() {
	if r.Temperature == nil {
		r.Temperature = r.TemperatureC
	}
	if r.Humidity == nil {
		r.Humidity = r.HumidityPct
	}
	if r.Pressure == nil {
		r.Pressure = r.PressureHPa
	}
	if len(r.Time) == 0 {
		r.Time = r.Timestamp
	}
}

// Decode parses a raw message into readings. The payload is a JSON array of
// reading records; only the first record is decoded (see TakeFirstReading).
// A single JSON object is treated as a batch of one.
func Decode(payload []byte) ([]SensorReading, error) {
	batch, err := splitBatch(payload)
	if err != nil {
		return nil, err
	}
	first, ok := TakeFirstReading(batch)
	if !ok {
		return nil, nil
	}
	r, err := decodeRecord(first)
	if err != nil {
		return nil, err
	}
	return []SensorReading{r}, nil
}

// TakeFirstReading is the batching policy: the server may send several
// records per message, but only index 0 is charted and the rest are ignored.
func TakeFirstReading(batch []json.RawMessage) (json.RawMessage, bool) {
	if len(batch) == 0 {
		return nil, false
	}
	return batch[0], true
}

func splitBatch(payload []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, &DecodeError{Reason: "empty payload"}
	}
	if !json.Valid(trimmed) {
		return nil, &DecodeError{Reason: "payload is not valid JSON"}
	}
	switch trimmed[0] {
	case '[':
		var batch []json.RawMessage
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, &DecodeError{Reason: "payload is not an array of records", Err: err}
		}
		return batch, nil
	case '{':
		return []json.RawMessage{trimmed}, nil
	default:
		return nil, &DecodeError{Reason: "payload is neither an array nor an object"}
	}
}

func decodeRecord(raw json.RawMessage) (SensorReading, error) {
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return SensorReading{}, &DecodeError{Reason: "malformed record", Err: err}
	}
	rec.normalize()
	if rec.Temperature == nil {
		return SensorReading{}, &DecodeError{Reason: "temperature is required"}
	}
	if rec.Humidity == nil {
		return SensorReading{}, &DecodeError{Reason: "humidity is required"}
	}
	if rec.Pressure == nil {
		return SensorReading{}, &DecodeError{Reason: "pressure is required"}
	}
	ts, err := parseTime(rec.Time)
	if err != nil {
		return SensorReading{}, err
	}
	return SensorReading{
		Time:        ts,
		Temperature: *rec.Temperature,
		Humidity:    *rec.Humidity,
		Pressure:    *rec.Pressure,
	}, nil
}

// parseTime accepts an RFC 3339 string or a number of Unix milliseconds.
func parseTime(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, &DecodeError{Reason: "time is required"}
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, &DecodeError{Reason: "malformed time", Err: err}
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, &DecodeError{Reason: "time is not RFC 3339", Err: err}
		}
		return ts, nil
	}
	var ms float64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return time.Time{}, &DecodeError{Reason: "time is neither a string nor a number", Err: err}
	}
	return time.UnixMilli(int64(ms)), nil
}
