package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

type Measurement string

const (
	HTTPResponseTime Measurement = "http_response_time"
	HTTPResponseCode Measurement = "http_response_code"
	HTTPTTFB         Measurement = "http_ttfb"
	HTTPError        Measurement = "http_error"
	DNSIP            Measurement = "dns_ip"
	DNSResponseTime  Measurement = "dns_response_time"
	DNSError         Measurement = "dns_error"
	Availability     Measurement = "availability"
	Alert            Measurement = "alert"
)

// Field names.
const (
	FieldDuration   = "duration"
	FieldCode       = "code"
	FieldIP         = "ip"
	FieldError      = "error"
	FieldPercentage = "percentage"
)

type FieldType int

const (
	FieldInteger FieldType = iota
	FieldString
	FieldFloat
)

type FieldSpec struct {
	Name string
	Type FieldType
}

// Schema maps every measurement to its single typed field.
var Schema = map[Measurement]FieldSpec{
	HTTPResponseTime: {FieldDuration, FieldInteger},
	HTTPResponseCode: {FieldCode, FieldString},
	HTTPTTFB:         {FieldDuration, FieldInteger},
	HTTPError:        {FieldError, FieldString},
	DNSIP:            {FieldIP, FieldString},
	DNSResponseTime:  {FieldDuration, FieldInteger},
	DNSError:         {FieldError, FieldString},
	Availability:     {FieldPercentage, FieldFloat},
	Alert:            {FieldError, FieldString},
}

type Tags struct {
	Host string `json:"host"`
}

// Record is one time-series point.
type Record struct {
	Measurement Measurement    `json:"measurement"`
	Tags        Tags           `json:"tags"`
	Fields      map[string]any `json:"fields"`
	Time        time.Time      `json:"time"`
}

func NewDuration(m Measurement, host string, d time.Duration, at time.Time) Record {
	return newRecord(m, host, FieldDuration, d.Milliseconds(), at)
}

func NewCode(host string, code int, at time.Time) Record {
	return newRecord(HTTPResponseCode, host, FieldCode, strconv.Itoa(code), at)
}

func NewIP(host, ip string, at time.Time) Record {
	return newRecord(DNSIP, host, FieldIP, ip, at)
}

func NewError(m Measurement, host, msg string, at time.Time) Record {
	return newRecord(m, host, FieldError, msg, at)
}

func NewAvailability(host string, pct float64, at time.Time) Record {
	return newRecord(Availability, host, FieldPercentage, pct, at)
}

func NewAlert(host, msg string, at time.Time) Record {
	return newRecord(Alert, host, FieldError, msg, at)
}

func newRecord(m Measurement, host, field string, v any, at time.Time) Record {
	return Record{
		Measurement: m,
		Tags:        Tags{Host: host},
		Fields:      map[string]any{field: v},
		Time:        at,
	}
}

// Validate checks the measurement kind, host tag and field type.
func (r Record) Validate() error {
	spec, ok := Schema[r.Measurement]
	if !ok {
		return fmt.Errorf("unknown measurement %q", r.Measurement)
	}
	if r.Tags.Host == "" {
		return fmt.Errorf("%s: missing host tag", r.Measurement)
	}
	v, ok := r.Fields[spec.Name]
	if !ok {
		return fmt.Errorf("%s: missing field %q", r.Measurement, spec.Name)
	}
	switch spec.Type {
	case FieldInteger:
		if _, ok := toInt64(v); !ok {
			return fmt.Errorf("%s: field %q is not an integer", r.Measurement, spec.Name)
		}
	case FieldFloat:
		if _, ok := toFloat64(v); !ok {
			return fmt.Errorf("%s: field %q is not a float", r.Measurement, spec.Name)
		}
	case FieldString:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("%s: field %q is not a string", r.Measurement, spec.Name)
		}
	}
	return nil
}

// Int64 reads an integer field. Values decoded from JSON arrive as
// float64 or json.Number.
func (r Record) Int64(field string) (int64, bool) {
	return toInt64(r.Fields[field])
}

func (r Record) Float64(field string) (float64, bool) {
	return toFloat64(r.Fields[field])
}

func (r Record) Text(field string) string {
	s, _ := r.Fields[field].(string)
	return s
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
