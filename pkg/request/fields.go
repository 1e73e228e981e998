package request

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Recipients is an address list that also accepts a single address string on
// the wire.
type Recipients []string

func (r *Recipients) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*r = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = Recipients{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("expected an address or a list of addresses: %w", err)
	}
	if list == nil {
		list = []string{}
	}
	*r = list
	return nil
}

// dateLayouts are the ISO-8601 forms accepted for a date string, most
// specific first.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Date is a point in time given either as a time.Time by Go callers or as an
// ISO-8601 string in JSON.
type Date struct {
	time.Time
}

// ParseDate coerces an ISO-8601 string. Strings without a zone are read as
// UTC.
func ParseDate(s string) (Date, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Date{t}, nil
		}
	}
	return Date{}, fmt.Errorf("%q is not an ISO-8601 timestamp", s)
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("expected an ISO-8601 string: %w", err)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.UTC().Format(time.RFC3339Nano))
}
