package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Compile-time interface assertions.
// Scan is on pointer receivers; Value is on value receivers.
var (
	_ sql.Scanner   = (*FlowDefinition)(nil)
	_ driver.Valuer = FlowDefinition{}
	_ sql.Scanner   = (*EscalationPolicy)(nil)
	_ driver.Valuer = EscalationPolicy{}
	_ sql.Scanner   = (*ChannelConfig)(nil)
	_ driver.Valuer = ChannelConfig(nil)
	_ sql.Scanner   = (*DNDWindows)(nil)
	_ driver.Valuer = DNDWindows(nil)
	_ sql.Scanner   = (*EventSnapshot)(nil)
	_ driver.Valuer = EventSnapshot{}
)

// scanJSONB is a generic helper that scans a JSONB database value into a Go pointer.
// It handles nil values, []byte, and string representations from different database drivers.
func scanJSONB(dest interface{}, value interface{}) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, dest)
}

// valueJSONB is a generic helper that converts a Go value to a JSONB-compatible driver.Value.
func valueJSONB(v interface{}) (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (f *FlowDefinition) Scan(value interface{}) error {
	return scanJSONB(f, value)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
func (f FlowDefinition) Value() (driver.Value, error) {
	return valueJSONB(f)
}

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (p *EscalationPolicy) Scan(value interface{}) error {
	return scanJSONB(p, value)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
func (p EscalationPolicy) Value() (driver.Value, error) {
	return valueJSONB(p)
}

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (c *ChannelConfig) Scan(value interface{}) error {
	if value == nil {
		*c = nil
		return nil
	}
	return scanJSONB(c, value)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
// Unlike AlertChannel.MarshalJSON this keeps secrets intact.
func (c ChannelConfig) Value() (driver.Value, error) {
	if c == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]any(c))
}

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (w *DNDWindows) Scan(value interface{}) error {
	if value == nil {
		*w = nil
		return nil
	}
	return scanJSONB(w, value)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
func (w DNDWindows) Value() (driver.Value, error) {
	if w == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]DNDWindow(w))
}

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (e *EventSnapshot) Scan(value interface{}) error {
	return scanJSONB(e, value)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
func (e EventSnapshot) Value() (driver.Value, error) {
	return valueJSONB(e)
}
