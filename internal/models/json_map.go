package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap stores an open key-value map as a JSON text column.
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported JSONMap source type %T", value)
	}
	if len(data) == 0 {
		*m = nil
		return nil
	}

	out := make(JSONMap)
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*m = out
	return nil
}
