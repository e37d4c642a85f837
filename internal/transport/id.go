package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ID is a correlation identifier the engine may send as either a JSON
// number or a JSON string. It is re-emitted in the same JSON kind.
type ID struct {
	value   string
	numeric bool
}

func StringID(v string) ID {
	return ID{value: v}
}

func NumericID(v int64) ID {
	return ID{value: strconv.FormatInt(v, 10), numeric: true}
}

func (id ID) String() string {
	return id.value
}

func (id ID) IsZero() bool {
	return id.value == ""
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.numeric {
		return []byte(id.value), nil
	}
	return json.Marshal(id.value)
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ID{}
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID{value: s}
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID{value: n.String(), numeric: true}
	return nil
}
