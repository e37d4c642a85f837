package history

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// QuestionIDs is the ordered list of questions asked during an interview,
// stored as a JSON array column.
type QuestionIDs []string

func (q QuestionIDs) Value() (driver.Value, error) {
	if len(q) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal([]string(q))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (q *QuestionIDs) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*q = QuestionIDs{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("question ids: cannot scan %T", value)
	}
	return json.Unmarshal(raw, (*[]string)(q))
}

// Append adds id unless it is already the most recent question. Engines
// resend a question after a reconnect.
func (q QuestionIDs) Append(id string) (QuestionIDs, bool) {
	if n := len(q); n > 0 && q[n-1] == id {
		return q, false
	}
	return append(q, id), true
}
