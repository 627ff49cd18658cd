package search

import (
	"fmt"

	"github.com/goccy/go-json"
)

// jsonStrings scans a JSON array column.
type jsonStrings []string

func (s *jsonStrings) Scan(src any) error {
	*s = nil
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("search: cannot scan %T into []string", src)
	}
}
