package catalog

import "encoding/json"

func decodeJSONStrings(raw string, out *[]string) error {
	return json.Unmarshal([]byte(raw), out)
}
