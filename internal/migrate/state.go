package migrate

import "encoding/json"

func marshalState(st state) ([]byte, error) {
	return json.Marshal(st)
}

func unmarshalState(data []byte, st *state) error {
	return json.Unmarshal(data, st)
}
