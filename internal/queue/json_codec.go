package queue

import "encoding/json"

// JSONCodec encodes jobs as JSON. Jobs destined for RedisQueue must already
// be a JSON-marshalable concrete type (e.g. worker.Job), since
// Decode returns a map[string]interface{} rather than the original type —
// callers that need the concrete type should decode via json.Unmarshal into
// it themselves using the raw bytes from a custom Codec instead.
type JSONCodec struct{}

func (JSONCodec) Encode(job Job) (string, error) {
	b, err := json.Marshal(job)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (JSONCodec) Decode(data string) (Job, error) {
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, err
	}
	return out, nil
}
