package object

import (
	"bytes"
	"encoding/json"
)

type field struct {
	key string
	raw json.RawMessage
}

// mergePatch shallow-merges incoming's top-level fields into existing,
// preserving existing's field order and appending any new keys in the
// order they appear in incoming. It reports ok=false (and a nil result)
// when either side is not a JSON object, in which case the caller falls
// back to a full replacement.
func mergePatch(existing, incoming json.RawMessage) (merged json.RawMessage, ok bool, err error) {
	if !isJSONObject(existing) || !isJSONObject(incoming) {
		return nil, false, nil
	}

	existingFields, err := decodeObjectFields(existing)
	if err != nil {
		return nil, false, err
	}
	incomingFields, err := decodeObjectFields(incoming)
	if err != nil {
		return nil, false, err
	}

	index := make(map[string]int, len(existingFields))
	result := make([]field, len(existingFields))
	copy(result, existingFields)
	for i, f := range result {
		index[f.key] = i
	}

	for _, f := range incomingFields {
		if i, present := index[f.key]; present {
			result[i].raw = f.raw
		} else {
			index[f.key] = len(result)
			result = append(result, f)
		}
	}

	return encodeObjectFields(result), true, nil
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// decodeObjectFields parses a JSON object's top-level fields in
// insertion order, which encoding/json's map decoding discards.
func decodeObjectFields(raw json.RawMessage) ([]field, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, &json.UnmarshalTypeError{Value: "non-object", Type: nil}
	}

	var fields []field
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, &json.UnmarshalTypeError{Value: "non-string key"}
		}

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}

		fields = append(fields, field{key: key, raw: value})
	}

	if _, err := dec.Token(); err != nil { // consume closing '}'
		return nil, err
	}

	return fields, nil
}

func encodeObjectFields(fields []field) json.RawMessage {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, _ := json.Marshal(f.key)
		buf.Write(keyJSON)
		buf.WriteByte(':')
		buf.Write(f.raw)
	}
	buf.WriteByte('}')
	return buf.Bytes()
}
