package features

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Vector is an insertion-ordered feature vector. Keys follow the model
// schema order so serialization and inference input are reproducible.
type Vector struct {
	keys   []string
	values map[string]float64
}

// NewVector creates a vector with the given key order, all values zero.
func NewVector(keys []string) *Vector {
	ordered := make([]string, len(keys))
	copy(ordered, keys)
	values := make(map[string]float64, len(keys))
	for _, k := range ordered {
		values[k] = 0
	}
	return &Vector{keys: ordered, values: values}
}

// Set assigns a value. Keys outside the schema are ignored.
func (v *Vector) Set(key string, value float64) {
	if _, ok := v.values[key]; ok {
		v.values[key] = value
	}
}

// Get returns the value for key, and whether the key is in the schema.
func (v *Vector) Get(key string) (float64, bool) {
	value, ok := v.values[key]
	return value, ok
}

// Keys returns the schema-ordered key list.
func (v *Vector) Keys() []string {
	out := make([]string, len(v.keys))
	copy(out, v.keys)
	return out
}

// Values returns the values in schema order.
func (v *Vector) Values() []float64 {
	out := make([]float64, len(v.keys))
	for i, k := range v.keys {
		out[i] = v.values[k]
	}
	return out
}

// Len returns the number of features.
func (v *Vector) Len() int {
	return len(v.keys)
}

// Map returns a plain map copy of the vector.
func (v *Vector) Map() map[string]float64 {
	out := make(map[string]float64, len(v.values))
	for k, val := range v.values {
		out[k] = val
	}
	return out
}

// MarshalJSON emits a JSON object with keys in schema order.
func (v *Vector) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range v.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')
		buf.WriteString(strconv.FormatFloat(v.values[k], 'f', -1, 64))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON restores a vector from a JSON object. Key order follows
// the object's field order.
func (v *Vector) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	// Opening brace
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok != json.Delim('{') {
		return fmt.Errorf("feature vector must be a JSON object, got %v", tok)
	}

	v.keys = nil
	v.values = make(map[string]float64)

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("feature vector key must be a string, got %v", keyTok)
		}

		var value float64
		if err := dec.Decode(&value); err != nil {
			return err
		}
		v.keys = append(v.keys, key)
		v.values[key] = value
	}

	// Closing brace
	_, err = dec.Token()
	return err
}
