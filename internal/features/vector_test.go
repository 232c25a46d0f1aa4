package features

import (
	"encoding/json"
	"testing"
)

func TestVector_StableJSONOrder(t *testing.T) {
	vec := NewVector([]string{"b_feature", "a_feature", "c_feature"})
	vec.Set("a_feature", 1.5)
	vec.Set("b_feature", 0)
	vec.Set("c_feature", -2.25)

	data, err := json.Marshal(vec)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"b_feature":0,"a_feature":1.5,"c_feature":-2.25}`
	if string(data) != want {
		t.Errorf("marshal = %s, want %s", data, want)
	}
}

func TestVector_SetIgnoresUnknownKeys(t *testing.T) {
	vec := NewVector([]string{"known"})
	vec.Set("unknown", 9)

	if _, ok := vec.Get("unknown"); ok {
		t.Error("unknown key must not enter the vector")
	}
	if vec.Len() != 1 {
		t.Errorf("Len = %d, want 1", vec.Len())
	}
}

func TestVector_Values(t *testing.T) {
	vec := NewVector([]string{"x", "y"})
	vec.Set("x", 3)
	vec.Set("y", 4)

	values := vec.Values()
	if len(values) != 2 || values[0] != 3 || values[1] != 4 {
		t.Errorf("Values = %v, want [3 4]", values)
	}
}

func TestVector_UnmarshalRejectsNonObject(t *testing.T) {
	for _, input := range []string{`[1,2]`, `"bogus"`, `42`, `null`} {
		var vec Vector
		if err := json.Unmarshal([]byte(input), &vec); err == nil {
			t.Errorf("unmarshal %s: expected error", input)
		}
	}
}

func TestVector_RoundTrip(t *testing.T) {
	vec := NewVector([]string{"x", "y"})
	vec.Set("x", 0.3333)
	vec.Set("y", 42)

	data, err := json.Marshal(vec)
	if err != nil {
		t.Fatal(err)
	}

	var back Vector
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}

	if got, _ := back.Get("x"); got != 0.3333 {
		t.Errorf("x = %v, want 0.3333", got)
	}
	keys := back.Keys()
	if len(keys) != 2 || keys[0] != "x" || keys[1] != "y" {
		t.Errorf("keys = %v, want [x y]", keys)
	}
}
