package object

import (
	"encoding/json"
	"testing"
)

func TestMergePatch_PreservesOrderAndAppendsNewKeys(t *testing.T) {
	merged, ok, err := mergePatch(json.RawMessage(`{"a":1,"b":2}`), json.RawMessage(`{"b":3,"c":4}`))
	if err != nil {
		t.Fatalf("mergePatch: %v", err)
	}
	if !ok {
		t.Fatal("mergePatch reported ok=false for two JSON objects")
	}
	if string(merged) != `{"a":1,"b":3,"c":4}` {
		t.Errorf("merged = %s, want {\"a\":1,\"b\":3,\"c\":4}", merged)
	}
}

func TestMergePatch_NonObjectSides(t *testing.T) {
	cases := []struct {
		existing, incoming string
	}{
		{`5`, `{"a":1}`},
		{`{"a":1}`, `5`},
		{`[1,2]`, `{"a":1}`},
	}

	for _, c := range cases {
		_, ok, err := mergePatch(json.RawMessage(c.existing), json.RawMessage(c.incoming))
		if err != nil {
			t.Fatalf("mergePatch(%s, %s): %v", c.existing, c.incoming, err)
		}
		if ok {
			t.Errorf("mergePatch(%s, %s) reported ok=true, want false", c.existing, c.incoming)
		}
	}
}

func TestMergePatch_NestedObjectsReplacedWholesale(t *testing.T) {
	merged, ok, err := mergePatch(
		json.RawMessage(`{"a":{"x":1,"y":2}}`),
		json.RawMessage(`{"a":{"z":3}}`),
	)
	if err != nil {
		t.Fatalf("mergePatch: %v", err)
	}
	if !ok {
		t.Fatal("mergePatch reported ok=false")
	}
	if string(merged) != `{"a":{"z":3}}` {
		t.Errorf("merged = %s, want nested object replaced wholesale", merged)
	}
}
