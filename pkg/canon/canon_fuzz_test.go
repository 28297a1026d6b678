package canon

import (
	"encoding/json"
	"testing"
)

// Canonicalization is the single highest-value test investment for this
// module: it must never panic, must be fully deterministic, and must always
// produce valid JSON, for any well-formed JSON input.
func FuzzCanonicalize(f *testing.F) {
	f.Add([]byte(`{"a":1,"b":2}`))
	f.Add([]byte(`{"z":{"y":"foo","x":"bar"},"a":1}`))
	f.Add([]byte(`{"html":"<script>alert('xss')</script> &"}`))
	f.Add([]byte(`{"arr":[3,1,2],"nested":{"deep":{"key":"val"}}}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`{"":"empty_key","a":""}`))
	f.Add([]byte(`{"unicode":"こんにちは","emoji":"🚀"}`))
	f.Add([]byte(`{"escape":"line1\nline2\ttab"}`))
	f.Add([]byte(`{"n":9007199254740991}`))
	f.Add([]byte(`{"n":1.5}`))
	f.Add([]byte(`{"dup":1,"dup":2}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		v, err := DecodeStrict(data)
		if err != nil {
			// Invalid JSON, duplicate keys, or trailing data — not our
			// concern here, only that we fail cleanly rather than panic.
			return
		}

		b1, err := Canonicalize(v)
		if err != nil {
			// Non-integer or out-of-range numbers are legal rejections.
			return
		}

		b2, err := Canonicalize(v)
		if err != nil {
			t.Fatalf("Canonicalize succeeded then failed on identical input: %v", err)
		}
		if string(b1) != string(b2) {
			t.Fatalf("Canonicalize is non-deterministic:\n  first:  %s\n  second: %s", b1, b2)
		}

		var check interface{}
		if err := json.Unmarshal(b1, &check); err != nil {
			t.Fatalf("Canonicalize output is not valid JSON: %s", b1)
		}

		h1, err := Hash(v)
		if err != nil {
			t.Fatalf("Hash failed after Canonicalize succeeded: %v", err)
		}
		h2, err := Hash(v)
		if err != nil || h1 != h2 {
			t.Fatalf("Hash is non-deterministic: %s != %s (err=%v)", h1, h2, err)
		}
	})
}
