// Package canon implements RFC 8785 (JSON Canonicalization Scheme)
// serialization and SHA-256 hashing for evidence-ledger records.
//
// Canonicalization is deeply testable and has no dependency other than the
// value being canonicalized; it is kept isolated so the commit gate and the
// replay engines can both consume it without pulling in storage or schema
// concerns.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	gowebpkijcs "github.com/gowebpki/jcs"
)

// MaxSafeInt and MinSafeInt bound the integers this canon revision accepts:
// values must fit a signed 64-bit representation AND survive an IEEE-754
// double round-trip without loss. That intersection is exactly the
// "safe integer" range used by ECMAScript (±(2^53 - 1)).
const (
	MaxSafeInt int64 = 1<<53 - 1
	MinSafeInt int64 = -(1<<53 - 1)
)

// Error reports a canonicalization rule violation. The gate treats every
// Error as a schema-rejection-class failure (spec: SCHEMA_REJECT).
type Error struct {
	Path   string
	Reason string
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("canon: %s", e.Reason)
	}
	return fmt.Sprintf("canon: at %s: %s", e.Path, e.Reason)
}

// Canonicalize returns the RFC 8785 canonical byte sequence for v.
//
// v must be built from the JSON data model only: nil, bool, string,
// json.Number (or a native int/int64/float64), []interface{}, and
// map[string]interface{}. Any other shape is rejected.
func Canonicalize(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeValue(&buf, "$", v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Hash returns the lowercase hex SHA-256 digest of Canonicalize(v).
func Hash(v interface{}) (string, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the lowercase hex SHA-256 digest of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DecodeStrict decodes raw JSON bytes into the canon data model, rejecting
// duplicate object keys (illegal per spec) and preserving numbers as
// json.Number so integer validation happens at canonicalization time rather
// than being lost to float64 imprecision during decode.
func DecodeStrict(data []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &Error{Reason: "trailing data after top-level value"}
	}
	return v, nil
}

// ToGeneric converts any JSON-marshalable Go value — including tagged
// structs, the shape every record kind is defined as in package record —
// into the canon data model via a marshal/decode round trip, so
// Canonicalize and Hash apply uniformly to structs and raw maps alike.
func ToGeneric(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canon: marshal failed: %w", err)
	}
	return DecodeStrict(data)
}

// CrossCheck canonicalizes v with this package's own canonicalizer and
// independently with github.com/gowebpki/jcs, requiring byte-identical
// output. It is a second opinion on the codec, not part of the commit
// path: the commit gate's canonicalize step calls Canonicalize only and
// never invokes CrossCheck. A real divergence between the two
// implementations indicates a bug in one of them, not a record defect, so
// a CrossCheck failure is an internal error rather than a rejection
// classification.
func CrossCheck(v interface{}) error {
	ours, err := Canonicalize(v)
	if err != nil {
		return err
	}

	// gowebpki/jcs transforms already-serialized JSON text, so we feed it
	// standard-library output (which is valid JSON, just not canonical)
	// rather than our own canonical bytes — otherwise we'd only be
	// checking that jcs.Transform is idempotent on our own output.
	plain, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("canon: cross-check pre-marshal failed: %w", err)
	}
	theirs, err := gowebpkijcs.Transform(plain)
	if err != nil {
		return fmt.Errorf("canon: cross-check transform failed: %w", err)
	}
	if !bytes.Equal(ours, theirs) {
		return fmt.Errorf("canon: cross-check mismatch: ours=%s theirs=%s", ours, theirs)
	}
	return nil
}

func decodeValue(dec *json.Decoder) (interface{}, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	return decodeToken(dec, tok)
}

func decodeToken(dec *json.Decoder, tok json.Token) (interface{}, error) {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeObject(dec)
		case '[':
			return decodeArray(dec)
		default:
			return nil, &Error{Reason: fmt.Sprintf("unexpected delimiter %q", t)}
		}
	case nil, bool, string, json.Number:
		return t, nil
	default:
		return nil, &Error{Reason: fmt.Sprintf("unexpected token %v", t)}
	}
}

func decodeObject(dec *json.Decoder) (interface{}, error) {
	obj := make(map[string]interface{})
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, &Error{Reason: "object key must be a string"}
		}
		if _, dup := obj[key]; dup {
			return nil, &Error{Path: key, Reason: "duplicate object key"}
		}
		val, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		obj[key] = val
	}
	// consume the closing '}'
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return obj, nil
}

func decodeArray(dec *json.Decoder) (interface{}, error) {
	arr := make([]interface{}, 0)
	for dec.More() {
		val, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		arr = append(arr, val)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return arr, nil
}

func writeValue(buf *bytes.Buffer, path string, v interface{}) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case string:
		return writeString(buf, t)
	case json.Number:
		return writeNumber(buf, path, t.String())
	case int:
		return writeNumber(buf, path, strconv.Itoa(t))
	case int64:
		return writeNumber(buf, path, strconv.FormatInt(t, 10))
	case float64:
		return writeNumber(buf, path, strconv.FormatFloat(t, 'g', -1, 64))
	case []interface{}:
		return writeArray(buf, path, t)
	case map[string]interface{}:
		return writeObject(buf, path, t)
	default:
		return &Error{Path: path, Reason: fmt.Sprintf("unsupported value type %T", v)}
	}
}

func writeArray(buf *bytes.Buffer, path string, arr []interface{}) error {
	buf.WriteByte('[')
	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeValue(buf, fmt.Sprintf("%s[%d]", path, i), elem); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func writeObject(buf *bytes.Buffer, path string, obj map[string]interface{}) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	// Byte-wise ordering of UTF-8 encoded strings is equivalent to
	// ordering by Unicode code point, which is what RFC 8785 requires.
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeString(buf, k); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := writeValue(buf, path+"."+k, obj[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeNumber(buf *bytes.Buffer, path, numStr string) error {
	f, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return &Error{Path: path, Reason: fmt.Sprintf("invalid number literal %q", numStr)}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return &Error{Path: path, Reason: "number must be finite"}
	}
	if f != math.Trunc(f) {
		return &Error{Path: path, Reason: "number must be an integer"}
	}
	if f > float64(MaxSafeInt) || f < float64(MinSafeInt) {
		return &Error{Path: path, Reason: "number exceeds the safe integer range"}
	}
	i64 := int64(f)
	if float64(i64) != f {
		return &Error{Path: path, Reason: "number does not round-trip through a 64-bit integer"}
	}
	// Negative zero collapses to "0": i64 is 0 regardless of the sign bit
	// on f, and FormatInt never emits "-0".
	buf.WriteString(strconv.FormatInt(i64, 10))
	return nil
}

// writeString emits minimal JSON string escaping per JCS: only '"', '\\',
// and control characters (<0x20) are escaped; \b, \t, \n, \f and \r use
// their two-character short forms, every other control character uses
// lowercase \u00xx; everything else — including all non-ASCII — is
// copied through as raw UTF-8 bytes.
func writeString(buf *bytes.Buffer, s string) error {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		default:
			if r < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, r)
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
	return nil
}
