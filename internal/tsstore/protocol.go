package tsstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Protocol tokens.
const (
	successToken = "OK"
	quitLine     = "QUIT\n"
)

// EncodeAuth returns the AUTH request line.
func EncodeAuth(storeName, apiKey string) []byte {
	return []byte("AUTH " + storeName + " " + apiKey + "\n")
}

// EncodeRecord serialises r as one newline-terminated JSON object. Fields
// keep their order and use ": " and ", " separators, so
// {"temp": 21.5} is written exactly as shown.
func EncodeRecord(r Record) ([]byte, error) {
	buf := make([]byte, 0, 16+len(r.fields)*24)
	buf = append(buf, '{')
	for i, f := range r.fields {
		if f.Name == "" {
			return nil, fmt.Errorf("%w: empty field name at position %d", ErrInvalidRecord, i)
		}
		// json.Marshal would replace bad bytes with U+FFFD and rename the field.
		if !utf8.ValidString(f.Name) {
			return nil, fmt.Errorf("%w: field name %q is not valid UTF-8", ErrInvalidRecord, f.Name)
		}
		if math.IsNaN(f.Value) || math.IsInf(f.Value, 0) {
			return nil, fmt.Errorf("%w: field %q is not finite", ErrInvalidRecord, f.Name)
		}
		if i > 0 {
			buf = append(buf, ", "...)
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, fmt.Errorf("%w: field name: %w", ErrInvalidRecord, err)
		}
		buf = append(buf, key...)
		buf = append(buf, ": "...)
		buf = appendFloat(buf, f.Value)
	}
	buf = append(buf, '}', '\n')
	return buf, nil
}

// appendFloat formats v the way encoding/json does: plain decimal notation
// for ordinary magnitudes, exponent form for very small or large ones.
func appendFloat(buf []byte, v float64) []byte {
	abs := math.Abs(v)
	format := byte('f')
	if abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		format = 'e'
	}
	buf = strconv.AppendFloat(buf, v, format, -1, 64)
	if format == 'e' {
		// clean up e-09 to e-9
		n := len(buf)
		if n >= 4 && buf[n-4] == 'e' && buf[n-3] == '-' && buf[n-2] == '0' {
			buf[n-2] = buf[n-1]
			buf = buf[:n-1]
		}
	}
	return buf
}

// DecodeRecord parses a write line produced by EncodeRecord back into a
// Record. Nested values and non-numeric values are rejected.
func DecodeRecord(line []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return Record{}, fmt.Errorf("%w: expected object", ErrInvalidRecord)
	}

	var b RecordBuilder
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Record{}, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
		}
		name, ok := tok.(string)
		if !ok {
			return Record{}, fmt.Errorf("%w: expected field name", ErrInvalidRecord)
		}

		tok, err = dec.Token()
		if err != nil {
			return Record{}, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
		}
		num, ok := tok.(json.Number)
		if !ok {
			return Record{}, fmt.Errorf("%w: field %q is not a number", ErrInvalidRecord, name)
		}
		v, err := num.Float64()
		if err != nil {
			return Record{}, fmt.Errorf("%w: field %q: %w", ErrInvalidRecord, name, err)
		}
		b.Add(name, v)
	}

	if _, err := dec.Token(); err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Record{}, fmt.Errorf("%w: trailing data after object", ErrInvalidRecord)
	}
	return b.Record(), nil
}

// isSuccess reports whether line starts with the success token followed by
// whitespace. A bare "OK" without its newline is not a complete line.
func isSuccess(line string) bool {
	if !strings.HasPrefix(line, successToken) || len(line) <= len(successToken) {
		return false
	}
	return unicode.IsSpace(rune(line[len(successToken)]))
}

// parseAuthResponse checks the single line answering AUTH.
func parseAuthResponse(line string) error {
	if !isSuccess(line) {
		return fmt.Errorf("%w: %q", ErrAuthRejected, strings.TrimSpace(line))
	}
	return nil
}

// parseWriteAck extracts the timestamp from "OK <ts>".
func parseWriteAck(line string) (int64, error) {
	if !isSuccess(line) {
		return 0, fmt.Errorf("%w: %q", ErrWriteRejected, strings.TrimSpace(line))
	}
	parts := strings.Fields(line)
	if len(parts) < 2 {
		return 0, fmt.Errorf("%w: missing timestamp", ErrMalformedAck)
	}
	ts, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrMalformedAck, parts[1], err)
	}
	return ts, nil
}
