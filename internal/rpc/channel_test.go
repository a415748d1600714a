package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"
)

func assertEqual(t *testing.T, got, want interface{}, field string) {
	t.Helper()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("%s mismatch:\nwant: %v\ngot:  %v", field, want, got)
	}
}

// TestFramingRoundTrip checks spec.md §8's universal property: for any
// sequence of values, reads emerge in the order they were written.
func TestFramingRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	ch := NewChannel(&buf, &buf, nil)

	values := []map[string]interface{}{
		{"jsonrpc": "2.0", "id": 1, "method": "a"},
		{"jsonrpc": "2.0", "id": "two", "method": "b"},
		{"jsonrpc": "2.0", "method": "c"},
	}
	for _, v := range values {
		if err := ch.Write(v); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	for i, want := range values {
		raw, err := ch.Read()
		if err != nil {
			t.Fatalf("Read %d: %v", i, err)
		}
		var got map[string]interface{}
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("unmarshal %d: %v", i, err)
		}
		wantJSON, _ := json.Marshal(want)
		gotJSON, _ := json.Marshal(got)
		assertEqual(t, string(gotJSON), string(wantJSON), fmt.Sprintf("message %d", i))
	}
}

// TestOversizeRefusal checks spec.md §8: a Content-Length above 2^30
// produces no message and the reader keeps going afterward.
func TestOversizeRefusal(t *testing.T) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Content-Length: %d\r\n\r\n", MaxContentLength+1)
	// No body bytes follow for the oversize message; the reader must not
	// try to consume MaxContentLength+1 bytes for it.
	good := []byte(`{"jsonrpc":"2.0","method":"ping"}`)
	fmt.Fprintf(&buf, "Content-Length: %d\r\n\r\n%s", len(good), good)

	ch := NewChannel(&buf, &buf, nil)

	_, err := ch.Read()
	if !ErrNoMessage(err) {
		t.Fatalf("expected recoverable no-message error for oversize header, got %v", err)
	}

	raw, err := ch.Read()
	if err != nil {
		t.Fatalf("expected reader to continue after oversize refusal: %v", err)
	}
	assertEqual(t, string(raw), string(good), "message after oversize refusal")
}

func TestMissingContentLength(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("X-Other: 1\r\n\r\n")
	good := []byte(`{"jsonrpc":"2.0","method":"ping"}`)
	fmt.Fprintf(&buf, "Content-Length: %d\r\n\r\n%s", len(good), good)

	ch := NewChannel(&buf, &buf, nil)
	_, err := ch.Read()
	if !ErrNoMessage(err) {
		t.Fatalf("expected no-message error for missing Content-Length, got %v", err)
	}
	raw, err := ch.Read()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertEqual(t, string(raw), string(good), "message after missing length")
}

func TestDuplicateContentLengthFirstWins(t *testing.T) {
	var buf bytes.Buffer
	good := []byte(`{"jsonrpc":"2.0","method":"ping"}`)
	fmt.Fprintf(&buf, "Content-Length: %d\r\nContent-Length: 999999\r\n\r\n%s", len(good), good)

	ch := NewChannel(&buf, &buf, nil)
	raw, err := ch.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	assertEqual(t, string(raw), string(good), "message with duplicate header")
}

func TestCommentLinesTolerated(t *testing.T) {
	var buf bytes.Buffer
	good := []byte(`{"jsonrpc":"2.0","method":"ping"}`)
	fmt.Fprintf(&buf, "# a comment\r\nContent-Length: %d\r\n\r\n%s", len(good), good)

	ch := NewChannel(&buf, &buf, nil)
	raw, err := ch.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	assertEqual(t, string(raw), string(good), "message with comment header line")
}

func TestIDEquality(t *testing.T) {
	num1 := NewID(json.RawMessage(`7`))
	num2 := NewID(json.RawMessage(`7.0`))
	str7 := NewID(json.RawMessage(`"7"`))

	if !num1.Equal(num2) {
		t.Errorf("numeric ids 7 and 7.0 should compare equal by JSON value")
	}
	if num1.Equal(str7) {
		t.Errorf("number 7 must not equal string \"7\"")
	}
}
