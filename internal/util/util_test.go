package util

import (
	"encoding/base64"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGenRandomString(t *testing.T) {
	prefix := []byte{1, 2, 3, 4}
	s := GenRandomString(prefix, 24)
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 28 || b[0] != 1 || b[3] != 4 {
		t.Fatalf("decoded %v", b)
	}
	if GenRandomString(nil, 24) == GenRandomString(nil, 24) {
		t.Fatal("random strings repeat")
	}
}

func TestGenUUID(t *testing.T) {
	a, b := GenUUID(), GenUUID()
	if len(a) != 36 || a == b {
		t.Fatalf("uuids %q %q", a, b)
	}
}

func TestJsonWrite(t *testing.T) {
	rec := httptest.NewRecorder()
	JsonWrite(rec, map[string]int{"n": 1})
	if rec.Header().Get("Content-Type") != "application/json" || strings.TrimSpace(rec.Body.String()) != `{"n":1}` {
		t.Fatalf("wrote %q", rec.Body.String())
	}
}
