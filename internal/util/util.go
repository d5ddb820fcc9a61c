package util

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// GenRandomString returns d followed by n securely generated random bytes,
// URL-safe base64 encoded.
func GenRandomString(d []byte, n int) string {
	b := append(d, GenRandomBytes(n)...)
	return encode(b)
}

// GenRandomBytes returns n bytes from the system's secure random number
// generator. It panics if the generator fails, in which case the caller
// should not continue.
func GenRandomBytes(n int) []byte {
	b := make([]byte, n)
	_, err := rand.Read(b)
	if err != nil {
		panic(err)
	}
	return b
}

func encode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func JsonWrite(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		panic(err)
	}
}

func GenUUID() string {
	x, err := uuid.NewRandom()
	if err != nil {
		panic(err)
	}
	return x.String()
}
