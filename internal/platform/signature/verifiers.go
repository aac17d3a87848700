// Package signature holds the webhook signature checks of every external
// provider. All verifiers work on the raw request bytes and never panic; any
// failure is reported as false.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"hash"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Verifier checks header against rawBody using secret.
type Verifier func(rawBody []byte, header, secret string) bool

func mac(newHash func() hash.Hash, secret string, parts ...[]byte) []byte {
	m := hmac.New(newHash, []byte(secret))
	for _, p := range parts {
		m.Write(p)
	}
	return m.Sum(nil)
}

func equalHex(expected []byte, provided string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(provided))
	if err != nil || len(got) == 0 {
		return false
	}
	return hmac.Equal(expected, got)
}

func equalBase64(expected []byte, provided string) bool {
	provided = strings.TrimSpace(provided)
	got, err := base64.StdEncoding.DecodeString(provided)
	if err != nil {
		got, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(provided, "="))
		if err != nil {
			return false
		}
	}
	return len(got) > 0 && hmac.Equal(expected, got)
}

// VerifyMeta checks X-Hub-Signature-256: "sha256=<hex hmac-sha256(body)>".
func VerifyMeta(rawBody []byte, header, secret string) bool {
	if secret == "" {
		return false
	}
	digest, ok := strings.CutPrefix(strings.TrimSpace(header), "sha256=")
	if !ok {
		return false
	}
	return equalHex(mac(sha256.New, secret, rawBody), digest)
}

// VerifyGreenAPI checks a hex HMAC-SHA512 of the body.
func VerifyGreenAPI(rawBody []byte, header, secret string) bool {
	if secret == "" || header == "" {
		return false
	}
	return equalHex(mac(sha512.New, secret, rawBody), header)
}

// VerifyLegacy checks a base64 HMAC-SHA3-256 of the body.
func VerifyLegacy(rawBody []byte, header, secret string) bool {
	if secret == "" || header == "" {
		return false
	}
	return equalBase64(mac(sha3.New256, secret, rawBody), header)
}

// VerifyWave checks Wave-Signature: "t=<unix>,v1=<hex>[,v1=<hex>...]" where
// each v1 is hex(hmac-sha256(t + body)). Any matching v1 is accepted.
func VerifyWave(rawBody []byte, header, secret string) bool {
	if secret == "" || header == "" {
		return false
	}
	var timestamp string
	var candidates []string
	for _, field := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(field), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			timestamp = v
		case "v1":
			candidates = append(candidates, v)
		}
	}
	if timestamp == "" || len(candidates) == 0 {
		return false
	}

	expected := mac(sha256.New, secret, []byte(timestamp), rawBody)
	matched := false
	for _, c := range candidates {
		if equalHex(expected, c) {
			matched = true
		}
	}
	return matched
}

// VerifyOrangeMoney checks a base64 HMAC-SHA256 of the body.
func VerifyOrangeMoney(rawBody []byte, header, secret string) bool {
	if secret == "" || header == "" {
		return false
	}
	return equalBase64(mac(sha256.New, secret, rawBody), header)
}
