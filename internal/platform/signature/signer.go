package signature

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"time"

	"golang.org/x/crypto/sha3"
)

// Sign* produce header values accepted by the matching Verify*. They are used
// by channelctl to replay captured webhooks and by tests.

func SignMeta(body []byte, secret string) string {
	return "sha256=" + hex.EncodeToString(mac(sha256.New, secret, body))
}

func SignGreenAPI(body []byte, secret string) string {
	return hex.EncodeToString(mac(sha512.New, secret, body))
}

func SignLegacy(body []byte, secret string) string {
	return base64.StdEncoding.EncodeToString(mac(sha3.New256, secret, body))
}

func SignWave(body []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac(sha256.New, secret, []byte(ts), body))
}

func SignOrangeMoney(body []byte, secret string) string {
	return base64.StdEncoding.EncodeToString(mac(sha256.New, secret, body))
}
