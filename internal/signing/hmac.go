// Package signing authenticates traffic between the service and the chat
// gateway with an HMAC-SHA256 over "<unix timestamp>.<body>".
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"net/http"
	"strconv"
	"time"
)

const (
	HeaderTimestamp = "X-MediaRelay-Timestamp"
	HeaderSignature = "X-MediaRelay-Signature"
)

func Sign(secret string, payload []byte) (signature string, timestamp int64) {
	timestamp = time.Now().Unix()
	return signAt(secret, payload, timestamp), timestamp
}

func signAt(secret string, payload []byte, timestamp int64) string {
	s := newSignerAt(secret, timestamp)
	s.mac.Write(payload)
	return s.Signature()
}

// Signer computes the Sign signature over a body written in pieces, for
// payloads too large to hold in memory.
type Signer struct {
	mac       hash.Hash
	timestamp int64
}

func NewSigner(secret string) *Signer {
	return newSignerAt(secret, time.Now().Unix())
}

func newSignerAt(secret string, timestamp int64) *Signer {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	return &Signer{mac: mac, timestamp: timestamp}
}

func (s *Signer) Write(p []byte) (int, error) { return s.mac.Write(p) }

func (s *Signer) Signature() string {
	return fmt.Sprintf("v1=%s", hex.EncodeToString(s.mac.Sum(nil)))
}

// Apply sets the timestamp and signature headers for everything written so far.
func (s *Signer) Apply(req *http.Request) {
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(s.timestamp, 10))
	req.Header.Set(HeaderSignature, s.Signature())
}

func Verify(secret string, payload []byte, timestamp int64, signature string) bool {
	expected := signAt(secret, payload, timestamp)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// SignRequest sets the timestamp and signature headers on req for payload.
func SignRequest(req *http.Request, secret string, payload []byte) {
	sig, ts := Sign(secret, payload)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, sig)
}

// VerifyRequest checks the signature headers of an inbound request against
// its body and rejects timestamps further than tolerance from now.
func VerifyRequest(r *http.Request, secret string, body []byte, tolerance time.Duration) bool {
	ts, err := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		return false
	}
	skew := time.Since(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if tolerance > 0 && skew > tolerance {
		return false
	}
	return Verify(secret, body, ts, r.Header.Get(HeaderSignature))
}
