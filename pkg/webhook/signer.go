package webhook

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries "t=<unix seconds>,v1=<hex hmac>". The HMAC-SHA256
// covers "<t>.<body>" so a captured request cannot be replayed later.
const SignatureHeader = "X-Campaignflow-Signature"

// DefaultTolerance is the accepted clock skew between sender and receiver.
const DefaultTolerance = 5 * time.Minute

var (
	ErrMalformedSignature = errors.New("malformed signature header")
	ErrSignatureExpired   = errors.New("signature timestamp outside tolerance")
	ErrSignatureMismatch  = errors.New("signature mismatch")
)

func mac(secret string, ts int64, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(strconv.FormatInt(ts, 10)))
	h.Write([]byte{'.'})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Sign returns the signature header value for payload sent at now.
func Sign(secret string, payload []byte, now time.Time) string {
	ts := now.Unix()
	return "t=" + strconv.FormatInt(ts, 10) + ",v1=" + mac(secret, ts, payload)
}

// Verify checks header against payload. A zero tolerance disables the age
// check.
func Verify(secret string, payload []byte, header string, tolerance time.Duration, now time.Time) error {
	var (
		ts   int64
		sigs []string
		err  error
	)
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return ErrMalformedSignature
		}
		switch k {
		case "t":
			if ts, err = strconv.ParseInt(v, 10, 64); err != nil {
				return ErrMalformedSignature
			}
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts == 0 || len(sigs) == 0 {
		return ErrMalformedSignature
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(ts, 0))
		if age > tolerance || age < -tolerance {
			return ErrSignatureExpired
		}
	}
	expected := []byte(mac(secret, ts, payload))
	// Several v1 entries are accepted while a secret is being rotated.
	for _, s := range sigs {
		if hmac.Equal(expected, []byte(s)) {
			return nil
		}
	}
	return ErrSignatureMismatch
}

// GenerateSecret returns a random 32-byte secret, hex encoded.
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
