package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"strconv"
	"strings"
	"time"
)

// SignatureAlgorithm names a webhook signing scheme.
type SignatureAlgorithm string

const (
	// AlgoHMACSHA256Hex is hex(HMAC-SHA256(secret, body)).
	AlgoHMACSHA256Hex SignatureAlgorithm = "hmac-sha256-hex"
	// AlgoHMACSHA256Base64 is base64(HMAC-SHA256(secret, body)).
	AlgoHMACSHA256Base64 SignatureAlgorithm = "hmac-sha256-base64"
	// AlgoHMACSHA512Hex is hex(HMAC-SHA512(secret, body)).
	AlgoHMACSHA512Hex SignatureAlgorithm = "hmac-sha512-hex"
	// AlgoTimestampedV1 is "t=<unix>,v1=hex(HMAC-SHA256(secret, t + "." + body))".
	AlgoTimestampedV1 SignatureAlgorithm = "timestamped-v1"
)

// DefaultTimestampTolerance bounds the age of a timestamped signature.
const DefaultTimestampTolerance = 5 * time.Minute

// HMACSignatureService implements ports.SignatureService using HMAC-SHA256
// and verifies the provider-specific inbound schemes.
type HMACSignatureService struct {
	tolerance time.Duration
}

// NewHMACSignatureService creates a new HMAC signature service.
func NewHMACSignatureService() *HMACSignatureService {
	return &HMACSignatureService{tolerance: DefaultTimestampTolerance}
}

// Sign computes HMAC-SHA256 of payload using secretKey.
// Returns lowercase hex-encoded signature.
func (s *HMACSignatureService) Sign(secretKey string, payload []byte) string {
	return hex.EncodeToString(mac(sha256.New, secretKey, payload))
}

// Verify checks if signature matches HMAC-SHA256(secretKey, payload).
// Uses constant-time comparison to prevent timing attacks.
func (s *HMACSignatureService) Verify(secretKey string, payload []byte, signature string) bool {
	expected := s.Sign(secretKey, payload)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

// SignTimestamped builds an AlgoTimestampedV1 header value for ts.
func (s *HMACSignatureService) SignTimestamped(secretKey string, payload []byte, ts time.Time) string {
	unix := strconv.FormatInt(ts.Unix(), 10)
	return fmt.Sprintf("t=%s,v1=%s", unix, s.Sign(secretKey, timestampedPayload(unix, payload)))
}

// SignWith computes a signature for the hex/base64 algorithms.
func (s *HMACSignatureService) SignWith(algo SignatureAlgorithm, secretKey string, payload []byte) (string, error) {
	switch algo {
	case AlgoHMACSHA256Hex:
		return s.Sign(secretKey, payload), nil
	case AlgoHMACSHA256Base64:
		return base64.StdEncoding.EncodeToString(mac(sha256.New, secretKey, payload)), nil
	case AlgoHMACSHA512Hex:
		return hex.EncodeToString(mac(sha512.New, secretKey, payload)), nil
	default:
		return "", fmt.Errorf("unsupported signature algorithm %q", algo)
	}
}

// VerifyWith checks header against payload under algo. now is used for the
// timestamp tolerance of AlgoTimestampedV1.
func (s *HMACSignatureService) VerifyWith(algo SignatureAlgorithm, secretKey string, payload []byte, header string, now time.Time) bool {
	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}

	switch algo {
	case AlgoTimestampedV1:
		return s.verifyTimestamped(secretKey, payload, header, now)
	case AlgoHMACSHA256Base64:
		expected, _ := s.SignWith(algo, secretKey, payload)
		return hmac.Equal([]byte(expected), []byte(header))
	case AlgoHMACSHA256Hex, AlgoHMACSHA512Hex:
		expected, _ := s.SignWith(algo, secretKey, payload)
		// Some providers prefix the digest with the algorithm name.
		if i := strings.IndexByte(header, '='); i > 0 && i < 10 {
			header = header[i+1:]
		}
		return hmac.Equal([]byte(expected), []byte(strings.ToLower(header)))
	default:
		return false
	}
}

func (s *HMACSignatureService) verifyTimestamped(secretKey string, payload []byte, header string, now time.Time) bool {
	var ts string
	var candidates []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			candidates = append(candidates, v)
		}
	}
	if ts == "" || len(candidates) == 0 {
		return false
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	age := now.Sub(time.Unix(unix, 0))
	if age < 0 {
		age = -age
	}
	if s.tolerance > 0 && age > s.tolerance {
		return false
	}

	expected := []byte(s.Sign(secretKey, timestampedPayload(ts, payload)))
	for _, c := range candidates {
		if hmac.Equal(expected, []byte(c)) {
			return true
		}
	}
	return false
}

func timestampedPayload(ts string, payload []byte) []byte {
	out := make([]byte, 0, len(ts)+1+len(payload))
	out = append(out, ts...)
	out = append(out, '.')
	return append(out, payload...)
}

func mac(h func() hash.Hash, secretKey string, payload []byte) []byte {
	m := hmac.New(h, []byte(secretKey))
	m.Write(payload)
	return m.Sum(nil)
}
