// Package crypto holds the pure, dependency-free cryptographic primitives
// shared by the ingestion credential verifier and the webhook delivery
// signer: HMAC-based request signing, PASETO token verification, and
// secure random secret generation. Nothing in this package logs its inputs.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// SchemeV0 is the legacy compatibility signature scheme.
const SchemeV0 = "v0"

// SchemeV1 is the primary signature scheme: it additionally covers a
// selected set of request headers.
const SchemeV1 = "v1"

// SignedHeaders holds the ordered header name/value pairs signed under v1.
// Names are lowercased before signing and Values is looked up by the
// lowercased name, so Values keys must be lowercase; a header present in
// Names but absent from Values contributes an empty string to the signature.
type SignedHeaders struct {
	Names  []string
	Values map[string]string
}

// Sign computes the outbound Signature header value for payload, signed
// under secret at unix time ts. headers is optional: when empty, only the
// v0 component is emitted. Deterministic and constant in its own control
// flow (no secret-dependent branching).
func Sign(payload []byte, secret []byte, ts int64, headers SignedHeaders) string {
	tsStr := strconv.FormatInt(ts, 10)

	v0 := signV0(tsStr, payload, secret)

	if len(headers.Names) == 0 {
		return fmt.Sprintf("t=%s,v0=%s", tsStr, v0)
	}

	names := normalizeHeaderNames(headers.Names)
	v1 := signV1(tsStr, names, headers.Values, payload, secret)

	return fmt.Sprintf("t=%s,v0=%s,h=%s,v1=%s", tsStr, v0, strings.Join(names, " "), v1)
}

func signV0(tsStr string, payload []byte, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(tsStr))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func signV1(tsStr string, names []string, values map[string]string, payload []byte, secret []byte) string {
	joinedValues := make([]string, len(names))
	for i, name := range names {
		joinedValues[i] = values[name]
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(tsStr))
	mac.Write([]byte("."))
	mac.Write([]byte(strings.Join(names, " ")))
	mac.Write([]byte("."))
	mac.Write([]byte(strings.Join(joinedValues, ".")))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// normalizeHeaderNames lowercases, deduplicates (first occurrence wins) and
// returns the names in their original relative order.
func normalizeHeaderNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		ln := strings.ToLower(n)
		if seen[ln] {
			continue
		}
		seen[ln] = true
		out = append(out, ln)
	}
	return out
}

// ParsedSignature is the decoded form of a Signature header.
type ParsedSignature struct {
	Timestamp int64
	V0        string
	V1        string
	Headers   []string
}

// ParseSignature decodes a `t=...,v0=...,h=...,v1=...` header value.
func ParseSignature(header string) (ParsedSignature, error) {
	var out ParsedSignature
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, val := kv[0], kv[1]
		switch key {
		case "t":
			ts, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return ParsedSignature{}, fmt.Errorf("invalid timestamp in signature: %w", err)
			}
			out.Timestamp = ts
		case "v0":
			out.V0 = val
		case "v1":
			out.V1 = val
		case "h":
			out.Headers = strings.Fields(val)
		}
	}
	if out.Timestamp == 0 || out.V0 == "" {
		return ParsedSignature{}, fmt.Errorf("malformed signature header")
	}
	return out, nil
}

// Verify recomputes both schemes present in sig and compares them in
// constant time against the independently computed values. Returns true
// only if every scheme present in sig matches.
func Verify(sig ParsedSignature, payload []byte, secret []byte, headerValues map[string]string) bool {
	tsStr := strconv.FormatInt(sig.Timestamp, 10)

	wantV0 := signV0(tsStr, payload, secret)
	if subtle.ConstantTimeCompare([]byte(wantV0), []byte(sig.V0)) != 1 {
		return false
	}

	if sig.V1 == "" {
		return true
	}

	names := normalizeHeaderNames(sig.Headers)
	wantV1 := signV1(tsStr, names, headerValues, payload, secret)
	return subtle.ConstantTimeCompare([]byte(wantV1), []byte(sig.V1)) == 1
}

// sortedHeaderNames is a small helper retained for callers that build
// SignedHeaders from a map and want deterministic ordering rather than the
// signer's insertion order.
func sortedHeaderNames(values map[string]string) []string {
	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// SortedSignedHeaders builds a SignedHeaders from a map, signing its keys in
// sorted order for reproducibility.
func SortedSignedHeaders(values map[string]string) SignedHeaders {
	return SignedHeaders{
		Names:  sortedHeaderNames(values),
		Values: values,
	}
}
