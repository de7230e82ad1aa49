package providers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	errSigHeader  = errors.New("unparseable signature header")
	errSigExpired = errors.New("signature timestamp outside tolerance")
	errSigNoMatch = errors.New("no matching v1 signature")
)

// Sign returns the "t=<unix>,v1=<hex hmac-sha256(t.body)>" header value.
// Stripe-Signature uses the same layout, so it signs test payloads for both adapters.
func Sign(secret string, ts time.Time, body []byte) string {
	t := ts.Unix()
	return fmt.Sprintf("t=%d,v1=%s", t, computeSig([]byte(secret), t, body))
}

func computeSig(secret []byte, t int64, body []byte) string {
	m := hmac.New(sha256.New, secret)
	m.Write([]byte(strconv.FormatInt(t, 10)))
	m.Write([]byte("."))
	m.Write(body)
	return hex.EncodeToString(m.Sum(nil))
}

func verifySig(header, secret string, body []byte, tolerance time.Duration, now time.Time) error {
	var (
		ts   int64
		have bool
		sigs []string
	)
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return errSigHeader
			}
			ts, have = n, true
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if !have || len(sigs) == 0 {
		return errSigHeader
	}

	if tolerance > 0 {
		skew := now.Sub(time.Unix(ts, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > tolerance {
			return errSigExpired
		}
	}

	want := []byte(computeSig([]byte(secret), ts, body))
	for _, s := range sigs {
		if hmac.Equal(want, []byte(s)) {
			return nil
		}
	}
	return errSigNoMatch
}
