// Package signature реализует HMAC-SHA256 подписи исходящих запросов к процессору
// и проверку входящих callback'ов с меткой времени.
//
// Подпись всегда считается над теми байтами, которые уходят или пришли по сети,
// без повторной сериализации.
package signature

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
	// ErrMissing — заголовок подписи или метки времени отсутствует.
	ErrMissing = errors.New("signature: missing")
	// ErrMalformed — подпись или метка времени не разбираются.
	ErrMalformed = errors.New("signature: malformed")
	// ErrStale — метка времени за пределами окна свежести.
	ErrStale = errors.New("signature: stale timestamp")
	// ErrMismatch — подпись не совпала.
	ErrMismatch = errors.New("signature: mismatch")
)

// Sign возвращает hex(HMAC-SHA256(secret, body)).
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignTimestamped подписывает строку timestamp + "." + body.
func SignTimestamped(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify сравнивает hex-подпись с ожидаемой за постоянное время.
func Verify(secret string, body []byte, signatureHex string) error {
	if signatureHex == "" {
		return ErrMissing
	}
	return compare(Sign(secret, body), signatureHex)
}

func compare(expectedHex, gotHex string) error {
	got, err := hex.DecodeString(strings.TrimSpace(gotHex))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	expected, _ := hex.DecodeString(expectedHex)
	if !hmac.Equal(expected, got) {
		return ErrMismatch
	}
	return nil
}

// Verifier проверяет подписи с меткой времени в пределах окна свежести.
type Verifier struct {
	secret string
	window time.Duration
	now    func() time.Time
}

// NewVerifier создаёт Verifier. now может быть nil, тогда используется time.Now.
func NewVerifier(secret string, window time.Duration, now func() time.Time) *Verifier {
	if now == nil {
		now = time.Now
	}
	return &Verifier{secret: secret, window: window, now: now}
}

// VerifyTimestamped проверяет подпись над timestamp + "." + body.
// Метка времени в unix-секундах отклоняется, если отличается от текущего
// времени сервера больше чем на окно свежести в любую сторону.
func (v *Verifier) VerifyTimestamped(timestamp, signatureHex string, body []byte) error {
	if timestamp == "" || signatureHex == "" {
		return ErrMissing
	}
	if err := v.checkFreshness(timestamp); err != nil {
		return err
	}
	return compare(SignTimestamped(v.secret, timestamp, body), signatureHex)
}

// VerifyAny проверяет, что хотя бы одна из подписей верна. Используется для
// заголовков, где провайдер присылает несколько подписей при ротации ключа.
func (v *Verifier) VerifyAny(timestamp string, signatures []string, body []byte) error {
	if timestamp == "" || len(signatures) == 0 {
		return ErrMissing
	}
	if err := v.checkFreshness(timestamp); err != nil {
		return err
	}
	expected := SignTimestamped(v.secret, timestamp, body)
	for _, s := range signatures {
		if compare(expected, s) == nil {
			return nil
		}
	}
	return ErrMismatch
}

func (v *Verifier) checkFreshness(timestamp string) error {
	ts, err := strconv.ParseInt(strings.TrimSpace(timestamp), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: timestamp %q", ErrMalformed, timestamp)
	}
	skew := v.now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.window {
		return ErrStale
	}
	return nil
}

// ParseHeader разбирает заголовок вида "t=1700000000,v1=abc,v1=def".
func ParseHeader(header string) (timestamp string, signatures []string, err error) {
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			timestamp = val
		case "v1":
			signatures = append(signatures, val)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, ErrMalformed
	}
	return timestamp, signatures, nil
}
