package apitest

import (
	"crypto/rand"
	"sync"
	"time"
)

const (
	otpDigits = 6
	otpTTL    = 5 * time.Minute
)

// generateOTP returns a 6-digit numeric OTP using crypto/rand.
func generateOTP() (string, error) {
	b := make([]byte, otpDigits)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	s := make([]byte, otpDigits)
	for i := 0; i < otpDigits; i++ {
		s[i] = '0' + (b[i] % 10)
	}
	return string(s), nil
}

type otpEntry struct {
	hash      string
	plain     string
	expiresAt time.Time
}

// otpOutbox holds outstanding OTPs by purpose and phone. The plain code is kept
// only so tests and the dev API can read what would have been sent by SMS.
type otpOutbox struct {
	mu   sync.Mutex
	m    map[string]otpEntry
	nowF func() time.Time
}

func newOTPOutbox(nowF func() time.Time) *otpOutbox {
	return &otpOutbox{m: make(map[string]otpEntry), nowF: nowF}
}

func otpKey(purpose, phone string) string { return purpose + ":" + phone }

func (o *otpOutbox) put(purpose, phone, code string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.m[otpKey(purpose, phone)] = otpEntry{hash: hashToken(code), plain: code, expiresAt: o.nowF().Add(otpTTL)}
}

// consume checks code and deletes the entry on success.
func (o *otpOutbox) consume(purpose, phone, code string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	k := otpKey(purpose, phone)
	e, ok := o.m[k]
	if !ok || !e.expiresAt.After(o.nowF()) {
		delete(o.m, k)
		return false
	}
	if !hashEqual(code, e.hash) {
		return false
	}
	delete(o.m, k)
	return true
}

func (o *otpOutbox) peek(purpose, phone string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.m[otpKey(purpose, phone)]
	if !ok || !e.expiresAt.After(o.nowF()) {
		return "", false
	}
	return e.plain, true
}
