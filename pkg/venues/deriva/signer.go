package deriva

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// signPayload builds the canonical parameter string (alphabetically ordered
// key=value pairs joined by &, nonce appended last) and signs it with
// HMAC-SHA256 over the account's signing key. The venue verifies the same
// canonical form, so ordering must be deterministic.
func signPayload(params map[string]string, nonce int64, signingKey string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params[k])
		sb.WriteByte('&')
	}
	sb.WriteString("nonce=")
	sb.WriteString(strconv.FormatInt(nonce, 10))

	mac := hmac.New(sha256.New, []byte(signingKey))
	mac.Write([]byte(sb.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

// nonceSource produces strictly increasing nonces: microsecond timestamps
// with jitter, never repeating and never going backwards even when calls
// land in the same microsecond.
type nonceSource struct {
	mu   sync.Mutex
	last int64
	now  func() int64
}

func newNonceSource(now func() int64) *nonceSource {
	if now == nil {
		now = func() int64 { return time.Now().UnixMicro() }
	}
	return &nonceSource{now: now}
}

func (n *nonceSource) next() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	nonce := n.now() + int64(rand.Intn(100))
	if nonce <= n.last {
		nonce = n.last + 1
	}
	n.last = nonce
	return nonce
}
