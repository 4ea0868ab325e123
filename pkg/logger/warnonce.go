package logger

import "sync"

// maxWarnSignatures caps the dedup table so a stream of unique malformed
// payloads cannot grow memory without bound. When full, further unseen
// signatures log normally without being recorded.
const maxWarnSignatures = 4096

var (
	warnMu   sync.Mutex
	warnSeen = make(map[string]struct{})
)

// WarnOnce logs msg at Warn level the first time the given signature is
// observed and suppresses subsequent calls with the same signature.
func WarnOnce(signature, msg string, args ...any) {
	warnMu.Lock()
	if _, ok := warnSeen[signature]; ok {
		warnMu.Unlock()
		return
	}
	if len(warnSeen) < maxWarnSignatures {
		warnSeen[signature] = struct{}{}
	}
	warnMu.Unlock()
	Warn(msg, args...)
}

// ResetWarnOnce clears the dedup table. Intended for tests.
func ResetWarnOnce() {
	warnMu.Lock()
	warnSeen = make(map[string]struct{})
	warnMu.Unlock()
}
