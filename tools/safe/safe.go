package safe

import (
	"github.com/lexport/chatlink/logger"
)

// Go starts a goroutine that recovers from panics so a misbehaving listener
// or timer callback cannot take down the host process.
func Go(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[safe] panic recovered: %v", r)
			}
		}()
		f()
	}()
}

// Call invokes f synchronously with the same panic isolation. Returns true
// when f completed without panicking.
func Call(f func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[safe] panic recovered: %v", r)
			ok = false
		}
	}()
	f()
	return true
}
