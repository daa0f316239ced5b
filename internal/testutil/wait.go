package testutil

import "time"

// WaitTimeout bounds every blocking helper in this package.
const WaitTimeout = 5 * time.Second

func timeout() <-chan time.Time {
	return time.After(WaitTimeout)
}

// Eventually polls cond every 10ms until it holds or WaitTimeout passes.
func Eventually(cond func() bool) bool {
	deadline := time.Now().Add(WaitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}
