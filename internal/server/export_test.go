package server

import "time"

// SetWSPollInterval shortens the websocket reminder poll for tests and
// returns the previous value.
func SetWSPollInterval(d time.Duration) time.Duration {
	old := wsPollInterval
	wsPollInterval = d
	return old
}
