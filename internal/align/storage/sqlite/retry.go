package sqlite

import (
	"strings"
	"time"
)

// retryOnBusy retries a write operation a few times when SQLite reports the
// database is locked. WAL mode plus busy_timeout covers most contention; this
// handles the residual races between the recorder and admin queries.
func retryOnBusy(fn func() error) error {
	const attempts = 5
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		msg := err.Error()
		if !strings.Contains(msg, "database is locked") && !strings.Contains(msg, "SQLITE_BUSY") {
			return err
		}
		time.Sleep(time.Duration(i+1) * 10 * time.Millisecond)
	}
	return err
}
