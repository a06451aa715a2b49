package repository

import (
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/lib/pq"
)

// IsTransient reports whether err is a database failure worth retrying:
// lost connections, serialization failures, deadlocks and server shutdowns.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		switch {
		case strings.HasPrefix(code, "08"): // connection exception
			return true
		case code == "40001", code == "40P01": // serialization_failure, deadlock_detected
			return true
		case code == "53300": // too_many_connections
			return true
		case code == "57P01", code == "57P02", code == "57P03": // shutdown in progress
			return true
		}
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
