package service

import (
	"context"
	"database/sql/driver"
	"errors"

	appErrors "github.com/escuela-app/enrollment-api/pkg/errors"
)

// storageError maps a storage failure onto the API taxonomy: timeouts and
// dropped connections are transient (retryable by the caller), everything
// else is internal.
func storageError(err error, message string) *appErrors.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, driver.ErrBadConn) {
		return appErrors.Wrap(err, appErrors.ErrStorageUnavailable.Code, appErrors.ErrStorageUnavailable.Status, message)
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}
