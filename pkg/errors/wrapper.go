package errors

import "errors"

// As re-exports the stdlib helper so callers only import one errors package.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
