// Package errors provides the coded error type used across the node. Every error carries an
// ERR code so callers can classify failures (validation, resource, fatal) without string matching.
package errors

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

type Error struct {
	code       ERR
	message    string
	wrappedErr error
	data       ErrDataI
}

func (e *Error) Error() string {
	// predefined errors are sometimes wrapped as nil
	if e == nil {
		return "<nil>"
	}

	var sb strings.Builder

	fmt.Fprintf(&sb, "Error: %s (error code: %d), Message: %v", e.code, e.code, e.message)

	if e.wrappedErr != nil {
		fmt.Fprintf(&sb, ", Wrapped err: %v", e.wrappedErr)
	}

	if e.data != nil {
		if dataMsg := e.data.Error(); dataMsg != "" {
			sb.WriteString(", Data: ")
			sb.WriteString(dataMsg)
		}
	}

	return sb.String()
}

// Is reports whether err or any error it wraps carries the code of target.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}

	if targetError, ok := target.(*Error); ok && e.code == targetError.code {
		return true
	}

	return e.wrappedErr != nil && errors.Is(e.wrappedErr, target)
}

func (e *Error) As(target interface{}) bool {
	if e == nil {
		return false
	}

	if targetErr, ok := target.(**Error); ok {
		*targetErr = e
		return true
	}

	if e.data != nil {
		if data, ok := e.data.(error); ok && errors.As(data, target) {
			return true
		}
	}

	if e.wrappedErr != nil {
		// a typed nil pointer wraps nothing
		if v := reflect.ValueOf(e.wrappedErr); v.Kind() == reflect.Ptr && v.IsNil() {
			return false
		}

		return errors.As(e.wrappedErr, target)
	}

	return false
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.wrappedErr
}

func (e *Error) Code() ERR {
	if e == nil {
		return ERR_UNKNOWN
	}

	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}

	return e.message
}

func (e *Error) WrappedErr() error {
	if e == nil {
		return nil
	}

	return e.wrappedErr
}

func (e *Error) Data() ErrDataI {
	if e == nil {
		return nil
	}

	return e.data
}

func (e *Error) SetData(key string, value interface{}) {
	if e.data == nil {
		e.data = &ErrData{}
	}

	var data *ErrData
	if errors.As(e.data, &data) {
		data.SetData(key, value)
	}
}

func (e *Error) GetData(key string) interface{} {
	if e.data == nil {
		return nil
	}

	return e.data.GetData(key)
}

// New creates a coded error. When the last param is an error it becomes the wrapped error,
// the remaining params format the message.
func New(code ERR, message string, params ...interface{}) *Error {
	var wErr error

	if len(params) > 0 {
		if err, ok := params[len(params)-1].(error); ok {
			wErr = err
			params = params[:len(params)-1]
		}
	}

	if len(params) > 0 {
		message = fmt.Sprintf(message, params...)
	}

	if _, ok := ERR_name[int32(code)]; !ok {
		return &Error{
			code:       code,
			message:    "invalid error code",
			wrappedErr: wErr,
		}
	}

	return &Error{
		code:       code,
		message:    message,
		wrappedErr: wErr,
	}
}

// joinError keeps the joined errors reachable for Is and As.
type joinError struct {
	errs []error
}

func (j *joinError) Error() string {
	messages := make([]string, len(j.errs))
	for i, err := range j.errs {
		messages[i] = err.Error()
	}

	return strings.Join(messages, ", ")
}

func (j *joinError) Unwrap() []error {
	return j.errs
}

// Join returns an error wrapping the non-nil errs, or nil if there are none.
func Join(errs ...error) error {
	j := &joinError{}

	for _, err := range errs {
		if err != nil {
			j.errs = append(j.errs, err)
		}
	}

	if len(j.errs) == 0 {
		return nil
	}

	return j
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func AsData(err error, target interface{}) bool {
	if castedErr, ok := err.(*Error); ok {
		if castedErr.data != nil && errors.As(castedErr.data, target) {
			return true
		}

		if castedErr.wrappedErr != nil {
			return AsData(castedErr.wrappedErr, target)
		}
	}

	return false
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

// CodeOf returns the code of the outermost *Error in err's chain, or ERR_UNKNOWN.
func CodeOf(err error) ERR {
	var tErr *Error
	if errors.As(err, &tErr) {
		return tErr.Code()
	}

	return ERR_UNKNOWN
}
