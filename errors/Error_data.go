package errors

import (
	"encoding/json"
	"fmt"
)

// ErrDataI is an interface for error data that can be set, retrieved, and encoded.
type ErrDataI interface {
	EncodeErrorData() []byte
	Error() string
	GetData(key string) interface{}
	SetData(key string, value interface{})
}

// ErrData is a generic error data structure that implements the ErrDataI interface.
type ErrData map[string]interface{}

func (e *ErrData) Error() string {
	return fmt.Sprintf(" %v", *e)
}

func (e *ErrData) SetData(key string, value interface{}) {
	if e == nil {
		return
	}

	(*e)[key] = value
}

func (e *ErrData) GetData(key string) interface{} {
	if e == nil {
		return nil
	}

	return (*e)[key]
}

// EncodeErrorData encodes the error data as JSON.
func (e *ErrData) EncodeErrorData() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		return []byte{}
	}

	return data
}

// RejectReason carries the height and hash of a rejected block or transaction, so the
// reason can be logged and reported by the query surface.
type RejectReason struct {
	Hash   string `json:"hash"`
	Height uint32 `json:"height,omitempty"`
	Reason string `json:"reason"`
}

func (r *RejectReason) Error() string {
	if r.Height > 0 {
		return fmt.Sprintf("%s at height %d rejected: %s", r.Hash, r.Height, r.Reason)
	}

	return fmt.Sprintf("%s rejected: %s", r.Hash, r.Reason)
}

func (r *RejectReason) SetData(key string, value interface{}) {}

func (r *RejectReason) GetData(key string) interface{} {
	switch key {
	case "hash":
		return r.Hash
	case "height":
		return r.Height
	case "reason":
		return r.Reason
	}

	return nil
}

func (r *RejectReason) EncodeErrorData() []byte {
	data, _ := json.Marshal(r)
	return data
}

// NewRejectedError wraps err with a RejectReason payload.
func NewRejectedError(err error, hash string, height uint32) *Error {
	e, ok := err.(*Error)
	if !ok {
		e = New(ERR_PROCESSING, err.Error())
	}

	return &Error{
		code:       e.code,
		message:    e.message,
		wrappedErr: e.wrappedErr,
		data:       &RejectReason{Hash: hash, Height: height, Reason: e.message},
	}
}
