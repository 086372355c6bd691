package common

import "fmt"

// StoreErrType ...
type StoreErrType uint32

const (
	// KeyNotFound ...
	KeyNotFound StoreErrType = iota
	// KeyAlreadyExists ...
	KeyAlreadyExists
	// Empty ...
	Empty
	// IOError is returned when the underlying database fails. It is local to
	// the node and does not reflect on the validity of the data.
	IOError
	// QuotaExceeded is returned when a write would take the store above its
	// configured storage quota.
	QuotaExceeded
)

// StoreErr ...
type StoreErr struct {
	dataType string
	errType  StoreErrType
	key      string
}

// NewStoreErr ...
func NewStoreErr(dataType string, errType StoreErrType, key string) StoreErr {
	return StoreErr{
		dataType: dataType,
		errType:  errType,
		key:      key,
	}
}

// Error ...
func (e StoreErr) Error() string {
	m := ""
	switch e.errType {
	case KeyNotFound:
		m = "Not Found"
	case KeyAlreadyExists:
		m = "Key Already Exists"
	case Empty:
		m = "Empty"
	case IOError:
		m = "Storage IO Error"
	case QuotaExceeded:
		m = "Quota Exceeded"
	}
	return fmt.Sprintf("%s, %s, %s", e.dataType, e.key, m)
}

// Type returns the StoreErrType of the error.
func (e StoreErr) Type() StoreErrType {
	return e.errType
}

// IsStore checks that an error is of type StoreErr and that it's code matches
// the provided StoreErr code.
func IsStore(err error, t StoreErrType) bool {
	storeErr, ok := err.(StoreErr)
	return ok && storeErr.errType == t
}
