package writer

import "fmt"

// DeviceStateError means the device was not in a writable state.
type DeviceStateError struct {
	Device string
	Reason string
	Err    error
}

func (e *DeviceStateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("device %s %s: %v", e.Device, e.Reason, e.Err)
	}
	return fmt.Sprintf("device %s %s", e.Device, e.Reason)
}

func (e *DeviceStateError) Unwrap() error { return e.Err }

// WriteFailure is a fatal chunk write error. Offset is the number of bytes
// durably handed to the device before the failing chunk.
type WriteFailure struct {
	Device string
	Offset int64
	Chunk  int
	Err    error
}

func (e *WriteFailure) Error() string {
	return fmt.Sprintf("write to %s failed at offset %d (chunk %d): %v", e.Device, e.Offset, e.Chunk, e.Err)
}

func (e *WriteFailure) Unwrap() error { return e.Err }

// VerifyError reports a read-back mismatch.
type VerifyError struct {
	Device string
	Offset int64
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("read-back of %s differs from image at offset %d", e.Device, e.Offset)
}
