package gstate

import "errors"

// Collection errors.
var (
	// ErrReadOnly is returned when tracing is requested on a collection
	// that was loaded from a file.
	ErrReadOnly = errors.New("gstate: collection is read-only")

	// ErrTracing is returned when a collection is loaded or warmed up while
	// a trace is active.
	ErrTracing = errors.New("gstate: collection is tracing")

	// ErrNilCollection is reported by a warm-up of a nil collection.
	ErrNilCollection = errors.New("gstate: nil collection")

	// ErrNoCapturer is returned by BeginTrace when no capturer is given.
	ErrNoCapturer = errors.New("gstate: nil capturer")

	// ErrTooLarge is returned when a collection encodes to more than a
	// file may hold. Nothing is written.
	ErrTooLarge = errors.New("gstate: collection too large")
)

// File format errors. Every decode failure wraps one of these.
var (
	// ErrBadMagic is returned when a file does not start with the collection magic.
	ErrBadMagic = errors.New("gstate: not a graphics state collection")

	// ErrUnsupportedFormat is returned for format versions this reader does not know.
	ErrUnsupportedFormat = errors.New("gstate: unsupported format version")

	// ErrChecksum is returned when the trailing checksum does not match.
	ErrChecksum = errors.New("gstate: checksum mismatch")

	// ErrCorrupt is returned for truncated files and malformed records.
	ErrCorrupt = errors.New("gstate: corrupt collection")
)

// Lifecycle errors.
var (
	// ErrLoad wraps the error of a failed load in warm-up mode.
	ErrLoad = errors.New("gstate: load collection")

	// ErrInvalidMode is returned for unknown controller modes.
	ErrInvalidMode = errors.New("gstate: invalid mode")

	// ErrNilBackend is returned when a controller or scheduler has no backend.
	ErrNilBackend = errors.New("gstate: nil backend")

	// ErrAlreadyStarted is returned by a second Controller.Start.
	ErrAlreadyStarted = errors.New("gstate: controller already started")

	// ErrReleased is returned when the tracer no longer holds a collection.
	ErrReleased = errors.New("gstate: collection released")

	// ErrPoolClosed is reported for warm-up units that could not be scheduled.
	ErrPoolClosed = errors.New("gstate: worker pool closed")
)
