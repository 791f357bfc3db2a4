package native

import "errors"

// Package errors for the native backend.
var (
	// ErrNilDevice is returned when creating a backend without a device.
	ErrNilDevice = errors.New("native: device is nil")

	// ErrNilLibrary is returned when creating a backend without a shader library.
	ErrNilLibrary = errors.New("native: shader library is nil")

	// ErrUnknownShader is returned for variants naming a shader the library lacks.
	ErrUnknownShader = errors.New("native: unknown shader")

	// ErrUnknownKeyword is returned for keywords no stage of the variant declares.
	ErrUnknownKeyword = errors.New("native: keyword not declared by shader")

	// ErrInvalidKeyword is returned for keywords that are not WGSL identifier suffixes.
	ErrInvalidKeyword = errors.New("native: invalid keyword")

	// ErrShaderCompile is returned when WGSL translation fails.
	ErrShaderCompile = errors.New("native: shader compilation failed")

	// ErrCreatePanic is returned when pipeline creation panics.
	ErrCreatePanic = errors.New("native: pipeline creation panicked")

	// ErrDestroyed is returned after Destroy.
	ErrDestroyed = errors.New("native: backend destroyed")
)
