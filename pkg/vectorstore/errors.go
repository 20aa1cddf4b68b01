package vectorstore

import "errors"

// Sentinel errors for collection lifecycle operations. Callers match
// with errors.Is.
var (
	// ErrNotFound indicates the named collection does not exist.
	ErrNotFound = errors.New("vectorstore: collection not found")
	// ErrAlreadyExists indicates a collection with that name exists.
	ErrAlreadyExists = errors.New("vectorstore: collection already exists")
	// ErrInUse indicates the collection is active and cannot be deleted.
	ErrInUse = errors.New("vectorstore: collection is active")
	// ErrNoActiveCollection indicates no collection is marked active.
	ErrNoActiveCollection = errors.New("vectorstore: no active collection")
	// ErrInvalidDimension indicates a non-positive dimensionality.
	ErrInvalidDimension = errors.New("vectorstore: invalid dimension")
	// ErrInvalidName indicates a collection name failing validation.
	ErrInvalidName = errors.New("vectorstore: invalid collection name")
	// ErrDimensionMismatch indicates a vector whose length does not match
	// the collection's dimensionality.
	ErrDimensionMismatch = errors.New("vectorstore: vector dimension mismatch")
)
