package overlay

import "errors"

var (
	// ErrInvalidItem is returned by New for an item it cannot bind.
	ErrInvalidItem = errors.New("overlay: invalid item")

	// ErrLoadFailed is returned by Initialize when the document cannot be loaded.
	ErrLoadFailed = errors.New("overlay: loading document failed")
)
