package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")
	ErrTimeout            = fmt.Errorf("operation timed out")

	// Library errors
	ErrCollectionNotFound = fmt.Errorf("collection not found")
	ErrItemNotFound       = fmt.Errorf("item not found")
	ErrNoInputs           = fmt.Errorf("no input files found")
	ErrJobNotFound        = fmt.Errorf("job not found")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrInvalidPath     = fmt.Errorf("path escapes storage root")
)
