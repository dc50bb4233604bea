package catalogue

import "errors"

var (
	ErrNotSupported  = errors.New("catalogue: not supported")
	ErrNotFound      = errors.New("catalogue: not found")
	ErrUnauthorized  = errors.New("catalogue: unauthorized")
	ErrOffline       = errors.New("catalogue: offline")
	ErrRateLimited   = errors.New("catalogue: rate limited")
	ErrTemporary     = errors.New("catalogue: temporary failure")
	ErrInvalidConfig = errors.New("catalogue: invalid config")
)

func IsNotSupported(err error) bool { return errors.Is(err, ErrNotSupported) }
func IsNotFound(err error) bool     { return errors.Is(err, ErrNotFound) }
func IsUnauthorized(err error) bool { return errors.Is(err, ErrUnauthorized) }
func IsOffline(err error) bool      { return errors.Is(err, ErrOffline) }
func IsRateLimited(err error) bool  { return errors.Is(err, ErrRateLimited) }
func IsTemporary(err error) bool    { return errors.Is(err, ErrTemporary) }
