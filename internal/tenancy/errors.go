package tenancy

import "errors"

var (
	ErrNotFound           = errors.New("tenancy: not found")
	ErrAlreadyExists      = errors.New("tenancy: already exists")
	ErrInvalidState       = errors.New("tenancy: invalid state")
	ErrInvalidArgument    = errors.New("tenancy: invalid argument")
	ErrPermissionDenied   = errors.New("tenancy: permission denied")
	ErrTokenInvalid       = errors.New("tenancy: invitation token invalid")
	ErrTokenExpired       = errors.New("tenancy: invitation token expired")
	ErrAlreadyAccepted    = errors.New("tenancy: invitation already accepted")
	ErrInvalidCredentials = errors.New("tenancy: invalid credentials")
)
