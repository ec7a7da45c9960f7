package domain

import "errors"

// ErrNumberUsed indicates the phone number was already claimed.
var ErrNumberUsed = errors.New("phone number already used")

// ErrCountryNotSupported indicates no configured country matches the
// number's dialing code.
var ErrCountryNotSupported = errors.New("country not supported")

// ErrNoCapacity indicates the matched country has no remaining capacity.
var ErrNoCapacity = errors.New("country capacity exhausted")

// ErrInvalidPhoneNumber indicates the submitted number failed validation.
var ErrInvalidPhoneNumber = errors.New("invalid phone number")

// ErrNoActiveLogin indicates no login flow is in progress for the user.
var ErrNoActiveLogin = errors.New("no active login flow")

// ErrTooManyStates indicates the login state table is at capacity.
var ErrTooManyStates = errors.New("too many concurrent login flows")

// ErrTooManyTasks indicates the background task table is at capacity.
var ErrTooManyTasks = errors.New("too many background verifications")

// ErrDeviceCountUnknown indicates the authorized device count could not
// be determined. Treated as a blocking outcome by the reward policy.
var ErrDeviceCountUnknown = errors.New("device count unknown")

// ErrEmptySession indicates a session credential file is missing or empty.
var ErrEmptySession = errors.New("session file missing or empty")

// ErrNotFound is a generic missing-document error for repositories.
var ErrNotFound = errors.New("not found")
