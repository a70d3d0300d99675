package sos

import "errors"

var (
	ErrNotFound            = errors.New("sos marker not found")
	ErrNotActive           = errors.New("sos marker is not active")
	ErrNotCreator          = errors.New("only the creator can complete the request")
	ErrCooldownActive      = errors.New("sos cooldown has not elapsed")
	ErrActiveRequestExists = errors.New("device already has an active sos request")
	ErrAlreadyResponded    = errors.New("device already responded to this sos")
	ErrResponderBusy       = errors.New("device already has an active response")
	ErrCapacityReached     = errors.New("sos already has the maximum number of responders")
	ErrResponseNotFound    = errors.New("sos response not found")
	ErrMarkerGone          = errors.New("sos marker no longer exists remotely")
)
