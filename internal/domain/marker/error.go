package marker

import "errors"

var (
	ErrNotFound     = errors.New("marker not found")
	ErrInvalidType  = errors.New("unknown marker type")
	ErrOwnMarker    = errors.New("cannot vote on own marker")
	ErrAlreadyVoted = errors.New("device already voted on this marker")
)
