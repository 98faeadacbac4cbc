package forecast

import "errors"

var (
	// ErrColdStart marks a group with too little history to be modeled.
	ErrColdStart = errors.New("insufficient history for modeling")
	// ErrInsufficientFeatures marks a group whose feature set cannot cover the evaluation window.
	ErrInsufficientFeatures = errors.New("feature set not larger than evaluation window")
	// ErrNoGroupsModeled aborts a run in which every group was skipped or failed.
	ErrNoGroupsModeled = errors.New("no groups modeled")
)
