package repositories

import (
	"errors"

	"geotrail/syncd/internal/constants"
)

var (
	ErrPointNotFound    = errors.New(constants.MsgPointNotFound)
	ErrMutationNotFound = errors.New(constants.MsgMutationNotFound)
)
