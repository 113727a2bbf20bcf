package services

import (
	"errors"
	"math"

	"geotrail/syncd/internal/constants"
)

var (
	ErrNoFields           = errors.New(constants.MsgNoFields)
	ErrInvalidCoordinates = errors.New(constants.MsgInvalidCoordinates)
	ErrUnknownProvider    = errors.New(constants.MsgUnknownProvider)
)

func validLatitude(lat float64) bool {
	return !math.IsNaN(lat) && lat >= -90 && lat <= 90
}

func validLongitude(lon float64) bool {
	return !math.IsNaN(lon) && lon >= -180 && lon <= 180
}
