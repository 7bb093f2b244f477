// Package indicators provides technical analysis indicators over float64
// price series.
package indicators

import "errors"

var ErrNotEnoughData = errors.New("indicators: not enough data")
