package utils

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"
	"time"
)

const orderNumberPrefix = "SI-"

// orderNumberChars is the alphabet of the random order number suffix.
const orderNumberChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewOrderNumber returns a human-facing reservation number of the form
// SI-<base36 millisecond timestamp>-<4 random chars>, e.g. SI-M2K1X9QZ-7HQ2.
func NewOrderNumber(now time.Time) (string, error) {
	suffix := make([]byte, 4)
	max := big.NewInt(int64(len(orderNumberChars)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		suffix[i] = orderNumberChars[n.Int64()]
	}
	ts := strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36))
	return orderNumberPrefix + ts + "-" + string(suffix), nil
}
