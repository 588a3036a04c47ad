package entity

import (
	"fmt"
	"strconv"

	"github.com/orgware/owconnect/internal/common"
)

// NextCode returns the code following last, zero-padded to length.
// An empty last starts the sequence at 1.
func NextCode(last string, length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid code length %d", length)
	}

	next := 1
	if last != "" {
		n, err := strconv.Atoi(last)
		if err != nil || n < 0 {
			return "", fmt.Errorf("unparsable code %q", last)
		}
		next = n + 1
	}

	code := fmt.Sprintf("%0*d", length, next)
	if len(code) > length {
		return "", fmt.Errorf("next code after %q: %w", last, common.ErrCodeOverflow)
	}
	return code, nil
}
