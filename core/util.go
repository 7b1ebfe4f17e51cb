package core

import "strconv"

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

func absInt64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
