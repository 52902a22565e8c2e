package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ByteSize is a size in bytes that decodes from "512", "100KB", "5MB" or "1GB".
type ByteSize int64

// Size units.
const (
	KB ByteSize = 1024
	MB          = 1024 * KB
	GB          = 1024 * MB
)

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *ByteSize) UnmarshalText(text []byte) error {
	n, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = n
	return nil
}

// ParseByteSize parses a size with an optional B, KB, MB or GB suffix.
func ParseByteSize(s string) (ByteSize, error) {
	val := strings.ToUpper(strings.TrimSpace(s))
	if n, err := strconv.ParseInt(val, 10, 64); err == nil {
		return ByteSize(n), nil
	}

	// Longest suffixes first so that "MB" is not read as "B".
	for _, u := range []struct {
		suffix string
		mult   ByteSize
	}{{"GB", GB}, {"MB", MB}, {"KB", KB}, {"B", 1}} {
		if num, found := strings.CutSuffix(val, u.suffix); found {
			f, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
			if err != nil || f < 0 {
				break
			}
			return ByteSize(f * float64(u.mult)), nil
		}
	}

	return 0, fmt.Errorf("%w: size %q", ErrInvalidConfig, s)
}

// String renders the size in the largest whole unit.
func (b ByteSize) String() string {
	switch {
	case b >= GB && b%GB == 0:
		return strconv.FormatInt(int64(b/GB), 10) + "GB"
	case b >= MB && b%MB == 0:
		return strconv.FormatInt(int64(b/MB), 10) + "MB"
	case b >= KB && b%KB == 0:
		return strconv.FormatInt(int64(b/KB), 10) + "KB"
	default:
		return strconv.FormatInt(int64(b), 10) + "B"
	}
}
