package storage

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/alphauslabs/nfsgw/internal/config"
)

var ErrInvalidOption = errors.New("invalid option")

var (
	compressionModes      = map[string]bool{"none": true, "passive": true, "aggressive": true, "force": true}
	compressionAlgorithms = map[string]bool{"lz4": true, "snappy": true, "zlib": true, "zstd": true}
)

// CompressionSettings validates the bluestore compression options and returns
// the pool settings (ceph osd pool set <pool> <key> <value>) they map to.
//
// The -hdd/-ssd blob size variants are validated but are OSD scoped, so they
// never become pool settings.
func CompressionSettings(c config.Compression) (map[string]string, error) {
	out := map[string]string{}
	if c.Mode != "" {
		if !compressionModes[c.Mode] {
			return nil, fmt.Errorf("%w: bluestore-compression-mode %q", ErrInvalidOption, c.Mode)
		}

		out["compression_mode"] = c.Mode
	}

	if c.Algorithm != "" {
		if !compressionAlgorithms[c.Algorithm] {
			return nil, fmt.Errorf("%w: bluestore-compression-algorithm %q", ErrInvalidOption, c.Algorithm)
		}

		out["compression_algorithm"] = c.Algorithm
	}

	if c.RequiredRatio != "" {
		r, err := strconv.ParseFloat(c.RequiredRatio, 64)
		if err != nil || r <= 0 || r > 1 {
			return nil, fmt.Errorf("%w: bluestore-compression-required-ratio %q, want (0,1]",
				ErrInvalidOption, c.RequiredRatio)
		}

		out["compression_required_ratio"] = c.RequiredRatio
	}

	sizes := []struct {
		name  string
		value string
		key   string // empty: osd scoped
	}{
		{"bluestore-compression-min-blob-size", c.MinBlobSize, "compression_min_blob_size"},
		{"bluestore-compression-min-blob-size-hdd", c.MinBlobSizeHdd, ""},
		{"bluestore-compression-min-blob-size-ssd", c.MinBlobSizeSsd, ""},
		{"bluestore-compression-max-blob-size", c.MaxBlobSize, "compression_max_blob_size"},
		{"bluestore-compression-max-blob-size-hdd", c.MaxBlobSizeHdd, ""},
		{"bluestore-compression-max-blob-size-ssd", c.MaxBlobSizeSsd, ""},
	}

	for _, s := range sizes {
		if s.value == "" {
			continue
		}

		n, err := strconv.ParseUint(s.value, 10, 64)
		if err != nil || n == 0 {
			return nil, fmt.Errorf("%w: %v %q, want a positive integer", ErrInvalidOption, s.name, s.value)
		}

		if s.key != "" {
			out[s.key] = s.value
		}
	}

	return out, nil
}
