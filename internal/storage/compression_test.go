package storage

import (
	"errors"
	"testing"

	"github.com/alphauslabs/nfsgw/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressionSettings(t *testing.T) {
	for _, tc := range []struct {
		name string
		in   config.Compression
		want map[string]string
		bad  bool
	}{
		{name: "empty", in: config.Compression{}, want: map[string]string{}},
		{
			name: "full",
			in: config.Compression{
				Mode:           "aggressive",
				Algorithm:      "zstd",
				RequiredRatio:  "0.875",
				MinBlobSize:    "8192",
				MaxBlobSizeHdd: "65536",
			},
			want: map[string]string{
				"compression_mode":           "aggressive",
				"compression_algorithm":      "zstd",
				"compression_required_ratio": "0.875",
				"compression_min_blob_size":  "8192",
			},
		},
		{name: "bad mode", in: config.Compression{Mode: "sometimes"}, bad: true},
		{name: "bad algorithm", in: config.Compression{Algorithm: "lzma"}, bad: true},
		{name: "ratio too big", in: config.Compression{RequiredRatio: "1.5"}, bad: true},
		{name: "ratio not a number", in: config.Compression{RequiredRatio: "half"}, bad: true},
		{name: "negative blob", in: config.Compression{MinBlobSizeSsd: "-1"}, bad: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := CompressionSettings(tc.in)
			if tc.bad {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidOption))
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
