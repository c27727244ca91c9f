package internal

import (
	"cloud.google.com/go/spanner"
)

var (
	SpannerString = func(s spanner.NullString) string {
		switch {
		case !s.IsNull():
			return s.StringVal
		default:
			return ""
		}
	}

	SpannerInt64 = func(v spanner.NullInt64) int64 {
		switch {
		case v.Valid:
			return v.Int64
		default:
			return 0
		}
	}
)
