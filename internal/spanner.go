package internal

import (
	"context"
	"fmt"

	"cloud.google.com/go/spanner"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

type QuerySpannerSingleInput struct {
	Client   *spanner.Client
	Database string
	Query    string
	Params   map[string]interface{} // if provided, assumed that Query has params
}

// QuerySpannerSingle runs a read-only query using a Single() transaction.
//
// When Client is nil, a local client is created from Database (and opts) and
// closed before returning; otherwise the provided client is used as is.
func QuerySpannerSingle(ctx context.Context, in *QuerySpannerSingleInput, opts ...option.ClientOption) ([]*spanner.Row, error) {
	if in == nil {
		return nil, fmt.Errorf("input is nil")
	}

	client := in.Client
	if client == nil {
		var err error
		client, err = spanner.NewClient(ctx, in.Database, opts...)
		if err != nil {
			return nil, err
		}

		defer client.Close()
	}

	q := spanner.Statement{SQL: in.Query, Params: in.Params}
	iter := client.Single().Query(ctx, q)
	defer iter.Stop()

	ret := []*spanner.Row{}
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			break
		}

		if err != nil {
			return nil, err
		}

		ret = append(ret, row)
	}

	return ret, nil
}
