package peer

import (
	"context"
	"fmt"

	"cloud.google.com/go/spanner"
	"github.com/alphauslabs/nfsgw/internal"
	"google.golang.org/grpc/codes"
)

const latchValue = "initialised"

// SpannerChannel stores the facts as one row of the meta table:
//
//	id      = <cluster>/peer
//	round   = reload nonce
//	value   = "initialised" once the latch is set
//	updated = commit timestamp
type SpannerChannel struct {
	Client  *spanner.Client
	Table   string
	Cluster string
}

var _ Channel = (*SpannerChannel)(nil)

type sPeerT struct {
	Round spanner.NullInt64
	Value spanner.NullString
}

func (s *SpannerChannel) id() string { return s.Cluster + "/peer" }

func toFacts(v sPeerT) Facts {
	var f Facts
	if n := internal.SpannerInt64(v.Round); n > 0 {
		f.ReloadNonce = uint64(n)
	}

	f.PoolInitialised = internal.SpannerString(v.Value) == latchValue
	return f
}

func (s *SpannerChannel) Observe(ctx context.Context) (Facts, error) {
	rows, err := internal.QuerySpannerSingle(ctx, &internal.QuerySpannerSingleInput{
		Client: s.Client,
		Query:  fmt.Sprintf("select round, value from %s where id = @id", s.Table),
		Params: map[string]interface{}{"id": s.id()},
	})

	if err != nil {
		return Facts{}, err
	}

	var f Facts
	for _, row := range rows {
		var v sPeerT
		if err := row.ToStruct(&v); err != nil {
			return f, err
		}

		f = Merge(f, toFacts(v))
	}

	return f, nil
}

// Publish merges f into the stored row within a read-write transaction.
func (s *SpannerChannel) Publish(ctx context.Context, f Facts) error {
	_, err := s.Client.ReadWriteTransaction(ctx,
		func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
			cur := Facts{}
			row, err := txn.ReadRow(ctx, s.Table, spanner.Key{s.id()}, []string{"round", "value"})
			switch {
			case spanner.ErrCode(err) == codes.NotFound:
			case err != nil:
				return err
			default:
				var v sPeerT
				if err := row.ToStruct(&v); err != nil {
					return err
				}

				cur = toFacts(v)
			}

			m := Merge(cur, f)
			if m == cur && row != nil {
				return nil // nothing new
			}

			var value string
			if m.PoolInitialised {
				value = latchValue
			}

			return txn.BufferWrite([]*spanner.Mutation{
				spanner.InsertOrUpdate(s.Table,
					[]string{"id", "round", "value", "updated"},
					[]interface{}{s.id(), int64(m.ReloadNonce), value, spanner.CommitTimestamp},
				),
			})
		},
	)

	return err
}
