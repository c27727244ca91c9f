package main

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/alphauslabs/nfsgw/internal/api"
	"github.com/alphauslabs/nfsgw/internal/appdata"
	"github.com/alphauslabs/nfsgw/internal/controller"
	"github.com/alphauslabs/nfsgw/internal/ganesha"
	"github.com/golang/glog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// gateway is what the service needs from the controller.
type gateway interface {
	CreateShare(ctx context.Context, name string, sizeGiB int) (controller.ShareResult, error)
	ListShares(ctx context.Context) (string, error)
	DeleteShare(ctx context.Context, name string) error
	Decommission(ctx context.Context) ([]controller.Result, error)
	Status() controller.Status
}

type service struct {
	ctrl gateway
	app  *appdata.AppData // optional, for leader info
}

var _ api.GatewayServer = (*service)(nil)

func toStatus(err error) error {
	switch {
	case errors.Is(err, controller.ErrNotLeader):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, controller.ErrTerminated):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ganesha.ErrInvalidShare):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ganesha.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	default:
		glog.Errorf("action failed: %v", err)
		return status.Error(codes.Internal, err.Error())
	}
}

// toStruct converts v through its json form.
func toStruct(v interface{}) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	m := map[string]interface{}{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	return structpb.NewStruct(m)
}

func (s *service) CreateShare(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f := in.GetFields()
	size := f["size"].GetNumberValue()
	if size < 0 || size != float64(int(size)) {
		return nil, status.Errorf(codes.InvalidArgument, "size must be a whole number of GiB")
	}

	out, err := s.ctrl.CreateShare(ctx, f["name"].GetStringValue(), int(size))
	if err != nil {
		return nil, toStatus(err)
	}

	return toStruct(out)
}

func (s *service) ListShares(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	out, err := s.ctrl.ListShares(ctx)
	if err != nil {
		return nil, toStatus(err)
	}

	return structpb.NewStruct(map[string]interface{}{"exports": out})
}

func (s *service) DeleteShare(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	name := in.GetFields()["name"].GetStringValue()
	if name == "" {
		return nil, status.Errorf(codes.InvalidArgument, "name is required")
	}

	if err := s.ctrl.DeleteShare(ctx, name); err != nil {
		return nil, toStatus(err)
	}

	return structpb.NewStruct(map[string]interface{}{"message": "Share deleted"})
}

func (s *service) Decommission(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	rs, err := s.ctrl.Decommission(ctx)
	if err != nil {
		return nil, toStatus(err)
	}

	results := []interface{}{}
	for _, r := range rs {
		m := map[string]interface{}{"observer": r.Observer, "outcome": string(r.Outcome)}
		if r.Err != nil {
			m["error"] = r.Err.Error()
		}

		results = append(results, m)
	}

	return structpb.NewStruct(map[string]interface{}{"results": results})
}

func (s *service) Status(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return toStruct(s.status())
}

type nodeStatus struct {
	controller.Status
	CurrentLeader string `json:"currentLeader,omitempty"`
}

func (s *service) status() nodeStatus {
	out := nodeStatus{Status: s.ctrl.Status()}
	if s.app != nil {
		out.CurrentLeader = s.app.Leader()
	}

	return out
}
