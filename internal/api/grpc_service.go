package api

import (
	"context"
	"strings"

	"messhall/internal/service"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	mealServiceName       = "messhall.v1.MealService"
	methodGetAvailability = "/" + mealServiceName + "/GetAvailability"
	methodListMeals       = "/" + mealServiceName + "/ListMeals"
	permReadAvailability  = "read:availability"
	permReadMeals         = "read:meals"
)

// MealServiceServer serves read-only meal data. Messages are
// google.protobuf.Struct so no generated stubs are needed.
type MealServiceServer interface {
	GetAvailability(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListMeals(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var mealServiceDesc = grpc.ServiceDesc{
	ServiceName: mealServiceName,
	HandlerType: (*MealServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetAvailability", Handler: unaryHandler(methodGetAvailability, MealServiceServer.GetAvailability)},
		{MethodName: "ListMeals", Handler: unaryHandler(methodListMeals, MealServiceServer.ListMeals)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "messhall/v1/meal.proto",
}

func unaryHandler(fullMethod string, call func(MealServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(MealServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(MealServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// RegisterMealServiceServer attaches impl to s.
func RegisterMealServiceServer(s grpc.ServiceRegistrar, impl MealServiceServer) {
	s.RegisterService(&mealServiceDesc, impl)
}

type MealService struct {
	catalog *service.CatalogService
}

func NewMealService(catalog *service.CatalogService) *MealService {
	return &MealService{catalog: catalog}
}

// GetAvailability expects {"meal_id": <number>}.
func (s *MealService) GetAvailability(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	v, ok := req.GetFields()["meal_id"]
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "meal_id is required")
	}
	id := int64(v.GetNumberValue())
	if id <= 0 {
		return nil, status.Error(codes.InvalidArgument, "meal_id must be positive")
	}

	a, err := s.catalog.GetAvailability(ctx, id)
	if err != nil {
		return nil, grpcError(err)
	}

	return structpb.NewStruct(map[string]any{
		"meal_id":      float64(a.MealID),
		"date":         a.Date.Format(dateLayout),
		"slot":         string(a.Slot),
		"capacity":     float64(a.Capacity),
		"booked":       float64(a.Booked),
		"available":    float64(a.Available),
		"is_available": a.IsAvailable,
	})
}

// ListMeals expects {"date": "YYYY-MM-DD"}.
func (s *MealService) ListMeals(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	raw := strings.TrimSpace(req.GetFields()["date"].GetStringValue())
	if raw == "" {
		return nil, status.Error(codes.InvalidArgument, "date is required")
	}
	date, err := parseDate(raw)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	meals, err := s.catalog.ListMeals(ctx, date)
	if err != nil {
		return nil, grpcError(err)
	}

	out := make([]any, 0, len(meals))
	for _, m := range meals {
		out = append(out, map[string]any{
			"id":           float64(m.ID),
			"slot":         string(m.Slot),
			"name":         m.Name,
			"price":        m.Price.StringFixed(2),
			"capacity":     float64(m.Capacity),
			"booked":       float64(m.BookedCount),
			"available":    float64(m.Remaining()),
			"is_available": m.IsAvailable,
		})
	}
	return structpb.NewStruct(map[string]any{"date": raw, "meals": out})
}
