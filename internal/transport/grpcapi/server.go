package grpcapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/fulfillment/internal/auth"
	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/idempotency"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/ordering"
	"github.com/vladislavdragonenkov/fulfillment/internal/transport/apiview"
)

const (
	metadataAPIKey         = "x-api-key"
	metadataIdempotencyKey = "idempotency-key"

	operationCreateOrder = "CreateOrder"
)

// KeyAuthenticator проверяет API-ключ интеграции.
type KeyAuthenticator interface {
	Authenticate(ctx context.Context, raw string) (domain.Principal, error)
}

// Server реализует ExternalOrderServer поверх сервиса заказов.
type Server struct {
	orders      *ordering.Service
	keys        KeyAuthenticator
	requestLogs domain.APIRequestLogRepository
	idempotency *idempotency.Guard
	logger      *log.Entry
	now         func() time.Time
}

// NewServer создаёт gRPC-адаптер. requestLogs и guard могут быть nil.
func NewServer(
	orders *ordering.Service,
	keys KeyAuthenticator,
	requestLogs domain.APIRequestLogRepository,
	guard *idempotency.Guard,
	logger *log.Entry,
) *Server {
	if logger == nil {
		logger = log.WithField("component", "grpc")
	}
	return &Server{
		orders:      orders,
		keys:        keys,
		requestLogs: requestLogs,
		idempotency: guard,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrder создаёт заказ. Метаданные idempotency-key включают
// повтор сохранённого ответа.
func (s *Server) CreateOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, ok := auth.PrincipalFrom(ctx)
	if !ok {
		return nil, s.toStatus(ctx, domain.ErrUnauthenticated)
	}
	hashInput, err := proto.MarshalOptions{Deterministic: true}.Marshal(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "request is not serializable")
	}

	resp, replayed, err := s.idempotency.Do(
		ctx,
		caller.ID,
		firstMetadata(ctx, metadataIdempotencyKey),
		idempotency.RequestHash(operationCreateOrder, hashInput),
		func(ctx context.Context) idempotency.Response {
			var in ordering.CreateInput
			if err := decodeStruct(req, &in); err != nil {
				return s.failure(ctx, err)
			}
			details, err := s.orders.Create(ctx, caller, in)
			if err != nil {
				return s.failure(ctx, err)
			}
			return success(apiview.NewOrder(details, nil))
		},
	)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	if replayed {
		_ = grpc.SetHeader(ctx, metadata.Pairs("idempotent-replayed", "true"))
	}
	return replay(resp)
}

// GetOrder возвращает заказ по полю id.
func (s *Server) GetOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, ok := auth.PrincipalFrom(ctx)
	if !ok {
		return nil, s.toStatus(ctx, domain.ErrUnauthenticated)
	}
	id := strings.TrimSpace(req.GetFields()["id"].GetStringValue())
	if id == "" {
		return nil, s.toStatus(ctx, domain.NewValidationError("id", "is required"))
	}

	details, err := s.orders.Get(ctx, caller, id)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	history, err := s.orders.History(ctx, caller, id)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return toStruct(apiview.NewOrder(details, history))
}

// ListOrders возвращает страницу заказов. Поля запроса совпадают
// с параметрами GET /api/external/orders.
func (s *Server) ListOrders(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, ok := auth.PrincipalFrom(ctx)
	if !ok {
		return nil, s.toStatus(ctx, domain.ErrUnauthenticated)
	}
	filter, err := apiview.ParseOrderFilter(structValues(req))
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	page, err := s.orders.List(ctx, caller, filter)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return toStruct(apiview.NewPage(page, apiview.NewOrderSummary))
}

// UnaryInterceptor аутентифицирует вызовы сервиса по x-api-key и пишет
// их в журнал внешних запросов. Вызовы других сервисов проходят как есть.
func (s *Server) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !strings.HasPrefix(info.FullMethod, "/"+ServiceName+"/") {
			return handler(ctx, req)
		}
		start := time.Now()

		raw := firstMetadata(ctx, metadataAPIKey)
		if raw == "" || s.keys == nil {
			return nil, s.toStatus(ctx, domain.ErrUnauthenticated)
		}
		caller, err := s.keys.Authenticate(ctx, raw)
		if err != nil {
			return nil, s.toStatus(ctx, err)
		}
		ctx = auth.WithPrincipal(ctx, caller)

		resp, err := handler(ctx, req)
		s.record(ctx, caller, info.FullMethod, req, resp, err, start)
		return resp, err
	}
}

func (s *Server) record(ctx context.Context, caller domain.Principal, method string, req, resp any, callErr error, start time.Time) {
	if s.requestLogs == nil {
		return
	}
	var respBody string
	if callErr != nil {
		respBody = status.Convert(callErr).Message()
	} else {
		respBody = marshalMessage(resp)
	}
	entry := domain.APIRequestLog{
		ID:           uuid.NewString(),
		APIKeyID:     caller.ID,
		MerchantID:   caller.MerchantID,
		Method:       "GRPC",
		Path:         method,
		StatusCode:   httpStatus(status.Code(callErr)),
		LatencyMs:    time.Since(start).Milliseconds(),
		RequestBody:  apiview.Truncate(marshalMessage(req), apiview.MaxLoggedBody),
		ResponseBody: apiview.Truncate(respBody, apiview.MaxLoggedBody),
		ClientIP:     peerIP(ctx),
		CreatedAt:    s.now(),
	}
	if err := s.requestLogs.Append(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.WithError(err).WithField("api_key_id", caller.ID).Warn("failed to record external api call")
	}
}

// toStatus: единственное место, где ошибки сервисов превращаются в gRPC-статус.
func (s *Server) toStatus(ctx context.Context, err error) error {
	problem := apiview.Classify(err)
	if problem.Internal() {
		method, _ := grpc.Method(ctx)
		s.logger.WithError(err).WithField("method", method).Error("grpc request failed")
	}
	return statusFromProblem(problem.Status, problem.Body)
}

func (s *Server) failure(ctx context.Context, err error) idempotency.Response {
	problem := apiview.Classify(err)
	if problem.Internal() {
		s.logger.WithError(err).WithField("method", methodCreateOrder).Error("grpc request failed")
	}
	body, _ := json.Marshal(problem.Body)
	return idempotency.Failure(problem.Status, body, err)
}

func success(view any) idempotency.Response {
	body, err := json.Marshal(view)
	if err != nil {
		body, _ = json.Marshal(apiview.ErrorBody{Error: apiview.CodeInternal, Message: "internal server error"})
		return idempotency.Failure(http.StatusInternalServerError, body, err)
	}
	return idempotency.Response{Status: http.StatusOK, Body: body}
}

// replay превращает сохранённый ответ в gRPC-ответ. Status хранится
// в HTTP-семантике, чтобы REST и gRPC отдавали одинаковые ошибки.
func replay(resp idempotency.Response) (*structpb.Struct, error) {
	if resp.Failed {
		var body apiview.ErrorBody
		if err := json.Unmarshal(resp.Body, &body); err != nil {
			return nil, status.Error(codes.Internal, "internal server error")
		}
		return nil, statusFromProblem(resp.Status, body)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(resp.Body, out); err != nil {
		return nil, status.Error(codes.Internal, "internal server error")
	}
	return out, nil
}

func statusFromProblem(httpCode int, body apiview.ErrorBody) error {
	message := body.Message
	if len(body.Fields) > 0 {
		keys := make([]string, 0, len(body.Fields))
		for k := range body.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+body.Fields[k])
		}
		message += ": " + strings.Join(parts, "; ")
	}
	return status.Error(grpcCode(httpCode, body.Error), message)
}

func grpcCode(httpCode int, errorCode string) codes.Code {
	switch {
	case errorCode == apiview.CodeBusinessRule:
		return codes.FailedPrecondition
	case errorCode == apiview.CodeIdempotencyReuse:
		return codes.AlreadyExists
	case errorCode == apiview.CodeInProgress, errorCode == apiview.CodeConflict:
		return codes.Aborted
	}
	switch httpCode {
	case http.StatusBadRequest:
		return codes.InvalidArgument
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	case http.StatusNotFound:
		return codes.NotFound
	case http.StatusConflict:
		return codes.Aborted
	default:
		return codes.Internal
	}
}

func httpStatus(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument, codes.FailedPrecondition:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeStruct(req *structpb.Struct, dst any) error {
	data, err := json.Marshal(req.AsMap())
	if err != nil {
		return domain.NewValidationError("body", "is not valid JSON")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return domain.NewValidationError("body", "must match the order schema: "+err.Error())
	}
	return nil
}

func toStruct(view any) (*structpb.Struct, error) {
	data, err := json.Marshal(view)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal server error")
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Error(codes.Internal, "internal server error")
	}
	return out, nil
}

// structValues переводит плоские поля запроса в параметры списка.
func structValues(req *structpb.Struct) url.Values {
	values := url.Values{}
	for name, v := range req.GetFields() {
		switch kind := v.GetKind().(type) {
		case *structpb.Value_StringValue:
			values.Set(name, kind.StringValue)
		case *structpb.Value_NumberValue:
			values.Set(name, strconv.FormatFloat(kind.NumberValue, 'f', -1, 64))
		case *structpb.Value_BoolValue:
			values.Set(name, strconv.FormatBool(kind.BoolValue))
		}
	}
	return values
}

func marshalMessage(v any) string {
	msg, ok := v.(proto.Message)
	if !ok || msg == nil {
		return ""
	}
	data, err := protojson.Marshal(msg)
	if err != nil {
		return fmt.Sprintf("<unserializable %T>", v)
	}
	return string(data)
}

func firstMetadata(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, v := range md.Get(key) {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func peerIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		return p.Addr.String()
	}
	return host
}
