// Команда loadtest нагружает внешний gRPC API заказов от имени API-ключа
// мерчанта и печатает сводку по задержкам и кодам ответов.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/fulfillment/internal/transport/grpcapi"
)

const (
	headerAPIKey      = "x-api-key"
	headerIdempotency = "idempotency-key"
	envAPIKey         = "FULFILLMENT_LOADTEST_API_KEY"
)

type scenario string

const (
	scenarioCreate     scenario = "create"
	scenarioCreateGet  scenario = "create-get"
	scenarioCreateList scenario = "create-list"
)

type config struct {
	addr        string
	apiKey      string
	productID   string
	unitPrice   string
	quantity    int
	city        string
	phone       string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	connections int
	timeout     time.Duration
	mode        scenario
	outputPath  string
}

func (c config) target() string {
	switch {
	case c.duration <= 0:
		return fmt.Sprintf("count:%d", c.total)
	case c.totalSet:
		return fmt.Sprintf("duration:%s,max-total:%d", c.duration, c.total)
	default:
		return fmt.Sprintf("duration:%s", c.duration)
	}
}

// orderClient: часть grpcapi.Client, которую использует нагрузка.
type orderClient interface {
	CreateOrder(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	GetOrder(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	ListOrders(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

func parseConfig(args []string, lookup func(string) (string, bool), stderr io.Writer) (config, error) {
	var (
		cfg  config
		mode string
	)
	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.addr, "addr", "localhost:50051", "gRPC target address")
	fs.StringVar(&cfg.apiKey, "api-key", "", "merchant API key with orders:write (fallback: "+envAPIKey+")")
	fs.StringVar(&cfg.productID, "product-id", "", "product id to order; must have stock in an active warehouse")
	fs.StringVar(&cfg.unitPrice, "unit-price", "100.00", "unit price in BDT")
	fs.IntVar(&cfg.quantity, "quantity", 1, "quantity per order")
	fs.StringVar(&cfg.city, "city", "Dhaka", "shipping city")
	fs.StringVar(&cfg.phone, "phone", "01712345678", "customer phone")
	fs.IntVar(&cfg.total, "total", 400, "scenarios to execute in count mode; in duration mode only used when explicitly set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.IntVar(&cfg.connections, "connections", 20, "number of gRPC client connections")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-RPC timeout")
	fs.StringVar(&mode, "mode", string(scenarioCreate), "scenario: create | create-get | create-list")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	if strings.TrimSpace(cfg.apiKey) == "" {
		cfg.apiKey, _ = lookup(envAPIKey)
	}
	cfg.apiKey = strings.TrimSpace(cfg.apiKey)
	cfg.productID = strings.TrimSpace(cfg.productID)

	parsed, err := parseScenario(mode)
	if err != nil {
		return config{}, err
	}
	cfg.mode = parsed

	switch {
	case cfg.apiKey == "":
		return config{}, fmt.Errorf("api key is required (-api-key or %s)", envAPIKey)
	case cfg.productID == "":
		return config{}, errors.New("product-id is required")
	case cfg.quantity <= 0:
		return config{}, errors.New("quantity must be > 0")
	case cfg.duration < 0:
		return config{}, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return config{}, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return config{}, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return config{}, errors.New("concurrency must be > 0")
	case cfg.connections <= 0:
		return config{}, errors.New("connections must be > 0")
	case cfg.timeout <= 0:
		return config{}, errors.New("timeout must be > 0")
	}
	return cfg, nil
}

func parseScenario(value string) (scenario, error) {
	switch s := scenario(strings.TrimSpace(value)); s {
	case scenarioCreate, scenarioCreateGet, scenarioCreateList:
		return s, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig(os.Args[1:], os.LookupEnv, os.Stderr)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(2)
	}

	conns := make([]*grpc.ClientConn, 0, cfg.connections)
	clients := make([]orderClient, 0, cfg.connections)
	for range cfg.connections {
		conn, dialErr := grpc.NewClient(cfg.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if dialErr != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to create grpc client connection: %v\n", dialErr)
			os.Exit(1)
		}
		conns = append(conns, conn)
		clients = append(clients, grpcapi.NewClient(conn))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	result := run(ctx, cfg, clients)
	stop()
	for _, conn := range conns {
		_ = conn.Close()
	}

	printReport(os.Stdout, result, cfg.target())
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}
	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

// run распределяет сценарии между воркерами; воркеры делят клиентов по кругу.
func run(ctx context.Context, cfg config, clients []orderClient) report {
	startedAt := time.Now()
	runID := uuid.NewString()[:8]
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for worker := range cfg.concurrency {
		wg.Add(1)
		go func(client orderClient) {
			defer wg.Done()
			for index := range jobs {
				_ = runScenario(ctx, client, cfg, runID, index, col)
			}
		}(clients[worker%len(clients)])
	}

	dispatch(ctx, jobs, cfg)
	wg.Wait()

	return col.report(cfg.mode, startedAt, time.Since(startedAt))
}

func dispatch(ctx context.Context, jobs chan<- int, cfg config) {
	defer close(jobs)

	var deadline <-chan time.Time
	if cfg.duration > 0 {
		timer := time.NewTimer(cfg.duration)
		defer timer.Stop()
		deadline = timer.C
	}
	bounded := cfg.duration <= 0 || cfg.totalSet

	for i := 0; !bounded || i < cfg.total; i++ {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case jobs <- i:
		}
	}
}

func runScenario(ctx context.Context, client orderClient, cfg config, runID string, index int, col *collector) (err error) {
	started := time.Now()
	defer func() {
		col.record(scenarioMetric, time.Since(started), status.Code(err))
	}()

	request, err := orderRequest(cfg, runID, index)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	created, err := call(ctx, cfg, col, "CreateOrder", func(ctx context.Context) (*structpb.Struct, error) {
		ctx = metadata.AppendToOutgoingContext(ctx, headerIdempotency, fmt.Sprintf("lt-%s-%d", runID, index))
		return client.CreateOrder(ctx, request)
	})
	if err != nil {
		return err
	}
	orderID := created.GetFields()["id"].GetStringValue()
	if orderID == "" {
		return status.Error(codes.Internal, "create response returned empty order id")
	}

	switch cfg.mode {
	case scenarioCreateGet:
		_, err = call(ctx, cfg, col, "GetOrder", func(ctx context.Context) (*structpb.Struct, error) {
			return client.GetOrder(ctx, &structpb.Struct{Fields: map[string]*structpb.Value{"id": structpb.NewStringValue(orderID)}})
		})
	case scenarioCreateList:
		_, err = call(ctx, cfg, col, "ListOrders", func(ctx context.Context) (*structpb.Struct, error) {
			return client.ListOrders(ctx, &structpb.Struct{Fields: map[string]*structpb.Value{
				"status": structpb.NewStringValue("PENDING"),
				"limit":  structpb.NewNumberValue(20),
			}})
		})
	}
	return err
}

func call(ctx context.Context, cfg config, col *collector, method string, fn func(context.Context) (*structpb.Struct, error)) (*structpb.Struct, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, headerAPIKey, cfg.apiKey)

	started := time.Now()
	resp, err := fn(ctx)
	col.record(method, time.Since(started), status.Code(err))
	return resp, err
}

func orderRequest(cfg config, runID string, index int) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"customerName":    fmt.Sprintf("Load %s-%d", runID, index),
		"customerPhone":   cfg.phone,
		"shippingAddress": map[string]any{"line1": fmt.Sprintf("House %d, Load Road", index+1), "city": cfg.city},
		"items": []any{map[string]any{
			"productId": cfg.productID,
			"quantity":  cfg.quantity,
			"unitPrice": cfg.unitPrice,
		}},
		"paymentMethod": "COD",
	})
}
