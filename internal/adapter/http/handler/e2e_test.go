package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	httpHandler "bizsuite-orchestrator/internal/adapter/http/handler"
	"bizsuite-orchestrator/internal/adapter/storage/memory"
	redisStorage "bizsuite-orchestrator/internal/adapter/storage/redis"
	"bizsuite-orchestrator/internal/core/domain"
	"bizsuite-orchestrator/internal/core/ports"
	"bizsuite-orchestrator/internal/eventbus"
	"bizsuite-orchestrator/internal/observability/metrics"
	"bizsuite-orchestrator/internal/saga/definitions"
	"bizsuite-orchestrator/internal/service"
	"bizsuite-orchestrator/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	e2eAESKey          = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	e2eEndpointSecret  = "whsec_tenant_a"
	e2eLogisticsSecret = "logistics-secret"
)

// received is one request captured by the tenant endpoint.
type received struct {
	header http.Header
	body   []byte
}

// tenantEndpoint is a tenant's webhook receiver. It answers with status.
type tenantEndpoint struct {
	server *httptest.Server
	status atomic.Int32

	mu   sync.Mutex
	reqs []received
}

func newTenantEndpoint(t *testing.T) *tenantEndpoint {
	ep := &tenantEndpoint{}
	ep.status.Store(http.StatusOK)
	ep.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ep.mu.Lock()
		ep.reqs = append(ep.reqs, received{header: r.Header.Clone(), body: body})
		ep.mu.Unlock()
		w.WriteHeader(int(ep.status.Load()))
	}))
	t.Cleanup(ep.server.Close)
	return ep
}

func (ep *tenantEndpoint) eventTypes() []string {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	out := make([]string, 0, len(ep.reqs))
	for _, r := range ep.reqs {
		out = append(out, r.header.Get(service.HeaderEventType))
	}
	return out
}

func (ep *tenantEndpoint) requests() []received {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return append([]received(nil), ep.reqs...)
}

// testApp wires the real services over memory storage and miniredis and
// serves the full router.
type testApp struct {
	server   *httptest.Server
	orch     *service.SagaOrchestrator
	inbox    *service.InboxWorker
	sig      *service.HMACSignatureService
	endpoint *tenantEndpoint
	tokens   *service.JWTTokenService
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	log := logger.NewWithWriter("error", io.Discard)

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	encSvc, err := service.NewAESEncryptionService(e2eAESKey)
	require.NoError(t, err)
	sigSvc := service.NewHMACSignatureService()
	tokenSvc := service.NewJWTTokenService("e2e-jwt-secret-key-32-bytes-long!", time.Hour, "e2e")

	endpoints := memory.NewEndpointRepo()
	deliveryLogs := memory.NewDeliveryLogRepo()
	eventLog := memory.NewEventLog()
	inboxRepo := memory.NewInboxRepo(nil)
	sagaStore := memory.NewSagaRunStore()

	schemas := eventbus.NewSchemaRegistry()
	require.NoError(t, definitions.RegisterSchemas(schemas))
	bus := eventbus.New(log, eventbus.WithSchemas(schemas), eventbus.WithEventLog(eventLog), eventbus.WithMetrics(m))

	dispatcher := service.NewWebhookDispatcher(service.WebhookDispatcherDeps{
		Endpoints: endpoints,
		Logs:      deliveryLogs,
		Events:    eventLog,
		EncSvc:    encSvc,
		SigSvc:    sigSvc,
		Metrics:   m,
	}, service.DispatcherConfig{Timeout: 5 * time.Second}, log)
	require.NoError(t, dispatcher.Subscribe(bus))

	inbound := service.NewInboundRouter(service.InboundRouterDeps{
		Secrets: func(provider string) string {
			if provider == "logistics" {
				return e2eLogisticsSecret
			}
			return ""
		},
		Verifier: sigSvc,
		Inbox:    inboxRepo,
		Dedupe:   redisStorage.NewDedupeStore(rdb),
		Metrics:  m,
	}, time.Hour, log)
	worker := service.NewInboxWorker(inboxRepo, bus, nil, m, service.InboxWorkerConfig{}, log)

	orch := service.NewSagaOrchestrator(sagaStore, bus, nil, m, service.SagaOrchestratorConfig{}, log)
	require.NoError(t, definitions.Register(orch, definitions.NewCommandPorts(bus).Ports(), definitions.Options{}))

	ep := newTenantEndpoint(t)
	secretEnc, err := encSvc.Encrypt(e2eEndpointSecret)
	require.NoError(t, err)
	endpoints.Save(domain.WebhookEndpoint{
		ID:        uuid.New(),
		TenantID:  "tenant-a",
		URL:       ep.server.URL,
		SecretEnc: secretEnc,
		Events:    []string{"saleorder.*", "shipment.delivered", "shipment.dispatched", "saga.completed"},
		Active:    true,
	})

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		Inbound:        inbound,
		Publisher:      bus,
		Sagas:          orch,
		Deliveries:     dispatcher,
		TokenSvc:       tokenSvc,
		RateLimiter:    redisStorage.NewRateLimitStore(rdb, nil),
		HealthCheckers: []ports.HealthChecker{redisStorage.NewHealthCheck(rdb)},
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Logger:         log,
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	t.Cleanup(orch.Wait)

	return &testApp{server: server, orch: orch, inbox: worker, sig: sigSvc, endpoint: ep, tokens: tokenSvc}
}

func (a *testApp) token(t *testing.T, tenant string) string {
	tok, _, err := a.tokens.Generate(tenant, "ops-"+tenant)
	require.NoError(t, err)
	return tok
}

func (a *testApp) call(t *testing.T, method, path, token string, body any) (int, map[string]interface{}) {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, a.server.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func dataOf(t *testing.T, resp map[string]interface{}) map[string]interface{} {
	t.Helper()
	data, ok := resp["data"].(map[string]interface{})
	require.True(t, ok, "response has no data: %v", resp)
	return data
}

// --- End-to-end Tests ---

func TestE2E_HealthAndMetrics(t *testing.T) {
	app := newTestApp(t)

	status, body := app.call(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])

	resp, err := http.Get(app.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestE2E_OrderToDeliveryFromAPI(t *testing.T) {
	app := newTestApp(t)
	tok := app.token(t, "tenant-a")

	status, resp := app.call(t, http.MethodPost, "/api/v1/events", tok, map[string]any{
		"type": "saleorder.confirmed",
		"payload": map[string]any{
			"order_id": "SO-1001",
			"lines":    []any{map[string]any{"sku": "WIDGET", "quantity": 3}},
		},
	})
	require.Equal(t, http.StatusCreated, status, "%v", resp)
	eventID := dataOf(t, resp)["id"].(string)
	app.orch.Wait()

	status, resp = app.call(t, http.MethodGet, "/api/v1/sagas?status=completed", tok, nil)
	require.Equal(t, http.StatusOK, status)
	runs := dataOf(t, resp)["runs"].([]interface{})
	require.Len(t, runs, 1)
	run := runs[0].(map[string]interface{})
	assert.Equal(t, "order_to_delivery", run["saga_name"])
	assert.Equal(t, eventID, run["trigger_event_id"])
	ctx := run["context"].(map[string]interface{})
	assert.NotEmpty(t, ctx["reservation_id"])
	assert.NotEmpty(t, ctx["invoice_id"])
	assert.NotEmpty(t, ctx["shipment_id"])

	// The tenant endpoint saw the trigger and the lifecycle event, signed.
	assert.ElementsMatch(t, []string{"saleorder.confirmed", "saga.completed"}, app.endpoint.eventTypes())
	for _, r := range app.endpoint.requests() {
		assert.True(t, app.sig.Verify(e2eEndpointSecret, r.body, r.header.Get(service.HeaderWebhookSignature)))
	}

	// Schema violations are rejected before anything runs.
	status, resp = app.call(t, http.MethodPost, "/api/v1/events", tok, map[string]any{
		"type":    "saleorder.confirmed",
		"payload": map[string]any{"lines": []any{}},
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "EVT_004", resp["error_code"])
}

func TestE2E_ProcureToPayApprovalAndTenantIsolation(t *testing.T) {
	app := newTestApp(t)
	tok := app.token(t, "tenant-a")
	other := app.token(t, "tenant-b")

	status, _ := app.call(t, http.MethodPost, "/api/v1/events", tok, map[string]any{
		"type":    "purchaseorder.approved",
		"payload": map[string]any{"purchase_order_id": "PO-77", "amount": 1250.5},
	})
	require.Equal(t, http.StatusCreated, status)
	app.orch.Wait()

	status, resp := app.call(t, http.MethodGet, "/api/v1/sagas?status=awaiting_approval", tok, nil)
	require.Equal(t, http.StatusOK, status)
	runs := dataOf(t, resp)["runs"].([]interface{})
	require.Len(t, runs, 1)
	runID := runs[0].(map[string]interface{})["id"].(string)

	// Another tenant can neither see nor decide the run.
	status, _ = app.call(t, http.MethodGet, "/api/v1/sagas/"+runID, other, nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = app.call(t, http.MethodPost, "/api/v1/sagas/"+runID+"/approve", other, nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, resp = app.call(t, http.MethodGet, "/api/v1/sagas", other, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(0), dataOf(t, resp)["count"])

	status, _ = app.call(t, http.MethodPost, "/api/v1/sagas/"+runID+"/approve", tok, nil)
	require.Equal(t, http.StatusOK, status)
	app.orch.Wait()

	status, resp = app.call(t, http.MethodGet, "/api/v1/sagas/"+runID, tok, nil)
	require.Equal(t, http.StatusOK, status)
	run := dataOf(t, resp)
	assert.Equal(t, "completed", run["status"])
	assert.NotEmpty(t, run["context"].(map[string]interface{})["payment_id"])

	// A second decision is an invalid transition.
	status, resp = app.call(t, http.MethodPost, "/api/v1/sagas/"+runID+"/reject", tok, map[string]string{"reason": "late"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "SAGA_003", resp["error_code"])
}

func TestE2E_InboundWebhookToTenantEndpoint(t *testing.T) {
	app := newTestApp(t)

	body := []byte(`{"event_type":"shipment.delivered","tenant_id":"tenant-a","shipment_id":"SHP-9","awb":"AWB123"}`)
	sign, err := app.sig.SignWith(service.AlgoHMACSHA256Hex, e2eLogisticsSecret, body)
	require.NoError(t, err)

	post := func(signature string) (int, map[string]interface{}) {
		req, _ := http.NewRequest(http.MethodPost, app.server.URL+"/inbound/logistics", bytes.NewReader(body))
		req.Header.Set("X-Logistics-Signature", signature)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		var out map[string]interface{}
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return resp.StatusCode, out
	}

	status, resp := post("deadbeef")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "WHK_003", resp["error_code"])

	status, resp = post(sign)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, resp["received"])
	assert.Equal(t, "shipment.delivered", resp["event_type"])

	status, resp = post(sign)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, resp["duplicate"])

	// Nothing is published until the inbox is drained.
	assert.Empty(t, app.endpoint.eventTypes())
	n, err := app.inbox.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"shipment.delivered"}, app.endpoint.eventTypes())

	var delivered domain.DeliveryBody
	require.NoError(t, json.Unmarshal(app.endpoint.requests()[0].body, &delivered))
	assert.Equal(t, "SHP-9", delivered.Payload.String("shipment_id"))
	assert.Equal(t, "AWB123", delivered.Payload.String("tracking_number"))
}

func TestE2E_FailedDeliveryReplay(t *testing.T) {
	app := newTestApp(t)
	tok := app.token(t, "tenant-a")
	app.endpoint.status.Store(http.StatusBadGateway)

	status, _ := app.call(t, http.MethodPost, "/api/v1/events", tok, map[string]any{
		"type":    "shipment.dispatched",
		"payload": map[string]any{"shipment_id": "SHP-1"},
	})
	require.Equal(t, http.StatusCreated, status)

	status, resp := app.call(t, http.MethodGet, "/api/v1/webhooks/deliveries?success=false", tok, nil)
	require.Equal(t, http.StatusOK, status)
	rows := dataOf(t, resp)["deliveries"].([]interface{})
	require.Len(t, rows, 1)
	failed := rows[0].(map[string]interface{})
	assert.Equal(t, float64(http.StatusBadGateway), failed["response_status"])

	// Another tenant cannot replay it.
	status, _ = app.call(t, http.MethodPost, "/api/v1/webhooks/deliveries/"+failed["id"].(string)+"/replay", app.token(t, "tenant-b"), nil)
	assert.Equal(t, http.StatusNotFound, status)

	app.endpoint.status.Store(http.StatusOK)
	status, resp = app.call(t, http.MethodPost, "/api/v1/webhooks/deliveries/"+failed["id"].(string)+"/replay", tok, nil)
	require.Equal(t, http.StatusCreated, status)
	replayed := dataOf(t, resp)
	assert.Equal(t, true, replayed["success"])
	assert.Equal(t, float64(2), replayed["attempt"])

	// Delivered now, so a second replay is refused.
	status, resp = app.call(t, http.MethodPost, "/api/v1/webhooks/deliveries/"+failed["id"].(string)+"/replay", tok, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "WHK_005", resp["error_code"])
}
