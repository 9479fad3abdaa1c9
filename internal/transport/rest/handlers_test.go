package rest_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/agroms/internal/auth"
	"github.com/vladislavdragonenkov/agroms/internal/domain"
	"github.com/vladislavdragonenkov/agroms/internal/service/accounting"
	"github.com/vladislavdragonenkov/agroms/internal/service/dedup"
	"github.com/vladislavdragonenkov/agroms/internal/service/inventory"
	"github.com/vladislavdragonenkov/agroms/internal/service/sales"
	"github.com/vladislavdragonenkov/agroms/internal/storage/memory"
	"github.com/vladislavdragonenkov/agroms/internal/transport/rest"
)

const testVerifierKey = "8f2a6b1c4d7e9a0b3c5d8e1f2a4b6c8d0e1f3a5b7c9d0e2f4a6b8c0d1e3f5a7b"

type testAPI struct {
	engine     *gin.Engine
	accounting *accounting.Service
}

// newTestAPI собирает движок поверх in-memory хранилищ. verifier может
// быть nil: тогда маршруты доступны без токена.
func newTestAPI(t *testing.T, verifier *auth.Verifier) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	processed := memory.NewProcessedEventRepository()

	salesOutbox := memory.NewOutboxRepository(processed)
	salesService := sales.NewService(
		memory.NewSaleRepository(processed, salesOutbox),
		memory.NewCustomerRepository(),
		memory.NewPaymentRepository(salesOutbox),
		memory.NewTimelineRepository(),
		salesOutbox,
		dedup.NewGuard("sales-service", processed),
		nil,
	)
	invOutbox := memory.NewOutboxRepository(processed)
	inventoryService := inventory.NewService(
		memory.NewProductRepository(),
		memory.NewStockMovementRepository(processed, invOutbox),
		invOutbox,
		dedup.NewGuard("inventory-service", processed),
		nil,
	)
	accOutbox := memory.NewOutboxRepository(processed)
	accountingService := accounting.NewService(
		memory.NewAccountRepository(),
		memory.NewLedgerRepository(),
		memory.NewTaxRepository(processed, accOutbox),
		accOutbox,
		dedup.NewGuard("accounting-service", processed),
		nil,
	)
	require.NoError(t, accountingService.EnsureDefaultAccounts())

	engine := rest.NewEngine(false, verifier)
	rest.RegisterSalesRoutes(engine, salesService, verifier)
	rest.RegisterInventoryRoutes(engine, inventoryService, verifier)
	rest.RegisterAccountingRoutes(engine, accountingService, verifier)

	return &testAPI{engine: engine, accounting: accountingService}
}

func (api *testAPI) do(t *testing.T, method, path, token string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	for name, value := range headers {
		request.Header.Set(name, value)
	}

	recorder := httptest.NewRecorder()
	api.engine.ServeHTTP(recorder, request)
	return recorder
}

func decodeInto(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), target))
}

func (api *testAPI) createCustomer(t *testing.T, code string) domain.Customer {
	t.Helper()
	recorder := api.do(t, http.MethodPost, "/api/v1/customers", "", map[string]any{
		"code": code,
		"name": "Cooperative du Nord",
	}, nil)
	require.Equal(t, http.StatusCreated, recorder.Code)

	var customer domain.Customer
	decodeInto(t, recorder, &customer)
	return customer
}

func (api *testAPI) createProduct(t *testing.T, code string) domain.Product {
	t.Helper()
	recorder := api.do(t, http.MethodPost, "/api/v1/products", "", map[string]any{
		"code":            code,
		"name":            "Engrais NPK 20kg",
		"product_type":    string(domain.ProductTypeIntrant),
		"unit":            "sac",
		"unit_price":      2500,
		"min_stock_level": 15,
	}, nil)
	require.Equal(t, http.StatusCreated, recorder.Code)

	var product domain.Product
	decodeInto(t, recorder, &product)
	return product
}

func TestSalesAPI_CreateReplayCancel(t *testing.T) {
	api := newTestAPI(t, nil)
	customer := api.createCustomer(t, "CLI-001")

	body := map[string]any{
		"customer_id": customer.ID,
		"sale_date":   "2026-08-31",
		"lines": []map[string]any{
			{"product_id": "prod-1", "quantity": 4, "unit_price": 2500},
		},
	}
	headers := map[string]string{"Idempotency-Key": "req-42"}

	recorder := api.do(t, http.MethodPost, "/api/v1/sales", "", body, headers)
	require.Equal(t, http.StatusCreated, recorder.Code)

	var created domain.Sale
	decodeInto(t, recorder, &created)
	require.Equal(t, domain.SaleStatusPending, created.Status)
	require.Equal(t, int64(10000), created.SubtotalMinor)
	require.Equal(t, int64(11925), created.TotalMinor)

	// Повтор с тем же ключом: другое тело игнорируется, возвращается
	// исходная продажа со статусом 200.
	body["lines"] = []map[string]any{
		{"product_id": "prod-1", "quantity": 99, "unit_price": 1},
	}
	recorder = api.do(t, http.MethodPost, "/api/v1/sales", "", body, headers)
	require.Equal(t, http.StatusOK, recorder.Code)

	var replayed domain.Sale
	decodeInto(t, recorder, &replayed)
	require.Equal(t, created.ID, replayed.ID)
	require.Equal(t, created.TotalMinor, replayed.TotalMinor)

	recorder = api.do(t, http.MethodPost, "/api/v1/sales/"+created.ID+"/cancel", "", nil, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var cancelled domain.Sale
	decodeInto(t, recorder, &cancelled)
	require.Equal(t, domain.SaleStatusCancelled, cancelled.Status)

	recorder = api.do(t, http.MethodPost, "/api/v1/sales/"+created.ID+"/cancel", "", nil, nil)
	require.Equal(t, http.StatusConflict, recorder.Code)
}

func TestSalesAPI_SaleTimeline(t *testing.T) {
	api := newTestAPI(t, nil)
	customer := api.createCustomer(t, "CLI-001")

	recorder := api.do(t, http.MethodPost, "/api/v1/sales", "", map[string]any{
		"customer_id": customer.ID,
		"sale_date":   "2026-08-31",
		"lines": []map[string]any{
			{"product_id": "prod-1", "quantity": 4, "unit_price": 2500},
		},
	}, nil)
	require.Equal(t, http.StatusCreated, recorder.Code)

	var created domain.Sale
	decodeInto(t, recorder, &created)

	recorder = api.do(t, http.MethodPost, "/api/v1/sales/"+created.ID+"/cancel", "", nil, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = api.do(t, http.MethodGet, "/api/v1/sales/"+created.ID+"/timeline", "", nil, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var timeline []domain.TimelineEvent
	decodeInto(t, recorder, &timeline)
	require.Len(t, timeline, 2)
	require.Equal(t, domain.TimelineSaleCreated, timeline[0].Type)
	require.Equal(t, domain.TimelineSaleCancelled, timeline[1].Type)
}

func TestSalesAPI_ErrorMapping(t *testing.T) {
	api := newTestAPI(t, nil)

	recorder := api.do(t, http.MethodGet, "/api/v1/sales/missing", "", nil, nil)
	require.Equal(t, http.StatusNotFound, recorder.Code)

	recorder = api.do(t, http.MethodPost, "/api/v1/sales", "", map[string]any{
		"customer_id": "ghost",
		"sale_date":   "2026-08-31",
		"lines": []map[string]any{
			{"product_id": "prod-1", "quantity": 1, "unit_price": 100},
		},
	}, nil)
	require.Equal(t, http.StatusNotFound, recorder.Code)

	request := httptest.NewRequest(http.MethodPost, "/api/v1/sales", bytes.NewReader([]byte("{not json")))
	request.Header.Set("Content-Type", "application/json")
	recorder = httptest.NewRecorder()
	api.engine.ServeHTTP(recorder, request)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestInventoryAPI_MovementsAndStockLevel(t *testing.T) {
	api := newTestAPI(t, nil)
	product := api.createProduct(t, "PRD-001")

	recorder := api.do(t, http.MethodPost, "/api/v1/stock-movements", "", map[string]any{
		"product_id":    product.ID,
		"movement_type": string(domain.MovementTypeEntree),
		"quantity":      10,
	}, nil)
	require.Equal(t, http.StatusCreated, recorder.Code)

	recorder = api.do(t, http.MethodGet, "/api/v1/stock-levels/"+product.ID, "", nil, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var level domain.StockLevel
	decodeInto(t, recorder, &level)
	require.Equal(t, int64(10), level.CurrentStock)
	require.True(t, level.IsBelowMinimum)

	recorder = api.do(t, http.MethodGet, "/api/v1/stock-levels", "", nil, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var levels []domain.StockLevel
	decodeInto(t, recorder, &levels)
	require.Len(t, levels, 1)
	require.Equal(t, product.ID, levels[0].ProductID)

	// Списание сверх остатка отклоняется до записи движения.
	recorder = api.do(t, http.MethodPost, "/api/v1/stock-movements", "", map[string]any{
		"product_id":    product.ID,
		"movement_type": string(domain.MovementTypeSortie),
		"quantity":      50,
	}, nil)
	require.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = api.do(t, http.MethodPost, "/api/v1/stock-movements", "", map[string]any{
		"product_id":    product.ID,
		"movement_type": "TELEPORTATION",
		"quantity":      1,
	}, nil)
	require.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = api.do(t, http.MethodGet, "/api/v1/stock-levels/missing", "", nil, nil)
	require.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestAccountingAPI_PostAndReverseEntry(t *testing.T) {
	api := newTestAPI(t, nil)

	recorder := api.do(t, http.MethodGet, "/api/v1/accounts", "", nil, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var accounts []domain.Account
	decodeInto(t, recorder, &accounts)
	require.Len(t, accounts, 7)

	byCode := make(map[string]domain.Account, len(accounts))
	for _, account := range accounts {
		byCode[account.Code] = account
	}

	recorder = api.do(t, http.MethodPost, "/api/v1/ledger-entries", "", map[string]any{
		"entry_type":        string(domain.EntryTypeDivers),
		"entry_date":        "2026-08-31",
		"debit_account_id":  byCode[accounting.AccountCodeClients].ID,
		"credit_account_id": byCode[accounting.AccountCodeVentes].ID,
		"amount":            11925,
		"description":       "regularisation manuelle",
	}, nil)
	require.Equal(t, http.StatusCreated, recorder.Code)

	var entry domain.LedgerEntry
	decodeInto(t, recorder, &entry)
	require.Equal(t, int64(11925), entry.AmountMinor)
	require.Equal(t, "2026-08", entry.FiscalMonth)

	reverseBody := map[string]any{"notes": "erreur de saisie"}
	recorder = api.do(t, http.MethodPost, "/api/v1/ledger-entries/"+entry.ID+"/reverse", "", reverseBody, nil)
	require.Equal(t, http.StatusCreated, recorder.Code)

	var reversal domain.LedgerEntry
	decodeInto(t, recorder, &reversal)
	require.Equal(t, entry.ID, reversal.ReversesEntryID)
	require.Equal(t, entry.CreditAccountID, reversal.DebitAccountID)

	recorder = api.do(t, http.MethodPost, "/api/v1/ledger-entries/"+entry.ID+"/reverse", "", reverseBody, nil)
	require.Equal(t, http.StatusConflict, recorder.Code)
}

func TestAPI_CapabilityEnforcement(t *testing.T) {
	verifier, err := auth.NewVerifier(testVerifierKey)
	require.NoError(t, err)
	api := newTestAPI(t, verifier)

	issue := func(role string) string {
		token, err := verifier.Issue("user-1", "amadou", []string{role}, time.Hour)
		require.NoError(t, err)
		return token
	}

	customerBody := map[string]any{"code": "CLI-010", "name": "Ferme du Sud"}

	recorder := api.do(t, http.MethodPost, "/api/v1/customers", "", customerBody, nil)
	require.Equal(t, http.StatusUnauthorized, recorder.Code)

	recorder = api.do(t, http.MethodPost, "/api/v1/customers", "not-a-token", customerBody, nil)
	require.Equal(t, http.StatusUnauthorized, recorder.Code)

	// agent_terrain не управляет справочником клиентов.
	recorder = api.do(t, http.MethodPost, "/api/v1/customers", issue(auth.RoleAgentTerrain), customerBody, nil)
	require.Equal(t, http.StatusForbidden, recorder.Code)

	recorder = api.do(t, http.MethodPost, "/api/v1/customers", issue(auth.RoleGestionnaire), customerBody, nil)
	require.Equal(t, http.StatusCreated, recorder.Code)

	recorder = api.do(t, http.MethodGet, "/api/v1/tax-reports/monthly?fiscal_year=2026", issue(auth.RoleAgentTerrain), nil, nil)
	require.Equal(t, http.StatusForbidden, recorder.Code)

	recorder = api.do(t, http.MethodGet, "/api/v1/tax-reports/monthly?fiscal_year=2026", issue(auth.RoleComptable), nil, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
}
