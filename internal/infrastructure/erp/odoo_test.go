package erp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/usagebill/backend/internal/domain/billing"
	"go.uber.org/zap/zaptest"
)

// fakeOdoo answers the JSON-RPC calls the driver makes
type fakeOdoo struct {
	mu       sync.Mutex
	logins   int
	orders   map[string]string // client_order_ref -> name
	created  []map[string]any
	projects map[string]int64
	products []map[string]any
	fail     func(model, method string) (int, *rpcError)
}

func newFakeOdoo() *fakeOdoo {
	return &fakeOdoo{
		orders:   map[string]string{},
		projects: map[string]int64{"tenant-a": 77},
		products: []map[string]any{
			{"id": 11, "categ_id": []any{3, "All / Saleable / Compute"}, "display_name": "[hour] NZ-HLZ-1.c1.c1r1", "default_code": "hour"},
			{"id": 12, "categ_id": []any{3, "All / Saleable / Compute"}, "display_name": "[hour] NZ-POR-1.c1.c1r1", "default_code": "hour"},
			{"id": 13, "categ_id": []any{4, "All / Saleable / Object Storage"}, "display_name": "[gigabyte-hour] o1.standard", "default_code": "gigabyte-hour"},
			{"id": 14, "categ_id": []any{5, "All / Saleable / Discounts"}, "display_name": "NZ-HLZ-1.discount", "default_code": false},
		},
	}
}

func (f *fakeOdoo) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/jsonrpc" {
		http.NotFound(w, r)
		return
	}
	var req struct {
		ID     int64 `json:"id"`
		Params struct {
			Service string            `json:"service"`
			Method  string            `json:"method"`
			Args    []json.RawMessage `json:"args"`
		} `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	reply := func(result any) {
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}

	if req.Params.Service == "common" && req.Params.Method == "login" {
		f.logins++
		var password string
		_ = json.Unmarshal(req.Params.Args[2], &password)
		if password != "secret" {
			reply(false)
			return
		}
		reply(7)
		return
	}

	var model, method string
	_ = json.Unmarshal(req.Params.Args[3], &model)
	_ = json.Unmarshal(req.Params.Args[4], &method)

	if f.fail != nil {
		if status, rpcErr := f.fail(model, method); status != 0 {
			if rpcErr != nil {
				_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "error": rpcErr})
				return
			}
			w.WriteHeader(status)
			return
		}
	}

	var domain [][]any
	if len(req.Params.Args) > 5 && (method == "search_read") {
		var args []json.RawMessage
		_ = json.Unmarshal(req.Params.Args[5], &args)
		_ = json.Unmarshal(args[0], &domain)
	}

	switch model + "." + method {
	case "product.product.search_read":
		reply(f.products)
	case "openstack.project.search_read":
		tenant := domain[0][2].(string)
		if owner, ok := f.projects[tenant]; ok {
			reply([]map[string]any{{"id": 1, "owner": []any{owner, "Acme Ltd"}}})
			return
		}
		reply([]any{})
	case "sale.order.search_read":
		ref := domain[0][2].(string)
		if name, ok := f.orders[ref]; ok {
			reply([]map[string]any{{"id": 1, "name": name}})
			return
		}
		reply([]any{})
	case "sale.order.create":
		var args []map[string]any
		_ = json.Unmarshal(req.Params.Args[5], &args)
		f.created = append(f.created, args[0])
		f.orders[args[0]["client_order_ref"].(string)] = "SO042"
		reply(42)
	case "sale.order.read":
		reply([]map[string]any{{"id": 42, "name": "SO042"}})
	default:
		reply(false)
	}
}

func newTestOdoo(t *testing.T, fake *fakeOdoo, password string) *OdooBackend {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	backend, err := NewOdooBackend(&OdooConfig{
		URL:      srv.URL + "/",
		Database: "erp",
		Username: "billing",
		Password: password,
	}, WithOdooHTTPClient(srv.Client()), WithOdooLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return backend
}

func TestOdooConfig_Validate(t *testing.T) {
	assert.NoError(t, (&OdooConfig{URL: "https://erp.example.com", Database: "erp", Username: "u"}).Validate())
	assert.Error(t, (&OdooConfig{Database: "erp", Username: "u"}).Validate())
	assert.Error(t, (&OdooConfig{URL: "erp.example.com", Database: "erp", Username: "u"}).Validate())
	assert.Error(t, (&OdooConfig{URL: "https://erp.example.com"}).Validate())
}

func TestSplitRegion(t *testing.T) {
	tests := []struct {
		name, region, code string
	}{
		{"NZ-HLZ-1.c1.c1r1", "nz-hlz-1", "c1.c1r1"},
		{"o1.standard", "", "o1.standard"},
		{"Compute c1.c1r1", "", "Compute c1.c1r1"},
		{"123.c1", "", "123.c1"},
		{"NZ-WLG-2.", "", "NZ-WLG-2."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			region, code := splitRegion(tt.name)
			assert.Equal(t, tt.region, region)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestOdooBackend_GetCatalog(t *testing.T) {
	fake := newFakeOdoo()
	backend := newTestOdoo(t, fake, "secret")

	catalog, err := backend.GetCatalog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, catalog.Len(), "discount products are hidden")

	hlz, ok := catalog.Lookup("nz-hlz-1", "c1.c1r1")
	require.True(t, ok)
	assert.Equal(t, "11", hlz.PriceRef)
	assert.Equal(t, "compute", hlz.Category)
	assert.Equal(t, "hour", hlz.Unit)

	por, ok := catalog.Lookup("nz-por-1", "c1.c1r1")
	require.True(t, ok)
	assert.Equal(t, "12", por.PriceRef)

	obj, ok := catalog.Lookup("nz-por-1", "o1.standard")
	require.True(t, ok)
	assert.Equal(t, "", obj.Region)

	_, err = backend.GetCatalog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fake.logins, "uid is reused")
}

func TestOdooBackend_LoginRefused(t *testing.T) {
	backend := newTestOdoo(t, newFakeOdoo(), "wrong")

	_, err := backend.GetCatalog(context.Background())
	require.Error(t, err)
	assert.False(t, billing.IsRetryable(err))
	assert.Contains(t, err.Error(), "refused")
}

func TestOdooBackend_SubmitQuotation(t *testing.T) {
	fake := newFakeOdoo()
	backend := newTestOdoo(t, fake, "secret")
	q := testQuotation()
	q.LineItems[0].UnitPriceRef = "11"
	q.LineItems[1].UnitPriceRef = "13"

	ref, err := backend.SubmitQuotation(context.Background(), q, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "SO042", ref)

	require.Len(t, fake.created, 1)
	order := fake.created[0]
	assert.Equal(t, float64(77), order["partner_id"])
	assert.Equal(t, "key-1", order["client_order_ref"])
	lines := order["order_line"].([]any)
	require.Len(t, lines, 2)
	first := lines[0].([]any)[2].(map[string]any)
	assert.Equal(t, float64(11), first["product_id"])
	assert.Equal(t, 1.25, first["product_uom_qty"])

	// a retry finds the existing order
	ref, err = backend.SubmitQuotation(context.Background(), q, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "SO042", ref)
	assert.Len(t, fake.created, 1)
}

func TestOdooBackend_SubmitQuotation_Empty(t *testing.T) {
	fake := newFakeOdoo()
	backend := newTestOdoo(t, fake, "secret")
	q := testQuotation()
	q.LineItems = nil

	ref, err := backend.SubmitQuotation(context.Background(), q, "key-1")
	require.NoError(t, err)
	assert.Equal(t, billing.ReferenceNone, ref)
	assert.Zero(t, fake.logins)
}

func TestOdooBackend_SubmitQuotation_Rejections(t *testing.T) {
	t.Run("unknown project", func(t *testing.T) {
		backend := newTestOdoo(t, newFakeOdoo(), "secret")
		q := testQuotation()
		q.TenantID = "tenant-z"
		q.LineItems[0].UnitPriceRef = "11"
		q.LineItems[1].UnitPriceRef = "13"

		_, err := backend.SubmitQuotation(context.Background(), q, "key-1")
		assert.ErrorIs(t, err, billing.ErrQuotationRejected)
		assert.ErrorIs(t, err, ErrUnknownCustomer)
	})

	t.Run("non numeric product reference", func(t *testing.T) {
		backend := newTestOdoo(t, newFakeOdoo(), "secret")
		_, err := backend.SubmitQuotation(context.Background(), testQuotation(), "key-1")
		assert.ErrorIs(t, err, billing.ErrQuotationRejected)
	})

	t.Run("validation error from odoo", func(t *testing.T) {
		fake := newFakeOdoo()
		fake.fail = func(model, method string) (int, *rpcError) {
			if method != "create" {
				return 0, nil
			}
			e := &rpcError{Code: 200, Message: "Odoo Server Error"}
			e.Data.Name = "odoo.exceptions.ValidationError"
			e.Data.Message = "The period is closed"
			return http.StatusOK, e
		}
		backend := newTestOdoo(t, fake, "secret")
		q := testQuotation()
		q.LineItems[0].UnitPriceRef = "11"
		q.LineItems[1].UnitPriceRef = "13"

		_, err := backend.SubmitQuotation(context.Background(), q, "key-1")
		assert.ErrorIs(t, err, billing.ErrQuotationRejected)
		assert.Contains(t, err.Error(), "period is closed")
	})
}

func TestOdooBackend_SubmitQuotation_Transient(t *testing.T) {
	tests := []struct {
		name   string
		status int
		err    func() *rpcError
	}{
		{"server unavailable", http.StatusServiceUnavailable, nil},
		{"rate limited", http.StatusTooManyRequests, nil},
		{"database serialization failure", http.StatusOK, func() *rpcError {
			e := &rpcError{Code: 200, Message: "Odoo Server Error"}
			e.Data.Name = "psycopg2.errors.SerializationFailure"
			return e
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeOdoo()
			fake.fail = func(model, method string) (int, *rpcError) {
				if method != "create" {
					return 0, nil
				}
				if tt.err != nil {
					return tt.status, tt.err()
				}
				return tt.status, nil
			}
			backend := newTestOdoo(t, fake, "secret")
			q := testQuotation()
			q.LineItems[0].UnitPriceRef = "11"
			q.LineItems[1].UnitPriceRef = "13"

			_, err := backend.SubmitQuotation(context.Background(), q, "key-1")
			require.Error(t, err)
			assert.True(t, billing.IsRetryable(err))
		})
	}
}
