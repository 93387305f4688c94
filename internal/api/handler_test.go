package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pharmatrack/m/internal/database"
	"pharmatrack/m/internal/idempotency"
	"pharmatrack/m/internal/ledger"
	"pharmatrack/m/internal/migrations"
	"pharmatrack/m/internal/order"
	"pharmatrack/m/internal/payment"
	"pharmatrack/m/internal/prescription"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	db, err := database.Connect(":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migrations.Run(db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	log := zerolog.Nop()
	stock := ledger.New(db, log)
	rx := prescription.New(db, stock, log)
	orders := order.New(db, stock, payment.Sandbox{}, idempotency.NewMemory(), log)
	h := New(db, "test_secret", rx, orders, log)

	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	var payload map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return resp, payload
}

func registerUser(t *testing.T, srv *httptest.Server, username, role string) string {
	t.Helper()
	resp, payload := doJSON(t, http.MethodPost, srv.URL+"/auth/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "secret123",
		"role":     role,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: status %d %v", username, resp.StatusCode, payload)
	}
	token, _ := payload["token"].(string)
	if token == "" {
		t.Fatalf("register %s: no token in %v", username, payload)
	}
	return token
}

func TestAuth_ProtectedRoutesRejectAnonymous(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/inventory/low-stock", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
}

func TestAuth_RegisterLoginRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	registerUser(t, srv, "alice", "manager")

	resp, payload := doJSON(t, http.MethodPost, srv.URL+"/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "secret123",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: status %d %v", resp.StatusCode, payload)
	}
	if payload["token"] == "" {
		t.Error("login returned no token")
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "wrong",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad password: expected 401, got %d", resp.StatusCode)
	}
}

func TestMedicines_ManagerOnlyWrites(t *testing.T) {
	srv := newTestServer(t)
	manager := registerUser(t, srv, "meg", "manager")
	pharmacist := registerUser(t, srv, "phil", "pharmacist")

	body := map[string]any{
		"name":             "amoxicillin",
		"batch_number":     "B-100",
		"price":            "3.50",
		"initial_quantity": 25,
	}

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/medicines", pharmacist, body)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("pharmacist create: expected 403, got %d", resp.StatusCode)
	}

	resp, payload := doJSON(t, http.MethodPost, srv.URL+"/medicines", manager, body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("manager create: status %d %v", resp.StatusCode, payload)
	}
	id := int64(payload["id"].(float64))

	resp, payload = doJSON(t, http.MethodGet, fmt.Sprintf("%s/medicines/%d", srv.URL, id), pharmacist, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get medicine: status %d", resp.StatusCode)
	}
	if qty := payload["quantity_in_stock"].(float64); qty != 25 {
		t.Errorf("expected quantity 25, got %v", qty)
	}
}

func TestPrescriptionFlow_EndToEnd(t *testing.T) {
	srv := newTestServer(t)
	manager := registerUser(t, srv, "meg", "manager")
	pharmacist := registerUser(t, srv, "phil", "pharmacist")

	_, medPayload := doJSON(t, http.MethodPost, srv.URL+"/medicines", manager, map[string]any{
		"name":             "metformin",
		"batch_number":     "B-200",
		"initial_quantity": 8,
	})
	medID := int64(medPayload["id"].(float64))

	_, patientPayload := doJSON(t, http.MethodPost, srv.URL+"/patients", pharmacist, map[string]any{
		"first_name": "Jo", "last_name": "Doe", "date_of_birth": "1990-01-01",
	})
	_, doctorPayload := doJSON(t, http.MethodPost, srv.URL+"/doctors", pharmacist, map[string]any{
		"first_name": "Sam", "last_name": "Lee", "medical_code": "MC-1",
	})

	resp, rxPayload := doJSON(t, http.MethodPost, srv.URL+"/prescriptions", pharmacist, map[string]any{
		"patient_id": patientPayload["id"],
		"doctor_id":  doctorPayload["id"],
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create prescription: status %d %v", resp.StatusCode, rxPayload)
	}
	rxID := int64(rxPayload["id"].(float64))

	// Ask for more than is on hand: partial fulfillment with a warning.
	resp, itemPayload := doJSON(t, http.MethodPost, fmt.Sprintf("%s/prescriptions/%d/items", srv.URL, rxID), pharmacist, map[string]any{
		"medicine_id": medID,
		"quantity":    10,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add item: status %d %v", resp.StatusCode, itemPayload)
	}
	if applied := itemPayload["applied"].(float64); applied != 8 {
		t.Errorf("expected applied 8, got %v", applied)
	}
	if itemPayload["warning"] == nil {
		t.Error("expected shortage warning")
	}

	resp, deleted := doJSON(t, http.MethodDelete, fmt.Sprintf("%s/prescriptions/%d", srv.URL, rxID), pharmacist, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete prescription: status %d %v", resp.StatusCode, deleted)
	}

	// Deleting the prescription put the stock back.
	_, medAfter := doJSON(t, http.MethodGet, fmt.Sprintf("%s/medicines/%d", srv.URL, medID), pharmacist, nil)
	if qty := medAfter["quantity_in_stock"].(float64); qty != 8 {
		t.Errorf("expected stock restored to 8, got %v", qty)
	}
}

func TestOrderFlow_ConfirmAndCancel(t *testing.T) {
	srv := newTestServer(t)
	manager := registerUser(t, srv, "meg", "manager")

	_, medPayload := doJSON(t, http.MethodPost, srv.URL+"/medicines", manager, map[string]any{
		"name":             "cetirizine",
		"batch_number":     "B-300",
		"price":            "2.00",
		"initial_quantity": 10,
	})
	medID := int64(medPayload["id"].(float64))

	resp, ordPayload := doJSON(t, http.MethodPost, srv.URL+"/orders", manager, map[string]any{
		"customer_id": 1,
		"lines": []map[string]any{
			{"kind": "medicine", "record_id": medID, "quantity": 4},
		},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("place order: status %d %v", resp.StatusCode, ordPayload)
	}
	ordID := int64(ordPayload["id"].(float64))
	if total := ordPayload["total_amount"].(string); !decimal.RequireFromString(total).Equal(decimal.RequireFromString("8.00")) {
		t.Errorf("expected total 8.00, got %s", total)
	}

	resp, confirm := doJSON(t, http.MethodPost, fmt.Sprintf("%s/orders/%d/confirm", srv.URL, ordID), manager, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("confirm: status %d %v", resp.StatusCode, confirm)
	}

	_, medAfter := doJSON(t, http.MethodGet, fmt.Sprintf("%s/medicines/%d", srv.URL, medID), manager, nil)
	if qty := medAfter["quantity_in_stock"].(float64); qty != 6 {
		t.Errorf("expected stock 6 after confirm, got %v", qty)
	}

	resp, cancel := doJSON(t, http.MethodPost, fmt.Sprintf("%s/orders/%d/cancel", srv.URL, ordID), manager, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel: status %d %v", resp.StatusCode, cancel)
	}

	_, medFinal := doJSON(t, http.MethodGet, fmt.Sprintf("%s/medicines/%d", srv.URL, medID), manager, nil)
	if qty := medFinal["quantity_in_stock"].(float64); qty != 10 {
		t.Errorf("expected stock restored to 10 after cancel, got %v", qty)
	}
}
