package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ClareAI/astra-dialout-service/internal/domain"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleStartCall(t *testing.T) {
	svc := newTestService()
	router := mux.NewRouter()
	NewCallHandler(svc, nil, nil).SetupCallRoutes(router)

	body := `{"phone_number": "+16502530000", "customer_name": "Dana"}`
	req := httptest.NewRequest(http.MethodPost, "/call", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)

	var rec domain.CallRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.NotEmpty(t, rec.CallID)
	assert.Equal(t, domain.CallStatusConnecting, rec.Status)
	assert.Equal(t, "Dana", rec.Request.CustomerName)
}

func TestHandleStartCallValidation(t *testing.T) {
	router := mux.NewRouter()
	NewCallHandler(newTestService(), nil, nil).SetupCallRoutes(router)

	for _, body := range []string{
		`{}`,
		`{"phone_number": ""}`,
		`not json`,
		`{"phone_number": "nope"}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/call", strings.NewReader(body))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code, body)
	}
}

func TestHandleGetCall(t *testing.T) {
	svc := newTestService()
	router := mux.NewRouter()
	NewCallHandler(svc, nil, nil).SetupCallRoutes(router)

	created, err := svc.StartCall(t.Context(), domain.CallRequest{PhoneNumber: "+16502530000"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/call/"+created.CallID, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var rec domain.CallRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.Equal(t, created.CallID, rec.CallID)

	req = httptest.NewRequest(http.MethodGet, "/call/missing-id", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleListCalls(t *testing.T) {
	svc := newTestService()
	router := mux.NewRouter()
	NewCallHandler(svc, nil, nil).SetupCallRoutes(router)

	for range 3 {
		_, err := svc.StartCall(t.Context(), domain.CallRequest{PhoneNumber: "+16502530000"})
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodGet, "/calls", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Total int                  `json:"total"`
		Calls []*domain.CallRecord `json:"calls"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Total)
	assert.Len(t, resp.Calls, 3)
}
