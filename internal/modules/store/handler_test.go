package store

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georgemunganga/marketplace/internal/middleware"
)

func newRouter(f *fixture) *chi.Mux {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if as := r.Header.Get("X-Test-User"); as != "" {
				r = r.WithContext(middleware.WithUserID(r.Context(), as))
			}
			next.ServeHTTP(w, r)
		})
	})
	NewHandler(f.svc).RegisterRoutes(r)
	return r
}

func call(t *testing.T, r http.Handler, method, path, user string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandlerStoreFlow(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)

	rec := call(t, r, http.MethodPost, "/api/v1/stores/", "", CreateStoreRequest{Name: "Corner"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = call(t, r, http.MethodPost, "/api/v1/stores/", "alice", CreateStoreRequest{Name: "Corner"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var st Store
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))

	base := "/api/v1/stores/" + st.ID
	rec = call(t, r, http.MethodPost, base+"/owners", "alice", map[string]string{"user_id": "bob"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	rec = call(t, r, http.MethodPost, base+"/owners", "alice", map[string]string{"user_id": "bob"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = call(t, r, http.MethodPost, base+"/listings", "bob", map[string]interface{}{
		"name": "pen", "category": "office", "price": "4", "quantity": 10,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var listing struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))

	rec = call(t, r, http.MethodPost, base+"/policies/purchase", "bob", map[string]string{"type": "MINITEMS", "value": "3"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = call(t, r, http.MethodPost, base+"/quote", "", map[string]interface{}{"items": map[string]int{listing.ID: 1}})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var rejected struct {
		Violations []struct {
			Policy string `json:"policy"`
		} `json:"violations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rejected))
	require.Len(t, rejected.Violations, 1)
	assert.Equal(t, "MINITEMS(3)", rejected.Violations[0].Policy)

	rec = call(t, r, http.MethodPost, base+"/quote", "", map[string]interface{}{"items": map[string]int{listing.ID: 3}})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = call(t, r, http.MethodPost, base+"/close", "bob", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = call(t, r, http.MethodDelete, base+"/policies/discounts/x", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = call(t, r, http.MethodGet, "/api/v1/stores/?name=corner", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = call(t, r, http.MethodGet, "/api/v1/stores/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
