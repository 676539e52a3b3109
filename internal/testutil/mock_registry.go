// Package testutil provides testing utilities for the firm audit client.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockResponse defines the behavior for a single mock registry response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockRegistry is a configurable mock firm registry for testing.
// It serves GET /api/firms/?limit=&offset= and GET /api/firm/?id=.
type MockRegistry struct {
	server *httptest.Server

	mu          sync.Mutex
	firms       []map[string]any
	details     map[string]any
	sequences   map[string][]MockResponse
	listing     *MockResponse
	omitTotal   bool
	pageCap     int
	listingHits int
	detailHits  map[string]int
	inFlight    int
	maxInFlight int
}

// NewMockRegistry creates a new mock registry server.
func NewMockRegistry() *MockRegistry {
	m := &MockRegistry{
		details:    make(map[string]any),
		sequences:  make(map[string][]MockResponse),
		detailHits: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/firms/", m.handleListing)
	mux.HandleFunc("/api/firm/", m.handleDetail)
	m.server = httptest.NewServer(mux)

	return m
}

// URL returns the mock server URL.
func (m *MockRegistry) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockRegistry) Close() {
	m.server.Close()
}

// AddFirm appends a firm to the listing and registers its detail record.
// A nil detail leaves the detail endpoint returning 404 for that id.
func (m *MockRegistry) AddFirm(id string, detail map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.firms = append(m.firms, map[string]any{"firm_id": id})
	if detail != nil {
		m.details[id] = map[string]any{"firm": detail}
	}
}

// AddListingRow appends a raw listing row without registering a detail.
func (m *MockRegistry) AddListingRow(row map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.firms = append(m.firms, row)
}

// SetDetailBody registers a raw JSON-serializable detail body for id.
func (m *MockRegistry) SetDetailBody(id string, body any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.details[id] = body
}

// SetDetailSequence makes the detail endpoint for id answer with resps in order.
// The last response repeats once the sequence is used up.
func (m *MockRegistry) SetDetailSequence(id string, resps ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequences[id] = resps
}

// SetListingResponse overrides every listing response.
func (m *MockRegistry) SetListingResponse(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listing = &resp
}

// OmitTotal stops the listing from reporting a total.
func (m *MockRegistry) OmitTotal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.omitTotal = true
}

// SetPageCap limits how many rows one listing page returns regardless of limit.
func (m *MockRegistry) SetPageCap(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageCap = n
}

// ListingRequests returns the number of listing requests served.
func (m *MockRegistry) ListingRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listingHits
}

// DetailRequests returns the number of detail requests served for id.
func (m *MockRegistry) DetailRequests(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.detailHits[id]
}

// MaxInFlight returns the highest number of concurrent detail requests observed.
func (m *MockRegistry) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

func (m *MockRegistry) handleListing(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.listingHits++
	override := m.listing
	m.mu.Unlock()

	if override != nil {
		writeMock(w, *override)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	m.mu.Lock()
	if m.pageCap > 0 && limit > m.pageCap {
		limit = m.pageCap
	}
	page := []map[string]any{}
	if offset < len(m.firms) {
		end := offset + limit
		if end > len(m.firms) {
			end = len(m.firms)
		}
		page = m.firms[offset:end]
	}
	body := map[string]any{"firms": page}
	if !m.omitTotal {
		body["total"] = len(m.firms)
	}
	m.mu.Unlock()

	writeJSON(w, http.StatusOK, body)
}

func (m *MockRegistry) handleDetail(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")

	m.mu.Lock()
	m.detailHits[id]++
	attempt := m.detailHits[id]
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	seq := m.sequences[id]
	detail, ok := m.details[id]
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if len(seq) > 0 {
		idx := attempt - 1
		if idx >= len(seq) {
			idx = len(seq) - 1
		}
		writeMock(w, seq[idx])
		return
	}

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func writeMock(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	if resp.StatusCode == 0 {
		resp.StatusCode = http.StatusOK
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewUnavailableResponse creates a 503 Service Unavailable response.
func NewUnavailableResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusServiceUnavailable,
		Body:       `{"error": "Service unavailable"}`,
	}
}

// NewDetailResponse creates a 200 response wrapping fields under "firm".
func NewDetailResponse(fields map[string]any) MockResponse {
	body, _ := json.Marshal(map[string]any{"firm": fields})
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}
