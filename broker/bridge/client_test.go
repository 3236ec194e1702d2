package bridge

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/rustyeddy/futdesk/broker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sidecar struct {
	mu       sync.Mutex
	placed   []placeRequest
	keys     []string
	canceled []string
	status   map[string]statusResponse
}

func newSidecar(t *testing.T) (*sidecar, *Client) {
	t.Helper()
	s := &sidecar{status: map[string]statusResponse{}}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /quote/{code}", func(w http.ResponseWriter, r *http.Request) {
		code := r.PathValue("code")
		switch code {
		case "HK.MHI2506":
			writeJSON(w, http.StatusOK, quoteResponse{Code: code, LastPrice: 23015})
		case "HK.EMPTY":
			writeJSON(w, http.StatusOK, quoteResponse{Code: code})
		default:
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "quote context down"})
		}
	})
	mux.HandleFunc("POST /orders", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		var req placeRequest
		if err := sonic.Unmarshal(b, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}
		if req.Qty > 100 {
			writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "qty exceeds limit"})
			return
		}
		s.mu.Lock()
		s.placed = append(s.placed, req)
		s.keys = append(s.keys, r.Header.Get("Idempotency-Key"))
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, placeResponse{OrderID: "F-1001"})
	})
	mux.HandleFunc("POST /orders/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if id != "F-1001" {
			http.NotFound(w, r)
			return
		}
		s.mu.Lock()
		s.canceled = append(s.canceled, id)
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		st, ok := s.status[r.PathValue("id")]
		s.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "no such order"})
			return
		}
		assert.Equal(t, "SIMULATE", r.URL.Query().Get("trd_env"))
		writeJSON(w, http.StatusOK, st)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return s, New(srv.URL+"/", Simulate, time.Second)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, _ := sonic.Marshal(v)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(b)
}

func TestQuote(t *testing.T) {
	t.Parallel()
	_, c := newSidecar(t)
	ctx := context.Background()

	p, err := c.Quote(ctx, "HK.MHI2506")
	require.NoError(t, err)
	assert.Equal(t, 23015.0, p)

	_, err = c.Quote(ctx, "HK.EMPTY")
	assert.ErrorIs(t, err, broker.ErrUnavailable)

	_, err = c.Quote(ctx, "HK.DOWN")
	assert.ErrorIs(t, err, broker.ErrTransient)
	assert.ErrorContains(t, err, "quote context down")
}

func TestSubmitOrder(t *testing.T) {
	t.Parallel()
	s, c := newSidecar(t)
	ctx := context.Background()

	id, err := c.SubmitOrder(ctx, broker.OrderRequest{
		Instrument: "HK.MHI2506", Side: broker.Sell, Qty: 2, Price: 23010, Remark: "HSI-007",
	})
	require.NoError(t, err)
	assert.Equal(t, "F-1001", id)

	_, err = c.SubmitOrder(ctx, broker.OrderRequest{
		Instrument: "HK.MHI2506", Side: broker.Buy, Qty: 1, Price: 23015, Market: true,
	})
	require.NoError(t, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.placed, 2)
	assert.Equal(t, placeRequest{
		Code: "HK.MHI2506", TrdSide: "SELL", Qty: 2, Price: 23010,
		OrderType: "NORMAL", TrdEnv: Simulate, Remark: "HSI-007",
	}, s.placed[0])
	assert.Equal(t, "MARKET", s.placed[1].OrderType)
	assert.Equal(t, "BUY", s.placed[1].TrdSide)

	for _, k := range s.keys {
		_, err := uuid.Parse(k)
		assert.NoError(t, err)
	}
	assert.NotEqual(t, s.keys[0], s.keys[1])
}

func TestSubmitRejected(t *testing.T) {
	t.Parallel()
	_, c := newSidecar(t)

	_, err := c.SubmitOrder(context.Background(), broker.OrderRequest{
		Instrument: "HK.MHI2506", Side: broker.Buy, Qty: 500, Price: 23000,
	})
	assert.ErrorIs(t, err, broker.ErrRejected)
	assert.ErrorContains(t, err, "qty exceeds limit")

	_, err = c.SubmitOrder(context.Background(), broker.OrderRequest{Side: broker.Buy, Qty: 1, Price: 1})
	assert.ErrorIs(t, err, broker.ErrRejected)
}

func TestCancelOrder(t *testing.T) {
	t.Parallel()
	s, c := newSidecar(t)

	require.NoError(t, c.CancelOrder(context.Background(), "F-1001"))
	s.mu.Lock()
	assert.Equal(t, []string{"F-1001"}, s.canceled)
	s.mu.Unlock()
	assert.ErrorIs(t, c.CancelOrder(context.Background(), "F-9"), broker.ErrNotFound)
}

func TestQueryStatus(t *testing.T) {
	t.Parallel()
	s, c := newSidecar(t)
	s.mu.Lock()
	s.status["F-1"] = statusResponse{OrderID: "F-1", OrderStatus: "SUBMITTED"}
	s.status["F-2"] = statusResponse{OrderID: "F-2", OrderStatus: "FILLED_ALL", DealtAvgPrice: 23011, DealtQty: 2}
	s.status["F-3"] = statusResponse{OrderID: "F-3", OrderStatus: "CANCELLED_ALL"}
	s.status["F-5"] = statusResponse{OrderID: "F-5", OrderStatus: "SUBMIT_FAILED"}
	s.status["F-6"] = statusResponse{OrderID: "F-6", OrderStatus: "CANCELLED_PART", DealtQty: 1}
	s.mu.Unlock()

	ctx := context.Background()
	st, err := c.QueryStatus(ctx, "F-1")
	require.NoError(t, err)
	assert.Equal(t, broker.Pending, st.Status)

	st, err = c.QueryStatus(ctx, "F-2")
	require.NoError(t, err)
	assert.Equal(t, broker.OrderState{Status: broker.Filled, FillPrice: 23011, FilledQty: 2}, st)

	st, err = c.QueryStatus(ctx, "F-3")
	require.NoError(t, err)
	assert.Equal(t, broker.Cancelled, st.Status)

	_, err = c.QueryStatus(ctx, "F-4")
	assert.ErrorIs(t, err, broker.ErrNotFound)

	st, err = c.QueryStatus(ctx, "F-5")
	require.NoError(t, err)
	assert.Equal(t, broker.Failed, st.Status)

	st, err = c.QueryStatus(ctx, "F-6")
	require.NoError(t, err)
	assert.True(t, st.Status.Terminal(), "partly cancelled orders stop polling")
	assert.Equal(t, broker.Cancelled, st.Status)
}

func TestUnreachable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url, Simulate, time.Second)
	_, err := c.Quote(context.Background(), "HK.MHI2506")
	assert.ErrorIs(t, err, broker.ErrUnavailable)
}

func TestParseEnv(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]Env{"": Simulate, "simulate": Simulate, "REAL": Real, " live ": Real} {
		got, err := ParseEnv(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseEnv("moon")
	assert.Error(t, err)

	c := New("", "", 0)
	assert.Equal(t, DefaultBaseURL, c.BaseURL)
	assert.Equal(t, DefaultTimeout, c.HTTP.Timeout)
	assert.Equal(t, Simulate, c.Env)
}
