package supplier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// panel fakes the supplier endpoint; handlers are keyed by action.
func panel(t *testing.T, handlers map[string]func(w http.ResponseWriter, r *http.Request)) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.ParseForm() != nil {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if r.PostForm.Get("key") != "secret" {
			fmt.Fprint(w, `{"error":"Incorrect API key"}`)
			return
		}
		h, ok := handlers[r.PostForm.Get("action")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, APIKey: "secret", Timeout: 2 * time.Second})
}

func TestServices_ParsesMixedQuoting(t *testing.T) {
	c := panel(t, map[string]func(http.ResponseWriter, *http.Request){
		"services": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `[
				{"service":1,"name":"Followers","type":"Default","category":"Instagram Followers","rate":"0.90","min":"100","max":"10000","refill":true,"cancel":false},
				{"service":"2","name":"Likes","type":"Default","category":"Instagram Likes","rate":0.5,"min":10,"max":5000}
			]`)
		},
	})

	services, err := c.Services(context.Background())
	require.NoError(t, err)
	require.Len(t, services, 2)
	assert.Equal(t, int64(1), services[0].ID)
	assert.Equal(t, 100, services[0].Min)
	assert.Equal(t, 10000, services[0].Max)
	assert.Equal(t, "0.9", services[0].Rate.String())
	assert.True(t, services[0].Refill)
	assert.Equal(t, int64(2), services[1].ID)
	assert.Equal(t, 5000, services[1].Max)
}

func TestPlaceOrder(t *testing.T) {
	c := panel(t, map[string]func(http.ResponseWriter, *http.Request){
		"add": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "1", r.PostForm.Get("service"))
			assert.Equal(t, "https://instagram.com/someone", r.PostForm.Get("link"))
			assert.Equal(t, "1000", r.PostForm.Get("quantity"))
			fmt.Fprint(w, `{"order":555}`)
		},
	})

	id, err := c.PlaceOrder(context.Background(), 1, "https://instagram.com/someone", 1000)
	require.NoError(t, err)
	assert.Equal(t, "555", id)
}

func TestPlaceOrder_VendorError(t *testing.T) {
	c := panel(t, map[string]func(http.ResponseWriter, *http.Request){
		"add": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"error":"Not enough funds on balance"}`)
		},
	})

	_, err := c.PlaceOrder(context.Background(), 1, "l", 10)
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "add", se.Op)
	assert.Equal(t, "Not enough funds on balance", se.Message)
	assert.False(t, se.Timeout())
}

func TestPlaceOrder_TimeoutIsUnknownOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		fmt.Fprint(w, `{"order":1}`)
	}))
	defer srv.Close()
	c := New(Config{BaseURL: srv.URL, APIKey: "secret", Timeout: 20 * time.Millisecond})

	_, err := c.PlaceOrder(context.Background(), 1, "l", 10)
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.True(t, se.Timeout())
}

func TestBatchStatus_IsolatesPerIDErrors(t *testing.T) {
	c := panel(t, map[string]func(http.ResponseWriter, *http.Request){
		"status": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "1,10,100", r.PostForm.Get("orders"))
			fmt.Fprint(w, `{
				"1": {"charge":"0.27819","start_count":"3572","status":"Partial","remains":"157","currency":"USD"},
				"10": {"error":"Incorrect order ID"},
				"100": {"charge":"1.44219","start_count":234,"status":"In progress","remains":"10","currency":"USD"}
			}`)
		},
	})

	results, err := c.BatchStatus(context.Background(), []string{"1", "10", "100"})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Nil(t, results[0].Err)
	assert.Equal(t, StatusPartial, results[0].Status.Status)
	assert.Equal(t, 157, results[0].Status.Remains)
	assert.Equal(t, 3572, results[0].Status.StartCount)

	require.NotNil(t, results[1].Err)
	assert.Equal(t, "Incorrect order ID", results[1].Err.Message)

	assert.Nil(t, results[2].Err)
	assert.Equal(t, StatusInProgress, results[2].Status.Status)
	assert.Equal(t, 234, results[2].Status.StartCount)
}

func TestBatchStatus_MissingIDAndLimit(t *testing.T) {
	c := panel(t, map[string]func(http.ResponseWriter, *http.Request){
		"status": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"1":{"status":"Completed","remains":"0"}}`)
		},
	})

	results, err := c.BatchStatus(context.Background(), []string{"1", "2"})
	require.NoError(t, err)
	assert.Nil(t, results[0].Err)
	require.NotNil(t, results[1].Err)
	assert.Equal(t, "missing", results[1].Err.Code)

	ids := make([]string, MaxBatch+1)
	for i := range ids {
		ids[i] = fmt.Sprint(i)
	}
	_, err = c.BatchStatus(context.Background(), ids)
	assert.True(t, errors.Is(err, ErrTooManyIDs))
}

func TestCancel_PerIDResults(t *testing.T) {
	c := panel(t, map[string]func(http.ResponseWriter, *http.Request){
		"cancel": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `[{"order":9,"cancel":{"error":"Incorrect order ID"}},{"order":2,"cancel":1}]`)
		},
	})

	results, err := c.Cancel(context.Background(), []string{"2", "9"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Nil(t, results[0].Err)
	require.NotNil(t, results[1].Err)
	assert.Equal(t, "Incorrect order ID", results[1].Err.Message)
}

func TestBalanceRefillAndRefillStatus(t *testing.T) {
	c := panel(t, map[string]func(http.ResponseWriter, *http.Request){
		"balance": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"balance":"100.84292","currency":"USD"}`)
		},
		"refill": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "555", r.PostForm.Get("order"))
			fmt.Fprint(w, `{"refill":"1"}`)
		},
		"refill_status": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"status":"Completed"}`)
		},
	})
	ctx := context.Background()

	bal, err := c.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, "100.84292", bal.Amount.String())
	assert.Equal(t, "USD", bal.Currency)

	refillID, err := c.Refill(ctx, "555")
	require.NoError(t, err)
	assert.Equal(t, "1", refillID)

	st, err := c.RefillStatus(ctx, refillID)
	require.NoError(t, err)
	assert.Equal(t, "Completed", st)
}

func TestCall_HTTPErrorCarriesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream down")
	}))
	defer srv.Close()
	c := New(Config{BaseURL: srv.URL, APIKey: "secret"})

	_, err := c.Balance(context.Background())
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
	assert.Equal(t, "upstream down", se.Message)
}
