package exchange

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"perps/pkg/order"
)

func marketJSON() string {
	return `{
		"status": "OK",
		"data": [{
			"name": "BTC-USD",
			"assetName": "BTC",
			"active": true,
			"l2Config": {
				"type": "PERP",
				"collateralId": "0x31857064564ed0ff978e687456963cba09c2c6985d8f9300a1de4962fafa054d",
				"collateralResolution": 1000000,
				"syntheticId": "0x4254432d3130000000000000000000",
				"syntheticResolution": 1000000
			}
		}]
	}`
}

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	return NewClient(srv.URL, "test-key", 2*time.Second), srv
}

func TestGetMarket(t *testing.T) {
	var gotKey string
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		w.Write([]byte(marketJSON()))
	})
	defer srv.Close()

	m, err := c.GetMarket("BTC-USD")
	if err != nil {
		t.Fatalf("GetMarket failed: %v", err)
	}
	if m.Name != "BTC-USD" || m.L2Config.SyntheticResolution != 1_000_000 {
		t.Fatalf("market = %+v", m)
	}
	if gotKey != "test-key" {
		t.Fatalf("api key header = %q", gotKey)
	}
}

func TestGetMarketNotFound(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"OK","data":[]}`))
	})
	defer srv.Close()

	if _, err := c.GetMarket("DOGE-USD"); !errors.Is(err, order.ErrMarketNotFound) {
		t.Fatalf("got %v, want ErrMarketNotFound", err)
	}
}

func TestGetMarketErrorStatus(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ERROR","data":[]}`))
	})
	defer srv.Close()

	if _, err := c.GetMarket("BTC-USD"); err == nil {
		t.Fatal("error status accepted")
	}
}

func TestGetMarketHTTPFailure(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	defer srv.Close()

	if _, err := c.GetMarket("BTC-USD"); err == nil {
		t.Fatal("502 response accepted")
	}
}

func TestSubmitOrder(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		var o order.Model
		if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
			t.Errorf("request body did not decode: %v", err)
		}
		w.Write([]byte(`{"status":"OK","data":{"id":555,"externalId":"` + o.ID + `"}}`))
	})
	defer srv.Close()

	resp, err := c.SubmitOrder(&order.Model{ID: "ext-1", Market: "BTC-USD"})
	if err != nil {
		t.Fatalf("SubmitOrder failed: %v", err)
	}
	if resp.Data.OrderID != 555 || resp.Data.ExternalID != "ext-1" {
		t.Fatalf("response = %+v", resp)
	}

	if _, err := c.SubmitOrder(nil); err == nil {
		t.Fatal("nil order accepted")
	}
}

func TestSubmitOrderIDMismatch(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"OK","data":{"id":555,"externalId":"someone-else"}}`))
	})
	defer srv.Close()

	if _, err := c.SubmitOrder(&order.Model{ID: "ext-1"}); err == nil {
		t.Fatal("mismatched external id accepted")
	}
}

func TestMassCancel(t *testing.T) {
	var gotBody map[string]any
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("request body did not decode: %v", err)
		}
		w.Write([]byte(`{"status":"OK"}`))
	})
	defer srv.Close()

	if err := c.MassCancel("BTC-USD"); err != nil {
		t.Fatalf("MassCancel failed: %v", err)
	}
	if gotBody["cancelAll"] != true {
		t.Fatalf("cancel body = %v", gotBody)
	}
}
