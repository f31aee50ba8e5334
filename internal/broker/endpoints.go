package broker

import (
	"net/http"

	"github.com/This-HW/hantu-quant-sub002/internal/config"
)

// Endpoint describes one KIS REST call: method, path, the paper/live TR-ID
// pair, the parameters it requires, and whether it needs a hash-key
// signature. This is a compile-time table, not a runtime factory map —
// grounded on, but structurally different from, the teacher's
// `broker.Registry["dhan"] = NewDhanBroker` (one factory per broker name);
// here the registry is one descriptor per KIS endpoint, because spec.md
// §3 requires "no dynamic TR-ID construction."
type Endpoint struct {
	Name            string
	Method          string
	Path            string
	TRIDPaper       string
	TRIDLive        string
	RequiredParams  []string
	RequiresHashkey bool
}

// TRID returns the transaction id for the given server.
func (e Endpoint) TRID(server config.Server) string {
	if server == config.ServerLive {
		return e.TRIDLive
	}
	return e.TRIDPaper
}

var registry = map[string]Endpoint{}

func register(e Endpoint) {
	registry[e.Name] = e
}

func endpoint(name string) (Endpoint, bool) {
	e, ok := registry[name]
	return e, ok
}

func init() {
	register(Endpoint{
		Name:           "current_price",
		Method:         http.MethodGet,
		Path:           "/uapi/domestic-stock/v1/quotations/inquire-price",
		TRIDPaper:      "FHKST01010100",
		TRIDLive:       "FHKST01010100",
		RequiredParams: []string{"FID_COND_MRKT_DIV_CODE", "FID_INPUT_ISCD"},
	})
	register(Endpoint{
		Name:           "daily_chart",
		Method:         http.MethodGet,
		Path:           "/uapi/domestic-stock/v1/quotations/inquire-daily-itemchartprice",
		TRIDPaper:      "FHKST03010100",
		TRIDLive:       "FHKST03010100",
		RequiredParams: []string{"FID_INPUT_ISCD", "FID_INPUT_DATE_1", "FID_INPUT_DATE_2", "FID_PERIOD_DIV_CODE"},
	})
	register(Endpoint{
		Name:           "index_chart",
		Method:         http.MethodGet,
		Path:           "/uapi/domestic-stock/v1/quotations/inquire-daily-indexchartprice",
		TRIDPaper:      "FHPUP02120000",
		TRIDLive:       "FHPUP02120000",
		RequiredParams: []string{"FID_INPUT_ISCD", "FID_INPUT_DATE_1", "FID_INPUT_DATE_2", "FID_PERIOD_DIV_CODE"},
	})
	register(Endpoint{
		Name:           "minute_bars",
		Method:         http.MethodGet,
		Path:           "/uapi/domestic-stock/v1/quotations/inquire-time-itemchartprice",
		TRIDPaper:      "FHKST03010200",
		TRIDLive:       "FHKST03010200",
		RequiredParams: []string{"FID_INPUT_ISCD", "FID_INPUT_HOUR_1"},
	})
	register(Endpoint{
		Name:           "tick_conclusions",
		Method:         http.MethodGet,
		Path:           "/uapi/domestic-stock/v1/quotations/inquire-ccnl",
		TRIDPaper:      "FHKST01010300",
		TRIDLive:       "FHKST01010300",
		RequiredParams: []string{"FID_INPUT_ISCD"},
	})
	register(Endpoint{
		Name:           "orderbook",
		Method:         http.MethodGet,
		Path:           "/uapi/domestic-stock/v1/quotations/inquire-asking-price-exp-ccn",
		TRIDPaper:      "FHKST01010200",
		TRIDLive:       "FHKST01010200",
		RequiredParams: []string{"FID_COND_MRKT_DIV_CODE", "FID_INPUT_ISCD"},
	})
	register(Endpoint{
		Name:           "balance",
		Method:         http.MethodGet,
		Path:           "/uapi/domestic-stock/v1/trading/inquire-balance",
		TRIDPaper:      "VTTC8434R",
		TRIDLive:       "TTTC8434R",
		RequiredParams: []string{"CANO", "ACNT_PRDT_CD"},
	})
	register(Endpoint{
		Name:            "order_buy",
		Method:          http.MethodPost,
		Path:            "/uapi/domestic-stock/v1/trading/order-cash",
		TRIDPaper:       "VTTC0012U",
		TRIDLive:        "TTTC0012U",
		RequiredParams:  []string{"CANO", "ACNT_PRDT_CD", "PDNO", "ORD_DVSN", "ORD_QTY", "ORD_UNPR"},
		RequiresHashkey: true,
	})
	register(Endpoint{
		Name:            "order_sell",
		Method:          http.MethodPost,
		Path:            "/uapi/domestic-stock/v1/trading/order-cash",
		TRIDPaper:       "VTTC0011U",
		TRIDLive:        "TTTC0011U",
		RequiredParams:  []string{"CANO", "ACNT_PRDT_CD", "PDNO", "ORD_DVSN", "ORD_QTY", "ORD_UNPR"},
		RequiresHashkey: true,
	})
	register(Endpoint{
		Name:            "order_cancel",
		Method:          http.MethodPost,
		Path:            "/uapi/domestic-stock/v1/trading/order-rvsecncl",
		TRIDPaper:       "VTTC0803U",
		TRIDLive:        "TTTC0803U",
		RequiredParams:  []string{"CANO", "ACNT_PRDT_CD", "KRX_FWDG_ORD_ORGNO", "ORGN_ODNO"},
		RequiresHashkey: true,
	})
	register(Endpoint{
		Name:           "order_status",
		Method:         http.MethodGet,
		Path:           "/uapi/domestic-stock/v1/trading/inquire-daily-ccld",
		TRIDPaper:      "VTTC8001R",
		TRIDLive:       "TTTC8001R",
		RequiredParams: []string{"CANO", "ACNT_PRDT_CD", "ODNO"},
	})
}
