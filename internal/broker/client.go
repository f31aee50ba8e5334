package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/This-HW/hantu-quant-sub002/internal/alert"
	"github.com/This-HW/hantu-quant-sub002/internal/cache"
	"github.com/This-HW/hantu-quant-sub002/internal/config"
	"github.com/This-HW/hantu-quant-sub002/internal/ratelimit"
)

// kisEnvelope is the common shape of every KIS REST response: a business
// result code, a message code/text pair, and up to three output payloads
// whose shape is endpoint-specific (spec.md §4.4 step 6).
type kisEnvelope struct {
	RtCd    string          `json:"rt_cd"`
	MsgCd   string          `json:"msg_cd"`
	Msg1    string          `json:"msg1"`
	Output  json.RawMessage `json:"output"`
	Output1 json.RawMessage `json:"output1"`
	Output2 json.RawMessage `json:"output2"`
}

type tokenRequest struct {
	GrantType string `json:"grant_type"`
	AppKey    string `json:"appkey"`
	AppSecret string `json:"appsecret"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type hashkeyResponse struct {
	Hash string `json:"HASH"`
}

// KISClient is the concrete REST client the rest of the engine depends on
// through the Broker interface. It is stateless apart from the token store
// and rate limiter it holds — grounded on DhanBroker's shape in
// internal/broker/dhan.go, generalized from a single fixed base URL to the
// paper/live pair and from a flat access-token header to KIS's
// token-store + hashkey signing scheme.
type KISClient struct {
	creds   *config.Credentials
	tokens  *config.TokenStore
	limiter *ratelimit.Limiter
	http    *http.Client
	cfg     Config
	baseURL string
	log     *log.Logger
}

// NewKISClient wires credentials, token persistence, and the shared rate
// limiter into a ready-to-use client. No network call happens here.
func NewKISClient(creds *config.Credentials, tokens *config.TokenStore, limiter *ratelimit.Limiter, cfg Config, logger *log.Logger) *KISClient {
	baseURL := cfg.BaseURLPaper
	if creds.Server == config.ServerLive {
		baseURL = cfg.BaseURLLive
	}
	return &KISClient{
		creds:   creds,
		tokens:  tokens,
		limiter: limiter,
		http:    &http.Client{Timeout: cfg.Timeout},
		cfg:     cfg,
		baseURL: baseURL,
		log:     logger,
	}
}

// EnsureValidToken fails fast (spec.md §4.4 step 1) rather than letting a
// stale token reach the network and burn a rate-limit slot on a guaranteed
// 401.
func (c *KISClient) EnsureValidToken(ctx context.Context) error {
	if c.tokens.EnsureValid(time.Now()) {
		return nil
	}
	ok, err := c.RefreshToken(ctx, false)
	if err != nil {
		return err
	}
	if !ok {
		return &alert.TokenRefreshError{Msg: "refresh returned a non-200 response"}
	}
	return nil
}

// RefreshToken calls /oauth2/tokenP. On a 200, the new token is persisted
// and (true, nil) returned. On any other status the token store is left
// untouched and (false, nil) is returned — the caller decides whether that
// is fatal, per spec.md §4.1's "never raise past this layer" for refresh.
// A non-nil error is returned when the token endpoint cannot be reached or
// its response cannot be read (a *alert.TokenRefreshError), when the
// request cannot be built, or when the new token cannot be persisted.
func (c *KISClient) RefreshToken(ctx context.Context, force bool) (bool, error) {
	if !force && c.tokens.EnsureValid(time.Now()) {
		return true, nil
	}

	body, err := json.Marshal(tokenRequest{
		GrantType: "client_credentials",
		AppKey:    c.creds.AppKey,
		AppSecret: c.creds.AppSecret,
	})
	if err != nil {
		return false, fmt.Errorf("broker: marshal token request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/oauth2/tokenP", bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("broker: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, &alert.TokenRefreshError{Msg: "token endpoint unreachable", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, &alert.TokenRefreshError{Msg: "read token response", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		c.log.Printf("broker: token refresh returned status %d: %s", resp.StatusCode, string(respBody))
		return false, nil
	}

	var tr tokenResponse
	if err := json.Unmarshal(respBody, &tr); err != nil {
		c.log.Printf("broker: token refresh response did not parse: %v", err)
		return false, nil
	}

	tok := config.Token{
		AccessToken: tr.AccessToken,
		ExpiresAt:   time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}
	if err := c.tokens.Save(tok); err != nil {
		return false, fmt.Errorf("broker: persist token: %w", err)
	}
	return true, nil
}

// ClearToken drops the stored token, forcing the next call to refresh.
func (c *KISClient) ClearToken() error { return c.tokens.Clear() }

// computeHashkey signs a mutating order body per spec.md §4.4 step 4.
func (c *KISClient) computeHashkey(ctx context.Context, body []byte) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/uapi/hashkey", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("broker: build hashkey request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("appkey", c.creds.AppKey)
	req.Header.Set("appsecret", c.creds.AppSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &alert.TransientNetworkError{Msg: "hashkey endpoint unreachable", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &alert.TransientNetworkError{Msg: "read hashkey response", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &alert.BrokerLogicError{Code: strconv.Itoa(resp.StatusCode), Msg: "hashkey request rejected"}
	}

	var hk hashkeyResponse
	if err := json.Unmarshal(respBody, &hk); err != nil {
		return "", fmt.Errorf("broker: parse hashkey response: %w", err)
	}
	return hk.Hash, nil
}

type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeRateLimited
	outcomeRetryableBusiness
	outcomeServerError
	outcomeClientError
)

func classifyResponse(statusCode int, env kisEnvelope, cfg Config) outcomeKind {
	if statusCode >= 200 && statusCode < 300 {
		if env.RtCd == "0" {
			return outcomeSuccess
		}
		if env.MsgCd == "EGW00201" {
			return outcomeRateLimited
		}
		if cfg.retryableBusinessCode(env.MsgCd) {
			return outcomeRetryableBusiness
		}
		return outcomeClientError
	}
	if statusCode >= 500 {
		return outcomeServerError
	}
	return outcomeClientError
}

// doRequest implements the full per-request algorithm of spec.md §4.4:
// token check, rate-limit admission, TR-ID resolution, optional hash-key
// signing, send with timeout, classify, retry with capped backoff. It
// returns the raw response body and headers (so tr_cont paging can read
// the continuation header) on success, or a typed error on exhaustion.
func (c *KISClient) doRequest(ctx context.Context, epName string, query url.Values, body interface{}, extraHeaders map[string]string) ([]byte, http.Header, error) {
	ep, ok := endpoint(epName)
	if !ok {
		return nil, nil, fmt.Errorf("broker: unknown endpoint %q", epName)
	}

	if err := c.EnsureValidToken(ctx); err != nil {
		return nil, nil, err
	}

	var bodyBytes []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("broker: marshal request body: %w", err)
		}
		bodyBytes = b
	}

	var hashKey string
	if ep.RequiresHashkey {
		hk, err := c.computeHashkey(ctx, bodyBytes)
		if err != nil {
			return nil, nil, err
		}
		hashKey = hk
	}

	fullURL := c.baseURL + ep.Path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, nil, err
		}

		reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		req, err := http.NewRequestWithContext(reqCtx, ep.Method, fullURL, bytes.NewReader(bodyBytes))
		if err != nil {
			cancel()
			return nil, nil, fmt.Errorf("broker: build request: %w", err)
		}
		c.setStandardHeaders(req, ep.TRID(c.creds.Server), hashKey)
		for k, v := range extraHeaders {
			req.Header.Set(k, v)
		}

		resp, err := c.http.Do(req)
		cancel()
		if err != nil {
			lastErr = &alert.TransientNetworkError{Msg: fmt.Sprintf("%s: request failed", epName), Err: err}
			if attempt == c.cfg.MaxRetries {
				return nil, nil, lastErr
			}
			time.Sleep(backoffFor(attempt))
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = &alert.TransientNetworkError{Msg: fmt.Sprintf("%s: read response", epName), Err: err}
			if attempt == c.cfg.MaxRetries {
				return nil, nil, lastErr
			}
			time.Sleep(backoffFor(attempt))
			continue
		}

		var env kisEnvelope
		_ = json.Unmarshal(respBody, &env) // non-JSON bodies fall through as outcomeClientError/ServerError

		switch classifyResponse(resp.StatusCode, env, c.cfg) {
		case outcomeSuccess:
			return respBody, resp.Header, nil
		case outcomeRateLimited:
			lastErr = &alert.RateLimitError{Code: env.MsgCd, Msg: env.Msg1}
			if attempt == c.cfg.MaxRetries {
				return nil, nil, lastErr
			}
			time.Sleep(10 * time.Second)
		case outcomeRetryableBusiness, outcomeServerError:
			lastErr = &alert.TransientNetworkError{Msg: fmt.Sprintf("%s: %s", env.MsgCd, env.Msg1)}
			if attempt == c.cfg.MaxRetries {
				return nil, nil, lastErr
			}
			time.Sleep(time.Duration(2*attempt) * time.Second)
		default:
			return nil, nil, &alert.BrokerLogicError{Code: env.MsgCd, Msg: env.Msg1}
		}
	}
	return nil, nil, lastErr
}

func backoffFor(attempt int) time.Duration {
	d := time.Duration(attempt) * time.Second
	if d > 8*time.Second {
		d = 8 * time.Second
	}
	return d
}

func (c *KISClient) setStandardHeaders(req *http.Request, trID, hashKey string) {
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("authorization", "Bearer "+c.tokens.Current().AccessToken)
	req.Header.Set("appkey", c.creds.AppKey)
	req.Header.Set("appsecret", c.creds.AppSecret)
	req.Header.Set("tr_id", trID)
	req.Header.Set("custtype", "P")
	if hashKey != "" {
		req.Header.Set("hashkey", hashKey)
	}
}

// --- numeric coercion helpers (spec.md §4.4: "numeric fields coerced via
// int(float(x)) to tolerate strings like \"1000.00\"") ---

func parseFloat(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseIntFromFloat(s string) int {
	return int(parseFloat(s))
}

// --- market data surface ---

func (c *KISClient) GetCurrentPrice(ctx context.Context, code string) (*PriceData, error) {
	if err := validateCode(code); err != nil {
		return nil, err
	}
	q := url.Values{"FID_COND_MRKT_DIV_CODE": {"J"}, "FID_INPUT_ISCD": {code}}
	body, _, err := c.doRequest(ctx, "current_price", q, nil, nil)
	if err != nil {
		return nil, err
	}

	var env struct {
		Output struct {
			StckPrpr string `json:"stck_prpr"`
			PrdyCtrt string `json:"prdy_ctrt"`
			AcmlVol  string `json:"acml_vol"`
			StckHgpr string `json:"stck_hgpr"`
			StckLwpr string `json:"stck_lwpr"`
			StckOprc string `json:"stck_oprc"`
			StckSdpr string `json:"stck_sdpr"`
		} `json:"output"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("broker: parse current price response: %w", err)
	}

	return &PriceData{
		Code:         code,
		CurrentPrice: parseFloat(env.Output.StckPrpr),
		ChangeRate:   parseFloat(env.Output.PrdyCtrt),
		Volume:       parseFloat(env.Output.AcmlVol),
		High:         parseFloat(env.Output.StckHgpr),
		Low:          parseFloat(env.Output.StckLwpr),
		Open:         parseFloat(env.Output.StckOprc),
		PrevClose:    parseFloat(env.Output.StckSdpr),
		FetchedAt:    time.Now(),
	}, nil
}

// dailyBar mirrors one row of output2 from inquire-daily-itemchartprice.
type dailyBar struct {
	Date   string `json:"stck_bsop_date"`
	Open   string `json:"stck_oprc"`
	High   string `json:"stck_hgpr"`
	Low    string `json:"stck_lwpr"`
	Close  string `json:"stck_clpr"`
	Volume string `json:"acml_vol"`
}

func (c *KISClient) GetDailyChart(ctx context.Context, code string, periodDays int) ([]cache.OhlcvBar, error) {
	if err := validateCode(code); err != nil {
		return nil, err
	}
	if err := validatePeriodDays(periodDays); err != nil {
		return nil, err
	}

	end := time.Now()
	start := end.AddDate(0, 0, -periodDays)
	q := url.Values{
		"FID_COND_MRKT_DIV_CODE": {"J"},
		"FID_INPUT_ISCD":         {code},
		"FID_INPUT_DATE_1":       {start.Format("20060102")},
		"FID_INPUT_DATE_2":       {end.Format("20060102")},
		"FID_PERIOD_DIV_CODE":    {"D"},
		"FID_ORG_ADJ_PRC":        {"0"},
	}
	body, _, err := c.doRequest(ctx, "daily_chart", q, nil, nil)
	if err != nil {
		return nil, err
	}

	var env struct {
		Output2 []dailyBar `json:"output2"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("broker: parse daily chart response: %w", err)
	}

	bars := make([]cache.OhlcvBar, 0, len(env.Output2))
	for _, row := range env.Output2 {
		d, err := time.Parse("20060102", row.Date)
		if err != nil {
			continue
		}
		bars = append(bars, cache.OhlcvBar{
			Date:   d,
			Open:   parseFloat(row.Open),
			High:   parseFloat(row.High),
			Low:    parseFloat(row.Low),
			Close:  parseFloat(row.Close),
			Volume: parseFloat(row.Volume),
		})
	}
	// KIS returns newest-first; callers expect chronological order.
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

type indexDailyBar struct {
	Date   string `json:"stck_bsop_date"`
	Open   string `json:"bstp_nmix_oprc"`
	High   string `json:"bstp_nmix_hgpr"`
	Low    string `json:"bstp_nmix_lwpr"`
	Close  string `json:"bstp_nmix_prpr"`
	Volume string `json:"acml_vol"`
}

// GetIndexChart fetches a market index's daily chart (e.g. the KOSPI
// composite, code "0001"), the market-wide counterpart to GetDailyChart.
// KIS serves index quotes through a distinct endpoint and market-division
// code ("U" instead of a stock's "J"), so this does not reuse GetDailyChart.
func (c *KISClient) GetIndexChart(ctx context.Context, indexCode string, periodDays int) ([]cache.OhlcvBar, error) {
	if err := validatePeriodDays(periodDays); err != nil {
		return nil, err
	}

	end := time.Now()
	start := end.AddDate(0, 0, -periodDays)
	q := url.Values{
		"FID_COND_MRKT_DIV_CODE": {"U"},
		"FID_INPUT_ISCD":         {indexCode},
		"FID_INPUT_DATE_1":       {start.Format("20060102")},
		"FID_INPUT_DATE_2":       {end.Format("20060102")},
		"FID_PERIOD_DIV_CODE":    {"D"},
	}
	body, _, err := c.doRequest(ctx, "index_chart", q, nil, nil)
	if err != nil {
		return nil, err
	}

	var env struct {
		Output2 []indexDailyBar `json:"output2"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("broker: parse index chart response: %w", err)
	}

	bars := make([]cache.OhlcvBar, 0, len(env.Output2))
	for _, row := range env.Output2 {
		d, err := time.Parse("20060102", row.Date)
		if err != nil {
			continue
		}
		bars = append(bars, cache.OhlcvBar{
			Date:   d,
			Open:   parseFloat(row.Open),
			High:   parseFloat(row.High),
			Low:    parseFloat(row.Low),
			Close:  parseFloat(row.Close),
			Volume: parseFloat(row.Volume),
		})
	}
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

type minuteBar struct {
	Time   string `json:"stck_cntg_hour"`
	Close  string `json:"stck_prpr"`
	Open   string `json:"stck_oprc"`
	High   string `json:"stck_hgpr"`
	Low    string `json:"stck_lwpr"`
	Volume string `json:"cntg_vol"`
}

func (c *KISClient) GetMinuteBars(ctx context.Context, code string, unit int, count int) ([]cache.OhlcvBar, error) {
	if err := validateCode(code); err != nil {
		return nil, err
	}
	if err := validateCount(count); err != nil {
		return nil, err
	}
	q := url.Values{
		"FID_COND_MRKT_DIV_CODE": {"J"},
		"FID_INPUT_ISCD":         {code},
		"FID_INPUT_HOUR_1":       {strconv.Itoa(unit)},
		"FID_PW_DATA_INCU_YN":    {"N"},
	}
	body, _, err := c.doRequest(ctx, "minute_bars", q, nil, nil)
	if err != nil {
		return nil, err
	}

	var env struct {
		Output2 []minuteBar `json:"output2"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("broker: parse minute bars response: %w", err)
	}

	today := time.Now()
	n := len(env.Output2)
	if n > count {
		n = count
	}
	bars := make([]cache.OhlcvBar, 0, n)
	for _, row := range env.Output2[:n] {
		ts, err := parseHHMMSS(today, row.Time)
		if err != nil {
			continue
		}
		bars = append(bars, cache.OhlcvBar{
			Date:   ts,
			Open:   parseFloat(row.Open),
			High:   parseFloat(row.High),
			Low:    parseFloat(row.Low),
			Close:  parseFloat(row.Close),
			Volume: parseFloat(row.Volume),
		})
	}
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

func parseHHMMSS(day time.Time, hhmmss string) (time.Time, error) {
	if len(hhmmss) != 6 {
		return time.Time{}, fmt.Errorf("broker: malformed time field %q", hhmmss)
	}
	h, err1 := strconv.Atoi(hhmmss[0:2])
	m, err2 := strconv.Atoi(hhmmss[2:4])
	s, err3 := strconv.Atoi(hhmmss[4:6])
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, fmt.Errorf("broker: malformed time field %q", hhmmss)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, s, 0, day.Location()), nil
}

// TickConclusion is one row of the tick_conclusions endpoint.
type TickConclusion struct {
	Time   time.Time
	Price  float64
	Volume float64
}

func (c *KISClient) GetTickConclusions(ctx context.Context, code string, count int) ([]TickConclusion, error) {
	if err := validateCode(code); err != nil {
		return nil, err
	}
	if err := validateCount(count); err != nil {
		return nil, err
	}
	q := url.Values{"FID_COND_MRKT_DIV_CODE": {"J"}, "FID_INPUT_ISCD": {code}}
	body, _, err := c.doRequest(ctx, "tick_conclusions", q, nil, nil)
	if err != nil {
		return nil, err
	}

	var env struct {
		Output2 []struct {
			Time   string `json:"stck_cntg_hour"`
			Price  string `json:"stck_prpr"`
			Volume string `json:"cntg_vol"`
		} `json:"output2"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("broker: parse tick conclusions response: %w", err)
	}

	today := time.Now()
	n := len(env.Output2)
	if n > count {
		n = count
	}
	ticks := make([]TickConclusion, 0, n)
	for _, row := range env.Output2[:n] {
		ts, err := parseHHMMSS(today, row.Time)
		if err != nil {
			continue
		}
		ticks = append(ticks, TickConclusion{Time: ts, Price: parseFloat(row.Price), Volume: parseFloat(row.Volume)})
	}
	return ticks, nil
}

func (c *KISClient) GetOrderbook(ctx context.Context, code string) (*Orderbook, error) {
	if err := validateCode(code); err != nil {
		return nil, err
	}
	q := url.Values{"FID_COND_MRKT_DIV_CODE": {"J"}, "FID_INPUT_ISCD": {code}}
	body, _, err := c.doRequest(ctx, "orderbook", q, nil, nil)
	if err != nil {
		return nil, err
	}

	var env struct {
		Output1 map[string]string `json:"output1"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("broker: parse orderbook response: %w", err)
	}

	ob := &Orderbook{Code: code}
	for i := 0; i < 10; i++ {
		n := i + 1
		ob.AskPrices[i] = parseFloat(env.Output1[fmt.Sprintf("askp%d", n)])
		ob.BidPrices[i] = parseFloat(env.Output1[fmt.Sprintf("bidp%d", n)])
		ob.AskVolumes[i] = parseFloat(env.Output1[fmt.Sprintf("askp_rsqn%d", n)])
		ob.BidVolumes[i] = parseFloat(env.Output1[fmt.Sprintf("bidp_rsqn%d", n)])
	}
	ob.TotalAskVolume = parseFloat(env.Output1["total_askp_rsqn"])
	ob.TotalBidVolume = parseFloat(env.Output1["total_bidp_rsqn"])
	return ob, nil
}

// GetBalance pages through the inquire-balance endpoint following the
// tr_cont continuation protocol of spec.md §4.4.
func (c *KISClient) GetBalance(ctx context.Context) (*Balance, error) {
	bal := &Balance{Positions: map[string]PositionSummary{}}
	trCont := ""

	for {
		q := url.Values{
			"CANO":                  {c.creds.AccountNumber},
			"ACNT_PRDT_CD":          {c.creds.AccountProductCode},
			"AFHR_FLPR_YN":          {"N"},
			"OFL_YN":                {""},
			"INQR_DVSN":             {"02"},
			"UNPR_DVSN":             {"01"},
			"FUND_STTL_ICLD_YN":     {"N"},
			"FNCG_AMT_AUTO_RDPT_YN": {"N"},
			"PRCS_DVSN":             {"01"},
			"CTX_AREA_FK100":        {""},
			"CTX_AREA_NK100":        {""},
		}
		headers := map[string]string{}
		if trCont != "" {
			headers["tr_cont"] = trCont
		}

		body, respHeaders, err := c.doRequest(ctx, "balance", q, nil, headers)
		if err != nil {
			return nil, err
		}

		var env struct {
			Output1 []struct {
				Pdno        string `json:"pdno"`
				PrdtName    string `json:"prdt_name"`
				HldgQty     string `json:"hldg_qty"`
				PchsAvgPric string `json:"pchs_avg_pric"`
				Prpr        string `json:"prpr"`
				EvluPflsAmt string `json:"evlu_pfls_amt"`
			} `json:"output1"`
			Output2 []struct {
				DncaTotAmt string `json:"dnca_tot_amt"`
				TotEvluAmt string `json:"tot_evlu_amt"`
			} `json:"output2"`
		}
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("broker: parse balance response: %w", err)
		}

		for _, p := range env.Output1 {
			if parseIntFromFloat(p.HldgQty) == 0 {
				continue
			}
			bal.Positions[p.Pdno] = PositionSummary{
				Code:         p.Pdno,
				Name:         p.PrdtName,
				Quantity:     parseIntFromFloat(p.HldgQty),
				AveragePrice: parseFloat(p.PchsAvgPric),
				CurrentPrice: parseFloat(p.Prpr),
				PnL:          parseFloat(p.EvluPflsAmt),
			}
		}
		if len(env.Output2) > 0 {
			bal.Deposit = parseFloat(env.Output2[0].DncaTotAmt)
			bal.TotalEvalAmount = parseFloat(env.Output2[0].TotEvluAmt)
		}

		if respHeaders.Get("tr_cont") != "M" {
			break
		}
		trCont = "N"
	}

	return bal, nil
}

func (c *KISClient) GetFunds(ctx context.Context) (*Fund, error) {
	bal, err := c.GetBalance(ctx)
	if err != nil {
		return nil, err
	}
	return &Fund{Deposit: bal.Deposit, TotalEvalAmount: bal.TotalEvalAmount}, nil
}

func (c *KISClient) GetHoldings(ctx context.Context) ([]Holding, error) {
	bal, err := c.GetBalance(ctx)
	if err != nil {
		return nil, err
	}
	holdings := make([]Holding, 0, len(bal.Positions))
	for _, p := range bal.Positions {
		holdings = append(holdings, Holding{
			Code:         p.Code,
			Quantity:     p.Quantity,
			AveragePrice: p.AveragePrice,
			LastPrice:    p.CurrentPrice,
			PnL:          p.PnL,
		})
	}
	return holdings, nil
}

func (c *KISClient) GetPositions(ctx context.Context) ([]Position, error) {
	bal, err := c.GetBalance(ctx)
	if err != nil {
		return nil, err
	}
	positions := make([]Position, 0, len(bal.Positions))
	for _, p := range bal.Positions {
		positions = append(positions, Position{
			Code:         p.Code,
			Quantity:     p.Quantity,
			AveragePrice: p.AveragePrice,
			LastPrice:    p.CurrentPrice,
			PnL:          p.PnL,
		})
	}
	return positions, nil
}

func (c *KISClient) PlaceOrder(ctx context.Context, order Order) (*OrderResponse, error) {
	if err := validateOrder(order); err != nil {
		return nil, err
	}

	epName := "order_buy"
	if order.Side == OrderSideSell {
		epName = "order_sell"
	}

	reqBody := map[string]string{
		"CANO":            c.creds.AccountNumber,
		"ACNT_PRDT_CD":    c.creds.AccountProductCode,
		"PDNO":            order.Code,
		"ORD_DVSN":        kisOrderDivisionCode(order.Division),
		"ORD_QTY":         strconv.Itoa(order.Quantity),
		"ORD_UNPR":        strconv.FormatFloat(order.Price, 'f', 0, 64),
		"SLL_BUY_DVSN_CD": kisSideCode(order.Side),
	}

	body, _, err := c.doRequest(ctx, epName, nil, reqBody, nil)
	if err != nil {
		if ble, ok := err.(*alert.BrokerLogicError); ok {
			return &OrderResponse{Success: false, Message: ble.Msg, ErrorCode: ble.Code}, nil
		}
		return nil, err
	}

	var env struct {
		Output struct {
			OdNo string `json:"ODNO"`
		} `json:"output"`
		Msg1 string `json:"msg1"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("broker: parse order response: %w", err)
	}

	return &OrderResponse{
		Success:     true,
		OrderNumber: env.Output.OdNo,
		Status:      OrderStatusOpen,
		Message:     env.Msg1,
		Timestamp:   time.Now(),
	}, nil
}

func (c *KISClient) CancelOrder(ctx context.Context, orderNumber string) error {
	reqBody := map[string]string{
		"CANO":               c.creds.AccountNumber,
		"ACNT_PRDT_CD":       c.creds.AccountProductCode,
		"KRX_FWDG_ORD_ORGNO": "",
		"ORGN_ODNO":          orderNumber,
		"ORD_DVSN":           "00",
		"RVSE_CNCL_DVSN_CD":  "02",
		"ORD_QTY":            "0",
		"ORD_UNPR":           "0",
		"QTY_ALL_ORD_YN":     "Y",
	}
	_, _, err := c.doRequest(ctx, "order_cancel", nil, reqBody, nil)
	return err
}

func (c *KISClient) GetOrderStatus(ctx context.Context, orderNumber string) (*OrderStatusResponse, error) {
	q := url.Values{
		"CANO":         {c.creds.AccountNumber},
		"ACNT_PRDT_CD": {c.creds.AccountProductCode},
		"ODNO":         {orderNumber},
	}
	body, _, err := c.doRequest(ctx, "order_status", q, nil, nil)
	if err != nil {
		return nil, err
	}

	var env struct {
		Output2 []struct {
			OdNo         string `json:"odno"`
			OrdQty       string `json:"ord_qty"`
			TotCcldQty   string `json:"tot_ccld_qty"`
			AvgPrvsPrc   string `json:"avg_prvs"`
			CcldCndtName string `json:"ccld_cndt_name"`
		} `json:"output2"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("broker: parse order status response: %w", err)
	}

	for _, row := range env.Output2 {
		if row.OdNo != orderNumber {
			continue
		}
		filled := parseIntFromFloat(row.TotCcldQty)
		total := parseIntFromFloat(row.OrdQty)
		status := OrderStatusOpen
		if filled >= total && total > 0 {
			status = OrderStatusCompleted
		}
		return &OrderStatusResponse{
			OrderNumber:  row.OdNo,
			Status:       status,
			FilledQty:    filled,
			PendingQty:   total - filled,
			AveragePrice: parseFloat(row.AvgPrvsPrc),
			Message:      row.CcldCndtName,
			Timestamp:    time.Now(),
		}, nil
	}
	return nil, &alert.BrokerLogicError{Code: "NOT_FOUND", Msg: "order " + orderNumber + " not found in today's executions"}
}
