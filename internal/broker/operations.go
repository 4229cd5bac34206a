package broker

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"

	"github.com/kis-trader/engine/internal/domain"
)

// Quote is a single point-in-time price snapshot for a symbol.
type Quote struct {
	Symbol     string
	DisplayName string
	LastPrice  float64
	ChangeRate float64
	Volume     int64
}

// Candle is one OHLCV bar, daily or minute resolution depending on the
// call that produced it.
type Candle struct {
	Timestamp string
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// GetQuote fetches the current price for symbol.
func (c *Client) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	q := url.Values{
		"FID_COND_MRKT_DIV_CODE": []string{"J"},
		"FID_INPUT_ISCD":         []string{symbol},
	}
	body, err := c.do(ctx, request{
		op:      opQuote,
		method:  "GET",
		path:    "/uapi/domestic-stock/v1/quotations/inquire-price",
		query:   q,
		account: c.account,
		tokens:  c.tokens,
		limiter: c.limiter,
	})
	if err != nil {
		return Quote{}, err
	}

	output, _ := body["output"].(map[string]any)
	return Quote{
		Symbol:      symbol,
		DisplayName: stringField(output, "hts_kor_isnm"),
		LastPrice:   floatField(output, "stck_prpr"),
		ChangeRate:  floatField(output, "prdy_ctrt"),
		Volume:      int64(floatField(output, "acml_vol")),
	}, nil
}

// GetDailyCandles fetches up to n most recent daily candles for symbol.
func (c *Client) GetDailyCandles(ctx context.Context, symbol string, n int) ([]Candle, error) {
	q := url.Values{
		"FID_COND_MRKT_DIV_CODE": []string{"J"},
		"FID_INPUT_ISCD":         []string{symbol},
		"FID_INPUT_DATE_1":       []string{""},
		"FID_INPUT_DATE_2":       []string{""},
		"FID_PERIOD_DIV_CODE":    []string{"D"},
		"FID_ORG_ADJ_PRC":        []string{"1"},
	}
	body, err := c.do(ctx, request{
		op:      opDailyCandles,
		method:  "GET",
		path:    "/uapi/domestic-stock/v1/quotations/inquire-daily-itemchartprice",
		query:   q,
		account: c.account,
		tokens:  c.tokens,
		limiter: c.limiter,
	})
	if err != nil {
		return nil, err
	}
	return candlesFromOutput2(body, n), nil
}

// GetMinuteCandles fetches up to n most recent one-minute candles for symbol.
func (c *Client) GetMinuteCandles(ctx context.Context, symbol string, n int) ([]Candle, error) {
	q := url.Values{
		"FID_ETC_CLS_CODE":       []string{""},
		"FID_COND_MRKT_DIV_CODE": []string{"J"},
		"FID_INPUT_ISCD":         []string{symbol},
		"FID_INPUT_HOUR_1":       []string{""},
		"FID_PW_DATA_INCU_YN":    []string{"Y"},
		"FID_HOUR_CLS_CODE":      []string{"1"},
	}
	body, err := c.do(ctx, request{
		op:      opMinCandles,
		method:  "GET",
		path:    "/uapi/domestic-stock/v1/quotations/inquire-time-itemchartprice",
		query:   q,
		account: c.account,
		tokens:  c.tokens,
		limiter: c.limiter,
	})
	if err != nil {
		return nil, err
	}
	return candlesFromOutput2(body, n), nil
}

func candlesFromOutput2(body map[string]any, n int) []Candle {
	rows, _ := body["output2"].([]any)
	out := make([]Candle, 0, len(rows))
	for _, r := range rows {
		row, ok := r.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, Candle{
			Timestamp: stringField(row, "stck_bsop_date"),
			Open:      floatField(row, "stck_oprc"),
			High:      floatField(row, "stck_hgpr"),
			Low:       floatField(row, "stck_lwpr"),
			Close:     floatField(row, "stck_clpr"),
			Volume:    int64(floatField(row, "acml_vol")),
		})
		if len(out) >= n {
			break
		}
	}
	return out
}

// GetTopGainersRanking fetches up to limit symbols ranked by intraday
// fluctuation rate. The PAPER endpoint does not expose this feed: a
// PAPER-mode caller must route the call through a Client constructed
// with the LIVE account's credentials instead, and must never reuse
// that borrowed Client for anything but this one read.
func (c *Client) GetTopGainersRanking(ctx context.Context, limit int) ([]domain.CandidateStock, error) {
	q := url.Values{
		"FID_RSFL_RATE1":         []string{""},
		"FID_RSFL_RATE2":         []string{""},
		"FID_COND_MRKT_DIV_CODE": []string{"J"},
		"FID_COND_SCR_DIV_CODE":  []string{"20171"},
		"FID_INPUT_ISCD":         []string{"0000"},
		"FID_DIV_CLS_CODE":       []string{"0"},
		"FID_BLNG_CLS_CODE":      []string{"0"},
		"FID_TRGT_CLS_CODE":      []string{"111111111"},
		"FID_TRGT_EXLS_CLS_CODE": []string{"000000"},
		"FID_INPUT_PRICE_1":      []string{""},
		"FID_INPUT_PRICE_2":      []string{""},
		"FID_VOL_CNT":            []string{""},
		"FID_INPUT_DATE_1":       []string{""},
	}
	body, err := c.do(ctx, request{
		op:      opRanking,
		method:  "GET",
		path:    "/uapi/domestic-stock/v1/ranking/fluctuation",
		query:   q,
		account: c.account,
		tokens:  c.tokens,
		limiter: c.limiter,
	})
	if err != nil {
		return nil, err
	}

	rows, _ := body["output"].([]any)
	out := make([]domain.CandidateStock, 0, limit)
	for _, r := range rows {
		row, ok := r.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, domain.CandidateStock{
			Symbol:               stringField(row, "stck_shrn_iscd"),
			DisplayName:          stringField(row, "hts_kor_isnm"),
			LastPrice:            floatField(row, "stck_prpr"),
			IntradayChangeRate:   floatField(row, "prdy_ctrt"),
			Volume:               int64(floatField(row, "acml_vol")),
			VolumeRatioVsPrevDay: floatField(row, "vol_inrt"),
		})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// GetAccountBalance fetches the current cash/holdings snapshot.
func (c *Client) GetAccountBalance(ctx context.Context) (domain.AccountSnapshot, error) {
	q := url.Values{
		"CANO":                      []string{c.account.AccountNumber},
		"ACNT_PRDT_CD":              []string{c.account.ProductCode},
		"AFHR_FLPR_YN":              []string{"N"},
		"OFL_YN":                    []string{""},
		"INQR_DVSN":                 []string{"02"},
		"UNPR_DVSN":                 []string{"01"},
		"FUND_STTL_ICLD_YN":         []string{"N"},
		"FNCG_AMT_AUTO_RDPT_YN":     []string{"N"},
		"PRCS_DVSN":                 []string{"01"},
		"CTX_AREA_FK100":            []string{""},
		"CTX_AREA_NK100":            []string{""},
	}
	body, err := c.do(ctx, request{
		op:      opBalance,
		method:  "GET",
		path:    "/uapi/domestic-stock/v1/trading/inquire-balance",
		query:   q,
		account: c.account,
		tokens:  c.tokens,
		limiter: c.limiter,
	})
	if err != nil {
		return domain.AccountSnapshot{}, err
	}

	positions := map[string]domain.Position{}
	if rows, ok := body["output1"].([]any); ok {
		for _, r := range rows {
			row, ok := r.(map[string]any)
			if !ok {
				continue
			}
			qty := int(floatField(row, "hldg_qty"))
			if qty == 0 {
				continue
			}
			symbol := stringField(row, "pdno")
			positions[symbol] = domain.Position{
				Symbol:            symbol,
				DisplayName:       stringField(row, "prdt_name"),
				Quantity:          qty,
				SellableQuantity:  int(floatField(row, "ord_psbl_qty")),
				AveragePrice:      floatField(row, "pchs_avg_pric"),
				CurrentPrice:      floatField(row, "prpr"),
				EvaluationAmount:  floatField(row, "evlu_amt"),
				UnrealizedPnL:     floatField(row, "evlu_pfls_amt"),
				UnrealizedPnLRate: floatField(row, "evlu_pfls_rt"),
			}
		}
	}

	summary := map[string]any{}
	if rows, ok := body["output2"].([]any); ok && len(rows) > 0 {
		if row, ok := rows[0].(map[string]any); ok {
			summary = row
		}
	}

	return domain.AccountSnapshot{
		CashBalance:     floatField(summary, "dnca_tot_amt"),
		AvailableCash:   floatField(summary, "prvs_rcdl_excc_amt"),
		TotalEvaluation: floatField(summary, "tot_evlu_amt"),
		RealizedPnL:     floatField(summary, "rlzt_pfls_amt"),
		PnLRate:         floatField(summary, "asst_icdc_erng_rt"),
		Positions:       positions,
	}, nil
}

// orderCashRequest is the JSON body for domestic cash order placement.
type orderCashRequest struct {
	CANO            string `json:"CANO"`
	AcntPrdtCd      string `json:"ACNT_PRDT_CD"`
	PdNo            string `json:"PDNO"`
	OrdDvsn         string `json:"ORD_DVSN"`
	OrdQty          string `json:"ORD_QTY"`
	OrdUnpr         string `json:"ORD_UNPR"`
}

// PlaceBuyOrder submits a market or limit buy order.
func (c *Client) PlaceBuyOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	return c.placeOrder(ctx, opBuyOrder, req)
}

// PlaceSellOrder submits a market or limit sell order.
func (c *Client) PlaceSellOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	return c.placeOrder(ctx, opSellOrder, req)
}

func (c *Client) placeOrder(ctx context.Context, op operation, req domain.OrderRequest) (domain.OrderResult, error) {
	if req.Quantity <= 0 {
		return domain.OrderResult{}, &domain.ClientError{StatusCode: 0, Message: "quantity must be positive"}
	}
	if !isSixCharSymbol(req.Symbol) {
		return domain.OrderResult{}, &domain.ClientError{StatusCode: 0, Message: "symbol must be a 6-character code"}
	}

	if c.simulate {
		c.log.Info().Str("symbol", req.Symbol).Str("side", string(req.Side)).Msg("simulated order acknowledgment (diagnostic mode)")
		return domain.OrderResult{
			Accepted:      true,
			OrderID:       "SIM-" + uuid.NewString(),
			BrokerCode:    "0",
			BrokerMessage: "simulated",
			Simulated:     true,
		}, nil
	}

	ordDvsn := "01" // market
	ordUnpr := "0"
	if req.PriceMode == domain.Limit {
		ordDvsn = "00"
		ordUnpr = strconv.FormatFloat(req.LimitPrice, 'f', 0, 64)
	}

	body := orderCashRequest{
		CANO:       c.account.AccountNumber,
		AcntPrdtCd: c.account.ProductCode,
		PdNo:       req.Symbol,
		OrdDvsn:    ordDvsn,
		OrdQty:     strconv.Itoa(req.Quantity),
		OrdUnpr:    ordUnpr,
	}

	decoded, err := c.do(ctx, request{
		op:         op,
		method:     "POST",
		path:       "/uapi/domestic-stock/v1/trading/order-cash",
		body:       body,
		useHashkey: true,
		isOrder:    true,
		account:    c.account,
		tokens:     c.tokens,
		limiter:    c.limiter,
	})
	if err != nil {
		return domain.OrderResult{}, err
	}

	output, _ := decoded["output"].(map[string]any)
	return domain.OrderResult{
		Accepted:      true,
		OrderID:       stringField(output, "ODNO"),
		BrokerCode:    stringField(decoded, "rt_cd"),
		BrokerMessage: stringField(decoded, "msg1"),
		Raw:           decoded,
	}, nil
}

func isSixCharSymbol(s string) bool {
	if len(s) != 6 {
		return false
	}
	for _, r := range s {
		if !(r >= '0' && r <= '9') && !(r >= 'A' && r <= 'Z') && !(r >= 'a' && r <= 'z') {
			return false
		}
	}
	return true
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", v)
	}
	return ""
}

func floatField(m map[string]any, key string) float64 {
	if m == nil {
		return 0
	}
	v, ok := m[key]
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
