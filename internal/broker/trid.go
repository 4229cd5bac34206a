package broker

import "github.com/kis-trader/engine/internal/domain"

// operation names the broker call a TR-ID is selected for. Each value
// picks a distinct row in the (operation, account-type) table below.
type operation string

const (
	opBalance      operation = "balance"
	opBuyOrder     operation = "buy_order"
	opSellOrder    operation = "sell_order"
	opQuote        operation = "quote"
	opDailyCandles operation = "daily_candles"
	opMinCandles   operation = "minute_candles"
	opRanking      operation = "ranking"
)

// trIDTable is the static (operation, account-type) -> TR-ID mapping the
// broker's API requires on every call. Read-only reference data: symbols
// live here, never in per-call code.
var trIDTable = map[operation]map[domain.AccountType]string{
	opBalance: {
		domain.Live:  "TTTC8434R",
		domain.Paper: "VTTC8434R",
	},
	opBuyOrder: {
		domain.Live:  "TTTC0802U",
		domain.Paper: "VTTC0802U",
	},
	opSellOrder: {
		domain.Live:  "TTTC0801U",
		domain.Paper: "VTTC0801U",
	},
	// Reference-data operations carry one TR-ID shared by both account
	// types; the map still keys by account-type so callers never special-
	// case a lookup.
	opQuote: {
		domain.Live:  "FHKST01010100",
		domain.Paper: "FHKST01010100",
	},
	opDailyCandles: {
		domain.Live:  "FHKST03010100",
		domain.Paper: "FHKST03010100",
	},
	opMinCandles: {
		domain.Live:  "FHKST03010200",
		domain.Paper: "FHKST03010200",
	},
	opRanking: {
		domain.Live:  "FHPST01710000",
		domain.Paper: "FHPST01710000",
	},
}

// trID looks up the TR-ID for op under acct. Every entry in trIDTable is
// populated for both account types, so a miss here means a new operation
// was added to the table without wiring both rows — a programmer error,
// not a runtime condition callers should handle.
func trID(op operation, acct domain.AccountType) string {
	row, ok := trIDTable[op]
	if !ok {
		panic("broker: no TR-ID row for operation " + string(op))
	}
	id, ok := row[acct]
	if !ok {
		panic("broker: no TR-ID for " + string(op) + "/" + string(acct))
	}
	return id
}
