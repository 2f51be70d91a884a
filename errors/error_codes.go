package errors

import "strconv"

// ERR is the numeric error code carried by every *Error. Codes are grouped in ranges so
// that GetErrorCategory can classify an error without knowing every code.
type ERR int32

const (
	ERR_UNKNOWN            ERR = 0
	ERR_INVALID_ARGUMENT   ERR = 1
	ERR_THRESHOLD_EXCEEDED ERR = 2
	ERR_NOT_FOUND          ERR = 3
	ERR_PROCESSING         ERR = 4
	ERR_CONFIGURATION      ERR = 5
	ERR_CONTEXT            ERR = 6
	ERR_CONTEXT_CANCELED   ERR = 7
	ERR_ERROR              ERR = 9

	// block
	ERR_BLOCK_NOT_FOUND        ERR = 10
	ERR_BLOCK_INVALID          ERR = 11
	ERR_BLOCK_EXISTS           ERR = 12
	ERR_BLOCK_ERROR            ERR = 13
	ERR_BLOCK_PARENT_NOT_FOUND ERR = 14
	ERR_BLOCK_OVERSIZED        ERR = 15
	ERR_BLOCK_CHECKPOINT       ERR = 16
	ERR_INVALID_POW            ERR = 17

	// transaction
	ERR_TX_NOT_FOUND            ERR = 30
	ERR_TX_INVALID              ERR = 31
	ERR_TX_INVALID_DOUBLE_SPEND ERR = 32
	ERR_TX_ALREADY_EXISTS       ERR = 33
	ERR_TX_ERROR                ERR = 34
	ERR_TX_MISSING_INPUTS       ERR = 35
	ERR_TX_IMMATURE_COINBASE    ERR = 36
	ERR_TX_INSUFFICIENT_FEE     ERR = 37
	ERR_TX_REJECTED             ERR = 38
	ERR_INFLATION_MISMATCH      ERR = 39

	// service
	ERR_SERVICE_UNAVAILABLE ERR = 50
	ERR_SERVICE_NOT_STARTED ERR = 51
	ERR_SERVICE_ERROR       ERR = 52

	// storage
	ERR_STORAGE_UNAVAILABLE ERR = 60
	ERR_STORAGE_NOT_STARTED ERR = 61
	ERR_STORAGE_ERROR       ERR = 62
	ERR_STORAGE_TXN         ERR = 63

	// utxo
	ERR_SPENT          ERR = 70
	ERR_UTXO_NOT_FOUND ERR = 71
	ERR_UTXO_ERROR     ERR = 72

	// chain state
	ERR_STATE_INITIALIZATION ERR = 100
	ERR_STATE_ERROR          ERR = 101
	ERR_CHAIN_CORRUPTED      ERR = 102
	ERR_CHAIN_HALTED         ERR = 103
	ERR_REORG_TOO_DEEP       ERR = 104

	// network
	ERR_NETWORK_ERROR              ERR = 110
	ERR_NETWORK_TIMEOUT            ERR = 111
	ERR_NETWORK_CONNECTION_REFUSED ERR = 112
	ERR_NETWORK_INVALID_RESPONSE   ERR = 113
	ERR_NETWORK_PEER_MALICIOUS     ERR = 114

	// participation
	ERR_INSUFFICIENT_STAKE      ERR = 120
	ERR_IMMATURE_COINS          ERR = 121
	ERR_INSUFFICIENT_ACTIVITY   ERR = 122
	ERR_SUBNET_SATURATED        ERR = 123
	ERR_INVALID_LOTTERY         ERR = 124
	ERR_TIMESTAMP_OUT_OF_WINDOW ERR = 125
	ERR_INVALID_SIGNATURE       ERR = 126
	ERR_NOT_ELIGIBLE            ERR = 127
	ERR_STAKE_EXISTS            ERR = 128
)

var ERR_name = map[int32]string{
	0:   "UNKNOWN",
	1:   "INVALID_ARGUMENT",
	2:   "THRESHOLD_EXCEEDED",
	3:   "NOT_FOUND",
	4:   "PROCESSING",
	5:   "CONFIGURATION",
	6:   "CONTEXT",
	7:   "CONTEXT_CANCELED",
	9:   "ERROR",
	10:  "BLOCK_NOT_FOUND",
	11:  "BLOCK_INVALID",
	12:  "BLOCK_EXISTS",
	13:  "BLOCK_ERROR",
	14:  "BLOCK_PARENT_NOT_FOUND",
	15:  "BLOCK_OVERSIZED",
	16:  "BLOCK_CHECKPOINT",
	17:  "INVALID_POW",
	30:  "TX_NOT_FOUND",
	31:  "TX_INVALID",
	32:  "TX_INVALID_DOUBLE_SPEND",
	33:  "TX_ALREADY_EXISTS",
	34:  "TX_ERROR",
	35:  "TX_MISSING_INPUTS",
	36:  "TX_IMMATURE_COINBASE",
	37:  "TX_INSUFFICIENT_FEE",
	38:  "TX_REJECTED",
	39:  "INFLATION_MISMATCH",
	50:  "SERVICE_UNAVAILABLE",
	51:  "SERVICE_NOT_STARTED",
	52:  "SERVICE_ERROR",
	60:  "STORAGE_UNAVAILABLE",
	61:  "STORAGE_NOT_STARTED",
	62:  "STORAGE_ERROR",
	63:  "STORAGE_TXN",
	70:  "SPENT",
	71:  "UTXO_NOT_FOUND",
	72:  "UTXO_ERROR",
	100: "STATE_INITIALIZATION",
	101: "STATE_ERROR",
	102: "CHAIN_CORRUPTED",
	103: "CHAIN_HALTED",
	104: "REORG_TOO_DEEP",
	110: "NETWORK_ERROR",
	111: "NETWORK_TIMEOUT",
	112: "NETWORK_CONNECTION_REFUSED",
	113: "NETWORK_INVALID_RESPONSE",
	114: "NETWORK_PEER_MALICIOUS",
	120: "INSUFFICIENT_STAKE",
	121: "IMMATURE_COINS",
	122: "INSUFFICIENT_ACTIVITY",
	123: "SUBNET_SATURATED",
	124: "INVALID_LOTTERY",
	125: "TIMESTAMP_OUT_OF_WINDOW",
	126: "INVALID_SIGNATURE",
	127: "NOT_ELIGIBLE",
	128: "STAKE_EXISTS",
}

var ERR_value = func() map[string]int32 {
	m := make(map[string]int32, len(ERR_name))
	for k, v := range ERR_name {
		m[v] = k
	}

	return m
}()

func (x ERR) Enum() *ERR {
	p := new(ERR)
	*p = x

	return p
}

func (x ERR) String() string {
	if name, ok := ERR_name[int32(x)]; ok {
		return name
	}

	return strconv.Itoa(int(x))
}
