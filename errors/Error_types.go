package errors

var (
	ErrUnknown              = New(ERR_UNKNOWN, "unknown error")
	ErrInvalidArgument      = New(ERR_INVALID_ARGUMENT, "invalid argument")
	ErrThresholdExceeded    = New(ERR_THRESHOLD_EXCEEDED, "threshold exceeded")
	ErrNotFound             = New(ERR_NOT_FOUND, "not found")
	ErrProcessing           = New(ERR_PROCESSING, "error processing")
	ErrConfiguration        = New(ERR_CONFIGURATION, "configuration error")
	ErrContext              = New(ERR_CONTEXT, "context error")
	ErrContextCanceled      = New(ERR_CONTEXT_CANCELED, "context canceled")
	ErrError                = New(ERR_ERROR, "generic error")
	ErrBlockNotFound        = New(ERR_BLOCK_NOT_FOUND, "block not found")
	ErrBlockInvalid         = New(ERR_BLOCK_INVALID, "block invalid")
	ErrBlockExists          = New(ERR_BLOCK_EXISTS, "block exists")
	ErrBlockParentNotFound  = New(ERR_BLOCK_PARENT_NOT_FOUND, "block parent not found")
	ErrBlockOversized       = New(ERR_BLOCK_OVERSIZED, "block exceeds maximum size")
	ErrBlockCheckpoint      = New(ERR_BLOCK_CHECKPOINT, "block conflicts with checkpoint")
	ErrInvalidPoW           = New(ERR_INVALID_POW, "invalid proof of work")
	ErrTxNotFound           = New(ERR_TX_NOT_FOUND, "tx not found")
	ErrTxInvalid            = New(ERR_TX_INVALID, "tx invalid")
	ErrTxInvalidDoubleSpend = New(ERR_TX_INVALID_DOUBLE_SPEND, "tx invalid double spend")
	ErrTxAlreadyExists      = New(ERR_TX_ALREADY_EXISTS, "tx already exists")
	ErrTxMissingInputs      = New(ERR_TX_MISSING_INPUTS, "tx missing inputs")
	ErrTxImmatureCoinbase   = New(ERR_TX_IMMATURE_COINBASE, "tx spends immature coinbase")
	ErrTxInsufficientFee    = New(ERR_TX_INSUFFICIENT_FEE, "tx fee too low")
	ErrTxRejected           = New(ERR_TX_REJECTED, "tx recently rejected")
	ErrInflationMismatch    = New(ERR_INFLATION_MISMATCH, "coinbase value mismatch")
	ErrServiceUnavailable   = New(ERR_SERVICE_UNAVAILABLE, "service unavailable")
	ErrServiceNotStarted    = New(ERR_SERVICE_NOT_STARTED, "service not started")
	ErrServiceError         = New(ERR_SERVICE_ERROR, "service error")
	ErrStorageUnavailable   = New(ERR_STORAGE_UNAVAILABLE, "storage unavailable")
	ErrStorageError         = New(ERR_STORAGE_ERROR, "storage error")
	ErrStorageTxn           = New(ERR_STORAGE_TXN, "storage transaction error")
	ErrSpent                = New(ERR_SPENT, "utxo already spent")
	ErrUtxoNotFound         = New(ERR_UTXO_NOT_FOUND, "utxo not found")
	ErrStateInitialization  = New(ERR_STATE_INITIALIZATION, "error initializing state")
	ErrChainCorrupted       = New(ERR_CHAIN_CORRUPTED, "chain state corrupted")
	ErrChainHalted          = New(ERR_CHAIN_HALTED, "block processing halted")
	ErrReorgTooDeep         = New(ERR_REORG_TOO_DEEP, "reorganization below finality depth")
	ErrNetworkError         = New(ERR_NETWORK_ERROR, "network error")
	ErrNetworkTimeout       = New(ERR_NETWORK_TIMEOUT, "network timeout")
	ErrConnectionRefused    = New(ERR_NETWORK_CONNECTION_REFUSED, "connection refused")
	ErrPeerMalicious        = New(ERR_NETWORK_PEER_MALICIOUS, "peer is malicious")
	ErrInsufficientStake    = New(ERR_INSUFFICIENT_STAKE, "insufficient stake")
	ErrImmatureCoins        = New(ERR_IMMATURE_COINS, "immature coins")
	ErrInsufficientActivity = New(ERR_INSUFFICIENT_ACTIVITY, "insufficient activity")
	ErrSubnetSaturated      = New(ERR_SUBNET_SATURATED, "too many nodes in subnet")
	ErrInvalidLottery       = New(ERR_INVALID_LOTTERY, "invalid lottery proof")
	ErrTimestampWindow      = New(ERR_TIMESTAMP_OUT_OF_WINDOW, "timestamp out of window")
	ErrInvalidSignature     = New(ERR_INVALID_SIGNATURE, "invalid signature")
	ErrNotEligible          = New(ERR_NOT_ELIGIBLE, "not eligible")
	ErrStakeExists          = New(ERR_STAKE_EXISTS, "stake already registered")
)

// errors initialization functions

func NewUnknownError(message string, params ...interface{}) error {
	return New(ERR_UNKNOWN, message, params...)
}
func NewInvalidArgumentError(message string, params ...interface{}) error {
	return New(ERR_INVALID_ARGUMENT, message, params...)
}
func NewThresholdExceededError(message string, params ...interface{}) error {
	return New(ERR_THRESHOLD_EXCEEDED, message, params...)
}
func NewNotFoundError(message string, params ...interface{}) error {
	return New(ERR_NOT_FOUND, message, params...)
}
func NewProcessingError(message string, params ...interface{}) error {
	return New(ERR_PROCESSING, message, params...)
}
func NewConfigurationError(message string, params ...interface{}) error {
	return New(ERR_CONFIGURATION, message, params...)
}
func NewContextCanceledError(message string, params ...interface{}) error {
	return New(ERR_CONTEXT_CANCELED, message, params...)
}
func NewBlockNotFoundError(message string, params ...interface{}) error {
	return New(ERR_BLOCK_NOT_FOUND, message, params...)
}
func NewBlockInvalidError(message string, params ...interface{}) error {
	return New(ERR_BLOCK_INVALID, message, params...)
}
func NewBlockExistsError(message string, params ...interface{}) error {
	return New(ERR_BLOCK_EXISTS, message, params...)
}
func NewBlockParentNotFoundError(message string, params ...interface{}) error {
	return New(ERR_BLOCK_PARENT_NOT_FOUND, message, params...)
}
func NewBlockOversizedError(message string, params ...interface{}) error {
	return New(ERR_BLOCK_OVERSIZED, message, params...)
}
func NewBlockCheckpointError(message string, params ...interface{}) error {
	return New(ERR_BLOCK_CHECKPOINT, message, params...)
}
func NewInvalidPoWError(message string, params ...interface{}) error {
	return New(ERR_INVALID_POW, message, params...)
}
func NewTxNotFoundError(message string, params ...interface{}) error {
	return New(ERR_TX_NOT_FOUND, message, params...)
}
func NewTxInvalidError(message string, params ...interface{}) error {
	return New(ERR_TX_INVALID, message, params...)
}
func NewTxInvalidDoubleSpendError(message string, params ...interface{}) error {
	return New(ERR_TX_INVALID_DOUBLE_SPEND, message, params...)
}
func NewTxAlreadyExistsError(message string, params ...interface{}) error {
	return New(ERR_TX_ALREADY_EXISTS, message, params...)
}
func NewTxMissingInputsError(message string, params ...interface{}) error {
	return New(ERR_TX_MISSING_INPUTS, message, params...)
}
func NewTxImmatureCoinbaseError(message string, params ...interface{}) error {
	return New(ERR_TX_IMMATURE_COINBASE, message, params...)
}
func NewTxInsufficientFeeError(message string, params ...interface{}) error {
	return New(ERR_TX_INSUFFICIENT_FEE, message, params...)
}
func NewTxRejectedError(message string, params ...interface{}) error {
	return New(ERR_TX_REJECTED, message, params...)
}
func NewInflationMismatchError(message string, params ...interface{}) error {
	return New(ERR_INFLATION_MISMATCH, message, params...)
}
func NewServiceError(message string, params ...interface{}) error {
	return New(ERR_SERVICE_ERROR, message, params...)
}
func NewServiceUnavailableError(message string, params ...interface{}) error {
	return New(ERR_SERVICE_UNAVAILABLE, message, params...)
}

func NewServiceNotStartedError(message string, params ...interface{}) error {
	return New(ERR_SERVICE_NOT_STARTED, message, params...)
}
func NewStorageUnavailableError(message string, params ...interface{}) error {
	return New(ERR_STORAGE_UNAVAILABLE, message, params...)
}
func NewStorageError(message string, params ...interface{}) error {
	return New(ERR_STORAGE_ERROR, message, params...)
}
func NewStorageTxnError(message string, params ...interface{}) error {
	return New(ERR_STORAGE_TXN, message, params...)
}
func NewSpentError(message string, params ...interface{}) error {
	return New(ERR_SPENT, message, params...)
}
func NewUtxoNotFoundError(message string, params ...interface{}) error {
	return New(ERR_UTXO_NOT_FOUND, message, params...)
}
func NewStateInitializationError(message string, params ...interface{}) error {
	return New(ERR_STATE_INITIALIZATION, message, params...)
}
func NewChainCorruptedError(message string, params ...interface{}) error {
	return New(ERR_CHAIN_CORRUPTED, message, params...)
}
func NewChainHaltedError(message string, params ...interface{}) error {
	return New(ERR_CHAIN_HALTED, message, params...)
}
func NewReorgTooDeepError(message string, params ...interface{}) error {
	return New(ERR_REORG_TOO_DEEP, message, params...)
}
func NewNetworkError(message string, params ...interface{}) error {
	return New(ERR_NETWORK_ERROR, message, params...)
}
func NewNetworkTimeoutError(message string, params ...interface{}) error {
	return New(ERR_NETWORK_TIMEOUT, message, params...)
}
func NewNetworkConnectionRefusedError(message string, params ...interface{}) error {
	return New(ERR_NETWORK_CONNECTION_REFUSED, message, params...)
}
func NewNetworkPeerMaliciousError(message string, params ...interface{}) error {
	return New(ERR_NETWORK_PEER_MALICIOUS, message, params...)
}
func NewInsufficientStakeError(message string, params ...interface{}) error {
	return New(ERR_INSUFFICIENT_STAKE, message, params...)
}
func NewImmatureCoinsError(message string, params ...interface{}) error {
	return New(ERR_IMMATURE_COINS, message, params...)
}
func NewInsufficientActivityError(message string, params ...interface{}) error {
	return New(ERR_INSUFFICIENT_ACTIVITY, message, params...)
}
func NewSubnetSaturatedError(message string, params ...interface{}) error {
	return New(ERR_SUBNET_SATURATED, message, params...)
}
func NewInvalidLotteryError(message string, params ...interface{}) error {
	return New(ERR_INVALID_LOTTERY, message, params...)
}
func NewTimestampWindowError(message string, params ...interface{}) error {
	return New(ERR_TIMESTAMP_OUT_OF_WINDOW, message, params...)
}
func NewInvalidSignatureError(message string, params ...interface{}) error {
	return New(ERR_INVALID_SIGNATURE, message, params...)
}
func NewNotEligibleError(message string, params ...interface{}) error {
	return New(ERR_NOT_ELIGIBLE, message, params...)
}
func NewStakeExistsError(message string, params ...interface{}) error {
	return New(ERR_STAKE_EXISTS, message, params...)
}
