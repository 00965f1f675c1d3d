package chain

// RPC endpoint paths for emissions network queries. All paths are
// consolidated here so a gateway change touches a single location.
const (
	// Read queries (Cosmos-style REST)
	headPath             = "/v1/query/height"
	submissionWindowPath = "/v1/query/submission-window"
	unfulfilledNoncePath = "/v1/query/unfulfilled-nonce"
	workerInfoPath       = "/v1/query/worker-info"

	// Transaction submission
	submitPayloadPath = "/v1/tx/submit-payload"

	// Confirmation, primary dialect: Ethereum-style JSON-RPC receipt-by-hash
	// posted to the endpoint root.
	rpcRootPath = "/"

	// Confirmation, secondary dialect: Cosmos-style search-by-hash.
	txSearchPath = "/v1/query/tx-by-hash"
)
