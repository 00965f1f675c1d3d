package chain

import (
	"context"
	"encoding/json"
)

// The confirmation path speaks two dialects. The primary is an
// Ethereum-style JSON-RPC receipt-by-hash; the secondary is a Cosmos-style
// search-by-hash. A response counts as the wrong dialect only when it fails
// to parse as JSON or lacks the expected top-level field; an empty result in
// the correct dialect is a valid "still pending" answer and never triggers
// the fallback.

type ethReceiptRequest struct {
	JSONRPC string   `json:"jsonrpc"`
	Method  string   `json:"method"`
	Params  []string `json:"params"`
	ID      int      `json:"id"`
}

// GetTxStatus resolves the confirmation state of a transaction, attempting
// the primary dialect first and falling back to the secondary only on a
// structurally invalid primary answer. When neither dialect recognizes the
// response the status is TxUnvalidatable, not an error.
func (c *HTTPClient) GetTxStatus(ctx context.Context, txHash string) (TxStatus, error) {
	bz, err := c.post(ctx, rpcRootPath, ethReceiptRequest{
		JSONRPC: "2.0",
		Method:  "eth_getTransactionReceipt",
		Params:  []string{txHash},
		ID:      1,
	})
	if err != nil {
		return "", err
	}
	if st, ok := decodeEthReceipt(bz); ok {
		return st, nil
	}

	bz, err = c.post(ctx, txSearchPath, map[string]any{"hash": txHash})
	if err != nil {
		return "", err
	}
	if st, ok := decodeCosmosResult(bz); ok {
		return st, nil
	}
	return TxUnvalidatable, nil
}

// decodeEthReceipt recognizes {"result": null | {"status": "0x1"|"0x0"}}.
func decodeEthReceipt(bz []byte) (TxStatus, bool) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(bz, &top); err != nil {
		return "", false
	}
	result, ok := top["result"]
	if !ok {
		return "", false
	}
	if string(result) == "null" {
		// Valid dialect, receipt not available yet.
		return TxPending, true
	}
	var receipt struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(result, &receipt); err != nil {
		return "", false
	}
	switch receipt.Status {
	case "0x1":
		return TxConfirmed, true
	case "0x0":
		return TxFailed, true
	default:
		return TxPending, true
	}
}

// decodeCosmosResult recognizes either a bare {"code": n} search result or
// the wrapped {"tx_response": null | {"code": n}} form.
func decodeCosmosResult(bz []byte) (TxStatus, bool) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(bz, &top); err != nil {
		return "", false
	}
	if raw, ok := top["tx_response"]; ok {
		if string(raw) == "null" {
			return TxPending, true
		}
		var resp struct {
			Code *int `json:"code"`
		}
		if err := json.Unmarshal(raw, &resp); err != nil || resp.Code == nil {
			return "", false
		}
		if *resp.Code == 0 {
			return TxConfirmed, true
		}
		return TxFailed, true
	}
	if raw, ok := top["code"]; ok {
		return codeToStatus(raw)
	}
	return "", false
}

func codeToStatus(raw json.RawMessage) (TxStatus, bool) {
	var code int
	if err := json.Unmarshal(raw, &code); err != nil {
		return "", false
	}
	if code == 0 {
		return TxConfirmed, true
	}
	return TxFailed, true
}
