package chainrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

// fakeNode is a minimal JSON-RPC endpoint for exercising LiveClient.
func fakeNode(t *testing.T, handle func(method string, params []json.RawMessage) (any, *rpcTestError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
			ID     int64             `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode rpc request: %v", err)
			return
		}
		result, rpcError := handle(req.Method, req.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcError != nil {
			resp["error"] = rpcError
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp) //nolint:errcheck
	}))
}

type rpcTestError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func TestLiveChainHead(t *testing.T) {
	srv := fakeNode(t, func(method string, _ []json.RawMessage) (any, *rpcTestError) {
		if method != "eth_blockNumber" {
			t.Errorf("unexpected method %s", method)
		}
		return "0x4cb2f", nil
	})
	defer srv.Close()

	c := NewLive(srv.URL, "0xwallet", 0, zap.NewNop())
	head, err := c.ChainHead(context.Background())
	if err != nil {
		t.Fatalf("chain head: %v", err)
	}
	if head != 0x4cb2f {
		t.Errorf("head = %d, want %d", head, 0x4cb2f)
	}
}

func TestLiveSubmitBuildsSelfAddressedTx(t *testing.T) {
	const wallet = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	payload := strings.Repeat("ab", 32)

	var sent map[string]any
	srv := fakeNode(t, func(method string, params []json.RawMessage) (any, *rpcTestError) {
		switch method {
		case "eth_getTransactionCount":
			return "0x7", nil
		case "eth_maxPriorityFeePerGas":
			return "0x59682f00", nil
		case "eth_feeHistory":
			return map[string]any{"baseFeePerGas": []string{"0x3b9aca00"}}, nil
		case "eth_sendTransaction":
			if err := json.Unmarshal(params[0], &sent); err != nil {
				t.Errorf("decode tx: %v", err)
			}
			return "0xdeadbeef", nil
		default:
			t.Errorf("unexpected method %s", method)
			return nil, &rpcTestError{Code: -32601, Message: "method not found"}
		}
	})
	defer srv.Close()

	c := NewLive(srv.URL, wallet, 0, zap.NewNop())
	txHash, err := c.Submit(context.Background(), payload)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if txHash != "0xdeadbeef" {
		t.Errorf("tx hash = %s, want 0xdeadbeef", txHash)
	}

	if sent["from"] != wallet || sent["to"] != wallet {
		t.Errorf("tx not self-addressed: from=%v to=%v", sent["from"], sent["to"])
	}
	if sent["value"] != "0x0" {
		t.Errorf("tx value = %v, want 0x0", sent["value"])
	}
	if sent["data"] != "0x"+payload {
		t.Errorf("tx data = %v, want embedded payload hash", sent["data"])
	}
	if sent["nonce"] != "0x7" {
		t.Errorf("tx nonce = %v, want 0x7", sent["nonce"])
	}
}

func TestLiveSubmitPayloadTooLarge(t *testing.T) {
	c := NewLive("http://127.0.0.1:0", "0xwallet", 0, zap.NewNop())
	_, err := c.Submit(context.Background(), strings.Repeat("a", 7000))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("err = %v, want ErrPayloadTooLarge", err)
	}
}

func TestLiveReceiptStillMining(t *testing.T) {
	srv := fakeNode(t, func(_ string, _ []json.RawMessage) (any, *rpcTestError) {
		return nil, nil
	})
	defer srv.Close()

	c := NewLive(srv.URL, "0xwallet", 0, zap.NewNop())
	receipt, err := c.Receipt(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}
	if receipt != nil {
		t.Errorf("receipt = %+v, want nil while unmined", receipt)
	}
}

func TestLiveReceiptOutcomes(t *testing.T) {
	cases := []struct {
		name    string
		status  string
		success bool
	}{
		{"success", "0x1", true},
		{"reverted", "0x0", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := fakeNode(t, func(_ string, _ []json.RawMessage) (any, *rpcTestError) {
				return map[string]any{"status": tc.status, "blockNumber": "0x2a"}, nil
			})
			defer srv.Close()

			c := NewLive(srv.URL, "0xwallet", 0, zap.NewNop())
			receipt, err := c.Receipt(context.Background(), "0xabc")
			if err != nil {
				t.Fatalf("receipt: %v", err)
			}
			if receipt == nil || receipt.Success != tc.success || receipt.BlockNumber != 42 {
				t.Errorf("receipt = %+v, want success=%v block=42", receipt, tc.success)
			}
		})
	}
}

func TestLiveNodeErrorSurfacesAsRPCError(t *testing.T) {
	srv := fakeNode(t, func(_ string, _ []json.RawMessage) (any, *rpcTestError) {
		return nil, &rpcTestError{Code: -32000, Message: "insufficient funds"}
	})
	defer srv.Close()

	c := NewLive(srv.URL, "0xwallet", 0, zap.NewNop())
	_, err := c.ChainHead(context.Background())

	var rpcError *RPCError
	if !errors.As(err, &rpcError) {
		t.Fatalf("err = %v, want *RPCError", err)
	}
	if rpcError.Code != -32000 {
		t.Errorf("code = %d, want -32000", rpcError.Code)
	}
}

func TestLivePingUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // connection refused from here on

	c := NewLive(srv.URL, "0xwallet", 0, zap.NewNop())
	ok, latency := c.Ping(context.Background())
	if ok || latency != -1 {
		t.Errorf("ping = (%v, %d), want (false, -1)", ok, latency)
	}
}

func TestLiveFeeFallback(t *testing.T) {
	srv := fakeNode(t, func(method string, _ []json.RawMessage) (any, *rpcTestError) {
		return nil, &rpcTestError{Code: -32601, Message: "method not found"}
	})
	defer srv.Close()

	c := NewLive(srv.URL, "0xwallet", 0, zap.NewNop())
	fees, err := c.EstimateFees(context.Background())
	if err != nil {
		t.Fatalf("estimate fees: %v", err)
	}
	if fees.PriorityFee != fallbackPriorityFeeWei || fees.MaxFee != fallbackMaxFeeWei {
		t.Errorf("fees = %+v, want fallback constants", fees)
	}
}

func TestSimSubmitAndReceipt(t *testing.T) {
	c := NewSim(zap.NewNop())
	ctx := context.Background()

	payload := strings.Repeat("cd", 32)
	txHash, err := c.Submit(ctx, payload)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !strings.HasPrefix(txHash, "sim_"+payload[:16]) {
		t.Errorf("tx hash = %s, want sim_ prefix embedding the payload", txHash)
	}
	if !IsSimulated(txHash) {
		t.Errorf("IsSimulated(%s) = false, want true", txHash)
	}

	receipt, err := c.Receipt(ctx, txHash)
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}
	if receipt == nil || !receipt.Success || receipt.BlockNumber < simGenesisHead {
		t.Errorf("receipt = %+v, want immediate success at simulated head", receipt)
	}
}

func TestSimChainHeadMonotonic(t *testing.T) {
	c := NewSim(zap.NewNop())
	prev := int64(-1)
	for i := 0; i < 5; i++ {
		head, err := c.ChainHead(context.Background())
		if err != nil {
			t.Fatalf("chain head: %v", err)
		}
		if head <= prev {
			t.Fatalf("head %d not greater than previous %d", head, prev)
		}
		prev = head
	}
}

func TestSimRejectsOversizedPayload(t *testing.T) {
	c := NewSim(zap.NewNop())
	if _, err := c.Submit(context.Background(), strings.Repeat("a", 7000)); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("err = %v, want ErrPayloadTooLarge", err)
	}
}

func TestIsSimulated(t *testing.T) {
	for _, txHash := range []string{"sim_abc_1", "pod_" + strings.Repeat("a", 32), "poe_" + strings.Repeat("b", 32)} {
		if !IsSimulated(txHash) {
			t.Errorf("IsSimulated(%s) = false, want true", txHash)
		}
	}
	if IsSimulated("0xdeadbeef") {
		t.Error("IsSimulated(0xdeadbeef) = true, want false")
	}
}

func TestCalldataPadding(t *testing.T) {
	data, err := calldataHex("abc")
	if err != nil {
		t.Fatalf("calldata: %v", err)
	}
	if data != "0x0abc" {
		t.Errorf("calldata = %s, want 0x0abc (even-length-padded)", data)
	}
	if len(data)%2 != 0 {
		t.Errorf("calldata %s has odd hex length", data)
	}
}

func TestNewSelectsVariant(t *testing.T) {
	if _, ok := New("", "", 0, zap.NewNop()).(*SimClient); !ok {
		t.Error("empty endpoint did not select the simulated client")
	}
	if _, ok := New("http://localhost:8545", "0xwallet", 0, zap.NewNop()).(*LiveClient); !ok {
		t.Error("configured endpoint did not select the live client")
	}
}

// Guards against fee arithmetic drifting: max fee is 2*base + priority.
func TestLiveFeeComputation(t *testing.T) {
	srv := fakeNode(t, func(method string, _ []json.RawMessage) (any, *rpcTestError) {
		switch method {
		case "eth_maxPriorityFeePerGas":
			return hexInt(2_000_000_000), nil
		case "eth_feeHistory":
			return map[string]any{"baseFeePerGas": []string{hexInt(10_000_000_000)}}, nil
		default:
			return nil, &rpcTestError{Code: -32601, Message: fmt.Sprintf("unexpected %s", method)}
		}
	})
	defer srv.Close()

	c := NewLive(srv.URL, "0xwallet", 0, zap.NewNop())
	fees, err := c.EstimateFees(context.Background())
	if err != nil {
		t.Fatalf("estimate fees: %v", err)
	}
	if fees.PriorityFee != 2_000_000_000 {
		t.Errorf("priority fee = %d, want 2 gwei", fees.PriorityFee)
	}
	if want := int64(2*10_000_000_000 + 2_000_000_000); fees.MaxFee != want {
		t.Errorf("max fee = %d, want %d", fees.MaxFee, want)
	}
}
