package chain

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"
)

type fakeNode struct {
	t         *testing.T
	mu        sync.Mutex
	height    uint64
	blockHash string
	keys      json.RawMessage
	requests  map[int64]string
	broadcast [][]byte
	failTx    bool
}

func newFakeNode(t *testing.T) (*fakeNode, *httptest.Server) {
	hash := sha256.Sum256([]byte("latest"))
	node := &fakeNode{
		t:         t,
		height:    1000,
		blockHash: base58.Encode(hash[:]),
		requests:  map[int64]string{},
	}
	server := httptest.NewServer(http.HandlerFunc(node.serve))
	t.Cleanup(server.Close)
	return node, server
}

func (n *fakeNode) serve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     string          `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	require.NoError(n.t, json.NewDecoder(r.Body).Decode(&req))

	n.mu.Lock()
	defer n.mu.Unlock()

	reply := func(result interface{}) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}
	fail := func(code int, message, data string) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0", "id": req.ID,
			"error": map[string]interface{}{"code": code, "message": message, "data": data},
		})
	}

	switch req.Method {
	case "block":
		reply(map[string]interface{}{"header": map[string]interface{}{"height": n.height, "hash": n.blockHash}})
	case "query":
		var params map[string]string
		require.NoError(n.t, json.Unmarshal(req.Params, &params))
		switch params["request_type"] {
		case "view_access_key_list":
			reply(n.keys)
		case "view_access_key":
			reply(map[string]interface{}{"nonce": 41, "permission": "FullAccess"})
		case "view_account":
			reply(map[string]interface{}{"amount": "1", "locked": "0", "code_hash": "multisigHash"})
		case "call_function":
			raw, err := base64.StdEncoding.DecodeString(params["args_base64"])
			require.NoError(n.t, err)
			var args struct {
				RequestID int64 `json:"request_id"`
			}
			require.NoError(n.t, json.Unmarshal(raw, &args))
			body, ok := n.requests[args.RequestID]
			if !ok {
				reply(map[string]interface{}{"error": "wasm execution failed with error: FunctionCallError(HostError(GuestPanic { panic_msg: \"No such request\" }))", "logs": []string{}})
				return
			}
			out := make([]int, len(body))
			for i := range body {
				out[i] = int(body[i])
			}
			reply(map[string]interface{}{"result": out, "logs": []string{}})
		default:
			fail(-32600, "unsupported", params["request_type"])
		}
	case "broadcast_tx_commit":
		var params []string
		require.NoError(n.t, json.Unmarshal(req.Params, &params))
		signed, err := base64.StdEncoding.DecodeString(params[0])
		require.NoError(n.t, err)
		n.broadcast = append(n.broadcast, signed)
		if n.failTx {
			reply(map[string]interface{}{
				"status":      map[string]interface{}{"Failure": map[string]interface{}{"ActionError": "boom"}},
				"transaction": map[string]interface{}{"hash": "txhash"},
			})
			return
		}
		reply(map[string]interface{}{
			"status":      map[string]interface{}{"SuccessValue": base64.StdEncoding.EncodeToString([]byte("true"))},
			"transaction": map[string]interface{}{"hash": "txhash"},
		})
	default:
		fail(-32601, "Method not found", req.Method)
	}
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	deriver, err := NewKeyDeriver("seed")
	require.NoError(t, err)
	client, err := NewClient(Config{RPCURL: url, Deriver: deriver, CreatorAccountID: "creator.near"})
	require.NoError(t, err)
	return client
}

func TestClientLatestBlockHeight(t *testing.T) {
	_, server := newFakeNode(t)
	client := newTestClient(t, server.URL)

	height, err := client.LatestBlockHeight(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1000), height)
}

func TestClientAccessKeysDecodesPermissions(t *testing.T) {
	node, server := newFakeNode(t)
	node.keys = json.RawMessage(`{"keys":[
		{"public_key":"ed25519:full","access_key":{"nonce":1,"permission":"FullAccess"}},
		{"public_key":"ed25519:scoped","access_key":{"nonce":2,"permission":{"FunctionCall":{"allowance":null,"receiver_id":"alice.near","method_names":["confirm"]}}}}
	]}`)
	client := newTestClient(t, server.URL)

	keys, err := client.AccessKeys(context.Background(), "alice.near")
	require.NoError(t, err)
	require.Len(t, keys, 2)
	require.True(t, keys[0].Permission.FullAccess)
	require.False(t, keys[1].Permission.FullAccess)
	require.Equal(t, "alice.near", keys[1].Permission.FunctionCall.ReceiverID)
	require.Equal(t, []string{"confirm"}, keys[1].Permission.FunctionCall.MethodNames)
}

func TestClientAccountState(t *testing.T) {
	_, server := newFakeNode(t)
	client := newTestClient(t, server.URL)

	state, err := client.AccountState(context.Background(), "alice.near")
	require.NoError(t, err)
	require.Equal(t, "multisigHash", state.CodeHash)
}

func TestClientPendingRequest(t *testing.T) {
	node, server := newFakeNode(t)
	node.requests[5] = `{"receiver_id":"alice.near","actions":[{"type":"AddKey","public_key":"ed25519:new"},{"type":"FunctionCall","method_name":"ft_transfer","args":"e30=","deposit":"1","gas":"30000000000000"}]}`
	client := newTestClient(t, server.URL)

	request, err := client.PendingRequest(context.Background(), "alice.near", 5)
	require.NoError(t, err)
	require.Equal(t, "alice.near", request.ReceiverID)
	require.Len(t, request.Actions, 2)
	require.Nil(t, request.Actions[0].Permission)
	require.Equal(t, Uint64(30000000000000), request.Actions[1].Gas)
	require.True(t, request.AddsFullAccessKeyTo("alice.near"))
	require.False(t, request.AddsFullAccessKeyTo("bob.near"))

	_, err = client.PendingRequest(context.Background(), "alice.near", 6)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	require.Contains(t, err.Error(), "No such request")
}

func TestClientRPCError(t *testing.T) {
	_, server := newFakeNode(t)
	client := newTestClient(t, server.URL)

	err := client.call(context.Background(), "nope", map[string]interface{}{}, nil)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, -32601, rpcErr.Code)
}

func TestClientConfirmRequestSignsWithDerivedKey(t *testing.T) {
	node, server := newFakeNode(t)
	client := newTestClient(t, server.URL)

	outcome, err := client.ConfirmRequest(context.Background(), "alice.near", 5)
	require.NoError(t, err)
	require.Equal(t, "txhash", outcome.TransactionHash)
	require.JSONEq(t, "true", string(outcome.SuccessValue))

	require.Len(t, node.broadcast, 1)
	signed := node.broadcast[0]
	body := signed[:len(signed)-65]
	signature := signed[len(signed)-64:]
	hash := sha256.Sum256(body)

	deriver, err := NewKeyDeriver("seed")
	require.NoError(t, err)
	pub := deriver.PrivateKey("alice.near").Public().(ed25519.PublicKey)
	require.True(t, ed25519.Verify(pub, hash[:], signature))
	require.Contains(t, string(body), "confirm")
	require.Contains(t, string(body), `{"request_id":5}`)
}

func TestClientSubmitFunctionCallUsesCreatorKeyRing(t *testing.T) {
	node, server := newFakeNode(t)
	_, first, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, second, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	ring, err := NewKeyRing([]string{FormatPrivateKey(first), FormatPrivateKey(second)})
	require.NoError(t, err)

	client, err := NewClient(Config{RPCURL: server.URL, CreatorAccountID: "creator.near", CreatorKeys: ring})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := client.SubmitFunctionCall(context.Background(), FunctionCall{
			ReceiverID: "near",
			MethodName: "create_account",
			Args:       []byte(`{}`),
			Deposit:    "1000",
		})
		require.NoError(t, err)
	}

	require.Len(t, node.broadcast, 2)
	for i, key := range []ed25519.PrivateKey{first, second} {
		signed := node.broadcast[i]
		body := signed[:len(signed)-65]
		hash := sha256.Sum256(body)
		require.True(t, ed25519.Verify(key.Public().(ed25519.PublicKey), hash[:], signed[len(signed)-64:]), "tx %d", i)
	}
}

func TestClientSubmitFunctionCallReportsFailure(t *testing.T) {
	node, server := newFakeNode(t)
	node.failTx = true
	client := newTestClient(t, server.URL)

	_, err := client.ConfirmRequest(context.Background(), "alice.near", 5)
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	require.Equal(t, "txhash", execErr.TransactionHash)
}
