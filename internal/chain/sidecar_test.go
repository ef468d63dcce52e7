package chain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"registrar/pkg/platform/sentinel"
)

func hexOf(s string) string {
	return "0x" + hex.EncodeToString([]byte(s))
}

type fakeSigner struct {
	mu       sync.Mutex
	requests []SignRequest
	err      error
}

func (f *fakeSigner) Sign(_ context.Context, req SignRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.requests = append(f.requests, req)
	return fmt.Sprintf("0xsigned%d", req.Nonce), nil
}

type SidecarClientSuite struct {
	suite.Suite
	mux    *http.ServeMux
	server *httptest.Server
	signer *fakeSigner
	client *Client
	nonce  atomic.Uint64

	// chain state served by the fake gateway
	mu        sync.Mutex
	head      uint64
	blocks    map[uint64]string
	include   bool
	gap       int
	txSuccess bool
	txEvents  string
}

func TestSidecarClientSuite(t *testing.T) {
	suite.Run(t, new(SidecarClientSuite))
}

const baseBlock = `{
	"number":"1234","hash":"0xb1234",
	"extrinsics":[
		{"method":{"pallet":"timestamp","method":"set"},"signature":null,"args":{"now":"1"},"success":true},
		{"method":{"pallet":"identity","method":"requestJudgement"},
		 "signature":{"signer":{"id":"5Alice"}},
		 "args":{"reg_index":"3","max_fee":"1000"},"success":true},
		{"method":{"pallet":"identity","method":"clearIdentity"},
		 "signature":{"signer":{"id":"5Bob"}},"args":{},"success":false}
	]}`

func (s *SidecarClientSuite) SetupTest() {
	s.mux = http.NewServeMux()
	s.server = httptest.NewServer(s.mux)
	s.signer = &fakeSigner{}
	s.client = NewClient(s.server.URL, s.signer, "5Registrar", WithInclusion(time.Second, 5*time.Millisecond))
	s.nonce.Store(7)
	s.head = 1234
	s.blocks = map[uint64]string{}
	s.include = true
	s.gap = 0
	s.txSuccess = true
	s.txEvents = "[]"

	s.mux.HandleFunc("GET /blocks/head/header", func(w http.ResponseWriter, _ *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		_, _ = fmt.Fprintf(w, `{"number":"%d","hash":"0xb%d"}`, s.head, s.head)
	})
	s.mux.HandleFunc("GET /blocks/{height}", func(w http.ResponseWriter, r *http.Request) {
		h, _ := strconv.ParseUint(r.PathValue("height"), 10, 64)
		s.mu.Lock()
		defer s.mu.Unlock()
		if h > s.head {
			http.Error(w, `{"code":400,"message":"Specified block number is larger than the current largest block"}`, http.StatusBadRequest)
			return
		}
		if b, ok := s.blocks[h]; ok {
			_, _ = w.Write([]byte(b))
			return
		}
		_, _ = w.Write([]byte(baseBlock))
	})
	s.mux.HandleFunc("GET /accounts/{account}/balance-info", func(w http.ResponseWriter, r *http.Request) {
		s.Equal("5Registrar", r.PathValue("account"))
		_, _ = fmt.Fprintf(w, `{"nonce":"%d"}`, s.nonce.Load())
	})
	s.mux.HandleFunc("POST /transaction", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		s.Require().NoError(json.NewDecoder(r.Body).Decode(&body))
		s.nonce.Add(1)
		hash := "0xtx-" + body["tx"]

		s.mu.Lock()
		if s.include {
			for range s.gap {
				s.appendBlock(`"extrinsics":[]`)
			}
			s.appendBlock(fmt.Sprintf(`"extrinsics":[
				{"hash":%q,"method":{"pallet":"identity","method":"provideJudgement"},
				 "signature":{"signer":{"id":"5Registrar"}},"args":{},
				 "events":%s,"success":%t}]`, hash, s.txEvents, s.txSuccess))
		}
		s.mu.Unlock()

		_, _ = fmt.Fprintf(w, `{"hash":%q}`, hash)
	})
}

// appendBlock produces the next block with the given extrinsics member and
// returns its height. Callers hold s.mu.
func (s *SidecarClientSuite) appendBlock(extrinsics string) uint64 {
	s.head++
	s.blocks[s.head] = fmt.Sprintf(`{"number":"%d","hash":"0xb%d",%s}`, s.head, s.head, extrinsics)
	return s.head
}

func (s *SidecarClientSuite) TearDownTest() {
	s.server.Close()
}

func (s *SidecarClientSuite) TestHeadHeight() {
	h, err := s.client.HeadHeight(context.Background())
	s.Require().NoError(err)
	s.Equal(uint64(1234), h)
}

func (s *SidecarClientSuite) TestBlockCalls() {
	block, err := s.client.BlockCalls(context.Background(), 1234)
	s.Require().NoError(err)
	s.Equal("0xb1234", block.Hash)
	s.Require().Len(block.Calls, 2, "unsigned inherents are skipped")

	req := block.Calls[0]
	s.True(req.Is("identity", "request_judgement"))
	s.Equal("5Alice", req.Account)
	s.Equal("3", req.Args["reg_index"])
	s.True(req.Success)

	s.True(block.Calls[1].Is("Identity", "clear_identity"))
	s.False(block.Calls[1].Success)

	s.Run("future height is not found", func() {
		_, err := s.client.BlockCalls(context.Background(), 1235)
		s.ErrorIs(err, ErrBlockNotFound)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *SidecarClientSuite) TestBlockCalls_NestedCalls() {
	s.mu.Lock()
	height := s.appendBlock(`"extrinsics":[
		{"method":{"pallet":"utility","method":"batchAll"},
		 "signature":{"signer":{"id":"5Carol"}},
		 "args":{"calls":[
			{"method":{"pallet":"identity","method":"setIdentity"},"args":{"info":{}}},
			{"method":{"pallet":"identity","method":"requestJudgement"},"args":{"reg_index":"3","max_fee":"0"}}
		 ]},
		 "events":[],"success":true},
		{"method":{"pallet":"utility","method":"batch"},
		 "signature":{"signer":{"id":"5Dan"}},
		 "args":{"calls":[
			{"method":{"pallet":"identity","method":"setIdentity"},"args":{"info":{}}},
			{"method":{"pallet":"identity","method":"requestJudgement"},"args":{"reg_index":"3","max_fee":"0"}}
		 ]},
		 "events":[{"method":{"pallet":"utility","method":"BatchInterrupted"},"data":["1",{"module":{"index":"25","error":"0x05000000"}}]}],
		 "success":true},
		{"method":{"pallet":"proxy","method":"proxy"},
		 "signature":{"signer":{"id":"5Delegate"}},
		 "args":{"real":{"id":"5Erin"},"force_proxy_type":null,
			"call":{"method":{"pallet":"identity","method":"requestJudgement"},"args":{"reg_index":"3","max_fee":"0"}}},
		 "events":[{"method":{"pallet":"proxy","method":"ProxyExecuted"},"data":[{"ok":null}]}],
		 "success":true},
		{"method":{"pallet":"proxy","method":"proxy"},
		 "signature":{"signer":{"id":"5Delegate"}},
		 "args":{"real":"5Frank","force_proxy_type":null,
			"call":{"method":{"pallet":"identity","method":"cancelRequest"},"args":{"reg_index":"3"}}},
		 "events":[{"method":{"pallet":"proxy","method":"ProxyExecuted"},"data":[{"err":{"module":{"index":"25","error":"0x0a000000"}}}]}],
		 "success":true}
	]`)
	s.mu.Unlock()

	block, err := s.client.BlockCalls(context.Background(), height)
	s.Require().NoError(err)
	s.Require().Len(block.Calls, 6)

	s.Run("batch children are attributed to the signer", func() {
		s.True(block.Calls[0].Is("identity", "set_identity"))
		s.True(block.Calls[1].Is("identity", "request_judgement"))
		s.Equal("5Carol", block.Calls[1].Account)
		s.Equal("3", block.Calls[1].Args["reg_index"])
		s.True(block.Calls[1].Success)
	})

	s.Run("calls from the interrupted index on are failed", func() {
		s.Equal("5Dan", block.Calls[2].Account)
		s.True(block.Calls[2].Success)
		s.True(block.Calls[3].Is("identity", "request_judgement"))
		s.False(block.Calls[3].Success)
	})

	s.Run("proxied call is attributed to the real account", func() {
		s.True(block.Calls[4].Is("identity", "request_judgement"))
		s.Equal("5Erin", block.Calls[4].Account)
		s.True(block.Calls[4].Success)
	})

	s.Run("proxied call that errored is failed", func() {
		s.True(block.Calls[5].Is("identity", "cancel_request"))
		s.Equal("5Frank", block.Calls[5].Account)
		s.False(block.Calls[5].Success)
	})
}

func (s *SidecarClientSuite) TestIdentityOf() {
	s.mux.HandleFunc("GET /pallets/identity/storage/identityOf", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("keys[]") {
		case "5Alice":
			_, _ = fmt.Fprintf(w, `{"value":{"judgements":[],"info":{
				"display":{"raw":%q},"email":{"raw":%q},"twitter":{"raw":%q},
				"riot":{"raw":%q},"web":{"none":null},"legal":{"raw":"Alice Ltd"}}}}`,
				hexOf("Alice"), hexOf("alice@example.com"), hexOf("@alice"), hexOf("@alice:matrix.org"))
		case "5Tuple":
			_, _ = fmt.Fprintf(w, `{"value":[{"info":{"email":{"raw":%q},"matrix":{"raw":%q}}},null]}`,
				hexOf("t@example.com"), hexOf("@t:matrix.org"))
		default:
			_, _ = w.Write([]byte(`{"value":null}`))
		}
	})

	ctx := context.Background()
	info, err := s.client.IdentityOf(ctx, "5Alice")
	s.Require().NoError(err)
	s.Require().NotNil(info)
	s.Equal(IdentityInfo{
		Display: "Alice",
		Legal:   "Alice Ltd",
		Email:   "alice@example.com",
		Social:  "alice",
		Chat:    "@alice:matrix.org",
	}, *info)

	info, err = s.client.IdentityOf(ctx, "5Tuple")
	s.Require().NoError(err)
	s.Equal("t@example.com", info.Email)
	s.Equal("@t:matrix.org", info.Chat)

	info, err = s.client.IdentityOf(ctx, "5Nobody")
	s.Require().NoError(err)
	s.Nil(info)
}

func (s *SidecarClientSuite) TestSubmitJudgement() {
	receipt, err := s.client.SubmitJudgement(context.Background(), "5Alice", 3, JudgementReasonable)
	s.Require().NoError(err)
	s.Equal("0xtx-0xsigned7", receipt.TxHash)
	s.Equal("0xb1235", receipt.BlockHash)

	s.Require().Len(s.signer.requests, 1)
	req := s.signer.requests[0]
	s.Equal("5Registrar", req.Signer)
	s.Equal(uint64(7), req.Nonce)
	s.Equal("identity", req.Call.Pallet)
	s.Equal("provideJudgement", req.Call.Method)
	s.Equal("Reasonable", req.Call.Args["judgement"])
}

func (s *SidecarClientSuite) TestSubmitJudgement_Proxy() {
	client := NewClient(s.server.URL, s.signer, "5Registrar", WithProxy("5Primary"), WithInclusion(time.Second, 5*time.Millisecond))
	_, err := client.SubmitJudgement(context.Background(), "5Alice", 0, JudgementKnownGood)
	s.Require().NoError(err)

	req := s.signer.requests[0]
	s.Equal("proxy", req.Call.Pallet)
	s.Equal("IdentityJudgement", req.Call.Args["force_proxy_type"])
	inner, ok := req.Call.Args["call"].(CallDescriptor)
	s.Require().True(ok)
	s.Equal("provideJudgement", inner.Method)
}

// TestSubmitJudgement_SerializesNonce checks concurrent submissions each get
// a distinct nonce.
func (s *SidecarClientSuite) TestSubmitJudgement_SerializesNonce() {
	const n = 10
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.client.SubmitJudgement(context.Background(), fmt.Sprintf("5Acc%d", i), 0, JudgementReasonable)
			s.NoError(err)
		}()
	}
	wg.Wait()

	seen := make(map[uint64]bool)
	for _, r := range s.signer.requests {
		s.False(seen[r.Nonce], "nonce %d reused", r.Nonce)
		seen[r.Nonce] = true
	}
	s.Len(seen, n)
}

func (s *SidecarClientSuite) TestSubmitJudgement_IncludedAfterEmptyBlocks() {
	s.mu.Lock()
	s.gap = 3
	s.mu.Unlock()

	receipt, err := s.client.SubmitJudgement(context.Background(), "5Alice", 3, JudgementReasonable)
	s.Require().NoError(err)
	s.Equal("0xb1238", receipt.BlockHash)
}

func (s *SidecarClientSuite) TestSubmitJudgement_DispatchFailed() {
	s.mu.Lock()
	s.txSuccess = false
	s.mu.Unlock()

	receipt, err := s.client.SubmitJudgement(context.Background(), "5Alice", 3, JudgementReasonable)
	s.ErrorIs(err, ErrExtrinsicFailed)
	s.ErrorIs(err, sentinel.ErrInvalidState)
	s.Equal("0xtx-0xsigned7", receipt.TxHash)
	s.Empty(receipt.BlockHash)
}

func (s *SidecarClientSuite) TestSubmitJudgement_ProxiedCallFailed() {
	s.mu.Lock()
	s.txEvents = `[{"method":{"pallet":"proxy","method":"ProxyExecuted"},"data":[{"err":{"module":{"index":"25","error":"0x0a000000"}}}]}]`
	s.mu.Unlock()
	client := NewClient(s.server.URL, s.signer, "5Registrar", WithProxy("5Primary"), WithInclusion(time.Second, 5*time.Millisecond))

	_, err := client.SubmitJudgement(context.Background(), "5Alice", 0, JudgementKnownGood)
	s.ErrorIs(err, ErrExtrinsicFailed)
}

func (s *SidecarClientSuite) TestSubmitJudgement_NotIncluded() {
	s.mu.Lock()
	s.include = false
	s.mu.Unlock()
	client := NewClient(s.server.URL, s.signer, "5Registrar", WithInclusion(50*time.Millisecond, 5*time.Millisecond))

	receipt, err := client.SubmitJudgement(context.Background(), "5Alice", 3, JudgementReasonable)
	s.ErrorIs(err, ErrInclusionTimeout)
	s.ErrorIs(err, sentinel.ErrUnavailable)
	s.Equal("0xtx-0xsigned7", receipt.TxHash)
}

func (s *SidecarClientSuite) TestSubmitJudgement_SignerFailure() {
	s.signer.err = errors.New("key locked")
	_, err := s.client.SubmitJudgement(context.Background(), "5Alice", 0, JudgementReasonable)
	s.Require().Error(err)
	s.Contains(err.Error(), "key locked")
}

func TestParseJudgement(t *testing.T) {
	j, err := ParseJudgement("reasonable")
	require.NoError(t, err)
	assert.Equal(t, JudgementReasonable, j)

	_, err = ParseJudgement("FeePaid")
	require.Error(t, err)
	_, err = ParseJudgement("excellent")
	require.Error(t, err)
}

func TestDecodeHexText(t *testing.T) {
	assert.Equal(t, "hello", decodeHexText(hexOf("hello")))
	assert.Equal(t, "plain", decodeHexText("plain"))
	assert.Equal(t, "0xzz", decodeHexText("0xzz"))
	assert.Equal(t, "0xff", decodeHexText("0xff"), "invalid utf8 is kept raw")
}
