package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Signer turns an unsigned call into a signed extrinsic for the registrar
// account.
type Signer interface {
	Sign(ctx context.Context, req SignRequest) (string, error)
}

// SignRequest is what the signing service needs to build an extrinsic.
type SignRequest struct {
	Signer string         `json:"signer"`
	Nonce  uint64         `json:"nonce"`
	Call   CallDescriptor `json:"call"`
}

// CallDescriptor names a runtime call and its arguments.
type CallDescriptor struct {
	Pallet string         `json:"pallet"`
	Method string         `json:"method"`
	Args   map[string]any `json:"args"`
}

// Client implements the scanner and reconciler chain interfaces against a
// Sidecar HTTP gateway. It is constructed once and injected.
type Client struct {
	baseURL   string
	http      *http.Client
	signer    Signer
	registrar string
	proxyFor  string
	logger    *slog.Logger

	inclusionTimeout time.Duration
	inclusionPoll    time.Duration

	// submitMu serializes nonce fetch, signing and submission for the
	// registrar account.
	submitMu sync.Mutex
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithProxy wraps every judgement in proxy.proxy on behalf of primary, with
// the registrar account acting as its IdentityJudgement proxy.
func WithProxy(primary string) Option {
	return func(c *Client) {
		c.proxyFor = primary
	}
}

// WithInclusion sets how long SubmitJudgement waits for the extrinsic to
// appear in a block and how often it polls for new blocks.
func WithInclusion(timeout, poll time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.inclusionTimeout = timeout
		}
		if poll > 0 {
			c.inclusionPoll = poll
		}
	}
}

// NewClient creates a client. registrar is the account that signs
// judgements.
func NewClient(baseURL string, signer Signer, registrar string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: 10 * time.Second},
		signer:    signer,
		registrar: registrar,
		logger:    slog.Default(),

		inclusionTimeout: 2 * time.Minute,
		inclusionPoll:    2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type headerResponse struct {
	Number string `json:"number"`
}

// HeadHeight returns the height of the best block.
func (c *Client) HeadHeight(ctx context.Context) (uint64, error) {
	var hdr headerResponse
	if err := c.get(ctx, "/blocks/head/header", &hdr); err != nil {
		return 0, fmt.Errorf("head header: %w", err)
	}
	h, err := strconv.ParseUint(hdr.Number, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("head header number %q: %w", hdr.Number, err)
	}
	return h, nil
}

type blockResponse struct {
	Number     string              `json:"number"`
	Hash       string              `json:"hash"`
	Extrinsics []extrinsicResponse `json:"extrinsics"`
}

type methodName struct {
	Pallet string `json:"pallet"`
	Method string `json:"method"`
}

func (m methodName) is(section, method string) bool {
	return Call{Section: m.Pallet, Method: m.Method}.Is(section, method)
}

type callResponse struct {
	Method methodName                 `json:"method"`
	Args   map[string]json.RawMessage `json:"args"`
}

type eventResponse struct {
	Method methodName        `json:"method"`
	Data   []json.RawMessage `json:"data"`
}

type extrinsicResponse struct {
	callResponse
	Hash      string `json:"hash"`
	Signature *struct {
		Signer struct {
			ID string `json:"id"`
		} `json:"signer"`
	} `json:"signature"`
	Events  []eventResponse `json:"events"`
	Success bool            `json:"success"`
}

// outcome is what the events of one extrinsic say about its nested calls.
type outcome struct {
	// interruptedAt is the index of the first failed call of a
	// utility.batch, or -1.
	interruptedAt int
	proxyFailed   bool
}

func outcomeOf(events []eventResponse) outcome {
	o := outcome{interruptedAt: -1}
	for _, ev := range events {
		switch {
		case ev.Method.is("utility", "BatchInterrupted"):
			if len(ev.Data) > 0 {
				if idx, ok := decodeIndex(ev.Data[0]); ok {
					o.interruptedAt = idx
				}
			}
		case ev.Method.is("proxy", "ProxyExecuted"):
			if len(ev.Data) > 0 && isDispatchErr(ev.Data[0]) {
				o.proxyFailed = true
			}
		}
	}
	return o
}

func decodeIndex(raw json.RawMessage) (int, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		n, err := strconv.Atoi(s)
		return n, err == nil
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	return 0, false
}

// isDispatchErr reports whether a DispatchResult is {"err": ...}.
func isDispatchErr(raw json.RawMessage) bool {
	var res map[string]json.RawMessage
	if err := json.Unmarshal(raw, &res); err != nil {
		return false
	}
	for k := range res {
		if strings.EqualFold(k, "err") {
			return true
		}
	}
	return false
}

// accountArg decodes an account argument, either a bare address or
// {"id": address}.
func accountArg(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err == nil {
		for _, k := range []string{"id", "Id"} {
			if v, ok := m[k]; ok {
				return v
			}
		}
	}
	return ""
}

// expand flattens utility batches and proxy calls into the calls they
// dispatch. A proxied call is attributed to the proxied account.
func expand(c callResponse, account string, success bool, o outcome) []Call {
	switch {
	case c.Method.is("utility", "batch"), c.Method.is("utility", "batch_all"), c.Method.is("utility", "force_batch"):
		var inner []callResponse
		if err := json.Unmarshal(c.Args["calls"], &inner); err != nil {
			return nil
		}
		var out []Call
		for i, sub := range inner {
			ok := success && (o.interruptedAt < 0 || i < o.interruptedAt)
			out = append(out, expand(sub, account, ok, outcome{interruptedAt: -1, proxyFailed: o.proxyFailed})...)
		}
		return out
	case c.Method.is("proxy", "proxy"):
		var inner callResponse
		if err := json.Unmarshal(c.Args["call"], &inner); err != nil {
			return nil
		}
		return expand(inner, accountArg(c.Args["real"]), success && !o.proxyFailed, outcome{interruptedAt: -1})
	}
	return []Call{{
		Section: c.Method.Pallet,
		Method:  c.Method.Method,
		Account: account,
		Args:    flattenArgs(c.Args),
		Success: success,
	}}
}

func (c *Client) block(ctx context.Context, height uint64) (*blockResponse, error) {
	var resp blockResponse
	err := c.get(ctx, "/blocks/"+strconv.FormatUint(height, 10), &resp)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && (se.code == http.StatusNotFound || se.code == http.StatusBadRequest) {
			return nil, ErrBlockNotFound
		}
		return nil, fmt.Errorf("block %d: %w", height, err)
	}
	return &resp, nil
}

// BlockCalls returns the calls dispatched by signed extrinsics in the block
// at height, with batches and proxy calls expanded. ErrBlockNotFound is
// returned when the block does not exist yet.
func (c *Client) BlockCalls(ctx context.Context, height uint64) (*Block, error) {
	resp, err := c.block(ctx, height)
	if err != nil {
		return nil, err
	}

	block := &Block{Height: height, Hash: resp.Hash}
	for _, x := range resp.Extrinsics {
		if x.Signature == nil {
			continue
		}
		block.Calls = append(block.Calls, expand(x.callResponse, x.Signature.Signer.ID, x.Success, outcomeOf(x.Events))...)
	}
	return block, nil
}

func flattenArgs(args map[string]json.RawMessage) map[string]string {
	out := make(map[string]string, len(args))
	for k, v := range args {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		out[k] = strings.TrimSpace(string(v))
	}
	return out
}

type storageResponse struct {
	Value json.RawMessage `json:"value"`
}

// IdentityOf returns the decoded identity of account, or nil if it has none.
func (c *Client) IdentityOf(ctx context.Context, account string) (*IdentityInfo, error) {
	q := url.Values{}
	q.Set("keys[]", account)
	var resp storageResponse
	if err := c.get(ctx, "/pallets/identity/storage/identityOf?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("identity of %s: %w", account, err)
	}
	reg, err := decodeRegistration(resp.Value)
	if err != nil {
		return nil, fmt.Errorf("decode identity of %s: %w", account, err)
	}
	if reg == nil {
		return nil, nil
	}
	info := reg.Info.toInfo()
	return &info, nil
}

type balanceInfoResponse struct {
	Nonce string `json:"nonce"`
}

type submitResponse struct {
	Hash string `json:"hash"`
}

// SubmitJudgement signs and submits provideJudgement for target and waits
// for it to be included. The nonce is read immediately before signing, under
// a lock, so concurrent submissions never reuse one. A failed dispatch
// returns ErrExtrinsicFailed; no block within the inclusion timeout returns
// ErrInclusionTimeout. Both carry the transaction hash in the receipt.
func (c *Client) SubmitJudgement(ctx context.Context, target string, registrarIndex uint32, judgement Judgement) (Receipt, error) {
	call := CallDescriptor{
		Pallet: "identity",
		Method: "provideJudgement",
		Args: map[string]any{
			"reg_index": registrarIndex,
			"target":    map[string]string{"id": target},
			"judgement": string(judgement),
		},
	}
	if c.proxyFor != "" {
		call = CallDescriptor{
			Pallet: "proxy",
			Method: "proxy",
			Args: map[string]any{
				"real":             map[string]string{"id": c.proxyFor},
				"force_proxy_type": "IdentityJudgement",
				"call":             call,
			},
		}
	}

	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	from, err := c.HeadHeight(ctx)
	if err != nil {
		return Receipt{}, fmt.Errorf("head before submit: %w", err)
	}

	var bal balanceInfoResponse
	if err := c.get(ctx, "/accounts/"+url.PathEscape(c.registrar)+"/balance-info", &bal); err != nil {
		return Receipt{}, fmt.Errorf("registrar nonce: %w", err)
	}
	nonce, err := strconv.ParseUint(bal.Nonce, 10, 64)
	if err != nil {
		return Receipt{}, fmt.Errorf("registrar nonce %q: %w", bal.Nonce, err)
	}

	tx, err := c.signer.Sign(ctx, SignRequest{Signer: c.registrar, Nonce: nonce, Call: call})
	if err != nil {
		return Receipt{}, fmt.Errorf("sign judgement: %w", err)
	}

	var sub submitResponse
	if err := c.post(ctx, "/transaction", map[string]string{"tx": tx}, &sub); err != nil {
		return Receipt{}, fmt.Errorf("submit judgement: %w", err)
	}
	logger := c.logger.With(
		"target", target,
		"registrar_index", registrarIndex,
		"judgement", judgement,
		"nonce", nonce,
		"tx_hash", sub.Hash,
	)
	logger.DebugContext(ctx, "judgement submitted, awaiting inclusion")

	blockHash, err := c.awaitInclusion(ctx, sub.Hash, from+1)
	if err != nil {
		logger.WarnContext(ctx, "judgement not confirmed", "error", err)
		return Receipt{TxHash: sub.Hash}, err
	}
	logger.InfoContext(ctx, "judgement included", "block_hash", blockHash)
	return Receipt{TxHash: sub.Hash, BlockHash: blockHash}, nil
}

// awaitInclusion scans blocks from height onward until it finds the
// extrinsic with txHash. The submitMu lock is held by the caller, so the
// next nonce is only read once this extrinsic has landed or timed out.
func (c *Client) awaitInclusion(ctx context.Context, txHash string, height uint64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.inclusionTimeout)
	defer cancel()

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", fmt.Errorf("%s after %s: %w", txHash, c.inclusionTimeout, ErrInclusionTimeout)
			}
			return "", ctx.Err()
		case <-timer.C:
		}

		for {
			resp, err := c.block(ctx, height)
			if errors.Is(err, ErrBlockNotFound) {
				break
			}
			if err != nil {
				if ctx.Err() == nil {
					c.logger.WarnContext(ctx, "inclusion poll failed", "height", height, "error", err)
				}
				break
			}
			for _, x := range resp.Extrinsics {
				if !strings.EqualFold(x.Hash, txHash) {
					continue
				}
				if !x.Success {
					return resp.Hash, fmt.Errorf("%s in block %s: %w", txHash, resp.Hash, ErrExtrinsicFailed)
				}
				if outcomeOf(x.Events).proxyFailed {
					return resp.Hash, fmt.Errorf("%s in block %s: proxied call: %w", txHash, resp.Hash, ErrExtrinsicFailed)
				}
				return resp.Hash, nil
			}
			height++
		}
		timer.Reset(c.inclusionPoll)
	}
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status=%d body=%s", e.code, e.body)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
