package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPSigner asks a signing service holding the registrar key to sign calls.
type HTTPSigner struct {
	url       string
	authToken string
	http      *http.Client
}

func NewHTTPSigner(url, authToken string) *HTTPSigner {
	return &HTTPSigner{
		url:       strings.TrimRight(url, "/"),
		authToken: authToken,
		http:      &http.Client{Timeout: 10 * time.Second},
	}
}

type signResponse struct {
	Tx string `json:"tx"`
}

func (s *HTTPSigner) Sign(ctx context.Context, req SignRequest) (string, error) {
	buf, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/sign", bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.authToken)
	}
	resp, err := s.http.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("signer failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out signResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.Tx == "" {
		return "", fmt.Errorf("signer returned empty transaction")
	}
	return out.Tx, nil
}
