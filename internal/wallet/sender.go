package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"golang.org/x/net/http2"
)

// rpcResponse mirrors the node's reply envelope.
type rpcResponse struct {
	Result json.RawMessage   `json:"result"`
	Error  *btcjson.RPCError `json:"error"`
}

// Sender posts exactly one JSON-RPC request per call and never resends it.
// Gateway layers read retries on top; sends use it as is.
type Sender struct {
	url      string
	user     string
	password string
	client   *http.Client
	nextId   atomic.Uint64
}

func NewSender(url, user, password string, timeout time.Duration) (*Sender, error) {
	client, err := createCustomHttpClient(timeout)
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}
	return &Sender{url: url, user: user, password: password, client: client}, nil
}

func createCustomHttpClient(timeout time.Duration) (*http.Client, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: timeout,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return nil, err
	}

	return &http.Client{
		Transport: tr,
		Timeout:   timeout,
	}, nil
}

// Call sends method once and returns the raw result.
func (s *Sender) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	rawParams := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		raw, ok := p.(json.RawMessage)
		if !ok {
			var err error
			if raw, err = json.Marshal(p); err != nil {
				return nil, protocol(method, fmt.Errorf("marshal param: %w", err))
			}
		}
		rawParams = append(rawParams, raw)
	}

	body, err := json.Marshal(&btcjson.Request{
		Jsonrpc: "1.0",
		ID:      s.nextId.Add(1),
		Method:  method,
		Params:  rawParams,
	})
	if err != nil {
		return nil, protocol(method, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, protocol(method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(s.user, s.password)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, transient(method, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transient(method, fmt.Errorf("read response: %w", err))
	}

	var envelope rpcResponse
	if err := json.Unmarshal(payload, &envelope); err != nil {
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, protocol(method, fmt.Errorf("status code: %d", resp.StatusCode))
		case resp.StatusCode >= 300:
			return nil, transient(method, fmt.Errorf("status code: %d, response: %q", resp.StatusCode, payload))
		}
		return nil, protocol(method, fmt.Errorf("decode response: %w", err))
	}
	if envelope.Error != nil {
		return nil, protocol(method, envelope.Error)
	}
	if len(envelope.Result) == 0 || bytes.Equal(envelope.Result, []byte("null")) {
		return nil, protocol(method, errors.New("empty result"))
	}
	return envelope.Result, nil
}
