// Package ledger provides a thin client against a mirror-node-shaped HTTP
// API, implementing core.LedgerClient and core.MirrorReader. It is a
// minimal collaborator implementation, not a reimplementation of a full
// ledger SDK.
package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"flora-consensus/core"
	"flora-consensus/pkg/cache"
	"flora-consensus/pkg/utils"
)

// MirrorClient talks to a mirror-node-shaped REST API for both submitting
// consensus messages and reading them back.
type MirrorClient struct {
	baseURL    string
	httpClient *http.Client
	keyCache   *cache.AccountKeyCache
}

// NewMirrorClient constructs a MirrorClient against baseURL (e.g.
// "https://testnet.mirrornode.hedera.com/api/v1").
func NewMirrorClient(baseURL string, httpClient *http.Client, keyCache *cache.AccountKeyCache) *MirrorClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &MirrorClient{baseURL: baseURL, httpClient: httpClient, keyCache: keyCache}
}

type submitMessageRequest struct {
	TopicID string `json:"topicId"`
	Payer   string `json:"payerAccountId"`
	Message string `json:"message"` // base64
}

type submitMessageResponse struct {
	ConsensusTimestamp string `json:"consensusTimestamp"`
	SequenceNumber     int64  `json:"sequenceNumber"`
}

// SubmitMessage implements core.LedgerClient.
func (c *MirrorClient) SubmitMessage(ctx context.Context, topicID, payerAccountID string, data []byte) (string, int64, error) {
	body, err := json.Marshal(submitMessageRequest{
		TopicID: topicID,
		Payer:   payerAccountID,
		Message: base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return "", 0, utils.Wrap(err, "marshalling submit request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/topics/messages", bytes.NewReader(body))
	if err != nil {
		return "", 0, utils.Wrap(err, "building submit request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, utils.Wrap(err, "submitting consensus message")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return "", 0, fmt.Errorf("ledger: submit failed with status %d: %s", resp.StatusCode, raw)
	}

	var out submitMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, utils.Wrap(err, "decoding submit response")
	}
	return out.ConsensusTimestamp, out.SequenceNumber, nil
}

type accountInfoResponse struct {
	Key struct {
		Key  string `json:"key"`
		Type string `json:"_type"`
	} `json:"key"`
}

// AccountKey implements core.LedgerClient, with results cached for a few
// minutes when a cache was supplied.
func (c *MirrorClient) AccountKey(ctx context.Context, accountID string) (string, string, error) {
	if c.keyCache != nil {
		if info, ok := c.keyCache.Get(accountID); ok {
			return info.PublicKey, info.KeyType, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/accounts/"+url.PathEscape(accountID), nil)
	if err != nil {
		return "", "", utils.Wrap(err, "building account lookup request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", utils.Wrap(err, "looking up account key")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return "", "", fmt.Errorf("ledger: account lookup failed with status %d: %s", resp.StatusCode, raw)
	}

	var out accountInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", utils.Wrap(err, "decoding account response")
	}

	if c.keyCache != nil {
		c.keyCache.Put(accountID, cache.AccountKeyInfo{PublicKey: out.Key.Key, KeyType: out.Key.Type})
	}
	return out.Key.Key, out.Key.Type, nil
}

type topicMessage struct {
	ConsensusTimestamp string `json:"consensus_timestamp"`
	SequenceNumber     int64  `json:"sequence_number"`
	Message            string `json:"message"` // base64
}

type topicMessagesResponse struct {
	Messages []topicMessage `json:"messages"`
}

// ReadMessages implements core.MirrorReader. order is "asc" or "desc";
// sinceTimestamp, when non-empty, is passed through as a
// "timestamp=gt:<value>" filter.
func (c *MirrorClient) ReadMessages(ctx context.Context, topicID string, order string, limit int, sinceTimestamp string) ([]core.LogMessage, error) {
	q := url.Values{}
	if order != "" {
		q.Set("order", order)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if sinceTimestamp != "" && sinceTimestamp != "0" {
		q.Set("timestamp", "gt:"+sinceTimestamp)
	}

	endpoint := fmt.Sprintf("%s/topics/%s/messages?%s", c.baseURL, url.PathEscape(topicID), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, utils.Wrap(err, "building mirror read request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, utils.Wrap(err, "reading topic messages")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return nil, fmt.Errorf("ledger: mirror read failed with status %d: %s", resp.StatusCode, raw)
	}

	var out topicMessagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, utils.Wrap(err, "decoding mirror response")
	}

	msgs := make([]core.LogMessage, 0, len(out.Messages))
	for _, m := range out.Messages {
		data, err := base64.StdEncoding.DecodeString(m.Message)
		if err != nil {
			continue // skip malformed entries rather than fail the whole page
		}
		msgs = append(msgs, core.LogMessage{
			ConsensusTimestamp: m.ConsensusTimestamp,
			SequenceNumber:     m.SequenceNumber,
			Data:               data,
		})
	}
	return msgs, nil
}

var (
	_ core.LedgerClient = (*MirrorClient)(nil)
	_ core.MirrorReader = (*MirrorClient)(nil)
)
