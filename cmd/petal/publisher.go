package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"flora-consensus/core"
	"flora-consensus/pkg/utils"
)

// consumerPublisher implements core.ProofPublisher by POSTing the proof to
// the Consumer's /proof endpoint.
type consumerPublisher struct {
	url    string
	client *http.Client
}

func newConsumerPublisher(consumerBaseURL string) *consumerPublisher {
	return &consumerPublisher{
		url:    consumerBaseURL + "/proof",
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *consumerPublisher) PublishProof(ctx context.Context, proof core.ProofPayload) error {
	body, err := json.Marshal(proof)
	if err != nil {
		return utils.Wrap(err, "marshalling proof")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return utils.Wrap(err, "building proof request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return utils.Wrap(err, "posting proof to consumer")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return fmt.Errorf("consumer rejected proof: status %d: %s", resp.StatusCode, raw)
	}
	return nil
}

var _ core.ProofPublisher = (*consumerPublisher)(nil)
