package relayer

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/xexd/xexd/pkg/log"
	"github.com/xexd/xexd/types"
)

// TargetClient executes side effects against one target chain through its
// gateway RPC. It implements both Relayer and TargetEstimator and owns the
// target account's nonce tracker.
type TargetClient struct {
	client *resty.Client
	vendor string
	signer string
	nonces *NonceTracker
	events chan types.TargetEvent
	logger log.Logger
}

func NewTargetClient(baseURL, vendor, signer string, logger log.Logger) *TargetClient {
	return &TargetClient{
		client: resty.New().SetBaseURL(baseURL).SetTimeout(submitTimeout),
		vendor: vendor,
		signer: signer,
		nonces: NewNonceTracker(0, logger),
		events: make(chan types.TargetEvent, 64),
		logger: logger.With("vendor", vendor),
	}
}

func (c *TargetClient) Events() <-chan types.TargetEvent {
	return c.events
}

type executeTxRequest struct {
	SfxID  types.Hash       `json:"sfxId"`
	Action types.Action     `json:"action"`
	Args   []types.HexBytes `json:"args"`
	Nonce  uint64           `json:"nonce"`
	Signer string           `json:"signer"`
}

type executeTxResponse struct {
	BlockNumber    uint64         `json:"blockNumber"`
	BlockHash      types.Hash     `json:"blockHash"`
	EncodedPayload types.HexBytes `json:"encodedPayload"`
	InclusionProof types.HexBytes `json:"inclusionProof"`
	// parachain-style vendors additionally anchor the inclusion block at
	// the relay chain; the gateway flags it and names the header's index
	EventIndex       uint32 `json:"eventIndex"`
	NeedsHeaderProof bool   `json:"needsHeaderProof"`
}

// ExecuteTx submits a side effect's transaction and waits for its inclusion.
// The nonce is reserved optimistically so concurrent submissions pipeline;
// a definite failure rolls it back before the error is returned.
func (c *TargetClient) ExecuteTx(ctx context.Context, tx TargetTx) error {
	nonce := c.nonces.Reserve()

	var out executeTxResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(executeTxRequest{
			SfxID:  tx.SfxID,
			Action: tx.Action,
			Args:   tx.EncodedArgs,
			Nonce:  nonce,
			Signer: c.signer,
		}).
		SetResult(&out).
		Post("/tx/submit")
	if err != nil {
		c.nonces.Rollback()
		return fmt.Errorf("submit %s: %w", tx.SfxID.Human(), err)
	}
	if resp.IsError() {
		c.nonces.Rollback()
		return fmt.Errorf("submit %s rejected: %s %s", tx.SfxID.Human(), resp.Status(), resp.String())
	}
	c.nonces.Confirm()

	select {
	case c.events <- types.SfxExecutedOnTarget{
		SfxID:          tx.SfxID,
		Target:         tx.Target,
		BlockNumber:    out.BlockNumber,
		BlockHash:      out.BlockHash,
		EncodedPayload: out.EncodedPayload,
		InclusionProof: out.InclusionProof,
		Executor:       c.signer,
	}:
	case <-ctx.Done():
		return ctx.Err()
	}

	if out.NeedsHeaderProof {
		select {
		case c.events <- types.HeaderInclusionProofRequest{
			SfxID:       tx.SfxID,
			BlockNumber: out.BlockNumber,
			Index:       out.EventIndex,
		}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// GenerateHeaderInclusionProof proves a target header's inclusion in the
// relay chain.
func (c *TargetClient) GenerateHeaderInclusionProof(ctx context.Context, blockNumber uint64, index uint32) (types.HexBytes, error) {
	var out struct {
		Proof types.HexBytes `json:"proof"`
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("block", fmt.Sprintf("%d", blockNumber)).
		SetQueryParam("index", fmt.Sprintf("%d", index)).
		SetResult(&out).
		Get("/proof/header")
	if err != nil {
		return nil, fmt.Errorf("header proof at %d: %w", blockNumber, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("header proof at %d: %s", blockNumber, resp.Status())
	}
	return out.Proof, nil
}

// BlockHash returns the chain's block hash at the given height.
func (c *TargetClient) BlockHash(ctx context.Context, blockNumber uint64) (types.Hash, error) {
	var out struct {
		Hash types.Hash `json:"hash"`
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get(fmt.Sprintf("/block/%d/hash", blockNumber))
	if err != nil {
		return "", fmt.Errorf("block hash at %d: %w", blockNumber, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("block hash at %d: %s", blockNumber, resp.Status())
	}
	return out.Hash, nil
}

// EstimateTxCost quotes the native fee of a transaction without submitting.
func (c *TargetClient) EstimateTxCost(ctx context.Context, tx TargetTx) (*big.Int, error) {
	var out struct {
		Fee string `json:"fee"`
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(executeTxRequest{SfxID: tx.SfxID, Action: tx.Action, Args: tx.EncodedArgs, Signer: c.signer}).
		SetResult(&out).
		Post("/tx/estimate")
	if err != nil {
		return nil, fmt.Errorf("estimate %s: %w", tx.SfxID.Human(), err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("estimate %s: %s", tx.SfxID.Human(), resp.Status())
	}
	fee, ok := new(big.Int).SetString(out.Fee, 10)
	if !ok {
		return nil, fmt.Errorf("estimate %s: malformed fee %q", tx.SfxID.Human(), out.Fee)
	}
	return fee, nil
}

// ResyncNonces re-derives the account nonce from chain state, reconciling
// submissions whose outcome was lost. Run periodically and on startup.
func (c *TargetClient) ResyncNonces(ctx context.Context) error {
	return c.nonces.Resync(ctx, func(ctx context.Context) (uint64, error) {
		var out struct {
			Nonce uint64 `json:"nonce"`
		}
		resp, err := c.client.R().
			SetContext(ctx).
			SetResult(&out).
			Get(fmt.Sprintf("/account/%s/nonce", c.signer))
		if err != nil {
			return 0, err
		}
		if resp.IsError() {
			return 0, fmt.Errorf("nonce query: %s", resp.Status())
		}
		return out.Nonce, nil
	})
}

// RunNonceResync keeps the tracker aligned with chain state at the given
// interval until the context ends.
func (c *TargetClient) RunNonceResync(ctx context.Context, interval time.Duration) error {
	if err := c.ResyncNonces(ctx); err != nil {
		c.logger.Warn("initial nonce resync failed", "error", err)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.ResyncNonces(ctx); err != nil {
				c.logger.Warn("nonce resync failed", "error", err)
			}
		}
	}
}
