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

const submitTimeout = 30 * time.Second

// CircuitClient submits executor extrinsics through the coordinator's signing
// gateway. The gateway holds the session key registered for the signer
// address and wraps each call in a signed extrinsic.
type CircuitClient struct {
	client *resty.Client
	signer string
	logger log.Logger
}

func NewCircuitClient(baseURL, signer string, logger log.Logger) *CircuitClient {
	return &CircuitClient{
		client: resty.New().SetBaseURL(baseURL).SetTimeout(submitTimeout),
		signer: signer,
		logger: logger,
	}
}

type bidSfxRequest struct {
	SfxID  types.Hash `json:"sfxId"`
	Amount string     `json:"amount"`
	Signer string     `json:"signer"`
}

// BidSfx submits a bid in the reward asset's scaled integer form.
func (c *CircuitClient) BidSfx(ctx context.Context, sfxID types.Hash, amount *big.Int) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(bidSfxRequest{SfxID: sfxID, Amount: amount.String(), Signer: c.signer}).
		Post("/executor/bid")
	if err != nil {
		return fmt.Errorf("bid %s: %w", sfxID.Human(), err)
	}
	if resp.IsError() {
		return fmt.Errorf("bid %s rejected: %s %s", sfxID.Human(), resp.Status(), resp.String())
	}
	return nil
}

type confirmRequest struct {
	Vendor   string                      `json:"vendor"`
	Payloads []types.ConfirmationPayload `json:"payloads"`
	Signer   string                      `json:"signer"`
}

// ConfirmSideEffects submits one confirmation batch.
func (c *CircuitClient) ConfirmSideEffects(ctx context.Context, vendor string, payloads []types.ConfirmationPayload) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(confirmRequest{Vendor: vendor, Payloads: payloads, Signer: c.signer}).
		Post("/executor/confirm")
	if err != nil {
		return fmt.Errorf("confirm batch on %s: %w", vendor, err)
	}
	if resp.IsError() {
		return fmt.Errorf("confirm batch on %s rejected: %s %s", vendor, resp.Status(), resp.String())
	}
	c.logger.Debug("confirmation batch accepted", "vendor", vendor, "sideEffects", len(payloads))
	return nil
}
