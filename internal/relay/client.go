// Package relay submits gasless redemption transactions through the venue's
// relayer and polls them to a terminal state. The calldata shape depends on
// whether the market settles through the standard conditional token contract
// or the neg-risk adapter; the choice is made once, when the call is built.
package relay

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Transaction states reported by the relayer.
const (
	StatePending   = "pending"
	StateConfirmed = "confirmed"
	StateFailed    = "failed"
)

// Client submits transactions to the relayer on the account's behalf.
type Client struct {
	http       *resty.Client
	ctf        common.Address
	usdc       common.Address
	negAdapter common.Address
	funder     string
	apiKey     string
	secret     string
	passphrase string
	simulation bool
}

// Config carries the addresses and credentials the relayer needs.
type Config struct {
	BaseURL        string
	CTFAddress     string
	USDCAddress    string
	NegRiskAdapter string
	FunderAddress  string
	APIKey         string
	Secret         string
	Passphrase     string
	Simulation     bool
}

// NewClient builds a relayer client.
func NewClient(cfg Config) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(15 * time.Second),
		ctf:        common.HexToAddress(cfg.CTFAddress),
		usdc:       common.HexToAddress(cfg.USDCAddress),
		negAdapter: common.HexToAddress(cfg.NegRiskAdapter),
		funder:     cfg.FunderAddress,
		apiKey:     cfg.APIKey,
		secret:     cfg.Secret,
		passphrase: cfg.Passphrase,
		simulation: cfg.Simulation,
	}
}

// redeemCall is a fully built redemption: target contract plus calldata.
// Building it up front keeps the negRisk branch in exactly one place.
type redeemCall struct {
	To   common.Address
	Data []byte
}

// buildRedeemCall encodes the redeemPositions call for a condition.
//
// Standard CTF: redeemPositions(collateral, parentCollectionId, conditionId,
// indexSets) with the zero parent collection and index sets [1, 2] covering
// both outcomes. Neg-risk adapter: redeemPositions(conditionId, amounts) with
// max-uint amounts so the adapter redeems whatever the account holds.
func (c *Client) buildRedeemCall(conditionID string, negRisk bool) (redeemCall, error) {
	cond, err := parseConditionID(conditionID)
	if err != nil {
		return redeemCall{}, err
	}

	if negRisk {
		selector := crypto.Keccak256([]byte("redeemPositions(bytes32,uint256[])"))[:4]
		maxUint := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

		data := make([]byte, 0, 4+5*32)
		data = append(data, selector...)
		data = append(data, cond[:]...)
		data = append(data, encodeUint(big.NewInt(0x40))...) // offset of amounts
		data = append(data, encodeUint(big.NewInt(2))...)    // len(amounts)
		data = append(data, encodeUint(maxUint)...)
		data = append(data, encodeUint(maxUint)...)
		return redeemCall{To: c.negAdapter, Data: data}, nil
	}

	selector := crypto.Keccak256([]byte("redeemPositions(address,bytes32,bytes32,uint256[])"))[:4]
	var parent [32]byte // zero parent collection

	data := make([]byte, 0, 4+7*32)
	data = append(data, selector...)
	data = append(data, common.LeftPadBytes(c.usdc.Bytes(), 32)...)
	data = append(data, parent[:]...)
	data = append(data, cond[:]...)
	data = append(data, encodeUint(big.NewInt(0x80))...) // offset of indexSets
	data = append(data, encodeUint(big.NewInt(2))...)    // len(indexSets)
	data = append(data, encodeUint(big.NewInt(1))...)
	data = append(data, encodeUint(big.NewInt(2))...)
	return redeemCall{To: c.ctf, Data: data}, nil
}

// SubmitRedeem asks the relayer to redeem both outcome positions of a
// condition. Returns the relayer's transaction id for polling.
func (c *Client) SubmitRedeem(ctx context.Context, conditionID string, negRisk bool) (string, error) {
	call, err := c.buildRedeemCall(conditionID, negRisk)
	if err != nil {
		return "", fmt.Errorf("build redeem call: %w", err)
	}

	if c.simulation {
		txID := "sim_" + uuid.NewString()
		log.Info().
			Str("tx_id", txID).
			Str("condition", conditionID).
			Bool("neg_risk", negRisk).
			Msg("📝 SIMULATION: redeem submitted")
		return txID, nil
	}

	payload := map[string]interface{}{
		"from": c.funder,
		"to":   call.To.Hex(),
		"data": "0x" + common.Bytes2Hex(call.Data),
		"type": "SAFE",
	}

	var result struct {
		TransactionID string `json:"transactionID"`
		State         string `json:"state"`
		Error         string `json:"error"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("POLY_API_KEY", c.apiKey).
		SetHeader("POLY_PASSPHRASE", c.passphrase).
		SetBody(payload).
		SetResult(&result).
		Post("/submit")
	if err != nil {
		return "", fmt.Errorf("relayer submit: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("relayer submit: status %d: %s", resp.StatusCode(), resp.String())
	}
	if result.Error != "" {
		return "", fmt.Errorf("relayer submit: %s", result.Error)
	}

	log.Info().
		Str("tx_id", result.TransactionID).
		Str("condition", conditionID).
		Bool("neg_risk", negRisk).
		Msg("📤 Redeem submitted")

	return result.TransactionID, nil
}

// TransactionState returns the relayer's view of a submitted transaction:
// pending, confirmed, or failed.
func (c *Client) TransactionState(ctx context.Context, txID string) (string, error) {
	if c.simulation {
		return StateConfirmed, nil
	}

	var result struct {
		State string `json:"state"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("POLY_API_KEY", c.apiKey).
		SetQueryParam("id", txID).
		SetResult(&result).
		Get("/transaction")
	if err != nil {
		return "", fmt.Errorf("relayer status: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("relayer status: status %d", resp.StatusCode())
	}

	switch strings.ToLower(result.State) {
	case "mined", "confirmed":
		return StateConfirmed, nil
	case "failed":
		return StateFailed, nil
	default:
		return StatePending, nil
	}
}

func parseConditionID(conditionID string) ([32]byte, error) {
	var out [32]byte
	s := strings.TrimPrefix(conditionID, "0x")
	if len(s) != 64 {
		return out, fmt.Errorf("condition id %q: want 32 bytes", conditionID)
	}
	b := common.FromHex("0x" + s)
	if len(b) != 32 {
		return out, fmt.Errorf("condition id %q: bad hex", conditionID)
	}
	copy(out[:], b)
	return out, nil
}

func encodeUint(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}
