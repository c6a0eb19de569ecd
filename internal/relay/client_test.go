package relay

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCondition = "0x" + "ab" + "cd" + "12345678901234567890123456789012345678901234567890123456789a"

func newTestClient() *Client {
	return NewClient(Config{
		BaseURL:        "https://relayer.example",
		CTFAddress:     "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045",
		USDCAddress:    "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174",
		NegRiskAdapter: "0xd91E80cF2E7be2e162c6513ceD06f1dD0dA35296",
		Simulation:     true,
	})
}

func TestBuildRedeemCallStandard(t *testing.T) {
	c := newTestClient()

	call, err := c.buildRedeemCall(testCondition, false)
	require.NoError(t, err)

	assert.Equal(t, c.ctf, call.To)
	require.Len(t, call.Data, 4+7*32)

	// Static args: collateral address, zero parent, condition id.
	assert.Equal(t, common.LeftPadBytes(c.usdc.Bytes(), 32), call.Data[4:36])
	assert.Equal(t, make([]byte, 32), call.Data[36:68])
	assert.True(t, bytes.Equal(common.FromHex(testCondition), call.Data[68:100]))

	// Dynamic tail: indexSets = [1, 2].
	assert.Equal(t, byte(2), call.Data[4+4*32+31], "array length")
	assert.Equal(t, byte(1), call.Data[4+5*32+31])
	assert.Equal(t, byte(2), call.Data[4+6*32+31])
}

func TestBuildRedeemCallNegRisk(t *testing.T) {
	c := newTestClient()

	call, err := c.buildRedeemCall(testCondition, true)
	require.NoError(t, err)

	assert.Equal(t, c.negAdapter, call.To)
	require.Len(t, call.Data, 4+5*32)

	assert.True(t, bytes.Equal(common.FromHex(testCondition), call.Data[4:36]))

	// Both amounts are max uint256.
	allFF := bytes.Repeat([]byte{0xff}, 32)
	assert.Equal(t, allFF, call.Data[4+3*32:4+4*32])
	assert.Equal(t, allFF, call.Data[4+4*32:4+5*32])

	// Different target contract means a different function selector too.
	std, err := c.buildRedeemCall(testCondition, false)
	require.NoError(t, err)
	assert.NotEqual(t, std.Data[:4], call.Data[:4])
}

func TestBuildRedeemCallRejectsBadCondition(t *testing.T) {
	c := newTestClient()

	_, err := c.buildRedeemCall("0x1234", false)
	assert.Error(t, err)

	_, err = c.buildRedeemCall(strings.Repeat("z", 66), false)
	assert.Error(t, err)
}
