package feebump

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/feebump/pkg/btcunit"
	"github.com/stretchr/testify/require"
)

// rbfFixture is a recorded replacement with the exact PSBT it produced.
type rbfFixture struct {
	Case                 string              `json:"case"`
	IsAdditionalUtxoCase bool                `json:"isAdditionalUtxoCase"`
	OriginalTx           string              `json:"originalTx"`
	AvailableUtxos       []*UTXO             `json:"availableUtxos"`
	Network              string              `json:"network"`
	DustThreshold        JSONAmount          `json:"dustThreshold"`
	ScriptType           ScriptType          `json:"scriptType"`
	ChangeIndex          *int                `json:"changeIndex"`
	ChangeAddress        string              `json:"changeAddress"`
	CancelAddress        string              `json:"cancelAddress"`
	RequiredSigners      int                 `json:"requiredSigners"`
	TotalSigners         int                 `json:"totalSigners"`
	AbsoluteFee          JSONAmount          `json:"absoluteFee"`
	TargetFeeRate        btcunit.SatPerVByte `json:"targetFeeRate"`
	GlobalXpubs          []GlobalXpub        `json:"globalXpubs"`
	Expected             struct {
		InputCount  int    `json:"inputCount"`
		OutputCount int    `json:"outputCount"`
		ExactPsbt   string `json:"exactPsbt"`
	} `json:"expected"`
}

// params returns the network of the fixture.
func (f *rbfFixture) params(t *testing.T) *chaincfg.Params {
	t.Helper()

	params, err := ParseNetwork(f.Network)
	require.NoError(t, err)

	return params
}

// baseOptions returns the options shared by every construction.
func (f *rbfFixture) baseOptions(t *testing.T) BaseOptions {
	t.Helper()

	return BaseOptions{
		TxHex:           f.OriginalTx,
		Params:          f.params(t),
		TargetFeeRate:   f.TargetFeeRate,
		AbsoluteFee:     btcutil.Amount(f.AbsoluteFee),
		AvailableUTXOs:  f.AvailableUtxos,
		ScriptType:      f.ScriptType,
		RequiredSigners: f.RequiredSigners,
		TotalSigners:    f.TotalSigners,
		DustThreshold:   btcutil.Amount(f.DustThreshold),
		GlobalXpubs:     f.GlobalXpubs,
	}
}

type rbfFixtures struct {
	ExactRbfFixtures struct {
		AcceleratedRbf []*rbfFixture `json:"acceleratedRbf"`
		CancelRbf      []*rbfFixture `json:"cancelRbf"`
	} `json:"exactRbfFixtures"`
}

// cpfpFixture is a recorded child of an unconfirmed parent.
type cpfpFixture struct {
	Case              string `json:"case"`
	ParentTransaction struct {
		Txid string     `json:"txid"`
		Hex  string     `json:"hex"`
		Fee  JSONAmount `json:"fee"`
	} `json:"parentTransaction"`
	ParentUtxo           *UTXO               `json:"parentUtxo"`
	AvailableUtxos       []*UTXO             `json:"availableUtxos"`
	SpendableOutputIndex int                 `json:"spendableOutputIndex"`
	ChangeAddress        string              `json:"changeAddress"`
	Network              string              `json:"network"`
	DustThreshold        JSONAmount          `json:"dustThreshold"`
	ScriptType           ScriptType          `json:"scriptType"`
	RequiredSigners      int                 `json:"requiredSigners"`
	TotalSigners         int                 `json:"totalSigners"`
	TargetFeeRate        btcunit.SatPerVByte `json:"targetFeeRate"`
	GlobalXpubs          []GlobalXpub        `json:"globalXpubs"`
	Expected             struct {
		ChildInputCount  int     `json:"childInputCount"`
		ChildOutputCount int     `json:"childOutputCount"`
		CombinedFeeRate  float64 `json:"combinedFeeRate"`
	} `json:"expected"`
}

type cpfpFixtures struct {
	CpfpPsbtFixtures struct {
		ReceivingTransaction []*cpfpFixture `json:"receivingTransaction"`
		SentTransaction      []*cpfpFixture `json:"sentTransaction"`
	} `json:"cpfpPsbtFixtures"`
}

// loadFixtures decodes a JSON fixture file from testdata.
func loadFixtures(t *testing.T, name string, v any) {
	t.Helper()

	raw, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v))
}

func loadRBFFixtures(t *testing.T) *rbfFixtures {
	t.Helper()

	var fixtures rbfFixtures
	loadFixtures(t, "rbf.json", &fixtures)

	return &fixtures
}

func loadCPFPFixtures(t *testing.T) *cpfpFixtures {
	t.Helper()

	var fixtures cpfpFixtures
	loadFixtures(t, "cpfp.json", &fixtures)

	return &fixtures
}

// decodeAddress decodes addr for params.
func decodeAddress(t *testing.T, addr string,
	params *chaincfg.Params) btcutil.Address {

	t.Helper()

	decoded, err := btcutil.DecodeAddress(addr, params)
	require.NoError(t, err)

	return decoded
}

// mustRate parses a decimal sat/vb rate.
func mustRate(t *testing.T, rate string) btcunit.SatPerVByte {
	t.Helper()

	parsed, err := btcunit.ParseSatPerVByte(rate)
	require.NoError(t, err)

	return parsed
}

// btcunitRate returns the exact rate of fee over vsize.
func btcunitRate(fee btcutil.Amount, vsize uint64) btcunit.SatPerVByte {
	return btcunit.CalcSatPerVByte(fee, btcunit.NewVByte(vsize))
}
