package redemption

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Well-known Polygon mainnet contract addresses the redemption engine
// talks to. The conditional-tokens and neg-risk adapter addresses are
// Polymarket's deployed contracts; USDC is the canonical stablecoin
// collateral for the plain (non-neg-risk) redemption path.
const (
	ConditionalTokensAddress = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"
	NegRiskAdapterAddress    = "0xC5d563A36AE78145C45a50134d48A1215220f80a"
	ProxyFactoryAddress      = "0xaB45c5A4B0c941a2F231C04C3f49182e1A254E8D"
	USDCAddress              = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"

	// ExecutionSuccess(bytes32,uint256) and ExecutionFailure(bytes32,uint256)
	// keccak256 topic hashes, emitted by a Gnosis Safe proxy wallet.
	executionSuccessTopic = "0x442e715f626346e8c54381002da614f62bee8d27386535b2521ec8540898556"
	executionFailureTopic = "0x23428b18acfb3ea64b08dc0c1d296ea9c09702c09083ca5272e64d115b687d23"

	transferEventTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"
)

const redeemPositionsABI = `[{
	"inputs": [
		{"name": "collateralToken", "type": "address"},
		{"name": "parentCollectionId", "type": "bytes32"},
		{"name": "conditionId", "type": "bytes32"},
		{"name": "indexSets", "type": "uint256[]"}
	],
	"name": "redeemPositions",
	"outputs": [],
	"stateMutability": "nonpayable",
	"type": "function"
}]`

const payoutDenominatorABI = `[{
	"inputs": [{"name": "conditionId", "type": "bytes32"}],
	"name": "payoutDenominator",
	"outputs": [{"name": "", "type": "uint256"}],
	"stateMutability": "view",
	"type": "function"
}]`

const balanceOfABI = `[{
	"inputs": [
		{"name": "account", "type": "address"},
		{"name": "id", "type": "uint256"}
	],
	"name": "balanceOf",
	"outputs": [{"name": "", "type": "uint256"}],
	"stateMutability": "view",
	"type": "function"
}]`

const wcolABI = `[{
	"inputs": [],
	"name": "wcol",
	"outputs": [{"name": "", "type": "address"}],
	"stateMutability": "view",
	"type": "function"
}]`

const computeProxyAddressABI = `[{
	"inputs": [{"name": "owner", "type": "address"}],
	"name": "computeProxyAddress",
	"outputs": [{"name": "", "type": "address"}],
	"stateMutability": "view",
	"type": "function"
}]`

const safeReadsABI = `[
	{
		"inputs": [],
		"name": "getOwners",
		"outputs": [{"name": "", "type": "address[]"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "getThreshold",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "nonce",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "to", "type": "address"},
			{"name": "value", "type": "uint256"},
			{"name": "data", "type": "bytes"},
			{"name": "operation", "type": "uint8"},
			{"name": "safeTxGas", "type": "uint256"},
			{"name": "baseGas", "type": "uint256"},
			{"name": "gasPrice", "type": "uint256"},
			{"name": "gasToken", "type": "address"},
			{"name": "refundReceiver", "type": "address"},
			{"name": "_nonce", "type": "uint256"}
		],
		"name": "getTransactionHash",
		"outputs": [{"name": "", "type": "bytes32"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

const execTransactionABI = `[{
	"inputs": [
		{"name": "to", "type": "address"},
		{"name": "value", "type": "uint256"},
		{"name": "data", "type": "bytes"},
		{"name": "operation", "type": "uint8"},
		{"name": "safeTxGas", "type": "uint256"},
		{"name": "baseGas", "type": "uint256"},
		{"name": "gasPrice", "type": "uint256"},
		{"name": "gasToken", "type": "address"},
		{"name": "refundReceiver", "type": "address"},
		{"name": "signatures", "type": "bytes"}
	],
	"name": "execTransaction",
	"outputs": [{"name": "", "type": "bool"}],
	"stateMutability": "nonpayable",
	"type": "function"
}]`

// contractABIs bundles every parsed ABI the engine needs, built once at
// construction time so call sites never re-parse JSON per tick.
type contractABIs struct {
	redeemPositions     abi.ABI
	payoutDenominator   abi.ABI
	balanceOf           abi.ABI
	wcol                abi.ABI
	computeProxyAddress abi.ABI
	safeReads           abi.ABI
	execTransaction     abi.ABI
}

func newContractABIs() (contractABIs, error) {
	var out contractABIs
	type spec struct {
		dst *abi.ABI
		raw string
	}
	specs := []spec{
		{&out.redeemPositions, redeemPositionsABI},
		{&out.payoutDenominator, payoutDenominatorABI},
		{&out.balanceOf, balanceOfABI},
		{&out.wcol, wcolABI},
		{&out.computeProxyAddress, computeProxyAddressABI},
		{&out.safeReads, safeReadsABI},
		{&out.execTransaction, execTransactionABI},
	}

	for _, s := range specs {
		parsed, err := abi.JSON(strings.NewReader(s.raw))
		if err != nil {
			return contractABIs{}, err
		}
		*s.dst = parsed
	}
	return out, nil
}
