package redemption

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/GoPolymarket/updown-agent/internal/activity"
)

// redemptionGraceDelay is how long after a market's end time a candidate
// becomes eligible for a redemption attempt — settlement and indexing
// both need a little slack.
const redemptionGraceDelay = 2 * time.Minute

// gasLimit and gasPriceMultiplier bound every on-chain write this engine
// submits, matched to the proxy-wrapped execTransaction call.
const (
	gasLimit          = uint64(500000)
	gasPriceMultiplier = 2
)

var fallbackRPCURLs = []string{
	"https://polygon-rpc.com",
	"https://rpc.ankr.com/polygon",
	"https://polygon.llamarpc.com",
}

// chainReader is the narrow subset of ethclient.Client the engine and
// the proxy resolver depend on, so tests can swap in a fake.
type chainReader interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// chainWriter extends chainReader with what a redemption attempt needs
// to submit and confirm a transaction.
type chainWriter interface {
	chainReader
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Engine runs the per-tick redemption algorithm: RPC provider selection,
// proxy discovery, payout checks, and the fallback redemption ladder.
type Engine struct {
	queue         *Queue
	bus           *activity.Bus
	privateKey    *ecdsa.PrivateKey
	signerAddress common.Address
	abis          contractABIs
	proxyResolver *proxyResolver
	rpcURLs       []string
	chain         chainWriter
	isChecking    atomic.Bool
}

// Config configures a redemption Engine.
type Config struct {
	PrivateKeyHex  string
	PrimaryRPCURL  string
	KnownProxyAddr string
}

// New builds an Engine. The private key must parse; RPC dialing happens
// lazily per tick so a dead endpoint at startup does not block the rest
// of the coordinator.
func New(cfg Config, queue *Queue, bus *activity.Bus) (*Engine, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse wallet private key: %w", err)
	}
	publicKeyECDSA, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("derive public key: unexpected key type")
	}

	abis, err := newContractABIs()
	if err != nil {
		return nil, fmt.Errorf("parse redemption ABIs: %w", err)
	}

	urls := append([]string{}, fallbackRPCURLs...)
	if cfg.PrimaryRPCURL != "" {
		urls = append([]string{cfg.PrimaryRPCURL}, urls...)
	}

	e := &Engine{
		queue:         queue,
		bus:           bus,
		privateKey:    privateKey,
		signerAddress: crypto.PubkeyToAddress(*publicKeyECDSA),
		abis:          abis,
		rpcURLs:       urls,
	}
	e.proxyResolver = newProxyResolver(nil, abis, cfg.KnownProxyAddr)
	return e, nil
}

// CheckAndRedeem runs one redemption tick. Re-entrancy is guarded by an
// atomic latch: an overlapping call returns immediately without error.
func (e *Engine) CheckAndRedeem(ctx context.Context) {
	if !e.isChecking.CompareAndSwap(false, true) {
		return
	}
	defer e.isChecking.Store(false)

	client, err := e.connect(ctx)
	if err != nil {
		e.logActivity("redemption_rpc_unavailable", fmt.Sprintf("no RPC endpoint answered: %v", err))
		return
	}
	defer client.Close()
	e.chain = client
	if e.proxyResolver.chain == nil {
		e.proxyResolver.chain = client
	}

	wallet, hasProxy := e.proxyResolver.Resolve(ctx, e.signerAddress)
	activeWallet := e.signerAddress
	if hasProxy {
		activeWallet = wallet
	}

	wrappedCollateral, hasWrapped := e.readWrappedCollateral(ctx)

	candidates := e.queue.Candidates(time.Now(), redemptionGraceDelay)
	for _, candidate := range candidates {
		e.processCandidate(ctx, candidate, activeWallet, hasProxy, wallet, wrappedCollateral, hasWrapped)
	}
}

// connect probes the configured primary endpoint, then the built-in
// fallback list, returning the first that answers a trivial query.
func (e *Engine) connect(ctx context.Context) (*ethclient.Client, error) {
	var lastErr error
	var fallback *ethclient.Client

	for i, url := range e.rpcURLs {
		client, err := ethclient.DialContext(ctx, url)
		if err != nil {
			lastErr = err
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err = client.CodeAt(probeCtx, common.Address{}, nil)
		cancel()
		if err == nil {
			return client, nil
		}
		if i == 0 {
			fallback = client
		} else {
			client.Close()
		}
		lastErr = err
	}

	if fallback != nil {
		return fallback, nil
	}
	return nil, lastErr
}

func (e *Engine) readWrappedCollateral(ctx context.Context) (common.Address, bool) {
	data, err := e.abis.wcol.Pack("wcol")
	if err != nil {
		return common.Address{}, false
	}
	to := common.HexToAddress(NegRiskAdapterAddress)
	out, err := e.chain.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil || len(out) == 0 {
		return common.Address{}, false
	}
	vals, err := e.abis.wcol.Unpack("wcol", out)
	if err != nil || len(vals) != 1 {
		return common.Address{}, false
	}
	addr, ok := vals[0].(common.Address)
	if !ok {
		return common.Address{}, false
	}
	return addr, true
}

func (e *Engine) processCandidate(ctx context.Context, candidate *Entry, activeWallet common.Address, hasProxy bool, proxyAddress common.Address, wrappedCollateral common.Address, hasWrapped bool) {
	conditionID, err := normalizeConditionID(candidate.ConditionID)
	if err != nil {
		e.queue.SetStatus(candidate.ConditionID, candidate.TokenID, StatusError, "", fmt.Sprintf("invalid condition id: %v", err))
		e.logActivity("redemption_error", fmt.Sprintf("%s: %v", candidate.Question, err))
		return
	}

	denominator, err := e.readPayoutDenominator(ctx, conditionID)
	if err != nil {
		// Transient RPC failure: leave waiting, retry next tick.
		return
	}
	if denominator.Sign() == 0 {
		// Market not yet resolved.
		return
	}

	indexSet := outcomeIndexSet(candidate.Outcome)
	balance, err := e.readTokenBalance(ctx, activeWallet, candidate.TokenID)
	if err != nil {
		return
	}
	if balance.Sign() == 0 {
		e.queue.SetStatus(candidate.ConditionID, candidate.TokenID, StatusNoPayout, "", "zero balance at settlement")
		e.logActivity("redemption_no_payout", fmt.Sprintf("%s (%s): zero balance at settlement", candidate.Question, candidate.Outcome))
		return
	}

	e.queue.SetStatus(candidate.ConditionID, candidate.TokenID, StatusRedeeming, "", "")

	txHash, err := e.attemptLadder(ctx, conditionID, indexSet, activeWallet, hasProxy, proxyAddress, wrappedCollateral, hasWrapped)
	if err != nil {
		status, reason := classifyRedemptionFailure(err)
		e.queue.SetStatus(candidate.ConditionID, candidate.TokenID, status, "", reason)
		e.logActivity("redemption_failed", fmt.Sprintf("%s (%s): %s", candidate.Question, candidate.Outcome, reason))
		return
	}

	e.queue.SetStatus(candidate.ConditionID, candidate.TokenID, StatusRedeemed, txHash, "")
	e.logActivity("redemption_success", fmt.Sprintf("%s (%s): redeemed, tx %s", candidate.Question, candidate.Outcome, txHash))
}

// attemptLadder tries the neg-risk adapter (if wrapped collateral is
// known), then the plain conditional-tokens contract with the canonical
// stablecoin, returning the first verified success.
func (e *Engine) attemptLadder(ctx context.Context, conditionID common.Hash, indexSets []*big.Int, activeWallet common.Address, hasProxy bool, proxyAddress common.Address, wrappedCollateral common.Address, hasWrapped bool) (string, error) {
	var lastErr error

	if hasWrapped {
		txHash, err := e.redeemOnContract(ctx, common.HexToAddress(NegRiskAdapterAddress), wrappedCollateral, conditionID, indexSets, hasProxy, proxyAddress)
		if err == nil {
			return txHash, nil
		}
		lastErr = err
	}

	txHash, err := e.redeemOnContract(ctx, common.HexToAddress(ConditionalTokensAddress), common.HexToAddress(USDCAddress), conditionID, indexSets, hasProxy, proxyAddress)
	if err == nil {
		return txHash, nil
	}
	lastErr = err

	return "", lastErr
}

func (e *Engine) redeemOnContract(ctx context.Context, contract, collateral common.Address, conditionID common.Hash, indexSets []*big.Int, hasProxy bool, proxyAddress common.Address) (string, error) {
	data, err := e.abis.redeemPositions.Pack("redeemPositions", collateral, [32]byte{}, [32]byte(conditionID), indexSets)
	if err != nil {
		return "", fmt.Errorf("pack redeemPositions: %w", err)
	}

	if hasProxy {
		return e.sendViaProxy(ctx, proxyAddress, contract, data)
	}
	return e.sendDirect(ctx, contract, data)
}

func (e *Engine) sendDirect(ctx context.Context, to common.Address, data []byte) (string, error) {
	nonce, err := e.chain.PendingNonceAt(ctx, e.signerAddress)
	if err != nil {
		return "", fmt.Errorf("get nonce: %w", err)
	}
	gasPrice, err := e.boostedGasPrice(ctx)
	if err != nil {
		return "", err
	}

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(big.NewInt(137)), e.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}
	if err := e.chain.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("send tx: %w", err)
	}

	receipt, err := e.waitMined(ctx, signedTx.Hash())
	if err != nil {
		return "", err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", fmt.Errorf("transaction reverted")
	}
	return signedTx.Hash().Hex(), nil
}

func (e *Engine) sendViaProxy(ctx context.Context, proxyAddress, to common.Address, innerData []byte) (string, error) {
	signature, err := e.buildProxySignature(ctx, proxyAddress, to, innerData)
	if err != nil {
		return "", fmt.Errorf("build proxy signature: %w", err)
	}

	data, err := e.abis.execTransaction.Pack("execTransaction",
		to, big.NewInt(0), innerData, uint8(0),
		big.NewInt(0), big.NewInt(0), big.NewInt(0),
		common.Address{}, common.Address{}, signature)
	if err != nil {
		return "", fmt.Errorf("pack execTransaction: %w", err)
	}

	nonce, err := e.chain.PendingNonceAt(ctx, e.signerAddress)
	if err != nil {
		return "", fmt.Errorf("get nonce: %w", err)
	}
	gasPrice, err := e.boostedGasPrice(ctx)
	if err != nil {
		return "", err
	}

	tx := types.NewTransaction(nonce, proxyAddress, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(big.NewInt(137)), e.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}
	if err := e.chain.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("send tx: %w", err)
	}

	receipt, err := e.waitMined(ctx, signedTx.Hash())
	if err != nil {
		return "", err
	}
	return e.verifyProxyReceipt(receipt, signedTx.Hash())
}

// buildProxySignature computes the Safe transaction hash via
// getTransactionHash, signs it with the raw ECDSA key, and marks the
// signature as an eth_sign-style signature by bumping the recovery id
// by 4 after normalizing it to the Ethereum v>=27 convention.
func (e *Engine) buildProxySignature(ctx context.Context, proxyAddress, to common.Address, innerData []byte) ([]byte, error) {
	nonceData, err := e.abis.safeReads.Pack("nonce")
	if err != nil {
		return nil, err
	}
	nonceOut, err := e.chain.CallContract(ctx, ethereum.CallMsg{To: &proxyAddress, Data: nonceData}, nil)
	if err != nil {
		return nil, fmt.Errorf("read safe nonce: %w", err)
	}
	nonceVals, err := e.abis.safeReads.Unpack("nonce", nonceOut)
	if err != nil || len(nonceVals) != 1 {
		return nil, fmt.Errorf("unpack safe nonce")
	}
	safeNonce, ok := nonceVals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("safe nonce type assertion failed")
	}

	hashData, err := e.abis.safeReads.Pack("getTransactionHash",
		to, big.NewInt(0), innerData, uint8(0),
		big.NewInt(0), big.NewInt(0), big.NewInt(0),
		common.Address{}, common.Address{}, safeNonce)
	if err != nil {
		return nil, err
	}
	hashOut, err := e.chain.CallContract(ctx, ethereum.CallMsg{To: &proxyAddress, Data: hashData}, nil)
	if err != nil {
		return nil, fmt.Errorf("read safe tx hash: %w", err)
	}
	hashVals, err := e.abis.safeReads.Unpack("getTransactionHash", hashOut)
	if err != nil || len(hashVals) != 1 {
		return nil, fmt.Errorf("unpack safe tx hash")
	}
	safeTxHash, ok := hashVals[0].([32]byte)
	if !ok {
		return nil, fmt.Errorf("safe tx hash type assertion failed")
	}

	sig, err := crypto.Sign(safeTxHash[:], e.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign safe tx hash: %w", err)
	}
	return ethSignAdjust(sig), nil
}

// ethSignAdjust normalizes the recovery id to v>=27 and then bumps it by
// 4, the marker Gnosis Safe uses for a raw eth_sign-style signature
// rather than an EIP-712 typed-data signature.
func ethSignAdjust(sig []byte) []byte {
	out := append([]byte{}, sig...)
	v := out[64]
	if v < 27 {
		v += 27
	}
	out[64] = v + 4
	return out
}

func (e *Engine) waitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	for {
		receipt, err := e.chain.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for receipt: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// verifyProxyReceipt checks for ExecutionSuccess/ExecutionFailure log
// topics emitted by the proxy itself, treating ExecutionFailure as an
// inner-call failure even though the outer transaction did not revert.
func (e *Engine) verifyProxyReceipt(receipt *types.Receipt, txHash common.Hash) (string, error) {
	sawSuccess := false
	sawFailure := false
	for _, l := range receipt.Logs {
		if len(l.Topics) == 0 {
			continue
		}
		switch l.Topics[0].Hex() {
		case executionSuccessTopic:
			sawSuccess = true
		case executionFailureTopic:
			sawFailure = true
		}
	}
	if sawFailure {
		return "", fmt.Errorf("execution failure: inner call reverted")
	}
	if sawSuccess {
		return txHash.Hex(), nil
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		return txHash.Hex(), nil
	}
	return "", fmt.Errorf("transaction reverted")
}

func (e *Engine) readPayoutDenominator(ctx context.Context, conditionID common.Hash) (*big.Int, error) {
	data, err := e.abis.payoutDenominator.Pack("payoutDenominator", conditionID)
	if err != nil {
		return nil, err
	}
	to := common.HexToAddress(ConditionalTokensAddress)
	out, err := e.chain.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	vals, err := e.abis.payoutDenominator.Unpack("payoutDenominator", out)
	if err != nil || len(vals) != 1 {
		return nil, fmt.Errorf("unpack payoutDenominator")
	}
	n, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("payoutDenominator type assertion failed")
	}
	return n, nil
}

func (e *Engine) readTokenBalance(ctx context.Context, wallet common.Address, tokenID string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		return nil, fmt.Errorf("token id %q is not a base-10 integer", tokenID)
	}
	data, err := e.abis.balanceOf.Pack("balanceOf", wallet, id)
	if err != nil {
		return nil, err
	}
	to := common.HexToAddress(ConditionalTokensAddress)
	out, err := e.chain.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	vals, err := e.abis.balanceOf.Unpack("balanceOf", out)
	if err != nil || len(vals) != 1 {
		return nil, fmt.Errorf("unpack balanceOf")
	}
	n, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf type assertion failed")
	}
	return n, nil
}

func (e *Engine) boostedGasPrice(ctx context.Context) (*big.Int, error) {
	price, err := e.chain.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	return new(big.Int).Mul(price, big.NewInt(gasPriceMultiplier)), nil
}

func (e *Engine) logActivity(kind, message string) {
	if e.bus != nil {
		e.bus.AppendActivity(kind, message, nil)
	}
}

// normalizeConditionID accepts the three forms the positions/markets APIs
// hand back — 0x-prefixed hex, bare hex, or a uint256 decimal string (no
// "0x" prefix and no hex letters) — and normalizes all of them to the same
// 32-byte hash. A decimal string is detected before the hex path runs,
// since decimal digits are themselves valid hex characters and would
// otherwise be silently (and wrongly) read as a literal hex value.
func normalizeConditionID(raw string) (common.Hash, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return common.Hash{}, fmt.Errorf("empty condition id")
	}

	hasPrefix := strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X")
	body := strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")

	if !hasPrefix && isAllDigits(body) {
		n, ok := new(big.Int).SetString(body, 10)
		if !ok {
			return common.Hash{}, fmt.Errorf("condition id is not a valid decimal integer")
		}
		return common.BigToHash(n), nil
	}

	if len(body) == 0 {
		return common.Hash{}, fmt.Errorf("empty condition id")
	}
	if len(body) > 64 {
		return common.Hash{}, fmt.Errorf("condition id too long")
	}
	for _, r := range body {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')) {
			return common.Hash{}, fmt.Errorf("condition id contains non-hex characters")
		}
	}
	return common.HexToHash(trimmed), nil
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// outcomeIndexSet always redeems both outcome bits; the contract pays
// out only the winning one and leaves the other at zero.
func outcomeIndexSet(_ string) []*big.Int {
	return []*big.Int{big.NewInt(1), big.NewInt(2)}
}

func classifyRedemptionFailure(err error) (Status, string) {
	msg := err.Error()
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "payout is zero") || strings.Contains(lower, "result is empty") {
		return StatusNoPayout, msg
	}
	return StatusError, msg
}
