package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// usdcDecimals converts 6-decimal raw units to USD.
const usdcDecimals = 1e6

// Client reads on-chain balances for the trading wallet. The USDC contract
// address is configured explicitly: it must be the chain-native token, since
// the bridged variant reports a different balance for the same address.
type Client struct {
	rpcURL      string
	usdcAddress common.Address
	logger      *zap.Logger
}

// Balances holds on-chain token balances.
type Balances struct {
	POL  *big.Int // gas token, in wei
	USDC *big.Int // in 6-decimal units
}

// NewClient creates a wallet client.
func NewClient(rpcURL, usdcAddress string, logger *zap.Logger) (*Client, error) {
	if rpcURL == "" {
		return nil, errors.New("rpcURL cannot be empty")
	}
	if usdcAddress == "" {
		return nil, errors.New("usdcAddress cannot be empty")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	return &Client{
		rpcURL:      rpcURL,
		usdcAddress: common.HexToAddress(usdcAddress),
		logger:      logger,
	}, nil
}

// GetBalances fetches gas and USDC balances for an address.
func (c *Client) GetBalances(ctx context.Context, address common.Address) (*Balances, error) {
	client, err := ethclient.DialContext(ctx, c.rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial RPC: %w", err)
	}
	defer client.Close()

	polBalance, err := client.BalanceAt(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("get POL balance: %w", err)
	}

	usdcBalance, err := c.getERC20Balance(ctx, client, address)
	if err != nil {
		return nil, fmt.Errorf("get USDC balance: %w", err)
	}

	return &Balances{
		POL:  polBalance,
		USDC: usdcBalance,
	}, nil
}

// USDCBalance returns the address's USDC balance in dollars.
func (c *Client) USDCBalance(ctx context.Context, address common.Address) (float64, error) {
	client, err := ethclient.DialContext(ctx, c.rpcURL)
	if err != nil {
		return 0, fmt.Errorf("dial RPC: %w", err)
	}
	defer client.Close()

	raw, err := c.getERC20Balance(ctx, client, address)
	if err != nil {
		return 0, err
	}

	usd, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), big.NewFloat(usdcDecimals)).Float64()
	return usd, nil
}

// getERC20Balance fetches the configured token's balance for an address.
func (c *Client) getERC20Balance(ctx context.Context, client *ethclient.Client, owner common.Address) (*big.Int, error) {
	balanceOfABI := `[{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}]`

	parsedABI, err := abi.JSON(strings.NewReader(balanceOfABI))
	if err != nil {
		return nil, fmt.Errorf("parse ABI: %w", err)
	}

	data, err := parsedABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("pack ABI: %w", err)
	}

	msg := ethereum.CallMsg{
		To:   &c.usdcAddress,
		Data: data,
	}

	result, err := client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call contract: %w", err)
	}

	return new(big.Int).SetBytes(result), nil
}
