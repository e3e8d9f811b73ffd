package chain

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/params"

	apperrors "secregistry/internal/errors"
)

// certificateABI matches the registry contract surface this service drives.
const certificateABI = `[
	{"type":"function","name":"issueCertificate","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"energyKwh","type":"uint256"}],
	 "outputs":[]},
	{"type":"event","name":"CertificateIssued","anonymous":false,
	 "inputs":[{"name":"id","type":"uint256","indexed":false},
	           {"name":"owner","type":"address","indexed":false},
	           {"name":"energyKwh","type":"uint256","indexed":false},
	           {"name":"timestamp","type":"uint256","indexed":false}]}
]`

const (
	issueGasLimit     = 300_000
	issueGasPriceGwei = 20
)

// Config describes the chain connection. Empty RPCURL, ContractAddress or
// OwnerPrivateKey means no chain is configured.
type Config struct {
	RPCURL          string
	ContractAddress string
	OwnerPrivateKey string
	ChainID         int64
	// ABIPath optionally overrides the built-in contract ABI.
	ABIPath        string
	ConfirmTimeout time.Duration
}

// EthereumIssuer drives the certificate contract over an RPC connection.
type EthereumIssuer struct {
	client         *ethclient.Client
	contract       common.Address
	contractABI    abi.ABI
	issuedEventID  common.Hash
	key            *ecdsa.PrivateKey
	owner          common.Address
	chainID        *big.Int
	confirmTimeout time.Duration
}

// Dial builds the chain capability. A missing configuration or an
// unreachable RPC endpoint yields the Unavailable variant, not an error:
// only failures of a live chain are errors in this package.
func Dial(ctx context.Context, cfg Config) (Capability, error) {
	if cfg.RPCURL == "" || cfg.ContractAddress == "" || cfg.OwnerPrivateKey == "" {
		return Unavailable("chain not configured"), nil
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, apperrors.New(apperrors.CodeChain, "CONTRACT_ADDRESS is not a valid address")
	}

	parsed, err := loadABI(cfg.ABIPath)
	if err != nil {
		return nil, err
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.OwnerPrivateKey, "0x"))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeChain, "parse OWNER_PRIVATE_KEY", err)
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return Unavailable("rpc dial failed: " + err.Error()), nil
	}
	if _, err := client.BlockNumber(ctx); err != nil {
		client.Close()
		return Unavailable("rpc unreachable: " + err.Error()), nil
	}

	confirmTimeout := cfg.ConfirmTimeout
	if confirmTimeout <= 0 {
		confirmTimeout = 2 * time.Minute
	}
	return &EthereumIssuer{
		client:         client,
		contract:       common.HexToAddress(cfg.ContractAddress),
		contractABI:    parsed,
		issuedEventID:  parsed.Events["CertificateIssued"].ID,
		key:            key,
		owner:          crypto.PubkeyToAddress(key.PublicKey),
		chainID:        big.NewInt(cfg.ChainID),
		confirmTimeout: confirmTimeout,
	}, nil
}

func (e *EthereumIssuer) Available() bool { return true }

func (e *EthereumIssuer) IssueCertificate(ctx context.Context, to common.Address, wholeKwh int64) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, e.confirmTimeout)
	defer cancel()

	nonce, err := e.client.PendingNonceAt(ctx, e.owner)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeChain, "fetch nonce", err)
	}
	calldata, err := e.contractABI.Pack("issueCertificate", to, big.NewInt(wholeKwh))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeChain, "encode issueCertificate call", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &e.contract,
		Gas:      issueGasLimit,
		GasPrice: new(big.Int).Mul(big.NewInt(issueGasPriceGwei), big.NewInt(params.GWei)),
		Data:     calldata,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(e.chainID), e.key)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeChain, "sign transaction", err)
	}
	if err := e.client.SendTransaction(ctx, signed); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeChain, "submit transaction", err)
	}

	mined, err := bind.WaitMined(ctx, e.client, signed)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeChain, "await confirmation", err)
	}
	if mined.Status != types.ReceiptStatusSuccessful {
		return nil, apperrors.Newf(apperrors.CodeChain, "transaction %s reverted", signed.Hash().Hex())
	}

	out := &Receipt{TxHash: signed.Hash().Hex()}
	for _, lg := range mined.Logs {
		if lg.Address != e.contract || len(lg.Topics) == 0 || lg.Topics[0] != e.issuedEventID {
			continue
		}
		id, ts, err := decodeIssuedEvent(e.contractABI, lg.Data)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeChain, "decode CertificateIssued event", err)
		}
		out.ID, out.Timestamp = &id, &ts
		break
	}
	return out, nil
}

func decodeIssuedEvent(contractABI abi.ABI, data []byte) (id int64, timestamp int64, err error) {
	vals, err := contractABI.Unpack("CertificateIssued", data)
	if err != nil {
		return 0, 0, err
	}
	return vals[0].(*big.Int).Int64(), vals[3].(*big.Int).Int64(), nil
}

func loadABI(path string) (abi.ABI, error) {
	raw := certificateABI
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return abi.ABI{}, apperrors.Wrap(apperrors.CodeChain, "read contract ABI file", err)
		}
		raw = string(data)
	}
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		return abi.ABI{}, apperrors.Wrap(apperrors.CodeChain, "parse contract ABI", err)
	}
	if _, ok := parsed.Methods["issueCertificate"]; !ok {
		return abi.ABI{}, apperrors.New(apperrors.CodeChain, "contract ABI has no issueCertificate method")
	}
	if _, ok := parsed.Events["CertificateIssued"]; !ok {
		return abi.ABI{}, apperrors.New(apperrors.CodeChain, "contract ABI has no CertificateIssued event")
	}
	return parsed, nil
}
