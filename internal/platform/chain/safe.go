package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// guardStorageSlot is the custodial wallet's guard slot:
// keccak256("guard_manager.guard.address").
var guardStorageSlot = common.HexToHash(
	"0x4a204f620c8c5ccdca3fd54d003badd85ba500436a431f0cbda4f558c93c34c8",
)

// Minimal ABI fragments for the custodial wallet and its withdrawal module.
// Only the methods the configurator and executor touch are declared.
const walletABIJSON = `[
	{"name":"isModuleEnabled","type":"function","stateMutability":"view","inputs":[{"name":"module","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"enableModule","type":"function","stateMutability":"nonpayable","inputs":[{"name":"module","type":"address"}],"outputs":[]},
	{"name":"setGuard","type":"function","stateMutability":"nonpayable","inputs":[{"name":"guard","type":"address"}],"outputs":[]},
	{"name":"nonce","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"getTransactionHash","type":"function","stateMutability":"view","inputs":[
		{"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"},
		{"name":"operation","type":"uint8"},{"name":"safeTxGas","type":"uint256"},{"name":"baseGas","type":"uint256"},
		{"name":"gasPrice","type":"uint256"},{"name":"gasToken","type":"address"},{"name":"refundReceiver","type":"address"},
		{"name":"_nonce","type":"uint256"}],"outputs":[{"name":"","type":"bytes32"}]},
	{"name":"execTransaction","type":"function","stateMutability":"payable","inputs":[
		{"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"},
		{"name":"operation","type":"uint8"},{"name":"safeTxGas","type":"uint256"},{"name":"baseGas","type":"uint256"},
		{"name":"gasPrice","type":"uint256"},{"name":"gasToken","type":"address"},{"name":"refundReceiver","type":"address"},
		{"name":"signatures","type":"bytes"}],"outputs":[{"name":"","type":"bool"}]}
]`

const moduleABIJSON = `[
	{"name":"authorize","type":"function","stateMutability":"nonpayable","inputs":[{"name":"user","type":"address"}],"outputs":[]},
	{"name":"authorized","type":"function","stateMutability":"view","inputs":[{"name":"wallet","type":"address"},{"name":"user","type":"address"}],"outputs":[{"name":"","type":"bool"}]}
]`

const erc20ABIJSON = `[
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var (
	walletABI abi.ABI
	moduleABI abi.ABI
	erc20ABI  abi.ABI
)

func init() {
	var err error
	if walletABI, err = abi.JSON(strings.NewReader(walletABIJSON)); err != nil {
		panic(fmt.Sprintf("chain: parsing wallet ABI: %v", err))
	}
	if moduleABI, err = abi.JSON(strings.NewReader(moduleABIJSON)); err != nil {
		panic(fmt.Sprintf("chain: parsing module ABI: %v", err))
	}
	if erc20ABI, err = abi.JSON(strings.NewReader(erc20ABIJSON)); err != nil {
		panic(fmt.Sprintf("chain: parsing erc20 ABI: %v", err))
	}
}

// PackEnableModule returns calldata enabling the withdrawal module; executed
// as a wallet self-call.
func PackEnableModule(module string) ([]byte, error) {
	data, err := walletABI.Pack("enableModule", common.HexToAddress(module))
	if err != nil {
		return nil, fmt.Errorf("chain: pack enableModule: %w", err)
	}
	return data, nil
}

// PackSetGuard returns calldata installing the trade guard; executed as a
// wallet self-call.
func PackSetGuard(guard string) ([]byte, error) {
	data, err := walletABI.Pack("setGuard", common.HexToAddress(guard))
	if err != nil {
		return nil, fmt.Errorf("chain: pack setGuard: %w", err)
	}
	return data, nil
}

// PackAuthorize returns calldata authorizing the user's primary address for
// withdrawal; executed against the withdrawal module.
func PackAuthorize(user string) ([]byte, error) {
	data, err := moduleABI.Pack("authorize", common.HexToAddress(user))
	if err != nil {
		return nil, fmt.Errorf("chain: pack authorize: %w", err)
	}
	return data, nil
}
