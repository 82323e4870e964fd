// Package web3test provides an in-process chain that understands the account
// and token contracts, for tests that do not need a real EVM.
package web3test

import (
	"embed"
	"math/big"

	"tokenflow/internal/artifact"
	"tokenflow/internal/web3"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

// AccountABI is the interface of contracts/SimpleAccount.sol.
const AccountABI = `[
	{"type":"constructor","stateMutability":"nonpayable","inputs":[{"name":"owner_","type":"address"}]},
	{"type":"function","name":"owner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"execute","stateMutability":"payable","inputs":[{"name":"target","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"}],"outputs":[{"name":"result","type":"bytes"}]},
	{"type":"event","name":"Executed","anonymous":false,"inputs":[{"name":"target","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false},{"name":"data","type":"bytes","indexed":false}]}
]`

// TokenABI is the interface of contracts/DemoToken.sol.
const TokenABI = `[
	{"type":"constructor","stateMutability":"nonpayable","inputs":[]},
	{"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"holder","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"mint","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"event","name":"Transfer","anonymous":false,"inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false}]}
]`

// The fake chain tells the two contracts apart by these creation codes.
const (
	accountBytecode = "0x60016000"
	tokenBytecode   = "0x60026000"
)

// AccountArtifact returns the account contract with placeholder bytecode.
func AccountArtifact() *artifact.Contract {
	return mustParse(`{"contractName":"SimpleAccount","abi":` + AccountABI + `,"bytecode":"` + accountBytecode + `"}`)
}

// TokenArtifact returns the token contract with placeholder bytecode.
func TokenArtifact() *artifact.Contract {
	return mustParse(`{"contractName":"DemoToken","abi":` + TokenABI + `,"bytecode":"` + tokenBytecode + `"}`)
}

// Create2FactoryRuntime is the runtime code of the deterministic deployment
// proxy: calldata is salt || initcode and the created address is returned.
const Create2FactoryRuntime = "0x7fffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffe03601600081602082378035828234f58015156039578182fd5b8082525050506014600cf3"

//go:embed testdata/SimpleAccount.json testdata/DemoToken.json
var evmArtifacts embed.FS

// EVMAccountArtifact returns the account contract with bytecode that runs on
// a real EVM.
func EVMAccountArtifact() *artifact.Contract {
	return mustLoad("testdata/SimpleAccount.json")
}

// EVMTokenArtifact returns the token contract with bytecode that runs on a
// real EVM.
func EVMTokenArtifact() *artifact.Contract {
	return mustLoad("testdata/DemoToken.json")
}

// SimulatedGenesis funds every holder with funds and installs the
// deterministic deployment proxy at its canonical address.
func SimulatedGenesis(funds *big.Int, holders ...common.Address) coretypes.GenesisAlloc {
	alloc := coretypes.GenesisAlloc{
		common.HexToAddress(web3.DeterministicDeployer): {
			Code:    common.FromHex(Create2FactoryRuntime),
			Balance: big.NewInt(0),
		},
	}
	for _, holder := range holders {
		alloc[holder] = coretypes.Account{Balance: new(big.Int).Set(funds)}
	}
	return alloc
}

func mustLoad(name string) *artifact.Contract {
	content, err := evmArtifacts.ReadFile(name)
	if err != nil {
		panic(err)
	}
	return mustParse(string(content))
}

func mustParse(content string) *artifact.Contract {
	c, err := artifact.Parse([]byte(content))
	if err != nil {
		panic(err)
	}
	return c
}
