// Package artifact reads compiled contract definitions from disk.
package artifact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	xerrors "tokenflow/internal/errors"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Contract is a compiled contract: its ABI and creation bytecode.
type Contract struct {
	Name     string
	ABI      abi.ABI
	RawABI   json.RawMessage
	Bytecode []byte
}

// file accepts the Hardhat layout ("bytecode": "0x...") and the Foundry
// layout ("bytecode": {"object": "0x..."}).
type file struct {
	ContractName string          `json:"contractName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     json.RawMessage `json:"bytecode"`
}

// Load reads and parses the artifact at path.
func Load(path string) (*Contract, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "read contract artifact",
			xerrors.WithMetadata("path", path))
	}
	contract, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if contract.Name == "" {
		contract.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return contract, nil
}

// Parse decodes an artifact held in memory.
func Parse(content []byte) (*Contract, error) {
	var f file
	if err := json.Unmarshal(content, &f); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "decode contract artifact")
	}
	if len(f.ABI) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "contract artifact has no abi")
	}
	parsed, err := abi.JSON(bytes.NewReader(f.ABI))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "parse contract abi")
	}
	code, err := decodeBytecode(f.Bytecode)
	if err != nil {
		return nil, err
	}
	return &Contract{Name: f.ContractName, ABI: parsed, RawABI: f.ABI, Bytecode: code}, nil
}

func decodeBytecode(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "contract artifact has no bytecode")
	}
	var hexCode string
	if err := json.Unmarshal(raw, &hexCode); err != nil {
		var foundry struct {
			Object string `json:"object"`
		}
		if err := json.Unmarshal(raw, &foundry); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "decode bytecode field")
		}
		hexCode = foundry.Object
	}
	hexCode = strings.TrimPrefix(strings.TrimSpace(hexCode), "0x")
	if hexCode == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "contract bytecode is empty")
	}
	if strings.Contains(hexCode, "__") {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "contract bytecode has unlinked libraries")
	}
	if !isHex(hexCode) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "contract bytecode is not hex")
	}
	return common.FromHex(hexCode), nil
}

func isHex(s string) bool {
	if len(s)%2 != 0 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// InitCode returns the creation bytecode with the ABI encoded constructor
// arguments appended.
func (c *Contract) InitCode(args ...any) ([]byte, error) {
	packed, err := c.ABI.Pack("", args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode constructor arguments",
			xerrors.WithMetadata("contract", c.Name))
	}
	code := make([]byte, 0, len(c.Bytecode)+len(packed))
	code = append(code, c.Bytecode...)
	return append(code, packed...), nil
}

// RequireMethods fails when any of names is missing from the ABI.
func (c *Contract) RequireMethods(names ...string) error {
	var missing []string
	for _, name := range names {
		if _, ok := c.ABI.Methods[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("contract %s is missing methods: %s", c.Name, strings.Join(missing, ", ")))
	}
	return nil
}
