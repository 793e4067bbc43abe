package distribution

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Terminal pay() entry point, JBMultiTerminal-compatible. The function
// is payable for native-asset projects; token payments attach no value.
const terminalABIJSON = `[
  {
    "name": "pay",
    "type": "function",
    "stateMutability": "payable",
    "inputs": [
      {"name": "_projectId", "type": "uint256"},
      {"name": "_token", "type": "address"},
      {"name": "_amount", "type": "uint256"},
      {"name": "_beneficiary", "type": "address"},
      {"name": "_minReturnedTokens", "type": "uint256"},
      {"name": "_memo", "type": "string"},
      {"name": "_metadata", "type": "bytes"}
    ],
    "outputs": [{"name": "beneficiaryTokenCount", "type": "uint256"}]
  }
]`

// TerminalABI is the distribution contract interface.
var TerminalABI = mustABI(terminalABIJSON)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
