package evm

// ApproveMethod is the ERC-20 allowance method name.
const ApproveMethod = "approve"

// ERC20ApproveABI describes approve(address,uint256) returns (bool).
var ERC20ApproveABI = []byte(`[
	{
		"inputs": [
			{"name": "spender", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"name": "approve",
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`)
