package registry

// Uniswap V3 deployments used for on-chain quoting and swap building.
var uniswapV3ContractsByChainID = map[int64]struct {
	QuoterV2 string
	Router   string
}{
	1: {
		QuoterV2: "0x61fFE014bA17989E743c5F6cB21bF9697530B21e",
		Router:   "0x68b3465833fb72A70ecDF485E0e4C7bD8665Fc45",
	},
	10: {
		QuoterV2: "0x61fFE014bA17989E743c5F6cB21bF9697530B21e",
		Router:   "0x68b3465833fb72A70ecDF485E0e4C7bD8665Fc45",
	},
	137: {
		QuoterV2: "0x61fFE014bA17989E743c5F6cB21bF9697530B21e",
		Router:   "0x68b3465833fb72A70ecDF485E0e4C7bD8665Fc45",
	},
	8453: {
		QuoterV2: "0x3d4e44Eb1374240CE5F1B871ab261CD16335B76a",
		Router:   "0x2626664c2603336E57B271c5C0b26F421741e481",
	},
	42161: {
		QuoterV2: "0x61fFE014bA17989E743c5F6cB21bF9697530B21e",
		Router:   "0x68b3465833fb72A70ecDF485E0e4C7bD8665Fc45",
	},
	43114: {
		QuoterV2: "0xbe0F5544EC67e9B3b2D979aaA43f18Fd87E6257F",
		Router:   "0xbb00FF08d01D300023C629E8fFfFcb65A5a578cE",
	},
}

func UniswapV3Contracts(chainID int64) (quoterV2 string, router string, ok bool) {
	contracts, ok := uniswapV3ContractsByChainID[chainID]
	if !ok {
		return "", "", false
	}
	return contracts.QuoterV2, contracts.Router, true
}
