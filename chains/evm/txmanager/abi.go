package txmanager

// TransactionManagerABI covers the manager entry points the router calls.
// The tuple layouts must stay in sync with the deployed contract.
const TransactionManagerABI = `[
  {
    "inputs": [
      {
        "components": [
          {
            "components": [
              {"internalType": "address", "name": "receivingChainTxManagerAddress", "type": "address"},
              {"internalType": "address", "name": "user", "type": "address"},
              {"internalType": "address", "name": "router", "type": "address"},
              {"internalType": "address", "name": "initiator", "type": "address"},
              {"internalType": "address", "name": "sendingAssetId", "type": "address"},
              {"internalType": "address", "name": "receivingAssetId", "type": "address"},
              {"internalType": "address", "name": "sendingChainFallback", "type": "address"},
              {"internalType": "address", "name": "receivingAddress", "type": "address"},
              {"internalType": "address", "name": "callTo", "type": "address"},
              {"internalType": "uint256", "name": "sendingChainId", "type": "uint256"},
              {"internalType": "uint256", "name": "receivingChainId", "type": "uint256"},
              {"internalType": "bytes32", "name": "callDataHash", "type": "bytes32"},
              {"internalType": "bytes32", "name": "transactionId", "type": "bytes32"}
            ],
            "internalType": "struct ITransactionManager.InvariantTransactionData",
            "name": "invariantData",
            "type": "tuple"
          },
          {"internalType": "uint256", "name": "amount", "type": "uint256"},
          {"internalType": "uint256", "name": "expiry", "type": "uint256"},
          {"internalType": "bytes", "name": "encryptedCallData", "type": "bytes"},
          {"internalType": "bytes", "name": "encodedBid", "type": "bytes"},
          {"internalType": "bytes", "name": "bidSignature", "type": "bytes"},
          {"internalType": "bytes", "name": "encodedMeta", "type": "bytes"}
        ],
        "internalType": "struct ITransactionManager.PrepareArgs",
        "name": "args",
        "type": "tuple"
      }
    ],
    "name": "prepare",
    "outputs": [],
    "stateMutability": "payable",
    "type": "function"
  },
  {
    "inputs": [
      {
        "components": [
          {
            "components": [
              {"internalType": "address", "name": "receivingChainTxManagerAddress", "type": "address"},
              {"internalType": "address", "name": "user", "type": "address"},
              {"internalType": "address", "name": "router", "type": "address"},
              {"internalType": "address", "name": "initiator", "type": "address"},
              {"internalType": "address", "name": "sendingAssetId", "type": "address"},
              {"internalType": "address", "name": "receivingAssetId", "type": "address"},
              {"internalType": "address", "name": "sendingChainFallback", "type": "address"},
              {"internalType": "address", "name": "receivingAddress", "type": "address"},
              {"internalType": "address", "name": "callTo", "type": "address"},
              {"internalType": "bytes32", "name": "callDataHash", "type": "bytes32"},
              {"internalType": "bytes32", "name": "transactionId", "type": "bytes32"},
              {"internalType": "uint256", "name": "sendingChainId", "type": "uint256"},
              {"internalType": "uint256", "name": "receivingChainId", "type": "uint256"},
              {"internalType": "uint256", "name": "amount", "type": "uint256"},
              {"internalType": "uint256", "name": "expiry", "type": "uint256"},
              {"internalType": "uint256", "name": "preparedBlockNumber", "type": "uint256"}
            ],
            "internalType": "struct ITransactionManager.TransactionData",
            "name": "txData",
            "type": "tuple"
          },
          {"internalType": "uint256", "name": "relayerFee", "type": "uint256"},
          {"internalType": "bytes", "name": "signature", "type": "bytes"},
          {"internalType": "bytes", "name": "callData", "type": "bytes"},
          {"internalType": "bytes", "name": "encodedMeta", "type": "bytes"}
        ],
        "internalType": "struct ITransactionManager.FulfillArgs",
        "name": "args",
        "type": "tuple"
      }
    ],
    "name": "fulfill",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [
      {
        "components": [
          {
            "components": [
              {"internalType": "address", "name": "receivingChainTxManagerAddress", "type": "address"},
              {"internalType": "address", "name": "user", "type": "address"},
              {"internalType": "address", "name": "router", "type": "address"},
              {"internalType": "address", "name": "initiator", "type": "address"},
              {"internalType": "address", "name": "sendingAssetId", "type": "address"},
              {"internalType": "address", "name": "receivingAssetId", "type": "address"},
              {"internalType": "address", "name": "sendingChainFallback", "type": "address"},
              {"internalType": "address", "name": "receivingAddress", "type": "address"},
              {"internalType": "address", "name": "callTo", "type": "address"},
              {"internalType": "bytes32", "name": "callDataHash", "type": "bytes32"},
              {"internalType": "bytes32", "name": "transactionId", "type": "bytes32"},
              {"internalType": "uint256", "name": "sendingChainId", "type": "uint256"},
              {"internalType": "uint256", "name": "receivingChainId", "type": "uint256"},
              {"internalType": "uint256", "name": "amount", "type": "uint256"},
              {"internalType": "uint256", "name": "expiry", "type": "uint256"},
              {"internalType": "uint256", "name": "preparedBlockNumber", "type": "uint256"}
            ],
            "internalType": "struct ITransactionManager.TransactionData",
            "name": "txData",
            "type": "tuple"
          },
          {"internalType": "bytes", "name": "signature", "type": "bytes"},
          {"internalType": "bytes", "name": "encodedMeta", "type": "bytes"}
        ],
        "internalType": "struct ITransactionManager.CancelArgs",
        "name": "args",
        "type": "tuple"
      }
    ],
    "name": "cancel",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "uint256", "name": "amount", "type": "uint256"},
      {"internalType": "address", "name": "assetId", "type": "address"},
      {"internalType": "address payable", "name": "recipient", "type": "address"}
    ],
    "name": "removeLiquidity",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "uint256", "name": "amount", "type": "uint256"},
      {"internalType": "address", "name": "assetId", "type": "address"},
      {"internalType": "address", "name": "router", "type": "address"}
    ],
    "name": "addLiquidityFor",
    "outputs": [],
    "stateMutability": "payable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "address", "name": "router", "type": "address"},
      {"internalType": "address", "name": "assetId", "type": "address"}
    ],
    "name": "routerBalances",
    "outputs": [
      {"internalType": "uint256", "name": "", "type": "uint256"}
    ],
    "stateMutability": "view",
    "type": "function"
  }
]`
