package subgraph

// transactionFields is the full field selection shared by every
// transaction query.
const transactionFields = `
    id
    status
    chainId
    preparedTimestamp
    user { id }
    router { id }
    initiator
    receivingChainTxManagerAddress
    sendingAssetId
    receivingAssetId
    sendingChainFallback
    receivingAddress
    callTo
    callDataHash
    transactionId
    sendingChainId
    receivingChainId
    amount
    expiry
    preparedBlockNumber
    encryptedCallData
    encodedBid
    bidSignature
    relayerFee
    signature
    callData
    cancelledNoFunds`

// routerTransactionsQuery fetches the router's transactions on one side of
// one chain in a given status, in block order.
const routerTransactionsQuery = `
  query RouterTransactions($router: String!, $chainId: BigInt!, $status: TransactionStatus!, $sinceTimestamp: BigInt!) {
    sending: transactions(
      where: { router: $router, sendingChainId: $chainId, status: $status, preparedTimestamp_gte: $sinceTimestamp }
      orderBy: preparedBlockNumber
      orderDirection: asc
      first: 1000
    ) {` + transactionFields + `
    }
    receiving: transactions(
      where: { router: $router, receivingChainId: $chainId, status: $status, preparedTimestamp_gte: $sinceTimestamp }
      orderBy: preparedBlockNumber
      orderDirection: asc
      first: 1000
    ) {` + transactionFields + `
    }
  }`

// transactionByIDQuery fetches a single transaction by its composite
// indexer id (transactionId-user-router).
const transactionByIDQuery = `
  query TransactionByID($id: ID!) {
    transaction(id: $id) {` + transactionFields + `
    }
  }`

// assetBalanceQuery fetches the router's unlocked liquidity for one asset.
const assetBalanceQuery = `
  query AssetBalance($id: ID!) {
    assetBalance(id: $id) {
      id
      amount
    }
  }`

// syncMetaQuery fetches the indexer's own head block.
const syncMetaQuery = `
  query SyncMeta {
    _meta {
      block {
        number
      }
    }
  }`
