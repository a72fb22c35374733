package lifecycle

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Kuzirashi/nxtp/chains/evm/signer"
	"github.com/Kuzirashi/nxtp/chains/evm/txmanager"
	rerrors "github.com/Kuzirashi/nxtp/common/errors"
	"github.com/Kuzirashi/nxtp/common/types"
)

// fulfillDiscriminator separates fulfill signatures from cancel signatures
// over the same transfer.
const fulfillDiscriminator = "fulfill"

// fulfillDigest hashes the payload a user signs to release a transfer:
// the transaction id, the relayer fee the signature authorizes, the function
// discriminator, and the receiving chain's id and manager address for domain
// separation.
func fulfillDigest(transactionID string, relayerFee *big.Int, receivingChainID types.ChainID, receivingChainTxManagerAddress string) ([]byte, error) {
	txID, err := hexutil.Decode(transactionID)
	if err != nil || len(txID) != 32 {
		return nil, rerrors.Newf(rerrors.KindParamsInvalid, "transactionId %q is not 32 bytes of hex", transactionID).
			WithContext("field", "transactionId")
	}
	if !common.IsHexAddress(receivingChainTxManagerAddress) {
		return nil, rerrors.Newf(rerrors.KindParamsInvalid, "receivingChainTxManagerAddress %q is not an address", receivingChainTxManagerAddress).
			WithContext("field", "receivingChainTxManagerAddress")
	}

	packed := make([]byte, 0, 32+32+len(fulfillDiscriminator)+32+common.AddressLength)
	packed = append(packed, txID...)
	packed = append(packed, common.LeftPadBytes(relayerFee.Bytes(), 32)...)
	packed = append(packed, fulfillDiscriminator...)
	packed = append(packed, common.LeftPadBytes(new(big.Int).SetUint64(uint64(receivingChainID)).Bytes(), 32)...)
	packed = append(packed, common.HexToAddress(receivingChainTxManagerAddress).Bytes()...)
	return crypto.Keccak256(packed), nil
}

// verifyFulfillSignature checks that the relayed signature recovers the
// transfer's user.
func verifyFulfillSignature(invariant types.InvariantTransactionData, relayerFee *big.Int, signature string) error {
	digest, err := fulfillDigest(invariant.TransactionID, relayerFee, invariant.ReceivingChainID, invariant.ReceivingChainTxManagerAddress)
	if err != nil {
		return err
	}

	sig, err := hexutil.Decode(signature)
	if err != nil {
		return rerrors.Newf(rerrors.KindParamsInvalid, "fulfill signature is not hex").
			WithContext("field", "signature")
	}
	recovered, err := signer.RecoverSigned(digest, sig)
	if err != nil {
		return rerrors.Wrap(err, rerrors.KindParamsInvalid, "unrecoverable fulfill signature").
			WithContext("field", "signature")
	}
	if !strings.EqualFold(recovered, invariant.User) {
		return rerrors.Newf(rerrors.KindParamsInvalid, "fulfill signature recovers %s, not the transfer's user", recovered).
			WithContext("field", "signature").
			WithContext("recovered", recovered)
	}
	return nil
}

// verifyCallData checks the plaintext call data against the invariant hash.
func verifyCallData(callDataHash, callData string) error {
	var data []byte
	if callData != "" && callData != "0x" {
		decoded, err := hexutil.Decode(callData)
		if err != nil {
			return rerrors.Newf(rerrors.KindParamsInvalid, "callData is not hex").
				WithContext("field", "callData")
		}
		data = decoded
	}
	if hash := crypto.Keccak256Hash(data); !strings.EqualFold(hash.Hex(), callDataHash) {
		return rerrors.Newf(rerrors.KindParamsInvalid, "callData hashes to %s, expected %s", hash.Hex(), callDataHash).
			WithContext("field", "callData")
	}
	return nil
}

// HandleMetaTxFulfill relays a user's fulfill. The router submits the
// receiver-side claim and keeps the offered relayer fee; the signature the
// submission reveals is immediately reused to claim the router's own funds
// on the sending chain. Everything that can be rejected locally is rejected
// before the first RPC.
//
// Parameters:
// - ctx: the context bounding the relayed submission.
// - payload: the user's meta-transaction request.
//
// Returns:
// - *types.MetaTxResponse: the receiver-side transaction hash.
// - error: a classified rejection, or the dispatch failure.
func (m *Manager) HandleMetaTxFulfill(ctx context.Context, payload *types.MetaTxPayload) (*types.MetaTxResponse, error) {
	if payload.Type != types.MetaTxTypeFulfill {
		return nil, rerrors.Newf(rerrors.KindParamsInvalid, "unsupported meta-transaction type %q", payload.Type).
			WithContext("field", "type")
	}

	chainID := payload.To
	manager, ok := m.managerAddress(chainID)
	if !ok {
		return nil, rerrors.Newf(rerrors.KindChainNotSupported, "chain %s is not configured", chainID).
			WithContext("chainId", chainID.String())
	}

	invariant, variant := payload.Data.TxData.Split()
	if variant.Amount == nil {
		return nil, rerrors.New(rerrors.KindParamsInvalid, "txData carries no parsable amount").
			WithContext("field", "txData.amount")
	}
	if chainID != invariant.ReceivingChainID {
		return nil, rerrors.Newf(rerrors.KindParamsInvalid, "fulfill targets chain %s but the transfer receives on %s", chainID, invariant.ReceivingChainID).
			WithContext("field", "to")
	}

	relayerFee, ok := new(big.Int).SetString(payload.Data.RelayerFee, 10)
	if !ok || relayerFee.Sign() < 0 {
		return nil, rerrors.Newf(rerrors.KindParamsInvalid, "relayerFee %q is not a non-negative integer", payload.Data.RelayerFee).
			WithContext("field", "relayerFee")
	}

	if err := verifyFulfillSignature(invariant, relayerFee, payload.Data.Signature); err != nil {
		return nil, err
	}
	if err := verifyCallData(invariant.CallDataHash, payload.Data.CallData); err != nil {
		return nil, err
	}

	required, err := m.fees.RelayerFee(ctx, chainID, types.ActionFulfill)
	if err != nil {
		return nil, rerrors.Wrap(err, rerrors.KindRpcError, "pricing the relayed fulfill")
	}
	if relayerFee.Cmp(required) < 0 {
		return nil, rerrors.Newf(rerrors.KindNotEnoughAmount, "relayer fee %s does not cover the fulfill cost %s", relayerFee, required).
			WithContext("relayerFee", relayerFee.String()).
			WithContext("required", required.String())
	}

	key := registryKey{transactionID: invariant.TransactionID, user: invariant.User}
	if !m.locks.TryAcquire(key.String()) {
		return nil, errors.Errorf("transfer %s has an operation in flight", invariant.TransactionID)
	}
	release := func() { m.locks.Release(key.String()) }

	receiving := &types.TransactionRecord{
		Invariant: invariant,
		Variant:   variant,
		ChainID:   chainID,
		Status:    types.StatusPrepared,
	}

	data, err := m.codec.EncodeFulfill(txmanager.FulfillParams{
		Record:     receiving,
		RelayerFee: relayerFee,
		Signature:  payload.Data.Signature,
		CallData:   payload.Data.CallData,
	})
	if err != nil {
		release()
		return nil, errors.Wrap(err, "encoding receiver fulfill")
	}

	receipt, err := m.execute(ctx, &types.Action{
		Kind:          types.ActionFulfill,
		ChainID:       chainID,
		TransactionID: invariant.TransactionID,
		To:            manager,
		Data:          data,
	})
	if err != nil {
		release()
		return nil, err
	}

	item := m.track(key, types.TransactionEvent{Kind: types.EventReceiverFulfilled, Record: receiving})
	m.advance(item, types.StatusReceiverFulfilled)

	m.logger.WithFields(logrus.Fields{
		"transactionId": key.transactionID,
		"user":          key.user,
		"chainId":       chainID,
		"txHash":        receipt.TransactionHash,
		"relayerFee":    relayerFee.String(),
	}).Info("Relayed receiver fulfill")

	// Claim the sender side with the revealed signature without holding the
	// reply back. The transfer lock rides along; the tracker's
	// ReceiverFulfilled event re-drives the claim if this attempt fails or
	// the sender record is not indexed yet.
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer release()

		if err := m.claimSender(m.runCtx, key, invariant, relayerFee, payload.Data.Signature, payload.Data.CallData); err != nil {
			m.logger.WithError(err).WithField("transactionId", key.transactionID).Error("Sender-side claim failed, the tracker will retry")
		}
	}()

	return &types.MetaTxResponse{TransactionHash: receipt.TransactionHash, ChainID: chainID}, nil
}

// receiverFulfilled reacts to an indexed receiver-side fulfill: the revealed
// signature lets the router claim the sender-side lock. This also covers
// users who fulfilled directly without relaying through this router.
func (m *Manager) receiverFulfilled(ctx context.Context, key registryKey, event types.TransactionEvent) error {
	item := m.track(key, event)
	m.advance(item, types.StatusReceiverFulfilled)

	record := event.Record
	if record.Signature == "" {
		return errors.New("receiver fulfill indexed without a signature")
	}
	relayerFee := record.RelayerFee
	if relayerFee == nil {
		relayerFee = big.NewInt(0)
	}

	return m.claimSender(ctx, key, record.Invariant, relayerFee, record.Signature, record.CallData)
}

// claimSender submits the sender-side fulfill. The caller holds the
// transfer's lock. The sender record comes from the registry when present
// and from the indexer otherwise; an unindexed record defers the claim to
// the next tracker event.
func (m *Manager) claimSender(ctx context.Context, key registryKey, invariant types.InvariantTransactionData, relayerFee *big.Int, signature, callData string) error {
	sendingChain := invariant.SendingChainID
	manager, ok := m.managerAddress(sendingChain)
	if !ok {
		return rerrors.Newf(rerrors.KindChainNotSupported, "sending chain %s is not configured", sendingChain).
			WithContext("chainId", sendingChain.String())
	}

	var sending *types.TransactionRecord
	m.registryMutex.Lock()
	if item, tracked := m.registry[key]; tracked {
		sending = item.sending
	}
	m.registryMutex.Unlock()

	if sending == nil {
		fetched, err := m.records.GetTransactionForChain(ctx, key.transactionID, key.user, sendingChain)
		if err != nil {
			return rerrors.Wrap(err, rerrors.KindRpcError, "fetching the sender record")
		}
		if fetched == nil {
			return errors.New("sender record not indexed yet")
		}
		sending = fetched
	}
	if sending.Status != types.StatusPrepared {
		m.logger.WithFields(logrus.Fields{
			"transactionId": key.transactionID,
			"status":        sending.Status,
		}).Debug("Sender side already settled")
		return nil
	}

	data, err := m.codec.EncodeFulfill(txmanager.FulfillParams{
		Record:     sending,
		RelayerFee: relayerFee,
		Signature:  signature,
		CallData:   callData,
	})
	if err != nil {
		return errors.Wrap(err, "encoding sender fulfill")
	}

	receipt, err := m.execute(ctx, &types.Action{
		Kind:          types.ActionFulfill,
		ChainID:       sendingChain,
		TransactionID: key.transactionID,
		To:            manager,
		Data:          data,
	})
	if err != nil {
		return err
	}

	m.registryMutex.Lock()
	if item, tracked := m.registry[key]; tracked && statusRank[types.StatusSenderFulfilled] > statusRank[item.status] {
		item.status = types.StatusSenderFulfilled
		item.updatedAt = m.now()
	}
	m.registryMutex.Unlock()

	m.logger.WithFields(logrus.Fields{
		"transactionId": key.transactionID,
		"chainId":       sendingChain,
		"txHash":        receipt.TransactionHash,
	}).Info("Claimed sender-side funds")
	return nil
}
