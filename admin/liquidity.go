package admin

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/Kuzirashi/nxtp/chains/evm"
	rerrors "github.com/Kuzirashi/nxtp/common/errors"
	"github.com/Kuzirashi/nxtp/common/types"
)

// removeLiquidityRequest withdraws router balance from a manager contract.
type removeLiquidityRequest struct {
	ChainID   types.ChainID `json:"chainId"`
	AssetID   string        `json:"assetId"`
	Amount    string        `json:"amount"`
	Recipient string        `json:"recipient"`
}

// addLiquidityRequest deposits balance for a router, by default this one.
type addLiquidityRequest struct {
	ChainID types.ChainID `json:"chainId"`
	AssetID string        `json:"assetId"`
	Amount  string        `json:"amount"`
	Router  string        `json:"router"`
}

type liquidityResponse struct {
	TransactionHash string `json:"transactionHash"`
}

func (s *Server) handleRemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	var req removeLiquidityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest,
			rerrors.Wrap(err, rerrors.KindParamsInvalid, "request body is not valid JSON"))
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	cfg, ok := s.configs[req.ChainID]
	if !ok {
		s.writeError(w, http.StatusBadRequest,
			rerrors.Newf(rerrors.KindChainNotSupported, "chain %s is not configured", req.ChainID).
				WithContext("chainId", req.ChainID.String()))
		return
	}

	assetID := req.AssetID
	if evm.IsNativeAsset(assetID) {
		assetID = evm.AddressZero
	}
	recipient := req.Recipient
	if recipient == "" {
		recipient = s.signer.Address()
	}

	data, err := s.codec.EncodeRemoveLiquidity(amount, assetID, recipient)
	if err != nil {
		s.writeError(w, http.StatusBadRequest,
			rerrors.Wrap(err, rerrors.KindParamsInvalid, "cannot encode removeLiquidity"))
		return
	}

	receipt, err := s.execute(r.Context(), &types.Action{
		Kind:          types.ActionRemoveLiquidity,
		ChainID:       req.ChainID,
		TransactionID: newOperationID(),
		To:            cfg.TransactionManagerAddress,
		Data:          data,
	})
	if err != nil {
		s.writeError(w, statusForKind(rerrors.KindOf(err)), err)
		return
	}

	s.logger.WithFields(logrus.Fields{
		"chainId":   req.ChainID,
		"assetId":   assetID,
		"amount":    amount.String(),
		"recipient": recipient,
		"txHash":    receipt.TransactionHash,
	}).Info("Removed liquidity")
	s.writeJSON(w, http.StatusOK, liquidityResponse{TransactionHash: receipt.TransactionHash})
}

func (s *Server) handleAddLiquidityFor(w http.ResponseWriter, r *http.Request) {
	var req addLiquidityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest,
			rerrors.Wrap(err, rerrors.KindParamsInvalid, "request body is not valid JSON"))
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	cfg, ok := s.configs[req.ChainID]
	if !ok {
		s.writeError(w, http.StatusBadRequest,
			rerrors.Newf(rerrors.KindChainNotSupported, "chain %s is not configured", req.ChainID).
				WithContext("chainId", req.ChainID.String()))
		return
	}

	assetID := req.AssetID
	if evm.IsNativeAsset(assetID) {
		assetID = evm.AddressZero
	}
	router := req.Router
	if router == "" {
		router = s.signer.Address()
	}

	data, err := s.codec.EncodeAddLiquidityFor(amount, assetID, router)
	if err != nil {
		s.writeError(w, http.StatusBadRequest,
			rerrors.Wrap(err, rerrors.KindParamsInvalid, "cannot encode addLiquidityFor"))
		return
	}

	action := &types.Action{
		Kind:          types.ActionAddLiquidityFor,
		ChainID:       req.ChainID,
		TransactionID: newOperationID(),
		To:            cfg.TransactionManagerAddress,
		Data:          data,
	}
	// Native deposits carry the amount as transaction value.
	if evm.IsNativeAsset(assetID) {
		action.Value = amount
	}

	receipt, err := s.execute(r.Context(), action)
	if err != nil {
		s.writeError(w, statusForKind(rerrors.KindOf(err)), err)
		return
	}

	s.logger.WithFields(logrus.Fields{
		"chainId": req.ChainID,
		"assetId": assetID,
		"amount":  amount.String(),
		"router":  router,
		"txHash":  receipt.TransactionHash,
	}).Info("Added liquidity")
	s.writeJSON(w, http.StatusOK, liquidityResponse{TransactionHash: receipt.TransactionHash})
}

// execute submits one action and waits for its mined receipt.
func (s *Server) execute(ctx context.Context, action *types.Action) (*types.ActionReceipt, error) {
	ch, err := s.actions.Dispatch(action)
	if err != nil {
		return nil, err
	}
	select {
	case result := <-ch:
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Receipt, nil
	case <-ctx.Done():
		return nil, rerrors.Wrap(ctx.Err(), rerrors.KindRpcError, "abandoned dispatch wait")
	}
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, rerrors.Newf(rerrors.KindParamsInvalid, "amount %q is not a positive integer", raw).
			WithContext("field", "amount")
	}
	return amount, nil
}
