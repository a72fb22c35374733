// Package messaging connects the router to the network's NATS fabric. It
// answers broadcast auction requests with signed bids and accepts relayed
// fulfill requests, replying on each request's inbox with the operation's
// result or a classified error envelope.
package messaging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Kuzirashi/nxtp/auction"
	rerrors "github.com/Kuzirashi/nxtp/common/errors"
	"github.com/Kuzirashi/nxtp/common/types"
	"github.com/Kuzirashi/nxtp/config"
	"github.com/Kuzirashi/nxtp/lifecycle"
)

const (
	// subjectAuctions matches every auction broadcast regardless of lane.
	subjectAuctions = "auction.>"

	// subjectMetaTx matches every relayed submission request.
	subjectMetaTx = "metatx.>"

	// handlerTimeout bounds one inbound request end to end, including the
	// mined-receipt wait a relayed fulfill performs.
	handlerTimeout = 2 * time.Minute

	// reconnectWait is the pause between reconnection attempts to the fabric.
	reconnectWait = 2 * time.Second

	// authTimeout bounds each request of the auth service handshake.
	authTimeout = 10 * time.Second
)

// auctioneer quotes auction requests.
type auctioneer interface {
	Evaluate(ctx context.Context, payload *types.AuctionPayload) (*types.AuctionResponse, error)
}

// relayer submits user operations carried by meta-transactions.
type relayer interface {
	HandleMetaTxFulfill(ctx context.Context, payload *types.MetaTxPayload) (*types.MetaTxResponse, error)
}

// conn is the slice of the NATS connection the service uses.
type conn interface {
	QueueSubscribe(subject, queue string, handler nats.MsgHandler) (*nats.Subscription, error)
	Publish(subject string, data []byte) error
	Drain() error
}

// errorBody is the classified failure shape peers parse out of replies.
type errorBody struct {
	Kind    rerrors.Kind           `json:"kind"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// errorEnvelope wraps a failure reply.
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// Service subscribes the router to the auction and metaTx subjects.
//
// Fields:
// - logger: the router logger.
// - signer: the router identity, used for the auth handshake and as the
//   queue group so replicas of one router split work.
// - natsURL: the fabric endpoint.
// - authURL: the auth service issuing connection tokens, empty to connect
//   without one.
// - auctions: the evaluator answering auction payloads.
// - relays: the lifecycle manager executing relayed fulfills.
// - httpClient: client used for the auth handshake.
type Service struct {
	logger *logrus.Logger
	signer types.Signer

	natsURL string
	authURL string

	auctions auctioneer
	relays   relayer

	httpClient *http.Client

	conn conn
	subs []*nats.Subscription

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires the messaging service from the router's subsystems.
func New(cfg *config.Config, auctions *auction.Evaluator, relays *lifecycle.Manager, signer types.Signer, logger *logrus.Logger) *Service {
	return &Service{
		logger:     logger,
		signer:     signer,
		natsURL:    cfg.NatsURL,
		authURL:    cfg.AuthURL,
		auctions:   auctions,
		relays:     relays,
		httpClient: &http.Client{Timeout: authTimeout},
		runCtx:     context.Background(),
	}
}

// Start connects to the fabric and subscribes both subjects. The queue group
// is the router address, so multiple processes sharing one key split the
// inbound load while every distinct router still sees every auction.
func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.runCtx = runCtx
	s.cancel = cancel

	if s.conn == nil {
		opts := []nats.Option{
			nats.Name("nxtp-router-" + s.signer.Address()),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(reconnectWait),
		}
		if s.authURL != "" {
			token, err := s.bearerToken(ctx)
			if err != nil {
				return errors.Wrap(err, "acquiring messaging token")
			}
			opts = append(opts, nats.Token(token))
		}

		nc, err := nats.Connect(s.natsURL, opts...)
		if err != nil {
			return rerrors.Wrap(err, rerrors.KindConfigurationError, "connecting to the messaging fabric").
				WithContext("natsUrl", s.natsURL)
		}
		s.conn = nc
	}

	queue := s.signer.Address()
	auctionSub, err := s.conn.QueueSubscribe(subjectAuctions, queue, s.handleAuction)
	if err != nil {
		return errors.Wrap(err, "subscribing to auctions")
	}
	s.subs = append(s.subs, auctionSub)

	metaSub, err := s.conn.QueueSubscribe(subjectMetaTx, queue, s.handleMetaTx)
	if err != nil {
		return errors.Wrap(err, "subscribing to meta-transactions")
	}
	s.subs = append(s.subs, metaSub)

	s.logger.WithFields(logrus.Fields{
		"natsUrl": s.natsURL,
		"queue":   queue,
	}).Info("Listening for auctions and meta-transactions")
	return nil
}

// Stop unsubscribes, waits for in-flight handlers and drains the connection.
func (s *Service) Stop() {
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.WithError(err).Debug("Unsubscribe failed during shutdown")
		}
	}
	s.wg.Wait()

	if s.cancel != nil {
		s.cancel()
	}
	if s.conn != nil {
		if err := s.conn.Drain(); err != nil {
			s.logger.WithError(err).Warn("Messaging drain failed")
		}
	}
}

// handleAuction answers one auction broadcast. Every message runs on its own
// goroutine; quoting does RPC work and must not block the next auction.
func (s *Service) handleAuction(msg *nats.Msg) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		requestID := newRequestID()
		log := s.logger.WithFields(logrus.Fields{
			"requestId": requestID,
			"origin":    msg.Subject,
			"method":    "auction",
		})

		ctx, cancel := context.WithTimeout(s.runCtx, handlerTimeout)
		defer cancel()

		var payload types.AuctionPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			s.replyError(log, msg, "auction", requestID,
				rerrors.Wrap(err, rerrors.KindParamsInvalid, "auction payload is not valid JSON"))
			return
		}
		log = log.WithField("transactionId", payload.TransactionID)

		response, err := s.auctions.Evaluate(ctx, &payload)
		if errors.Is(err, auction.ErrNotParticipating) {
			// Stay silent; another router answers.
			return
		}
		if err != nil {
			s.replyError(log, msg, "auction", requestID, err)
			return
		}
		s.reply(log, msg, response)
	}()
}

// handleMetaTx executes one relayed submission and replies with its hash.
func (s *Service) handleMetaTx(msg *nats.Msg) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		requestID := newRequestID()
		log := s.logger.WithFields(logrus.Fields{
			"requestId": requestID,
			"origin":    msg.Subject,
			"method":    "metaTxFulfill",
		})

		ctx, cancel := context.WithTimeout(s.runCtx, handlerTimeout)
		defer cancel()

		var payload types.MetaTxPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			s.replyError(log, msg, "metaTxFulfill", requestID,
				rerrors.Wrap(err, rerrors.KindParamsInvalid, "meta-transaction payload is not valid JSON"))
			return
		}
		log = log.WithField("transactionId", payload.Data.TxData.TransactionID)

		response, err := s.relays.HandleMetaTxFulfill(ctx, &payload)
		if err != nil {
			s.replyError(log, msg, "metaTxFulfill", requestID, err)
			return
		}
		s.reply(log, msg, response)
	}()
}

// reply publishes a success payload to the request's inbox. Requests without
// an inbox are fire-and-forget and get no reply.
func (s *Service) reply(log *logrus.Entry, msg *nats.Msg, payload interface{}) {
	if msg.Reply == "" {
		log.Debug("Request carries no inbox, dropping reply")
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.WithError(err).Error("Failed to encode reply")
		return
	}
	if err := s.conn.Publish(msg.Reply, data); err != nil {
		log.WithError(err).Warn("Failed to publish reply")
	}
}

// replyError publishes the classified failure envelope, enriched with the
// request correlation fields peers use to match replies to logs.
func (s *Service) replyError(log *logrus.Entry, msg *nats.Msg, method, requestID string, err error) {
	log.WithError(err).Info("Rejecting request")

	if msg.Reply == "" {
		return
	}

	body := errorBody{
		Kind:    rerrors.KindOf(err),
		Message: err.Error(),
		Context: map[string]interface{}{},
	}
	for key, value := range rerrors.ContextOf(err) {
		body.Context[key] = value
	}
	body.Context["requestId"] = requestID
	body.Context["origin"] = msg.Subject
	body.Context["method"] = method

	data, marshalErr := json.Marshal(errorEnvelope{Error: body})
	if marshalErr != nil {
		log.WithError(marshalErr).Error("Failed to encode error reply")
		return
	}
	if publishErr := s.conn.Publish(msg.Reply, data); publishErr != nil {
		log.WithError(publishErr).Warn("Failed to publish error reply")
	}
}

// newRequestID mints a correlation id for one inbound request.
func newRequestID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "0"
	}
	return hex.EncodeToString(buf)
}
