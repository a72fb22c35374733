package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Kuzirashi/nxtp/common/errors"
	"github.com/Kuzirashi/nxtp/common/types"
	"github.com/sirupsen/logrus"
)

// queryTimeout bounds each GraphQL request.
const queryTimeout = 10 * time.Second

// client queries one chain's indexer endpoints with ordered fallback.
//
// Fields:
// - chainID: the chain the endpoints index.
// - endpoints: GraphQL endpoint URLs, tried in order.
// - httpClient: the HTTP client shared by all requests.
// - logger: the logger instance for logging query failures.
type client struct {
	chainID    types.ChainID
	endpoints  []string
	httpClient *http.Client
	logger     *logrus.Logger
}

func newClient(chainID types.ChainID, endpoints []string, logger *logrus.Logger) *client {
	return &client{
		chainID:    chainID,
		endpoints:  endpoints,
		httpClient: &http.Client{Timeout: queryTimeout},
		logger:     logger,
	}
}

type gqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
}

// query runs the document against the endpoints in order, decoding the
// data object of the first successful response into out.
func (c *client) query(ctx context.Context, document string, variables map[string]interface{}, out interface{}) error {
	var lastErr error
	for _, endpoint := range c.endpoints {
		if err := c.queryEndpoint(ctx, endpoint, document, variables, out); err != nil {
			if ctx.Err() != nil {
				return err
			}
			c.logger.WithFields(logrus.Fields{
				"chainId":  c.chainID,
				"endpoint": endpoint,
			}).WithError(err).Warn("Subgraph query failed, trying next endpoint")
			lastErr = err
			continue
		}
		return nil
	}
	return errors.Wrap(lastErr, errors.KindRpcError, "all subgraph endpoints failed").
		WithContext("chainId", c.chainID.String())
}

// queryEndpoint runs the document against a single endpoint.
func (c *client) queryEndpoint(ctx context.Context, endpoint, document string, variables map[string]interface{}, out interface{}) error {
	body, err := json.Marshal(gqlRequest{Query: document, Variables: variables})
	if err != nil {
		return errors.Wrap(err, errors.KindRpcError, "failed to marshal subgraph query")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, errors.KindRpcError, "failed to build subgraph request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.KindRpcError, "subgraph request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Newf(errors.KindRpcError, "subgraph returned status %d", resp.StatusCode)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []gqlError      `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return errors.Wrap(err, errors.KindRpcError, "failed to decode subgraph response")
	}

	if len(envelope.Errors) > 0 {
		message := envelope.Errors[0].Message
		for _, gqlErr := range envelope.Errors[1:] {
			message += "; " + gqlErr.Message
		}
		return errors.Newf(errors.KindRpcError, "subgraph query error: %s", message)
	}
	if len(envelope.Data) == 0 {
		return errors.New(errors.KindRpcError, "subgraph response has no data")
	}

	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return errors.Wrap(err, errors.KindRpcError, "failed to decode subgraph data")
	}
	return nil
}
