package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	rerrors "github.com/Kuzirashi/nxtp/common/errors"
)

// bearerToken runs the auth service handshake: fetch a nonce for the router
// address, sign it with the router key and exchange the signature for a
// connection token.
func (s *Service) bearerToken(ctx context.Context) (string, error) {
	base := strings.TrimRight(s.authURL, "/")
	address := s.signer.Address()

	nonce, err := s.fetchText(ctx, http.MethodGet, base+"/auth/"+address, nil)
	if err != nil {
		return "", err
	}

	sig, err := s.signer.Sign(ctx, []byte(nonce))
	if err != nil {
		return "", rerrors.Wrap(err, rerrors.KindConfigurationError, "signing the auth nonce")
	}

	payload, err := json.Marshal(map[string]string{
		"sig":           hexutil.Encode(sig),
		"signerAddress": address,
	})
	if err != nil {
		return "", rerrors.Wrap(err, rerrors.KindConfigurationError, "encoding the auth proof")
	}

	token, err := s.fetchText(ctx, http.MethodPost, base+"/auth", payload)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", rerrors.New(rerrors.KindConfigurationError, "auth service returned an empty token")
	}
	return token, nil
}

// fetchText performs one auth service request and returns the body as a
// trimmed string. Bodies may arrive as plain text or a JSON string.
func (s *Service) fetchText(ctx context.Context, method, url string, body []byte) (string, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return "", rerrors.Wrap(err, rerrors.KindConfigurationError, "building auth request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", rerrors.Wrap(err, rerrors.KindConfigurationError, "auth service unreachable").
			WithContext("url", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", rerrors.Newf(rerrors.KindConfigurationError, "auth service returned status %d", resp.StatusCode).
			WithContext("url", url)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", rerrors.Wrap(err, rerrors.KindConfigurationError, "reading auth response")
	}
	return strings.Trim(strings.TrimSpace(string(raw)), `"`), nil
}
