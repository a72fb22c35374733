package auction

import (
	"strings"
	"sync"
	"time"

	"github.com/Kuzirashi/nxtp/common/types"
)

// limiterKey identifies one auction lane for one user. Amount is deliberately
// not part of the key: the limit is per lane, so a user cannot probe quotes
// for many amounts faster than the configured period.
type limiterKey struct {
	user             string
	sendingAssetID   string
	sendingChainID   types.ChainID
	receivingAssetID string
	receivingChainID types.ChainID
}

func limiterKeyFor(payload *types.AuctionPayload) limiterKey {
	return limiterKey{
		user:             strings.ToLower(payload.User),
		sendingAssetID:   strings.ToLower(payload.SendingAssetID),
		sendingChainID:   payload.SendingChainID,
		receivingAssetID: strings.ToLower(payload.ReceivingAssetID),
		receivingChainID: payload.ReceivingChainID,
	}
}

// rateLimiter throttles how often one lane may be quoted. The attempt time
// is recorded only when a bid is actually produced, so rejected auctions do
// not extend the quiet period.
type rateLimiter struct {
	period time.Duration
	now    func() time.Time

	attemptsMutex sync.Mutex
	// attemptsMutex guards attempts.
	attempts map[limiterKey]time.Time
}

func newRateLimiter(period time.Duration) *rateLimiter {
	return &rateLimiter{
		period:   period,
		now:      time.Now,
		attempts: make(map[limiterKey]time.Time),
	}
}

// check reports whether a new attempt on the lane is admitted, and how many
// milliseconds have passed since the last recorded one. Lanes never seen
// before are always admitted.
//
// Parameters:
// - key: the lane to check.
//
// Returns:
// - int64: milliseconds since the last recorded attempt, 0 for new lanes.
// - bool: whether the attempt is admitted.
func (l *rateLimiter) check(key limiterKey) (int64, bool) {
	l.attemptsMutex.Lock()
	defer l.attemptsMutex.Unlock()

	last, ok := l.attempts[key]
	if !ok {
		return 0, true
	}

	elapsed := l.now().Sub(last)
	return elapsed.Milliseconds(), elapsed >= l.period
}

// record marks the lane as quoted now.
func (l *rateLimiter) record(key limiterKey) {
	l.attemptsMutex.Lock()
	defer l.attemptsMutex.Unlock()
	l.attempts[key] = l.now()
}
