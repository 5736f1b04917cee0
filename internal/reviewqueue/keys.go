package reviewqueue

import (
	"encoding/binary"

	"github.com/canvasshq/canvass/internal/model"
)

// Key prefixes for review-queue data structures
const (
	prefixIndex      = "q/"           // per-survey eligibility index
	prefixLease      = "lease/"       // active leases by response
	prefixLeaseAgent = "lease_agent/" // agent -> held response (sticky continuation)
	prefixLeaseIdx   = "lease_idx/"   // lease expiry scan order
)

// Index order classes. The primary sort is the order timestamp (creation
// time, or the skip horizon once skipped); the class byte breaks ties so a
// never-skipped response beats a skipped one with the same timestamp. A plain
// key scan therefore yields the serving order.
const (
	classFresh   byte = 0 // orderMs = CreatedAtMs
	classSkipped byte = 1 // orderMs = LastSkippedAtMs
)

// orderClass returns the ordering timestamp and index class for a response.
func orderClass(r *model.SurveyResponse) (int64, byte) {
	if r.LastSkippedAtMs > 0 {
		return r.LastSkippedAtMs, classSkipped
	}
	return r.CreatedAtMs, classFresh
}

// IndexPrefix returns the scan prefix for a survey's eligibility index.
// Format: q/{surveyID}/
func IndexPrefix(surveyID string) []byte {
	return []byte(prefixIndex + surveyID + "/")
}

// IndexKey returns the eligibility index key for a response.
// Format: q/{surveyID}/{orderMs:8}{class:1}{responseID}
func IndexKey(surveyID string, orderMs int64, class byte, responseID string) []byte {
	prefix := IndexPrefix(surveyID)
	key := make([]byte, len(prefix)+8+1+len(responseID))
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], uint64(orderMs))
	key[len(prefix)+8] = class
	copy(key[len(prefix)+9:], responseID)
	return key
}

// indexKeyFor builds the index key matching a response's current order state.
func indexKeyFor(r *model.SurveyResponse) []byte {
	orderMs, class := orderClass(r)
	return IndexKey(r.SurveyID, orderMs, class, r.ResponseID)
}

// parseIndexKey extracts orderMs, class, and responseID from an index key.
func parseIndexKey(key, prefix []byte) (orderMs int64, class byte, responseID string, ok bool) {
	if len(key) < len(prefix)+8+1+1 {
		return 0, 0, "", false
	}
	rest := key[len(prefix):]
	orderMs = int64(binary.BigEndian.Uint64(rest[0:8]))
	class = rest[8]
	responseID = string(rest[9:])
	return orderMs, class, responseID, true
}

// LeaseKey returns the lease record key for a response.
// Format: lease/{responseID}
func LeaseKey(responseID string) []byte {
	return []byte(prefixLease + responseID)
}

// LeaseAgentKey returns the agent's held-response pointer key.
// Format: lease_agent/{agentID}
func LeaseAgentKey(agentID string) []byte {
	return []byte(prefixLeaseAgent + agentID)
}

// LeaseIdxKey returns the lease expiry index key.
// Format: lease_idx/{expiresMs:8}{responseID}
func LeaseIdxKey(expiresMs int64, responseID string) []byte {
	prefix := []byte(prefixLeaseIdx)
	key := make([]byte, len(prefix)+8+len(responseID))
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], uint64(expiresMs))
	copy(key[len(prefix)+8:], responseID)
	return key
}

// LeaseIdxPrefix returns the prefix for lease expiry scanning.
func LeaseIdxPrefix() []byte {
	return []byte(prefixLeaseIdx)
}
