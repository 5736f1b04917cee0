package auditlog

import (
	"encoding/binary"
)

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
// - audit/{surveyID}/m
// - audit/{surveyID}/e/{seq_be8}

var (
	auditPrefix = []byte("audit/")
	metaSuffix  = []byte("/m")
	entrySeg    = []byte("/e/")
)

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// keyMeta builds the per-survey metadata key holding the last sequence.
func keyMeta(surveyID string) []byte {
	k := make([]byte, 0, len(surveyID)+16)
	k = append(k, auditPrefix...)
	k = append(k, surveyID...)
	k = append(k, metaSuffix...)
	return k
}

// keyEntry builds the entry key with a big-endian sequence for proper ordering.
func keyEntry(surveyID string, seq uint64) []byte {
	k := make([]byte, 0, len(surveyID)+24)
	k = append(k, auditPrefix...)
	k = append(k, surveyID...)
	k = append(k, entrySeg...)
	k = appendBE8(k, seq)
	return k
}

func seqFromKey(key []byte) uint64 {
	if len(key) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(key[len(key)-8:])
}
