package badger

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Key prefixes for different data types
const (
	sessionPrefix      = "sess"
	runPrefix          = "run"
	runSessionPrefix   = "runses"
	ledgerPrefix       = "ledger"
	ledgerRunPrefix    = "ledgerrun"
	ledgerDatePrefix   = "ledgerd"
	evaluationPrefix   = "evalrec"
	evaluationIDSeq    = "evalrecseq"
	ticketPrefix       = "ticket"
	ticketRunPrefix    = "ticketrun"
	ticketStatusPrefix = "tickets"
	chunkPrefix        = "chunk"
	checkpointPrefix   = "ckpt"
)

func makeSessionKey(id string) []byte {
	return []byte(fmt.Sprintf("%s:%s", sessionPrefix, id))
}

func makeRunKey(id string) []byte {
	return []byte(fmt.Sprintf("%s:%s", runPrefix, id))
}

// makeRunSessionKey generates a composite key for the session index.
// Format: prefix:sessionID:timestamp:runID
func makeRunSessionKey(sessionID string, createdAt time.Time, runID string) []byte {
	return makeTimestampedKey(runSessionPrefix+":"+sessionID+":", createdAt, runID)
}

func makePartialRunSessionKey(sessionID string) []byte {
	return []byte(runSessionPrefix + ":" + sessionID + ":")
}

// makeLedgerKey keys entries by session so a prefix scan yields one session.
// Format: prefix:sessionID:timestamp:runID
func makeLedgerKey(sessionID string, createdAt time.Time, runID string) []byte {
	return makeTimestampedKey(ledgerPrefix+":"+sessionID+":", createdAt, runID)
}

func makePartialLedgerKey(sessionID string) []byte {
	return []byte(ledgerPrefix + ":" + sessionID + ":")
}

// makeLedgerRunKey maps a run to its ledger key and guards against duplicates.
func makeLedgerRunKey(runID string) []byte {
	return []byte(fmt.Sprintf("%s:%s", ledgerRunPrefix, runID))
}

// makeLedgerDateKey generates a composite key for the date index.
// Format: prefix:timestamp:runID
func makeLedgerDateKey(createdAt time.Time, runID string) []byte {
	return makeTimestampedKey(ledgerDatePrefix+":", createdAt, runID)
}

// makePartialLedgerDateKey generates a partial key for date range scans.
func makePartialLedgerDateKey(ts time.Time) []byte {
	return makeTimestampedKey(ledgerDatePrefix+":", ts, "")
}

// makeEvaluationKey generates a key for an evaluation record.
// Format: prefix:runID:id
func makeEvaluationKey(runID string, id uint64) []byte {
	prefix := []byte(evaluationPrefix + ":" + runID + ":")
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], id)
	return buf
}

func makePartialEvaluationKey(runID string) []byte {
	return []byte(evaluationPrefix + ":" + runID + ":")
}

func makeTicketKey(id string) []byte {
	return []byte(fmt.Sprintf("%s:%s", ticketPrefix, id))
}

func makeTicketRunKey(runID string) []byte {
	return []byte(fmt.Sprintf("%s:%s", ticketRunPrefix, runID))
}

// makeTicketStatusKey indexes tickets by creation time for listing.
// Format: prefix:timestamp:ticketID
func makeTicketStatusKey(createdAt time.Time, id string) []byte {
	return makeTimestampedKey(ticketStatusPrefix+":", createdAt, id)
}

func makeChunkKey(id string) []byte {
	return []byte(fmt.Sprintf("%s:%s", chunkPrefix, id))
}

func makeCheckpointKey(job string) []byte {
	return []byte(fmt.Sprintf("%s:%s", checkpointPrefix, job))
}

// makeTimestampedKey writes prefix, a big-endian timestamp and a suffix, so
// lexicographic key order follows time order.
func makeTimestampedKey(prefix string, ts time.Time, suffix string) []byte {
	buf := make([]byte, len(prefix)+8+len(suffix))
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(ts.UnixMicro()))
	offset += 8
	copy(buf[offset:], suffix)
	return buf
}
