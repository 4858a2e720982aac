package base

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// TxTime returns the consensus-agreed transaction timestamp as UTC time.
// Every derived value (IDs, expiry dates, history stamps) must come from this
// clock, never from time.Now, so that all endorsing peers compute identical
// state.
func TxTime(ctx contractapi.TransactionContextInterface) (time.Time, error) {
	ts, err := ctx.GetStub().GetTxTimestamp()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get transaction timestamp: %v", err)
	}
	return time.Unix(ts.Seconds, int64(ts.Nanos)).UTC(), nil
}

// DeriveID computes a deterministic identifier from a seed and the transaction
// time. Peers executing the same transaction against the same state produce
// the same ID.
func DeriveID(prefix, seed string, t time.Time) string {
	input := fmt.Sprintf("%s_%d_%d", seed, t.Unix(), t.Nanosecond())
	hash := sha256.Sum256([]byte(input))
	return prefix + "_" + hex.EncodeToString(hash[:8])
}

// CallerID returns the invoking client's identity string. The identity is part
// of the signed proposal, so it is identical on every endorsing peer.
func CallerID(ctx contractapi.TransactionContextInterface) (string, error) {
	id, err := ctx.GetClientIdentity().GetID()
	if err != nil {
		return "", fmt.Errorf("failed to get client ID: %v", err)
	}
	return id, nil
}
