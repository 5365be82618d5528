package audit

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
)

// ErrChainBroken indicates a missing, reordered or altered entry.
var ErrChainBroken = errors.New("audit: hash chain broken")

// hashView fixes the field order that the chain commits to.
type hashView struct {
	Partition     string  `json:"p"`
	SequenceID    int64   `json:"s"`
	ActorID       int64   `json:"ai"`
	ActorName     string  `json:"an"`
	Module        string  `json:"m"`
	Action        string  `json:"a"`
	Description   string  `json:"d"`
	SourceIP      string  `json:"ip"`
	RequestMethod string  `json:"rm"`
	RequestTarget string  `json:"rt"`
	RequestID     string  `json:"rid"`
	Params        []Param `json:"pr"`
	Outcome       Outcome `json:"o"`
	ErrorMessage  string  `json:"e"`
	Duration      int64   `json:"du"`
	CreatedAt     string  `json:"c"`
	PrevHash      string  `json:"ph"`
}

// ComputeHash returns the chain hash of e, linking it to e.PrevHash.
func ComputeHash(e Entry) string {
	params := e.Params
	if params == nil {
		params = []Param{}
	}
	view := hashView{
		Partition:     e.Partition,
		SequenceID:    e.SequenceID,
		ActorID:       e.ActorID,
		ActorName:     e.ActorName,
		Module:        e.Module,
		Action:        e.Action,
		Description:   e.Description,
		SourceIP:      e.SourceIP,
		RequestMethod: e.RequestMethod,
		RequestTarget: e.RequestTarget,
		RequestID:     e.RequestID,
		Params:        params,
		Outcome:       e.Outcome,
		ErrorMessage:  e.ErrorMessage,
		Duration:      int64(e.Duration),
		CreatedAt:     e.CreatedAt.UTC().Format(time.RFC3339Nano),
		PrevHash:      e.PrevHash,
	}
	raw, _ := json.Marshal(view)
	sum := blake2b.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// VerifyChain checks that entries of one partition, in ascending sequence
// order, are gap-free and correctly linked. The first entry's PrevHash is
// trusted as the anchor.
func VerifyChain(entries []Entry) error {
	for i, e := range entries {
		if ComputeHash(e) != e.Hash {
			return fmt.Errorf("%w: entry %s/%d altered", ErrChainBroken, e.Partition, e.SequenceID)
		}
		if i == 0 {
			continue
		}
		prev := entries[i-1]
		if e.Partition != prev.Partition {
			return fmt.Errorf("%w: mixed partitions %s and %s", ErrChainBroken, prev.Partition, e.Partition)
		}
		if e.SequenceID != prev.SequenceID+1 {
			return fmt.Errorf("%w: gap between %d and %d", ErrChainBroken, prev.SequenceID, e.SequenceID)
		}
		if e.PrevHash != prev.Hash {
			return fmt.Errorf("%w: entry %d does not link to %d", ErrChainBroken, e.SequenceID, prev.SequenceID)
		}
	}
	return nil
}
