// Package ledger is an in-memory EVM-style token ledger with a
// constant-product router. Every mutation is journaled so a caller can take a
// snapshot and revert to it, which is how swaps are made all-or-nothing
// outside a real chain.
package ledger

import (
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	xerrors "Swapper-Chain/internal/errors"
	"Swapper-Chain/internal/swap"
)

const (
	CodeUnknownToken        xerrors.Code = "LEDGER_UNKNOWN_TOKEN"
	CodeInsufficientBalance xerrors.Code = "LEDGER_INSUFFICIENT_BALANCE"
	CodeAllowanceExceeded   xerrors.Code = "LEDGER_ALLOWANCE_EXCEEDED"
	CodeApprovalRejected    xerrors.Code = "LEDGER_APPROVAL_REJECTED"
)

func init() {
	xerrors.Register(CodeUnknownToken, xerrors.Attributes{Message: "unknown token", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeInsufficientBalance, xerrors.Attributes{Message: "transfer amount exceeds balance", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeAllowanceExceeded, xerrors.Attributes{Message: "insufficient allowance", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeApprovalRejected, xerrors.Attributes{Message: "approve from non-zero to non-zero allowance", Severity: xerrors.SeverityInfo})
}

// EventKind names an emitted log.
type EventKind string

const (
	EventTransfer EventKind = "Transfer"
	EventApproval EventKind = "Approval"
	EventSync     EventKind = "Sync"
)

// Event mirrors an ERC20 or pair log entry.
type Event struct {
	Kind   EventKind
	Token  common.Address
	From   common.Address
	To     common.Address
	Amount *big.Int
}

type revision struct {
	id           int
	journalIndex int
}

// State owns every token and pair balance. Reverted writes also drop the
// events they emitted.
type State struct {
	mu   sync.Mutex
	txMu sync.RWMutex

	tokens map[common.Address]*Token
	events []Event

	journal        []func()
	validRevisions []revision
	nextRevisionID int
}

// NewState returns an empty ledger.
func NewState() *State {
	return &State{tokens: make(map[common.Address]*Token)}
}

// Snapshot returns an identifier for the current revision of the ledger.
func (s *State) Snapshot() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextRevisionID
	s.nextRevisionID++
	s.validRevisions = append(s.validRevisions, revision{id: id, journalIndex: len(s.journal)})
	return id
}

// RevertToSnapshot undoes every write made since the snapshot was taken.
// Snapshots taken after it become invalid.
func (s *State) RevertToSnapshot(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := sort.Search(len(s.validRevisions), func(i int) bool {
		return s.validRevisions[i].id >= id
	})
	if idx == len(s.validRevisions) || s.validRevisions[idx].id != id {
		panic(fmt.Errorf("revision id %v cannot be reverted", id))
	}
	target := s.validRevisions[idx].journalIndex
	for i := len(s.journal) - 1; i >= target; i-- {
		s.journal[i]()
	}
	s.journal = s.journal[:target]
	s.validRevisions = s.validRevisions[:idx]
}

// Atomically runs fn while holding the ledger's transaction lock, so whole
// operations such as a swap never interleave. The journal is finalised when
// fn returns; snapshots taken before the call cannot be reverted afterwards.
func (s *State) Atomically(fn func() error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	defer s.Finalise()
	return fn()
}

// View runs fn once no Atomically call is in flight, so reads inside fn only
// see committed state. Calling View from inside Atomically deadlocks.
func (s *State) View(fn func() error) error {
	s.txMu.RLock()
	defer s.txMu.RUnlock()
	return fn()
}

// Finalise drops the journal, making every write so far permanent.
func (s *State) Finalise() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal = nil
	s.validRevisions = nil
}

// Token implements swap.TokenResolver.
func (s *State) Token(address common.Address) (swap.Token, error) {
	t, err := s.lookup(address)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Lookup returns the concrete ledger token.
func (s *State) Lookup(address common.Address) (*Token, error) {
	return s.lookup(address)
}

// Tokens lists deployed tokens ordered by address.
func (s *State) Tokens() []*Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Token, 0, len(s.tokens))
	for _, t := range s.tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].address.Cmp(out[j].address) < 0 })
	return out
}

// Events returns a copy of the surviving event log.
func (s *State) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *State) lookup(address common.Address) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[address]
	if !ok {
		return nil, xerrors.New(CodeUnknownToken, fmt.Sprintf("token %s 未部署", address.Hex()))
	}
	return t, nil
}

// The helpers below require s.mu to be held.

func (s *State) record(undo func()) {
	s.journal = append(s.journal, undo)
}

func (s *State) emit(ev Event) {
	s.events = append(s.events, ev)
	s.record(func() { s.events = s.events[:len(s.events)-1] })
}
