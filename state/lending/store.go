package lending

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"

	"moneymarket/native/bank"
	nativelending "moneymarket/native/lending"
	"moneymarket/native/oracle"
	"moneymarket/storage"
)

const (
	latestKey         = "lending/state/latest"
	historyKeyFormat  = "lending/history/%s/%020d"
	historyPrefixFmt  = "lending/history/%s/"
	checkpointVersion = 1

	defaultHistoryLimit = 200
)

var (
	// ErrChecksumMismatch is returned when a stored checkpoint fails its
	// integrity check.
	ErrChecksumMismatch = errors.New("lending store: checkpoint checksum mismatch")
	// ErrNoCheckpoint is returned by Load before anything was saved.
	ErrNoCheckpoint = errors.New("lending store: no checkpoint saved")
)

// Checkpoint is everything needed to resume a node at Height.
type Checkpoint struct {
	Height  uint64
	Lending nativelending.State
	Bank    bank.Snapshot
	Prices  []oracle.PriceRecord
}

type envelope struct {
	Version  uint64
	Checksum []byte
	Payload  []byte
}

// HistoryRecord is a per-block sample of a market's pricing inputs.
type HistoryRecord struct {
	Market        string
	Height        uint64
	Cash          *big.Int
	TotalBorrows  *big.Int
	TotalReserves *big.Int
	TotalShares   *big.Int
	ExchangeRate  *big.Int
	Utilization   *big.Int
	BorrowRate    *big.Int
	SupplyRate    *big.Int
}

// Store persists checkpoints and market history.
type Store struct {
	db storage.Database
	mu sync.Mutex
}

// NewStore wraps db.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

// Save replaces the latest checkpoint.
func (s *Store) Save(cp Checkpoint) error {
	payload, err := rlp.EncodeToBytes(&cp)
	if err != nil {
		return fmt.Errorf("lending store: encode checkpoint: %w", err)
	}
	sum := blake3.Sum256(payload)
	encoded, err := rlp.EncodeToBytes(envelope{Version: checkpointVersion, Checksum: sum[:], Payload: payload})
	if err != nil {
		return fmt.Errorf("lending store: encode envelope: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Put([]byte(latestKey), encoded)
}

// Load returns the latest checkpoint.
func (s *Store) Load() (Checkpoint, error) {
	s.mu.Lock()
	data, err := s.db.Get([]byte(latestKey))
	s.mu.Unlock()
	if errors.Is(err, storage.ErrNotFound) {
		return Checkpoint{}, ErrNoCheckpoint
	}
	if err != nil {
		return Checkpoint{}, err
	}
	var env envelope
	if err := rlp.DecodeBytes(data, &env); err != nil {
		return Checkpoint{}, fmt.Errorf("lending store: decode envelope: %w", err)
	}
	if env.Version != checkpointVersion {
		return Checkpoint{}, fmt.Errorf("lending store: unsupported checkpoint version %d", env.Version)
	}
	sum := blake3.Sum256(env.Payload)
	if !bytes.Equal(sum[:], env.Checksum) {
		return Checkpoint{}, ErrChecksumMismatch
	}
	var cp Checkpoint
	if err := rlp.DecodeBytes(env.Payload, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("lending store: decode checkpoint: %w", err)
	}
	return cp, nil
}

// AppendHistory stores the supplied samples. A sample for an existing
// (market, height) replaces it.
func (s *Store) AppendHistory(records ...HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range records {
		rec := records[i]
		if rec.Market == "" {
			return fmt.Errorf("lending store: history record without market")
		}
		encoded, err := rlp.EncodeToBytes(&rec)
		if err != nil {
			return fmt.Errorf("lending store: encode history: %w", err)
		}
		if err := s.db.Put([]byte(fmt.Sprintf(historyKeyFormat, rec.Market, rec.Height)), encoded); err != nil {
			return err
		}
	}
	return nil
}

// History returns up to limit samples of market starting at height from, in
// height order. A non-positive limit uses the default page size.
func (s *Store) History(market string, from uint64, limit int) ([]HistoryRecord, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	prefix := []byte(fmt.Sprintf(historyPrefixFmt, market))
	start := []byte(fmt.Sprintf(historyKeyFormat, market, from))
	out := make([]HistoryRecord, 0)
	var decodeErr error
	s.mu.Lock()
	err := s.db.Iterate(prefix, start, func(_, value []byte) bool {
		var rec HistoryRecord
		if err := rlp.DecodeBytes(value, &rec); err != nil {
			decodeErr = fmt.Errorf("lending store: decode history: %w", err)
			return false
		}
		out = append(out, rec)
		return len(out) < limit
	})
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return out, nil
}
