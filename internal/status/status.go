package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"codeberg.org/mutker/shuttled/internal/errors"
	"codeberg.org/mutker/shuttled/internal/logger"
)

// TimeLayout is the sortable timestamp format the external status display
// client parses. Changing it is a breaking change to that client.
const TimeLayout = "2006-01-02 15:04:05"

const (
	defaultDirPerm  = 0o755
	defaultFilePerm = 0o644
)

// Timestamp marshals as TimeLayout; the zero time marshals as "".
type Timestamp struct {
	time.Time
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}

	return json.Marshal(t.Format(TimeLayout))
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}

	parsed, err := time.Parse(TimeLayout, s)
	if err != nil {
		return err
	}
	t.Time = parsed

	return nil
}

// Record is the persisted transfer status document. Field names are part
// of the on-disk contract with the status display client: additive-only.
type Record struct {
	LastStatusUpdate        Timestamp `json:"LastStatusUpdate"`
	LastStorageNotification Timestamp `json:"LastStorageNotification"`
	LastAdminNotification   Timestamp `json:"LastAdminNotification"`
	LastGraceNotification   Timestamp `json:"LastGraceNotification"`
	LimitReason             string    `json:"LimitReason"`
	CurrentTransferSrc      string    `json:"CurrentTransferSrc"`
	CurrentTargetTmp        string    `json:"CurrentTargetTmp"`
	ServiceSuspended        bool      `json:"ServiceSuspended"`
	TransferInProgress      bool      `json:"TransferInProgress"`
	CleanShutdown           bool      `json:"CleanShutdown"`
	CurrentTransferSize     int64     `json:"CurrentTransferSize"`

	// ValidationWarnings collects problems found while loading; it is
	// in-memory only and never written back to the file.
	ValidationWarnings []string `json:"-"`
}

// Store owns the one status record for the process lifetime. Only the
// supervisor goroutine mutates it, so no locking is needed; durability
// comes from the write-temp-then-rename save on every mutation.
type Store struct {
	path   string
	record Record
	clock  func() time.Time
}

// Load reads the record at path, falling back to a fresh default record
// on any read or parse failure. It never fails: availability of the
// service wins over fidelity of a corrupt file.
func Load(path string, clock func() time.Time) *Store {
	if clock == nil {
		clock = time.Now
	}
	s := &Store{path: path, clock: clock}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		s.record = Record{}
	case err != nil:
		errFactory := errors.New()
		logger.ErrorWithCode(errFactory.Wrap(errors.ErrStatusLoad, err)).Msg("starting with a fresh status record")
		s.record = Record{ValidationWarnings: []string{
			fmt.Sprintf("status file unreadable, prior state unknown: %v", err),
		}}
	default:
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			errFactory := errors.New()
			logger.ErrorWithCode(errFactory.Wrap(errors.ErrStatusCorrupt, err)).Msg("recovered from corrupt status record")
			rec = Record{ValidationWarnings: []string{
				fmt.Sprintf("status record corrupt, prior state unknown: %v", err),
			}}
		}
		s.record = rec
	}

	s.validate()

	return s
}

// validate clears transfer paths that no longer reference directories on
// disk. Dangling paths are never trusted; they are cleared and recorded.
func (s *Store) validate() {
	if p := s.record.CurrentTransferSrc; p != "" && !dirExists(p) {
		s.record.ValidationWarnings = append(s.record.ValidationWarnings,
			fmt.Sprintf("CurrentTransferSrc %q does not exist, cleared", p))
		s.record.CurrentTransferSrc = ""
		s.record.TransferInProgress = false
	}
	if p := s.record.CurrentTargetTmp; p != "" && !dirExists(p) {
		s.record.ValidationWarnings = append(s.record.ValidationWarnings,
			fmt.Sprintf("CurrentTargetTmp %q does not exist, cleared", p))
		s.record.CurrentTargetTmp = ""
	}

	for _, w := range s.record.ValidationWarnings {
		logger.Warn().Str("warning", w).Msg("status record validation")
	}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.IsDir()
}

// Record returns a copy of the current record.
func (s *Store) Record() Record {
	return s.record
}

// Update applies mutate to the record, stamps the heartbeat and performs
// exactly one durable save. Save failures are logged, never fatal: the
// in-memory record stays authoritative and the next save catches up.
func (s *Store) Update(mutate func(*Record)) {
	mutate(&s.record)
	s.record.LastStatusUpdate = Timestamp{s.clock()}

	if err := s.save(); err != nil {
		errFactory := errors.New()
		logger.ErrorWithCode(errFactory.Wrap(errors.ErrStatusSave, err)).Msg("status record not persisted, retrying on next mutation")
	}
}

// save writes the record to a temp file and atomically renames it over
// the status path, so a kill mid-write never leaves a torn record.
func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), defaultDirPerm); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s.record, "", "  ")
	if err != nil {
		return err
	}

	tmp := fmt.Sprintf("%s.%d.tmp", s.path, os.Getpid())
	if err := os.WriteFile(tmp, data, defaultFilePerm); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	return nil
}

// Path returns the status file location.
func (s *Store) Path() string {
	return s.path
}
