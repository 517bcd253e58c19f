package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Sternrassler/clanwatch/pkg/clan"
	"github.com/rs/zerolog"
)

// CSVHeader is the column layout of the roster file.
var CSVHeader = []string{"name", "clan_id", "is_clan_disbanded", "old_name"}

// CSVStore reads and writes the roster file.
type CSVStore struct {
	path   string
	logger zerolog.Logger
}

// NewCSVStore creates a store backed by the file at path.
func NewCSVStore(path string, logger zerolog.Logger) *CSVStore {
	return &CSVStore{path: path, logger: logger}
}

// Path returns the roster file path.
func (s *CSVStore) Path() string {
	return s.path
}

// Load reads the roster. A missing file yields an empty roster. Rows that
// fail validation are logged and skipped.
func (s *CSVStore) Load(_ context.Context) ([]clan.Snapshot, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Error().Str("path", s.path).Msg("Roster file not found, starting with an empty roster")
			observe(BackendCSV, "load", nil)
			return nil, nil
		}
		observe(BackendCSV, "load", err)
		return nil, fmt.Errorf("open roster: %w", err)
	}
	defer f.Close()

	snapshots, err := s.read(f)
	observe(BackendCSV, "load", err)
	if err != nil {
		return nil, err
	}

	RosterSize.WithLabelValues(BackendCSV).Set(float64(len(snapshots)))
	s.logger.Info().Str("path", s.path).Int("clans", len(snapshots)).Msg("Roster loaded")
	return snapshots, nil
}

func (s *CSVStore) read(r io.Reader) ([]clan.Snapshot, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read roster header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	if _, ok := columns["name"]; !ok {
		return nil, fmt.Errorf("%w: roster header lacks a name column", ErrInvalidRecord)
	}

	var snapshots []clan.Snapshot
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			RecordsSkipped.WithLabelValues(BackendCSV).Inc()
			s.logger.Error().Err(err).Int("line", line).Msg("Unreadable roster row, skipping")
			continue
		}

		snapshot, err := parseRow(columns, record)
		if err != nil {
			RecordsSkipped.WithLabelValues(BackendCSV).Inc()
			s.logger.Error().Err(err).Int("line", line).Strs("row", record).Msg("Illegal roster row, skipping")
			continue
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, nil
}

func parseRow(columns map[string]int, record []string) (clan.Snapshot, error) {
	field := func(name string) string {
		i, ok := columns[name]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}

	clanID, err := clan.ParseCount(field("clan_id"))
	if err != nil {
		return clan.Snapshot{}, fmt.Errorf("%w: clan_id: %v", clan.ErrInvalidSnapshot, err)
	}
	disbanded, err := clan.ParseFlag(field("is_clan_disbanded"))
	if err != nil {
		return clan.Snapshot{}, fmt.Errorf("%w: is_clan_disbanded: %v", clan.ErrInvalidSnapshot, err)
	}

	return clan.NewSnapshot(clan.Fields{
		Name:        field("name"),
		ClanID:      clanID,
		IsDisbanded: disbanded,
		OldName:     field("old_name"),
	})
}

// Save writes snapshots to a temporary file next to the roster and renames it
// into place. An empty roster is refused and the file left untouched.
func (s *CSVStore) Save(_ context.Context, snapshots []clan.Snapshot) (err error) {
	defer func() { observe(BackendCSV, "save", err) }()

	if len(snapshots) == 0 {
		return ErrEmptyRoster
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp roster: %w", err)
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp roster: %w", err)
	}

	w := csv.NewWriter(tmp)
	if err := w.Write(CSVHeader); err != nil {
		tmp.Close()
		return fmt.Errorf("write roster header: %w", err)
	}
	for _, sn := range snapshots {
		row := []string{
			sn.Name,
			strconv.FormatInt(sn.ClanID, 10),
			strconv.FormatBool(sn.IsDisbanded),
			sn.OldName,
		}
		if err := w.Write(row); err != nil {
			tmp.Close()
			return fmt.Errorf("write roster row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush roster: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp roster: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace roster: %w", err)
	}

	RosterSize.WithLabelValues(BackendCSV).Set(float64(len(snapshots)))
	s.logger.Info().Str("path", s.path).Int("clans", len(snapshots)).Msg("Roster saved")
	return nil
}
