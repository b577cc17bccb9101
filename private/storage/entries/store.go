// Copyright 2026 The stagemux Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package entries stores the table entries installed on devices in a sqlite
// database. Store is a muxer.Sink: installed batches can be listed and
// replayed after a restart.
package entries

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stagemux/stagemux/muxer"
	"github.com/stagemux/stagemux/pkg/bitval"
	"github.com/stagemux/stagemux/pkg/private/prom"
	"github.com/stagemux/stagemux/pkg/private/serrors"
	"github.com/stagemux/stagemux/private/storage/db"
)

const (
	// SchemaVersion is the version of the schema.
	SchemaVersion = 1
	// Schema is the SQLite database layout.
	Schema = `CREATE TABLE Batches(
		ID TEXT NOT NULL PRIMARY KEY,
		Device TEXT NOT NULL,
		Instance INTEGER NOT NULL,
		Installed INTEGER NOT NULL
	);
	CREATE INDEX BatchesDevice ON Batches(Device);

	CREATE TABLE Entries(
		BatchID TEXT NOT NULL,
		Seq INTEGER NOT NULL,
		TableID INTEGER NOT NULL,
		Priority INTEGER NOT NULL,
		Match TEXT NOT NULL,
		Action TEXT NOT NULL,
		PRIMARY KEY (BatchID, Seq),
		FOREIGN KEY (BatchID) REFERENCES Batches(ID) ON DELETE CASCADE
	);`
)

const (
	opInstall = "install"
	opRemove  = "remove"
	opList    = "list"
)

var _ muxer.Sink = (*Store)(nil)

// Metrics counts store operations by operation and result.
type Metrics struct {
	QueriesTotal *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		QueriesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stagemux_entry_store_queries_total",
				Help: "Total number of entry store operations by result.",
			},
			[]string{prom.LabelOperation, prom.LabelResult},
		),
	}
}

// Store is a muxer.Sink backed by sqlite.
type Store struct {
	db      *db.Sqlite
	metrics *Metrics
	now     func() time.Time
}

// New opens the store at path. If no database exists, it is created.
func New(path string, cfg *db.SqliteConfig, metrics *Metrics) (*Store, error) {
	d, err := db.NewSqlite(path, cfg)
	if err != nil {
		return nil, err
	}
	if err := d.Setup(Schema, SchemaVersion); err != nil {
		d.Close()
		return nil, err
	}
	return &Store{db: d, metrics: metrics, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Install stores the batch in one transaction.
func (s *Store) Install(ctx context.Context, b muxer.Batch) error {
	return s.observe(ctx, opInstall, func(ctx context.Context) error {
		return s.doInTx(ctx, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO Batches (ID, Device, Instance, Installed) VALUES (?, ?, ?, ?)`,
				b.ID.String(), b.Device, b.Instance, s.now().Unix())
			if err != nil {
				return db.NewWriteError("insert batch", err, "batch", b.ID)
			}
			stmt, err := tx.PrepareContext(ctx, `INSERT INTO Entries
				(BatchID, Seq, TableID, Priority, Match, Action) VALUES (?, ?, ?, ?, ?, ?)`)
			if err != nil {
				return db.NewWriteError("prepare insert entry", err)
			}
			defer stmt.Close()
			for seq, e := range b.Entries {
				match, action, err := encodeEntry(e)
				if err != nil {
					return db.NewInputDataError("encode entry", err, "seq", seq)
				}
				_, err = stmt.ExecContext(ctx, b.ID.String(), seq, e.Table, e.Priority,
					match, action)
				if err != nil {
					return db.NewWriteError("insert entry", err, "batch", b.ID, "seq", seq)
				}
			}
			return nil
		})
	})
}

// Remove deletes the batch and its entries. Removing a batch that is not
// stored fails.
func (s *Store) Remove(ctx context.Context, b muxer.Batch) error {
	return s.observe(ctx, opRemove, func(ctx context.Context) error {
		return s.doInTx(ctx, func(tx *sql.Tx) error {
			res, err := tx.ExecContext(ctx, `DELETE FROM Batches WHERE ID = ?`, b.ID.String())
			if err != nil {
				return db.NewWriteError("delete batch", err, "batch", b.ID)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return db.NewWriteError("delete batch", err, "batch", b.ID)
			}
			if n == 0 {
				return serrors.New("batch not installed", "batch", b.ID)
			}
			return nil
		})
	})
}

// Batches returns the stored batches of a device in installation order. An
// empty device selects all devices.
func (s *Store) Batches(ctx context.Context, device string) ([]muxer.Batch, error) {
	var batches []muxer.Batch
	err := s.observe(ctx, opList, func(ctx context.Context) error {
		var err error
		batches, err = s.batches(ctx, device)
		return err
	})
	return batches, err
}

// Entries returns the stored entries of a device in installation order.
func (s *Store) Entries(ctx context.Context, device string) ([]muxer.TableEntry, error) {
	batches, err := s.Batches(ctx, device)
	if err != nil {
		return nil, err
	}
	var entries []muxer.TableEntry
	for _, b := range batches {
		entries = append(entries, b.Entries...)
	}
	return entries, nil
}

func (s *Store) batches(ctx context.Context, device string) ([]muxer.Batch, error) {
	query := `SELECT b.ID, b.Device, b.Instance, e.TableID, e.Priority, e.Match, e.Action
		FROM Batches b LEFT JOIN Entries e ON e.BatchID = b.ID
		WHERE ?1 = '' OR b.Device = ?1
		ORDER BY b.rowid, e.Seq`
	rows, err := s.db.ReadOnly.QueryContext(ctx, query, device)
	if err != nil {
		return nil, db.NewReadError("query entries", err)
	}
	defer rows.Close()
	var batches []muxer.Batch
	for rows.Next() {
		var (
			id, dev       string
			instance      uint32
			table, prio   sql.NullInt64
			match, action sql.NullString
		)
		if err := rows.Scan(&id, &dev, &instance, &table, &prio, &match, &action); err != nil {
			return nil, db.NewReadError("scan entry", err)
		}
		batchID, err := uuid.Parse(id)
		if err != nil {
			return nil, db.NewDataError("parse batch id", err, "id", id)
		}
		if len(batches) == 0 || batches[len(batches)-1].ID != batchID {
			batches = append(batches, muxer.Batch{ID: batchID, Device: dev, Instance: instance})
		}
		if !table.Valid {
			continue
		}
		e, err := decodeEntry(match.String, action.String)
		if err != nil {
			return nil, db.NewDataError("decode entry", err, "batch", batchID)
		}
		e.Device = dev
		e.Table = int(table.Int64)
		e.Priority = int(prio.Int64)
		last := &batches[len(batches)-1]
		last.Entries = append(last.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, db.NewReadError("iterate entries", err)
	}
	return batches, nil
}

func (s *Store) doInTx(ctx context.Context, f func(tx *sql.Tx) error) error {
	tx, err := s.db.Full.BeginTx(ctx, nil)
	if err != nil {
		return db.NewTxError("create tx", err)
	}
	if err := f(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return db.NewTxError("commit tx", err)
	}
	return nil
}

func (s *Store) observe(ctx context.Context, op string,
	action func(context.Context) error) error {

	span, ctx := opentracing.StartSpanFromContext(ctx, "entrystore."+op)
	defer span.Finish()
	err := action(ctx)
	label := db.ErrToMetricLabel(err)
	span.SetTag(prom.LabelResult, label)
	if err != nil {
		ext.Error.Set(span, true)
	}
	if s.metrics != nil {
		s.metrics.QueriesTotal.WithLabelValues(op, label).Inc()
	}
	return err
}

// value is the stored form of a criterion or parameter.
type value struct {
	Header string `json:"header"`
	Field  string `json:"field"`
	Value  string `json:"value"`
	Width  int    `json:"width"`
	Mask   string `json:"mask,omitempty"`
}

func encodeEntry(e muxer.TableEntry) (string, string, error) {
	match := make([]value, 0, len(e.Match))
	for _, c := range e.Match {
		v := value{Header: c.Header, Field: c.Field, Value: c.Value.String(), Width: c.Value.Len()}
		if !c.Exact() {
			v.Mask = c.Mask.String()
		}
		match = append(match, v)
	}
	action := make([]value, 0, len(e.Action.Params))
	for _, p := range e.Action.Params {
		action = append(action, value{
			Header: p.Header, Field: p.Field, Value: p.Value.String(), Width: p.Value.Len(),
		})
	}
	m, err := json.Marshal(match)
	if err != nil {
		return "", "", err
	}
	a, err := json.Marshal(action)
	if err != nil {
		return "", "", err
	}
	return string(m), string(a), nil
}

func decodeEntry(match, action string) (muxer.TableEntry, error) {
	var ms, as []value
	if err := json.Unmarshal([]byte(match), &ms); err != nil {
		return muxer.TableEntry{}, err
	}
	if err := json.Unmarshal([]byte(action), &as); err != nil {
		return muxer.TableEntry{}, err
	}
	var e muxer.TableEntry
	for _, m := range ms {
		v, err := bitval.FromHex(m.Value, m.Width)
		if err != nil {
			return muxer.TableEntry{}, err
		}
		c := muxer.Criterion{Header: m.Header, Field: m.Field, Value: v}
		if m.Mask != "" {
			if c.Mask, err = bitval.FromHex(m.Mask, m.Width); err != nil {
				return muxer.TableEntry{}, err
			}
		}
		e.Match = append(e.Match, c)
	}
	for _, a := range as {
		v, err := bitval.FromHex(a.Value, a.Width)
		if err != nil {
			return muxer.TableEntry{}, err
		}
		e.Action.Params = append(e.Action.Params,
			muxer.Param{Header: a.Header, Field: a.Field, Value: v})
	}
	return e, nil
}
