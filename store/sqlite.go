package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/payrail/transfers/envelope"

	_ "github.com/mattn/go-sqlite3" // Import for registration side-effect.
	log "github.com/sirupsen/logrus"
)

const schema = `
CREATE TABLE IF NOT EXISTS transfer_duplicate_check (
	transfer_id TEXT PRIMARY KEY,
	hash        TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS transfer (
	transfer_id     TEXT PRIMARY KEY,
	payer_fsp       TEXT NOT NULL,
	payee_fsp       TEXT NOT NULL,
	currency        TEXT NOT NULL,
	amount          TEXT NOT NULL,
	ilp_packet      TEXT NOT NULL,
	condition       TEXT NOT NULL,
	expiration_date TIMESTAMP NOT NULL,
	extension_list  TEXT,
	created_at      TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS transfer_state_change (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	transfer_id TEXT NOT NULL REFERENCES transfer(transfer_id),
	state       TEXT NOT NULL,
	reason      TEXT,
	created_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS transfer_state_change_transfer_id
	ON transfer_state_change(transfer_id, id);
CREATE TABLE IF NOT EXISTS transfer_fulfilment (
	transfer_id  TEXT PRIMARY KEY REFERENCES transfer(transfer_id),
	fulfilment   TEXT NOT NULL,
	completed_at TIMESTAMP NOT NULL,
	created_at   TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS transfer_error (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	transfer_id TEXT NOT NULL,
	error_code  INTEGER NOT NULL,
	error_description TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS participant (
	name       TEXT PRIMARY KEY,
	is_active  INTEGER NOT NULL DEFAULT 1,
	currencies TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS consumer_offset (
	topic      TEXT PRIMARY KEY,
	"offset"   INTEGER NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
`

// SQLite implements Store over a SQLite database. Safe for concurrent use;
// the *sql.DB pool is shared across topic workers.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the store database at path.
// Use ":memory:" for an ephemeral store.
func OpenSQLite(path string) (*SQLite, error) {
	var db, err = sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite DB: %w", err)
	}
	// SQLite serializes writers; a single pooled connection avoids
	// SQLITE_BUSY under concurrent topic workers.
	db.SetMaxOpenConns(1)

	if _, err = db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying store schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) ValidateDuplicateHash(ctx context.Context, transferID string, hash []byte) (DuplicateCheck, error) {
	var hexHash = hex.EncodeToString(hash)
	var check DuplicateCheck

	var err = s.inTxn(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO transfer_duplicate_check (transfer_id, hash, created_at)
			 VALUES (?, ?, ?) ON CONFLICT (transfer_id) DO NOTHING;`,
			transferID, hexHash, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("inserting duplicate check: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 1 {
			return nil // First sighting of this transferId.
		}

		var prior string
		if err = tx.QueryRowContext(ctx,
			`SELECT hash FROM transfer_duplicate_check WHERE transfer_id = ?;`,
			transferID).Scan(&prior); err != nil {
			return fmt.Errorf("reading duplicate check: %w", err)
		}
		if prior == hexHash {
			check.ExistsMatching = true
		} else {
			check.ExistsNotMatching = true
		}
		return nil
	})
	return check, err
}

func (s *SQLite) GetTransferStateChange(ctx context.Context, transferID string) (TransferState, error) {
	var state string
	var err = s.db.QueryRowContext(ctx,
		`SELECT state FROM transfer_state_change WHERE transfer_id = ?
		 ORDER BY id DESC LIMIT 1;`, transferID).Scan(&state)
	if err == sql.ErrNoRows {
		return "", nil
	} else if err != nil {
		return "", fmt.Errorf("reading transfer state: %w", err)
	}
	return TransferState(state), nil
}

func (s *SQLite) GetByID(ctx context.Context, transferID string) (*Transfer, error) {
	var t = Transfer{ID: transferID}
	var completedAt sql.NullTime
	var fulfilment sql.NullString

	var err = s.db.QueryRowContext(ctx,
		`SELECT t.payer_fsp, t.payee_fsp, t.currency, t.amount, t.ilp_packet,
				t.condition, t.expiration_date, t.created_at,
				f.fulfilment, f.completed_at,
				(SELECT state FROM transfer_state_change c
				 WHERE c.transfer_id = t.transfer_id ORDER BY c.id DESC LIMIT 1)
		 FROM transfer t
		 LEFT JOIN transfer_fulfilment f ON f.transfer_id = t.transfer_id
		 WHERE t.transfer_id = ?;`, transferID).Scan(
		&t.PayerFsp, &t.PayeeFsp, &t.Amount.Currency, &t.Amount.Amount,
		&t.ILPPacket, &t.Condition, &t.ExpirationDate, &t.CreatedAt,
		&fulfilment, &completedAt, (*string)(&t.State))

	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("reading transfer %s: %w", transferID, err)
	}
	t.Fulfilment = fulfilment.String
	if completedAt.Valid {
		var at = completedAt.Time
		t.CompletedAt = &at
	}
	return &t, nil
}

func (s *SQLite) Prepare(ctx context.Context, p *envelope.TransferPrepare, reason string, valid bool) error {
	var now = time.Now().UTC()

	return s.inTxn(ctx, func(tx *sql.Tx) error {
		var extensions string
		for _, e := range p.ExtensionList {
			extensions += e.Key + "=" + e.Value + ";"
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO transfer (transfer_id, payer_fsp, payee_fsp, currency,
				amount, ilp_packet, condition, expiration_date, extension_list, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
			p.TransferID, p.PayerFsp, p.PayeeFsp, p.Amount.Currency,
			p.Amount.Amount, p.ILPPacket, p.Condition, p.ExpirationDate.UTC(),
			extensions, now); err != nil {
			return fmt.Errorf("inserting transfer: %w", err)
		}

		// RECEIVED then RESERVED are recorded in one transaction; an invalid
		// prepare is still persisted but lands directly in ABORTED with the
		// validation reason, which the audit trail requires.
		var next, nextReason = TransferStateReserved, ""
		if !valid {
			next, nextReason = TransferStateAborted, reason
		}
		for _, sc := range [][2]string{
			{string(TransferStateReceived), ""},
			{string(next), nextReason},
		} {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO transfer_state_change (transfer_id, state, reason, created_at)
				 VALUES (?, ?, ?, ?);`,
				p.TransferID, sc[0], sc[1], now); err != nil {
				return fmt.Errorf("inserting state change: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLite) Fulfil(ctx context.Context, transferID string, f Fulfilment) error {
	var now = time.Now().UTC()

	return s.inTxn(ctx, func(tx *sql.Tx) error {
		if err := requireReserved(ctx, tx, transferID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO transfer_fulfilment (transfer_id, fulfilment, completed_at, created_at)
			 VALUES (?, ?, ?, ?);`,
			transferID, f.Fulfilment, f.CompletedTimestamp.UTC(), now); err != nil {
			return fmt.Errorf("inserting fulfilment: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO transfer_state_change (transfer_id, state, reason, created_at)
			 VALUES (?, ?, '', ?);`,
			transferID, string(TransferStateCommitted), now); err != nil {
			return fmt.Errorf("inserting state change: %w", err)
		}
		return nil
	})
}

func (s *SQLite) Reject(ctx context.Context, transferID string, e envelope.ErrorInformation) error {
	var now = time.Now().UTC()

	return s.inTxn(ctx, func(tx *sql.Tx) error {
		if err := requireReserved(ctx, tx, transferID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO transfer_state_change (transfer_id, state, reason, created_at)
			 VALUES (?, ?, ?, ?);`,
			transferID, string(TransferStateAborted), e.ErrorDescription, now); err != nil {
			return fmt.Errorf("inserting state change: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO transfer_error (transfer_id, error_code, error_description, created_at)
			 VALUES (?, ?, ?, ?);`,
			transferID, e.ErrorCode, e.ErrorDescription, now); err != nil {
			return fmt.Errorf("inserting transfer error: %w", err)
		}
		return nil
	})
}

func (s *SQLite) LogTransferError(ctx context.Context, transferID string, code int, description string) error {
	var _, err = s.db.ExecContext(ctx,
		`INSERT INTO transfer_error (transfer_id, error_code, error_description, created_at)
		 VALUES (?, ?, ?, ?);`,
		transferID, code, description, time.Now().UTC())
	if err != nil {
		// The error log is itself audit data. Surface the failure loudly.
		log.WithFields(log.Fields{
			"transferId": transferID,
			"errorCode":  code,
			"err":        err,
		}).Error("failed to log transfer error")
		return fmt.Errorf("logging transfer error: %w", err)
	}
	return nil
}

func (s *SQLite) GetParticipant(ctx context.Context, name string) (*Participant, error) {
	var p = Participant{Name: name}
	var active int
	var currencies string

	var err = s.db.QueryRowContext(ctx,
		`SELECT is_active, currencies FROM participant WHERE name = ?;`,
		name).Scan(&active, &currencies)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("reading participant %s: %w", name, err)
	}
	p.IsActive = active != 0
	if currencies != "" {
		p.Currencies = strings.Split(currencies, ",")
	}
	return &p, nil
}

func (s *SQLite) ParticipantNames(ctx context.Context) ([]string, error) {
	var rows, err = s.db.QueryContext(ctx,
		`SELECT name FROM participant ORDER BY name;`)
	if err != nil {
		return nil, fmt.Errorf("listing participants: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err = rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// UpsertParticipant registers or updates a participant. Used by operator
// tooling and tests; the transfer pipelines only read participants.
func (s *SQLite) UpsertParticipant(ctx context.Context, p Participant) error {
	var active = 0
	if p.IsActive {
		active = 1
	}
	var _, err = s.db.ExecContext(ctx,
		`INSERT INTO participant (name, is_active, currencies) VALUES (?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET is_active = excluded.is_active,
			currencies = excluded.currencies;`,
		p.Name, active, strings.Join(p.Currencies, ","))
	if err != nil {
		return fmt.Errorf("upserting participant %s: %w", p.Name, err)
	}
	return nil
}

func (s *SQLite) ReadOffset(ctx context.Context, topic string) (int64, error) {
	var offset int64
	var err = s.db.QueryRowContext(ctx,
		`SELECT "offset" FROM consumer_offset WHERE topic = ?;`, topic).Scan(&offset)
	if err == sql.ErrNoRows {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("reading offset of %s: %w", topic, err)
	}
	return offset, nil
}

func (s *SQLite) CommitOffset(ctx context.Context, topic string, offset int64) error {
	var _, err = s.db.ExecContext(ctx,
		`INSERT INTO consumer_offset (topic, "offset", updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (topic) DO UPDATE SET "offset" = excluded."offset",
			updated_at = excluded.updated_at;`,
		topic, offset, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("committing offset of %s: %w", topic, err)
	}
	return nil
}

// requireReserved guards lifecycle transitions out of RESERVED.
func requireReserved(ctx context.Context, tx *sql.Tx, transferID string) error {
	var state string
	var err = tx.QueryRowContext(ctx,
		`SELECT state FROM transfer_state_change WHERE transfer_id = ?
		 ORDER BY id DESC LIMIT 1;`, transferID).Scan(&state)
	if err == sql.ErrNoRows {
		return ErrNotReserved
	} else if err != nil {
		return fmt.Errorf("reading transfer state: %w", err)
	}
	if TransferState(state) != TransferStateReserved {
		return ErrNotReserved
	}
	return nil
}

func (s *SQLite) inTxn(ctx context.Context, fn func(*sql.Tx) error) error {
	var tx, err = s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
