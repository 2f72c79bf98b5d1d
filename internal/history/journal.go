package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"translate-rx/internal/domain"
	"translate-rx/internal/jobs"
)

const timeLayout = time.RFC3339Nano

// ErrNotTerminal is returned when recording a job that is still running.
var ErrNotTerminal = errors.New("only terminal jobs are recorded")

// Entry is a finished job as stored in the journal.
type Entry struct {
	ID             string           `json:"id"`
	Slot           domain.Slot      `json:"slot"`
	Status         domain.JobStatus `json:"status"`
	Attempt        int              `json:"attempt"`
	Language       string           `json:"language,omitempty"`
	OriginalText   string           `json:"originalText,omitempty"`
	TranslatedText string           `json:"translatedText,omitempty"`
	Questions      []string         `json:"questions,omitempty"`
	ErrorMessage   string           `json:"errorMessage,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	FinishedAt     time.Time        `json:"finishedAt"`
}

// ListOptions filters List. Zero values list every slot, newest first.
type ListOptions struct {
	Slot  domain.Slot
	Limit int
}

// Journal persists terminal jobs in SQLite.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal database at path.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	j := &Journal{db: db}
	if err := j.init(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return j, nil
}

func (j *Journal) init() error {
	const schema = `create table if not exists jobs(
		slot text not null,
		id text not null,
		status text not null,
		attempt integer not null default 0,
		language text not null default '',
		original_text text not null default '',
		translated_text text not null default '',
		questions text not null default '[]',
		error_message text not null default '',
		created_at text not null,
		finished_at text not null,
		primary key (slot, id)
	);
	create index if not exists jobs_finished_at on jobs(finished_at);`
	_, err := j.db.Exec(schema)
	return err
}

// Record stores a terminal job, replacing an earlier record of the same job.
func (j *Journal) Record(ctx context.Context, job domain.Job) error {
	if !job.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrNotTerminal, job.ID, job.Status)
	}

	var result domain.Result
	if job.Result != nil {
		result = *job.Result
	}
	questions := result.Questions
	if questions == nil {
		questions = []string{}
	}
	encoded, err := json.Marshal(questions)
	if err != nil {
		return err
	}

	const statement = `insert into jobs (
		slot, id, status, attempt, language, original_text, translated_text,
		questions, error_message, created_at, finished_at
	) values (?,?,?,?,?,?,?,?,?,?,?)
	on conflict(slot, id) do update set
		status = excluded.status,
		attempt = excluded.attempt,
		original_text = excluded.original_text,
		translated_text = excluded.translated_text,
		questions = excluded.questions,
		error_message = excluded.error_message,
		finished_at = excluded.finished_at;`
	_, err = j.db.ExecContext(ctx, statement,
		string(job.Slot),
		job.ID,
		string(job.Status),
		job.Attempt,
		job.Payload.Language,
		result.OriginalText,
		result.TranslatedText,
		string(encoded),
		job.ErrorMessage,
		job.CreatedAt.UTC().Format(timeLayout),
		finishedAt(job).UTC().Format(timeLayout),
	)
	return err
}

// List returns recorded jobs, newest first.
func (j *Journal) List(ctx context.Context, opts ListOptions) ([]Entry, error) {
	query := `select slot, id, status, attempt, language, original_text, translated_text,
		questions, error_message, created_at, finished_at from jobs`
	var args []any
	if opts.Slot != "" && !opts.Slot.Valid() {
		return nil, fmt.Errorf("unknown slot: %q", opts.Slot)
	}
	if opts.Slot != "" {
		query += ` where slot = ?`
		args = append(args, string(opts.Slot))
	}
	query += ` order by finished_at desc`
	if opts.Limit > 0 {
		query += ` limit ?`
		args = append(args, opts.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                 Entry
			slot, status      string
			questions         string
			created, finished string
		)
		if err := rows.Scan(
			&slot,
			&e.ID,
			&status,
			&e.Attempt,
			&e.Language,
			&e.OriginalText,
			&e.TranslatedText,
			&questions,
			&e.ErrorMessage,
			&created,
			&finished,
		); err != nil {
			return nil, err
		}
		e.Slot = domain.Slot(slot)
		e.Status = domain.JobStatus(status)
		if err := json.Unmarshal([]byte(questions), &e.Questions); err != nil {
			return nil, fmt.Errorf("decode questions of %s: %w", e.ID, err)
		}
		if len(e.Questions) == 0 {
			e.Questions = nil
		}
		e.CreatedAt, _ = time.Parse(timeLayout, created)
		e.FinishedAt, _ = time.Parse(timeLayout, finished)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Attach records every terminal transition of store until the returned
// func is called. Write failures are logged and never block the workflow.
func (j *Journal) Attach(store *jobs.Store, log logrus.FieldLogger) func() {
	return store.SubscribeAll(func(ev jobs.Event) {
		if !ev.Status.Terminal() {
			return
		}
		if err := j.Record(context.Background(), ev.Job); err != nil {
			log.WithError(err).WithFields(logrus.Fields{"slot": ev.Slot, "job_id": ev.JobID}).Warn("history write failed")
		}
	})
}

// Close releases the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func finishedAt(job domain.Job) time.Time {
	if job.UpdatedAt.IsZero() {
		return time.Now()
	}
	return job.UpdatedAt
}
