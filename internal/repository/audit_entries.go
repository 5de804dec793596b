package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"forgecore/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// auditEntriesSchema 仅追加的审计表
const auditEntriesSchema = `
	CREATE TABLE IF NOT EXISTS audit_entries (
		entry_id            UUID PRIMARY KEY,
		sequence            BIGINT NOT NULL UNIQUE,
		event               JSONB NOT NULL,
		canonical           BYTEA,
		signature           BYTEA,
		signer_identity_ref TEXT NOT NULL DEFAULT '',
		signer_error        TEXT NOT NULL DEFAULT '',
		prev_hash           TEXT NOT NULL,
		hash                TEXT NOT NULL,
		recorded_at         TIMESTAMPTZ NOT NULL
	)
`

const auditEntryColumns = `
	entry_id, sequence, event, canonical, signature,
	signer_identity_ref, signer_error, prev_hash, hash, recorded_at
`

// AuditEntriesRepository PostgreSQL 审计表，实现 audit.Sink 与 audit.EntrySource
type AuditEntriesRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAuditEntriesRepository 创建审计表仓库
func NewAuditEntriesRepository(db *sql.DB, logger *zap.Logger) *AuditEntriesRepository {
	return &AuditEntriesRepository{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema 建表（已存在时不做任何事）
func (r *AuditEntriesRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, auditEntriesSchema); err != nil {
		return fmt.Errorf("failed to create audit_entries table: %w", err)
	}
	return nil
}

// Append 追加条目；同一 entry_id 重复写入时忽略
func (r *AuditEntriesRepository) Append(ctx context.Context, entry models.AuditEntry) error {
	eventJSON, err := json.Marshal(entry.Event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	query := `
		INSERT INTO audit_entries (` + auditEntryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (entry_id) DO NOTHING
	`
	_, err = r.db.ExecContext(ctx, query,
		entry.ID,
		int64(entry.Sequence),
		eventJSON,
		entry.Canonical,
		entry.Signature,
		entry.SignerIdentityRef,
		entry.SignerError,
		entry.PrevHash,
		entry.Hash,
		entry.RecordedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			r.logger.Error("Postgres rejected audit entry",
				zap.String("entry_id", entry.ID),
				zap.String("code", string(pqErr.Code)),
				zap.String("code_name", pqErr.Code.Name()),
				zap.String("constraint", pqErr.Constraint),
			)
		}
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// Entries 按序号读取全部条目
func (r *AuditEntriesRepository) Entries(ctx context.Context) ([]models.AuditEntry, error) {
	query := `SELECT ` + auditEntryColumns + ` FROM audit_entries ORDER BY sequence ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return entries, nil
}

// Last 最后一条条目，表为空时返回 nil
func (r *AuditEntriesRepository) Last(ctx context.Context) (*models.AuditEntry, error) {
	query := `SELECT ` + auditEntryColumns + ` FROM audit_entries ORDER BY sequence DESC LIMIT 1`
	entry, err := scanAuditEntry(r.db.QueryRowContext(ctx, query))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuditEntry(row rowScanner) (models.AuditEntry, error) {
	var (
		entry     models.AuditEntry
		sequence  int64
		eventJSON []byte
	)
	err := row.Scan(
		&entry.ID,
		&sequence,
		&eventJSON,
		&entry.Canonical,
		&entry.Signature,
		&entry.SignerIdentityRef,
		&entry.SignerError,
		&entry.PrevHash,
		&entry.Hash,
		&entry.RecordedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entry, err
		}
		return entry, fmt.Errorf("failed to scan audit entry: %w", err)
	}
	entry.Sequence = uint64(sequence)
	if err := json.Unmarshal(eventJSON, &entry.Event); err != nil {
		return entry, fmt.Errorf("failed to unmarshal event of entry %s: %w", entry.ID, err)
	}
	if len(entry.Signature) == 0 {
		entry.Signature = nil
	}
	return entry, nil
}
