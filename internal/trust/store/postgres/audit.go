package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/odyssey-erp/odyssey-trust/internal/shared"
	"github.com/odyssey-erp/odyssey-trust/internal/trust/audit"
)

func (s *Store) InsertAuditLog(ctx context.Context, l audit.Log) error {
	_, err := s.q.Exec(ctx, `INSERT INTO trust_audit_logs
(id, company_id, entity_type, entity_id, action, source_event, old_value, new_value, performed_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		l.ID, l.CompanyID, l.EntityType, l.EntityID, l.Action, l.SourceEvent, jsonOrNil(l.OldValue), jsonOrNil(l.NewValue),
		l.PerformedBy, l.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, f audit.Filter) ([]audit.Log, int, error) {
	where := []string{"company_id=$1"}
	args := []any{f.CompanyID}
	add := func(column string, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	add("entity_type", string(f.EntityType))
	add("entity_id", f.EntityID)
	add("action", string(f.Action))
	clause := strings.Join(where, " AND ")

	var total int
	if err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM trust_audit_logs WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	page, perPage := shared.NormalizePage(f.Page, f.PerPage)
	args = append(args, perPage, shared.Offset(page, perPage))
	rows, err := s.q.Query(ctx, fmt.Sprintf(`SELECT id, company_id, entity_type, entity_id, action, source_event,
old_value, new_value, performed_by, created_at
FROM trust_audit_logs WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var logs []audit.Log
	for rows.Next() {
		var l audit.Log
		var oldValue, newValue []byte
		if err := rows.Scan(&l.ID, &l.CompanyID, &l.EntityType, &l.EntityID, &l.Action, &l.SourceEvent,
			&oldValue, &newValue, &l.PerformedBy, &l.CreatedAt); err != nil {
			return nil, 0, err
		}
		l.OldValue, l.NewValue = oldValue, newValue
		logs = append(logs, l)
	}
	return logs, total, rows.Err()
}

func jsonOrNil(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
