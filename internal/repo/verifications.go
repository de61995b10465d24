package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"intakeline/internal/db"
	"intakeline/internal/domain"
)

const verificationColumns = `id,client_id,platform,status,retry_after,retry_count,review_notes,reviewed_by,reviewed_at,agent_result,evidence_json,created_at,updated_at`

func scanVerification(row scanner) (domain.PlatformVerification, error) {
	var (
		pv                             domain.PlatformVerification
		retryAfter, reviewedAt         sql.NullString
		notes, reviewedBy, agentResult sql.NullString
		evidence                       sql.NullString
		created, updated               string
	)
	err := row.Scan(&pv.ID, &pv.ClientID, &pv.Platform, &pv.Status, &retryAfter, &pv.RetryCount, &notes, &reviewedBy, &reviewedAt,
		&agentResult, &evidence, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return pv, ErrNotFound
	}
	if err != nil {
		return pv, err
	}
	pv.ReviewNotes = db.ScanString(notes)
	pv.ReviewedBy = db.ScanString(reviewedBy)
	pv.AgentResult = db.ScanString(agentResult)
	if pv.RetryAfter, err = db.ScanTime(retryAfter); err != nil {
		return pv, err
	}
	if pv.ReviewedAt, err = db.ScanTime(reviewedAt); err != nil {
		return pv, err
	}
	if evidence.Valid && evidence.String != "" {
		if err := json.Unmarshal([]byte(evidence.String), &pv.Evidence); err != nil {
			return pv, fmt.Errorf("decode evidence: %w", err)
		}
	}
	if pv.CreatedAt, err = db.ParseTime(created); err != nil {
		return pv, err
	}
	if pv.UpdatedAt, err = db.ParseTime(updated); err != nil {
		return pv, err
	}
	return pv, nil
}

func findVerification(ctx context.Context, q querier, clientID, platform string) (domain.PlatformVerification, error) {
	return scanVerification(q.QueryRowContext(ctx,
		`SELECT `+verificationColumns+` FROM platform_verifications WHERE client_id=? AND platform=?`, clientID, platform))
}

func marshalEvidence(in []string) (any, error) {
	if len(in) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func insertVerification(ctx context.Context, q querier, pv domain.PlatformVerification) error {
	evidence, err := marshalEvidence(pv.Evidence)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `INSERT INTO platform_verifications(`+verificationColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		pv.ID, pv.ClientID, pv.Platform, string(pv.Status), db.NullableTime(pv.RetryAfter), pv.RetryCount,
		db.NullableString(pv.ReviewNotes), db.NullableString(pv.ReviewedBy), db.NullableTime(pv.ReviewedAt),
		db.NullableString(pv.AgentResult), evidence, db.FormatTime(pv.CreatedAt), db.FormatTime(pv.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert platform verification: %w", err)
	}
	return nil
}

func updateVerification(ctx context.Context, q querier, pv domain.PlatformVerification) error {
	evidence, err := marshalEvidence(pv.Evidence)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `UPDATE platform_verifications SET status=?, retry_after=?, retry_count=?, review_notes=?, reviewed_by=?, reviewed_at=?, agent_result=?, evidence_json=?, updated_at=? WHERE id=?`,
		string(pv.Status), db.NullableTime(pv.RetryAfter), pv.RetryCount, db.NullableString(pv.ReviewNotes),
		db.NullableString(pv.ReviewedBy), db.NullableTime(pv.ReviewedAt), db.NullableString(pv.AgentResult), evidence,
		db.FormatTime(pv.UpdatedAt), pv.ID)
	if err != nil {
		return fmt.Errorf("update platform verification: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetPlatformVerification returns the record for (client, platform) in any state.
func (r Repo) GetPlatformVerification(ctx context.Context, clientID, platform string) (domain.PlatformVerification, error) {
	return findVerification(ctx, r.DB, clientID, platform)
}
