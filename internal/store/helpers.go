package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/FlowPipe/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// sessionColumns is the column list every SQL backend selects.
const sessionColumns = `user_id, instance, active_flow, active_subroute, step, data, updated_at, expires_at`

// scanSession scans one sessions row.
func scanSession(row rowScanner) (*models.SessionState, error) {
	var st models.SessionState
	var flow, subroute sql.NullString
	var data []byte
	err := row.Scan(&st.UserID, &st.Instance, &flow, &subroute, &st.Step, &data, &st.UpdatedAt, &st.ExpiresAt)
	if err != nil {
		return nil, err
	}
	if flow.Valid && flow.String != "" {
		f := models.FlowType(flow.String)
		st.ActiveFlow = &f
	}
	if subroute.Valid && subroute.String != "" {
		r := subroute.String
		st.ActiveSubroute = &r
	}
	st.Data = models.Data{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &st.Data); err != nil {
			return nil, fmt.Errorf("decode session data for %s: %w", st.UserID, err)
		}
	}
	return &st, nil
}

// encodeData marshals the session scratchpad; nil becomes "{}".
func encodeData(d models.Data) (string, error) {
	if d == nil {
		return "{}", nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("encode session data: %w", err)
	}
	return string(b), nil
}

// scanMessages collects chat_messages rows and returns them oldest first.
// The queries select newest first so LIMIT keeps the most recent rows.
func scanMessages(rows *sql.Rows) ([]models.ChatMessage, error) {
	defer rows.Close()
	var out []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		var direction string
		var messageID sql.NullString
		if err := rows.Scan(&m.ID, &m.UserID, &m.Instance, &direction, &messageID, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat message failed: %w", err)
		}
		m.Direction = models.Direction(direction)
		if messageID.Valid {
			id := messageID.String
			m.MessageID = &id
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat messages failed: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func mediaTypeOf(msg models.NormalizedMessage) string {
	if msg.MediaType == nil {
		return ""
	}
	return *msg.MediaType
}
