package repositories

import (
	"database/sql"
	"errors"
	"fmt"
)

// NextSequence advances and returns the counter kept in {table}_sequence.
//
// Sequence numbers order rides and sessions by creation (ride #42, session #15).
// They are never shown in CLI output.
func NextSequence(db *sql.DB, table string) (int, error) {
	query := fmt.Sprintf("UPDATE %s_sequence SET value = value + 1 WHERE id = 1 RETURNING value", table)

	var sequence int
	if err := db.QueryRow(query).Scan(&sequence); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("sequence for %s is not seeded", table)
		}
		return 0, fmt.Errorf("failed to advance %s sequence: %w", table, err)
	}
	return sequence, nil
}
