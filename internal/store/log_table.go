package store

import "proctor-stream/internal/model"

// logTable is guarded by Store.mu.
type logTable struct {
	data map[string][]model.LogRecord
}

func newLogTable() *logTable {
	return &logTable{data: make(map[string][]model.LogRecord)}
}

func (t *logTable) append(userID string, records []model.LogRecord) {
	t.data[userID] = append(t.data[userID], records...)
}

func (t *logTable) all(userID string) []model.LogRecord {
	recs := t.data[userID]
	if len(recs) == 0 {
		return nil
	}
	result := make([]model.LogRecord, len(recs))
	copy(result, recs)
	sortRecords(result)
	return result
}

func (t *logTable) deleteUser(userID string) int {
	n := len(t.data[userID])
	delete(t.data, userID)
	return n
}
