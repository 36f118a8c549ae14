package store

import "time"

// WriteAuditLog appends a row to the audit_log table. Grounded on the
// teacher's FirewallStore.WriteAuditLog, with the identity field
// renamed from a client-certificate CN to the calling peer's name.
func (db *DB) WriteAuditLog(peerName, sourceIP, method, path, bodyHash, result, errMsg string) error {
	_, err := db.conn.Exec(
		`INSERT INTO audit_log (timestamp, peer_name, source_ip, method, path, body_hash, result, error_msg)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		time.Now().Unix(), peerName, sourceIP, method, path, bodyHash, result, errMsg,
	)
	return err
}
