package storage

import (
	"database/sql"
	"fmt"

	"github.com/VirtuallyScott/FlockFinderApp/utils"
)

// Insert persists a finished detection and returns it with the assigned row ID.
func (db *DB) Insert(det utils.Detection) (utils.Detection, error) {
	res, err := db.Exec(
		`INSERT INTO detection (record_id, device_type, mac, ssid, rssi, confidence, hw_timestamp,
		    latitude, longitude, altitude, accuracy, speed, heading, detected_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		det.RecordID, string(det.DeviceType), det.MAC, det.SSID, det.RSSI, det.Confidence, det.HWTimestamp,
		det.Location.Latitude, det.Location.Longitude, det.Location.Altitude,
		det.Location.Accuracy, det.Location.Speed, det.Location.Heading, det.DetectedAt,
	)
	if err != nil {
		return utils.Detection{}, fmt.Errorf("insert detection: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return utils.Detection{}, fmt.Errorf("insert detection id: %w", err)
	}
	det.ID = id
	return det, nil
}

// List returns detections newest first, up to limit (0 means no limit).
func (db *DB) List(limit int) ([]utils.Detection, error) {
	query := `SELECT id, record_id, device_type, mac, ssid, rssi, confidence, hw_timestamp,
	    latitude, longitude, altitude, accuracy, speed, heading, detected_at
	 FROM detection ORDER BY detected_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list detections: %w", err)
	}
	defer rows.Close()

	var detections []utils.Detection
	for rows.Next() {
		var d utils.Detection
		var deviceType string
		if err := rows.Scan(&d.ID, &d.RecordID, &deviceType, &d.MAC, &d.SSID, &d.RSSI, &d.Confidence, &d.HWTimestamp,
			&d.Location.Latitude, &d.Location.Longitude, &d.Location.Altitude,
			&d.Location.Accuracy, &d.Location.Speed, &d.Location.Heading, &d.DetectedAt); err != nil {
			return nil, fmt.Errorf("scan detection: %w", err)
		}
		d.DeviceType = utils.DeviceType(deviceType)
		detections = append(detections, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return detections, nil
}

// GetByID fetches a detection by row ID.
func (db *DB) GetByID(id int64) (utils.Detection, bool, error) {
	var d utils.Detection
	var deviceType string
	err := db.QueryRow(
		`SELECT id, record_id, device_type, mac, ssid, rssi, confidence, hw_timestamp,
		    latitude, longitude, altitude, accuracy, speed, heading, detected_at
		 FROM detection WHERE id = ?`, id,
	).Scan(&d.ID, &d.RecordID, &deviceType, &d.MAC, &d.SSID, &d.RSSI, &d.Confidence, &d.HWTimestamp,
		&d.Location.Latitude, &d.Location.Longitude, &d.Location.Altitude,
		&d.Location.Accuracy, &d.Location.Speed, &d.Location.Heading, &d.DetectedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return utils.Detection{}, false, nil
		}
		return utils.Detection{}, false, fmt.Errorf("get detection by id: %w", err)
	}
	d.DeviceType = utils.DeviceType(deviceType)
	return d, true, nil
}

// Delete removes a detection by row ID.
func (db *DB) Delete(id int64) error {
	res, err := db.Exec(`DELETE FROM detection WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete detection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Clear removes every detection.
func (db *DB) Clear() error {
	if _, err := db.Exec(`DELETE FROM detection`); err != nil {
		return fmt.Errorf("clear detections: %w", err)
	}
	return nil
}

// Count returns the total number of stored detections.
func (db *DB) Count() (int64, error) {
	var n int64
	if err := db.QueryRow(`SELECT COUNT(*) FROM detection`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count detections: %w", err)
	}
	return n, nil
}
