package store

import "time"

// AdminUser is a technician account for the maintenance web surface.
// Units ship with none; the first-boot setup flow creates the initial
// account before any other admin route is reachable.
type AdminUser struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// timeLayout is the format CURRENT_TIMESTAMP writes.
const timeLayout = "2006-01-02 15:04:05"

// AdminUserExists reports whether any technician account has been set up.
func (db *DB) AdminUserExists() (bool, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM admin_users`).Scan(&n)
	return n > 0, err
}

// GetAdminUser looks a technician account up by username.
func (db *DB) GetAdminUser(username string) (*AdminUser, error) {
	u := &AdminUser{}
	var created string
	row := db.QueryRow(
		`SELECT id, username, password_hash, created_at FROM admin_users WHERE username = ?`,
		username)
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &created); err != nil {
		return nil, err
	}
	u.CreatedAt, _ = time.Parse(timeLayout, created)
	return u, nil
}

// CreateAdminUser inserts a technician account and returns its row ID.
func (db *DB) CreateAdminUser(username, passwordHash string) (int64, error) {
	res, err := db.Exec(
		`INSERT INTO admin_users (username, password_hash) VALUES (?, ?)`,
		username, passwordHash)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateAdminPassword replaces the stored hash for username.
func (db *DB) UpdateAdminPassword(username, passwordHash string) error {
	_, err := db.Exec(
		`UPDATE admin_users SET password_hash = ? WHERE username = ?`,
		passwordHash, username)
	return err
}
