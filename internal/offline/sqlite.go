package offline

import (
	"database/sql"

	_ "modernc.org/sqlite"
)

// SQLiteBlobCache keeps cached image blobs in a single sqlite table, one row
// per history record.
type SQLiteBlobCache struct {
	db               *sql.DB
	connectionString string
}

func NewSQLiteBlobCache(connectionString string) (*SQLiteBlobCache, error) {
	db, err := sql.Open("sqlite", connectionString)
	if err != nil {
		return nil, err
	}

	return &SQLiteBlobCache{
		db:               db,
		connectionString: connectionString,
	}, nil
}

func (c *SQLiteBlobCache) createSchema() error {
	_, err := c.db.Exec(`CREATE TABLE IF NOT EXISTS offline_images (
		id INTEGER PRIMARY KEY,
		image BLOB NOT NULL
	)`)
	return err
}

func (c *SQLiteBlobCache) Save(id int64, data []byte) error {
	_, err := c.db.Exec("INSERT OR REPLACE INTO offline_images (id, image) VALUES (?, ?)", id, data)
	return err
}

func (c *SQLiteBlobCache) Get(id int64) ([]byte, bool, error) {
	row := c.db.QueryRow("SELECT image FROM offline_images WHERE id = ?", id)
	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (c *SQLiteBlobCache) Clear() error {
	_, err := c.db.Exec("DELETE FROM offline_images")
	return err
}

func (c *SQLiteBlobCache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
