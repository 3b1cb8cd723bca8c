package catalog

const (
	createVideosTable = `
		CREATE TABLE IF NOT EXISTS videos (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			filename TEXT NOT NULL,
			filepath TEXT NOT NULL UNIQUE,
			next_id INTEGER,
			created_at INTEGER NOT NULL
		)`

	createUsersTable = `
		CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			is_admin INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`

	createFavoritesTable = `
		CREATE TABLE IF NOT EXISTS favorites (
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			video_id INTEGER NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (user_id, video_id)
		)`

	createFavoritesIndex = `
		CREATE INDEX IF NOT EXISTS idx_favorites_user_time ON favorites(user_id, created_at)`

	createDislikesTable = `
		CREATE TABLE IF NOT EXISTS dislikes (
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			video_id INTEGER NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (user_id, video_id)
		)`

	createDislikesIndex = `
		CREATE INDEX IF NOT EXISTS idx_dislikes_video ON dislikes(video_id)`
)

func allSchemaStatements() []string {
	return []string{
		createVideosTable,
		createUsersTable,
		createFavoritesTable,
		createFavoritesIndex,
		createDislikesTable,
		createDislikesIndex,
	}
}

const videoColumns = `v.id, v.filename, v.filepath, v.next_id, v.created_at`

// Video queries
const (
	videoByID   = `SELECT ` + videoColumns + ` FROM videos v WHERE v.id = ?`
	videoByPath = `SELECT ` + videoColumns + ` FROM videos v WHERE v.filepath = ?`
	videoBefore = `SELECT ` + videoColumns + ` FROM videos v WHERE v.id < ? ORDER BY v.id DESC LIMIT 1`
	videoLast   = `SELECT ` + videoColumns + ` FROM videos v ORDER BY v.id DESC LIMIT 1`

	// ?1 is a user id whose dislikes are hidden; 0 hides nothing.
	videoFilter = ` WHERE (?1 = 0 OR NOT EXISTS (SELECT 1 FROM dislikes d WHERE d.user_id = ?1 AND d.video_id = v.id))`

	countVideos    = `SELECT COUNT(*) FROM videos v` + videoFilter
	listVideos     = `SELECT ` + videoColumns + ` FROM videos v` + videoFilter + ` ORDER BY v.id LIMIT ?2 OFFSET ?3`
	listVideosSeed = `SELECT ` + videoColumns + ` FROM videos v` + videoFilter + ` ORDER BY (v.id * ?4) % 2147483647, v.id LIMIT ?2 OFFSET ?3`

	allVideoPaths = `SELECT id, filepath FROM videos`
	insertVideo   = `INSERT INTO videos (filename, filepath, created_at) VALUES (?, ?, ?)`
	deleteVideo   = `DELETE FROM videos WHERE id = ?`
	totalVideos   = `SELECT COUNT(*) FROM videos`

	// The last row has no successor and gets NULL.
	relinkVideos = `UPDATE videos SET next_id = (SELECT MIN(n.id) FROM videos n WHERE n.id > videos.id)`

	dislikedVideos = `SELECT ` + videoColumns + ` FROM videos v WHERE v.id IN (SELECT video_id FROM dislikes) ORDER BY v.id`
)

// User queries
const (
	userColumns = `id, username, is_admin, created_at`

	userByID       = `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	userByName     = `SELECT ` + userColumns + ` FROM users WHERE username = ?`
	userHash       = `SELECT id, password_hash FROM users WHERE username = ?`
	userHashByID   = `SELECT password_hash FROM users WHERE id = ?`
	insertUser     = `INSERT INTO users (username, password_hash, is_admin, created_at) VALUES (?, ?, ?, ?)`
	promoteUser    = `UPDATE users SET is_admin = 1 WHERE id = ?`
	updatePassword = `UPDATE users SET password_hash = ? WHERE id = ?`
)
