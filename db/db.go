package db

import (
	"context"
	"database/sql"
	"sync"

	"github.com/deemkeen/mammut/domain"
	"github.com/deemkeen/mammut/util"
	"github.com/google/uuid"
	"log"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
	"time"
)

// DB is the database struct.
type DB struct {
	db *sql.DB
}

var (
	dbInstance *DB
	dbOnce     sync.Once
)

const (
	//Accounts
	sqlCreateAccountsTable = `CREATE TABLE IF NOT EXISTS accounts(
                        id uuid NOT NULL PRIMARY KEY,
                        username varchar(100) UNIQUE NOT NULL,
                        host varchar(255) DEFAULT '',
                        display_name varchar(255) DEFAULT '',
                        summary text DEFAULT '',
                        public_key_pem text,
                        private_key_pem text,
                        created_at timestamp default current_timestamp
                        )`
	sqlInsertAccount       = `INSERT INTO accounts(id, username, host, display_name, summary, public_key_pem, private_key_pem, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectAccountFields = `SELECT id, username, host, display_name, summary, public_key_pem, private_key_pem, created_at FROM accounts`
	sqlSelectAccById       = sqlSelectAccountFields + ` WHERE id = ?`
	sqlSelectAccByUsername = sqlSelectAccountFields + ` WHERE username = ?`

	//Notes
	sqlCreateNotesTable = `CREATE TABLE IF NOT EXISTS notes(
                        id uuid NOT NULL PRIMARY KEY,
                        user_id uuid NOT NULL,
                        message varchar(1000),
                        visibility varchar(20) DEFAULT 'public',
                        in_reply_to_uri text DEFAULT '',
                        federated int DEFAULT 1,
                        has_poll int DEFAULT 0,
                        created_at timestamp default current_timestamp
                        )`
	sqlInsertNote     = `INSERT INTO notes(id, user_id, message, visibility, in_reply_to_uri, federated, has_poll, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectNoteById = `SELECT notes.id, accounts.username, notes.message, notes.visibility, notes.in_reply_to_uri, notes.federated, notes.has_poll, notes.created_at FROM notes
    														INNER JOIN accounts ON accounts.id = notes.user_id
                                                            WHERE notes.id = ?`
	sqlSelectNotesByUsername = `SELECT notes.id, accounts.username, notes.message, notes.visibility, notes.in_reply_to_uri, notes.federated, notes.has_poll, notes.created_at FROM notes
    														INNER JOIN accounts ON accounts.id = notes.user_id
                                                            WHERE accounts.username = ?
                                                            ORDER BY notes.created_at DESC`
	sqlSelectAllNotes = `SELECT notes.id, accounts.username, notes.message, notes.visibility, notes.in_reply_to_uri, notes.federated, notes.has_poll, notes.created_at FROM notes
    														INNER JOIN accounts ON accounts.id = notes.user_id
                                                            ORDER BY notes.created_at DESC`
)

// CreateAccount creates a local account with a fresh signing keypair,
// unless one with that username already exists.
func (db *DB) CreateAccount(username string) (error, *domain.Account) {
	if err, existing := db.ReadAccByUsername(username); err == nil && existing != nil {
		return nil, existing
	}

	keypair := util.GeneratePemKeypair()
	acc := &domain.Account{
		Id:            uuid.New(),
		Username:      username,
		PublicKeyPem:  keypair.Public,
		PrivateKeyPem: keypair.Private,
		CreatedAt:     time.Now(),
	}

	err := db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertAccount,
			acc.Id.String(),
			acc.Username,
			acc.Host,
			acc.DisplayName,
			acc.Summary,
			acc.PublicKeyPem,
			acc.PrivateKeyPem,
			acc.CreatedAt,
		)
		return err
	})
	if err != nil {
		log.Println("Creating new account failed: ", err)
		return err, nil
	}
	return nil, acc
}

func (db *DB) CreateNote(note *domain.SaveNote) (error, *domain.Note) {
	id := uuid.New()
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertNote, id.String(), note.UserId.String(), note.Message, "public", "", 1, 0, time.Now())
		return err
	})
	if err != nil {
		return err, nil
	}
	return db.ReadNoteId(id)
}

func (db *DB) ReadAccById(id uuid.UUID) (error, *domain.Account) {
	return db.scanAccount(db.db.QueryRow(sqlSelectAccById, id.String()))
}

func (db *DB) ReadAccByUsername(username string) (error, *domain.Account) {
	return db.scanAccount(db.db.QueryRow(sqlSelectAccByUsername, username))
}

func (db *DB) scanAccount(row *sql.Row) (error, *domain.Account) {
	var acc domain.Account
	var idStr string
	err := row.Scan(&idStr, &acc.Username, &acc.Host, &acc.DisplayName, &acc.Summary, &acc.PublicKeyPem, &acc.PrivateKeyPem, &acc.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	acc.Id, _ = uuid.Parse(idStr)
	return nil, &acc
}

func (db *DB) ReadNoteId(id uuid.UUID) (error, *domain.Note) {
	row := db.db.QueryRow(sqlSelectNoteById, id.String())
	var note domain.Note
	var idStr string
	err := row.Scan(&idStr, &note.CreatedBy, &note.Message, &note.Visibility, &note.InReplyToURI, &note.Federated, &note.HasPoll, &note.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	note.Id, _ = uuid.Parse(idStr)
	return nil, &note
}

func (db *DB) ReadNotesByUsername(username string) (error, *[]domain.Note) {
	return db.queryNotes(sqlSelectNotesByUsername, username)
}

func (db *DB) ReadAllNotes() (error, *[]domain.Note) {
	return db.queryNotes(sqlSelectAllNotes)
}

func (db *DB) queryNotes(query string, args ...interface{}) (error, *[]domain.Note) {
	rows, err := db.db.Query(query, args...)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var notes []domain.Note

	for rows.Next() {
		var note domain.Note
		var idStr string
		if err := rows.Scan(&idStr, &note.CreatedBy, &note.Message, &note.Visibility, &note.InReplyToURI, &note.Federated, &note.HasPoll, &note.CreatedAt); err != nil {
			return err, &notes
		}
		note.Id, _ = uuid.Parse(idStr)
		notes = append(notes, note)
	}
	if err = rows.Err(); err != nil {
		return err, &notes
	}

	return nil, &notes
}

func GetDB() *DB {
	dbOnce.Do(func() {
		// Open database connection
		db, err := sql.Open("sqlite", "database.db")
		if err != nil {
			panic(err)
		}

		// Configure connection pool for concurrent access
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)

		// Try to enable WAL2 mode, fall back to WAL if not supported
		var journalMode string
		err = db.QueryRow("PRAGMA journal_mode=WAL2").Scan(&journalMode)
		if err != nil || journalMode == "delete" {
			// WAL2 not supported, try regular WAL
			err = db.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode)
			if err != nil {
				log.Printf("Warning: Failed to enable WAL mode: %v", err)
			} else {
				log.Printf("Database journal mode: %s (WAL2 not supported, using WAL)", journalMode)
			}
		} else {
			log.Printf("Database journal mode: %s", journalMode)
		}

		// Optimize PRAGMAs for concurrent federation workload
		db.Exec("PRAGMA synchronous = NORMAL")      // Reduces fsync calls
		db.Exec("PRAGMA cache_size = -64000")       // 64MB cache per connection
		db.Exec("PRAGMA temp_store = MEMORY")       // Store temp tables in RAM
		db.Exec("PRAGMA busy_timeout = 5000")       // Wait up to 5s for locks
		db.Exec("PRAGMA foreign_keys = ON")         // Enable FK constraints
		db.Exec("PRAGMA auto_vacuum = INCREMENTAL") // Better performance than FULL

		log.Printf("Database initialized with connection pooling (max 25 connections)")

		dbInstance = &DB{db: db}

		// Run initial schema setup
		if err := dbInstance.RunMigrations(); err != nil {
			panic(err)
		}
	})

	return dbInstance
}

// wrapTransaction runs the given function within a transaction.
func (db *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("error starting transaction: %s", err)
		return err
	}
	for {
		err = f(tx)
		if err != nil {
			serr, ok := err.(*sqlite.Error)
			if ok && serr.Code() == sqlitelib.SQLITE_BUSY {
				continue
			}
			log.Printf("error in transaction: %s", err)
			return err
		}
		err = tx.Commit()
		if err != nil {
			log.Printf("error committing transaction: %s", err)
			return err
		}
		break
	}
	return nil
}
