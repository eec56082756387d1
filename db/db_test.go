package db

import (
	"database/sql"
	"testing"
	"time"

	"github.com/deemkeen/mammut/domain"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// setupTestDB creates an in-memory SQLite database for testing
func setupTestDB(t *testing.T) *DB {
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}

	db := &DB{db: sqlDB}
	if err := db.RunMigrations(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return db
}

// createTestAccount is a helper to create accounts directly via SQL
func createTestAccount(t *testing.T, db *DB, id uuid.UUID, username string) {
	_, err := db.db.Exec(sqlInsertAccount, id.String(), username, "", "", "", "pubkey-pem", "privkey-pem", time.Now())
	if err != nil {
		t.Fatalf("Failed to create test account: %v", err)
	}
}

func TestCreateAccount(t *testing.T) {
	db := setupTestDB(t)
	defer db.db.Close()

	err, acc := db.CreateAccount("alice")
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	if acc.Username != "alice" {
		t.Errorf("Expected username alice, got %s", acc.Username)
	}
	if acc.PublicKeyPem == "" || acc.PrivateKeyPem == "" {
		t.Error("Expected a signing keypair on the new account")
	}
	if !acc.IsLocal() {
		t.Error("Created accounts are local")
	}
}

func TestCreateAccountIdempotent(t *testing.T) {
	db := setupTestDB(t)
	defer db.db.Close()

	err, first := db.CreateAccount("alice")
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	err, second := db.CreateAccount("alice")
	if err != nil {
		t.Fatalf("Second CreateAccount failed: %v", err)
	}

	if first.Id != second.Id {
		t.Error("Expected the existing account to be returned on duplicate username")
	}
}

func TestReadAccById(t *testing.T) {
	db := setupTestDB(t)
	defer db.db.Close()

	id := uuid.New()
	createTestAccount(t, db, id, "testuser")

	err, acc := db.ReadAccById(id)
	if err != nil {
		t.Fatalf("ReadAccById failed: %v", err)
	}

	if acc.Id != id {
		t.Errorf("Expected Id %s, got %s", id, acc.Id)
	}
	if acc.Username != "testuser" {
		t.Errorf("Expected Username testuser, got %s", acc.Username)
	}
}

func TestReadAccByIdNotFound(t *testing.T) {
	db := setupTestDB(t)
	defer db.db.Close()

	err, acc := db.ReadAccById(uuid.New())
	if err == nil {
		t.Error("Expected error for non-existent account")
	}
	if acc != nil {
		t.Error("Expected nil account for non-existent ID")
	}
}

func TestReadAccByUsernameNotFound(t *testing.T) {
	db := setupTestDB(t)
	defer db.db.Close()

	err, acc := db.ReadAccByUsername("nonexistent")
	if err == nil {
		t.Error("Expected error for non-existent username")
	}
	if acc != nil {
		t.Error("Expected nil account")
	}
}

func TestCreateNote(t *testing.T) {
	db := setupTestDB(t)
	defer db.db.Close()

	userId := uuid.New()
	createTestAccount(t, db, userId, "testuser")

	message := "Test message"
	err, note := db.CreateNote(&domain.SaveNote{UserId: userId, Message: message})
	if err != nil {
		t.Fatalf("CreateNote failed: %v", err)
	}

	if note.Id == uuid.Nil {
		t.Error("Expected valid note ID")
	}
	if note.Message != message {
		t.Errorf("Expected message '%s', got '%s'", message, note.Message)
	}
	if note.CreatedBy != "testuser" {
		t.Errorf("Expected CreatedBy 'testuser', got '%s'", note.CreatedBy)
	}
	if note.Visibility != "public" {
		t.Errorf("Expected public visibility, got '%s'", note.Visibility)
	}
	if !note.Federated {
		t.Error("Expected new notes to federate")
	}
}

func TestReadNoteIdNotFound(t *testing.T) {
	db := setupTestDB(t)
	defer db.db.Close()

	err, note := db.ReadNoteId(uuid.New())
	if err == nil {
		t.Error("Expected error for non-existent note")
	}
	if note != nil {
		t.Error("Expected nil note")
	}
}

func TestReadNotesByUsername(t *testing.T) {
	db := setupTestDB(t)
	defer db.db.Close()

	userId := uuid.New()
	createTestAccount(t, db, userId, "alice")

	for i := 0; i < 3; i++ {
		if err, _ := db.CreateNote(&domain.SaveNote{UserId: userId, Message: "Test message"}); err != nil {
			t.Fatalf("Failed to create note %d: %v", i, err)
		}
	}

	err, notes := db.ReadNotesByUsername("alice")
	if err != nil {
		t.Fatalf("ReadNotesByUsername failed: %v", err)
	}

	if len(*notes) != 3 {
		t.Errorf("Expected 3 notes, got %d", len(*notes))
	}
	if (*notes)[0].CreatedBy != "alice" {
		t.Errorf("Expected CreatedBy 'alice', got '%s'", (*notes)[0].CreatedBy)
	}
}

func TestReadAllNotes(t *testing.T) {
	db := setupTestDB(t)
	defer db.db.Close()

	user1Id := uuid.New()
	user2Id := uuid.New()
	createTestAccount(t, db, user1Id, "user1")
	createTestAccount(t, db, user2Id, "user2")

	db.CreateNote(&domain.SaveNote{UserId: user1Id, Message: "User1 note"})
	db.CreateNote(&domain.SaveNote{UserId: user2Id, Message: "User2 note"})

	err, notes := db.ReadAllNotes()
	if err != nil {
		t.Fatalf("ReadAllNotes failed: %v", err)
	}

	if len(*notes) < 2 {
		t.Errorf("Expected at least 2 notes, got %d", len(*notes))
	}
}

func TestNoteTimestamps(t *testing.T) {
	db := setupTestDB(t)
	defer db.db.Close()

	userId := uuid.New()
	createTestAccount(t, db, userId, "testuser")

	err, note := db.CreateNote(&domain.SaveNote{UserId: userId, Message: "Timestamp test"})
	if err != nil {
		t.Fatalf("Failed to create note: %v", err)
	}

	if note.CreatedAt.IsZero() {
		t.Error("CreatedAt should not be zero")
	}
}
