// Package sqlite is the mint's durable storage backend: a single SQLite
// file holding the master seed, spent-proof secrets, outstanding mint
// requests, and issued blind signatures.
package sqlite

import (
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/mattn/go-sqlite3"

	"github.com/lackrobin/cashu/cashu"
	"github.com/lackrobin/cashu/mint/storage"
)

//go:embed migrations
var migrations embed.FS

type SQLiteDB struct {
	db *sql.DB
}

// migrationsDir copies the embedded migration files out to a real
// directory on disk, since golang-migrate's file source needs a path it
// can open directly.
func migrationsDir() (string, error) {
	tempDir, err := os.MkdirTemp("", "migrations")
	if err != nil {
		return "", err
	}

	migrationFiles, err := migrations.ReadDir("migrations")
	if err != nil {
		return "", err
	}

	for _, file := range migrationFiles {
		filePath := filepath.Join(tempDir, file.Name())

		migrationFilePath := filepath.Join("migrations", file.Name())
		migrationFile, err := migrations.Open(migrationFilePath)
		if err != nil {
			return "", err
		}
		defer migrationFile.Close()

		destFile, err := os.Create(filePath)
		if err != nil {
			return "", err
		}
		defer destFile.Close()

		if _, err := io.Copy(destFile, migrationFile); err != nil {
			return "", err
		}
	}

	return tempDir, nil
}

func InitSQLite(path string) (*SQLiteDB, error) {
	dbpath := filepath.Join(path, "mint.sqlite.db")
	db, err := sql.Open("sqlite3", dbpath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	tempMigrationsDir, err := migrationsDir()
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tempMigrationsDir)

	m, err := migrate.New(fmt.Sprintf("file://%s", tempMigrationsDir), fmt.Sprintf("sqlite3://%s", dbpath))
	if err != nil {
		return nil, err
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &SQLiteDB{db: db}, nil
}

func (sqlite *SQLiteDB) Close() error {
	return sqlite.db.Close()
}

func (sqlite *SQLiteDB) SaveSeed(seed []byte) error {
	_, err := sqlite.db.Exec(`INSERT INTO seed (id, seed) VALUES (?, ?)`, "id", hex.EncodeToString(seed))
	return err
}

func (sqlite *SQLiteDB) GetSeed() ([]byte, error) {
	var hexSeed string
	row := sqlite.db.QueryRow("SELECT seed FROM seed WHERE id = ?", "id")
	if err := row.Scan(&hexSeed); err != nil {
		return nil, err
	}
	return hex.DecodeString(hexSeed)
}

// SaveProofsUsed marks proofs as spent in one transaction, so a partial
// failure never leaves some secrets of a swap or redemption spent and
// others not.
func (sqlite *SQLiteDB) SaveProofsUsed(proofs cashu.Proofs) error {
	tx, err := sqlite.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare("INSERT INTO spent_proofs (secret, amount, c) VALUES (?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, proof := range proofs {
		if _, err := stmt.Exec(proof.Secret, proof.Amount, proof.C); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

func (sqlite *SQLiteDB) GetProofsUsed(secrets []string) ([]storage.DBProof, error) {
	if len(secrets) == 0 {
		return nil, nil
	}

	proofs := []storage.DBProof{}
	query := `SELECT secret, amount, c FROM spent_proofs WHERE secret in (?` + strings.Repeat(",?", len(secrets)-1) + `)`

	args := make([]any, len(secrets))
	for i, secret := range secrets {
		args[i] = secret
	}

	rows, err := sqlite.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var proof storage.DBProof
		if err := rows.Scan(&proof.Secret, &proof.Amount, &proof.C); err != nil {
			return nil, err
		}
		proofs = append(proofs, proof)
	}

	return proofs, nil
}

func (sqlite *SQLiteDB) SaveMintRequest(req storage.MintRequest) error {
	_, err := sqlite.db.Exec(`
		INSERT INTO mint_requests (payment_hash, payment_request, amount, issued, expiry) VALUES (?, ?, ?, ?, ?)
	`, req.PaymentHash, req.PaymentRequest, req.Amount, req.Issued, req.Expiry)
	return err
}

func (sqlite *SQLiteDB) GetMintRequestByPaymentHash(paymentHash string) (storage.MintRequest, error) {
	row := sqlite.db.QueryRow(
		"SELECT payment_hash, payment_request, amount, issued, expiry FROM mint_requests WHERE payment_hash = ?",
		paymentHash,
	)

	var req storage.MintRequest
	err := row.Scan(&req.PaymentHash, &req.PaymentRequest, &req.Amount, &req.Issued, &req.Expiry)
	if err != nil {
		return storage.MintRequest{}, err
	}
	return req, nil
}

func (sqlite *SQLiteDB) UpdateMintRequestIssued(paymentHash string, issued bool) error {
	result, err := sqlite.db.Exec("UPDATE mint_requests SET issued = ? WHERE payment_hash = ?", issued, paymentHash)
	if err != nil {
		return err
	}

	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count != 1 {
		return errors.New("mint request was not updated")
	}
	return nil
}

func (sqlite *SQLiteDB) SaveBlindSignatures(B_s []string, sigs cashu.BlindedSignatures) error {
	tx, err := sqlite.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare("INSERT INTO blind_signatures (b_, amount, c_) VALUES (?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i, sig := range sigs {
		if _, err := stmt.Exec(B_s[i], sig.Amount, sig.C_); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

func (sqlite *SQLiteDB) GetBlindSignatures(B_s []string) (cashu.BlindedSignatures, error) {
	if len(B_s) == 0 {
		return nil, nil
	}

	sigs := cashu.BlindedSignatures{}
	query := `SELECT amount, c_ FROM blind_signatures WHERE b_ in (?` + strings.Repeat(",?", len(B_s)-1) + `)`

	args := make([]any, len(B_s))
	for i, B_ := range B_s {
		args[i] = B_
	}

	rows, err := sqlite.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var sig cashu.BlindedSignature
		if err := rows.Scan(&sig.Amount, &sig.C_); err != nil {
			return nil, err
		}
		sigs = append(sigs, sig)
	}

	return sigs, nil
}

// GetBalance sums the amount issued via blind signatures minus the amount
// later redeemed back as spent proofs: what the mint still owes in ecash.
func (sqlite *SQLiteDB) GetBalance() (uint64, error) {
	var issued uint64
	row := sqlite.db.QueryRow("SELECT COALESCE(SUM(amount), 0) FROM blind_signatures")
	if err := row.Scan(&issued); err != nil {
		return 0, err
	}

	var redeemed uint64
	row = sqlite.db.QueryRow("SELECT COALESCE(SUM(amount), 0) FROM spent_proofs")
	if err := row.Scan(&redeemed); err != nil {
		return 0, err
	}

	if redeemed > issued {
		return 0, nil
	}
	return issued - redeemed, nil
}
