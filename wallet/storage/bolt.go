package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/lackrobin/cashu/cashu"
)

const (
	ProofsBucket       = "proofs"
	MintURLBucket      = "mint"
	MintRequestsBucket = "mint_requests"
)

var ErrProofNotFound = errors.New("proof not found")

type BoltDB struct {
	bolt *bolt.DB
}

func InitBolt(path string) (*BoltDB, error) {
	db, err := bolt.Open(filepath.Join(path, "wallet.db"), 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("error opening bolt db: %v", err)
	}

	boltdb := &BoltDB{bolt: db}
	if err := boltdb.initBuckets(); err != nil {
		return nil, fmt.Errorf("error setting up bolt db: %v", err)
	}
	return boltdb, nil
}

func (db *BoltDB) initBuckets() error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{ProofsBucket, MintURLBucket, MintRequestsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *BoltDB) Close() error {
	return db.bolt.Close()
}

func (db *BoltDB) SaveProof(proof cashu.Proof) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(ProofsBucket))
		jsonProof, err := json.Marshal(proof)
		if err != nil {
			return err
		}
		return b.Put([]byte(proof.Secret), jsonProof)
	})
}

func (db *BoltDB) GetProofs() cashu.Proofs {
	proofs := cashu.Proofs{}
	db.bolt.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(ProofsBucket))
		return b.ForEach(func(k, v []byte) error {
			var proof cashu.Proof
			if err := json.Unmarshal(v, &proof); err != nil {
				return err
			}
			proofs = append(proofs, proof)
			return nil
		})
	})
	return proofs
}

func (db *BoltDB) DeleteProof(secret string) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(ProofsBucket))
		if b.Get([]byte(secret)) == nil {
			return ErrProofNotFound
		}
		return b.Delete([]byte(secret))
	})
}

func (db *BoltDB) UpdateProofReserved(secret string, reserved bool, sendId string) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(ProofsBucket))
		raw := b.Get([]byte(secret))
		if raw == nil {
			return ErrProofNotFound
		}

		var proof cashu.Proof
		if err := json.Unmarshal(raw, &proof); err != nil {
			return err
		}
		proof.Reserved = reserved
		proof.SendId = sendId

		jsonProof, err := json.Marshal(proof)
		if err != nil {
			return err
		}
		return b.Put([]byte(secret), jsonProof)
	})
}

func (db *BoltDB) SaveMintURL(mintURL string) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(MintURLBucket))
		return b.Put([]byte("url"), []byte(mintURL))
	})
}

func (db *BoltDB) GetMintURL() string {
	var mintURL string
	db.bolt.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(MintURLBucket))
		mintURL = string(b.Get([]byte("url")))
		return nil
	})
	return mintURL
}

func (db *BoltDB) SaveMintRequest(req MintRequest) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(MintRequestsBucket))
		jsonReq, err := json.Marshal(req)
		if err != nil {
			return err
		}
		return b.Put([]byte(req.PaymentHash), jsonReq)
	})
}

func (db *BoltDB) GetMintRequests() []MintRequest {
	requests := []MintRequest{}
	db.bolt.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(MintRequestsBucket))
		return b.ForEach(func(k, v []byte) error {
			var req MintRequest
			if err := json.Unmarshal(v, &req); err != nil {
				return err
			}
			requests = append(requests, req)
			return nil
		})
	})
	return requests
}

func (db *BoltDB) DeleteMintRequest(paymentHash string) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(MintRequestsBucket))
		return b.Delete([]byte(paymentHash))
	})
}
